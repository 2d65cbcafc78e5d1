package cmd

import (
	"github.com/spf13/cobra"
)

var rotateCmd = &cobra.Command{
	Use:   "rotate-credentials",
	Short: "Close the idle connections of the top-priority account",
	RunE: func(cmd *cobra.Command, args []string) error {
		body, err := adminPost("/admin/accounts/rotate")
		if err != nil {
			return err
		}
		return printJSON(body)
	},
}
