package cmd

import (
	"github.com/spf13/cobra"
)

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Print the current C6 health snapshot",
	RunE: func(cmd *cobra.Command, args []string) error {
		body, err := adminGet("/admin/health")
		if err != nil {
			return err
		}
		return printJSON(body)
	},
}
