package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var unlockCmd = &cobra.Command{
	Use:   "unlock-account <username>",
	Short: "Clear an account's cooldown and circuit breaker state",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		body, err := adminPost(fmt.Sprintf("/admin/accounts/%s/unlock", args[0]))
		if err != nil {
			return err
		}
		return printJSON(body)
	},
}
