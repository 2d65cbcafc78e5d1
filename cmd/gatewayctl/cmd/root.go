// Package cmd implements gatewayctl, a thin CLI client over the
// activity gateway's admin HTTP surface, grounded on the teacher's
// cmd/template-validator/cmd package layout (a root command wiring
// subcommands, each subcommand a separate file).
package cmd

import (
	"github.com/spf13/cobra"
)

var addr string

var rootCmd = &cobra.Command{
	Use:   "gatewayctl",
	Short: "Admin client for the activity gateway",
	Long: `gatewayctl talks to a running activity gateway's admin HTTP
surface (get_health, unlock_account, rotate_credentials).

Examples:
  gatewayctl health
  gatewayctl unlock-account svc_warehouse_primary
  gatewayctl rotate-credentials
`,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&addr, "addr", "http://localhost:8090", "base URL of the activity gateway")
	rootCmd.AddCommand(healthCmd)
	rootCmd.AddCommand(unlockCmd)
	rootCmd.AddCommand(rotateCmd)
}
