package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

// healthCmd 查询宿主的健康、就绪或存活状态。
var healthCmd = &cobra.Command{
	Use:   "health [ready|live]",
	Short: "Check function host health",
	Args: func(cmd *cobra.Command, args []string) error {
		if err := cobra.MaximumNArgs(1)(cmd, args); err != nil {
			return err
		}
		return cobra.OnlyValidArgs(cmd, args)
	},
	ValidArgs: []string{"ready", "live"},
	RunE: func(cmd *cobra.Command, args []string) error {
		kind := ""
		if len(args) == 1 {
			kind = args[0]
		}
		status, err := newClient().Health(commandContext(cmd), kind)
		if err != nil {
			return fmt.Errorf("health check failed: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), status)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(healthCmd)
}
