package cmd

import (
	"context"
	"fmt"
	"sort"

	"github.com/spf13/cobra"
)

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check server readiness",
	Long: `Query /ready and print the status of every dependency the server
checks. Exits non-zero when the server is not ready.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		status, err := newClient().Ready(ctx)
		if status == nil {
			return err
		}

		out := cmd.OutOrStdout()
		if GetOutput() == "json" {
			if perr := printJSON(out, status); perr != nil {
				return perr
			}
			return err
		}

		fmt.Fprintf(out, "Status: %s\n", status.Status)
		names := make([]string, 0, len(status.Checks))
		for name := range status.Checks {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			fmt.Fprintf(out, "  %-12s %s\n", name, status.Checks[name])
		}
		return err
	},
}

func init() {
	rootCmd.AddCommand(healthCmd)
}
