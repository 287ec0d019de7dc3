package main

import (
	"time"

	"github.com/spf13/cobra"

	"unionvote/internal/app"
)

func init() {
	sweepCmd.Flags().String("at", "", "sweep as of this RFC 3339 time instead of now")
	rootCmd.AddCommand(sweepCmd)
}

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Start and close votings whose scheduled times have passed",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		now := time.Now()
		if at, _ := cmd.Flags().GetString("at"); at != "" {
			parsed, err := time.Parse(time.RFC3339, at)
			if err != nil {
				return err
			}
			now = parsed
		}
		return withApp(cmd, func(a *app.App) error {
			report, err := a.Lifecycle.Sweep(cmd.Context(), now)
			if err != nil {
				return err
			}
			return printJSON(cmd, report)
		})
	},
}
