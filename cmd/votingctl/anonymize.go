package main

import (
	"github.com/spf13/cobra"

	"unionvote/internal/app"
	id "unionvote/pkg/domain"
)

func init() {
	rootCmd.AddCommand(anonymizeCmd)
}

var anonymizeCmd = &cobra.Command{
	Use:   "anonymize <voting-id>",
	Short: "Strip network and device metadata from a finished voting's ballots",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		votingID, err := id.ParseVotingID(args[0])
		if err != nil {
			return err
		}
		return withApp(cmd, func(a *app.App) error {
			n, err := a.Lifecycle.Anonymize(cmd.Context(), votingID)
			if err != nil {
				return err
			}
			cmd.Printf("anonymized %d ballots\n", n)
			return nil
		})
	},
}
