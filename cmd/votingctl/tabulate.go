package main

import (
	"errors"

	"github.com/spf13/cobra"

	"unionvote/internal/app"
	"unionvote/internal/voting/models"
	id "unionvote/pkg/domain"
)

func init() {
	tabulateCmd.Flags().Bool("all", false, "recompute every started voting")
	tabulateCmd.Flags().Int("parallelism", 4, "votings tabulated at once with --all")
	rootCmd.AddCommand(tabulateCmd)
}

var tabulateCmd = &cobra.Command{
	Use:   "tabulate [voting-id]",
	Short: "Recompute stored results",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		all, _ := cmd.Flags().GetBool("all")
		if all == (len(args) == 1) {
			return errors.New("pass either a voting id or --all")
		}
		parallelism, _ := cmd.Flags().GetInt("parallelism")

		return withApp(cmd, func(a *app.App) error {
			ctx := cmd.Context()
			if !all {
				votingID, err := id.ParseVotingID(args[0])
				if err != nil {
					return err
				}
				tab, err := a.Tabulation.Tabulate(ctx, votingID)
				if err != nil {
					return err
				}
				return printJSON(cmd, tab)
			}

			list, err := a.Lifecycle.List(ctx,
				models.StatusActive, models.StatusPaused, models.StatusEnded, models.StatusCancelled)
			if err != nil {
				return err
			}
			ids := make([]id.VotingID, 0, len(list))
			for _, inst := range list {
				ids = append(ids, inst.ID)
			}
			if err := a.Tabulation.TabulateMany(ctx, ids, parallelism); err != nil {
				return err
			}
			cmd.Printf("tabulated %d votings\n", len(ids))
			return nil
		})
	},
}
