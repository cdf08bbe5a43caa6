package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"relaybot/internal/models"
	"relaybot/internal/storage"
)

type statsView struct {
	Users      models.UserStats      `json:"users"`
	ClientBots models.ClientBotStats `json:"client_bots"`
	Broadcasts models.BroadcastStats `json:"broadcasts"`
	SuccessRate float64 `json:"success_rate"`
}

func (a *app) statsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show user, tenant bot and broadcast statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			asJSON, err := a.jsonOutput()
			if err != nil {
				return err
			}

			return a.withStore(cmd, func(ctx context.Context, db storage.Storage) error {
				var stats statsView
				if stats.Users, err = db.GetUserStats(ctx); err != nil {
					return err
				}
				if stats.ClientBots, err = db.GetClientBotStats(ctx); err != nil {
					return err
				}
				if stats.Broadcasts, err = db.GetBroadcastStats(ctx); err != nil {
					return err
				}
				stats.SuccessRate = stats.Broadcasts.SuccessRate()

				if asJSON {
					return writeJSON(cmd.OutOrStdout(), stats)
				}

				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Users: %d (banned: %d)\n", stats.Users.TotalUsers, stats.Users.BannedUsers)
				fmt.Fprintf(out, "Client bots: %d (active: %d, pending: %d)\n",
					stats.ClientBots.TotalBots, stats.ClientBots.ActiveBots, stats.ClientBots.PendingApprovals)
				fmt.Fprintf(out, "Client bot users: %d, messages: %d\n",
					stats.ClientBots.TotalUsers, stats.ClientBots.TotalMessages)
				fmt.Fprintf(out, "Broadcasts: %d (sent: %d, failed: %d, success rate: %.1f%%)\n",
					stats.Broadcasts.TotalBroadcasts, stats.Broadcasts.TotalSent, stats.Broadcasts.TotalFailed, stats.SuccessRate)
				return nil
			})
		},
	}
}
