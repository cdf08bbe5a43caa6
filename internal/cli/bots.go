package cli

import (
	"context"
	"fmt"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"relaybot/internal/models"
	"relaybot/internal/storage"
)

// botView is what botctl prints for a tenant bot. The credential is never shown.
type botView struct {
	ID                int64      `json:"id"`
	DisplayName       string     `json:"display_name"`
	Handle            string     `json:"handle"`
	OwnerID           int64      `json:"owner_id"`
	OwnerDisplayName  string     `json:"owner_display_name"`
	RegisteredAt      time.Time  `json:"registered_at"`
	Active            bool       `json:"active"`
	Approved          bool       `json:"approved"`
	NeedsVerification bool       `json:"needs_verification"`
	LastActiveAt      *time.Time `json:"last_active_at,omitempty"`
	TotalUsers        int64      `json:"total_users"`
	TotalMessages     int64      `json:"total_messages"`
}

func newBotView(bot models.TenantBot) botView {
	return botView{
		ID:                bot.ID,
		DisplayName:       bot.DisplayName,
		Handle:            bot.Handle,
		OwnerID:           bot.OwnerID,
		OwnerDisplayName:  bot.OwnerDisplayName,
		RegisteredAt:      bot.RegisteredAt,
		Active:            bot.IsActive,
		Approved:          bot.IsApproved,
		NeedsVerification: bot.NeedsVerification,
		LastActiveAt:      bot.LastActiveAt,
		TotalUsers:        bot.TotalUsers,
		TotalMessages:     bot.TotalMessages,
	}
}

func (a *app) botsCommand() *cobra.Command {
	botsCmd := &cobra.Command{
		Use:   "bots",
		Short: "Tenant bot management",
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List registered tenant bots",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			pending, _ := cmd.Flags().GetBool("pending")
			owner, _ := cmd.Flags().GetInt64("owner")
			asJSON, err := a.jsonOutput()
			if err != nil {
				return err
			}

			return a.withStore(cmd, func(ctx context.Context, db storage.Storage) error {
				bots, err := db.ListClientBots(ctx, models.ClientBotFilter{OwnerID: owner, PendingOnly: pending})
				if err != nil {
					return err
				}

				views := make([]botView, 0, len(bots))
				for _, bot := range bots {
					views = append(views, newBotView(bot))
				}
				if asJSON {
					return writeJSON(cmd.OutOrStdout(), views)
				}

				if len(views) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No bots found.")
					return nil
				}
				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
				fmt.Fprintln(w, "ID\tHANDLE\tOWNER\tAPPROVED\tACTIVE\tUSERS\tMESSAGES")
				for _, v := range views {
					fmt.Fprintf(w, "%d\t@%s\t%d\t%t\t%t\t%d\t%d\n",
						v.ID, v.Handle, v.OwnerID, v.Approved, v.Active, v.TotalUsers, v.TotalMessages)
				}
				return w.Flush()
			})
		},
	}
	listCmd.Flags().Bool("pending", false, "only bots waiting for approval")
	listCmd.Flags().Int64("owner", 0, "only bots owned by this user id")

	showCmd := &cobra.Command{
		Use:   "show <bot_id>",
		Short: "Show one tenant bot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			botID, err := parseID(args[0])
			if err != nil {
				return err
			}
			asJSON, err := a.jsonOutput()
			if err != nil {
				return err
			}

			return a.withStore(cmd, func(ctx context.Context, db storage.Storage) error {
				bot, err := db.GetClientBot(ctx, botID)
				if err != nil {
					return err
				}
				v := newBotView(*bot)
				if asJSON {
					return writeJSON(cmd.OutOrStdout(), v)
				}

				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
				fmt.Fprintf(w, "ID:\t%d\n", v.ID)
				fmt.Fprintf(w, "Name:\t%s\n", v.DisplayName)
				fmt.Fprintf(w, "Handle:\t@%s\n", v.Handle)
				fmt.Fprintf(w, "Owner:\t%s (%d)\n", v.OwnerDisplayName, v.OwnerID)
				fmt.Fprintf(w, "Registered:\t%s\n", v.RegisteredAt.Format(time.RFC3339))
				fmt.Fprintf(w, "Approved:\t%t\n", v.Approved)
				fmt.Fprintf(w, "Active:\t%t\n", v.Active)
				if v.NeedsVerification {
					fmt.Fprintf(w, "Needs verification:\t%t\n", v.NeedsVerification)
				}
				if v.LastActiveAt != nil {
					fmt.Fprintf(w, "Last active:\t%s\n", v.LastActiveAt.Format(time.RFC3339))
				}
				fmt.Fprintf(w, "Users:\t%d\n", v.TotalUsers)
				fmt.Fprintf(w, "Messages:\t%d\n", v.TotalMessages)
				return w.Flush()
			})
		},
	}

	approveCmd := &cobra.Command{
		Use:   "approve <bot_id>",
		Short: "Approve a pending tenant bot",
		Long:  "Marks the bot approved. It starts the next time the bot process boots or when an admin runs /enablebot.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			botID, err := parseID(args[0])
			if err != nil {
				return err
			}
			return a.withStore(cmd, func(ctx context.Context, db storage.Storage) error {
				if err := db.SetClientBotApproved(ctx, botID); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Bot %d approved\n", botID)
				return nil
			})
		},
	}

	botsCmd.AddCommand(listCmd, showCmd, approveCmd)
	return botsCmd
}

func parseID(arg string) (int64, error) {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid id %q: must be a positive number", arg)
	}
	return id, nil
}
