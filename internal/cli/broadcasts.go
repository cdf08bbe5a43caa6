package cli

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"relaybot/internal/storage"
)

type broadcastView struct {
	ID          int64     `json:"id"`
	Scope       string    `json:"scope"`
	BotID       int64     `json:"bot_id,omitempty"`
	InitiatorID int64     `json:"initiator_id"`
	Text        string    `json:"text"`
	Recipients  int       `json:"recipients"`
	Delivered   int       `json:"delivered"`
	Failed      int       `json:"failed"`
	At          time.Time `json:"at"`
}

func (a *app) broadcastsCommand() *cobra.Command {
	broadcastsCmd := &cobra.Command{
		Use:   "broadcasts",
		Short: "Broadcast history",
	}

	historyCmd := &cobra.Command{
		Use:   "history",
		Short: "Show the latest broadcasts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			limit, _ := cmd.Flags().GetInt("limit")
			initiator, _ := cmd.Flags().GetInt64("initiator")
			if limit <= 0 {
				return fmt.Errorf("--limit must be positive")
			}
			asJSON, err := a.jsonOutput()
			if err != nil {
				return err
			}

			return a.withStore(cmd, func(ctx context.Context, db storage.Storage) error {
				records, err := db.ListBroadcasts(ctx, initiator, limit)
				if err != nil {
					return err
				}

				views := make([]broadcastView, 0, len(records))
				for _, r := range records {
					views = append(views, broadcastView{
						ID:          r.ID,
						Scope:       string(r.Scope),
						BotID:       r.BotID,
						InitiatorID: r.InitiatorID,
						Text:        r.MessageText,
						Recipients:  r.RecipientCount,
						Delivered:   r.SuccessCount,
						Failed:      r.FailureCount,
						At:          r.Timestamp,
					})
				}
				if asJSON {
					return writeJSON(cmd.OutOrStdout(), views)
				}

				if len(views) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No broadcasts yet.")
					return nil
				}
				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
				fmt.Fprintln(w, "ID\tAT\tSCOPE\tRECIPIENTS\tDELIVERED\tFAILED\tTEXT")
				for _, v := range views {
					fmt.Fprintf(w, "%d\t%s\t%s\t%d\t%d\t%d\t%s\n",
						v.ID, v.At.Format("2006-01-02 15:04"), v.Scope, v.Recipients, v.Delivered, v.Failed, preview(v.Text, 40))
				}
				return w.Flush()
			})
		},
	}
	historyCmd.Flags().Int("limit", 10, "number of broadcasts to show")
	historyCmd.Flags().Int64("initiator", 0, "only broadcasts sent by this admin id")

	broadcastsCmd.AddCommand(historyCmd)
	return broadcastsCmd
}

func preview(text string, limit int) string {
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}
	return string(runes[:limit]) + "..."
}
