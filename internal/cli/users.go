package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"relaybot/internal/storage"
)

func (a *app) usersCommand() *cobra.Command {
	usersCmd := &cobra.Command{
		Use:   "users",
		Short: "Primary bot user moderation",
	}

	usersCmd.AddCommand(a.banCommand("ban", true), a.banCommand("unban", false))
	return usersCmd
}

func (a *app) banCommand(use string, banned bool) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <user_id>",
		Short: use + " a user of the primary bot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			userID, err := parseID(args[0])
			if err != nil {
				return err
			}
			return a.withStore(cmd, func(ctx context.Context, db storage.Storage) error {
				if err := db.SetUserBanned(ctx, userID, banned); err != nil {
					return err
				}
				state := "unbanned"
				if banned {
					state = "banned"
				}
				fmt.Fprintf(cmd.OutOrStdout(), "User %d %s\n", userID, state)
				return nil
			})
		},
	}
}
