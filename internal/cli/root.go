// Package cli implements botctl, the offline admin tool that works directly on the SQLite store.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"relaybot/internal/storage"
	"relaybot/internal/storage/sqlite"
)

// Opener returns a ready store for the given database path
type Opener func(ctx context.Context, path string) (storage.Storage, error)

// OpenSQLite opens and initializes the bun SQLite store
func OpenSQLite(ctx context.Context, path string) (storage.Storage, error) {
	store, err := sqlite.New(path)
	if err != nil {
		return nil, err
	}
	if err := store.Initialize(ctx); err != nil {
		store.Close()
		return nil, err
	}
	return store, nil
}

type app struct {
	open Opener
	v    *viper.Viper
}

// NewRootCommand builds the botctl command tree.
// The database path comes from --db or RELAYBOT_DB.
func NewRootCommand(open Opener) *cobra.Command {
	a := &app{open: open, v: viper.New()}

	rootCmd := &cobra.Command{
		Use:           "botctl",
		Short:         "Offline administration for relaybot",
		Long:          "Inspect and moderate relaybot data directly in its SQLite database.\nStarting or stopping tenant bots needs the running bot process.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().String("db", "relaybot.db", "path to the SQLite database")
	rootCmd.PersistentFlags().StringP("output", "o", "text", "Output format (text|json)")

	a.v.SetEnvPrefix("RELAYBOT")
	a.v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	a.v.AutomaticEnv()
	a.v.BindPFlag("db", rootCmd.PersistentFlags().Lookup("db"))
	a.v.BindPFlag("output", rootCmd.PersistentFlags().Lookup("output"))

	rootCmd.AddCommand(a.botsCommand(), a.usersCommand(), a.broadcastsCommand(), a.statsCommand())
	return rootCmd
}

// withStore opens the store for one command and closes it afterwards
func (a *app) withStore(cmd *cobra.Command, fn func(ctx context.Context, db storage.Storage) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	db, err := a.open(ctx, a.v.GetString("db"))
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	return fn(ctx, db)
}

func (a *app) jsonOutput() (bool, error) {
	switch format := a.v.GetString("output"); format {
	case "text":
		return false, nil
	case "json":
		return true, nil
	default:
		return false, fmt.Errorf("unsupported output format: %s", format)
	}
}

func writeJSON(w io.Writer, data any) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(data)
}
