package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/botserver/internal/appstate"
	"github.com/nextlevelbuilder/botserver/internal/botdb"
	"github.com/nextlevelbuilder/botserver/internal/config"
)

func syncBotDatabasesCmd() *cobra.Command {
	var sqliteDir string
	cmd := &cobra.Command{
		Use:   "sync-bot-databases",
		Short: "Create or verify a per-bot database for every active bot",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(resolveConfigPath())
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			db, postgres, err := openMainDB(cfg)
			if err != nil {
				return err
			}
			defer db.Close()

			mode := botdb.ModeStandaloneSQLite
			if postgres {
				mode = botdb.ModeManagedPostgres
			}
			main := appstate.NewSQLMainDB(db, postgres)
			if sqliteDir == "" {
				sqliteDir = "./bot-databases"
			}
			registry, err := botdb.New(mode, main, cfg.Database.PostgresDSN, sqliteDir)
			if err != nil {
				return fmt.Errorf("build bot db registry: %w", err)
			}

			result := registry.SyncAllBotDatabases(context.Background())
			fmt.Printf("sync complete: %d created, %d verified, %d error(s)\n", result.Created, result.Verified, len(result.Errors))
			for _, syncErr := range result.Errors {
				fmt.Printf("  %v\n", syncErr)
			}
			if len(result.Errors) > 0 {
				return fmt.Errorf("sync-bot-databases: %d bot(s) failed", len(result.Errors))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&sqliteDir, "sqlite-dir", "", "directory holding standalone-mode bot sqlite files (default: ./bot-databases)")
	return cmd
}
