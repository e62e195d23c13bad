package cmd

import (
	"context"
	"fmt"

	"github.com/charmbracelet/huh"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/botserver/internal/appstate"
	"github.com/nextlevelbuilder/botserver/internal/botdb"
	"github.com/nextlevelbuilder/botserver/internal/config"
)

// onboardCmd is an interactive wizard for registering a new bot: it asks
// for the bot's display name, LLM provider, and initial plan, validates
// the database_name derived from the bot name while it is typed, prints
// the derived name once the form is submitted, then writes the bots row
// and provisions that bot's database on the spot.
func onboardCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "onboard",
		Short: "Interactively register a new bot",
		RunE:  runOnboard,
	}
}

func runOnboard(cmd *cobra.Command, args []string) error {
	var (
		botName      string
		llmProvider  string
		planID       string
		orgID        string
		databaseName string
	)

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Bot name").
				Description("Shown to end users and used to derive the per-bot database name").
				Value(&botName).
				Validate(func(s string) error {
					if s == "" {
						return fmt.Errorf("bot name is required")
					}
					return botdb.SanitizeName(botdb.DeriveDatabaseName(s))
				}),
			huh.NewInput().
				Title("Organization id").
				Description("UUID of the owning organization (must already exist)").
				Value(&orgID),
			huh.NewSelect[string]().
				Title("LLM provider").
				Options(
					huh.NewOption("anthropic", "anthropic"),
					huh.NewOption("openai", "openai"),
					huh.NewOption("openrouter", "openrouter"),
					huh.NewOption("gemini", "gemini"),
				).
				Value(&llmProvider),
			huh.NewSelect[string]().
				Title("Initial plan").
				Options(
					huh.NewOption("free", "free"),
					huh.NewOption("personal", "personal"),
					huh.NewOption("business", "business"),
					huh.NewOption("enterprise", "enterprise"),
				).
				Value(&planID),
		),
	)
	if err := form.Run(); err != nil {
		return fmt.Errorf("onboard: %w", err)
	}

	databaseName = botdb.DeriveDatabaseName(botName)
	fmt.Printf("\nDerived database name: %s\n", databaseName)

	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	db, postgres, err := openMainDB(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	ph := func(n int) string {
		if postgres {
			return fmt.Sprintf("$%d", n)
		}
		return "?"
	}

	botID := uuid.NewString()
	now := appstate.SQLNow(postgres)
	_, err = db.ExecContext(context.Background(), fmt.Sprintf(
		`INSERT INTO bots (id, name, llm_provider, tenant_id, is_active, created_at, updated_at)
		 VALUES (%s, %s, %s, %s, true, %s, %s)`,
		ph(1), ph(2), ph(3), ph(4), now, now),
		botID, botName, llmProvider, orgID)
	if err != nil {
		return fmt.Errorf("insert bot: %w", err)
	}

	mode := botdb.ModeStandaloneSQLite
	if postgres {
		mode = botdb.ModeManagedPostgres
	}
	main := appstate.NewSQLMainDB(db, postgres)
	registry, err := botdb.New(mode, main, cfg.Database.PostgresDSN, "./bot-databases")
	if err != nil {
		return fmt.Errorf("build bot db registry: %w", err)
	}
	if _, err := registry.EnsureBotHasDatabase(context.Background(), botID, botName); err != nil {
		return fmt.Errorf("provision database: %w", err)
	}

	fmt.Printf("Bot %q (id=%s) onboarded on plan %q with provider %q.\n", botName, botID, planID, llmProvider)
	return nil
}
