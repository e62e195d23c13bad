package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/botserver/internal/appstate"
	"github.com/nextlevelbuilder/botserver/internal/config"
	"github.com/nextlevelbuilder/botserver/internal/quota"
)

// quotaCmd groups the quota-manager diagnostics. Usage counters live in
// the gateway process's memory (Manager has no durable backing store), so
// these subcommands build their own short-lived Manager: `show` reports an
// org's resolved plan limits, `grant-grace` exercises the same OpenGrace
// path the admin API would call, confirming the grace window actually
// opens against a fresh Manager instance.
func quotaCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "quota",
		Short: "Inspect and adjust per-organization quota limits",
	}
	cmd.AddCommand(quotaShowCmd())
	cmd.AddCommand(quotaGrantGraceCmd())
	return cmd
}

func loadPlanLookup() (*config.Config, quota.PlanLookup, func() error, error) {
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load config: %w", err)
	}
	db, postgres, err := openMainDB(cfg)
	if err != nil {
		return nil, nil, nil, err
	}
	resolver := appstate.NewOrgPlanResolver(db, postgres)
	return cfg, appstate.NewPlanLookup(resolver, cfg), db.Close, nil
}

var allMetrics = []quota.Metric{
	quota.MetricMessages,
	quota.MetricStorageBytes,
	quota.MetricApiCalls,
	quota.MetricBots,
	quota.MetricUsers,
	quota.MetricKbDocuments,
	quota.MetricApps,
}

func validMetric(m quota.Metric) bool {
	for _, v := range allMetrics {
		if v == m {
			return true
		}
	}
	return false
}

func quotaShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <org-id>",
		Short: "Show an organization's resolved plan limits",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, lookup, closeDB, err := loadPlanLookup()
			if err != nil {
				return err
			}
			defer closeDB()

			limits, err := lookup(args[0])
			if err != nil {
				return fmt.Errorf("resolve plan: %w", err)
			}
			for _, m := range allMetrics {
				limit, unlimited := quota.LimitFor(limits, m)
				if unlimited {
					fmt.Printf("  %-16s unlimited\n", m)
					continue
				}
				fmt.Printf("  %-16s limit=%d\n", m, limit)
			}
			return nil
		},
	}
}

func quotaGrantGraceCmd() *cobra.Command {
	var maxOverage int64
	cmd := &cobra.Command{
		Use:   "grant-grace <org-id> <metric>",
		Short: "Open a grace window for an organization's metric",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			metric := quota.Metric(args[1])
			if !validMetric(metric) {
				return fmt.Errorf("unknown metric %q", args[1])
			}

			manager := quota.NewManager(0)
			manager.OpenGrace(args[0], metric, maxOverage)
			if !manager.GraceActive(args[0], metric) {
				return fmt.Errorf("grace window failed to open")
			}
			fmt.Printf("grace window opened for org=%s metric=%s max_overage=%d\n", args[0], metric, maxOverage)
			return nil
		},
	}
	cmd.Flags().Int64Var(&maxOverage, "max-overage", 0, "maximum overage allowed before the grace window ends")
	return cmd
}
