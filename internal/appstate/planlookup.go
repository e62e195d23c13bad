package appstate

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/nextlevelbuilder/botserver/internal/config"
	"github.com/nextlevelbuilder/botserver/internal/errs"
	"github.com/nextlevelbuilder/botserver/internal/quota"
)

// OrgPlanResolver resolves an organization id to its current plan_id, the
// one piece of state the quota middleware needs that isn't config (an
// org's plan changes at runtime via upgrade/downgrade, config.Plans does
// not). Backed by the `organizations` table.
type OrgPlanResolver struct {
	db       *sql.DB
	postgres bool
}

func NewOrgPlanResolver(db *sql.DB, postgres bool) *OrgPlanResolver {
	return &OrgPlanResolver{db: db, postgres: postgres}
}

func (r *OrgPlanResolver) PlanIDFor(ctx context.Context, orgID string) (string, error) {
	ph := "?"
	if r.postgres {
		ph = "$1"
	}
	var planID string
	row := r.db.QueryRowContext(ctx, fmt.Sprintf(`SELECT plan_id FROM organizations WHERE id = %s`, ph), orgID)
	if err := row.Scan(&planID); err != nil {
		if err == sql.ErrNoRows {
			return "", errs.ErrNotFound
		}
		return "", fmt.Errorf("appstate: resolve plan for org %s: %w", orgID, err)
	}
	return planID, nil
}

// NewPlanLookup builds a quota.PlanLookup that resolves org -> plan_id via
// resolver, then plan_id -> config.PlanLimits via cfg.Quota.Plans, falling
// back to the "free" tier when an org has no row yet (new signups, or
// standalone/single-tenant deployments that never populate organizations).
func NewPlanLookup(resolver *OrgPlanResolver, cfg *config.Config) quota.PlanLookup {
	return func(orgID string) (quota.PlanLimitsLike, error) {
		planID, err := resolver.PlanIDFor(context.Background(), orgID)
		if err != nil {
			if err == errs.ErrNotFound {
				planID = "free"
			} else {
				return nil, err
			}
		}
		limits, ok := cfg.Quota.Plans[planID]
		if !ok {
			return nil, fmt.Errorf("%w: plan %q", errs.ErrPlanNotFound, planID)
		}
		return limits, nil
	}
}
