package quota

import (
	"math"
	"strconv"
)

// Direction describes how a limit changes between two plans.
type Direction string

const (
	DirectionIncrease Direction = "increase"
	DirectionDecrease Direction = "decrease"
	DirectionNoChange Direction = "no_change"
)

// Plan is the comparison-friendly view of a plan tier (mirrors
// config.PlanLimits' fields plus its feature list and price).
type Plan struct {
	ID                string
	PriceCents        int64
	CustomPriced      bool
	Order             int
	Limits            map[Metric]int64 // 0 = unlimited
	Features          []string
}

// PlanComparison is the structured diff the manager can produce for a
// source/target plan pair.
type PlanComparison struct {
	From            string
	To              string
	LimitChanges    map[Metric]Direction
	AddedFeatures   []string
	RemovedFeatures []string
	PriceDeltaCents int64
}

// ComparePlans builds a PlanComparison between from and to.
func ComparePlans(from, to Plan) PlanComparison {
	changes := make(map[Metric]Direction, len(to.Limits))
	for metric, toLimit := range to.Limits {
		fromLimit := from.Limits[metric]
		changes[metric] = compareLimit(fromLimit, toLimit)
	}
	for metric, fromLimit := range from.Limits {
		if _, ok := changes[metric]; !ok {
			changes[metric] = compareLimit(fromLimit, 0)
		}
	}

	fromFeatures := toSet(from.Features)
	toFeatures := toSet(to.Features)
	var added, removed []string
	for f := range toFeatures {
		if !fromFeatures[f] {
			added = append(added, f)
		}
	}
	for f := range fromFeatures {
		if !toFeatures[f] {
			removed = append(removed, f)
		}
	}

	return PlanComparison{
		From:            from.ID,
		To:              to.ID,
		LimitChanges:    changes,
		AddedFeatures:   added,
		RemovedFeatures: removed,
		PriceDeltaCents: to.PriceCents - from.PriceCents,
	}
}

// compareLimit treats 0 (unlimited) as "larger than" any finite limit, and
// a change between two unlimited limits as NoChange.
func compareLimit(from, to int64) Direction {
	switch {
	case from == to:
		return DirectionNoChange
	case to == 0: // 0 -> unlimited is always an increase
		return DirectionIncrease
	case from == 0: // unlimited -> finite is always a decrease
		return DirectionDecrease
	case to > from:
		return DirectionIncrease
	default:
		return DirectionDecrease
	}
}

func toSet(items []string) map[string]bool {
	set := make(map[string]bool, len(items))
	for _, i := range items {
		set[i] = true
	}
	return set
}

// DowngradeBlockers checks whether the organization's current usage would
// exceed the target plan's limits, returning one human-readable blocker
// string per violated metric. An empty slice means the downgrade is safe.
func DowngradeBlockers(usage map[Metric]int64, target Plan) []string {
	var blockers []string
	for metric, limit := range target.Limits {
		if limit == 0 {
			continue // unlimited
		}
		if u := usage[metric]; u > limit {
			blockers = append(blockers, formatBlocker(metric, u, limit))
		}
	}
	return blockers
}

func formatBlocker(metric Metric, usage, limit int64) string {
	return string(metric) + ": current usage " + strconv.FormatInt(usage, 10) + " exceeds target plan limit " + strconv.FormatInt(limit, 10)
}

// ProrationKind is the outcome of Prorate.
type ProrationKind string

const (
	ChargeNow ProrationKind = "charge_now"
	Credit    ProrationKind = "credit"
	NoChange  ProrationKind = "no_change"
)

// ProrationResult carries the kind of adjustment and its magnitude in cents
// (always non-negative; the Kind says which direction it moves).
type ProrationResult struct {
	Kind        ProrationKind
	AmountCents int64
}

// Prorate computes the mid-cycle plan-change adjustment for moving from a
// plan priced at fromCents to one priced at toCents, with daysRemaining out
// of daysInPeriod left in the current billing period. Either plan being
// custom-priced yields nil - no proration can be computed.
func Prorate(fromCents, toCents int64, fromCustom, toCustom bool, daysRemaining, daysInPeriod int) *ProrationResult {
	if fromCustom || toCustom || daysInPeriod <= 0 {
		return nil
	}
	fromPerDay := float64(fromCents) / float64(daysInPeriod)
	toPerDay := float64(toCents) / float64(daysInPeriod)
	diffPerDay := toPerDay - fromPerDay
	diff := diffPerDay * float64(daysRemaining)

	switch {
	case diff > 0:
		return &ProrationResult{Kind: ChargeNow, AmountCents: int64(math.Ceil(diff))}
	case diff < 0:
		return &ProrationResult{Kind: Credit, AmountCents: int64(math.Ceil(-diff))}
	default:
		return &ProrationResult{Kind: NoChange, AmountCents: 0}
	}
}
