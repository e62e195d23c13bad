package quota

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// Severity tags a Warn decision's urgency for the response headers.
type Severity string

const (
	SeverityNone     Severity = ""
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Outcome is the three-valued decision produced by Check.
type Outcome int

const (
	Allow Outcome = iota
	Warn
	Block
)

// Decision is the result of checking one metric for one organization.
type Decision struct {
	Outcome    Outcome
	Metric     Metric
	Percentage float64
	Severity   Severity
	Message    string
	Limit      int64
	Usage      int64
}

type counterState struct {
	value       int64
	periodStart time.Time
}

type graceState struct {
	active       bool
	startedAt    time.Time
	maxOverage   int64
	overageUsed  int64
}

type orgMetricKey struct {
	org    string
	metric Metric
}

// Manager is the quota manager: usage counters, grace windows, and the
// process-wide enable/disable toggle.
type Manager struct {
	enabled atomic.Bool

	gracePeriod time.Duration

	mu       sync.Mutex
	counters map[orgMetricKey]*counterState
	grace    map[orgMetricKey]*graceState
}

// NewManager builds a Manager, enabled by default, with the given grace
// window duration.
func NewManager(gracePeriod time.Duration) *Manager {
	m := &Manager{
		gracePeriod: gracePeriod,
		counters:    make(map[orgMetricKey]*counterState),
		grace:       make(map[orgMetricKey]*graceState),
	}
	m.enabled.Store(true)
	return m
}

// SetEnabled toggles the process-wide flag gating the entire middleware.
// Toggling is idempotent: setting the same value twice is a no-op.
func (m *Manager) SetEnabled(v bool) {
	m.enabled.Store(v)
}

func (m *Manager) Enabled() bool { return m.enabled.Load() }

// periodStartFor returns the start of the current billing period for a
// metric: daily truncation for the time-based Messages/ApiCalls/
// StorageBytes, the zero time (cumulative, never resets) for count
// metrics.
func periodStartFor(metric Metric, now time.Time) time.Time {
	switch metric {
	case MetricMessages, MetricApiCalls, MetricStorageBytes:
		u := now.UTC()
		return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
	default:
		return time.Time{}
	}
}

// usage returns the current counter value for (org, metric), rolling the
// counter over to 0 if a new period has started.
func (m *Manager) usage(org string, metric Metric, now time.Time) int64 {
	key := orgMetricKey{org, metric}
	c, ok := m.counters[key]
	period := periodStartFor(metric, now)
	if !ok {
		m.counters[key] = &counterState{value: 0, periodStart: period}
		return 0
	}
	if !period.IsZero() && c.periodStart.Before(period) {
		c.value = 0
		c.periodStart = period
	}
	return c.value
}

// Check evaluates the current usage for (org, metric) against the plan's
// limit and returns Allow/Warn/Block. It does NOT increment usage - callers
// increment separately after a successful response.
func (m *Manager) Check(org string, limits PlanLimitsLike, metric Metric) Decision {
	now := time.Now()
	m.mu.Lock()
	defer m.mu.Unlock()

	limit, unlimited := LimitFor(limits, metric)
	usage := m.usage(org, metric, now)
	if unlimited {
		return Decision{Outcome: Allow, Metric: metric, Usage: usage}
	}

	pct := percentage(usage, limit)
	d := Decision{Metric: metric, Percentage: pct, Limit: limit, Usage: usage}

	switch {
	case pct >= 100:
		if g := m.graceFor(org, metric, now); g != nil && g.active {
			overage := usage - limit
			if overage <= g.maxOverage {
				g.overageUsed = overage
				d.Outcome = Warn
				d.Severity = SeverityCritical
				d.Message = fmt.Sprintf("%s quota exceeded but within grace period (%d/%d overage)", metric, overage, g.maxOverage)
				return d
			}
			// Overage ceiling reached: grace ends, request is blocked.
			g.active = false
		}
		d.Outcome = Block
		d.Message = fmt.Sprintf("%s quota exceeded: %d/%d", metric, usage, limit)
	case pct >= 90:
		d.Outcome = Warn
		d.Severity = SeverityCritical
		d.Message = fmt.Sprintf("%s usage critical: %.0f%% of plan limit", metric, pct)
	case pct >= 75:
		d.Outcome = Warn
		d.Severity = SeverityWarning
		d.Message = fmt.Sprintf("%s usage high: %.0f%% of plan limit", metric, pct)
	default:
		d.Outcome = Allow
	}
	return d
}

func percentage(usage, limit int64) float64 {
	if limit <= 0 {
		return 0
	}
	return float64(usage) / float64(limit) * 100
}

// Increment bumps the usage counter for (org, metric) by amount, called
// after a handler completes successfully. Storage increments pass the
// request's Content-Length; all other metrics increment by 1.
func (m *Manager) Increment(org string, metric Metric, amount int64) {
	now := time.Now()
	m.mu.Lock()
	defer m.mu.Unlock()
	m.usage(org, metric, now) // ensure period rollover happens before the add
	m.counters[orgMetricKey{org, metric}].value += amount
}

// Usage returns the current counter value for (org, metric), for diagnostics
// and the `quota show` CLI command.
func (m *Manager) Usage(org string, metric Metric) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.usage(org, metric, time.Now())
}

func (m *Manager) graceFor(org string, metric Metric, now time.Time) *graceState {
	key := orgMetricKey{org, metric}
	g, ok := m.grace[key]
	if !ok {
		return nil
	}
	if g.active && now.Sub(g.startedAt) > m.gracePeriod {
		g.active = false
	}
	return g
}

// OpenGrace starts a grace window for (org, metric), allowing up to
// maxOverage additional usage beyond the plan limit to produce Warn instead
// of Block.
func (m *Manager) OpenGrace(org string, metric Metric, maxOverage int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.grace[orgMetricKey{org, metric}] = &graceState{
		active:     true,
		startedAt:  time.Now(),
		maxOverage: maxOverage,
	}
}

// EndGrace closes a grace window early on user action; the window also
// ends on expiry or when the overage ceiling is reached.
func (m *Manager) EndGrace(org string, metric Metric) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if g, ok := m.grace[orgMetricKey{org, metric}]; ok {
		g.active = false
	}
}

// GraceActive reports whether a grace window is currently open for (org, metric).
func (m *Manager) GraceActive(org string, metric Metric) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	g := m.graceFor(org, metric, time.Now())
	return g != nil && g.active
}
