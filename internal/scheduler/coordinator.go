package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// ScriptRunner executes a bot's script through the script bridge.
type ScriptRunner interface {
	RunScript(ctx context.Context, botID, scriptPath string) error
}

// CrawlDispatcher hands a due website-crawl row to the crawler.
type CrawlDispatcher interface {
	DispatchDueCrawls(ctx context.Context, now time.Time) (int, error)
}

// TableChangePoller reports whether an automation's target table changed
// since the last check, in the way its trigger kind cares about (row count
// up for inserts, down for deletes, updated_at advanced for updates).
type TableChangePoller interface {
	Changed(ctx context.Context, a Automation) (bool, error)
}

// Coordinator is the single coordinator loop: one tick drives
// cron/table automations, email monitor polling, and website-crawl
// dispatch, all bounded by a shared parallelism cap. Webhook and
// folder-change automations are driven by their own ingress (HTTP
// dispatch and fsnotify), not the tick.
type Coordinator struct {
	runner  ScriptRunner
	crawler CrawlDispatcher
	poller  EmailPoller
	tables  TableChangePoller
	logger  *slog.Logger

	parallelism int
	sem         chan struct{}

	mu          sync.Mutex
	automations map[string]*Automation
	monitors    map[string]*EmailMonitor // keyed by bot_id+"|"+email_address
}

// NewCoordinator builds a Coordinator with the given parallelism cap.
func NewCoordinator(runner ScriptRunner, crawler CrawlDispatcher, poller EmailPoller, parallelism int, logger *slog.Logger) *Coordinator {
	if parallelism <= 0 {
		parallelism = 4
	}
	return &Coordinator{
		runner:      runner,
		crawler:     crawler,
		poller:      poller,
		logger:      logger,
		parallelism: parallelism,
		sem:         make(chan struct{}, parallelism),
		automations: make(map[string]*Automation),
		monitors:    make(map[string]*EmailMonitor),
	}
}

// Register adds or replaces an automation definition.
func (c *Coordinator) Register(a *Automation) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.automations[a.ID] = a
}

// RegisterMonitor adds or replaces an email monitor (used by the ON EMAIL
// keyword's AutomationRegistrar implementation).
func (c *Coordinator) RegisterMonitor(m *EmailMonitor) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.monitors[monitorKey(m.BotID, m.EmailAddress)] = m
}

func monitorKey(botID, address string) string { return botID + "|" + address }

// SetTablePoller wires the table-change detector; call before the loop
// starts.
func (c *Coordinator) SetTablePoller(p TableChangePoller) { c.tables = p }

// Tick runs one coordinator pass: fires due automations (at most one
// in-flight per automation id, up to the parallelism cap overall), polls
// email monitors, and dispatches due website crawls.
func (c *Coordinator) Tick(ctx context.Context) {
	now := time.Now()

	if c.tables != nil {
		c.pollTableChanges(ctx, now)
	}

	due := c.claimDueAutomations(now)
	var wg sync.WaitGroup
	for _, a := range due {
		a := a
		c.sem <- struct{}{}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() { <-c.sem }()
			c.fire(ctx, a, now)
		}()
	}
	wg.Wait()

	if c.poller != nil {
		c.PollEmailMonitors(ctx)
	}
	if c.crawler != nil {
		if n, err := c.crawler.DispatchDueCrawls(ctx, now); err != nil {
			c.logWarn("dispatch due crawls failed", "error", err)
		} else if n > 0 {
			c.logInfo("dispatched website crawls", "count", n)
		}
	}
}

// pollTableChanges asks the table poller about each table-triggered
// automation (outside the coordinator lock, the poll does I/O) and arms
// the changed ones so claimDueAutomations picks them up.
func (c *Coordinator) pollTableChanges(ctx context.Context, now time.Time) {
	c.mu.Lock()
	var candidates []*Automation
	for _, a := range c.automations {
		if isTableKind(a.Kind) && !a.Running && a.NextFireAt == nil {
			candidates = append(candidates, a)
		}
	}
	c.mu.Unlock()

	for _, a := range candidates {
		changed, err := c.tables.Changed(ctx, *a)
		if err != nil {
			c.logWarn("table change poll failed", "id", a.ID, "target", a.Target, "error", err)
			continue
		}
		if !changed {
			continue
		}
		fireAt := now
		c.mu.Lock()
		a.NextFireAt = &fireAt
		c.mu.Unlock()
	}
}

func isTableKind(k TriggerKind) bool {
	return k == TriggerTableInsert || k == TriggerTableUpdate || k == TriggerTableDelete
}

// claimDueAutomations atomically flips each ready automation's Running
// flag under the coordinator lock and returns the claimed set. Skipped
// (already-running) automations are logged, not queued. Email, webhook,
// and folder kinds never fire from the tick: each has its own ingress.
func (c *Coordinator) claimDueAutomations(now time.Time) []*Automation {
	c.mu.Lock()
	defer c.mu.Unlock()

	var due []*Automation
	for _, a := range c.automations {
		switch a.Kind {
		case TriggerEmailReceived, TriggerWebhook, TriggerFolderChange:
			continue
		}
		if isTableKind(a.Kind) && a.NextFireAt == nil {
			continue // not armed by the table poller yet
		}
		if !a.ReadyToFire(now) {
			if a.Running {
				c.logTrace("skipping in-flight automation", "id", a.ID)
			}
			continue
		}
		a.Running = true
		due = append(due, a)
	}
	return due
}

// fire runs one automation's script, then advances or backs off its
// schedule.
func (c *Coordinator) fire(ctx context.Context, a *Automation, now time.Time) {
	err := c.runner.RunScript(ctx, a.BotID, a.Param)

	c.mu.Lock()
	defer c.mu.Unlock()
	a.Running = false
	if err != nil {
		a.Failures++
		a.LastError = err.Error()
		c.logWarn("automation run failed", "id", a.ID, "failures", a.Failures, "error", err)
		next := now.Add(retryBackoff(a.Failures))
		a.NextFireAt = &next
		return
	}
	a.Failures = 0
	a.LastError = ""
	a.LastTriggered = &now
	a.NextFireAt = c.computeNextFireAt(a, now)
}

const maxRetryBackoff = time.Hour

// retryBackoff doubles per consecutive failure, starting at one minute and
// capped at maxRetryBackoff. There is no persistent retry queue: a failing
// automation just pushes its next attempt further out.
func retryBackoff(failures int) time.Duration {
	d := time.Minute
	for i := 1; i < failures && d < maxRetryBackoff; i++ {
		d *= 2
	}
	if d > maxRetryBackoff {
		d = maxRetryBackoff
	}
	return d
}

func (c *Coordinator) computeNextFireAt(a *Automation, now time.Time) *time.Time {
	if a.Kind != TriggerScheduled || a.Schedule == "" {
		return nil
	}
	next, err := NextFireTime(a.Schedule, now)
	if err != nil {
		c.logWarn("invalid cron schedule, automation will not re-fire", "id", a.ID, "schedule", a.Schedule, "error", err)
		return nil
	}
	return &next
}

// Snapshot returns a shallow copy of the automation's current state, for
// diagnostics and tests.
func (c *Coordinator) Snapshot(id string) (Automation, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	a, ok := c.automations[id]
	if !ok {
		return Automation{}, false
	}
	return *a, true
}

func (c *Coordinator) logInfo(msg string, args ...any) {
	if c.logger != nil {
		c.logger.Info(msg, args...)
	}
}
func (c *Coordinator) logWarn(msg string, args ...any) {
	if c.logger != nil {
		c.logger.Warn(msg, args...)
	}
}
func (c *Coordinator) logTrace(msg string, args ...any) {
	if c.logger != nil {
		c.logger.Debug(msg, args...)
	}
}
