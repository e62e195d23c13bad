package memmonitor

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/metric"
)

// Config tunes the monitor loop.
type Config struct {
	Interval         time.Duration
	WarnThresholdMB  uint64
	StartupInterval  time.Duration // fast polling window at process start
	StartupTicks     int           // number of fast ticks before switching to Interval
	ComponentHistory int
}

func DefaultConfig() Config {
	return Config{
		Interval:         60 * time.Second,
		WarnThresholdMB:  256,
		StartupInterval:  10 * time.Second,
		StartupTicks:     12,
		ComponentHistory: 60,
	}
}

// Monitor drives periodic RSS sampling, leak detection, and component
// growth tracking, exporting both structured logs and OTel gauges.
type Monitor struct {
	cfg       Config
	logger    *slog.Logger
	detector  *LeakDetector
	tracker   *ComponentTracker
	threads   *ThreadRegistry
	rssGauge  metric.Int64ObservableGauge
	lastStats Stats
}

// New builds a Monitor and registers its RSS observable gauge against
// meter.
func New(cfg Config, meter metric.Meter, logger *slog.Logger) (*Monitor, error) {
	m := &Monitor{
		cfg:      cfg,
		logger:   logger,
		detector: NewLeakDetector(cfg.WarnThresholdMB, 5),
		tracker:  NewComponentTracker(cfg.ComponentHistory),
		threads:  NewThreadRegistry(),
	}

	gauge, err := meter.Int64ObservableGauge(
		"process_rss_bytes",
		metric.WithDescription("resident set size of the botserver process"),
		metric.WithInt64Callback(func(ctx context.Context, o metric.Int64Observer) error {
			o.Observe(int64(m.lastStats.RSSBytes))
			return nil
		}),
	)
	if err != nil {
		return nil, err
	}
	m.rssGauge = gauge
	return m, nil
}

// Threads exposes the registry so callers can register long-lived
// goroutines (schedulers, pollers, render workers) under this monitor.
func (m *Monitor) Threads() *ThreadRegistry { return m.threads }

// Tracker exposes the component memory tracker for components that want
// to record their own snapshots outside the main loop.
func (m *Monitor) Tracker() *ComponentTracker { return m.tracker }

// Run drives the sample loop until ctx is cancelled: fast sampling for
// the first StartupTicks checks, then the configured steady-state
// Interval.
func (m *Monitor) Run(ctx context.Context) {
	m.threads.Register("memory-monitor", "monitoring")
	defer m.threads.Unregister("memory-monitor")

	m.logInfo("memory monitor started", "interval", m.cfg.Interval, "warn_threshold_mb", m.cfg.WarnThresholdMB)

	interval := m.cfg.StartupInterval
	if interval <= 0 {
		interval = m.cfg.Interval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var tickCount int
	var prevRSS uint64

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			tickCount++
			m.threads.RecordActivity("memory-monitor")

			stats := CurrentStats()
			m.lastStats = stats
			m.tracker.Record("global")

			diff := int64(stats.RSSBytes) - int64(prevRSS)
			if prevRSS == 0 {
				diff = 0
			}
			m.logTrace("memory sample", "tick", tickCount, "rss", FormatBytes(stats.RSSBytes), "delta", diff)
			prevRSS = stats.RSSBytes

			if warning, leaking := m.detector.Check(); leaking {
				m.logWarn("memory leak suspected", "detail", warning)
				m.logComponentStats()
			}

			if tickCount == m.cfg.StartupTicks && m.cfg.Interval != interval {
				m.logTrace("switching to steady-state sampling interval", "interval", m.cfg.Interval)
				ticker.Stop()
				ticker = time.NewTicker(m.cfg.Interval)
				interval = m.cfg.Interval
			}
		}
	}
}

func (m *Monitor) logComponentStats() {
	for name, stats := range m.tracker.Snapshot() {
		rate, ok := m.tracker.GrowthRate(name)
		if !ok {
			m.logInfo("component memory", "component", name, "rss", FormatBytes(stats.RSSBytes))
			continue
		}
		m.logInfo("component memory", "component", name, "rss", FormatBytes(stats.RSSBytes), "growth_bytes_per_sec", rate)
	}
}

func (m *Monitor) logInfo(msg string, args ...any) {
	if m.logger != nil {
		m.logger.Info(msg, args...)
	}
}
func (m *Monitor) logWarn(msg string, args ...any) {
	if m.logger != nil {
		m.logger.Warn(msg, args...)
	}
}
func (m *Monitor) logTrace(msg string, args ...any) {
	if m.logger != nil {
		m.logger.Debug(msg, args...)
	}
}
