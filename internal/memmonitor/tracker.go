package memmonitor

import (
	"sync"
	"time"
)

// ComponentTracker records a bounded history of memory snapshots per
// named component, used to compute per-component growth rates.
type ComponentTracker struct {
	mu         sync.Mutex
	history    map[string][]Stats
	maxHistory int
}

// NewComponentTracker creates a tracker retaining at most maxHistory
// samples per component.
func NewComponentTracker(maxHistory int) *ComponentTracker {
	if maxHistory <= 0 {
		maxHistory = 60
	}
	return &ComponentTracker{history: make(map[string][]Stats), maxHistory: maxHistory}
}

// Record appends a fresh snapshot for component, evicting the oldest
// sample once maxHistory is exceeded.
func (t *ComponentTracker) Record(component string) {
	stats := CurrentStats()
	t.mu.Lock()
	defer t.mu.Unlock()
	h := append(t.history[component], stats)
	if len(h) > t.maxHistory {
		h = h[len(h)-t.maxHistory:]
	}
	t.history[component] = h
}

// GrowthRate returns bytes/second of RSS growth between the oldest and
// newest retained samples for component, or false if fewer than two
// samples are available.
func (t *ComponentTracker) GrowthRate(component string) (float64, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	h := t.history[component]
	if len(h) < 2 {
		return 0, false
	}
	first, last := h[0], h[len(h)-1]
	duration := last.Timestamp.Sub(first.Timestamp).Seconds()
	if duration <= 0 {
		return 0, false
	}
	return (float64(last.RSSBytes) - float64(first.RSSBytes)) / duration, true
}

// Snapshot returns the component names currently tracked and their
// latest sample, for diagnostics and export.
func (t *ComponentTracker) Snapshot() map[string]Stats {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[string]Stats, len(t.history))
	for name, h := range t.history {
		if len(h) > 0 {
			out[name] = h[len(h)-1]
		}
	}
	return out
}

// ThreadInfo describes one registered long-lived goroutine.
type ThreadInfo struct {
	Name          string
	Component     string
	StartedAt     time.Time
	LastActivity  time.Time
	ActivityCount uint64
}

// ThreadRegistry tracks long-lived goroutines by name.
type ThreadRegistry struct {
	mu      sync.RWMutex
	threads map[string]*ThreadInfo
}

func NewThreadRegistry() *ThreadRegistry {
	return &ThreadRegistry{threads: make(map[string]*ThreadInfo)}
}

// Register adds or replaces a thread entry.
func (r *ThreadRegistry) Register(name, component string) {
	now := time.Now()
	r.mu.Lock()
	defer r.mu.Unlock()
	r.threads[name] = &ThreadInfo{Name: name, Component: component, StartedAt: now, LastActivity: now}
}

// RecordActivity bumps the activity counter and last-seen time for name.
func (r *ThreadRegistry) RecordActivity(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if info, ok := r.threads[name]; ok {
		info.LastActivity = time.Now()
		info.ActivityCount++
	}
}

// Unregister removes a thread entry.
func (r *ThreadRegistry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.threads, name)
}

// Snapshot returns a copy of every registered thread's current state.
func (r *ThreadRegistry) Snapshot() []ThreadInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]ThreadInfo, 0, len(r.threads))
	for _, info := range r.threads {
		out = append(out, *info)
	}
	return out
}
