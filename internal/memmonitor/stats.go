// Package memmonitor tracks process RSS, per-component memory growth, and
// long-lived goroutine activity, surfacing both structured logs and
// OpenTelemetry gauges.
package memmonitor

import (
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"
)

// Stats is a single memory snapshot.
type Stats struct {
	RSSBytes     uint64
	VirtualBytes uint64
	Timestamp    time.Time
}

// CurrentStats reads RSS/VSZ from /proc/self/statm when available (Linux);
// otherwise it falls back to runtime.MemStats, which is always present but
// reports Go's own heap rather than true process RSS.
func CurrentStats() Stats {
	if rss, vsz, ok := readProcStatm(); ok {
		return Stats{RSSBytes: rss, VirtualBytes: vsz, Timestamp: time.Now()}
	}
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return Stats{RSSBytes: m.Sys, VirtualBytes: m.Sys, Timestamp: time.Now()}
}

func readProcStatm() (rss, vsz uint64, ok bool) {
	data, err := os.ReadFile("/proc/self/statm")
	if err != nil {
		return 0, 0, false
	}
	fields := strings.Fields(string(data))
	if len(fields) < 2 {
		return 0, 0, false
	}
	pageSize := uint64(os.Getpagesize())
	vszPages, err1 := strconv.ParseUint(fields[0], 10, 64)
	rssPages, err2 := strconv.ParseUint(fields[1], 10, 64)
	if err1 != nil || err2 != nil {
		return 0, 0, false
	}
	return rssPages * pageSize, vszPages * pageSize, true
}

// FormatBytes renders a byte count as a human-scaled string.
func FormatBytes(bytes uint64) string {
	const (
		kb = 1024
		mb = kb * 1024
		gb = mb * 1024
	)
	switch {
	case bytes >= gb:
		return fmt.Sprintf("%.2f GB", float64(bytes)/float64(gb))
	case bytes >= mb:
		return fmt.Sprintf("%.2f MB", float64(bytes)/float64(mb))
	case bytes >= kb:
		return fmt.Sprintf("%.2f KB", float64(bytes)/float64(kb))
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}

// Checkpoint captures a named baseline for later comparison.
type Checkpoint struct {
	Name  string
	Stats Stats
}

// NewCheckpoint snapshots current memory under the given name.
func NewCheckpoint(name string) Checkpoint {
	return Checkpoint{Name: name, Stats: CurrentStats()}
}

// Diff returns the signed RSS delta between the checkpoint and now.
func (c Checkpoint) Diff() int64 {
	return int64(CurrentStats().RSSBytes) - int64(c.Stats.RSSBytes)
}
