// Package quota implements the quota manager and HTTP middleware: per
// organization, per-metric usage counters with grace periods and
// warn/block thresholds, plus plan comparison and proration helpers.
package quota

import (
	"net/http"
	"strings"
)

// Metric is one of the seven usage counters tracked per organization.
type Metric string

const (
	MetricMessages     Metric = "messages"
	MetricStorageBytes Metric = "storage_bytes"
	MetricApiCalls     Metric = "api_calls"
	MetricBots         Metric = "bots"
	MetricUsers        Metric = "users"
	MetricKbDocuments  Metric = "kb_documents"
	MetricApps         Metric = "apps"
)

// ClassifyMetric maps a request path+method to the single metric it is
// billed against; first match wins.
func ClassifyMetric(path, method string) Metric {
	lower := strings.ToLower(path)
	switch {
	case containsAny(lower, "/chat", "/message", "/conversation"):
		return MetricMessages
	case containsAny(lower, "/upload", "/file", "/storage"):
		return MetricStorageBytes
	case strings.Contains(lower, "/bot") && method == http.MethodPost:
		return MetricBots
	case strings.Contains(lower, "/user") && method == http.MethodPost:
		return MetricUsers
	case containsAny(lower, "/kb", "/document"):
		return MetricKbDocuments
	case containsAny(lower, "/app", "/form", "/site"):
		return MetricApps
	default:
		return MetricApiCalls
	}
}

func containsAny(s string, substrs ...string) bool {
	for _, sub := range substrs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// LimitFor reads the configured cap for a metric out of a plan's limits. A
// limit of 0 means Unlimited, matching config.PlanLimits' established
// convention (see Default() in internal/config).
func LimitFor(limits PlanLimitsLike, metric Metric) (limit int64, unlimited bool) {
	v := limits.Limit(metric)
	if v <= 0 {
		return 0, true
	}
	return v, false
}

// PlanLimitsLike decouples this package from internal/config's concrete
// struct (avoids an import cycle risk and keeps quota unit-testable without
// constructing a full config.Config).
type PlanLimitsLike interface {
	Limit(metric Metric) int64
}
