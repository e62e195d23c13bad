package quota

import (
	"encoding/json"
	"net/http"
	"strconv"
	"sync"

	"golang.org/x/time/rate"
)

// OrgContextKey is the request-context key handlers/middleware upstream of
// this one may set an OrganizationContext under; it is consulted after the
// header and query parameter.
type ctxKey int

const OrgContextKey ctxKey = iota

// PlanLookup resolves an organization id to its current plan's limits. An
// external collaborator (billing/org service) implements this; the quota
// package only consumes it.
type PlanLookup func(orgID string) (PlanLimitsLike, error)

// Middleware wires the quota Manager into an HTTP handler chain. Its
// Handler method is a plain `func(http.Handler) http.Handler`, directly
// usable with `chi.Router.Use`.
type Middleware struct {
	manager   *Manager
	lookup    PlanLookup
	mu        sync.Mutex
	limiters  map[string]*rate.Limiter
	rateRPS   float64
	rateBurst int
}

func NewMiddleware(manager *Manager, lookup PlanLookup, rateRPS float64, rateBurst int) *Middleware {
	return &Middleware{
		manager:   manager,
		lookup:    lookup,
		limiters:  make(map[string]*rate.Limiter),
		rateRPS:   rateRPS,
		rateBurst: rateBurst,
	}
}

// extractOrgID resolves the organization id from the X-Organization-Id
// header, then the org_id query parameter, then the request context.
func extractOrgID(r *http.Request) string {
	if id := r.Header.Get("X-Organization-Id"); id != "" {
		return id
	}
	if id := r.URL.Query().Get("org_id"); id != "" {
		return id
	}
	if id, ok := r.Context().Value(OrgContextKey).(string); ok {
		return id
	}
	return ""
}

func (mw *Middleware) limiterFor(org string) *rate.Limiter {
	mw.mu.Lock()
	defer mw.mu.Unlock()
	if l, ok := mw.limiters[org]; ok {
		return l
	}
	l := rate.NewLimiter(rate.Limit(mw.rateRPS), mw.rateBurst)
	mw.limiters[org] = l
	return l
}

// Handler returns the middleware function. If the manager is disabled, or no
// organization id can be resolved, every request passes through unchecked.
func (mw *Middleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !mw.manager.Enabled() {
			next.ServeHTTP(w, r)
			return
		}
		org := extractOrgID(r)
		if org == "" {
			next.ServeHTTP(w, r)
			return
		}

		if mw.rateRPS > 0 {
			if !mw.limiterFor(org).Allow() {
				writeRateLimited(w)
				return
			}
		}

		limits, err := mw.lookup(org)
		if err != nil {
			next.ServeHTTP(w, r)
			return
		}

		metric := ClassifyMetric(r.URL.Path, r.Method)
		decision := mw.manager.Check(org, limits, metric)

		switch decision.Outcome {
		case Block:
			writeBlocked(w, metric, decision)
			return
		case Warn:
			w.Header().Set("X-Quota-Warning", decision.Message)
			w.Header().Set("X-Quota-Usage-Percent", strconv.FormatFloat(decision.Percentage, 'f', 0, 64))
		}

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		if rec.status < 400 {
			amount := int64(1)
			if metric == MetricStorageBytes {
				if cl, err := strconv.ParseInt(r.Header.Get("Content-Length"), 10, 64); err == nil && cl > 0 {
					amount = cl
				}
			}
			mw.manager.Increment(org, metric, amount)
		}
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status  int
	written bool
}

func (r *statusRecorder) WriteHeader(code int) {
	if r.written {
		return
	}
	r.status = code
	r.written = true
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if !r.written {
		r.WriteHeader(http.StatusOK)
	}
	return r.ResponseWriter.Write(b)
}

func writeRateLimited(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Retry-After", "60")
	w.WriteHeader(http.StatusTooManyRequests)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error":   "rate_limited",
		"message": "too many requests, slow down",
		"code":    "RATE_LIMITED",
	})
}

func writeBlocked(w http.ResponseWriter, metric Metric, d Decision) {
	w.Header().Set("Content-Type", "application/json")
	if metric == MetricStorageBytes {
		w.Header().Set("X-Quota-Exceeded", "true")
		w.WriteHeader(http.StatusRequestEntityTooLarge)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"error":              "storage_quota_exceeded",
			"message":            d.Message,
			"code":               "QUOTA_EXCEEDED",
			"current_usage_bytes": d.Usage,
			"limit_bytes":        d.Limit,
			"upgrade_url":        "/billing/upgrade",
		})
		return
	}
	w.Header().Set("X-Quota-Exceeded", "true")
	w.WriteHeader(http.StatusTooManyRequests)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error":   "quota_exceeded",
		"message": d.Message,
		"code":    "QUOTA_EXCEEDED",
	})
}
