package quota

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

type staticLimits map[Metric]int64

func (s staticLimits) Limit(metric Metric) int64 { return s[metric] }

func TestClassifyMetric(t *testing.T) {
	cases := []struct {
		path   string
		method string
		want   Metric
	}{
		{"/api/chat/send", http.MethodPost, MetricMessages},
		{"/api/upload/avatar", http.MethodPost, MetricStorageBytes},
		{"/api/bots", http.MethodPost, MetricBots},
		{"/api/bots", http.MethodGet, MetricApiCalls},
		{"/api/users", http.MethodPost, MetricUsers},
		{"/api/kb/documents", http.MethodGet, MetricKbDocuments},
		{"/api/apps/1", http.MethodGet, MetricApps},
		{"/api/health", http.MethodGet, MetricApiCalls},
	}
	for _, c := range cases {
		if got := ClassifyMetric(c.path, c.method); got != c.want {
			t.Errorf("ClassifyMetric(%q, %q) = %q, want %q", c.path, c.method, got, c.want)
		}
	}
}

func TestCheckBoundaryPercentages(t *testing.T) {
	m := NewManager(72 * time.Hour)
	limits := staticLimits{MetricMessages: 100}

	// 74 usage -> 74% -> Allow
	for i := 0; i < 74; i++ {
		m.Increment("org1", MetricMessages, 1)
	}
	if d := m.Check("org1", limits, MetricMessages); d.Outcome != Allow {
		t.Fatalf("at 74%%: got %v, want Allow", d.Outcome)
	}

	// 75 usage -> 75% -> Warn
	m.Increment("org1", MetricMessages, 1)
	d := m.Check("org1", limits, MetricMessages)
	if d.Outcome != Warn {
		t.Fatalf("at 75%%: got %v, want Warn", d.Outcome)
	}

	// push to exactly 100
	for i := 0; i < 25; i++ {
		m.Increment("org1", MetricMessages, 1)
	}
	d = m.Check("org1", limits, MetricMessages)
	if d.Outcome != Block {
		t.Fatalf("at 100%%: got %v, want Block", d.Outcome)
	}
}

func TestUnlimitedNeverWarnsOrBlocks(t *testing.T) {
	m := NewManager(time.Hour)
	limits := staticLimits{MetricMessages: 0}
	for i := 0; i < 100000; i++ {
		m.Increment("org1", MetricMessages, 1)
	}
	d := m.Check("org1", limits, MetricMessages)
	if d.Outcome != Allow {
		t.Fatalf("unlimited plan produced %v, want Allow", d.Outcome)
	}
}

func TestGracePeriodAllowsOverageUpToCeiling(t *testing.T) {
	m := NewManager(time.Hour)
	limits := staticLimits{MetricMessages: 10}
	for i := 0; i < 10; i++ {
		m.Increment("org1", MetricMessages, 1)
	}
	m.OpenGrace("org1", MetricMessages, 5)

	m.Increment("org1", MetricMessages, 3) // usage=13, overage=3 <= 5
	if d := m.Check("org1", limits, MetricMessages); d.Outcome != Warn {
		t.Fatalf("within grace overage: got %v, want Warn", d.Outcome)
	}

	m.Increment("org1", MetricMessages, 10) // usage=23, overage=13 > 5
	if d := m.Check("org1", limits, MetricMessages); d.Outcome != Block {
		t.Fatalf("beyond grace ceiling: got %v, want Block", d.Outcome)
	}
	if m.GraceActive("org1", MetricMessages) {
		t.Fatal("grace should end once the overage ceiling is reached")
	}
}

func TestDowngradeBlockers(t *testing.T) {
	usage := map[Metric]int64{MetricBots: 5, MetricUsers: 2}
	target := Plan{ID: "free", Limits: map[Metric]int64{MetricBots: 1, MetricUsers: 10}}
	blockers := DowngradeBlockers(usage, target)
	if len(blockers) != 1 {
		t.Fatalf("expected 1 blocker, got %d: %v", len(blockers), blockers)
	}
}

func TestProrateChargeAndCredit(t *testing.T) {
	up := Prorate(1900, 9900, false, false, 15, 30)
	if up == nil || up.Kind != ChargeNow || up.AmountCents <= 0 {
		t.Fatalf("expected ChargeNow, got %+v", up)
	}
	down := Prorate(9900, 1900, false, false, 15, 30)
	if down == nil || down.Kind != Credit || down.AmountCents <= 0 {
		t.Fatalf("expected Credit, got %+v", down)
	}
	custom := Prorate(1900, 0, false, true, 15, 30)
	if custom != nil {
		t.Fatalf("expected nil for custom-priced plan, got %+v", custom)
	}
}

func TestMiddlewareBlocksAt100Percent(t *testing.T) {
	m := NewManager(time.Hour)
	for i := 0; i < 10; i++ {
		m.Increment("org1", MetricMessages, 1)
	}
	lookup := func(org string) (PlanLimitsLike, error) {
		return staticLimits{MetricMessages: 10}, nil
	}
	mw := NewMiddleware(m, lookup, 0, 0)

	handlerCalled := false
	h := mw.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handlerCalled = true
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodPost, "/api/chat/send", nil)
	req.Header.Set("X-Organization-Id", "org1")
	rw := httptest.NewRecorder()
	h.ServeHTTP(rw, req)

	if handlerCalled {
		t.Fatal("handler should not run when blocked")
	}
	if rw.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rw.Code)
	}
}

func TestMiddlewareSkipsCheckWithoutOrgID(t *testing.T) {
	m := NewManager(time.Hour)
	lookup := func(org string) (PlanLimitsLike, error) { return staticLimits{}, nil }
	mw := NewMiddleware(m, lookup, 0, 0)

	h := mw.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	rw := httptest.NewRecorder()
	h.ServeHTTP(rw, req)

	if rw.Code != http.StatusOK {
		t.Fatalf("expected request to pass through without org id, got %d", rw.Code)
	}
}
