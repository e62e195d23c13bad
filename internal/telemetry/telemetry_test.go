package telemetry

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestMiddlewarePassesThrough(t *testing.T) {
	var gotBody = "hello"
	h := Middleware("test")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
		w.Write([]byte(gotBody))
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/bots/123", nil))

	if rec.Code != http.StatusTeapot {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusTeapot)
	}
	if rec.Body.String() != gotBody {
		t.Fatalf("body = %q, want %q", rec.Body.String(), gotBody)
	}
}

func TestMiddlewarePropagatesRequestContext(t *testing.T) {
	type key struct{}
	called := false
	h := Middleware("test")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		if r.Context().Value(key{}) != "v" {
			t.Error("request context value lost through middleware")
		}
	}))

	req := httptest.NewRequest("POST", "/chat", nil)
	req = req.WithContext(context.WithValue(req.Context(), key{}, "v"))
	h.ServeHTTP(httptest.NewRecorder(), req)

	if !called {
		t.Fatal("handler not invoked")
	}
}
