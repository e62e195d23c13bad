package scriptbridge

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	lua "github.com/yuin/gopher-lua"

	"github.com/nextlevelbuilder/botserver/internal/errs"
)

type memStore struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newMemStore() *memStore {
	return &memStore{data: make(map[string][]byte)}
}

func (m *memStore) Read(ctx context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.data[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", errs.ErrNotFound, key)
	}
	return b, nil
}

func (m *memStore) Write(ctx context.Context, key string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = data
	return nil
}

func TestDriveKeyShape(t *testing.T) {
	got := DriveKey("acme", "reports/out.pdf")
	want := "s3://acme.gbai/acme.gbdrive/reports/out.pdf"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestSubstitutePlaceholders(t *testing.T) {
	tmpl := "Hello {{name}}, your balance is {{amount}}."
	out := substitutePlaceholders(tmpl, map[string]any{"name": "Ana", "amount": 42.5})
	if !strings.Contains(out, "Hello Ana") {
		t.Fatalf("got %q", out)
	}
	if !strings.Contains(out, "42.5") {
		t.Fatalf("expected stringified number, got %q", out)
	}
}

func TestSubstitutePlaceholdersLeavesUnknownKeys(t *testing.T) {
	out := substitutePlaceholders("Hi {{missing}}", map[string]any{})
	if out != "Hi {{missing}}" {
		t.Fatalf("unknown placeholder should be left as-is, got %q", out)
	}
}

func TestRunAsyncReturnsValue(t *testing.T) {
	v, err := runAsync(context.Background(), func(ctx context.Context) (lua.LValue, error) {
		return lua.LString("ok"), nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if v.String() != "ok" {
		t.Fatalf("got %v", v)
	}
}

func TestRunAsyncPropagatesError(t *testing.T) {
	sentinel := errors.New("boom")
	_, err := runAsync(context.Background(), func(ctx context.Context) (lua.LValue, error) {
		return nil, sentinel
	})
	if err == nil || !strings.Contains(err.Error(), "boom") {
		t.Fatalf("expected wrapped sentinel error, got %v", err)
	}
}

func TestRunAsyncTimesOut(t *testing.T) {
	orig := AsyncTimeout
	t.Cleanup(func() { AsyncTimeout = orig })
	AsyncTimeout = 10 * time.Millisecond

	_, err := runAsync(context.Background(), func(ctx context.Context) (lua.LValue, error) {
		time.Sleep(200 * time.Millisecond)
		return lua.LString("too late"), nil
	})
	if !errors.Is(err, errs.ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
}

func TestGeneratePDFSubstitutesAndPrependsHeader(t *testing.T) {
	store := newMemStore()
	bridge := New(store, "acme")
	defer bridge.Close()

	if err := store.Write(context.Background(), DriveKey("acme", "tmpl.html"), []byte("Dear {{name}},")); err != nil {
		t.Fatal(err)
	}

	if err := bridge.generatePDF(context.Background(), "tmpl.html", "out.html", map[string]any{"name": "Bob"}); err != nil {
		t.Fatal(err)
	}

	out, err := store.Read(context.Background(), DriveKey("acme", "out.html"))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(out), "Dear Bob,") {
		t.Fatalf("got %q", out)
	}
	if !strings.HasPrefix(string(out), "<!-- generated by botserver script bridge") {
		t.Fatalf("missing comment header: %q", out)
	}
}

func TestMergePDFConcatenatesWithDelimiters(t *testing.T) {
	store := newMemStore()
	bridge := New(store, "acme")
	defer bridge.Close()

	ctx := context.Background()
	store.Write(ctx, DriveKey("acme", "a.html"), []byte("AAA"))
	store.Write(ctx, DriveKey("acme", "b.html"), []byte("BBB"))

	if err := bridge.mergePDF(ctx, []string{"a.html", "b.html"}, "merged.html"); err != nil {
		t.Fatal(err)
	}
	out, err := store.Read(ctx, DriveKey("acme", "merged.html"))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(out), "AAA") || !strings.Contains(string(out), "BBB") {
		t.Fatalf("got %q", out)
	}
}

type fakeRegistrar struct {
	mu    sync.Mutex
	calls int
	last  EmailTrigger
}

func (f *fakeRegistrar) RegisterEmailTrigger(ctx context.Context, botName string, trigger EmailTrigger, scriptPath string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.last = trigger
	return nil
}

func TestOnEmailIsIdempotentByScriptPath(t *testing.T) {
	store := newMemStore()
	reg := &fakeRegistrar{}
	bridge := New(store, "acme").WithRegistrar(reg)
	defer bridge.Close()

	trigger := EmailTrigger{Address: "ops@bot.example", FromFilter: "alerts@"}
	p1, err := bridge.onEmail(context.Background(), trigger)
	if err != nil {
		t.Fatal(err)
	}
	p2, err := bridge.onEmail(context.Background(), trigger)
	if err != nil {
		t.Fatal(err)
	}
	if p1 != p2 {
		t.Fatalf("same ON EMAIL statement should derive the same script path, got %q vs %q", p1, p2)
	}
	if reg.calls != 2 {
		t.Fatalf("expected registrar called twice (upsert), got %d", reg.calls)
	}
}

func TestOnEmailWithoutRegistrarErrors(t *testing.T) {
	store := newMemStore()
	bridge := New(store, "acme")
	defer bridge.Close()

	if _, err := bridge.onEmail(context.Background(), EmailTrigger{Address: "a@b.com"}); !errors.Is(err, errs.ErrInternal) {
		t.Fatalf("expected ErrInternal without a registrar, got %v", err)
	}
}

func TestEvalRunsScriptAgainstRegisteredKeywords(t *testing.T) {
	store := newMemStore()
	store.Write(context.Background(), DriveKey("acme", "t.html"), []byte("Hi {{who}}"))
	bridge := New(store, "acme")
	defer bridge.Close()

	err := bridge.Eval(`local path = GENERATE_PDF("t.html", "o.html", {who = "World"})`)
	if err != nil {
		t.Fatal(err)
	}
	out, err := store.Read(context.Background(), DriveKey("acme", "o.html"))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(out), "Hi World") {
		t.Fatalf("got %q", out)
	}
}
