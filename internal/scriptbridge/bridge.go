// Package scriptbridge implements the script-evaluation bridge: a
// registration API binding domain keywords (GENERATE PDF, MERGE PDF, ON
// EMAIL, ...) into an embedded evaluator, and the async-over-sync crossing
// that gives those keywords access to database/object-storage/HTTP I/O
// without deadlocking the evaluator's synchronous call stack.
//
// The evaluator is github.com/yuin/gopher-lua; each blocking keyword call
// crosses into async I/O over a dedicated OS thread and a bounded channel.
package scriptbridge

import (
	"context"
	"fmt"
	"runtime"
	"time"

	lua "github.com/yuin/gopher-lua"

	"github.com/nextlevelbuilder/botserver/internal/errs"
)

// AsyncTimeout is the bounded wait for a keyword's async crossing before
// the evaluator receives a runtime error. A var, not a const, so tests can
// shrink it rather than sleeping 120 real seconds.
var AsyncTimeout = 120 * time.Second

// asyncResult is what crosses back over the bounded channel.
type asyncResult struct {
	value lua.LValue
	err   error
}

// runAsync hosts fn on a dedicated OS thread pinned via runtime.LockOSThread,
// separate from both the caller's goroutine and the rest of the Go
// scheduler's worker pool, and waits up to AsyncTimeout for its result.
//
// Go's goroutine scheduler already multiplexes any goroutines fn itself
// spawns across OS threads, so pinning the worker goroutine that runs fn
// to its own thread for the duration of the blocking call reproduces the same
// isolation (the keyword's blocking work never contends the hosting
// runtime's main P/M pool) without requiring a second, hand-rolled runtime.
//
// On timeout the worker goroutine is left to run to completion and its
// result discarded; no cancellation is threaded into fn.
func runAsync(ctx context.Context, fn func(ctx context.Context) (lua.LValue, error)) (lua.LValue, error) {
	ch := make(chan asyncResult, 1)

	go func() {
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()

		value, err := fn(ctx)
		select {
		case ch <- asyncResult{value: value, err: err}:
		default:
			// Caller already timed out and stopped listening; drop the result.
		}
	}()

	timer := time.NewTimer(AsyncTimeout)
	defer timer.Stop()

	select {
	case res := <-ch:
		if res.err != nil {
			return nil, fmt.Errorf("%w: %v", errs.ErrInternal, res.err)
		}
		return res.value, nil
	case <-timer.C:
		return nil, fmt.Errorf("%w: timed out after %s", errs.ErrTimeout, AsyncTimeout)
	}
}

// Bridge owns one Lua state and the keyword registrations bound to a
// single bot/session's AppState. The automation script runner creates one
// Bridge per script run.
type Bridge struct {
	L       *lua.LState
	Store   ObjectStore
	BotName string
	reg     AutomationRegistrar
}

// New creates a fresh Lua state and registers the built-in keywords.
func New(store ObjectStore, botName string) *Bridge {
	b := &Bridge{
		L:       lua.NewState(),
		Store:   store,
		BotName: botName,
	}
	b.registerBuiltins()
	return b
}

// Close releases the Lua state.
func (b *Bridge) Close() {
	b.L.Close()
}

// Eval runs a script body against the bridge's Lua state.
func (b *Bridge) Eval(script string) error {
	if err := b.L.DoString(script); err != nil {
		return fmt.Errorf("script evaluation: %w", err)
	}
	return nil
}

// registerKeyword binds a Go closure as a global Lua function.
func (b *Bridge) registerKeyword(name string, fn lua.LGFunction) {
	b.L.SetGlobal(name, b.L.NewFunction(fn))
}

// RunAsync exposes the async-crossing primitive to keyword implementations
// outside this package (keyword handlers registered by other components,
// e.g. the scheduler's ON EMAIL dispatch).
func RunAsync(ctx context.Context, fn func(ctx context.Context) (lua.LValue, error)) (lua.LValue, error) {
	return runAsync(ctx, fn)
}
