// Package typing implements a keepalive "typing..." indicator controller
// for channels whose transport typing action expires after a few seconds
// (Telegram, WhatsApp) and must be refreshed while a reply is in flight.
package typing

import (
	"log/slog"
	"sync"
	"time"
)

// Options configures a typing indicator controller.
type Options struct {
	// MaxDuration bounds how long the indicator keeps firing even if Stop
	// is never called, so a stuck handler can't leave "typing..." forever.
	MaxDuration time.Duration
	// KeepaliveInterval is how often StartFn is re-invoked to refresh the
	// platform's typing action before it expires.
	KeepaliveInterval time.Duration
	// StartFn sends one typing-action request to the channel transport.
	StartFn func() error
}

// Controller drives a background keepalive loop for one in-flight reply.
type Controller struct {
	opts   Options
	stop   chan struct{}
	once   sync.Once
}

// New creates a Controller. Call Start to begin firing.
func New(opts Options) *Controller {
	return &Controller{opts: opts, stop: make(chan struct{})}
}

// Start fires StartFn immediately, then on a keepalive ticker until Stop is
// called or MaxDuration elapses.
func (c *Controller) Start() {
	if c.opts.StartFn == nil {
		return
	}
	if err := c.opts.StartFn(); err != nil {
		slog.Debug("typing indicator start failed", "error", err)
	}

	interval := c.opts.KeepaliveInterval
	if interval <= 0 {
		interval = 4 * time.Second
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		var deadline <-chan time.Time
		if c.opts.MaxDuration > 0 {
			timer := time.NewTimer(c.opts.MaxDuration)
			defer timer.Stop()
			deadline = timer.C
		}

		for {
			select {
			case <-c.stop:
				return
			case <-deadline:
				return
			case <-ticker.C:
				if err := c.opts.StartFn(); err != nil {
					slog.Debug("typing indicator keepalive failed", "error", err)
				}
			}
		}
	}()
}

// Stop ends the keepalive loop. Safe to call more than once or concurrently.
func (c *Controller) Stop() {
	c.once.Do(func() { close(c.stop) })
}
