package typing

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestStartFiresImmediatelyAndKeepsAlive(t *testing.T) {
	var fires atomic.Int32
	c := New(Options{
		KeepaliveInterval: 10 * time.Millisecond,
		StartFn: func() error {
			fires.Add(1)
			return nil
		},
	})
	c.Start()
	defer c.Stop()

	if fires.Load() < 1 {
		t.Fatal("StartFn not fired immediately")
	}

	deadline := time.Now().Add(time.Second)
	for fires.Load() < 3 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if got := fires.Load(); got < 3 {
		t.Fatalf("keepalive fired %d times, want >= 3", got)
	}
}

func TestStopEndsKeepalive(t *testing.T) {
	var fires atomic.Int32
	c := New(Options{
		KeepaliveInterval: 10 * time.Millisecond,
		StartFn: func() error {
			fires.Add(1)
			return nil
		},
	})
	c.Start()
	c.Stop()
	c.Stop() // idempotent

	settled := fires.Load()
	time.Sleep(50 * time.Millisecond)
	// One tick may already have been in flight when Stop closed the channel.
	if got := fires.Load(); got > settled+1 {
		t.Fatalf("keepalive kept firing after Stop: %d -> %d", settled, got)
	}
}

func TestMaxDurationBoundsTheLoop(t *testing.T) {
	var fires atomic.Int32
	c := New(Options{
		MaxDuration:       25 * time.Millisecond,
		KeepaliveInterval: 10 * time.Millisecond,
		StartFn: func() error {
			fires.Add(1)
			return nil
		},
	})
	c.Start()

	time.Sleep(100 * time.Millisecond)
	settled := fires.Load()
	time.Sleep(50 * time.Millisecond)
	if got := fires.Load(); got != settled {
		t.Fatalf("keepalive outlived MaxDuration: %d -> %d", settled, got)
	}
	c.Stop()
}

func TestNilStartFnIsANoop(t *testing.T) {
	c := New(Options{KeepaliveInterval: 5 * time.Millisecond})
	c.Start() // must not panic
	c.Stop()
}
