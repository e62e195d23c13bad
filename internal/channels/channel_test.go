package channels

import (
	"context"
	"testing"
	"time"

	"github.com/nextlevelbuilder/botserver/internal/bus"
)

func TestIsAllowedEmptyAllowlist(t *testing.T) {
	c := NewBaseChannel("test", bus.NewMessageBus(1), nil)
	if !c.IsAllowed("anyone") {
		t.Fatal("empty allowlist should allow everyone")
	}
}

func TestIsAllowedCompoundSenderID(t *testing.T) {
	c := NewBaseChannel("telegram", bus.NewMessageBus(1), []string{"123456"})
	if !c.IsAllowed("123456|alice") {
		t.Fatal("compound sender id should match bare id in allowlist")
	}
	if c.IsAllowed("999|bob") {
		t.Fatal("unrelated compound sender id should not match")
	}
}

func TestIsAllowedUsernameWithAtPrefix(t *testing.T) {
	c := NewBaseChannel("telegram", bus.NewMessageBus(1), []string{"@alice"})
	if !c.IsAllowed("123456|alice") {
		t.Fatal("username in allowlist (with @ prefix) should match compound sender id")
	}
}

func TestCheckPolicyDisabled(t *testing.T) {
	c := NewBaseChannel("test", bus.NewMessageBus(1), nil)
	if c.CheckPolicy("direct", "disabled", "open", "someone") {
		t.Fatal("disabled DM policy must reject")
	}
}

func TestCheckPolicyAllowlistGroup(t *testing.T) {
	c := NewBaseChannel("test", bus.NewMessageBus(1), []string{"42"})
	if !c.CheckPolicy("group", "open", "allowlist", "42") {
		t.Fatal("allowlisted group sender should be accepted")
	}
	if c.CheckPolicy("group", "open", "allowlist", "99") {
		t.Fatal("non-allowlisted group sender should be rejected")
	}
}

func TestCheckPolicyDefaultOpen(t *testing.T) {
	c := NewBaseChannel("test", bus.NewMessageBus(1), nil)
	if !c.CheckPolicy("direct", "", "", "anyone") {
		t.Fatal("empty policy must default to open")
	}
}

func TestHandleMessagePublishesInboundAndDerivesUserID(t *testing.T) {
	b := bus.NewMessageBus(1)
	c := NewBaseChannel("telegram", b, nil)

	c.HandleMessage("123456|alice", "chat-1", "hello", nil, map[string]string{"k": "v"}, "direct")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	msg, ok := b.ConsumeInbound(ctx)
	if !ok {
		t.Fatal("expected a published inbound message")
	}
	if msg.UserID != "123456" {
		t.Fatalf("expected derived user id 123456, got %q", msg.UserID)
	}
	if msg.SenderID != "123456|alice" {
		t.Fatalf("sender id should be preserved verbatim, got %q", msg.SenderID)
	}
	if msg.ChatID != "chat-1" || msg.Content != "hello" || msg.PeerKind != "direct" {
		t.Fatalf("unexpected message envelope: %+v", msg)
	}
}

func TestHandleMessageRejectedByAllowlistDoesNotPublish(t *testing.T) {
	b := bus.NewMessageBus(1)
	c := NewBaseChannel("telegram", b, []string{"111"})

	c.HandleMessage("999", "chat-1", "hello", nil, nil, "direct")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, ok := b.ConsumeInbound(ctx); ok {
		t.Fatal("message from disallowed sender should not be published")
	}
}

func TestTruncate(t *testing.T) {
	if got := Truncate("short", 10); got != "short" {
		t.Fatalf("short string should be unchanged, got %q", got)
	}
	if got := Truncate("this is a long string", 7); got != "this is..." {
		t.Fatalf("expected truncation with ellipsis, got %q", got)
	}
}
