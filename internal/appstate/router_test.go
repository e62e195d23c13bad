package appstate

import (
	"context"
	"testing"
	"time"

	"github.com/nextlevelbuilder/botserver/internal/anonsession"
	"github.com/nextlevelbuilder/botserver/internal/bus"
)

type staticResponder struct{ reply string }

func (s staticResponder) Respond(ctx context.Context, sess *anonsession.Session, msg bus.InboundMessage) (string, error) {
	return s.reply, nil
}

func newRouterFixture(responder BotResponder) (*MessageRouter, *bus.MessageBus, *anonsession.Store) {
	b := bus.NewMessageBus(8)
	store := anonsession.NewStore(anonsession.Config{
		TTL:                   time.Minute,
		MaxMessagesPerSession: 10,
		UpgradeEnabled:        true,
	})
	return &MessageRouter{Bus: b, Sessions: store, Responder: responder}, b, store
}

func TestRouterRecordsMessageAndPublishesReply(t *testing.T) {
	r, b, store := newRouterFixture(staticResponder{reply: "hello back"})

	r.handle(context.Background(), bus.InboundMessage{
		Channel: "telegram",
		UserID:  "u1",
		ChatID:  "chat-1",
		Content: "hello",
	})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	out, ok := b.SubscribeOutbound(ctx)
	if !ok {
		t.Fatal("expected an outbound reply")
	}
	if out.Channel != "telegram" || out.ChatID != "chat-1" || out.Content != "hello back" {
		t.Fatalf("unexpected outbound message: %+v", out)
	}

	sess, err := store.GetOrCreateByFingerprint("telegram:u1", "", "")
	if err != nil {
		t.Fatal(err)
	}
	msgs := store.Messages(sess.ID)
	if len(msgs) != 2 {
		t.Fatalf("expected user + assistant messages, got %d", len(msgs))
	}
	if msgs[0].Role != anonsession.RoleUser || msgs[1].Role != anonsession.RoleAssistant {
		t.Fatalf("unexpected roles: %v, %v", msgs[0].Role, msgs[1].Role)
	}
}

func TestRouterReusesSessionForRepeatSender(t *testing.T) {
	r, _, store := newRouterFixture(nil)

	r.handle(context.Background(), bus.InboundMessage{Channel: "whatsapp", UserID: "551199", ChatID: "551199", Content: "first"})
	r.handle(context.Background(), bus.InboundMessage{Channel: "whatsapp", UserID: "551199", ChatID: "551199", Content: "second"})

	sess, err := store.GetOrCreateByFingerprint("whatsapp:551199", "", "")
	if err != nil {
		t.Fatal(err)
	}
	if got := len(store.Messages(sess.ID)); got != 2 {
		t.Fatalf("expected both messages in one session, got %d", got)
	}
}

func TestRouterRoutesAssignedSessionToAttendant(t *testing.T) {
	r, b, store := newRouterFixture(staticResponder{reply: "bot reply"})

	sess, err := store.GetOrCreateByFingerprint("telegram:u2", "", "")
	if err != nil {
		t.Fatal(err)
	}
	if err := store.SetMetadata(sess.ID, "assigned_to", "operator-7"); err != nil {
		t.Fatal(err)
	}

	events := make(chan bus.AttendantEvent, 1)
	b.Subscribe("test", func(ev bus.AttendantEvent) { events <- ev })

	r.handle(context.Background(), bus.InboundMessage{Channel: "telegram", UserID: "u2", ChatID: "chat-2", Content: "help"})

	select {
	case ev := <-events:
		if ev.Name != "attendant.message" {
			t.Fatalf("unexpected event name %q", ev.Name)
		}
	default:
		t.Fatal("expected an attendant broadcast")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, ok := b.SubscribeOutbound(ctx); ok {
		t.Fatal("assigned session must not get a bot reply")
	}
}
