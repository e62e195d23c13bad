package appstate

import (
	"context"
	"log/slog"

	"github.com/nextlevelbuilder/botserver/internal/anonsession"
	"github.com/nextlevelbuilder/botserver/internal/bus"
)

// BotResponder produces the bot's reply for one inbound message. The LLM
// layer implements it; the router only moves messages. A nil responder
// means inbound messages are recorded but never answered (attendant-only
// deployments).
type BotResponder interface {
	Respond(ctx context.Context, session *anonsession.Session, msg bus.InboundMessage) (string, error)
}

// MessageRouter drains the bus's inbound queue: each message lands in the
// sender's anonymous session, sessions assigned to a human attendant are
// broadcast instead of answered, and everything else goes through the
// responder with the reply published back on the outbound queue.
type MessageRouter struct {
	Bus       *bus.MessageBus
	Sessions  *anonsession.Store
	Responder BotResponder
	Logger    *slog.Logger
}

// Run consumes inbound messages until ctx is cancelled.
func (r *MessageRouter) Run(ctx context.Context) {
	for {
		msg, ok := r.Bus.ConsumeInbound(ctx)
		if !ok {
			return
		}
		r.handle(ctx, msg)
	}
}

func (r *MessageRouter) handle(ctx context.Context, msg bus.InboundMessage) {
	fingerprint := msg.Channel + ":" + msg.UserID
	sess, err := r.Sessions.GetOrCreateByFingerprint(fingerprint, "", "")
	if err != nil {
		r.logWarn("router: session unavailable", "channel", msg.Channel, "user_id", msg.UserID, "error", err)
		return
	}

	if _, err := r.Sessions.AddMessage(sess.ID, anonsession.RoleUser, msg.Content, msg.Metadata); err != nil {
		r.logWarn("router: message rejected", "session_id", sess.ID, "error", err)
		return
	}

	// A session claimed by a human attendant bypasses the bot entirely;
	// the operator sees the message over the attendant websocket and
	// answers through their own surface.
	if assignee, ok := r.Sessions.MetadataValue(sess.ID, "assigned_to"); ok && assignee != "" {
		r.Bus.Broadcast(bus.AttendantEvent{
			Name: "attendant.message",
			Payload: map[string]string{
				"session_id":  sess.ID,
				"assigned_to": assignee,
				"channel":     msg.Channel,
				"chat_id":     msg.ChatID,
				"content":     msg.Content,
			},
		})
		return
	}

	if r.Responder == nil {
		return
	}
	reply, err := r.Responder.Respond(ctx, sess, msg)
	if err != nil {
		r.logWarn("router: responder failed", "session_id", sess.ID, "error", err)
		return
	}
	if reply == "" {
		return
	}
	if _, err := r.Sessions.AddMessage(sess.ID, anonsession.RoleAssistant, reply, nil); err != nil {
		r.logWarn("router: could not record reply", "session_id", sess.ID, "error", err)
	}
	r.Bus.PublishOutbound(bus.OutboundMessage{
		Channel: msg.Channel,
		ChatID:  msg.ChatID,
		Content: reply,
	})
}

func (r *MessageRouter) logWarn(msg string, args ...any) {
	if r.Logger != nil {
		r.Logger.Warn(msg, args...)
	}
}
