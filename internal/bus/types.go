// Package bus carries inbound channel messages and outbound replies between
// the channel adapters and the bot core, plus the attendant
// notification broadcast that AppState exposes to websocket clients
// when a session's context_data carries assigned_to.
package bus

import "context"

// InboundMessage represents a message received from a channel (Telegram, WhatsApp).
type InboundMessage struct {
	Channel  string            `json:"channel"`
	SenderID string            `json:"sender_id"`
	ChatID   string            `json:"chat_id"`
	UserID   string            `json:"user_id"` // platform user id, used for session keying
	Content  string            `json:"content"`
	Media    []string          `json:"media,omitempty"`
	PeerKind string            `json:"peer_kind,omitempty"` // "direct" or "group"
	Metadata map[string]string `json:"metadata,omitempty"`
}

// OutboundMessage represents a message to be sent to a channel.
type OutboundMessage struct {
	Channel  string            `json:"channel"`
	ChatID   string            `json:"chat_id"`
	Content  string            `json:"content"`
	Media    []MediaAttachment `json:"media,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// MediaAttachment represents a media file to be sent with a message.
type MediaAttachment struct {
	URL         string `json:"url"`
	ContentType string `json:"content_type,omitempty"`
	Caption     string `json:"caption,omitempty"`
}

// AttendantEvent is broadcast to websocket clients when a session is
// assigned to a human attendant
// or when its state otherwise needs live operator visibility.
type AttendantEvent struct {
	Name    string      `json:"name"`
	Payload interface{} `json:"payload,omitempty"`
}

// EventHandler handles a broadcast attendant event.
type EventHandler func(AttendantEvent)

// EventPublisher abstracts attendant-event broadcast + subscription so
// channel adapters and the gateway can depend on an interface rather than
// the concrete MessageBus.
type EventPublisher interface {
	Subscribe(id string, handler EventHandler)
	Unsubscribe(id string)
	Broadcast(event AttendantEvent)
}

// MessageRouter abstracts inbound/outbound message routing between channels
// and the bot core.
type MessageRouter interface {
	PublishInbound(msg InboundMessage)
	ConsumeInbound(ctx context.Context) (InboundMessage, bool)
	PublishOutbound(msg OutboundMessage)
	SubscribeOutbound(ctx context.Context) (OutboundMessage, bool)
}
