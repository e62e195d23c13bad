package bus

import (
	"context"
	"sync"
)

// MessageBus is the process-local pub/sub hub binding channel adapters to
// the bot core: inbound/outbound message queues plus a best-effort
// attendant-event broadcast.
type MessageBus struct {
	inbound  chan InboundMessage
	outbound chan OutboundMessage

	mu          sync.RWMutex
	subscribers map[string]EventHandler
}

// NewMessageBus creates a bus with the given inbound/outbound buffer sizes.
func NewMessageBus(bufSize int) *MessageBus {
	if bufSize <= 0 {
		bufSize = 256
	}
	return &MessageBus{
		inbound:     make(chan InboundMessage, bufSize),
		outbound:    make(chan OutboundMessage, bufSize),
		subscribers: make(map[string]EventHandler),
	}
}

// PublishInbound enqueues a message from a channel adapter. Drops the
// message rather than blocking the adapter's read loop if the queue is
// full — inbound ingress must never stall on a slow core consumer.
func (b *MessageBus) PublishInbound(msg InboundMessage) {
	select {
	case b.inbound <- msg:
	default:
	}
}

// ConsumeInbound blocks until a message is available or ctx is done.
func (b *MessageBus) ConsumeInbound(ctx context.Context) (InboundMessage, bool) {
	select {
	case msg := <-b.inbound:
		return msg, true
	case <-ctx.Done():
		return InboundMessage{}, false
	}
}

// PublishOutbound enqueues a reply for channel adapters to deliver.
func (b *MessageBus) PublishOutbound(msg OutboundMessage) {
	select {
	case b.outbound <- msg:
	default:
	}
}

// SubscribeOutbound blocks until a reply is available or ctx is done.
func (b *MessageBus) SubscribeOutbound(ctx context.Context) (OutboundMessage, bool) {
	select {
	case msg := <-b.outbound:
		return msg, true
	case <-ctx.Done():
		return OutboundMessage{}, false
	}
}

// Subscribe registers a handler for attendant-event broadcasts under id
// (typically a websocket client id).
func (b *MessageBus) Subscribe(id string, handler EventHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[id] = handler
}

// Unsubscribe removes a previously registered handler.
func (b *MessageBus) Unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subscribers, id)
}

// Broadcast fans an event out to every subscriber. Best-effort: a handler
// that blocks only blocks this call, it never blocks
// PublishInbound/Outbound.
func (b *MessageBus) Broadcast(event AttendantEvent) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, handler := range b.subscribers {
		handler(event)
	}
}
