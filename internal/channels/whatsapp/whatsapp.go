// Package whatsapp implements the WhatsApp half of the channel ingress
// gateway: Meta Cloud API webhook verification
// (hub_mode/hub_verify_token/hub_challenge), inbound message normalization,
// and outbound delivery via the Graph API.
package whatsapp

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nextlevelbuilder/botserver/internal/bus"
	"github.com/nextlevelbuilder/botserver/internal/channels"
	"github.com/nextlevelbuilder/botserver/internal/channels/typing"
	"github.com/nextlevelbuilder/botserver/internal/config"
)

const graphAPIBase = "https://graph.facebook.com/v19.0"

// Channel is the WhatsApp Cloud API webhook ingress. Unlike Telegram it has
// no background polling loop: Start/Stop only flip the running flag, and
// Routes() mounts the verify/receive handlers onto the shared HTTP router
// at /webhook/whatsapp.
type Channel struct {
	*channels.BaseChannel
	config      config.WhatsAppConfig
	httpClient  *http.Client
	rateLimit   *channels.WebhookRateLimiter
	typingCtrls sync.Map // sender id -> *typing.Controller
}

// New creates a new WhatsApp channel from config.
func New(cfg config.WhatsAppConfig, msgBus *bus.MessageBus) (*Channel, error) {
	if cfg.PhoneNumberID == "" {
		return nil, fmt.Errorf("whatsapp phone_number_id is required")
	}

	base := channels.NewBaseChannel("whatsapp", msgBus, cfg.AllowFrom)
	return &Channel{
		BaseChannel: base,
		config:      cfg,
		httpClient:  &http.Client{},
		rateLimit:   channels.NewWebhookRateLimiter(),
	}, nil
}

// Start marks the channel running; webhook delivery is driven by the
// gateway's HTTP router, not a background loop.
func (c *Channel) Start(_ context.Context) error {
	c.SetRunning(true)
	slog.Info("whatsapp webhook channel ready", "phone_number_id", c.config.PhoneNumberID)
	return nil
}

// Stop marks the channel stopped.
func (c *Channel) Stop(_ context.Context) error {
	c.SetRunning(false)
	return nil
}

// Routes mounts the Meta webhook verify (GET) and receive (POST) handlers.
func (c *Channel) Routes(r chi.Router) {
	r.Get("/webhook/whatsapp", c.handleVerify)
	r.Post("/webhook/whatsapp", c.handleReceive)
}

// handleVerify answers Meta's subscription challenge
// (hub.mode, hub.verify_token, hub.challenge).
func (c *Channel) handleVerify(w http.ResponseWriter, r *http.Request) {
	mode := r.URL.Query().Get("hub.mode")
	token := r.URL.Query().Get("hub.verify_token")
	challenge := r.URL.Query().Get("hub.challenge")

	if mode != "subscribe" || token != c.config.VerifyToken {
		w.WriteHeader(http.StatusForbidden)
		return
	}

	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(challenge))
}

// handleReceive parses an inbound webhook delivery and publishes each
// message it carries as a bus.InboundMessage.
func (c *Channel) handleReceive(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	if c.config.AppSecret != "" && !validSignature(body, r.Header.Get("X-Hub-Signature-256"), c.config.AppSecret) {
		slog.Warn("whatsapp webhook signature mismatch")
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	// Acknowledge immediately per Meta's webhook contract; Meta retries on
	// non-2xx, so malformed payloads still get a 200 once signature checks out.
	w.WriteHeader(http.StatusOK)

	var payload webhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		slog.Warn("invalid whatsapp webhook payload", "error", err)
		return
	}

	for _, entry := range payload.Entry {
		for _, change := range entry.Changes {
			for _, msg := range change.Value.Messages {
				c.handleIncomingMessage(msg)
			}
		}
	}
}

func (c *Channel) handleIncomingMessage(msg waMessage) {
	senderID := msg.From
	if senderID == "" {
		return
	}

	if !c.rateLimit.Allow(senderID) {
		slog.Warn("whatsapp sender rate limited", "sender_id", senderID)
		return
	}

	if !c.CheckPolicy("direct", c.config.DMPolicy, c.config.GroupPolicy, senderID) {
		slog.Debug("whatsapp message rejected by policy", "sender_id", senderID)
		return
	}

	content := normalizeContent(msg)
	metadata := map[string]string{"message_id": msg.ID}

	slog.Debug("whatsapp message received", "sender_id", senderID, "preview", channels.Truncate(content, 60))

	c.startTyping(senderID, msg.ID)
	c.HandleMessage(senderID, senderID, content, nil, metadata, "direct")
}

// startTyping shows the typing indicator to the sender while a reply is in
// flight; Send stops it. The Cloud API dismisses the indicator after ~25s,
// so keepalive every 20s, capped at 60s for a dropped reply.
func (c *Channel) startTyping(senderID, messageID string) {
	ctrl := typing.New(typing.Options{
		MaxDuration:       60 * time.Second,
		KeepaliveInterval: 20 * time.Second,
		StartFn:           func() error { return c.sendTypingIndicator(messageID) },
	})
	if prev, ok := c.typingCtrls.Swap(senderID, ctrl); ok {
		prev.(*typing.Controller).Stop()
	}
	ctrl.Start()
}

func (c *Channel) stopTyping(senderID string) {
	if prev, ok := c.typingCtrls.LoadAndDelete(senderID); ok {
		prev.(*typing.Controller).Stop()
	}
}

// sendTypingIndicator marks the inbound message read and shows the typing
// indicator, the Cloud API's combined contract for both.
func (c *Channel) sendTypingIndicator(messageID string) error {
	payload := map[string]any{
		"messaging_product": "whatsapp",
		"status":            "read",
		"message_id":        messageID,
		"typing_indicator":  map[string]string{"type": "text"},
	}
	return c.postMessages(context.Background(), payload)
}

// normalizeContent maps a Cloud API message type to a content string:
// "[Image: caption]", "[Audio message]", "[Video message]", "[Document]",
// "[Location: lat, lon]".
func normalizeContent(msg waMessage) string {
	switch msg.Type {
	case "text":
		return msg.Text.Body
	case "image":
		return fmt.Sprintf("[Image: %s]", msg.Image.Caption)
	case "audio":
		return "[Audio message]"
	case "video":
		return "[Video message]"
	case "document":
		return "[Document]"
	case "location":
		return fmt.Sprintf("[Location: %f, %f]", msg.Location.Latitude, msg.Location.Longitude)
	default:
		return "[empty message]"
	}
}

// Send delivers an outbound message via the Graph API.
func (c *Channel) Send(ctx context.Context, msg bus.OutboundMessage) error {
	c.stopTyping(msg.ChatID)

	return c.postMessages(ctx, map[string]any{
		"messaging_product": "whatsapp",
		"to":                msg.ChatID,
		"type":              "text",
		"text":              map[string]string{"body": msg.Content},
	})
}

// postMessages POSTs one payload to the phone number's /messages endpoint.
func (c *Channel) postMessages(ctx context.Context, payload map[string]any) error {
	url := fmt.Sprintf("%s/%s/messages", graphAPIBase, c.config.PhoneNumberID)

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal whatsapp message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, strings.NewReader(string(data)))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.config.AccessToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send whatsapp message: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("whatsapp send failed: status %d", resp.StatusCode)
	}
	return nil
}

// validSignature checks the X-Hub-Signature-256 header against an
// HMAC-SHA256 of the raw body keyed by the app secret.
func validSignature(body []byte, header, appSecret string) bool {
	const prefix = "sha256="
	if !strings.HasPrefix(header, prefix) {
		return false
	}
	expected := hmac.New(sha256.New, []byte(appSecret))
	expected.Write(body)
	want := hex.EncodeToString(expected.Sum(nil))
	got := strings.TrimPrefix(header, prefix)
	return hmac.Equal([]byte(want), []byte(got))
}

// webhookPayload mirrors the Meta Cloud API webhook envelope shape.
type webhookPayload struct {
	Object string      `json:"object"`
	Entry  []waEntry   `json:"entry"`
}

type waEntry struct {
	ID      string     `json:"id"`
	Changes []waChange `json:"changes"`
}

type waChange struct {
	Value waValue `json:"value"`
	Field string  `json:"field"`
}

type waValue struct {
	MessagingProduct string      `json:"messaging_product"`
	Messages         []waMessage `json:"messages"`
}

type waMessage struct {
	From string `json:"from"`
	ID   string `json:"id"`
	Type string `json:"type"`
	Text struct {
		Body string `json:"body"`
	} `json:"text"`
	Image struct {
		Caption string `json:"caption"`
	} `json:"image"`
	Location struct {
		Latitude  float64 `json:"latitude"`
		Longitude float64 `json:"longitude"`
	} `json:"location"`
}
