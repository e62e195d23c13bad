package telegram

import (
	"fmt"
	"log/slog"

	"github.com/mymmrac/telego"

	"github.com/nextlevelbuilder/botserver/internal/channels"
)

// handleMessage normalizes one Telegram message into a bus.InboundMessage
// and publishes it. Non-text payloads collapse to the same bracketed
// content strings the WhatsApp ingress produces ("[Image: caption]",
// "[Audio message]", "[Video message]", "[Document]", "[Location: lat,
// lon]"), extended with contact cards.
func (c *Channel) handleMessage(msg *telego.Message) {
	if isServiceMessage(msg) {
		return
	}

	user := msg.From
	if user == nil {
		return
	}

	chatID := msg.Chat.ID
	chatIDStr := fmt.Sprintf("%d", chatID)
	senderID := fmt.Sprintf("%d", user.ID)
	if user.Username != "" {
		senderID = fmt.Sprintf("%s|%s", senderID, user.Username)
	}
	userID := DeriveUserID(chatID)

	peerKind := "direct"
	if msg.Chat.Type == "group" || msg.Chat.Type == "supergroup" {
		peerKind = "group"
	}

	if !c.CheckPolicy(peerKind, c.config.DMPolicy, c.config.GroupPolicy, senderID) {
		slog.Debug("telegram message rejected by policy", "sender_id", senderID, "peer_kind", peerKind)
		return
	}

	content := normalizeContent(msg)

	slog.Debug("telegram message received",
		"chat_id", chatID, "sender_id", senderID, "peer_kind", peerKind,
		"preview", channels.Truncate(content, 60),
	)

	metadata := map[string]string{"message_id": fmt.Sprintf("%d", msg.MessageID)}
	if user.Username != "" {
		metadata["user_name"] = user.Username
	}
	metadata["derived_user_id"] = userID

	c.startTyping(chatID, chatIDStr)
	c.HandleMessage(senderID, chatIDStr, content, nil, metadata, peerKind)
}

// normalizeContent maps a Telegram message's payload to a single content
// string. Text wins; a photo becomes "[Image: <caption>]"; a bare caption
// is used only when no media, location or contact is present.
func normalizeContent(msg *telego.Message) string {
	switch {
	case msg.Text != "":
		return msg.Text
	case msg.Photo != nil && len(msg.Photo) > 0:
		return fmt.Sprintf("[Image: %s]", msg.Caption)
	case msg.Voice != nil:
		return "[Audio message]"
	case msg.Audio != nil:
		return "[Audio message]"
	case msg.Video != nil:
		return "[Video message]"
	case msg.Document != nil:
		return "[Document]"
	case msg.Location != nil:
		return fmt.Sprintf("[Location: %f, %f]", msg.Location.Latitude, msg.Location.Longitude)
	case msg.Contact != nil:
		return fmt.Sprintf("[Contact: %s %s, %s]", msg.Contact.FirstName, msg.Contact.LastName, msg.Contact.PhoneNumber)
	case msg.Caption != "":
		return msg.Caption
	default:
		return "[empty message]"
	}
}

// isServiceMessage returns true for system messages (member join/leave,
// title changes, pins) that carry no user content.
func isServiceMessage(msg *telego.Message) bool {
	if msg.Text != "" || msg.Caption != "" {
		return false
	}
	if msg.Photo != nil || msg.Audio != nil || msg.Video != nil ||
		msg.Document != nil || msg.Voice != nil || msg.VideoNote != nil ||
		msg.Sticker != nil || msg.Animation != nil || msg.Contact != nil ||
		msg.Location != nil || msg.Venue != nil || msg.Poll != nil {
		return false
	}
	return true
}
