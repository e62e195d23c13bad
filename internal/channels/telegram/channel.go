// Package telegram implements the Telegram half of the channel ingress
// gateway: long-polls the Bot API, normalizes updates into
// bus.InboundMessage envelopes, and derives a stable per-chat user id via
// uuid_v5 so repeat chats resolve to the same session.
package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mymmrac/telego"

	"github.com/nextlevelbuilder/botserver/internal/bus"
	"github.com/nextlevelbuilder/botserver/internal/channels"
	"github.com/nextlevelbuilder/botserver/internal/channels/typing"
	"github.com/nextlevelbuilder/botserver/internal/config"
)

// OIDNamespace is the fixed UUID namespace for uuid_v5("telegram:" +
// chat_id) user id derivation.
var OIDNamespace = uuid.NameSpaceOID

// DeriveUserID returns the deterministic per-chat user id used to keep a
// repeat Telegram chat bound to the same session across restarts.
func DeriveUserID(chatID int64) string {
	return uuid.NewSHA1(OIDNamespace, []byte(fmt.Sprintf("telegram:%d", chatID))).String()
}

// Channel connects to Telegram via the Bot API using long polling.
type Channel struct {
	*channels.BaseChannel
	bot            *telego.Bot
	config         config.TelegramConfig
	requireMention bool
	pollCancel     context.CancelFunc
	pollDone       chan struct{}
	typingCtrls    sync.Map // chat id -> *typing.Controller
}

// New creates a new Telegram channel from config.
func New(cfg config.TelegramConfig, msgBus *bus.MessageBus) (*Channel, error) {
	var opts []telego.BotOption

	if cfg.Proxy != "" {
		proxyURL, err := url.Parse(cfg.Proxy)
		if err != nil {
			return nil, fmt.Errorf("invalid proxy URL %q: %w", cfg.Proxy, err)
		}
		opts = append(opts, telego.WithHTTPClient(&http.Client{
			Transport: &http.Transport{Proxy: http.ProxyURL(proxyURL)},
		}))
	}

	bot, err := telego.NewBot(cfg.Token, opts...)
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}

	base := channels.NewBaseChannel("telegram", msgBus, cfg.AllowFrom)

	requireMention := true
	if cfg.RequireMention != nil {
		requireMention = *cfg.RequireMention
	}

	return &Channel{
		BaseChannel:    base,
		bot:            bot,
		config:         cfg,
		requireMention: requireMention,
	}, nil
}

// Start begins long polling for Telegram updates.
func (c *Channel) Start(ctx context.Context) error {
	slog.Info("starting telegram bot (polling mode)")

	pollCtx, cancel := context.WithCancel(ctx)
	c.pollCancel = cancel
	c.pollDone = make(chan struct{})

	updates, err := c.bot.UpdatesViaLongPolling(pollCtx, &telego.GetUpdatesParams{
		Timeout:        30,
		AllowedUpdates: []string{"message"},
	})
	if err != nil {
		cancel()
		return fmt.Errorf("start long polling: %w", err)
	}

	c.SetRunning(true)
	slog.Info("telegram bot connected", "username", c.bot.Username())

	go func() {
		defer close(c.pollDone)
		for {
			select {
			case <-pollCtx.Done():
				return
			case update, ok := <-updates:
				if !ok {
					slog.Info("telegram updates channel closed")
					return
				}
				if update.Message != nil {
					c.handleMessage(update.Message)
				}
			}
		}
	}()

	return nil
}

// Stop shuts down the Telegram bot by cancelling the long polling context
// and waiting for the polling goroutine to exit.
func (c *Channel) Stop(_ context.Context) error {
	slog.Info("stopping telegram bot")
	c.SetRunning(false)

	if c.pollCancel != nil {
		c.pollCancel()
	}

	if c.pollDone != nil {
		select {
		case <-c.pollDone:
			slog.Info("telegram bot stopped")
		case <-time.After(10 * time.Second):
			slog.Warn("telegram polling goroutine did not exit within timeout")
		}
	}

	return nil
}

// startTyping begins the keepalive "typing..." indicator for a chat while
// a reply is in flight; Send stops it. Telegram's typing action expires
// after 5s, so keepalive every 4s; MaxDuration caps a dropped reply at 60s.
func (c *Channel) startTyping(chatID int64, key string) {
	ctrl := typing.New(typing.Options{
		MaxDuration:       60 * time.Second,
		KeepaliveInterval: 4 * time.Second,
		StartFn: func() error {
			return c.bot.SendChatAction(context.Background(), &telego.SendChatActionParams{
				ChatID: telego.ChatID{ID: chatID},
				Action: telego.ChatActionTyping,
			})
		},
	})
	if prev, ok := c.typingCtrls.Swap(key, ctrl); ok {
		prev.(*typing.Controller).Stop()
	}
	ctrl.Start()
}

func (c *Channel) stopTyping(key string) {
	if prev, ok := c.typingCtrls.LoadAndDelete(key); ok {
		prev.(*typing.Controller).Stop()
	}
}

// Send delivers an outbound message to a Telegram chat.
func (c *Channel) Send(ctx context.Context, msg bus.OutboundMessage) error {
	c.stopTyping(msg.ChatID)

	var chatID int64
	if _, err := fmt.Sscanf(msg.ChatID, "%d", &chatID); err != nil {
		return fmt.Errorf("invalid telegram chat id %q: %w", msg.ChatID, err)
	}

	_, err := c.bot.SendMessage(ctx, &telego.SendMessageParams{
		ChatID: telego.ChatID{ID: chatID},
		Text:   msg.Content,
	})
	return err
}
