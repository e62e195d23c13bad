package cmd

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/botserver/internal/appstate"
	"github.com/nextlevelbuilder/botserver/internal/bus"
	"github.com/nextlevelbuilder/botserver/internal/channels"
	"github.com/nextlevelbuilder/botserver/internal/channels/telegram"
	"github.com/nextlevelbuilder/botserver/internal/channels/whatsapp"
	"github.com/nextlevelbuilder/botserver/internal/config"
	"github.com/nextlevelbuilder/botserver/internal/gateway"
	"github.com/nextlevelbuilder/botserver/internal/scheduler"
	"github.com/nextlevelbuilder/botserver/internal/telemetry"
)

// serveCmd boots the full AppState and mounts the gateway's HTTP
// surface — channel ingress, automation webhooks, and the attendant
// websocket — running until SIGINT/SIGTERM.
func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the gateway: boot every subsystem and serve HTTP",
		RunE:  runServe,
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		return err
	}

	logLevel := slog.LevelInfo
	if verbose {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Telemetry.Enabled {
		shutdown, err := telemetry.Setup(ctx, cfg.Telemetry)
		if err != nil {
			return err
		}
		defer func() {
			flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdown(flushCtx); err != nil {
				logger.Warn("telemetry shutdown failed", "error", err)
			}
		}()
	}

	as, err := appstate.Boot(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer as.Shutdown()

	var wa *whatsapp.Channel
	if cfg.Channels.WhatsApp.Enabled {
		wa, err = whatsapp.New(cfg.Channels.WhatsApp, as.Bus)
		if err != nil {
			return err
		}
		if err := wa.Start(ctx); err != nil {
			return err
		}
	}

	var tg *telegram.Channel
	if cfg.Channels.Telegram.Enabled {
		tg, err = telegram.New(cfg.Channels.Telegram, as.Bus)
		if err != nil {
			return err
		}
		if err := tg.Start(ctx); err != nil {
			return err
		}
	}

	router := &appstate.MessageRouter{Bus: as.Bus, Sessions: as.Sessions, Logger: logger}
	go router.Run(ctx)
	go deliverOutbound(ctx, as.Bus, wa, tg, logger)

	webhooks := scheduler.NewWebhookHandler(as.Scheduler, logger)
	srv := gateway.NewServer(as, webhooks, wa, tg)
	return srv.Start(ctx)
}

// deliverOutbound drains the outbound queue and hands each reply to the
// adapter for its channel. A nil adapter (channel not enabled) drops the
// message with a warning.
func deliverOutbound(ctx context.Context, b *bus.MessageBus, wa *whatsapp.Channel, tg *telegram.Channel, logger *slog.Logger) {
	adapters := map[string]channels.Channel{}
	if wa != nil {
		adapters["whatsapp"] = wa
	}
	if tg != nil {
		adapters["telegram"] = tg
	}

	for {
		msg, ok := b.SubscribeOutbound(ctx)
		if !ok {
			return
		}
		adapter, found := adapters[msg.Channel]
		if !found {
			logger.Warn("outbound message for unmounted channel dropped", "channel", msg.Channel, "chat_id", msg.ChatID)
			continue
		}
		if err := adapter.Send(ctx, msg); err != nil {
			logger.Warn("outbound delivery failed", "channel", msg.Channel, "chat_id", msg.ChatID, "error", err)
		}
	}
}
