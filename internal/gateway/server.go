// Package gateway mounts the channel ingress, automation webhook, and
// attendant-notification websocket endpoints onto a single chi.Router,
// with the quota middleware wrapping the whole chain.
package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/gorilla/websocket"

	"github.com/nextlevelbuilder/botserver/internal/appstate"
	"github.com/nextlevelbuilder/botserver/internal/bus"
	"github.com/nextlevelbuilder/botserver/internal/channels/telegram"
	"github.com/nextlevelbuilder/botserver/internal/channels/whatsapp"
	"github.com/nextlevelbuilder/botserver/internal/config"
	"github.com/nextlevelbuilder/botserver/internal/scheduler"
	"github.com/nextlevelbuilder/botserver/internal/telemetry"
	"github.com/nextlevelbuilder/botserver/internal/tlsconfig"
	"github.com/nextlevelbuilder/botserver/pkg/protocol"
)

// Server is the gateway's HTTP/websocket surface: channel webhooks,
// automation webhooks, the attendant-notification websocket, and /health,
// all behind the quota middleware.
type Server struct {
	cfg      *config.Config
	eventPub bus.EventPublisher
	webhooks *scheduler.WebhookHandler
	whatsapp *whatsapp.Channel
	telegram *telegram.Channel

	upgrader websocket.Upgrader
	clients  map[string]*wsClient
	mu       sync.RWMutex

	router     chi.Router
	tlsMgr     *tlsconfig.Manager
	httpServer *http.Server
}

// NewServer builds a gateway Server from a fully-booted AppState. Channel
// adapters are optional (nil skips mounting their routes): a deployment
// may run only one of Telegram/WhatsApp, or neither if it's core-only.
func NewServer(as *appstate.AppState, webhooks *scheduler.WebhookHandler, wa *whatsapp.Channel, tg *telegram.Channel) *Server {
	s := &Server{
		cfg:      as.Config,
		eventPub: as.Bus,
		webhooks: webhooks,
		whatsapp: wa,
		telegram: tg,
		clients:  make(map[string]*wsClient),
		tlsMgr:   as.TLS.Manager("api"),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkOrigin,
	}
	s.router = s.buildRouter(as.QuotaMW.Handler)
	return s
}

// checkOrigin validates a websocket handshake's Origin header against the
// configured allowlist; an empty allowlist or empty header (non-browser
// clients) is always accepted.
func (s *Server) checkOrigin(r *http.Request) bool {
	allowed := s.cfg.Gateway.AllowedOrigins
	if len(allowed) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, a := range allowed {
		if origin == a || a == "*" {
			return true
		}
	}
	slog.Warn("gateway.cors_rejected", "origin", origin)
	return false
}

func (s *Server) buildRouter(quotaMW func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(telemetry.Middleware("gateway"))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.cfg.Gateway.AllowedOrigins,
		AllowedMethods: []string{"GET", "POST"},
	}))
	r.Use(quotaMW)

	r.Get("/health", s.handleHealth)
	r.Get("/attendant/ws", s.handleWebSocket)

	if s.webhooks != nil {
		s.webhooks.Routes(r)
	}
	if s.whatsapp != nil {
		s.whatsapp.Routes(r)
	}
	// Telegram has no inbound HTTP surface: it long-polls the Bot API
	// (see internal/channels/telegram/channel.go), so nothing to mount here.

	return r
}

// Router exposes the chi router for tests.
func (s *Server) Router() chi.Router { return s.router }

// Start runs the HTTP server until ctx is cancelled, then shuts it down
// with a bounded grace period.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Gateway.Host, s.cfg.Gateway.Port)
	s.httpServer = &http.Server{Addr: addr, Handler: s.router}

	slog.Info("gateway starting", "addr", addr)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.httpServer.Shutdown(shutdownCtx)
	}()

	var err error
	if s.tlsMgr != nil {
		s.httpServer.TLSConfig = s.tlsMgr.ServerConfig()
		// Cert/key paths are already baked into TLSConfig by the manager.
		err = s.httpServer.ListenAndServeTLS("", "")
	} else {
		err = s.httpServer.ListenAndServe()
	}
	if err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("gateway server: %w", err)
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `{"status":"ok","protocol":%d}`, protocol.ProtocolVersion)
}

// handleWebSocket upgrades to a websocket and streams attendant-event
// broadcasts to the connected operator until the connection closes.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("gateway websocket upgrade failed", "error", err)
		return
	}

	c := newWSClient(conn)
	s.registerClient(c)
	defer s.unregisterClient(c)

	c.run(r.Context())
}

func (s *Server) registerClient(c *wsClient) {
	s.mu.Lock()
	s.clients[c.id] = c
	s.mu.Unlock()

	s.eventPub.Subscribe(c.id, func(event bus.AttendantEvent) {
		if strings.HasPrefix(event.Name, "cache.") {
			return
		}
		c.sendEvent(protocol.EventFrame{Name: event.Name, Payload: event.Payload})
	})
	slog.Info("attendant client connected", "id", c.id)
}

func (s *Server) unregisterClient(c *wsClient) {
	s.mu.Lock()
	delete(s.clients, c.id)
	s.mu.Unlock()

	s.eventPub.Unsubscribe(c.id)
	c.close()
	slog.Info("attendant client disconnected", "id", c.id)
}
