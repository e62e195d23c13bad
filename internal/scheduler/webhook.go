package scheduler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
)

// WebhookHandler dispatches inbound webhook calls to the registered
// automation's script, keyed by automation id in the URL path.
type WebhookHandler struct {
	coordinator *Coordinator
	logger      *slog.Logger
}

func NewWebhookHandler(c *Coordinator, logger *slog.Logger) *WebhookHandler {
	return &WebhookHandler{coordinator: c, logger: logger}
}

// Routes mounts the webhook dispatch route under a chi router.
func (h *WebhookHandler) Routes(r chi.Router) {
	r.Post("/automations/webhook/{id}", h.dispatch)
}

func (h *WebhookHandler) dispatch(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	a, ok := h.coordinator.Snapshot(id)
	if !ok || a.Kind != TriggerWebhook {
		http.Error(w, "unknown webhook automation", http.StatusNotFound)
		return
	}

	h.coordinator.mu.Lock()
	live, exists := h.coordinator.automations[id]
	if !exists || live.Running {
		h.coordinator.mu.Unlock()
		if exists {
			w.WriteHeader(http.StatusAccepted)
			return
		}
		http.Error(w, "unknown webhook automation", http.StatusNotFound)
		return
	}
	live.Running = true
	h.coordinator.mu.Unlock()

	ctx := r.Context()
	err := h.coordinator.runner.RunScript(ctx, a.BotID, a.Param)

	h.coordinator.mu.Lock()
	live.Running = false
	if err != nil {
		live.LastError = err.Error()
	} else {
		live.LastError = ""
	}
	h.coordinator.mu.Unlock()

	if err != nil {
		if h.logger != nil {
			h.logger.Warn("webhook automation failed", "id", id, "error", err)
		}
		http.Error(w, "automation failed", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusOK)
}
