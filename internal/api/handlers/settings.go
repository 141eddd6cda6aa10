package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/textdesk/textdesk/internal/store"
	"github.com/textdesk/textdesk/pkg/logging"
)

// SettingsStore reads and writes the operator configuration.
type SettingsStore interface {
	Snapshot(ctx context.Context) (store.Settings, error)
	Save(ctx context.Context, s store.Settings) error
}

// SettingsHandler exposes the assistant configuration over HTTP.
type SettingsHandler struct {
	settings SettingsStore
	logger   *logging.Logger
}

// NewSettingsHandler creates the settings API handler.
func NewSettingsHandler(settings SettingsStore, logger *logging.Logger) *SettingsHandler {
	if settings == nil {
		panic("handlers: settings store cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &SettingsHandler{settings: settings, logger: logger}
}

// Routes returns a chi router with the settings endpoints.
func (h *SettingsHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.Get)
	r.Put("/", h.Update)
	return r
}

type settingsPayload struct {
	AutoReplyEnabled    bool   `json:"auto_reply_enabled"`
	BusinessHoursStart  int    `json:"business_hours_start"`
	BusinessHoursEnd    int    `json:"business_hours_end"`
	NotifyBeforeRespond bool   `json:"notify_before_respond"`
	CustomInstructions  string `json:"custom_instructions"`
}

// Get returns the current settings snapshot.
// GET /api/settings
func (h *SettingsHandler) Get(w http.ResponseWriter, r *http.Request) {
	s, err := h.settings.Snapshot(r.Context())
	if err != nil {
		h.logger.Error("failed to load settings", "error", err)
		http.Error(w, `{"error": "internal server error"}`, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, settingsPayload{
		AutoReplyEnabled:    s.AutoReplyEnabled,
		BusinessHoursStart:  s.BusinessHoursStart,
		BusinessHoursEnd:    s.BusinessHoursEnd,
		NotifyBeforeRespond: s.NotifyBeforeRespond,
		CustomInstructions:  s.CustomInstructions,
	})
}

// Update replaces the settings snapshot.
// PUT /api/settings
func (h *SettingsHandler) Update(w http.ResponseWriter, r *http.Request) {
	var req settingsPayload
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error": "invalid JSON body"}`, http.StatusBadRequest)
		return
	}
	if req.BusinessHoursStart < 0 || req.BusinessHoursStart > 23 ||
		req.BusinessHoursEnd < 0 || req.BusinessHoursEnd > 23 {
		http.Error(w, `{"error": "business hours must be between 0 and 23"}`, http.StatusBadRequest)
		return
	}

	err := h.settings.Save(r.Context(), store.Settings{
		AutoReplyEnabled:    req.AutoReplyEnabled,
		BusinessHoursStart:  req.BusinessHoursStart,
		BusinessHoursEnd:    req.BusinessHoursEnd,
		NotifyBeforeRespond: req.NotifyBeforeRespond,
		CustomInstructions:  req.CustomInstructions,
	})
	if err != nil {
		h.logger.Error("failed to save settings", "error", err)
		http.Error(w, `{"error": "failed to save settings"}`, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, req)
}
