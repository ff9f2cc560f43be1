package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/mohammednour-ai/MatEx-sub001/internal/domain"
)

// SettingsService reads and writes the flat settings.
type SettingsService interface {
	Entries(ctx context.Context) ([]domain.SettingEntry, error)
	Set(ctx context.Context, key, value, updatedBy string) error
}

// SettingsHandler serves the operator settings endpoints.
type SettingsHandler struct {
	settings SettingsService
	logger   *slog.Logger
}

// NewSettingsHandler creates a SettingsHandler.
func NewSettingsHandler(settings SettingsService, logger *slog.Logger) *SettingsHandler {
	return &SettingsHandler{settings: settings, logger: logHandler(logger, "settings")}
}

type listSettingsResponse struct {
	Settings []domain.SettingEntry `json:"settings"`
}

// ListSettings returns the effective value of every setting.
// GET /api/settings
func (h *SettingsHandler) ListSettings(w http.ResponseWriter, r *http.Request) {
	entries, err := h.settings.Entries(r.Context())
	if err != nil {
		writeDomainError(w, r, h.logger, "list settings", err)
		return
	}
	writeJSON(w, http.StatusOK, listSettingsResponse{Settings: entries})
}

type putSettingRequest struct {
	Value     string `json:"value"`
	UpdatedBy string `json:"updated_by,omitempty"`
}

// PutSetting validates and stores one setting.
// PUT /api/settings/{key}
func (h *SettingsHandler) PutSetting(w http.ResponseWriter, r *http.Request) {
	var body putSettingRequest
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	key := pathParam(r, "key")
	if err := h.settings.Set(r.Context(), key, body.Value, body.UpdatedBy); err != nil {
		writeDomainError(w, r, h.logger, "put setting", err)
		return
	}
	writeJSON(w, http.StatusOK, domain.SettingEntry{Key: key, Value: body.Value, UpdatedBy: body.UpdatedBy})
}
