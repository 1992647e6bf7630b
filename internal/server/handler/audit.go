package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/polystakes/internal/domain"
)

// AuditLog is the read side of the audit trail.
type AuditLog interface {
	List(ctx context.Context, event string, opts domain.ListOpts) ([]domain.AuditEntry, error)
}

// AuditHandler exposes the audit trail to operators.
type AuditHandler struct {
	audit  AuditLog
	logger *slog.Logger
}

func NewAuditHandler(audit AuditLog, logger *slog.Logger) *AuditHandler {
	return &AuditHandler{audit: audit, logger: logger}
}

type auditEntryJSON struct {
	ID        int64          `json:"id"`
	Event     string         `json:"event"`
	Detail    map[string]any `json:"detail,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// List returns entries newest first.
// GET /api/audit?event=&limit=&offset=
func (h *AuditHandler) List(w http.ResponseWriter, r *http.Request) {
	event := r.URL.Query().Get("event")
	opts := parseListOpts(r)
	entries, err := h.audit.List(r.Context(), event, opts)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list audit failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusServiceUnavailable, "audit log unavailable")
		return
	}

	out := make([]auditEntryJSON, len(entries))
	for i, e := range entries {
		out[i] = auditEntryJSON{ID: e.ID, Event: e.Event, Detail: e.Detail, CreatedAt: e.CreatedAt}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"entries": out,
		"limit":   opts.Limit,
		"offset":  opts.Offset,
	})
}
