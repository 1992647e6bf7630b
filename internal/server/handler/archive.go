package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/polystakes/internal/domain"
)

// ArchiveHandler lets operators browse the cold-storage archive.
type ArchiveHandler struct {
	archive domain.ArchiveBrowser
	logger  *slog.Logger
}

func NewArchiveHandler(archive domain.ArchiveBrowser, logger *slog.Logger) *ArchiveHandler {
	return &ArchiveHandler{archive: archive, logger: logger}
}

// Index lists archived settlement reports and snapshots.
// GET /api/archive
func (h *ArchiveHandler) Index(w http.ResponseWriter, r *http.Request) {
	idx, err := h.archive.Index(r.Context())
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: archive index failed", slog.String("error", err.Error()))
		writeError(w, http.StatusServiceUnavailable, "archive unavailable")
		return
	}
	writeJSON(w, http.StatusOK, idx)
}

// Settlement returns the archived report of one market.
// GET /api/archive/settlements/{id}
func (h *ArchiveHandler) Settlement(w http.ResponseWriter, r *http.Request) {
	id, ok := marketIDParam(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid market id")
		return
	}
	rep, err := h.archive.Settlement(r.Context(), id)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, "settlement not archived")
	case err != nil:
		h.logger.ErrorContext(r.Context(), "handler: archived settlement failed",
			slog.Uint64("market_id", id),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusServiceUnavailable, "archive unavailable")
	default:
		writeJSON(w, http.StatusOK, rep)
	}
}
