package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"regexp"

	"github.com/alanyoungcy/polystakes/internal/domain"
)

// ReceiptFeed reads the durable receipt stream.
type ReceiptFeed interface {
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]domain.StreamMessage, error)
}

// ReceiptHandler lets clients catch up on receipts, accepted and rejected,
// that they missed on the websocket.
type ReceiptHandler struct {
	feed   ReceiptFeed
	logger *slog.Logger
}

func NewReceiptHandler(feed ReceiptFeed, logger *slog.Logger) *ReceiptHandler {
	return &ReceiptHandler{feed: feed, logger: logger}
}

var streamIDPattern = regexp.MustCompile(`^[0-9]+(-[0-9]+)?$`)

type streamedReceipt struct {
	StreamID string `json:"stream_id"`
	domain.Receipt
}

type receiptPage struct {
	Receipts []streamedReceipt `json:"receipts"`
	// Next is the cursor for the following page; it equals the request
	// cursor when nothing new arrived.
	Next string `json:"next"`
}

// List pages through the stream after a cursor.
// GET /api/receipts?after=<stream id>&limit=
func (h *ReceiptHandler) List(w http.ResponseWriter, r *http.Request) {
	after := r.URL.Query().Get("after")
	if after == "" {
		after = "0"
	}
	if !streamIDPattern.MatchString(after) {
		writeError(w, http.StatusBadRequest, "invalid after cursor")
		return
	}
	opts := parseListOpts(r)

	msgs, err := h.feed.StreamRead(r.Context(), domain.StreamReceipts, after, opts.Limit)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: read receipts failed",
			slog.String("after", after),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusServiceUnavailable, "receipt stream unavailable")
		return
	}

	page := receiptPage{Receipts: make([]streamedReceipt, 0, len(msgs)), Next: after}
	for _, m := range msgs {
		page.Next = m.ID
		var rec domain.Receipt
		if err := json.Unmarshal(m.Payload, &rec); err != nil {
			h.logger.WarnContext(r.Context(), "handler: skipping undecodable receipt",
				slog.String("stream_id", m.ID),
				slog.String("error", err.Error()),
			)
			continue
		}
		page.Receipts = append(page.Receipts, streamedReceipt{StreamID: m.ID, Receipt: rec})
	}
	writeJSON(w, http.StatusOK, page)
}
