package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/polystakes/internal/domain"
	"github.com/alanyoungcy/polystakes/internal/service"
)

// MarketQueries defines the reads the market handler requires from the
// service layer. *service.QueryService satisfies it.
type MarketQueries interface {
	Market(ctx context.Context, id uint64) (domain.MarketView, error)
	ListMarkets(ctx context.Context, f domain.MarketFilter, opts domain.ListOpts) ([]domain.MarketView, int64, error)
	Stake(id uint64, p domain.Principal) service.StakeView
	Claim(id uint64, p domain.Principal) service.ClaimView
	Settlement(id uint64) (domain.Settlement, error)
}

// MarketHandler serves the read-only market views.
type MarketHandler struct {
	markets MarketQueries
	logger  *slog.Logger
}

func NewMarketHandler(markets MarketQueries, logger *slog.Logger) *MarketHandler {
	return &MarketHandler{
		markets: markets,
		logger:  logger,
	}
}

type listMarketsResponse struct {
	Markets []domain.MarketView `json:"markets"`
	Total   int64               `json:"total"`
	Limit   int                 `json:"limit"`
	Offset  int                 `json:"offset"`
}

// ListMarkets returns matching markets in id order. total counts every
// matching market, not just the page.
// GET /api/markets?resolved=false&resolver=0x..&limit=50&offset=0
func (h *MarketHandler) ListMarkets(w http.ResponseWriter, r *http.Request) {
	filter, err := parseMarketFilter(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	opts := parseListOpts(r)

	markets, total, err := h.markets.ListMarkets(r.Context(), filter, opts)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list markets failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list markets")
		return
	}
	if markets == nil {
		markets = []domain.MarketView{}
	}

	writeJSON(w, http.StatusOK, listMarketsResponse{
		Markets: markets,
		Total:   total,
		Limit:   opts.Limit,
		Offset:  opts.Offset,
	})
}

// GetMarket returns the market view at the current height.
// GET /api/markets/{id}
func (h *MarketHandler) GetMarket(w http.ResponseWriter, r *http.Request) {
	id, ok := marketIDParam(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid market id")
		return
	}

	m, err := h.markets.Market(r.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "market not found")
			return
		}
		h.logger.ErrorContext(r.Context(), "handler: get market failed",
			slog.Uint64("market_id", id),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to get market")
		return
	}
	writeJSON(w, http.StatusOK, m)
}

// GetStake returns a participant's stakes on both sides. Unknown markets and
// principals read as zero.
// GET /api/markets/{id}/stakes/{principal}
func (h *MarketHandler) GetStake(w http.ResponseWriter, r *http.Request) {
	id, ok := marketIDParam(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid market id")
		return
	}
	p, ok := principalParam(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid principal")
		return
	}
	writeJSON(w, http.StatusOK, h.markets.Stake(id, p))
}

// GetClaim returns whether a participant has withdrawn and the amount a
// withdrawal would pay now.
// GET /api/markets/{id}/claims/{principal}
func (h *MarketHandler) GetClaim(w http.ResponseWriter, r *http.Request) {
	id, ok := marketIDParam(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid market id")
		return
	}
	p, ok := principalParam(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid principal")
		return
	}
	writeJSON(w, http.StatusOK, h.markets.Claim(id, p))
}

// GetSettlement returns the payout breakdown of a resolved market.
// GET /api/markets/{id}/settlement
func (h *MarketHandler) GetSettlement(w http.ResponseWriter, r *http.Request) {
	id, ok := marketIDParam(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid market id")
		return
	}
	st, err := h.markets.Settlement(id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "market not found or not resolved")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to get settlement")
		return
	}
	writeJSON(w, http.StatusOK, st)
}
