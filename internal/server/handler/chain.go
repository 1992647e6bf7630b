package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/polystakes/internal/domain"
	"github.com/alanyoungcy/polystakes/internal/service"
)

// ChainQueries defines the chain-level reads used by ChainHandler.
type ChainQueries interface {
	Status() service.ChainStatus
	Admin() (domain.Principal, bool)
	Balance(p domain.Principal) uint64
	StakesByAccount(ctx context.Context, p domain.Principal) ([]domain.Stake, error)
}

// ChainOperator defines the operator actions used by ChainHandler.
type ChainOperator interface {
	Mine(ctx context.Context, n uint64) (uint64, error)
	Faucet(ctx context.Context, to domain.Principal, amount uint64) (domain.Receipt, error)
}

// ChainHandler serves chain status, balances and the operator endpoints.
type ChainHandler struct {
	queries ChainQueries
	ops     ChainOperator
	logger  *slog.Logger
}

// NewChainHandler creates a ChainHandler.
func NewChainHandler(queries ChainQueries, ops ChainOperator, logger *slog.Logger) *ChainHandler {
	return &ChainHandler{queries: queries, ops: ops, logger: logger}
}

// Status returns the current height, sequence number and totals.
// GET /api/chain
func (h *ChainHandler) Status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.queries.Status())
}

// GetAdmin returns the current administrator.
// GET /api/admin
func (h *ChainHandler) GetAdmin(w http.ResponseWriter, r *http.Request) {
	admin, ok := h.queries.Admin()
	if !ok {
		writeError(w, http.StatusNotFound, "no admin set")
		return
	}
	writeJSON(w, http.StatusOK, map[string]domain.Principal{"admin": admin})
}

// GetBalance returns a principal's spendable balance.
// GET /api/balances/{principal}
func (h *ChainHandler) GetBalance(w http.ResponseWriter, r *http.Request) {
	p, ok := principalParam(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid principal")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"principal": p,
		"balance":   h.queries.Balance(p),
	})
}

// ListAccountStakes returns every stake a principal holds.
// GET /api/accounts/{principal}/stakes
func (h *ChainHandler) ListAccountStakes(w http.ResponseWriter, r *http.Request) {
	p, ok := principalParam(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid principal")
		return
	}
	stakes, err := h.queries.StakesByAccount(r.Context(), p)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list stakes failed",
			slog.String("principal", p.String()),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list stakes")
		return
	}
	if stakes == nil {
		stakes = []domain.Stake{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"principal": p, "stakes": stakes})
}

type mineRequest struct {
	Blocks uint64 `json:"blocks" validate:"omitempty,lte=100000"`
}

// Mine produces blocks on demand. An empty body mines one block.
// POST /api/chain/mine
func (h *ChainHandler) Mine(w http.ResponseWriter, r *http.Request) {
	var req mineRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Blocks == 0 {
		req.Blocks = 1
	}

	height, err := h.ops.Mine(r.Context(), req.Blocks)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: mine failed",
			slog.Uint64("blocks", req.Blocks),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to mine")
		return
	}
	writeJSON(w, http.StatusOK, map[string]uint64{"height": height})
}

type faucetRequest struct {
	Principal string `json:"principal" validate:"required,principal"`
	Amount    uint64 `json:"amount" validate:"gt=0"`
}

// Faucet mints native value to a principal on behalf of the deployer.
// POST /api/faucet
func (h *ChainHandler) Faucet(w http.ResponseWriter, r *http.Request) {
	var req faucetRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	receipt, err := h.ops.Faucet(r.Context(), principalArg(req.Principal), req.Amount)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: faucet failed",
			slog.String("principal", req.Principal),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to mint")
		return
	}
	writeReceipt(w, receipt)
}
