package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/polystakes/internal/domain"
	"github.com/alanyoungcy/polystakes/internal/server/middleware"
)

// Submitter executes ledger calls. *service.LedgerService satisfies it.
type Submitter interface {
	Submit(ctx context.Context, call domain.Call) (domain.Receipt, error)
}

// TxHandler executes state-changing calls as the authenticated principal.
type TxHandler struct {
	ledger Submitter
	logger *slog.Logger
}

// NewTxHandler creates a TxHandler.
func NewTxHandler(ledger Submitter, logger *slog.Logger) *TxHandler {
	return &TxHandler{ledger: ledger, logger: logger}
}

// Request bodies per entry point. Only the shape is validated here; value
// checks (zero amounts, fee bounds, deadlines) are left to the ledger so they
// surface with the ledger's codes and check order.

type setAdminRequest struct {
	Principal string `json:"principal" validate:"omitempty,principal"`
}

type createMarketRequest struct {
	Question     string `json:"question" validate:"max=4096"`
	Deadline     uint64 `json:"deadline"`
	Resolver     string `json:"resolver" validate:"omitempty,principal"`
	FeeBps       uint64 `json:"fee_bps"`
	FeeRecipient string `json:"fee_recipient" validate:"omitempty,principal"`
}

type stakeRequest struct {
	MarketID uint64 `json:"market_id"`
	Amount   uint64 `json:"amount"`
}

type resolveRequest struct {
	MarketID uint64 `json:"market_id"`
	Outcome  *bool  `json:"outcome" validate:"required"`
}

type marketRequest struct {
	MarketID uint64 `json:"market_id"`
}

type mintRequest struct {
	Principal string `json:"principal" validate:"omitempty,principal"`
	Amount    uint64 `json:"amount"`
}

// txResponse is the JSON form of a receipt.
type txResponse struct {
	OK     bool            `json:"ok"`
	TxID   string          `json:"tx_id"`
	Seq    uint64          `json:"seq"`
	Height uint64          `json:"height"`
	Value  json.RawMessage `json:"value,omitempty"`
	Code   uint32          `json:"code,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// Submit decodes the body for {function}, executes it and returns the
// receipt. Ledger rejections answer 422 with the numeric code; malformed
// bodies answer 400 with the invalid-params code and are never executed.
// POST /api/tx/{function}
func (h *TxHandler) Submit(w http.ResponseWriter, r *http.Request) {
	sender, ok := middleware.PrincipalFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing principal")
		return
	}

	fn := domain.Function(r.PathValue("function"))
	args, err := decodeArgs(r, fn)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, txResponse{
			Code:  domain.KindInvalidParams.Code(),
			Error: domain.KindInvalidParams.String() + ": " + err.Error(),
		})
		return
	}

	receipt, err := h.ledger.Submit(r.Context(), domain.Call{
		Sender:   sender,
		Function: fn,
		Args:     args,
	})
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: submit failed",
			slog.String("request_id", middleware.RequestID(r.Context())),
			slog.String("function", string(fn)),
			slog.String("sender", sender.String()),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusServiceUnavailable, "transaction not recorded")
		return
	}
	writeReceipt(w, receipt)
}

// decodeArgs maps the request body of fn onto domain.Args. Unknown functions
// carry no arguments; the ledger rejects them with its own code.
func decodeArgs(r *http.Request, fn domain.Function) (domain.Args, error) {
	switch fn {
	case domain.FnSetAdmin:
		var req setAdminRequest
		if err := decodeJSON(r, &req); err != nil {
			return domain.Args{}, err
		}
		return domain.Args{Principal: principalArg(req.Principal)}, nil

	case domain.FnCreateMarket:
		var req createMarketRequest
		if err := decodeJSON(r, &req); err != nil {
			return domain.Args{}, err
		}
		return domain.Args{
			Question:     req.Question,
			Deadline:     req.Deadline,
			Resolver:     principalArg(req.Resolver),
			FeeBps:       req.FeeBps,
			FeeRecipient: principalArg(req.FeeRecipient),
		}, nil

	case domain.FnStakeYes, domain.FnStakeNo:
		var req stakeRequest
		if err := decodeJSON(r, &req); err != nil {
			return domain.Args{}, err
		}
		return domain.Args{MarketID: req.MarketID, Amount: req.Amount}, nil

	case domain.FnResolve:
		var req resolveRequest
		if err := decodeJSON(r, &req); err != nil {
			return domain.Args{}, err
		}
		return domain.Args{MarketID: req.MarketID, Outcome: *req.Outcome}, nil

	case domain.FnWithdraw, domain.FnWithdrawFee:
		var req marketRequest
		if err := decodeJSON(r, &req); err != nil {
			return domain.Args{}, err
		}
		return domain.Args{MarketID: req.MarketID}, nil

	case domain.FnMint:
		var req mintRequest
		if err := decodeJSON(r, &req); err != nil {
			return domain.Args{}, err
		}
		return domain.Args{Principal: principalArg(req.Principal), Amount: req.Amount}, nil

	default:
		return domain.Args{}, nil
	}
}

func writeReceipt(w http.ResponseWriter, r domain.Receipt) {
	status := http.StatusOK
	if !r.OK {
		status = http.StatusUnprocessableEntity
	}
	writeJSON(w, status, txResponse{
		OK:     r.OK,
		TxID:   r.TxID,
		Seq:    r.Seq,
		Height: r.Height,
		Value:  r.Value,
		Code:   r.Code,
		Error:  r.Error,
	})
}
