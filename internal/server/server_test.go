package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cachemem "github.com/alanyoungcy/polystakes/internal/cache/memory"
	"github.com/alanyoungcy/polystakes/internal/crypto"
	"github.com/alanyoungcy/polystakes/internal/domain"
	"github.com/alanyoungcy/polystakes/internal/ledger"
	"github.com/alanyoungcy/polystakes/internal/server/handler"
	"github.com/alanyoungcy/polystakes/internal/server/middleware"
	"github.com/alanyoungcy/polystakes/internal/service"
	storemem "github.com/alanyoungcy/polystakes/internal/store/memory"
)

const (
	deployer = "deployer"
	operator = "op-key"
	chainID  = 31337
)

type testNode struct {
	t      *testing.T
	srv    *httptest.Server
	ledger *service.LedgerService
	now    time.Time
}

func newTestNode(t *testing.T, requireSigs bool, genesis map[domain.Principal]uint64) *testNode {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	chain := ledger.NewChain(ledger.NewState(deployer))

	markets := storemem.NewMarketStore()
	stakes := storemem.NewStakeStore()
	bus := cachemem.NewSignalBus(100)
	audit := storemem.NewAuditStore()
	svc := service.NewLedgerService(chain, storemem.NewReceiptStore(), markets, stakes,
		audit, bus, service.LedgerConfig{}, logger)
	query := service.NewQueryService(chain, markets, stakes)
	require.NoError(t, svc.Genesis(context.Background(), genesis))

	n := &testNode{t: t, ledger: svc, now: time.Unix(1_700_000_000, 0)}
	cfg := Config{
		APIKey: operator,
		Signatures: middleware.SignatureConfig{
			Verifier: crypto.NewVerifier(chainID),
			Nonces:   cachemem.NewNonceGuard(),
			MaxSkew:  time.Minute,
			Require:  requireSigs,
			Now:      func() time.Time { return n.now },
			Logger:   logger,
		},
	}
	h := NewHandler(cfg, Handlers{
		Health:   handler.NewHealthHandler(nil, logger),
		Markets:  handler.NewMarketHandler(query, logger),
		Chain:    handler.NewChainHandler(query, svc, logger),
		Tx:       handler.NewTxHandler(svc, logger),
		Audit:    handler.NewAuditHandler(audit, logger),
		Receipts: handler.NewReceiptHandler(bus, logger),
	}, nil, nil, logger)
	n.srv = httptest.NewServer(h)
	t.Cleanup(n.srv.Close)
	return n
}

type txResult struct {
	OK     bool            `json:"ok"`
	TxID   string          `json:"tx_id"`
	Seq    uint64          `json:"seq"`
	Height uint64          `json:"height"`
	Value  json.RawMessage `json:"value"`
	Code   uint32          `json:"code"`
	Error  string          `json:"error"`
}

func (n *testNode) do(req *http.Request) (int, []byte) {
	n.t.Helper()
	resp, err := http.DefaultClient.Do(req)
	require.NoError(n.t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(n.t, err)
	return resp.StatusCode, body
}

func (n *testNode) call(sender domain.Principal, fn domain.Function, body any) (int, txResult) {
	n.t.Helper()
	data, err := json.Marshal(body)
	require.NoError(n.t, err)
	req, err := http.NewRequest(http.MethodPost, n.srv.URL+"/api/tx/"+string(fn), bytes.NewReader(data))
	require.NoError(n.t, err)
	req.Header.Set(middleware.HeaderPrincipal, string(sender))

	status, raw := n.do(req)
	var res txResult
	require.NoError(n.t, json.Unmarshal(raw, &res), string(raw))
	return status, res
}

func (n *testNode) get(path string, dst any) int {
	n.t.Helper()
	req, err := http.NewRequest(http.MethodGet, n.srv.URL+path, nil)
	require.NoError(n.t, err)
	status, raw := n.do(req)
	if dst != nil {
		require.NoError(n.t, json.Unmarshal(raw, dst), string(raw))
	}
	return status
}

func (n *testNode) mine(blocks uint64) {
	n.t.Helper()
	req, err := http.NewRequest(http.MethodPost, n.srv.URL+"/api/chain/mine",
		bytes.NewReader([]byte(`{"blocks":`+strconv.FormatUint(blocks, 10)+`}`)))
	require.NoError(n.t, err)
	req.Header.Set("Authorization", "Bearer "+operator)
	status, raw := n.do(req)
	require.Equal(n.t, http.StatusOK, status, string(raw))
}

func TestMarketLifecycleOverHTTP(t *testing.T) {
	n := newTestNode(t, false, map[domain.Principal]uint64{"alice": 5000, "bob": 5000})

	status, res := n.call(deployer, domain.FnSetAdmin, map[string]string{"principal": "admin"})
	require.Equal(t, http.StatusOK, status, res.Error)

	status, res = n.call("admin", domain.FnCreateMarket, map[string]any{
		"question":      "Will it rain tomorrow?",
		"deadline":      3,
		"resolver":      "oracle",
		"fee_bps":       100,
		"fee_recipient": "treasury",
	})
	require.Equal(t, http.StatusOK, status, res.Error)
	assert.JSONEq(t, "1", string(res.Value))

	_, res = n.call("alice", domain.FnStakeYes, map[string]any{"market_id": 1, "amount": 1000})
	require.True(t, res.OK, res.Error)
	_, res = n.call("bob", domain.FnStakeNo, map[string]any{"market_id": 1, "amount": 500})
	require.True(t, res.OK, res.Error)

	// Resolving before the deadline is rejected with the ledger code.
	status, res = n.call("oracle", domain.FnResolve, map[string]any{"market_id": 1, "outcome": true})
	assert.Equal(t, http.StatusUnprocessableEntity, status)
	assert.Equal(t, uint32(103), res.Code)

	n.mine(3)
	status, res = n.call("mallory", domain.FnResolve, map[string]any{"market_id": 1, "outcome": true})
	assert.Equal(t, http.StatusUnprocessableEntity, status)
	assert.Equal(t, uint32(104), res.Code)
	_, res = n.call("oracle", domain.FnResolve, map[string]any{"market_id": 1, "outcome": true})
	require.True(t, res.OK, res.Error)

	var quote service.ClaimView
	require.Equal(t, http.StatusOK, n.get("/api/markets/1/claims/alice", &quote))
	assert.Equal(t, uint64(1485), quote.Quote)
	assert.False(t, quote.HasClaimed)

	_, res = n.call("alice", domain.FnWithdraw, map[string]any{"market_id": 1})
	require.True(t, res.OK, res.Error)
	assert.JSONEq(t, "1485", string(res.Value))
	_, res = n.call("alice", domain.FnWithdraw, map[string]any{"market_id": 1})
	assert.Equal(t, uint32(106), res.Code)
	_, res = n.call("treasury", domain.FnWithdrawFee, map[string]any{"market_id": 1})
	require.True(t, res.OK, res.Error)
	assert.JSONEq(t, "15", string(res.Value))

	var market domain.MarketView
	require.Equal(t, http.StatusOK, n.get("/api/markets/1", &market))
	assert.Equal(t, domain.MarketStatusResolved, market.Status)
	require.NotNil(t, market.Outcome)
	assert.True(t, *market.Outcome)
	assert.Equal(t, "1.00", market.FeePercent)

	var list struct {
		Markets []domain.MarketView `json:"markets"`
		Total   int64               `json:"total"`
	}
	require.Equal(t, http.StatusOK, n.get("/api/markets", &list))
	assert.Equal(t, int64(1), list.Total)
	require.Len(t, list.Markets, 1)

	require.Equal(t, http.StatusOK, n.get("/api/markets?resolved=false", &list))
	assert.Zero(t, list.Total)
	assert.Empty(t, list.Markets)
	require.Equal(t, http.StatusOK, n.get("/api/markets?resolved=true&limit=1000", &list))
	assert.Equal(t, int64(1), list.Total)
	assert.Equal(t, http.StatusBadRequest, n.get("/api/markets?resolved=maybe", nil))

	var stake service.StakeView
	require.Equal(t, http.StatusOK, n.get("/api/markets/1/stakes/bob", &stake))
	assert.Equal(t, uint64(500), stake.No)

	var settlement domain.Settlement
	require.Equal(t, http.StatusOK, n.get("/api/markets/1/settlement", &settlement))
	assert.Equal(t, uint64(1500), settlement.Pool)
	assert.Equal(t, uint64(15), settlement.Fee)

	var bal struct {
		Balance uint64 `json:"balance"`
	}
	require.Equal(t, http.StatusOK, n.get("/api/balances/alice", &bal))
	assert.Equal(t, uint64(5000-1000+1485), bal.Balance)

	var positions struct {
		Principal domain.Principal `json:"principal"`
		Stakes    []domain.Stake   `json:"stakes"`
	}
	require.Equal(t, http.StatusOK, n.get("/api/accounts/bob/stakes", &positions))
	require.Len(t, positions.Stakes, 1)
	assert.Equal(t, domain.SideNo, positions.Stakes[0].Side)
	assert.Equal(t, uint64(500), positions.Stakes[0].Amount)

	var chain service.ChainStatus
	require.Equal(t, http.StatusOK, n.get("/api/chain", &chain))
	assert.Equal(t, uint64(3), chain.Height)
	assert.Equal(t, domain.Principal("admin"), chain.Admin)

	var adminResp map[string]string
	require.Equal(t, http.StatusOK, n.get("/api/admin", &adminResp))
	assert.Equal(t, "admin", adminResp["admin"])
}

func TestTxRejectsMalformedBodies(t *testing.T) {
	n := newTestNode(t, false, nil)

	status, res := n.call("alice", domain.FnResolve, map[string]any{"market_id": 1})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, uint32(101), res.Code)

	status, res = n.call("alice", domain.FnSetAdmin, map[string]any{"principal": "has space"})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, uint32(101), res.Code)

	status, res = n.call("alice", domain.FnStakeYes, map[string]any{"market_id": 1, "amount": 5, "extra": true})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, uint32(101), res.Code)

	// Value checks are the ledger's: unknown market before zero amount.
	status, res = n.call("alice", domain.FnStakeYes, map[string]any{"market_id": 9, "amount": 0})
	assert.Equal(t, http.StatusUnprocessableEntity, status)
	assert.Equal(t, uint32(108), res.Code)

	status, res = n.call("alice", "drain-everything", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, status)
	assert.Equal(t, uint32(112), res.Code)
}

func TestTxRequiresPrincipal(t *testing.T) {
	n := newTestNode(t, false, nil)
	req, err := http.NewRequest(http.MethodPost, n.srv.URL+"/api/tx/withdraw", bytes.NewReader([]byte(`{"market_id":1}`)))
	require.NoError(t, err)
	status, _ := n.do(req)
	assert.Equal(t, http.StatusUnauthorized, status)
}

func TestOperatorRoutesNeedAPIKey(t *testing.T) {
	n := newTestNode(t, false, nil)

	req, err := http.NewRequest(http.MethodPost, n.srv.URL+"/api/faucet", bytes.NewReader([]byte(`{"principal":"carol","amount":42}`)))
	require.NoError(t, err)
	status, _ := n.do(req)
	assert.Equal(t, http.StatusUnauthorized, status)

	req, err = http.NewRequest(http.MethodPost, n.srv.URL+"/api/faucet", bytes.NewReader([]byte(`{"principal":"carol","amount":42}`)))
	require.NoError(t, err)
	req.Header.Set("X-API-Key", operator)
	status, raw := n.do(req)
	require.Equal(t, http.StatusOK, status, string(raw))

	var bal struct {
		Balance uint64 `json:"balance"`
	}
	n.get("/api/balances/carol", &bal)
	assert.Equal(t, uint64(42), bal.Balance)

	require.Equal(t, http.StatusUnauthorized, n.get("/api/audit", nil))

	req, err = http.NewRequest(http.MethodGet, n.srv.URL+"/api/audit?event=minted&limit=5", nil)
	require.NoError(t, err)
	req.Header.Set("X-API-Key", operator)
	status, raw = n.do(req)
	require.Equal(t, http.StatusOK, status, string(raw))

	var audit struct {
		Entries []struct {
			Event  string         `json:"event"`
			Detail map[string]any `json:"detail"`
		} `json:"entries"`
		Limit int `json:"limit"`
	}
	require.NoError(t, json.Unmarshal(raw, &audit))
	require.Len(t, audit.Entries, 1)
	assert.Equal(t, domain.EventMinted, audit.Entries[0].Event)
	assert.Equal(t, 5, audit.Limit)
}

func TestSignedCalls(t *testing.T) {
	signer, err := crypto.NewSigner("ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80", chainID)
	require.NoError(t, err)
	n := newTestNode(t, true, nil)

	send := func(principal domain.Principal, body []byte, ts int64, sig string) (int, txResult) {
		req, err := http.NewRequest(http.MethodPost, n.srv.URL+"/api/tx/set-admin", bytes.NewReader(body))
		require.NoError(t, err)
		req.Header.Set(middleware.HeaderPrincipal, string(principal))
		req.Header.Set(middleware.HeaderTimestamp, strconv.FormatInt(ts, 10))
		req.Header.Set(middleware.HeaderSignature, sig)
		status, raw := n.do(req)
		var res txResult
		_ = json.Unmarshal(raw, &res)
		return status, res
	}

	body := []byte(`{"principal":"someone"}`)
	ts := n.now.Unix()
	sig, err := signer.SignCall(domain.FnSetAdmin, body, ts)
	require.NoError(t, err)

	// Valid signature from a non-deployer: authenticated, then rejected by the ledger.
	status, res := send(signer.Principal(), body, ts, sig)
	assert.Equal(t, http.StatusUnprocessableEntity, status)
	assert.Equal(t, uint32(100), res.Code)

	// The same signature cannot be replayed.
	status, _ = send(signer.Principal(), body, ts, sig)
	assert.Equal(t, http.StatusConflict, status)

	// Claiming another principal fails.
	sig2, err := signer.SignCall(domain.FnSetAdmin, body, ts+1)
	require.NoError(t, err)
	status, _ = send(deployer, body, ts+1, sig2)
	assert.Equal(t, http.StatusUnauthorized, status)

	// Tampered body fails.
	sig3, err := signer.SignCall(domain.FnSetAdmin, body, ts+2)
	require.NoError(t, err)
	status, _ = send(signer.Principal(), []byte(`{"principal":"mallory"}`), ts+2, sig3)
	assert.Equal(t, http.StatusUnauthorized, status)

	// Stale timestamps fail.
	old := ts - 3600
	sig4, err := signer.SignCall(domain.FnSetAdmin, body, old)
	require.NoError(t, err)
	status, _ = send(signer.Principal(), body, old, sig4)
	assert.Equal(t, http.StatusUnauthorized, status)
}

func TestSignedCallerMatchesAnyAddressCasing(t *testing.T) {
	signer, err := crypto.NewSigner("ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80", chainID)
	require.NoError(t, err)
	n := newTestNode(t, true, nil)
	lower := strings.ToLower(signer.Principal().String())

	// Configured principals go through the same parser as request fields.
	admin, ok := domain.ParsePrincipal(lower)
	require.True(t, ok)
	require.Equal(t, signer.Principal(), admin)
	r, err := n.ledger.Submit(context.Background(), domain.Call{
		Sender: deployer, Function: domain.FnSetAdmin, Args: domain.Args{Principal: admin},
	})
	require.NoError(t, err)
	require.True(t, r.OK)

	ts := n.now.Unix()
	signed := func(fn domain.Function, body string) (int, txResult) {
		ts++
		sig, err := signer.SignCall(fn, []byte(body), ts)
		require.NoError(t, err)
		req, err := http.NewRequest(http.MethodPost, n.srv.URL+"/api/tx/"+string(fn), strings.NewReader(body))
		require.NoError(t, err)
		req.Header.Set(middleware.HeaderPrincipal, lower)
		req.Header.Set(middleware.HeaderTimestamp, strconv.FormatInt(ts, 10))
		req.Header.Set(middleware.HeaderSignature, sig)
		status, raw := n.do(req)
		var res txResult
		require.NoError(t, json.Unmarshal(raw, &res), string(raw))
		return status, res
	}

	status, res := signed(domain.FnCreateMarket, fmt.Sprintf(
		`{"question":"q","deadline":5,"resolver":%q,"fee_bps":100,"fee_recipient":%q}`, lower, "0x"+strings.ToUpper(lower[2:])))
	require.Equal(t, http.StatusOK, status, res.Error)

	var market domain.MarketView
	require.Equal(t, http.StatusOK, n.get("/api/markets/1", &market))
	assert.Equal(t, signer.Principal(), market.Resolver)

	n.mine(5)
	status, res = signed(domain.FnResolve, `{"market_id":1,"outcome":true}`)
	require.Equal(t, http.StatusOK, status, res.Error)
	assert.True(t, res.OK)
}

func TestHealthAndCORS(t *testing.T) {
	n := newTestNode(t, false, nil)

	var health map[string]any
	require.Equal(t, http.StatusOK, n.get("/api/health", &health))
	assert.Equal(t, "ok", health["status"])

	req, err := http.NewRequestWithContext(context.Background(), http.MethodOptions, n.srv.URL+"/api/tx/withdraw", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "http://localhost:3000")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, "http://localhost:3000", resp.Header.Get("Access-Control-Allow-Origin"))
	assert.Contains(t, resp.Header.Get("Access-Control-Allow-Headers"), "X-Signature")
}

type fakeArchive struct {
	reports map[uint64]domain.ArchivedSettlement
}

func (f *fakeArchive) Index(context.Context) (domain.ArchiveIndex, error) {
	return domain.ArchiveIndex{Settlements: []domain.BlobInfo{{Path: "settlements/market-1.json", Size: 120}}}, nil
}

func (f *fakeArchive) Settlement(_ context.Context, id uint64) (domain.ArchivedSettlement, error) {
	rep, ok := f.reports[id]
	if !ok {
		return rep, fmt.Errorf("archive: %w", domain.ErrNotFound)
	}
	return rep, nil
}

func TestArchiveRoutes(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	archive := &fakeArchive{reports: map[uint64]domain.ArchivedSettlement{
		1: {Settlement: domain.Settlement{MarketID: 1, Pool: 1500, Fee: 15}, Height: 12},
	}}
	srv := httptest.NewServer(NewHandler(Config{APIKey: operator}, Handlers{
		Archive: handler.NewArchiveHandler(archive, logger),
	}, nil, nil, logger))
	defer srv.Close()

	get := func(path string) (int, []byte) {
		req, err := http.NewRequest(http.MethodGet, srv.URL+path, nil)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+operator)
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		defer resp.Body.Close()
		raw, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		return resp.StatusCode, raw
	}

	status, raw := get("/api/archive")
	require.Equal(t, http.StatusOK, status, string(raw))
	var idx domain.ArchiveIndex
	require.NoError(t, json.Unmarshal(raw, &idx))
	require.Len(t, idx.Settlements, 1)
	assert.Equal(t, int64(120), idx.Settlements[0].Size)

	status, raw = get("/api/archive/settlements/1")
	require.Equal(t, http.StatusOK, status, string(raw))
	var rep domain.ArchivedSettlement
	require.NoError(t, json.Unmarshal(raw, &rep))
	assert.Equal(t, uint64(12), rep.Height)
	assert.Equal(t, uint64(1500), rep.Pool)

	status, _ = get("/api/archive/settlements/2")
	assert.Equal(t, http.StatusNotFound, status)
	status, _ = get("/api/archive/settlements/x")
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestReceiptCatchUp(t *testing.T) {
	n := newTestNode(t, false, nil)

	status, _ := n.call(deployer, domain.FnSetAdmin, map[string]string{"principal": "admin"})
	require.Equal(t, http.StatusOK, status)
	status, _ = n.call("mallory", domain.FnSetAdmin, map[string]string{"principal": "mallory"})
	require.Equal(t, http.StatusUnprocessableEntity, status)

	type page struct {
		Receipts []struct {
			StreamID string           `json:"stream_id"`
			Seq      uint64           `json:"seq"`
			OK       bool             `json:"ok"`
			Code     uint32           `json:"code"`
			Sender   domain.Principal `json:"sender"`
		} `json:"receipts"`
		Next string `json:"next"`
	}

	var first page
	require.Equal(t, http.StatusOK, n.get("/api/receipts?limit=1", &first))
	require.Len(t, first.Receipts, 1)
	assert.True(t, first.Receipts[0].OK)
	assert.Equal(t, first.Receipts[0].StreamID, first.Next)

	var second page
	require.Equal(t, http.StatusOK, n.get("/api/receipts?after="+first.Next, &second))
	require.Len(t, second.Receipts, 1)
	assert.False(t, second.Receipts[0].OK)
	assert.Equal(t, uint32(100), second.Receipts[0].Code)
	assert.Equal(t, domain.Principal("mallory"), second.Receipts[0].Sender)

	var empty page
	require.Equal(t, http.StatusOK, n.get("/api/receipts?after="+second.Next, &empty))
	assert.Empty(t, empty.Receipts)
	assert.Equal(t, second.Next, empty.Next)

	assert.Equal(t, http.StatusBadRequest, n.get("/api/receipts?after=latest", nil))
}
