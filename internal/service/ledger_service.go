package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/alanyoungcy/polystakes/internal/domain"
	"github.com/alanyoungcy/polystakes/internal/ledger"
)

const defaultReplayPage = 500

// EventNotifier forwards operator-facing events. *notify.Notifier satisfies it.
type EventNotifier interface {
	Notify(ctx context.Context, event, title, message string) error
}

// LedgerConfig tunes the ledger service.
type LedgerConfig struct {
	// SnapshotEvery archives a full snapshot every N blocks; 0 disables.
	SnapshotEvery uint64
	ReplayPage    int
}

// LedgerService is the single write path into the ledger. Every call is
// executed by the chain and its receipt is appended to the receipt log before
// the effects become visible; projections, events, audit entries and archives
// are derived afterwards and never fail a committed call.
type LedgerService struct {
	chain    *ledger.Chain
	receipts domain.ReceiptStore
	markets  domain.MarketStore
	stakes   domain.StakeStore
	audit    domain.AuditStore
	bus      domain.SignalBus
	archiver domain.Archiver
	notifier EventNotifier
	cfg      LedgerConfig
	logger   *slog.Logger
}

// NewLedgerService creates a LedgerService with all required dependencies.
func NewLedgerService(
	chain *ledger.Chain,
	receipts domain.ReceiptStore,
	markets domain.MarketStore,
	stakes domain.StakeStore,
	audit domain.AuditStore,
	bus domain.SignalBus,
	cfg LedgerConfig,
	logger *slog.Logger,
) *LedgerService {
	if cfg.ReplayPage <= 0 {
		cfg.ReplayPage = defaultReplayPage
	}
	return &LedgerService{
		chain:    chain,
		receipts: receipts,
		markets:  markets,
		stakes:   stakes,
		audit:    audit,
		bus:      bus,
		cfg:      cfg,
		logger:   logger.With(slog.String("component", "ledger_service")),
	}
}

// WithArchiver enables settlement and snapshot archiving.
func (s *LedgerService) WithArchiver(a domain.Archiver) *LedgerService {
	s.archiver = a
	return s
}

// WithNotifier enables operator notifications.
func (s *LedgerService) WithNotifier(n EventNotifier) *LedgerService {
	s.notifier = n
	return s
}

// Chain exposes the underlying chain for read-only queries.
func (s *LedgerService) Chain() *ledger.Chain { return s.chain }

// Restore rebuilds ledger state by replaying the receipt log, restores the
// last produced height and refreshes every projection. It returns the number
// of receipts replayed.
func (s *LedgerService) Restore(ctx context.Context) (int, error) {
	start := time.Now()
	replayed := 0
	after := s.chain.Seq()
	for {
		page, err := s.receipts.ListSince(ctx, after, s.cfg.ReplayPage)
		if err != nil {
			return replayed, fmt.Errorf("ledger_service: list receipts after %d: %w", after, err)
		}
		if len(page) == 0 {
			break
		}
		for _, r := range page {
			if err := s.chain.Replay(r); err != nil {
				return replayed, fmt.Errorf("ledger_service: replay: %w", err)
			}
			after = r.Seq
			replayed++
		}
	}

	height, err := s.receipts.LoadHeight(ctx)
	if err != nil {
		return replayed, fmt.Errorf("ledger_service: load height: %w", err)
	}
	s.chain.RestoreHeight(height)

	if err := s.reproject(ctx); err != nil {
		return replayed, err
	}

	s.logger.InfoContext(ctx, "ledger_service: restored",
		slog.Int("receipts", replayed),
		slog.Uint64("seq", s.chain.Seq()),
		slog.Uint64("height", s.chain.Height()),
		slog.Duration("took", time.Since(start)),
	)
	return replayed, nil
}

func (s *LedgerService) reproject(ctx context.Context) error {
	snap := s.chain.Snapshot()
	for _, m := range snap.Markets {
		if err := s.markets.Upsert(ctx, m); err != nil {
			return fmt.Errorf("ledger_service: project market %d: %w", m.ID, err)
		}
	}
	for _, st := range snap.Stakes {
		if err := s.stakes.UpsertStake(ctx, st); err != nil {
			return fmt.Errorf("ledger_service: project stake: %w", err)
		}
	}
	for _, c := range snap.Claims {
		if err := s.stakes.RecordClaim(ctx, c); err != nil && !errors.Is(err, domain.ErrAlreadyExists) {
			return fmt.Errorf("ledger_service: project claim: %w", err)
		}
	}
	return nil
}

// Submit executes call. Rejected calls still produce a receipt carrying the
// error code; the returned error is non-nil only when the receipt could not be
// recorded, in which case the call had no effect.
func (s *LedgerService) Submit(ctx context.Context, call domain.Call) (domain.Receipt, error) {
	r, err := s.chain.ExecuteWith(call, func(r domain.Receipt) error {
		return s.receipts.Append(ctx, r)
	})
	if err != nil {
		return domain.Receipt{}, fmt.Errorf("ledger_service: submit %s: %w", call.Function, err)
	}
	s.afterCommit(ctx, r)
	return r, nil
}

// Faucet mints amount to p on behalf of the deployer.
func (s *LedgerService) Faucet(ctx context.Context, to domain.Principal, amount uint64) (domain.Receipt, error) {
	return s.Submit(ctx, domain.Call{
		Sender:   s.chain.Deployer(),
		Function: domain.FnMint,
		Args:     domain.Args{Principal: to, Amount: amount},
	})
}

// Genesis mints the initial balances through the receipt log so they survive
// a replay. It only runs on a ledger with no receipts; accounts are credited
// in sorted order.
func (s *LedgerService) Genesis(ctx context.Context, balances map[domain.Principal]uint64) error {
	if s.chain.Seq() != 0 || len(balances) == 0 {
		return nil
	}
	accounts := make([]domain.Principal, 0, len(balances))
	for p := range balances {
		accounts = append(accounts, p)
	}
	sort.Slice(accounts, func(i, j int) bool { return accounts[i] < accounts[j] })

	for _, p := range accounts {
		r, err := s.Faucet(ctx, p, balances[p])
		if err != nil {
			return fmt.Errorf("ledger_service: genesis %s: %w", p, err)
		}
		if !r.OK {
			return fmt.Errorf("ledger_service: genesis %s: %s", p, r.Error)
		}
	}
	s.logger.InfoContext(ctx, "ledger_service: genesis applied", slog.Int("accounts", len(accounts)))
	return nil
}

// EnsureAdmin sets the first administrator on behalf of the deployer when
// none exists yet. It is a no-op once an admin is set.
func (s *LedgerService) EnsureAdmin(ctx context.Context, admin domain.Principal) error {
	if admin.IsZero() {
		return nil
	}
	if _, ok := s.chain.Admin(); ok {
		return nil
	}
	r, err := s.Submit(ctx, domain.Call{
		Sender:   s.chain.Deployer(),
		Function: domain.FnSetAdmin,
		Args:     domain.Args{Principal: admin},
	})
	if err != nil {
		return err
	}
	if !r.OK {
		return fmt.Errorf("ledger_service: bootstrap admin: %s", r.Error)
	}
	return nil
}

// Mine produces n blocks. The new height is persisted before it takes effect.
func (s *LedgerService) Mine(ctx context.Context, n uint64) (uint64, error) {
	if n == 0 {
		return s.chain.Height(), nil
	}
	height, err := s.chain.MineWith(n, func(h uint64) error {
		return s.receipts.SaveHeight(ctx, h)
	})
	if err != nil {
		return height, fmt.Errorf("ledger_service: mine: %w", err)
	}

	s.publish(ctx, domain.Event{Type: domain.EventBlock, Height: height})
	s.logger.DebugContext(ctx, "ledger_service: block produced", slog.Uint64("height", height))

	if s.archiver != nil && s.cfg.SnapshotEvery > 0 && height%s.cfg.SnapshotEvery < n {
		if _, err := s.ArchiveSnapshot(ctx); err != nil {
			s.logger.WarnContext(ctx, "ledger_service: snapshot archive failed",
				slog.Uint64("height", height),
				slog.String("error", err.Error()),
			)
		}
	}
	return height, nil
}

// RunBlockProducer mines one block per interval until ctx is cancelled.
func (s *LedgerService) RunBlockProducer(ctx context.Context, interval time.Duration) error {
	s.logger.InfoContext(ctx, "ledger_service: block producer started",
		slog.Duration("interval", interval),
		slog.Uint64("height", s.chain.Height()),
	)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := s.Mine(ctx, 1); err != nil {
				s.logger.ErrorContext(ctx, "ledger_service: block production failed",
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

// ArchiveSnapshot uploads a full snapshot of the current state.
func (s *LedgerService) ArchiveSnapshot(ctx context.Context) (string, error) {
	if s.archiver == nil {
		return "", fmt.Errorf("ledger_service: archive snapshot: no archiver configured")
	}
	snap := s.chain.Snapshot()
	path, err := s.archiver.ArchiveSnapshot(ctx, snap)
	if err != nil {
		return "", fmt.Errorf("ledger_service: archive snapshot at %d: %w", snap.Height, err)
	}
	s.auditLog(ctx, "snapshot_archived", map[string]any{"height": snap.Height, "path": path})
	return path, nil
}

// afterCommit derives every secondary view of a committed receipt.
func (s *LedgerService) afterCommit(ctx context.Context, r domain.Receipt) {
	if payload, err := json.Marshal(r); err == nil {
		if err := s.bus.StreamAppend(ctx, domain.StreamReceipts, payload); err != nil {
			s.logger.WarnContext(ctx, "ledger_service: receipt stream append failed",
				slog.Uint64("seq", r.Seq),
				slog.String("error", err.Error()),
			)
		}
	}

	if !r.OK {
		s.logger.InfoContext(ctx, "ledger_service: call rejected",
			slog.Uint64("seq", r.Seq),
			slog.String("function", string(r.Function)),
			slog.String("sender", r.Sender.String()),
			slog.Uint64("code", uint64(r.Code)),
		)
		return
	}

	marketID := r.Args.MarketID
	if r.Function == domain.FnCreateMarket {
		marketID, _ = r.Uint()
	}

	switch r.Function {
	case domain.FnCreateMarket, domain.FnResolve:
		s.projectMarket(ctx, marketID)
	case domain.FnStakeYes, domain.FnStakeNo:
		s.projectMarket(ctx, marketID)
		s.projectStake(ctx, marketID, r.Sender, stakeSide(r.Function))
	case domain.FnWithdraw, domain.FnWithdrawFee:
		amount, _ := r.Uint()
		s.projectClaim(ctx, domain.Claim{
			MarketID: marketID,
			Account:  r.Sender,
			Amount:   amount,
			Fee:      r.Function == domain.FnWithdrawFee,
			Height:   r.Height,
		})
	}

	evt := domain.Event{Type: domain.EventTypeFor(r.Function), Height: r.Height, Receipt: r}
	if r.Function != domain.FnSetAdmin && r.Function != domain.FnMint {
		evt.MarketID = marketID
	}
	s.publish(ctx, evt)
	s.auditLog(ctx, evt.Type, auditDetail(r, evt.MarketID))

	if r.Function == domain.FnResolve {
		s.archiveSettlement(ctx, marketID, r.Height)
	}
	s.notify(ctx, evt)

	s.logger.InfoContext(ctx, "ledger_service: call committed",
		slog.Uint64("seq", r.Seq),
		slog.String("function", string(r.Function)),
		slog.String("sender", r.Sender.String()),
		slog.Uint64("height", r.Height),
	)
}

func stakeSide(f domain.Function) domain.Side {
	if f == domain.FnStakeYes {
		return domain.SideYes
	}
	return domain.SideNo
}

func auditDetail(r domain.Receipt, marketID uint64) map[string]any {
	d := map[string]any{
		"seq":      r.Seq,
		"tx_id":    r.TxID,
		"sender":   r.Sender.String(),
		"function": string(r.Function),
		"height":   r.Height,
	}
	if marketID != 0 {
		d["market_id"] = marketID
	}
	if v, ok := r.Uint(); ok {
		d["value"] = v
	}
	if !r.Args.Principal.IsZero() {
		d["principal"] = r.Args.Principal.String()
	}
	return d
}

func (s *LedgerService) projectMarket(ctx context.Context, id uint64) {
	m, ok := s.chain.Market(id)
	if !ok {
		return
	}
	if err := s.markets.Upsert(ctx, m); err != nil {
		s.logger.WarnContext(ctx, "ledger_service: market projection failed",
			slog.Uint64("market_id", id),
			slog.String("error", err.Error()),
		)
	}
}

func (s *LedgerService) projectStake(ctx context.Context, id uint64, account domain.Principal, side domain.Side) {
	var amount uint64
	s.chain.Read(func(st *ledger.State) { amount = st.StakeOf(id, account, side) })
	err := s.stakes.UpsertStake(ctx, domain.Stake{MarketID: id, Account: account, Side: side, Amount: amount})
	if err != nil {
		s.logger.WarnContext(ctx, "ledger_service: stake projection failed",
			slog.Uint64("market_id", id),
			slog.String("account", account.String()),
			slog.String("error", err.Error()),
		)
	}
}

func (s *LedgerService) projectClaim(ctx context.Context, c domain.Claim) {
	if err := s.stakes.RecordClaim(ctx, c); err != nil && !errors.Is(err, domain.ErrAlreadyExists) {
		s.logger.WarnContext(ctx, "ledger_service: claim projection failed",
			slog.Uint64("market_id", c.MarketID),
			slog.String("account", c.Account.String()),
			slog.String("error", err.Error()),
		)
	}
}

func (s *LedgerService) publish(ctx context.Context, evt domain.Event) {
	payload, err := json.Marshal(evt)
	if err != nil {
		return
	}
	if err := s.bus.Publish(ctx, domain.ChannelLedgerEvents, payload); err != nil {
		s.logger.WarnContext(ctx, "ledger_service: publish event failed",
			slog.String("type", evt.Type),
			slog.String("error", err.Error()),
		)
	}
}

func (s *LedgerService) auditLog(ctx context.Context, event string, detail map[string]any) {
	if err := s.audit.Log(ctx, event, detail); err != nil {
		s.logger.WarnContext(ctx, "ledger_service: audit log failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}

func (s *LedgerService) archiveSettlement(ctx context.Context, id, height uint64) {
	if s.archiver == nil {
		return
	}
	var (
		st domain.Settlement
		ok bool
	)
	s.chain.Read(func(state *ledger.State) { st, ok = state.Settlement(id) })
	if !ok {
		return
	}
	path, err := s.archiver.ArchiveSettlement(ctx, st, height)
	if err != nil {
		s.logger.WarnContext(ctx, "ledger_service: settlement archive failed",
			slog.Uint64("market_id", id),
			slog.String("error", err.Error()),
		)
		return
	}
	s.auditLog(ctx, "settlement_archived", map[string]any{"market_id": id, "path": path})
}

func (s *LedgerService) notify(ctx context.Context, evt domain.Event) {
	if s.notifier == nil {
		return
	}
	var title, msg string
	switch evt.Type {
	case domain.EventMarketCreated:
		m, _ := s.chain.Market(evt.MarketID)
		title = fmt.Sprintf("Market #%d created", evt.MarketID)
		msg = fmt.Sprintf("%s\ndeadline: block %d, fee: %s%%", m.Question, m.Deadline, m.FeePercent())
	case domain.EventMarketResolved:
		title = fmt.Sprintf("Market #%d resolved", evt.MarketID)
		msg = fmt.Sprintf("outcome: %s at block %d", domain.SideFor(evt.Receipt.Args.Outcome), evt.Height)
	case domain.EventFeeWithdrawn:
		amount, _ := evt.Receipt.Uint()
		title = fmt.Sprintf("Market #%d fee withdrawn", evt.MarketID)
		msg = fmt.Sprintf("%d paid to %s", amount, evt.Receipt.Sender)
	default:
		return
	}
	if err := s.notifier.Notify(ctx, evt.Type, title, msg); err != nil {
		s.logger.WarnContext(ctx, "ledger_service: notify failed",
			slog.String("type", evt.Type),
			slog.String("error", err.Error()),
		)
	}
}
