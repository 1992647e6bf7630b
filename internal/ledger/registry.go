package ledger

import (
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/alanyoungcy/polystakes/internal/domain"
)

// MaxQuestionLen bounds the question text in characters.
const MaxQuestionLen = 256

// CreateMarket registers a new market and returns its id. Ids start at 1 and
// are never reused.
func (s *State) CreateMarket(caller domain.Principal, p domain.MarketParams) (uint64, error) {
	var id uint64
	err := s.atomically(func(tx *txn) error {
		var err error
		id, err = s.createMarket(tx, caller, p)
		return err
	})
	return id, err
}

func (s *State) createMarket(tx *txn, caller domain.Principal, p domain.MarketParams) (uint64, error) {
	if err := s.requireAdmin(domain.FnCreateMarket, caller); err != nil {
		return 0, err
	}
	if !validParams(p, s.height) {
		return 0, domain.NewLedgerError(domain.FnCreateMarket, domain.KindInvalidParams)
	}

	id := s.lastID + 1
	s.markets[id] = &domain.Market{
		ID:           id,
		Question:     p.Question,
		Deadline:     p.Deadline,
		Resolver:     p.Resolver,
		FeeBps:       p.FeeBps,
		FeeRecipient: p.FeeRecipient,
		CreatedAt:    s.height,
	}
	s.lastID = id
	tx.onRollback(func() {
		delete(s.markets, id)
		s.lastID = id - 1
	})
	return id, nil
}

func validParams(p domain.MarketParams, height uint64) bool {
	switch {
	case p.FeeBps > domain.MaxFeeBps:
		return false
	case p.Deadline <= height:
		return false
	case strings.TrimSpace(p.Question) == "" || utf8.RuneCountInString(p.Question) > MaxQuestionLen:
		return false
	case p.Resolver.IsZero() || p.FeeRecipient.IsZero():
		return false
	}
	return true
}

// Market returns a copy of the market with the given id.
func (s *State) Market(id uint64) (domain.Market, bool) {
	m, ok := s.markets[id]
	if !ok {
		return domain.Market{}, false
	}
	return *m, true
}

// MarketCount returns the number of markets ever created.
func (s *State) MarketCount() uint64 { return s.lastID }

// Markets returns copies of all markets ordered by id.
func (s *State) Markets() []domain.Market {
	out := make([]domain.Market, 0, len(s.markets))
	for _, m := range s.markets {
		out = append(out, *m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *State) market(op domain.Function, id uint64) (*domain.Market, error) {
	m, ok := s.markets[id]
	if !ok {
		return nil, domain.NewLedgerError(op, domain.KindMarketNotFound)
	}
	return m, nil
}
