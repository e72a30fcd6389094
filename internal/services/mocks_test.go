package services

import (
	"context"
	"math/big"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/swap-desk/backend/internal/events"
	"github.com/swap-desk/backend/internal/models"
	"github.com/swap-desk/backend/internal/repositories"
	"github.com/swap-desk/backend/internal/uow"
)

type bidKey struct {
	swapID uint64
	bidder common.Address
}

// fakeStore is an in-memory SwapStore. Writes made inside a transaction are
// staged and only applied on commit; failCommit makes every commit fail.
type fakeStore struct {
	mu         sync.Mutex
	swaps      map[uint64]*models.Swap
	bids       map[bidKey]*models.Bid
	volume     *big.Int
	settings   *models.Settings
	currencies map[common.Address]bool
	seeded     bool
	failCommit error
	commits    int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		swaps:      make(map[uint64]*models.Swap),
		bids:       make(map[bidKey]*models.Bid),
		volume:     new(big.Int),
		currencies: make(map[common.Address]bool),
	}
}

type fakeTxKey struct{}

type fakeTx struct {
	store *fakeStore
	ops   []func()
}

func (s *fakeStore) Begin(ctx context.Context) (context.Context, uow.Tx, error) {
	tx := &fakeTx{store: s}
	return context.WithValue(ctx, fakeTxKey{}, tx), tx, nil
}

func (t *fakeTx) Commit(context.Context) error {
	if t.store.failCommit != nil {
		return t.store.failCommit
	}
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	for _, op := range t.ops {
		op()
	}
	t.store.commits++
	return nil
}

func (t *fakeTx) Rollback(context.Context) error {
	t.ops = nil
	return nil
}

func (s *fakeStore) apply(ctx context.Context, op func()) {
	if tx, ok := ctx.Value(fakeTxKey{}).(*fakeTx); ok {
		tx.ops = append(tx.ops, op)
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	op()
}

func (s *fakeStore) SaveSwap(ctx context.Context, sw *models.Swap) error {
	c := sw.Clone()
	s.apply(ctx, func() { s.swaps[c.ID] = c })
	return nil
}

func (s *fakeStore) SaveBid(ctx context.Context, b *models.Bid) error {
	c := b.Clone()
	s.apply(ctx, func() { s.bids[bidKey{c.SwapID, c.Buyer}] = c })
	return nil
}

func (s *fakeStore) DeleteBid(ctx context.Context, swapID uint64, bidder common.Address) error {
	s.apply(ctx, func() { delete(s.bids, bidKey{swapID, bidder}) })
	return nil
}

func (s *fakeStore) SaveVolume(ctx context.Context, volume *big.Int) error {
	v := new(big.Int).Set(volume)
	s.apply(ctx, func() { s.volume = v })
	return nil
}

func (s *fakeStore) SaveSettings(ctx context.Context, st models.Settings) error {
	c := st.Clone()
	s.apply(ctx, func() { s.settings = &c })
	return nil
}

func (s *fakeStore) SaveCurrency(ctx context.Context, currency common.Address) error {
	s.apply(ctx, func() { s.currencies[currency] = true })
	return nil
}

func (s *fakeStore) DeleteCurrency(ctx context.Context, currency common.Address) error {
	s.apply(ctx, func() { delete(s.currencies, currency) })
	return nil
}

func (s *fakeStore) MarkWhitelistSeeded(ctx context.Context) error {
	s.apply(ctx, func() { s.seeded = true })
	return nil
}

func (s *fakeStore) Load(context.Context) (*repositories.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := &repositories.Snapshot{Volume: new(big.Int).Set(s.volume), WhitelistSeeded: s.seeded}
	for _, sw := range s.swaps {
		snap.Swaps = append(snap.Swaps, sw.Clone())
	}
	sort.Slice(snap.Swaps, func(i, j int) bool { return snap.Swaps[i].ID < snap.Swaps[j].ID })
	for _, b := range s.bids {
		snap.Bids = append(snap.Bids, b.Clone())
	}
	if s.settings != nil {
		c := s.settings.Clone()
		snap.Settings = &c
	}
	for c := range s.currencies {
		snap.Currencies = append(snap.Currencies, c)
	}
	return snap, nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (p *recordingPublisher) Publish(_ context.Context, stream string, event events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if stream == events.SwapStream {
		p.events = append(p.events, event)
	}
	return nil
}

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.events))
	for i, e := range p.events {
		out[i] = e.Type
	}
	return out
}

func (p *recordingPublisher) last() events.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.events) == 0 {
		return events.Event{}
	}
	return p.events[len(p.events)-1]
}

type recordingAudit struct {
	mu      sync.Mutex
	entries []models.AuditLog
}

func (a *recordingAudit) Log(_ context.Context, entry models.AuditLog) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = append(a.entries, entry)
	return nil
}
