package services

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/swap-desk/backend/internal/events"
	"github.com/swap-desk/backend/internal/ledger"
	"github.com/swap-desk/backend/internal/metrics"
	"github.com/swap-desk/backend/internal/models"
	"github.com/swap-desk/backend/internal/repositories"
	"github.com/swap-desk/backend/internal/uow"
	"go.uber.org/zap"
)

// Custody provisions swap custody accounts and moves the collateral they hold.
type Custody interface {
	uow.Transactional
	Create(ctx context.Context) (common.Address, error)
	Reserve(n uint64)
	BalanceOf(ctx context.Context, account common.Address) (*big.Int, error)
	TransferOut(ctx context.Context, account, to common.Address, amount *big.Int) error
}

// SwapStore is the durable copy of the engine state.
type SwapStore interface {
	uow.Transactional
	SaveSwap(ctx context.Context, s *models.Swap) error
	SaveBid(ctx context.Context, b *models.Bid) error
	DeleteBid(ctx context.Context, swapID uint64, bidder common.Address) error
	SaveVolume(ctx context.Context, volume *big.Int) error
	SaveSettings(ctx context.Context, s models.Settings) error
	SaveCurrency(ctx context.Context, currency common.Address) error
	DeleteCurrency(ctx context.Context, currency common.Address) error
	MarkWhitelistSeeded(ctx context.Context) error
	Load(ctx context.Context) (*repositories.Snapshot, error)
}

type AuditLogger interface {
	Log(ctx context.Context, entry models.AuditLog) error
}

// EngineConfig carries the identities and initial settings of the engine.
type EngineConfig struct {
	// Address is the spender buyers approve for settlement currencies.
	Address    common.Address
	Owner      common.Address
	Collateral common.Address
	Settings   models.Settings
	Currencies []common.Address
	Now        func() time.Time
}

// SwapService is the swap lifecycle engine. Every operation holds mu for its
// whole duration, so operations are totally ordered. Fallible side effects run
// in one unit of work; the in-memory registry and bid book are only touched
// after it commits.
type SwapService struct {
	mu sync.Mutex

	registry  *repositories.SwapRegistry
	bids      *repositories.BidBook
	whitelist *Whitelist
	settings  models.Settings
	volume    *big.Int

	custody    Custody
	currencies ledger.Book
	collateral ledger.Collateral
	tx         *uow.UnitOfWork
	store      SwapStore
	audit      AuditLogger
	publisher  events.Publisher
	metrics    *metrics.Metrics

	engine          common.Address
	owner           common.Address
	collateralAsset common.Address
	now             func() time.Time
	log             *zap.Logger
}

// NewSwapService wires the engine. store, audit and m may be nil. ledgerTx is
// the ledger's transaction participant, if it has one.
func NewSwapService(
	custody Custody,
	currencies ledger.Book,
	collateral ledger.Collateral,
	ledgerTx uow.Transactional,
	store SwapStore,
	audit AuditLogger,
	publisher events.Publisher,
	m *metrics.Metrics,
	cfg EngineConfig,
	log *zap.Logger,
) *SwapService {
	if publisher == nil {
		publisher = events.NopPublisher{}
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	settings := cfg.Settings.Clone()
	if settings.FeeGraceVolume == nil {
		settings.FeeGraceVolume = new(big.Int)
	}

	// Postgres first: it is the only participant whose commit can fail, and
	// the in-process ones must still be able to roll back when it does.
	var participants []uow.Transactional
	if store != nil {
		participants = append(participants, store)
	}
	participants = append(participants, ledgerTx, custody)

	return &SwapService{
		registry:        repositories.NewSwapRegistry(),
		bids:            repositories.NewBidBook(),
		whitelist:       NewWhitelist(cfg.Collateral, cfg.Currencies...),
		settings:        settings,
		volume:          new(big.Int),
		custody:         custody,
		currencies:      currencies,
		collateral:      collateral,
		tx:              uow.New(participants...),
		store:           store,
		audit:           audit,
		publisher:       publisher,
		metrics:         m,
		engine:          cfg.Address,
		owner:           cfg.Owner,
		collateralAsset: cfg.Collateral,
		now:             now,
		log:             log,
	}
}

// Restore rebuilds the in-memory state from the store. Call once, before
// serving traffic.
func (s *SwapService) Restore(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.store == nil {
		return nil
	}
	snap, err := s.store.Load(ctx)
	if err != nil {
		return err
	}

	for _, sw := range snap.Swaps {
		if err := s.registry.Restore(sw); err != nil {
			return err
		}
	}
	s.custody.Reserve(s.registry.NextID())

	restoredBids := 0
	for _, b := range snap.Bids {
		sw, ok := s.registry.Get(b.SwapID)
		if !ok || !sw.IsOpen() {
			continue
		}
		s.bids.Put(b)
		restoredBids++
	}

	if snap.Volume != nil {
		s.volume = new(big.Int).Set(snap.Volume)
	}
	if snap.Settings != nil {
		s.settings = snap.Settings.Clone()
	}
	if snap.WhitelistSeeded {
		s.whitelist = NewWhitelist(s.collateralAsset, snap.Currencies...)
	} else if err := s.seedWhitelist(ctx); err != nil {
		return err
	}

	if s.metrics != nil {
		s.metrics.OpenSwaps.Set(float64(len(s.registry.Open())))
		s.metrics.VolumeTraded.Set(metrics.Float(s.volume))
	}
	s.log.Info("swap engine restored",
		zap.Uint64("swaps", s.registry.NextID()),
		zap.Int("open", len(s.registry.Open())),
		zap.Int("bids", restoredBids),
		zap.String("volume", s.volume.String()),
	)
	return nil
}

// CreateSwap lists collateral for sale, or re-prices the seller's open swap
// if there is one.
func (s *SwapService) CreateSwap(ctx context.Context, seller common.Address, amount *big.Int, currency, buyer common.Address) (_ *models.Swap, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	defer s.observe("create_swap", &err)

	if err := s.checkCurrency(currency); err != nil {
		return nil, err
	}
	if err := checkAmount(amount); err != nil {
		return nil, err
	}

	now := s.now()
	ask := models.Price{Amount: new(big.Int).Set(amount), Currency: currency}
	openID, reissue := s.registry.OpenSwapOf(seller)

	var swap *models.Swap
	if reissue {
		swap, _ = s.registry.Get(openID)
		swap.Ask = ask
		swap.Buyer = buyer
		swap.UpdatedAt = now
	} else {
		restricted, err := s.collateral.RestrictedBalanceOf(ctx, seller)
		if err != nil {
			return nil, err
		}
		if restricted.Sign() == 0 {
			return nil, ErrNoRestrictedFunds
		}
		swap = &models.Swap{
			ID:        s.registry.NextID(),
			Seller:    seller,
			Buyer:     buyer,
			Ask:       ask,
			State:     models.SwapStateCreated,
			CreatedAt: now,
			UpdatedAt: now,
		}
	}

	err = s.tx.Run(ctx, func(ctx context.Context) error {
		if !reissue {
			wallet, err := s.custody.Create(ctx)
			if err != nil {
				return err
			}
			swap.Wallet = wallet
		}
		return s.saveSwap(ctx, swap)
	})
	if err != nil {
		return nil, err
	}

	if reissue {
		if err := s.registry.Reissue(swap.ID, swap.Ask, swap.Buyer, now); err != nil {
			s.log.Error("registry reissue after commit", zap.Uint64("swap_id", swap.ID), zap.Error(err))
		}
	} else {
		swap = s.registry.Insert(swap)
	}

	if s.metrics != nil {
		s.metrics.SwapsCreated.WithLabelValues(strconv.FormatBool(reissue)).Inc()
		s.metrics.OpenSwaps.Set(float64(len(s.registry.Open())))
	}
	s.log.Info("swap created",
		zap.Uint64("swap_id", swap.ID),
		zap.String("seller", seller.Hex()),
		zap.String("wallet", swap.Wallet.Hex()),
		zap.Bool("reissued", reissue),
	)
	s.emit(ctx, seller, events.EventSwapCreated, &swap.ID, map[string]any{
		"swap_id":  swap.ID,
		"seller":   seller.Hex(),
		"wallet":   swap.Wallet.Hex(),
		"buyer":    swap.Buyer.Hex(),
		"amount":   swap.Ask.Amount.String(),
		"currency": swap.Ask.Currency.Hex(),
		"reissued": reissue,
	})
	return swap, nil
}

// UpdateSwap re-prices a funded open swap.
func (s *SwapService) UpdateSwap(ctx context.Context, seller common.Address, id uint64, amount *big.Int, currency common.Address) (_ *models.Swap, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	defer s.observe("update_swap", &err)

	swap, err := s.lookup(id)
	if err != nil {
		return nil, err
	}
	if swap.Seller != seller {
		return nil, ErrNotSeller
	}
	if err := requireOpen(swap); err != nil {
		return nil, err
	}
	if err := s.requireFunded(ctx, swap); err != nil {
		return nil, err
	}
	if err := s.checkCurrency(currency); err != nil {
		return nil, err
	}
	if err := checkAmount(amount); err != nil {
		return nil, err
	}

	now := s.now()
	swap.Ask = models.Price{Amount: new(big.Int).Set(amount), Currency: currency}
	swap.UpdatedAt = now

	if err := s.tx.Run(ctx, func(ctx context.Context) error {
		return s.saveSwap(ctx, swap)
	}); err != nil {
		return nil, err
	}
	if err := s.registry.UpdateAsk(id, swap.Ask, now); err != nil {
		s.log.Error("registry update after commit", zap.Uint64("swap_id", id), zap.Error(err))
	}

	s.log.Info("swap updated", zap.Uint64("swap_id", id), zap.String("amount", amount.String()))
	s.emit(ctx, seller, events.EventSwapUpdated, &swap.ID, map[string]any{
		"swap_id":  id,
		"amount":   swap.Ask.Amount.String(),
		"currency": currency.Hex(),
	})
	return swap, nil
}

// CancelSwap withdraws an open swap. Collateral stays in custody.
func (s *SwapService) CancelSwap(ctx context.Context, seller common.Address, id uint64) (err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	defer s.observe("cancel_swap", &err)

	swap, err := s.lookup(id)
	if err != nil {
		return err
	}
	if swap.Seller != seller {
		return ErrNotSeller
	}
	if err := requireOpen(swap); err != nil {
		return err
	}

	now := s.now()
	swap.State = models.SwapStateCanceled
	swap.UpdatedAt = now
	stale := s.bids.SwapBids(id)

	if err := s.tx.Run(ctx, func(ctx context.Context) error {
		if err := s.saveSwap(ctx, swap); err != nil {
			return err
		}
		return s.deleteBids(ctx, stale)
	}); err != nil {
		return err
	}

	if err := s.registry.MarkCanceled(id, now); err != nil {
		s.log.Error("registry cancel after commit", zap.Uint64("swap_id", id), zap.Error(err))
	}
	purged := s.bids.RemoveSwap(id)

	if s.metrics != nil {
		s.metrics.SwapsCanceled.Inc()
		s.metrics.OpenSwaps.Set(float64(len(s.registry.Open())))
	}
	s.log.Info("swap canceled", zap.Uint64("swap_id", id), zap.Int("purged_bids", len(purged)))
	s.emit(ctx, seller, events.EventSwapCanceled, &swap.ID, map[string]any{
		"swap_id":     id,
		"purged_bids": addressesHex(purged),
	})
	return nil
}

// AcceptSwap buys a swap at its ask.
func (s *SwapService) AcceptSwap(ctx context.Context, buyer common.Address, id uint64) (_ *models.Swap, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	defer s.observe("accept_swap", &err)

	swap, err := s.lookup(id)
	if err != nil {
		return nil, err
	}
	if err := requireOpen(swap); err != nil {
		return nil, err
	}
	if !swap.IsPublic() && swap.Buyer != buyer {
		return nil, ErrPrivateSwap
	}

	sold, err := s.settle(ctx, swap, swap.Ask, buyer, originAcceptSwap)
	if err != nil {
		return nil, err
	}
	s.emit(ctx, buyer, events.EventSwapAccepted, &sold.ID, settlementPayload(sold))
	return sold, nil
}

func (s *SwapService) lookup(id uint64) (*models.Swap, error) {
	swap, ok := s.registry.Get(id)
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrInvalidSwapID, id)
	}
	return swap, nil
}

func requireOpen(swap *models.Swap) error {
	if !swap.IsOpen() {
		return fmt.Errorf("%w: swap %d is %s", ErrInvalidState, swap.ID, swap.State)
	}
	return nil
}

func (s *SwapService) requireFunded(ctx context.Context, swap *models.Swap) error {
	bal, err := s.custody.BalanceOf(ctx, swap.Wallet)
	if err != nil {
		return err
	}
	if bal.Sign() == 0 {
		return fmt.Errorf("%w: custody account %s holds no collateral", ErrUnfundedSwap, swap.Wallet.Hex())
	}
	return nil
}

func (s *SwapService) checkCurrency(currency common.Address) error {
	if currency == s.collateralAsset {
		return ErrCollateralAsset
	}
	if !s.whitelist.IsAllowed(currency) {
		return fmt.Errorf("%w: %s", ErrInvalidCurrency, currency.Hex())
	}
	return nil
}

func checkAmount(amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	return nil
}

func (s *SwapService) saveSwap(ctx context.Context, swap *models.Swap) error {
	if s.store == nil {
		return nil
	}
	return s.store.SaveSwap(ctx, swap)
}

func (s *SwapService) deleteBids(ctx context.Context, bids []*models.Bid) error {
	if s.store == nil {
		return nil
	}
	for _, b := range bids {
		if err := s.store.DeleteBid(ctx, b.SwapID, b.Buyer); err != nil {
			return err
		}
	}
	return nil
}

// emit publishes an event and records it in the audit log. Failures are
// logged, never returned: the operation has already committed.
// seedWhitelist persists the configured whitelist once. Later restarts load
// the persisted set, even when it is empty.
func (s *SwapService) seedWhitelist(ctx context.Context) error {
	return s.tx.Run(ctx, func(ctx context.Context) error {
		for _, c := range s.whitelist.List() {
			if err := s.store.SaveCurrency(ctx, c); err != nil {
				return fmt.Errorf("seed currency %s: %w", c.Hex(), err)
			}
		}
		return s.store.MarkWhitelistSeeded(ctx)
	})
}

func (s *SwapService) emit(ctx context.Context, actor common.Address, eventType string, swapID *uint64, payload map[string]any) {
	if err := s.publisher.Publish(ctx, events.SwapStream, events.Event{Type: eventType, Payload: payload}); err != nil {
		s.log.Warn("event publish failed", zap.String("event", eventType), zap.Error(err))
	}

	if s.audit == nil {
		return
	}
	entry := models.AuditLog{Actor: actor.Hex(), Action: eventType, Meta: payload}
	if swapID != nil {
		id := *swapID
		entry.SwapID = &id
	}
	if err := s.audit.Log(ctx, entry); err != nil {
		s.log.Warn("audit log write failed", zap.String("action", eventType), zap.Error(err))
	}
}

func (s *SwapService) observe(op string, err *error) {
	if *err == nil || s.metrics == nil {
		return
	}
	s.metrics.OperationErrors.WithLabelValues(op).Inc()
}

// ledgerError maps ledger failures onto the service categories, keeping the
// ledger error in the chain.
func ledgerError(err error) error {
	switch {
	case errors.Is(err, ledger.ErrInsufficientAllowance):
		return fmt.Errorf("%w: %w", ErrInsufficientAllowance, err)
	case errors.Is(err, ledger.ErrInsufficientBalance):
		return fmt.Errorf("%w: %w", ErrInsufficientBalance, err)
	default:
		return err
	}
}

func addressesHex(addrs []common.Address) []string {
	out := make([]string, len(addrs))
	for i, a := range addrs {
		out[i] = a.Hex()
	}
	return out
}
