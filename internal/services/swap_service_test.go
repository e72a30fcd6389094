package services

import (
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/swap-desk/backend/internal/custody"
	"github.com/swap-desk/backend/internal/events"
	"github.com/swap-desk/backend/internal/ledger"
	"github.com/swap-desk/backend/internal/metrics"
	"github.com/swap-desk/backend/internal/models"
	"go.uber.org/zap"
)

var (
	owner      = common.HexToAddress("0x0a")
	engineAddr = common.HexToAddress("0xe0")
	factory    = common.HexToAddress("0xfa")
	collateral = common.HexToAddress("0xc0")
	busd       = common.HexToAddress("0xb5")
	dai        = common.HexToAddress("0xda")
	unlisted   = common.HexToAddress("0xee")
	feeSink    = common.HexToAddress("0xfee")

	alice = common.HexToAddress("0xa1")
	bob   = common.HexToAddress("0xb0")
	carol = common.HexToAddress("0xca")
	dave  = common.HexToAddress("0xda7e")

	t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
)

type harness struct {
	t     *testing.T
	ctx   context.Context
	svc   *SwapService
	mem   *ledger.Memory
	vault *custody.Vault
	store *fakeStore
	pub   *recordingPublisher
	audit *recordingAudit
	clock time.Time
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	mem := ledger.NewMemory(collateral, busd, dai)
	h := &harness{
		t:     t,
		ctx:   context.Background(),
		mem:   mem,
		store: newFakeStore(),
		pub:   &recordingPublisher{},
		audit: &recordingAudit{},
		clock: t0,
	}
	h.svc = h.newService()
	require.NoError(t, h.svc.Restore(h.ctx))
	return h
}

// newService builds an engine over the harness ledger and store, with its own
// custody vault, as a restarted process would.
func (h *harness) newService() *SwapService {
	h.vault = custody.NewVault(factory, h.mem.Collateral(), zap.NewNop())
	return NewSwapService(h.vault, h.mem, h.mem.Collateral(), h.mem, h.store, h.audit, h.pub,
		metrics.New(prometheus.NewRegistry()),
		EngineConfig{
			Address:    engineAddr,
			Owner:      owner,
			Collateral: collateral,
			Settings: models.Settings{
				FeeRatePerMille:   20,
				FeeGraceVolume:    big.NewInt(1000),
				FeePaymentAddress: feeSink,
				MaxBidExpiry:      models.DefaultMaxBidExpiry,
			},
			Currencies: []common.Address{busd, dai},
			Now:        func() time.Time { return h.clock },
		},
		zap.NewNop(),
	)
}

// list creates a swap for seller and funds its custody account with
// collateralAmount.
func (h *harness) list(seller common.Address, ask int64, currency, buyer common.Address, collateralAmount int64) *models.Swap {
	h.t.Helper()
	require.NoError(h.t, h.mem.Lock(h.ctx, seller, big.NewInt(collateralAmount)))
	sw, err := h.svc.CreateSwap(h.ctx, seller, big.NewInt(ask), currency, buyer)
	require.NoError(h.t, err)
	require.NoError(h.t, h.mem.Collateral().TransferAll(h.ctx, seller, sw.Wallet))
	return sw
}

// fund mints amount of currency to holder and approves the engine for it.
func (h *harness) fund(holder, currency common.Address, amount int64) {
	h.t.Helper()
	require.NoError(h.t, h.mem.Mint(h.ctx, currency, holder, big.NewInt(amount)))
	tok, err := h.mem.Token(currency)
	require.NoError(h.t, err)
	allowance, err := tok.Allowance(h.ctx, holder, engineAddr)
	require.NoError(h.t, err)
	require.NoError(h.t, tok.Approve(h.ctx, holder, engineAddr, allowance.Add(allowance, big.NewInt(amount))))
}

func (h *harness) balance(currency, holder common.Address) int64 {
	h.t.Helper()
	tok, err := h.mem.Token(currency)
	require.NoError(h.t, err)
	b, err := tok.BalanceOf(h.ctx, holder)
	require.NoError(h.t, err)
	return b.Int64()
}

func (h *harness) restricted(holder common.Address) int64 {
	h.t.Helper()
	b, err := h.mem.Collateral().RestrictedBalanceOf(h.ctx, holder)
	require.NoError(h.t, err)
	return b.Int64()
}

func (h *harness) expiry(d time.Duration) time.Time {
	return h.clock.Add(d)
}

// assertBuckets checks that every swap sits in exactly the bucket of its state.
func (h *harness) assertBuckets() {
	h.t.Helper()
	member := map[uint64][]SwapBucket{}
	for _, b := range []SwapBucket{BucketOpen, BucketCompleted, BucketCanceled} {
		ids, ok := h.svc.Swaps(b)
		require.True(h.t, ok)
		for _, id := range ids {
			member[id] = append(member[id], b)
		}
	}
	want := map[models.SwapState]SwapBucket{
		models.SwapStateCreated:  BucketOpen,
		models.SwapStateSold:     BucketCompleted,
		models.SwapStateCanceled: BucketCanceled,
	}
	for id := uint64(0); ; id++ {
		view, err := h.svc.GetSwap(h.ctx, id)
		require.NoError(h.t, err)
		if !view.Found {
			assert.Len(h.t, member, int(id))
			return
		}
		assert.Equal(h.t, []SwapBucket{want[view.State]}, member[id], "swap %d", id)
	}
}

func TestCreateSwapProvisionsCustodyAccount(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.mem.Lock(h.ctx, alice, big.NewInt(10)))

	sw, err := h.svc.CreateSwap(h.ctx, alice, big.NewInt(700), busd, common.Address{})
	require.NoError(t, err)

	assert.EqualValues(t, 0, sw.ID)
	assert.Equal(t, crypto.CreateAddress(factory, 0), sw.Wallet)
	assert.Equal(t, models.SwapStateCreated, sw.State)
	assert.True(t, sw.IsPublic())

	open, _ := h.svc.Swaps(BucketOpen)
	assert.Equal(t, []uint64{0}, open)
	assert.Equal(t, []uint64{0}, h.svc.SellerSwaps(alice))
	assert.Equal(t, []uint64{0}, h.svc.BuyerSwaps(common.Address{}))

	// no collateral moved by creation
	assert.EqualValues(t, 10, h.restricted(alice))

	ev := h.pub.last()
	assert.Equal(t, events.EventSwapCreated, ev.Type)
	assert.Equal(t, false, ev.Payload["reissued"])
	require.NotEmpty(t, h.audit.entries)
	assert.Equal(t, alice.Hex(), h.audit.entries[len(h.audit.entries)-1].Actor)
}

func TestCreateSwapGuards(t *testing.T) {
	h := newHarness(t)

	_, err := h.svc.CreateSwap(h.ctx, alice, big.NewInt(1), collateral, common.Address{})
	assert.ErrorIs(t, err, ErrInvalidCurrency)
	assert.ErrorIs(t, err, ErrCollateralAsset)

	_, err = h.svc.CreateSwap(h.ctx, alice, big.NewInt(1), unlisted, common.Address{})
	assert.ErrorIs(t, err, ErrInvalidCurrency)

	_, err = h.svc.CreateSwap(h.ctx, alice, big.NewInt(0), busd, common.Address{})
	assert.ErrorIs(t, err, ErrInvalidAmount)

	_, err = h.svc.CreateSwap(h.ctx, alice, nil, busd, common.Address{})
	assert.ErrorIs(t, err, ErrInvalidAmount)

	_, err = h.svc.CreateSwap(h.ctx, alice, big.NewInt(5), busd, common.Address{})
	assert.ErrorIs(t, err, ErrUnfundedSwap)
	assert.ErrorIs(t, err, ErrNoRestrictedFunds)

	assert.EqualValues(t, 0, h.svc.registry.NextID())
}

func TestCreateSwapReissuesOpenSwap(t *testing.T) {
	h := newHarness(t)
	first := h.list(alice, 700, busd, bob, 50)
	require.Zero(t, h.restricted(alice))

	// the seller no longer holds restricted collateral; reuse skips that guard
	second, err := h.svc.CreateSwap(h.ctx, alice, big.NewInt(900), dai, carol)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, first.Wallet, second.Wallet)
	assert.Equal(t, carol, second.Buyer)
	assert.EqualValues(t, 900, second.Ask.Amount.Int64())
	assert.Equal(t, dai, second.Ask.Currency)

	assert.Empty(t, h.svc.BuyerSwaps(bob))
	assert.Equal(t, []uint64{0}, h.svc.BuyerSwaps(carol))
	assert.Equal(t, []uint64{0}, h.svc.SellerSwaps(alice))
	assert.EqualValues(t, 1, h.svc.registry.NextID())

	assert.Equal(t, []string{events.EventSwapCreated, events.EventSwapCreated}, h.pub.types())
	assert.Equal(t, true, h.pub.last().Payload["reissued"])
}

func TestCreateSwapAfterCancelAllocatesNewSwap(t *testing.T) {
	h := newHarness(t)
	first := h.list(alice, 700, busd, common.Address{}, 50)
	require.NoError(t, h.svc.CancelSwap(h.ctx, alice, first.ID))

	second := h.list(alice, 300, busd, common.Address{}, 10)
	assert.EqualValues(t, 1, second.ID)
	assert.NotEqual(t, first.Wallet, second.Wallet)
	assert.ElementsMatch(t, []uint64{0, 1}, h.svc.SellerSwaps(alice))
	h.assertBuckets()
}

func TestUpdateSwap(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.mem.Lock(h.ctx, alice, big.NewInt(5)))
	sw, err := h.svc.CreateSwap(h.ctx, alice, big.NewInt(700), busd, common.Address{})
	require.NoError(t, err)

	_, err = h.svc.UpdateSwap(h.ctx, alice, 9, big.NewInt(1), busd)
	assert.ErrorIs(t, err, ErrInvalidSwapID)

	_, err = h.svc.UpdateSwap(h.ctx, bob, sw.ID, big.NewInt(1), busd)
	assert.ErrorIs(t, err, ErrNotSeller)

	_, err = h.svc.UpdateSwap(h.ctx, alice, sw.ID, big.NewInt(1), busd)
	assert.ErrorIs(t, err, ErrUnfundedSwap)

	require.NoError(t, h.mem.Collateral().TransferAll(h.ctx, alice, sw.Wallet))

	_, err = h.svc.UpdateSwap(h.ctx, alice, sw.ID, big.NewInt(1), unlisted)
	assert.ErrorIs(t, err, ErrInvalidCurrency)

	_, err = h.svc.UpdateSwap(h.ctx, alice, sw.ID, big.NewInt(0), busd)
	assert.ErrorIs(t, err, ErrInvalidAmount)

	updated, err := h.svc.UpdateSwap(h.ctx, alice, sw.ID, big.NewInt(650), dai)
	require.NoError(t, err)
	assert.EqualValues(t, 650, updated.Ask.Amount.Int64())

	view, err := h.svc.GetSwap(h.ctx, sw.ID)
	require.NoError(t, err)
	assert.Equal(t, dai, view.Ask.Currency)
	assert.EqualValues(t, 5, view.CollateralAmount.Int64())
	assert.Equal(t, events.EventSwapUpdated, h.pub.last().Type)

	require.NoError(t, h.svc.CancelSwap(h.ctx, alice, sw.ID))
	_, err = h.svc.UpdateSwap(h.ctx, alice, sw.ID, big.NewInt(1), busd)
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestCancelSwap(t *testing.T) {
	h := newHarness(t)
	sw := h.list(alice, 700, busd, common.Address{}, 50)
	h.fund(bob, busd, 100)
	_, err := h.svc.PlaceBid(h.ctx, bob, sw.ID, big.NewInt(100), busd, h.expiry(time.Hour))
	require.NoError(t, err)

	assert.ErrorIs(t, h.svc.CancelSwap(h.ctx, bob, sw.ID), ErrNotSeller)
	assert.ErrorIs(t, h.svc.CancelSwap(h.ctx, alice, 4), ErrInvalidSwapID)

	require.NoError(t, h.svc.CancelSwap(h.ctx, alice, sw.ID))
	assert.ErrorIs(t, h.svc.CancelSwap(h.ctx, alice, sw.ID), ErrInvalidState)

	canceled, _ := h.svc.Swaps(BucketCanceled)
	assert.Equal(t, []uint64{0}, canceled)
	assert.Empty(t, h.svc.BidderSwaps(bob))
	assert.Empty(t, h.store.bids)

	// collateral stays in custody
	view, err := h.svc.GetSwap(h.ctx, sw.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SwapStateCanceled, view.State)
	assert.EqualValues(t, 50, view.CollateralAmount.Int64())

	_, err = h.svc.AcceptSwap(h.ctx, bob, sw.ID)
	assert.ErrorIs(t, err, ErrInvalidState)
	_, err = h.svc.PlaceBid(h.ctx, bob, sw.ID, big.NewInt(1), busd, h.expiry(time.Hour))
	assert.ErrorIs(t, err, ErrInvalidState)
	h.assertBuckets()
}

func TestAcceptSwapSettles(t *testing.T) {
	h := newHarness(t)
	sw := h.list(alice, 700, busd, common.Address{}, 500)
	h.fund(bob, busd, 1000)

	sold, err := h.svc.AcceptSwap(h.ctx, bob, sw.ID)
	require.NoError(t, err)

	assert.Equal(t, models.SwapStateSold, sold.State)
	assert.Equal(t, bob, sold.Sale.Buyer)
	assert.EqualValues(t, 700, sold.Sale.Amount.Int64())
	assert.EqualValues(t, 500, sold.Sale.CollateralAmount.Int64())

	assert.EqualValues(t, 700, h.balance(busd, alice))
	assert.EqualValues(t, 300, h.balance(busd, bob))
	assert.EqualValues(t, 0, h.balance(busd, feeSink))
	assert.EqualValues(t, 500, h.restricted(bob))
	assert.EqualValues(t, 0, h.restricted(sw.Wallet))
	assert.EqualValues(t, 700, h.svc.VolumeTraded().Int64())

	// collateral sent to the custody account afterwards does not change the snapshot
	require.NoError(t, h.mem.Lock(h.ctx, sw.Wallet, big.NewInt(3)))
	view, err := h.svc.GetSwap(h.ctx, sw.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 500, view.CollateralAmount.Int64())

	completed, _ := h.svc.Swaps(BucketCompleted)
	assert.Equal(t, []uint64{0}, completed)
	assert.Equal(t, events.EventSwapAccepted, h.pub.last().Type)

	_, err = h.svc.AcceptSwap(h.ctx, carol, sw.ID)
	assert.ErrorIs(t, err, ErrInvalidState)
	h.assertBuckets()
}

func TestFeeBracketAcrossSettlements(t *testing.T) {
	h := newHarness(t)
	h.fund(bob, busd, 1500)

	sellers := []common.Address{alice, carol, dave}
	asks := []int64{700, 400, 400}
	wantSeller := []int64{700, 398, 392}
	wantFees := []int64{0, 2, 10}
	wantVolume := []int64{700, 1100, 1500}

	for i, seller := range sellers {
		sw := h.list(seller, asks[i], busd, common.Address{}, 1)
		_, err := h.svc.AcceptSwap(h.ctx, bob, sw.ID)
		require.NoError(t, err)

		assert.EqualValues(t, wantSeller[i], h.balance(busd, seller), "trade %d", i)
		assert.EqualValues(t, wantFees[i], h.balance(busd, feeSink), "trade %d", i)
		assert.EqualValues(t, wantVolume[i], h.svc.VolumeTraded().Int64(), "trade %d", i)
	}
	assert.EqualValues(t, 0, h.balance(busd, bob))
	assert.Equal(t, "1500", h.store.volume.String())
}

func TestAcceptSwapPrivate(t *testing.T) {
	h := newHarness(t)
	sw := h.list(alice, 100, busd, bob, 5)
	h.fund(bob, busd, 100)
	h.fund(carol, busd, 100)

	_, err := h.svc.AcceptSwap(h.ctx, carol, sw.ID)
	assert.ErrorIs(t, err, ErrNotAuthorizedBuyer)

	_, err = h.svc.AcceptSwap(h.ctx, bob, sw.ID)
	require.NoError(t, err)
}

func TestAcceptSwapWithoutFunds(t *testing.T) {
	h := newHarness(t)
	sw := h.list(alice, 100, busd, common.Address{}, 5)

	require.NoError(t, h.mem.Mint(h.ctx, busd, bob, big.NewInt(100)))
	_, err := h.svc.AcceptSwap(h.ctx, bob, sw.ID)
	assert.ErrorIs(t, err, ErrInsufficientAllowance)
	assert.ErrorIs(t, err, ledger.ErrInsufficientAllowance)

	tok, _ := h.mem.Token(busd)
	require.NoError(t, tok.Approve(h.ctx, carol, engineAddr, big.NewInt(100)))
	_, err = h.svc.AcceptSwap(h.ctx, carol, sw.ID)
	assert.ErrorIs(t, err, ErrInsufficientBalance)

	view, err := h.svc.GetSwap(h.ctx, sw.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SwapStateCreated, view.State)
	assert.EqualValues(t, 5, view.CollateralAmount.Int64())
	assert.Zero(t, h.svc.VolumeTraded().Sign())
}

func TestPlaceBidAutoMatches(t *testing.T) {
	h := newHarness(t)
	sw := h.list(alice, 700, busd, common.Address{}, 40)
	h.fund(bob, busd, 800)

	res, err := h.svc.PlaceBid(h.ctx, bob, sw.ID, big.NewInt(750), busd, h.expiry(time.Hour))
	require.NoError(t, err)
	assert.True(t, res.Matched)
	require.NotNil(t, res.Swap)
	assert.Equal(t, models.SwapStateSold, res.Swap.State)
	assert.EqualValues(t, 750, res.Swap.Sale.Amount.Int64())

	assert.Empty(t, h.svc.BidderSwaps(bob))
	bids := h.svc.GetBuyerBids(bob, []uint64{sw.ID})
	assert.True(t, bids[0].IsEmpty())

	assert.EqualValues(t, 750, h.balance(busd, alice))
	assert.EqualValues(t, 40, h.restricted(bob))
	assert.EqualValues(t, 750, h.svc.VolumeTraded().Int64())

	ev := h.pub.last()
	assert.Equal(t, events.EventBidPlaced, ev.Type)
	assert.Equal(t, true, ev.Payload["matched"])
}

func TestPlaceBidStoresNonMatchingBids(t *testing.T) {
	h := newHarness(t)
	sw := h.list(alice, 700, busd, common.Address{}, 40)
	h.fund(bob, busd, 800)
	h.fund(carol, dai, 800)

	res, err := h.svc.PlaceBid(h.ctx, bob, sw.ID, big.NewInt(600), busd, h.expiry(time.Hour))
	require.NoError(t, err)
	assert.False(t, res.Matched)

	// a different currency never matches, whatever the amount
	res, err = h.svc.PlaceBid(h.ctx, carol, sw.ID, big.NewInt(800), dai, h.expiry(time.Hour))
	require.NoError(t, err)
	assert.False(t, res.Matched)

	bids := h.svc.GetBuyerBids(bob, []uint64{sw.ID, 42})
	require.Len(t, bids, 2)
	assert.EqualValues(t, 600, bids[0].Amount.Int64())
	assert.True(t, bids[1].IsEmpty())

	assert.Len(t, h.svc.SwapBids(sw.ID), 2)
	assert.Equal(t, []uint64{0}, h.svc.BidderSwaps(carol))
	assert.Len(t, h.store.bids, 2)

	view, err := h.svc.GetSwap(h.ctx, sw.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SwapStateCreated, view.State)
	assert.Equal(t, false, h.pub.last().Payload["matched"])
}

func TestPlaceBidReplacesPreviousBid(t *testing.T) {
	h := newHarness(t)
	sw := h.list(alice, 700, busd, common.Address{}, 40)
	h.fund(bob, busd, 800)
	h.fund(bob, dai, 800)

	_, err := h.svc.PlaceBid(h.ctx, bob, sw.ID, big.NewInt(100), busd, h.expiry(time.Hour))
	require.NoError(t, err)
	res, err := h.svc.PlaceBid(h.ctx, bob, sw.ID, big.NewInt(200), dai, h.expiry(2*time.Hour))
	require.NoError(t, err)
	assert.True(t, res.Replaced)

	bids := h.svc.SwapBids(sw.ID)
	require.Len(t, bids, 1)
	assert.EqualValues(t, 200, bids[0].Amount.Int64())
	assert.Equal(t, dai, bids[0].Currency)
	assert.Equal(t, h.expiry(2*time.Hour), bids[0].ExpiryTime)
	assert.Equal(t, []uint64{0}, h.svc.BidderSwaps(bob))
}

func TestPlaceBidGuards(t *testing.T) {
	h := newHarness(t)
	open := h.list(alice, 700, busd, common.Address{}, 40)
	private := h.list(carol, 700, busd, dave, 40)
	canceled := h.list(dave, 700, busd, common.Address{}, 40)
	require.NoError(t, h.svc.CancelSwap(h.ctx, dave, canceled.ID))
	require.NoError(t, h.mem.Lock(h.ctx, common.HexToAddress("0x5e11"), big.NewInt(1)))
	unfunded, err := h.svc.CreateSwap(h.ctx, common.HexToAddress("0x5e11"), big.NewInt(700), busd, common.Address{})
	require.NoError(t, err)
	h.fund(bob, busd, 100)

	hour := h.expiry(time.Hour)
	tests := []struct {
		name   string
		bidder common.Address
		id     uint64
		amount int64
		cur    common.Address
		expiry time.Time
		want   error
	}{
		{"unknown swap", bob, 99, 10, busd, hour, ErrInvalidSwapID},
		{"canceled swap", bob, canceled.ID, 10, busd, hour, ErrInvalidState},
		{"unlisted currency", bob, open.ID, 10, unlisted, hour, ErrInvalidCurrency},
		{"collateral currency", bob, open.ID, 10, collateral, hour, ErrCollateralAsset},
		{"zero amount", bob, open.ID, 0, busd, hour, ErrInvalidAmount},
		{"expiry now", bob, open.ID, 10, busd, h.clock, ErrExpiryInPast},
		{"expiry past", bob, open.ID, 10, busd, h.expiry(-time.Minute), ErrInvalidExpiry},
		{"expiry too far", bob, open.ID, 10, busd, h.expiry(31 * 24 * time.Hour), ErrExpiryTooFar},
		{"seller bids", alice, open.ID, 10, busd, hour, ErrSelfBid},
		{"not designated buyer", bob, private.ID, 10, busd, hour, ErrNotAuthorizedBuyer},
		{"unfunded swap", bob, unfunded.ID, 10, busd, hour, ErrUnfundedSwap},
		{"balance too low", bob, open.ID, 101, busd, hour, ErrInsufficientBalance},
		{"no balance in currency", carol, open.ID, 10, dai, hour, ErrInsufficientBalance},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.svc.PlaceBid(h.ctx, tt.bidder, tt.id, big.NewInt(tt.amount), tt.cur, tt.expiry)
			assert.ErrorIs(t, err, tt.want)
		})
	}

	require.NoError(t, h.mem.Mint(h.ctx, dai, carol, big.NewInt(10)))
	_, err = h.svc.PlaceBid(h.ctx, carol, open.ID, big.NewInt(10), dai, hour)
	assert.ErrorIs(t, err, ErrInsufficientAllowance)

	// exactly at the horizon is accepted
	_, err = h.svc.PlaceBid(h.ctx, bob, open.ID, big.NewInt(10), busd, h.expiry(models.DefaultMaxBidExpiry))
	assert.NoError(t, err)
}

func TestAcceptBid(t *testing.T) {
	h := newHarness(t)
	sw := h.list(alice, 700, busd, common.Address{}, 40)
	other := h.list(dave, 900, busd, common.Address{}, 40)
	h.fund(bob, busd, 1000)
	h.fund(carol, busd, 1000)

	_, err := h.svc.PlaceBid(h.ctx, bob, sw.ID, big.NewInt(500), busd, h.expiry(time.Hour))
	require.NoError(t, err)
	_, err = h.svc.PlaceBid(h.ctx, bob, other.ID, big.NewInt(100), busd, h.expiry(time.Hour))
	require.NoError(t, err)
	_, err = h.svc.PlaceBid(h.ctx, carol, sw.ID, big.NewInt(400), busd, h.expiry(time.Hour))
	require.NoError(t, err)

	_, err = h.svc.AcceptBid(h.ctx, bob, sw.ID, bob)
	assert.ErrorIs(t, err, ErrNotSeller)
	_, err = h.svc.AcceptBid(h.ctx, alice, sw.ID, dave)
	assert.ErrorIs(t, err, ErrNoBidExists)
	_, err = h.svc.AcceptBid(h.ctx, alice, 50, bob)
	assert.ErrorIs(t, err, ErrInvalidSwapID)

	sold, err := h.svc.AcceptBid(h.ctx, alice, sw.ID, bob)
	require.NoError(t, err)
	assert.EqualValues(t, 500, sold.Sale.Amount.Int64())
	assert.Equal(t, bob, sold.Sale.Buyer)
	assert.EqualValues(t, 500, h.balance(busd, alice))
	assert.EqualValues(t, 40, h.restricted(bob))

	// the bidder's bid elsewhere survives; bids on the sold swap are gone
	assert.Equal(t, []uint64{other.ID}, h.svc.BidderSwaps(bob))
	assert.Empty(t, h.svc.BidderSwaps(carol))
	assert.Empty(t, h.svc.SwapBids(sw.ID))
	assert.Len(t, h.store.bids, 1)
	assert.Equal(t, events.EventBidAccepted, h.pub.last().Type)

	_, err = h.svc.AcceptBid(h.ctx, alice, sw.ID, carol)
	assert.ErrorIs(t, err, ErrInvalidState)
	h.assertBuckets()
}

func TestAcceptExpiredBid(t *testing.T) {
	h := newHarness(t)
	sw := h.list(alice, 700, busd, common.Address{}, 40)
	h.fund(bob, busd, 1000)

	_, err := h.svc.PlaceBid(h.ctx, bob, sw.ID, big.NewInt(500), busd, h.expiry(time.Hour))
	require.NoError(t, err)

	h.clock = h.clock.Add(time.Hour)
	_, err = h.svc.AcceptBid(h.ctx, alice, sw.ID, bob)
	assert.ErrorIs(t, err, ErrInvalidBid)
	assert.False(t, errors.Is(err, ErrNoBidExists))

	// expired bids stay visible until removed
	bids := h.svc.GetBuyerBids(bob, []uint64{sw.ID})
	assert.EqualValues(t, 500, bids[0].Amount.Int64())
	assert.Equal(t, []uint64{sw.ID}, h.svc.BidderSwaps(bob))
	require.NoError(t, h.svc.CancelBid(h.ctx, bob, sw.ID))
}

func TestCancelBid(t *testing.T) {
	h := newHarness(t)
	sw := h.list(alice, 700, busd, common.Address{}, 40)
	h.fund(bob, busd, 1000)

	assert.ErrorIs(t, h.svc.CancelBid(h.ctx, bob, 7), ErrInvalidSwapID)
	assert.ErrorIs(t, h.svc.CancelBid(h.ctx, bob, sw.ID), ErrNoBidExists)

	_, err := h.svc.PlaceBid(h.ctx, bob, sw.ID, big.NewInt(100), busd, h.expiry(time.Hour))
	require.NoError(t, err)
	require.NoError(t, h.svc.CancelBid(h.ctx, bob, sw.ID))

	assert.Empty(t, h.svc.BidderSwaps(bob))
	assert.True(t, h.svc.GetBuyerBids(bob, []uint64{sw.ID})[0].IsEmpty())
	assert.Empty(t, h.store.bids)
	assert.Equal(t, events.EventBidCanceled, h.pub.last().Type)
	assert.ErrorIs(t, h.svc.CancelBid(h.ctx, bob, sw.ID), ErrNoBidExists)
}

func TestCancelAllBids(t *testing.T) {
	h := newHarness(t)
	a := h.list(alice, 700, busd, common.Address{}, 40)
	c := h.list(carol, 700, busd, common.Address{}, 40)
	h.fund(bob, busd, 1000)
	h.fund(dave, busd, 1000)

	for _, id := range []uint64{a.ID, c.ID} {
		_, err := h.svc.PlaceBid(h.ctx, bob, id, big.NewInt(100), busd, h.expiry(time.Hour))
		require.NoError(t, err)
	}
	_, err := h.svc.PlaceBid(h.ctx, dave, a.ID, big.NewInt(100), busd, h.expiry(time.Hour))
	require.NoError(t, err)

	ids, err := h.svc.CancelAllBids(h.ctx, bob)
	require.NoError(t, err)
	assert.ElementsMatch(t, []uint64{a.ID, c.ID}, ids)
	assert.Empty(t, h.svc.BidderSwaps(bob))
	assert.Equal(t, []uint64{a.ID}, h.svc.BidderSwaps(dave))
	assert.Len(t, h.store.bids, 1)
	assert.Equal(t, events.EventAllBidsCanceled, h.pub.last().Type)

	_, err = h.svc.CancelAllBids(h.ctx, bob)
	assert.ErrorIs(t, err, ErrNoActiveBids)
	assert.ErrorIs(t, err, ErrNoBidExists)
}

func TestQueriesReturnSentinels(t *testing.T) {
	h := newHarness(t)

	view, err := h.svc.GetSwap(h.ctx, 12)
	require.NoError(t, err)
	assert.False(t, view.Found)
	assert.Zero(t, view.CollateralAmount.Sign())
	require.NotNil(t, view.Ask.Amount)
	assert.Zero(t, view.Ask.Amount.Sign())
	require.NotNil(t, view.Sale.Amount)
	assert.Zero(t, view.Sale.Amount.Sign())
	require.NotNil(t, view.Sale.CollateralAmount)
	assert.Zero(t, view.Sale.CollateralAmount.Sign())
	assert.Equal(t, common.Address{}, view.Seller)
	assert.Equal(t, models.SwapStateCreated, view.State)

	raw, err := json.Marshal(view)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "null")

	bids := h.svc.GetBuyerBids(bob, []uint64{0, 1})
	require.Len(t, bids, 2)
	for _, b := range bids {
		assert.True(t, b.IsEmpty())
		require.NotNil(t, b.Amount)
		assert.Zero(t, b.Amount.Sign())
	}

	_, ok := h.svc.Swaps("archived")
	assert.False(t, ok)
	assert.Empty(t, h.svc.SellerSwaps(alice))
	assert.Empty(t, h.svc.BidderSwaps(alice))
}

func TestOwnerSetters(t *testing.T) {
	h := newHarness(t)

	assert.ErrorIs(t, h.svc.SetFeeRate(h.ctx, alice, 10), ErrUnauthorized)
	assert.ErrorIs(t, h.svc.SetFeeRate(h.ctx, alice, 5000), ErrUnauthorized)
	assert.ErrorIs(t, h.svc.SetFeeRate(h.ctx, owner, 1001), ErrInvalidSetting)
	assert.ErrorIs(t, h.svc.SetFeePaymentAddress(h.ctx, owner, common.Address{}), ErrInvalidSetting)
	assert.ErrorIs(t, h.svc.SetMaxBidExpiry(h.ctx, owner, 0), ErrInvalidSetting)
	assert.ErrorIs(t, h.svc.SetFeeGraceVolume(h.ctx, owner, big.NewInt(-1)), ErrInvalidSetting)
	assert.ErrorIs(t, h.svc.AddCurrency(h.ctx, alice, unlisted), ErrUnauthorized)
	assert.ErrorIs(t, h.svc.RemoveCurrency(h.ctx, alice, busd), ErrUnauthorized)
	assert.ErrorIs(t, h.svc.AddCurrency(h.ctx, owner, collateral), ErrInvalidCurrency)

	require.NoError(t, h.svc.SetFeeRate(h.ctx, owner, 50))
	require.NoError(t, h.svc.SetFeeGraceVolume(h.ctx, owner, big.NewInt(0)))
	require.NoError(t, h.svc.SetFeePaymentAddress(h.ctx, owner, carol))
	require.NoError(t, h.svc.SetMaxBidExpiry(h.ctx, owner, time.Hour))
	require.NoError(t, h.svc.AddCurrency(h.ctx, owner, unlisted))
	require.NoError(t, h.svc.RemoveCurrency(h.ctx, owner, dai))

	st := h.svc.Settings()
	assert.EqualValues(t, 50, st.FeeRatePerMille)
	assert.Zero(t, st.FeeGraceVolume.Sign())
	assert.Equal(t, carol, st.FeePaymentAddress)
	assert.Equal(t, time.Hour, st.MaxBidExpiry)
	assert.True(t, h.svc.IsAllowed(unlisted))
	assert.False(t, h.svc.IsAllowed(dai))
	assert.False(t, h.svc.IsAllowed(collateral))
	assert.Equal(t, st.FeeRatePerMille, h.store.settings.FeeRatePerMille)
	assert.True(t, h.store.currencies[unlisted])
	assert.False(t, h.store.currencies[dai])

	// new settings apply to the next settlement
	sw := h.list(alice, 1000, busd, common.Address{}, 1)
	h.fund(bob, busd, 1000)
	_, err := h.svc.AcceptSwap(h.ctx, bob, sw.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 50, h.balance(busd, carol))
	assert.EqualValues(t, 950, h.balance(busd, alice))

	_, err = h.svc.PlaceBid(h.ctx, bob, 0, big.NewInt(1), dai, h.expiry(time.Minute))
	assert.ErrorIs(t, err, ErrInvalidState)
	_, err = h.svc.CreateSwap(h.ctx, alice, big.NewInt(1), dai, common.Address{})
	assert.ErrorIs(t, err, ErrInvalidCurrency)
}

func TestSettlementRollsBackWhenStoreFails(t *testing.T) {
	h := newHarness(t)
	sw := h.list(alice, 700, busd, common.Address{}, 40)
	h.fund(bob, busd, 700)

	h.store.failCommit = errors.New("connection reset")
	_, err := h.svc.AcceptSwap(h.ctx, bob, sw.ID)
	require.Error(t, err)

	assert.EqualValues(t, 0, h.balance(busd, alice))
	assert.EqualValues(t, 700, h.balance(busd, bob))
	assert.EqualValues(t, 40, h.restricted(sw.Wallet))
	assert.EqualValues(t, 0, h.restricted(bob))
	assert.Zero(t, h.svc.VolumeTraded().Sign())

	view, err := h.svc.GetSwap(h.ctx, sw.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SwapStateCreated, view.State)
	assert.Equal(t, models.SwapStateCreated, h.store.swaps[sw.ID].State)

	tok, _ := h.mem.Token(busd)
	allowance, _ := tok.Allowance(h.ctx, bob, engineAddr)
	assert.EqualValues(t, 700, allowance.Int64())

	h.store.failCommit = nil
	_, err = h.svc.AcceptSwap(h.ctx, bob, sw.ID)
	require.NoError(t, err)
	h.assertBuckets()
}

func TestCreateSwapRollbackReleasesCustodyAccount(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.mem.Lock(h.ctx, alice, big.NewInt(1)))

	h.store.failCommit = errors.New("connection reset")
	_, err := h.svc.CreateSwap(h.ctx, alice, big.NewInt(10), busd, common.Address{})
	require.Error(t, err)
	assert.EqualValues(t, 0, h.svc.registry.NextID())
	assert.Empty(t, h.svc.SellerSwaps(alice))

	h.store.failCommit = nil
	sw, err := h.svc.CreateSwap(h.ctx, alice, big.NewInt(10), busd, common.Address{})
	require.NoError(t, err)
	assert.EqualValues(t, 0, sw.ID)
	assert.Equal(t, crypto.CreateAddress(factory, 0), sw.Wallet)
}

func TestRestoreRebuildsState(t *testing.T) {
	h := newHarness(t)
	sold := h.list(alice, 700, busd, common.Address{}, 40)
	open := h.list(carol, 500, busd, bob, 30)
	gone := h.list(dave, 100, busd, common.Address{}, 1)
	h.fund(bob, busd, 2000)
	_, err := h.svc.AcceptSwap(h.ctx, bob, sold.ID)
	require.NoError(t, err)
	require.NoError(t, h.svc.CancelSwap(h.ctx, dave, gone.ID))
	_, err = h.svc.PlaceBid(h.ctx, bob, open.ID, big.NewInt(200), busd, h.expiry(time.Hour))
	require.NoError(t, err)
	require.NoError(t, h.svc.SetFeeRate(h.ctx, owner, 30))
	require.NoError(t, h.svc.RemoveCurrency(h.ctx, owner, dai))

	before := h.svc
	after := h.newService()
	require.NoError(t, after.Restore(h.ctx))

	for _, b := range []SwapBucket{BucketOpen, BucketCompleted, BucketCanceled} {
		want, _ := before.Swaps(b)
		got, _ := after.Swaps(b)
		assert.ElementsMatch(t, want, got, "bucket %s", b)
	}
	for id := uint64(0); id < 3; id++ {
		want, err := before.GetSwap(h.ctx, id)
		require.NoError(t, err)
		got, err := after.GetSwap(h.ctx, id)
		require.NoError(t, err)
		assert.Equal(t, want.State, got.State)
		assert.Equal(t, want.Wallet, got.Wallet)
		assert.Equal(t, 0, want.CollateralAmount.Cmp(got.CollateralAmount), "swap %d", id)
	}
	assert.Equal(t, []uint64{sold.ID, gone.ID}, after.BuyerSwaps(common.Address{}))
	assert.Equal(t, []uint64{open.ID}, after.BuyerSwaps(bob))
	assert.Equal(t, []uint64{open.ID}, after.BidderSwaps(bob))
	assert.Equal(t, before.VolumeTraded().String(), after.VolumeTraded().String())
	assert.EqualValues(t, 30, after.Settings().FeeRatePerMille)
	assert.True(t, after.IsAllowed(busd))
	assert.False(t, after.IsAllowed(dai))

	// carol's open swap is reused, and new custody accounts do not collide
	h.svc = after
	again, err := after.CreateSwap(h.ctx, carol, big.NewInt(10), busd, common.Address{})
	require.NoError(t, err)
	assert.Equal(t, open.ID, again.ID)

	fresh := h.list(common.HexToAddress("0x5e11"), 10, busd, common.Address{}, 1)
	assert.EqualValues(t, 3, fresh.ID)
	assert.Equal(t, crypto.CreateAddress(factory, 3), fresh.Wallet)
}

func TestRestoreKeepsEmptiedWhitelist(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.svc.RemoveCurrency(h.ctx, owner, busd))
	require.NoError(t, h.svc.RemoveCurrency(h.ctx, owner, dai))
	require.Empty(t, h.svc.Currencies())

	after := h.newService()
	require.NoError(t, after.Restore(h.ctx))

	assert.False(t, after.IsAllowed(busd))
	assert.False(t, after.IsAllowed(dai))
	assert.Empty(t, after.Currencies())
	assert.Empty(t, h.store.currencies)
}

func TestRestoreSeedsWhitelistOnce(t *testing.T) {
	h := newHarness(t)
	assert.True(t, h.store.seeded)
	assert.True(t, h.store.currencies[busd])
	assert.True(t, h.store.currencies[dai])

	require.NoError(t, h.svc.RemoveCurrency(h.ctx, owner, dai))
	after := h.newService()
	require.NoError(t, after.Restore(h.ctx))
	assert.ElementsMatch(t, []common.Address{busd}, after.Currencies())
}

func TestOperationsKeepBucketsConsistent(t *testing.T) {
	h := newHarness(t)
	h.fund(bob, busd, 10_000)

	a := h.list(alice, 100, busd, common.Address{}, 1)
	c := h.list(carol, 100, busd, common.Address{}, 1)
	d := h.list(dave, 100, busd, common.Address{}, 1)
	h.assertBuckets()

	require.NoError(t, h.svc.CancelSwap(h.ctx, carol, c.ID))
	h.assertBuckets()
	_, err := h.svc.AcceptSwap(h.ctx, bob, a.ID)
	require.NoError(t, err)
	h.assertBuckets()
	_, err = h.svc.PlaceBid(h.ctx, bob, d.ID, big.NewInt(100), busd, h.expiry(time.Hour))
	require.NoError(t, err)
	h.assertBuckets()

	e := h.list(carol, 100, busd, common.Address{}, 1)
	assert.EqualValues(t, 3, e.ID)
	h.assertBuckets()

	open, _ := h.svc.Swaps(BucketOpen)
	completed, _ := h.svc.Swaps(BucketCompleted)
	canceled, _ := h.svc.Swaps(BucketCanceled)
	assert.Equal(t, []uint64{3}, open)
	assert.ElementsMatch(t, []uint64{0, 2}, completed)
	assert.Equal(t, []uint64{1}, canceled)
}
