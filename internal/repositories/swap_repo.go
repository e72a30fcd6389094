package repositories

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/swap-desk/backend/internal/models"
	"github.com/swap-desk/backend/internal/uow"
)

// SwapRepo persists the swap engine state to Postgres. Writes made with a
// context returned by Begin go through that transaction.
type SwapRepo struct {
	pool *pgxpool.Pool
}

func NewSwapRepo(pool *pgxpool.Pool) *SwapRepo {
	return &SwapRepo{pool: pool}
}

// Snapshot is everything needed to rebuild the in-memory engine state.
type Snapshot struct {
	Swaps      []*models.Swap // ordered by id
	Bids       []*models.Bid
	Volume     *big.Int
	Settings   *models.Settings // nil when never saved
	Currencies []common.Address
	// WhitelistSeeded is set once the whitelist has been written, so an
	// empty Currencies means the owner removed everything.
	WhitelistSeeded bool
}

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type txKey struct{}

type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) Commit(ctx context.Context) error   { return t.tx.Commit(ctx) }
func (t *pgTx) Rollback(ctx context.Context) error { return t.tx.Rollback(ctx) }

// Begin implements uow.Transactional.
func (r *SwapRepo) Begin(ctx context.Context) (context.Context, uow.Tx, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return ctx, nil, err
	}
	return context.WithValue(ctx, txKey{}, tx), &pgTx{tx: tx}, nil
}

func (r *SwapRepo) db(ctx context.Context) querier {
	if tx, ok := ctx.Value(txKey{}).(pgx.Tx); ok {
		return tx
	}
	return r.pool
}

func (r *SwapRepo) SaveSwap(ctx context.Context, s *models.Swap) error {
	var soldAt *time.Time
	if s.State == models.SwapStateSold {
		soldAt = &s.Sale.SoldAt
	}
	_, err := r.db(ctx).Exec(ctx, `
		INSERT INTO swaps (id, wallet, seller, buyer, ask_amount, ask_currency, state,
		                   sale_collateral_amount, sale_amount, sale_currency, sale_buyer, sold_at,
		                   created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5::numeric, $6, $7, $8::numeric, $9::numeric, $10, $11, $12, $13, $14)
		ON CONFLICT (id) DO UPDATE SET
			buyer = EXCLUDED.buyer,
			ask_amount = EXCLUDED.ask_amount,
			ask_currency = EXCLUDED.ask_currency,
			state = EXCLUDED.state,
			sale_collateral_amount = EXCLUDED.sale_collateral_amount,
			sale_amount = EXCLUDED.sale_amount,
			sale_currency = EXCLUDED.sale_currency,
			sale_buyer = EXCLUDED.sale_buyer,
			sold_at = EXCLUDED.sold_at,
			updated_at = EXCLUDED.updated_at
	`, int64(s.ID), s.Wallet.Hex(), s.Seller.Hex(), s.Buyer.Hex(),
		numeric(s.Ask.Amount), s.Ask.Currency.Hex(), int16(s.State),
		numeric(s.Sale.CollateralAmount), numeric(s.Sale.Amount), s.Sale.Currency.Hex(), s.Sale.Buyer.Hex(), soldAt,
		s.CreatedAt, s.UpdatedAt)
	return err
}

func (r *SwapRepo) SaveBid(ctx context.Context, b *models.Bid) error {
	_, err := r.db(ctx).Exec(ctx, `
		INSERT INTO bids (swap_id, buyer, amount, currency, expiry_time, placed_at)
		VALUES ($1, $2, $3::numeric, $4, $5, $6)
		ON CONFLICT (swap_id, buyer) DO UPDATE SET
			amount = EXCLUDED.amount,
			currency = EXCLUDED.currency,
			expiry_time = EXCLUDED.expiry_time,
			placed_at = EXCLUDED.placed_at
	`, int64(b.SwapID), b.Buyer.Hex(), numeric(b.Amount), b.Currency.Hex(), b.ExpiryTime, b.PlacedAt)
	return err
}

func (r *SwapRepo) DeleteBid(ctx context.Context, swapID uint64, bidder common.Address) error {
	_, err := r.db(ctx).Exec(ctx, `DELETE FROM bids WHERE swap_id = $1 AND buyer = $2`, int64(swapID), bidder.Hex())
	return err
}

func (r *SwapRepo) SaveVolume(ctx context.Context, volume *big.Int) error {
	_, err := r.db(ctx).Exec(ctx, `
		INSERT INTO engine_state (id, volume_traded) VALUES (1, $1::numeric)
		ON CONFLICT (id) DO UPDATE SET volume_traded = EXCLUDED.volume_traded
	`, numeric(volume))
	return err
}

func (r *SwapRepo) SaveSettings(ctx context.Context, s models.Settings) error {
	_, err := r.db(ctx).Exec(ctx, `
		INSERT INTO engine_settings (id, fee_rate_per_mille, fee_grace_volume, fee_payment_address, max_bid_expiry_seconds)
		VALUES (1, $1, $2::numeric, $3, $4)
		ON CONFLICT (id) DO UPDATE SET
			fee_rate_per_mille = EXCLUDED.fee_rate_per_mille,
			fee_grace_volume = EXCLUDED.fee_grace_volume,
			fee_payment_address = EXCLUDED.fee_payment_address,
			max_bid_expiry_seconds = EXCLUDED.max_bid_expiry_seconds
	`, int32(s.FeeRatePerMille), numeric(s.FeeGraceVolume), s.FeePaymentAddress.Hex(), int64(s.MaxBidExpiry/time.Second))
	return err
}

func (r *SwapRepo) SaveCurrency(ctx context.Context, currency common.Address) error {
	_, err := r.db(ctx).Exec(ctx, `INSERT INTO currencies (address) VALUES ($1) ON CONFLICT DO NOTHING`, currency.Hex())
	return err
}

func (r *SwapRepo) DeleteCurrency(ctx context.Context, currency common.Address) error {
	_, err := r.db(ctx).Exec(ctx, `DELETE FROM currencies WHERE address = $1`, currency.Hex())
	return err
}

func (r *SwapRepo) MarkWhitelistSeeded(ctx context.Context) error {
	_, err := r.db(ctx).Exec(ctx, `
		INSERT INTO engine_state (id, whitelist_seeded) VALUES (1, TRUE)
		ON CONFLICT (id) DO UPDATE SET whitelist_seeded = TRUE
	`)
	return err
}

// Load reads the full engine state.
func (r *SwapRepo) Load(ctx context.Context) (*Snapshot, error) {
	snap := &Snapshot{Volume: new(big.Int)}
	var err error

	if snap.Swaps, err = r.loadSwaps(ctx); err != nil {
		return nil, fmt.Errorf("load swaps: %w", err)
	}
	if snap.Bids, err = r.loadBids(ctx); err != nil {
		return nil, fmt.Errorf("load bids: %w", err)
	}
	if snap.Currencies, err = r.loadCurrencies(ctx); err != nil {
		return nil, fmt.Errorf("load currencies: %w", err)
	}

	var volume string
	err = r.db(ctx).QueryRow(ctx, `
		SELECT volume_traded::text, whitelist_seeded FROM engine_state WHERE id = 1
	`).Scan(&volume, &snap.WhitelistSeeded)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
	case err != nil:
		return nil, fmt.Errorf("load volume: %w", err)
	default:
		if snap.Volume, err = parseNumeric(volume); err != nil {
			return nil, err
		}
	}

	var (
		rate       int32
		grace, fee string
		maxExpiry  int64
	)
	err = r.db(ctx).QueryRow(ctx, `
		SELECT fee_rate_per_mille, fee_grace_volume::text, fee_payment_address, max_bid_expiry_seconds
		FROM engine_settings WHERE id = 1
	`).Scan(&rate, &grace, &fee, &maxExpiry)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
	case err != nil:
		return nil, fmt.Errorf("load settings: %w", err)
	default:
		graceVolume, err := parseNumeric(grace)
		if err != nil {
			return nil, err
		}
		snap.Settings = &models.Settings{
			FeeRatePerMille:   uint32(rate),
			FeeGraceVolume:    graceVolume,
			FeePaymentAddress: common.HexToAddress(fee),
			MaxBidExpiry:      time.Duration(maxExpiry) * time.Second,
		}
	}

	return snap, nil
}

func (r *SwapRepo) loadSwaps(ctx context.Context) ([]*models.Swap, error) {
	rows, err := r.db(ctx).Query(ctx, `
		SELECT id, wallet, seller, buyer, ask_amount::text, ask_currency, state,
		       COALESCE(sale_collateral_amount::text, ''), COALESCE(sale_amount::text, ''),
		       sale_currency, sale_buyer, sold_at, created_at, updated_at
		FROM swaps ORDER BY id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var swaps []*models.Swap
	for rows.Next() {
		var (
			s                                     models.Swap
			id                                    int64
			state                                 int16
			wallet, seller, buyer, askCurrency    string
			askAmount, saleCollateral, saleAmount string
			saleCurrency, saleBuyer               string
			soldAt                                *time.Time
		)
		if err := rows.Scan(&id, &wallet, &seller, &buyer, &askAmount, &askCurrency, &state,
			&saleCollateral, &saleAmount, &saleCurrency, &saleBuyer, &soldAt, &s.CreatedAt, &s.UpdatedAt); err != nil {
			return nil, err
		}
		s.ID = uint64(id)
		s.Wallet = common.HexToAddress(wallet)
		s.Seller = common.HexToAddress(seller)
		s.Buyer = common.HexToAddress(buyer)
		s.State = models.SwapState(state)
		if s.Ask.Amount, err = parseNumeric(askAmount); err != nil {
			return nil, err
		}
		s.Ask.Currency = common.HexToAddress(askCurrency)
		if s.State == models.SwapStateSold {
			if s.Sale.CollateralAmount, err = parseNumeric(saleCollateral); err != nil {
				return nil, err
			}
			if s.Sale.Amount, err = parseNumeric(saleAmount); err != nil {
				return nil, err
			}
			s.Sale.Currency = common.HexToAddress(saleCurrency)
			s.Sale.Buyer = common.HexToAddress(saleBuyer)
			if soldAt != nil {
				s.Sale.SoldAt = *soldAt
			}
		}
		swaps = append(swaps, &s)
	}
	return swaps, rows.Err()
}

func (r *SwapRepo) loadBids(ctx context.Context) ([]*models.Bid, error) {
	rows, err := r.db(ctx).Query(ctx, `
		SELECT swap_id, buyer, amount::text, currency, expiry_time, placed_at
		FROM bids ORDER BY swap_id, placed_at
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var bids []*models.Bid
	for rows.Next() {
		var (
			b                       models.Bid
			swapID                  int64
			buyer, amount, currency string
		)
		if err := rows.Scan(&swapID, &buyer, &amount, &currency, &b.ExpiryTime, &b.PlacedAt); err != nil {
			return nil, err
		}
		b.SwapID = uint64(swapID)
		b.Buyer = common.HexToAddress(buyer)
		b.Currency = common.HexToAddress(currency)
		if b.Amount, err = parseNumeric(amount); err != nil {
			return nil, err
		}
		bids = append(bids, &b)
	}
	return bids, rows.Err()
}

func (r *SwapRepo) loadCurrencies(ctx context.Context) ([]common.Address, error) {
	rows, err := r.db(ctx).Query(ctx, `SELECT address FROM currencies ORDER BY address`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []common.Address
	for rows.Next() {
		var addr string
		if err := rows.Scan(&addr); err != nil {
			return nil, err
		}
		out = append(out, common.HexToAddress(addr))
	}
	return out, rows.Err()
}

// numeric renders an amount for a ::numeric parameter; nil becomes SQL NULL.
func numeric(v *big.Int) *string {
	if v == nil {
		return nil
	}
	s := v.String()
	return &s
}

func parseNumeric(s string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("invalid numeric value %q", s)
	}
	return v, nil
}
