package services

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/swap-desk/backend/internal/events"
	"github.com/swap-desk/backend/internal/models"
	"go.uber.org/zap"
)

const maxFeeRatePerMille = 1000

func (s *SwapService) SetFeeRate(ctx context.Context, caller common.Address, ratePerMille uint32) error {
	return s.updateSettings(ctx, caller, "fee_rate_set", func(st *models.Settings) error {
		if ratePerMille > maxFeeRatePerMille {
			return fmt.Errorf("%w: fee rate %d exceeds %d per mille", ErrInvalidSetting, ratePerMille, maxFeeRatePerMille)
		}
		st.FeeRatePerMille = ratePerMille
		return nil
	})
}

func (s *SwapService) SetFeeGraceVolume(ctx context.Context, caller common.Address, volume *big.Int) error {
	return s.updateSettings(ctx, caller, "fee_grace_volume_set", func(st *models.Settings) error {
		if volume == nil || volume.Sign() < 0 {
			return fmt.Errorf("%w: grace volume must not be negative", ErrInvalidSetting)
		}
		st.FeeGraceVolume = new(big.Int).Set(volume)
		return nil
	})
}

func (s *SwapService) SetFeePaymentAddress(ctx context.Context, caller, addr common.Address) error {
	return s.updateSettings(ctx, caller, "fee_payment_address_set", func(st *models.Settings) error {
		if addr == (common.Address{}) {
			return fmt.Errorf("%w: fee payment address must be set", ErrInvalidSetting)
		}
		st.FeePaymentAddress = addr
		return nil
	})
}

func (s *SwapService) SetMaxBidExpiry(ctx context.Context, caller common.Address, horizon time.Duration) error {
	return s.updateSettings(ctx, caller, "max_bid_expiry_set", func(st *models.Settings) error {
		if horizon <= 0 {
			return fmt.Errorf("%w: max bid expiry must be positive", ErrInvalidSetting)
		}
		st.MaxBidExpiry = horizon
		return nil
	})
}

// AddCurrency whitelists a settlement currency. The collateral asset is
// rejected.
func (s *SwapService) AddCurrency(ctx context.Context, caller, currency common.Address) (err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	defer s.observe("add_currency", &err)

	if caller != s.owner {
		return ErrUnauthorized
	}
	if currency == s.collateralAsset {
		return ErrCollateralAsset
	}
	if currency == (common.Address{}) {
		return fmt.Errorf("%w: zero address", ErrInvalidCurrency)
	}

	if err := s.tx.Run(ctx, func(ctx context.Context) error {
		if s.store == nil {
			return nil
		}
		return s.store.SaveCurrency(ctx, currency)
	}); err != nil {
		return err
	}
	s.whitelist.Add(currency)

	s.log.Info("currency added", zap.String("currency", currency.Hex()))
	s.emit(ctx, caller, events.EventCurrencyAdded, nil, map[string]any{"currency": currency.Hex()})
	return nil
}

func (s *SwapService) RemoveCurrency(ctx context.Context, caller, currency common.Address) (err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	defer s.observe("remove_currency", &err)

	if caller != s.owner {
		return ErrUnauthorized
	}

	if err := s.tx.Run(ctx, func(ctx context.Context) error {
		if s.store == nil {
			return nil
		}
		return s.store.DeleteCurrency(ctx, currency)
	}); err != nil {
		return err
	}
	s.whitelist.Remove(currency)

	s.log.Info("currency removed", zap.String("currency", currency.Hex()))
	s.emit(ctx, caller, events.EventCurrencyRemoved, nil, map[string]any{"currency": currency.Hex()})
	return nil
}

func (s *SwapService) updateSettings(ctx context.Context, caller common.Address, action string, apply func(*models.Settings) error) (err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	defer s.observe(action, &err)

	if caller != s.owner {
		return ErrUnauthorized
	}

	next := s.settings.Clone()
	if err := apply(&next); err != nil {
		return err
	}

	if err := s.tx.Run(ctx, func(ctx context.Context) error {
		if s.store == nil {
			return nil
		}
		return s.store.SaveSettings(ctx, next)
	}); err != nil {
		return err
	}
	s.settings = next

	s.log.Info("settings updated", zap.String("action", action), zap.String("caller", caller.Hex()))
	s.emit(ctx, caller, events.EventSettingsUpdated, nil, map[string]any{
		"change":              action,
		"fee_rate_per_mille":  next.FeeRatePerMille,
		"fee_grace_volume":    next.FeeGraceVolume.String(),
		"fee_payment_address": next.FeePaymentAddress.Hex(),
		"max_bid_expiry":      next.MaxBidExpiry.String(),
	})
	return nil
}
