package services

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/swap-desk/backend/internal/metrics"
	"github.com/swap-desk/backend/internal/models"
	"go.uber.org/zap"
)

const (
	originAcceptSwap = "accept_swap"
	originAcceptBid  = "accept_bid"
	originBidMatch   = "bid_match"
)

// settle executes a trade of swap for terms paid by buyer. The caller holds
// s.mu and has checked every guard. Transfers, custody release and
// persistence happen in one unit of work; nothing changes if any step fails.
func (s *SwapService) settle(ctx context.Context, swap *models.Swap, terms models.Price, buyer common.Address, origin string) (*models.Swap, error) {
	token, err := s.currencies.Token(terms.Currency)
	if err != nil {
		return nil, err
	}

	now := s.now()
	amount := new(big.Int).Set(terms.Amount)
	fee, net := CalculateFee(amount, s.volume, s.settings.FeeRatePerMille, s.settings.FeeGraceVolume)
	volume := new(big.Int).Add(s.volume, amount)
	feeSink := s.settings.FeePaymentAddress
	consumed := s.bids.SwapBids(swap.ID)

	sold := swap.Clone()
	err = s.tx.Run(ctx, func(ctx context.Context) error {
		collateral, err := s.custody.BalanceOf(ctx, swap.Wallet)
		if err != nil {
			return err
		}
		if err := token.TransferFrom(ctx, s.engine, buyer, swap.Seller, net); err != nil {
			return err
		}
		if fee.Sign() > 0 {
			if err := token.TransferFrom(ctx, s.engine, buyer, feeSink, fee); err != nil {
				return err
			}
		}
		if collateral.Sign() > 0 {
			if err := s.custody.TransferOut(ctx, swap.Wallet, buyer, collateral); err != nil {
				return err
			}
		}

		sold.State = models.SwapStateSold
		sold.Sale = models.Sale{
			CollateralAmount: collateral,
			Amount:           amount,
			Currency:         terms.Currency,
			Buyer:            buyer,
			SoldAt:           now,
		}
		sold.UpdatedAt = now

		if err := s.saveSwap(ctx, sold); err != nil {
			return err
		}
		if err := s.deleteBids(ctx, consumed); err != nil {
			return err
		}
		if s.store != nil {
			return s.store.SaveVolume(ctx, volume)
		}
		return nil
	})
	if err != nil {
		return nil, ledgerError(err)
	}

	if err := s.registry.MarkSold(swap.ID, sold.Sale, now); err != nil {
		s.log.Error("registry sale after commit", zap.Uint64("swap_id", swap.ID), zap.Error(err))
	}
	s.bids.RemoveSwap(swap.ID)
	s.volume = volume

	if s.metrics != nil {
		s.metrics.Settlements.WithLabelValues(origin).Inc()
		s.metrics.OpenSwaps.Set(float64(len(s.registry.Open())))
		s.metrics.VolumeTraded.Set(metrics.Float(volume))
		s.metrics.FeesCharged.WithLabelValues(terms.Currency.Hex()).Add(metrics.Float(fee))
	}
	s.log.Info("swap settled",
		zap.Uint64("swap_id", swap.ID),
		zap.String("origin", origin),
		zap.String("buyer", buyer.Hex()),
		zap.String("amount", amount.String()),
		zap.String("fee", fee.String()),
		zap.String("collateral", sold.Sale.CollateralAmount.String()),
	)
	return sold, nil
}

func settlementPayload(sold *models.Swap) map[string]any {
	return map[string]any{
		"swap_id":           sold.ID,
		"seller":            sold.Seller.Hex(),
		"buyer":             sold.Sale.Buyer.Hex(),
		"amount":            sold.Sale.Amount.String(),
		"currency":          sold.Sale.Currency.Hex(),
		"collateral_amount": sold.Sale.CollateralAmount.String(),
	}
}
