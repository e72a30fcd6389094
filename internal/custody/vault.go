// Package custody provisions the per-swap custody accounts and reads or
// releases the collateral they hold. It makes no decisions of its own.
package custody

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/swap-desk/backend/internal/ledger"
	"github.com/swap-desk/backend/internal/uow"
	"go.uber.org/zap"
)

// Vault derives custody account addresses from a factory address and a nonce,
// the same way contract clones are addressed on EVM chains.
type Vault struct {
	mu         sync.Mutex
	factory    common.Address
	nonce      uint64
	collateral ledger.Collateral
	log        *zap.Logger
}

func NewVault(factory common.Address, collateral ledger.Collateral, log *zap.Logger) *Vault {
	return &Vault{factory: factory, collateral: collateral, log: log}
}

// Create provisions a fresh, empty custody account.
func (v *Vault) Create(_ context.Context) (common.Address, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	account := crypto.CreateAddress(v.factory, v.nonce)
	v.nonce++
	v.log.Debug("custody account created", zap.String("account", account.Hex()), zap.Uint64("nonce", v.nonce-1))
	return account, nil
}

// Reserve makes sure the next Create does not reuse any of the first n nonces.
// Called after restoring swaps from storage.
func (v *Vault) Reserve(n uint64) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if n > v.nonce {
		v.nonce = n
	}
}

// BalanceOf returns the collateral currently held by account.
func (v *Vault) BalanceOf(ctx context.Context, account common.Address) (*big.Int, error) {
	bal, err := v.collateral.RestrictedBalanceOf(ctx, account)
	if err != nil {
		return nil, fmt.Errorf("custody balance of %s: %w", account.Hex(), err)
	}
	return bal, nil
}

// TransferOut releases amount of the account's collateral to recipient.
func (v *Vault) TransferOut(ctx context.Context, account, to common.Address, amount *big.Int) error {
	if err := v.collateral.TransferRestricted(ctx, account, to, amount); err != nil {
		return fmt.Errorf("custody transfer out of %s: %w", account.Hex(), err)
	}
	return nil
}

type nonceTx struct {
	v      *Vault
	start  uint64
	closed bool
}

// Begin implements uow.Transactional. Rolling back releases the nonces of
// accounts created since Begin so their addresses are handed out again.
func (v *Vault) Begin(ctx context.Context) (context.Context, uow.Tx, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return ctx, &nonceTx{v: v, start: v.nonce}, nil
}

func (t *nonceTx) Commit(_ context.Context) error {
	t.closed = true
	return nil
}

func (t *nonceTx) Rollback(_ context.Context) error {
	if t.closed {
		return nil
	}
	t.closed = true
	t.v.mu.Lock()
	defer t.v.mu.Unlock()
	if t.v.nonce > t.start {
		t.v.log.Debug("custody nonces released", zap.Uint64("from", t.start), zap.Uint64("to", t.v.nonce))
		t.v.nonce = t.start
	}
	return nil
}
