// Package ledger describes the fungible-asset ledgers the swap engine talks to:
// the collateral asset and the settlement currencies.
package ledger

import (
	"context"
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

var (
	ErrInsufficientBalance   = errors.New("insufficient balance")
	ErrInsufficientAllowance = errors.New("insufficient allowance")
	ErrNegativeAmount        = errors.New("negative amount")
)

// Token is a standard fungible-asset ledger. Methods that move value take the
// acting holder explicitly.
type Token interface {
	BalanceOf(ctx context.Context, holder common.Address) (*big.Int, error)
	Allowance(ctx context.Context, owner, spender common.Address) (*big.Int, error)
	Approve(ctx context.Context, owner, spender common.Address, amount *big.Int) error
	Transfer(ctx context.Context, from, to common.Address, amount *big.Int) error
	TransferFrom(ctx context.Context, spender, from, to common.Address, amount *big.Int) error
}

// Collateral is the collateral asset ledger. Besides the liquid balance it
// tracks a restricted (locked) balance per holder.
type Collateral interface {
	Token
	RestrictedBalanceOf(ctx context.Context, holder common.Address) (*big.Int, error)
	TransferRestricted(ctx context.Context, from, to common.Address, amount *big.Int) error
	// TransferAll moves both the liquid and the restricted balance of from.
	TransferAll(ctx context.Context, from, to common.Address) error
}

// Book resolves a settlement currency identifier to its ledger.
type Book interface {
	Token(currency common.Address) (Token, error)
}
