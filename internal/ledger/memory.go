package ledger

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/swap-desk/backend/internal/uow"
)

var errTxClosed = errors.New("ledger transaction already closed")

// Memory is an in-process ledger holding any number of tokens. It backs the
// dev server and tests. Changes made through a context returned by Begin are
// journaled and undone on Rollback.
type Memory struct {
	mu         sync.Mutex
	tokens     map[common.Address]*memoryToken
	collateral common.Address
}

func NewMemory(collateral common.Address, currencies ...common.Address) *Memory {
	m := &Memory{
		tokens:     make(map[common.Address]*memoryToken),
		collateral: collateral,
	}
	m.token(collateral)
	for _, c := range currencies {
		m.token(c)
	}
	return m
}

// Token returns the ledger for currency, creating an empty one on first use.
func (m *Memory) Token(currency common.Address) (Token, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.token(currency), nil
}

// CollateralAddress identifies the collateral asset.
func (m *Memory) CollateralAddress() common.Address {
	return m.collateral
}

func (m *Memory) Collateral() Collateral {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.token(m.collateral)
}

// Mint credits a liquid balance out of thin air.
func (m *Memory) Mint(ctx context.Context, currency, to common.Address, amount *big.Int) error {
	if amount.Sign() < 0 {
		return ErrNegativeAmount
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	t := m.token(currency)
	m.adjust(ctx, t.balances, to, amount)
	return nil
}

// Lock credits a restricted collateral balance.
func (m *Memory) Lock(ctx context.Context, to common.Address, amount *big.Int) error {
	if amount.Sign() < 0 {
		return ErrNegativeAmount
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	t := m.token(m.collateral)
	m.adjust(ctx, t.restricted, to, amount)
	return nil
}

// Begin implements uow.Transactional.
func (m *Memory) Begin(ctx context.Context) (context.Context, uow.Tx, error) {
	j := &journal{m: m}
	return context.WithValue(ctx, journalKey{m}, j), j, nil
}

func (m *Memory) token(addr common.Address) *memoryToken {
	t, ok := m.tokens[addr]
	if !ok {
		t = &memoryToken{
			m:          m,
			address:    addr,
			balances:   make(map[common.Address]*big.Int),
			restricted: make(map[common.Address]*big.Int),
			allowances: make(map[allowanceKey]*big.Int),
		}
		m.tokens[addr] = t
	}
	return t
}

// adjust adds delta to book[key] and journals the inverse. Callers hold m.mu.
func (m *Memory) adjust(ctx context.Context, book map[common.Address]*big.Int, key common.Address, delta *big.Int) {
	adjustEntry(book, key, delta)
	if j, ok := ctx.Value(journalKey{m}).(*journal); ok && !j.closed {
		inverse := new(big.Int).Neg(delta)
		j.undo = append(j.undo, func() { adjustEntry(book, key, inverse) })
	}
}

func (m *Memory) adjustAllowance(ctx context.Context, t *memoryToken, key allowanceKey, delta *big.Int) {
	adjustEntry(t.allowances, key, delta)
	if j, ok := ctx.Value(journalKey{m}).(*journal); ok && !j.closed {
		inverse := new(big.Int).Neg(delta)
		j.undo = append(j.undo, func() { adjustEntry(t.allowances, key, inverse) })
	}
}

func adjustEntry[K comparable](book map[K]*big.Int, key K, delta *big.Int) {
	cur, ok := book[key]
	if !ok {
		cur = new(big.Int)
		book[key] = cur
	}
	cur.Add(cur, delta)
}

type journalKey struct{ m *Memory }

// journal records undo steps. Balance changes are additive, so undoing them
// by applying the inverse delta is correct even if unjournaled changes
// interleaved.
type journal struct {
	m      *Memory
	undo   []func()
	closed bool
}

func (j *journal) Commit(context.Context) error {
	j.m.mu.Lock()
	defer j.m.mu.Unlock()
	if j.closed {
		return errTxClosed
	}
	j.closed = true
	j.undo = nil
	return nil
}

func (j *journal) Rollback(context.Context) error {
	j.m.mu.Lock()
	defer j.m.mu.Unlock()
	if j.closed {
		return errTxClosed
	}
	for i := len(j.undo) - 1; i >= 0; i-- {
		j.undo[i]()
	}
	j.closed = true
	j.undo = nil
	return nil
}

type allowanceKey struct {
	owner   common.Address
	spender common.Address
}

type memoryToken struct {
	m          *Memory
	address    common.Address
	balances   map[common.Address]*big.Int
	restricted map[common.Address]*big.Int
	allowances map[allowanceKey]*big.Int
}

func (t *memoryToken) BalanceOf(_ context.Context, holder common.Address) (*big.Int, error) {
	t.m.mu.Lock()
	defer t.m.mu.Unlock()
	return valueOf(t.balances, holder), nil
}

func (t *memoryToken) RestrictedBalanceOf(_ context.Context, holder common.Address) (*big.Int, error) {
	t.m.mu.Lock()
	defer t.m.mu.Unlock()
	return valueOf(t.restricted, holder), nil
}

func (t *memoryToken) Allowance(_ context.Context, owner, spender common.Address) (*big.Int, error) {
	t.m.mu.Lock()
	defer t.m.mu.Unlock()
	return valueOf(t.allowances, allowanceKey{owner, spender}), nil
}

func (t *memoryToken) Approve(ctx context.Context, owner, spender common.Address, amount *big.Int) error {
	if amount.Sign() < 0 {
		return ErrNegativeAmount
	}
	t.m.mu.Lock()
	defer t.m.mu.Unlock()
	key := allowanceKey{owner, spender}
	delta := new(big.Int).Sub(amount, valueOf(t.allowances, key))
	t.m.adjustAllowance(ctx, t, key, delta)
	return nil
}

func (t *memoryToken) Transfer(ctx context.Context, from, to common.Address, amount *big.Int) error {
	t.m.mu.Lock()
	defer t.m.mu.Unlock()
	return t.move(ctx, t.balances, from, to, amount)
}

func (t *memoryToken) TransferFrom(ctx context.Context, spender, from, to common.Address, amount *big.Int) error {
	if amount.Sign() < 0 {
		return ErrNegativeAmount
	}
	t.m.mu.Lock()
	defer t.m.mu.Unlock()

	key := allowanceKey{from, spender}
	if valueOf(t.allowances, key).Cmp(amount) < 0 {
		return fmt.Errorf("%w: %s approved %s to spend less than %s", ErrInsufficientAllowance, from.Hex(), spender.Hex(), amount)
	}
	if err := t.move(ctx, t.balances, from, to, amount); err != nil {
		return err
	}
	t.m.adjustAllowance(ctx, t, key, new(big.Int).Neg(amount))
	return nil
}

func (t *memoryToken) TransferRestricted(ctx context.Context, from, to common.Address, amount *big.Int) error {
	t.m.mu.Lock()
	defer t.m.mu.Unlock()
	return t.move(ctx, t.restricted, from, to, amount)
}

func (t *memoryToken) TransferAll(ctx context.Context, from, to common.Address) error {
	t.m.mu.Lock()
	defer t.m.mu.Unlock()
	if err := t.move(ctx, t.balances, from, to, valueOf(t.balances, from)); err != nil {
		return err
	}
	return t.move(ctx, t.restricted, from, to, valueOf(t.restricted, from))
}

// move transfers amount inside one balance book. Callers hold m.mu.
func (t *memoryToken) move(ctx context.Context, book map[common.Address]*big.Int, from, to common.Address, amount *big.Int) error {
	if amount.Sign() < 0 {
		return ErrNegativeAmount
	}
	if valueOf(book, from).Cmp(amount) < 0 {
		return fmt.Errorf("%w: %s holds less than %s of %s", ErrInsufficientBalance, from.Hex(), amount, t.address.Hex())
	}
	if amount.Sign() == 0 || from == to {
		return nil
	}
	t.m.adjust(ctx, book, from, new(big.Int).Neg(amount))
	t.m.adjust(ctx, book, to, amount)
	return nil
}

func valueOf[K comparable](book map[K]*big.Int, key K) *big.Int {
	if v, ok := book[key]; ok {
		return new(big.Int).Set(v)
	}
	return new(big.Int)
}
