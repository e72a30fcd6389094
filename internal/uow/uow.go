package uow

import (
	"context"
	"errors"
	"fmt"
)

// Tx represents an all-or-nothing transaction, by committing or rolling back
// a set of read/write operations.
type Tx interface {
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// Transactional begins a transaction. The returned context carries the
// transaction so that the participant's own methods can find it.
type Transactional interface {
	Begin(ctx context.Context) (context.Context, Tx, error)
}

// UnitOfWork runs a function against several participants as one transaction.
type UnitOfWork struct {
	participants []Transactional
}

// New returns a UnitOfWork over the given participants. Nil participants are
// skipped so optional stores can be passed unconditionally.
func New(participants ...Transactional) *UnitOfWork {
	u := &UnitOfWork{}
	for _, p := range participants {
		if p != nil {
			u.participants = append(u.participants, p)
		}
	}
	return u
}

// Run executes fn with a context carrying every participant's transaction.
// Either all transactions commit or, if fn or any commit fails, the ones not
// yet committed are rolled back.
func (u *UnitOfWork) Run(ctx context.Context, fn func(ctx context.Context) error) error {
	txs := make([]Tx, 0, len(u.participants))
	for _, p := range u.participants {
		txCtx, tx, err := p.Begin(ctx)
		if err != nil {
			return errors.Join(fmt.Errorf("begin: %w", err), rollback(ctx, txs))
		}
		ctx = txCtx
		txs = append(txs, tx)
	}

	if err := fn(ctx); err != nil {
		return errors.Join(err, rollback(ctx, txs))
	}

	for i, tx := range txs {
		if err := tx.Commit(ctx); err != nil {
			// Participants before i stay committed. Callers list the only
			// participant whose commit can fail first.
			return errors.Join(fmt.Errorf("commit: %w", err), rollback(ctx, txs[i+1:]))
		}
	}
	return nil
}

func rollback(ctx context.Context, txs []Tx) error {
	var errs []error
	for i := len(txs) - 1; i >= 0; i-- {
		if err := txs[i].Rollback(ctx); err != nil {
			errs = append(errs, fmt.Errorf("rollback: %w", err))
		}
	}
	return errors.Join(errs...)
}
