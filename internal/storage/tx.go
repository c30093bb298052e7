package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// MaxTransactionAttempts bounds RunTransaction with the default policy.
const MaxTransactionAttempts = 10

// Beginner is satisfied by *sql.DB.
type Beginner interface {
	BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error)
}

// RetryPolicy decides whether and when a failed transaction is attempted again.
// It holds no state so it can be tested without a database.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: MaxTransactionAttempts, BaseDelay: 5 * time.Millisecond, MaxDelay: 250 * time.Millisecond}
}

// Next reports the delay before the attempt after `attempt` (1-based) failed
// with err, and whether that attempt should happen at all.
func (p RetryPolicy) Next(attempt int, err error) (time.Duration, bool) {
	maxAttempts := p.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = MaxTransactionAttempts
	}
	if err == nil || !IsContention(err) || attempt >= maxAttempts {
		return 0, false
	}
	d := p.BaseDelay
	if d <= 0 {
		return 0, true
	}
	for i := 1; i < attempt; i++ {
		d *= 2
		if p.MaxDelay > 0 && d >= p.MaxDelay {
			return p.MaxDelay, true
		}
	}
	if p.MaxDelay > 0 && d > p.MaxDelay {
		d = p.MaxDelay
	}
	return d, true
}

// IsContention reports errors worth retrying the whole transaction for:
// a busy or locked database, a unique-key race, or an explicit ErrConflict.
func IsContention(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrConflict) {
		return true
	}
	var se *sqlite.Error
	if errors.As(err, &se) {
		code := se.Code()
		switch code & 0xff {
		case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
			return true
		}
		switch code {
		case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
			return true
		}
		return strings.Contains(se.Error(), "UNIQUE constraint failed")
	}
	return false
}

// RunTransaction runs fn in a transaction, retrying the whole transaction per
// policy on contention. Once attempts run out the error wraps ErrTxExhausted.
// fn must not perform external side effects since it may run more than once.
func RunTransaction(ctx context.Context, db Beginner, policy RetryPolicy, fn func(ctx context.Context, tx *sql.Tx) error) error {
	for attempt := 1; ; attempt++ {
		err := runOnce(ctx, db, fn)
		if err == nil {
			return nil
		}
		delay, retry := policy.Next(attempt, err)
		if !retry {
			if IsContention(err) {
				return fmt.Errorf("%w after %d attempts: %w", ErrTxExhausted, attempt, err)
			}
			return err
		}
		if delay <= 0 {
			continue
		}
		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
}

func runOnce(ctx context.Context, db Beginner, fn func(ctx context.Context, tx *sql.Tx) error) (err error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()
	if err = fn(ctx, tx); err != nil {
		return err
	}
	return tx.Commit()
}

// IsExhausted reports whether err came from a transaction that ran out of attempts.
func IsExhausted(err error) bool { return errors.Is(err, ErrTxExhausted) }
