package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
)

func TestRetryPolicyNext(t *testing.T) {
	t.Parallel()

	p := RetryPolicy{MaxAttempts: 4, BaseDelay: 10 * time.Millisecond, MaxDelay: 25 * time.Millisecond}
	tests := []struct {
		name      string
		attempt   int
		err       error
		wantDelay time.Duration
		wantRetry bool
	}{
		{"nil error", 1, nil, 0, false},
		{"non contention", 1, errors.New("boom"), 0, false},
		{"first conflict", 1, ErrConflict, 10 * time.Millisecond, true},
		{"second conflict doubles", 2, fmt.Errorf("wrap: %w", ErrConflict), 20 * time.Millisecond, true},
		{"capped", 3, ErrConflict, 25 * time.Millisecond, true},
		{"exhausted", 4, ErrConflict, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, retry := p.Next(tt.attempt, tt.err)
			if d != tt.wantDelay || retry != tt.wantRetry {
				t.Fatalf("Next(%d)=(%v,%v) want (%v,%v)", tt.attempt, d, retry, tt.wantDelay, tt.wantRetry)
			}
		})
	}
}

func TestRetryPolicyDefaultsToTenAttempts(t *testing.T) {
	t.Parallel()

	var p RetryPolicy
	if _, retry := p.Next(MaxTransactionAttempts-1, ErrConflict); !retry {
		t.Fatalf("expected retry before the bound")
	}
	if _, retry := p.Next(MaxTransactionAttempts, ErrConflict); retry {
		t.Fatalf("expected no retry at the bound")
	}
}

func TestRunTransactionRetriesOnConflict(t *testing.T) {
	t.Parallel()

	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE things").WillReturnError(ErrConflict)
	mock.ExpectRollback()
	mock.ExpectBegin()
	mock.ExpectExec("UPDATE things").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	calls := 0
	err = RunTransaction(context.Background(), db, RetryPolicy{MaxAttempts: 3}, func(ctx context.Context, tx *sql.Tx) error {
		calls++
		_, err := tx.ExecContext(ctx, "UPDATE things SET x = 1")
		return err
	})
	if err != nil {
		t.Fatalf("RunTransaction: %v", err)
	}
	if calls != 2 {
		t.Fatalf("calls=%d want 2", calls)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestRunTransactionExhausted(t *testing.T) {
	t.Parallel()

	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	for i := 0; i < 2; i++ {
		mock.ExpectBegin()
		mock.ExpectRollback()
	}

	err = RunTransaction(context.Background(), db, RetryPolicy{MaxAttempts: 2}, func(context.Context, *sql.Tx) error {
		return ErrConflict
	})
	if !errors.Is(err, ErrTxExhausted) || !IsExhausted(err) {
		t.Fatalf("want ErrTxExhausted, got %v", err)
	}
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("expected the last cause to stay wrapped, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestRunTransactionDoesNotRetryOtherErrors(t *testing.T) {
	t.Parallel()

	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectRollback()

	boom := errors.New("boom")
	calls := 0
	err = RunTransaction(context.Background(), db, DefaultRetryPolicy(), func(context.Context, *sql.Tx) error {
		calls++
		return boom
	})
	if !errors.Is(err, boom) || errors.Is(err, ErrTxExhausted) {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 1 {
		t.Fatalf("calls=%d want 1", calls)
	}
}

func TestIsContention(t *testing.T) {
	t.Parallel()

	if IsContention(nil) {
		t.Fatalf("nil is not contention")
	}
	if IsContention(sql.ErrNoRows) {
		t.Fatalf("ErrNoRows is not contention")
	}
	if !IsContention(fmt.Errorf("x: %w", ErrConflict)) {
		t.Fatalf("wrapped ErrConflict is contention")
	}
}
