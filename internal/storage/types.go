package storage

import (
	"errors"
	"time"
)

var (
	ErrDisabled = errors.New("storage disabled")
	ErrNotFound = errors.New("not found")
	// ErrConflict marks a transaction body that observed a concurrent write
	// and wants the transaction retried.
	ErrConflict = errors.New("transaction conflict")
	// ErrTxExhausted wraps the last contention error once every attempt failed.
	ErrTxExhausted = errors.New("transaction attempts exhausted")
)

// Config configures the SQLite store.
type Config struct {
	Path        string
	BusyTimeout time.Duration // 0 means 5s
}
