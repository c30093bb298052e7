package ledger

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"promptnotify/internal/domain"
	"promptnotify/internal/storage"
	logx "promptnotify/pkg/logx"
)

func testKey() Key {
	return Key{MemberID: "m1", ContentID: "e1", Channel: domain.ChannelEmail, UniqueBy: "2024-05-01"}
}

func openLedger(t *testing.T) *Ledger {
	t.Helper()
	st, err := storage.Open(storage.Config{Path: filepath.Join(t.TempDir(), "ledger.db")}, logx.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return New(st.DB(), storage.DefaultRetryPolicy(), logx.Nop())
}

func TestGetOrCreateRetriesAfterAbort(t *testing.T) {
	t.Parallel()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	empty := func() *sqlmock.Rows { return sqlmock.NewRows([]string{"id"}) }

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT (.+) FROM notifications").WillReturnRows(empty())
	mock.ExpectExec("INSERT INTO notifications").WillReturnError(storage.ErrConflict)
	mock.ExpectRollback()
	mock.ExpectBegin()
	mock.ExpectQuery("SELECT (.+) FROM notifications").WillReturnRows(empty())
	mock.ExpectExec("INSERT INTO notifications").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	l := New(db, storage.RetryPolicy{MaxAttempts: 10}, logx.Nop())
	builds := 0
	n, existed, err := l.GetOrCreate(context.Background(), testKey(), func() domain.Notification {
		builds++
		return domain.Notification{Email: "a@example.com"}
	})
	require.NoError(t, err)
	assert.False(t, existed)
	assert.Equal(t, 2, builds)
	assert.Equal(t, domain.StatusSending, n.Status)
	assert.Equal(t, "a@example.com", n.Email)
	assert.NotEmpty(t, n.ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetOrCreateExhaustedIsReported(t *testing.T) {
	t.Parallel()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	for i := 0; i < 3; i++ {
		mock.ExpectBegin()
		mock.ExpectQuery("SELECT (.+) FROM notifications").WillReturnError(storage.ErrConflict)
		mock.ExpectRollback()
	}

	l := New(db, storage.RetryPolicy{MaxAttempts: 3}, logx.Nop())
	_, _, err = l.GetOrCreate(context.Background(), testKey(), nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, storage.ErrTxExhausted))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetOrCreateRejectsIncompleteKey(t *testing.T) {
	t.Parallel()

	l := New(nil, storage.DefaultRetryPolicy(), logx.Nop())
	_, _, err := l.GetOrCreate(context.Background(), Key{MemberID: "m1"}, nil)
	require.ErrorIs(t, err, ErrInvalidKey)
}

func TestGetOrCreateConcurrentSingleOwner(t *testing.T) {
	t.Parallel()
	l := openLedger(t)
	ctx := context.Background()

	const n = 24
	var (
		wg      sync.WaitGroup
		created atomic.Int32
		ids     sync.Map
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, existed, err := l.GetOrCreate(ctx, testKey(), func() domain.Notification { return domain.Notification{} })
			if err != nil {
				t.Errorf("GetOrCreate: %v", err)
				return
			}
			if !existed {
				created.Add(1)
			}
			ids.Store(got.ID, struct{}{})
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), created.Load())
	distinct := 0
	ids.Range(func(any, any) bool { distinct++; return true })
	assert.Equal(t, 1, distinct)

	var rows int
	require.NoError(t, l.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM notifications`).Scan(&rows))
	assert.Equal(t, 1, rows)
}

func TestStatusTransitions(t *testing.T) {
	t.Parallel()
	l := openLedger(t)
	ctx := context.Background()
	now := time.Date(2024, 5, 1, 14, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }

	n, _, err := l.GetOrCreate(ctx, testKey(), nil)
	require.NoError(t, err)

	// SENDING -> ERROR -> SENDING (reclaim) -> SENT
	require.NoError(t, l.MarkError(ctx, n.ID, "smtp 503"))
	got, err := l.Get(ctx, n.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusError, got.Status)
	assert.Equal(t, "smtp 503", got.ErrorMessage)

	won, err := l.Reclaim(ctx, n.ID)
	require.NoError(t, err)
	assert.True(t, won)
	won, err = l.Reclaim(ctx, n.ID)
	require.NoError(t, err)
	assert.False(t, won, "second reclaim must lose")

	require.NoError(t, l.MarkSent(ctx, n.ID, "msg-1"))
	got, err = l.Get(ctx, n.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSent, got.Status)
	assert.Equal(t, "msg-1", got.ProviderMessageID)
	require.NotNil(t, got.SentAt)
	assert.True(t, got.SentAt.Equal(now))

	assert.ErrorIs(t, l.MarkSent(ctx, n.ID, "msg-2"), ErrInvalidTransition)
	assert.ErrorIs(t, l.MarkError(ctx, n.ID, "late"), ErrInvalidTransition)
	won, err = l.Reclaim(ctx, n.ID)
	require.NoError(t, err)
	assert.False(t, won)

	assert.ErrorIs(t, l.MarkSent(ctx, "missing", ""), storage.ErrNotFound)

	again, existed, err := l.GetOrCreate(ctx, testKey(), nil)
	require.NoError(t, err)
	assert.True(t, existed)
	assert.Equal(t, domain.StatusSent, again.Status)
}

func TestUniqueBy(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "2024-03-09", UniqueBy(domain.DateObject{Year: 2024, Month: 3, Day: 9, Hour: 23}))
}
