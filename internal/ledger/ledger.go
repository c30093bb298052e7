// Package ledger records the intent to send one notification per
// (member, content, channel, day) and walks it through its status lifecycle.
//
// GetOrCreate is the only thing standing between two racing tasks and a
// duplicate send: whoever inserts the SENDING row owns the dispatch.
package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"promptnotify/internal/domain"
	"promptnotify/internal/storage"
	logx "promptnotify/pkg/logx"
)

var (
	ErrInvalidTransition = errors.New("invalid notification status transition")
	ErrInvalidKey        = errors.New("incomplete ledger key")
)

// DB is satisfied by *sql.DB.
type DB interface {
	storage.Beginner
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Key identifies one ledger row.
type Key struct {
	MemberID  string
	ContentID string
	Channel   domain.Channel
	UniqueBy  string
}

func (k Key) validate() error {
	if k.MemberID == "" || k.ContentID == "" || k.Channel == "" || k.UniqueBy == "" {
		return fmt.Errorf("%w %+v", ErrInvalidKey, k)
	}
	return nil
}

// UniqueBy derives the per-day component of a key from the member-local date.
func UniqueBy(local domain.DateObject) string { return local.DateKey() }

type Ledger struct {
	db     DB
	policy storage.RetryPolicy
	log    logx.Logger
	now    func() time.Time
	newID  func() string
}

func New(db DB, policy storage.RetryPolicy, log logx.Logger) *Ledger {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Ledger{
		db:     db,
		policy: policy,
		log:    log.With(logx.String("comp", "ledger")),
		now:    time.Now,
		newID:  uuid.NewString,
	}
}

const notificationColumns = `id, type, channel, content_id, member_id, unique_by, status, email, token_count,
  provider_message_id, error_message, created_at, updated_at, sent_at`

func scanNotification(r interface{ Scan(...any) error }) (domain.Notification, error) {
	var (
		n                domain.Notification
		typ, ch, status  string
		created, updated int64
		sent             sql.NullInt64
	)
	if err := r.Scan(&n.ID, &typ, &ch, &n.ContentID, &n.MemberID, &n.UniqueBy, &status, &n.Email, &n.TokenCount,
		&n.ProviderMessageID, &n.ErrorMessage, &created, &updated, &sent); err != nil {
		return domain.Notification{}, err
	}
	n.Type = domain.NotificationType(typ)
	n.Channel = domain.Channel(ch)
	n.Status = domain.NotificationStatus(status)
	n.CreatedAt = time.UnixMilli(created).UTC()
	n.UpdatedAt = time.UnixMilli(updated).UTC()
	if sent.Valid {
		t := time.UnixMilli(sent.Int64).UTC()
		n.SentAt = &t
	}
	return n, nil
}

// GetOrCreate returns the row for key. When none exists it inserts build()
// with status SENDING and reports existed=false. Contention is retried per
// the ledger's policy; running out of attempts yields storage.ErrTxExhausted.
func (l *Ledger) GetOrCreate(ctx context.Context, key Key, build func() domain.Notification) (domain.Notification, bool, error) {
	if err := key.validate(); err != nil {
		return domain.Notification{}, false, err
	}
	var (
		out     domain.Notification
		existed bool
	)
	attempts := 0
	err := storage.RunTransaction(ctx, l.db, l.policy, func(ctx context.Context, tx *sql.Tx) error {
		attempts++
		row := tx.QueryRowContext(ctx, `SELECT `+notificationColumns+` FROM notifications
WHERE member_id = ? AND content_id = ? AND channel = ? AND unique_by = ?`,
			key.MemberID, key.ContentID, string(key.Channel), key.UniqueBy)
		n, err := scanNotification(row)
		if err == nil {
			out, existed = n, true
			return nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return err
		}

		var fresh domain.Notification
		if build != nil {
			fresh = build()
		}
		now := l.now().UTC()
		if fresh.ID == "" {
			fresh.ID = l.newID()
		}
		if fresh.Type == "" {
			fresh.Type = domain.NotificationNewPrompt
		}
		fresh.MemberID, fresh.ContentID, fresh.Channel, fresh.UniqueBy = key.MemberID, key.ContentID, key.Channel, key.UniqueBy
		fresh.Status = domain.StatusSending
		fresh.CreatedAt, fresh.UpdatedAt, fresh.SentAt = now, now, nil

		if _, err := tx.ExecContext(ctx, `INSERT INTO notifications(`+notificationColumns+`)
VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			fresh.ID, string(fresh.Type), string(fresh.Channel), fresh.ContentID, fresh.MemberID, fresh.UniqueBy,
			string(fresh.Status), fresh.Email, fresh.TokenCount, fresh.ProviderMessageID, fresh.ErrorMessage,
			now.UnixMilli(), now.UnixMilli(), nil); err != nil {
			return err
		}
		out, existed = fresh, false
		return nil
	})
	if err != nil {
		return domain.Notification{}, false, fmt.Errorf("ledger get-or-create %s/%s/%s/%s: %w",
			key.MemberID, key.ContentID, key.Channel, key.UniqueBy, err)
	}
	if attempts > 1 {
		l.log.Debug("ledger.contention", logx.String("member_id", key.MemberID), logx.Int("attempts", attempts))
	}
	return out, existed, nil
}

func (l *Ledger) Get(ctx context.Context, id string) (domain.Notification, error) {
	row := l.db.QueryRowContext(ctx, `SELECT `+notificationColumns+` FROM notifications WHERE id = ?`, id)
	n, err := scanNotification(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Notification{}, fmt.Errorf("notification %s: %w", id, storage.ErrNotFound)
	}
	return n, err
}

// MarkSent moves a SENDING row to SENT.
func (l *Ledger) MarkSent(ctx context.Context, id, providerMessageID string) error {
	now := l.now().UTC().UnixMilli()
	res, err := l.db.ExecContext(ctx, `UPDATE notifications
SET status = ?, provider_message_id = ?, error_message = '', sent_at = ?, updated_at = ?
WHERE id = ? AND status = ?`,
		string(domain.StatusSent), providerMessageID, now, now, id, string(domain.StatusSending))
	if err != nil {
		return err
	}
	return l.checkTransition(ctx, res, id, domain.StatusSent)
}

// MarkError moves a SENDING row to ERROR so a later attempt may reclaim it.
func (l *Ledger) MarkError(ctx context.Context, id, msg string) error {
	now := l.now().UTC().UnixMilli()
	res, err := l.db.ExecContext(ctx, `UPDATE notifications
SET status = ?, error_message = ?, updated_at = ?
WHERE id = ? AND status = ?`,
		string(domain.StatusError), msg, now, id, string(domain.StatusSending))
	if err != nil {
		return err
	}
	return l.checkTransition(ctx, res, id, domain.StatusError)
}

// Reclaim moves an ERROR row back to SENDING. Exactly one concurrent caller
// gets true; the rest must treat the row as owned by someone else.
func (l *Ledger) Reclaim(ctx context.Context, id string) (bool, error) {
	now := l.now().UTC().UnixMilli()
	res, err := l.db.ExecContext(ctx, `UPDATE notifications
SET status = ?, updated_at = ?
WHERE id = ? AND status = ?`,
		string(domain.StatusSending), now, id, string(domain.StatusError))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (l *Ledger) checkTransition(ctx context.Context, res sql.Result, id string, to domain.NotificationStatus) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 1 {
		return nil
	}
	cur, err := l.Get(ctx, id)
	if err != nil {
		return err
	}
	return fmt.Errorf("%w: %s -> %s (notification %s)", ErrInvalidTransition, cur.Status, to, id)
}
