// Package dispatch sends one prompt notification over one channel, guarded
// by send history, member preferences and the notification ledger.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"promptnotify/internal/domain"
	"promptnotify/internal/eventbus"
	"promptnotify/internal/ledger"
	"promptnotify/internal/metrics"
	"promptnotify/internal/storage"
	logx "promptnotify/pkg/logx"
)

const (
	msgRestricted = "already sent via a restricted medium"

	writeTimeout = 5 * time.Second
)

// Result reports what a dispatcher did. Only a non-empty Error is a failure;
// guard skips leave Sent false without an error.
type Result struct {
	Channel        domain.Channel `json:"channel"`
	Attempted      bool           `json:"attempted"`
	Sent           bool           `json:"sent"`
	Retryable      bool           `json:"retryable"`
	Message        string         `json:"message,omitempty"`
	Error          string         `json:"error,omitempty"`
	NotificationID string         `json:"notificationId,omitempty"`
	InvalidTokens  []string       `json:"invalidTokens,omitempty"`
	IsLastEmail    bool           `json:"isLastEmail,omitempty"`
	Unsubscribed   bool           `json:"unsubscribed,omitempty"`
}

func (r Result) Failed() bool { return r.Error != "" }

func (r Result) outcome() string {
	switch {
	case r.Failed():
		return "failed"
	case r.Sent:
		return "sent"
	case !r.Attempted:
		return "not_attempted"
	}
	return "skipped"
}

type Ledger interface {
	GetOrCreate(ctx context.Context, key ledger.Key, build func() domain.Notification) (domain.Notification, bool, error)
	MarkSent(ctx context.Context, id, providerMessageID string) error
	MarkError(ctx context.Context, id, msg string) error
	Reclaim(ctx context.Context, id string) (bool, error)
}

type History interface {
	Get(ctx context.Context, memberID, promptID string) (*domain.SentPrompt, error)
	CreateIfAbsent(ctx context.Context, m domain.Member, c domain.PromptContent) (domain.SentPrompt, error)
	AppendHistory(ctx context.Context, sp domain.SentPrompt, entry domain.SendHistoryEntry) (domain.SentPrompt, error)
}

// Deps are shared by both dispatchers. Bus and Metrics may be nil.
type Deps struct {
	Ledger  Ledger
	History History
	Log     logx.Logger
	Bus     eventbus.Bus
	Metrics *metrics.Metrics
	Now     func() time.Time
}

type base struct {
	Deps
	channel domain.Channel
	log     logx.Logger
}

func newBase(d Deps, ch domain.Channel) base {
	if d.Log.IsZero() {
		d.Log = logx.Nop()
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	return base{Deps: d, channel: ch, log: d.Log.With(logx.String("comp", "dispatch"), logx.String("channel", string(ch)))}
}

func (b *base) result() Result { return Result{Channel: b.channel, Attempted: true} }

func (b *base) done(r Result) Result {
	b.Metrics.Dispatch(string(b.channel), r.outcome())
	return r
}

func (b *base) skip(msg string) Result {
	r := b.result()
	r.Message = msg
	return b.done(r)
}

func (b *base) fail(err error, retryable bool) Result {
	r := b.result()
	r.Error = err.Error()
	r.Retryable = retryable
	return b.done(r)
}

// restricted reports whether history shows this content already went out
// through a medium that blocks this channel.
func (b *base) restricted(ctx context.Context, m domain.Member, c domain.PromptContent) (bool, error) {
	sp, err := b.History.Get(ctx, m.ID, c.PromptID)
	if err != nil {
		return false, fmt.Errorf("read send history: %w", err)
	}
	return sp != nil && sp.SentVia(domain.RestrictedMediums(b.channel)), nil
}

// claim takes ownership of the ledger row for this send. It returns a
// non-nil result when the caller must stop.
func (b *base) claim(ctx context.Context, m domain.Member, c domain.PromptContent, local domain.DateObject, build func() domain.Notification) (domain.Notification, *Result) {
	key := ledger.Key{MemberID: m.ID, ContentID: c.EntryID, Channel: b.channel, UniqueBy: ledger.UniqueBy(local)}
	n, existed, err := b.Ledger.GetOrCreate(ctx, key, build)
	if err != nil {
		if errors.Is(err, storage.ErrTxExhausted) {
			b.Metrics.LedgerExhausted()
		}
		r := b.fail(err, !errors.Is(err, ledger.ErrInvalidKey))
		return n, &r
	}
	if !existed {
		return n, nil
	}
	switch n.Status {
	case domain.StatusError:
		won, err := b.Ledger.Reclaim(ctx, n.ID)
		if err != nil {
			r := b.fail(fmt.Errorf("reclaim notification: %w", err), true)
			return n, &r
		}
		if !won {
			r := b.skip("notification reclaimed by another attempt")
			r.NotificationID = n.ID
			return n, &r
		}
		b.log.Info("dispatch.reclaimed", logx.String("member_id", m.ID), logx.String("notification_id", n.ID))
		return n, nil
	default:
		r := b.skip(fmt.Sprintf("notification already %s", n.Status))
		r.NotificationID = n.ID
		return n, &r
	}
}

// detached outlives the task deadline so bookkeeping after a provider call
// still lands when the call itself ran out of time.
func detached(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), writeTimeout)
}

// sendFailed records a provider failure on the ledger row.
func (b *base) sendFailed(ctx context.Context, n domain.Notification, err error, retryable bool) Result {
	ctx, cancel := detached(ctx)
	defer cancel()
	if merr := b.Ledger.MarkError(ctx, n.ID, err.Error()); merr != nil {
		b.log.Error("dispatch.mark_error failed", logx.String("notification_id", n.ID), logx.Err(merr))
	}
	b.log.Warn("dispatch.send failed",
		logx.String("member_id", n.MemberID), logx.String("notification_id", n.ID),
		logx.Bool("retryable", retryable), logx.Err(err))
	r := b.result()
	r.Error = err.Error()
	r.Retryable = retryable
	r.NotificationID = n.ID
	return r
}

// record marks the row SENT and appends the channel's medium to history.
// The provider already accepted the message, so failures here are logged
// and do not turn the result into a failure.
func (b *base) record(ctx context.Context, m domain.Member, c domain.PromptContent, n domain.Notification, messageID string) Result {
	ctx, cancel := detached(ctx)
	defer cancel()
	if err := b.Ledger.MarkSent(ctx, n.ID, messageID); err != nil {
		b.log.Error("dispatch.mark_sent failed", logx.String("notification_id", n.ID), logx.Err(err))
	}
	sp, err := b.History.CreateIfAbsent(ctx, m, c)
	if err == nil {
		_, err = b.History.AppendHistory(ctx, sp, domain.SendHistoryEntry{
			Medium:   domain.HistoryMedium(b.channel),
			SendDate: b.Now().UTC(),
		})
	}
	if err != nil {
		b.log.Error("dispatch.history failed", logx.String("member_id", m.ID), logx.String("prompt_id", c.PromptID), logx.Err(err))
	}
	r := b.result()
	r.Sent = true
	r.NotificationID = n.ID
	return r
}
