// Package prompt finds the content a member should receive for their local
// calendar date.
package prompt

import (
	"context"
	"errors"
	"fmt"
	"time"

	"promptnotify/internal/domain"
	"promptnotify/internal/metrics"
	"promptnotify/internal/sendtime"
	"promptnotify/internal/storage"
	logx "promptnotify/pkg/logx"
)

type ContentStore interface {
	GetPromptContentByEntryID(ctx context.Context, entryID string) (domain.PromptContent, error)
	GetPromptContentForDate(ctx context.Context, date string) (domain.PromptContent, error)
}

// Result is the outcome of a date lookup. Content is nil when nothing is
// scheduled for LocalDate, which never changes on retry.
type Result struct {
	Content       *domain.PromptContent
	IsSendTimeNow bool
	LocalDate     domain.DateObject
}

type Resolver struct {
	store   ContentStore
	cache   Cache
	log     logx.Logger
	metrics *metrics.Metrics
}

func NewResolver(store ContentStore, cache Cache, log logx.Logger, m *metrics.Metrics) *Resolver {
	if cache == nil {
		cache = NopCache{}
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Resolver{store: store, cache: cache, log: log.With(logx.String("comp", "prompt")), metrics: m}
}

// GetPromptForMemberOnDate resolves the member-local date of systemDate and
// the content scheduled for it. IsSendTimeNow compares systemDate against
// the member's cached UTC bucket, or a freshly resolved one when uncached.
func (r *Resolver) GetPromptForMemberOnDate(ctx context.Context, m domain.Member, systemDate time.Time) (Result, error) {
	loc, err := m.Location()
	if err != nil {
		return Result{}, fmt.Errorf("member %s zone: %w", m.ID, err)
	}
	local := systemDate.In(loc)
	res := Result{LocalDate: domain.DateObjectOf(local)}

	bucket := m.PromptSendTimeUTC
	if bucket == nil {
		b, err := sendtime.ResolveMember(m, systemDate)
		if err != nil {
			return Result{}, err
		}
		bucket = &b
	}
	res.IsSendTimeNow = sendtime.IsSendWindow(systemDate, *bucket)

	date := res.LocalDate.DateKey()
	res.Content, err = r.lookup(ctx, "date:"+date, func(ctx context.Context) (domain.PromptContent, error) {
		return r.store.GetPromptContentForDate(ctx, date)
	})
	if err != nil {
		return Result{}, err
	}
	return res, nil
}

// GetPromptByEntryID returns nil when the entry does not exist.
func (r *Resolver) GetPromptByEntryID(ctx context.Context, entryID string) (*domain.PromptContent, error) {
	return r.lookup(ctx, "entry:"+entryID, func(ctx context.Context) (domain.PromptContent, error) {
		return r.store.GetPromptContentByEntryID(ctx, entryID)
	})
}

func (r *Resolver) lookup(ctx context.Context, key string, load func(context.Context) (domain.PromptContent, error)) (*domain.PromptContent, error) {
	if c, ok, err := r.cache.Get(ctx, key); err != nil {
		r.metrics.CacheLookup("error")
		r.log.Warn("prompt cache get failed", logx.String("key", key), logx.Err(err))
	} else if ok {
		r.metrics.CacheLookup("hit")
		return c, nil
	} else {
		r.metrics.CacheLookup("miss")
	}

	p, err := load(ctx)
	var out *domain.PromptContent
	switch {
	case err == nil:
		out = &p
	case errors.Is(err, storage.ErrNotFound):
	default:
		return nil, err
	}
	if err := r.cache.Set(ctx, key, out); err != nil {
		r.log.Warn("prompt cache set failed", logx.String("key", key), logx.Err(err))
	}
	return out, nil
}
