// Package sentprompt keeps the per-member feed record of each prompt and its
// send history.
package sentprompt

import (
	"context"
	"errors"
	"time"

	"promptnotify/internal/domain"
	"promptnotify/internal/storage"
	logx "promptnotify/pkg/logx"
)

type Store interface {
	InsertSentPromptIfAbsent(ctx context.Context, sp domain.SentPrompt) (domain.SentPrompt, bool, error)
	GetSentPrompt(ctx context.Context, id string) (domain.SentPrompt, error)
	UpdateSentPrompt(ctx context.Context, id string, fn func(*domain.SentPrompt) error) (domain.SentPrompt, error)
}

// ID is the deterministic record id for a member and prompt.
func ID(memberID, promptID string) string { return memberID + "_" + promptID }

type Tracker struct {
	store Store
	log   logx.Logger
	now   func() time.Time
}

func New(store Store, log logx.Logger) *Tracker {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Tracker{store: store, log: log.With(logx.String("comp", "sentprompt")), now: time.Now}
}

// CreateIfAbsent returns the record for (member, prompt), creating it first
// when missing. Concurrent callers all observe the same single record.
func (t *Tracker) CreateIfAbsent(ctx context.Context, m domain.Member, c domain.PromptContent) (domain.SentPrompt, error) {
	now := t.now().UTC()
	sp, created, err := t.store.InsertSentPromptIfAbsent(ctx, domain.SentPrompt{
		ID:          ID(m.ID, c.PromptID),
		PromptID:    c.PromptID,
		MemberID:    m.ID,
		FirstSentAt: now,
		LastSentAt:  now,
	})
	if err != nil {
		return domain.SentPrompt{}, err
	}
	if created {
		t.log.Debug("sentprompt.created", logx.String("id", sp.ID))
	}
	return sp, nil
}

// Get returns nil when no record exists.
func (t *Tracker) Get(ctx context.Context, memberID, promptID string) (*domain.SentPrompt, error) {
	sp, err := t.store.GetSentPrompt(ctx, ID(memberID, promptID))
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &sp, nil
}

// AppendHistory appends entry to the stored record and bumps lastSentAt.
func (t *Tracker) AppendHistory(ctx context.Context, sp domain.SentPrompt, entry domain.SendHistoryEntry) (domain.SentPrompt, error) {
	if entry.SendDate.IsZero() {
		entry.SendDate = t.now().UTC()
	}
	return t.store.UpdateSentPrompt(ctx, sp.ID, func(cur *domain.SentPrompt) error {
		cur.SendHistory = append(cur.SendHistory, entry)
		if entry.SendDate.After(cur.LastSentAt) {
			cur.LastSentAt = entry.SendDate
		}
		return nil
	})
}
