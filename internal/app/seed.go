package app

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"promptnotify/internal/domain"
	"promptnotify/internal/sendtime"
	logx "promptnotify/pkg/logx"
)

// SeedFile is the import format for -seed.
type SeedFile struct {
	Members     []domain.Member             `json:"members"`
	Contents    []domain.PromptContent      `json:"promptContents"`
	Reflections []domain.ReflectionResponse `json:"reflections,omitempty"`
}

type SeedReport struct {
	Members     int `json:"members"`
	Contents    int `json:"promptContents"`
	Reflections int `json:"reflections"`
}

// Seed upserts the members and prompt contents read from r. Members without
// a cached UTC send time get one resolved at now.
func (a *App) Seed(ctx context.Context, r io.Reader, now time.Time) (SeedReport, error) {
	var f SeedFile
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&f); err != nil {
		return SeedReport{}, fmt.Errorf("decode seed: %w", err)
	}

	var rep SeedReport
	for _, c := range f.Contents {
		if c.EntryID == "" || c.PromptID == "" {
			return rep, fmt.Errorf("prompt content %q: entryId and promptId are required", c.EntryID)
		}
		if _, err := time.Parse(time.DateOnly, c.ScheduledDate); err != nil {
			return rep, fmt.Errorf("prompt content %s: scheduledDate: %w", c.EntryID, err)
		}
		if err := a.store.UpsertPromptContent(ctx, c); err != nil {
			return rep, err
		}
		rep.Contents++
	}
	for _, m := range f.Members {
		if m.ID == "" {
			return rep, fmt.Errorf("member #%d: id is required", rep.Members)
		}
		if m.CreatedAt.IsZero() {
			m.CreatedAt = now.UTC()
		}
		if m.PromptSendTimeUTC == nil {
			utc, err := sendtime.ResolveMember(m, now)
			if err != nil {
				return rep, fmt.Errorf("member %s: %w", m.ID, err)
			}
			m.PromptSendTimeUTC = &utc
		}
		if err := a.store.UpsertMember(ctx, m); err != nil {
			return rep, err
		}
		rep.Members++
	}
	for _, rr := range f.Reflections {
		if err := a.store.AddReflectionResponse(ctx, rr); err != nil {
			return rep, err
		}
		rep.Reflections++
	}
	a.log.Info("seed imported",
		logx.Int("members", rep.Members),
		logx.Int("contents", rep.Contents),
		logx.Int("reflections", rep.Reflections),
	)
	return rep, nil
}
