package sendtime

import (
	"context"
	"time"

	"promptnotify/internal/domain"
	"promptnotify/internal/eventbus"
	logx "promptnotify/pkg/logx"
)

// MemberStore is the slice of the member store the refresher needs.
type MemberStore interface {
	ListMembers(ctx context.Context, afterID string, limit int) ([]domain.Member, error)
	UpdateSendTimeUTC(ctx context.Context, memberID string, utc domain.ClockTime) error
}

type RefreshReport struct {
	Scanned int           `json:"scanned"`
	Updated int           `json:"updated"`
	Failed  int           `json:"failed"`
	Took    time.Duration `json:"took"`
}

// Refresher rewrites cached UTC buckets that drifted, typically after a DST
// change or a zone edit that bypassed the cache.
type Refresher struct {
	store    MemberStore
	log      logx.Logger
	bus      eventbus.Bus
	pageSize int
	now      func() time.Time
}

func NewRefresher(store MemberStore, log logx.Logger, bus eventbus.Bus, pageSize int) *Refresher {
	if log.IsZero() {
		log = logx.Nop()
	}
	if pageSize <= 0 {
		pageSize = 200
	}
	return &Refresher{
		store:    store,
		log:      log.With(logx.String("comp", "sendtime")),
		bus:      bus,
		pageSize: pageSize,
		now:      time.Now,
	}
}

// Run scans every member once. Per-member failures are counted and logged;
// only listing errors and cancellation abort the scan.
func (r *Refresher) Run(ctx context.Context, ref time.Time) (RefreshReport, error) {
	start := r.now()
	if ref.IsZero() {
		ref = start
	}
	var rep RefreshReport
	after := ""
	for {
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		page, err := r.store.ListMembers(ctx, after, r.pageSize)
		if err != nil {
			return rep, err
		}
		for _, m := range page {
			rep.Scanned++
			utc, changed, err := Recompute(m, ref)
			if err != nil {
				rep.Failed++
				r.log.Warn("sendtime.recompute failed", logx.String("member_id", m.ID), logx.Err(err))
				continue
			}
			if !changed {
				continue
			}
			if err := r.store.UpdateSendTimeUTC(ctx, m.ID, utc); err != nil {
				rep.Failed++
				r.log.Warn("sendtime.update failed", logx.String("member_id", m.ID), logx.Err(err))
				continue
			}
			rep.Updated++
			r.log.Debug("sendtime.updated", logx.String("member_id", m.ID), logx.String("utc", utc.String()))
		}
		if len(page) < r.pageSize {
			break
		}
		after = page[len(page)-1].ID
	}
	rep.Took = r.now().Sub(start)
	if r.bus != nil {
		r.bus.Publish(eventbus.Event{Type: eventbus.TypeSendTimeRefreshed, Data: rep})
	}
	r.log.Info("sendtime refresh done",
		logx.Int("scanned", rep.Scanned), logx.Int("updated", rep.Updated), logx.Int("failed", rep.Failed),
		logx.Duration("took", rep.Took))
	return rep, nil
}
