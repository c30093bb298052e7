package orchestrator

import (
	"context"
	"errors"
	"sync"
	"time"

	"promptnotify/internal/domain"
	"promptnotify/internal/eventbus"
	"promptnotify/internal/metrics"
	"promptnotify/internal/sendtime"
	"promptnotify/internal/task/engine"
	logx "promptnotify/pkg/logx"
)

type MemberLister interface {
	ListMembersBySendTimeUTC(ctx context.Context, bucket domain.ClockTime, afterID string, limit int) ([]domain.Member, error)
}

// Submitter is satisfied by *engine.Service.
type Submitter interface {
	Submit(ctx context.Context, t engine.Task) error
}

type BatchConfig struct {
	PageSize      int
	MemberTimeout time.Duration
}

type MemberFailure struct {
	MemberID  string `json:"memberId"`
	Error     string `json:"error"`
	Retryable bool   `json:"retryable"`
	Attempts  int    `json:"attempts"`
}

type BatchReport struct {
	Bucket     string          `json:"bucket"`
	SystemDate time.Time       `json:"systemDate"`
	Members    int             `json:"members"`
	Processed  int             `json:"processed"`
	Skipped    int             `json:"skipped"`
	Failed     int             `json:"failed"`
	Failures   []MemberFailure `json:"failures,omitempty"`
	Took       time.Duration   `json:"took"`
}

// Batch fans a UTC bucket out into one engine task per member.
type Batch struct {
	orch    *Orchestrator
	members MemberLister
	engine  Submitter
	bus     eventbus.Bus
	metrics *metrics.Metrics
	log     logx.Logger

	mu  sync.RWMutex
	cfg BatchConfig
}

func NewBatch(orch *Orchestrator, members MemberLister, eng Submitter, cfg BatchConfig, bus eventbus.Bus, m *metrics.Metrics, log logx.Logger) *Batch {
	if log.IsZero() {
		log = logx.Nop()
	}
	b := &Batch{orch: orch, members: members, engine: eng, bus: bus, metrics: m, log: log.With(logx.String("comp", "batch"))}
	b.Apply(cfg)
	return b
}

func (b *Batch) Apply(cfg BatchConfig) {
	if cfg.PageSize <= 0 {
		cfg.PageSize = 100
	}
	b.mu.Lock()
	b.cfg = cfg
	b.mu.Unlock()
}

func (b *Batch) config() BatchConfig {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.cfg
}

// CronJob adapts RunBucket to a scheduler job. The firing time is truncated
// to its quarter hour to pick the bucket.
func (b *Batch) CronJob() func(ctx context.Context, firedAt time.Time) error {
	return func(ctx context.Context, firedAt time.Time) error {
		at := firedAt.UTC()
		rep, err := b.RunBucket(ctx, sendtime.BucketOf(at), at)
		if err != nil {
			return err
		}
		if rep.Failed > 0 {
			// Members already got their own retries.
			return engine.NoRetry(errors.New("batch finished with member failures"))
		}
		return nil
	}
}

type memberOutcome struct {
	result   Result
	err      error
	attempts int
}

// RunBucket processes every member cached in bucket. Pages are handled one at
// a time and each page waits for all of its tasks before the next is read.
func (b *Batch) RunBucket(ctx context.Context, bucket domain.ClockTime, systemDate time.Time) (BatchReport, error) {
	cfg := b.config()
	start := time.Now()
	rep := BatchReport{Bucket: bucket.String(), SystemDate: systemDate.UTC()}
	dateObj := domain.DateObjectOf(systemDate.UTC())

	after := ""
	for {
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		page, err := b.members.ListMembersBySendTimeUTC(ctx, bucket, after, cfg.PageSize)
		if err != nil {
			return rep, err
		}
		if len(page) == 0 {
			break
		}
		b.runPage(ctx, page, bucket, dateObj, cfg, &rep)
		if len(page) < cfg.PageSize {
			break
		}
		after = page[len(page)-1].ID
	}

	rep.Took = time.Since(start)
	if b.bus != nil {
		b.bus.Publish(eventbus.Event{Type: eventbus.TypeBatchCompleted, Data: rep})
	}
	b.log.Info("batch done",
		logx.String("bucket", rep.Bucket),
		logx.Int("members", rep.Members), logx.Int("processed", rep.Processed),
		logx.Int("skipped", rep.Skipped), logx.Int("failed", rep.Failed),
		logx.Duration("took", rep.Took))
	return rep, nil
}

func (b *Batch) runPage(ctx context.Context, page []domain.Member, bucket domain.ClockTime, dateObj domain.DateObject, cfg BatchConfig, rep *BatchReport) {
	outcomes := make([]memberOutcome, len(page))
	var wg sync.WaitGroup

	for i, m := range page {
		in := Input{MemberID: m.ID, SystemDateObject: dateObj, PromptSendTimeUTC: &bucket}
		out := &outcomes[i]
		wg.Add(1)
		err := b.engine.Submit(ctx, engine.Task{
			Name:    "member:" + m.ID,
			Timeout: cfg.MemberTimeout,
			Run: func(ctx context.Context) error {
				r := b.orch.ProcessMember(ctx, in)
				out.result = r
				switch {
				case r.Success:
					return nil
				case r.Retryable:
					return errors.New(r.ErrorMessage)
				default:
					return engine.NoRetry(errors.New(r.ErrorMessage))
				}
			},
			Done: func(err error, attempts int) {
				out.err, out.attempts = err, attempts
				wg.Done()
			},
		})
		if err != nil {
			out.err = err
			wg.Done()
		}
	}
	wg.Wait()

	for i, o := range outcomes {
		rep.Members++
		switch {
		case o.err != nil:
			rep.Failed++
			f := MemberFailure{MemberID: page[i].ID, Error: o.err.Error(), Attempts: o.attempts}
			if o.result.MemberID != "" {
				f.Retryable = o.result.Retryable
				if o.result.ErrorMessage != "" {
					f.Error = o.result.ErrorMessage
				}
			}
			rep.Failures = append(rep.Failures, f)
			b.metrics.BatchMember("failed")
		case o.result.SkipReason != "":
			rep.Skipped++
			b.metrics.BatchMember("skipped")
		default:
			rep.Processed++
			b.metrics.BatchMember("processed")
		}
	}
}
