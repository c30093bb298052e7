// Package orchestrator runs the per-member notification task and the
// quarter-hour batch that fans it out.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"promptnotify/internal/dispatch"
	"promptnotify/internal/domain"
	"promptnotify/internal/eventbus"
	"promptnotify/internal/metrics"
	"promptnotify/internal/prompt"
	"promptnotify/internal/storage"
	logx "promptnotify/pkg/logx"
)

type Members interface {
	GetMember(ctx context.Context, id string) (domain.Member, error)
	HasReflected(ctx context.Context, memberID, promptID string) (bool, error)
}

type Prompts interface {
	GetPromptForMemberOnDate(ctx context.Context, m domain.Member, systemDate time.Time) (prompt.Result, error)
	GetPromptByEntryID(ctx context.Context, entryID string) (*domain.PromptContent, error)
}

type Tracker interface {
	CreateIfAbsent(ctx context.Context, m domain.Member, c domain.PromptContent) (domain.SentPrompt, error)
	Get(ctx context.Context, memberID, promptID string) (*domain.SentPrompt, error)
}

type Dispatcher interface {
	Send(ctx context.Context, m domain.Member, c domain.PromptContent, local domain.DateObject) dispatch.Result
}

// Deps wires the orchestrator. Bus and Metrics may be nil.
type Deps struct {
	Members Members
	Prompts Prompts
	Tracker Tracker
	Email   Dispatcher
	Push    Dispatcher
	Bus     eventbus.Bus
	Log     logx.Logger
	Metrics *metrics.Metrics
}

type Orchestrator struct {
	d        Deps
	log      logx.Logger
	validate *validator.Validate
	now      func() time.Time
}

func New(d Deps) *Orchestrator {
	if d.Log.IsZero() {
		d.Log = logx.Nop()
	}
	return &Orchestrator{
		d:        d,
		log:      d.Log.With(logx.String("comp", "orchestrator")),
		validate: validator.New(validator.WithRequiredStructEnabled()),
		now:      time.Now,
	}
}

// ValidateInput checks required fields and that the date is a real
// calendar instant.
func (o *Orchestrator) ValidateInput(in Input) error {
	if err := o.validate.Struct(in); err != nil {
		return fmt.Errorf("invalid task input: %w", err)
	}
	d := in.SystemDateObject
	if domain.DateObjectOf(d.Time(time.UTC)) != d {
		return fmt.Errorf("invalid task input: systemDateObject %s is not a calendar date", d.DateKey())
	}
	if in.PromptSendTimeUTC != nil && !in.PromptSendTimeUTC.Valid() {
		return fmt.Errorf("invalid task input: promptSendTimeUTC %s", in.PromptSendTimeUTC)
	}
	return nil
}

// ProcessMember runs the notification pipeline for one member. Every outcome,
// including failures, is reported through the returned Result.
func (o *Orchestrator) ProcessMember(ctx context.Context, in Input) Result {
	start := o.now()
	res := o.process(ctx, in)
	o.d.Metrics.MemberTask(res.outcome(), o.now().Sub(start))

	fields := []logx.Field{
		logx.String("member_id", in.MemberID),
		logx.Bool("success", res.Success),
		logx.Bool("retryable", res.Retryable),
	}
	if res.SkipReason != "" {
		fields = append(fields, logx.String("skip", res.SkipReason))
	}
	if res.ErrorMessage != "" {
		fields = append(fields, logx.String("error", res.ErrorMessage))
		o.log.Warn("member task failed", fields...)
	} else {
		o.log.Debug("member task done", fields...)
	}
	return res
}

func (o *Orchestrator) process(ctx context.Context, in Input) Result {
	res := Result{MemberID: in.MemberID}
	fail := func(err error, retryable bool) Result {
		res.Success = false
		res.Retryable = retryable
		res.ErrorMessage = err.Error()
		return res
	}
	skip := func(reason string) Result {
		res.Success = true
		res.SkipReason = reason
		return res
	}

	if err := o.ValidateInput(in); err != nil {
		return fail(err, false)
	}

	m, err := o.d.Members.GetMember(ctx, in.MemberID)
	if errors.Is(err, storage.ErrNotFound) {
		return skip(SkipNotFound)
	}
	if err != nil {
		return fail(fmt.Errorf("load member: %w", err), true)
	}

	if in.PromptSendTimeUTC != nil && (m.PromptSendTimeUTC == nil || *m.PromptSendTimeUTC != *in.PromptSendTimeUTC) {
		return skip(SkipSendTimeChanged)
	}

	loc, err := m.Location()
	if err != nil {
		return fail(fmt.Errorf("member time zone: %w", err), false)
	}
	systemDate := in.SystemDateObject.Time(time.UTC)
	local := domain.DateObjectOf(systemDate.In(loc))

	var content *domain.PromptContent
	if in.PromptContentEntryID != "" {
		content, err = o.d.Prompts.GetPromptByEntryID(ctx, in.PromptContentEntryID)
		if err != nil {
			return fail(fmt.Errorf("load prompt content: %w", err), true)
		}
	} else {
		pr, err := o.d.Prompts.GetPromptForMemberOnDate(ctx, m, systemDate)
		if err != nil {
			return fail(fmt.Errorf("resolve prompt content: %w", err), true)
		}
		if !pr.IsSendTimeNow {
			return skip(SkipNotSendTime)
		}
		content, local = pr.Content, pr.LocalDate
	}
	if content == nil {
		return skip(SkipNoContent)
	}

	reflected, err := o.d.Members.HasReflected(ctx, m.ID, content.PromptID)
	if err != nil {
		return fail(fmt.Errorf("check reflection: %w", err), true)
	}
	if reflected {
		res.AlreadyReflected = true
		return skip(SkipAlreadyReflected)
	}

	if _, err := o.d.Tracker.CreateIfAbsent(ctx, m, *content); err != nil {
		return fail(fmt.Errorf("create sent prompt: %w", err), true)
	}

	var failures []string
	retryable := false
	collect := func(r dispatch.Result) *dispatch.Result {
		if r.Failed() {
			failures = append(failures, fmt.Sprintf("%s: %s", strings.ToLower(string(r.Channel)), r.Error))
			retryable = retryable || r.Retryable
		}
		return &r
	}
	if o.d.Email != nil {
		res.EmailTaskResponse = collect(o.d.Email.Send(ctx, m, *content, local))
	}
	if o.d.Push != nil {
		pr := collect(o.d.Push.Send(ctx, m, *content, local))
		res.PushTaskResponse = pr
		if len(pr.InvalidTokens) > 0 && o.d.Bus != nil {
			o.d.Bus.Publish(eventbus.Event{
				Type: eventbus.TypePushTokensInvalid,
				Data: eventbus.PushTokensInvalid{MemberID: m.ID, Tokens: append([]string(nil), pr.InvalidTokens...)},
			})
		}
	}

	sp, err := o.d.Tracker.Get(ctx, m.ID, content.PromptID)
	if err != nil {
		o.log.Warn("sent prompt reload failed", logx.String("member_id", m.ID), logx.Err(err))
	}
	res.SentPrompt = sp

	if len(failures) > 0 {
		return fail(errors.New(strings.Join(failures, "; ")), retryable)
	}
	res.Success = true
	return res
}
