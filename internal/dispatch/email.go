package dispatch

import (
	"context"
	"errors"
	"fmt"

	"promptnotify/internal/domain"
	"promptnotify/internal/eventbus"
	"promptnotify/internal/lapsed"
	"promptnotify/internal/provider"
	logx "promptnotify/pkg/logx"
)

// EmailMembers is the member store surface the email dispatcher touches.
type EmailMembers interface {
	LatestReflectionResponse(ctx context.Context, memberID string) (*domain.ReflectionResponse, error)
	SetEmailSetting(ctx context.Context, memberID string, setting domain.EmailSetting) error
}

type Email struct {
	base
	provider   provider.EmailProvider
	policy     lapsed.Policy
	members    EmailMembers
	sync       provider.EmailSync
	templateID string
}

func NewEmail(d Deps, p provider.EmailProvider, policy lapsed.Policy, members EmailMembers, sync provider.EmailSync, templateID string) *Email {
	return &Email{
		base:       newBase(d, domain.ChannelEmail),
		provider:   p,
		policy:     policy,
		members:    members,
		sync:       sync,
		templateID: templateID,
	}
}

func (e *Email) Send(ctx context.Context, m domain.Member, c domain.PromptContent, local domain.DateObject) Result {
	restricted, err := e.restricted(ctx, m, c)
	if err != nil {
		return e.fail(err, true)
	}
	if restricted {
		return e.skip(msgRestricted)
	}
	if m.NotificationSettings.Email == domain.EmailInactive {
		return e.skip("email notifications are inactive")
	}
	if m.Email == "" {
		return e.skip("member has no email address")
	}

	latest, err := e.members.LatestReflectionResponse(ctx, m.ID)
	if err != nil {
		return e.fail(fmt.Errorf("latest reflection: %w", err), true)
	}
	isLast := e.policy.IsLastEmail(m, latest)

	n, stop := e.claim(ctx, m, c, local, func() domain.Notification {
		return domain.Notification{Type: domain.NotificationNewPrompt, Email: m.Email}
	})
	if stop != nil {
		stop.IsLastEmail = isLast
		return *stop
	}

	data := map[string]any{
		"firstName":            m.FirstName,
		"subjectLine":          c.SubjectLine,
		"previewText":          c.PreviewText,
		"promptId":             c.PromptID,
		"promptContentEntryId": c.EntryID,
		"date":                 local.DateKey(),
		"isLastEmail":          isLast,
	}
	res, err := e.provider.SendTemplatedEmail(ctx, e.templateID, provider.Recipient{Email: m.Email, Name: m.FirstName}, data)
	if err == nil && !res.Success {
		err = errors.New("email provider reported failure")
	}
	if err != nil {
		r := e.sendFailed(ctx, n, err, !provider.IsPermanent(err))
		r.IsLastEmail = isLast
		return e.done(r)
	}

	r := e.record(ctx, m, c, n, res.ProviderMessageID)
	r.IsLastEmail = isLast
	if isLast {
		r.Unsubscribed = e.unsubscribe(ctx, m)
	}
	e.log.Info("notify.email.sent",
		logx.String("member_id", m.ID), logx.String("notification_id", n.ID),
		logx.String("prompt_id", c.PromptID), logx.Bool("last_email", isLast))
	return e.done(r)
}

// unsubscribe flips the member to INACTIVE after their last email. Errors
// are logged; the email already went out.
func (e *Email) unsubscribe(ctx context.Context, m domain.Member) bool {
	ctx, cancel := detached(ctx)
	defer cancel()
	if err := e.members.SetEmailSetting(ctx, m.ID, domain.EmailInactive); err != nil {
		e.log.Error("notify.email.unsubscribe failed", logx.String("member_id", m.ID), logx.Err(err))
		return false
	}
	if e.sync != nil {
		if err := e.sync.Unsubscribe(ctx, m); err != nil {
			e.log.Warn("notify.email.sync failed", logx.String("member_id", m.ID), logx.Err(err))
		}
	}
	if e.Bus != nil {
		e.Bus.Publish(eventbus.Event{
			Type: eventbus.TypeMemberUnsubscribed,
			Data: eventbus.MemberUnsubscribed{MemberID: m.ID, Reason: "lapsed"},
		})
	}
	e.log.Info("notify.email.unsubscribed", logx.String("member_id", m.ID))
	return true
}
