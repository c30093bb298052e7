package dispatch

import (
	"context"
	"errors"

	"promptnotify/internal/domain"
	"promptnotify/internal/provider"
	logx "promptnotify/pkg/logx"
)

const defaultPushTitle = "Your new prompt is ready"

type Push struct {
	base
	provider provider.PushProvider
}

func NewPush(d Deps, p provider.PushProvider) *Push {
	return &Push{base: newBase(d, domain.ChannelPush), provider: p}
}

func (p *Push) Send(ctx context.Context, m domain.Member, c domain.PromptContent, local domain.DateObject) Result {
	if len(m.FCMTokens) == 0 {
		return p.done(Result{Channel: domain.ChannelPush, Message: "member has no push tokens"})
	}
	restricted, err := p.restricted(ctx, m, c)
	if err != nil {
		return p.fail(err, true)
	}
	if restricted {
		return p.skip(msgRestricted)
	}

	tokens := append([]string(nil), m.FCMTokens...)
	n, stop := p.claim(ctx, m, c, local, func() domain.Notification {
		return domain.Notification{Type: domain.NotificationNewPrompt, TokenCount: len(tokens)}
	})
	if stop != nil {
		return *stop
	}

	title := c.SubjectLine
	if title == "" {
		title = defaultPushTitle
	}
	body := c.PreviewText
	if body == "" {
		body = c.FirstText()
	}
	data := map[string]string{
		"memberId":             m.ID,
		"promptId":             c.PromptID,
		"promptContentEntryId": c.EntryID,
	}
	res, err := p.provider.SendMulticast(ctx, tokens, title, body, data)
	if err != nil {
		return p.done(p.sendFailed(ctx, n, err, !provider.IsPermanent(err)))
	}
	if res.SuccessCount == 0 {
		allInvalid := len(res.InvalidTokens) >= len(tokens)
		msg := "push provider delivered to no tokens"
		if allInvalid {
			msg = "every push token is invalid"
		}
		r := p.sendFailed(ctx, n, errors.New(msg), !allInvalid)
		r.InvalidTokens = res.InvalidTokens
		return p.done(r)
	}

	r := p.record(ctx, m, c, n, res.MessageID)
	r.InvalidTokens = res.InvalidTokens
	p.log.Info("notify.push.sent",
		logx.String("member_id", m.ID), logx.String("notification_id", n.ID),
		logx.Int("success", res.SuccessCount), logx.Int("failure", res.FailureCount))
	return p.done(r)
}
