package provider

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"

	"promptnotify/internal/domain"
	logx "promptnotify/pkg/logx"
)

// LogEmailProvider logs instead of sending.
type LogEmailProvider struct {
	Log logx.Logger
}

func (p LogEmailProvider) SendTemplatedEmail(ctx context.Context, templateID string, to Recipient, data map[string]any) (EmailResult, error) {
	if err := ctx.Err(); err != nil {
		return EmailResult{}, err
	}
	if !strings.Contains(to.Email, "@") {
		return EmailResult{}, Permanent(errors.New("invalid recipient address"))
	}
	id := uuid.NewString()
	p.Log.Info("provider.email.dry_run",
		logx.String("template_id", templateID),
		logx.String("to", to.Email),
		logx.String("message_id", id),
		logx.Int("fields", len(data)))
	return EmailResult{Success: true, ProviderMessageID: id}, nil
}

// LogPushProvider logs instead of sending. Tokens with the "invalid:" prefix
// are reported back as unregistered.
type LogPushProvider struct {
	Log logx.Logger
}

func (p LogPushProvider) SendMulticast(ctx context.Context, tokens []string, title, body string, data map[string]string) (MulticastResult, error) {
	if err := ctx.Err(); err != nil {
		return MulticastResult{}, err
	}
	var res MulticastResult
	for _, t := range tokens {
		if strings.HasPrefix(t, "invalid:") {
			res.FailureCount++
			res.InvalidTokens = append(res.InvalidTokens, t)
			continue
		}
		res.SuccessCount++
	}
	res.MessageID = uuid.NewString()
	p.Log.Info("provider.push.dry_run",
		logx.String("title", title),
		logx.Int("tokens", len(tokens)),
		logx.Int("success", res.SuccessCount),
		logx.Int("failure", res.FailureCount),
		logx.Int("data", len(data)),
		logx.Int("body_len", len(body)))
	return res, nil
}

type LogEmailSync struct {
	Log logx.Logger
}

func (s LogEmailSync) Unsubscribe(ctx context.Context, m domain.Member) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.Log.Info("provider.email_sync.unsubscribe", logx.String("member_id", m.ID), logx.String("email", m.Email))
	return nil
}
