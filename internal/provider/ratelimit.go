package provider

import (
	"context"

	"golang.org/x/time/rate"
)

func newLimiter(perSec float64) *rate.Limiter {
	if perSec <= 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}
	burst := int(perSec)
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(perSec), burst)
}

// RateLimitedEmail waits on a token bucket before each send.
type RateLimitedEmail struct {
	next    EmailProvider
	limiter *rate.Limiter
}

func NewRateLimitedEmail(next EmailProvider, perSec float64) *RateLimitedEmail {
	return &RateLimitedEmail{next: next, limiter: newLimiter(perSec)}
}

func (p *RateLimitedEmail) SetRate(perSec float64) { setRate(p.limiter, perSec) }

func (p *RateLimitedEmail) SendTemplatedEmail(ctx context.Context, templateID string, to Recipient, data map[string]any) (EmailResult, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return EmailResult{}, err
	}
	return p.next.SendTemplatedEmail(ctx, templateID, to, data)
}

type RateLimitedPush struct {
	next    PushProvider
	limiter *rate.Limiter
}

func NewRateLimitedPush(next PushProvider, perSec float64) *RateLimitedPush {
	return &RateLimitedPush{next: next, limiter: newLimiter(perSec)}
}

func (p *RateLimitedPush) SetRate(perSec float64) { setRate(p.limiter, perSec) }

func (p *RateLimitedPush) SendMulticast(ctx context.Context, tokens []string, title, body string, data map[string]string) (MulticastResult, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return MulticastResult{}, err
	}
	return p.next.SendMulticast(ctx, tokens, title, body, data)
}

func setRate(l *rate.Limiter, perSec float64) {
	if perSec <= 0 {
		l.SetLimit(rate.Inf)
		return
	}
	burst := int(perSec)
	if burst < 1 {
		burst = 1
	}
	l.SetBurst(burst)
	l.SetLimit(rate.Limit(perSec))
}
