// Package lapsed decides when a member's email is the last one before they
// are unsubscribed for inactivity.
package lapsed

import (
	"time"

	"promptnotify/internal/domain"
)

// DefaultInactiveDays is the inactivity threshold when none is configured.
const DefaultInactiveDays = 30

type Policy struct {
	InactiveDays int
	Now          func() time.Time
}

func New(inactiveDays int) Policy {
	return Policy{InactiveDays: inactiveDays}
}

func (p Policy) threshold() time.Time {
	days := p.InactiveDays
	if days <= 0 {
		days = DefaultInactiveDays
	}
	now := time.Now
	if p.Now != nil {
		now = p.Now
	}
	return now().AddDate(0, 0, -days)
}

// IsLastEmail reports whether the email about to be sent should be the
// member's last. latest is the member's newest reflection response, if any.
//
// A recent admin unsubscribe suppresses the trigger even when the member's
// own activity has lapsed; both conditions must hold.
func (p Policy) IsLastEmail(m domain.Member, latest *domain.ReflectionResponse) bool {
	if m.NotificationSettings.Email == domain.EmailInactive {
		return false
	}
	cutoff := p.threshold()

	adminLapsed := true
	if m.AdminEmailUnsubscribedAt != nil && !m.AdminEmailUnsubscribedAt.Before(cutoff) {
		adminLapsed = false
	}

	var lastActivity *time.Time
	switch {
	case latest != nil && !latest.CreatedAt.IsZero():
		lastActivity = &latest.CreatedAt
	case m.LastReplyAt != nil:
		lastActivity = m.LastReplyAt
	}

	if lastActivity == nil {
		return m.CreatedAt.Before(cutoff)
	}
	return lastActivity.Before(cutoff) && adminLapsed
}
