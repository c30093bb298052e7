package domain

import "time"

// EmailSetting is the member's email notification preference.
type EmailSetting string

const (
	EmailActive   EmailSetting = "ACTIVE"
	EmailInactive EmailSetting = "INACTIVE"
	EmailNotSet   EmailSetting = "NOT_SET"
)

func (s EmailSetting) Valid() bool {
	switch s {
	case EmailActive, EmailInactive, EmailNotSet:
		return true
	}
	return false
}

type NotificationSettings struct {
	Email EmailSetting `json:"email"`
}

// Member is the subset of a member profile the notification pipeline reads.
type Member struct {
	ID        string `json:"id"`
	Email     string `json:"email,omitempty"`
	FirstName string `json:"firstName,omitempty"`

	TimeZone          string     `json:"timeZone,omitempty"`
	PromptSendTime    *ClockTime `json:"promptSendTime,omitempty"`
	PromptSendTimeUTC *ClockTime `json:"promptSendTimeUTC,omitempty"`

	NotificationSettings NotificationSettings `json:"notificationSettings"`
	FCMTokens            []string             `json:"fcmTokens,omitempty"`

	LastReplyAt              *time.Time `json:"lastReplyAt,omitempty"`
	AdminEmailUnsubscribedAt *time.Time `json:"adminEmailUnsubscribedAt,omitempty"`
	CreatedAt                time.Time  `json:"createdAt"`
}

// SendTime returns the member's local send time, falling back to the default.
func (m Member) SendTime() ClockTime {
	if m.PromptSendTime != nil && m.PromptSendTime.Valid() {
		return *m.PromptSendTime
	}
	return DefaultPromptSendTime
}

// Location resolves the member's zone. Empty zones resolve to UTC.
func (m Member) Location() (*time.Location, error) {
	if m.TimeZone == "" {
		return time.UTC, nil
	}
	return time.LoadLocation(m.TimeZone)
}

// ReflectionResponse is a member's answer to a prompt.
type ReflectionResponse struct {
	ID        string    `json:"id"`
	MemberID  string    `json:"memberId"`
	PromptID  string    `json:"promptId"`
	CreatedAt time.Time `json:"createdAt"`
}
