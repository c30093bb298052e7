package domain

import "time"

type Channel string

const (
	ChannelEmail Channel = "EMAIL"
	ChannelPush  Channel = "PUSH"
)

type NotificationType string

const NotificationNewPrompt NotificationType = "NEW_PROMPT"

type NotificationStatus string

const (
	StatusSending NotificationStatus = "SENDING"
	StatusSent    NotificationStatus = "SENT"
	StatusError   NotificationStatus = "ERROR"
)

// InFlightOrDone reports whether another attempt owns or completed the send.
func (s NotificationStatus) InFlightOrDone() bool {
	return s == StatusSending || s == StatusSent
}

// Notification is the ledger record for one (member, content, channel, day).
type Notification struct {
	ID        string             `json:"id"`
	Type      NotificationType   `json:"type"`
	Channel   Channel            `json:"channel"`
	ContentID string             `json:"contentId"`
	MemberID  string             `json:"memberId"`
	UniqueBy  string             `json:"uniqueBy"`
	Status    NotificationStatus `json:"status"`

	Email             string `json:"email,omitempty"`
	TokenCount        int    `json:"tokenCount,omitempty"`
	ProviderMessageID string `json:"providerMessageId,omitempty"`
	ErrorMessage      string `json:"errorMessage,omitempty"`

	CreatedAt time.Time  `json:"createdAt"`
	UpdatedAt time.Time  `json:"updatedAt"`
	SentAt    *time.Time `json:"sentAt,omitempty"`
}
