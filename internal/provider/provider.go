// Package provider declares the email and push delivery contracts and ships
// dry-run and rate-limited implementations.
package provider

import (
	"context"
	"errors"

	"promptnotify/internal/domain"
)

type Recipient struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

type EmailResult struct {
	Success           bool   `json:"success"`
	ProviderMessageID string `json:"providerMessageId,omitempty"`
}

type EmailProvider interface {
	SendTemplatedEmail(ctx context.Context, templateID string, to Recipient, data map[string]any) (EmailResult, error)
}

type MulticastResult struct {
	SuccessCount  int      `json:"successCount"`
	FailureCount  int      `json:"failureCount"`
	InvalidTokens []string `json:"invalidTokens,omitempty"`
	MessageID     string   `json:"messageId,omitempty"`
}

type PushProvider interface {
	SendMulticast(ctx context.Context, tokens []string, title, body string, data map[string]string) (MulticastResult, error)
}

// EmailSync mirrors subscription changes to downstream email tools.
type EmailSync interface {
	Unsubscribe(ctx context.Context, m domain.Member) error
}

type permanentError struct{ err error }

func (e permanentError) Error() string { return e.err.Error() }
func (e permanentError) Unwrap() error { return e.err }

// Permanent marks err as a failure that will not succeed on retry, such as a
// rejected recipient.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return permanentError{err: err}
}

func IsPermanent(err error) bool {
	var pe permanentError
	return errors.As(err, &pe)
}
