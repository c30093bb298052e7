package orchestrator

import (
	"promptnotify/internal/dispatch"
	"promptnotify/internal/domain"
)

// Skip reasons reported in Result.SkipReason.
const (
	SkipNotFound         = "not_found"
	SkipSendTimeChanged  = "send_time_changed"
	SkipNotSendTime      = "not_send_time"
	SkipNoContent        = "no_content"
	SkipAlreadyReflected = "already_reflected"
)

// Input is the payload of one member task.
type Input struct {
	MemberID             string            `json:"memberId" validate:"required"`
	PromptContentEntryID string            `json:"promptContentEntryId,omitempty"`
	SystemDateObject     domain.DateObject `json:"systemDateObject" validate:"required"`
	PromptSendTimeUTC    *domain.ClockTime `json:"promptSendTimeUTC,omitempty"`
}

// Result is the outcome of one member task. It never carries a Go error:
// the task runner decides whether to retry from Retryable alone.
type Result struct {
	MemberID          string             `json:"memberId"`
	Success           bool               `json:"success"`
	ErrorMessage      string             `json:"errorMessage,omitempty"`
	Retryable         bool               `json:"retryable"`
	SkipReason        string             `json:"skipReason,omitempty"`
	EmailTaskResponse *dispatch.Result   `json:"emailTaskResponse,omitempty"`
	PushTaskResponse  *dispatch.Result   `json:"pushTaskResponse,omitempty"`
	SentPrompt        *domain.SentPrompt `json:"sentPrompt,omitempty"`
	AlreadyReflected  bool               `json:"alreadyReflected,omitempty"`
}

func (r Result) outcome() string {
	switch {
	case !r.Success:
		return "failed"
	case r.SkipReason != "":
		return "skipped"
	}
	return "processed"
}
