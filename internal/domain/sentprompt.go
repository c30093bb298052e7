package domain

import "time"

type SendHistoryEntry struct {
	Medium   Medium    `json:"medium"`
	SendDate time.Time `json:"sendDate"`
}

// SentPrompt is the per-member feed record of a prompt.
type SentPrompt struct {
	ID          string             `json:"id"`
	PromptID    string             `json:"promptId"`
	MemberID    string             `json:"cactusMemberId"`
	FirstSentAt time.Time          `json:"firstSentAt"`
	LastSentAt  time.Time          `json:"lastSentAt"`
	Completed   bool               `json:"completed"`
	SendHistory []SendHistoryEntry `json:"sendHistory"`
}

// SentVia reports whether any history entry used a medium in set.
func (sp SentPrompt) SentVia(set MediumSet) bool {
	for _, h := range sp.SendHistory {
		if set.Contains(h.Medium) {
			return true
		}
	}
	return false
}
