package domain

// ContentBlock is one ordered block of a prompt's body.
type ContentBlock struct {
	Text string `json:"text"`
}

// PromptContent is the item scheduled for a calendar date.
type PromptContent struct {
	EntryID       string         `json:"entryId"`
	PromptID      string         `json:"promptId"`
	SubjectLine   string         `json:"subjectLine"`
	PreviewText   string         `json:"previewText,omitempty"`
	Content       []ContentBlock `json:"content,omitempty"`
	ScheduledDate string         `json:"scheduledDate"` // YYYY-MM-DD
}

// FirstText returns the first non-empty block, used as a push body fallback.
func (p PromptContent) FirstText() string {
	for _, b := range p.Content {
		if b.Text != "" {
			return b.Text
		}
	}
	return ""
}
