package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"promptnotify/internal/domain"
)

const contentColumns = `entry_id, prompt_id, subject_line, preview_text, content, scheduled_date`

func scanContent(r rowScanner) (domain.PromptContent, error) {
	var (
		p   domain.PromptContent
		raw string
	)
	if err := r.Scan(&p.EntryID, &p.PromptID, &p.SubjectLine, &p.PreviewText, &raw, &p.ScheduledDate); err != nil {
		return domain.PromptContent{}, err
	}
	if raw != "" {
		if err := json.Unmarshal([]byte(raw), &p.Content); err != nil {
			return domain.PromptContent{}, fmt.Errorf("prompt content %s: decode blocks: %w", p.EntryID, err)
		}
	}
	return p, nil
}

func (s *SQLite) UpsertPromptContent(ctx context.Context, p domain.PromptContent) error {
	if p.EntryID == "" || p.PromptID == "" || p.ScheduledDate == "" {
		return errors.New("prompt content requires entryId, promptId and scheduledDate")
	}
	blocks := p.Content
	if blocks == nil {
		blocks = []domain.ContentBlock{}
	}
	b, err := json.Marshal(blocks)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
INSERT INTO prompt_contents(`+contentColumns+`)
VALUES(?, ?, ?, ?, ?, ?)
ON CONFLICT(entry_id) DO UPDATE SET
  prompt_id = excluded.prompt_id,
  subject_line = excluded.subject_line,
  preview_text = excluded.preview_text,
  content = excluded.content,
  scheduled_date = excluded.scheduled_date
`, p.EntryID, p.PromptID, p.SubjectLine, p.PreviewText, string(b), p.ScheduledDate)
	return err
}

func (s *SQLite) GetPromptContentByEntryID(ctx context.Context, entryID string) (domain.PromptContent, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+contentColumns+` FROM prompt_contents WHERE entry_id = ?`, entryID)
	p, err := scanContent(row)
	if err != nil {
		return domain.PromptContent{}, notFound(err, "prompt content "+entryID)
	}
	return p, nil
}

// GetPromptContentForDate returns the content scheduled for date (YYYY-MM-DD).
// When several entries share a date the lowest entry id wins.
func (s *SQLite) GetPromptContentForDate(ctx context.Context, date string) (domain.PromptContent, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT `+contentColumns+` FROM prompt_contents
WHERE scheduled_date = ?
ORDER BY entry_id
LIMIT 1`, date)
	p, err := scanContent(row)
	if err != nil {
		return domain.PromptContent{}, notFound(err, "prompt content for "+date)
	}
	return p, nil
}

func (s *SQLite) AddReflectionResponse(ctx context.Context, r domain.ReflectionResponse) error {
	if r.ID == "" || r.MemberID == "" || r.PromptID == "" {
		return errors.New("reflection response requires id, memberId and promptId")
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO reflection_responses(id, member_id, prompt_id, created_at)
VALUES(?, ?, ?, ?)
ON CONFLICT(id) DO NOTHING`, r.ID, r.MemberID, r.PromptID, toMillis(r.CreatedAt))
	return err
}

// LatestReflectionResponse returns the member's newest response, or nil.
func (s *SQLite) LatestReflectionResponse(ctx context.Context, memberID string) (*domain.ReflectionResponse, error) {
	var (
		r       domain.ReflectionResponse
		created int64
	)
	err := s.db.QueryRowContext(ctx, `
SELECT id, member_id, prompt_id, created_at FROM reflection_responses
WHERE member_id = ?
ORDER BY created_at DESC, id DESC
LIMIT 1`, memberID).Scan(&r.ID, &r.MemberID, &r.PromptID, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	r.CreatedAt = fromMillis(created)
	return &r, nil
}

func (s *SQLite) HasReflected(ctx context.Context, memberID, promptID string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, `
SELECT 1 FROM reflection_responses WHERE member_id = ? AND prompt_id = ? LIMIT 1`, memberID, promptID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return err == nil, err
}
