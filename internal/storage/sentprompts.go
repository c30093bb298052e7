package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"promptnotify/internal/domain"
)

const sentPromptColumns = `id, prompt_id, member_id, first_sent_at, last_sent_at, completed, send_history`

func scanSentPrompt(r rowScanner) (domain.SentPrompt, error) {
	var (
		sp          domain.SentPrompt
		first, last int64
		completed   int
		history     string
	)
	if err := r.Scan(&sp.ID, &sp.PromptID, &sp.MemberID, &first, &last, &completed, &history); err != nil {
		return domain.SentPrompt{}, err
	}
	sp.FirstSentAt = fromMillis(first)
	sp.LastSentAt = fromMillis(last)
	sp.Completed = completed != 0
	if history != "" {
		if err := json.Unmarshal([]byte(history), &sp.SendHistory); err != nil {
			return domain.SentPrompt{}, fmt.Errorf("sent prompt %s: decode history: %w", sp.ID, err)
		}
	}
	return sp, nil
}

func sentPromptArgs(sp domain.SentPrompt) ([]any, error) {
	h := sp.SendHistory
	if h == nil {
		h = []domain.SendHistoryEntry{}
	}
	b, err := json.Marshal(h)
	if err != nil {
		return nil, err
	}
	completed := 0
	if sp.Completed {
		completed = 1
	}
	return []any{sp.ID, sp.PromptID, sp.MemberID, toMillis(sp.FirstSentAt), toMillis(sp.LastSentAt), completed, string(b)}, nil
}

// InsertSentPromptIfAbsent stores sp unless a row with the same id exists.
// It returns the stored row and whether this call created it.
func (s *SQLite) InsertSentPromptIfAbsent(ctx context.Context, sp domain.SentPrompt) (domain.SentPrompt, bool, error) {
	if sp.ID == "" {
		return domain.SentPrompt{}, false, errors.New("sent prompt id is required")
	}
	args, err := sentPromptArgs(sp)
	if err != nil {
		return domain.SentPrompt{}, false, err
	}
	res, err := s.db.ExecContext(ctx, `
INSERT INTO sent_prompts(`+sentPromptColumns+`)
VALUES(?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO NOTHING`, args...)
	if err != nil {
		return domain.SentPrompt{}, false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return domain.SentPrompt{}, false, err
	}
	stored, err := s.GetSentPrompt(ctx, sp.ID)
	if err != nil {
		return domain.SentPrompt{}, false, err
	}
	return stored, n == 1, nil
}

func (s *SQLite) GetSentPrompt(ctx context.Context, id string) (domain.SentPrompt, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sentPromptColumns+` FROM sent_prompts WHERE id = ?`, id)
	sp, err := scanSentPrompt(row)
	if err != nil {
		return domain.SentPrompt{}, notFound(err, "sent prompt "+id)
	}
	return sp, nil
}

// UpdateSentPrompt applies fn to the stored record inside a transaction and
// persists the result. fn may run more than once.
func (s *SQLite) UpdateSentPrompt(ctx context.Context, id string, fn func(*domain.SentPrompt) error) (domain.SentPrompt, error) {
	var out domain.SentPrompt
	err := RunTransaction(ctx, s.db, s.policy, func(ctx context.Context, tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx, `SELECT `+sentPromptColumns+` FROM sent_prompts WHERE id = ?`, id)
		sp, err := scanSentPrompt(row)
		if err != nil {
			return notFound(err, "sent prompt "+id)
		}
		if err := fn(&sp); err != nil {
			return err
		}
		sp.ID = id
		args, err := sentPromptArgs(sp)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
UPDATE sent_prompts SET prompt_id = ?, member_id = ?, first_sent_at = ?, last_sent_at = ?, completed = ?, send_history = ?
WHERE id = ?`, append(args[1:], id)...); err != nil {
			return err
		}
		out = sp
		return nil
	})
	return out, err
}
