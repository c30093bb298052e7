package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"promptnotify/internal/domain"
)

const memberColumns = `id, email, first_name, time_zone, send_hour, send_minute, utc_hour, utc_minute,
  email_setting, fcm_tokens, last_reply_at, admin_email_unsubscribed_at, created_at`

func scanMember(r rowScanner) (domain.Member, error) {
	var (
		m                        domain.Member
		sendH, sendM, utcH, utcM sql.NullInt64
		setting, tokens          string
		lastReply, adminUnsub    sql.NullInt64
		created                  int64
	)
	if err := r.Scan(&m.ID, &m.Email, &m.FirstName, &m.TimeZone, &sendH, &sendM, &utcH, &utcM,
		&setting, &tokens, &lastReply, &adminUnsub, &created); err != nil {
		return domain.Member{}, err
	}
	m.PromptSendTime = clockOf(sendH, sendM)
	m.PromptSendTimeUTC = clockOf(utcH, utcM)
	m.NotificationSettings.Email = domain.EmailSetting(setting)
	if tokens != "" {
		if err := json.Unmarshal([]byte(tokens), &m.FCMTokens); err != nil {
			return domain.Member{}, fmt.Errorf("member %s: decode fcm_tokens: %w", m.ID, err)
		}
	}
	m.LastReplyAt = ptrMillis(lastReply)
	m.AdminEmailUnsubscribedAt = ptrMillis(adminUnsub)
	m.CreatedAt = fromMillis(created)
	return m, nil
}

func clockOf(h, m sql.NullInt64) *domain.ClockTime {
	if !h.Valid || !m.Valid {
		return nil
	}
	return &domain.ClockTime{Hour: int(h.Int64), Minute: int(m.Int64)}
}

func clockArgs(c *domain.ClockTime) (any, any) {
	if c == nil {
		return nil, nil
	}
	return c.Hour, c.Minute
}

func encodeTokens(tokens []string) (string, error) {
	if tokens == nil {
		tokens = []string{}
	}
	b, err := json.Marshal(tokens)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// UpsertMember inserts or fully replaces a member row.
func (s *SQLite) UpsertMember(ctx context.Context, m domain.Member) error {
	if strings.TrimSpace(m.ID) == "" {
		return fmt.Errorf("member id is required")
	}
	tokens, err := encodeTokens(m.FCMTokens)
	if err != nil {
		return err
	}
	setting := m.NotificationSettings.Email
	if setting == "" {
		setting = domain.EmailNotSet
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	sendH, sendM := clockArgs(m.PromptSendTime)
	utcH, utcM := clockArgs(m.PromptSendTimeUTC)
	_, err = s.db.ExecContext(ctx, `
INSERT INTO members(`+memberColumns+`)
VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
  email = excluded.email,
  first_name = excluded.first_name,
  time_zone = excluded.time_zone,
  send_hour = excluded.send_hour,
  send_minute = excluded.send_minute,
  utc_hour = excluded.utc_hour,
  utc_minute = excluded.utc_minute,
  email_setting = excluded.email_setting,
  fcm_tokens = excluded.fcm_tokens,
  last_reply_at = excluded.last_reply_at,
  admin_email_unsubscribed_at = excluded.admin_email_unsubscribed_at,
  created_at = excluded.created_at
`, m.ID, m.Email, m.FirstName, m.TimeZone, sendH, sendM, utcH, utcM,
		string(setting), tokens, nullMillis(m.LastReplyAt), nullMillis(m.AdminEmailUnsubscribedAt), toMillis(m.CreatedAt))
	return err
}

func (s *SQLite) GetMember(ctx context.Context, id string) (domain.Member, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+memberColumns+` FROM members WHERE id = ?`, id)
	m, err := scanMember(row)
	if err != nil {
		return domain.Member{}, notFound(err, "member "+id)
	}
	return m, nil
}

// ListMembersBySendTimeUTC pages members whose cached UTC bucket equals
// bucket, ordered by id. Pass the last id of the previous page as afterID.
func (s *SQLite) ListMembersBySendTimeUTC(ctx context.Context, bucket domain.ClockTime, afterID string, limit int) ([]domain.Member, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT `+memberColumns+` FROM members
WHERE utc_hour = ? AND utc_minute = ? AND id > ?
ORDER BY id
LIMIT ?`, bucket.Hour, bucket.Minute, afterID, limit)
	if err != nil {
		return nil, err
	}
	return collectMembers(rows)
}

// ListMembers pages every member ordered by id.
func (s *SQLite) ListMembers(ctx context.Context, afterID string, limit int) ([]domain.Member, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT `+memberColumns+` FROM members
WHERE id > ?
ORDER BY id
LIMIT ?`, afterID, limit)
	if err != nil {
		return nil, err
	}
	return collectMembers(rows)
}

func collectMembers(rows *sql.Rows) ([]domain.Member, error) {
	defer rows.Close()
	var out []domain.Member
	for rows.Next() {
		m, err := scanMember(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// UpdateSendTimeUTC caches the member's UTC bucket.
func (s *SQLite) UpdateSendTimeUTC(ctx context.Context, memberID string, utc domain.ClockTime) error {
	res, err := s.db.ExecContext(ctx, `UPDATE members SET utc_hour = ?, utc_minute = ? WHERE id = ?`, utc.Hour, utc.Minute, memberID)
	if err != nil {
		return err
	}
	return requireRow(res, "member "+memberID)
}

func (s *SQLite) SetEmailSetting(ctx context.Context, memberID string, setting domain.EmailSetting) error {
	if !setting.Valid() {
		return fmt.Errorf("invalid email setting %q", setting)
	}
	res, err := s.db.ExecContext(ctx, `UPDATE members SET email_setting = ? WHERE id = ?`, string(setting), memberID)
	if err != nil {
		return err
	}
	return requireRow(res, "member "+memberID)
}

// RemoveFCMTokens drops tokens from the member's token set and returns how
// many were removed.
func (s *SQLite) RemoveFCMTokens(ctx context.Context, memberID string, tokens []string) (int, error) {
	if len(tokens) == 0 {
		return 0, nil
	}
	drop := make(map[string]struct{}, len(tokens))
	for _, t := range tokens {
		drop[t] = struct{}{}
	}
	removed := 0
	err := RunTransaction(ctx, s.db, s.policy, func(ctx context.Context, tx *sql.Tx) error {
		removed = 0
		var raw string
		if err := tx.QueryRowContext(ctx, `SELECT fcm_tokens FROM members WHERE id = ?`, memberID).Scan(&raw); err != nil {
			return notFound(err, "member "+memberID)
		}
		var cur []string
		if err := json.Unmarshal([]byte(raw), &cur); err != nil {
			return fmt.Errorf("member %s: decode fcm_tokens: %w", memberID, err)
		}
		kept := cur[:0]
		for _, t := range cur {
			if _, ok := drop[t]; ok {
				removed++
				continue
			}
			kept = append(kept, t)
		}
		if removed == 0 {
			return nil
		}
		enc, err := encodeTokens(kept)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `UPDATE members SET fcm_tokens = ? WHERE id = ?`, enc, memberID)
		return err
	})
	return removed, err
}

func requireRow(res sql.Result, what string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", what, ErrNotFound)
	}
	return nil
}
