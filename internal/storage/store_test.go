package storage

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"promptnotify/internal/domain"
	logx "promptnotify/pkg/logx"
)

func openTestStore(t *testing.T) *SQLite {
	t.Helper()
	st, err := Open(Config{Path: filepath.Join(t.TempDir(), "notify.db")}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestMemberRoundTripAndBucketPaging(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()

	reply := time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC)
	for i, id := range []string{"m3", "m1", "m2", "other"} {
		utc := domain.ClockTime{Hour: 14, Minute: 15}
		if id == "other" {
			utc = domain.ClockTime{Hour: 14, Minute: 30}
		}
		m := domain.Member{
			ID:                   id,
			Email:                fmt.Sprintf("%s@example.com", id),
			TimeZone:             "Europe/Berlin",
			PromptSendTime:       &domain.ClockTime{Hour: 15, Minute: 15},
			PromptSendTimeUTC:    &utc,
			NotificationSettings: domain.NotificationSettings{Email: domain.EmailActive},
			FCMTokens:            []string{"tok-" + id},
			LastReplyAt:          &reply,
			CreatedAt:            reply.Add(-time.Duration(i) * time.Hour),
		}
		if err := st.UpsertMember(ctx, m); err != nil {
			t.Fatalf("UpsertMember(%s): %v", id, err)
		}
	}

	got, err := st.GetMember(ctx, "m1")
	if err != nil {
		t.Fatalf("GetMember: %v", err)
	}
	if got.Email != "m1@example.com" || got.PromptSendTime == nil || *got.PromptSendTime != (domain.ClockTime{Hour: 15, Minute: 15}) {
		t.Fatalf("unexpected member: %+v", got)
	}
	if got.LastReplyAt == nil || !got.LastReplyAt.Equal(reply) {
		t.Fatalf("last reply mismatch: %v", got.LastReplyAt)
	}
	if got.AdminEmailUnsubscribedAt != nil {
		t.Fatalf("expected nil admin unsubscribe")
	}

	page1, err := st.ListMembersBySendTimeUTC(ctx, domain.ClockTime{Hour: 14, Minute: 15}, "", 2)
	if err != nil {
		t.Fatalf("List page1: %v", err)
	}
	if len(page1) != 2 || page1[0].ID != "m1" || page1[1].ID != "m2" {
		t.Fatalf("page1=%v", ids(page1))
	}
	page2, err := st.ListMembersBySendTimeUTC(ctx, domain.ClockTime{Hour: 14, Minute: 15}, page1[1].ID, 2)
	if err != nil {
		t.Fatalf("List page2: %v", err)
	}
	if len(page2) != 1 || page2[0].ID != "m3" {
		t.Fatalf("page2=%v", ids(page2))
	}

	if _, err := st.GetMember(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
}

func ids(ms []domain.Member) []string {
	out := make([]string, 0, len(ms))
	for _, m := range ms {
		out = append(out, m.ID)
	}
	return out
}

func TestMemberMutations(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()

	if err := st.UpsertMember(ctx, domain.Member{ID: "m1", FCMTokens: []string{"a", "b", "c"}}); err != nil {
		t.Fatalf("UpsertMember: %v", err)
	}
	if err := st.UpdateSendTimeUTC(ctx, "m1", domain.ClockTime{Hour: 6, Minute: 45}); err != nil {
		t.Fatalf("UpdateSendTimeUTC: %v", err)
	}
	if err := st.SetEmailSetting(ctx, "m1", domain.EmailInactive); err != nil {
		t.Fatalf("SetEmailSetting: %v", err)
	}
	n, err := st.RemoveFCMTokens(ctx, "m1", []string{"b", "zzz"})
	if err != nil || n != 1 {
		t.Fatalf("RemoveFCMTokens=(%d,%v)", n, err)
	}

	m, err := st.GetMember(ctx, "m1")
	if err != nil {
		t.Fatalf("GetMember: %v", err)
	}
	if m.PromptSendTimeUTC == nil || *m.PromptSendTimeUTC != (domain.ClockTime{Hour: 6, Minute: 45}) {
		t.Fatalf("utc=%v", m.PromptSendTimeUTC)
	}
	if m.NotificationSettings.Email != domain.EmailInactive {
		t.Fatalf("email setting=%s", m.NotificationSettings.Email)
	}
	if len(m.FCMTokens) != 2 || m.FCMTokens[0] != "a" || m.FCMTokens[1] != "c" {
		t.Fatalf("tokens=%v", m.FCMTokens)
	}

	if err := st.UpdateSendTimeUTC(ctx, "nope", domain.ClockTime{}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
	if err := st.SetEmailSetting(ctx, "m1", "MAYBE"); err == nil {
		t.Fatalf("expected invalid setting error")
	}
}

func TestPromptContentByDate(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()

	for _, p := range []domain.PromptContent{
		{EntryID: "e2", PromptID: "p2", SubjectLine: "Two", ScheduledDate: "2024-05-02"},
		{EntryID: "e1", PromptID: "p1", SubjectLine: "One", ScheduledDate: "2024-05-01",
			Content: []domain.ContentBlock{{Text: ""}, {Text: "What made you smile?"}}},
	} {
		if err := st.UpsertPromptContent(ctx, p); err != nil {
			t.Fatalf("UpsertPromptContent: %v", err)
		}
	}

	p, err := st.GetPromptContentForDate(ctx, "2024-05-01")
	if err != nil {
		t.Fatalf("GetPromptContentForDate: %v", err)
	}
	if p.EntryID != "e1" || p.FirstText() != "What made you smile?" {
		t.Fatalf("unexpected content: %+v", p)
	}
	if _, err := st.GetPromptContentForDate(ctx, "2024-05-03"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
	if p, err := st.GetPromptContentByEntryID(ctx, "e2"); err != nil || p.PromptID != "p2" {
		t.Fatalf("GetPromptContentByEntryID=(%+v,%v)", p, err)
	}
}

func TestReflectionResponses(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()

	latest, err := st.LatestReflectionResponse(ctx, "m1")
	if err != nil || latest != nil {
		t.Fatalf("expected no response, got (%v,%v)", latest, err)
	}

	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, pid := range []string{"p1", "p2"} {
		r := domain.ReflectionResponse{ID: "r" + pid, MemberID: "m1", PromptID: pid, CreatedAt: base.Add(time.Duration(i) * time.Hour)}
		if err := st.AddReflectionResponse(ctx, r); err != nil {
			t.Fatalf("AddReflectionResponse: %v", err)
		}
	}
	latest, err = st.LatestReflectionResponse(ctx, "m1")
	if err != nil || latest == nil || latest.PromptID != "p2" {
		t.Fatalf("latest=(%v,%v)", latest, err)
	}
	if ok, err := st.HasReflected(ctx, "m1", "p1"); err != nil || !ok {
		t.Fatalf("HasReflected(p1)=(%v,%v)", ok, err)
	}
	if ok, err := st.HasReflected(ctx, "m1", "p9"); err != nil || ok {
		t.Fatalf("HasReflected(p9)=(%v,%v)", ok, err)
	}
}

func TestInsertSentPromptIfAbsentConcurrent(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()

	now := time.Date(2024, 5, 1, 14, 0, 0, 0, time.UTC)
	const n = 16
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		created int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, ok, err := st.InsertSentPromptIfAbsent(ctx, domain.SentPrompt{
				ID: "m1_p1", PromptID: "p1", MemberID: "m1", FirstSentAt: now, LastSentAt: now,
			})
			if err != nil {
				t.Errorf("InsertSentPromptIfAbsent: %v", err)
				return
			}
			if ok {
				mu.Lock()
				created++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if created != 1 {
		t.Fatalf("created=%d want 1", created)
	}

	var count int
	if err := st.DB().QueryRowContext(ctx, `SELECT COUNT(*) FROM sent_prompts`).Scan(&count); err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 1 {
		t.Fatalf("rows=%d want 1", count)
	}
}

func TestUpdateSentPrompt(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()

	now := time.Date(2024, 5, 1, 14, 0, 0, 0, time.UTC)
	if _, _, err := st.InsertSentPromptIfAbsent(ctx, domain.SentPrompt{ID: "m1_p1", PromptID: "p1", MemberID: "m1", FirstSentAt: now, LastSentAt: now}); err != nil {
		t.Fatalf("insert: %v", err)
	}
	later := now.Add(time.Minute)
	sp, err := st.UpdateSentPrompt(ctx, "m1_p1", func(sp *domain.SentPrompt) error {
		sp.SendHistory = append(sp.SendHistory, domain.SendHistoryEntry{Medium: domain.MediumPush, SendDate: later})
		sp.LastSentAt = later
		return nil
	})
	if err != nil {
		t.Fatalf("UpdateSentPrompt: %v", err)
	}
	if len(sp.SendHistory) != 1 || !sp.LastSentAt.Equal(later) {
		t.Fatalf("unexpected: %+v", sp)
	}
	stored, err := st.GetSentPrompt(ctx, "m1_p1")
	if err != nil {
		t.Fatalf("GetSentPrompt: %v", err)
	}
	if len(stored.SendHistory) != 1 || stored.SendHistory[0].Medium != domain.MediumPush || !stored.FirstSentAt.Equal(now) {
		t.Fatalf("stored=%+v", stored)
	}

	if _, err := st.UpdateSentPrompt(ctx, "missing", func(*domain.SentPrompt) error { return nil }); !errors.Is(err, ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
}
