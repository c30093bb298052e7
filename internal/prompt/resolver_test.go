package prompt

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"promptnotify/internal/domain"
	"promptnotify/internal/storage"
	logx "promptnotify/pkg/logx"
)

type fakeContent struct {
	byDate  map[string]domain.PromptContent
	calls   atomic.Int32
	failAll bool
}

func (f *fakeContent) GetPromptContentByEntryID(_ context.Context, id string) (domain.PromptContent, error) {
	f.calls.Add(1)
	for _, p := range f.byDate {
		if p.EntryID == id {
			return p, nil
		}
	}
	return domain.PromptContent{}, storage.ErrNotFound
}

func (f *fakeContent) GetPromptContentForDate(_ context.Context, date string) (domain.PromptContent, error) {
	f.calls.Add(1)
	if f.failAll {
		return domain.PromptContent{}, errors.New("db down")
	}
	p, ok := f.byDate[date]
	if !ok {
		return domain.PromptContent{}, storage.ErrNotFound
	}
	return p, nil
}

func newRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, rdb
}

func TestResolverUsesMemberLocalDate(t *testing.T) {
	t.Parallel()

	store := &fakeContent{byDate: map[string]domain.PromptContent{
		"2024-05-01": {EntryID: "e1", PromptID: "p1", ScheduledDate: "2024-05-01"},
		"2024-05-02": {EntryID: "e2", PromptID: "p2", ScheduledDate: "2024-05-02"},
	}}
	r := NewResolver(store, nil, logx.Nop(), nil)

	// 2024-05-01 23:00 UTC is already May 2nd in Tokyo.
	sys := time.Date(2024, 5, 1, 23, 0, 0, 0, time.UTC)
	tokyoBucket := domain.ClockTime{Hour: 23, Minute: 0}
	res, err := r.GetPromptForMemberOnDate(context.Background(), domain.Member{ID: "m1", TimeZone: "Asia/Tokyo", PromptSendTimeUTC: &tokyoBucket}, sys)
	require.NoError(t, err)
	require.NotNil(t, res.Content)
	assert.Equal(t, "e2", res.Content.EntryID)
	assert.Equal(t, 2, res.LocalDate.Day)
	assert.True(t, res.IsSendTimeNow)

	res, err = r.GetPromptForMemberOnDate(context.Background(), domain.Member{ID: "m2"}, sys)
	require.NoError(t, err)
	require.NotNil(t, res.Content)
	assert.Equal(t, "e1", res.Content.EntryID)
	assert.False(t, res.IsSendTimeNow, "default 08:00 UTC is not 23:00")
}

func TestResolverNoContentIsNil(t *testing.T) {
	t.Parallel()

	r := NewResolver(&fakeContent{}, nil, logx.Nop(), nil)
	res, err := r.GetPromptForMemberOnDate(context.Background(), domain.Member{ID: "m1"}, time.Now())
	require.NoError(t, err)
	assert.Nil(t, res.Content)

	p, err := r.GetPromptByEntryID(context.Background(), "nope")
	require.NoError(t, err)
	assert.Nil(t, p)
}

func TestResolverStoreErrorPropagates(t *testing.T) {
	t.Parallel()

	r := NewResolver(&fakeContent{failAll: true}, nil, logx.Nop(), nil)
	_, err := r.GetPromptForMemberOnDate(context.Background(), domain.Member{ID: "m1"}, time.Now())
	require.Error(t, err)
}

func TestResolverBadZone(t *testing.T) {
	t.Parallel()

	r := NewResolver(&fakeContent{}, nil, logx.Nop(), nil)
	_, err := r.GetPromptForMemberOnDate(context.Background(), domain.Member{ID: "m1", TimeZone: "Mars/Base"}, time.Now())
	require.Error(t, err)
}

func TestRedisCacheHitsAndTombstones(t *testing.T) {
	t.Parallel()

	mr, rdb := newRedis(t)
	store := &fakeContent{byDate: map[string]domain.PromptContent{
		"2024-05-01": {EntryID: "e1", PromptID: "p1", SubjectLine: "Hello", ScheduledDate: "2024-05-01",
			Content: []domain.ContentBlock{{Text: "body"}}},
	}}
	r := NewResolver(store, NewRedisCache(rdb, time.Hour, time.Minute), logx.Nop(), nil)
	ctx := context.Background()
	sys := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		res, err := r.GetPromptForMemberOnDate(ctx, domain.Member{ID: "m1"}, sys)
		require.NoError(t, err)
		require.NotNil(t, res.Content)
		assert.Equal(t, "Hello", res.Content.SubjectLine)
		assert.Equal(t, "body", res.Content.FirstText())
	}
	assert.Equal(t, int32(1), store.calls.Load())
	assert.True(t, mr.Exists("promptnotify:content:date:2024-05-01"))

	missing := time.Date(2024, 5, 9, 8, 0, 0, 0, time.UTC)
	for i := 0; i < 2; i++ {
		res, err := r.GetPromptForMemberOnDate(ctx, domain.Member{ID: "m1"}, missing)
		require.NoError(t, err)
		assert.Nil(t, res.Content)
	}
	assert.Equal(t, int32(2), store.calls.Load())

	mr.FastForward(2 * time.Minute)
	_, err := r.GetPromptForMemberOnDate(ctx, domain.Member{ID: "m1"}, missing)
	require.NoError(t, err)
	assert.Equal(t, int32(3), store.calls.Load(), "tombstone should have expired")
}

func TestRedisCacheFailureFallsThrough(t *testing.T) {
	t.Parallel()

	mr, rdb := newRedis(t)
	store := &fakeContent{byDate: map[string]domain.PromptContent{
		"2024-05-01": {EntryID: "e1", PromptID: "p1", ScheduledDate: "2024-05-01"},
	}}
	r := NewResolver(store, NewRedisCache(rdb, time.Hour, time.Minute), logx.Nop(), nil)
	mr.Close()

	res, err := r.GetPromptForMemberOnDate(context.Background(), domain.Member{ID: "m1"}, time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.NotNil(t, res.Content)
	assert.Equal(t, "e1", res.Content.EntryID)
}
