package app

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"promptnotify/internal/config"
	"promptnotify/internal/domain"
	"promptnotify/internal/orchestrator"
)

func TestMapTaskEngineConfig(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name    string
		in      *config.TaskEngineConfig
		workers int
		retry   int
		timeout time.Duration
		wantErr bool
	}{
		{name: "defaults", workers: 4, retry: 3, timeout: 2 * time.Minute},
		{name: "overrides", in: &config.TaskEngineConfig{Workers: 8, RetryMax: 5, DefaultTimeout: "30s"}, workers: 8, retry: 5, timeout: 30 * time.Second},
		{name: "single worker is raised", in: &config.TaskEngineConfig{Workers: 1}, workers: 2, retry: 3, timeout: 2 * time.Minute},
		{name: "retries disabled", in: &config.TaskEngineConfig{RetryMax: -1}, workers: 4, retry: -1, timeout: 2 * time.Minute},
		{name: "bad duration", in: &config.TaskEngineConfig{MaxQueueDelay: "soon"}, wantErr: true},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got, err := mapTaskEngineConfig(&config.Config{TaskEngine: tc.in})
			if tc.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.True(t, got.Enabled)
			assert.Equal(t, tc.workers, got.Workers)
			assert.Equal(t, tc.retry, got.RetryMax)
			assert.Equal(t, tc.timeout, got.DefaultTimeout)
		})
	}
}

func TestMapSchedulerAndMetricsDefaults(t *testing.T) {
	t.Parallel()
	cfg := &config.Config{}

	plan, err := mapSchedulerConfig(cfg)
	require.NoError(t, err)
	assert.Equal(t, defaultBatchSpec, plan.batchSpec)
	assert.Equal(t, defaultRecomputeSpec, plan.recomputeSpec)
	assert.Equal(t, defaultJobTimeout, plan.jobTimeout)
	assert.False(t, plan.cfg.Enabled)

	mc, err := mapMetricsConfig(cfg)
	require.NoError(t, err)
	assert.False(t, mc.Enabled)

	rp, err := mapRedisConfig(cfg)
	require.NoError(t, err)
	assert.Nil(t, rp)

	sc, err := mapStorageConfig(cfg)
	require.NoError(t, err)
	assert.Equal(t, defaultDBPath, sc.Path)
	assert.Equal(t, 5*time.Second, sc.BusyTimeout)

	assert.Equal(t, 30, mapLapsedPolicy(cfg).InactiveDays)
}

func TestMapRedisConfig(t *testing.T) {
	t.Parallel()
	rp, err := mapRedisConfig(&config.Config{Redis: &config.RedisConfig{
		Enabled: true, Addr: "127.0.0.1:6379", DB: 2, ContentTTL: "10m",
	}})
	require.NoError(t, err)
	require.NotNil(t, rp)
	assert.Equal(t, "127.0.0.1:6379", rp.opts.Addr)
	assert.Equal(t, 2, rp.opts.DB)
	assert.Equal(t, 10*time.Minute, rp.contentTTL)
	assert.Equal(t, time.Minute, rp.missTTL)
}

const seedJSON = `{
  "promptContents": [
    {"entryId": "e1", "promptId": "p1", "subjectLine": "What made you smile?", "scheduledDate": "2026-03-10",
     "content": [{"text": "Think about today."}]}
  ],
  "members": [
    {"id": "m1", "email": "m1@example.com", "timeZone": "UTC", "promptSendTime": {"hour": 14, "minute": 0},
     "notificationSettings": {"email": "ACTIVE"}, "fcmTokens": ["tok-1"]},
    {"id": "m2", "email": "m2@example.com", "promptSendTime": {"hour": 14, "minute": 5},
     "notificationSettings": {"email": "ACTIVE"}}
  ]
}`

func newTestApp(t *testing.T) *App {
	t.Helper()
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "promptnotify.json")
	body := `{
  "logging": {"level": "error", "console": false},
  "storage": {"path": "` + filepath.ToSlash(filepath.Join(dir, "app.db")) + `"},
  "task_engine": {"workers": 3},
  "scheduler": {"enabled": false},
  "notify": {"email_template_id": "daily-prompt", "page_size": 1}
}`
	require.NoError(t, os.WriteFile(cfgPath, []byte(body), 0o600))

	a, err := New(cfgPath)
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = a.Stop(ctx, StopOneShot)
	})
	return a
}

func TestSeedProcessMemberAndRunBucket(t *testing.T) {
	t.Parallel()
	a := newTestApp(t)
	ctx := context.Background()
	now := time.Now().UTC()

	rep, err := a.Seed(ctx, strings.NewReader(seedJSON), now)
	require.NoError(t, err)
	assert.Equal(t, SeedReport{Members: 2, Contents: 1}, rep)

	// m2 has no cached bucket in the file; 14:05 falls into the 14:00 bucket.
	m2, err := a.store.GetMember(ctx, "m2")
	require.NoError(t, err)
	require.NotNil(t, m2.PromptSendTimeUTC)
	assert.Equal(t, domain.ClockTime{Hour: 14, Minute: 0}, *m2.PromptSendTimeUTC)

	bucket := domain.ClockTime{Hour: 14, Minute: 0}
	sys := time.Date(2026, 3, 10, 14, 0, 0, 0, time.UTC)

	res := a.ProcessMember(ctx, orchestrator.Input{
		MemberID:          "m1",
		SystemDateObject:  domain.DateObjectOf(sys),
		PromptSendTimeUTC: &bucket,
	})
	require.True(t, res.Success, res.ErrorMessage)
	require.NotNil(t, res.EmailTaskResponse)
	assert.True(t, res.EmailTaskResponse.Sent)
	require.NotNil(t, res.PushTaskResponse)
	assert.True(t, res.PushTaskResponse.Sent)

	br, err := a.RunBucket(ctx, bucket, sys)
	require.NoError(t, err)
	assert.Equal(t, 2, br.Members)
	assert.Zero(t, br.Failed, br.Failures)

	// m1 was already notified above; the batch must not send it again.
	sp, err := a.store.GetSentPrompt(ctx, "m1_p1")
	require.NoError(t, err)
	assert.Len(t, sp.SendHistory, 2)
}

func TestSeedRejectsBadContent(t *testing.T) {
	t.Parallel()
	a := newTestApp(t)
	_, err := a.Seed(context.Background(), strings.NewReader(`{"promptContents":[{"entryId":"e1","promptId":"p1","scheduledDate":"March 10"}]}`), time.Now())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "scheduledDate")
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "bad.json")
	require.NoError(t, os.WriteFile(cfgPath, []byte(`{"storage":{"path":"x.db","busy_timeout":"forever"}}`), 0o600))
	_, err := New(cfgPath)
	require.Error(t, err)
}
