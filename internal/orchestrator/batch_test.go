package orchestrator

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"promptnotify/internal/domain"
	"promptnotify/internal/eventbus"
	"promptnotify/internal/task/engine"
	logx "promptnotify/pkg/logx"
)

func startEngine(t *testing.T, bus eventbus.Bus) *engine.Service {
	t.Helper()
	eng := engine.New(engine.Config{Enabled: true, Workers: 4, QueueSize: 16, RetryMax: 1}, logx.Nop(), bus)
	eng.Start(context.Background())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		eng.Stop(ctx)
	})
	return eng
}

func TestRunBucketFansOutAcrossPages(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	for i := 0; i < 7; i++ {
		h.addMember(t, fmt.Sprintf("m%02d", i), nil)
	}
	h.addMember(t, "reflected", nil)
	require.NoError(t, h.store.AddReflectionResponse(context.Background(), domain.ReflectionResponse{
		ID: "r1", MemberID: "reflected", PromptID: "p1", CreatedAt: sysTime,
	}))
	h.addMember(t, "elsewhere", func(m *domain.Member) { m.PromptSendTimeUTC = &domain.ClockTime{Hour: 3, Minute: 45} })

	events, unsub := h.bus.Subscribe(4, eventbus.TypeBatchCompleted)
	defer unsub()

	b := NewBatch(h.orch, h.store, startEngine(t, h.bus), BatchConfig{PageSize: 3, MemberTimeout: 5 * time.Second}, h.bus, nil, logx.Nop())
	rep, err := b.RunBucket(context.Background(), bucket, sysTime)
	require.NoError(t, err)

	assert.Equal(t, 8, rep.Members)
	assert.Equal(t, 7, rep.Processed)
	assert.Equal(t, 1, rep.Skipped)
	assert.Equal(t, 0, rep.Failed)
	assert.Equal(t, "14:00", rep.Bucket)
	assert.Equal(t, int32(7), h.email.calls.Load())

	select {
	case e := <-events:
		assert.Equal(t, 8, e.Data.(BatchReport).Members)
	case <-time.After(time.Second):
		t.Fatal("expected batch.completed")
	}
}

func TestRunBucketCollectsFailures(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.addMember(t, "bad-zone", func(m *domain.Member) { m.TimeZone = "Nowhere/Land" })
	h.addMember(t, "ok", nil)

	b := NewBatch(h.orch, h.store, startEngine(t, h.bus), BatchConfig{PageSize: 10}, nil, nil, logx.Nop())
	rep, err := b.RunBucket(context.Background(), bucket, sysTime)
	require.NoError(t, err)

	assert.Equal(t, 2, rep.Members)
	assert.Equal(t, 1, rep.Processed)
	assert.Equal(t, 1, rep.Failed)
	require.Len(t, rep.Failures, 1)
	assert.Equal(t, "bad-zone", rep.Failures[0].MemberID)
	assert.False(t, rep.Failures[0].Retryable)
	assert.Equal(t, 1, rep.Failures[0].Attempts)
}

func TestCronJobUsesQuarterHourBucket(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.addMember(t, "m1", nil)

	b := NewBatch(h.orch, h.store, startEngine(t, h.bus), BatchConfig{}, nil, nil, logx.Nop())
	require.NoError(t, b.CronJob()(context.Background(), time.Date(2024, 5, 1, 14, 14, 59, 0, time.UTC)))
	assert.Equal(t, int32(1), h.email.calls.Load())
}
