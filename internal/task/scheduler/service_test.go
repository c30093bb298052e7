package scheduler

import (
	"context"
	"testing"
	"time"

	"promptnotify/internal/task/engine"
	logx "promptnotify/pkg/logx"
)

func TestValidateSpec(t *testing.T) {
	t.Parallel()

	tests := []struct {
		spec    string
		wantErr bool
	}{
		{"*/15 * * * *", false},
		{"0 */15 * * * *", false},
		{"@hourly", false},
		{"0 */6 * * *", false},
		{"", true},
		{"every fifteen", true},
		{"61 * * * *", true},
	}
	for _, tt := range tests {
		err := ValidateSpec(tt.spec)
		if (err != nil) != tt.wantErr {
			t.Fatalf("ValidateSpec(%q) err=%v wantErr=%v", tt.spec, err, tt.wantErr)
		}
	}
}

func TestTriggerRunsJobThroughEngine(t *testing.T) {
	t.Parallel()

	eng := engine.New(engine.Config{Enabled: true, Workers: 1}, logx.Nop(), nil)
	eng.Start(context.Background())
	defer eng.Stop(context.Background())

	s := New(Config{Enabled: true}, eng, logx.Nop(), nil)
	got := make(chan time.Time, 1)
	if err := s.AddCron("batch", "*/15 * * * *", time.Second, func(ctx context.Context, firedAt time.Time) error {
		got <- firedAt
		return nil
	}); err != nil {
		t.Fatalf("AddCron: %v", err)
	}

	at := time.Date(2026, 3, 8, 9, 30, 0, 0, time.UTC)
	if err := s.Trigger("batch", at); err != nil {
		t.Fatalf("Trigger: %v", err)
	}
	select {
	case fired := <-got:
		if !fired.Equal(at) {
			t.Fatalf("firedAt=%v want %v", fired, at)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("job never ran")
	}
}

func TestAddCronReplacesByName(t *testing.T) {
	t.Parallel()

	s := New(Config{Enabled: true}, nil, logx.Nop(), nil)
	s.Start(context.Background())
	defer s.Stop(context.Background())

	noop := func(ctx context.Context, firedAt time.Time) error { return nil }
	if err := s.AddCron("refresh", "0 3 * * *", 0, noop); err != nil {
		t.Fatalf("AddCron: %v", err)
	}
	if err := s.AddCron("refresh", "0 */6 * * *", 0, noop); err != nil {
		t.Fatalf("AddCron: %v", err)
	}
	entries := s.Entries()
	if len(entries) != 1 || entries[0].Spec != "0 */6 * * *" {
		t.Fatalf("entries=%+v", entries)
	}
	if entries[0].Next.IsZero() {
		t.Fatalf("next run should be computed once started")
	}
	if err := s.AddCron("bad", "nope", 0, noop); err == nil {
		t.Fatalf("invalid spec should be rejected")
	}
	if !s.Remove("refresh") || s.Remove("refresh") {
		t.Fatalf("remove should succeed once")
	}
}
