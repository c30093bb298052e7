package sendtime

import (
	"testing"
	"time"

	"promptnotify/internal/domain"
)

func TestBucket(t *testing.T) {
	t.Parallel()

	tests := []struct{ in, want int }{
		{0, 0}, {7, 0}, {14, 0}, {15, 15}, {29, 15}, {30, 30}, {44, 30}, {45, 45}, {59, 45},
	}
	for _, tt := range tests {
		if got := Bucket(tt.in); got != tt.want {
			t.Fatalf("Bucket(%d)=%d want %d", tt.in, got, tt.want)
		}
	}
}

func TestResolveUTC(t *testing.T) {
	t.Parallel()

	summer := time.Date(2024, 7, 1, 12, 0, 0, 0, time.UTC)
	winter := time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		name  string
		local domain.ClockTime
		zone  string
		ref   time.Time
		want  domain.ClockTime
	}{
		{"utc floors to bucket start", domain.ClockTime{Hour: 14, Minute: 7}, "", summer, domain.ClockTime{Hour: 14, Minute: 0}},
		{"new york summer", domain.ClockTime{Hour: 8, Minute: 20}, "America/New_York", summer, domain.ClockTime{Hour: 12, Minute: 15}},
		{"new york winter", domain.ClockTime{Hour: 8, Minute: 20}, "America/New_York", winter, domain.ClockTime{Hour: 13, Minute: 15}},
		{"kolkata half hour offset", domain.ClockTime{Hour: 9, Minute: 0}, "Asia/Kolkata", summer, domain.ClockTime{Hour: 3, Minute: 30}},
		{"wraps to previous utc day", domain.ClockTime{Hour: 1, Minute: 45}, "Asia/Tokyo", summer, domain.ClockTime{Hour: 16, Minute: 45}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ResolveUTC(tt.local, tt.zone, tt.ref)
			if err != nil {
				t.Fatalf("ResolveUTC: %v", err)
			}
			if got != tt.want {
				t.Fatalf("got %s want %s", got, tt.want)
			}
		})
	}
}

func TestResolveUTCErrors(t *testing.T) {
	t.Parallel()

	if _, err := ResolveUTC(domain.ClockTime{Hour: 8}, "Not/AZone", time.Now()); err == nil {
		t.Fatalf("expected unknown zone error")
	}
	if _, err := ResolveUTC(domain.ClockTime{Hour: 24}, "", time.Now()); err == nil {
		t.Fatalf("expected invalid clock error")
	}
}

func TestIsSendWindow(t *testing.T) {
	t.Parallel()

	bucket := domain.ClockTime{Hour: 14, Minute: 0}
	if !IsSendWindow(time.Date(2024, 5, 1, 14, 7, 30, 0, time.UTC), bucket) {
		t.Fatalf("14:07 should be in the 14:00 window")
	}
	if IsSendWindow(time.Date(2024, 5, 1, 14, 15, 0, 0, time.UTC), bucket) {
		t.Fatalf("14:15 should not be in the 14:00 window")
	}
	loc, _ := time.LoadLocation("Europe/Paris")
	if !IsSendWindow(time.Date(2024, 5, 1, 16, 10, 0, 0, loc), bucket) {
		t.Fatalf("non-UTC instants are compared in UTC")
	}
}

func TestRecomputeUsesEitherField(t *testing.T) {
	t.Parallel()

	ref := time.Date(2024, 7, 1, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		name    string
		cached  *domain.ClockTime
		changed bool
	}{
		{"no cache", nil, true},
		{"same", &domain.ClockTime{Hour: 10, Minute: 15}, false},
		{"hour only", &domain.ClockTime{Hour: 11, Minute: 15}, true},
		{"minute only", &domain.ClockTime{Hour: 10, Minute: 30}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := domain.Member{
				ID:                "m1",
				PromptSendTime:    &domain.ClockTime{Hour: 10, Minute: 20},
				PromptSendTimeUTC: tt.cached,
			}
			utc, changed, err := Recompute(m, ref)
			if err != nil {
				t.Fatalf("Recompute: %v", err)
			}
			if utc != (domain.ClockTime{Hour: 10, Minute: 15}) {
				t.Fatalf("utc=%s", utc)
			}
			if changed != tt.changed {
				t.Fatalf("changed=%v want %v", changed, tt.changed)
			}
		})
	}
}

func TestRecomputeDefaultsSendTime(t *testing.T) {
	t.Parallel()

	utc, _, err := Recompute(domain.Member{ID: "m1"}, time.Date(2024, 7, 1, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("Recompute: %v", err)
	}
	if utc != domain.DefaultPromptSendTime {
		t.Fatalf("utc=%s want %s", utc, domain.DefaultPromptSendTime)
	}
}
