package lapsed

import (
	"testing"
	"time"

	"promptnotify/internal/domain"
)

func TestIsLastEmail(t *testing.T) {
	t.Parallel()

	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	daysAgo := func(d int) *time.Time {
		v := now.AddDate(0, 0, -d)
		return &v
	}
	p := Policy{InactiveDays: 30, Now: func() time.Time { return now }}

	tests := []struct {
		name   string
		member domain.Member
		latest *domain.ReflectionResponse
		want   bool
	}{
		{
			name:   "recent signup without activity",
			member: domain.Member{CreatedAt: *daysAgo(2)},
			want:   false,
		},
		{
			name:   "old signup without activity",
			member: domain.Member{CreatedAt: *daysAgo(60)},
			want:   true,
		},
		{
			name: "inactive never triggers",
			member: domain.Member{
				CreatedAt:            *daysAgo(90),
				NotificationSettings: domain.NotificationSettings{Email: domain.EmailInactive},
			},
			want: false,
		},
		{
			name:   "reply lapsed",
			member: domain.Member{CreatedAt: *daysAgo(90), LastReplyAt: daysAgo(40)},
			want:   true,
		},
		{
			name:   "reply lapsed but admin unsubscribe is recent",
			member: domain.Member{CreatedAt: *daysAgo(90), LastReplyAt: daysAgo(40), AdminEmailUnsubscribedAt: daysAgo(5)},
			want:   false,
		},
		{
			name:   "reply lapsed and admin unsubscribe is old",
			member: domain.Member{CreatedAt: *daysAgo(90), LastReplyAt: daysAgo(40), AdminEmailUnsubscribedAt: daysAgo(45)},
			want:   true,
		},
		{
			name:   "recent reply",
			member: domain.Member{CreatedAt: *daysAgo(90), LastReplyAt: daysAgo(3)},
			want:   false,
		},
		{
			name:   "response beats stale reply",
			member: domain.Member{CreatedAt: *daysAgo(90), LastReplyAt: daysAgo(40)},
			latest: &domain.ReflectionResponse{CreatedAt: *daysAgo(1)},
			want:   false,
		},
		{
			name:   "stale response",
			member: domain.Member{CreatedAt: *daysAgo(90)},
			latest: &domain.ReflectionResponse{CreatedAt: *daysAgo(31)},
			want:   true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := p.IsLastEmail(tt.member, tt.latest); got != tt.want {
				t.Fatalf("IsLastEmail=%v want %v", got, tt.want)
			}
		})
	}
}

func TestDefaultThreshold(t *testing.T) {
	t.Parallel()

	now := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	p := Policy{Now: func() time.Time { return now }}
	if got := p.threshold(); !got.Equal(now.AddDate(0, 0, -DefaultInactiveDays)) {
		t.Fatalf("threshold=%v", got)
	}
}
