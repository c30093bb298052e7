// Package sendtime maps a member's local send time onto the UTC quarter-hour
// bucket the batch cron fires on.
package sendtime

import (
	"fmt"
	"time"

	"promptnotify/internal/domain"
)

// BucketMinutes is the width of a send-time bucket.
const BucketMinutes = 15

// Bucket floors minute to the start of its bucket (0, 15, 30 or 45).
func Bucket(minute int) int {
	if minute < 0 {
		return 0
	}
	return minute - minute%BucketMinutes
}

// BucketOf returns the UTC bucket containing t.
func BucketOf(t time.Time) domain.ClockTime {
	t = t.UTC()
	return domain.ClockTime{Hour: t.Hour(), Minute: Bucket(t.Minute())}
}

// ResolveUTC converts a local send time in timeZone to its UTC bucket on the
// member-local calendar date of ref. The local minute is bucketed before the
// conversion so zones with non-hour offsets still land on a bucket boundary.
func ResolveUTC(local domain.ClockTime, timeZone string, ref time.Time) (domain.ClockTime, error) {
	if !local.Valid() {
		return domain.ClockTime{}, fmt.Errorf("invalid local send time %s", local)
	}
	loc := time.UTC
	if timeZone != "" {
		l, err := time.LoadLocation(timeZone)
		if err != nil {
			return domain.ClockTime{}, fmt.Errorf("load zone %q: %w", timeZone, err)
		}
		loc = l
	}
	day := ref.In(loc)
	at := time.Date(day.Year(), day.Month(), day.Day(), local.Hour, Bucket(local.Minute), 0, 0, loc)
	return BucketOf(at), nil
}

// IsSendWindow reports whether now falls in the member's UTC bucket. It does
// not prevent double sends inside the window.
func IsSendWindow(nowUTC time.Time, member domain.ClockTime) bool {
	return BucketOf(nowUTC) == member
}

// ResolveMember resolves the member's bucket using its own send time and zone.
func ResolveMember(m domain.Member, ref time.Time) (domain.ClockTime, error) {
	return ResolveUTC(m.SendTime(), m.TimeZone, ref)
}

// Recompute resolves the member's bucket for ref and reports whether it
// differs from the cached value. A change in either hour or minute counts.
func Recompute(m domain.Member, ref time.Time) (domain.ClockTime, bool, error) {
	utc, err := ResolveMember(m, ref)
	if err != nil {
		return domain.ClockTime{}, false, err
	}
	cached := m.PromptSendTimeUTC
	changed := cached == nil || cached.Hour != utc.Hour || cached.Minute != utc.Minute
	return utc, changed, nil
}
