package domain

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ClockTime is an hour/minute pair without a date or zone.
type ClockTime struct {
	Hour   int `json:"hour" validate:"min=0,max=23"`
	Minute int `json:"minute" validate:"min=0,max=59"`
}

// DefaultPromptSendTime is used when a member never picked a send time.
var DefaultPromptSendTime = ClockTime{Hour: 8, Minute: 0}

func (c ClockTime) String() string { return fmt.Sprintf("%02d:%02d", c.Hour, c.Minute) }

func (c ClockTime) Valid() bool {
	return c.Hour >= 0 && c.Hour <= 23 && c.Minute >= 0 && c.Minute <= 59
}

// ParseClockTime parses "HH:MM".
func ParseClockTime(s string) (ClockTime, error) {
	s = strings.TrimSpace(s)
	hh, mm, ok := strings.Cut(s, ":")
	if !ok {
		return ClockTime{}, fmt.Errorf("invalid clock time %q (want HH:MM)", s)
	}
	h, err := strconv.Atoi(hh)
	if err != nil {
		return ClockTime{}, fmt.Errorf("invalid hour in %q: %w", s, err)
	}
	m, err := strconv.Atoi(mm)
	if err != nil {
		return ClockTime{}, fmt.Errorf("invalid minute in %q: %w", s, err)
	}
	c := ClockTime{Hour: h, Minute: m}
	if !c.Valid() {
		return ClockTime{}, fmt.Errorf("clock time out of range: %q", s)
	}
	return c, nil
}

// DateObject is the calendar breakdown the scheduler hands to member tasks.
type DateObject struct {
	Year   int `json:"year" validate:"min=1970,max=9999"`
	Month  int `json:"month" validate:"min=1,max=12"`
	Day    int `json:"day" validate:"min=1,max=31"`
	Hour   int `json:"hour" validate:"min=0,max=23"`
	Minute int `json:"minute" validate:"min=0,max=59"`
	Second int `json:"second" validate:"min=0,max=59"`
}

// DateObjectOf breaks t down in its own location.
func DateObjectOf(t time.Time) DateObject {
	return DateObject{
		Year:   t.Year(),
		Month:  int(t.Month()),
		Day:    t.Day(),
		Hour:   t.Hour(),
		Minute: t.Minute(),
		Second: t.Second(),
	}
}

// Time interprets d in loc (UTC when loc is nil).
func (d DateObject) Time(loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	return time.Date(d.Year, time.Month(d.Month), d.Day, d.Hour, d.Minute, d.Second, 0, loc)
}

// DateKey renders the calendar date as YYYY-MM-DD.
func (d DateObject) DateKey() string {
	return fmt.Sprintf("%04d-%02d-%02d", d.Year, d.Month, d.Day)
}

// DateKeyOf renders the calendar date of t (in t's location) as YYYY-MM-DD.
func DateKeyOf(t time.Time) string { return t.Format(time.DateOnly) }
