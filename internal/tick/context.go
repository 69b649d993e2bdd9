// Package tick resolves the evaluation window for a scheduler tick and decides
// which reminders fall inside it.
package tick

import (
	"fmt"
	"time"
)

// DefaultWindowMinutes matches the trigger cadence.
const DefaultWindowMinutes = 5

// Context is the canonical view of "now" that a single tick evaluates against.
// Every field is derived from the instant and the location alone, so two
// resolutions of the same inputs agree regardless of the host's locale or TZ.
type Context struct {
	Now            time.Time
	Local          time.Time
	CurrentMinutes int // minutes since local midnight
	Weekday        int // ISO weekday, 1=Monday..7=Sunday
	WindowStart    int // inclusive, minutes since midnight
	WindowEnd      int // exclusive
	WindowStartAt  time.Time
}

// Resolve derives the tick context for now in loc. The window is the half-open
// interval [floor(m/size)*size, +size) that contains the local minute-of-day m.
func Resolve(now time.Time, loc *time.Location, windowMinutes int) Context {
	if loc == nil {
		loc = time.UTC
	}
	if windowMinutes <= 0 {
		windowMinutes = DefaultWindowMinutes
	}

	local := now.In(loc)
	minutes := local.Hour()*60 + local.Minute()
	start := (minutes / windowMinutes) * windowMinutes

	return Context{
		Now:            now,
		Local:          local,
		CurrentMinutes: minutes,
		Weekday:        ISOWeekday(local.Weekday()),
		WindowStart:    start,
		WindowEnd:      start + windowMinutes,
		WindowStartAt:  windowStartAt(local, minutes-start),
	}
}

// windowStartAt steps back from the observed instant instead of rebuilding
// the wall clock, which is ambiguous during the repeated hour after a
// fall-back transition. This holds as long as no window contains a transition,
// which is true for any window size that divides an hour.
func windowStartAt(local time.Time, minutesIntoWindow int) time.Time {
	return local.Truncate(time.Minute).Add(-time.Duration(minutesIntoWindow) * time.Minute)
}

// ISOWeekday maps Go's Sunday-first weekday to 1=Monday..7=Sunday.
// Stored reminders use this convention; changing it breaks every schedule.
func ISOWeekday(d time.Weekday) int {
	if d == time.Sunday {
		return 7
	}
	return int(d)
}

// Contains reports whether a minute-of-day falls in the tick window.
func (c Context) Contains(minutes int) bool {
	return minutes >= c.WindowStart && minutes < c.WindowEnd
}

// WindowLabel renders the window as "HH:MM-HH:MM" for logs.
func (c Context) WindowLabel() string {
	return clock(c.WindowStart) + "-" + clock(c.WindowEnd)
}

// IdempotencyKey identifies one logical occurrence of (reminder, type) in this
// window. The window start is rendered as an absolute UTC instant so keys from
// different days never collide.
func (c Context) IdempotencyKey(reminderID, reminderType string) string {
	return fmt.Sprintf("%s:%s:%s", reminderID, reminderType, c.WindowStartAt.UTC().Format(time.RFC3339))
}

func clock(minutes int) string {
	return fmt.Sprintf("%02d:%02d", minutes/60, minutes%60)
}
