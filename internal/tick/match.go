package tick

import (
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/lalithlochan/zenpush/internal/db"
)

// ErrMalformedTime is returned for reminder times that are not H:MM or HH:MM.
var ErrMalformedTime = errors.New("malformed reminder time")

// ParseClock converts "HH:MM" (24h, hour may be one digit) into minutes since midnight.
func ParseClock(s string) (int, error) {
	hh, mm, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok || len(hh) < 1 || len(hh) > 2 || len(mm) != 2 {
		return 0, fmt.Errorf("%w: %q", ErrMalformedTime, s)
	}

	h, err := atoiDigits(hh)
	if err != nil || h > 23 {
		return 0, fmt.Errorf("%w: %q", ErrMalformedTime, s)
	}
	m, err := atoiDigits(mm)
	if err != nil || m > 59 {
		return 0, fmt.Errorf("%w: %q", ErrMalformedTime, s)
	}

	return h*60 + m, nil
}

// atoiDigits rejects signs and spaces that strconv.Atoi would accept.
func atoiDigits(s string) (int, error) {
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0, strconv.ErrSyntax
		}
	}
	return strconv.Atoi(s)
}

// IsDue evaluates isEnabled ∧ weekday ∈ daysOfWeek ∧ minutes(time) ∈ window.
// Disabled reminders are rejected before their time is parsed. A parse error is
// returned alongside false so callers can report it.
func IsDue(c Context, r *db.Reminder) (bool, error) {
	if !r.IsEnabled {
		return false, nil
	}

	minutes, err := ParseClock(r.Time)
	if err != nil {
		return false, err
	}

	return slices.Contains(r.DaysOfWeek, c.Weekday) && c.Contains(minutes), nil
}

// MatchResult summarizes one pass of the matcher.
type MatchResult struct {
	Due       []*db.Reminder
	Scanned   int
	Enabled   int
	Malformed int
}

// Matcher filters scanned reminders down to the ones due in a tick.
type Matcher struct {
	logger *zap.Logger
}

// NewMatcher creates a matcher that logs malformed reminders to logger.
func NewMatcher(logger *zap.Logger) *Matcher {
	return &Matcher{logger: logger}
}

// Match returns the reminders due in c. Malformed reminders never abort the
// pass: they are logged, counted and treated as not due.
func (m *Matcher) Match(c Context, reminders []*db.Reminder) MatchResult {
	res := MatchResult{Scanned: len(reminders)}

	for _, r := range reminders {
		if r == nil {
			continue
		}
		if r.IsEnabled {
			res.Enabled++
		}

		due, err := IsDue(c, r)
		if err != nil {
			res.Malformed++
			m.logger.Warn("skipping reminder with malformed time",
				zap.String("reminder_id", r.ID),
				zap.String("owner_id", r.OwnerID),
				zap.String("time", r.Time),
				zap.Error(err),
			)
			continue
		}

		if !due {
			if r.IsEnabled {
				m.logger.Debug("reminder not due",
					zap.String("reminder_id", r.ID),
					zap.String("time", r.Time),
					zap.Ints("days_of_week", r.DaysOfWeek),
					zap.String("window", c.WindowLabel()),
					zap.Int("weekday", c.Weekday),
				)
			}
			continue
		}

		res.Due = append(res.Due, r)
	}

	return res
}
