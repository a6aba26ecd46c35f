package entity

import (
	"fmt"
	"time"
)

// ScheduledPhrase is a commercial or informational phrase shown on the
// display inside a weekly time window and a validity date range
type ScheduledPhrase struct {
	ID         uint           `json:"id"`
	Text       string         `json:"text"`
	Active     bool           `json:"active"`
	DaysOfWeek []time.Weekday `json:"daysOfWeek"`
	StartTime  string         `json:"startTime"` // HH:MM, empty means start of day
	EndTime    string         `json:"endTime"`   // HH:MM, empty means end of day
	ValidFrom  *time.Time     `json:"validFrom,omitempty"`
	ValidUntil *time.Time     `json:"validUntil,omitempty"`
}

// IsActiveAt reports whether the phrase should be shown at t
func (p ScheduledPhrase) IsActiveAt(t time.Time) bool {
	if !p.Active {
		return false
	}

	if len(p.DaysOfWeek) > 0 {
		found := false
		for _, d := range p.DaysOfWeek {
			if d == t.Weekday() {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}

	// validity bounds are calendar dates, read without zone conversion
	day := onDate(t, t.Location())
	if p.ValidFrom != nil && day.Before(onDate(*p.ValidFrom, t.Location())) {
		return false
	}
	if p.ValidUntil != nil && day.After(onDate(*p.ValidUntil, t.Location())) {
		return false
	}

	start, err := parseClock(p.StartTime, 0)
	if err != nil {
		return false
	}
	end, err := parseClock(p.EndTime, 24*60-1)
	if err != nil {
		return false
	}

	now := t.Hour()*60 + t.Minute()
	if start <= end {
		return now >= start && now <= end
	}
	// window wraps past midnight
	return now >= start || now <= end
}

// onDate places the calendar date of t at midnight in loc
func onDate(t time.Time, loc *time.Location) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc)
}

// parseClock converts HH:MM into minutes since midnight
func parseClock(s string, def int) (int, error) {
	if s == "" {
		return def, nil
	}
	var h, m int
	if _, err := fmt.Sscanf(s, "%d:%d", &h, &m); err != nil {
		return 0, fmt.Errorf("invalid time of day %q: %w", s, err)
	}
	if h < 0 || h > 23 || m < 0 || m > 59 {
		return 0, fmt.Errorf("invalid time of day %q", s)
	}
	return h*60 + m, nil
}
