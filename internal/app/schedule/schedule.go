// Package schedule evaluates per-blocklist time windows: day-of-week
// membership intersected with a minute-of-day range that may wrap
// midnight, both read in the primary's configured IANA timezone.
package schedule

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

var dayIndex = map[string]time.Weekday{
	"sun": time.Sunday,
	"mon": time.Monday,
	"tue": time.Tuesday,
	"wed": time.Wednesday,
	"thu": time.Thursday,
	"fri": time.Friday,
	"sat": time.Saturday,
}

// ParseDays turns a comma list of "mon".."sun" into the set of weekdays it
// names. An empty list means all days.
func ParseDays(csv string) (map[time.Weekday]struct{}, error) {
	out := map[time.Weekday]struct{}{}
	csv = strings.TrimSpace(csv)
	if csv == "" {
		return out, nil
	}
	for _, tok := range strings.Split(csv, ",") {
		tok = strings.ToLower(strings.TrimSpace(tok))
		d, ok := dayIndex[tok]
		if !ok {
			return nil, fmt.Errorf("schedule: unrecognized day %q", tok)
		}
		out[d] = struct{}{}
	}
	return out, nil
}

// ParseHHMM parses an "HH:MM" string into minutes since midnight.
func ParseHHMM(s string) (int, error) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return 0, fmt.Errorf("schedule: invalid HH:MM %q", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, fmt.Errorf("schedule: invalid hour in %q", s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, fmt.Errorf("schedule: invalid minute in %q", s)
	}
	return h*60 + m, nil
}

// InRange reports whether minute-of-day m falls in [start, end); end < start
// means the window wraps midnight.
func InRange(m, start, end int) bool {
	if start <= end {
		return m >= start && m < end
	}
	return m >= start || m < end
}

// Window is one blocklist's schedule, already parsed.
type Window struct {
	Days        map[time.Weekday]struct{}
	StartMinute int
	EndMinute   int
}

// NewWindow parses a blocklist's schedule_days/schedule_start/schedule_end
// fields into a Window.
func NewWindow(daysCSV, start, end string) (Window, error) {
	days, err := ParseDays(daysCSV)
	if err != nil {
		return Window{}, err
	}
	s, err := ParseHHMM(start)
	if err != nil {
		return Window{}, err
	}
	e, err := ParseHHMM(end)
	if err != nil {
		return Window{}, err
	}
	return Window{Days: days, StartMinute: s, EndMinute: e}, nil
}

// ShouldBeActive evaluates the window at a local time already converted to
// the primary's configured IANA timezone.
func (w Window) ShouldBeActive(local time.Time) bool {
	if len(w.Days) > 0 {
		if _, ok := w.Days[local.Weekday()]; !ok {
			return false
		}
	}
	minuteOfDay := local.Hour()*60 + local.Minute()
	return InRange(minuteOfDay, w.StartMinute, w.EndMinute)
}
