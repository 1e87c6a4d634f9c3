// Package scheduler evaluates per-butler scheduled tasks: standard 5-field
// cron expressions and one-shot RFC3339 timestamps, with until_at expiry.
package scheduler

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Schedule holds the sets of matching values for each of the 5 cron fields,
// or a single one-shot instant.
type Schedule struct {
	oneShot    time.Time
	minute     []int
	hour       []int
	dayOfMonth []int
	month      []int
	dayOfWeek  []int
}

// ParseSpec parses a cron_or_oneshot_spec: either a standard 5-field cron
// expression, or an RFC3339 timestamp naming a single future instant.
func ParseSpec(spec string) (*Schedule, error) {
	if t, err := time.Parse(time.RFC3339, spec); err == nil {
		return &Schedule{oneShot: t}, nil
	}
	return parseCron(spec)
}

// IsOneShot reports whether this schedule fires exactly once.
func (s *Schedule) IsOneShot() bool {
	return !s.oneShot.IsZero()
}

// parseCron parses a 5-field cron expression (space-separated). Supported
// field syntax: "*", "*/N", "N", "N-M", "N-M/S", "A,B,C".
func parseCron(expr string) (*Schedule, error) {
	fields := strings.Fields(expr)
	if len(fields) != 5 {
		return nil, fmt.Errorf("cron expression must have exactly 5 fields, got %d in %q", len(fields), expr)
	}

	minute, err := parseCronField(fields[0], 0, 59)
	if err != nil {
		return nil, fmt.Errorf("minute field %q: %w", fields[0], err)
	}
	hour, err := parseCronField(fields[1], 0, 23)
	if err != nil {
		return nil, fmt.Errorf("hour field %q: %w", fields[1], err)
	}
	dayOfMonth, err := parseCronField(fields[2], 1, 31)
	if err != nil {
		return nil, fmt.Errorf("day-of-month field %q: %w", fields[2], err)
	}
	month, err := parseCronField(fields[3], 1, 12)
	if err != nil {
		return nil, fmt.Errorf("month field %q: %w", fields[3], err)
	}
	dayOfWeek, err := parseCronField(fields[4], 0, 6)
	if err != nil {
		return nil, fmt.Errorf("day-of-week field %q: %w", fields[4], err)
	}

	return &Schedule{
		minute:     minute,
		hour:       hour,
		dayOfMonth: dayOfMonth,
		month:      month,
		dayOfWeek:  dayOfWeek,
	}, nil
}

func parseCronField(field string, min, max int) ([]int, error) {
	if idx := strings.LastIndex(field, "/"); idx != -1 {
		stepStr := field[idx+1:]
		step, err := strconv.Atoi(stepStr)
		if err != nil || step <= 0 {
			return nil, fmt.Errorf("invalid step value %q", stepStr)
		}
		base := field[:idx]
		var start, end int
		if base == "*" {
			start, end = min, max
		} else if strings.Contains(base, "-") {
			s, e, err := parseRange(base, min, max)
			if err != nil {
				return nil, err
			}
			start, end = s, e
		} else {
			v, err := strconv.Atoi(base)
			if err != nil {
				return nil, fmt.Errorf("invalid value %q", base)
			}
			start, end = v, max
		}
		if err := checkRange(start, end, min, max); err != nil {
			return nil, err
		}
		var vals []int
		for v := start; v <= end; v += step {
			vals = append(vals, v)
		}
		return vals, nil
	}

	if field == "*" {
		vals := make([]int, max-min+1)
		for i := range vals {
			vals[i] = min + i
		}
		return vals, nil
	}

	if strings.Contains(field, ",") {
		parts := strings.Split(field, ",")
		seen := make(map[int]bool)
		var vals []int
		for _, p := range parts {
			v, err := strconv.Atoi(strings.TrimSpace(p))
			if err != nil {
				return nil, fmt.Errorf("invalid list value %q", p)
			}
			if v < min || v > max {
				return nil, fmt.Errorf("value %d out of range [%d, %d]", v, min, max)
			}
			if !seen[v] {
				seen[v] = true
				vals = append(vals, v)
			}
		}
		sort.Ints(vals)
		return vals, nil
	}

	if strings.Contains(field, "-") {
		start, end, err := parseRange(field, min, max)
		if err != nil {
			return nil, err
		}
		if err := checkRange(start, end, min, max); err != nil {
			return nil, err
		}
		vals := make([]int, end-start+1)
		for i := range vals {
			vals[i] = start + i
		}
		return vals, nil
	}

	v, err := strconv.Atoi(field)
	if err != nil {
		return nil, fmt.Errorf("invalid value %q", field)
	}
	if v < min || v > max {
		return nil, fmt.Errorf("value %d out of range [%d, %d]", v, min, max)
	}
	return []int{v}, nil
}

func parseRange(s string, min, max int) (start, end int, err error) {
	parts := strings.SplitN(s, "-", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("invalid range %q", s)
	}
	start, err = strconv.Atoi(parts[0])
	if err != nil {
		return 0, 0, fmt.Errorf("invalid range start %q", parts[0])
	}
	end, err = strconv.Atoi(parts[1])
	if err != nil {
		return 0, 0, fmt.Errorf("invalid range end %q", parts[1])
	}
	return start, end, nil
}

func checkRange(start, end, min, max int) error {
	if start < min || end > max || start > end {
		return fmt.Errorf("range [%d, %d] out of bounds [%d, %d]", start, end, min, max)
	}
	return nil
}

// Next returns the next time after now that matches the schedule. For a
// one-shot schedule it returns the fixed instant if it is still ahead of
// now, or the zero time otherwise. For a cron schedule it searches forward
// at minute resolution for up to 366 days.
func (s *Schedule) Next(now time.Time) time.Time {
	if s.IsOneShot() {
		if s.oneShot.After(now) {
			return s.oneShot
		}
		return time.Time{}
	}

	t := now.Add(time.Minute).Truncate(time.Minute)
	for range 366 * 24 * 60 {
		if containsInt(s.month, int(t.Month())) &&
			containsInt(s.dayOfMonth, t.Day()) &&
			containsInt(s.dayOfWeek, int(t.Weekday())) &&
			containsInt(s.hour, t.Hour()) &&
			containsInt(s.minute, t.Minute()) {
			return t
		}
		t = t.Add(time.Minute)
	}
	return time.Time{}
}

func containsInt(vals []int, v int) bool {
	for _, x := range vals {
		if x == v {
			return true
		}
	}
	return false
}
