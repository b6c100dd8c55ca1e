package main

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/yairfalse/nimbus/pkg/resource"
)

// parseInstant reads a point in time. Accepted forms: RFC 3339, a plain date,
// a duration ("90m", "-2h") or a count of seconds ("3600", "-3600"). Durations
// and seconds are taken as "that long before now" whatever their sign.
func parseInstant(s string, now time.Time) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, nil
	}
	if secs, err := strconv.ParseInt(s, 10, 64); err == nil {
		return now.Add(-abs(time.Duration(secs) * time.Second)), nil
	}
	if d, err := time.ParseDuration(s); err == nil {
		return now.Add(-abs(d)), nil
	}
	if days, ok := strings.CutSuffix(s, "d"); ok {
		if n, err := strconv.Atoi(strings.TrimPrefix(days, "-")); err == nil {
			return now.AddDate(0, 0, -n), nil
		}
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	if t, err := time.Parse(time.DateOnly, s); err == nil {
		return t, nil
	}
	return time.Time{}, fmt.Errorf("cannot parse time %q (want RFC 3339, YYYY-MM-DD, a duration like 2h or 7d, or seconds ago)", s)
}

// parseWindow builds a window from start and end expressions. An empty end
// means now.
func parseWindow(start, end string, now time.Time) (resource.TimeWindow, error) {
	var (
		w   resource.TimeWindow
		err error
	)
	if w.Start, err = parseInstant(start, now); err != nil {
		return w, fmt.Errorf("start: %w", err)
	}
	if w.End, err = parseInstant(end, now); err != nil {
		return w, fmt.Errorf("end: %w", err)
	}
	return w, nil
}

func abs(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}

// monthStart returns midnight UTC on the first day of t's month.
func monthStart(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}
