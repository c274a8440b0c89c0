// Package utils provides utility functions for the application.
package utils

import (
	"fmt"
	"strings"
	"time"
)

// UTCNow returns the current time in UTC
func UTCNow() time.Time {
	return time.Now().UTC()
}

// facebookLayouts are the shapes Graph uses for created_time / updated_time.
var facebookLayouts = []string{
	"2006-01-02T15:04:05-0700",
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05.000-0700",
	"2006-01-02T15:04:05",
}

// ParseFacebookTime parses a Graph timestamp ("...Z", "...+0000", "...+00:00")
// and returns it in UTC.
func ParseFacebookTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("empty timestamp")
	}
	for _, layout := range facebookLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized facebook timestamp %q", s)
}

// MinutesSince returns the fractional number of minutes between t and now.
func MinutesSince(t, now time.Time) float64 {
	return now.Sub(t).Minutes()
}

// DaysSince returns the number of whole days between t and now (floor).
func DaysSince(t, now time.Time) int {
	if now.Before(t) {
		return 0
	}
	return int(now.Sub(t) / (24 * time.Hour))
}

// MaxTime returns the later of a and b.
func MaxTime(a, b time.Time) time.Time {
	if a.After(b) {
		return a
	}
	return b
}
