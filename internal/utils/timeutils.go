package utils

import (
	"fmt"
	"time"
)

// ParseSince accepts either an RFC3339 timestamp or a Go duration such as
// "24h", interpreted as that long before now.
func ParseSince(value string, now time.Time) (time.Time, error) {
	if value == "" {
		return time.Time{}, fmt.Errorf("empty time value")
	}
	if d, err := time.ParseDuration(value); err == nil {
		if d < 0 {
			d = -d
		}
		return now.Add(-d), nil
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse time %q: expected RFC3339 or a duration: %w", value, err)
	}
	return t, nil
}
