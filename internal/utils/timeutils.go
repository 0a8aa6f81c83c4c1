package utils

import (
	"fmt"
	"time"
)

// ParseRFC3339 returns a UTC time from the provided string or an error.
// Fractional seconds are accepted because alertmanager emits them.
func ParseRFC3339(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, fmt.Errorf("empty time value")
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		t, err = time.Parse(time.RFC3339Nano, value)
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("parse time: %w", err)
	}
	return t.UTC(), nil
}

// UTCDate renders the date component used in generated identifiers.
func UTCDate(t time.Time) string {
	return t.UTC().Format("20060102")
}
