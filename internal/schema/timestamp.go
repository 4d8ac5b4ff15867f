package schema

import (
	"strings"
	"time"
)

// Accepted timestamp shapes. Fractional seconds are optional in the ISO
// layouts; a value without zone information is taken as already UTC.
var timestampLayouts = []string{
	"2006-01-02T15:04:05.999999999Z",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// ParseTimestamp normalizes one of the accepted string forms to a UTC
// instant. Anything else fails with InvalidTimestampError carrying the
// original literal.
func ParseTimestamp(value string) (time.Time, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return time.Time{}, &InvalidTimestampError{Value: value}
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, trimmed); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, &InvalidTimestampError{Value: value}
}
