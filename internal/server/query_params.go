package server

import (
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
)

const dateOnlyLayout = "2006-01-02"

func parseOptionalSnowflakeID(value string) (*snowflake.ID, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, nil
	}
	parsed, err := snowflake.ParseString(trimmed)
	if err != nil || parsed <= 0 {
		return nil, errors.New("invalid_snowflake_id")
	}
	return &parsed, nil
}

// parseOptionalTime accepts RFC 3339 or a bare date. A bare date used as an
// upper bound covers the whole day.
func parseOptionalTime(value string, endOfDay bool) (*time.Time, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, nil
	}
	if parsed, err := time.Parse(time.RFC3339, trimmed); err == nil {
		parsed = parsed.UTC()
		return &parsed, nil
	}
	if parsed, err := time.Parse(dateOnlyLayout, trimmed); err == nil {
		if endOfDay {
			parsed = time.Date(parsed.Year(), parsed.Month(), parsed.Day(), 23, 59, 59, int(time.Second-time.Nanosecond), time.UTC)
		} else {
			parsed = time.Date(parsed.Year(), parsed.Month(), parsed.Day(), 0, 0, 0, 0, time.UTC)
		}
		return &parsed, nil
	}
	return nil, errors.New("invalid_time")
}

// timeRange reads the from/to query pair shared by the list endpoints.
func timeRange(from, to string) (*time.Time, *time.Time, error) {
	start, err := parseOptionalTime(from, false)
	if err != nil {
		return nil, nil, newValidationError("from", "invalid_time", "from must be RFC 3339 or YYYY-MM-DD")
	}
	end, err := parseOptionalTime(to, true)
	if err != nil {
		return nil, nil, newValidationError("to", "invalid_time", "to must be RFC 3339 or YYYY-MM-DD")
	}
	if start != nil && end != nil && end.Before(*start) {
		return nil, nil, newValidationError("to", "invalid_range", "to must not be before from")
	}
	return start, end, nil
}
