package registry

import (
	"fmt"
	"strconv"
	"strings"
)

// ParseClock validates a 24h "HH:MM" string and returns it zero-padded.
// Single-digit hours and minutes ("7:5") are accepted.
func ParseClock(raw string) (hour, minute int, norm string, err error) {
	s := strings.TrimSpace(raw)
	parts := strings.Split(s, ":")
	if len(parts) != 2 {
		return 0, 0, "", invalid("time", raw, "expected HH:MM")
	}
	hour, err = clockField(parts[0], 23)
	if err != nil {
		return 0, 0, "", invalid("time", raw, "hour must be 0-23")
	}
	minute, err = clockField(parts[1], 59)
	if err != nil {
		return 0, 0, "", invalid("time", raw, "minute must be 0-59")
	}
	return hour, minute, formatClock(hour, minute), nil
}

func clockField(s string, max int) (int, error) {
	if len(s) == 0 || len(s) > 2 {
		return 0, strconv.ErrSyntax
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0, strconv.ErrSyntax
		}
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, err
	}
	if n > max {
		return 0, strconv.ErrRange
	}
	return n, nil
}

func formatClock(h, m int) string {
	return fmt.Sprintf("%02d:%02d", h, m)
}
