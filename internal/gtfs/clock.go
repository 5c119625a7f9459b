package gtfs

import (
	"fmt"
	"strconv"
	"strings"
)

const SecondsPerDay = 24 * 3600

// ParseClock parses a strict HH:MM:SS value into seconds since midnight.
// Hours may exceed 23 for trips running past midnight.
func ParseClock(s string) (int, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) != 3 {
		return 0, fmt.Errorf("invalid time %q: want HH:MM:SS", s)
	}
	return clockSeconds(s, parts)
}

// ParseDepartAt accepts HH:MM or HH:MM:SS.
func ParseDepartAt(s string) (int, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	switch len(parts) {
	case 2:
		parts = append(parts, "00")
	case 3:
	default:
		return 0, fmt.Errorf("invalid time %q: want HH:MM or HH:MM:SS", s)
	}
	return clockSeconds(s, parts)
}

func clockSeconds(raw string, parts []string) (int, error) {
	var v [3]int
	for i, p := range parts {
		if p == "" || len(p) > 3 {
			return 0, fmt.Errorf("invalid time %q", raw)
		}
		for _, r := range p {
			if r < '0' || r > '9' {
				return 0, fmt.Errorf("invalid time %q", raw)
			}
		}
		n, err := strconv.Atoi(p)
		if err != nil {
			return 0, fmt.Errorf("invalid time %q: %w", raw, err)
		}
		v[i] = n
	}
	if v[1] > 59 || v[2] > 59 {
		return 0, fmt.Errorf("invalid time %q: minutes and seconds must be < 60", raw)
	}
	return v[0]*3600 + v[1]*60 + v[2], nil
}

// FormatClock renders seconds as a wall-clock HH:MM, wrapping past midnight.
// Use it for display only; ordering must use the raw seconds.
func FormatClock(sec int) string {
	sec %= SecondsPerDay
	if sec < 0 {
		sec += SecondsPerDay
	}
	return fmt.Sprintf("%02d:%02d", sec/3600, (sec%3600)/60)
}
