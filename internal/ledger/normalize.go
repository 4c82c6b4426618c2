// Package ledger turns raw tabular ledger rows into typed observations and
// raw fact rows, collecting row-level data errors instead of failing.
package ledger

import (
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Upper trims and upper-cases an enum cell.
func Upper(s string) string {
	return cases.Upper(language.Und).String(strings.TrimSpace(s))
}

// ParseBool coerces a validity cell. Blank cells are false.
func ParseBool(s string) (bool, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true", "t", "yes", "y", "1", "1.0":
		return true, true
	case "false", "f", "no", "n", "0", "0.0", "":
		return false, true
	}
	return false, false
}

// Truthy reports whether a measurement cell counts as set. Booleans and
// numbers follow their usual truthiness; blank is false.
func Truthy(s string) bool {
	if b, ok := ParseBool(s); ok {
		return b
	}
	if f, err := strconv.ParseFloat(strings.TrimSpace(s), 64); err == nil {
		return f != 0
	}
	return false
}

var dateLayouts = []string{
	"2006-01-02",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	time.RFC3339,
	"2006/01/02",
	"01/02/2006",
	"1/2/2006",
	"20060102",
}

// ParseDate parses a calendar date in one of the accepted layouts and
// truncates it to midnight UTC.
func ParseDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			y, m, d := t.Date()
			return time.Date(y, m, d, 0, 0, 0, 0, time.UTC), true
		}
	}
	return time.Time{}, false
}

// ParseInt parses an integer cell, accepting a zero fractional part ("2.0").
func ParseInt(s string) (int, bool) {
	s = strings.TrimSpace(s)
	if n, err := strconv.Atoi(s); err == nil {
		return n, true
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || f != float64(int(f)) {
		return 0, false
	}
	return int(f), true
}
