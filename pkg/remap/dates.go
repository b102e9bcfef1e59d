package remap

import (
	"errors"
	"fmt"
	"regexp"
	"time"
)

// ErrInvalidDate wraps every date parse failure so callers can map it to a
// client error without string matching.
var ErrInvalidDate = errors.New("invalid date")

// Shapes accepted for mapped date columns. Go's time.Parse tolerates
// unpadded fields, so the shape check runs first to keep the contract
// strict. Forms without an offset are interpreted as UTC; date-only values
// become midnight UTC.
var dateShapes = []*regexp.Regexp{
	regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`),
	regexp.MustCompile(`^\d{4}-\d{2}-\d{2}T\d{2}:\d{2}:\d{2}(\.\d+)?$`),
	regexp.MustCompile(`^\d{4}-\d{2}-\d{2}T\d{2}:\d{2}:\d{2}(\.\d+)?(Z|[+-]\d{2}:\d{2})$`),
}

var dateLayouts = []string{
	"2006-01-02",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04:05.999999999",
	time.RFC3339,
	time.RFC3339Nano,
}

// ParseFlexibleDate parses a date or datetime string into a UTC timestamp.
// Unlike amounts, a value that parses under none of the accepted layouts is
// a hard error: the caller aborts the whole batch on it.
func ParseFlexibleDate(value string) (time.Time, error) {
	recognised := false
	for _, re := range dateShapes {
		if re.MatchString(value) {
			recognised = true
			break
		}
	}
	if !recognised {
		return time.Time{}, fmt.Errorf("%w %q: accepted formats are YYYY-MM-DD, YYYY-MM-DDTHH:mm:ss, YYYY-MM-DDTHH:mm:ssZ, YYYY-MM-DDTHH:mm:ss+HH:MM", ErrInvalidDate, value)
	}
	for _, layout := range dateLayouts {
		t, err := time.ParseInLocation(layout, value, time.UTC)
		if err == nil {
			return t.UTC(), nil
		}
	}
	// shape matched but a field is out of range (month 13, day 40, ...)
	return time.Time{}, fmt.Errorf("%w %q: a date field is out of range", ErrInvalidDate, value)
}
