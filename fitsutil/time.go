package fitsutil

import (
	"strings"
	"time"
)

var timeLayouts = []string{
	"2006-01-02T15:04:05.999999999Z07:00",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04",
	"2006-01-02",
}

// ParseTime reads an ISO-8601 style FITS date value. values without a zone are UTC.
func ParseTime(v any) (time.Time, error) {
	s, ok := v.(string)
	if !ok {
		return time.Time{}, Error.New("time value %v is not a string", v)
	}
	s = strings.TrimSpace(s)
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, Error.New("cannot parse time %q", s)
}

// ParseDate reads a calendar date given as YYYY-MM-DD, YYYYMMDD or a full timestamp.
func ParseDate(v any) (string, error) {
	s := strings.TrimSpace(ValueString(v))
	if t, err := time.Parse("20060102", s); err == nil {
		return t.Format(time.DateOnly), nil
	}
	t, err := ParseTime(s)
	if err != nil {
		return "", err
	}
	return t.Format(time.DateOnly), nil
}
