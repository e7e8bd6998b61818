package deck

import (
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04Z07:00",
	"2006-01-02T15:04",
	"2006-01-02",
}

// ParseTimestamp reads an ISO-8601 string or epoch seconds (number or numeric
// string) and returns it in UTC. Naive values are taken as UTC. Missing or
// unparseable values yield fallback.
func ParseTimestamp(v gjson.Result, fallback time.Time) time.Time {
	switch v.Type {
	case gjson.Number:
		return epochToTime(v.Float())
	case gjson.String:
		return ParseTimestampString(v.String(), fallback)
	default:
		return fallback.UTC()
	}
}

// ParseTimestampString is ParseTimestamp for plain strings.
func ParseTimestampString(text string, fallback time.Time) time.Time {
	text = strings.TrimSpace(text)
	if text == "" {
		return fallback.UTC()
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, text); err == nil {
			return t.UTC()
		}
	}
	if f, err := strconv.ParseFloat(text, 64); err == nil {
		return epochToTime(f)
	}
	return fallback.UTC()
}

func epochToTime(f float64) time.Time {
	sec := int64(f)
	nsec := int64((f - float64(sec)) * 1e9)
	return time.Unix(sec, nsec).UTC()
}
