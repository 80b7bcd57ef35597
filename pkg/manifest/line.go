package manifest

import (
	"encoding/json"
	"strings"
	"time"
)

// DateTimeLayout is the canonical datetime form in all manifest files.
const DateTimeLayout = "2006-01-02 15:04:05"

var dateTimeLayouts = []string{
	DateTimeLayout,
	"2006-01-02 15:04:05 MST",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05.999999999Z07:00",
}

// FormatDateTime renders t in the canonical manifest form (UTC).
func FormatDateTime(t time.Time) string {
	return t.UTC().Format(DateTimeLayout)
}

// ParseDateTime parses a manifest datetime, trying the known layouts.
func ParseDateTime(s string) (time.Time, bool) {
	for _, layout := range dateTimeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

// ParseLine decodes one manifest line. Lines look like "- <payload>"
// where payload is a JSON array/object/string or a bare string. Returns
// false for lines that are not list entries.
func ParseLine(line string) (any, bool) {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, "- ") {
		return nil, false
	}
	payload := line[2:]
	if len(payload) >= 2 {
		first, last := payload[0], payload[len(payload)-1]
		switch {
		case (first == '[' && last == ']') || (first == '{' && last == '}') || (first == '"' && last == '"'):
			var v any
			if err := json.Unmarshal([]byte(payload), &v); err == nil {
				return v, true
			}
		case first == '\'' && last == '\'':
			return payload[1 : len(payload)-1], true
		}
	}
	return payload, true
}
