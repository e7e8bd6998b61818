package actions

import (
	"strings"

	"github.com/tidwall/gjson"
)

// ExtractJSONObject finds a JSON object in model output. It tries the whole
// text, then the text with a surrounding code fence removed, then the span
// from the first "{" to the last "}".
func ExtractJSONObject(text string) ([]byte, bool) {
	raw := strings.TrimSpace(text)
	if raw == "" {
		return nil, false
	}
	if obj, ok := asObject(raw); ok {
		return obj, true
	}

	if strings.HasPrefix(raw, "```") {
		raw = strings.Trim(raw, "`")
		raw = strings.TrimSpace(strings.TrimPrefix(raw, "json"))
		if obj, ok := asObject(raw); ok {
			return obj, true
		}
	}

	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start == -1 || end <= start {
		return nil, false
	}
	return asObject(raw[start : end+1])
}

func asObject(s string) ([]byte, bool) {
	if !gjson.Valid(s) {
		return nil, false
	}
	if !gjson.Parse(s).IsObject() {
		return nil, false
	}
	return []byte(s), true
}
