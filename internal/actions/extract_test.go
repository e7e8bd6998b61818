package actions

import (
	"testing"

	"github.com/tidwall/gjson"
)

func TestExtractJSONObject(t *testing.T) {
	tests := []struct {
		name     string
		text     string
		wantOK   bool
		headline string
	}{
		{"strict object", `{"headline":"a"}`, true, "a"},
		{"fenced with language", "```json\n{\"headline\":\"b\"}\n```", true, "b"},
		{"fenced without language", "```\n{\"headline\":\"c\"}\n```", true, "c"},
		{"embedded in prose", "Sure! Here you go: {\"headline\":\"d\"} Hope it helps.", true, "d"},
		{"array is not an object", `["x"]`, false, ""},
		{"plain prose", "I cannot help with that.", false, ""},
		{"empty", "   ", false, ""},
		{"broken braces", "{ not json }", false, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			obj, ok := ExtractJSONObject(tt.text)
			if ok != tt.wantOK {
				t.Fatalf("ExtractJSONObject() ok = %v, want %v", ok, tt.wantOK)
			}
			if ok {
				if got := gjson.GetBytes(obj, "headline").String(); got != tt.headline {
					t.Errorf("headline = %q, want %q", got, tt.headline)
				}
			}
		})
	}
}
