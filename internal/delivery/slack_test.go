package delivery

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestConvertToSlackMarkdown(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"bold", "a **b** c", "a *b* c"},
		{"link", "see [PR](https://x.test/1) now", "see <https://x.test/1|PR> now"},
		{"two links", "[a](u1) and [b](u2)", "<u1|a> and <u2|b>"},
		{"heading", "## Inbox Watchlist", "*Inbox Watchlist*"},
		{"code block untouched", "```\n**x**\n```", "```\n**x**\n```"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ConvertToSlackMarkdown(tt.in); got != tt.want {
				t.Errorf("ConvertToSlackMarkdown() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestBuildBriefPayload(t *testing.T) {
	brief := "# Daily Flight Deck (2024-01-15)\n\n## Top 5 Actions for Today\n1. [chat] Review\n\n## Inbox Watchlist (Last 24h)\n- None\n"
	p := BuildBriefPayload(brief)

	if p.Text != "Daily Flight Deck (2024-01-15)" {
		t.Errorf("Text = %q", p.Text)
	}
	var types []string
	for _, b := range p.Blocks {
		types = append(types, b.Type)
	}
	want := "header,section,divider,section,context"
	if got := strings.Join(types, ","); got != want {
		t.Errorf("block types = %s, want %s", got, want)
	}
	if !strings.HasPrefix(p.Blocks[1].Text.Text, "*Top 5 Actions for Today*") {
		t.Errorf("first section = %q", p.Blocks[1].Text.Text)
	}
}

func TestSlack_PostBrief(t *testing.T) {
	t.Run("posts blocks", func(t *testing.T) {
		var got SlackPayload
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if ct := r.Header.Get("Content-Type"); ct != "application/json" {
				t.Errorf("Content-Type = %q", ct)
			}
			if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
				t.Errorf("decoding body: %v", err)
			}
			w.WriteHeader(http.StatusOK)
		}))
		defer srv.Close()

		if err := NewSlack().PostBrief(context.Background(), srv.URL, "# Title\n\n## Section\nbody"); err != nil {
			t.Fatalf("PostBrief() error = %v", err)
		}
		if got.Text != "Title" || len(got.Blocks) == 0 {
			t.Errorf("payload = %+v", got)
		}
	})

	t.Run("non-2xx is an error", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusForbidden)
		}))
		defer srv.Close()

		err := NewSlack().PostBrief(context.Background(), srv.URL, "# Title")
		if err == nil || !strings.Contains(err.Error(), "403") {
			t.Errorf("PostBrief() error = %v, want status 403", err)
		}
	})

	t.Run("missing url", func(t *testing.T) {
		if err := NewSlack().PostBrief(context.Background(), " ", "# Title"); err == nil {
			t.Error("PostBrief() error = nil, want error")
		}
	})
}
