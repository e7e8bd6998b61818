package actions

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/openai/openai-go/v3/option"
	"github.com/tidwall/gjson"
)

func TestOpenAIBackend_Complete(t *testing.T) {
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotBody, _ = io.ReadAll(r.Body)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"id":      "chatcmpl-1",
			"object":  "chat.completion",
			"created": 1700000000,
			"model":   "gpt-4.1-mini",
			"choices": []map[string]any{{
				"index":         0,
				"finish_reason": "stop",
				"message":       map[string]any{"role": "assistant", "content": `{"headline":"ok"}`},
			}},
		})
	}))
	defer srv.Close()

	b := NewOpenAIBackend("test-key", "gpt-4.1-mini", option.WithBaseURL(srv.URL), option.WithMaxRetries(0))
	got, err := b.Complete(context.Background(), "sys", "usr")
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if got != `{"headline":"ok"}` {
		t.Errorf("Complete() = %q", got)
	}

	req := gjson.ParseBytes(gotBody)
	if req.Get("model").String() != "gpt-4.1-mini" {
		t.Errorf("model = %q", req.Get("model").String())
	}
	if req.Get("messages.0.role").String() != "system" || req.Get("messages.1.content").String() != "usr" {
		t.Errorf("messages = %s", req.Get("messages").Raw)
	}
}

func TestOpenAIBackend_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"message":"bad key"}}`, http.StatusUnauthorized)
	}))
	defer srv.Close()

	b := NewOpenAIBackend("bad", "gpt-4.1-mini", option.WithBaseURL(srv.URL), option.WithMaxRetries(0))
	if _, err := b.Complete(context.Background(), "sys", "usr"); err == nil {
		t.Error("Complete() error = nil, want error")
	}
}
