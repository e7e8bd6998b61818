// Package delivery posts the rendered brief to chat webhooks.
package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

const (
	defaultTimeout = 10 * time.Second
	// Slack rejects section text longer than 3000 characters.
	sectionLimit = 2900
)

// Slack posts messages to an incoming webhook.
type Slack struct {
	client *http.Client
}

// NewSlack creates a Slack webhook client with a 10s timeout.
func NewSlack() *Slack {
	return &Slack{client: &http.Client{Timeout: defaultTimeout}}
}

// SlackBlock is a Block Kit block.
type SlackBlock struct {
	Type     string         `json:"type"`
	Text     *SlackTextObj  `json:"text,omitempty"`
	Elements []SlackTextObj `json:"elements,omitempty"`
}

// SlackTextObj is a Block Kit text object.
type SlackTextObj struct {
	Type  string `json:"type"`
	Text  string `json:"text"`
	Emoji bool   `json:"emoji,omitempty"`
}

// SlackPayload is the webhook body. Text is the notification fallback.
type SlackPayload struct {
	Text   string       `json:"text"`
	Blocks []SlackBlock `json:"blocks,omitempty"`
}

// PostBrief converts the markdown brief to mrkdwn and posts it. Level-1
// headings become the header block, other sections become section blocks.
func (s *Slack) PostBrief(ctx context.Context, webhookURL, brief string) error {
	if strings.TrimSpace(webhookURL) == "" {
		return fmt.Errorf("slack webhook url is not configured")
	}
	return s.send(ctx, webhookURL, BuildBriefPayload(brief))
}

// BuildBriefPayload splits the brief on level-2 headings into blocks.
func BuildBriefPayload(brief string) SlackPayload {
	var (
		title    string
		blocks   []SlackBlock
		sections []string
		current  strings.Builder
	)
	flush := func() {
		text := strings.TrimSpace(current.String())
		if text != "" {
			sections = append(sections, text)
		}
		current.Reset()
	}

	for _, line := range strings.Split(brief, "\n") {
		switch {
		case strings.HasPrefix(line, "# ") && title == "":
			title = strings.TrimSpace(strings.TrimPrefix(line, "# "))
		case strings.HasPrefix(line, "## "):
			flush()
			current.WriteString(line)
			current.WriteString("\n")
		default:
			current.WriteString(line)
			current.WriteString("\n")
		}
	}
	flush()

	if title != "" {
		blocks = append(blocks, SlackBlock{
			Type: "header",
			Text: &SlackTextObj{Type: "plain_text", Text: title, Emoji: true},
		})
	}
	for i, section := range sections {
		if i > 0 {
			blocks = append(blocks, SlackBlock{Type: "divider"})
		}
		text := ConvertToSlackMarkdown(section)
		if len(text) > sectionLimit {
			text = text[:sectionLimit] + "\n... _(truncated)_"
		}
		blocks = append(blocks, SlackBlock{
			Type: "section",
			Text: &SlackTextObj{Type: "mrkdwn", Text: text},
		})
	}
	blocks = append(blocks, SlackBlock{
		Type:     "context",
		Elements: []SlackTextObj{{Type: "mrkdwn", Text: "Daily Flight Deck"}},
	})

	fallback := title
	if fallback == "" {
		fallback = "Daily Flight Deck"
	}
	return SlackPayload{Text: fallback, Blocks: blocks}
}

// ConvertToSlackMarkdown rewrites markdown into Slack mrkdwn: **bold** becomes
// *bold*, [text](url) becomes <url|text>, headings become bold lines.
// Fenced code blocks are left alone.
func ConvertToSlackMarkdown(text string) string {
	lines := strings.Split(text, "\n")
	inCodeBlock := false
	for i, line := range lines {
		if strings.HasPrefix(line, "```") {
			inCodeBlock = !inCodeBlock
			continue
		}
		if inCodeBlock {
			continue
		}

		for strings.Contains(line, "**") {
			line = strings.Replace(line, "**", "*", 2)
		}
		line = convertLinks(line)

		if trimmed := strings.TrimSpace(line); strings.HasPrefix(trimmed, "#") {
			line = "*" + strings.TrimLeft(trimmed, "# ") + "*"
		}
		lines[i] = line
	}
	return strings.Join(lines, "\n")
}

func convertLinks(line string) string {
	searchFrom := 0
	for {
		start := strings.Index(line[searchFrom:], "[")
		if start == -1 {
			return line
		}
		start += searchFrom
		mid := strings.Index(line[start:], "](")
		if mid == -1 {
			return line
		}
		mid += start
		end := strings.Index(line[mid+2:], ")")
		if end == -1 {
			return line
		}
		end += mid + 2

		link := fmt.Sprintf("<%s|%s>", line[mid+2:end], line[start+1:mid])
		line = line[:start] + link + line[end+1:]
		searchFrom = start + len(link)
	}
}

func (s *Slack) send(ctx context.Context, webhookURL string, payload SlackPayload) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, webhookURL, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("slack webhook failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("slack webhook returned status %d", resp.StatusCode)
	}
	return nil
}
