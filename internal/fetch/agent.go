// Package fetch obtains raw connector payloads, either from the external
// agent or from JSON files dropped into a watched directory.
package fetch

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"flightdeck/internal/agentexec"
	"flightdeck/internal/config"
	"flightdeck/internal/deck"
)

// ConnectorServers are the MCP server names that give the agent access to
// chat, email and calendar. At least one must be configured.
var ConnectorServers = []string{"codex_apps", "slack", "gmail", "google_calendar"}

const defaultPrompt = `Collect my recent work signals using the connected tools and reply with a single JSON object, no prose.
Keys:
- chat_results: array of chat messages {channel_name, text, message_ts, author_display_name, web_link, message_info_str}
- calendar_events: array of events {id, summary, description, start, end, url}
- email_messages: array of emails {id, subject, snippet, email_ts, from_, labels, has_attachment, url}
- diagnostics: object {tool_access: {chat, calendar, email}, errors: [string]}
Use empty arrays when a source has nothing. Never invent data.`

// AgentFetcher asks the external agent, with connectors enabled, for a payload.
type AgentFetcher struct {
	Runner      agentexec.Runner
	Model       string
	ProjectRoot string
	// PromptFile replaces the built-in prompt body when set.
	PromptFile string
	// ConfigPath is the agent's own config file, checked for connector servers.
	ConfigPath string

	RunDays                []string
	RunTime                string
	ChatLookbackHours      int
	EmailLookbackHours     int
	CalendarLookaheadHours int

	Clock deck.Clock
}

var _ deck.Fetcher = (*AgentFetcher)(nil)

// NewAgentFetcher builds a fetcher from cfg. An empty agent config path
// defaults to ~/.codex/config.toml.
func NewAgentFetcher(cfg *config.Config, clock deck.Clock) *AgentFetcher {
	if clock == nil {
		clock = deck.RealClock{}
	}
	configPath := cfg.Agent.ConfigPath
	if configPath == "" {
		if home, err := os.UserHomeDir(); err == nil {
			configPath = filepath.Join(home, ".codex", "config.toml")
		}
	}
	return &AgentFetcher{
		Runner: agentexec.Runner{
			Bin:     cfg.Agent.Bin,
			Timeout: time.Duration(cfg.Agent.TimeoutSeconds) * time.Second,
		},
		Model:                  cfg.Agent.Model,
		ProjectRoot:            cfg.Agent.ProjectRoot,
		PromptFile:             cfg.Agent.PromptFile,
		ConfigPath:             configPath,
		RunDays:                cfg.Refresh.RunDays,
		RunTime:                cfg.Refresh.RunTime,
		ChatLookbackHours:      cfg.Chat.LookbackHours,
		EmailLookbackHours:     cfg.Email.LookbackHours,
		CalendarLookaheadHours: cfg.Calendar.LookaheadHours,
		Clock:                  clock,
	}
}

// Preflight verifies the agent binary exists and its config declares at
// least one connector server.
func (f *AgentFetcher) Preflight() error {
	if err := f.Runner.RequireExecutable(); err != nil {
		return fmt.Errorf("agent preflight: %w", err)
	}
	return CheckConnectorConfig(f.ConfigPath)
}

// CheckConnectorConfig decodes the agent config at path and requires an
// [mcp_servers.<name>] table for one of ConnectorServers.
func CheckConnectorConfig(path string) error {
	var doc struct {
		MCPServers map[string]toml.Primitive `toml:"mcp_servers"`
	}
	if _, err := toml.DecodeFile(path, &doc); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("agent config missing at %s; cannot verify chat/email/calendar connectors", path)
		}
		return fmt.Errorf("reading agent config %s: %w", path, err)
	}

	for _, name := range ConnectorServers {
		if _, ok := doc.MCPServers[name]; ok {
			return nil
		}
	}

	seen := make([]string, 0, len(doc.MCPServers))
	for name := range doc.MCPServers {
		seen = append(seen, name)
	}
	sort.Strings(seen)
	found := "(none)"
	if len(seen) > 0 {
		found = strings.Join(seen, ", ")
	}
	return fmt.Errorf("agent config does not include chat/email/calendar connectors. Found servers: %s. Add one of: %s",
		found, strings.Join(ConnectorServers, ", "))
}

// Prompt builds the full fetch prompt, ending with the window parameters.
func (f *AgentFetcher) Prompt() (string, error) {
	body := defaultPrompt
	if f.PromptFile != "" {
		data, err := os.ReadFile(f.PromptFile)
		if err != nil {
			return "", fmt.Errorf("reading prompt file: %w", err)
		}
		body = strings.TrimSpace(string(data))
	}

	now := f.Clock.Now().UTC()
	chatAfter := now.Add(-time.Duration(f.ChatLookbackHours) * time.Hour)
	calendarMax := now.Add(time.Duration(f.CalendarLookaheadHours) * time.Hour)

	var b strings.Builder
	b.WriteString(body)
	b.WriteString("\n\n")
	fmt.Fprintf(&b, "run_days=%s run_time=%s\n", strings.Join(f.RunDays, ","), f.RunTime)
	fmt.Fprintf(&b, "chat_lookback_hours=%d\n", f.ChatLookbackHours)
	fmt.Fprintf(&b, "email_lookback_hours=%d\n", f.EmailLookbackHours)
	fmt.Fprintf(&b, "calendar_lookahead_hours=%d\n", f.CalendarLookaheadHours)
	fmt.Fprintf(&b, "chat_after_date=%s\n", chatAfter.Format("2006-01-02"))
	fmt.Fprintf(&b, "calendar_time_min=%s\n", now.Format(time.RFC3339))
	fmt.Fprintf(&b, "calendar_time_max=%s\n", calendarMax.Format(time.RFC3339))
	return b.String(), nil
}

// Fetch runs the preflight, executes the agent and parses its final message.
func (f *AgentFetcher) Fetch(ctx context.Context) (*deck.Payload, error) {
	if err := f.Preflight(); err != nil {
		return nil, err
	}
	prompt, err := f.Prompt()
	if err != nil {
		return nil, err
	}

	args := []string{"--enable", "connectors", "--skip-git-repo-check", "-C", f.ProjectRoot}
	if f.Model != "" {
		args = append(args, "-m", f.Model)
	}
	res, err := f.Runner.Exec(ctx, args, prompt)
	if err != nil {
		return nil, fmt.Errorf("snapshot fetch failed: %w", err)
	}
	if res.Output == "" {
		return nil, fmt.Errorf("snapshot payload missing from agent output")
	}

	payload, err := deck.ParsePayload([]byte(res.Output), deck.FetchModeAgentExec)
	if err != nil {
		return nil, fmt.Errorf("parsing agent payload: %w", err)
	}
	return payload, nil
}
