package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"flightdeck/internal/deck"
)

// Config represents the main configuration for flightdeck.
type Config struct {
	BaseDir string `toml:"base_dir" yaml:"base_dir"`
	LogDir  string `toml:"log_dir" yaml:"log_dir"`
	// TimezoneSource names where wall-clock times come from; only "local" is honored.
	TimezoneSource string `toml:"timezone_source" yaml:"timezone_source"`

	Server   ServerConfig   `toml:"server" yaml:"server"`
	Refresh  RefreshConfig  `toml:"refresh" yaml:"refresh"`
	Database DatabaseConfig `toml:"database" yaml:"database"`
	Artifact ArtifactConfig `toml:"artifact" yaml:"artifact"`
	Chat     ChatConfig     `toml:"chat" yaml:"chat"`
	Email    EmailConfig    `toml:"email" yaml:"email"`
	Calendar CalendarConfig `toml:"calendar" yaml:"calendar"`
	Brief    BriefConfig    `toml:"brief" yaml:"brief"`
	Actions  ActionsConfig  `toml:"actions" yaml:"actions"`
	Agent    AgentConfig    `toml:"agent" yaml:"agent"`
	Skills   SkillsConfig   `toml:"skills" yaml:"skills"`
}

// ServerConfig is the HTTP API listener.
type ServerConfig struct {
	Host string `toml:"host" yaml:"host"`
	Port int    `toml:"port" yaml:"port"`
}

// RefreshConfig controls when ingestion may run and how long history is kept.
type RefreshConfig struct {
	CooldownMinutes int      `toml:"cooldown_minutes" yaml:"cooldown_minutes"`
	RetentionDays   int      `toml:"retention_days" yaml:"retention_days"`
	RunDays         []string `toml:"run_days" yaml:"run_days"`
	RunTime         string   `toml:"run_time" yaml:"run_time"` // HH:MM, local time
	AllowEmpty      bool     `toml:"allow_empty" yaml:"allow_empty"`
}

// DatabaseConfig represents configuration for the pipeline store.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type DatabaseConfig struct {
	Type string `toml:"type" yaml:"type"`                     // "sqlite" or "memory"
	Path string `toml:"path,omitempty" yaml:"path,omitempty"` // only used for type=sqlite
}

// ArtifactConfig selects where the latest-snapshot artifact is written.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type ArtifactConfig struct {
	Type string `toml:"type" yaml:"type"` // "filesystem", "s3", or "memory"

	// Filesystem-specific fields (only used when Type == "filesystem")
	Path string `toml:"path,omitempty" yaml:"path,omitempty"`

	// S3-specific fields (only used when Type == "s3")
	S3Bucket string `toml:"s3_bucket,omitempty" yaml:"s3_bucket,omitempty"`
	S3Prefix string `toml:"s3_prefix,omitempty" yaml:"s3_prefix,omitempty"`
	S3Region string `toml:"s3_region,omitempty" yaml:"s3_region,omitempty"`
	// S3Endpoint targets S3-compatible stores; it switches to path-style addressing.
	S3Endpoint string `toml:"s3_endpoint,omitempty" yaml:"s3_endpoint,omitempty"`
	// Static credentials. When empty the default AWS credential chain is used.
	S3AccessKeyID     string `toml:"s3_access_key_id,omitempty" yaml:"s3_access_key_id,omitempty"`
	S3SecretAccessKey string `toml:"s3_secret_access_key,omitempty" yaml:"s3_secret_access_key,omitempty"`

	// Encrypt wraps any sink with age encryption to the recipient in RecipientPath.
	Encrypt       bool   `toml:"encrypt" yaml:"encrypt"`
	RecipientPath string `toml:"recipient_path,omitempty" yaml:"recipient_path,omitempty"`
	IdentityPath  string `toml:"identity_path,omitempty" yaml:"identity_path,omitempty"`
}

// ChatConfig scopes chat ingestion.
type ChatConfig struct {
	ChannelsExact  []string `toml:"channels_exact" yaml:"channels_exact"`
	ChannelsPrefix []string `toml:"channels_prefix" yaml:"channels_prefix"`
	LookbackHours  int      `toml:"lookback_hours" yaml:"lookback_hours"`
	Mentions       []string `toml:"mentions" yaml:"mentions"`
}

type EmailConfig struct {
	LookbackHours int      `toml:"lookback_hours" yaml:"lookback_hours"`
	Mentions      []string `toml:"mentions" yaml:"mentions"`
}

type CalendarConfig struct {
	LookaheadHours int `toml:"lookahead_hours" yaml:"lookahead_hours"`
}

// BriefConfig controls the rendered brief and its optional delivery.
type BriefConfig struct {
	MaxActions      int    `toml:"max_actions" yaml:"max_actions"`
	SlackWebhookURL string `toml:"slack_webhook_url,omitempty" yaml:"slack_webhook_url,omitempty"`
}

// ActionsConfig configures the generative action backend.
type ActionsConfig struct {
	OpenAIModel    string `toml:"openai_model" yaml:"openai_model"`
	TimeoutSeconds int    `toml:"timeout_seconds" yaml:"timeout_seconds"`
	// OpenAIAPIKey is normally supplied through OPENAI_API_KEY.
	OpenAIAPIKey string `toml:"openai_api_key,omitempty" yaml:"openai_api_key,omitempty"`
}

// AgentConfig configures the external agent used for fetching and skills.
type AgentConfig struct {
	Bin            string `toml:"bin" yaml:"bin"`
	Model          string `toml:"model" yaml:"model"`
	ProjectRoot    string `toml:"project_root" yaml:"project_root"`
	PromptFile     string `toml:"prompt_file,omitempty" yaml:"prompt_file,omitempty"`
	ConfigPath     string `toml:"config_path,omitempty" yaml:"config_path,omitempty"`
	TimeoutSeconds int    `toml:"timeout_seconds" yaml:"timeout_seconds"`
}

type SkillsConfig struct {
	Allowlist      []string `toml:"allowlist" yaml:"allowlist"`
	TimeoutSeconds int      `toml:"timeout_seconds" yaml:"timeout_seconds"`
}

// DefaultSkills are allowlisted when the config names none.
var DefaultSkills = []string{
	"se-daily-flight-deck",
	"gh-fix-ci",
	"gh-address-comments",
	"incident-report-generator",
	"command-center-integration-audit",
	"command-center-task-ops",
}

// NewConfig creates a new Config rooted at baseDir with default values.
func NewConfig(baseDir string) *Config {
	return &Config{
		BaseDir:        baseDir,
		LogDir:         filepath.Join(baseDir, "log"),
		TimezoneSource: "local",
		Server:         ServerConfig{Host: "127.0.0.1", Port: 2025},
		Refresh: RefreshConfig{
			CooldownMinutes: 10,
			RetentionDays:   30,
			RunDays:         []string{"mon", "tue", "wed", "thu", "fri"},
			RunTime:         "08:30",
		},
		Database: DatabaseConfig{Type: "sqlite", Path: filepath.Join(baseDir, "flight_deck.db")},
		Artifact: ArtifactConfig{Type: "filesystem", Path: filepath.Join(baseDir, "latest_snapshot.json")},
		Chat:     ChatConfig{LookbackHours: 24},
		Email:    EmailConfig{LookbackHours: 24},
		Calendar: CalendarConfig{LookaheadHours: 24},
		Brief:    BriefConfig{MaxActions: 10},
		Actions:  ActionsConfig{OpenAIModel: "gpt-4.1-mini", TimeoutSeconds: 120},
		Agent: AgentConfig{
			Bin:            "codex",
			Model:          "gpt-5",
			ProjectRoot:    baseDir,
			TimeoutSeconds: 900,
		},
		Skills: SkillsConfig{
			Allowlist:      append([]string(nil), DefaultSkills...),
			TimeoutSeconds: 600,
		},
	}
}

// ChatScope returns the channel allow-list for chat ingestion.
func (c *Config) ChatScope() deck.ChatScope {
	return deck.ChatScope{Exact: c.Chat.ChannelsExact, Prefix: c.Chat.ChannelsPrefix}
}

// Cooldown returns the refresh cooldown as a duration.
func (c *Config) Cooldown() time.Duration {
	return time.Duration(c.Refresh.CooldownMinutes) * time.Minute
}

// Addr returns the host:port the API listens on.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

var runTimePattern = regexp.MustCompile(`^([01]\d|2[0-3]):[0-5]\d$`)

var weekdays = map[string]bool{
	"sun": true, "mon": true, "tue": true, "wed": true, "thu": true, "fri": true, "sat": true,
}

// Validate checks values that would otherwise fail late at runtime.
func (c *Config) Validate() error {
	if c.Refresh.CooldownMinutes < 0 {
		return fmt.Errorf("refresh.cooldown_minutes must not be negative")
	}
	if c.Refresh.RetentionDays < 0 {
		return fmt.Errorf("refresh.retention_days must not be negative")
	}
	if c.Refresh.RunTime != "" && !runTimePattern.MatchString(c.Refresh.RunTime) {
		return fmt.Errorf("refresh.run_time %q is not HH:MM", c.Refresh.RunTime)
	}
	for _, d := range c.Refresh.RunDays {
		if !weekdays[strings.ToLower(d)] {
			return fmt.Errorf("refresh.run_days: unknown day %q", d)
		}
	}
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	if c.Brief.MaxActions < 0 {
		return fmt.Errorf("brief.max_actions must not be negative")
	}
	switch c.Database.Type {
	case "sqlite":
		if c.Database.Path == "" {
			return fmt.Errorf("database.path required for sqlite database")
		}
	case "memory":
	default:
		return fmt.Errorf("unknown database type: %s", c.Database.Type)
	}
	switch c.Artifact.Type {
	case "filesystem":
		if c.Artifact.Path == "" {
			return fmt.Errorf("artifact.path required for filesystem artifact")
		}
	case "s3":
		if c.Artifact.S3Bucket == "" {
			return fmt.Errorf("artifact.s3_bucket required for s3 artifact")
		}
	case "memory":
	default:
		return fmt.Errorf("unknown artifact type: %s", c.Artifact.Type)
	}
	if c.Artifact.Encrypt && c.Artifact.RecipientPath == "" {
		return fmt.Errorf("artifact.recipient_path required when artifact.encrypt is set")
	}
	return nil
}

// Format identifies a config file encoding.
type Format int

const (
	FormatTOML Format = iota
	FormatYAML
)

// FormatForPath picks the encoding from the file extension. TOML is the default.
func FormatForPath(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML
	}
	return FormatTOML
}

// Manager handles reading and writing configuration.
type Manager struct {
	Format Format
}

// Read decodes a Config from the provided reader. Fields the document omits
// keep the defaults of NewConfig(baseDir).
func (m *Manager) Read(r io.Reader, baseDir string) (*Config, error) {
	cfg := NewConfig(baseDir)
	switch m.Format {
	case FormatYAML:
		dec := yaml.NewDecoder(r)
		dec.KnownFields(true)
		if err := dec.Decode(cfg); err != nil && err != io.EOF {
			return nil, fmt.Errorf("failed to decode config: %w", err)
		}
	default:
		if _, err := toml.NewDecoder(r).Decode(cfg); err != nil {
			return nil, fmt.Errorf("failed to decode config: %w", err)
		}
	}
	return cfg, nil
}

// Write encodes a Config to the provided writer.
func (m *Manager) Write(w io.Writer, cfg *Config) error {
	switch m.Format {
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(cfg); err != nil {
			return fmt.Errorf("failed to encode config: %w", err)
		}
		return enc.Close()
	default:
		if err := toml.NewEncoder(w).Encode(cfg); err != nil {
			return fmt.Errorf("failed to encode config: %w", err)
		}
	}
	return nil
}

// ReadFromFile reads a Config from the specified file path. Defaults are
// rooted at the file's directory.
func ReadFromFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	m := &Manager{Format: FormatForPath(path)}
	cfg, err := m.Read(f, filepath.Dir(path))
	if err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}
	return cfg, nil
}

func writeToFile(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	m := &Manager{Format: FormatForPath(path)}
	if err := m.Write(f, cfg); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}
	return nil
}

// Init initializes a new config file at the specified path with the provided Config.
func Init(path string, cfg *Config) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}

	if err := writeToFile(path, cfg); err != nil {
		return fmt.Errorf("initializing config: %w", err)
	}
	return nil
}
