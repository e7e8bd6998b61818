package config

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestManager_ReadWrite_RoundTrip(t *testing.T) {
	for _, format := range []Format{FormatTOML, FormatYAML} {
		original := NewConfig("/home/user/.local/share/flightdeck")
		original.Server.Port = 3030
		original.Chat.ChannelsExact = []string{"#incidents"}
		original.Chat.ChannelsPrefix = []string{"team-"}
		original.Artifact = ArtifactConfig{Type: "s3", S3Bucket: "decks", S3Region: "us-east-1", Encrypt: true, RecipientPath: "/k/deck.pub"}
		original.Refresh.RunDays = []string{"mon", "wed"}

		var buf bytes.Buffer
		m := &Manager{Format: format}

		if err := m.Write(&buf, original); err != nil {
			t.Fatalf("Write() error = %v", err)
		}

		got, err := m.Read(&buf, "/elsewhere")
		if err != nil {
			t.Fatalf("Read() error = %v", err)
		}

		if got.BaseDir != original.BaseDir {
			t.Errorf("BaseDir = %q, want %q", got.BaseDir, original.BaseDir)
		}
		if got.Server.Port != 3030 {
			t.Errorf("Server.Port = %d, want 3030", got.Server.Port)
		}
		if len(got.Chat.ChannelsExact) != 1 || got.Chat.ChannelsExact[0] != "#incidents" {
			t.Errorf("Chat.ChannelsExact = %v, want [#incidents]", got.Chat.ChannelsExact)
		}
		if got.Artifact.Type != "s3" || got.Artifact.S3Bucket != "decks" || !got.Artifact.Encrypt {
			t.Errorf("Artifact = %+v, want s3/decks/encrypted", got.Artifact)
		}
		if len(got.Refresh.RunDays) != 2 {
			t.Errorf("Refresh.RunDays = %v, want 2 days", got.Refresh.RunDays)
		}
	}
}

func TestManager_Read_PartialKeepsDefaults(t *testing.T) {
	t.Run("toml", func(t *testing.T) {
		doc := "[server]\nport = 9000\n\n[chat]\nchannels_exact = [\"ops\"]\n"
		m := &Manager{Format: FormatTOML}
		got, err := m.Read(strings.NewReader(doc), "/data")
		if err != nil {
			t.Fatalf("Read() error = %v", err)
		}
		if got.Server.Port != 9000 {
			t.Errorf("Server.Port = %d, want 9000", got.Server.Port)
		}
		if got.Server.Host != "127.0.0.1" {
			t.Errorf("Server.Host = %q, want default 127.0.0.1", got.Server.Host)
		}
		if got.Refresh.CooldownMinutes != 10 {
			t.Errorf("Refresh.CooldownMinutes = %d, want 10", got.Refresh.CooldownMinutes)
		}
		if got.Database.Path != filepath.Join("/data", "flight_deck.db") {
			t.Errorf("Database.Path = %q", got.Database.Path)
		}
	})

	t.Run("yaml", func(t *testing.T) {
		doc := "email:\n  lookback_hours: 48\nbrief:\n  max_actions: 3\n"
		m := &Manager{Format: FormatYAML}
		got, err := m.Read(strings.NewReader(doc), "/data")
		if err != nil {
			t.Fatalf("Read() error = %v", err)
		}
		if got.Email.LookbackHours != 48 {
			t.Errorf("Email.LookbackHours = %d, want 48", got.Email.LookbackHours)
		}
		if got.Brief.MaxActions != 3 {
			t.Errorf("Brief.MaxActions = %d, want 3", got.Brief.MaxActions)
		}
		if got.Calendar.LookaheadHours != 24 {
			t.Errorf("Calendar.LookaheadHours = %d, want 24", got.Calendar.LookaheadHours)
		}
	})

	t.Run("yaml rejects unknown keys", func(t *testing.T) {
		m := &Manager{Format: FormatYAML}
		if _, err := m.Read(strings.NewReader("bogus: 1\n"), "/data"); err == nil {
			t.Error("Read() error = nil, want error for unknown key")
		}
	})
}

func TestNewConfig(t *testing.T) {
	cfg := NewConfig("/data/fd")

	if cfg.LogDir != "/data/fd/log" {
		t.Errorf("LogDir = %q, want %q", cfg.LogDir, "/data/fd/log")
	}
	if cfg.Addr() != "127.0.0.1:2025" {
		t.Errorf("Addr() = %q, want 127.0.0.1:2025", cfg.Addr())
	}
	if cfg.Cooldown() != 10*time.Minute {
		t.Errorf("Cooldown() = %v, want 10m", cfg.Cooldown())
	}
	if cfg.Refresh.RetentionDays != 30 {
		t.Errorf("Refresh.RetentionDays = %d, want 30", cfg.Refresh.RetentionDays)
	}
	if cfg.Artifact.Path != "/data/fd/latest_snapshot.json" {
		t.Errorf("Artifact.Path = %q", cfg.Artifact.Path)
	}
	if len(cfg.Skills.Allowlist) != 6 {
		t.Errorf("len(Skills.Allowlist) = %d, want 6", len(cfg.Skills.Allowlist))
	}
	if cfg.Actions.OpenAIModel != "gpt-4.1-mini" || cfg.Agent.Model != "gpt-5" {
		t.Errorf("models = %q/%q", cfg.Actions.OpenAIModel, cfg.Agent.Model)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad run time", func(c *Config) { c.Refresh.RunTime = "8:30pm" }},
		{"bad run day", func(c *Config) { c.Refresh.RunDays = []string{"funday"} }},
		{"negative cooldown", func(c *Config) { c.Refresh.CooldownMinutes = -1 }},
		{"unknown database", func(c *Config) { c.Database.Type = "postgres" }},
		{"sqlite without path", func(c *Config) { c.Database.Path = "" }},
		{"encrypt without recipient", func(c *Config) { c.Artifact.Encrypt = true }},
		{"unknown artifact", func(c *Config) { c.Artifact.Type = "ftp" }},
		{"s3 without bucket", func(c *Config) { c.Artifact.Type = "s3" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewConfig("/data")
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("Validate() error = nil, want error")
			}
		})
	}
}

func TestChatScope(t *testing.T) {
	cfg := NewConfig("/data")
	cfg.Chat.ChannelsExact = []string{"#Incidents"}
	cfg.Chat.ChannelsPrefix = []string{"team-"}

	scope := cfg.ChatScope()
	if !scope.InScope("incidents") {
		t.Error("InScope(incidents) = false, want true")
	}
	if !scope.InScope("#team-core") {
		t.Error("InScope(#team-core) = false, want true")
	}
	if scope.InScope("random") {
		t.Error("InScope(random) = true, want false")
	}
}

func TestInit(t *testing.T) {
	t.Run("creates config file", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "flightdeck.toml")

		if err := Init(path, NewConfig(dir)); err != nil {
			t.Fatalf("Init() error = %v", err)
		}
		if _, err := os.Stat(path); err != nil {
			t.Fatalf("config file not created: %v", err)
		}
	})

	t.Run("fails if file already exists", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "flightdeck.toml")
		cfg := NewConfig(dir)

		if err := Init(path, cfg); err != nil {
			t.Fatalf("first Init() error = %v", err)
		}
		if err := Init(path, cfg); err == nil {
			t.Fatal("second Init() expected error")
		}
	})
}

func TestReadFromFile(t *testing.T) {
	t.Run("reads valid toml config", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "flightdeck.toml")
		cfg := NewConfig(dir)
		cfg.Database = DatabaseConfig{Type: "memory"}

		if err := Init(path, cfg); err != nil {
			t.Fatalf("Init() error = %v", err)
		}
		got, err := ReadFromFile(path)
		if err != nil {
			t.Fatalf("ReadFromFile() error = %v", err)
		}
		if got.Database.Type != "memory" {
			t.Errorf("Database.Type = %q, want memory", got.Database.Type)
		}
	})

	t.Run("reads yaml by extension", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "flightdeck.yaml")
		if err := os.WriteFile(path, []byte("server:\n  port: 4040\n"), 0644); err != nil {
			t.Fatalf("WriteFile() error = %v", err)
		}
		got, err := ReadFromFile(path)
		if err != nil {
			t.Fatalf("ReadFromFile() error = %v", err)
		}
		if got.Server.Port != 4040 {
			t.Errorf("Server.Port = %d, want 4040", got.Server.Port)
		}
		if got.BaseDir != dir {
			t.Errorf("BaseDir = %q, want %q", got.BaseDir, dir)
		}
	})

	t.Run("returns error for missing file", func(t *testing.T) {
		if _, err := ReadFromFile("/nonexistent/path/flightdeck.toml"); err == nil {
			t.Fatal("ReadFromFile() expected error for missing file")
		}
	})
}
