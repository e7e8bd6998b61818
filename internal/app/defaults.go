package app

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"flightdeck/internal/config"
)

// Environment variables read by GetDefaults and ApplyEnv.
const (
	EnvConfigPath   = "FLIGHTDECK_CONFIG_PATH"
	EnvHome         = "FLIGHTDECK_HOME"
	EnvDBPath       = "FLIGHT_DECK_DB_PATH"
	EnvSnapshotPath = "FLIGHT_DECK_SNAPSHOT_PATH"
	EnvAllowEmpty   = "FLIGHT_DECK_ALLOW_EMPTY_SNAPSHOT"
	EnvOpenAIKey    = "OPENAI_API_KEY"
	EnvSlackWebhook = "SLACK_WEBHOOK_URL"
)

// GetDefaults returns application default paths, checking environment variables first.
// Environment variables:
//   - FLIGHTDECK_CONFIG_PATH: config file location (default: ~/.config/flightdeck.toml)
//   - FLIGHTDECK_HOME: base directory for flightdeck data (default: ~/.local/share/flightdeck)
func GetDefaults() (map[string]string, error) {
	configPath, err := getConfigPath()
	if err != nil {
		return nil, err
	}

	baseDir, err := getBaseDir()
	if err != nil {
		return nil, err
	}

	return map[string]string{
		"config_path": configPath,
		"base_dir":    baseDir,
		"log_dir":     filepath.Join(baseDir, "log"),
	}, nil
}

func getConfigPath() (string, error) {
	if path := os.Getenv(EnvConfigPath); path != "" {
		return path, nil
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(homeDir, ".config", "flightdeck.toml"), nil
}

func getBaseDir() (string, error) {
	if path := os.Getenv(EnvHome); path != "" {
		return path, nil
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(homeDir, ".local", "share", "flightdeck"), nil
}

// ApplyEnv overlays environment overrides onto cfg. Paths switch the store
// and artifact to their file-backed types; secrets only fill empty fields.
func ApplyEnv(cfg *config.Config) {
	if path := os.Getenv(EnvDBPath); path != "" {
		cfg.Database = config.DatabaseConfig{Type: "sqlite", Path: path}
	}
	if path := os.Getenv(EnvSnapshotPath); path != "" {
		cfg.Artifact.Type = "filesystem"
		cfg.Artifact.Path = path
	}
	if v := os.Getenv(EnvAllowEmpty); v != "" {
		cfg.Refresh.AllowEmpty = isTruthy(v)
	}
	if key := os.Getenv(EnvOpenAIKey); key != "" && cfg.Actions.OpenAIAPIKey == "" {
		cfg.Actions.OpenAIAPIKey = key
	}
	if url := os.Getenv(EnvSlackWebhook); url != "" && cfg.Brief.SlackWebhookURL == "" {
		cfg.Brief.SlackWebhookURL = url
	}
}

func isTruthy(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}
