package main

import (
	"fmt"
	"os"
	"path/filepath"

	"flightdeck/internal/app"
	"flightdeck/internal/artifact"
	"flightdeck/internal/config"

	"github.com/spf13/cobra"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var verbose bool

// loadConfig reads the config file named by the defaults and applies
// environment overrides.
func loadConfig() (*config.Config, error) {
	defaults, err := app.GetDefaults()
	if err != nil {
		return nil, fmt.Errorf("getting defaults: %w", err)
	}

	cfg, err := config.ReadFromFile(defaults["config_path"])
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	app.ApplyEnv(cfg)
	return cfg, nil
}

// newApp reads the config and creates an App. The caller must defer a.Close().
// operation identifies the CLI command being run (e.g. "Refresh", "Serve").
func newApp(operation string) (*app.App, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	a, err := app.New(cfg, operation, verbose)
	if err != nil {
		return nil, fmt.Errorf("initializing app: %w", err)
	}
	return a, nil
}

var rootCmd = &cobra.Command{
	Use:          "flightdeck",
	Short:        "Daily flight deck: ranked signals, task board and briefs",
	SilenceUsage: true,
}

// config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}

		cfg := config.NewConfig(defaults["base_dir"])
		cfg.LogDir = defaults["log_dir"]

		if err := config.Init(defaults["config_path"], cfg); err != nil {
			return fmt.Errorf("failed to initialize config: %w", err)
		}

		fmt.Printf("Configuration initialized at %s\n", defaults["config_path"])
		fmt.Printf("Base Dir: %s\n", defaults["base_dir"])
		return nil
	},
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "View configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		fmt.Printf("Configuration from %s:\n\n", defaults["config_path"])
		fmt.Printf("Base Dir:     %s\n", cfg.BaseDir)
		fmt.Printf("Log Dir:      %s\n", cfg.LogDir)
		fmt.Printf("Listen:       %s\n", cfg.Addr())
		fmt.Printf("Database:     %s %s\n", cfg.Database.Type, cfg.Database.Path)
		fmt.Printf("Artifact:     %s %s\n", cfg.Artifact.Type, artifactTarget(cfg.Artifact))
		fmt.Printf("Encrypted:    %t\n", cfg.Artifact.Encrypt)
		fmt.Printf("Cooldown:     %s\n", cfg.Cooldown())
		fmt.Printf("Retention:    %d days\n", cfg.Refresh.RetentionDays)
		fmt.Printf("Schedule:     %v at %s\n", cfg.Refresh.RunDays, cfg.Refresh.RunTime)
		fmt.Printf("Agent:        %s (model %s)\n", cfg.Agent.Bin, cfg.Agent.Model)
		fmt.Printf("OpenAI model: %s (key set: %t)\n", cfg.Actions.OpenAIModel, cfg.Actions.OpenAIAPIKey != "")
		fmt.Printf("Skills:       %v\n", cfg.Skills.Allowlist)
		return nil
	},
}

func artifactTarget(c config.ArtifactConfig) string {
	if c.Type == "s3" {
		return "s3://" + c.S3Bucket + "/" + c.S3Prefix
	}
	return c.Path
}

var configKeygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "Generate the age key pair used to encrypt the snapshot artifact",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		recipientPath := cfg.Artifact.RecipientPath
		if recipientPath == "" {
			recipientPath = filepath.Join(cfg.BaseDir, "keys", "artifact.pub")
		}
		identityPath := cfg.Artifact.IdentityPath
		if identityPath == "" {
			identityPath = filepath.Join(cfg.BaseDir, "keys", "artifact.key")
		}

		recipient, err := artifact.GenerateKeyPair(recipientPath, identityPath)
		if err != nil {
			return fmt.Errorf("generating key pair: %w", err)
		}

		fmt.Printf("Recipient: %s\n", recipient)
		fmt.Printf("Public key written to %s\n", recipientPath)
		fmt.Printf("Identity written to %s\n", identityPath)
		if cfg.Artifact.RecipientPath == "" {
			fmt.Println("Set artifact.recipient_path and artifact.encrypt = true to enable encryption.")
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log debug output")

	// config subcommands
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configListCmd)
	configCmd.AddCommand(configKeygenCmd)

	// tasks subcommands
	tasksCmd.AddCommand(tasksListCmd)
	tasksCmd.AddCommand(tasksAddCmd)
	tasksAddCmd.Flags().String("hint", "", "Action hint")
	tasksAddCmd.Flags().StringP("bucket", "b", "next", "Priority bucket (now, next, later)")
	tasksAddCmd.Flags().String("due", "", "Due time (RFC3339)")
	tasksAddCmd.Flags().String("url", "", "Link for the task")
	tasksAddCmd.Flags().String("project", "", "Project name")
	tasksAddCmd.Flags().String("notes", "", "Free-form notes")
	tasksCmd.AddCommand(tasksStatusCmd)

	// actions subcommands
	actionsCmd.AddCommand(actionsRunCmd)
	actionsRunCmd.Flags().Int64("task-id", 0, "Board task the action is for")
	actionsRunCmd.Flags().StringP("context", "c", "", "Extra context for the draft")
	actionsCmd.AddCommand(actionsGetCmd)
	actionsCmd.AddCommand(actionsListCmd)
	actionsListCmd.Flags().IntP("limit", "n", 10, "Maximum number of runs to show")
	actionsCmd.AddCommand(actionsTypesCmd)

	// skills subcommands
	skillsCmd.AddCommand(skillsRunCmd)
	skillsRunCmd.Flags().StringP("context", "c", "", "Extra context passed to the skill")
	skillsCmd.AddCommand(skillsGetCmd)
	skillsCmd.AddCommand(skillsListCmd)
	skillsListCmd.Flags().IntP("limit", "n", 10, "Maximum number of runs to show")
	skillsCmd.AddCommand(skillsAllowlistCmd)

	// db subcommands
	dbCmd.AddCommand(dbStatusCmd)
	dbCmd.AddCommand(dbSchemaCmd)
	dbCmd.AddCommand(dbBackupCmd)

	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().Bool("no-schedule", false, "Do not run scheduled refreshes")
	rootCmd.AddCommand(refreshCmd)
	refreshCmd.Flags().String("input-json", "", "Ingest this payload file instead of fetching")
	refreshCmd.Flags().String("source", "manual", "Refresh source recorded on events (manual, scheduled)")
	refreshCmd.Flags().Bool("force", false, "Ignore the refresh cooldown")
	rootCmd.AddCommand(briefCmd)
	briefCmd.Flags().Bool("post", false, "Post the brief to the configured Slack webhook")
	briefCmd.Flags().StringP("output-file", "o", "", "Also write the brief to this file")
	rootCmd.AddCommand(tasksCmd)
	rootCmd.AddCommand(actionsCmd)
	rootCmd.AddCommand(skillsCmd)
	rootCmd.AddCommand(cleanupCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(auditCmd)
	rootCmd.AddCommand(taskOpsCmd)
	rootCmd.AddCommand(dbCmd)
	rootCmd.AddCommand(decryptCmd)
	decryptCmd.Flags().StringP("identity", "i", "", "age identity file (defaults to artifact.identity_path)")
}
