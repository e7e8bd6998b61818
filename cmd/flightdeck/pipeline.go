package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"flightdeck/internal/api"
	"flightdeck/internal/app"
	"flightdeck/internal/artifact"
	"flightdeck/internal/deck"
	"flightdeck/internal/fetch"
	"flightdeck/internal/scheduler"

	"github.com/spf13/cobra"
)

const shutdownTimeout = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API, the run queues and the refresh schedule",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("Serve")
		if err != nil {
			return err
		}
		defer a.Close()

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		a.StartWorkers()
		cfg := a.Config()

		noSchedule, _ := cmd.Flags().GetBool("no-schedule")
		if !noSchedule {
			sched, err := scheduler.New(cfg.Refresh.RunDays, cfg.Refresh.RunTime, time.Local, func(context.Context) {
				scheduledRefresh(a)
			}, a.Logger())
			if err != nil {
				return fmt.Errorf("creating scheduler: %w", err)
			}
			if err := sched.Start(); err != nil {
				return fmt.Errorf("starting scheduler: %w", err)
			}
			defer sched.Stop()
			if next := sched.Next(); next != nil {
				fmt.Printf("Next scheduled refresh: %s\n", next.Format(time.RFC3339))
			}
		}

		srv := &http.Server{
			Addr:              cfg.Addr(),
			Handler:           api.NewServer(a).Router(),
			ReadHeaderTimeout: 10 * time.Second,
		}
		errCh := make(chan error, 1)
		go func() {
			errCh <- srv.ListenAndServe()
		}()
		fmt.Printf("Listening on http://%s\n", cfg.Addr())

		select {
		case err := <-errCh:
			if !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("serving: %w", err)
			}
			return nil
		case <-ctx.Done():
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutting down server: %w", err)
		}
		return nil
	},
}

func scheduledRefresh(a *app.App) {
	err := a.RequestRefresh(deck.RefreshScheduled)
	var cooldown *app.CooldownError
	switch {
	case errors.As(err, &cooldown):
		a.Logger().Info("scheduled refresh skipped", "reason", cooldown.Error())
	case err != nil:
		a.Logger().Error("scheduled refresh failed", "error", err)
	}
}

var refreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Run one ingestion cycle now",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		inputJSON, _ := cmd.Flags().GetString("input-json")
		source, _ := cmd.Flags().GetString("source")
		force, _ := cmd.Flags().GetBool("force")

		if source != deck.RefreshManual && source != deck.RefreshScheduled {
			return fmt.Errorf("unsupported source %q (use manual or scheduled)", source)
		}

		var payload *deck.Payload
		if inputJSON != "" {
			p, err := deck.ReadPayloadFile(inputJSON, deck.FetchModeInputJSON)
			if err != nil {
				return err
			}
			payload = p
		}

		a, err := newApp("Refresh")
		if err != nil {
			return err
		}
		defer a.Close()

		res, err := a.Refresh(context.Background(), source, payload, force)
		if err != nil {
			return err
		}
		return printJSON(res)
	},
}

var briefCmd = &cobra.Command{
	Use:   "brief",
	Short: "Render the daily brief for the latest snapshot",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		post, _ := cmd.Flags().GetBool("post")
		outputFile, _ := cmd.Flags().GetString("output-file")

		a, err := newApp("Brief")
		if err != nil {
			return err
		}
		defer a.Close()

		brief, err := a.Brief()
		if err != nil {
			return err
		}

		if outputFile != "" {
			if err := os.MkdirAll(filepath.Dir(outputFile), 0755); err != nil {
				return fmt.Errorf("creating output directory: %w", err)
			}
			if err := os.WriteFile(outputFile, []byte(brief), 0644); err != nil {
				return fmt.Errorf("writing brief: %w", err)
			}
		}
		if post {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if err := a.PostBrief(ctx, brief); err != nil {
				return fmt.Errorf("posting brief: %w", err)
			}
		}
		return printMarkdown(brief)
	},
}

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Delete snapshots, runs and refresh events past the retention window",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("Cleanup")
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.Cleanup(); err != nil {
			return err
		}
		fmt.Printf("Removed records older than %d days\n", a.Config().Refresh.RetentionDays)
		return nil
	},
}

var watchCmd = &cobra.Command{
	Use:   "watch DIR",
	Short: "Ingest payload files dropped into a directory",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("Watch")
		if err != nil {
			return err
		}
		defer a.Close()

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		w := fetch.NewWatcher(args[0], a.HandleDroppedPayload, a.Logger())
		fmt.Printf("Watching %s for payload files (Ctrl-C to stop)\n", args[0])
		return w.Run(ctx)
	},
}

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Report on the latest snapshot and recent refreshes",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("Audit")
		if err != nil {
			return err
		}
		defer a.Close()

		report, err := deck.BuildAuditReport(a.Store())
		if errors.Is(err, deck.ErrNoSnapshot) {
			fmt.Println("No snapshots yet. Run `flightdeck refresh` first.")
			return nil
		}
		if err != nil {
			return err
		}
		return printJSON(report)
	},
}

var taskOpsCmd = &cobra.Command{
	Use:   "task-ops",
	Short: "Summarize the open board by bucket",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("TaskOps")
		if err != nil {
			return err
		}
		defer a.Close()

		report, err := deck.BuildTaskOpsReport(a.Store())
		if err != nil {
			return err
		}
		return printJSON(report)
	},
}

// db command
var dbCmd = &cobra.Command{
	Use:   "db",
	Short: "Inspect and back up the database",
}

var dbStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the schema version",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("DBStatus")
		if err != nil {
			return err
		}
		defer a.Close()

		status, err := a.Store().MigrationStatus()
		if err != nil {
			return err
		}
		fmt.Printf("Path:    %s\n", a.Store().Path())
		fmt.Printf("Version: %d\n", status.Version)
		fmt.Printf("Latest:  %d\n", status.Latest)
		fmt.Printf("Dirty:   %t\n", status.Dirty)
		return nil
	},
}

var dbSchemaCmd = &cobra.Command{
	Use:   "schema",
	Short: "Print the SQL schema produced by the migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("DBSchema")
		if err != nil {
			return err
		}
		defer a.Close()

		schema, err := a.Store().Schema()
		if err != nil {
			return err
		}
		fmt.Print(schema)
		return nil
	},
}

var dbBackupCmd = &cobra.Command{
	Use:   "backup DEST",
	Short: "Write a consistent copy of the database to DEST",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("DBBackup")
		if err != nil {
			return err
		}
		defer a.Close()

		if _, err := os.Stat(args[0]); err == nil {
			return fmt.Errorf("backup destination already exists: %s", args[0])
		}
		if err := a.Store().BackupTo(args[0]); err != nil {
			return err
		}
		fmt.Printf("Backed up %s to %s\n", a.Store().Path(), args[0])
		return nil
	},
}

var decryptCmd = &cobra.Command{
	Use:   "decrypt FILE",
	Short: "Decrypt an age-encrypted snapshot artifact to stdout",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		identity, _ := cmd.Flags().GetString("identity")
		if identity == "" {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			identity = cfg.Artifact.IdentityPath
		}
		if identity == "" {
			return fmt.Errorf("no identity file: pass --identity or set artifact.identity_path")
		}

		f, err := os.Open(args[0])
		if err != nil {
			return fmt.Errorf("opening artifact: %w", err)
		}
		defer f.Close()

		return artifact.Decrypt(identity, f, os.Stdout)
	},
}
