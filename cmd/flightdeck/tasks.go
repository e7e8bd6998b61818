package main

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"flightdeck/internal/deck"

	"github.com/spf13/cobra"
)

// tasks command
var tasksCmd = &cobra.Command{
	Use:   "tasks",
	Short: "Manage the task board",
}

var tasksListCmd = &cobra.Command{
	Use:   "list",
	Short: "Show the board grouped by priority bucket",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("ListTasks")
		if err != nil {
			return err
		}
		defer a.Close()

		snap, board, err := a.Board()
		if err != nil {
			return err
		}
		if snap != nil {
			fmt.Printf("Snapshot %d (%s)\n", snap.ID, snap.CreatedAt.Local().Format("2006-01-02 15:04"))
		} else {
			fmt.Println("No snapshots yet; showing manual tasks only")
		}

		for _, bucket := range deck.Buckets {
			tasks := board[bucket]
			fmt.Printf("\n%s (%d)\n", strings.ToUpper(string(bucket)), len(tasks))
			for _, t := range tasks {
				fmt.Printf("  %s\n", formatTask(t))
			}
		}
		return nil
	},
}

func formatTask(t *deck.Task) string {
	var b strings.Builder
	fmt.Fprintf(&b, "#%-5d %-11s [%s] %s", t.ID, t.Status, t.Source, t.Title)
	if t.DueAt != nil {
		fmt.Fprintf(&b, " (due %s)", t.DueAt.Local().Format("Jan 2 15:04"))
	}
	if t.ActionHint != "" {
		fmt.Fprintf(&b, "\n         -> %s", t.ActionHint)
	}
	return b.String()
}

var tasksAddCmd = &cobra.Command{
	Use:   "add TITLE",
	Short: "Add a manual task",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		hint, _ := cmd.Flags().GetString("hint")
		bucket, _ := cmd.Flags().GetString("bucket")
		due, _ := cmd.Flags().GetString("due")
		url, _ := cmd.Flags().GetString("url")
		project, _ := cmd.Flags().GetString("project")
		notes, _ := cmd.Flags().GetString("notes")

		title := strings.TrimSpace(strings.Join(args, " "))
		if title == "" {
			return fmt.Errorf("title is required")
		}
		if !deck.Bucket(bucket).Valid() {
			return fmt.Errorf("unsupported bucket %q (use now, next or later)", bucket)
		}

		in := deck.ManualTaskInput{
			Title:      title,
			ActionHint: strings.TrimSpace(hint),
			Bucket:     deck.Bucket(bucket),
			URL:        url,
			Metadata:   map[string]any{"project": project, "notes": notes},
		}
		if due != "" {
			t, err := time.Parse(time.RFC3339, due)
			if err != nil {
				return fmt.Errorf("invalid --due (use RFC3339): %w", err)
			}
			in.DueAt = &t
		}

		a, err := newApp("AddTask")
		if err != nil {
			return err
		}
		defer a.Close()

		id, err := a.Store().CreateManualTask(in)
		if err != nil {
			return err
		}
		fmt.Printf("Created task #%d\n", id)
		return nil
	},
}

var tasksStatusCmd = &cobra.Command{
	Use:   "status ID STATUS",
	Short: "Move a task to todo, in_progress, done or snoozed",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid task id %q", args[0])
		}

		a, err := newApp("UpdateTaskStatus")
		if err != nil {
			return err
		}
		defer a.Close()

		task, err := a.Store().GetTask(id)
		if err != nil {
			return err
		}
		if task == nil {
			return fmt.Errorf("task %d not found", id)
		}
		if err := a.Store().UpdateTaskStatus(id, deck.TaskStatus(args[1])); err != nil {
			return err
		}
		fmt.Printf("Task #%d: %s -> %s\n", id, task.Status, args[1])
		return nil
	},
}
