package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"flightdeck/internal/actions"
	"flightdeck/internal/app"

	"github.com/spf13/cobra"
)

// drainTimeout bounds how long a foreground run may take past its own timeout.
func drainTimeout(seconds int) time.Duration {
	return time.Duration(seconds)*time.Second + 30*time.Second
}

// runToCompletion starts the workers, enqueues one run and drains the queue
// so the stored run is terminal when it returns.
func runToCompletion(a *app.App, timeout time.Duration, enqueue func() (string, error)) (string, error) {
	a.StartWorkers()
	runID, err := enqueue()
	if err != nil {
		return "", err
	}
	fmt.Printf("Queued run %s\n", runID)

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := a.StopWorkers(ctx); err != nil {
		return runID, fmt.Errorf("waiting for run %s: %w", runID, err)
	}
	return runID, nil
}

// actions command
var actionsCmd = &cobra.Command{
	Use:   "actions",
	Short: "Run and inspect generative task actions",
}

var actionsRunCmd = &cobra.Command{
	Use:   "run TYPE",
	Short: "Run an action and wait for its result",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		taskID, _ := cmd.Flags().GetInt64("task-id")
		userContext, _ := cmd.Flags().GetString("context")

		a, err := newApp("RunAction")
		if err != nil {
			return err
		}
		defer a.Close()

		var task *int64
		if taskID > 0 {
			task = &taskID
		}
		runID, err := runToCompletion(a, drainTimeout(a.Config().Actions.TimeoutSeconds), func() (string, error) {
			return a.Actions().Enqueue(task, args[0], userContext)
		})
		if err != nil {
			return err
		}

		run, err := a.Store().GetActionRun(runID)
		if err != nil {
			return err
		}
		return printJSON(run)
	},
}

var actionsGetCmd = &cobra.Command{
	Use:   "get RUN_ID",
	Short: "Show one action run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("GetActionRun")
		if err != nil {
			return err
		}
		defer a.Close()

		run, err := a.Store().GetActionRun(args[0])
		if err != nil {
			return err
		}
		if run == nil {
			return fmt.Errorf("action run %s not found", args[0])
		}
		return printJSON(run)
	},
}

var actionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent action runs",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		a, err := newApp("ListActionRuns")
		if err != nil {
			return err
		}
		defer a.Close()

		runs, err := a.Store().ListRecentActionRuns(limit)
		if err != nil {
			return err
		}
		if len(runs) == 0 {
			fmt.Println("No action runs")
			return nil
		}
		for _, r := range runs {
			task := "-"
			if r.TaskID != nil {
				task = fmt.Sprintf("#%d", *r.TaskID)
			}
			fmt.Printf("%s  %-10s %-28s %-6s %s\n",
				r.StartedAt.Local().Format("2006-01-02 15:04:05"), r.Status, r.ActionType, task, r.RunID)
		}
		return nil
	},
}

var actionsTypesCmd = &cobra.Command{
	Use:   "types",
	Short: "List supported action types",
	RunE: func(cmd *cobra.Command, args []string) error {
		for _, t := range actions.Types() {
			fmt.Printf("%-28s %s\n", t, actions.Labels[t])
		}
		return nil
	},
}

// skills command
var skillsCmd = &cobra.Command{
	Use:   "skills",
	Short: "Run and inspect allowlisted agent skills",
}

var skillsRunCmd = &cobra.Command{
	Use:   "run NAME",
	Short: "Run a skill and wait for its output",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		userContext, _ := cmd.Flags().GetString("context")

		a, err := newApp("RunSkill")
		if err != nil {
			return err
		}
		defer a.Close()

		runID, err := runToCompletion(a, drainTimeout(a.Config().Skills.TimeoutSeconds), func() (string, error) {
			return a.Skills().Enqueue(args[0], userContext)
		})
		if err != nil {
			return err
		}

		run, err := a.Store().GetSkillRun(runID)
		if err != nil {
			return err
		}
		return printJSON(run)
	},
}

var skillsGetCmd = &cobra.Command{
	Use:   "get RUN_ID",
	Short: "Show one skill run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("GetSkillRun")
		if err != nil {
			return err
		}
		defer a.Close()

		run, err := a.Store().GetSkillRun(args[0])
		if err != nil {
			return err
		}
		if run == nil {
			return fmt.Errorf("skill run %s not found", args[0])
		}
		return printJSON(run)
	},
}

var skillsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent skill runs",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		a, err := newApp("ListSkillRuns")
		if err != nil {
			return err
		}
		defer a.Close()

		runs, err := a.Store().ListRecentSkillRuns(limit)
		if err != nil {
			return err
		}
		if len(runs) == 0 {
			fmt.Println("No skill runs")
			return nil
		}
		for _, r := range runs {
			fmt.Printf("%s  %-10s %-34s %s\n",
				r.StartedAt.Local().Format("2006-01-02 15:04:05"), r.Status, r.SkillName, r.RunID)
		}
		return nil
	},
}

var skillsAllowlistCmd = &cobra.Command{
	Use:   "allowlist",
	Short: "Show the skills that may be run",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		fmt.Println(strings.Join(cfg.Skills.Allowlist, "\n"))
		return nil
	},
}
