// Package skills runs allow-listed agent skills on a runqueue.
package skills

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"flightdeck/internal/agentexec"
	"flightdeck/internal/deck"
	"flightdeck/internal/runqueue"
)

const contextLimit = 2000

// Request is one queued skill run.
type Request struct {
	SkillName string
	Context   string
}

// Output is the payload stored on a completed skill run.
type Output struct {
	SkillName string   `json:"skill_name"`
	SkillPath string   `json:"skill_path"`
	Output    string   `json:"output"`
	Command   []string `json:"command"`
}

// Options configures a Runner.
type Options struct {
	// ProjectRoot is searched first for skills/<name>/SKILL.md and is the
	// agent's working directory.
	ProjectRoot string
	// HomeDir is searched second, under .codex/skills. Empty means the user's home.
	HomeDir   string
	Allowlist []string
	Agent     agentexec.Runner
	Logger    deck.Logger
}

// Runner owns the skill run queue.
type Runner struct {
	opts  Options
	queue *runqueue.Queue[Request]
}

// NewRunner creates a Runner. Call Start before enqueueing work.
func NewRunner(store deck.Store, opts Options) *Runner {
	if opts.Logger == nil {
		opts.Logger = deck.NewNopLogger()
	}
	if opts.HomeDir == "" {
		opts.HomeDir, _ = os.UserHomeDir()
	}
	r := &Runner{opts: opts}
	r.queue = runqueue.New(runqueue.Config[Request]{
		Name:    "skills",
		Allowed: opts.Allowlist,
		Kind:    func(req Request) string { return req.SkillName },
		Records: records{store: store},
		Work:    r.run,
		// The agent runner enforces its own timeout.
		Logger: opts.Logger,
	})
	return r
}

func (r *Runner) Start() { r.queue.Start() }

// Stop drains queued runs and stops the worker.
func (r *Runner) Stop(ctx context.Context) error { return r.queue.Stop(ctx) }

// Allowlist returns the accepted skill names, sorted.
func (r *Runner) Allowlist() []string { return r.queue.Allowed() }

// Enqueue records a queued run and returns its id. A skill outside the
// allow-list is a deck.ValidationError and no run is recorded.
func (r *Runner) Enqueue(skillName, userContext string) (string, error) {
	return r.queue.Enqueue(Request{SkillName: skillName, Context: clip(userContext, contextLimit)})
}

type records struct {
	store deck.Store
}

func (r records) Create(req Request) (string, error) {
	payload, err := json.Marshal(map[string]string{"context": req.Context})
	if err != nil {
		return "", err
	}
	return r.store.CreateSkillRun(req.SkillName, payload)
}

func (r records) Update(runID string, u deck.RunUpdate) error {
	return r.store.UpdateSkillRun(runID, u)
}

func clip(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}

// ResolveSkillPath finds the SKILL.md for name, project-local first.
func (r *Runner) ResolveSkillPath(name string) (string, error) {
	candidates := []string{filepath.Join(r.opts.ProjectRoot, "skills", name, "SKILL.md")}
	if r.opts.HomeDir != "" {
		candidates = append(candidates, filepath.Join(r.opts.HomeDir, ".codex", "skills", name, "SKILL.md"))
	}
	for _, p := range candidates {
		if info, err := os.Stat(p); err == nil && !info.IsDir() {
			return p, nil
		}
	}
	return "", fmt.Errorf("skill file not found for %s", name)
}

func prompt(skillPath, userContext string) string {
	return fmt.Sprintf("Use the skill at %s.\nContext:\n%s\n\n"+
		"Return a concise execution draft with:\n"+
		"1) immediate actions\n2) draft response artifacts\n3) risks/open questions\n"+
		"Do not perform external side effects.", skillPath, userContext)
}

func (r *Runner) run(ctx context.Context, req Request) (json.RawMessage, error) {
	skillPath, err := r.ResolveSkillPath(req.SkillName)
	if err != nil {
		return nil, err
	}

	args := []string{"--skip-git-repo-check", "-C", r.opts.ProjectRoot}
	res, err := r.opts.Agent.Exec(ctx, args, prompt(skillPath, req.Context))
	if err != nil {
		return nil, fmt.Errorf("skill execution failed: %w", err)
	}
	return json.Marshal(Output{
		SkillName: req.SkillName,
		SkillPath: skillPath,
		Output:    res.Output,
		Command:   res.Command,
	})
}
