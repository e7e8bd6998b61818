// Package agentexec runs the external agent CLI in non-interactive mode and
// collects its final message.
package agentexec

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"flightdeck/internal/deck"
)

const stderrLimit = 2000

// Runner invokes "<Bin> exec ... --output-last-message <tmp> <prompt>".
type Runner struct {
	Bin     string
	Timeout time.Duration
	// TempDir holds the last-message files; empty means os.TempDir().
	TempDir string
}

// Result is the agent's final message and the argv that produced it.
type Result struct {
	Output  string
	Command []string
}

// ErrTimeout is wrapped by Exec when the agent exceeds its time budget.
var ErrTimeout = errors.New("agent exec timed out")

// RequireExecutable reports whether the runner's binary can be found.
func (r Runner) RequireExecutable() error {
	if strings.TrimSpace(r.Bin) == "" {
		return fmt.Errorf("missing executable")
	}
	if _, err := exec.LookPath(r.Bin); err != nil {
		return fmt.Errorf("executable not found: %s", r.Bin)
	}
	return nil
}

// Exec runs the agent with args placed between "exec" and the output flag.
// A non-zero exit is an error carrying stderr, or stdout when stderr is empty.
func (r Runner) Exec(ctx context.Context, args []string, prompt string) (*Result, error) {
	tmp, err := os.CreateTemp(r.TempDir, "agent-last-message-*.txt")
	if err != nil {
		return nil, fmt.Errorf("creating output file: %w", err)
	}
	outputPath := tmp.Name()
	if err := tmp.Close(); err != nil {
		return nil, fmt.Errorf("closing output file: %w", err)
	}
	defer os.Remove(outputPath)

	argv := append([]string{"exec"}, args...)
	argv = append(argv, "--output-last-message", outputPath, prompt)
	command := append([]string{r.Bin}, argv...)

	execCtx := ctx
	if r.Timeout > 0 {
		var cancel context.CancelFunc
		execCtx, cancel = context.WithTimeout(ctx, r.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(execCtx, r.Bin, argv...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	// Children that inherit the pipes must not hold Wait open after a kill.
	cmd.WaitDelay = 2 * time.Second

	runErr := cmd.Run()
	if errors.Is(execCtx.Err(), context.DeadlineExceeded) {
		return nil, fmt.Errorf("%w after %s", ErrTimeout, r.Timeout)
	}
	if runErr != nil {
		detail := strings.TrimSpace(stderr.String())
		if detail == "" {
			detail = strings.TrimSpace(stdout.String())
		}
		detail = deck.Truncate(detail, stderrLimit)
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			return nil, fmt.Errorf("agent exec failed (exit %d): %s", exitErr.ExitCode(), detail)
		}
		return nil, fmt.Errorf("running %s: %w", r.Bin, runErr)
	}

	data, err := os.ReadFile(outputPath)
	if err != nil {
		return nil, fmt.Errorf("reading agent output: %w", err)
	}
	return &Result{Output: strings.TrimSpace(string(data)), Command: command}, nil
}
