// Package extproc runs one-shot external processes speaking the JSON
// stdin/stdout contract used by the intent classifier and the calendar or
// mail fetcher. Stderr is captured and surfaced on failure.
package extproc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"
)

// DefaultTimeout bounds a single external invocation
const DefaultTimeout = 30 * time.Second

// Runner executes external commands with a bounded deadline
type Runner struct {
	timeout time.Duration
	logger  *slog.Logger
}

// NewRunner creates a runner; a non-positive timeout uses DefaultTimeout
func NewRunner(timeout time.Duration, logger *slog.Logger) *Runner {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Runner{timeout: timeout, logger: logger}
}

// RunJSON executes argv, optionally writing input as JSON to stdin, and
// unmarshals stdout into out. A non-zero exit or undecodable stdout fails
// with the captured stderr attached.
func (r *Runner) RunJSON(ctx context.Context, argv []string, input any, out any) error {
	if len(argv) == 0 {
		return fmt.Errorf("empty command")
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)

	if input != nil {
		stdin, err := json.Marshal(input)
		if err != nil {
			return fmt.Errorf("failed to marshal stdin payload: %w", err)
		}
		cmd.Stdin = bytes.NewReader(stdin)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	r.logger.Debug("running external command", "argv", argv)
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("command %s failed: %w (stderr: %s)",
			argv[0], err, truncate(stderr.String(), 512))
	}

	if err := json.Unmarshal(stdout.Bytes(), out); err != nil {
		return fmt.Errorf("command %s produced undecodable output: %w", argv[0], err)
	}
	return nil
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) > n {
		return s[:n] + "..."
	}
	return s
}
