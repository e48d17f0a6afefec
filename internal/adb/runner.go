package adb

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// Runner executes an adb invocation and returns its combined output.
// Production code uses ExecRunner; tests substitute a fake to exercise
// the driver without a device attached.
type Runner interface {
	Run(ctx context.Context, args ...string) (string, error)
}

// ExecRunner shells out to the adb binary.
type ExecRunner struct {
	// Path to the adb binary. Defaults to "adb" on PATH.
	Path string

	// Timeout bounds a single adb invocation; 0 relies on the caller's
	// context alone.
	Timeout time.Duration
}

// NewExecRunner creates a runner for the given adb binary path.
func NewExecRunner(path string) *ExecRunner {
	if path == "" {
		path = "adb"
	}
	return &ExecRunner{Path: path}
}

// Run executes adb with the given arguments.
func (r *ExecRunner) Run(ctx context.Context, args ...string) (string, error) {
	if r.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.Timeout)
		defer cancel()
	}
	cmd := exec.CommandContext(ctx, r.Path, args...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("adb %s: %w: %s",
			strings.Join(args, " "), err, strings.TrimSpace(string(output)))
	}
	return string(output), nil
}
