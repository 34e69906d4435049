package exec

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"strings"
	"time"
)

const waitDelay = 500 * time.Millisecond

// ExecRunner implements CommandRunner using os/exec.
type ExecRunner struct{}

// NewRunner creates a new ExecRunner.
func NewRunner() *ExecRunner {
	return &ExecRunner{}
}

// Run executes a command and returns its stdout, stderr and exit code.
func (r *ExecRunner) Run(ctx context.Context, workDir, stdin, name string, args ...string) (Output, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	if workDir != "" {
		cmd.Dir = workDir
	}
	if stdin != "" {
		cmd.Stdin = strings.NewReader(stdin)
	}
	// Grandchildren may keep the pipes open after a kill.
	cmd.WaitDelay = waitDelay
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	out := Output{Stdout: stdout.Bytes(), Stderr: stderr.Bytes()}

	var exitErr *exec.ExitError
	switch {
	case err == nil:
		return out, nil
	case ctx.Err() != nil:
		out.ExitCode = -1
		return out, ctx.Err()
	case errors.As(err, &exitErr):
		out.ExitCode = exitErr.ExitCode()
		return out, nil
	default:
		out.ExitCode = -1
		return out, err
	}
}

// Verify ExecRunner implements CommandRunner at compile time.
var _ CommandRunner = (*ExecRunner)(nil)
