// Package exec runs generated code outside the orchestration core.
package exec

import (
	"context"

	"github.com/ShayCichocki/friday/pkg/models"
)

// Output is what a finished process produced.
type Output struct {
	Stdout   []byte
	Stderr   []byte
	ExitCode int
}

// CommandRunner defines the interface for running external commands.
// This abstraction allows mocking command execution in tests.
type CommandRunner interface {
	// Run executes a command with stdin and returns its output streams.
	// The working directory is set to workDir if non-empty. A non-zero exit
	// is reported through Output.ExitCode, not as an error; err is reserved
	// for failures to start or wait on the process.
	Run(ctx context.Context, workDir, stdin, name string, args ...string) (Output, error)
}

// Request is one node attempt to execute.
type Request struct {
	// Node names the node, for logs.
	Node string
	// Type selects the interpreter.
	Type models.NodeType
	// Code is the generated body.
	Code string
	// Invocation is the statement that runs Code, for Python and API nodes.
	Invocation string
	// WorkDir is the directory the code runs in.
	WorkDir string
}

// Sandbox runs generated code for one node attempt. Implementations block
// until the code finishes, the timeout elapses or ctx is done. A timeout is
// reported in the result like any other execution error; err is non-nil only
// when ctx was cancelled or the sandbox itself could not run.
type Sandbox interface {
	Run(ctx context.Context, req Request) (models.ExecutionResult, error)
}
