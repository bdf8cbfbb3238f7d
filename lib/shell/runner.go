// Package shell runs external commands, capturing their output. It exists
// for the few collaborators that have no library equivalent (the unikernel
// image builder, liveness probes in scripts); core networking and process
// control never shell out.
package shell

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"

	"github.com/distbench/vmhost/lib/logger"
)

// ErrBinaryNotFound is returned when the requested binary is not on PATH.
var ErrBinaryNotFound = errors.New("binary not found")

// ExitError carries the captured stderr of a command that exited non-zero.
// Callers decide whether a failure is fatal; nothing is retried here.
type ExitError struct {
	Command  string
	ExitCode int
	Stderr   string
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("%s exited with status %d: %s", e.Command, e.ExitCode, e.Stderr)
}

// Run executes the binary with args and returns captured stdout.
// A non-zero exit is surfaced as an *ExitError carrying stderr.
func Run(ctx context.Context, binary string, args ...string) (string, error) {
	return run(ctx, binary, nil, args)
}

// RunWithStdin is Run with the given bytes written to the child's stdin.
func RunWithStdin(ctx context.Context, binary string, stdin []byte, args ...string) (string, error) {
	return run(ctx, binary, stdin, args)
}

func run(ctx context.Context, binary string, stdin []byte, args []string) (string, error) {
	log := logger.FromContext(ctx)

	path, err := exec.LookPath(binary)
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrBinaryNotFound, binary)
	}

	cmd := exec.CommandContext(ctx, path, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if stdin != nil {
		cmd.Stdin = bytes.NewReader(stdin)
	}

	log.DebugContext(ctx, "running command", "binary", binary, "args", args)
	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return "", &ExitError{
				Command:  binary,
				ExitCode: exitErr.ExitCode(),
				Stderr:   stderr.String(),
			}
		}
		return "", fmt.Errorf("spawn %s: %w", binary, err)
	}

	return stdout.String(), nil
}
