package shell

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunCapturesStdout(t *testing.T) {
	out, err := Run(context.Background(), "echo", "hello", "world")
	require.NoError(t, err)
	assert.Equal(t, "hello world\n", out)
}

func TestRunUnknownBinary(t *testing.T) {
	_, err := Run(context.Background(), "definitely-not-a-binary-4711")
	assert.ErrorIs(t, err, ErrBinaryNotFound)
}

func TestRunNonZeroExitCarriesStderr(t *testing.T) {
	_, err := Run(context.Background(), "sh", "-c", "echo boom >&2; exit 3")
	require.Error(t, err)

	var exitErr *ExitError
	require.ErrorAs(t, err, &exitErr)
	assert.Equal(t, 3, exitErr.ExitCode)
	assert.Equal(t, "boom\n", exitErr.Stderr)
}

func TestRunWithStdin(t *testing.T) {
	out, err := RunWithStdin(context.Background(), "cat", []byte("piped"))
	require.NoError(t, err)
	assert.Equal(t, "piped", out)
}
