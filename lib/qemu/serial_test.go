package qemu

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChunkLinesBuffersPartialLine(t *testing.T) {
	buf := make([]byte, serialBufferSize)
	n := copy(buf, "Hello")

	var lines []string
	used := chunkLines(buf, n, func(line string) { lines = append(lines, line) })

	assert.Empty(t, lines)
	assert.Equal(t, 5, used)
	assert.Equal(t, "Hello", string(buf[:used]))
}

func TestChunkLinesEmitsCompleteLines(t *testing.T) {
	buf := make([]byte, serialBufferSize)
	used := copy(buf, "Hello")
	used += copy(buf[used:], "\nWorld")

	var lines []string
	used = chunkLines(buf, used, func(line string) { lines = append(lines, line) })

	require.Equal(t, []string{"Hello"}, lines)
	assert.Equal(t, 5, used)
	assert.Equal(t, "World", string(buf[:used]))
}

func TestChunkLinesMultipleLinesInOneChunk(t *testing.T) {
	buf := make([]byte, serialBufferSize)
	n := copy(buf, "one\ntwo\nthree\ntail")

	var lines []string
	used := chunkLines(buf, n, func(line string) { lines = append(lines, line) })

	require.Equal(t, []string{"one", "two", "three"}, lines)
	assert.Equal(t, "tail", string(buf[:used]))
}

func TestChunkLinesAccumulatesAcrossCalls(t *testing.T) {
	buf := make([]byte, serialBufferSize)
	used := copy(buf, "Hel")

	var lines []string
	onLine := func(line string) { lines = append(lines, line) }

	used = chunkLines(buf, used, onLine)
	used += copy(buf[used:], "lo\n")
	used = chunkLines(buf, used, onLine)

	require.Equal(t, []string{"Hello"}, lines)
	assert.Equal(t, 0, used)
}

func TestChunkLinesFlushesOverfullLineTruncated(t *testing.T) {
	buf := make([]byte, serialBufferSize)
	copy(buf, strings.Repeat("x", serialBufferSize))

	var lines []string
	used := chunkLines(buf, serialBufferSize, func(line string) { lines = append(lines, line) })

	require.Len(t, lines, 1)
	assert.Equal(t, serialBufferSize, len(lines[0]))
	assert.Equal(t, 0, used)
}

func TestChunkLinesEmptyLine(t *testing.T) {
	buf := make([]byte, serialBufferSize)
	n := copy(buf, "\n")

	var lines []string
	used := chunkLines(buf, n, func(line string) { lines = append(lines, line) })

	require.Equal(t, []string{""}, lines)
	assert.Equal(t, 0, used)
}
