package qemu

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strings"
	"time"
)

const (
	// serialDialTimeout bounds connecting to the serial socket.
	serialDialTimeout = 1 * time.Second

	// serialReadTimeout is the per-read deadline. Timeouts are not
	// errors, they just give the loop a chance to observe cancellation.
	serialReadTimeout = 1 * time.Second

	// serialBufferSize is the line assembly buffer. A line that
	// overflows it is flushed truncated and reading continues.
	serialBufferSize = 4096
)

// LineFunc receives one complete console line, without the newline.
type LineFunc func(line string)

// StreamSerial connects to the guest's serial socket and invokes onLine
// for every line until the connection closes or ctx is cancelled.
func StreamSerial(ctx context.Context, socketPath string, onLine LineFunc) error {
	return streamSerial(ctx, socketPath, "", onLine)
}

// StreamSerialWithCommand writes command to the console first, then
// streams lines like StreamSerial.
func StreamSerialWithCommand(ctx context.Context, socketPath, command string, onLine LineFunc) error {
	return streamSerial(ctx, socketPath, command, onLine)
}

func streamSerial(ctx context.Context, socketPath, command string, onLine LineFunc) error {
	conn, err := net.DialTimeout("unix", socketPath, serialDialTimeout)
	if err != nil {
		return fmt.Errorf("connecting to serial socket: %w", err)
	}
	defer conn.Close()

	if command != "" {
		if _, err := conn.Write([]byte(command)); err != nil {
			return fmt.Errorf("writing to serial console: %w", err)
		}
	}

	buf := make([]byte, serialBufferSize)
	used := 0
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := conn.SetReadDeadline(time.Now().Add(serialReadTimeout)); err != nil {
			return fmt.Errorf("setting read deadline: %w", err)
		}

		n, err := conn.Read(buf[used:])
		if n > 0 {
			used = chunkLines(buf, used+n, onLine)
		}
		if err != nil {
			if os.IsTimeout(err) {
				continue
			}
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("reading from serial console: %w", err)
		}
	}
}

// chunkLines emits every complete line in buf[:used], moves the
// unfinished tail to the front and returns the new used count. A full
// buffer with no newline is flushed as one truncated line.
func chunkLines(buf []byte, used int, onLine LineFunc) int {
	i := bytes.LastIndexByte(buf[:used], '\n')
	if i < 0 {
		if used == len(buf) {
			onLine(string(buf))
			return 0
		}
		return used
	}

	for _, line := range strings.Split(string(buf[:i]), "\n") {
		onLine(line)
	}
	return copy(buf, buf[i+1:used])
}
