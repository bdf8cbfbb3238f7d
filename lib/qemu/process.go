package qemu

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sys/unix"

	"github.com/distbench/vmhost/lib/logger"
	"github.com/distbench/vmhost/lib/shell"
)

// Timeout constants for process supervision.
const (
	// monitorDialTimeout bounds connecting to the monitor socket.
	monitorDialTimeout = 1 * time.Second

	// gracefulStopTimeout is the total budget for a guest to exit after
	// the quit command before we SIGKILL it.
	gracefulStopTimeout = 2 * time.Second

	// stopPollInterval is how often we re-check the process during a
	// graceful stop.
	stopPollInterval = 50 * time.Millisecond
)

// Handle supervises one daemonized QEMU process through its pidfile and
// human monitor socket.
type Handle struct {
	mu     sync.Mutex
	lc     *LaunchConfiguration
	closed atomic.Bool
}

// Start launches QEMU with the composed arguments. QEMU daemonizes
// itself and writes its pid to the pidfile before the launcher exits.
// Both control sockets are opened up to non-root readers afterwards.
func Start(ctx context.Context, lc *LaunchConfiguration) (*Handle, error) {
	if _, err := shell.Run(ctx, Binary, Args(lc)...); err != nil {
		return nil, fmt.Errorf("starting qemu: %w", err)
	}

	h := &Handle{lc: lc}
	if err := openSockets(lc); err != nil {
		// The guest already daemonized; without a handle nobody could
		// ever stop it, so tear it down before reporting the failure.
		if closeErr := h.Close(ctx); closeErr != nil {
			logger.FromContext(ctx).Error("stopping guest after failed socket setup",
				"dir", lc.Dir(), "error", closeErr)
		}
		return nil, err
	}

	// A dropped handle leaks a running guest and its state directory.
	// The finalizer only reports it; cleanup stays explicit.
	log := logger.FromContext(ctx)
	runtime.SetFinalizer(h, func(h *Handle) {
		if !h.closed.Load() {
			log.Warn("qemu handle leaked without Close", "dir", h.lc.Dir())
		}
	})
	return h, nil
}

func openSockets(lc *LaunchConfiguration) error {
	if err := os.Chmod(lc.SerialSocketPath(), 0o666); err != nil {
		return fmt.Errorf("opening serial socket permissions: %w", err)
	}
	if err := os.Chmod(lc.MonitorSocketPath(), 0o666); err != nil {
		return fmt.Errorf("opening monitor socket permissions: %w", err)
	}
	return nil
}

// SerialSocketPath returns the socket the guest console is attached to.
func (h *Handle) SerialSocketPath() string {
	return h.lc.SerialSocketPath()
}

// Config returns the launch configuration this handle supervises.
func (h *Handle) Config() *LaunchConfiguration {
	return h.lc
}

// pid reads the daemonized process id. A missing pidfile means the
// guest is not running; anything else unreadable is a corrupt state
// directory and reported as such.
func (h *Handle) pid() (int, error) {
	raw, err := os.ReadFile(h.lc.PidfilePath())
	if errors.Is(err, os.ErrNotExist) {
		return 0, ErrNotRunning
	}
	if err != nil {
		return 0, fmt.Errorf("reading pidfile: %w", err)
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(raw)))
	if err != nil {
		return 0, fmt.Errorf("pidfile does not contain a valid pid: %w", err)
	}
	return pid, nil
}

func processAlive(pid int) bool {
	err := unix.Kill(pid, 0)
	return err == nil || errors.Is(err, unix.EPERM)
}

// IsRunning reports whether the supervised process still exists.
func (h *Handle) IsRunning() (bool, error) {
	pid, err := h.pid()
	if errors.Is(err, ErrNotRunning) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return processAlive(pid), nil
}

// Stop asks the guest to quit through the monitor and escalates to
// SIGKILL when it has not exited within the graceful budget. Stopping a
// guest that is not running succeeds without touching the monitor.
func (h *Handle) Stop(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.stopLocked(ctx)
}

func (h *Handle) stopLocked(ctx context.Context) error {
	running, err := h.IsRunning()
	if err != nil {
		return err
	}
	if !running {
		return nil
	}

	pid, err := h.pid()
	if err != nil {
		return err
	}

	if err := h.quitViaMonitor(); err != nil {
		logger.FromContext(ctx).Warn("monitor quit failed, killing",
			"pid", pid, "error", err)
		return killProcess(pid)
	}

	deadline := time.Now().Add(gracefulStopTimeout)
	for time.Now().Before(deadline) {
		if !processAlive(pid) {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(stopPollInterval):
		}
	}

	logger.FromContext(ctx).Warn("guest ignored quit command, killing", "pid", pid)
	return killProcess(pid)
}

// quitViaMonitor writes the human monitor quit command. The socket
// speaks a plain text protocol; the command is exactly "q\n".
func (h *Handle) quitViaMonitor() error {
	conn, err := net.DialTimeout("unix", h.lc.MonitorSocketPath(), monitorDialTimeout)
	if err != nil {
		return fmt.Errorf("connecting to monitor: %w", err)
	}
	defer conn.Close()

	if _, err := conn.Write([]byte("q\n")); err != nil {
		return fmt.Errorf("writing quit command: %w", err)
	}
	return nil
}

func killProcess(pid int) error {
	err := unix.Kill(pid, unix.SIGKILL)
	if err == nil || errors.Is(err, unix.ESRCH) {
		return nil
	}
	return fmt.Errorf("%w: pid %d: %v", ErrCouldNotKill, pid, err)
}

// Restart stops the guest and launches it again with the same
// configuration. The state directory and sockets are reused.
func (h *Handle) Restart(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.stopLocked(ctx); err != nil {
		return err
	}
	if _, err := shell.Run(ctx, Binary, Args(h.lc)...); err != nil {
		return fmt.Errorf("restarting qemu: %w", err)
	}
	return openSockets(h.lc)
}

// Close stops the guest and removes its state directory. The handle
// must not be used afterwards.
func (h *Handle) Close(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed.Load() {
		return nil
	}
	if err := h.stopLocked(ctx); err != nil {
		return err
	}
	if err := os.RemoveAll(h.lc.Dir()); err != nil {
		return fmt.Errorf("removing state dir: %w", err)
	}
	h.closed.Store(true)
	runtime.SetFinalizer(h, nil)
	return nil
}
