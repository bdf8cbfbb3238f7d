package qemu

import "errors"

var (
	// ErrNotRunning is returned when the pidfile is missing, i.e. the
	// process never started or already exited and cleaned up.
	ErrNotRunning = errors.New("qemu process is not running")

	// ErrCouldNotKill is returned when SIGKILL fails after the graceful
	// stop budget is exhausted.
	ErrCouldNotKill = errors.New("could not kill qemu process")
)
