package netdev

import (
	"fmt"
	"os"
	"os/exec"

	"golang.org/x/sys/unix"
)

// EscalateIfNeeded re-executes the current binary under sudo when the
// process lacks CAP_NET_ADMIN. On success it does not return; the
// escalated process replaces this one. Already-privileged processes
// return nil immediately. Library code stays fail-fast; only the
// entrypoint escalates.
func EscalateIfNeeded() error {
	if HasNetAdmin() {
		return nil
	}

	sudoPath, err := exec.LookPath("sudo")
	if err != nil {
		return fmt.Errorf("%w and sudo is not available", ErrMissingCapability)
	}
	self, err := os.Executable()
	if err != nil {
		return fmt.Errorf("resolving own executable for escalation: %w", err)
	}

	if err := unix.Exec(sudoPath, escalateArgv(sudoPath, self, os.Args[1:]), os.Environ()); err != nil {
		return fmt.Errorf("re-executing under sudo: %w", err)
	}
	return nil
}

// escalateArgv builds the argument vector for the sudo re-exec. The
// environment is preserved so .env-derived settings survive the hop.
func escalateArgv(sudoPath, executable string, args []string) []string {
	return append([]string{sudoPath, "-E", executable}, args...)
}
