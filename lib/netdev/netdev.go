// Package netdev creates and destroys TAP and bridge devices by issuing
// ioctls against raw sockets and the tun/tap control device, without
// shelling out to ip/brctl. All ioctl request numbers and flag bits come
// from golang.org/x/sys/unix; they are kernel protocol constants.
//
// Every operation validates the interface name against IFNAMSIZ and then
// verifies the process holds CAP_NET_ADMIN, failing fast before touching
// the kernel.
package netdev

import (
	"errors"
	"fmt"

	"golang.org/x/sys/unix"
)

// tunDevicePath is the tun/tap control device used to create TAP interfaces.
const tunDevicePath = "/dev/net/tun"

var (
	// ErrMissingCapability is returned when the process lacks CAP_NET_ADMIN.
	ErrMissingCapability = errors.New("missing CAP_NET_ADMIN capability")

	// ErrNameTooLong is returned for interface names that exceed the
	// kernel's IFNAMSIZ limit (15 bytes plus NUL).
	ErrNameTooLong = errors.New("interface name too long")

	// ErrDeviceMissing is returned when /dev/net/tun does not exist.
	ErrDeviceMissing = errors.New("/dev/net/tun does not exist")

	// ErrDeviceNotAccessible is returned when /dev/net/tun cannot be opened
	// for writing.
	ErrDeviceNotAccessible = errors.New("/dev/net/tun cannot be written to")
)

// validateName rejects names that do not fit an ifreq. Checked before any
// syscall, including the capability probe.
func validateName(name string) error {
	if len(name) >= unix.IFNAMSIZ {
		return fmt.Errorf("%w: %q exceeds %d bytes", ErrNameTooLong, name, unix.IFNAMSIZ-1)
	}
	return nil
}

// RequireNetAdmin verifies the process carries CAP_NET_ADMIN in its
// effective set. Device operations call this before issuing ioctls so a
// misconfigured process fails with a precise error instead of EPERM deep
// inside a syscall.
func RequireNetAdmin() error {
	hdr := unix.CapUserHeader{Version: unix.LINUX_CAPABILITY_VERSION_3}
	var data [2]unix.CapUserData
	if err := unix.Capget(&hdr, &data[0]); err != nil {
		return fmt.Errorf("query process capabilities: %w", err)
	}
	// CAP_NET_ADMIN is bit 12, which lives in the first u32 block.
	if data[unix.CAP_NET_ADMIN/32].Effective&(1<<(unix.CAP_NET_ADMIN%32)) == 0 {
		return ErrMissingCapability
	}
	return nil
}

// HasNetAdmin reports whether the process holds CAP_NET_ADMIN.
func HasNetAdmin() bool {
	return RequireNetAdmin() == nil
}
