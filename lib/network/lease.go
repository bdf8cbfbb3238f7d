package network

import (
	"context"
	"net"

	"github.com/distbench/vmhost/lib/netdev"
)

// TapUser is a lease on one TAP device and its guest address. Release
// it when the guest is gone; the device and address go back to the
// pool together.
type TapUser struct {
	manager *manager
	offset  int
	tap     *netdev.Tap
	ip      net.IP
	mac     net.HardwareAddr
}

// Name returns the TAP device name, e.g. "tap3".
func (u *TapUser) Name() string {
	return u.tap.Name()
}

// IP returns the guest address bound to this lease.
func (u *TapUser) IP() net.IP {
	return u.ip
}

// MAC returns the guest interface's hardware address.
func (u *TapUser) MAC() net.HardwareAddr {
	return u.mac
}

// Release removes the TAP device and returns the guest address to the
// pool. Releasing twice returns ErrReleased.
func (u *TapUser) Release(ctx context.Context) error {
	return u.manager.release(ctx, u)
}
