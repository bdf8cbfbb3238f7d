package network

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"

	"github.com/vishvananda/netlink"

	"github.com/distbench/vmhost/lib/ipalloc"
	"github.com/distbench/vmhost/lib/logger"
	"github.com/distbench/vmhost/lib/netdev"
)

// Config carries the host networking parameters.
type Config struct {
	// BridgeName is the bridge device all guest TAPs attach to.
	BridgeName string
	// CIDR is the guest address range, e.g. "10.88.0.0/24". The first
	// host address is taken by the bridge.
	CIDR string
}

// Manager owns the bridge and hands out TAP devices with guest
// addresses from the configured range.
type Manager interface {
	// GetTap creates a TAP device on the lowest free guest address,
	// attaches it to the bridge and raises it.
	GetTap(ctx context.Context) (*TapUser, error)

	// HostIP returns the bridge address, the gateway guests route
	// through.
	HostIP() net.IP

	// PrefixLen returns the prefix length of the guest range.
	PrefixLen() int

	// BridgeName returns the bridge device name.
	BridgeName() string

	// Cleanup tears the bridge down. It fails if TAP leases are still
	// outstanding.
	Cleanup(ctx context.Context) error
}

type manager struct {
	mu     sync.Mutex
	bridge *netdev.Bridge
	base   net.IP
	ipNet  *net.IPNet
	alloc  *ipalloc.Allocator
	leases map[int]struct{}
}

// NewManager validates the configuration, verifies CAP_NET_ADMIN,
// reconciles any leftover bridge from a previous run and sweeps
// orphaned TAP devices before handing out addresses.
func NewManager(ctx context.Context, cfg Config) (Manager, error) {
	if err := netdev.RequireNetAdmin(); err != nil {
		return nil, err
	}

	base, ipNet, err := net.ParseCIDR(cfg.CIDR)
	if err != nil {
		return nil, fmt.Errorf("parsing guest range %q: %w", cfg.CIDR, err)
	}
	base = base.Mask(ipNet.Mask).To4()
	if base == nil {
		return nil, fmt.Errorf("guest range %q is not IPv4", cfg.CIDR)
	}
	count := hostCount(ipNet)
	if count < 1 {
		return nil, fmt.Errorf("guest range %q has no assignable addresses", cfg.CIDR)
	}

	sweepOrphanedTaps(ctx)

	bridge, err := reconcileBridge(ctx, cfg.BridgeName, bridgeIP(base))
	if err != nil {
		return nil, err
	}

	return &manager{
		bridge: bridge,
		base:   base,
		ipNet:  ipNet,
		alloc:  ipalloc.New(count),
		leases: make(map[int]struct{}),
	}, nil
}

func (m *manager) GetTap(ctx context.Context) (*TapUser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	offset, ok := m.alloc.Allocate()
	if !ok {
		return nil, ErrExhausted
	}

	tap, err := m.setupTap(offset)
	if err != nil {
		if freeErr := m.alloc.Free(offset); freeErr != nil {
			logger.FromContext(ctx).Error("returning offset after failed tap setup",
				"offset", offset, "error", freeErr)
		}
		return nil, err
	}

	mac, err := generateMAC()
	if err != nil {
		tap.Close()
		if freeErr := m.alloc.Free(offset); freeErr != nil {
			logger.FromContext(ctx).Error("returning offset after failed tap setup",
				"offset", offset, "error", freeErr)
		}
		return nil, err
	}

	m.leases[offset] = struct{}{}

	user := &TapUser{
		manager: m,
		offset:  offset,
		tap:     tap,
		ip:      guestIP(m.base, offset),
		mac:     mac,
	}

	logger.FromContext(ctx).Info("tap leased",
		"tap", tap.Name(),
		"ip", user.ip.String(),
		"mac", mac.String())
	return user, nil
}

func (m *manager) setupTap(offset int) (*netdev.Tap, error) {
	tap, err := netdev.CreateTap(tapName(offset))
	if err != nil {
		return nil, err
	}
	if err := m.bridge.AttachTap(tap); err != nil {
		tap.Close()
		return nil, fmt.Errorf("attaching %s to %s: %w", tap.Name(), m.bridge.Name(), err)
	}
	if err := tap.Up(); err != nil {
		tap.Close()
		return nil, fmt.Errorf("raising %s: %w", tap.Name(), err)
	}
	return tap, nil
}

// release returns a lease's device and address. Called by TapUser.
func (m *manager) release(ctx context.Context, u *TapUser) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, held := m.leases[u.offset]; !held {
		return ErrReleased
	}
	delete(m.leases, u.offset)

	closeErr := u.tap.Close()
	if err := m.alloc.Free(u.offset); err != nil {
		return fmt.Errorf("freeing offset %d: %w", u.offset, err)
	}
	if closeErr != nil {
		return fmt.Errorf("removing %s: %w", u.tap.Name(), closeErr)
	}
	logger.FromContext(ctx).Info("tap released", "tap", u.tap.Name())
	return nil
}

func (m *manager) HostIP() net.IP {
	return m.bridge.Addr()
}

func (m *manager) PrefixLen() int {
	ones, _ := m.ipNet.Mask.Size()
	return ones
}

func (m *manager) BridgeName() string {
	return m.bridge.Name()
}

func (m *manager) Cleanup(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.leases) > 0 {
		return fmt.Errorf("%w: %d held", ErrLeasesOutstanding, len(m.leases))
	}
	if err := m.bridge.Close(); err != nil {
		return fmt.Errorf("removing bridge %s: %w", m.bridge.Name(), err)
	}
	logger.FromContext(ctx).Info("bridge removed", "bridge", m.bridge.Name())
	return nil
}

// reconcileBridge reuses an existing bridge when it already carries the
// expected address, and otherwise removes and recreates it.
func reconcileBridge(ctx context.Context, name string, addr net.IP) (*netdev.Bridge, error) {
	link, err := netlink.LinkByName(name)
	if err != nil {
		var notFound netlink.LinkNotFoundError
		if errors.As(err, &notFound) {
			return netdev.CreateBridge(name, addr)
		}
		return nil, fmt.Errorf("looking up %q: %w", name, err)
	}

	if link.Type() == "bridge" {
		addrs, err := netlink.AddrList(link, netlink.FAMILY_V4)
		if err != nil {
			return nil, fmt.Errorf("listing addresses on %q: %w", name, err)
		}
		for _, a := range addrs {
			if a.IP.Equal(addr) {
				logger.FromContext(ctx).Info("reusing existing bridge", "bridge", name)
				return netdev.AdoptBridge(name, addr)
			}
		}
	}

	logger.FromContext(ctx).Warn("replacing stale bridge", "bridge", name)
	stale, err := netdev.AdoptBridge(name, nil)
	if err != nil {
		return nil, err
	}
	if err := stale.Close(); err != nil {
		return nil, fmt.Errorf("removing stale bridge %q: %w", name, err)
	}
	return netdev.CreateBridge(name, addr)
}

// sweepOrphanedTaps unpersists TAP devices left behind by a previous
// run. Failures are logged and skipped; a leftover device only wastes a
// name, it never blocks allocation.
func sweepOrphanedTaps(ctx context.Context) {
	links, err := netlink.LinkList()
	if err != nil {
		logger.FromContext(ctx).Warn("listing links for orphan sweep", "error", err)
		return
	}
	for _, link := range links {
		if link.Type() != "tun" {
			continue
		}
		name := link.Attrs().Name
		suffix, found := strings.CutPrefix(name, "tap")
		if !found {
			continue
		}
		if _, err := strconv.Atoi(suffix); err != nil {
			continue
		}
		tap, err := netdev.CreateTap(name)
		if err != nil {
			logger.FromContext(ctx).Warn("reattaching orphaned tap", "tap", name, "error", err)
			continue
		}
		if err := tap.Close(); err != nil {
			logger.FromContext(ctx).Warn("removing orphaned tap", "tap", name, "error", err)
			continue
		}
		logger.FromContext(ctx).Info("removed orphaned tap", "tap", name)
	}
}
