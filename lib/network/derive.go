package network

import (
	"crypto/rand"
	"fmt"
	"net"
)

// tapName derives the deterministic TAP device name for an allocator
// offset. Offsets are small integers so the result always fits within
// the kernel's 15 byte interface name limit.
func tapName(offset int) string {
	return fmt.Sprintf("tap%d", offset)
}

// guestIP maps an allocator offset to the guest address it represents.
// The network base address is skipped and the first host address is
// reserved for the bridge, so offset N lands on base+1+N.
func guestIP(base net.IP, offset int) net.IP {
	ip := make(net.IP, len(base))
	copy(ip, base)
	for i := 0; i < offset+1; i++ {
		incrementIP(ip)
	}
	return ip
}

// bridgeIP returns the address assigned to the bridge itself, the
// first host address of the range.
func bridgeIP(base net.IP) net.IP {
	ip := make(net.IP, len(base))
	copy(ip, base)
	incrementIP(ip)
	return ip
}

func incrementIP(ip net.IP) {
	for i := len(ip) - 1; i >= 0; i-- {
		ip[i]++
		if ip[i] != 0 {
			return
		}
	}
}

// hostCount returns the number of assignable guest addresses in the
// prefix, excluding the network address, the broadcast address and the
// bridge address.
func hostCount(ipNet *net.IPNet) int {
	ones, bits := ipNet.Mask.Size()
	total := 1 << (bits - ones)
	usable := total - 3
	if usable < 0 {
		return 0
	}
	return usable
}

// generateMAC returns a random locally administered unicast MAC with a
// stable 02:00:00 prefix so guest interfaces are easy to spot.
func generateMAC() (net.HardwareAddr, error) {
	buf := make([]byte, 3)
	if _, err := rand.Read(buf); err != nil {
		return nil, fmt.Errorf("generating mac address: %w", err)
	}
	return net.HardwareAddr{0x02, 0x00, 0x00, buf[0], buf[1], buf[2]}, nil
}
