package network

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTapName(t *testing.T) {
	assert.Equal(t, "tap0", tapName(0))
	assert.Equal(t, "tap17", tapName(17))
}

func TestGuestIPSkipsNetworkAndBridge(t *testing.T) {
	base, _, err := net.ParseCIDR("10.88.0.0/24")
	require.NoError(t, err)
	base = base.To4()

	// .0 is the network, .1 the bridge, so the first guest is .2.
	assert.Equal(t, "10.88.0.1", bridgeIP(base).String())
	assert.Equal(t, "10.88.0.2", guestIP(base, 1).String())
	assert.Equal(t, "10.88.0.6", guestIP(base, 5).String())
}

func TestGuestIPCrossesOctetBoundary(t *testing.T) {
	base, _, err := net.ParseCIDR("10.88.0.0/23")
	require.NoError(t, err)
	base = base.To4()

	assert.Equal(t, "10.88.1.0", guestIP(base, 255).String())
}

func TestHostCount(t *testing.T) {
	tests := []struct {
		cidr string
		want int
	}{
		{"10.88.0.0/24", 253},
		{"10.88.0.0/30", 1},
		{"10.88.0.0/31", 0},
		{"10.88.0.0/16", 65533},
	}
	for _, tt := range tests {
		_, ipNet, err := net.ParseCIDR(tt.cidr)
		require.NoError(t, err)
		assert.Equal(t, tt.want, hostCount(ipNet), tt.cidr)
	}
}

func TestGenerateMAC(t *testing.T) {
	mac, err := generateMAC()
	require.NoError(t, err)
	require.Len(t, mac, 6)

	// Locally administered unicast prefix.
	assert.Equal(t, byte(0x02), mac[0])
	assert.Equal(t, byte(0x00), mac[1])
	assert.Equal(t, byte(0x00), mac[2])
}
