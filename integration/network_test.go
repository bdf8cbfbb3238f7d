package integration

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/distbench/vmhost/lib/logger"
	"github.com/distbench/vmhost/lib/netdev"
	"github.com/distbench/vmhost/lib/network"
)

// TestBridgeAndTapLifecycle exercises the full host networking path:
// bridge creation, TAP leasing, address assignment and teardown. It
// creates real kernel devices and needs CAP_NET_ADMIN.
func TestBridgeAndTapLifecycle(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	if !netdev.HasNetAdmin() {
		t.Skip("requires CAP_NET_ADMIN")
	}

	ctx := logger.AddToContext(context.Background(), logger.New("debug"))

	m, err := network.NewManager(ctx, network.Config{
		BridgeName: "tbrtest0",
		CIDR:       "10.77.0.0/24",
	})
	require.NoError(t, err)

	assert.Equal(t, "10.77.0.1", m.HostIP().String())
	assert.Equal(t, 24, m.PrefixLen())

	first, err := m.GetTap(ctx)
	require.NoError(t, err)
	assert.Equal(t, "tap1", first.Name())
	assert.Equal(t, "10.77.0.2", first.IP().String())

	second, err := m.GetTap(ctx)
	require.NoError(t, err)
	assert.Equal(t, "tap2", second.Name())
	assert.Equal(t, "10.77.0.3", second.IP().String())

	// The bridge cannot be torn down while leases are held.
	err = m.Cleanup(ctx)
	require.ErrorIs(t, err, network.ErrLeasesOutstanding)

	require.NoError(t, first.Release(ctx))
	require.NoError(t, second.Release(ctx))

	// Released addresses come back lowest first.
	third, err := m.GetTap(ctx)
	require.NoError(t, err)
	assert.Equal(t, "10.77.0.2", third.IP().String())
	require.NoError(t, third.Release(ctx))

	require.NoError(t, m.Cleanup(ctx))
}

// TestManagerReconcilesLeftoverBridge verifies that a second manager
// reuses the bridge a crashed run left behind.
func TestManagerReconcilesLeftoverBridge(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	if !netdev.HasNetAdmin() {
		t.Skip("requires CAP_NET_ADMIN")
	}

	ctx := logger.AddToContext(context.Background(), logger.New("debug"))
	cfg := network.Config{BridgeName: "tbrtest1", CIDR: "10.78.0.0/24"}

	first, err := network.NewManager(ctx, cfg)
	require.NoError(t, err)

	// Simulate a crash: the bridge stays, the manager is dropped.
	second, err := network.NewManager(ctx, cfg)
	require.NoError(t, err)
	assert.Equal(t, first.HostIP(), second.HostIP())

	require.NoError(t, second.Cleanup(ctx))
}
