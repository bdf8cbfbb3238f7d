package flatcar

import (
	"net"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/distbench/vmhost/lib/guestcfg"
	"github.com/distbench/vmhost/lib/qemu"
)

type fakeTap struct{}

func (fakeTap) Name() string { return "tap0" }
func (fakeTap) MAC() net.HardwareAddr {
	mac, _ := net.ParseMAC("02:00:00:00:00:01")
	return mac
}

func TestPrepareLaunch(t *testing.T) {
	registry, err := guestcfg.NewRegistry()
	require.NoError(t, err)

	wc := guestcfg.WorkerConfiguration{
		WorkerID:     3,
		IPAddr:       net.ParseIP("10.0.0.4"),
		HostIPAddr:   net.ParseIP("10.0.0.1"),
		PrefixLen:    24,
		RegistryPort: 5000,
	}

	lc, err := PrepareLaunch(registry, wc, "/images/flatcar.img", fakeTap{})
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(lc.Dir()) })

	assert.Equal(t, "node-3", lc.Name)
	assert.Equal(t, "/images/flatcar.img", lc.ImagePath)

	require.Len(t, lc.Firmware, 1)
	assert.Equal(t, "opt/org.flatcar-linux/config", lc.Firmware[0].Name)
	assert.Equal(t, filepath.Join(lc.Dir(), "ignition.json"), lc.Firmware[0].Path)

	// The rendered Ignition blob is in the state directory.
	data, err := os.ReadFile(lc.Firmware[0].Path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "\"ignition\"")

	require.Len(t, lc.Mounts, 1)
	assert.Equal(t, "config-2", lc.Mounts[0].MountTag)
	assert.True(t, lc.Mounts[0].ReadOnly)
	assert.Equal(t, lc.Dir(), lc.Mounts[0].Path)

	args := qemu.Args(lc)
	assert.Contains(t, args, "-fw_cfg")
	assert.Contains(t, args, "name=opt/org.flatcar-linux/config,file="+lc.Firmware[0].Path)
}
