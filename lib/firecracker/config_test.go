package firecracker

import (
	"encoding/json"
	"net"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/distbench/vmhost/lib/qemu"
)

type fakeTap struct{}

func (fakeTap) Name() string { return "tap2" }
func (fakeTap) MAC() net.HardwareAddr {
	mac, _ := net.ParseMAC("02:00:00:11:22:33")
	return mac
}

func TestRender(t *testing.T) {
	lc, err := qemu.NewLaunchConfiguration("/images/kernel.img", fakeTap{})
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(lc.Dir()) })
	lc.Cores = 2
	lc.MemoryMB = 512

	out, err := Render(lc)
	require.NoError(t, err)

	var doc map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(out, &doc))

	// Top level keys are kebab-case, nested keys snake_case.
	assert.Contains(t, doc, "boot-source")
	assert.Contains(t, doc, "network-interfaces")
	assert.Contains(t, doc, "machine-config")
	assert.Contains(t, doc, "drives")

	var parsed VMConfig
	require.NoError(t, json.Unmarshal(out, &parsed))
	assert.Equal(t, "/images/kernel.img", parsed.BootSource.KernelImagePath)
	assert.Equal(t, 2, parsed.MachineConfig.VCPUCount)
	assert.Equal(t, 512, parsed.MachineConfig.MemSizeMiB)
	assert.True(t, parsed.MachineConfig.HTEnabled)

	require.Len(t, parsed.NetworkInterfaces, 1)
	assert.Equal(t, "en1", parsed.NetworkInterfaces[0].IfaceID)
	assert.Equal(t, "tap2", parsed.NetworkInterfaces[0].HostDevName)
	assert.Equal(t, "02:00:00:11:22:33", parsed.NetworkInterfaces[0].GuestMAC)
}

func TestRenderDefaults(t *testing.T) {
	lc, err := qemu.NewLaunchConfiguration("/images/kernel.img", nil)
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(lc.Dir()) })

	cfg := NewVMConfig(lc)
	assert.Equal(t, qemu.DefaultCores, cfg.MachineConfig.VCPUCount)
	assert.Equal(t, qemu.DefaultMemoryMB, cfg.MachineConfig.MemSizeMiB)
	assert.Empty(t, cfg.NetworkInterfaces)
}
