package qemu

import (
	"net"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTap struct {
	name string
	mac  net.HardwareAddr
}

func (f fakeTap) Name() string          { return f.name }
func (f fakeTap) MAC() net.HardwareAddr { return f.mac }

func testTap(t *testing.T) fakeTap {
	t.Helper()
	mac, err := net.ParseMAC("02:00:00:aa:bb:cc")
	require.NoError(t, err)
	return fakeTap{name: "tap7", mac: mac}
}

func testLaunchConfig(t *testing.T) *LaunchConfiguration {
	t.Helper()
	lc, err := NewLaunchConfiguration("/images/guest.img", testTap(t))
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(lc.Dir()) })
	return lc
}

func TestArgsOrderAndContent(t *testing.T) {
	lc := testLaunchConfig(t)
	lc.Cores = 4
	lc.MemoryMB = 2048
	lc.Mounts = []MountedFilesystem{
		{MountTag: "config-2", ReadOnly: true, Path: lc.Dir()},
	}

	want := []string{
		"-monitor", "unix:" + lc.Dir() + "/monitor.socket,server,nowait",
		"-serial", "unix:" + lc.Dir() + "/serial.socket,server,nowait",
		"-daemonize", "-pidfile", lc.Dir() + "/pidfile",
		"-display", "none", "-vga", "none",
		"-machine", "q35",
		"-cpu", "host",
		"-enable-kvm", "-machine", "accel=kvm",
		"-drive", "if=virtio,file=/images/guest.img",
		"-fsdev", "local,id=f0,security_model=none,readonly=on,path=" + lc.Dir(),
		"-device", "virtio-9p-pci,fsdev=f0,mount_tag=config-2",
		"-object", "rng-random,filename=/dev/urandom,id=rng0",
		"-device", "virtio-rng-pci,rng=rng0",
		"-m", "2048m",
		"-smp", "4",
		"-netdev", "tap,id=eth0,ifname=tap7,script=no,downscript=no",
		"-device", "virtio-net-pci,netdev=eth0,mac=02:00:00:aa:bb:cc",
	}
	require.Equal(t, want, Args(lc))
}

func TestArgsDefaults(t *testing.T) {
	lc := testLaunchConfig(t)
	args := Args(lc)

	assert.Contains(t, args, "-m")
	assert.Contains(t, args, "16384m")
	assert.Contains(t, args, "-smp")
	assert.Contains(t, args, "8")
}

func TestArgsNoFirmwareWhenEmpty(t *testing.T) {
	lc := testLaunchConfig(t)
	assert.NotContains(t, Args(lc), "-fw_cfg")
}

func TestArgsFirmwareAndName(t *testing.T) {
	lc := testLaunchConfig(t)
	lc.Name = "node-3"
	lc.Firmware = []FirmwareConfig{
		{Name: "opt/com.coreos/config", Path: lc.Dir() + "/ignition.json"},
	}

	args := Args(lc)
	assert.Contains(t, args, "-fw_cfg")
	assert.Contains(t, args, "name=opt/com.coreos/config,file="+lc.Dir()+"/ignition.json")
	assert.Contains(t, args, "-name")
	assert.Contains(t, args, "node-3")
}

func TestMountIDsAreSequential(t *testing.T) {
	lc := testLaunchConfig(t)
	lc.Mounts = []MountedFilesystem{
		{MountTag: "config-2", ReadOnly: true, Path: "/a"},
		{MountTag: "data", ReadOnly: false, Path: "/b"},
	}

	args := Args(lc)
	assert.Contains(t, args, "local,id=f0,security_model=none,readonly=on,path=/a")
	assert.Contains(t, args, "virtio-9p-pci,fsdev=f0,mount_tag=config-2")
	assert.Contains(t, args, "local,id=f1,security_model=none,readonly=off,path=/b")
	assert.Contains(t, args, "virtio-9p-pci,fsdev=f1,mount_tag=data")
}
