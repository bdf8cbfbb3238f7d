// Package qemu composes QEMU command lines and supervises the
// daemonized processes they start.
package qemu

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"

	"github.com/google/uuid"
)

// Binary is the system emulator we launch.
const Binary = "qemu-system-x86_64"

// Defaults applied when a launch configuration leaves sizing unset.
const (
	DefaultCores    = 8
	DefaultMemoryMB = 16 * 1024
)

// TapDevice is the slice of a network lease the command line needs.
type TapDevice interface {
	Name() string
	MAC() net.HardwareAddr
}

// FirmwareConfig is a named blob injected into the guest via fw_cfg.
type FirmwareConfig struct {
	Name string
	Path string
}

// MountedFilesystem exposes a host directory to the guest over 9p.
type MountedFilesystem struct {
	MountTag string
	ReadOnly bool
	Path     string
}

// LaunchConfiguration is pure data describing one guest. The state
// directory holds the monitor socket, serial socket, pidfile and any
// firmware blobs, and is private to this guest.
type LaunchConfiguration struct {
	Name      string
	ImagePath string
	Tap       TapDevice
	Firmware  []FirmwareConfig
	Mounts    []MountedFilesystem

	// Cores and MemoryMB override the defaults when non-zero.
	Cores    int
	MemoryMB int

	dir string
}

// NewLaunchConfiguration allocates the guest's private state directory.
func NewLaunchConfiguration(imagePath string, tap TapDevice) (*LaunchConfiguration, error) {
	dir := filepath.Join(os.TempDir(), "vmhost-"+uuid.NewString())
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating state dir: %w", err)
	}
	return &LaunchConfiguration{ImagePath: imagePath, Tap: tap, dir: dir}, nil
}

// Dir returns the guest's private state directory.
func (lc *LaunchConfiguration) Dir() string {
	return lc.dir
}

func (lc *LaunchConfiguration) MonitorSocketPath() string {
	return filepath.Join(lc.dir, "monitor.socket")
}

func (lc *LaunchConfiguration) SerialSocketPath() string {
	return filepath.Join(lc.dir, "serial.socket")
}

func (lc *LaunchConfiguration) PidfilePath() string {
	return filepath.Join(lc.dir, "pidfile")
}

// fragment is one self-contained group of command line arguments.
type fragment interface {
	args() []string
}

type runMode struct {
	monitorSocket string
	serialSocket  string
	pidfile       string
}

func (r runMode) args() []string {
	return []string{
		"-monitor", fmt.Sprintf("unix:%s,server,nowait", r.monitorSocket),
		"-serial", fmt.Sprintf("unix:%s,server,nowait", r.serialSocket),
		"-daemonize", "-pidfile", r.pidfile,
		"-display", "none", "-vga", "none",
	}
}

type virtualizationMode struct {
	machine string
	cpu     string
	kvm     bool
}

func (v virtualizationMode) args() []string {
	out := []string{"-machine", v.machine, "-cpu", v.cpu}
	if v.kvm {
		out = append(out, "-enable-kvm", "-machine", "accel=kvm")
	}
	return out
}

type deviceConfig struct {
	drives   []string
	mounts   []MountedFilesystem
	firmware []FirmwareConfig
	rng      bool
	name     string
	memoryMB int
	cores    int
	tap      TapDevice
}

func (d deviceConfig) args() []string {
	var out []string
	for _, drive := range d.drives {
		out = append(out, "-drive", fmt.Sprintf("if=virtio,file=%s", drive))
	}
	for i, m := range d.mounts {
		readonly := "off"
		if m.ReadOnly {
			readonly = "on"
		}
		out = append(out,
			"-fsdev", fmt.Sprintf("local,id=f%d,security_model=none,readonly=%s,path=%s", i, readonly, m.Path),
			"-device", fmt.Sprintf("virtio-9p-pci,fsdev=f%d,mount_tag=%s", i, m.MountTag),
		)
	}
	for _, fw := range d.firmware {
		out = append(out, "-fw_cfg", fmt.Sprintf("name=%s,file=%s", fw.Name, fw.Path))
	}
	if d.rng {
		out = append(out,
			"-object", "rng-random,filename=/dev/urandom,id=rng0",
			"-device", "virtio-rng-pci,rng=rng0",
		)
	}
	if d.name != "" {
		out = append(out, "-name", d.name)
	}
	out = append(out, "-m", fmt.Sprintf("%dm", d.memoryMB))
	out = append(out, "-smp", strconv.Itoa(d.cores))
	if d.tap != nil {
		out = append(out,
			"-netdev", fmt.Sprintf("tap,id=eth0,ifname=%s,script=no,downscript=no", d.tap.Name()),
			"-device", fmt.Sprintf("virtio-net-pci,netdev=eth0,mac=%s", d.tap.MAC()),
		)
	}
	return out
}

// Args assembles the full argument vector. Fragment order is fixed:
// run mode, then virtualization mode, then device configuration.
func Args(lc *LaunchConfiguration) []string {
	cores := lc.Cores
	if cores == 0 {
		cores = DefaultCores
	}
	memoryMB := lc.MemoryMB
	if memoryMB == 0 {
		memoryMB = DefaultMemoryMB
	}

	fragments := []fragment{
		runMode{
			monitorSocket: lc.MonitorSocketPath(),
			serialSocket:  lc.SerialSocketPath(),
			pidfile:       lc.PidfilePath(),
		},
		virtualizationMode{machine: "q35", cpu: "host", kvm: true},
		deviceConfig{
			drives:   []string{lc.ImagePath},
			mounts:   lc.Mounts,
			firmware: lc.Firmware,
			rng:      true,
			name:     lc.Name,
			memoryMB: memoryMB,
			cores:    cores,
			tap:      lc.Tap,
		},
	}

	var args []string
	for _, f := range fragments {
		args = append(args, f.args()...)
	}
	return args
}
