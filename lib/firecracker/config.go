// Package firecracker renders Firecracker machine configurations from
// launch configurations. Process supervision is shared with the QEMU
// handle; only the machine description differs.
package firecracker

import (
	"encoding/json"
	"fmt"

	"github.com/distbench/vmhost/lib/qemu"
)

// The top level uses kebab-case keys, the nested objects snake_case.
// That asymmetry is part of Firecracker's API.

type BootSource struct {
	KernelImagePath string `json:"kernel_image_path"`
	BootArgs        string `json:"boot_args"`
}

type Drive struct {
	DriveID      string `json:"drive_id"`
	PathOnHost   string `json:"path_on_host"`
	IsRootDevice bool   `json:"is_root_device"`
	IsReadOnly   bool   `json:"is_read_only"`
}

type NetworkInterface struct {
	IfaceID     string `json:"iface_id"`
	GuestMAC    string `json:"guest_mac"`
	HostDevName string `json:"host_dev_name"`
}

type MachineConfig struct {
	VCPUCount  int  `json:"vcpu_count"`
	MemSizeMiB int  `json:"mem_size_mib"`
	HTEnabled  bool `json:"ht_enabled"`
}

type VMConfig struct {
	BootSource        BootSource         `json:"boot-source"`
	Drives            []Drive            `json:"drives"`
	NetworkInterfaces []NetworkInterface `json:"network-interfaces"`
	MachineConfig     MachineConfig      `json:"machine-config"`
}

// NewVMConfig maps a launch configuration onto Firecracker's machine
// description. The image boots as the kernel; sizing defaults match
// the QEMU composer's.
func NewVMConfig(lc *qemu.LaunchConfiguration) VMConfig {
	cores := lc.Cores
	if cores == 0 {
		cores = qemu.DefaultCores
	}
	memoryMB := lc.MemoryMB
	if memoryMB == 0 {
		memoryMB = qemu.DefaultMemoryMB
	}

	cfg := VMConfig{
		BootSource: BootSource{KernelImagePath: lc.ImagePath},
		Drives:     []Drive{},
		MachineConfig: MachineConfig{
			VCPUCount:  cores,
			MemSizeMiB: memoryMB,
			HTEnabled:  true,
		},
	}
	if lc.Tap != nil {
		cfg.NetworkInterfaces = []NetworkInterface{{
			IfaceID:     "en1",
			GuestMAC:    lc.Tap.MAC().String(),
			HostDevName: lc.Tap.Name(),
		}}
	}
	return cfg
}

// Render serializes the machine configuration for Firecracker's
// --config-file flag.
func Render(lc *qemu.LaunchConfiguration) ([]byte, error) {
	out, err := json.MarshalIndent(NewVMConfig(lc), "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshaling firecracker config: %w", err)
	}
	return out, nil
}
