// Package flatcar prepares Flatcar Container Linux guests: it renders
// the Ignition provisioning blob and wires it into a QEMU launch
// configuration.
package flatcar

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/distbench/vmhost/lib/guestcfg"
	"github.com/distbench/vmhost/lib/qemu"
)

// ignitionFWCfgName is the fw_cfg key Flatcar's initramfs reads its
// Ignition config from.
const ignitionFWCfgName = "opt/org.flatcar-linux/config"

// configMountTag is the 9p tag cloud-init style tooling expects.
const configMountTag = "config-2"

// PrepareLaunch renders the worker's Ignition config into the guest's
// state directory and returns a launch configuration that injects it
// via fw_cfg and exposes the directory to the guest as config-2.
func PrepareLaunch(registry *guestcfg.Registry, wc guestcfg.WorkerConfiguration, imagePath string, tap qemu.TapDevice) (*qemu.LaunchConfiguration, error) {
	ign, err := registry.Ignition(wc)
	if err != nil {
		return nil, err
	}

	lc, err := qemu.NewLaunchConfiguration(imagePath, tap)
	if err != nil {
		return nil, err
	}

	ignitionPath := filepath.Join(lc.Dir(), "ignition.json")
	if err := os.WriteFile(ignitionPath, ign, 0o644); err != nil {
		os.RemoveAll(lc.Dir())
		return nil, fmt.Errorf("writing ignition config: %w", err)
	}

	lc.Name = fmt.Sprintf("node-%d", wc.WorkerID)
	lc.Firmware = []qemu.FirmwareConfig{
		{Name: ignitionFWCfgName, Path: ignitionPath},
	}
	lc.Mounts = []qemu.MountedFilesystem{
		{MountTag: configMountTag, ReadOnly: true, Path: lc.Dir()},
	}
	return lc, nil
}
