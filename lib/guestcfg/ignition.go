package guestcfg

import (
	"fmt"

	butaneconfig "github.com/coreos/butane/config"
	butanecommon "github.com/coreos/butane/config/common"
	"github.com/ghodss/yaml"
)

// Butane schema version targeted by our configs.
const (
	butaneVariant = "flatcar"
	butaneVersion = "1.0.0"
)

type butaneContents struct {
	Inline string `json:"inline"`
}

type butaneFile struct {
	Path     string         `json:"path"`
	Contents butaneContents `json:"contents"`
}

type butaneUnit struct {
	Name     string `json:"name"`
	Enabled  bool   `json:"enabled"`
	Contents string `json:"contents"`
}

type butaneDoc struct {
	Variant string `json:"variant"`
	Version string `json:"version"`
	Systemd struct {
		Units []butaneUnit `json:"units"`
	} `json:"systemd"`
	Storage struct {
		Files []butaneFile `json:"files"`
	} `json:"storage"`
}

// ButaneConfig composes the worker's full first-boot provisioning as a
// Butane YAML document: the worker unit plus the network, worker and
// docker daemon configuration files.
func (r *Registry) ButaneConfig(wc WorkerConfiguration) ([]byte, error) {
	dockerUnit, err := r.DockerUnit(wc)
	if err != nil {
		return nil, err
	}
	networkUnit, err := r.NetworkUnit(wc)
	if err != nil {
		return nil, err
	}
	workerConfig, err := r.WorkerConfig(wc)
	if err != nil {
		return nil, err
	}
	daemonConfig, err := r.DockerDaemonConfig(wc)
	if err != nil {
		return nil, err
	}

	var doc butaneDoc
	doc.Variant = butaneVariant
	doc.Version = butaneVersion
	doc.Systemd.Units = []butaneUnit{
		{Name: "worker.service", Enabled: true, Contents: dockerUnit},
	}
	doc.Storage.Files = []butaneFile{
		{Path: "/etc/systemd/network/00-eth0.network", Contents: butaneContents{Inline: networkUnit}},
		{Path: "/config/workerConfig.yaml", Contents: butaneContents{Inline: workerConfig}},
		{Path: "/etc/docker/daemon.json", Contents: butaneContents{Inline: daemonConfig}},
	}

	out, err := yaml.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("marshaling butane config: %w", err)
	}
	return out, nil
}

// Ignition translates the composed Butane config into the Ignition
// JSON the guest consumes on first boot.
func (r *Registry) Ignition(wc WorkerConfiguration) ([]byte, error) {
	butaneYAML, err := r.ButaneConfig(wc)
	if err != nil {
		return nil, err
	}

	ign, report, err := butaneconfig.TranslateBytes(butaneYAML, butanecommon.TranslateBytesOptions{})
	if err != nil {
		return nil, fmt.Errorf("translating butane config: %w", err)
	}
	if report.IsFatal() {
		return nil, fmt.Errorf("translating butane config: %s", report.String())
	}
	return ign, nil
}
