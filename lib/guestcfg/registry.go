// Package guestcfg renders the configuration a guest needs to join the
// cluster: its worker YAML, systemd units, docker daemon settings and
// the Ignition blob that provisions them all on first boot.
package guestcfg

import (
	"bytes"
	"embed"
	"fmt"
	"net"
	"text/template"
)

//go:embed templates/*.tmpl
var templateFS embed.FS

// WorkerConfiguration describes one guest worker. IP addressing comes
// from the TAP lease; the coordinator and image registry live on the
// host bridge address.
type WorkerConfiguration struct {
	WorkerID int
	ParentID int

	// IPAddr is the guest's address, HostIPAddr the bridge address the
	// guest uses as gateway, coordinator and registry host.
	IPAddr     net.IP
	HostIPAddr net.IP
	PrefixLen  int

	// RegistryPort is the host's insecure image registry port.
	RegistryPort int
	// Image is the worker container image. Defaults to the host
	// registry's worker image when empty.
	Image string

	LogLevel   string
	Sources    []TCPSource
	Processing QueryProcessing
}

func (wc WorkerConfiguration) image() string {
	if wc.Image != "" {
		return wc.Image
	}
	return fmt.Sprintf("%s:%d/nebulastream/nes-executable-image", wc.HostIPAddr, wc.RegistryPort)
}

// Registry holds the parsed templates. Build it once at startup and
// pass it to whoever renders guest configuration.
type Registry struct {
	templates *template.Template
}

// NewRegistry parses the embedded templates.
func NewRegistry() (*Registry, error) {
	t, err := template.ParseFS(templateFS, "templates/*.tmpl")
	if err != nil {
		return nil, fmt.Errorf("parsing guest config templates: %w", err)
	}
	return &Registry{templates: t}, nil
}

// templateData is the flattened view the text templates consume.
type templateData struct {
	Image    string
	Address  string
	Gateway  string
	Registry string
}

func (r *Registry) render(name string, wc WorkerConfiguration) (string, error) {
	data := templateData{
		Image:    wc.image(),
		Address:  fmt.Sprintf("%s/%d", wc.IPAddr, wc.PrefixLen),
		Gateway:  wc.HostIPAddr.String(),
		Registry: fmt.Sprintf("%s:%d", wc.HostIPAddr, wc.RegistryPort),
	}

	var buf bytes.Buffer
	if err := r.templates.ExecuteTemplate(&buf, name, data); err != nil {
		return "", fmt.Errorf("rendering %s: %w", name, err)
	}
	return buf.String(), nil
}

// DockerUnit renders the systemd unit that runs the worker container.
func (r *Registry) DockerUnit(wc WorkerConfiguration) (string, error) {
	return r.render("docker_unit.tmpl", wc)
}

// NetworkUnit renders the systemd-networkd unit for eth0.
func (r *Registry) NetworkUnit(wc WorkerConfiguration) (string, error) {
	return r.render("network_unit.tmpl", wc)
}

// DockerDaemonConfig renders /etc/docker/daemon.json, marking the host
// registry as insecure so the guest can pull over plain HTTP.
func (r *Registry) DockerDaemonConfig(wc WorkerConfiguration) (string, error) {
	return r.render("docker_daemon.tmpl", wc)
}
