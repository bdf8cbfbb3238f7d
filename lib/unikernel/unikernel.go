// Package unikernel builds Nanos unikernel images with the external
// ops builder and prepares them for launch.
package unikernel

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/distbench/vmhost/lib/qemu"
	"github.com/distbench/vmhost/lib/shell"
)

const opsBinary = "ops"

// WorkerConfig identifies one unikernel worker and the binary it runs.
type WorkerConfig struct {
	QueryID int
	NodeID  int
	// ELFBinary is the statically linked binary ops packages.
	ELFBinary string
	// Args is passed to the binary verbatim when non-empty.
	Args string
}

// ImageName derives the ops image name for this worker.
func (c WorkerConfig) ImageName() string {
	return fmt.Sprintf("unikernel_%d_%d", c.QueryID, c.NodeID)
}

// PrepareLaunch builds the unikernel image with ops, copies it into a
// fresh guest state directory and returns the launch configuration.
// The guest's address is baked into the image at build time.
func PrepareLaunch(ctx context.Context, cfg WorkerConfig, ip string, tap qemu.TapDevice) (*qemu.LaunchConfiguration, error) {
	imageName := cfg.ImageName()

	args := []string{"build", cfg.ELFBinary, "--ip-address", ip, "-i", imageName}
	if cfg.Args != "" {
		args = append(args, "--args", cfg.Args)
	}
	if _, err := shell.Run(ctx, opsBinary, args...); err != nil {
		return nil, fmt.Errorf("building unikernel image %s: %w", imageName, err)
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("resolving home dir: %w", err)
	}
	builtImage := filepath.Join(home, ".ops", "images", imageName)

	lc, err := qemu.NewLaunchConfiguration("", tap)
	if err != nil {
		return nil, err
	}
	imagePath := filepath.Join(lc.Dir(), imageName)
	if err := copyFile(builtImage, imagePath); err != nil {
		os.RemoveAll(lc.Dir())
		return nil, fmt.Errorf("copying image to state dir: %w", err)
	}
	lc.ImagePath = imagePath
	lc.Name = imageName
	return lc, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
