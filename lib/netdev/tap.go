package netdev

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// Tap is a TAP interface created through /dev/net/tun. The device is made
// persistent at creation so the hypervisor and the bridge can reference it
// by name after our descriptor closes; Close un-persists it, letting the
// kernel reclaim the interface once the last user is gone.
type Tap struct {
	name string
	file *os.File
}

// CreateTap creates a persistent TAP device with the given name, owned by
// the current (possibly unprivileged) user.
func CreateTap(name string) (*Tap, error) {
	if err := validateName(name); err != nil {
		return nil, err
	}
	if err := RequireNetAdmin(); err != nil {
		return nil, err
	}

	f, err := openTunDevice()
	if err != nil {
		return nil, err
	}

	ifr, err := unix.NewIfreq(name)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("build ifreq for %q: %w", name, err)
	}
	ifr.SetUint16(unix.IFF_TAP)

	fd := int(f.Fd())
	if err := unix.IoctlIfreq(fd, unix.TUNSETIFF, ifr); err != nil {
		f.Close()
		return nil, fmt.Errorf("TUNSETIFF %q: %w", name, err)
	}

	// Hand the device to the invoking user so the hypervisor does not need
	// privileges to open it.
	if err := unix.IoctlSetInt(fd, unix.TUNSETOWNER, os.Getuid()); err != nil {
		f.Close()
		return nil, fmt.Errorf("TUNSETOWNER %q: %w", name, err)
	}

	if err := unix.IoctlSetInt(fd, unix.TUNSETPERSIST, 1); err != nil {
		f.Close()
		return nil, fmt.Errorf("TUNSETPERSIST %q: %w", name, err)
	}

	return &Tap{name: ifr.Name(), file: f}, nil
}

// Name returns the kernel-assigned interface name.
func (t *Tap) Name() string {
	return t.name
}

// Index resolves the interface index via SIOCGIFINDEX on a datagram socket.
func (t *Tap) Index() (int, error) {
	if err := RequireNetAdmin(); err != nil {
		return 0, err
	}
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_DGRAM, 0)
	if err != nil {
		return 0, fmt.Errorf("open datagram socket: %w", err)
	}
	defer unix.Close(fd)

	ifr, err := unix.NewIfreq(t.name)
	if err != nil {
		return 0, fmt.Errorf("build ifreq for %q: %w", t.name, err)
	}
	if err := unix.IoctlIfreq(fd, unix.SIOCGIFINDEX, ifr); err != nil {
		return 0, fmt.Errorf("SIOCGIFINDEX %q: %w", t.name, err)
	}
	return int(ifr.Uint32()), nil
}

// Up raises IFF_UP on the TAP device.
func (t *Tap) Up() error {
	return setFlags(t.name, unix.IFF_UP, 0)
}

// Close un-persists the device and closes our descriptor. The kernel
// removes the interface once no other process (hypervisor, bridge) holds
// a reference.
func (t *Tap) Close() error {
	if t.file == nil {
		return nil
	}
	defer func() {
		t.file.Close()
		t.file = nil
	}()
	if err := unix.IoctlSetInt(int(t.file.Fd()), unix.TUNSETPERSIST, 0); err != nil {
		return fmt.Errorf("TUNSETPERSIST=0 %q: %w", t.name, err)
	}
	return nil
}

func openTunDevice() (*os.File, error) {
	if _, err := os.Stat(tunDevicePath); err != nil {
		if os.IsNotExist(err) {
			return nil, ErrDeviceMissing
		}
		return nil, fmt.Errorf("stat %s: %w", tunDevicePath, err)
	}
	f, err := os.OpenFile(tunDevicePath, os.O_RDWR, 0)
	if err != nil {
		if os.IsPermission(err) {
			return nil, ErrDeviceNotAccessible
		}
		return nil, fmt.Errorf("open %s: %w", tunDevicePath, err)
	}
	return f, nil
}
