package netdev

import (
	"fmt"
	"net"
	"runtime"
	"unsafe"

	"golang.org/x/sys/unix"
)

// upFlags are raised on a freshly created bridge.
const upFlags = unix.IFF_UP | unix.IFF_BROADCAST | unix.IFF_RUNNING | unix.IFF_MULTICAST

// Bridge is a kernel bridge device managed through SIOCBR* ioctls.
type Bridge struct {
	name string
	addr net.IP
}

// CreateBridge creates a bridge, assigns it the given IPv4 host address
// and raises it.
func CreateBridge(name string, addr net.IP) (*Bridge, error) {
	if err := validateName(name); err != nil {
		return nil, err
	}
	if err := RequireNetAdmin(); err != nil {
		return nil, err
	}

	fd, err := bridgeControlSocket()
	if err != nil {
		return nil, err
	}
	defer unix.Close(fd)

	if err := ioctlWithName(fd, unix.SIOCBRADDBR, name); err != nil {
		return nil, fmt.Errorf("SIOCBRADDBR %q: %w", name, err)
	}

	b := &Bridge{name: name, addr: addr}
	if err := b.setAddr(addr); err != nil {
		return nil, err
	}
	if err := setFlags(name, upFlags, 0); err != nil {
		return nil, err
	}
	return b, nil
}

// AdoptBridge wraps an already existing bridge device so it can be
// torn down or reused without recreating it. No ioctls are issued.
func AdoptBridge(name string, addr net.IP) (*Bridge, error) {
	if err := validateName(name); err != nil {
		return nil, err
	}
	return &Bridge{name: name, addr: addr}, nil
}

// Name returns the bridge interface name.
func (b *Bridge) Name() string {
	return b.name
}

// Addr returns the host address assigned to the bridge.
func (b *Bridge) Addr() net.IP {
	return b.addr
}

// AttachTap resolves the TAP's interface index and adds it to the bridge
// via SIOCBRADDIF.
func (b *Bridge) AttachTap(t *Tap) error {
	if err := RequireNetAdmin(); err != nil {
		return err
	}
	index, err := t.Index()
	if err != nil {
		return fmt.Errorf("resolve tap index: %w", err)
	}

	fd, err := bridgeControlSocket()
	if err != nil {
		return err
	}
	defer unix.Close(fd)

	ifr, err := unix.NewIfreq(b.name)
	if err != nil {
		return fmt.Errorf("build ifreq for %q: %w", b.name, err)
	}
	ifr.SetUint32(uint32(index))
	if err := unix.IoctlIfreq(fd, unix.SIOCBRADDIF, ifr); err != nil {
		return fmt.Errorf("SIOCBRADDIF %q <- %q: %w", b.name, t.Name(), err)
	}
	return nil
}

// IsUp reports whether IFF_UP is set on the bridge.
func (b *Bridge) IsUp() (bool, error) {
	flags, err := getFlags(b.name)
	if err != nil {
		return false, err
	}
	return flags&unix.IFF_UP != 0, nil
}

// Close lowers the bridge if it is up and deletes it.
func (b *Bridge) Close() error {
	if err := RequireNetAdmin(); err != nil {
		return err
	}
	up, err := b.IsUp()
	if err != nil {
		return err
	}
	if up {
		if err := setFlags(b.name, 0, unix.IFF_UP); err != nil {
			return err
		}
	}

	fd, err := bridgeControlSocket()
	if err != nil {
		return err
	}
	defer unix.Close(fd)

	if err := ioctlWithName(fd, unix.SIOCBRDELBR, b.name); err != nil {
		return fmt.Errorf("SIOCBRDELBR %q: %w", b.name, err)
	}
	return nil
}

func (b *Bridge) setAddr(addr net.IP) error {
	ip4 := addr.To4()
	if ip4 == nil {
		return fmt.Errorf("bridge address %s is not IPv4", addr)
	}

	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_DGRAM, 0)
	if err != nil {
		return fmt.Errorf("open datagram socket: %w", err)
	}
	defer unix.Close(fd)

	ifr, err := unix.NewIfreq(b.name)
	if err != nil {
		return fmt.Errorf("build ifreq for %q: %w", b.name, err)
	}
	if err := ifr.SetInet4Addr(ip4); err != nil {
		return fmt.Errorf("set ifreq address: %w", err)
	}
	if err := unix.IoctlIfreq(fd, unix.SIOCSIFADDR, ifr); err != nil {
		return fmt.Errorf("SIOCSIFADDR %q = %s: %w", b.name, addr, err)
	}
	return nil
}

// bridgeControlSocket opens the stream socket the SIOCBR* ioctls are
// issued against.
func bridgeControlSocket() (int, error) {
	fd, err := unix.Socket(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		return 0, fmt.Errorf("open bridge control socket: %w", err)
	}
	return fd, nil
}

// ioctlWithName issues an ioctl whose argument is a NUL-terminated
// interface name (SIOCBRADDBR/SIOCBRDELBR take a char*, not an ifreq).
func ioctlWithName(fd int, req uint, name string) error {
	buf, err := unix.ByteSliceFromString(name)
	if err != nil {
		return err
	}
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), uintptr(req), uintptr(unsafe.Pointer(&buf[0])))
	runtime.KeepAlive(buf)
	if errno != 0 {
		return errno
	}
	return nil
}

// getFlags reads the interface flags via SIOCGIFFLAGS.
func getFlags(name string) (uint16, error) {
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_DGRAM, 0)
	if err != nil {
		return 0, fmt.Errorf("open datagram socket: %w", err)
	}
	defer unix.Close(fd)

	ifr, err := unix.NewIfreq(name)
	if err != nil {
		return 0, fmt.Errorf("build ifreq for %q: %w", name, err)
	}
	if err := unix.IoctlIfreq(fd, unix.SIOCGIFFLAGS, ifr); err != nil {
		return 0, fmt.Errorf("SIOCGIFFLAGS %q: %w", name, err)
	}
	return ifr.Uint16(), nil
}

// setFlags reads the current flags, sets the bits in raise, clears the
// bits in lower and writes the result back via SIOCSIFFLAGS.
func setFlags(name string, raise, lower uint16) error {
	flags, err := getFlags(name)
	if err != nil {
		return err
	}
	flags = (flags | raise) &^ lower

	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_DGRAM, 0)
	if err != nil {
		return fmt.Errorf("open datagram socket: %w", err)
	}
	defer unix.Close(fd)

	ifr, err := unix.NewIfreq(name)
	if err != nil {
		return fmt.Errorf("build ifreq for %q: %w", name, err)
	}
	ifr.SetUint16(flags)
	if err := unix.IoctlIfreq(fd, unix.SIOCSIFFLAGS, ifr); err != nil {
		return fmt.Errorf("SIOCSIFFLAGS %q: %w", name, err)
	}
	return nil
}
