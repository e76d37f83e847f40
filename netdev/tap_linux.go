//go:build linux

package netdev

import (
	"encoding/binary"
	"fmt"
	"net/netip"
	"os/exec"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/virtnet/tapstack/ethernet"
)

// Tap is a TAP-backed veth NetDevice, per spec §6: it opens
// /dev/net/tun, creates the interface node, and reads/writes raw
// Ethernet frames.
type Tap struct {
	fd     int
	name   string
	mac    ethernet.Addr
	prefix netip.Prefix
	mtu    int

	counters counters
	closed   chan struct{}
}

// NewTap opens (creating if necessary) the named TAP device and
// configures it with prefix, per spec §6's "set IFF_TAP | IFF_NO_PI,
// set IP, netmask, and bring up".
func NewTap(name string, prefix netip.Prefix) (*Tap, error) {
	if len(name) >= unix.IFNAMSIZ {
		return nil, fmt.Errorf("netdev: interface name %q too long", name)
	}
	fd, err := unix.Open("/dev/net/tun", unix.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("netdev: opening /dev/net/tun: %w", err)
	}

	ifr := makeifreq(name)
	ifr.setUint16(uint16(unix.IFF_TAP | unix.IFF_NO_PI))
	if err := ioctl(fd, unix.TUNSETIFF, ifr.ptr()); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("netdev: TUNSETIFF: %w", err)
	}

	t := &Tap{fd: fd, name: name, prefix: prefix, closed: make(chan struct{})}

	if err := exec.Command("ip", "link", "set", "dev", name, "up").Run(); err != nil {
		t.Close()
		return nil, fmt.Errorf("netdev: bringing up %s: %w", name, err)
	}
	if prefix.IsValid() {
		if err := exec.Command("ip", "addr", "add", prefix.String(), "dev", name).Run(); err != nil {
			t.Close()
			return nil, fmt.Errorf("netdev: assigning address to %s: %w", name, err)
		}
	}

	mtu, err := t.querySocketMTU()
	if err != nil {
		t.Close()
		return nil, err
	}
	t.mtu = mtu

	mac, err := t.querySocketMAC()
	if err != nil {
		t.Close()
		return nil, err
	}
	t.mac = mac

	return t, nil
}

func (t *Tap) Name() string                 { return t.name }
func (t *Tap) MAC() ethernet.Addr           { return t.mac }
func (t *Tap) Prefix() (netip.Prefix, bool) { return t.prefix, t.prefix.IsValid() }
func (t *Tap) MTU() int                     { return t.mtu }
func (t *Tap) IsLoopback() bool             { return false }
func (t *Tap) Counters() Counters           { return t.counters.snapshot() }

// Send writes one raw Ethernet frame to the TAP file descriptor.
func (t *Tap) Send(frame []byte) error {
	n, err := unix.Write(t.fd, frame)
	if err != nil {
		return err
	}
	t.counters.addTx(n)
	return nil
}

// Recv reads one raw Ethernet frame from the TAP file descriptor.
// Frames arrive whole (one read == one frame) for TAP devices.
func (t *Tap) Recv(buf []byte) (int, error) {
	n, err := unix.Read(t.fd, buf)
	if err != nil {
		return 0, err
	}
	t.counters.addRx(n)
	return n, nil
}

func (t *Tap) Close() error {
	select {
	case <-t.closed:
		return nil
	default:
		close(t.closed)
	}
	return unix.Close(t.fd)
}

func (t *Tap) querySocketMTU() (int, error) {
	sock, err := unix.Socket(unix.AF_INET, unix.SOCK_DGRAM, 0)
	if err != nil {
		return 0, err
	}
	defer unix.Close(sock)

	ifr := makeifreq(t.name)
	if err := ioctl(sock, unix.SIOCGIFMTU, ifr.ptr()); err != nil {
		return 0, err
	}
	mtu := *(*int32)(unsafe.Pointer(&ifr.data[0]))
	return int(mtu), nil
}

const safamilyHW6 = 1

func (t *Tap) querySocketMAC() (ethernet.Addr, error) {
	var mac ethernet.Addr
	sock, err := unix.Socket(unix.AF_INET, unix.SOCK_DGRAM, 0)
	if err != nil {
		return mac, err
	}
	defer unix.Close(sock)

	ifr := makeifreq(t.name)
	if err := ioctl(sock, unix.SIOCGIFHWADDR, ifr.ptr()); err != nil {
		return mac, err
	}
	family := *(*uint16)(unsafe.Pointer(&ifr.data[0]))
	if family != safamilyHW6 {
		return mac, fmt.Errorf("netdev: unexpected hwaddr sa_family %d", family)
	}
	copy(mac[:], ifr.data[2:8])
	return mac, nil
}

func ioctl(fd int, request uintptr, argp unsafe.Pointer) error {
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), request, uintptr(argp))
	if errno != 0 {
		return errno
	}
	return nil
}

// ifreq mirrors the kernel's struct ifreq: a fixed interface name
// followed by a union big enough for every ioctl this package issues.
type ifreq struct {
	name [unix.IFNAMSIZ]byte
	data [64]byte
}

func makeifreq(name string) ifreq {
	var ifr ifreq
	copy(ifr.name[:], name)
	return ifr
}

func (ifr *ifreq) setUint16(v uint16) { binary.NativeEndian.PutUint16(ifr.data[:2], v) }
func (ifr *ifreq) ptr() unsafe.Pointer { return unsafe.Pointer(ifr) }
