package netdev

import (
	"net/netip"

	"github.com/virtnet/tapstack/ethernet"
)

// Loopback is the loopback NetDevice variant: every sent frame is
// echoed straight back to its own receive side, per spec §3.
type Loopback struct {
	name   string
	mac    ethernet.Addr
	prefix netip.Prefix
	mtu    int

	counters counters
	queue    chan []byte
	closed   chan struct{}
}

// NewLoopback builds a loopback device named name, serving prefix.
func NewLoopback(name string, prefix netip.Prefix) *Loopback {
	return &Loopback{
		name:   name,
		mac:    ethernet.Addr{},
		prefix: prefix,
		mtu:    DefaultMTU,
		queue:  make(chan []byte, ReceiveQueueCap),
		closed: make(chan struct{}),
	}
}

func (l *Loopback) Name() string                { return l.name }
func (l *Loopback) MAC() ethernet.Addr          { return l.mac }
func (l *Loopback) Prefix() (netip.Prefix, bool) { return l.prefix, l.prefix.IsValid() }
func (l *Loopback) MTU() int                    { return l.mtu }
func (l *Loopback) IsLoopback() bool            { return true }
func (l *Loopback) Counters() Counters          { return l.counters.snapshot() }

// Send enqueues frame onto this device's own receive queue.
func (l *Loopback) Send(frame []byte) error {
	select {
	case <-l.closed:
		return errClosed
	default:
	}
	cp := make([]byte, len(frame))
	copy(cp, frame)
	l.counters.addTx(len(frame))
	select {
	case l.queue <- cp:
	default:
		return errClosed // receive queue full: treated as transient drop upstream
	}
	return nil
}

// Recv blocks until a frame sent to this device is available.
func (l *Loopback) Recv(buf []byte) (int, error) {
	select {
	case frame, ok := <-l.queue:
		if !ok {
			return 0, errClosed
		}
		n := copy(buf, frame)
		l.counters.addRx(n)
		return n, nil
	case <-l.closed:
		return 0, errClosed
	}
}

func (l *Loopback) Close() error {
	select {
	case <-l.closed:
		return nil
	default:
		close(l.closed)
	}
	return nil
}
