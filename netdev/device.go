package netdev

import (
	"net/netip"
	"sync/atomic"

	"github.com/virtnet/tapstack/ethernet"
)

// Device is a named link, per spec §3's NetDevice: loopback devices
// echo sends back to their own receive side, TAP-backed veths talk to
// the kernel.
type Device interface {
	Name() string
	MAC() ethernet.Addr
	Prefix() (netip.Prefix, bool)
	MTU() int
	IsLoopback() bool

	// Send transmits one raw Ethernet frame.
	Send(frame []byte) error
	// Recv blocks until one raw Ethernet frame is available, reading
	// it into buf and returning its length.
	Recv(buf []byte) (int, error)
	Close() error

	// Counters, for metrics.
	Counters() Counters
}

// Counters are the packet/byte counters spec §3 requires every device
// to expose.
type Counters struct {
	RxPackets uint64
	TxPackets uint64
	RxBytes   uint64
	TxBytes   uint64
}

// counters is the mutable, concurrency-safe backing store for Counters.
type counters struct {
	rxPackets, txPackets atomic.Uint64
	rxBytes, txBytes     atomic.Uint64
}

func (c *counters) addRx(n int) {
	c.rxPackets.Add(1)
	c.rxBytes.Add(uint64(n))
}

func (c *counters) addTx(n int) {
	c.txPackets.Add(1)
	c.txBytes.Add(uint64(n))
}

func (c *counters) snapshot() Counters {
	return Counters{
		RxPackets: c.rxPackets.Load(),
		TxPackets: c.txPackets.Load(),
		RxBytes:   c.rxBytes.Load(),
		TxBytes:   c.txBytes.Load(),
	}
}
