// Package arpcache implements IPv4-over-Ethernet ARP resolution: wire
// codec, a neighbor cache with bounded pending queues, and the 1 Hz
// aging timer, per spec §4.2.
package arpcache

import (
	"errors"

	"github.com/virtnet/tapstack/ethernet"
)

const (
	sizeHeader = 8 + 2*6 + 2*4 // fixed-size IPv4-over-Ethernet ARP packet: 28 bytes

	hardwareEthernet uint16 = 1

	// DefaultMaxPending bounds the per-entry FIFO of packets awaiting
	// resolution.
	DefaultMaxPending = 8192
	// DefaultMaxRetry is the request retry budget for a WAITING entry.
	DefaultMaxRetry = 5
	// DefaultMaxTTL is the RESOLVED entry lifetime and the WAITING
	// entry's TTL reset value, in seconds.
	DefaultMaxTTL = 600
)

var (
	errShort       = errors.New("arpcache: packet too short")
	errBadHardware = errors.New("arpcache: unsupported hardware type/length")
	errBadProtocol = errors.New("arpcache: unsupported protocol type/length")
	errBadOp       = errors.New("arpcache: unknown operation")
	errOtherhost   = errors.New("arpcache: frame not addressed to this device")
	errSenderMAC   = errors.New("arpcache: ethernet source does not match ARP sender")
	errNotForUs    = errors.New("arpcache: target IP does not match device address")
	errTargetMC    = errors.New("arpcache: target hardware address is multicast")
	errNoSender    = errors.New("arpcache: sender not configured")
	errNoDevice    = errors.New("arpcache: unknown device")
	errPendingFull = errors.New("arpcache: pending queue full")
)

// Operation is the ARP opcode field.
type Operation uint16

const (
	OpRequest Operation = 1
	OpReply   Operation = 2
)

func (o Operation) String() string {
	switch o {
	case OpRequest:
		return "REQUEST"
	case OpReply:
		return "REPLY"
	default:
		return "unknown"
	}
}

// State is the lifecycle state of a cache Entry, per spec §3.
type State uint8

const (
	StateNone State = iota
	StateWaiting
	StateResolved
	StateStatic
)

func (s State) String() string {
	switch s {
	case StateWaiting:
		return "WAITING"
	case StateResolved:
		return "RESOLVED"
	case StateStatic:
		return "STATIC"
	default:
		return "NONE"
	}
}

// protocolIPv4 is the only protocol type this cache resolves, carried
// on Entry for extensibility even though it is presently constant.
const protocolIPv4 = ethernet.TypeIPv4
