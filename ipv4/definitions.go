// Package ipv4 implements IPv4 header parsing/serialization and the
// input/forward/output logic of spec §4.1: route lookup, local
// delivery, forwarding with TTL handling, and fragmentation on send.
package ipv4

import "errors"

const sizeHeader = 20

var (
	errShort      = errors.New("ipv4: short buffer")
	errBadIHL     = errors.New("ipv4: bad IHL")
	errBadVersion = errors.New("ipv4: bad version")
	errBadTotalLen = errors.New("ipv4: bad total length")
	errBadChecksum = errors.New("ipv4: bad header checksum")
	errNoRoute     = errors.New("ipv4: no route to destination")
	errTTLExceeded = errors.New("ipv4: ttl exceeded")
	errFragNeeded  = errors.New("ipv4: fragmentation needed but dont-fragment set")
)

// Protocol is the IPv4 header's protocol field.
type Protocol uint8

const (
	ProtoICMP Protocol = 1
	ProtoTCP  Protocol = 6
	ProtoUDP  Protocol = 17
)

func (p Protocol) String() string {
	switch p {
	case ProtoICMP:
		return "ICMP"
	case ProtoTCP:
		return "TCP"
	case ProtoUDP:
		return "UDP"
	default:
		return "unknown"
	}
}

// ToS is the Type of Service / DSCP+ECN byte.
type ToS uint8

// Flags is the 16-bit fragmentation control field: 3 flag bits
// followed by the 13-bit fragment offset, per RFC 791.
type Flags uint16

const (
	flagMoreFragments Flags = 0x2000
	flagDontFragment  Flags = 0x4000
	fragOffsetMask    Flags = 0x1fff
)

// DontFragment reports whether the DF bit is set.
func (f Flags) DontFragment() bool { return f&flagDontFragment != 0 }

// MoreFragments reports whether the MF bit is set.
func (f Flags) MoreFragments() bool { return f&flagMoreFragments != 0 }

// FragmentOffset returns the fragment offset in 8-byte units.
func (f Flags) FragmentOffset() uint16 { return uint16(f & fragOffsetMask) }

// MakeFlags builds a Flags value from its constituent parts. offset is
// in 8-byte units.
func MakeFlags(dontFragment, moreFragments bool, offset uint16) Flags {
	var f Flags
	if dontFragment {
		f |= flagDontFragment
	}
	if moreFragments {
		f |= flagMoreFragments
	}
	f |= Flags(offset) & fragOffsetMask
	return f
}
