// Package ethernet implements Ethernet II frame parsing/serialization and
// hardware (MAC) address helpers, per spec §3 ("MacAddress") and §4.1
// ("Ethernet demux").
package ethernet

import (
	"crypto/rand"
	"errors"
)

const (
	sizeHeaderNoVLAN = 14
	// HeaderLength is the fixed (non-VLAN) Ethernet II header size.
	HeaderLength = sizeHeaderNoVLAN
)

var errShort = errors.New("ethernet: frame too short")

// Type is the EtherType field of an Ethernet frame.
type Type uint16

// EtherType values named in spec §6.
const (
	TypeIPv4 Type = 0x0800
	TypeARP  Type = 0x0806
	TypeRARP Type = 0x8035
	TypeVLAN Type = 0x8100
)

func (t Type) String() string {
	switch t {
	case TypeIPv4:
		return "IPv4"
	case TypeARP:
		return "ARP"
	case TypeRARP:
		return "RARP"
	case TypeVLAN:
		return "VLAN"
	default:
		return "unknown"
	}
}

// IsSize returns true if t is actually a IEEE 802.3 payload-size field
// rather than an EtherType (values <= 1500 are ambiguous with size).
func (t Type) IsSize() bool { return t <= 1500 }

// Addr is a 6-byte MAC address.
type Addr [6]byte

// randomOUI is the fixed OUI spec §3 mandates for generated addresses.
var randomOUI = [3]byte{0x00, 0x0c, 0x29}

// Broadcast is the all-ones broadcast MAC address.
func Broadcast() Addr { return Addr{0xff, 0xff, 0xff, 0xff, 0xff, 0xff} }

// IsMulticast reports whether the low bit of the first octet is set, per
// spec §3.
func (a Addr) IsMulticast() bool { return a[0]&1 != 0 }

// IsBroadcast reports whether a is the all-ones broadcast address.
func (a Addr) IsBroadcast() bool { return a == Broadcast() }

// IsZero reports whether a is the all-zeros address.
func (a Addr) IsZero() bool { return a == Addr{} }

// Random generates a MAC address with the fixed OUI 00:0c:29 and random
// trailing bytes, per spec §3.
func Random() (Addr, error) {
	var a Addr
	copy(a[:3], randomOUI[:])
	if _, err := rand.Read(a[3:]); err != nil {
		return Addr{}, err
	}
	return a, nil
}

func (a Addr) String() string {
	const hex = "0123456789abcdef"
	buf := make([]byte, 17)
	for i, b := range a {
		buf[i*3] = hex[b>>4]
		buf[i*3+1] = hex[b&0xf]
		if i != 5 {
			buf[i*3+2] = ':'
		}
	}
	return string(buf)
}

// Class classifies an Ethernet frame's destination for dispatch, per
// spec §4.1.
type Class uint8

const (
	ClassNone Class = iota
	ClassLocalhost
	ClassOtherhost
	ClassMulticast
	ClassBroadcast
)

func (c Class) String() string {
	switch c {
	case ClassLocalhost:
		return "LOCALHOST"
	case ClassOtherhost:
		return "OTHERHOST"
	case ClassMulticast:
		return "MULTICAST"
	case ClassBroadcast:
		return "BROADCAST"
	default:
		return "NONE"
	}
}

// Classify implements spec §4.1's Ethernet demux destination classification:
// broadcast, then multicast, then a match against the receiving device's
// own MAC (LOCALHOST), else OTHERHOST.
func Classify(dst, ifaceMAC Addr) Class {
	switch {
	case dst.IsBroadcast():
		return ClassBroadcast
	case dst.IsMulticast():
		return ClassMulticast
	case dst == ifaceMAC:
		return ClassLocalhost
	default:
		return ClassOtherhost
	}
}
