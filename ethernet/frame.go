package ethernet

import "encoding/binary"

// Frame is a zero-copy view over an Ethernet II frame's raw bytes.
// Mutations through its setter methods write directly into the
// underlying buffer, per spec §9's "zero-copy slices with explicit
// edits" design note.
type Frame struct {
	buf []byte
}

// NewFrame wraps buf as an Ethernet frame. buf must be at least
// HeaderLength bytes long.
func NewFrame(buf []byte) (Frame, error) {
	if len(buf) < sizeHeaderNoVLAN {
		return Frame{}, errShort
	}
	return Frame{buf: buf}, nil
}

// RawData returns the full underlying buffer the frame was created with.
func (f Frame) RawData() []byte { return f.buf }

// Destination returns the destination MAC address.
func (f Frame) Destination() *Addr { return (*Addr)(f.buf[0:6]) }

// Source returns the source MAC address.
func (f Frame) Source() *Addr { return (*Addr)(f.buf[6:12]) }

// EtherType returns the EtherType/size field.
func (f Frame) EtherType() Type { return Type(binary.BigEndian.Uint16(f.buf[12:14])) }

// SetEtherType sets the EtherType field.
func (f Frame) SetEtherType(t Type) { binary.BigEndian.PutUint16(f.buf[12:14], uint16(t)) }

// HeaderLen returns 14, or 18 if the frame carries an 802.1Q VLAN tag.
func (f Frame) HeaderLen() int {
	if f.EtherType() == TypeVLAN {
		return 18
	}
	return sizeHeaderNoVLAN
}

// Payload returns the frame's payload, after the (possibly VLAN-tagged)
// header.
func (f Frame) Payload() []byte { return f.buf[f.HeaderLen():] }

// SwapSourceDestination exchanges the source and destination MAC fields,
// used when bouncing a frame back out the link it arrived on (e.g. ARP
// reply, loopback).
func (f Frame) SwapSourceDestination() {
	src, dst := f.Source(), f.Destination()
	*src, *dst = *dst, *src
}

// ValidateSize checks the frame buffer is large enough for its declared
// header, returning an error describing the first problem found.
func (f Frame) ValidateSize() error {
	if len(f.buf) < sizeHeaderNoVLAN {
		return errShort
	}
	if f.EtherType() == TypeVLAN && len(f.buf) < 18 {
		return errShort
	}
	return nil
}
