package ipv4

import (
	"encoding/binary"
	"net/netip"

	"github.com/virtnet/tapstack/internal/crc791"
)

// Frame is a zero-copy view over an IPv4 header and payload.
type Frame struct {
	buf []byte
}

// NewFrame wraps buf as an IPv4 frame. buf must be at least 20 bytes.
func NewFrame(buf []byte) (Frame, error) {
	if len(buf) < sizeHeader {
		return Frame{}, errShort
	}
	return Frame{buf: buf}, nil
}

// RawData returns the underlying buffer.
func (f Frame) RawData() []byte { return f.buf }

func (f Frame) ihl() uint8     { return f.buf[0] & 0xf }
func (f Frame) version() uint8 { return f.buf[0] >> 4 }

// HeaderLength returns the header length in bytes, as encoded by IHL.
func (f Frame) HeaderLength() int { return int(f.ihl()) * 4 }

// SetVersionAndIHL sets the version (should be 4) and IHL fields.
func (f Frame) SetVersionAndIHL(version, ihl uint8) { f.buf[0] = version<<4 | ihl&0xf }

func (f Frame) ToS() ToS          { return ToS(f.buf[1]) }
func (f Frame) SetToS(t ToS)      { f.buf[1] = byte(t) }

func (f Frame) TotalLength() uint16      { return binary.BigEndian.Uint16(f.buf[2:4]) }
func (f Frame) SetTotalLength(tl uint16) { binary.BigEndian.PutUint16(f.buf[2:4], tl) }

func (f Frame) ID() uint16      { return binary.BigEndian.Uint16(f.buf[4:6]) }
func (f Frame) SetID(id uint16) { binary.BigEndian.PutUint16(f.buf[4:6], id) }

func (f Frame) Flags() Flags      { return Flags(binary.BigEndian.Uint16(f.buf[6:8])) }
func (f Frame) SetFlags(fl Flags) { binary.BigEndian.PutUint16(f.buf[6:8], uint16(fl)) }

func (f Frame) TTL() uint8      { return f.buf[8] }
func (f Frame) SetTTL(ttl uint8) { f.buf[8] = ttl }

func (f Frame) Protocol() Protocol      { return Protocol(f.buf[9]) }
func (f Frame) SetProtocol(p Protocol)  { f.buf[9] = byte(p) }

func (f Frame) Checksum() uint16      { return binary.BigEndian.Uint16(f.buf[10:12]) }
func (f Frame) SetChecksum(cs uint16) { binary.BigEndian.PutUint16(f.buf[10:12], cs) }

// SourceAddr returns a pointer to the 4-byte source address field.
func (f Frame) SourceAddr() *[4]byte { return (*[4]byte)(f.buf[12:16]) }

// DestinationAddr returns a pointer to the 4-byte destination address field.
func (f Frame) DestinationAddr() *[4]byte { return (*[4]byte)(f.buf[16:20]) }

// Source returns the source address as a netip.Addr.
func (f Frame) Source() netip.Addr { return netip.AddrFrom4(*f.SourceAddr()) }

// Destination returns the destination address as a netip.Addr.
func (f Frame) Destination() netip.Addr { return netip.AddrFrom4(*f.DestinationAddr()) }

// SetSource sets the source address field.
func (f Frame) SetSource(a netip.Addr) { *f.SourceAddr() = a.As4() }

// SetDestination sets the destination address field.
func (f Frame) SetDestination(a netip.Addr) { *f.DestinationAddr() = a.As4() }

// Options returns the variable-length options portion of the header.
func (f Frame) Options() []byte { return f.buf[sizeHeader:f.HeaderLength()] }

// Payload returns the packet payload, sized by TotalLength.
func (f Frame) Payload() []byte {
	off := f.HeaderLength()
	tl := int(f.TotalLength())
	if tl > len(f.buf) {
		tl = len(f.buf)
	}
	return f.buf[off:tl]
}

// ClearHeader zeros the fixed-size portion of the header.
func (f Frame) ClearHeader() {
	for i := range f.buf[:sizeHeader] {
		f.buf[i] = 0
	}
}

// CalculateHeaderChecksum computes the RFC 791 ones'-complement
// checksum over the header, per spec §4.1. The checksum field itself
// must be zero in the buffer when this is used to build one, or the
// result validates to zero when the field already holds a correct sum.
func (f Frame) CalculateHeaderChecksum() uint16 {
	var c crc791.CRC791
	hl := f.HeaderLength()
	c.Write(f.buf[0:hl])
	return c.Sum16()
}

// CRCWriteTCPPseudo writes the pseudo-header fields spec §4.6 TCP
// checksums need (source/destination address, zero byte, protocol,
// TCP segment length) into a running checksum.
func (f Frame) CRCWriteTCPPseudo(c *crc791.CRC791) {
	c.Write(f.SourceAddr()[:])
	c.Write(f.DestinationAddr()[:])
	segLen := f.TotalLength() - uint16(f.HeaderLength())
	c.AddUint16(uint16(f.Protocol()))
	c.AddUint16(segLen)
}

// ValidateSize checks the header and total-length invariants spec
// §4.1 requires: length ≥ 14+20 is the caller's job (it owns the
// Ethernet header), but here we check IHL ≥ 5, buffer holds a full
// header, header checksum is correct, and total_len is consistent
// with both the header and the actual buffer length.
func (f Frame) ValidateSize() error {
	if len(f.buf) < sizeHeader {
		return errShort
	}
	if f.version() != 4 {
		return errBadVersion
	}
	hl := f.HeaderLength()
	if hl < sizeHeader || hl > len(f.buf) {
		return errBadIHL
	}
	tl := f.TotalLength()
	if int(tl) < hl {
		return errBadTotalLen
	}
	if int(tl) != len(f.buf) {
		return errBadTotalLen
	}
	if f.CalculateHeaderChecksum() != 0 {
		return errBadChecksum
	}
	return nil
}
