package tcp

import (
	"encoding/binary"

	"github.com/virtnet/tapstack/internal/crc791"
	"github.com/virtnet/tapstack/ipv4"
)

// Frame is a zero-copy view over one TCP segment's wire bytes,
// grounded on the teacher's tcp.Frame.
type Frame struct {
	buf []byte
}

// NewFrame wraps buf as a TCP frame view. buf must hold at least a
// full fixed header (20 bytes).
func NewFrame(buf []byte) (Frame, error) {
	if len(buf) < sizeHeader {
		return Frame{}, errShort
	}
	return Frame{buf: buf}, nil
}

func (f Frame) RawData() []byte { return f.buf }

func (f Frame) SourcePort() uint16      { return binary.BigEndian.Uint16(f.buf[0:2]) }
func (f Frame) SetSourcePort(p uint16)  { binary.BigEndian.PutUint16(f.buf[0:2], p) }
func (f Frame) DestPort() uint16        { return binary.BigEndian.Uint16(f.buf[2:4]) }
func (f Frame) SetDestPort(p uint16)    { binary.BigEndian.PutUint16(f.buf[2:4], p) }

func (f Frame) Seq() seq     { return seq(binary.BigEndian.Uint32(f.buf[4:8])) }
func (f Frame) SetSeq(v seq) { binary.BigEndian.PutUint32(f.buf[4:8], uint32(v)) }

func (f Frame) Ack() seq     { return seq(binary.BigEndian.Uint32(f.buf[8:12])) }
func (f Frame) SetAck(v seq) { binary.BigEndian.PutUint32(f.buf[8:12], uint32(v)) }

// DataOffset returns the header length in bytes (including options).
func (f Frame) DataOffset() int {
	return 4 * int(f.buf[12]>>4)
}

func (f Frame) Flags() Flags { return Flags(f.buf[13]) }

// SetOffsetAndFlags packs data-offset (in 32-bit words) and the
// control bit octet into their combined field.
func (f Frame) SetOffsetAndFlags(offsetWords uint8, flags Flags) {
	f.buf[12] = offsetWords << 4
	f.buf[13] = byte(flags)
}

func (f Frame) Window() uint16     { return binary.BigEndian.Uint16(f.buf[14:16]) }
func (f Frame) SetWindow(w uint16) { binary.BigEndian.PutUint16(f.buf[14:16], w) }

func (f Frame) Checksum() uint16      { return binary.BigEndian.Uint16(f.buf[16:18]) }
func (f Frame) SetChecksum(cs uint16) { binary.BigEndian.PutUint16(f.buf[16:18], cs) }

func (f Frame) UrgentPointer() uint16  { return binary.BigEndian.Uint16(f.buf[18:20]) }
func (f Frame) SetUrgentPointer(u uint16) {
	binary.BigEndian.PutUint16(f.buf[18:20], u)
}

// Options returns the option bytes between the fixed header and the
// payload. This module does not interpret TCP options.
func (f Frame) Options() []byte { return f.buf[sizeHeader:f.DataOffset()] }

// Payload returns the segment data following the header.
func (f Frame) Payload() []byte { return f.buf[f.DataOffset():] }

// ClearHeader zeroes the fixed header, leaving options/payload untouched.
func (f Frame) ClearHeader() {
	for i := range f.buf[:sizeHeader] {
		f.buf[i] = 0
	}
}

// CalculateChecksum computes the TCP checksum over ipf's pseudo-header
// plus this segment, per spec §4.5. The checksum field is treated as
// zero (its current value is restored afterwards); the returned value
// is what callers should store there.
func (f Frame) CalculateChecksum(ipf ipv4.Frame) uint16 {
	var c crc791.CRC791
	ipf.CRCWriteTCPPseudo(&c)
	saved := f.Checksum()
	f.SetChecksum(0)
	c.Write(f.buf)
	f.SetChecksum(saved)
	return c.Sum16()
}

// ValidateSize checks that the buffer holds a full header and that the
// checksum, verified against ipf's pseudo-header, is correct.
func (f Frame) ValidateSize(ipf ipv4.Frame) error {
	if len(f.buf) < sizeHeader {
		return errShort
	}
	off := f.DataOffset()
	if off < sizeHeader || off > len(f.buf) {
		return errShort
	}
	var c crc791.CRC791
	ipf.CRCWriteTCPPseudo(&c)
	c.Write(f.buf)
	if c.Sum16() != 0 {
		return errBadChecksum
	}
	return nil
}
