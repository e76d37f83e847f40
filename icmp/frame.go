package icmp

import (
	"encoding/binary"

	"github.com/virtnet/tapstack/internal/crc791"
)

// Frame is a zero-copy view over an ICMP message.
type Frame struct {
	buf []byte
}

// NewFrame wraps buf as an ICMP frame. buf must be at least 8 bytes.
func NewFrame(buf []byte) (Frame, error) {
	if len(buf) < sizeHeader {
		return Frame{}, errShort
	}
	return Frame{buf: buf}, nil
}

// RawData returns the underlying buffer.
func (f Frame) RawData() []byte { return f.buf }

func (f Frame) Type() Type     { return Type(f.buf[0]) }
func (f Frame) SetType(t Type) { f.buf[0] = byte(t) }

func (f Frame) Code() uint8      { return f.buf[1] }
func (f Frame) SetCode(c uint8)  { f.buf[1] = c }

func (f Frame) Checksum() uint16      { return binary.BigEndian.Uint16(f.buf[2:4]) }
func (f Frame) SetChecksum(cs uint16) { binary.BigEndian.PutUint16(f.buf[2:4], cs) }

// Identifier returns the echo identifier field (bytes 4:6).
func (f Frame) Identifier() uint16 { return binary.BigEndian.Uint16(f.buf[4:6]) }

// SequenceNumber returns the echo sequence number field (bytes 6:8).
func (f Frame) SequenceNumber() uint16 { return binary.BigEndian.Uint16(f.buf[6:8]) }

// Data returns the echo payload following the 8-byte header.
func (f Frame) Data() []byte { return f.buf[8:] }

// CalculateChecksum computes the checksum to store in the checksum
// field, treating that field itself as zero, per RFC 792.
func (f Frame) CalculateChecksum() uint16 {
	var c crc791.CRC791
	c.AddUint16(binary.BigEndian.Uint16(f.buf[0:2]))
	c.Write(f.buf[4:])
	return c.Sum16()
}

// verifySum sums the ICMP region as transmitted, checksum field
// included; a correctly-checksummed message sums to zero.
func (f Frame) verifySum() uint16 {
	var c crc791.CRC791
	c.Write(f.buf)
	return c.Sum16()
}

// ValidateSize checks the frame is long enough and its checksum is
// correct, per spec §4.4.
func (f Frame) ValidateSize() error {
	if len(f.buf) < sizeHeader {
		return errShort
	}
	if f.verifySum() != 0 {
		return errBadChecksum
	}
	return nil
}
