package arpcache

import (
	"encoding/binary"
	"net/netip"

	"github.com/virtnet/tapstack/ethernet"
)

// Frame is a zero-copy view over a fixed-size (hwlen=6, protolen=4)
// IPv4-over-Ethernet ARP packet, per spec §4.2 and RFC 826.
type Frame struct {
	buf []byte
}

// NewFrame wraps buf as an ARP frame. buf must be at least 28 bytes.
func NewFrame(buf []byte) (Frame, error) {
	if len(buf) < sizeHeader {
		return Frame{}, errShort
	}
	return Frame{buf: buf}, nil
}

// RawData returns the underlying buffer.
func (f Frame) RawData() []byte { return f.buf }

func (f Frame) HardwareType() uint16 { return binary.BigEndian.Uint16(f.buf[0:2]) }
func (f Frame) ProtocolType() ethernet.Type {
	return ethernet.Type(binary.BigEndian.Uint16(f.buf[2:4]))
}
func (f Frame) HardwareLen() uint8 { return f.buf[4] }
func (f Frame) ProtocolLen() uint8 { return f.buf[5] }
func (f Frame) Operation() Operation {
	return Operation(binary.BigEndian.Uint16(f.buf[6:8]))
}

func (f Frame) SetOperation(op Operation) { binary.BigEndian.PutUint16(f.buf[6:8], uint16(op)) }

// SetHeader sets the fixed fields common to every IPv4-over-Ethernet
// ARP packet this cache emits.
func (f Frame) SetHeader(op Operation) {
	binary.BigEndian.PutUint16(f.buf[0:2], hardwareEthernet)
	binary.BigEndian.PutUint16(f.buf[2:4], uint16(ethernet.TypeIPv4))
	f.buf[4] = 6
	f.buf[5] = 4
	f.SetOperation(op)
}

// SenderHW returns the sender hardware address field.
func (f Frame) SenderHW() *ethernet.Addr { return (*ethernet.Addr)(f.buf[8:14]) }

// SenderProto returns the sender protocol (IPv4) address field.
func (f Frame) SenderProto() *[4]byte { return (*[4]byte)(f.buf[14:18]) }

// TargetHW returns the target hardware address field.
func (f Frame) TargetHW() *ethernet.Addr { return (*ethernet.Addr)(f.buf[18:24]) }

// TargetProto returns the target protocol (IPv4) address field.
func (f Frame) TargetProto() *[4]byte { return (*[4]byte)(f.buf[24:28]) }

// SenderIP returns the sender protocol address as a netip.Addr.
func (f Frame) SenderIP() netip.Addr { return netip.AddrFrom4(*f.SenderProto()) }

// TargetIP returns the target protocol address as a netip.Addr.
func (f Frame) TargetIP() netip.Addr { return netip.AddrFrom4(*f.TargetProto()) }

// ValidateSize checks the frame matches the fixed (Ethernet, IPv4)
// shape this cache understands.
func (f Frame) ValidateSize() error {
	if len(f.buf) < sizeHeader {
		return errShort
	}
	if f.HardwareType() != hardwareEthernet || f.HardwareLen() != 6 {
		return errBadHardware
	}
	if f.ProtocolType() != ethernet.TypeIPv4 || f.ProtocolLen() != 4 {
		return errBadProtocol
	}
	if op := f.Operation(); op != OpRequest && op != OpReply {
		return errBadOp
	}
	return nil
}
