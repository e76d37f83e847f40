package tcp

import "net/netip"

// incoming is one received TCP segment together with the precomputed
// values spec §4.5 requires of every segment entering the state
// machine.
type incoming struct {
	srcIP, dstIP netip.Addr
	srcPort      uint16
	dstPort      uint16

	seqn  seq
	ackn  seq
	dlen  uint32 // payload length
	flags Flags
	wnd   uint16

	data []byte // segment payload, aliases the frame buffer
}

// length is SEG.LEN of RFC 793: payload length plus one for each of
// SYN and FIN, since both occupy a slot in sequence space.
func (in incoming) length() uint32 {
	n := in.dlen
	if in.flags.Has(FlagSYN) {
		n++
	}
	if in.flags.Has(FlagFIN) {
		n++
	}
	return n
}

// last returns the sequence number of the final octet this segment
// occupies, or seqn itself for a zero-length, non-SYN/FIN segment.
func (in incoming) last() seq {
	n := in.length()
	if n == 0 {
		return in.seqn
	}
	return in.seqn.add(n - 1)
}

func newIncoming(ipf frameIP, tf Frame) incoming {
	data := tf.Payload()
	return incoming{
		srcIP:   ipf.Source(),
		dstIP:   ipf.Destination(),
		srcPort: tf.SourcePort(),
		dstPort: tf.DestPort(),
		seqn:    tf.Seq(),
		ackn:    tf.Ack(),
		dlen:    uint32(len(data)),
		flags:   tf.Flags(),
		wnd:     tf.Window(),
		data:    data,
	}
}

// frameIP is the subset of ipv4.Frame the TCP package needs, kept as
// a local interface so this package does not need to know ipv4.Frame
// is a concrete struct (it is, but narrowing avoids incidental coupling).
type frameIP interface {
	Source() netip.Addr
	Destination() netip.Addr
}
