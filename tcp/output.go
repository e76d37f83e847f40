package tcp

import (
	"net/netip"
	"sync/atomic"

	"github.com/virtnet/tapstack/ethernet"
	"github.com/virtnet/tapstack/ipv4"
	"github.com/virtnet/tapstack/metrics"
)

// minMSS is used when the egress device's MTU cannot be determined
// (e.g. before a route exists), falling back to the IPv4-mandated
// minimum reassembly buffer size less the IP/TCP header cost.
const minMSS = 576 - sizeHeader - sizeHeader

// Outputter hands a fully-built Ethernet+IP+TCP frame to the network
// layer for routing and transmission, mirroring icmp.Outputter: the
// frame's destination address is already set, and an unspecified
// source address asks the caller to fill in the egress device's
// address. MTU reports the egress device's MTU for a destination, so
// sendData can size segments to fit without fragmentation.
type Outputter interface {
	Output(frame []byte) error
	MTU(dst netip.Addr) (int, bool)
}

var ipID atomic.Uint32

func nextIPID() uint16 { return uint16(ipID.Add(1)) }

// segmentOut builds and transmits one TCP segment: seqNum/ackNum/flags
// are caller-supplied (reassembly/state-machine code owns sequence
// bookkeeping), payload is copied into the segment body. The buffer
// carries a placeholder Ethernet header since Outputter.Output routes
// through ipv4.Processor.Output, which expects one.
func (h *Handler) segmentOut(s *Sock, seqNum, ackNum seq, flags Flags, payload []byte) error {
	ipTotal := sizeHeader + sizeHeader + len(payload)
	buf := make([]byte, ethernet.HeaderLength+ipTotal)
	ef, err := ethernet.NewFrame(buf)
	if err != nil {
		return err
	}
	ef.SetEtherType(ethernet.TypeIPv4)

	ipf, err := ipv4.NewFrame(buf[ethernet.HeaderLength:])
	if err != nil {
		return err
	}
	ipf.ClearHeader()
	ipf.SetVersionAndIHL(4, 5)
	ipf.SetTotalLength(uint16(ipTotal))
	ipf.SetID(nextIPID())
	ipf.SetTTL(DefaultTTL)
	ipf.SetProtocol(ipv4.ProtoTCP)
	ipf.SetSource(s.tuple.LocalIP)
	ipf.SetDestination(s.tuple.RemoteIP)

	tf, err := NewFrame(ipf.Payload())
	if err != nil {
		return err
	}
	tf.ClearHeader()
	tf.SetSourcePort(s.tuple.LocalPort)
	tf.SetDestPort(s.tuple.RemotePort)
	tf.SetSeq(seqNum)
	tf.SetAck(ackNum)
	tf.SetOffsetAndFlags(sizeHeader/4, flags)
	tf.SetWindow(uint16(min32(s.rcvWnd, 0xffff)))
	copy(tf.Payload(), payload)
	tf.SetChecksum(0)
	tf.SetChecksum(tf.CalculateChecksum(ipf))

	ipf.SetChecksum(0)
	ipf.SetChecksum(ipf.CalculateHeaderChecksum())

	s.flags &^= flagAckNow | flagAckLater
	metrics.TCPSegmentsOut.Inc()
	return h.Out.Output(buf)
}

func min32(a, b uint32) uint32 {
	if a < b {
		return a
	}
	return b
}

// sendData drains as much of the send buffer as the peer's window
// allows, chunking into MSS-sized segments and setting PSH on the
// final chunk, per spec §4.7. Spec §9: the unsent tail is simply left
// buffered, not queued for retransmission.
func (h *Handler) sendData(s *Sock) error {
	mss := minMSS
	if mtu, ok := h.Out.MTU(s.tuple.RemoteIP); ok {
		if m := mtu - sizeHeader - sizeHeader; m > 0 {
			mss = m
		}
	}
	for {
		avail := s.sendBuf.Buffered()
		if avail == 0 {
			break
		}
		winLeft := int(s.sndWnd) - int(s.sndNxt-s.sndUna)
		if winLeft <= 0 {
			h.armPersist(s)
			break
		}
		n := avail
		if n > winLeft {
			n = winLeft
		}
		if n > mss {
			n = mss
		}
		chunk := make([]byte, n)
		m, err := s.sendBuf.Peek(chunk)
		if err != nil {
			return err
		}
		chunk = chunk[:m]
		flags := FlagACK
		if m == avail {
			flags |= FlagPSH
		}
		if err := h.segmentOut(s, s.sndNxt, s.rcvNxt, flags, chunk); err != nil {
			return err
		}
		s.sendBuf.Discard(m)
		s.sndNxt = s.sndNxt.add(uint32(m))
		if m < avail {
			continue
		}
		break
	}
	return nil
}
