package tcp

import (
	"net/netip"
	"testing"

	"github.com/virtnet/tapstack/ethernet"
	"github.com/virtnet/tapstack/ipv4"
)

type captureOut struct {
	frames [][]byte
}

func (c *captureOut) Output(frame []byte) error {
	cp := make([]byte, len(frame))
	copy(cp, frame)
	c.frames = append(c.frames, cp)
	return nil
}

// MTU reports no route, so tests exercise the fallback MSS path.
func (c *captureOut) MTU(dst netip.Addr) (int, bool) { return 0, false }

// last returns the most recently captured segment's IP and TCP views.
// segmentOut always prefixes an Ethernet header, per Outputter's contract.
func (c *captureOut) last() (ipv4.Frame, Frame) {
	buf := c.frames[len(c.frames)-1]
	ipf, _ := ipv4.NewFrame(buf[ethernet.HeaderLength:])
	tf, _ := NewFrame(ipf.Payload())
	return ipf, tf
}

var (
	serverIP = netip.MustParseAddr("10.0.0.1")
	clientIP = netip.MustParseAddr("10.0.0.2")
)

// buildSegment constructs a full IP+TCP frame addressed dst<-src with a
// correct checksum, mirroring the wire layout segmentOut produces.
func buildSegment(t *testing.T, src, dst netip.Addr, srcPort, dstPort uint16, seqn, ackn seq, flags Flags, payload []byte) ipv4.Frame {
	t.Helper()
	total := sizeHeader + sizeHeader + len(payload)
	buf := make([]byte, total)
	ipf, err := ipv4.NewFrame(buf)
	if err != nil {
		t.Fatal(err)
	}
	ipf.SetVersionAndIHL(4, 5)
	ipf.SetTotalLength(uint16(total))
	ipf.SetTTL(64)
	ipf.SetProtocol(ipv4.ProtoTCP)
	ipf.SetSource(src)
	ipf.SetDestination(dst)
	ipf.SetChecksum(ipf.CalculateHeaderChecksum())

	tf, err := NewFrame(ipf.Payload())
	if err != nil {
		t.Fatal(err)
	}
	tf.SetSourcePort(srcPort)
	tf.SetDestPort(dstPort)
	tf.SetSeq(seqn)
	tf.SetAck(ackn)
	tf.SetOffsetAndFlags(5, flags)
	tf.SetWindow(4096)
	copy(tf.Payload(), payload)
	tf.SetChecksum(0)
	tf.SetChecksum(tf.CalculateChecksum(ipf))
	return ipf
}

func TestListenSynCreatesChildAndSendsSynAck(t *testing.T) {
	out := &captureOut{}
	h := NewHandler(NewTable(), out, nil, nil, nil)
	listener, err := h.Listen(serverIP, 80, 8)
	if err != nil {
		t.Fatal(err)
	}

	seg := buildSegment(t, clientIP, serverIP, 50000, 80, 1000, 0, FlagSYN, nil)
	if err := h.Handle(seg); err != nil {
		t.Fatal(err)
	}

	if len(listener.listenList) != 1 {
		t.Fatalf("expected 1 pending connection, got %d", len(listener.listenList))
	}
	child := listener.listenList[0]
	if child.state != StateSynRcvd {
		t.Fatalf("expected SYN_RECV, got %v", child.state)
	}

	_, tf := out.last()
	if !tf.Flags().Has(FlagSYN | FlagACK) {
		t.Fatalf("expected SYN|ACK reply, got %v", tf.Flags())
	}
	if tf.Ack() != seq(1001) {
		t.Fatalf("expected ack 1001, got %d", tf.Ack())
	}
}

func establishedPair(t *testing.T) (h *Handler, out *captureOut, listener, child *Sock) {
	t.Helper()
	out = &captureOut{}
	h = NewHandler(NewTable(), out, nil, nil, nil)
	listener, err := h.Listen(serverIP, 80, 8)
	if err != nil {
		t.Fatal(err)
	}
	syn := buildSegment(t, clientIP, serverIP, 50000, 80, 1000, 0, FlagSYN, nil)
	if err := h.Handle(syn); err != nil {
		t.Fatal(err)
	}
	child = listener.listenList[0]

	ack := buildSegment(t, clientIP, serverIP, 50000, 80, 1001, child.iss+1, FlagACK, nil)
	if err := h.Handle(ack); err != nil {
		t.Fatal(err)
	}
	return h, out, listener, child
}

func TestHandshakeCompletesAndAccepts(t *testing.T) {
	h, _, listener, child := establishedPair(t)
	if child.state != StateEstablished {
		t.Fatalf("expected ESTABLISHED, got %v", child.state)
	}
	if len(listener.acceptList) != 1 {
		t.Fatalf("expected 1 accepted connection, got %d", len(listener.acceptList))
	}
	accepted, err := h.Accept(listener)
	if err != nil {
		t.Fatal(err)
	}
	if accepted != child {
		t.Fatal("accept returned wrong socket")
	}
}

func TestDataDeliveryInOrder(t *testing.T) {
	h, _, _, child := establishedPair(t)

	data := buildSegment(t, clientIP, serverIP, 50000, 80, 1001, child.iss+1, FlagACK|FlagPSH, []byte("hello"))
	if err := h.Handle(data); err != nil {
		t.Fatal(err)
	}

	buf := make([]byte, 16)
	data, err := child.Read(buf)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "hello" {
		t.Fatalf("expected %q, got %q", "hello", data)
	}
}

func TestOutOfOrderReassembly(t *testing.T) {
	h, _, _, child := establishedPair(t)

	// Second half of "hello world" arrives first (seq 1006, "world").
	second := buildSegment(t, clientIP, serverIP, 50000, 80, 1006, child.iss+1, FlagACK, []byte("world"))
	if err := h.Handle(second); err != nil {
		t.Fatal(err)
	}
	if child.recvBuf.Buffered() != 0 {
		t.Fatalf("expected nothing delivered yet, got %d bytes", child.recvBuf.Buffered())
	}

	first := buildSegment(t, clientIP, serverIP, 50000, 80, 1001, child.iss+1, FlagACK, []byte("hello"))
	if err := h.Handle(first); err != nil {
		t.Fatal(err)
	}

	buf := make([]byte, 16)
	data, err := child.Read(buf)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "helloworld" {
		t.Fatalf("expected reassembled %q, got %q", "helloworld", data)
	}
}

func TestActiveCloseSequence(t *testing.T) {
	h, out, _, child := establishedPair(t)

	if err := h.Close(child); err != nil {
		t.Fatal(err)
	}
	if child.state != StateFinWait1 {
		t.Fatalf("expected FIN_WAIT_1, got %v", child.state)
	}
	_, tf := out.last()
	if !tf.Flags().Has(FlagFIN) {
		t.Fatalf("expected FIN in close segment, got %v", tf.Flags())
	}

	finAckSeq := child.sndNxt // already advanced past the FIN by Close()
	peerAck := buildSegment(t, clientIP, serverIP, 50000, 80, 1001, finAckSeq, FlagACK, nil)
	if err := h.Handle(peerAck); err != nil {
		t.Fatal(err)
	}
	if child.state != StateFinWait2 {
		t.Fatalf("expected FIN_WAIT_2, got %v", child.state)
	}

	peerFin := buildSegment(t, clientIP, serverIP, 50000, 80, 1001, finAckSeq, FlagFIN|FlagACK, nil)
	if err := h.Handle(peerFin); err != nil {
		t.Fatal(err)
	}
	if child.state != StateTimeWait {
		t.Fatalf("expected TIME_WAIT, got %v", child.state)
	}
}

func TestResetFromListenerAckIsRejected(t *testing.T) {
	out := &captureOut{}
	h := NewHandler(NewTable(), out, nil, nil, nil)
	if _, err := h.Listen(serverIP, 80, 8); err != nil {
		t.Fatal(err)
	}
	ack := buildSegment(t, clientIP, serverIP, 50000, 80, 1000, 500, FlagACK, nil)
	if err := h.Handle(ack); err != nil {
		t.Fatal(err)
	}
	_, tf := out.last()
	if !tf.Flags().Has(FlagRST) {
		t.Fatalf("expected RST in response to bare ACK at LISTEN, got %v", tf.Flags())
	}
}

func TestZeroISSIsDeterministic(t *testing.T) {
	var g ZeroISS
	if g.ISS(serverIP, 80, clientIP, 1234) != 0 {
		t.Fatal("expected ZeroISS to always return 0")
	}
}

func TestSecureISSVariesByTuple(t *testing.T) {
	g := NewSecureISS([]byte("test-key"))
	a := g.ISS(serverIP, 80, clientIP, 1234)
	b := g.ISS(serverIP, 80, clientIP, 4321)
	if a == b {
		t.Fatal("expected distinct ISS for distinct remote ports")
	}
}
