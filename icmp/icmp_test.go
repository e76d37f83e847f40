package icmp

import (
	"net/netip"
	"testing"

	"github.com/virtnet/tapstack/ipv4"
)

const ethHdrLen = 14

type captureOutputter struct {
	sent []byte
}

func (c *captureOutputter) Output(frame []byte) error {
	c.sent = append([]byte(nil), frame...)
	return nil
}

func buildEchoRequest(t *testing.T, src, dst netip.Addr, data []byte) []byte {
	t.Helper()
	buf := make([]byte, ethHdrLen+20+8+len(data))
	ipf, err := ipv4.NewFrame(buf[ethHdrLen:])
	if err != nil {
		t.Fatal(err)
	}
	ipf.SetVersionAndIHL(4, 5)
	ipf.SetTotalLength(uint16(20 + 8 + len(data)))
	ipf.SetTTL(64)
	ipf.SetProtocol(ipv4.ProtoICMP)
	ipf.SetSource(src)
	ipf.SetDestination(dst)
	ipf.SetChecksum(0)
	ipf.SetChecksum(ipf.CalculateHeaderChecksum())

	icf, err := NewFrame(ipf.Payload())
	if err != nil {
		t.Fatal(err)
	}
	icf.SetType(TypeEcho)
	icf.SetCode(0)
	copy(icf.Data(), data)
	icf.SetChecksum(0)
	icf.SetChecksum(icf.CalculateChecksum())
	return buf
}

func TestHandleEchoRequestBuildsReply(t *testing.T) {
	src := netip.MustParseAddr("10.0.0.2")
	dst := netip.MustParseAddr("10.0.0.1")
	frame := buildEchoRequest(t, src, dst, []byte("ping"))

	out := &captureOutputter{}
	h := NewHandler(out, nil)
	if err := h.Handle(ethHdrLen, frame); err != nil {
		t.Fatal(err)
	}
	if out.sent == nil {
		t.Fatal("expected reply to be sent")
	}

	ipf, err := ipv4.NewFrame(out.sent[ethHdrLen:])
	if err != nil {
		t.Fatal(err)
	}
	if err := ipf.ValidateSize(); err != nil {
		t.Fatalf("reply ip header invalid: %v", err)
	}
	if ipf.Source() != dst || ipf.Destination() != src {
		t.Fatalf("expected swapped addresses, got src=%v dst=%v", ipf.Source(), ipf.Destination())
	}

	icf, err := NewFrame(ipf.Payload())
	if err != nil {
		t.Fatal(err)
	}
	if err := icf.ValidateSize(); err != nil {
		t.Fatalf("reply icmp invalid: %v", err)
	}
	if icf.Type() != TypeEchoReply {
		t.Fatalf("expected echo reply, got %v", icf.Type())
	}
	if string(icf.Data()) != "ping" {
		t.Fatalf("expected echoed data preserved, got %q", icf.Data())
	}
}

func TestHandleEchoReplyNotForwarded(t *testing.T) {
	src := netip.MustParseAddr("10.0.0.2")
	dst := netip.MustParseAddr("10.0.0.1")
	frame := buildEchoRequest(t, src, dst, nil)
	ipf, _ := ipv4.NewFrame(frame[ethHdrLen:])
	icf, _ := NewFrame(ipf.Payload())
	icf.SetType(TypeEchoReply)
	icf.SetChecksum(0)
	icf.SetChecksum(icf.CalculateChecksum())

	out := &captureOutputter{}
	h := NewHandler(out, nil)
	if err := h.Handle(ethHdrLen, frame); err != nil {
		t.Fatal(err)
	}
	if out.sent != nil {
		t.Fatal("echo reply should not be re-sent")
	}
}
