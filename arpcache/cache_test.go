package arpcache

import (
	"net/netip"
	"testing"

	"github.com/virtnet/tapstack/ethernet"
)

type fakeSender struct {
	mac  map[string]ethernet.Addr
	ip   map[string]netip.Addr
	sent []sentFrame
}

type sentFrame struct {
	device string
	frame  []byte
}

func newFakeSender() *fakeSender {
	return &fakeSender{mac: map[string]ethernet.Addr{}, ip: map[string]netip.Addr{}}
}

func (f *fakeSender) DeviceMAC(device string) (ethernet.Addr, bool) { m, ok := f.mac[device]; return m, ok }
func (f *fakeSender) DeviceIP(device string) (netip.Addr, bool)     { a, ok := f.ip[device]; return a, ok }
func (f *fakeSender) Send(device string, frame []byte) error {
	cp := make([]byte, len(frame))
	copy(cp, frame)
	f.sent = append(f.sent, sentFrame{device, cp})
	return nil
}

func mustAddr(s string) netip.Addr {
	a, err := netip.ParseAddr(s)
	if err != nil {
		panic(err)
	}
	return a
}

func TestResolveMissSendsRequestAndQueues(t *testing.T) {
	sender := newFakeSender()
	sender.mac["eth0"] = ethernet.Addr{0, 1, 2, 3, 4, 5}
	sender.ip["eth0"] = mustAddr("10.0.0.1")
	c, err := NewCache(Config{Sender: sender})
	if err != nil {
		t.Fatal(err)
	}

	pkt := make([]byte, 34)
	if err := c.Resolve("eth0", mustAddr("10.0.0.2"), pkt); err != nil {
		t.Fatal(err)
	}
	if len(sender.sent) != 1 {
		t.Fatalf("expected 1 ARP request sent, got %d", len(sender.sent))
	}
	af, err := NewFrame(sender.sent[0].frame[ethernet.HeaderLength:])
	if err != nil {
		t.Fatal(err)
	}
	if af.Operation() != OpRequest {
		t.Fatalf("expected request, got %v", af.Operation())
	}
	if _, ok := c.Lookup(mustAddr("10.0.0.2")); ok {
		t.Fatal("should not be resolved yet")
	}
}

func TestReceiveRequestInsertsAndReplies(t *testing.T) {
	sender := newFakeSender()
	sender.mac["eth0"] = ethernet.Addr{0, 1, 2, 3, 4, 5}
	sender.ip["eth0"] = mustAddr("10.0.0.1")
	c, _ := NewCache(Config{Sender: sender})

	peerMAC := ethernet.Addr{9, 9, 9, 9, 9, 9}
	peerIP := mustAddr("10.0.0.2")

	buf := make([]byte, sizeHeader)
	af, _ := NewFrame(buf)
	af.SetHeader(OpRequest)
	*af.SenderHW() = peerMAC
	*af.SenderProto() = peerIP.As4()
	*af.TargetProto() = mustAddr("10.0.0.1").As4()

	if err := c.Receive("eth0", ethernet.ClassBroadcast, peerMAC, buf); err != nil {
		t.Fatal(err)
	}
	mac, ok := c.Lookup(peerIP)
	if !ok || mac != peerMAC {
		t.Fatalf("expected resolved entry for peer, got %v %v", mac, ok)
	}
	if len(sender.sent) != 1 {
		t.Fatalf("expected 1 reply sent, got %d", len(sender.sent))
	}
	rf, _ := NewFrame(sender.sent[0].frame[ethernet.HeaderLength:])
	if rf.Operation() != OpReply {
		t.Fatalf("expected reply, got %v", rf.Operation())
	}
}

func TestReceiveFlushesPending(t *testing.T) {
	sender := newFakeSender()
	sender.mac["eth0"] = ethernet.Addr{0, 1, 2, 3, 4, 5}
	sender.ip["eth0"] = mustAddr("10.0.0.1")
	c, _ := NewCache(Config{Sender: sender})

	target := mustAddr("10.0.0.2")
	pending := make([]byte, 34)
	if err := c.Resolve("eth0", target, pending); err != nil {
		t.Fatal(err)
	}
	sender.sent = nil // clear the request

	peerMAC := ethernet.Addr{9, 9, 9, 9, 9, 9}
	buf := make([]byte, sizeHeader)
	af, _ := NewFrame(buf)
	af.SetHeader(OpReply)
	*af.SenderHW() = peerMAC
	*af.SenderProto() = target.As4()
	*af.TargetProto() = mustAddr("10.0.0.1").As4()
	*af.TargetHW() = sender.mac["eth0"]

	if err := c.Receive("eth0", ethernet.ClassLocalhost, peerMAC, buf); err != nil {
		t.Fatal(err)
	}
	if len(sender.sent) != 1 {
		t.Fatalf("expected flushed pending packet sent, got %d", len(sender.sent))
	}
	ef, _ := ethernet.NewFrame(sender.sent[0].frame)
	if *ef.Destination() != peerMAC {
		t.Fatalf("expected flushed frame addressed to peer, got %v", ef.Destination())
	}
}

func TestTickExpiresWaitingAfterRetries(t *testing.T) {
	sender := newFakeSender()
	sender.mac["eth0"] = ethernet.Addr{0, 1, 2, 3, 4, 5}
	sender.ip["eth0"] = mustAddr("10.0.0.1")
	c, _ := NewCache(Config{Sender: sender, MaxRetry: 1, MaxTTL: 60})

	target := mustAddr("10.0.0.2")
	_ = c.Resolve("eth0", target, make([]byte, 34))

	c.Tick() // retryCount 1 -> 0, resend
	if _, ok := c.Lookup(target); ok {
		t.Fatal("still should not be resolved")
	}
	c.Tick() // retryCount <= 0, dropped
	c.mu.Lock()
	n := len(c.entries)
	c.mu.Unlock()
	if n != 0 {
		t.Fatalf("expected entry to be dropped, got %d entries", n)
	}
}
