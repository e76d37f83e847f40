package ipv4

import (
	"net/netip"
	"testing"

	"github.com/virtnet/tapstack/ethernet"
	"github.com/virtnet/tapstack/route"
)

type fakeDevices struct {
	mac      map[string]ethernet.Addr
	ip       map[string]netip.Addr
	mtu      map[string]int
	loopback map[string]bool
	sent     []sentFrame
}

type sentFrame struct {
	device string
	frame  []byte
}

func newFakeDevices() *fakeDevices {
	return &fakeDevices{
		mac:      map[string]ethernet.Addr{},
		ip:       map[string]netip.Addr{},
		mtu:      map[string]int{},
		loopback: map[string]bool{},
	}
}

func (d *fakeDevices) MAC(device string) (ethernet.Addr, bool) { m, ok := d.mac[device]; return m, ok }
func (d *fakeDevices) IP(device string) (netip.Addr, bool)     { a, ok := d.ip[device]; return a, ok }
func (d *fakeDevices) MTU(device string) (int, bool)           { m, ok := d.mtu[device]; return m, ok }
func (d *fakeDevices) IsLoopback(device string) bool           { return d.loopback[device] }
func (d *fakeDevices) Send(device string, frame []byte) error {
	cp := make([]byte, len(frame))
	copy(cp, frame)
	d.sent = append(d.sent, sentFrame{device, cp})
	return nil
}

type fakeNeighbors struct {
	resolved map[netip.Addr]ethernet.Addr
	resolves []netip.Addr
}

func (n *fakeNeighbors) Lookup(ip netip.Addr) (ethernet.Addr, bool) { m, ok := n.resolved[ip]; return m, ok }
func (n *fakeNeighbors) Resolve(device string, ip netip.Addr, frame []byte) error {
	n.resolves = append(n.resolves, ip)
	return nil
}

type fakeReassembler struct{}

func (fakeReassembler) Insert(ethHdrLen int, frame []byte) ([]byte, error) { return nil, nil }

type fakeDeliverer struct {
	icmpCalls, tcpCalls int
}

func (d *fakeDeliverer) DeliverICMP(ethHdrLen int, frame []byte) error { d.icmpCalls++; return nil }
func (d *fakeDeliverer) DeliverTCP(ethHdrLen int, frame []byte) error  { d.tcpCalls++; return nil }

func buildIPFrame(t *testing.T, src, dst netip.Addr, ttl uint8, proto Protocol, dataLen int) []byte {
	t.Helper()
	buf := make([]byte, ethernet.HeaderLength+sizeHeader+dataLen)
	ipf, err := NewFrame(buf[ethernet.HeaderLength:])
	if err != nil {
		t.Fatal(err)
	}
	ipf.SetVersionAndIHL(4, 5)
	ipf.SetTotalLength(uint16(sizeHeader + dataLen))
	ipf.SetTTL(ttl)
	ipf.SetProtocol(proto)
	ipf.SetSource(src)
	ipf.SetDestination(dst)
	ipf.SetChecksum(0)
	ipf.SetChecksum(ipf.CalculateHeaderChecksum())
	return buf
}

func TestInputDeliversLocalICMP(t *testing.T) {
	devices := newFakeDevices()
	tbl := route.NewTable()
	dst := netip.MustParseAddr("10.0.0.1")
	tbl.Add(route.Entry{Network: netip.PrefixFrom(dst, 32), Flags: route.FlagLocalhost, Device: "lo"})

	deliver := &fakeDeliverer{}
	p := NewProcessor(tbl, &fakeNeighbors{resolved: map[netip.Addr]ethernet.Addr{}}, fakeReassembler{}, deliver, devices, nil)

	frame := buildIPFrame(t, netip.MustParseAddr("10.0.0.2"), dst, 64, ProtoICMP, 0)
	if err := p.Input("eth0", ethernet.ClassLocalhost, frame); err != nil {
		t.Fatal(err)
	}
	if deliver.icmpCalls != 1 {
		t.Fatalf("expected 1 ICMP delivery, got %d", deliver.icmpCalls)
	}
}

func TestForwardDecrementsTTLAndResolvesNextHop(t *testing.T) {
	devices := newFakeDevices()
	devices.mac["eth1"] = ethernet.Addr{1, 2, 3, 4, 5, 6}
	devices.mtu["eth1"] = 1500

	tbl := route.NewTable()
	dst := netip.MustParseAddr("192.168.1.1")
	tbl.Add(route.Entry{Network: netip.MustParsePrefix("192.168.1.0/24"), Flags: route.FlagNone, Device: "eth1"})

	neighbors := &fakeNeighbors{resolved: map[netip.Addr]ethernet.Addr{}}
	p := NewProcessor(tbl, neighbors, fakeReassembler{}, &fakeDeliverer{}, devices, nil)

	frame := buildIPFrame(t, netip.MustParseAddr("10.0.0.2"), dst, 64, ProtoTCP, 0)
	if err := p.Input("eth0", ethernet.ClassOtherhost, frame); err != nil {
		t.Fatal(err)
	}
	// OTHERHOST frames are dropped per spec §4.1, so nothing should resolve.
	if len(neighbors.resolves) != 0 {
		t.Fatalf("otherhost frame should have been dropped, got %d resolves", len(neighbors.resolves))
	}

	if err := p.Input("eth0", ethernet.ClassLocalhost, frame); err != nil {
		t.Fatal(err)
	}
	if len(neighbors.resolves) != 1 || neighbors.resolves[0] != dst {
		t.Fatalf("expected ARP resolve for %v, got %v", dst, neighbors.resolves)
	}
}

func TestForwardDropsTTLExpired(t *testing.T) {
	devices := newFakeDevices()
	devices.mtu["eth1"] = 1500
	tbl := route.NewTable()
	dst := netip.MustParseAddr("192.168.1.1")
	tbl.Add(route.Entry{Network: netip.MustParsePrefix("192.168.1.0/24"), Device: "eth1"})
	neighbors := &fakeNeighbors{resolved: map[netip.Addr]ethernet.Addr{}}
	p := NewProcessor(tbl, neighbors, fakeReassembler{}, &fakeDeliverer{}, devices, nil)

	frame := buildIPFrame(t, netip.MustParseAddr("10.0.0.2"), dst, 1, ProtoTCP, 0)
	if err := p.Input("eth0", ethernet.ClassLocalhost, frame); err != nil {
		t.Fatal(err)
	}
	if len(neighbors.resolves) != 0 {
		t.Fatal("expected ttl-expired packet to be dropped, not forwarded")
	}
}

func TestFragmentAndSendSplitsOnMTU(t *testing.T) {
	devices := newFakeDevices()
	devices.mac["eth1"] = ethernet.Addr{1, 2, 3, 4, 5, 6}
	devices.mtu["eth1"] = 28 // header(20) + 8 bytes data budget per fragment
	tbl := route.NewTable()
	dst := netip.MustParseAddr("192.168.1.1")
	tbl.Add(route.Entry{Network: netip.MustParsePrefix("192.168.1.0/24"), Device: "eth1"})

	neighbors := &fakeNeighbors{resolved: map[netip.Addr]ethernet.Addr{dst: {9, 9, 9, 9, 9, 9}}}
	p := NewProcessor(tbl, neighbors, fakeReassembler{}, &fakeDeliverer{}, devices, nil)

	frame := buildIPFrame(t, netip.MustParseAddr("10.0.0.2"), dst, 64, ProtoTCP, 20)
	if err := p.Input("eth0", ethernet.ClassLocalhost, frame); err != nil {
		t.Fatal(err)
	}
	if len(devices.sent) != 3 {
		t.Fatalf("expected 3 fragments (8+8+4 bytes), got %d", len(devices.sent))
	}
	for i, s := range devices.sent {
		ipf, err := NewFrame(s.frame[ethernet.HeaderLength:])
		if err != nil {
			t.Fatal(err)
		}
		if err := ipf.ValidateSize(); err != nil {
			t.Fatalf("fragment %d invalid: %v", i, err)
		}
	}
	last, _ := NewFrame(devices.sent[2].frame[ethernet.HeaderLength:])
	if last.Flags().MoreFragments() {
		t.Fatal("expected last fragment to clear more_frag")
	}
}

func TestOutputAssignsSourceIP(t *testing.T) {
	devices := newFakeDevices()
	devices.mac["eth1"] = ethernet.Addr{1, 2, 3, 4, 5, 6}
	devices.ip["eth1"] = netip.MustParseAddr("192.168.1.1")
	devices.mtu["eth1"] = 1500
	tbl := route.NewTable()
	dst := netip.MustParseAddr("192.168.1.2")
	tbl.Add(route.Entry{Network: netip.MustParsePrefix("192.168.1.0/24"), Device: "eth1"})
	neighbors := &fakeNeighbors{resolved: map[netip.Addr]ethernet.Addr{dst: {9, 9, 9, 9, 9, 9}}}
	p := NewProcessor(tbl, neighbors, fakeReassembler{}, &fakeDeliverer{}, devices, nil)

	frame := buildIPFrame(t, netip.MustParseAddr("0.0.0.0"), dst, 64, ProtoICMP, 0)
	if err := p.Output(frame); err != nil {
		t.Fatal(err)
	}
	if len(devices.sent) != 1 {
		t.Fatalf("expected 1 frame sent, got %d", len(devices.sent))
	}
	ipf, _ := NewFrame(devices.sent[0].frame[ethernet.HeaderLength:])
	if ipf.Source() != devices.ip["eth1"] {
		t.Fatalf("expected source assigned from egress device, got %v", ipf.Source())
	}
}
