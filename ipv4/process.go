package ipv4

import (
	"log/slog"
	"net/netip"

	"github.com/virtnet/tapstack/ethernet"
	"github.com/virtnet/tapstack/internal/slogx"
	"github.com/virtnet/tapstack/route"
)

// Neighbors resolves next-hop MAC addresses, satisfied by
// *arpcache.Cache.
type Neighbors interface {
	Lookup(ip netip.Addr) (ethernet.Addr, bool)
	Resolve(device string, ip netip.Addr, frame []byte) error
}

// Reassembler collects IPv4 fragments, satisfied by *ipfrag.Cache.
type Reassembler interface {
	Insert(ethHdrLen int, frame []byte) ([]byte, error)
}

// Deliverer dispatches a reassembled, locally-addressed IPv4 packet to
// the relevant protocol handler.
type Deliverer interface {
	DeliverICMP(ethHdrLen int, frame []byte) error
	DeliverTCP(ethHdrLen int, frame []byte) error
}

// Devices is the subset of the device manager the IP layer needs:
// per-device identity, MTU, and the ability to transmit a frame.
type Devices interface {
	MAC(device string) (ethernet.Addr, bool)
	IP(device string) (netip.Addr, bool)
	MTU(device string) (int, bool)
	IsLoopback(device string) bool
	Send(device string, frame []byte) error
}

// Processor implements spec §4.1's IPv4 input/forward/output logic and
// §4.3's reassembly hookup.
type Processor struct {
	slogx.Logger
	Routes     *route.Table
	Neighbors  Neighbors
	Reassembly Reassembler
	Deliver    Deliverer
	Devices    Devices
}

// NewProcessor builds a Processor from its collaborators.
func NewProcessor(routes *route.Table, neighbors Neighbors, reasm Reassembler, deliver Deliverer, devices Devices, log *slog.Logger) *Processor {
	return &Processor{
		Logger:     slogx.Logger{Log: log},
		Routes:     routes,
		Neighbors:  neighbors,
		Reassembly: reasm,
		Deliver:    deliver,
		Devices:    devices,
	}
}

// Input implements spec §4.1's "IPv4 input": validation, route lookup,
// and dispatch to local delivery or forwarding. frame is a full
// Ethernet+IPv4 buffer; class is the Ethernet destination
// classification from the demux step.
func (p *Processor) Input(device string, class ethernet.Class, frame []byte) error {
	if class == ethernet.ClassOtherhost {
		return nil
	}
	if len(frame) < ethernet.HeaderLength+sizeHeader {
		return errShort
	}
	ipf, err := NewFrame(frame[ethernet.HeaderLength:])
	if err != nil {
		return err
	}
	if err := ipf.ValidateSize(); err != nil {
		return err
	}

	rt, err := p.Routes.Lookup(ipf.Destination())
	if err != nil {
		p.Debug("no route for destination", slog.String("dst", ipf.Destination().String()))
		return nil
	}
	if rt.Flags == route.FlagLocalhost {
		return p.deliverLocal(device, frame)
	}
	return p.forward(device, frame, rt)
}

func (p *Processor) deliverLocal(device string, frame []byte) error {
	ipf, err := NewFrame(frame[ethernet.HeaderLength:])
	if err != nil {
		return err
	}
	if ipf.Flags().FragmentOffset() != 0 || ipf.Flags().MoreFragments() {
		reassembled, err := p.Reassembly.Insert(ethernet.HeaderLength, frame)
		if err != nil {
			p.Debug("fragment rejected", slog.String("err", err.Error()))
			return nil
		}
		if reassembled == nil {
			return nil // awaiting more fragments
		}
		frame = reassembled
		ipf, err = NewFrame(frame[ethernet.HeaderLength:])
		if err != nil {
			return err
		}
	}
	if err := ipf.ValidateSize(); err != nil {
		return err
	}

	switch ipf.Protocol() {
	case ProtoICMP:
		return p.Deliver.DeliverICMP(ethernet.HeaderLength, frame)
	case ProtoTCP:
		return p.Deliver.DeliverTCP(ethernet.HeaderLength, frame)
	default:
		return nil // UDP: placeholder, drop
	}
}

// forward implements spec §4.1's "Forwarding": TTL handling, next-hop
// selection, and the MTU/fragmentation decision.
func (p *Processor) forward(device string, frame []byte, rt route.Entry) error {
	ipf, err := NewFrame(frame[ethernet.HeaderLength:])
	if err != nil {
		return err
	}
	if ipf.TTL() <= 1 {
		p.Debug("dropping ttl-exceeded packet", slog.String("src", ipf.Source().String()))
		return nil // ICMP time-exceeded is a TODO
	}
	ipf.SetTTL(ipf.TTL() - 1)

	nextHop := rt.NextHop(ipf.Destination())
	mtu, ok := p.Devices.MTU(rt.Device)
	if !ok {
		return errNoRoute
	}

	if int(ipf.TotalLength()) > mtu {
		if ipf.Flags().DontFragment() {
			p.Debug("dropping: fragmentation needed, DF set")
			return nil // ICMP frag-needed is a TODO
		}
		return p.fragmentAndSend(rt.Device, nextHop, frame, mtu)
	}

	ipf.SetChecksum(0)
	ipf.SetChecksum(ipf.CalculateHeaderChecksum())
	return p.linkSend(rt.Device, nextHop, frame)
}

// Output implements spec §4.1's "IP output" for locally-originated
// packets (ICMP replies, TCP segments): route assignment, the
// direct-vs-fragment decision, and dispatch to the link path.
func (p *Processor) Output(frame []byte) error {
	ipf, err := NewFrame(frame[ethernet.HeaderLength:])
	if err != nil {
		return err
	}
	rt, err := p.Routes.Lookup(ipf.Destination())
	if err != nil {
		return errNoRoute
	}
	if ipf.Source().IsUnspecified() {
		if srcIP, ok := p.Devices.IP(rt.Device); ok {
			ipf.SetSource(srcIP)
		}
	}
	nextHop := rt.NextHop(ipf.Destination())
	mtu, ok := p.Devices.MTU(rt.Device)
	if !ok {
		return errNoRoute
	}

	if int(ipf.TotalLength()) <= mtu {
		ipf.SetChecksum(0)
		ipf.SetChecksum(ipf.CalculateHeaderChecksum())
		return p.linkSend(rt.Device, nextHop, frame)
	}
	return p.fragmentAndSend(rt.Device, nextHop, frame, mtu)
}

// MTU returns the MTU of the device a packet to dst would egress
// through, so transport-layer callers (e.g. tcp.Handler) can size
// segments without duplicating the route lookup.
func (p *Processor) MTU(dst netip.Addr) (int, bool) {
	rt, err := p.Routes.Lookup(dst)
	if err != nil {
		return 0, false
	}
	return p.Devices.MTU(rt.Device)
}

// fragmentAndSend implements spec §4.1's "Fragmentation on send": with
// header length h and MTU m, the per-fragment data budget is
// (m − h) & ~7.
func (p *Processor) fragmentAndSend(device string, nextHop netip.Addr, frame []byte, mtu int) error {
	ipf, err := NewFrame(frame[ethernet.HeaderLength:])
	if err != nil {
		return err
	}
	hl := ipf.HeaderLength()
	budget := (mtu - hl) &^ 7
	if budget <= 0 {
		return errFragNeeded
	}
	data := ipf.Payload()
	total := len(data)

	for off := 0; off < total; {
		n := budget
		last := false
		if off+n >= total {
			n = total - off
			last = true
		}
		fragBuf := make([]byte, ethernet.HeaderLength+hl+n)
		copy(fragBuf[:ethernet.HeaderLength], frame[:ethernet.HeaderLength])
		copy(fragBuf[ethernet.HeaderLength:ethernet.HeaderLength+hl], frame[ethernet.HeaderLength:ethernet.HeaderLength+hl])
		copy(fragBuf[ethernet.HeaderLength+hl:], data[off:off+n])

		ff, _ := NewFrame(fragBuf[ethernet.HeaderLength:])
		ff.SetTotalLength(uint16(hl + n))
		ff.SetFlags(MakeFlags(false, !last, uint16(off/8)))
		ff.SetChecksum(0)
		ff.SetChecksum(ff.CalculateHeaderChecksum())

		if err := p.linkSend(device, nextHop, fragBuf); err != nil {
			return err
		}
		off += n
	}
	return nil
}

// linkSend implements the link-path half of spec §4.1's "IP output":
// loopback swaps MACs and sends directly; otherwise it consults the
// neighbor cache and either sends with the cached MAC or enqueues
// pending resolution.
func (p *Processor) linkSend(device string, nextHop netip.Addr, frame []byte) error {
	ownMAC, ok := p.Devices.MAC(device)
	if !ok {
		return errNoRoute
	}
	ef, err := ethernet.NewFrame(frame)
	if err != nil {
		return err
	}
	if p.Devices.IsLoopback(device) {
		*ef.Source() = ownMAC
		*ef.Destination() = ownMAC
		return p.Devices.Send(device, frame)
	}
	if mac, ok := p.Neighbors.Lookup(nextHop); ok {
		*ef.Source() = ownMAC
		*ef.Destination() = mac
		return p.Devices.Send(device, frame)
	}
	return p.Neighbors.Resolve(device, nextHop, frame)
}
