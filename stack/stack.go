// Package stack wires together the device manager, ARP cache, route
// table, IPv4 processor, and ICMP/TCP handlers into one running
// network stack, per spec §5's concurrency model: a pipeline goroutine
// demuxing Ethernet frames, and per-protocol ticking timer goroutines.
package stack

import (
	"log/slog"
	"time"

	"github.com/virtnet/tapstack/arpcache"
	"github.com/virtnet/tapstack/ethernet"
	"github.com/virtnet/tapstack/icmp"
	"github.com/virtnet/tapstack/internal/slogx"
	"github.com/virtnet/tapstack/ipv4"
	"github.com/virtnet/tapstack/ipv4/ipfrag"
	"github.com/virtnet/tapstack/netdev"
	"github.com/virtnet/tapstack/route"
	"github.com/virtnet/tapstack/tcp"
)

// Stack owns every collaborator a running network stack needs and
// runs its goroutines.
type Stack struct {
	slogx.Logger

	Devices *netdev.Manager
	Routes  *route.Table
	ARP     *arpcache.Cache
	Frag    *ipfrag.Cache
	IP      *ipv4.Processor
	ICMP    *icmp.Handler
	TCP     *tcp.Handler

	stop chan struct{}
}

// Config collects the constructor parameters for New.
type Config struct {
	ARPConfig arpcache.Config
	ISS       tcp.ISSGenerator
	Log       *slog.Logger
}

// New builds a Stack with a fresh route table, ARP cache, fragment
// cache, and TCP hash table, wired to dev for transmission.
func New(dev *netdev.Manager, cfg Config) (*Stack, error) {
	routes := route.NewTable()

	if cfg.ARPConfig.Sender == nil {
		cfg.ARPConfig.Sender = dev
	}
	if cfg.ARPConfig.Log == nil {
		cfg.ARPConfig.Log = cfg.Log
	}
	arpCache, err := arpcache.NewCache(cfg.ARPConfig)
	if err != nil {
		return nil, err
	}

	s := &Stack{
		Logger:  slogx.Logger{Log: cfg.Log},
		Devices: dev,
		Routes:  routes,
		ARP:     arpCache,
		Frag:    ipfrag.NewCache(),
		stop:    make(chan struct{}),
	}

	s.IP = ipv4.NewProcessor(routes, arpCache, s.Frag, s, dev, cfg.Log)
	s.ICMP = icmp.NewHandler(s.IP, cfg.Log)
	s.TCP = tcp.NewHandler(tcp.NewTable(), s.IP, cfg.ISS, routes, cfg.Log)

	return s, nil
}

// AddDevice registers dev with the device manager and installs its
// routing table entries, per spec §3's "device manager owns the
// device set" / "route entries mandated on veth add" pairing:
// loopback devices get a single LOCALHOST subnet entry, veths get the
// LOCALHOST /32 (routed via loopback) plus the connected subnet entry.
func (s *Stack) AddDevice(dev netdev.Device, loopbackDevice string) error {
	if err := s.Devices.Add(dev); err != nil {
		return err
	}
	prefix, ok := dev.Prefix()
	if !ok {
		return nil
	}
	if dev.IsLoopback() {
		s.Routes.AddLoopback(prefix, dev.Name())
		return nil
	}
	s.Routes.AddVeth(prefix.Addr(), prefix, loopbackDevice, dev.Name())
	return nil
}

// DeliverICMP implements ipv4.Deliverer.
func (s *Stack) DeliverICMP(ethHdrLen int, frame []byte) error {
	return s.ICMP.Handle(ethHdrLen, frame)
}

// DeliverTCP implements ipv4.Deliverer.
func (s *Stack) DeliverTCP(ethHdrLen int, frame []byte) error {
	return s.TCP.DeliverTCP(ethHdrLen, frame)
}

// Run starts the pipeline goroutine (Ethernet demux -> ARP/IP
// dispatch) and the per-protocol timer goroutines. It returns
// immediately; call Stop to shut everything down.
func (s *Stack) Run() {
	go s.pipeline()
	go s.tickARPAndFrag()
	go s.tickTCP()
}

// Stop halts every goroutine Run started and closes the device manager.
func (s *Stack) Stop() {
	close(s.stop)
	s.Devices.Close()
}

func (s *Stack) pipeline() {
	for {
		select {
		case <-s.stop:
			return
		case f, ok := <-s.Devices.Frames():
			if !ok {
				return
			}
			if err := s.handleFrame(f); err != nil {
				s.Debug("pipeline drop", slog.String("device", f.Device), slog.String("err", err.Error()))
			}
		}
	}
}

func (s *Stack) handleFrame(f netdev.Frame) error {
	ef, err := ethernet.NewFrame(f.Data)
	if err != nil {
		return err
	}
	if err := ef.ValidateSize(); err != nil {
		return err
	}
	ownMAC, ok := s.Devices.MAC(f.Device)
	if !ok {
		return nil
	}
	class := ethernet.Classify(*ef.Destination(), ownMAC)

	switch ef.EtherType() {
	case ethernet.TypeARP:
		return s.ARP.Receive(f.Device, class, *ef.Source(), ef.Payload())
	case ethernet.TypeIPv4:
		return s.IP.Input(f.Device, class, f.Data)
	default:
		return nil
	}
}

// tickARPAndFrag drives the 1 Hz ARP and IPv4 reassembly aging timers
// of spec §4.2/§4.3.
func (s *Stack) tickARPAndFrag() {
	t := time.NewTicker(time.Second)
	defer t.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-t.C:
			s.ARP.Tick()
			s.Frag.Tick()
		}
	}
}

// tickTCP drives the 200ms TCP timer driver of spec §4.8.
func (s *Stack) tickTCP() {
	t := time.NewTicker(200 * time.Millisecond)
	defer t.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-t.C:
			s.TCP.Tick()
		}
	}
}
