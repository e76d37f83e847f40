package arpcache

import (
	"log/slog"
	"net/netip"
	"sync"

	"github.com/virtnet/tapstack/ethernet"
	"github.com/virtnet/tapstack/internal/slogx"
	"github.com/virtnet/tapstack/metrics"
)

// LinkSender abstracts the device set an ARP cache resolves against,
// so this package does not need to import the device manager.
type LinkSender interface {
	// DeviceMAC returns the hardware address of the named device.
	DeviceMAC(device string) (ethernet.Addr, bool)
	// DeviceIP returns the configured IPv4 address of the named device.
	DeviceIP(device string) (netip.Addr, bool)
	// Send transmits a raw Ethernet frame out the named device.
	Send(device string, frame []byte) error
}

// PendingPacket is a fully-built Ethernet frame awaiting the
// destination MAC before it can be sent, per spec §4.2's "Resolve".
type PendingPacket struct {
	Device string
	Frame  []byte
}

// Entry is the neighbor cache row described in spec §3 as ArpEntry.
type Entry struct {
	IP         netip.Addr
	MAC        ethernet.Addr
	Device     string
	RetryCount int
	TTL        int // seconds remaining
	State      State
	Protocol   ethernet.Type

	pending []PendingPacket
}

// Config configures a Cache. Sender is required; the rest default per
// spec §3.
type Config struct {
	Sender     LinkSender
	Log        *slog.Logger
	MaxPending int
	MaxRetry   int
	MaxTTL     int // seconds
}

// Cache is the neighbor cache: a linearly-scanned entry list plus
// bounded per-entry pending queues, per spec §4.2.
type Cache struct {
	slogx.Logger

	mu         sync.Mutex
	entries    []*Entry
	sender     LinkSender
	maxPending int
	maxRetry   int
	maxTTL     int
}

// NewCache builds a Cache from cfg.
func NewCache(cfg Config) (*Cache, error) {
	if cfg.Sender == nil {
		return nil, errNoSender
	}
	c := &Cache{
		Logger:     slogx.Logger{Log: cfg.Log},
		sender:     cfg.Sender,
		maxPending: cfg.MaxPending,
		maxRetry:   cfg.MaxRetry,
		maxTTL:     cfg.MaxTTL,
	}
	if c.maxPending <= 0 {
		c.maxPending = DefaultMaxPending
	}
	if c.maxRetry <= 0 {
		c.maxRetry = DefaultMaxRetry
	}
	if c.maxTTL <= 0 {
		c.maxTTL = DefaultMaxTTL
	}
	return c, nil
}

// findLocked returns the entry for ip, or nil. Caller holds c.mu.
func (c *Cache) findLocked(ip netip.Addr) *Entry {
	for _, e := range c.entries {
		if e.IP == ip {
			return e
		}
	}
	return nil
}

// Lookup performs the linear scan of spec §4.2, matching on ip only,
// returning the MAC only for a RESOLVED or STATIC entry.
func (c *Cache) Lookup(ip netip.Addr) (ethernet.Addr, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e := c.findLocked(ip)
	if e == nil || (e.State != StateResolved && e.State != StateStatic) {
		return ethernet.Addr{}, false
	}
	return e.MAC, true
}

// AddStatic installs a permanent entry, bypassing resolution.
func (c *Cache) AddStatic(device string, ip netip.Addr, mac ethernet.Addr) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e := c.findLocked(ip)
	if e == nil {
		e = &Entry{IP: ip, Device: device, Protocol: protocolIPv4}
		c.entries = append(c.entries, e)
	}
	e.MAC = mac
	e.Device = device
	e.State = StateStatic
}

// Resolve implements spec §4.2's "Resolve": on a cache miss it creates
// a WAITING entry, enqueues frame, and broadcasts a request; on a
// WAITING hit it enqueues behind the outstanding request; on a
// RESOLVED/STATIC hit it stamps MACs into frame and sends immediately.
func (c *Cache) Resolve(device string, dst netip.Addr, frame []byte) error {
	c.mu.Lock()
	e := c.findLocked(dst)
	if e == nil {
		e = &Entry{
			IP:         dst,
			Device:     device,
			State:      StateWaiting,
			RetryCount: c.maxRetry,
			TTL:        c.maxTTL,
			Protocol:   protocolIPv4,
		}
		c.entries = append(c.entries, e)
		metrics.ARPCacheSize.Set(float64(len(c.entries)))
		c.enqueueLocked(e, device, frame)
		c.mu.Unlock()
		return c.sendRequest(device, dst)
	}

	switch e.State {
	case StateWaiting:
		c.enqueueLocked(e, device, frame)
		c.mu.Unlock()
		return nil
	default: // RESOLVED, STATIC
		mac, dev := e.MAC, e.Device
		c.mu.Unlock()
		return c.stampAndSend(dev, mac, frame)
	}
}

// enqueueLocked appends to e's pending FIFO, dropping the oldest entry
// (logged) if it is already at cap, per spec §5's resource caps.
func (c *Cache) enqueueLocked(e *Entry, device string, frame []byte) {
	if len(e.pending) >= c.maxPending {
		e.pending = e.pending[1:]
		c.Warn("arp pending queue full, dropping oldest", slog.String("ip", e.IP.String()))
		metrics.ARPPendingDrops.Inc()
	}
	e.pending = append(e.pending, PendingPacket{Device: device, Frame: frame})
}

func (c *Cache) stampAndSend(device string, dstMAC ethernet.Addr, frame []byte) error {
	ef, err := ethernet.NewFrame(frame)
	if err != nil {
		return err
	}
	srcMAC, ok := c.sender.DeviceMAC(device)
	if !ok {
		return errNoDevice
	}
	*ef.Destination() = dstMAC
	*ef.Source() = srcMAC
	return c.sender.Send(device, frame)
}

func (c *Cache) sendRequest(device string, target netip.Addr) error {
	ownMAC, ok := c.sender.DeviceMAC(device)
	if !ok {
		return errNoDevice
	}
	ownIP, ok := c.sender.DeviceIP(device)
	if !ok {
		return errNoDevice
	}
	buf := make([]byte, ethernet.HeaderLength+sizeHeader)
	ef, _ := ethernet.NewFrame(buf)
	*ef.Destination() = ethernet.Broadcast()
	*ef.Source() = ownMAC
	ef.SetEtherType(ethernet.TypeARP)

	af, _ := NewFrame(ef.Payload())
	af.SetHeader(OpRequest)
	*af.SenderHW() = ownMAC
	*af.SenderProto() = ownIP.As4()
	*af.TargetHW() = ethernet.Addr{}
	*af.TargetProto() = target.As4()

	c.Debug("sending arp request", slog.String("target", target.String()), slog.String("device", device))
	return c.sender.Send(device, buf)
}

// Receive implements spec §4.2's "Receive": validation, cache
// insertion/update, pending flush, and REQUEST→REPLY.
func (c *Cache) Receive(device string, class ethernet.Class, ethSrc ethernet.Addr, payload []byte) error {
	if class == ethernet.ClassOtherhost {
		return errOtherhost
	}
	af, err := NewFrame(payload)
	if err != nil {
		return err
	}
	if err := af.ValidateSize(); err != nil {
		return err
	}
	if *af.SenderHW() != ethSrc {
		return errSenderMAC
	}
	ownIP, ok := c.sender.DeviceIP(device)
	if !ok {
		return errNoDevice
	}
	if af.TargetIP() != ownIP {
		return errNotForUs
	}
	if af.TargetHW().IsMulticast() {
		return errTargetMC
	}

	senderIP := af.SenderIP()
	senderMAC := *af.SenderHW()
	op := af.Operation()

	c.mu.Lock()
	e := c.findLocked(senderIP)
	if e == nil && op == OpRequest {
		e = &Entry{IP: senderIP, Device: device, Protocol: protocolIPv4}
		c.entries = append(c.entries, e)
		metrics.ARPCacheSize.Set(float64(len(c.entries)))
	}
	var flush []PendingPacket
	if e != nil {
		e.MAC = senderMAC
		e.Device = device
		e.State = StateResolved
		e.TTL = c.maxTTL
		flush, e.pending = e.pending, nil
	}
	c.mu.Unlock()

	for _, p := range flush {
		if err := c.stampAndSend(p.Device, senderMAC, p.Frame); err != nil {
			c.Warn("failed to flush pending packet", slog.String("err", err.Error()))
		}
	}

	if op == OpRequest {
		return c.sendReply(device, ownIP, senderIP, senderMAC)
	}
	return nil
}

func (c *Cache) sendReply(device string, ownIP, targetIP netip.Addr, targetMAC ethernet.Addr) error {
	ownMAC, ok := c.sender.DeviceMAC(device)
	if !ok {
		return errNoDevice
	}
	buf := make([]byte, ethernet.HeaderLength+sizeHeader)
	ef, _ := ethernet.NewFrame(buf)
	*ef.Destination() = targetMAC
	*ef.Source() = ownMAC
	ef.SetEtherType(ethernet.TypeARP)

	af, _ := NewFrame(ef.Payload())
	af.SetHeader(OpReply)
	*af.SenderHW() = ownMAC
	*af.SenderProto() = ownIP.As4()
	*af.TargetHW() = targetMAC
	*af.TargetProto() = targetIP.As4()

	return c.sender.Send(device, buf)
}

// Tick runs the 1 Hz aging pass described in spec §4.2: WAITING
// entries out of retries are dropped; others decrement retry, reset
// TTL, and resend; RESOLVED entries age out at TTL zero.
func (c *Cache) Tick() {
	c.mu.Lock()
	var toResend []netip.Addr
	kept := c.entries[:0]
	for _, e := range c.entries {
		switch e.State {
		case StateWaiting:
			if e.RetryCount <= 0 {
				metrics.ARPExpirations.Inc()
				continue // dropped
			}
			e.RetryCount--
			e.TTL = c.maxTTL
			toResend = append(toResend, e.IP)
			kept = append(kept, e)
		case StateResolved:
			e.TTL--
			if e.TTL <= 0 {
				metrics.ARPExpirations.Inc()
				continue // dropped
			}
			kept = append(kept, e)
		default: // STATIC, NONE
			kept = append(kept, e)
		}
	}
	c.entries = kept
	metrics.ARPCacheSize.Set(float64(len(c.entries)))
	devices := make(map[netip.Addr]string, len(toResend))
	for _, e := range c.entries {
		devices[e.IP] = e.Device
	}
	c.mu.Unlock()

	for _, ip := range toResend {
		metrics.ARPRetries.Inc()
		c.sendRequest(devices[ip], ip)
	}
}
