package netdev

import (
	"log/slog"
	"net/netip"
	"sync"

	"github.com/virtnet/tapstack/ethernet"
	"github.com/virtnet/tapstack/internal/slogx"
	"github.com/virtnet/tapstack/metrics"
)

// Manager owns the device set, and multiplexes every device's inbound
// frames into one shared, bounded receive queue, per spec §3's
// "device manager owns the device set" ownership rule and §5's
// "Device receive queue 8192" resource cap.
type Manager struct {
	slogx.Logger

	mu      sync.RWMutex
	devices map[string]Device

	queue chan Frame
	wg    sync.WaitGroup
	stop  chan struct{}
}

// NewManager builds an empty device manager.
func NewManager(log *slog.Logger) *Manager {
	return &Manager{
		Logger:  slogx.Logger{Log: log},
		devices: make(map[string]Device),
		queue:   make(chan Frame, ReceiveQueueCap),
		stop:    make(chan struct{}),
	}
}

// Add registers dev, enforcing spec §3's invariant: unique name,
// unique MAC, non-overlapping subnets across veths. It starts the
// per-device receive goroutine.
func (m *Manager) Add(dev Device) error {
	m.mu.Lock()
	if _, exists := m.devices[dev.Name()]; exists {
		m.mu.Unlock()
		return errDuplicateName
	}
	for _, other := range m.devices {
		if other.MAC() == dev.MAC() {
			m.mu.Unlock()
			return errDuplicateMAC
		}
		if !dev.IsLoopback() && !other.IsLoopback() {
			p1, ok1 := dev.Prefix()
			p2, ok2 := other.Prefix()
			if ok1 && ok2 && p1.Overlaps(p2) {
				m.mu.Unlock()
				return errOverlappingCIDR
			}
		}
	}
	m.devices[dev.Name()] = dev
	m.mu.Unlock()

	m.wg.Add(1)
	go m.readLoop(dev)
	return nil
}

func (m *Manager) readLoop(dev Device) {
	defer m.wg.Done()
	buf := make([]byte, dev.MTU()+ethernet.HeaderLength)
	for {
		n, err := dev.Recv(buf)
		if err != nil {
			select {
			case <-m.stop:
				return
			default:
			}
			m.Warn("device read failed", slog.String("device", dev.Name()), slog.String("err", err.Error()))
			return
		}
		frame := make([]byte, n)
		copy(frame, buf[:n])
		select {
		case m.queue <- Frame{Device: dev.Name(), Data: frame}:
			metrics.DeviceRxPackets.WithLabelValues(dev.Name()).Inc()
		case <-m.stop:
			return
		default:
			m.Warn("receive queue full, dropping frame", slog.String("device", dev.Name()))
			metrics.DeviceRxDrops.WithLabelValues(dev.Name()).Inc()
		}
	}
}

// Frames returns the channel the pipeline worker should range over.
func (m *Manager) Frames() <-chan Frame { return m.queue }

// Close stops every device's read loop and closes the devices.
func (m *Manager) Close() error {
	close(m.stop)
	m.mu.RLock()
	for _, dev := range m.devices {
		dev.Close()
	}
	m.mu.RUnlock()
	m.wg.Wait()
	return nil
}

func (m *Manager) get(device string) (Device, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.devices[device]
	return d, ok
}

// MAC implements ipv4.Devices / arpcache.LinkSender.
func (m *Manager) MAC(device string) (ethernet.Addr, bool) {
	d, ok := m.get(device)
	if !ok {
		return ethernet.Addr{}, false
	}
	return d.MAC(), true
}

// IP implements ipv4.Devices / arpcache.LinkSender.
func (m *Manager) IP(device string) (netip.Addr, bool) {
	d, ok := m.get(device)
	if !ok {
		return netip.Addr{}, false
	}
	prefix, ok := d.Prefix()
	if !ok {
		return netip.Addr{}, false
	}
	return prefix.Addr(), true
}

// MTU implements ipv4.Devices.
func (m *Manager) MTU(device string) (int, bool) {
	d, ok := m.get(device)
	if !ok {
		return 0, false
	}
	return d.MTU(), true
}

// IsLoopback implements ipv4.Devices.
func (m *Manager) IsLoopback(device string) bool {
	d, ok := m.get(device)
	return ok && d.IsLoopback()
}

// DeviceMAC implements arpcache.LinkSender.
func (m *Manager) DeviceMAC(device string) (ethernet.Addr, bool) { return m.MAC(device) }

// DeviceIP implements arpcache.LinkSender.
func (m *Manager) DeviceIP(device string) (netip.Addr, bool) { return m.IP(device) }

// Send implements ipv4.Devices / arpcache.LinkSender.
func (m *Manager) Send(device string, frame []byte) error {
	d, ok := m.get(device)
	if !ok {
		return errUnknownDevice
	}
	if err := d.Send(frame); err != nil {
		return err
	}
	metrics.DeviceTxPackets.WithLabelValues(device).Inc()
	return nil
}
