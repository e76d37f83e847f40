package tcp

import (
	"log/slog"
	"net/netip"
	"sync/atomic"

	"github.com/virtnet/tapstack/internal/slogx"
	"github.com/virtnet/tapstack/ipv4"
	"github.com/virtnet/tapstack/metrics"
)

// LocalAddresser reports whether an address belongs to this stack, so
// Listen/Connect can reject a bind to a foreign address per spec
// §4.6's locality requirement on Bind. Satisfied by *route.Table.
type LocalAddresser interface {
	IsLocal(ip netip.Addr) bool
}

// DeliverTCP implements ipv4.Deliverer: it parses the IPv4 frame out
// of the Ethernet+IP buffer and hands it to Handle, per spec §4.6.
func (h *Handler) DeliverTCP(ethHdrLen int, frame []byte) error {
	ipf, err := ipv4.NewFrame(frame[ethHdrLen:])
	if err != nil {
		return err
	}
	return h.Handle(ipf)
}

// Handler is the stack-level TCP entry point: it owns the hash tables
// and dispatches inbound segments into each connection's state
// machine, per spec §4.6.
type Handler struct {
	slogx.Logger

	table  *Table
	Out    Outputter
	ISS    ISSGenerator
	Routes LocalAddresser

	tick atomic.Int64
}

// NewHandler builds a TCP handler backed by table, transmitting
// through out. A nil iss defaults to ZeroISS per spec §4.6's Open
// Question resolution. A nil routes disables the bind-locality check
// (used by package-level unit tests that exercise the state machine
// without a full route table).
func NewHandler(table *Table, out Outputter, iss ISSGenerator, routes LocalAddresser, log *slog.Logger) *Handler {
	if iss == nil {
		iss = ZeroISS{}
	}
	return &Handler{Logger: slogx.Logger{Log: log}, table: table, Out: out, ISS: iss, Routes: routes}
}

// isLocal reports whether ip may be bound or used as a connect source,
// per spec §4.6's locality requirement on Bind.
func (h *Handler) isLocal(ip netip.Addr) bool {
	if h.Routes == nil {
		return true
	}
	return h.Routes.IsLocal(ip)
}

// Table returns the handler's hash-table set, for socket-facade use.
func (h *Handler) Table() *Table { return h.table }

// Handle processes one inbound IP+TCP frame, per spec §4.6: the
// four-tuple lookup tries the established table, then falls back
// to listening; a miss sends the RST/ACK response of an unknown
// connection.
func (h *Handler) Handle(ipf ipv4.Frame) error {
	tf, err := NewFrame(ipf.Payload())
	if err != nil {
		return err
	}
	if err := tf.ValidateSize(ipf); err != nil {
		return err
	}
	metrics.TCPSegmentsIn.Inc()
	in := newIncoming(ipf, tf)

	sock, ok := h.table.Lookup(in.dstIP, in.dstPort, in.srcIP, in.srcPort)
	if !ok {
		return h.handleClosed(in)
	}

	sock.mu.Lock()
	defer sock.mu.Unlock()
	return h.dispatch(sock, in)
}

// handleClosed answers a segment addressed to no socket, per spec
// §4.6's CLOSED-state behavior: an incoming RST is dropped; otherwise
// it sends a RST (at the segment's ACK number if it carries one, or
// else a RST/ACK acknowledging everything received).
func (h *Handler) handleClosed(in incoming) error {
	if in.flags.Has(FlagRST) {
		return nil
	}
	tmp := newSock(Tuple{LocalIP: in.dstIP, LocalPort: in.dstPort, RemoteIP: in.srcIP, RemotePort: in.srcPort})
	if in.flags.Has(FlagACK) {
		return h.segmentOut(tmp, in.ackn, 0, FlagRST, nil)
	}
	return h.segmentOut(tmp, 0, in.seqn.add(in.length()), FlagRST|FlagACK, nil)
}

// dispatch routes an inbound segment to the state-specific handler,
// per spec §4.6 rules 1-10. Caller holds sock.mu.
func (h *Handler) dispatch(sock *Sock, in incoming) error {
	switch sock.state {
	case StateListen:
		return h.handleListen(sock, in)
	case StateSynSent:
		return h.handleSynSent(sock, in)
	default:
		return h.handleSynchronized(sock, in)
	}
}
