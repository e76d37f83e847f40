package icmp

import (
	"log/slog"

	"github.com/virtnet/tapstack/internal/slogx"
	"github.com/virtnet/tapstack/ipv4"
)

// Outputter re-routes a fully-built Ethernet+IPv4 frame through the IP
// output path, per spec §4.4's "clear pkb.rtdst/indev/mac_type ...
// call IP output".
type Outputter interface {
	Output(frame []byte) error
}

// Handler processes ICMP messages carried in IPv4 packets.
type Handler struct {
	slogx.Logger
	Out Outputter
}

// NewHandler returns a Handler that re-routes echo replies through out.
func NewHandler(out Outputter, log *slog.Logger) *Handler {
	return &Handler{Logger: slogx.Logger{Log: log}, Out: out}
}

// Handle processes the ICMP message carried as the payload of the
// IPv4 packet in frame (frame includes the ethHdrLen-byte link
// header). On ECHO_REQUEST/code 0 it builds and sends the reply; echo
// replies and destination-unreachable messages are logged only.
func (h *Handler) Handle(ethHdrLen int, frame []byte) error {
	ipf, err := ipv4.NewFrame(frame[ethHdrLen:])
	if err != nil {
		return err
	}
	icf, err := NewFrame(ipf.Payload())
	if err != nil {
		return err
	}
	if err := icf.ValidateSize(); err != nil {
		return err
	}

	switch icf.Type() {
	case TypeEcho:
		if icf.Code() != 0 {
			return errNotEchoCode0
		}
		return h.reply(ipf, icf, frame)
	case TypeEchoReply:
		h.Debug("received echo reply", slog.Uint64("seq", uint64(icf.SequenceNumber())))
		return nil
	case TypeDestinationUnreachable:
		h.Debug("received destination unreachable", slog.Int("code", int(icf.Code())))
		return nil
	default:
		h.Debug("dropping unhandled icmp type", slog.String("type", icf.Type().String()))
		return nil
	}
}

func (h *Handler) reply(ipf ipv4.Frame, icf Frame, frame []byte) error {
	icf.SetType(TypeEchoReply)

	src, dst := ipf.Source(), ipf.Destination()
	ipf.SetSource(dst)
	ipf.SetDestination(src)

	icf.SetChecksum(0)
	icf.SetChecksum(icf.CalculateChecksum())

	ipf.SetChecksum(0)
	ipf.SetChecksum(ipf.CalculateHeaderChecksum())

	return h.Out.Output(frame)
}
