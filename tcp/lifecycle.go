package tcp

import (
	"net/netip"

	"github.com/virtnet/tapstack/metrics"
)

// Listen creates a socket in LISTEN state bound to (ip, port) with
// the given backlog, per spec §4.6's passive-open paragraph.
func (h *Handler) Listen(ip netip.Addr, port uint16, backlog int) (*Sock, error) {
	if backlog <= 0 || backlog > MaxBacklog {
		backlog = DefaultBacklog
	}
	if !h.isLocal(ip) {
		return nil, errNotLocal
	}
	s := newSock(Tuple{LocalIP: ip, LocalPort: port})
	if err := h.table.Bind(ip, port, s); err != nil {
		return nil, err
	}
	s.setState(StateListen)
	s.backlog = backlog
	h.table.MarkListening(s)
	return s, nil
}

// Accept blocks until a connection on listener completes its
// handshake, returning the new connection's socket, per spec §4.6's
// passive-accept paragraph.
func (h *Handler) Accept(listener *Sock) (*Sock, error) {
	for {
		listener.mu.Lock()
		if listener.state != StateListen {
			listener.mu.Unlock()
			return nil, errNotListening
		}
		if len(listener.acceptList) > 0 {
			s := listener.acceptList[0]
			listener.acceptList = listener.acceptList[1:]
			listener.mu.Unlock()
			return s, nil
		}
		listener.mu.Unlock()
		if !listener.acceptWaiter.SleepOn(func() bool {
			listener.mu.Lock()
			ready := len(listener.acceptList) > 0
			listener.mu.Unlock()
			return ready
		}) {
			return nil, errConnClosed
		}
	}
}

// Connect performs an active open from (localIP, localPort) to
// (remoteIP, remotePort), blocking until the handshake completes or
// fails, per spec §4.6's active-open paragraph. localPort of zero
// allocates an ephemeral port.
func (h *Handler) Connect(localIP netip.Addr, localPort uint16, remoteIP netip.Addr, remotePort uint16) (*Sock, error) {
	if !h.isLocal(localIP) {
		return nil, errNotLocal
	}
	s := newSock(Tuple{LocalIP: localIP, RemoteIP: remoteIP, RemotePort: remotePort})
	if localPort == 0 {
		port, err := h.table.AllocatePort(localIP, s)
		if err != nil {
			return nil, err
		}
		localPort = port
	} else if err := h.table.Bind(localIP, localPort, s); err != nil {
		return nil, err
	}
	s.tuple.LocalPort = localPort

	s.iss = h.ISS.ISS(localIP, localPort, remoteIP, remotePort)
	s.sndUna = s.iss
	s.sndNxt = s.iss.add(1)
	s.setState(StateSynSent)
	h.table.InsertEstablished(s)
	s.setTimer(timerEstablish, h.now(), establishInitial)

	if err := h.segmentOut(s, s.iss, 0, FlagSYN, nil); err != nil {
		return nil, err
	}

	if !s.connectWaiter.SleepOn(func() bool {
		s.mu.Lock()
		ready := s.state == StateEstablished
		s.mu.Unlock()
		return ready
	}) {
		if s.closeErr != nil {
			return nil, s.closeErr
		}
		return nil, errConnClosed
	}
	return s, nil
}

// Close performs an active close, per spec §4.6's active-close
// paragraph: ESTABLISHED/SYN_RECV moves to FIN_WAIT_1 and sends FIN;
// CLOSE_WAIT moves to LAST_ACK and sends FIN; LISTEN and SYN_SENT
// tear down at once; any other state is left unchanged.
func (h *Handler) Close(s *Sock) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case StateSynRcvd, StateEstablished:
		s.setState(StateFinWait1)
	case StateCloseWait:
		s.setState(StateLastAck)
	case StateListen, StateSynSent:
		s.unsetAllTimers()
		s.setState(StateClosed)
		h.table.Remove(s)
		s.acceptWaiter.Exit()
		s.connectWaiter.Exit()
		return nil
	case StateClosed:
		return nil
	default:
		return nil
	}
	if s.sendBuf.Buffered() > 0 {
		metrics.TCPUnsentTailDropped.Inc()
	}
	s.flags |= flagAckNow
	finSeq := s.sndNxt
	if err := h.segmentOut(s, finSeq, s.rcvNxt, FlagFIN|FlagACK, nil); err != nil {
		return err
	}
	s.sndNxt = s.sndNxt.add(1) // FIN consumes one sequence number
	return nil
}

// Read copies up to len(buf) bytes of received data into buf and
// returns the filled portion, blocking until at least one byte is
// available or the peer has closed. A zero-length buf requests
// everything currently buffered, per spec §6's read(0) semantics.
func (s *Sock) Read(buf []byte) ([]byte, error) {
	for {
		s.mu.Lock()
		if s.recvBuf.Buffered() > 0 {
			if len(buf) == 0 {
				buf = make([]byte, s.recvBuf.Buffered())
			}
			n, err := s.recvBuf.Read(buf)
			s.mu.Unlock()
			return buf[:n], err
		}
		closed := s.state == StateCloseWait || s.state == StateClosed || s.state == StateTimeWait
		s.mu.Unlock()
		if closed {
			return nil, errConnClosed
		}
		if !s.recvWaiter.SleepOn(func() bool {
			s.mu.Lock()
			ready := s.recvBuf.Buffered() > 0
			s.mu.Unlock()
			return ready
		}) {
			return nil, errConnClosed
		}
	}
}

// Write queues data for transmission and immediately sends as much of
// it as the peer's window allows, per spec §4.7's send-path chunking;
// the rest stays buffered until a later inbound segment flushes it.
func (h *Handler) Write(s *Sock, data []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateEstablished && s.state != StateCloseWait {
		return 0, errConnClosed
	}
	n, err := s.sendBuf.Write(data)
	if err != nil {
		return n, err
	}
	return n, h.sendData(s)
}
