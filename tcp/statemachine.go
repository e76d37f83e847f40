package tcp

import (
	"log/slog"

	"github.com/virtnet/tapstack/metrics"
)

// handleListen implements spec §4.6 rule 1: a LISTEN-state socket
// ignores RST, resets on ACK (nothing should be acknowledged yet),
// and on SYN spawns a new SYN_RECV child bound to the full tuple,
// queued in the listener's backlog.
func (h *Handler) handleListen(listener *Sock, in incoming) error {
	if in.flags.Has(FlagRST) {
		return nil
	}
	if in.flags.Has(FlagACK) {
		return h.segmentOut(listener, in.ackn, 0, FlagRST, nil)
	}
	if !in.flags.Has(FlagSYN) {
		return nil
	}
	if len(listener.listenList)+len(listener.acceptList) >= listener.backlog {
		h.Warn("listen backlog full", slog.String("local", listener.tuple.LocalIP.String()))
		metrics.TCPBacklogFull.Inc()
		return errBacklogFull
	}

	child := newSock(Tuple{
		LocalIP: listener.tuple.LocalIP, LocalPort: listener.tuple.LocalPort,
		RemoteIP: in.srcIP, RemotePort: in.srcPort,
	})
	child.parent = listener
	child.irs = in.seqn
	child.rcvNxt = in.seqn.add(1)
	child.iss = h.ISS.ISS(child.tuple.LocalIP, child.tuple.LocalPort, child.tuple.RemoteIP, child.tuple.RemotePort)
	child.sndUna = child.iss
	child.sndNxt = child.iss.add(1)
	child.sndWnd = uint32(in.wnd)
	child.setState(StateSynRcvd)
	child.setTimer(timerEstablish, h.now(), establishInitial)

	listener.listenList = append(listener.listenList, child)
	h.table.InsertEstablished(child)

	return h.segmentOut(child, child.iss, child.rcvNxt, FlagSYN|FlagACK, nil)
}

// handleSynSent implements spec §4.6 rule 2 (active open's response
// handling): a bad ACK resets the attempt, RST+acceptable-ACK fails
// the connection, and SYN(+ACK) completes or half-opens the handshake.
func (h *Handler) handleSynSent(s *Sock, in incoming) error {
	ackOK := true
	if in.flags.Has(FlagACK) {
		ackOK = s.iss.less(in.ackn) && in.ackn.lessEq(s.sndNxt)
		if !ackOK {
			if in.flags.Has(FlagRST) {
				return nil
			}
			return h.segmentOut(s, in.ackn, 0, FlagRST, nil)
		}
	}
	if in.flags.Has(FlagRST) {
		if ackOK {
			s.unsetAllTimers()
			s.setState(StateClosed)
			s.closeErr = errConnReset
			h.table.Remove(s)
			s.connectWaiter.Exit()
		}
		return nil
	}
	if !in.flags.Has(FlagSYN) {
		return nil
	}

	s.irs = in.seqn
	s.rcvNxt = in.seqn.add(1)

	if !in.flags.Has(FlagACK) {
		// Simultaneous open: peer's SYN arrived without acknowledging ours.
		s.setState(StateSynRcvd)
		s.setTimer(timerEstablish, h.now(), establishInitial)
		return h.segmentOut(s, s.iss, s.rcvNxt, FlagSYN|FlagACK, nil)
	}

	s.sndUna = in.ackn
	s.unsetTimer(timerEstablish)
	s.setState(StateEstablished)
	s.sndWnd = uint32(in.wnd)
	s.sndWl1 = in.seqn
	s.sndWl2 = in.ackn
	s.connectWaiter.WakeUp()
	return h.segmentOut(s, s.sndNxt, s.rcvNxt, FlagACK, nil)
}

// handleSynchronized implements spec §4.6 rules 3-10: the sequence
// acceptability check, RST handling, ACK processing (including the
// SYN_RECV->ESTABLISHED transition and the close-sequence state
// changes), text delivery, FIN handling, and the final ACK flush.
func (h *Handler) handleSynchronized(s *Sock, in incoming) error {
	if !h.sequenceAcceptable(s, in) {
		if !in.flags.Has(FlagRST) {
			return h.segmentOut(s, s.sndNxt, s.rcvNxt, FlagACK, nil)
		}
		return nil
	}

	if in.flags.Has(FlagRST) {
		h.resetConnection(s)
		return nil
	}

	if in.flags.Has(FlagSYN) {
		return h.segmentOut(s, in.ackn, 0, FlagRST, nil)
	}

	if !in.flags.Has(FlagACK) {
		return nil // rule: segments without ACK are dropped once synchronized
	}

	if s.state == StateSynRcvd {
		if !(s.sndUna.less(in.ackn) || s.sndUna == in.ackn) || s.sndNxt.less(in.ackn) {
			return h.segmentOut(s, in.ackn, 0, FlagRST, nil)
		}
		s.unsetTimer(timerEstablish)
		s.setState(StateEstablished)
		s.sndUna = in.ackn
		s.sndWnd = uint32(in.wnd)
		s.sndWl1 = in.seqn
		s.sndWl2 = in.ackn
		h.promoteToAcceptList(s)
	}

	h.processEstablishedAck(s, in)

	trimSeq, data, ok := s.acceptSegment(in)
	if !ok {
		return h.segmentOut(s, s.sndNxt, s.rcvNxt, FlagACK, nil)
	}
	s.deliver(trimSeq, data)

	if in.flags.Has(FlagFIN) {
		h.handleFIN(s, in)
	}

	return h.flush(s)
}

// sequenceAcceptable applies spec §4.6 rule 3's sequence check: the
// segment's first octet must precede rcv_nxt+rcv_wnd and its last
// octet must not precede rcv_nxt.
func (h *Handler) sequenceAcceptable(s *Sock, in incoming) bool {
	rcvEnd := s.rcvNxt.add(s.rcvWnd)
	return in.seqn.less(rcvEnd) && s.rcvNxt.lessEq(in.last())
}

func (h *Handler) resetConnection(s *Sock) {
	s.unsetAllTimers()
	s.closeErr = errConnReset
	s.setState(StateClosed)
	h.table.Remove(s)
	s.recvWaiter.WakeUp()
	s.acceptWaiter.Exit()
	s.connectWaiter.Exit()
}

// promoteToAcceptList moves a child socket from its listener's
// listenList into acceptList once the three-way handshake completes,
// waking a blocked accept() call.
func (h *Handler) promoteToAcceptList(s *Sock) {
	parent := s.parent
	if parent == nil {
		return
	}
	for i, c := range parent.listenList {
		if c == s {
			parent.listenList = append(parent.listenList[:i], parent.listenList[i+1:]...)
			break
		}
	}
	parent.acceptList = append(parent.acceptList, s)
	parent.acceptWaiter.WakeUp()
}

// processEstablishedAck folds in an acceptable ACK per spec §4.6: it
// advances snd_una, applies the window update rule, and drives the
// close-sequence state transitions (FIN_WAIT_1->FIN_WAIT_2,
// CLOSING->TIME_WAIT, LAST_ACK->CLOSED).
func (h *Handler) processEstablishedAck(s *Sock, in incoming) {
	if in.ackn.less(s.sndUna) {
		return // duplicate ACK
	}
	if s.sndNxt.less(in.ackn) {
		return // ACKs something not yet sent; the ACK is ignored
	}
	if s.sndUna.less(in.ackn) {
		s.sndUna = in.ackn
		if s.sndWl1.less(in.seqn) || (s.sndWl1 == in.seqn && s.sndWl2.lessEq(in.ackn)) {
			s.sndWnd = uint32(in.wnd)
			s.sndWl1 = in.seqn
			s.sndWl2 = in.ackn
			if s.sndWnd > 0 {
				s.unsetTimer(timerPersist)
			}
		}
	}

	switch s.state {
	case StateFinWait1:
		if s.sndUna == s.sndNxt {
			s.setState(StateFinWait2)
			s.setTimer(timerFinWait2, h.now(), finWait2Ticks)
		}
	case StateClosing:
		if s.sndUna == s.sndNxt {
			s.setState(StateTimeWait)
			s.setTimer(timerTimeWait, h.now(), timeWaitTicks)
		}
	case StateLastAck:
		if s.sndUna == s.sndNxt {
			s.unsetAllTimers()
			s.setState(StateClosed)
			h.table.Remove(s)
		}
	}
}

// handleFIN implements spec §4.6's per-state FIN handling: rcv_nxt
// advances past the FIN, the peer's close is signalled to a blocked
// reader, and the state advances per the standard close table.
func (h *Handler) handleFIN(s *Sock, in incoming) {
	s.rcvNxt = s.rcvNxt.add(1)
	s.recvWaiter.WakeUp()

	switch s.state {
	case StateSynRcvd, StateEstablished:
		s.setState(StateCloseWait)
	case StateFinWait1:
		s.setState(StateClosing)
	case StateFinWait2:
		s.unsetTimer(timerFinWait2)
		s.setState(StateTimeWait)
		s.setTimer(timerTimeWait, h.now(), timeWaitTicks)
	case StateTimeWait:
		s.setTimer(timerTimeWait, h.now(), timeWaitTicks)
	}
	s.flags |= flagAckNow
}

// flush sends data queued by write() plus the trailing control
// segment ACK_NOW/ACK_LATER requires, per spec §4.7's final step.
func (h *Handler) flush(s *Sock) error {
	if s.sendBuf.Buffered() > 0 && (s.state == StateEstablished || s.state == StateCloseWait) {
		if err := h.sendData(s); err != nil {
			return err
		}
	}
	if s.flags&flagAckNow != 0 {
		return h.segmentOut(s, s.sndNxt, s.rcvNxt, FlagACK, nil)
	}
	return nil
}
