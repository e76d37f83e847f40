package tcp

import (
	"log/slog"
	"time"
)

// timerKind enumerates the per-connection timers of spec §4.8. The
// driver ticks at 200ms; deadlines are stored as tick counts.
type timerKind uint8

const (
	timerEstablish timerKind = iota
	timerTimeWait
	timerFinWait2
	timerPersist
	timerKeepalive
)

const tickInterval = 200 * time.Millisecond

const (
	ticksPerSecond    = int64(time.Second / tickInterval)
	timeWaitTicks     = 2 * ticksPerSecond // 2*MSL, MSL=1s per spec §4.8
	finWait2Ticks     = 2 * ticksPerSecond
	persistTicks      = 2 * ticksPerSecond
	keepaliveTicks    = 2 * 60 * 60 * ticksPerSecond
	establishInitial  = ticksPerSecond
	establishMaxTicks = 60 * ticksPerSecond
)

// setTimer arms kind to fire in delta ticks from now.
func (s *Sock) setTimer(kind timerKind, now, delta int64) {
	s.timers[kind] = now + delta
}

// unsetTimer removes the timer of the given kind; unsetAllTimers
// removes every timer.
func (s *Sock) unsetTimer(kind timerKind) { delete(s.timers, kind) }

func (s *Sock) unsetAllTimers() {
	for k := range s.timers {
		delete(s.timers, k)
	}
}

func (h *Handler) armPersist(s *Sock) {
	if s.sndWnd == 0 {
		s.setTimer(timerPersist, h.now(), persistTicks)
	}
}

// now returns the driver's current tick count.
func (h *Handler) now() int64 { return h.tick.Load() }

// Tick advances the 200ms timer driver by one step, firing any
// connection timer whose deadline has passed, per spec §4.8.
func (h *Handler) Tick() {
	cur := h.tick.Add(1)

	h.table.mu.RLock()
	socks := make([]*Sock, 0, len(h.table.established)+len(h.table.listening))
	for _, s := range h.table.established {
		socks = append(socks, s)
	}
	h.table.mu.RUnlock()

	for _, s := range socks {
		h.fireTimers(s, cur)
	}
}

func (h *Handler) fireTimers(s *Sock, cur int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if deadline, ok := s.timers[timerEstablish]; ok && cur >= deadline {
		h.onEstablishTimeout(s, cur)
	}
	if deadline, ok := s.timers[timerTimeWait]; ok && cur >= deadline {
		s.unsetTimer(timerTimeWait)
		h.table.Remove(s)
		s.setState(StateClosed)
	}
	if deadline, ok := s.timers[timerFinWait2]; ok && cur >= deadline {
		s.unsetTimer(timerFinWait2)
		h.table.Remove(s)
		s.setState(StateClosed)
	}
	if deadline, ok := s.timers[timerPersist]; ok && cur >= deadline {
		s.unsetTimer(timerPersist)
		if s.sndWnd == 0 && s.state == StateEstablished {
			h.segmentOut(s, s.sndNxt-1, s.rcvNxt, FlagACK, nil)
			s.setTimer(timerPersist, cur, persistTicks)
		}
	}
	if deadline, ok := s.timers[timerKeepalive]; ok && cur >= deadline {
		s.unsetTimer(timerKeepalive)
		if s.state == StateEstablished {
			h.segmentOut(s, s.sndNxt-1, s.rcvNxt, FlagACK, nil)
			s.setTimer(timerKeepalive, cur, keepaliveTicks)
		}
	}
}

// onEstablishTimeout resends the pending SYN and doubles the backoff,
// failing the blocked connect() once backoff exceeds 60s, per spec §4.8.
func (h *Handler) onEstablishTimeout(s *Sock, cur int64) {
	backoff := s.establishBackoff
	if backoff == 0 {
		backoff = establishInitial
	}
	flags := FlagSYN
	if s.state == StateSynRcvd {
		flags |= FlagACK
	}
	h.segmentOut(s, s.iss, s.rcvNxt, flags, nil)
	backoff *= 2
	s.establishBackoff = backoff
	if backoff > establishMaxTicks {
		s.unsetTimer(timerEstablish)
		s.closeErr = errConnRefused
		s.setState(StateClosed)
		h.table.Remove(s)
		s.connectWaiter.Exit()
		return
	}
	s.setTimer(timerEstablish, cur, backoff)
	h.Debug("tcp establish timer fired", slog.String("state", s.state.String()))
}
