package tcp

import "sort"

// acceptSegment trims the already-received prefix off data per the
// "head trim" rule of spec §4.7: bytes before rcv_nxt are discarded,
// and the segment is rejected outright if it starts beyond the
// receive window.
func (s *Sock) acceptSegment(in incoming) (trimmedSeq seq, trimmed []byte, ok bool) {
	segSeq := in.seqn
	data := in.data

	if segSeq.less(s.rcvNxt) {
		skip := uint32(s.rcvNxt - segSeq)
		if skip >= uint32(len(data)) {
			// Entirely old; FIN/SYN-only retransmits still ack.
			return s.rcvNxt, nil, uint32(len(data)) == skip
		}
		data = data[skip:]
		segSeq = s.rcvNxt
	}
	if !inWindow(segSeq, s.rcvNxt, s.rcvWnd+1) && len(data) > 0 {
		return 0, nil, false
	}
	return segSeq, data, true
}

// deliver folds an accepted, possibly out-of-order segment into the
// receive buffer, draining any now-contiguous out-of-order segments
// afterward, per spec §4.7.
func (s *Sock) deliver(segSeq seq, data []byte) {
	if len(data) == 0 {
		return
	}
	if segSeq == s.rcvNxt {
		s.appendInOrder(data)
		s.drainOutOfOrder()
		return
	}
	s.insertOutOfOrder(segSeq, data)
}

func (s *Sock) appendInOrder(data []byte) {
	n, _ := s.recvBuf.Write(data)
	s.rcvNxt = s.rcvNxt.add(uint32(n))
	if n > 0 {
		s.recvWaiter.WakeUp()
	}
}

// insertOutOfOrder queues a segment that arrived ahead of rcv_nxt,
// trimming it against every already-queued segment it overlaps so the
// queue's entries never overlap, per spec §4.7 and §3's non-overlap
// invariant (mirroring acceptSegment's head-trim against rcv_nxt).
func (s *Sock) insertOutOfOrder(segSeq seq, data []byte) {
	cp := make([]byte, len(data))
	copy(cp, data)
	data = cp
	segEnd := segSeq.add(uint32(len(data)))

	for _, p := range s.oooQueue {
		pEnd := p.seqn.add(uint32(len(p.data)))
		if p.seqn.lessEq(segSeq) && segSeq.less(pEnd) {
			// A predecessor already covers our head; trim it off.
			skip := uint32(pEnd - segSeq)
			if skip >= uint32(len(data)) {
				return // fully covered by an existing segment
			}
			data = data[skip:]
			segSeq = pEnd
		}
		if segSeq.less(p.seqn) && p.seqn.less(segEnd) {
			// A successor already covers our tail; trim it off.
			data = data[:uint32(p.seqn-segSeq)]
			segEnd = p.seqn
		}
	}
	if len(data) == 0 {
		return
	}
	s.oooQueue = append(s.oooQueue, pending{seqn: segSeq, data: data})
	sort.Slice(s.oooQueue, func(i, j int) bool { return s.oooQueue[i].seqn.less(s.oooQueue[j].seqn) })
}

// drainOutOfOrder moves every out-of-order segment that has become
// contiguous with rcv_nxt into the receive buffer.
func (s *Sock) drainOutOfOrder() {
	for len(s.oooQueue) > 0 {
		p := s.oooQueue[0]
		if p.seqn.less(s.rcvNxt) {
			skip := uint32(s.rcvNxt - p.seqn)
			if skip >= uint32(len(p.data)) {
				s.oooQueue = s.oooQueue[1:]
				continue
			}
			p.data = p.data[skip:]
			p.seqn = s.rcvNxt
		}
		if p.seqn != s.rcvNxt {
			break
		}
		s.oooQueue = s.oooQueue[1:]
		s.appendInOrder(p.data)
	}
}
