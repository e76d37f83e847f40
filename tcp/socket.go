package tcp

import (
	"net/netip"
	"sync"

	"github.com/virtnet/tapstack/internal/ring"
	"github.com/virtnet/tapstack/internal/waiter"
	"github.com/virtnet/tapstack/metrics"
)

// Tuple is the four-tuple (plus local address) identifying a TCP
// connection, per spec §3.
type Tuple struct {
	LocalIP    netip.Addr
	LocalPort  uint16
	RemoteIP   netip.Addr
	RemotePort uint16
}

// listenKey identifies a listening or bound socket: (local_ip, local_port).
type listenKey struct {
	IP   netip.Addr
	Port uint16
}

func (t Tuple) listenKey() listenKey { return listenKey{t.LocalIP, t.LocalPort} }

// pending is an out-of-order segment held for later reassembly, per
// spec §4.7.
type pending struct {
	seqn seq
	data []byte
}

// Sock is one TCP control block: the address tuple, RFC 793 send/receive
// variables, buffers, timers and wait primitives of spec §3.
type Sock struct {
	mu sync.Mutex

	tuple Tuple
	state State
	flags sockFlags

	// send variables
	sndUna seq
	sndNxt seq
	sndWnd uint32
	sndUp  seq
	sndWl1 seq
	sndWl2 seq
	iss    seq

	// receive variables
	rcvNxt seq
	rcvWnd uint32
	rcvUp  seq
	irs    seq

	recvBuf  *ring.Buffer
	oooQueue []pending

	sendBuf *ring.Buffer

	// listening sockets only
	backlog    int
	listenList []*Sock // connections mid-handshake (SYN_RECV)
	acceptList []*Sock // completed connections awaiting accept()

	parent *Sock

	acceptWaiter  *waiter.Waiter
	connectWaiter *waiter.Waiter
	recvWaiter    *waiter.Waiter

	// timers: each entry's deadline is in ticks of the 200ms driver.
	timers           map[timerKind]int64
	establishBackoff int64

	closeErr error
}

func newSock(tuple Tuple) *Sock {
	return &Sock{
		tuple:         tuple,
		state:         StateClosed,
		recvBuf:       ring.NewBuffer(DefaultRecvWindow),
		sendBuf:       ring.NewBuffer(DefaultRecvWindow),
		rcvWnd:        DefaultRecvWindow,
		acceptWaiter:  waiter.New(),
		connectWaiter: waiter.New(),
		recvWaiter:    waiter.New(),
		timers:        make(map[timerKind]int64),
	}
}

func (s *Sock) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// setState transitions s.state and keeps the per-state connection
// gauge in sync. Caller holds s.mu.
func (s *Sock) setState(next State) {
	if s.state == next {
		return
	}
	if s.state != StateClosed {
		metrics.TCPConnectionsByState.WithLabelValues(s.state.String()).Dec()
	}
	s.state = next
	if next != StateClosed {
		metrics.TCPConnectionsByState.WithLabelValues(next.String()).Inc()
	}
}

func (s *Sock) Tuple() Tuple {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tuple
}
