package tcp

import (
	"math/rand"
	"net/netip"
	"sync"
)

// estKey identifies an established (or handshaking) connection by its
// full four-tuple.
type estKey struct {
	LocalIP    netip.Addr
	LocalPort  uint16
	RemoteIP   netip.Addr
	RemotePort uint16
}

func tupleEstKey(t Tuple) estKey {
	return estKey{t.LocalIP, t.LocalPort, t.RemoteIP, t.RemotePort}
}

// Table owns the three hash buckets of spec §3: listening sockets
// keyed by (local_ip, local_port), established (or handshaking)
// sockets keyed by the full tuple, and bound sockets reserving a
// local address before connect/listen.
type Table struct {
	mu          sync.RWMutex
	listening   map[listenKey]*Sock
	established map[estKey]*Sock
	bound       map[listenKey]*Sock

	rng *rand.Rand
}

// NewTable builds an empty set of hash buckets.
func NewTable() *Table {
	return &Table{
		listening:   make(map[listenKey]*Sock),
		established: make(map[estKey]*Sock),
		bound:       make(map[listenKey]*Sock),
		rng:         rand.New(rand.NewSource(1)),
	}
}

// Lookup finds the socket that should handle a segment addressed to
// (localIP, localPort) from (remoteIP, remotePort): the established
// table is tried first, falling back to the listening table, per
// spec §4.6.
func (tbl *Table) Lookup(localIP netip.Addr, localPort uint16, remoteIP netip.Addr, remotePort uint16) (*Sock, bool) {
	tbl.mu.RLock()
	defer tbl.mu.RUnlock()
	if s, ok := tbl.established[estKey{localIP, localPort, remoteIP, remotePort}]; ok {
		return s, true
	}
	if s, ok := tbl.listening[listenKey{localIP, localPort}]; ok {
		return s, true
	}
	return nil, false
}

// Bind reserves (ip, port) in the bound table, returning errAlreadyBound
// if taken.
func (tbl *Table) Bind(ip netip.Addr, port uint16, s *Sock) error {
	tbl.mu.Lock()
	defer tbl.mu.Unlock()
	key := listenKey{ip, port}
	if _, exists := tbl.bound[key]; exists {
		return errAlreadyBound
	}
	if _, exists := tbl.listening[key]; exists {
		return errAlreadyBound
	}
	tbl.bound[key] = s
	return nil
}

// AllocatePort picks an unused ephemeral port for ip, per spec §7.
func (tbl *Table) AllocatePort(ip netip.Addr, s *Sock) (uint16, error) {
	tbl.mu.Lock()
	defer tbl.mu.Unlock()
	span := EphemeralHi - EphemeralLo
	start := tbl.rng.Intn(span)
	for i := 0; i < span; i++ {
		port := uint16(EphemeralLo + (start+i)%span)
		key := listenKey{ip, port}
		if _, taken := tbl.bound[key]; taken {
			continue
		}
		if _, taken := tbl.listening[key]; taken {
			continue
		}
		tbl.bound[key] = s
		return port, nil
	}
	return 0, errNoPortAvail
}

// MarkListening moves s from bound into the listening table.
func (tbl *Table) MarkListening(s *Sock) {
	tbl.mu.Lock()
	defer tbl.mu.Unlock()
	key := s.tuple.listenKey()
	delete(tbl.bound, key)
	tbl.listening[key] = s
}

// InsertEstablished adds s to the established table under its current tuple.
func (tbl *Table) InsertEstablished(s *Sock) {
	tbl.mu.Lock()
	defer tbl.mu.Unlock()
	tbl.established[tupleEstKey(s.tuple)] = s
}

// Remove deletes s from every bucket it might occupy.
func (tbl *Table) Remove(s *Sock) {
	tbl.mu.Lock()
	defer tbl.mu.Unlock()
	delete(tbl.established, tupleEstKey(s.tuple))
	delete(tbl.listening, s.tuple.listenKey())
	delete(tbl.bound, s.tuple.listenKey())
}
