// Package route implements the ordered IPv4 routing table described
// in spec §3 ("RouteEntry"): first-match lookup over a list of
// prefixes, with the loopback and per-veth entries it mandates.
package route

import (
	"errors"
	"net/netip"
	"sync"
)

var errNoRoute = errors.New("route: no matching entry")

// Flags classifies a route entry's handling, per spec §3.
type Flags uint8

const (
	FlagNone Flags = iota
	FlagLocalhost
	FlagDefault
)

func (f Flags) String() string {
	switch f {
	case FlagLocalhost:
		return "LOCALHOST"
	case FlagDefault:
		return "DEFAULT"
	default:
		return "NONE"
	}
}

// Entry is one row of the routing table.
type Entry struct {
	Network netip.Prefix
	Gateway netip.Addr // zero value if absent
	Flags   Flags
	Metric  int
	Device  string
}

func (e Entry) hasGateway() bool { return e.Gateway.IsValid() }

// NextHop returns the address packets to dst should actually be
// addressed to at the link layer: the gateway for a DEFAULT route or
// any route with metric>0, else dst itself, per spec §4.1 forwarding.
func (e Entry) NextHop(dst netip.Addr) netip.Addr {
	if (e.Flags == FlagDefault || e.Metric > 0) && e.hasGateway() {
		return e.Gateway
	}
	return dst
}

// Table is an ordered list of routes; Lookup returns the first entry
// whose network contains the queried address, per spec §3.
type Table struct {
	mu      sync.RWMutex
	entries []Entry
}

// NewTable returns an empty table.
func NewTable() *Table {
	return &Table{}
}

// Add appends e to the end of the table. Later Add calls are
// lower-priority for overlapping networks, matching the "ordered
// list, first match wins" semantics.
func (t *Table) Add(e Entry) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries = append(t.entries, e)
}

// Delete removes every entry whose Network and Device match e.
func (t *Table) Delete(network netip.Prefix, device string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	kept := t.entries[:0]
	for _, e := range t.entries {
		if e.Network == network && e.Device == device {
			continue
		}
		kept = append(kept, e)
	}
	t.entries = kept
}

// Lookup returns the first entry whose network contains ip.
func (t *Table) Lookup(ip netip.Addr) (Entry, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, e := range t.entries {
		if e.Network.Contains(ip) {
			return e, nil
		}
	}
	return Entry{}, errNoRoute
}

// IsLocal reports whether ip is an address this stack owns: the
// unspecified address (always accepted, per the bind-to-any-address
// convention) or an address matching a LOCALHOST route entry.
func (t *Table) IsLocal(ip netip.Addr) bool {
	if ip.IsUnspecified() {
		return true
	}
	e, err := t.Lookup(ip)
	return err == nil && e.Flags == FlagLocalhost
}

// AddLoopback installs the loopback subnet entry, per spec §3's table
// initialization.
func (t *Table) AddLoopback(network netip.Prefix, device string) {
	t.Add(Entry{Network: network, Flags: FlagLocalhost, Device: device})
}

// AddVeth installs the two entries spec §3 mandates when a veth device
// is added: a /32 LOCALHOST entry routed via the loopback device, and
// a subnet entry routed via the veth itself.
func (t *Table) AddVeth(ip netip.Addr, network netip.Prefix, loopbackDevice, vethDevice string) {
	bits := 32
	if ip.Is6() {
		bits = 128
	}
	t.Add(Entry{
		Network: netip.PrefixFrom(ip, bits),
		Flags:   FlagLocalhost,
		Device:  loopbackDevice,
	})
	t.Add(Entry{
		Network: network,
		Flags:   FlagNone,
		Device:  vethDevice,
	})
}
