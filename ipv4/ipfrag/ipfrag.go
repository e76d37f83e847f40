// Package ipfrag implements IPv4 fragment reassembly, per spec §4.3:
// contexts keyed by (id, protocol, src, dst), overlap/duplicate
// rejection, and a 1 Hz aging timer.
package ipfrag

import (
	"errors"
	"net/netip"
	"sync"
	"time"

	"github.com/virtnet/tapstack/ipv4"
	"github.com/virtnet/tapstack/metrics"
)

const (
	// DefaultTTL is the reassembly context lifetime, per spec §4.3.
	DefaultTTL = 30 * time.Second
)

const (
	flagFirstIn uint8 = 1 << iota
	flagLastIn
	flagComplete
)

var (
	errAlreadyComplete = errors.New("ipfrag: context already complete")
	errDuplicateLast   = errors.New("ipfrag: duplicate last fragment")
	errDuplicateOffset = errors.New("ipfrag: duplicate fragment offset")
	errOverlap         = errors.New("ipfrag: overlapping fragment")
	errHeaderLenMismatch = errors.New("ipfrag: fragment header length mismatch")
	errNoContext       = errors.New("ipfrag: unknown context")
)

// key identifies a reassembly context.
type key struct {
	id       uint16
	protocol ipv4.Protocol
	src, dst netip.Addr
}

// fragment is one received fragment's data payload, recorded with its
// byte offset from the start of the reassembled data region.
type fragment struct {
	offset int
	data   []byte
}

// context is a single in-progress reassembly.
type context struct {
	headerLen  int
	size       int // expected total data size once LAST_IN is known
	rsize      int // running received size
	flags      uint8
	ttl        time.Duration
	fragments  []fragment // ordered by offset, non-overlapping
	firstFrame []byte     // first fragment's full Ethernet+IP buffer, for header reuse
}

func (c *context) isComplete() bool { return c.flags&flagComplete != 0 }

// Cache holds in-progress reassembly contexts.
type Cache struct {
	mu  sync.Mutex
	ctx map[key]*context
	ttl time.Duration
}

// NewCache returns an empty reassembly cache.
func NewCache() *Cache {
	return &Cache{ctx: make(map[key]*context), ttl: DefaultTTL}
}

// Insert adds one fragment (carried in frame, a full Ethernet+IPv4
// buffer) to the reassembly context, per spec §4.3's insertion rules.
// It returns (reassembled, nil) once the context completes, or
// (nil, nil) while more fragments are still expected.
func (c *Cache) Insert(ethHeaderLen int, frame []byte) ([]byte, error) {
	ipf, err := ipv4.NewFrame(frame[ethHeaderLen:])
	if err != nil {
		return nil, err
	}
	k := key{id: ipf.ID(), protocol: ipf.Protocol(), src: ipf.Source(), dst: ipf.Destination()}
	fl := ipf.Flags()
	hl := ipf.HeaderLength()
	off := int(fl.FragmentOffset()) * 8
	data := ipf.Payload()

	c.mu.Lock()
	defer c.mu.Unlock()

	ctxv, ok := c.ctx[k]
	if !ok {
		ctxv = &context{headerLen: hl, ttl: c.ttl}
		c.ctx[k] = ctxv
		metrics.IPReassemblyContexts.Set(float64(len(c.ctx)))
	}
	if ctxv.isComplete() {
		metrics.IPReassemblyDrops.Inc()
		return nil, errAlreadyComplete
	}
	if ctxv.headerLen != hl {
		metrics.IPReassemblyDrops.Inc()
		return nil, errHeaderLenMismatch
	}

	if !fl.MoreFragments() && ctxv.flags&flagLastIn != 0 {
		metrics.IPReassemblyDrops.Inc()
		return nil, errDuplicateLast
	}
	// find insertion position from the end, reject duplicate offset
	// or overlap with the previous fragment.
	i := len(ctxv.fragments)
	for i > 0 && ctxv.fragments[i-1].offset > off {
		i--
	}
	if i > 0 && ctxv.fragments[i-1].offset == off {
		metrics.IPReassemblyDrops.Inc()
		return nil, errDuplicateOffset
	}
	if i > 0 && ctxv.fragments[i-1].offset+len(ctxv.fragments[i-1].data) > off {
		metrics.IPReassemblyDrops.Inc()
		return nil, errOverlap
	}
	if i < len(ctxv.fragments) && ctxv.fragments[i].offset == off {
		metrics.IPReassemblyDrops.Inc()
		return nil, errDuplicateOffset
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	ctxv.fragments = append(ctxv.fragments, fragment{})
	copy(ctxv.fragments[i+1:], ctxv.fragments[i:])
	ctxv.fragments[i] = fragment{offset: off, data: cp}
	if off == 0 {
		ctxv.flags |= flagFirstIn
		fr := make([]byte, len(frame))
		copy(fr, frame)
		ctxv.firstFrame = fr
	}
	if !fl.MoreFragments() {
		ctxv.flags |= flagLastIn
		ctxv.size = off + len(data)
	}
	ctxv.rsize += len(data)
	ctxv.ttl = c.ttl

	const haveAll = flagFirstIn | flagLastIn
	if ctxv.flags&haveAll == haveAll && ctxv.rsize == ctxv.size {
		ctxv.flags |= flagComplete
		out := c.reassembleLocked(ctxv)
		delete(c.ctx, k)
		metrics.IPReassemblyContexts.Set(float64(len(c.ctx)))
		return out, nil
	}
	return nil, nil
}

// reassembleLocked builds the reassembled Ethernet+IPv4 buffer from
// the first fragment's header and the concatenated fragment data, per
// spec §4.3.
func (c *Cache) reassembleLocked(ctxv *context) []byte {
	ethHdrLen := len(ctxv.firstFrame) - ctxv.headerLen - lenFirstFragData(ctxv)
	out := make([]byte, ethHdrLen+ctxv.headerLen+ctxv.size)
	copy(out, ctxv.firstFrame[:ethHdrLen+ctxv.headerLen])

	for _, fr := range ctxv.fragments {
		copy(out[ethHdrLen+ctxv.headerLen+fr.offset:], fr.data)
	}

	ipf, _ := ipv4.NewFrame(out[ethHdrLen:])
	ipf.SetTotalLength(uint16(ctxv.headerLen + ctxv.size))
	ipf.SetFlags(ipv4.MakeFlags(false, false, 0))
	ipf.SetID(0)
	ipf.SetChecksum(0)
	ipf.SetChecksum(ipf.CalculateHeaderChecksum())
	return out
}

func lenFirstFragData(ctxv *context) int {
	for _, fr := range ctxv.fragments {
		if fr.offset == 0 {
			return len(fr.data)
		}
	}
	return 0
}

// Tick ages every context by one second, dropping those whose TTL has
// expired, per spec §4.3's 1 Hz timer.
func (c *Cache) Tick() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k, ctxv := range c.ctx {
		ctxv.ttl -= time.Second
		if ctxv.ttl <= 0 {
			delete(c.ctx, k)
			metrics.IPReassemblyTimeouts.Inc()
		}
	}
	metrics.IPReassemblyContexts.Set(float64(len(c.ctx)))
}

// Len returns the number of in-progress contexts, for metrics/tests.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.ctx)
}
