package tcp

import (
	"encoding/binary"
	"net/netip"
	"time"

	"golang.org/x/crypto/blake2b"
)

// ISSGenerator derives an initial sequence number for a connection
// tuple. ZeroISS always returns 0, the deterministic default spec
// §4.6's Open Question settles on (NewHandler uses it when given nil);
// SecureISS opts into an RFC 6528-style clock plus keyed hash.
type ISSGenerator interface {
	ISS(local netip.Addr, localPort uint16, remote netip.Addr, remotePort uint16) seq
}

// ZeroISS always returns sequence number 0.
type ZeroISS struct{}

func (ZeroISS) ISS(netip.Addr, uint16, netip.Addr, uint16) seq { return 0 }

// SecureISS derives an ISS as a 4µs clock plus a keyed hash of the
// connection's four-tuple (RFC 6528), so that two connections between
// the same endpoints never reuse a sequence space soon after close.
type SecureISS struct {
	key [32]byte
}

// NewSecureISS builds a generator keyed with key (any length, hashed
// down to the blake2b key size).
func NewSecureISS(key []byte) SecureISS {
	var s SecureISS
	h, _ := blake2b.New256(nil)
	h.Write(key)
	copy(s.key[:], h.Sum(nil))
	return s
}

func (s SecureISS) ISS(local netip.Addr, localPort uint16, remote netip.Addr, remotePort uint16) seq {
	h, _ := blake2b.New256(s.key[:])
	la := local.As4()
	ra := remote.As4()
	h.Write(la[:])
	h.Write(ra[:])
	var ports [4]byte
	binary.BigEndian.PutUint16(ports[0:2], localPort)
	binary.BigEndian.PutUint16(ports[2:4], remotePort)
	h.Write(ports[:])
	sum := h.Sum(nil)
	clock := uint32(time.Now().UnixNano() / 4000)
	return seq(binary.BigEndian.Uint32(sum[:4]) + clock)
}
