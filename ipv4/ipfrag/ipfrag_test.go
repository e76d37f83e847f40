package ipfrag

import (
	"net/netip"
	"testing"

	"github.com/virtnet/tapstack/ipv4"
)

const ethHdrLen = 14

func buildFragment(t *testing.T, id uint16, src, dst netip.Addr, offset8 uint16, more bool, data []byte) []byte {
	t.Helper()
	buf := make([]byte, ethHdrLen+20+len(data))
	f, err := ipv4.NewFrame(buf[ethHdrLen:])
	if err != nil {
		t.Fatal(err)
	}
	f.SetVersionAndIHL(4, 5)
	f.SetTotalLength(uint16(20 + len(data)))
	f.SetID(id)
	f.SetFlags(ipv4.MakeFlags(false, more, offset8))
	f.SetTTL(64)
	f.SetProtocol(ipv4.ProtoICMP)
	f.SetSource(src)
	f.SetDestination(dst)
	copy(f.Payload(), data)
	f.SetChecksum(0)
	f.SetChecksum(f.CalculateHeaderChecksum())
	return buf
}

func TestReassembleTwoFragments(t *testing.T) {
	src := netip.MustParseAddr("10.0.0.1")
	dst := netip.MustParseAddr("10.0.0.2")

	first := make([]byte, 16)
	for i := range first {
		first[i] = byte(i)
	}
	second := make([]byte, 8)
	for i := range second {
		second[i] = byte(0x80 + i)
	}

	c := NewCache()
	f1 := buildFragment(t, 42, src, dst, 0, true, first)
	out, err := c.Insert(ethHdrLen, f1)
	if err != nil {
		t.Fatal(err)
	}
	if out != nil {
		t.Fatal("expected incomplete after first fragment")
	}

	f2 := buildFragment(t, 42, src, dst, 2, false, second) // offset 16 bytes = 2*8
	out, err = c.Insert(ethHdrLen, f2)
	if err != nil {
		t.Fatal(err)
	}
	if out == nil {
		t.Fatal("expected reassembled packet after last fragment")
	}

	ipf, err := ipv4.NewFrame(out[ethHdrLen:])
	if err != nil {
		t.Fatal(err)
	}
	if err := ipf.ValidateSize(); err != nil {
		t.Fatalf("reassembled packet invalid: %v", err)
	}
	if got, want := len(ipf.Payload()), len(first)+len(second); got != want {
		t.Fatalf("payload length = %d, want %d", got, want)
	}
	if c.Len() != 0 {
		t.Fatal("expected context to be cleared after completion")
	}
}

func TestDuplicateLastFragmentRejected(t *testing.T) {
	src := netip.MustParseAddr("10.0.0.1")
	dst := netip.MustParseAddr("10.0.0.2")
	c := NewCache()
	f := buildFragment(t, 7, src, dst, 1, false, make([]byte, 8))
	if _, err := c.Insert(ethHdrLen, f); err != nil {
		t.Fatal(err)
	}
	if _, err := c.Insert(ethHdrLen, f); err == nil {
		t.Fatal("expected error on duplicate last fragment")
	}
}

func TestOverlapRejected(t *testing.T) {
	src := netip.MustParseAddr("10.0.0.1")
	dst := netip.MustParseAddr("10.0.0.2")
	c := NewCache()
	f1 := buildFragment(t, 9, src, dst, 0, true, make([]byte, 16))
	if _, err := c.Insert(ethHdrLen, f1); err != nil {
		t.Fatal(err)
	}
	// overlaps with first fragment's [0,16) range
	f2 := buildFragment(t, 9, src, dst, 1, true, make([]byte, 16))
	if _, err := c.Insert(ethHdrLen, f2); err == nil {
		t.Fatal("expected overlap error")
	}
}

func TestTickExpiresStaleContext(t *testing.T) {
	src := netip.MustParseAddr("10.0.0.1")
	dst := netip.MustParseAddr("10.0.0.2")
	c := NewCache()
	c.ttl = 0 // force immediate expiry regardless of default
	f := buildFragment(t, 3, src, dst, 0, true, make([]byte, 8))
	if _, err := c.Insert(ethHdrLen, f); err != nil {
		t.Fatal(err)
	}
	c.Tick()
	if c.Len() != 0 {
		t.Fatal("expected stale context to expire")
	}
}
