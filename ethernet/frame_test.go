package ethernet

import (
	"bytes"
	"testing"
)

func TestFrameRoundTrip(t *testing.T) {
	buf := make([]byte, 64)
	f, err := NewFrame(buf)
	if err != nil {
		t.Fatal(err)
	}
	src := Addr{0x02, 0, 0, 0, 0, 1}
	dst := Addr{0x02, 0, 0, 0, 0, 2}
	*f.Source() = src
	*f.Destination() = dst
	f.SetEtherType(TypeIPv4)

	f2, err := NewFrame(f.RawData())
	if err != nil {
		t.Fatal(err)
	}
	if *f2.Source() != src || *f2.Destination() != dst || f2.EtherType() != TypeIPv4 {
		t.Fatalf("round trip mismatch: %+v", f2)
	}
}

func TestClassify(t *testing.T) {
	iface := Addr{2, 2, 3, 4, 5, 6}
	cases := []struct {
		dst  Addr
		want Class
	}{
		{Broadcast(), ClassBroadcast},
		{Addr{0x01, 0, 0, 0, 0, 0}, ClassMulticast},
		{iface, ClassLocalhost},
		{Addr{8, 9, 9, 9, 9, 9}, ClassOtherhost},
	}
	for _, c := range cases {
		if got := Classify(c.dst, iface); got != c.want {
			t.Errorf("Classify(%v)=%v want %v", c.dst, got, c.want)
		}
	}
}

func TestSwapSourceDestination(t *testing.T) {
	buf := make([]byte, 14)
	f, _ := NewFrame(buf)
	*f.Source() = Addr{1, 1, 1, 1, 1, 1}
	*f.Destination() = Addr{2, 2, 2, 2, 2, 2}
	f.SwapSourceDestination()
	if !bytes.Equal(f.Source()[:], []byte{2, 2, 2, 2, 2, 2}) {
		t.Fatalf("source not swapped: %v", f.Source())
	}
	if !bytes.Equal(f.Destination()[:], []byte{1, 1, 1, 1, 1, 1}) {
		t.Fatalf("destination not swapped: %v", f.Destination())
	}
}

func TestRandomMAC(t *testing.T) {
	a, err := Random()
	if err != nil {
		t.Fatal(err)
	}
	if a[0] != 0x00 || a[1] != 0x0c || a[2] != 0x29 {
		t.Fatalf("unexpected OUI: %v", a)
	}
}
