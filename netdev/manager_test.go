package netdev

import (
	"net/netip"
	"testing"
	"time"
)

func TestLoopbackEchoesSend(t *testing.T) {
	lo := NewLoopback("lo", netip.MustParsePrefix("127.0.0.0/8"))
	defer lo.Close()

	if err := lo.Send([]byte("hello")); err != nil {
		t.Fatal(err)
	}
	buf := make([]byte, 64)
	n, err := lo.Recv(buf)
	if err != nil {
		t.Fatal(err)
	}
	if string(buf[:n]) != "hello" {
		t.Fatalf("expected echoed frame, got %q", buf[:n])
	}
}

func TestManagerRejectsDuplicateName(t *testing.T) {
	m := NewManager(nil)
	defer m.Close()

	lo1 := NewLoopback("lo", netip.MustParsePrefix("127.0.0.0/8"))
	if err := m.Add(lo1); err != nil {
		t.Fatal(err)
	}
	lo2 := NewLoopback("lo", netip.MustParsePrefix("127.0.0.0/8"))
	if err := m.Add(lo2); err == nil {
		t.Fatal("expected duplicate name rejection")
	}
}

func TestManagerMultiplexesFrames(t *testing.T) {
	m := NewManager(nil)
	defer m.Close()

	lo := NewLoopback("lo", netip.MustParsePrefix("127.0.0.0/8"))
	if err := m.Add(lo); err != nil {
		t.Fatal(err)
	}
	if err := lo.Send([]byte("ping")); err != nil {
		t.Fatal(err)
	}

	select {
	case f := <-m.Frames():
		if f.Device != "lo" || string(f.Data) != "ping" {
			t.Fatalf("unexpected frame %+v", f)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for multiplexed frame")
	}
}

func TestManagerDeviceAccessors(t *testing.T) {
	m := NewManager(nil)
	defer m.Close()

	lo := NewLoopback("lo", netip.MustParsePrefix("127.0.0.1/8"))
	if err := m.Add(lo); err != nil {
		t.Fatal(err)
	}
	if mtu, ok := m.MTU("lo"); !ok || mtu != DefaultMTU {
		t.Fatalf("expected default MTU, got %d %v", mtu, ok)
	}
	if !m.IsLoopback("lo") {
		t.Fatal("expected lo to report as loopback")
	}
	if _, ok := m.MAC("nonexistent"); ok {
		t.Fatal("expected lookup miss for unknown device")
	}
}
