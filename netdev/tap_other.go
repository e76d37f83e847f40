//go:build !linux

package netdev

import (
	"errors"
	"net/netip"

	"github.com/virtnet/tapstack/ethernet"
)

// Tap is unsupported outside Linux; TAP devices are a Linux-only
// external interface per spec §6.
type Tap struct{}

func NewTap(name string, prefix netip.Prefix) (*Tap, error) {
	return nil, errors.ErrUnsupported
}

func (t *Tap) Name() string                 { return "" }
func (t *Tap) MAC() ethernet.Addr           { return ethernet.Addr{} }
func (t *Tap) Prefix() (netip.Prefix, bool) { return netip.Prefix{}, false }
func (t *Tap) MTU() int                     { return 0 }
func (t *Tap) IsLoopback() bool             { return false }
func (t *Tap) Counters() Counters           { return Counters{} }
func (t *Tap) Send(frame []byte) error      { return errors.ErrUnsupported }
func (t *Tap) Recv(buf []byte) (int, error) { return 0, errors.ErrUnsupported }
func (t *Tap) Close() error                 { return errors.ErrUnsupported }
