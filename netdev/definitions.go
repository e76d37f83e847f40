// Package netdev implements the NetDevice abstraction of spec §3: a
// named link with MTU, MAC, and optional IP, with loopback and
// TAP-backed veth variants, plus the device manager that multiplexes
// their receive queues.
package netdev

import "errors"

const (
	// DefaultMTU is the MTU a device is given if not otherwise configured.
	DefaultMTU = 1500
	// ReceiveQueueCap bounds the manager's shared receive queue, per
	// spec §5's resource caps.
	ReceiveQueueCap = 8192
)

var (
	errDuplicateName   = errors.New("netdev: device name already in use")
	errDuplicateMAC    = errors.New("netdev: device MAC already in use")
	errOverlappingCIDR = errors.New("netdev: device subnet overlaps an existing veth")
	errUnknownDevice   = errors.New("netdev: unknown device")
	errClosed          = errors.New("netdev: device closed")
)

// Frame is one inbound Ethernet frame tagged with the device it
// arrived on, the unit carried on the manager's receive queue.
type Frame struct {
	Device string
	Data   []byte
}
