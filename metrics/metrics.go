// Package metrics exposes Prometheus counters and gauges for the
// ambient stack: per-device packet counts, ARP cache health, IPv4
// reassembly, and TCP connection state, per SPEC_FULL.md's metrics
// component.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	DeviceRxPackets = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tapstack_device_rx_packets_total", Help: "Total frames received per device.",
	}, []string{"device"})
	DeviceTxPackets = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tapstack_device_tx_packets_total", Help: "Total frames transmitted per device.",
	}, []string{"device"})
	DeviceRxDrops = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tapstack_device_rx_drops_total", Help: "Frames dropped because the receive queue was full.",
	}, []string{"device"})

	ARPCacheSize = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tapstack_arp_cache_entries", Help: "Current number of ARP cache entries.",
	})
	ARPRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tapstack_arp_retries_total", Help: "Total ARP request retransmissions.",
	})
	ARPExpirations = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tapstack_arp_expirations_total", Help: "Total ARP entries expired or abandoned.",
	})
	ARPPendingDrops = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tapstack_arp_pending_drops_total", Help: "Packets dropped from a full per-entry pending queue.",
	})

	IPReassemblyContexts = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tapstack_ip_reassembly_contexts", Help: "Current number of in-progress fragment reassembly contexts.",
	})
	IPReassemblyDrops = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tapstack_ip_reassembly_drops_total", Help: "Fragments rejected (overlap, duplicate, or stale) during reassembly.",
	})
	IPReassemblyTimeouts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tapstack_ip_reassembly_timeouts_total", Help: "Fragment reassembly contexts that expired incomplete.",
	})

	TCPConnectionsByState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "tapstack_tcp_connections", Help: "Current number of TCP connections by state.",
	}, []string{"state"})
	TCPSegmentsIn = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tapstack_tcp_segments_in_total", Help: "Total inbound TCP segments processed.",
	})
	TCPSegmentsOut = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tapstack_tcp_segments_out_total", Help: "Total outbound TCP segments transmitted.",
	})
	TCPUnsentTailDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tapstack_tcp_unsent_tail_dropped_total", Help: "Connections closed with unsent data still in the send buffer.",
	})
	TCPBacklogFull = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tapstack_tcp_backlog_full_total", Help: "SYNs rejected because the listen backlog was full.",
	})
)
