// Command tapstack hosts a complete user-space TCP/IP stack on a TAP
// device, answering ARP and ICMP echo and serving one listening TCP
// port, per spec §6.
package main

import (
	"crypto/rand"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/netip"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/virtnet/tapstack/netdev"
	"github.com/virtnet/tapstack/socket"
	"github.com/virtnet/tapstack/stack"
	"github.com/virtnet/tapstack/tcp"
)

func main() {
	var (
		tapName     = flag.String("tap", "tap0", "TAP device name")
		cidr        = flag.String("addr", "192.168.10.1/24", "TAP device address/prefix")
		listenPort  = flag.Uint("port", 7, "TCP port to listen on and echo")
		metricsAddr = flag.String("metrics", ":9273", "Prometheus metrics listen address, empty to disable")
		verbose     = flag.Bool("v", false, "enable debug logging")
	)
	flag.Parse()

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	if err := run(log, *tapName, *cidr, uint16(*listenPort), *metricsAddr); err != nil {
		log.Error("tapstack exited", slog.String("err", err.Error()))
		os.Exit(1)
	}
}

func run(log *slog.Logger, tapName, cidr string, port uint16, metricsAddr string) error {
	prefix, err := netip.ParsePrefix(cidr)
	if err != nil {
		return fmt.Errorf("parsing -addr: %w", err)
	}

	tap, err := netdev.NewTap(tapName, prefix)
	if err != nil {
		return fmt.Errorf("opening tap device: %w", err)
	}

	devices := netdev.NewManager(log)

	var issKey [32]byte
	if _, err := rand.Read(issKey[:]); err != nil {
		return fmt.Errorf("generating ISS key: %w", err)
	}

	st, err := stack.New(devices, stack.Config{ISS: tcp.NewSecureISS(issKey[:]), Log: log})
	if err != nil {
		return fmt.Errorf("building stack: %w", err)
	}

	lo := netdev.NewLoopback("lo", netip.MustParsePrefix("127.0.0.1/8"))
	if err := st.AddDevice(lo, "lo"); err != nil {
		return fmt.Errorf("registering loopback device: %w", err)
	}
	if err := st.AddDevice(tap, "lo"); err != nil {
		return fmt.Errorf("registering tap device: %w", err)
	}
	st.Run()
	defer st.Stop()

	if metricsAddr != "" {
		go serveMetrics(log, metricsAddr)
	}

	sock, err := socket.New(st, socket.AF_INET)
	if err != nil {
		return err
	}
	if err := sock.Listen(prefix.Addr(), port, tcp.DefaultBacklog); err != nil {
		return fmt.Errorf("listening on %s:%d: %w", prefix.Addr(), port, err)
	}
	log.Info("tapstack listening", slog.String("device", tapName), slog.String("addr", prefix.Addr().String()), slog.Uint64("port", uint64(port)))

	go acceptLoop(log, sock)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig
	return nil
}

// acceptLoop echoes every byte read back to its sender, one goroutine
// per connection, until the peer closes.
func acceptLoop(log *slog.Logger, listener *socket.Socket) {
	for {
		conn, err := listener.Accept()
		if err != nil {
			log.Error("accept failed", slog.String("err", err.Error()))
			return
		}
		go echo(log, conn)
	}
}

func echo(log *slog.Logger, conn *socket.Socket) {
	defer conn.Close()
	buf := make([]byte, 4096)
	for {
		data, err := conn.Read(buf)
		if err != nil {
			return
		}
		if _, err := conn.Write(data); err != nil {
			log.Warn("write failed", slog.String("err", err.Error()))
			return
		}
	}
}

func serveMetrics(log *slog.Logger, addr string) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		log.Error("metrics listener failed", slog.String("err", err.Error()))
		return
	}
	log.Info("metrics listening", slog.String("addr", listener.Addr().String()))
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	if err := http.Serve(listener, mux); err != nil {
		log.Error("metrics server failed", slog.String("err", err.Error()))
	}
}
