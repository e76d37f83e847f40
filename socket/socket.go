// Package socket implements the public socket-style API of spec §7:
// listen/accept/connect/read/write/close over the TCP stack; binding
// happens inside Listen and Connect.
package socket

import (
	"errors"
	"net/netip"

	"github.com/virtnet/tapstack/stack"
	"github.com/virtnet/tapstack/tcp"
)

// AF_INET is the only address family this module supports.
const AF_INET = 2

var (
	ErrUnsupportedFamily = errors.New("socket: unsupported address family")
	ErrNotBound          = errors.New("socket: not bound")
	ErrAlreadyListening  = errors.New("socket: already listening")
)

// Socket is the user-facing handle spec §7 describes: listen (which
// binds), accept, connect, read, write, and close, backed by one underlying
// tcp.Sock once connected or accepted.
type Socket struct {
	family int
	st     *stack.Stack

	sock *tcp.Sock
}

// New creates an unbound socket of the given address family.
func New(st *stack.Stack, family int) (*Socket, error) {
	if family != AF_INET {
		return nil, ErrUnsupportedFamily
	}
	return &Socket{family: family, st: st}, nil
}

// Listen binds to (ip, port) and puts the socket into the listening
// state with the given backlog, per spec §7.
func (s *Socket) Listen(ip netip.Addr, port uint16, backlog int) error {
	sock, err := s.st.TCP.Listen(ip, port, backlog)
	if err != nil {
		return err
	}
	s.sock = sock
	return nil
}

// Accept blocks until a pending connection on a listening socket
// completes its handshake, returning a new connected Socket. Call
// RemoteAddr on the result for the peer (ip, port) tuple spec §6's
// accept() also returns.
func (s *Socket) Accept() (*Socket, error) {
	if s.sock == nil {
		return nil, ErrNotBound
	}
	child, err := s.st.TCP.Accept(s.sock)
	if err != nil {
		return nil, err
	}
	return &Socket{family: s.family, st: s.st, sock: child}, nil
}

// Connect performs an active open to (remoteIP, remotePort) from
// localIP, auto-allocating a local port, per spec §7.
func (s *Socket) Connect(localIP, remoteIP netip.Addr, remotePort uint16) error {
	sock, err := s.st.TCP.Connect(localIP, 0, remoteIP, remotePort)
	if err != nil {
		return err
	}
	s.sock = sock
	return nil
}

// Read reads buffered data into buf and returns the filled portion,
// blocking until at least one byte arrives or the peer closes, per
// spec §6. A zero-length buf returns everything currently buffered.
func (s *Socket) Read(buf []byte) ([]byte, error) {
	if s.sock == nil {
		return nil, ErrNotBound
	}
	return s.sock.Read(buf)
}

// RemoteAddr returns the connected peer's (ip, port) tuple, per spec
// §6's accept() → (new_socket, (peer_ip, peer_port)).
func (s *Socket) RemoteAddr() (netip.Addr, uint16) {
	if s.sock == nil {
		return netip.Addr{}, 0
	}
	t := s.sock.Tuple()
	return t.RemoteIP, t.RemotePort
}

// Write queues data for transmission, per spec §7.
func (s *Socket) Write(data []byte) (int, error) {
	if s.sock == nil {
		return 0, ErrNotBound
	}
	return s.st.TCP.Write(s.sock, data)
}

// Close performs an active close on the underlying connection.
func (s *Socket) Close() error {
	if s.sock == nil {
		return nil
	}
	return s.st.TCP.Close(s.sock)
}

// State reports the underlying connection's RFC 793 state.
func (s *Socket) State() tcp.State {
	if s.sock == nil {
		return tcp.StateClosed
	}
	return s.sock.State()
}
