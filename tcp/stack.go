package tcp

import (
	"log/slog"
	"sync"

	"github.com/stack-auth/pgmock"
	"github.com/stack-auth/pgmock/ipv4"
)

// Stack is the TCP connection registry of §4.8/§6: it routes inbound
// segments to sockets by connection key, creates server sockets for
// listening addresses on inbound SYNs, and implements the upward
// connect/listen/listenExact API.
type Stack struct {
	Logger *slog.Logger

	// SendSegment transmits a raw TCP segment to dst; wired by the
	// adapter onto the IPv4 layer with protocol TCP.
	SendSegment func(dst pgmock.IPv4Address, payload []byte) error

	// Instrument, if set, is called once for every socket this Stack
	// creates (via Connect, ListenExact, or an accepted inbound SYN),
	// before it is handed to the caller or entered into LISTEN/SYN_SENT.
	// The adapter uses this to attach metrics callbacks.
	Instrument func(*Socket)

	mu        sync.Mutex
	conns     map[string]*Socket
	listeners map[string]func(*Socket)
}

func (s *Stack) init() {
	if s.conns == nil {
		s.conns = make(map[string]*Socket)
		s.listeners = make(map[string]func(*Socket))
	}
}

func (s *Stack) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}

func listenKey(ip pgmock.IPv4Address, port uint16) string {
	return ip.String() + ":" + portStr(port)
}

// newSocket builds a Socket wired to this stack's Send and retransmit
// scheduler.
func (s *Stack) newSocket(srcIP pgmock.IPv4Address, srcPort uint16, dstIP pgmock.IPv4Address, dstPort uint16, isServer bool) *Socket {
	sock := &Socket{
		SrcIP: srcIP, SrcPort: srcPort,
		DstIP: dstIP, DstPort: dstPort,
		IsServer:           isServer,
		ScheduleRetransmit: RealScheduler,
	}
	if isServer {
		sock.seq = NewInitialSeq() // client sockets draw theirs in Connect
	}
	sock.Send = func(payload []byte) error {
		if s.SendSegment == nil {
			return nil
		}
		return s.SendSegment(dstIP, payload)
	}
	if s.Instrument != nil {
		s.Instrument(sock)
	}
	return sock
}

// register installs sock under key, honoring §3's invariant: only one
// socket may occupy a connection key, but replacing a CLOSED one is
// permitted. Must be called with s.mu held.
func (s *Stack) register(key string, sock *Socket) error {
	if existing, ok := s.conns[key]; ok && existing.State() != StateClosed {
		return pgmock.ErrDuplicateSocket
	}
	s.conns[key] = sock
	return nil
}

// Listen registers onAccept to be invoked with each new server socket
// created for an inbound connection to ip:port. At most one listener per
// address is permitted (§6); duplicate registration is
// pgmock.ErrDoubleListen.
func (s *Stack) Listen(ip pgmock.IPv4Address, port uint16, onAccept func(*Socket)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.init()
	key := listenKey(ip, port)
	if _, exists := s.listeners[key]; exists {
		return pgmock.ErrDoubleListen
	}
	s.listeners[key] = onAccept
	return nil
}

// Connect registers a new socket for the explicit 4-tuple and sends the
// initial SYN from SYN_SENT (§6, §4.8).
func (s *Stack) Connect(srcIP, destIP pgmock.IPv4Address, srcPort, destPort uint16) (*Socket, error) {
	sock := s.newSocket(srcIP, srcPort, destIP, destPort, false)

	s.mu.Lock()
	s.init()
	if err := s.register(sock.Key(), sock); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	s.mu.Unlock()

	iss := NewInitialSeq()
	if err := sock.Connect(iss); err != nil {
		return nil, err
	}
	return sock, nil
}

// ListenExact registers a socket pinned to one specific client 4-tuple,
// transitioned straight to LISTEN (§6). Unlike Listen, no catch-all
// listener is consulted for this address/port: the pinned socket itself
// satisfies the ordinary connection-key lookup in Demux.
func (s *Stack) ListenExact(serverIP, clientIP pgmock.IPv4Address, serverPort, clientPort uint16) (*Socket, error) {
	sock := s.newSocket(serverIP, serverPort, clientIP, clientPort, true)

	s.mu.Lock()
	s.init()
	if err := s.register(sock.Key(), sock); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	s.mu.Unlock()

	if err := sock.Listen(); err != nil {
		return nil, err
	}
	return sock, nil
}

// Demux implements the layer.Handler[ipv4.Datagram] shape registered on
// the IPv4 dispatcher for ProtoTCP: it routes a segment to its existing
// socket by connection key, or — for an inbound SYN on a listened
// address with no (or a CLOSED) socket registered — creates a fresh
// server socket (§4.8's "Registration and dispatch").
func (s *Stack) Demux(dgram ipv4.Datagram) (consumed bool, err error) {
	frm, err := NewFrame(dgram.Payload)
	if err != nil {
		s.logger().Warn("tcp: short segment")
		return true, nil
	}
	if !frm.VerifyChecksum(dgram.Src, dgram.Dst) {
		s.logger().Warn("tcp: bad checksum, dropping")
		return true, nil
	}

	key := ConnectionKey(dgram.Dst, frm.DestinationPort(), dgram.Src, frm.SourcePort())

	s.mu.Lock()
	s.init()
	sock, ok := s.conns[key]
	if ok && sock.State() != StateClosed {
		s.mu.Unlock()
		return true, sock.HandleSegment(frm)
	}

	onAccept, listening := s.listeners[listenKey(dgram.Dst, frm.DestinationPort())]
	if !listening {
		s.mu.Unlock()
		s.logger().Debug("tcp: no listener for address", slog.String("addr", listenKey(dgram.Dst, frm.DestinationPort())))
		return true, nil
	}
	if !frm.Flags().Has(FlagSYN) || frm.Flags().Has(FlagACK) {
		s.mu.Unlock()
		return true, nil // defensive check (§9 REDESIGN FLAG): only a bare SYN opens a server socket
	}
	sock = s.newSocket(dgram.Dst, frm.DestinationPort(), dgram.Src, frm.SourcePort(), true)
	_ = sock.Listen()
	s.conns[key] = sock // replaces a CLOSED entry, if any (§3)
	s.mu.Unlock()

	// The listener's callback fires now, at LISTEN, not deferred to
	// ESTABLISHED (§4.8): a handshake that never completes must still
	// hand the caller a socket to observe via its own OnEstablished/
	// OnClose hooks.
	if onAccept != nil {
		onAccept(sock)
	}
	return true, sock.HandleSegment(frm)
}
