package tcp

import (
	"crypto/rand"
	"encoding/binary"
	"sync"
	"time"

	"github.com/stack-auth/pgmock"
)

// State is one of the six TCP connection states this stack models
// (§3, §4.8). There is no separate FIN_WAIT/TIME_WAIT/CLOSE_WAIT: any
// FIN moves a socket straight to CLOSED (see §9's open questions).
type State int

const (
	StateInit State = iota
	StateListen
	StateSynSent
	StateSynReceived
	StateEstablished
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "INIT"
	case StateListen:
		return "LISTEN"
	case StateSynSent:
		return "SYN_SENT"
	case StateSynReceived:
		return "SYN_RECEIVED"
	case StateEstablished:
		return "ESTABLISHED"
	case StateClosed:
		return "CLOSED"
	default:
		return "State(?)"
	}
}

// MaxSegmentPayload is the largest payload carried per segment (§4.8):
// Ethernet's 1500-byte MTU leaves headroom once IP/TCP headers are
// accounted for, so writes are split at 1200 bytes.
const MaxSegmentPayload = 1200

const defaultWindow = 65535

// scheduledSegment is an outstanding sent segment awaiting a cumulative
// ACK, identified by a monotonically increasing id rather than object
// identity (the REDESIGN FLAG in §9).
type scheduledSegment struct {
	id        uint64
	seq       uint32
	dataLen   uint32
	payload   []byte
	attempts  int
	timer     *time.Timer
	lastDelay time.Duration
}

// Socket is a single TCP connection: an immutable 4-tuple, its state,
// sequence/ack bookkeeping, the reliable-ingress holding queue, the
// unacked-sent retransmission queue, and the pre-ESTABLISHED write
// buffer (§3).
type Socket struct {
	SrcIP, DstIP     pgmock.IPv4Address
	SrcPort, DstPort uint16
	IsServer         bool

	mu    sync.Mutex
	state State
	seq   uint32 // next sequence number this side will send
	ack   uint32 // next sequence number expected from the peer

	holding        []Frame
	unacked        []*scheduledSegment
	preEstablished [][]byte
	nextID         uint64

	onData        func([]byte)
	onEstablished func()
	onClose       func()

	// Send transmits a fully-built TCP segment; wired by Stack to the
	// IPv4 layer addressed to DstIP/DstPort.
	Send func(payload []byte) error
	// ScheduleRetransmit arms a retry timer for a scheduled segment;
	// wired by Stack onto the ambient scheduler (§5). Nil in tests that
	// drive retransmission manually via Tick.
	ScheduleRetransmit func(s *Socket, seg *scheduledSegment, attempt int)
	// OnRetransmit, if set, is called each time Tick resends a segment
	// that was not acknowledged in time. Used for metrics; never affects
	// retry behavior.
	OnRetransmit func(attempt int)
}

// ConnectionKey is the string used to route inbound packets to this
// socket, constructed from the local side's perspective (§4.8).
func ConnectionKey(localIP pgmock.IPv4Address, localPort uint16, remoteIP pgmock.IPv4Address, remotePort uint16) string {
	return localIP.String() + ":" + portStr(localPort) + " -> " + remoteIP.String() + ":" + portStr(remotePort)
}

func portStr(p uint16) string {
	var buf [5]byte
	n := len(buf)
	if p == 0 {
		return "0"
	}
	for p > 0 {
		n--
		buf[n] = byte('0' + p%10)
		p /= 10
	}
	return string(buf[n:])
}

// Key returns this socket's connection key, keyed on its own (local)
// side: SrcIP:SrcPort -> DstIP:DstPort.
func (s *Socket) Key() string { return ConnectionKey(s.SrcIP, s.SrcPort, s.DstIP, s.DstPort) }

// ConnectionString is the exported form of Key used by the upward
// socket API (§6).
func (s *Socket) ConnectionString() string { return s.Key() }

// State returns the socket's current state.
func (s *Socket) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// IsClosed reports whether the socket has reached CLOSED.
func (s *Socket) IsClosed() bool { return s.State() == StateClosed }

// OnEstablished, OnData, and OnClose register the socket's push-style
// subscriptions (§6). OnEstablished and OnData replace any earlier
// callback; OnClose callbacks accumulate and all fire, in registration
// order.
func (s *Socket) OnEstablished(cb func())    { s.onEstablished = cb }
func (s *Socket) OnData(cb func([]byte))     { s.onData = cb }
func (s *Socket) OnClose(cb func()) {
	prev := s.onClose
	if prev == nil {
		s.onClose = cb
		return
	}
	s.onClose = func() { prev(); cb() }
}

// NewInitialSeq draws a cryptographically random 30-bit value, floored
// to the nearest multiple of 100 to aid human debugging (§4.8).
func NewInitialSeq() uint32 {
	var b [4]byte
	rand.Read(b[:])
	v := binary.BigEndian.Uint32(b[:]) & 0x3fffffff // 30 bits
	return v - v%100
}

// Listen transitions INIT → LISTEN. Server sockets only (§4.8).
func (s *Socket) Listen() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateInit {
		return errBadTransition
	}
	s.state = StateListen
	return nil
}

// Connect transitions INIT → SYN_SENT, emitting a SYN with iss and
// advancing the local sequence number by 1 (§4.8).
func (s *Socket) Connect(iss uint32) error {
	s.mu.Lock()
	if s.state != StateInit {
		s.mu.Unlock()
		return errBadTransition
	}
	s.seq = iss
	s.state = StateSynSent
	seg := s.buildSegment(s.seq, 0, FlagSYN, nil)
	s.seq++
	s.mu.Unlock()
	return s.sendScheduled(seg, 0)
}

// Write queues bytes for transmission. Before ESTABLISHED, bytes are
// buffered in the pre-established queue and drained in order once
// ESTABLISHED is entered (§4.8, §5, and DESIGN.md's resolution of the
// corresponding open question). Once ESTABLISHED, payloads are split
// into MaxSegmentPayload-byte segments and sent immediately.
func (s *Socket) Write(b []byte) error {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return pgmock.ErrNotConnected
	}
	if s.state != StateEstablished {
		cp := append([]byte(nil), b...)
		s.preEstablished = append(s.preEstablished, cp)
		s.mu.Unlock()
		return nil
	}
	segs := s.splitAndSend(b)
	s.mu.Unlock()
	for _, seg := range segs {
		if err := s.sendScheduled(seg.payload, seg.dataLen); err != nil {
			return err
		}
	}
	return nil
}

// splitAndSend must be called with s.mu held. It builds PSH/ACK
// segments for b split at MaxSegmentPayload, advancing s.seq.
func (s *Socket) splitAndSend(b []byte) []*scheduledSegment {
	var out []*scheduledSegment
	for len(b) > 0 {
		n := len(b)
		if n > MaxSegmentPayload {
			n = MaxSegmentPayload
		}
		chunk := b[:n]
		b = b[n:]
		seg := s.buildSegment(s.seq, s.ack, FlagACK|FlagPSH, chunk)
		out = append(out, &scheduledSegment{seq: s.seq, dataLen: uint32(n), payload: seg})
		s.seq += uint32(n)
	}
	return out
}

// buildSegment must be called with s.mu held (it reads s.SrcIP etc.,
// which are immutable, so this is really just documentation of intent).
func (s *Socket) buildSegment(seq, ack uint32, flags Flags, payload []byte) []byte {
	buf := make([]byte, pgmock.SizeHeaderTCP+len(payload))
	NewSegment(buf, s.SrcIP, s.DstIP, s.SrcPort, s.DstPort, seq, ack, flags, defaultWindow, payload)
	return buf
}

// sendScheduled transmits payload and, if dataLen>0 or it carries
// SYN/FIN, registers it for retransmission (§4.8's "every SYN, FIN, or
// data-bearing packet"). Pure ACKs are sent once, not retransmitted.
func (s *Socket) sendScheduled(payload []byte, dataLen uint32) error {
	frm, _ := NewFrame(payload)
	flags := frm.Flags()
	retransmit := dataLen > 0 || flags.Has(FlagSYN) || flags.Has(FlagFIN)

	if s.Send != nil {
		if err := s.Send(payload); err != nil {
			return err
		}
	}
	if !retransmit {
		return nil
	}
	s.mu.Lock()
	s.nextID++
	seg := &scheduledSegment{id: s.nextID, seq: frm.Seq(), dataLen: dataLen, payload: payload}
	s.unacked = append(s.unacked, seg)
	s.mu.Unlock()
	if s.ScheduleRetransmit != nil {
		s.ScheduleRetransmit(s, seg, 1)
	}
	return nil
}

// HandleSegment processes one inbound TCP segment against this socket's
// current state. A FIN in any state closes the socket. For a LISTEN
// socket receiving a SYN (defensively checked per §9: SYN set and ACK
// unset), it sends a SYN+ACK. For ESTABLISHED sockets it drains the
// holding queue per §4.8's reliable-ingress rules.
func (s *Socket) HandleSegment(frm Frame) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if frm.Flags().Has(FlagFIN) && s.state != StateClosed {
		s.closeLocked()
		return nil
	}

	switch s.state {
	case StateListen:
		if !frm.Flags().Has(FlagSYN) || frm.Flags().Has(FlagACK) {
			return nil // defensive SYN check (§9 REDESIGN FLAG)
		}
		s.ack = frm.Seq() + 1
		s.state = StateSynReceived
		seg := s.buildSegment(s.seq, s.ack, FlagSYN|FlagACK, nil)
		s.seq++
		s.mu.Unlock()
		err := s.sendScheduled(seg, 0)
		s.mu.Lock()
		return err

	case StateSynReceived:
		if !frm.Flags().Has(FlagACK) {
			return nil
		}
		s.retireAcked(frm.Ack())
		s.enterEstablished()
		return nil

	case StateSynSent:
		if frm.Flags().Has(FlagSYN) && frm.Flags().Has(FlagACK) {
			s.ack = frm.Seq() + 1
			s.retireAcked(frm.Ack())
			ackSeg := s.buildSegment(s.seq, s.ack, FlagACK, nil)
			s.mu.Unlock()
			err := s.sendScheduled(ackSeg, 0) // bare ACK, no seq advance (§4.8)
			s.mu.Lock()
			if err != nil {
				return err
			}
			s.enterEstablished()
		}
		return nil

	case StateEstablished:
		s.retireAcked(frm.Ack())
		s.holding = append(s.holding, frm)
		s.drainHolding()
		return nil

	default:
		return nil
	}
}

// enterEstablished fires onEstablished and drains the pre-established
// write queue in order (§4.8, and DESIGN.md's resolution of the
// pre-ESTABLISHED write buffering open question). Must be called with
// s.mu held; it releases and re-acquires it to invoke callbacks and
// sends without holding the lock.
func (s *Socket) enterEstablished() {
	s.state = StateEstablished
	cb := s.onEstablished
	pending := s.preEstablished
	s.preEstablished = nil
	s.mu.Unlock()
	if cb != nil {
		cb()
	}
	for _, b := range pending {
		s.mu.Lock()
		segs := s.splitAndSend(b)
		s.mu.Unlock()
		for _, seg := range segs {
			s.sendScheduled(seg.payload, seg.dataLen)
		}
	}
	s.mu.Lock()
}

// drainHolding implements §4.8's reliable-ingress rule: while a queued
// segment with seq <= ack exists, dequeue it; seq < ack is a
// retransmission (mark ACK due, do not redeliver); otherwise advance ack
// and deliver data. After draining, a bare ACK is sent if anything was
// processed. Must be called with s.mu held.
func (s *Socket) drainHolding() {
	mustACK := false
	for {
		idx := -1
		for i, f := range s.holding {
			// Plain uint32 comparison: sequence-number wraparound is not handled.
			if f.Seq() <= s.ack {
				idx = i
				break
			}
		}
		if idx < 0 {
			break
		}
		f := s.holding[idx]
		s.holding = append(s.holding[:idx], s.holding[idx+1:]...)
		mustACK = true
		if f.Seq() < s.ack {
			continue // retransmission: ACK due, no redelivery
		}
		data := f.Data()
		s.ack += uint32(len(data))
		if len(data) > 0 && s.onData != nil {
			cb := s.onData
			cpy := append([]byte(nil), data...)
			s.mu.Unlock()
			cb(cpy)
			s.mu.Lock()
		}
	}
	if mustACK {
		seg := s.buildSegment(s.seq, s.ack, FlagACK, nil)
		s.mu.Unlock()
		s.sendScheduled(seg, 0)
		s.mu.Lock()
	}
}

// retireAcked removes every scheduled segment cumulatively acknowledged
// by ackNum: ack >= seg.seq + seg.dataLen retires a data segment, and
// ack >= seg.seq + 1 retires a SYN, which occupies one sequence number
// (§4.8). Must be called with s.mu held.
func (s *Socket) retireAcked(ackNum uint32) {
	kept := s.unacked[:0]
	for _, seg := range s.unacked {
		end := seg.seq + seg.dataLen
		if seg.dataLen == 0 {
			end++ // SYN occupies one sequence number
		}
		if ackNum >= end {
			if seg.timer != nil {
				seg.timer.Stop()
			}
			continue
		}
		kept = append(kept, seg)
	}
	s.unacked = kept
}

// Tick is called by the retransmission scheduler (directly by tests, or
// via Stack's time.AfterFunc wiring) for one outstanding segment. It
// resends the segment, or closes the socket once attempts are exhausted
// (§4.8: up to 10 tries).
func (s *Socket) Tick(seg *scheduledSegment, attempt int) {
	s.mu.Lock()
	stillPending := false
	for _, o := range s.unacked {
		if o.id == seg.id {
			stillPending = true
			break
		}
	}
	closed := s.state == StateClosed
	s.mu.Unlock()
	if !stillPending || closed {
		return // acknowledged or socket torn down; nothing to retry
	}
	const maxAttempts = 10
	if attempt > maxAttempts {
		s.closeWith(nil)
		return
	}
	if s.Send != nil {
		s.Send(seg.payload)
	}
	if s.OnRetransmit != nil {
		s.OnRetransmit(attempt)
	}
	if s.ScheduleRetransmit != nil {
		s.ScheduleRetransmit(s, seg, attempt+1)
	}
}

// Close best-effort emits one FIN in the current tick if the socket is
// ESTABLISHED (not itself retransmitted — the four-way handshake remains
// a non-goal); from any other state it sends nothing. It then
// transitions straight to CLOSED, firing close callbacks (§9's
// resolution of the "close() doesn't emit FIN" open question).
func (s *Socket) Close() error {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return nil
	}
	wasEstablished := s.state == StateEstablished
	seq := s.seq
	ack := s.ack
	s.mu.Unlock()
	if wasEstablished && s.Send != nil {
		fin := s.buildSegment(seq, ack, FlagFIN|FlagACK, nil)
		s.Send(fin)
	}
	s.closeWith(nil)
	return nil
}

func (s *Socket) closeWith(extra func()) {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return
	}
	s.closeLocked()
	s.mu.Unlock()
	if extra != nil {
		extra()
	}
}

// closeLocked must be called with s.mu held.
func (s *Socket) closeLocked() {
	s.state = StateClosed
	for _, seg := range s.unacked {
		if seg.timer != nil {
			seg.timer.Stop()
		}
	}
	s.unacked = nil
	cb := s.onClose
	if cb != nil {
		s.mu.Unlock()
		cb()
		s.mu.Lock()
	}
}

var errBadTransition = badTransitionError{}

type badTransitionError struct{}

func (badTransitionError) Error() string { return "tcp: invalid state transition" }
