package icmp

import (
	"crypto/rand"
	"encoding/binary"
	"log/slog"
	"sync"

	"github.com/stack-auth/pgmock"
	"github.com/stack-auth/pgmock/ipv4"
)

// Handler is the ICMP layer: it answers echo requests addressed to
// PingServer and resolves outstanding Ping futures on a matching echo
// reply (§4.5). Echo requests for other addresses and other message
// types are returned unconsumed; the handler has no upward delivery of
// decoded data.
type Handler struct {
	// PingServer is the address this handler answers echo requests for,
	// even though no upper-layer socket is bound there (glossary).
	PingServer pgmock.IPv4Address
	Logger     *slog.Logger

	mu      sync.Mutex
	waiters map[uint32]chan error

	Send func(dst pgmock.IPv4Address, payload []byte) error
}

func (h *Handler) logger() *slog.Logger {
	if h.Logger != nil {
		return h.Logger
	}
	return slog.Default()
}

// Ping sends an echo request from srcIp to destIp and returns a future
// that resolves (with a nil error) when the matching reply arrives.
func (h *Handler) Ping(srcIp, destIp pgmock.IPv4Address) <-chan error {
	var keyBuf [4]byte
	rand.Read(keyBuf[:])
	key := binary.BigEndian.Uint32(keyBuf[:])
	id := uint16(key >> 16)
	seq := uint16(key)

	done := make(chan error, 1)
	h.mu.Lock()
	if h.waiters == nil {
		h.waiters = make(map[uint32]chan error)
	}
	h.waiters[key] = done
	h.mu.Unlock()

	buf := make([]byte, pgmock.SizeHeaderICMP)
	frm, err := NewEcho(buf, TypeEchoRequest, id, seq, nil)
	if err != nil {
		done <- err
		return done
	}
	if h.Send != nil {
		if err := h.Send(destIp, frm.RawData()); err != nil {
			h.mu.Lock()
			delete(h.waiters, key)
			h.mu.Unlock()
			done <- err
		}
	}
	return done
}

// Demux implements the layer.Handler[ipv4.Datagram] shape registered on
// the IPv4 dispatcher for ProtoICMP.
func (h *Handler) Demux(dgram ipv4.Datagram) (consumed bool, err error) {
	frm, err := NewFrame(dgram.Payload)
	if err != nil {
		h.logger().Warn("icmp: short message")
		return true, nil
	}
	if frm.Code() != 0 || !frm.VerifyChecksum() {
		h.logger().Warn("icmp: malformed message, dropping")
		return true, nil
	}
	switch frm.Type() {
	case TypeEchoRequest:
		if dgram.Dst != h.PingServer {
			return false, nil
		}
		reply := make([]byte, pgmock.SizeHeaderICMP+len(frm.Payload()))
		if _, err := NewEcho(reply, TypeEchoReply, frm.Identifier(), frm.Sequence(), frm.Payload()); err != nil {
			return true, err
		}
		if h.Send != nil {
			if err := h.Send(dgram.Src, reply); err != nil {
				return true, err
			}
		}
		return true, nil
	case TypeEchoReply:
		key := frm.Key()
		h.mu.Lock()
		done, ok := h.waiters[key]
		if ok {
			delete(h.waiters, key)
		}
		h.mu.Unlock()
		if ok {
			done <- nil
		}
		return true, nil
	default:
		return false, nil
	}
}
