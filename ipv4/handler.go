package ipv4

import (
	"log/slog"

	"github.com/pkg/errors"
	"github.com/stack-auth/pgmock"
	"github.com/stack-auth/pgmock/layer"
)

// MACResolver is the subset of the router needed to address outbound
// frames: given a destination IPv4 it returns the next-hop MAC (§4.4).
type MACResolver interface {
	ResolveMAC(ip pgmock.IPv4Address) (pgmock.MacAddress, bool)
}

// Datagram is what subprotocols (ICMP/UDP/TCP) receive from the IPv4
// layer: the decoded addresses a pseudo-header checksum or a TCP
// connection key needs, plus the protocol payload.
type Datagram struct {
	Src, Dst pgmock.IPv4Address
	TTL      uint8
	Payload  []byte
}

// Handler is the IPv4 layer: it decodes inbound Ethernet payloads,
// verifies and dispatches them by protocol number, and serializes
// outbound data from ICMP/UDP/TCP into Ethernet frames via SendFrame.
type Handler struct {
	LocalAddr pgmock.IPv4Address
	Resolver  MACResolver
	Logger    *slog.Logger

	byProto map[pgmock.IPProto]*layer.Dispatcher[Datagram]

	SendFrame func(dst pgmock.MacAddress, payload []byte) error
}

// Register adds a subprotocol dispatcher for the given IP protocol
// number. The dispatcher receives the decoded Datagram.
func (h *Handler) Register(proto pgmock.IPProto) *layer.Dispatcher[Datagram] {
	if h.byProto == nil {
		h.byProto = make(map[pgmock.IPProto]*layer.Dispatcher[Datagram])
	}
	d, ok := h.byProto[proto]
	if !ok {
		d = &layer.Dispatcher[Datagram]{}
		h.byProto[proto] = d
	}
	return d
}

func (h *Handler) logger() *slog.Logger {
	if h.Logger != nil {
		return h.Logger
	}
	return slog.Default()
}

// Demux decodes buf as an IPv4 packet, verifies it, and dispatches the
// Datagram by protocol number. Matches the ethernet.Handler dispatcher
// shape: func([]byte) (bool, error).
func (h *Handler) Demux(buf []byte) (consumed bool, err error) {
	frm, err := NewFrame(buf)
	if err != nil {
		h.logger().Warn("ipv4: short packet")
		return true, nil
	}
	var vld pgmock.Validator
	frm.ValidateIPv4(&vld)
	if vld.HasError() {
		h.logger().Warn("ipv4: malformed packet", slog.String("err", vld.ErrPop().Error()))
		return true, nil
	}
	if !frm.VerifyChecksum() {
		h.logger().Warn("ipv4: bad checksum, dropping")
		return true, nil
	}
	d, ok := h.byProto[frm.Protocol()]
	if !ok {
		h.logger().Debug("ipv4: no handler for protocol", slog.String("proto", frm.Protocol().String()))
		return true, nil
	}
	dgram := Datagram{Src: frm.SourceAddr(), Dst: frm.DestinationAddr(), TTL: frm.TTL(), Payload: frm.Payload()}
	_, err = d.Dispatch(dgram)
	if err != nil {
		h.logger().Warn("ipv4: subprotocol error", slog.String("err", err.Error()))
	}
	return true, nil
}

// Send builds an IPv4 header around payload addressed to dst and hands
// the whole packet to SendFrame after resolving dst's MAC via the
// router. An unresolvable destination is a transient impossibility
// (§7): it is returned as an error, never silently dropped.
func (h *Handler) Send(dst pgmock.IPv4Address, proto pgmock.IPProto, ttl, dscp uint8, payload []byte) error {
	mac, ok := h.Resolver.ResolveMAC(dst)
	if !ok {
		return errors.Wrapf(pgmock.ErrUnresolvedMAC, "destination %s", dst)
	}
	buf := make([]byte, pgmock.SizeHeaderIPv4+len(payload))
	frm, err := NewHeader(buf, h.LocalAddr, dst, proto, ttl, dscp, len(payload))
	if err != nil {
		return err
	}
	copy(frm.Payload()[:len(payload)], payload)
	// The header's checksum only covers the fixed 20-byte header and is
	// unaffected by payload bytes appended afterward, so it is already
	// valid as computed in NewHeader.
	if h.SendFrame == nil {
		return nil
	}
	return h.SendFrame(mac, buf)
}
