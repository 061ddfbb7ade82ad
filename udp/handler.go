package udp

import (
	"log/slog"

	"github.com/stack-auth/pgmock"
	"github.com/stack-auth/pgmock/ipv4"
	"github.com/stack-auth/pgmock/layer"
)

// Datagram is what a registered port handler (e.g. the DHCP server)
// receives: the decoded addresses and ports plus the UDP payload.
type Datagram struct {
	Src, Dst         pgmock.IPv4Address
	SrcPort, DstPort uint16
	Payload          []byte
}

// Handler is the UDP layer: it verifies inbound messages and dispatches
// by destination port, and serializes outbound data into IPv4 datagrams
// via Send.
type Handler struct {
	Logger *slog.Logger

	byPort map[uint16]*layer.Dispatcher[Datagram]

	Send func(dst pgmock.IPv4Address, srcPort, dstPort uint16, payload []byte) error
}

// Register adds a handler dispatcher for the given local UDP port.
func (h *Handler) Register(port uint16) *layer.Dispatcher[Datagram] {
	if h.byPort == nil {
		h.byPort = make(map[uint16]*layer.Dispatcher[Datagram])
	}
	d, ok := h.byPort[port]
	if !ok {
		d = &layer.Dispatcher[Datagram]{}
		h.byPort[port] = d
	}
	return d
}

func (h *Handler) logger() *slog.Logger {
	if h.Logger != nil {
		return h.Logger
	}
	return slog.Default()
}

// Demux implements the layer.Handler[ipv4.Datagram] shape registered on
// the IPv4 dispatcher for ProtoUDP.
func (h *Handler) Demux(dgram ipv4.Datagram) (consumed bool, err error) {
	frm, err := NewFrame(dgram.Payload)
	if err != nil {
		h.logger().Warn("udp: short message")
		return true, nil
	}
	var vld pgmock.Validator
	frm.ValidateLength(&vld, len(dgram.Payload))
	if vld.HasError() {
		h.logger().Warn("udp: length mismatch, dropping")
		return true, nil
	}
	if !frm.VerifyChecksum(dgram.Src, dgram.Dst) {
		h.logger().Warn("udp: bad checksum, dropping")
		return true, nil
	}
	d, ok := h.byPort[frm.DestinationPort()]
	if !ok {
		h.logger().Debug("udp: no handler for port", slog.Int("port", int(frm.DestinationPort())))
		return true, nil
	}
	udgram := Datagram{Src: dgram.Src, Dst: dgram.Dst, SrcPort: frm.SourcePort(), DstPort: frm.DestinationPort(), Payload: frm.Payload()}
	_, err = d.Dispatch(udgram)
	if err != nil {
		h.logger().Warn("udp: subprotocol error", slog.String("err", err.Error()))
	}
	return true, nil
}
