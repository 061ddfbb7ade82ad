package ethernet

import (
	"log/slog"

	"github.com/stack-auth/pgmock"
	"github.com/stack-auth/pgmock/layer"
)

// Handler is the Ethernet layer of the stack: it decodes inbound frames
// and offers them by EtherType to registered subprotocols (ARP, IPv4),
// and serializes outbound data from those subprotocols into frames
// handed to its own sendFrame listener (the adapter/bus).
type Handler struct {
	MAC     pgmock.MacAddress
	Gateway pgmock.MacAddress
	Logger  *slog.Logger

	byType map[pgmock.EtherType]*layer.Dispatcher[[]byte]
	order  []pgmock.EtherType

	SendFrame layer.Emitter[[]byte] // outbound whole frames, to the bus
	onReceive func(Frame)           // pcap capture hook (§4.10), inbound only
}

// Register adds a subprotocol dispatcher for the given EtherType. The
// dispatcher receives the frame's payload (header already stripped).
func (h *Handler) Register(et pgmock.EtherType) *layer.Dispatcher[[]byte] {
	if h.byType == nil {
		h.byType = make(map[pgmock.EtherType]*layer.Dispatcher[[]byte])
	}
	d, ok := h.byType[et]
	if !ok {
		d = &layer.Dispatcher[[]byte]{}
		h.byType[et] = d
		h.order = append(h.order, et)
	}
	return d
}

// OnReceive registers the pcap capture hook invoked for every inbound
// frame before subprotocol dispatch, regardless of whether it is
// consumed. Only inbound-to-the-adapter frames are captured (§4.10).
func (h *Handler) OnReceive(fn func(Frame)) { h.onReceive = fn }

func (h *Handler) logger() *slog.Logger {
	if h.Logger != nil {
		return h.Logger
	}
	return slog.Default()
}

// Demux decodes buf as an Ethernet frame and offers its payload to the
// matching registered subprotocol. Unaddressed or unconsumed frames are
// logged and dropped, never returned as an error (§7).
func (h *Handler) Demux(buf []byte) error {
	frm, err := NewFrame(buf)
	if err != nil {
		h.logger().Warn("ethernet: short frame", slog.Int("len", len(buf)))
		return nil
	}
	if h.onReceive != nil {
		h.onReceive(frm)
	}
	dst := frm.DestinationMAC()
	if dst != pgmock.Broadcast && dst != h.MAC {
		h.logger().Debug("ethernet: drop, not addressed to us", slog.String("dst", dst.String()))
		return nil
	}
	var vld pgmock.Validator
	frm.ValidateSize(&vld)
	if vld.HasError() {
		h.logger().Warn("ethernet: drop malformed frame", slog.String("err", vld.ErrPop().Error()))
		return nil
	}
	et := frm.EtherType()
	d, ok := h.byType[et]
	if !ok {
		h.logger().Debug("ethernet: drop, no handler", slog.String("ethertype", et.String()))
		return nil
	}
	consumed, err := d.Dispatch(frm.Payload())
	if err != nil {
		h.logger().Warn("ethernet: subprotocol error", slog.String("err", err.Error()))
	}
	if !consumed {
		h.logger().Debug("ethernet: drop, unconsumed", slog.String("ethertype", et.String()))
	}
	return nil
}

// Encapsulate builds an Ethernet frame of EtherType et around payload
// and hands it to SendFrame, setting source to h.MAC and destination to
// h.Gateway unless dst is explicitly given.
func (h *Handler) Encapsulate(et pgmock.EtherType, dst pgmock.MacAddress, payload []byte) error {
	buf := make([]byte, pgmock.SizeHeaderEthNoVLAN+len(payload))
	frm, err := NewFrame(buf)
	if err != nil {
		return err
	}
	if dst == (pgmock.MacAddress{}) {
		dst = h.Gateway
	}
	frm.SetDestinationMAC(dst)
	frm.SetSourceMAC(h.MAC)
	frm.SetEtherType(et)
	copy(frm.Payload(), payload)
	return h.SendFrame.Emit(buf)
}
