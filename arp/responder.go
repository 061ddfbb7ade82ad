package arp

import (
	"log/slog"

	"github.com/stack-auth/pgmock"
)

// DeviceLookup is the subset of the router's device table the responder
// needs. Kept as an interface here, rather than importing package
// router directly, to avoid a dependency cycle (router imports arp).
type DeviceLookup interface {
	LookupMAC(ip pgmock.IPv4Address) (pgmock.MacAddress, bool)
}

// Responder is the router-as-subprotocol described in §9: it answers ARP
// requests on the router's behalf without recursing another layer. It is
// registered ahead of the ordinary client Handler on the same dispatcher
// so it sees every inbound ARP frame first (§4.3).
type Responder struct {
	RouterMAC pgmock.MacAddress
	Devices   DeviceLookup
	Logger    *slog.Logger

	Reply func(buf []byte) error // sendFrame for ARP replies, supplied by the wiring layer
}

func (r *Responder) logger() *slog.Logger {
	if r.Logger != nil {
		return r.Logger
	}
	return slog.Default()
}

// Handle implements the layer.Handler[[]byte] shape for an ARP payload.
func (r *Responder) Handle(buf []byte) (consumed bool, err error) {
	frm, err := NewFrame(buf)
	if err != nil {
		return true, nil // malformed: logged elsewhere, consume to stop propagation
	}
	if frm.Operation() != pgmock.ARPRequest {
		return false, nil // replies are the client's concern
	}
	src := frm.SenderMAC()
	if src == r.RouterMAC {
		// Loopback suppression (§4.3 step 1): our own emitted request,
		// looped back by the adapter, must not be answered by ourselves.
		return true, nil
	}
	// Step 2 of §4.3 is evaluated by the caller via Ethernet's own
	// destination-MAC check before this dispatcher is even reached, since
	// ARP requests are always broadcast or addressed to the router.
	queried := frm.TargetIP()
	mac, ok := r.Devices.LookupMAC(queried)
	if !ok {
		r.logger().Debug("arp: no device for queried IP, dropping", slog.String("ip", queried.String()))
		return true, nil
	}
	out := make([]byte, pgmock.SizeHeaderARPv4)
	if _, err := NewIPv4Reply(out, mac, queried, src, frm.SenderIP()); err != nil {
		return true, err
	}
	// The reply's destination at the Ethernet layer is the request's
	// source MAC, but that addressing belongs to the caller; Reply
	// delivers the ARP payload and the caller resolves Ethernet framing
	// from the request context the Responder has already validated.
	if r.Reply != nil {
		if err := r.Reply(out); err != nil {
			return true, err
		}
	}
	return true, nil
}
