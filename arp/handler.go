package arp

import (
	"log/slog"

	"github.com/stack-auth/pgmock"
)

// query is an outstanding address-resolution request awaiting a reply.
type query struct {
	ip   pgmock.IPv4Address
	sent bool
	done chan pgmock.MacAddress
}

// Handler is the ARP client: it validates hardwareType=1/protocolType
// IPv4 on decode (other values are logged and consumed, §4.3), and
// resolves outstanding Resolve() calls when a matching reply arrives.
// It is registered on the same dispatcher as Responder, after it.
type Handler struct {
	MAC    pgmock.MacAddress
	IP     pgmock.IPv4Address
	Logger *slog.Logger

	pending []*query

	Send func(buf []byte) error // emits a request frame, via Ethernet encapsulation
}

func (h *Handler) logger() *slog.Logger {
	if h.Logger != nil {
		return h.Logger
	}
	return slog.Default()
}

// Resolve returns a channel that receives the MAC address once resolved.
// If a request for ip is already outstanding, it is joined rather than
// duplicated.
func (h *Handler) Resolve(ip pgmock.IPv4Address) <-chan pgmock.MacAddress {
	for _, q := range h.pending {
		if q.ip == ip {
			return q.done
		}
	}
	q := &query{ip: ip, done: make(chan pgmock.MacAddress, 1)}
	h.pending = append(h.pending, q)
	if h.Send != nil {
		buf := make([]byte, pgmock.SizeHeaderARPv4)
		if _, err := NewIPv4Request(buf, h.MAC, h.IP, ip); err == nil {
			if err := h.Send(buf); err == nil {
				q.sent = true
			}
		}
	}
	return q.done
}

// Handle implements the layer.Handler[[]byte] shape for an ARP payload,
// resolving outstanding queries on a matching reply.
func (h *Handler) Handle(buf []byte) (consumed bool, err error) {
	frm, err := NewFrame(buf)
	if err != nil {
		return true, nil
	}
	var vld pgmock.Validator
	frm.ValidateIPv4(&vld)
	if vld.HasError() {
		h.logger().Warn("arp: unsupported hardware/protocol type, dropping")
		return true, nil
	}
	if frm.Operation() != pgmock.ARPReply {
		return false, nil
	}
	responder := frm.SenderIP()
	for i, q := range h.pending {
		if q.ip == responder {
			q.done <- frm.SenderMAC()
			h.pending = append(h.pending[:i], h.pending[i+1:]...)
			return true, nil
		}
	}
	return false, nil
}

// AbortPending cancels every outstanding query without resolving it,
// called by adapter teardown (§5).
func (h *Handler) AbortPending() {
	for _, q := range h.pending {
		close(q.done)
	}
	h.pending = nil
}
