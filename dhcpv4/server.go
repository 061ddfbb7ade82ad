package dhcpv4

import (
	"log/slog"

	"github.com/stack-auth/pgmock"
	"github.com/stack-auth/pgmock/udp"
)

// Allocator is the subset of the router's device table the DHCP server
// needs: allocate (or look up) an IP for a MAC, and mark it confirmed
// once a REQUEST is seen (§4.7, §4.9).
type Allocator interface {
	AllocateOrLookup(mac pgmock.MacAddress) (pgmock.IPv4Address, bool)
	Confirm(mac pgmock.MacAddress)
}

// ServerConfig fixes the router identity and subnet advertised in every
// OFFER/ACK (§4.7).
type ServerConfig struct {
	RouterIP   pgmock.IPv4Address
	SubnetMask pgmock.IPv4Address
	HostName   string
	DomainName string
	LeaseTime  uint32
}

// Server is the router's DHCP server, bound to UDP port 67 (§4.7).
type Server struct {
	Config    ServerConfig
	Allocator Allocator
	Logger    *slog.Logger

	Send func(dst pgmock.IPv4Address, srcPort, dstPort uint16, payload []byte) error
}

func (s *Server) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}

// Demux implements the layer.Handler[udp.Datagram] shape, registered on
// UDP port 67.
func (s *Server) Demux(dgram udp.Datagram) (consumed bool, err error) {
	if dgram.Src == s.Config.RouterIP {
		// Suppress our own outbound frames looped back by the adapter.
		return true, nil
	}
	frm, err := NewFrame(dgram.Payload)
	if err != nil {
		s.logger().Warn("dhcp: short message")
		return true, nil
	}
	var vld pgmock.Validator
	frm.ValidateHeader(&vld)
	if vld.HasError() {
		s.logger().Warn("dhcp: malformed header, dropping")
		return true, nil
	}
	if frm.Op() != OpRequest {
		return false, nil
	}
	msgType, ok := frm.LookupOption(OptMessageType)
	if !ok || len(msgType.Data) != 1 {
		s.logger().Warn("dhcp: missing message type, dropping")
		return true, nil
	}
	mac := frm.CHAddr()
	switch msgType.Data[0] {
	case MsgDiscover:
		ip, ok := s.Allocator.AllocateOrLookup(mac)
		if !ok {
			s.logger().Warn("dhcp: subnet exhausted, dropping DISCOVER")
			return true, nil
		}
		return true, s.reply(frm, mac, ip, MsgOffer)
	case MsgRequest:
		ip, ok := s.Allocator.AllocateOrLookup(mac)
		if !ok {
			s.logger().Warn("dhcp: subnet exhausted, dropping REQUEST")
			return true, nil
		}
		s.Allocator.Confirm(mac)
		return true, s.reply(frm, mac, ip, MsgAck)
	default:
		return true, nil
	}
}

// reply builds and sends an OFFER or ACK for the given client (§4.7).
func (s *Server) reply(req Frame, mac pgmock.MacAddress, yourIP pgmock.IPv4Address, msgType byte) error {
	buf := make([]byte, fixedHeaderLen+4)
	frm, err := NewFrame(buf)
	if err != nil {
		return err
	}
	frm.SetOp(OpReply)
	frm.SetHType(1)
	frm.SetHLen(6)
	frm.SetXID(req.XID())
	frm.SetCHAddr(mac)
	frm.SetYIAddr(yourIP)
	frm.SetSIAddr(s.Config.RouterIP)
	frm.SetGIAddr(req.GIAddr())
	frm.SetMagicCookie()

	opts := buf
	opts = AppendOption(opts, OptMessageType, []byte{msgType})
	opts = AppendOption(opts, OptServerIdentifier, s.Config.RouterIP[:])
	opts = AppendOption(opts, OptSubnetMask, s.Config.SubnetMask[:])
	opts = AppendOption(opts, OptRouter, s.Config.RouterIP[:])
	opts = AppendOption(opts, OptDNS, s.Config.RouterIP[:])
	if s.Config.HostName != "" {
		opts = AppendOption(opts, OptHostName, []byte(s.Config.HostName))
	}
	if s.Config.DomainName != "" {
		opts = AppendOption(opts, OptDomainName, []byte(s.Config.DomainName))
	}
	opts = AppendOption(opts, OptBroadcastAddr, pgmock.IPv4Address{255, 255, 255, 255}[:])
	var leaseBuf [4]byte
	lease := s.Config.LeaseTime
	if lease == 0 {
		lease = 86400
	}
	leaseBuf[0] = byte(lease >> 24)
	leaseBuf[1] = byte(lease >> 16)
	leaseBuf[2] = byte(lease >> 8)
	leaseBuf[3] = byte(lease)
	opts = AppendOption(opts, OptLeaseTime, leaseBuf[:])
	opts = append(opts, OptEnd)

	if s.Send == nil {
		return nil
	}
	return s.Send(pgmock.IPv4Address{255, 255, 255, 255}, 67, 68, opts)
}
