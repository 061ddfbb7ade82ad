package dhcpv4

import (
	"testing"

	"github.com/stack-auth/pgmock"
	"github.com/stack-auth/pgmock/udp"
)

type fakeAllocator struct {
	ip        pgmock.IPv4Address
	confirmed bool
}

func (a *fakeAllocator) AllocateOrLookup(pgmock.MacAddress) (pgmock.IPv4Address, bool) {
	return a.ip, true
}
func (a *fakeAllocator) Confirm(pgmock.MacAddress) { a.confirmed = true }

func discoverFrame(t *testing.T, mac pgmock.MacAddress, xid uint32) []byte {
	t.Helper()
	buf := make([]byte, fixedHeaderLen+4)
	frm, err := NewFrame(buf)
	if err != nil {
		t.Fatal(err)
	}
	frm.SetOp(OpRequest)
	frm.SetHType(1)
	frm.SetHLen(6)
	frm.SetXID(xid)
	frm.SetCHAddr(mac)
	frm.SetMagicCookie()
	opts := buf
	opts = AppendOption(opts, OptMessageType, []byte{MsgDiscover})
	opts = append(opts, OptEnd)
	return opts
}

// TestDHCPHandshake exercises end-to-end scenario 2 of §8.
func TestDHCPHandshake(t *testing.T) {
	mac, _ := pgmock.ParseMac("aa:bb:cc:dd:ee:ff")
	routerIP, _ := pgmock.ParseIPv4("192.168.13.37")
	subnet, _ := pgmock.ParseIPv4("255.255.0.0")
	allocatedIP, _ := pgmock.ParseIPv4("192.168.0.10")

	alloc := &fakeAllocator{ip: allocatedIP}
	var lastReply []byte
	srv := &Server{
		Config: ServerConfig{RouterIP: routerIP, SubnetMask: subnet, HostName: "emulatorhost", DomainName: "emulatorhost"},
		Allocator: alloc,
		Send: func(dst pgmock.IPv4Address, srcPort, dstPort uint16, payload []byte) error {
			lastReply = payload
			return nil
		},
	}

	disc := discoverFrame(t, mac, 0xDEADBEEF)
	consumed, err := srv.Demux(udp.Datagram{Src: pgmock.IPv4Address{0, 0, 0, 0}, Payload: disc})
	if err != nil || !consumed {
		t.Fatalf("discover consumed=%v err=%v", consumed, err)
	}
	offer, err := ParseLease(lastReply)
	if err != nil {
		t.Fatal(err)
	}
	if offer.Type != MsgOffer {
		t.Fatalf("type = %d, want OFFER", offer.Type)
	}
	if offer.YourIP != allocatedIP {
		t.Fatalf("yourIP = %v, want %v", offer.YourIP, allocatedIP)
	}
	if offer.Subnet != subnet {
		t.Fatalf("subnet = %v, want %v", offer.Subnet, subnet)
	}
	if offer.Router != routerIP {
		t.Fatalf("router = %v, want %v", offer.Router, routerIP)
	}
	if alloc.confirmed {
		t.Fatal("DISCOVER must not confirm the device")
	}

	reqBuf := make([]byte, fixedHeaderLen+4)
	reqFrm, _ := NewFrame(reqBuf)
	reqFrm.SetOp(OpRequest)
	reqFrm.SetHType(1)
	reqFrm.SetHLen(6)
	reqFrm.SetXID(0xDEADBEEF)
	reqFrm.SetCHAddr(mac)
	reqFrm.SetMagicCookie()
	opts := reqBuf
	opts = AppendOption(opts, OptMessageType, []byte{MsgRequest})
	opts = append(opts, OptEnd)

	consumed, err = srv.Demux(udp.Datagram{Src: pgmock.IPv4Address{0, 0, 0, 0}, Payload: opts})
	if err != nil || !consumed {
		t.Fatalf("request consumed=%v err=%v", consumed, err)
	}
	ack, err := ParseLease(lastReply)
	if err != nil {
		t.Fatal(err)
	}
	if ack.Type != MsgAck {
		t.Fatalf("type = %d, want ACK", ack.Type)
	}
	if ack.YourIP != allocatedIP {
		t.Fatalf("ack yourIP = %v, want %v", ack.YourIP, allocatedIP)
	}
	if !alloc.confirmed {
		t.Fatal("REQUEST must confirm the device")
	}
}

func TestDHCPSuppressesOwnFrames(t *testing.T) {
	routerIP, _ := pgmock.ParseIPv4("192.168.13.37")
	called := false
	srv := &Server{
		Config:    ServerConfig{RouterIP: routerIP},
		Allocator: &fakeAllocator{},
		Send:      func(pgmock.IPv4Address, uint16, uint16, []byte) error { called = true; return nil },
	}
	consumed, err := srv.Demux(udp.Datagram{Src: routerIP, Payload: make([]byte, fixedHeaderLen+4)})
	if err != nil || !consumed {
		t.Fatalf("consumed=%v err=%v", consumed, err)
	}
	if called {
		t.Fatal("expected own frame to be suppressed without reply")
	}
}
