package adapter

import (
	"testing"

	"github.com/stack-auth/pgmock"
	"github.com/stack-auth/pgmock/arp"
	"github.com/stack-auth/pgmock/dhcpv4"
	"github.com/stack-auth/pgmock/ethernet"
	"github.com/stack-auth/pgmock/icmp"
	"github.com/stack-auth/pgmock/ipv4"
	"github.com/stack-auth/pgmock/tcp"
	"github.com/stack-auth/pgmock/udp"
)

// fakeBus is a deterministic Bus double: Send appends to sent rather
// than delivering anywhere, so tests can inspect exactly what the
// adapter would have written to the emulator's NIC.
type fakeBus struct {
	handlers map[string]func([]byte)
	sent     map[string][][]byte
}

func newFakeBus() *fakeBus {
	return &fakeBus{handlers: make(map[string]func([]byte)), sent: make(map[string][][]byte)}
}

func (b *fakeBus) Register(channel string, handler func([]byte)) error {
	b.handlers[channel] = handler
	return nil
}

func (b *fakeBus) Send(channel string, data []byte) error {
	b.sent[channel] = append(b.sent[channel], append([]byte(nil), data...))
	return nil
}

// fromEmulator simulates the emulator sending a raw frame out its NIC.
func (b *fakeBus) fromEmulator(frame []byte) {
	b.handlers[ChannelEmulatorSend](frame)
}

func buildEthernet(t *testing.T, et pgmock.EtherType, src, dst pgmock.MacAddress, payload []byte) []byte {
	t.Helper()
	buf := make([]byte, pgmock.SizeHeaderEthNoVLAN+len(payload))
	frm, err := ethernet.NewFrame(buf)
	if err != nil {
		t.Fatal(err)
	}
	frm.SetSourceMAC(src)
	frm.SetDestinationMAC(dst)
	frm.SetEtherType(et)
	copy(frm.Payload(), payload)
	return buf
}

func buildIPv4(t *testing.T, src, dst pgmock.IPv4Address, proto pgmock.IPProto, payload []byte) []byte {
	t.Helper()
	buf := make([]byte, pgmock.SizeHeaderIPv4+len(payload))
	frm, err := ipv4.NewHeader(buf, src, dst, proto, 64, 0, len(payload))
	if err != nil {
		t.Fatal(err)
	}
	copy(frm.Payload()[:len(payload)], payload)
	return buf
}

func lastOf(frames [][]byte) []byte {
	if len(frames) == 0 {
		return nil
	}
	return frames[len(frames)-1]
}

func TestAdapterARPWhoHasRouter(t *testing.T) {
	bus := newFakeBus()
	a, err := New(bus, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer a.Destroy()

	clientMAC, _ := pgmock.ParseMac("aa:bb:cc:dd:ee:01")
	arpBuf := make([]byte, pgmock.SizeHeaderARPv4)
	if _, err := arp.NewIPv4Request(arpBuf, clientMAC, pgmock.IPv4Address{192, 168, 0, 5}, RouterIP); err != nil {
		t.Fatal(err)
	}
	frame := buildEthernet(t, pgmock.EtherTypeARP, clientMAC, pgmock.Broadcast, arpBuf)
	bus.fromEmulator(frame)

	reply := lastOf(bus.sent[ChannelEmulatorReceive])
	if reply == nil {
		t.Fatal("expected an ARP reply sent to the bus")
	}
	ethFrm, err := ethernet.NewFrame(reply)
	if err != nil {
		t.Fatal(err)
	}
	if ethFrm.DestinationMAC() != clientMAC {
		t.Fatalf("reply destination = %v, want requester %v", ethFrm.DestinationMAC(), clientMAC)
	}
	arpFrm, err := arp.NewFrame(ethFrm.Payload())
	if err != nil {
		t.Fatal(err)
	}
	if arpFrm.Operation() != pgmock.ARPReply {
		t.Fatalf("operation = %v, want reply", arpFrm.Operation())
	}
	if arpFrm.SenderMAC() != RouterMAC {
		t.Fatalf("sender mac = %v, want router %v", arpFrm.SenderMAC(), RouterMAC)
	}
}

func TestAdapterDHCPHandshake(t *testing.T) {
	bus := newFakeBus()
	a, err := New(bus, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer a.Destroy()

	clientMAC, _ := pgmock.ParseMac("aa:bb:cc:dd:ee:02")
	discBuf := make([]byte, pgmock.SizeHeaderDHCPv4+4)
	discFrm, err := dhcpv4.NewFrame(discBuf)
	if err != nil {
		t.Fatal(err)
	}
	discFrm.SetOp(dhcpv4.OpRequest)
	discFrm.SetHType(1)
	discFrm.SetHLen(6)
	discFrm.SetXID(0x1234)
	discFrm.SetCHAddr(clientMAC)
	discFrm.SetMagicCookie()
	opts := discBuf
	opts = dhcpv4.AppendOption(opts, dhcpv4.OptMessageType, []byte{dhcpv4.MsgDiscover})
	opts = append(opts, dhcpv4.OptEnd)

	udpBuf := make([]byte, pgmock.SizeHeaderUDP+len(opts))
	if _, err := udp.NewMessage(udpBuf, pgmock.IPv4Address{}, pgmock.IPv4Address{255, 255, 255, 255}, 68, 67, opts); err != nil {
		t.Fatal(err)
	}
	ipBuf := buildIPv4(t, pgmock.IPv4Address{}, pgmock.IPv4Address{255, 255, 255, 255}, pgmock.ProtoUDP, udpBuf)
	frame := buildEthernet(t, pgmock.EtherTypeIPv4, clientMAC, pgmock.Broadcast, ipBuf)

	bus.fromEmulator(frame)

	offerFrame := lastOf(bus.sent[ChannelEmulatorReceive])
	if offerFrame == nil {
		t.Fatal("expected an OFFER sent to the bus")
	}
	lease := extractLease(t, offerFrame)
	if lease.Type != dhcpv4.MsgOffer {
		t.Fatalf("type = %d, want OFFER", lease.Type)
	}
	if lease.Router != RouterIP {
		t.Fatalf("offer router = %v, want %v", lease.Router, RouterIP)
	}
	assigned := lease.YourIP

	reqBuf := make([]byte, pgmock.SizeHeaderDHCPv4+4)
	reqFrm, _ := dhcpv4.NewFrame(reqBuf)
	reqFrm.SetOp(dhcpv4.OpRequest)
	reqFrm.SetHType(1)
	reqFrm.SetHLen(6)
	reqFrm.SetXID(0x1234)
	reqFrm.SetCHAddr(clientMAC)
	reqFrm.SetMagicCookie()
	reqOpts := reqBuf
	reqOpts = dhcpv4.AppendOption(reqOpts, dhcpv4.OptMessageType, []byte{dhcpv4.MsgRequest})
	reqOpts = append(reqOpts, dhcpv4.OptEnd)

	reqUDP := make([]byte, pgmock.SizeHeaderUDP+len(reqOpts))
	udp.NewMessage(reqUDP, pgmock.IPv4Address{}, pgmock.IPv4Address{255, 255, 255, 255}, 68, 67, reqOpts)
	reqIP := buildIPv4(t, pgmock.IPv4Address{}, pgmock.IPv4Address{255, 255, 255, 255}, pgmock.ProtoUDP, reqUDP)
	bus.fromEmulator(buildEthernet(t, pgmock.EtherTypeIPv4, clientMAC, pgmock.Broadcast, reqIP))

	ackFrame := lastOf(bus.sent[ChannelEmulatorReceive])
	ack := extractLease(t, ackFrame)
	if ack.Type != dhcpv4.MsgAck {
		t.Fatalf("type = %d, want ACK", ack.Type)
	}
	if ack.YourIP != assigned {
		t.Fatalf("ack yourIP = %v, want %v", ack.YourIP, assigned)
	}

	mac, ok := a.Router.LookupMAC(assigned)
	if !ok || mac != clientMAC {
		t.Fatalf("router device table: mac=%v ok=%v, want %v/true", mac, ok, clientMAC)
	}
}

func extractLease(t *testing.T, ethFrame []byte) dhcpv4.Lease {
	t.Helper()
	ethFrm, err := ethernet.NewFrame(ethFrame)
	if err != nil {
		t.Fatal(err)
	}
	ipFrm, err := ipv4.NewFrame(ethFrm.Payload())
	if err != nil {
		t.Fatal(err)
	}
	udpFrm, err := udp.NewFrame(ipFrm.Payload())
	if err != nil {
		t.Fatal(err)
	}
	lease, err := dhcpv4.ParseLease(udpFrm.Payload())
	if err != nil {
		t.Fatal(err)
	}
	return lease
}

// TestAdapterPingAfterRegistration exercises §4.5/§4.10: once a device is
// known to the router (via the router's DHCP allocator,
// AllocateOrLookup), the router can ping it, and the
// emulator's echo reply resolves the future.
func TestAdapterPingAfterRegistration(t *testing.T) {
	bus := newFakeBus()
	a, err := New(bus, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer a.Destroy()

	clientMAC, _ := pgmock.ParseMac("aa:bb:cc:dd:ee:03")
	clientIP, ok := a.Router.AllocateOrLookup(clientMAC)
	if !ok {
		t.Fatal("expected allocation to succeed")
	}

	fut := a.Ping(clientIP)
	reqFrame := lastOf(bus.sent[ChannelEmulatorReceive])
	if reqFrame == nil {
		t.Fatal("expected an echo request sent to the bus")
	}
	ethFrm, _ := ethernet.NewFrame(reqFrame)
	ipFrm, _ := ipv4.NewFrame(ethFrm.Payload())
	icmpFrm, _ := icmp.NewFrame(ipFrm.Payload())

	replyBuf := make([]byte, pgmock.SizeHeaderICMP)
	icmp.NewEcho(replyBuf, icmp.TypeEchoReply, icmpFrm.Identifier(), icmpFrm.Sequence(), nil)
	replyIP := buildIPv4(t, clientIP, RouterIP, pgmock.ProtoICMP, replyBuf)
	bus.fromEmulator(buildEthernet(t, pgmock.EtherTypeIPv4, clientMAC, RouterMAC, replyIP))

	select {
	case err := <-fut:
		if err != nil {
			t.Fatal(err)
		}
	default:
		t.Fatal("expected ping future to resolve")
	}
}

// TestAdapterTCPHandshake exercises §4.8/§6 end to end through the bus:
// a pinned server socket answers an inbound SYN with SYN|ACK.
func TestAdapterTCPHandshake(t *testing.T) {
	bus := newFakeBus()
	a, err := New(bus, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer a.Destroy()

	clientMAC, _ := pgmock.ParseMac("aa:bb:cc:dd:ee:04")
	clientIP, _ := a.Router.AllocateOrLookup(clientMAC)

	sock, err := a.TCP.ListenExact(RouterIP, clientIP, 5432, 40000)
	if err != nil {
		t.Fatal(err)
	}

	synBuf := make([]byte, pgmock.SizeHeaderTCP)
	tcp.NewSegment(synBuf, clientIP, RouterIP, 40000, 5432, 1000, 0, tcp.FlagSYN, 65535, nil)
	ipBuf := buildIPv4(t, clientIP, RouterIP, pgmock.ProtoTCP, synBuf)
	bus.fromEmulator(buildEthernet(t, pgmock.EtherTypeIPv4, clientMAC, RouterMAC, ipBuf))

	reply := lastOf(bus.sent[ChannelEmulatorReceive])
	if reply == nil {
		t.Fatal("expected a SYN|ACK sent to the bus")
	}
	ethFrm, _ := ethernet.NewFrame(reply)
	ipFrm, _ := ipv4.NewFrame(ethFrm.Payload())
	tcpFrm, _ := tcp.NewFrame(ipFrm.Payload())
	if !tcpFrm.Flags().Has(tcp.FlagSYN) || !tcpFrm.Flags().Has(tcp.FlagACK) {
		t.Fatal("expected SYN|ACK flags")
	}
	if sock.State() != tcp.StateSynReceived {
		t.Fatalf("state = %v, want SYN_RECEIVED", sock.State())
	}
}

// TestAdapterResolveMAC exercises the ARP client's Resolve API wired
// directly onto the adapter, independent of Ping.
func TestAdapterResolveMAC(t *testing.T) {
	bus := newFakeBus()
	a, err := New(bus, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer a.Destroy()

	clientMAC, _ := pgmock.ParseMac("aa:bb:cc:dd:ee:05")
	clientIP, _ := a.Router.AllocateOrLookup(clientMAC)

	fut := a.ResolveMAC(clientIP)
	reqFrame := lastOf(bus.sent[ChannelEmulatorReceive])
	if reqFrame == nil {
		t.Fatal("expected an ARP request sent to the bus")
	}

	replyBuf := make([]byte, pgmock.SizeHeaderARPv4)
	if _, err := arp.NewIPv4Reply(replyBuf, clientMAC, clientIP, RouterMAC, RouterIP); err != nil {
		t.Fatal(err)
	}
	bus.fromEmulator(buildEthernet(t, pgmock.EtherTypeARP, clientMAC, RouterMAC, replyBuf))

	select {
	case mac := <-fut:
		if mac != clientMAC {
			t.Fatalf("resolved mac = %v, want %v", mac, clientMAC)
		}
	default:
		t.Fatal("expected ResolveMAC future to resolve")
	}
}

func TestAdapterDestroyRejectsReuse(t *testing.T) {
	bus := newFakeBus()
	a, err := New(bus, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := a.Destroy(); err != nil {
		t.Fatal(err)
	}
	if err := a.Destroy(); err != pgmock.ErrDestroyed {
		t.Fatalf("err = %v, want ErrDestroyed", err)
	}
}

// TestAdapterOperationsAfterDestroyFailExplicitly exercises §5/§7: use
// after Destroy must surface pgmock.ErrDestroyed rather than hang or
// silently no-op, since Destroy clears the dispatchers and the outbound
// listener but leaves the handlers in place, so a request would otherwise
// be dropped without any error.
func TestAdapterOperationsAfterDestroyFailExplicitly(t *testing.T) {
	bus := newFakeBus()
	a, err := New(bus, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := a.Destroy(); err != nil {
		t.Fatal(err)
	}

	select {
	case err := <-a.Ping(RouterIP):
		if err != pgmock.ErrDestroyed {
			t.Fatalf("Ping after Destroy: err = %v, want ErrDestroyed", err)
		}
	default:
		t.Fatal("expected Ping after Destroy to resolve immediately")
	}

	select {
	case mac, ok := <-a.ResolveMAC(RouterIP):
		if ok {
			t.Fatalf("ResolveMAC after Destroy: got %v, want closed channel", mac)
		}
	default:
		t.Fatal("expected ResolveMAC after Destroy to resolve immediately")
	}

	if err := a.StartCapture(); err != pgmock.ErrDestroyed {
		t.Fatalf("StartCapture after Destroy: err = %v, want ErrDestroyed", err)
	}
	if _, err := a.StopCapture(); err != pgmock.ErrDestroyed {
		t.Fatalf("StopCapture after Destroy: err = %v, want ErrDestroyed", err)
	}
}
