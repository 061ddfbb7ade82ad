// Package adapter wires every protocol layer into the single stack
// instance that bridges a byte bus (the emulator's virtual NIC) to the
// upward socket API (§4.10, §6). Grounded on the wiring shape of
// _examples/soypat-lneto/examples/bridge/main.go and
// _examples/soypat-lneto/examples/tap/main.go: a poll/callback loop over
// an opaque interface standing in for the real tap device.
package adapter

import (
	"bytes"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/stack-auth/pgmock"
	"github.com/stack-auth/pgmock/arp"
	"github.com/stack-auth/pgmock/dhcpv4"
	"github.com/stack-auth/pgmock/ethernet"
	"github.com/stack-auth/pgmock/icmp"
	"github.com/stack-auth/pgmock/ipv4"
	"github.com/stack-auth/pgmock/pcap"
	"github.com/stack-auth/pgmock/router"
	"github.com/stack-auth/pgmock/tcp"
	"github.com/stack-auth/pgmock/udp"
)

// Channel names for the two directions of the opaque byte bus (§6).
const (
	ChannelEmulatorSend    = "net0-send"    // emulator -> adapter (inbound)
	ChannelEmulatorReceive = "net0-receive" // adapter -> emulator (outbound)
)

// Fixed configuration (§4.10): the router's identity on the virtual
// subnet it owns.
var (
	RouterMAC, _    = pgmock.ParseMac("00:0c:13:37:42:69")
	RouterIP, _     = pgmock.ParseIPv4("192.168.13.37")
	SubnetMask, _   = pgmock.ParseIPv4("255.255.0.0")
	DefaultLeaseSec = uint32(86400)
)

// Bus is the opaque byte transport connecting the adapter to the
// emulator's NIC (§6): register a handler for frames the emulator sends
// out, and send frames addressed to the emulator.
type Bus interface {
	Register(channel string, handler func([]byte)) error
	Send(channel string, data []byte) error
}

// Adapter owns the bus handle, the constructed protocol tree, and the
// packet-capture state (§4.10).
type Adapter struct {
	Logger *slog.Logger

	Router *router.Router
	Eth    *ethernet.Handler
	IPv4   *ipv4.Handler
	ARPRes *arp.Responder
	ARP    *arp.Handler
	ICMP   *icmp.Handler
	UDP    *udp.Handler
	DHCP   *dhcpv4.Server
	TCP    *tcp.Stack

	Metrics *Metrics

	bus       Bus
	mu        sync.Mutex
	destroyed bool

	capturing bool
	capBuf    *bytes.Buffer
	capW      *pcap.Writer
	now       func() time.Time
}

// New constructs an Adapter over bus with the fixed router configuration
// of §4.10, wires every layer together, and registers it to receive
// frames the emulator sends out. now defaults to time.Now; tests may
// override it for deterministic pcap timestamps.
func New(bus Bus, logger *slog.Logger) (*Adapter, error) {
	if logger == nil {
		logger = slog.Default()
	}
	a := &Adapter{
		Logger:  logger,
		Metrics: NewMetrics(),
		bus:     bus,
		now:     time.Now,
	}

	a.Router = router.New(RouterMAC, RouterIP, SubnetMask)
	a.Router.OnRegister = func(router.Device) { a.Metrics.DevicesTotal.Inc() }
	a.Eth = &ethernet.Handler{MAC: RouterMAC, Gateway: RouterMAC, Logger: logger}
	a.IPv4 = &ipv4.Handler{LocalAddr: RouterIP, Resolver: a.Router, Logger: logger}
	a.ARPRes = &arp.Responder{RouterMAC: RouterMAC, Devices: a.Router, Logger: logger}
	a.ARP = &arp.Handler{MAC: RouterMAC, IP: RouterIP, Logger: logger}
	a.ICMP = &icmp.Handler{PingServer: RouterIP, Logger: logger}
	a.UDP = &udp.Handler{Logger: logger}
	a.DHCP = &dhcpv4.Server{
		Config: dhcpv4.ServerConfig{
			RouterIP: RouterIP, SubnetMask: SubnetMask,
			HostName: "emulatorhost", DomainName: "emulatorhost",
			LeaseTime: DefaultLeaseSec,
		},
		Allocator: a.Router,
		Logger:    logger,
	}
	a.TCP = &tcp.Stack{Logger: logger}
	a.TCP.Instrument = func(sock *tcp.Socket) {
		sock.OnClose(func() { a.Metrics.TCPClosed.Inc() })
		sock.OnRetransmit = func(int) { a.Metrics.TCPRetransmits.Inc() }
	}

	a.wire()

	if bus != nil {
		if err := bus.Register(ChannelEmulatorSend, a.handleFromBus); err != nil {
			return nil, err
		}
	}
	return a, nil
}

// wire connects every layer's outbound emission back down through the
// Ethernet frame, and registers every subprotocol at its parent
// dispatcher (§4.1, §4.3, §4.9).
func (a *Adapter) wire() {
	a.Eth.SendFrame.Listen(a.sendEthernetFrame)

	a.Eth.Register(pgmock.EtherTypeARP).Subscribe(a.ARPRes.Handle)
	a.Eth.Register(pgmock.EtherTypeARP).Subscribe(a.ARP.Handle)
	a.Eth.Register(pgmock.EtherTypeIPv4).Subscribe(a.IPv4.Demux)
	// IPv6 is explicitly blackholed (§1, §4): registering a dispatcher
	// with a single always-consuming subscriber drops every IPv6 frame
	// without ever logging it as "no handler".
	a.Eth.Register(pgmock.EtherTypeIPv6).Subscribe(func([]byte) (bool, error) {
		a.Metrics.FramesDropped.Inc()
		return true, nil
	})

	a.ARPRes.Reply = a.sendARP
	a.ARP.Send = a.sendARP

	a.IPv4.SendFrame = func(dst pgmock.MacAddress, payload []byte) error {
		return a.Eth.Encapsulate(pgmock.EtherTypeIPv4, dst, payload)
	}
	a.IPv4.Register(pgmock.ProtoICMP).Subscribe(a.ICMP.Demux)
	a.IPv4.Register(pgmock.ProtoUDP).Subscribe(a.UDP.Demux)
	a.IPv4.Register(pgmock.ProtoTCP).Subscribe(a.TCP.Demux)

	a.ICMP.Send = func(dst pgmock.IPv4Address, payload []byte) error {
		return a.IPv4.Send(dst, pgmock.ProtoICMP, 64, 0, payload)
	}
	a.UDP.Send = func(dst pgmock.IPv4Address, srcPort, dstPort uint16, payload []byte) error {
		buf := make([]byte, pgmock.SizeHeaderUDP+len(payload))
		if _, err := udp.NewMessage(buf, RouterIP, dst, srcPort, dstPort, payload); err != nil {
			return err
		}
		return a.IPv4.Send(dst, pgmock.ProtoUDP, 64, 0, buf)
	}
	a.UDP.Register(67).Subscribe(a.DHCP.Demux)
	a.DHCP.Send = a.UDP.Send

	a.TCP.SendSegment = func(dst pgmock.IPv4Address, payload []byte) error {
		return a.IPv4.Send(dst, pgmock.ProtoTCP, 64, 0, payload)
	}

	a.Eth.OnReceive(a.onReceiveFrame)
}

func (a *Adapter) sendARP(buf []byte) error {
	frm, err := arp.NewFrame(buf)
	if err != nil {
		return err
	}
	dst := frm.TargetMAC()
	if frm.Operation() == pgmock.ARPRequest {
		dst = pgmock.Broadcast
	}
	return a.Eth.Encapsulate(pgmock.EtherTypeARP, dst, buf)
}

// sendEthernetFrame is the Ethernet layer's single outbound listener: it
// writes the frame to the bus and loops it back into the local
// dispatcher so self-suppression checks (ARP/DHCP) and other local
// subscribers see it, matching §4.10's "outbound bytes are written to
// the bus and also looped back into the local dispatcher".
func (a *Adapter) sendEthernetFrame(buf []byte) error {
	a.Metrics.FramesOut.Inc()
	if a.bus != nil {
		if err := a.bus.Send(ChannelEmulatorReceive, buf); err != nil {
			return err
		}
	}
	return a.Eth.Demux(buf)
}

// handleFromBus is registered on the bus as the handler for frames the
// emulator sends out; it is the adapter's inbound entry point.
func (a *Adapter) handleFromBus(buf []byte) {
	a.Metrics.FramesIn.Inc()
	if err := a.Eth.Demux(buf); err != nil {
		a.Logger.Warn("adapter: demux error", slog.String("err", err.Error()))
	}
}

// onReceiveFrame is the pcap capture hook (§4.10): only inbound-to-the-
// adapter frames are captured, never the looped-back outbound ones.
func (a *Adapter) onReceiveFrame(frm ethernet.Frame) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.capturing {
		return
	}
	if frm.SourceMAC() == RouterMAC {
		return // an outbound frame looped back by sendEthernetFrame
	}
	a.Metrics.FramesCaptured.Inc()
	if err := a.capW.WriteFrame(a.now(), frm.RawData()); err != nil {
		a.Logger.Warn("adapter: pcap write failed", slog.String("err", err.Error()))
	}
}

// StartCapture begins accumulating a pcap stream in memory (§4.10).
// Calling it after Destroy is a programmer error (§5, §7): it returns
// pgmock.ErrDestroyed instead of silently doing nothing.
func (a *Adapter) StartCapture() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.destroyed {
		return pgmock.ErrDestroyed
	}
	a.capBuf = &bytes.Buffer{}
	a.capW = pcap.NewWriter(a.capBuf)
	a.capturing = true
	return nil
}

// StopCapture ends the capture and returns the accumulated pcap bytes.
// Calling it after Destroy is a programmer error (§5, §7): it returns
// pgmock.ErrDestroyed instead of returning nil bytes indistinguishable
// from "nothing was captured".
func (a *Adapter) StopCapture() ([]byte, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.destroyed {
		return nil, pgmock.ErrDestroyed
	}
	a.capturing = false
	if a.capW == nil {
		return nil, nil
	}
	a.capW.Flush()
	out := a.capBuf.Bytes()
	a.capBuf = nil
	a.capW = nil
	return out, nil
}

// Ping sends an ICMP echo request from the router to destIp (§4.5, §6).
// Calling it after Destroy is a programmer error (§5, §7): Destroy clears
// the Ethernet layer's outbound listener but leaves the ICMP handler in
// place, so without this check the request would be dropped silently and
// the returned channel would never resolve.
func (a *Adapter) Ping(destIp pgmock.IPv4Address) <-chan error {
	if a.Closed() {
		ch := make(chan error, 1)
		ch <- pgmock.ErrDestroyed
		return ch
	}
	return a.ICMP.Ping(RouterIP, destIp)
}

// ResolveMAC resolves ip's MAC address via ARP, issuing a request from
// the router if none is already outstanding (§4.3, §6). It is the
// public counterpart to Ping: a caller that needs a device's link-layer
// address directly (rather than just confirming reachability) uses
// this instead of reaching into a.ARP itself. Calling it after Destroy
// is a programmer error (§5, §7): AbortPending has already closed every
// pending query's channel, so a fresh Resolve here would otherwise
// leave the caller waiting on a request that was never sent.
func (a *Adapter) ResolveMAC(ip pgmock.IPv4Address) <-chan pgmock.MacAddress {
	if a.Closed() {
		ch := make(chan pgmock.MacAddress, 1)
		close(ch)
		return ch
	}
	return a.ARP.Resolve(ip)
}

// Destroy tears down every protocol handler's subscription list, aborts
// outstanding ARP queries, and releases the bus reference. Afterwards,
// Ping, StartCapture, StopCapture and a second Destroy return
// pgmock.ErrDestroyed, and ResolveMAC returns a closed channel. Sockets
// created earlier are not closed by Destroy and do not report
// pgmock.ErrDestroyed; their segments are dropped because the outbound
// listener is cleared.
func (a *Adapter) Destroy() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.destroyed {
		return pgmock.ErrDestroyed
	}
	a.destroyed = true
	a.Eth.Register(pgmock.EtherTypeARP).Reset()
	a.Eth.Register(pgmock.EtherTypeIPv4).Reset()
	a.Eth.Register(pgmock.EtherTypeIPv6).Reset()
	a.IPv4.Register(pgmock.ProtoICMP).Reset()
	a.IPv4.Register(pgmock.ProtoUDP).Reset()
	a.IPv4.Register(pgmock.ProtoTCP).Reset()
	a.UDP.Register(67).Reset()
	a.ARP.AbortPending()
	a.Eth.SendFrame.Reset()
	a.bus = nil
	return nil
}

// Closed reports whether Destroy has been called.
func (a *Adapter) Closed() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.destroyed
}

func (a *Adapter) String() string {
	return fmt.Sprintf("adapter{router=%s/%s}", RouterMAC, RouterIP)
}
