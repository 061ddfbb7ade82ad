// Package router implements the router's device registry and IP
// allocator (§4.9): it is the first device on its own subnet, and it
// backs both the ARP responder and the DHCP server.
package router

import (
	"sync"

	"github.com/stack-auth/pgmock"
)

// Device is a router entry: a MAC, an IPv4 address, and whether a DHCP
// REQUEST has confirmed it (§3).
type Device struct {
	MAC       pgmock.MacAddress
	IP        pgmock.IPv4Address
	Confirmed bool
}

// Router owns the device table: a fixed router MAC/IP/mask, and the
// two mutually consistent maps ip→mac and mac→Device (§3). It is always
// included as a device, and always confirmed.
type Router struct {
	MAC  pgmock.MacAddress
	IP   pgmock.IPv4Address
	Mask pgmock.IPv4Address

	// OnRegister, if set, is called whenever a new device is added to the
	// table (not on a cache hit for an already-known MAC). Used for
	// metrics.
	OnRegister func(Device)

	mu    sync.Mutex
	byMAC map[pgmock.MacAddress]*Device
	byIP  map[pgmock.IPv4Address]*Device
}

// New constructs a Router and registers itself as the first, always
// confirmed device.
func New(mac pgmock.MacAddress, ip, mask pgmock.IPv4Address) *Router {
	r := &Router{
		MAC:  mac,
		IP:   ip,
		Mask: mask,
		byMAC: make(map[pgmock.MacAddress]*Device),
		byIP:  make(map[pgmock.IPv4Address]*Device),
	}
	self := &Device{MAC: mac, IP: ip, Confirmed: true}
	r.byMAC[mac] = self
	r.byIP[ip] = self
	return r
}

func (r *Router) network() pgmock.IPv4Address   { return r.IP.And(r.Mask) }
func (r *Router) broadcast() pgmock.IPv4Address { return r.IP.Or(r.Mask.Not()) }

// nextFreeIP scans the subnet linearly, skipping the network address,
// the all-ones broadcast address, and any already-assigned IP. Must be
// called with r.mu held.
func (r *Router) nextFreeIP() (pgmock.IPv4Address, bool) {
	network := r.network().Uint32()
	broadcast := r.broadcast().Uint32()
	for v := network + 1; v < broadcast; v++ {
		candidate := pgmock.IPv4FromUint32(v)
		if _, taken := r.byIP[candidate]; !taken {
			return candidate, true
		}
	}
	return pgmock.IPv4Address{}, false
}

// RegisterDevice allocates the next free in-subnet IP for mac and
// returns a new, unconfirmed Device. If mac is already registered, its
// existing device is returned unchanged (idempotent, matching
// GetOrRegisterDevice's contract — §4.9 documents both names for the
// same operation).
func (r *Router) RegisterDevice(mac pgmock.MacAddress) (Device, bool) {
	return r.GetOrRegisterDevice(mac)
}

// GetOrRegisterDevice returns mac's existing device, or allocates and
// registers a new one if mac is unknown. Returns ok=false if the subnet
// is exhausted (§4.9).
func (r *Router) GetOrRegisterDevice(mac pgmock.MacAddress) (Device, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if d, ok := r.byMAC[mac]; ok {
		return *d, true
	}
	ip, ok := r.nextFreeIP()
	if !ok {
		return Device{}, false
	}
	d := &Device{MAC: mac, IP: ip}
	r.byMAC[mac] = d
	r.byIP[ip] = d
	if r.OnRegister != nil {
		r.OnRegister(*d)
	}
	return *d, true
}

// Confirm marks mac's device as confirmed (a DHCP REQUEST was seen).
// A no-op if mac is unregistered.
func (r *Router) Confirm(mac pgmock.MacAddress) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if d, ok := r.byMAC[mac]; ok {
		d.Confirmed = true
	}
}

// GetDeviceByMAC returns the device registered for mac, if any.
func (r *Router) GetDeviceByMAC(mac pgmock.MacAddress) (Device, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.byMAC[mac]
	if !ok {
		return Device{}, false
	}
	return *d, true
}

// GetDeviceByIP returns the device registered for ip, if any.
func (r *Router) GetDeviceByIP(ip pgmock.IPv4Address) (Device, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.byIP[ip]
	if !ok {
		return Device{}, false
	}
	return *d, true
}

// LookupMAC implements arp.DeviceLookup: it answers the ARP responder's
// "who has this IP" query.
func (r *Router) LookupMAC(ip pgmock.IPv4Address) (pgmock.MacAddress, bool) {
	d, ok := r.GetDeviceByIP(ip)
	if !ok {
		return pgmock.MacAddress{}, false
	}
	return d.MAC, true
}

// ResolveMAC implements ipv4.MACResolver: the limited broadcast address
// resolves to the Ethernet broadcast MAC; any other destination IP
// resolves to the device owning that IP on this directly-attached
// subnet (§4.4).
func (r *Router) ResolveMAC(ip pgmock.IPv4Address) (pgmock.MacAddress, bool) {
	if ip == (pgmock.IPv4Address{255, 255, 255, 255}) {
		return pgmock.Broadcast, true
	}
	return r.LookupMAC(ip)
}

// AllocateOrLookup implements dhcpv4.Allocator.
func (r *Router) AllocateOrLookup(mac pgmock.MacAddress) (pgmock.IPv4Address, bool) {
	d, ok := r.GetOrRegisterDevice(mac)
	if !ok {
		return pgmock.IPv4Address{}, false
	}
	return d.IP, true
}
