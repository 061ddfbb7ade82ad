package router

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stack-auth/pgmock"
)

func newTestRouter(t *testing.T) *Router {
	t.Helper()
	mac, _ := pgmock.ParseMac("00:0c:13:37:42:69")
	ip, _ := pgmock.ParseIPv4("192.168.13.37")
	mask, _ := pgmock.ParseIPv4("255.255.0.0")
	return New(mac, ip, mask)
}

// TestIPAllocationUniqueness exercises the Testable Property of §8:
// across register/getOrRegister calls, no two distinct MACs get the
// same IP, and assigned IPs are never the network or broadcast address.
func TestIPAllocationUniqueness(t *testing.T) {
	r := newTestRouter(t)
	seen := map[pgmock.IPv4Address]pgmock.MacAddress{}
	for i := 0; i < 50; i++ {
		mac := pgmock.MacAddress{0xaa, 0xbb, byte(i >> 8), byte(i), 0, 1}
		d, ok := r.GetOrRegisterDevice(mac)
		if !ok {
			t.Fatalf("allocation %d failed unexpectedly", i)
		}
		if owner, taken := seen[d.IP]; taken && owner != mac {
			t.Fatalf("IP %v assigned to both %v and %v", d.IP, owner, mac)
		}
		seen[d.IP] = mac
		if d.IP == r.network() || d.IP == r.broadcast() {
			t.Fatalf("allocated reserved address %v", d.IP)
		}
	}
}

func TestGetOrRegisterIdempotent(t *testing.T) {
	r := newTestRouter(t)
	mac := pgmock.MacAddress{1, 2, 3, 4, 5, 6}
	d1, _ := r.GetOrRegisterDevice(mac)
	d2, _ := r.GetOrRegisterDevice(mac)
	if diff := cmp.Diff(d1, d2); diff != "" {
		t.Fatalf("expected idempotent allocation (-first +second):\n%s", diff)
	}
}

// TestOnRegisterFiresOnceForNewDevice exercises the metrics hook added
// for adapter.Metrics: it must fire exactly once for a new MAC and not
// at all on a subsequent lookup of the same MAC.
func TestOnRegisterFiresOnceForNewDevice(t *testing.T) {
	r := newTestRouter(t)
	var registered []Device
	r.OnRegister = func(d Device) { registered = append(registered, d) }

	mac := pgmock.MacAddress{9, 9, 9, 9, 9, 9}
	first, _ := r.GetOrRegisterDevice(mac)
	r.GetOrRegisterDevice(mac)

	if len(registered) != 1 {
		t.Fatalf("OnRegister fired %d times, want 1", len(registered))
	}
	if diff := cmp.Diff(first, registered[0]); diff != "" {
		t.Fatalf("OnRegister device mismatch (-returned +hook):\n%s", diff)
	}
}

func TestRouterIsFirstConfirmedDevice(t *testing.T) {
	r := newTestRouter(t)
	d, ok := r.GetDeviceByMAC(r.MAC)
	if !ok || !d.Confirmed || d.IP != r.IP {
		t.Fatalf("router device = %+v, ok=%v", d, ok)
	}
}

func TestConfirmDevice(t *testing.T) {
	r := newTestRouter(t)
	mac := pgmock.MacAddress{1, 2, 3, 4, 5, 6}
	r.GetOrRegisterDevice(mac)
	r.Confirm(mac)
	d, _ := r.GetDeviceByMAC(mac)
	if !d.Confirmed {
		t.Fatal("expected device to be confirmed")
	}
}
