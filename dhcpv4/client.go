package dhcpv4

import "github.com/stack-auth/pgmock"

// Lease is the decoded result of an OFFER or ACK, for host-side code
// that wants to assert on what the router handed out without
// hand-parsing option TLVs (supplementing §4.7's server-only scope).
type Lease struct {
	YourIP   pgmock.IPv4Address
	ServerIP pgmock.IPv4Address
	Router   pgmock.IPv4Address
	Subnet   pgmock.IPv4Address
	Type     byte
}

// ParseLease decodes an OFFER or ACK frame into a Lease. It does not
// validate the message type; callers check Lease.Type against
// MsgOffer/MsgAck as needed.
func ParseLease(buf []byte) (Lease, error) {
	frm, err := NewFrame(buf)
	if err != nil {
		return Lease{}, err
	}
	var vld pgmock.Validator
	frm.ValidateHeader(&vld)
	if vld.HasError() {
		return Lease{}, vld.ErrPop()
	}
	l := Lease{YourIP: frm.YIAddr(), ServerIP: frm.SIAddr()}
	if mt, ok := frm.LookupOption(OptMessageType); ok && len(mt.Data) == 1 {
		l.Type = mt.Data[0]
	}
	if r, ok := frm.LookupOption(OptRouter); ok && len(r.Data) == 4 {
		copy(l.Router[:], r.Data)
	}
	if s, ok := frm.LookupOption(OptSubnetMask); ok && len(s.Data) == 4 {
		copy(l.Subnet[:], s.Data)
	}
	return l, nil
}
