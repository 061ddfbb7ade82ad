// Package dhcpv4 implements DHCP option parsing/emission and the
// router's DHCP server (DISCOVER/OFFER/REQUEST/ACK), plus a minimal
// client-side decoder for offered/acknowledged leases (§4.7).
package dhcpv4

import (
	"encoding/binary"

	"github.com/stack-auth/pgmock"
)

// BOOTP operation codes.
const (
	OpRequest uint8 = 1
	OpReply   uint8 = 2
)

// Option codes used by this package (§4.7).
const (
	OptSubnetMask        = 1
	OptRouter            = 3
	OptDNS               = 6
	OptHostName          = 12
	OptDomainName        = 15
	OptRequestedIPAddr   = 50
	OptLeaseTime         = 51
	OptMessageType       = 53
	OptServerIdentifier  = 54
	OptParameterRequest  = 55
	OptClientIdentifier  = 61
	OptBroadcastAddr     = 28
	OptEnd               = 0xff
)

// DHCP message types (option 53 values).
const (
	MsgDiscover = 1
	MsgOffer    = 2
	MsgRequest  = 3
	MsgAck      = 5
)

const fixedHeaderLen = pgmock.SizeHeaderDHCPv4

// Option is a single TLV option (code, bytes).
type Option struct {
	Code byte
	Data []byte
}

// Frame is a read/write view over a DHCP message's fixed header; options
// are walked separately with ForEachOption/LookupOption and built with
// AppendOption since they are variable length.
type Frame struct {
	buf []byte
}

// NewFrame wraps buf as a Frame. Returns pgmock.ErrShort if buf is
// shorter than the fixed 236-byte header plus the 4-byte magic cookie.
func NewFrame(buf []byte) (Frame, error) {
	if len(buf) < fixedHeaderLen+4 {
		return Frame{}, pgmock.ErrShort
	}
	return Frame{buf: buf}, nil
}

func (f Frame) Op() uint8          { return f.buf[0] }
func (f Frame) HType() uint8       { return f.buf[1] }
func (f Frame) HLen() uint8        { return f.buf[2] }
func (f Frame) Hops() uint8        { return f.buf[3] }
func (f Frame) XID() uint32        { return binary.BigEndian.Uint32(f.buf[4:8]) }
func (f Frame) Secs() uint16       { return binary.BigEndian.Uint16(f.buf[8:10]) }
func (f Frame) Flags() uint16      { return binary.BigEndian.Uint16(f.buf[10:12]) }
func (f Frame) CIAddr() (a pgmock.IPv4Address) { copy(a[:], f.buf[12:16]); return a }
func (f Frame) YIAddr() (a pgmock.IPv4Address) { copy(a[:], f.buf[16:20]); return a }
func (f Frame) SIAddr() (a pgmock.IPv4Address) { copy(a[:], f.buf[20:24]); return a }
func (f Frame) GIAddr() (a pgmock.IPv4Address) { copy(a[:], f.buf[24:28]); return a }
func (f Frame) CHAddr() (m pgmock.MacAddress)  { copy(m[:], f.buf[28:34]); return m }
func (f Frame) SName() []byte      { return f.buf[44:108] }
func (f Frame) File() []byte       { return f.buf[108:236] }
func (f Frame) MagicCookie() uint32 {
	return binary.BigEndian.Uint32(f.buf[fixedHeaderLen : fixedHeaderLen+4])
}
func (f Frame) OptionsData() []byte { return f.buf[fixedHeaderLen+4:] }
func (f Frame) RawData() []byte     { return f.buf }

func (f Frame) SetOp(v uint8)     { f.buf[0] = v }
func (f Frame) SetHType(v uint8)  { f.buf[1] = v }
func (f Frame) SetHLen(v uint8)   { f.buf[2] = v }
func (f Frame) SetXID(v uint32)   { binary.BigEndian.PutUint32(f.buf[4:8], v) }
func (f Frame) SetFlags(v uint16) { binary.BigEndian.PutUint16(f.buf[10:12], v) }
func (f Frame) SetCIAddr(a pgmock.IPv4Address) { copy(f.buf[12:16], a[:]) }
func (f Frame) SetYIAddr(a pgmock.IPv4Address) { copy(f.buf[16:20], a[:]) }
func (f Frame) SetSIAddr(a pgmock.IPv4Address) { copy(f.buf[20:24], a[:]) }
func (f Frame) SetGIAddr(a pgmock.IPv4Address) { copy(f.buf[24:28], a[:]) }
func (f Frame) SetCHAddr(m pgmock.MacAddress)  { copy(f.buf[28:34], m[:]) }
func (f Frame) SetMagicCookie() {
	binary.BigEndian.PutUint32(f.buf[fixedHeaderLen:fixedHeaderLen+4], pgmock.DHCPMagicCookie)
}

// ValidateHeader records a malformed-input error unless the magic cookie
// is present and the hardware type/length are Ethernet/6 (§4.7).
func (f Frame) ValidateHeader(v *pgmock.Validator) {
	if f.MagicCookie() != pgmock.DHCPMagicCookie {
		v.AddError(pgmock.ErrBadChecksum)
	}
	if f.HType() != 1 || f.HLen() != 6 {
		v.AddError(pgmock.ErrUnsupportedVer)
	}
}

// ForEachOption walks the TLV options following the magic cookie,
// calling fn for each until a 0xff (End) option or the data is
// exhausted. Unknown options are delivered like any other (§4.7).
func (f Frame) ForEachOption(fn func(Option)) {
	data := f.OptionsData()
	i := 0
	for i < len(data) {
		code := data[i]
		if code == OptEnd {
			return
		}
		if code == 0 { // Pad
			i++
			continue
		}
		if i+1 >= len(data) {
			return
		}
		length := int(data[i+1])
		start := i + 2
		end := start + length
		if end > len(data) {
			return
		}
		fn(Option{Code: code, Data: data[start:end]})
		i = end
	}
}

// LookupOption returns the first option with the given code, if any.
func (f Frame) LookupOption(code byte) (Option, bool) {
	var found Option
	ok := false
	f.ForEachOption(func(o Option) {
		if !ok && o.Code == code {
			found, ok = o, true
		}
	})
	return found, ok
}

// AppendOption appends a single TLV option to dst.
func AppendOption(dst []byte, code byte, data []byte) []byte {
	dst = append(dst, code, byte(len(data)))
	return append(dst, data...)
}
