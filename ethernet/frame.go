// Package ethernet parses and emits Ethernet II frames (§4.2): dest MAC,
// source MAC, a 16-bit EtherType, and a payload. VLAN-tagged frames are
// recognized and rejected rather than unpacked — the stack this package
// serves never runs over a tagged link.
package ethernet

import (
	"encoding/binary"
	"errors"

	"github.com/stack-auth/pgmock"
)

var errVLAN = errors.New("ethernet: VLAN tagged frame unsupported")

// Frame is a read/write view over a buffer holding an Ethernet II frame,
// without a preamble or frame check sequence (the first byte is the
// first octet of the destination address).
type Frame struct {
	buf []byte
}

// NewFrame wraps buf as a Frame. Returns pgmock.ErrShort if buf is
// shorter than the fixed 14-byte header.
func NewFrame(buf []byte) (Frame, error) {
	if len(buf) < pgmock.SizeHeaderEthNoVLAN {
		return Frame{}, pgmock.ErrShort
	}
	return Frame{buf: buf}, nil
}

// RawData returns the underlying buffer.
func (f Frame) RawData() []byte { return f.buf }

// DestinationMAC returns the frame's destination hardware address.
func (f Frame) DestinationMAC() pgmock.MacAddress {
	var m pgmock.MacAddress
	copy(m[:], f.buf[0:6])
	return m
}

// SetDestinationMAC sets the destination hardware address.
func (f Frame) SetDestinationMAC(m pgmock.MacAddress) { copy(f.buf[0:6], m[:]) }

// SourceMAC returns the frame's source hardware address.
func (f Frame) SourceMAC() pgmock.MacAddress {
	var m pgmock.MacAddress
	copy(m[:], f.buf[6:12])
	return m
}

// SetSourceMAC sets the source hardware address.
func (f Frame) SetSourceMAC(m pgmock.MacAddress) { copy(f.buf[6:12], m[:]) }

// EtherType returns the tag field interpreted as an EtherType. Callers
// must check IsVLAN before trusting this as a protocol selector.
func (f Frame) EtherType() pgmock.EtherType {
	return pgmock.EtherType(binary.BigEndian.Uint16(f.buf[12:14]))
}

// SetEtherType sets the tag field.
func (f Frame) SetEtherType(t pgmock.EtherType) {
	binary.BigEndian.PutUint16(f.buf[12:14], uint16(t))
}

// IsVLAN reports whether the tag field is the 802.1Q TPID 0x8100 or the
// 802.1ad TPID 0x88a8 — either way, this package does not unpack it.
func (f Frame) IsVLAN() bool {
	et := f.EtherType()
	return et == pgmock.EtherTypeVLAN || et == 0x88a8
}

// Payload returns the bytes following the 14-byte header. No frame is
// ever dropped for length here; callers read what they need (§4.2).
func (f Frame) Payload() []byte { return f.buf[pgmock.SizeHeaderEthNoVLAN:] }

// ValidateSize records a malformed-input error for VLAN-tagged frames,
// which this stack logs and drops rather than decodes.
func (f Frame) ValidateSize(v *pgmock.Validator) {
	if f.IsVLAN() {
		v.AddError(errVLAN)
	}
}
