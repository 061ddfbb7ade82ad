// Package ipv4 parses and emits IPv4 packets with a fixed 20-byte header
// (no options), verifying and computing the Internet checksum, and
// dispatching by protocol number to ICMP/UDP/TCP (§4.4).
package ipv4

import (
	"encoding/binary"

	"github.com/stack-auth/pgmock"
)

// Frame is a read/write view over an IPv4 packet.
type Frame struct {
	buf []byte
}

// NewFrame wraps buf as a Frame. Returns pgmock.ErrShort if buf is
// shorter than the fixed 20-byte header.
func NewFrame(buf []byte) (Frame, error) {
	if len(buf) < pgmock.SizeHeaderIPv4 {
		return Frame{}, pgmock.ErrShort
	}
	return Frame{buf: buf}, nil
}

func (f Frame) Version() uint8       { return f.buf[0] >> 4 }
func (f Frame) IHL() uint8           { return f.buf[0] & 0x0f }
func (f Frame) DSCP() uint8          { return f.buf[1] >> 2 }
func (f Frame) ECN() uint8           { return f.buf[1] & 0x03 }
func (f Frame) TotalLength() uint16  { return binary.BigEndian.Uint16(f.buf[2:4]) }
func (f Frame) ID() uint16           { return binary.BigEndian.Uint16(f.buf[4:6]) }
func (f Frame) flagsFrag() uint16    { return binary.BigEndian.Uint16(f.buf[6:8]) }
func (f Frame) DontFragment() bool   { return f.flagsFrag()&0x4000 != 0 }
func (f Frame) MoreFragments() bool  { return f.flagsFrag()&0x2000 != 0 }
func (f Frame) FragmentOffset() uint16 { return f.flagsFrag() & 0x1fff }
func (f Frame) TTL() uint8           { return f.buf[8] }
func (f Frame) Protocol() pgmock.IPProto { return pgmock.IPProto(f.buf[9]) }
func (f Frame) Checksum() uint16     { return binary.BigEndian.Uint16(f.buf[10:12]) }
func (f Frame) SourceAddr() (a pgmock.IPv4Address)      { copy(a[:], f.buf[12:16]); return a }
func (f Frame) DestinationAddr() (a pgmock.IPv4Address) { copy(a[:], f.buf[16:20]); return a }

// HeaderLen returns the header length in bytes (IHL*4).
func (f Frame) HeaderLen() int { return int(f.IHL()) * 4 }

// Payload returns the bytes following the header, bounded by
// TotalLength if it fits within the buffer, else the rest of the buffer.
func (f Frame) Payload() []byte {
	hl := f.HeaderLen()
	tl := int(f.TotalLength())
	if tl >= hl && tl <= len(f.buf) {
		return f.buf[hl:tl]
	}
	return f.buf[hl:]
}

func (f Frame) SetVersionIHL(v, ihl uint8) { f.buf[0] = v<<4 | ihl }
func (f Frame) SetDSCPECN(dscp, ecn uint8) { f.buf[1] = dscp<<2 | ecn&0x3 }
func (f Frame) SetTotalLength(v uint16)    { binary.BigEndian.PutUint16(f.buf[2:4], v) }
func (f Frame) SetID(v uint16)             { binary.BigEndian.PutUint16(f.buf[4:6], v) }
func (f Frame) SetDontFragment(v bool) {
	cur := f.flagsFrag() &^ 0x4000
	if v {
		cur |= 0x4000
	}
	binary.BigEndian.PutUint16(f.buf[6:8], cur)
}
func (f Frame) SetTTL(v uint8)                       { f.buf[8] = v }
func (f Frame) SetProtocol(p pgmock.IPProto)         { f.buf[9] = uint8(p) }
func (f Frame) SetChecksum(v uint16)                 { binary.BigEndian.PutUint16(f.buf[10:12], v) }
func (f Frame) SetSourceAddr(a pgmock.IPv4Address)      { copy(f.buf[12:16], a[:]) }
func (f Frame) SetDestinationAddr(a pgmock.IPv4Address) { copy(f.buf[16:20], a[:]) }

// RawData returns the underlying buffer.
func (f Frame) RawData() []byte { return f.buf }

// ValidateIPv4 records a malformed-input error for version!=4, any IP
// options (IHL!=5), or fragmentation (MF set or non-zero offset), per
// §4.4's non-goals.
func (f Frame) ValidateIPv4(v *pgmock.Validator) {
	if f.Version() != 4 {
		v.AddError(pgmock.ErrUnsupportedVer)
	}
	if f.IHL() != 5 {
		v.AddError(pgmock.ErrHasOptions)
	}
	if f.MoreFragments() || f.FragmentOffset() != 0 {
		v.AddError(pgmock.ErrFragmented)
	}
}

// VerifyChecksum recomputes the header checksum over HeaderLen bytes and
// reports whether it matches: a valid header sums to all ones, so the
// complemented result is 0.
func (f Frame) VerifyChecksum() bool {
	return pgmock.InternetChecksum(f.buf[:f.HeaderLen()]) == 0
}

// ComputeChecksum sets the checksum field to 0 for the computation, sums
// the header, and writes the ones' complement back (§4.4).
func (f Frame) ComputeChecksum() {
	f.SetChecksum(0)
	sum := pgmock.InternetChecksum(f.buf[:f.HeaderLen()])
	f.SetChecksum(sum)
}

// NewHeader builds a fixed 20-byte header (no options) into buf with the
// given fields, computes the checksum, and returns the Frame. TotalLength
// is taken from payloadLen; payload bytes the caller copies in afterwards
// are not covered by the header checksum.
func NewHeader(buf []byte, src, dst pgmock.IPv4Address, proto pgmock.IPProto, ttl, dscp uint8, payloadLen int) (Frame, error) {
	f, err := NewFrame(buf)
	if err != nil {
		return f, err
	}
	f.SetVersionIHL(4, 5)
	f.SetDSCPECN(dscp, 0)
	f.SetTotalLength(uint16(pgmock.SizeHeaderIPv4 + payloadLen))
	f.SetID(0)
	f.SetDontFragment(true)
	f.SetTTL(ttl)
	f.SetProtocol(proto)
	f.SetSourceAddr(src)
	f.SetDestinationAddr(dst)
	f.ComputeChecksum()
	return f, nil
}
