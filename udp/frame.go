// Package udp implements UDP parse/emit with the IPv4 pseudo-header
// checksum (§4.6).
package udp

import (
	"encoding/binary"

	"github.com/stack-auth/pgmock"
)

// Frame is a read/write view over a UDP message: source port,
// destination port, length, checksum, and payload.
type Frame struct {
	buf []byte
}

// NewFrame wraps buf as a Frame. Returns pgmock.ErrShort if buf is
// shorter than the fixed 8-byte header.
func NewFrame(buf []byte) (Frame, error) {
	if len(buf) < pgmock.SizeHeaderUDP {
		return Frame{}, pgmock.ErrShort
	}
	return Frame{buf: buf}, nil
}

func (f Frame) SourcePort() uint16      { return binary.BigEndian.Uint16(f.buf[0:2]) }
func (f Frame) DestinationPort() uint16 { return binary.BigEndian.Uint16(f.buf[2:4]) }
func (f Frame) Length() uint16          { return binary.BigEndian.Uint16(f.buf[4:6]) }
func (f Frame) Checksum() uint16        { return binary.BigEndian.Uint16(f.buf[6:8]) }
func (f Frame) Payload() []byte         { return f.buf[pgmock.SizeHeaderUDP:] }
func (f Frame) RawData() []byte         { return f.buf }

func (f Frame) SetSourcePort(v uint16)      { binary.BigEndian.PutUint16(f.buf[0:2], v) }
func (f Frame) SetDestinationPort(v uint16) { binary.BigEndian.PutUint16(f.buf[2:4], v) }
func (f Frame) SetLength(v uint16)          { binary.BigEndian.PutUint16(f.buf[4:6], v) }
func (f Frame) SetChecksum(v uint16)        { binary.BigEndian.PutUint16(f.buf[6:8], v) }

// pseudoHeaderSum sums the IPv4 pseudo-header: src, dst, a zero byte,
// protocol 0x11, and the UDP length (§4.6).
func pseudoHeaderSum(c *pgmock.CRC791, src, dst pgmock.IPv4Address, udpLen uint16) {
	c.Write(src[:])
	c.Write(dst[:])
	c.AddUint16(uint16(pgmock.ProtoUDP))
	c.AddUint16(udpLen)
}

// ValidateLength records a malformed-input error if the Length field
// does not match the IP payload length actually carried (§4.6).
func (f Frame) ValidateLength(v *pgmock.Validator, ipPayloadLen int) {
	if int(f.Length()) != ipPayloadLen {
		v.AddError(pgmock.ErrShort)
	}
}

// VerifyChecksum recomputes the pseudo-header + message checksum and
// reports whether it matches.
func (f Frame) VerifyChecksum(src, dst pgmock.IPv4Address) bool {
	var c pgmock.CRC791
	pseudoHeaderSum(&c, src, dst, f.Length())
	c.Write(f.buf[:f.Length()])
	return c.Sum16() == 0 // a valid message sums to all ones
}

// NewMessage builds a UDP message into buf and computes its checksum
// using the IPv4 pseudo-header. If the computed checksum folds to zero,
// it is replaced with 0xffff per UDP convention (§4.6).
func NewMessage(buf []byte, src, dst pgmock.IPv4Address, srcPort, dstPort uint16, payload []byte) (Frame, error) {
	f, err := NewFrame(buf)
	if err != nil {
		return f, err
	}
	f.SetSourcePort(srcPort)
	f.SetDestinationPort(dstPort)
	length := uint16(pgmock.SizeHeaderUDP + len(payload))
	f.SetLength(length)
	copy(f.Payload(), payload)
	f.SetChecksum(0)
	var c pgmock.CRC791
	pseudoHeaderSum(&c, src, dst, length)
	c.Write(f.buf[:length])
	f.SetChecksum(pgmock.NeverZeroChecksum(c.Sum16()))
	return f, nil
}
