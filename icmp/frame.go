// Package icmp implements ICMP echo request/reply (§4.5): a ping client
// exposing a completion future, and a ping server answering echo
// requests addressed to a configured address even with no upper-layer
// socket bound there.
package icmp

import (
	"encoding/binary"

	"github.com/stack-auth/pgmock"
)

const (
	TypeEchoRequest = 8
	TypeEchoReply   = 0
)

// Frame is a read/write view over an ICMP echo message: type, code,
// checksum, identifier, sequence, and payload.
type Frame struct {
	buf []byte
}

// NewFrame wraps buf as a Frame. Returns pgmock.ErrShort if buf is
// shorter than the fixed 8-byte header.
func NewFrame(buf []byte) (Frame, error) {
	if len(buf) < pgmock.SizeHeaderICMP {
		return Frame{}, pgmock.ErrShort
	}
	return Frame{buf: buf}, nil
}

func (f Frame) Type() uint8        { return f.buf[0] }
func (f Frame) Code() uint8        { return f.buf[1] }
func (f Frame) Checksum() uint16   { return binary.BigEndian.Uint16(f.buf[2:4]) }
func (f Frame) Identifier() uint16 { return binary.BigEndian.Uint16(f.buf[4:6]) }
func (f Frame) Sequence() uint16   { return binary.BigEndian.Uint16(f.buf[6:8]) }
func (f Frame) Payload() []byte    { return f.buf[pgmock.SizeHeaderICMP:] }
func (f Frame) RawData() []byte    { return f.buf }

// Key combines identifier and sequence into the 32-bit value used to
// match an echo reply against an outstanding ping (§4.5).
func (f Frame) Key() uint32 { return uint32(f.Identifier())<<16 | uint32(f.Sequence()) }

func (f Frame) SetType(v uint8)        { f.buf[0] = v }
func (f Frame) SetCode(v uint8)        { f.buf[1] = v }
func (f Frame) SetChecksum(v uint16)   { binary.BigEndian.PutUint16(f.buf[2:4], v) }
func (f Frame) SetIdentifier(v uint16) { binary.BigEndian.PutUint16(f.buf[4:6], v) }
func (f Frame) SetSequence(v uint16)   { binary.BigEndian.PutUint16(f.buf[6:8], v) }

// NewEcho builds an ICMP echo message (request if typ==TypeEchoRequest,
// reply if TypeEchoReply) with the given identifier/sequence/payload,
// computing the checksum over the entire message (§4.5).
func NewEcho(buf []byte, typ uint8, id, seq uint16, payload []byte) (Frame, error) {
	f, err := NewFrame(buf)
	if err != nil {
		return f, err
	}
	f.SetType(typ)
	f.SetCode(0)
	f.SetIdentifier(id)
	f.SetSequence(seq)
	copy(f.Payload(), payload)
	f.SetChecksum(0)
	f.SetChecksum(pgmock.InternetChecksum(f.buf))
	return f, nil
}

// VerifyChecksum reports whether the message's checksum is valid: a valid
// message sums to all ones, so the complemented result is 0.
func (f Frame) VerifyChecksum() bool { return pgmock.InternetChecksum(f.buf) == 0 }
