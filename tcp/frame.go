// Package tcp implements the user-space TCP stack of §4.8: sockets,
// the three-state-machine handshake, sequence/ack bookkeeping,
// retransmission, and stream writes split into 1200-byte segments. It
// deliberately omits congestion control, the four-way FIN/CLOSE
// handshake, window scaling, SACK, and urgent data (spec.md's Non-goals).
package tcp

import (
	"encoding/binary"

	"github.com/stack-auth/pgmock"
)

// Flags holds the independent flag bits of a TCP segment (§3).
type Flags uint16

const (
	FlagFIN Flags = 1 << iota
	FlagSYN
	FlagRST
	FlagPSH
	FlagACK
	FlagURG
	FlagECE
	FlagCWR
	FlagNS
)

func (fl Flags) Has(f Flags) bool { return fl&f != 0 }

// Frame is a read/write view over a TCP segment with a fixed 20-byte
// header (no options).
type Frame struct {
	buf []byte
}

// NewFrame wraps buf as a Frame. Returns pgmock.ErrShort if buf is
// shorter than the fixed 20-byte header.
func NewFrame(buf []byte) (Frame, error) {
	if len(buf) < pgmock.SizeHeaderTCP {
		return Frame{}, pgmock.ErrShort
	}
	return Frame{buf: buf}, nil
}

func (f Frame) SourcePort() uint16      { return binary.BigEndian.Uint16(f.buf[0:2]) }
func (f Frame) DestinationPort() uint16 { return binary.BigEndian.Uint16(f.buf[2:4]) }
func (f Frame) Seq() uint32             { return binary.BigEndian.Uint32(f.buf[4:8]) }
func (f Frame) Ack() uint32             { return binary.BigEndian.Uint32(f.buf[8:12]) }
func (f Frame) DataOffset() uint8       { return f.buf[12] >> 4 }
func (f Frame) Flags() Flags {
	return Flags(uint16(f.buf[12]&0x01)<<8 | uint16(f.buf[13]))
}
func (f Frame) Window() uint16     { return binary.BigEndian.Uint16(f.buf[14:16]) }
func (f Frame) Checksum() uint16   { return binary.BigEndian.Uint16(f.buf[16:18]) }
func (f Frame) UrgentPtr() uint16  { return binary.BigEndian.Uint16(f.buf[18:20]) }
func (f Frame) Data() []byte       { return f.buf[int(f.DataOffset())*4:] }
func (f Frame) RawData() []byte    { return f.buf }

func (f Frame) SetSourcePort(v uint16)      { binary.BigEndian.PutUint16(f.buf[0:2], v) }
func (f Frame) SetDestinationPort(v uint16) { binary.BigEndian.PutUint16(f.buf[2:4], v) }
func (f Frame) SetSeq(v uint32)             { binary.BigEndian.PutUint32(f.buf[4:8], v) }
func (f Frame) SetAck(v uint32)             { binary.BigEndian.PutUint32(f.buf[8:12], v) }
func (f Frame) SetDataOffset(words uint8)   { f.buf[12] = f.buf[12]&0x01 | words<<4 }
func (f Frame) SetFlags(fl Flags) {
	f.buf[12] = f.buf[12]&0xfe | byte(fl>>8&0x01)
	f.buf[13] = byte(fl)
}
func (f Frame) SetWindow(v uint16)    { binary.BigEndian.PutUint16(f.buf[14:16], v) }
func (f Frame) SetChecksum(v uint16)  { binary.BigEndian.PutUint16(f.buf[16:18], v) }
func (f Frame) SetUrgentPtr(v uint16) { binary.BigEndian.PutUint16(f.buf[18:20], v) }

// pseudoHeaderSum sums the IPv4 pseudo-header used by the TCP checksum:
// src, dst, a zero byte, protocol 6, and the TCP segment length.
func pseudoHeaderSum(c *pgmock.CRC791, src, dst pgmock.IPv4Address, tcpLen uint16) {
	c.Write(src[:])
	c.Write(dst[:])
	c.AddUint16(uint16(pgmock.ProtoTCP))
	c.AddUint16(tcpLen)
}

// VerifyChecksum recomputes the pseudo-header + segment checksum.
func (f Frame) VerifyChecksum(src, dst pgmock.IPv4Address) bool {
	var c pgmock.CRC791
	pseudoHeaderSum(&c, src, dst, uint16(len(f.buf)))
	c.Write(f.buf)
	return c.Sum16() == 0 // a valid segment sums to all ones
}

// NewSegment builds a TCP segment (no options, fixed 20-byte header)
// into buf and computes its checksum over the IPv4 pseudo-header.
func NewSegment(buf []byte, src, dst pgmock.IPv4Address, srcPort, dstPort uint16, seq, ack uint32, flags Flags, window uint16, payload []byte) (Frame, error) {
	f, err := NewFrame(buf)
	if err != nil {
		return f, err
	}
	f.SetSourcePort(srcPort)
	f.SetDestinationPort(dstPort)
	f.SetSeq(seq)
	f.SetAck(ack)
	f.SetDataOffset(5)
	f.SetFlags(flags)
	f.SetWindow(window)
	f.SetUrgentPtr(0)
	copy(f.Data(), payload)
	f.SetChecksum(0)
	var c pgmock.CRC791
	pseudoHeaderSum(&c, src, dst, uint16(len(buf)))
	c.Write(buf)
	f.SetChecksum(c.Sum16())
	return f, nil
}
