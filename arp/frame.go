// Package arp implements ARP request/reply parsing and emission (§4.3):
// a client decoder for resolving addresses, and a Responder that answers
// on behalf of the router's device table.
package arp

import (
	"encoding/binary"

	"github.com/stack-auth/pgmock"
)

// Frame is a read/write view over a 28-byte ARP-over-Ethernet/IPv4
// packet: hardware type, protocol type, hardware/protocol address
// lengths, operation, sender MAC/IP, and target MAC/IP.
type Frame struct {
	buf []byte
}

// NewFrame wraps buf as a Frame. Returns pgmock.ErrShort if buf is
// shorter than the fixed 28-byte layout.
func NewFrame(buf []byte) (Frame, error) {
	if len(buf) < pgmock.SizeHeaderARPv4 {
		return Frame{}, pgmock.ErrShort
	}
	return Frame{buf: buf}, nil
}

func (f Frame) HardwareType() uint16    { return binary.BigEndian.Uint16(f.buf[0:2]) }
func (f Frame) ProtocolType() pgmock.EtherType {
	return pgmock.EtherType(binary.BigEndian.Uint16(f.buf[2:4]))
}
func (f Frame) HardwareLen() uint8 { return f.buf[4] }
func (f Frame) ProtocolLen() uint8 { return f.buf[5] }
func (f Frame) Operation() pgmock.ARPOp {
	return pgmock.ARPOp(binary.BigEndian.Uint16(f.buf[6:8]))
}

func (f Frame) SenderMAC() (m pgmock.MacAddress) { copy(m[:], f.buf[8:14]); return m }
func (f Frame) SenderIP() (a pgmock.IPv4Address)  { copy(a[:], f.buf[14:18]); return a }
func (f Frame) TargetMAC() (m pgmock.MacAddress) { copy(m[:], f.buf[18:24]); return m }
func (f Frame) TargetIP() (a pgmock.IPv4Address)  { copy(a[:], f.buf[24:28]); return a }

func (f Frame) SetHardwareType(v uint16) { binary.BigEndian.PutUint16(f.buf[0:2], v) }
func (f Frame) SetProtocolType(v pgmock.EtherType) {
	binary.BigEndian.PutUint16(f.buf[2:4], uint16(v))
}
func (f Frame) SetHardwareLen(v uint8) { f.buf[4] = v }
func (f Frame) SetProtocolLen(v uint8) { f.buf[5] = v }
func (f Frame) SetOperation(v pgmock.ARPOp) {
	binary.BigEndian.PutUint16(f.buf[6:8], uint16(v))
}
func (f Frame) SetSenderMAC(m pgmock.MacAddress) { copy(f.buf[8:14], m[:]) }
func (f Frame) SetSenderIP(a pgmock.IPv4Address)  { copy(f.buf[14:18], a[:]) }
func (f Frame) SetTargetMAC(m pgmock.MacAddress) { copy(f.buf[18:24], m[:]) }
func (f Frame) SetTargetIP(a pgmock.IPv4Address)  { copy(f.buf[24:28], a[:]) }

// RawData returns the underlying buffer.
func (f Frame) RawData() []byte { return f.buf }

// NewIPv4Request builds a 28-byte Ethernet/IPv4 ARP request into buf.
func NewIPv4Request(buf []byte, senderMAC pgmock.MacAddress, senderIP, targetIP pgmock.IPv4Address) (Frame, error) {
	f, err := NewFrame(buf)
	if err != nil {
		return f, err
	}
	f.SetHardwareType(1)
	f.SetProtocolType(pgmock.EtherTypeIPv4)
	f.SetHardwareLen(6)
	f.SetProtocolLen(4)
	f.SetOperation(pgmock.ARPRequest)
	f.SetSenderMAC(senderMAC)
	f.SetSenderIP(senderIP)
	f.SetTargetMAC(pgmock.MacAddress{})
	f.SetTargetIP(targetIP)
	return f, nil
}

// NewIPv4Reply builds a 28-byte Ethernet/IPv4 ARP reply into buf.
func NewIPv4Reply(buf []byte, senderMAC pgmock.MacAddress, senderIP pgmock.IPv4Address, targetMAC pgmock.MacAddress, targetIP pgmock.IPv4Address) (Frame, error) {
	f, err := NewIPv4Request(buf, senderMAC, senderIP, targetIP)
	if err != nil {
		return f, err
	}
	f.SetOperation(pgmock.ARPReply)
	f.SetTargetMAC(targetMAC)
	return f, nil
}

// ValidateIPv4 records a malformed-input error unless this is an
// Ethernet (hardwareType=1) over IPv4 (protocolType=0x0800) packet (§4.3).
func (f Frame) ValidateIPv4(v *pgmock.Validator) {
	if f.HardwareType() != 1 || f.ProtocolType() != pgmock.EtherTypeIPv4 {
		v.AddError(errUnsupportedHW)
	}
}

var errUnsupportedHW = pgmock.ErrUnsupportedVer
