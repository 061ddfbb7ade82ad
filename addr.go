package pgmock

import (
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"
)

// IPv4Address is four octets in network byte order. The zero value is
// 0.0.0.0. Always exactly four octets; there is no way to construct a
// shorter or longer value through this type's API.
type IPv4Address [4]byte

// ParseIPv4 parses dotted-decimal text such as "192.168.13.37".
func ParseIPv4(s string) (IPv4Address, error) {
	var a IPv4Address
	parts := strings.Split(s, ".")
	if len(parts) != 4 {
		return a, fmt.Errorf("pgmock: %q is not a dotted-decimal IPv4 address", s)
	}
	for i, p := range parts {
		v, err := strconv.ParseUint(p, 10, 8)
		if err != nil {
			return a, fmt.Errorf("pgmock: %q is not a dotted-decimal IPv4 address: %w", s, err)
		}
		a[i] = byte(v)
	}
	return a, nil
}

// IPv4FromBytes copies the first 4 bytes of b into a new IPv4Address.
func IPv4FromBytes(b []byte) (IPv4Address, error) {
	var a IPv4Address
	if len(b) < 4 {
		return a, ErrShort
	}
	copy(a[:], b[:4])
	return a, nil
}

// IPv4FromUint32 builds an address from a 32-bit big-endian integer.
func IPv4FromUint32(v uint32) IPv4Address {
	var a IPv4Address
	binary.BigEndian.PutUint32(a[:], v)
	return a
}

// Uint32 is the lossless big-endian integer form of the address.
func (a IPv4Address) Uint32() uint32 { return binary.BigEndian.Uint32(a[:]) }

func (a IPv4Address) String() string {
	return strconv.Itoa(int(a[0])) + "." + strconv.Itoa(int(a[1])) + "." +
		strconv.Itoa(int(a[2])) + "." + strconv.Itoa(int(a[3]))
}

// Equal reports whether a and b are the same address.
func (a IPv4Address) Equal(b IPv4Address) bool { return a == b }

// IsBroadcast reports whether a is the limited broadcast 255.255.255.255.
func (a IPv4Address) IsBroadcast() bool { return a == IPv4Address{255, 255, 255, 255} }

// And returns the bitwise AND of a and b, e.g. masking with a subnet mask.
func (a IPv4Address) And(b IPv4Address) IPv4Address {
	return IPv4Address{a[0] & b[0], a[1] & b[1], a[2] & b[2], a[3] & b[3]}
}

// Or returns the bitwise OR of a and b.
func (a IPv4Address) Or(b IPv4Address) IPv4Address {
	return IPv4Address{a[0] | b[0], a[1] | b[1], a[2] | b[2], a[3] | b[3]}
}

// Xor returns the bitwise XOR of a and b.
func (a IPv4Address) Xor(b IPv4Address) IPv4Address {
	return IPv4Address{a[0] ^ b[0], a[1] ^ b[1], a[2] ^ b[2], a[3] ^ b[3]}
}

// Not returns the bitwise complement of a.
func (a IPv4Address) Not() IPv4Address {
	return IPv4Address{^a[0], ^a[1], ^a[2], ^a[3]}
}

// MacAddress is six octets. Always exactly six; there is no way to
// construct a shorter or longer value through this type's API.
type MacAddress [6]byte

// Broadcast is the Ethernet broadcast address ff:ff:ff:ff:ff:ff.
var Broadcast = MacAddress{0xff, 0xff, 0xff, 0xff, 0xff, 0xff}

// ParseMac parses colon-hex text such as "00:0c:13:37:42:69".
func ParseMac(s string) (MacAddress, error) {
	var m MacAddress
	parts := strings.Split(s, ":")
	if len(parts) != 6 {
		return m, fmt.Errorf("pgmock: %q is not a colon-hex MAC address", s)
	}
	for i, p := range parts {
		v, err := strconv.ParseUint(p, 16, 8)
		if err != nil {
			return m, fmt.Errorf("pgmock: %q is not a colon-hex MAC address: %w", s, err)
		}
		m[i] = byte(v)
	}
	return m, nil
}

// MacFromBytes copies the first 6 bytes of b into a new MacAddress.
func MacFromBytes(b []byte) (MacAddress, error) {
	var m MacAddress
	if len(b) < 6 {
		return m, ErrShort
	}
	copy(m[:], b[:6])
	return m, nil
}

func (m MacAddress) String() string {
	const hex = "0123456789abcdef"
	var buf [17]byte
	for i, b := range m {
		buf[i*3] = hex[b>>4]
		buf[i*3+1] = hex[b&0xf]
		if i != 5 {
			buf[i*3+2] = ':'
		}
	}
	return string(buf[:])
}

// Equal reports whether m and o are the same address.
func (m MacAddress) Equal(o MacAddress) bool { return m == o }

// IsBroadcast reports whether m is ff:ff:ff:ff:ff:ff.
func (m MacAddress) IsBroadcast() bool { return m == Broadcast }
