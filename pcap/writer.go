// Package pcap writes captured Ethernet frames to the classic libpcap
// file format, so a capture made by the adapter's inbound capture hook can
// be opened directly in Wireshark or tcpdump. There is no third-party
// pcap *writer* in the corpus to build on — the teacher's own
// internet/pcap package is a field-by-field decoder/formatter for a
// byte slice already in memory, not a file writer — so this package is
// a small, deliberate stdlib-only exception (see DESIGN.md).
package pcap

import (
	"bufio"
	"encoding/binary"
	"io"
	"time"
)

const (
	magicMicroseconds = 0xa1b2c3d4
	versionMajor      = 2
	versionMinor      = 4
	linkTypeEthernet  = 1
	snapLen           = 0xffffffff
)

// Writer appends frame records to an underlying io.Writer in pcap
// format. The global header is written once, on the first WriteFrame call.
type Writer struct {
	w           *bufio.Writer
	wroteHeader bool
}

// NewWriter wraps w. The global file header is deferred until the first
// captured frame so that an adapter with packet capture disabled never
// touches w at all.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: bufio.NewWriter(w)}
}

func (p *Writer) writeGlobalHeader() error {
	var hdr [24]byte
	binary.LittleEndian.PutUint32(hdr[0:4], magicMicroseconds)
	binary.LittleEndian.PutUint16(hdr[4:6], versionMajor)
	binary.LittleEndian.PutUint16(hdr[6:8], versionMinor)
	// thiszone, sigfigs: always zero.
	binary.LittleEndian.PutUint32(hdr[16:20], snapLen)
	binary.LittleEndian.PutUint32(hdr[20:24], linkTypeEthernet)
	_, err := p.w.Write(hdr[:])
	return err
}

// WriteFrame appends one captured Ethernet frame, timestamped at ts.
func (p *Writer) WriteFrame(ts time.Time, frame []byte) error {
	if !p.wroteHeader {
		if err := p.writeGlobalHeader(); err != nil {
			return err
		}
		p.wroteHeader = true
	}
	var rec [16]byte
	sec := ts.Unix()
	usec := ts.Nanosecond() / 1000
	binary.LittleEndian.PutUint32(rec[0:4], uint32(sec))
	binary.LittleEndian.PutUint32(rec[4:8], uint32(usec))
	binary.LittleEndian.PutUint32(rec[8:12], uint32(len(frame)))
	binary.LittleEndian.PutUint32(rec[12:16], uint32(len(frame)))
	if _, err := p.w.Write(rec[:]); err != nil {
		return err
	}
	_, err := p.w.Write(frame)
	return err
}

// Flush pushes any buffered bytes to the underlying writer.
func (p *Writer) Flush() error { return p.w.Flush() }
