package pcap

import (
	"bytes"
	"encoding/binary"
	"testing"
	"time"
)

func TestWriterGlobalHeaderOnce(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	frame := []byte{1, 2, 3, 4}
	ts := time.Unix(1700000000, 500000)

	if err := w.WriteFrame(ts, frame); err != nil {
		t.Fatal(err)
	}
	if err := w.WriteFrame(ts, frame); err != nil {
		t.Fatal(err)
	}
	if err := w.Flush(); err != nil {
		t.Fatal(err)
	}

	got := buf.Bytes()
	if len(got) != 24+2*(16+len(frame)) {
		t.Fatalf("len = %d, want %d", len(got), 24+2*(16+len(frame)))
	}
	magic := binary.LittleEndian.Uint32(got[0:4])
	if magic != magicMicroseconds {
		t.Fatalf("magic = %#x, want %#x", magic, magicMicroseconds)
	}
	linkType := binary.LittleEndian.Uint32(got[20:24])
	if linkType != linkTypeEthernet {
		t.Fatalf("linkType = %d, want %d", linkType, linkTypeEthernet)
	}

	recSec := binary.LittleEndian.Uint32(got[24:28])
	if recSec != uint32(ts.Unix()) {
		t.Fatalf("record ts sec = %d, want %d", recSec, ts.Unix())
	}
	capLen := binary.LittleEndian.Uint32(got[32:36])
	if capLen != uint32(len(frame)) {
		t.Fatalf("caplen = %d, want %d", capLen, len(frame))
	}
	if !bytes.Equal(got[40:44], frame) {
		t.Fatalf("frame bytes = %v, want %v", got[40:44], frame)
	}
}

func TestWriterNoFramesNoHeader(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	if err := w.Flush(); err != nil {
		t.Fatal(err)
	}
	if buf.Len() != 0 {
		t.Fatalf("expected no bytes written without a captured frame, got %d", buf.Len())
	}
}
