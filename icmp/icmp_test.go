package icmp

import (
	"testing"

	"github.com/stack-auth/pgmock"
	"github.com/stack-auth/pgmock/ipv4"
)

// TestPing exercises end-to-end scenario 3 of §8: a ping to the
// configured ping server resolves once the server's echo reply loops
// back through Demux.
func TestPing(t *testing.T) {
	srv, _ := pgmock.ParseIPv4("192.168.13.37")
	client, _ := pgmock.ParseIPv4("192.168.0.1")

	h := &Handler{PingServer: srv}
	var toServer []byte
	h.Send = func(dst pgmock.IPv4Address, payload []byte) error {
		toServer = payload
		return nil
	}

	fut := h.Ping(client, srv)
	if toServer == nil {
		t.Fatal("expected echo request to be sent")
	}

	// Feed the request back into Demux as if addressed to the server,
	// which should synthesize a reply...
	consumed, err := h.Demux(ipv4.Datagram{Src: client, Dst: srv, Payload: toServer})
	if err != nil || !consumed {
		t.Fatalf("consumed=%v err=%v", consumed, err)
	}

	reqFrm, _ := NewFrame(toServer)
	replyBuf := make([]byte, pgmock.SizeHeaderICMP)
	NewEcho(replyBuf, TypeEchoReply, reqFrm.Identifier(), reqFrm.Sequence(), nil)

	// ...and an echo reply with the same identifier and sequence,
	// delivered back to the client, resolves the future.
	consumed, err = h.Demux(ipv4.Datagram{Src: srv, Dst: client, Payload: replyBuf})
	if err != nil || !consumed {
		t.Fatalf("consumed=%v err=%v", consumed, err)
	}
	select {
	case err := <-fut:
		if err != nil {
			t.Fatal(err)
		}
	default:
		t.Fatal("expected ping future to resolve")
	}
}

func TestEchoChecksumRoundTrip(t *testing.T) {
	buf := make([]byte, pgmock.SizeHeaderICMP+3)
	frm, err := NewEcho(buf, TypeEchoRequest, 7, 1, []byte{1, 2, 3})
	if err != nil {
		t.Fatal(err)
	}
	if !frm.VerifyChecksum() {
		t.Fatal("expected valid checksum")
	}
}
