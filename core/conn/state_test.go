package conn

import (
	"net"
	"testing"

	"github.com/katzenpost/rudp/core/crypto"
)

func testAddr() net.Addr {
	return &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 9000}
}

func TestHandshakeTransitions(t *testing.T) {
	c := New(testAddr())
	if c.State != Closed {
		t.Fatalf("new connection should start CLOSED, got %s", c.State)
	}

	if err := c.AcceptSYN(42, crypto.Passthrough{}); err != nil {
		t.Fatalf("AcceptSYN: %v", err)
	}
	if c.State != SynReceived {
		t.Fatalf("expected SYN_RECEIVED, got %s", c.State)
	}
	if c.RemoteSeq != 42 || c.LocalSeq != 0 {
		t.Errorf("unexpected seq state: remote=%d local=%d", c.RemoteSeq, c.LocalSeq)
	}

	if err := c.AcceptHandshakeACK(); err != nil {
		t.Fatalf("AcceptHandshakeACK: %v", err)
	}
	if c.State != Established {
		t.Fatalf("expected ESTABLISHED, got %s", c.State)
	}
	if c.ExpectedSeq != 43 {
		t.Errorf("expected ExpectedSeq=43, got %d", c.ExpectedSeq)
	}

	if err := c.AcceptFIN(); err != nil {
		t.Fatalf("AcceptFIN: %v", err)
	}
	if c.State != CloseWait {
		t.Fatalf("expected CLOSE_WAIT, got %s", c.State)
	}
}

func TestInvalidTransitionsAreRejected(t *testing.T) {
	c := New(testAddr())
	if err := c.AcceptHandshakeACK(); err == nil {
		t.Fatal("expected error accepting ACK before SYN")
	}
	if err := c.AcceptFIN(); err == nil {
		t.Fatal("expected error accepting FIN before ESTABLISHED")
	}

	_ = c.AcceptSYN(1, crypto.Passthrough{})
	if err := c.AcceptSYN(2, crypto.Passthrough{}); err == nil {
		t.Fatal("expected error accepting a second SYN")
	}
}

func TestAdvertisedWindow(t *testing.T) {
	c := New(testAddr())
	c.RecvBufferCap = 4096
	if got, want := c.AdvertisedWindow(), uint32(4); got != want {
		t.Fatalf("empty buffer: got window %d, want %d", got, want)
	}
	c.RecvBuffer.Write(make([]byte, 1024))
	if got, want := c.AdvertisedWindow(), uint32(3); got != want {
		t.Fatalf("after 1 unit consumed: got window %d, want %d", got, want)
	}
	c.RecvBuffer.Write(make([]byte, 4096))
	if got, want := c.AdvertisedWindow(), uint32(0); got != want {
		t.Fatalf("overfull buffer: got window %d, want %d", got, want)
	}
}
