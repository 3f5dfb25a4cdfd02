package transport

import (
	"net"
	"testing"
	"time"

	"smo-relay/internal/apperr"
	"smo-relay/internal/protocol"
)

func TestDatagramConnWriteBeforeBindFails(t *testing.T) {
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatalf("ListenUDP: %v", err)
	}
	defer conn.Close()

	d := NewDatagramConn(conn, net.IPv4(127, 0, 0, 1), make(chan Datagram, 1))
	if d.Bound() {
		t.Fatal("expected unbound DatagramConn before SetPeerPort")
	}

	pkt := protocol.NewPacket(protocol.NewGUID(), protocol.HolePunchBody{})
	if err := d.WritePacket(pkt); err != apperr.ErrNotInitialized {
		t.Fatalf("WritePacket before bind = %v, want ErrNotInitialized", err)
	}
}

func TestDatagramConnSetPeerPortIsOneWay(t *testing.T) {
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatalf("ListenUDP: %v", err)
	}
	defer conn.Close()

	d := NewDatagramConn(conn, net.IPv4(127, 0, 0, 1), make(chan Datagram, 1))
	d.SetPeerPort(1234)
	if !d.Bound() {
		t.Fatal("expected bound after SetPeerPort")
	}
	d.SetPeerPort(5678) // must be ignored
	if d.peerPort != 1234 {
		t.Fatalf("peerPort = %d, want 1234 (second SetPeerPort must be a no-op)", d.peerPort)
	}
}

func TestDatagramConnReadFiltersByBoundPort(t *testing.T) {
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatalf("ListenUDP: %v", err)
	}
	defer conn.Close()

	incoming := make(chan Datagram, 2)
	d := NewDatagramConn(conn, net.IPv4(127, 0, 0, 1), incoming)
	d.SetPeerPort(4242)

	pkt := protocol.NewPacket(protocol.NewGUID(), protocol.HolePunchBody{})
	buf, err := protocol.Encode(pkt)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	// Wrong-port datagram must be skipped, not returned.
	incoming <- Datagram{Data: buf, Port: 9999}
	incoming <- Datagram{Data: buf, Port: 4242}

	got, err := d.ReadPacket()
	if err != nil {
		t.Fatalf("ReadPacket: %v", err)
	}
	if got.Body.Tag() != protocol.TagHolePunch {
		t.Fatalf("got tag %v, want HolePunch", got.Body.Tag())
	}
}

func TestDatagramConnClosePendingReadUnblocks(t *testing.T) {
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatalf("ListenUDP: %v", err)
	}
	defer conn.Close()

	d := NewDatagramConn(conn, net.IPv4(127, 0, 0, 1), make(chan Datagram))

	done := make(chan error, 1)
	go func() {
		_, err := d.ReadPacket()
		done <- err
	}()

	time.Sleep(20 * time.Millisecond)
	d.Close()

	select {
	case err := <-done:
		if err != apperr.ErrConnectionClosed {
			t.Fatalf("ReadPacket after Close = %v, want ErrConnectionClosed", err)
		}
	case <-time.After(time.Second):
		t.Fatal("ReadPacket did not unblock after Close")
	}
}
