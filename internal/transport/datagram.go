package transport

import (
	"net"
	"sync"

	"smo-relay/internal/apperr"
	"smo-relay/internal/protocol"
)

// datagramState tracks the two-phase peer bind described in §4.3 and §9:
// datagram sockets have no connect handshake, so the server must wait for
// an explicit UdpInit from the client before it knows where to send.
type datagramState int

const (
	peerPending datagramState = iota
	peerBound
)

// DatagramConn is a per-client datagram endpoint sharing one underlying
// *net.UDPConn listener with every other session; it filters by the
// expected peer IP (known from the TCP accept) and, once bound, the
// peer's UDP port (learned from UdpInit).
type DatagramConn struct {
	conn *net.UDPConn

	mu       sync.Mutex
	state    datagramState
	peerIP   net.IP
	peerPort uint16
	boundCh  chan struct{}
	closeCh  chan struct{}
	closed   bool

	// incoming is fed by the listener's shared demux loop, which reads the
	// one real socket and routes each datagram to the session whose peer
	// IP it matches.
	incoming chan Datagram
}

// NewDatagramConn constructs a pending datagram endpoint expecting its
// peer at peerIP. conn is the shared listening socket; incoming is this
// session's slice of the demultiplexed datagram stream.
func NewDatagramConn(conn *net.UDPConn, peerIP net.IP, incoming chan Datagram) *DatagramConn {
	return &DatagramConn{
		conn:     conn,
		state:    peerPending,
		peerIP:   peerIP,
		boundCh:  make(chan struct{}),
		closeCh:  make(chan struct{}),
		incoming: incoming,
	}
}

// SetPeerPort transitions the connection from pending to bound. Later
// calls are ignored — the bind is one-way for the life of the session.
func (d *DatagramConn) SetPeerPort(port uint16) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.state == peerBound {
		return
	}
	d.peerPort = port
	d.state = peerBound
	close(d.boundCh)
}

// Bound reports whether the peer's datagram port is known yet.
func (d *DatagramConn) Bound() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state == peerBound
}

// ReadPacket blocks while pending (§4.3); once bound it waits for the next
// datagram already routed to this session (the shared listener has
// already filtered by source IP) and decodes it. Closing the connection
// unblocks a pending read with ErrConnectionClosed.
func (d *DatagramConn) ReadPacket() (protocol.Packet, error) {
	for {
		d.mu.Lock()
		state := d.state
		boundCh := d.boundCh
		closeCh := d.closeCh
		d.mu.Unlock()

		if state == peerPending {
			select {
			case <-boundCh:
				continue
			case <-closeCh:
				return protocol.Packet{}, apperr.ErrConnectionClosed
			}
		}

		select {
		case dg, ok := <-d.incoming:
			if !ok {
				return protocol.Packet{}, apperr.ErrConnectionClosed
			}
			d.mu.Lock()
			expectedPort := d.peerPort
			d.mu.Unlock()
			if dg.Port != int(expectedPort) {
				continue // demux only filters by IP; this datagram is from a different port than the bound peer
			}
			p, _, err := protocol.Decode(dg.Data)
			if err != nil {
				continue // malformed datagram; UDP has no framing to resync, drop and wait for the next one
			}
			return p, nil
		case <-closeCh:
			return protocol.Packet{}, apperr.ErrConnectionClosed
		}
	}
}

// WritePacket sends packet to the bound peer. It fails with
// ErrNotInitialized while the peer port is still unknown (§4.3, §9) —
// the spec requires this to surface as an error, never a silent drop.
func (d *DatagramConn) WritePacket(p protocol.Packet) error {
	d.mu.Lock()
	if d.state == peerPending {
		d.mu.Unlock()
		return apperr.ErrNotInitialized
	}
	addr := &net.UDPAddr{IP: d.peerIP, Port: int(d.peerPort)}
	d.mu.Unlock()

	buf, err := protocol.Encode(p)
	if err != nil {
		return err
	}
	_, err = d.conn.WriteToUDP(buf, addr)
	if err != nil {
		return apperr.Wrap("datagram write", err)
	}
	return nil
}

// Close unblocks any pending ReadPacket call. The shared socket itself is
// owned by the listener, not the session, and is not closed here.
func (d *DatagramConn) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.closed {
		d.closed = true
		close(d.closeCh)
	}
	return nil
}
