package transport

import (
	"log"
	"net"
	"sync"

	"smo-relay/internal/protocol"
)

// incomingBuf is the per-session buffered channel depth for the datagram
// demux — generous enough to absorb a burst of Player/Cap packets between
// session scheduler ticks without the demux loop blocking on one slow peer.
const incomingBuf = 32

// Datagram is one UDP payload paired with the source port it arrived from,
// so a DatagramConn can apply the bound-peer port filter from §4.3.
type Datagram struct {
	Data []byte
	Port int
}

// Demux owns the single shared UDP socket all clients send their datagrams
// to (the server advertises one local_datagram_port, §4.4/§6) and fans
// each datagram out to the DatagramConn whose peer IP it matches. A shared
// socket is necessary because the server side of the two-phase handshake
// only knows a client's source IP (from the TCP accept) until that
// client's own UdpInit names its port.
type Demux struct {
	conn *net.UDPConn

	mu     sync.RWMutex
	byAddr map[string]chan Datagram
}

// NewDemux binds a UDP socket on addr and returns a Demux ready to Run.
func NewDemux(addr string) (*Demux, error) {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, err
	}
	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return nil, err
	}
	return &Demux{conn: conn, byAddr: make(map[string]chan Datagram)}, nil
}

// LocalPort returns the UDP port the demux is bound to, for advertising in
// the UdpInit{port} the server sends at handshake.
func (d *Demux) LocalPort() uint16 {
	return uint16(d.conn.LocalAddr().(*net.UDPAddr).Port)
}

// UDPConn returns the shared socket, for constructing a DatagramConn that
// writes through it.
func (d *Demux) UDPConn() *net.UDPConn {
	return d.conn
}

// Register allocates the incoming channel for a newly-handshaking session
// expecting datagrams from peerIP. Call Unregister on session teardown.
func (d *Demux) Register(peerIP net.IP) chan Datagram {
	ch := make(chan Datagram, incomingBuf)
	d.mu.Lock()
	d.byAddr[peerIP.String()] = ch
	d.mu.Unlock()
	return ch
}

// Unregister removes a session's datagram routing and closes its channel.
func (d *Demux) Unregister(peerIP net.IP) {
	d.mu.Lock()
	ch, ok := d.byAddr[peerIP.String()]
	delete(d.byAddr, peerIP.String())
	d.mu.Unlock()
	if ok {
		close(ch)
	}
}

// Run reads datagrams until the socket is closed, routing each to the
// registered session matching its source IP. Datagrams from unregistered
// sources are dropped — §4.3's filter-by-expected-peer-address applies at
// the IP level here; the per-session DatagramConn then further filters by
// the bound port once the two-phase handshake completes.
func (d *Demux) Run() {
	buf := make([]byte, protocol.MaxPacketSize)
	for {
		n, addr, err := d.conn.ReadFromUDP(buf)
		if err != nil {
			return // socket closed; listener is shutting down
		}
		if n == 0 {
			continue
		}

		d.mu.RLock()
		ch, ok := d.byAddr[addr.IP.String()]
		d.mu.RUnlock()
		if !ok {
			continue
		}

		cp := make([]byte, n)
		copy(cp, buf[:n])
		select {
		case ch <- Datagram{Data: cp, Port: addr.Port}:
		default:
			log.Printf("[demux] dropping datagram from %s: session channel full", addr)
		}
	}
}

// Close stops Run and releases the socket.
func (d *Demux) Close() error {
	return d.conn.Close()
}
