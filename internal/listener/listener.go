// Package listener implements the reliable-stream accept loop: fast-reject
// of banned addresses, a non-authoritative capacity check, and spawning
// one ClientSession handshake task per accepted connection (§4.5).
package listener

import (
	"context"
	"log"
	"net"

	"smo-relay/internal/coordinator"
	"smo-relay/internal/lobby"
	"smo-relay/internal/session"
	"smo-relay/internal/settings"
	"smo-relay/internal/transport"
)

// Listener owns the TCP accept socket and the shared UDP demux the
// per-session DatagramConns are carved out of.
type Listener struct {
	ln       net.Listener
	demux    *transport.Demux
	registry *lobby.Registry
	settings *settings.Handle
	toCoord  chan<- coordinator.Event
}

// New binds a TCP listener on addr and a paired UDP demux on the same port,
// ready to Run.
func New(addr string, registry *lobby.Registry, s *settings.Handle, toCoord chan<- coordinator.Event) (*Listener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	demux, err := transport.NewDemux(addr)
	if err != nil {
		_ = ln.Close()
		return nil, err
	}
	return &Listener{ln: ln, demux: demux, registry: registry, settings: s, toCoord: toCoord}, nil
}

// Run accepts connections until ctx is cancelled (§4.5 "Shuts down when the
// shutdown broadcast fires").
func (l *Listener) Run(ctx context.Context) error {
	go l.demux.Run()

	go func() {
		<-ctx.Done()
		_ = l.ln.Close()
		_ = l.demux.Close()
	}()

	log.Printf("[listener] listening on %s", l.ln.Addr())
	for {
		conn, err := l.ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
				log.Printf("[listener] accept error: %v", err)
				continue
			}
		}
		go l.handle(ctx, conn)
	}
}

// handle implements the per-connection fast-reject and spawns the session's
// handshake/event-loop task (§4.5).
func (l *Listener) handle(ctx context.Context, conn net.Conn) {
	peerIP := tcpIP(conn.RemoteAddr())

	if peerIP != nil && l.settings.IsBannedIP(peerIP.String()) {
		log.Printf("[listener] rejecting banned address %s", peerIP)
		_ = conn.Close()
		return
	}
	if l.registry.Count() >= l.settings.MaxPlayers() {
		log.Printf("[listener] player count at capacity, letting handshake fail authoritatively for %s", conn.RemoteAddr())
	}

	stream := transport.NewStreamConn(conn)

	var dgram *transport.DatagramConn
	if peerIP != nil {
		incoming := l.demux.Register(peerIP)
		dgram = transport.NewDatagramConn(l.demux.UDPConn(), peerIP, incoming)
	}

	s := session.New(stream, dgram, l.demux.LocalPort(), l.registry, l.toCoord)
	if err := s.Run(ctx); err != nil {
		log.Printf("[listener] session from %s ended: %v", conn.RemoteAddr(), err)
	}
	if peerIP != nil {
		l.demux.Unregister(peerIP)
	}
}

func tcpIP(addr net.Addr) net.IP {
	if tcp, ok := addr.(*net.TCPAddr); ok {
		return tcp.IP
	}
	return nil
}
