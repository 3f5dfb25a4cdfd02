// Package session implements the per-client state machine (§4.4
// "ClientSession"): handshake, the three-source event loop, packet
// classification, the flip rewrite, and outbound transport selection.
package session

import (
	"context"
	"log"
	"net"
	"sync/atomic"

	"smo-relay/internal/apperr"
	"smo-relay/internal/coordinator"
	"smo-relay/internal/lobby"
	"smo-relay/internal/protocol"
	"smo-relay/internal/transport"
)

// directBuf is the per-session direct-command channel capacity (§5
// "session ingress=10").
const directBuf = 10

// Session is one connected client's state machine. It owns its two
// sockets (invariant 5, §3: "A ClientSession writes to its sockets; no
// other task writes to them") and the direct channel the Coordinator and
// reconciliation use to reach it.
type Session struct {
	stream       *transport.StreamConn
	datagram     *transport.DatagramConn
	localUDPPort uint16
	registry     *lobby.Registry
	toCoord      chan<- coordinator.Event

	guid        protocol.GUID
	displayName string
	player      *lobby.Player

	direct chan lobby.Delivery
	alive  atomic.Bool
	done   chan struct{}
}

// New constructs a session around an already-accepted stream and its
// paired (still-pending) datagram endpoint.
func New(stream *transport.StreamConn, datagram *transport.DatagramConn, localUDPPort uint16, registry *lobby.Registry, toCoord chan<- coordinator.Event) *Session {
	s := &Session{
		stream:       stream,
		datagram:     datagram,
		localUDPPort: localUDPPort,
		registry:     registry,
		toCoord:      toCoord,
		direct:       make(chan lobby.Delivery, directBuf),
		done:         make(chan struct{}),
	}
	s.alive.Store(true)
	return s
}

// Deliver implements lobby.Outbound: it hands d to this session's direct
// channel, blocking briefly if the channel is full (§5 "Coordinator
// blocks briefly if a session cannot keep up") and failing once the
// session has already torn down.
func (s *Session) Deliver(d lobby.Delivery) error {
	select {
	case s.direct <- d:
		return nil
	case <-s.done:
		return apperr.ErrChannelSend
	}
}

// Run performs the handshake, then the main event loop, until the session
// terminates (§4.4). The returned error is always non-nil when the
// connection ends other than by explicit shutdown; callers log it but
// never need to act further — termination handling (disconnect,
// socket close) has already run.
func (s *Session) Run(ctx context.Context) error {
	defer close(s.done)
	defer s.stream.Close()
	defer s.datagram.Close()

	if err := s.handshake(ctx); err != nil {
		log.Printf("[session] handshake failed from %s: %v", s.peerAddrString(), err)
		return err
	}
	log.Printf("[session] %s (%s) connected", s.displayName, s.guid)

	err := s.mainLoop(ctx)

	s.toCoord <- coordinator.DisconnectPlayer{GUID: s.guid}
	log.Printf("[session] %s (%s) disconnected: %v", s.displayName, s.guid, err)
	return err
}

func (s *Session) peerAddrString() string {
	if s.stream == nil {
		return "?"
	}
	return s.stream.RemoteAddr().String()
}

// handshake implements §4.4 "Handshake (server-side)".
func (s *Session) handshake(ctx context.Context) error {
	maxPlayers := uint16(s.registry.Settings.MaxPlayers())
	if err := s.stream.WritePacket(protocol.NewPacket(protocol.Zero, protocol.InitBody{MaxPlayers: maxPlayers})); err != nil {
		return apperr.Wrap("send init", err)
	}

	pkt, err := s.stream.ReadPacket()
	if err != nil {
		return apperr.Wrap("await connect", err)
	}
	connect, ok := pkt.Body.(protocol.ConnectBody)
	if !ok {
		return apperr.ErrBadHandshake
	}

	if s.registry.Settings.InitiateUDPHandshake() {
		if err := s.stream.WritePacket(protocol.NewPacket(protocol.Zero, protocol.UdpInitBody{Port: s.localUDPPort})); err != nil {
			return apperr.Wrap("send udp init", err)
		}
	}

	peerAddr := peerIP(s.stream.RemoteAddr())
	reply := make(chan coordinator.NewPlayerResult, 1)
	select {
	case s.toCoord <- coordinator.NewPlayer{
		GUID:     pkt.SenderID,
		Connect:  connect,
		PeerAddr: peerAddr,
		Outbound: s,
		Reply:    reply,
	}:
	case <-ctx.Done():
		return ctx.Err()
	}

	var result coordinator.NewPlayerResult
	select {
	case result = <-reply:
	case <-ctx.Done():
		return ctx.Err()
	}
	if result.Err != nil {
		return result.Err
	}

	s.guid = pkt.SenderID
	s.player = result.Player
	s.displayName = result.Player.DisplayName
	return nil
}

func peerIP(addr net.Addr) net.IP {
	if tcp, ok := addr.(*net.TCPAddr); ok {
		return tcp.IP
	}
	return nil
}

// mainLoop multiplexes the three sources of §4.4 "Main loop": incoming on
// the stream, incoming on the datagram, and outbound deliveries (direct
// dispatch and lobby-wide publishes both arrive on the same per-session
// direct channel, since Registry.Publish pushes to every player's own
// Outbound just like a direct send does).
func (s *Session) mainLoop(ctx context.Context) error {
	streamCh := make(chan readResult)
	go s.readLoop(s.stream.ReadPacket, streamCh)

	dgramCh := make(chan readResult)
	go s.readLoop(s.datagram.ReadPacket, dgramCh)

	for s.alive.Load() {
		select {
		case r := <-streamCh:
			if r.err != nil {
				if apperr.ClassifyErr(r.err) == apperr.ClientFatal {
					return r.err
				}
				log.Printf("[session] %s: stream decode error: %v", s.guid, r.err)
				continue
			}
			if err := s.handleIncoming(r.pkt); err != nil {
				return err
			}

		case r := <-dgramCh:
			if r.err != nil {
				if apperr.ClassifyErr(r.err) == apperr.ClientFatal {
					return r.err
				}
				continue
			}
			if err := s.handleIncoming(r.pkt); err != nil {
				return err
			}

		case d := <-s.direct:
			if err := s.handleOutbound(d); err != nil {
				if apperr.ClassifyErr(err) == apperr.ClientFatal {
					return err
				}
				log.Printf("[session] %s: outbound write error: %v", s.guid, err)
			}

		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return apperr.ErrConnectionClosed
}

type readResult struct {
	pkt protocol.Packet
	err error
}

func (s *Session) readLoop(read func() (protocol.Packet, error), out chan<- readResult) {
	for {
		pkt, err := read()
		select {
		case out <- readResult{pkt: pkt, err: err}:
		case <-s.done:
			return
		}
		if err != nil {
			return
		}
	}
}
