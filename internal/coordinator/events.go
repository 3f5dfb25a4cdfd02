package coordinator

import (
	"net"

	"smo-relay/internal/lobby"
	"smo-relay/internal/operator"
	"smo-relay/internal/protocol"
)

// IngressBuf is the Coordinator's ingress channel capacity (§5 "coordinator
// ingress=100").
const IngressBuf = 100

// NewPlayerResult is the admission decision delivered back to a session
// after it sends a NewPlayer event, carrying the session's own Player
// record on success (§4.6 "NewPlayer").
type NewPlayerResult struct {
	Player *lobby.Player
	Err    error
}

// NewPlayer is the handshake-complete event a session sends once: this
// session, its parsed Connect packet, its peer address, and the outbound
// handle the Coordinator should install into the player record (§4.4 step
// 4, §4.6 "NewPlayer").
type NewPlayer struct {
	GUID     protocol.GUID
	Connect  protocol.ConnectBody
	PeerAddr net.IP
	Outbound lobby.Outbound
	Reply    chan<- NewPlayerResult
}

// DisconnectPlayer asks the Coordinator to remove guid's record and tell
// its session to exit (§4.6 "DisconnectPlayer").
type DisconnectPlayer struct {
	GUID protocol.GUID
}

// IncomingPacket forwards a packet that needs cross-cutting handling —
// Costume, Shine, Game — from the owning session to the Coordinator
// (§4.4 "forward to Coordinator").
type IncomingPacket struct {
	GUID   protocol.GUID
	Packet protocol.Packet
}

// ExternalCommand carries an operator-issued Request through to the
// Coordinator's dispatch table (§4.6 "External command").
type ExternalCommand struct {
	Request operator.Request
}

// Event is the sum type accepted on the Coordinator's ingress channel. It
// is implemented by NewPlayer, DisconnectPlayer, IncomingPacket, and
// ExternalCommand — a plain Go interface stands in for the tagged union
// the core's event loop switches on.
type Event interface {
	isEvent()
}

func (NewPlayer) isEvent()        {}
func (DisconnectPlayer) isEvent() {}
func (IncomingPacket) isEvent()   {}
func (ExternalCommand) isEvent()  {}
