package session

import (
	"smo-relay/internal/coordinator"
	"smo-relay/internal/protocol"
	"smo-relay/internal/settings"
)

// handleIncoming classifies one packet read off either socket per the
// routing table in §4.4: it mutates the session's own player record as
// the table prescribes, then either forwards to the Coordinator or
// publishes it to the lobby via Registry.Publish.
func (s *Session) handleIncoming(pkt protocol.Packet) error {
	switch body := pkt.Body.(type) {
	case protocol.PlayerBody:
		s.player.SetPosition(body.Pos)
		if s.registry.Settings.FlipAppliesTo(pkt.SenderID, settings.PovOthers, settings.PovBoth) {
			body = applyFlip(body, s.player.IsTwoD())
			pkt.Body = body
		}
		return s.forward(pkt)

	case protocol.CapBody:
		return s.forward(pkt)

	case protocol.CostumeBody:
		s.player.SetCostume(body.Costume)
		return s.forward(pkt)

	case protocol.GameBody:
		s.player.ApplyGame(body, pkt)
		return s.forward(pkt)

	case protocol.TagBody:
		switch body.UpdateKind {
		case protocol.TagUpdateTime:
			s.player.SetTagTime(body.Minutes, body.Seconds)
		case protocol.TagUpdateState:
			s.player.SetSeeker(body.IsSeeker)
		}
		return s.broadcast(pkt)

	case protocol.ShineBody:
		s.player.AckShine(body.ShineID)
		return s.forward(pkt)

	case protocol.UdpInitBody:
		s.datagram.SetPeerPort(body.Port)
		return nil // swallow

	case protocol.HolePunchBody:
		return nil // swallow

	case protocol.DisconnectBody:
		s.alive.Store(false)
		return s.forward(pkt)

	default:
		return s.broadcast(pkt)
	}
}

// forward sends pkt to the Coordinator's ingress channel (§4.4 "forward to
// Coordinator"), unless the session is tearing down.
func (s *Session) forward(pkt protocol.Packet) error {
	select {
	case s.toCoord <- coordinator.IncomingPacket{GUID: s.guid, Packet: pkt}:
		return nil
	case <-s.done:
		return nil
	}
}

// broadcast fans pkt out to every connected player, including this
// session's own receive side (§4.4 "broadcast"); the self-echo guard in
// handleOutbound is what keeps it from being written back to its sender.
func (s *Session) broadcast(pkt protocol.Packet) error {
	s.registry.Publish(lobbyDelivery(pkt))
	return nil
}
