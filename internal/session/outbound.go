package session

import (
	"smo-relay/internal/apperr"
	"smo-relay/internal/lobby"
	"smo-relay/internal/protocol"
	"smo-relay/internal/settings"
)

// lobbyDelivery wraps a plain (non-self-addressed) packet for a
// Registry.Publish fan-out.
func lobbyDelivery(pkt protocol.Packet) lobby.Delivery {
	return lobby.Delivery{Packet: pkt}
}

// handleOutbound processes one delivery taken from the session's direct
// channel (§4.4 "Outbound packet"). A self-addressed push is checked
// first: it always targets this session regardless of what SenderID was
// constructed with (the coordinator builds these with the destination's
// own GUID already), so it must not be caught by the plain self-echo
// guard below. Flip rewrite and sender readdressing follow the
// original's handle_command split: the self-flip rewrite only applies to
// plain relayed packets, never to self-addressed pushes (§C).
func (s *Session) handleOutbound(d lobby.Delivery) error {
	pkt := d.Packet

	if d.SelfAddressed {
		switch body := pkt.Body.(type) {
		case protocol.ShineBody:
			s.player.MarkShineSynced(body.ShineID)
		case protocol.DisconnectBody:
			s.alive.Store(false)
		}
		pkt.SenderID = s.guid
		return s.writeTransport(pkt)
	}

	if pkt.SenderID == s.guid {
		return nil // no self-echo (invariant 6, §3)
	}

	if body, ok := pkt.Body.(protocol.PlayerBody); ok {
		if s.registry.Settings.FlipAppliesTo(s.guid, settings.PovSelf, settings.PovBoth) &&
			!s.registry.Settings.IsFlipPlayer(pkt.SenderID) {
			pkt.Body = applyFlip(body, s.player.IsTwoD())
		}
	}

	return s.writeTransport(pkt)
}

// writeTransport picks the hybrid transport (§4.4, §8 property 8): Player
// and Cap go via datagram once the peer port is bound, everything else
// (and Player/Cap before binding) goes via the stream.
func (s *Session) writeTransport(pkt protocol.Packet) error {
	useDatagram := s.datagram.Bound() && (pkt.Body.Tag() == protocol.TagPlayer || pkt.Body.Tag() == protocol.TagCap)
	if useDatagram {
		if err := s.datagram.WritePacket(pkt); err != nil {
			return apperr.Wrap("session datagram write", err)
		}
		return nil
	}
	if err := s.stream.WritePacket(pkt); err != nil {
		return apperr.Wrap("session write", err)
	}
	return nil
}
