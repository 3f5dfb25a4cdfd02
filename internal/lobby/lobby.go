// Package lobby holds the process-wide registry of connected players: the
// player table, the name↔GUID bimap, and the union shine set (§3 "Lobby").
// The Coordinator is the only writer of structural changes (insert/remove
// entries, names, shines); a session may freely mutate the fields of its
// own entry (invariant 1, §5 "Shared resource policy") since no other task
// ever touches that entry concurrently.
package lobby

import (
	"net"
	"sync"
	"time"

	"smo-relay/internal/protocol"
)

// Delivery is one packet handed to a session's outbound path, plus whether
// it must be rewritten to appear as if it came from the receiving
// session's own GUID before transmission (§4.4 "A SelfAddressed command
// additionally rewrites sender_id to own_guid before sending"). Both a
// direct single-player send and a Registry.Publish fan-out carry Delivery
// values so either path can originate a self-addressed push — the
// rewrite always targets whichever session ends up receiving it.
type Delivery struct {
	Packet        protocol.Packet
	SelfAddressed bool
}

// Outbound is the minimal interface a Player record needs to hand packets
// to its owning session — direct sends from the Coordinator and
// self-addressed pushes from reconciliation both go through it.
type Outbound interface {
	Deliver(Delivery) error
}

// Player is the per-connected-GUID record living in Lobby (§3 "Player
// record"). A session mutates its own fields directly; the Coordinator
// performs structural insert/remove (invariant 1, §9 design note (a)).
type Player struct {
	mu sync.Mutex

	GUID        protocol.GUID
	Name        string // raw NUL-stripped name, used for the names bimap
	DisplayName string // NUL-trimmed once at handshake, used for logs/consoles (§C)
	PeerAddress net.IP

	Scenario int8
	Is2D     bool

	IsSeeker bool
	TagTime  time.Duration

	LastPosition   protocol.Vector3
	LastGamePacket *protocol.Packet // most recent Game, for snapshot replay
	Costume        *protocol.Costume

	ShineSync map[int32]bool // per-player acks

	SpeedrunStart bool // gate for initial reconciliation
	LoadedSave    bool // gate: shines before this are ignored

	Outbound Outbound // handle to the owning ClientSession
}

// NewPlayer constructs a fresh record for guid/name, with a clean shine-ack
// set. Used on Connect{First}; Connect{Reconnect} instead preserves an
// existing record (§4.6 step 2).
func NewPlayer(guid protocol.GUID, name, displayName string, peerAddr net.IP, outbound Outbound) *Player {
	return &Player{
		GUID:        guid,
		Name:        name,
		DisplayName: displayName,
		PeerAddress: peerAddr,
		ShineSync:   make(map[int32]bool),
		Outbound:    outbound,
	}
}

// Rebind re-points the record's outbound handle at a new session, used on
// reconnect (§4.6 step 2: "rebind the channel").
func (p *Player) Rebind(outbound Outbound) {
	p.mu.Lock()
	p.Outbound = outbound
	p.mu.Unlock()
}

// IsTwoD reports the player's current is_2d flag, used by the flip
// rewrite to pick the displacement constant (§4.4, §C).
func (p *Player) IsTwoD() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.Is2D
}

// SetPosition updates the last-known position (§4.4 Player routing).
func (p *Player) SetPosition(v protocol.Vector3) {
	p.mu.Lock()
	p.LastPosition = v
	p.mu.Unlock()
}

// SetCostume replaces the most recent costume and sets LoadedSave (§4.4
// Costume routing).
func (p *Player) SetCostume(c protocol.Costume) {
	p.mu.Lock()
	p.Costume = &c
	p.LoadedSave = true
	p.mu.Unlock()
}

// SnapshotCostume returns a copy of the current costume, or nil if none
// has been seen yet.
func (p *Player) SnapshotCostume() *protocol.Costume {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Costume == nil {
		return nil
	}
	c := *p.Costume
	return &c
}

// ApplyGame updates is_2d/scenario, replaces the cached Game packet, and
// reports whether the speedrun-start and home-exit transitions fired
// (§4.4 Game routing).
func (p *Player) ApplyGame(body protocol.GameBody, pkt protocol.Packet) (enteredSpeedrunStart, exitedToWaterfall bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Is2D = body.Is2D
	p.Scenario = body.Scenario
	p.LastGamePacket = &pkt

	if body.Stage == CapWorldHomeStage && body.Scenario == 0 {
		p.SpeedrunStart = true
		p.ShineSync = make(map[int32]bool)
		return true, false
	}
	if body.Stage == WaterfallWorldHomeStage {
		p.SpeedrunStart = false
		return false, true
	}
	return false, false
}

// SnapshotGame returns a copy of the cached Game packet, or nil.
func (p *Player) SnapshotGame() *protocol.Packet {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.LastGamePacket == nil {
		return nil
	}
	pkt := *p.LastGamePacket
	return &pkt
}

// SetTagTime sets the cumulative tag-game clock from a Tag{kind=Time}
// packet (§4.4).
func (p *Player) SetTagTime(minutes uint16, seconds uint8) {
	p.mu.Lock()
	p.TagTime = time.Duration(minutes)*time.Minute + time.Duration(seconds)*time.Second
	p.mu.Unlock()
}

// SetSeeker sets the tag-game role from a Tag{kind=State} packet (§4.4).
func (p *Player) SetSeeker(isSeeker bool) {
	p.mu.Lock()
	p.IsSeeker = isSeeker
	p.mu.Unlock()
}

// AckShine records id as acknowledged by this player if LoadedSave is set
// (§4.4 Shine routing). It reports whether the id was newly added.
func (p *Player) AckShine(id int32) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.LoadedSave {
		return false
	}
	if p.ShineSync[id] {
		return false
	}
	p.ShineSync[id] = true
	return true
}

// MarkShineSynced records id as acknowledged unconditionally, bypassing
// the LoadedSave gate. Used when a self-addressed Shine push goes out —
// the push itself is how a laggard converges, so it must count regardless
// of whether the player has loaded a save yet (§C).
func (p *Player) MarkShineSynced(id int32) {
	p.mu.Lock()
	if p.ShineSync == nil {
		p.ShineSync = make(map[int32]bool)
	}
	p.ShineSync[id] = true
	p.mu.Unlock()
}

// MissingShines returns the ids in union that this player has not yet
// acked, for reconciliation (§4.6 "Shine reconciliation").
func (p *Player) MissingShines(union map[int32]bool) []int32 {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.SpeedrunStart {
		return nil
	}
	var missing []int32
	for id := range union {
		if !p.ShineSync[id] {
			missing = append(missing, id)
		}
	}
	return missing
}

// Send delivers pkt to the owning session's outbound handle unmodified.
func (p *Player) Send(pkt protocol.Packet) error {
	return p.deliver(Delivery{Packet: pkt})
}

// SendSelfAddressed delivers pkt to the owning session's outbound handle
// with the self-addressed rewrite flag set, so the session rewrites
// sender_id to its own GUID right before writing it out (§4.4, §C, used by
// reconciliation and admin commands).
func (p *Player) SendSelfAddressed(pkt protocol.Packet) error {
	return p.deliver(Delivery{Packet: pkt, SelfAddressed: true})
}

func (p *Player) deliver(d Delivery) error {
	p.mu.Lock()
	out := p.Outbound
	p.mu.Unlock()
	return out.Deliver(d)
}

// Stage name constants recognized by the core (§3 "Shine set" lifecycle,
// §4.4 Game routing). These are the only stage names the relay interprets
// — everything else passes through uninspected, per the Non-goal on game
// semantics (§1).
const (
	CapWorldHomeStage      = "CapWorldHomeStage"
	WaterfallWorldHomeStage = "WaterfallWorldHomeStage"
)
