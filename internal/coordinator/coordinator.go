// Package coordinator implements the single-writer event loop that owns
// lobby-global decisions: admission, snapshot replay, shine-set
// reconciliation, disconnect, and external-command dispatch (§4.6).
package coordinator

import (
	"context"
	"log"
	"time"

	"smo-relay/internal/apperr"
	"smo-relay/internal/lobby"
	"smo-relay/internal/operator"
	"smo-relay/internal/protocol"
	"smo-relay/internal/settings"
	"smo-relay/internal/store"
)

// reconcileDelay is the deferred reconciliation fired on exit from the
// speedrun-start stage (§4.6, §9 "Deferred 15-second reconciliation").
const reconcileDelay = 15 * time.Second

// Coordinator is the process's single owning task for the lobby registry.
// It reads events off one ingress channel; nothing else ever mutates
// Registry.players/names or Registry.shines.
type Coordinator struct {
	registry *lobby.Registry
	settings *settings.Handle
	store    *store.Store // nil when audit persistence is disabled

	// onShinesChanged, when set, is fired with a snapshot of the shine ids
	// after every mutation while settings.PersistShines.Enabled — the
	// supervisor wires this to persist.WriteShines (§6 "rewritten on change").
	onShinesChanged func(ids []int32)

	ingress chan Event
}

// New constructs a Coordinator around registry/settings. st may be nil.
func New(registry *lobby.Registry, s *settings.Handle, st *store.Store) *Coordinator {
	return &Coordinator{
		registry: registry,
		settings: s,
		store:    st,
		ingress:  make(chan Event, IngressBuf),
	}
}

// OnShinesChanged registers the callback fired after every shine-set
// mutation (clear or add). Only one callback is supported.
func (c *Coordinator) OnShinesChanged(fn func(ids []int32)) {
	c.onShinesChanged = fn
}

// Ingress returns the send side of the event channel, given to sessions and
// the listener at construction time.
func (c *Coordinator) Ingress() chan<- Event {
	return c.ingress
}

// Dispatch implements operator.Surface: it wraps cmd in an ExternalCommand
// event, sends it to the single-writer event loop, and blocks for the
// reply (§4.7 "a typed ExternalCommand plus a single-use reply channel").
func (c *Coordinator) Dispatch(cmd operator.Command) operator.Reply {
	req := operator.NewRequest(cmd)
	c.ingress <- ExternalCommand{Request: req}
	return <-req.ReplyCh
}

// Run processes events until ctx is cancelled, then disconnects every
// connected player before returning (§4.6 "Shutdown").
func (c *Coordinator) Run(ctx context.Context) error {
	for {
		select {
		case ev := <-c.ingress:
			c.handle(ev)
		case <-ctx.Done():
			for _, p := range c.registry.All() {
				c.disconnect(p.GUID)
			}
			return ctx.Err()
		}
	}
}

func (c *Coordinator) handle(ev Event) {
	switch e := ev.(type) {
	case NewPlayer:
		c.handleNewPlayer(e)
	case DisconnectPlayer:
		c.disconnect(e.GUID)
	case IncomingPacket:
		c.handleIncomingPacket(e)
	case ExternalCommand:
		c.handleExternalCommand(e)
	}
}

// handleNewPlayer implements §4.6 "NewPlayer".
func (c *Coordinator) handleNewPlayer(e NewPlayer) {
	if err := c.admit(e); err != nil {
		e.Reply <- NewPlayerResult{Err: err}
		return
	}

	displayName := trimNUL(e.Connect.Name)
	var player *lobby.Player

	if e.Connect.Kind == protocol.ConnectionReconnect {
		if existing := c.registry.Get(e.GUID); existing != nil {
			existing.Rebind(e.Outbound)
			player = existing
		}
	}
	if player == nil {
		player = lobby.NewPlayer(e.GUID, e.Connect.Name, displayName, e.PeerAddr, e.Outbound)
		c.registry.Insert(player)
	}

	for _, other := range c.registry.Others(e.GUID) {
		_ = player.Send(protocol.NewPacket(other.GUID, protocol.ConnectBody{
			Kind:       protocol.ConnectionFirst,
			MaxPlayers: uint16(c.settings.MaxPlayers()),
			Name:       other.Name,
		}))
		if costume := other.SnapshotCostume(); costume != nil {
			_ = player.Send(protocol.NewPacket(other.GUID, protocol.CostumeBody{Costume: *costume}))
		}
		if game := other.SnapshotGame(); game != nil {
			_ = player.Send(*game)
		}
	}

	c.registry.Publish(lobby.Delivery{Packet: protocol.NewPacket(e.GUID, protocol.ConnectBody{
		Kind:       e.Connect.Kind,
		MaxPlayers: uint16(c.settings.MaxPlayers()),
		Name:       player.Name,
	})})

	if c.store != nil {
		c.store.RecordJoin(e.GUID.String(), displayName, e.PeerAddr.String())
	}
	log.Printf("[coordinator] admitted %s (%s)", displayName, e.GUID)

	e.Reply <- NewPlayerResult{Player: player}
}

// admit implements §4.6 step 1's four checks.
func (c *Coordinator) admit(e NewPlayer) error {
	if c.settings.IsBannedGUID(e.GUID) {
		return apperr.ErrBannedGUID
	}
	if e.PeerAddr != nil && c.settings.IsBannedIP(e.PeerAddr.String()) {
		return apperr.ErrBannedIP
	}
	if e.Connect.Kind == protocol.ConnectionFirst {
		if c.registry.Get(e.GUID) != nil || c.registry.NameTaken(e.Connect.Name, protocol.Zero) {
			return apperr.ErrDuplicateClient
		}
		if c.registry.Count() >= c.settings.MaxPlayers() {
			return apperr.ErrTooManyPlayers
		}
	}
	return nil
}

// disconnect implements §4.6 "DisconnectPlayer". It is a no-op if guid is
// already gone.
func (c *Coordinator) disconnect(guid protocol.GUID) {
	p := c.registry.Get(guid)
	if p == nil {
		return
	}
	c.registry.Remove(guid)
	c.registry.Publish(lobby.Delivery{Packet: protocol.NewPacket(guid, protocol.DisconnectBody{})})
	_ = p.SendSelfAddressed(protocol.NewPacket(guid, protocol.DisconnectBody{}))
	if c.store != nil {
		c.store.RecordDisconnect(guid.String())
	}
	log.Printf("[coordinator] %s (%s) left", p.DisplayName, guid)
}

// handleIncomingPacket implements §4.6 "Incoming Packet".
func (c *Coordinator) handleIncomingPacket(e IncomingPacket) {
	switch body := e.Packet.Body.(type) {
	case protocol.CostumeBody:
		c.reconcileShines()
		c.registry.Publish(lobby.Delivery{Packet: e.Packet})

	case protocol.ShineBody:
		c.registry.AddShine(body.ShineID)
		c.maybePersistShines()
		c.reconcileShines()
		// not re-broadcast (§4.6: "avoids replay amplification")

	case protocol.GameBody:
		p := c.registry.Get(e.GUID)
		if p != nil {
			enteredStart, exitedHome := p.ApplyGame(body, e.Packet)
			if enteredStart {
				c.registry.ClearShines()
				c.maybePersistShines()
			}
			if exitedHome {
				go c.deferredReconcile()
			}
		}
		c.broadcastGame(e.Packet)

	default:
		c.registry.Publish(lobby.Delivery{Packet: e.Packet})
	}
}

// broadcastGame rebroadcasts a Game packet, applying the scenario-merge
// rewrite when enabled: re-broadcast verbatim but self-addressed, per the
// adopted resolution of §9's scenario-merge open question.
func (c *Coordinator) broadcastGame(pkt protocol.Packet) {
	selfAddressed := c.settings.ScenarioMergeEnabled()
	c.registry.Publish(lobby.Delivery{Packet: pkt, SelfAddressed: selfAddressed})
}

// deferredReconcile implements §9's one-shot 15-second delayed
// reconciliation fired on exit from the speedrun-start stage. It is
// idempotent by construction: reconcileShines is a set-difference push.
func (c *Coordinator) deferredReconcile() {
	time.Sleep(reconcileDelay)
	c.reconcileShines()
}

// reconcileShines implements §4.6 "Shine reconciliation".
func (c *Coordinator) reconcileShines() {
	if !c.settings.ShinesEnabled() {
		return
	}
	union := c.registry.Shines()
	for _, p := range c.registry.All() {
		for _, id := range p.MissingShines(union) {
			_ = p.SendSelfAddressed(protocol.NewPacket(p.GUID, protocol.ShineBody{ShineID: id}))
		}
	}
}

func (c *Coordinator) maybePersistShines() {
	if !c.settings.Get().PersistShines.Enabled || c.onShinesChanged == nil {
		return
	}
	c.onShinesChanged(c.registry.ShineIDs())
}

// handleExternalCommand implements §4.6 "External command".
func (c *Coordinator) handleExternalCommand(e ExternalCommand) {
	cmd := e.Request.Command
	targets, missing := c.selectTargets(cmd.Target)
	if len(missing) > 0 {
		e.Request.ReplyCh <- operator.Reply{Err: apperr.ErrInvalidArg}
		return
	}

	switch cmd.Action {
	case operator.ActionStatus:
		e.Request.ReplyCh <- operator.Reply{Text: c.statusText()}

	case operator.ActionSendShine:
		for _, p := range targets {
			_ = p.SendSelfAddressed(protocol.NewPacket(p.GUID, protocol.ShineBody{ShineID: cmd.ShineID}))
		}
		e.Request.ReplyCh <- operator.Reply{Text: "shine sent"}

	case operator.ActionKick:
		for _, p := range targets {
			c.disconnect(p.GUID)
		}
		e.Request.ReplyCh <- operator.Reply{Text: "kicked"}

	case operator.ActionBan:
		for _, p := range targets {
			guid := p.GUID
			c.settings.Mutate(func(doc *settings.Document) {
				doc.BanList.Players[guid] = true
			})
			c.disconnect(guid)
			if c.store != nil {
				c.store.RecordCommand("ban", guid.String(), cmd.Reason)
			}
		}
		e.Request.ReplyCh <- operator.Reply{Text: "banned"}

	case operator.ActionBroadcastGame:
		pkt := protocol.NewPacket(protocol.Zero, cmd.GamePkt)
		if cmd.Target.Kind == operator.SelectAll {
			c.registry.Publish(lobby.Delivery{Packet: pkt, SelfAddressed: true})
		} else {
			for _, p := range targets {
				_ = p.SendSelfAddressed(protocol.NewPacket(p.GUID, cmd.GamePkt))
			}
		}
		e.Request.ReplyCh <- operator.Reply{Text: "game packet sent"}

	default:
		e.Request.ReplyCh <- operator.Reply{Err: apperr.ErrInvalidArg}
	}

	if c.store != nil && cmd.Action != operator.ActionStatus && cmd.Action != operator.ActionBan {
		c.store.RecordCommand(actionName(cmd.Action), selectorText(cmd.Target), cmd.Reason)
	}
}

// selectTargets resolves a Selector to player records (§4.6 "select
// players (all / by name list / all except list)").
func (c *Coordinator) selectTargets(sel operator.Selector) (players []*lobby.Player, missing []string) {
	switch sel.Kind {
	case operator.SelectAll:
		return c.registry.All(), nil
	case operator.SelectByName:
		return c.registry.ByNames(sel.Names)
	case operator.SelectAllExcept:
		excluded, _ := c.registry.ByNames(sel.Names)
		excludeSet := make(map[protocol.GUID]bool, len(excluded))
		for _, p := range excluded {
			excludeSet[p.GUID] = true
		}
		var out []*lobby.Player
		for _, p := range c.registry.All() {
			if !excludeSet[p.GUID] {
				out = append(out, p)
			}
		}
		return out, nil
	default:
		return nil, nil
	}
}

func (c *Coordinator) statusText() string {
	players := c.registry.All()
	names := make([]string, 0, len(players))
	for _, p := range players {
		names = append(names, p.DisplayName)
	}
	return "players: " + joinComma(names)
}

func joinComma(names []string) string {
	out := ""
	for i, n := range names {
		if i > 0 {
			out += ", "
		}
		out += n
	}
	return out
}

func actionName(a operator.Action) string {
	switch a {
	case operator.ActionSendShine:
		return "send_shine"
	case operator.ActionKick:
		return "kick"
	case operator.ActionBan:
		return "ban"
	case operator.ActionBroadcastGame:
		return "broadcast_game"
	case operator.ActionStatus:
		return "status"
	default:
		return "unknown"
	}
}

func selectorText(sel operator.Selector) string {
	switch sel.Kind {
	case operator.SelectAll:
		return "all"
	case operator.SelectByName:
		return "names:" + joinComma(sel.Names)
	case operator.SelectAllExcept:
		return "all-except:" + joinComma(sel.Names)
	default:
		return ""
	}
}

// trimNUL strips NUL padding from a fixed-width wire name (§C "display_name
// is NUL-trimmed once at handshake").
func trimNUL(s string) string {
	for i, r := range s {
		if r == 0 {
			return s[:i]
		}
	}
	return s
}
