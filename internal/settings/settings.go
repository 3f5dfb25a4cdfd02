// Package settings holds the live, mutable server configuration document
// (§6): listen endpoints, admission caps, the flip/scenario/shine toggles,
// ban lists, and the JSON control channel's token→permission map. It is
// read far more often than it is written, so access goes through a single
// RWMutex-guarded handle (§5 "settings: RwLock; writes only from
// OperatorSurface via Coordinator; many readers").
package settings

import (
	"sync"

	"smo-relay/internal/protocol"
)

// Pov selects which side of a relayed Player packet the flip rewrite
// applies to (§4.4, §6).
type Pov string

const (
	PovBoth   Pov = "Both"
	PovSelf   Pov = "Self"
	PovOthers Pov = "Others"
)

// ServerConfig is the listen endpoint and admission cap (§6 Server.*).
type ServerConfig struct {
	Address    string
	Port       int
	MaxPlayers int
}

// FlipConfig controls the flip rewrite (§6 Flip.*).
type FlipConfig struct {
	Enabled bool
	Players map[protocol.GUID]bool
	Pov     Pov
}

// ScenarioConfig controls scenario-merge rebroadcast (§6 Scenario.*).
type ScenarioConfig struct {
	MergeEnabled bool
}

// BanListConfig is the admission deny-list (§6 BanList.*).
type BanListConfig struct {
	Players     map[protocol.GUID]bool
	IPAddresses map[string]bool
}

// ShinesConfig gates reconciliation (§6 Shines.Enabled).
type ShinesConfig struct {
	Enabled bool
}

// PersistShinesConfig controls on-disk persistence of the shine set (§6
// PersistShines.*).
type PersistShinesConfig struct {
	Enabled  bool
	Filename string
}

// UDPConfig controls whether the server proactively invites clients to
// bind a datagram peer (§6 Udp.InitiateHandshake).
type UDPConfig struct {
	InitiateHandshake bool
}

// JSONAPIConfig is the control-channel listener and its token permissions
// (§6 JsonApi.*).
type JSONAPIConfig struct {
	Enabled bool
	Port    int
	Tokens  map[string]map[string]bool
}

// Document is the full settings document as loaded/saved as JSON
// (PascalCase keys, per §6).
type Document struct {
	Server        ServerConfig
	Flip          FlipConfig
	Scenario      ScenarioConfig
	BanList       BanListConfig
	Shines        ShinesConfig
	PersistShines PersistShinesConfig
	Udp           UDPConfig
	JsonApi       JSONAPIConfig
}

// Default returns the document a fresh install starts from.
func Default() Document {
	return Document{
		Server: ServerConfig{Address: "0.0.0.0", Port: 53420, MaxPlayers: 8},
		Flip: FlipConfig{
			Players: make(map[protocol.GUID]bool),
			Pov:     PovBoth,
		},
		BanList: BanListConfig{
			Players:     make(map[protocol.GUID]bool),
			IPAddresses: make(map[string]bool),
		},
		PersistShines: PersistShinesConfig{Filename: "shines.json"},
		JsonApi:       JSONAPIConfig{Port: 53421, Tokens: make(map[string]map[string]bool)},
	}
}

// Handle is the live, concurrency-safe settings document shared across the
// server. A zero Handle is not usable; construct with NewHandle.
type Handle struct {
	mu  sync.RWMutex
	doc Document
	// onChange, when set, is invoked with the lock released after every
	// successful Mutate — used by the supervisor to wire in atomic JSON rewrite.
	onChange func(Document)
}

// NewHandle wraps doc in a Handle ready for concurrent use.
func NewHandle(doc Document) *Handle {
	return &Handle{doc: doc}
}

// OnChange registers a callback fired (lock released) after every Mutate.
// Only one callback is supported; intended for the supervisor's persistence
// wiring and not for general use.
func (h *Handle) OnChange(fn func(Document)) {
	h.mu.Lock()
	h.onChange = fn
	h.mu.Unlock()
}

// Get returns a snapshot of the current document. Map fields are returned
// by reference; callers must not mutate them — use Mutate instead.
func (h *Handle) Get() Document {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.doc
}

// Mutate applies fn to a copy of the current document under the write
// lock, then fires the registered onChange callback (if any) outside the
// lock so a slow persistence write never blocks readers.
func (h *Handle) Mutate(fn func(*Document)) {
	h.mu.Lock()
	fn(&h.doc)
	doc := h.doc
	cb := h.onChange
	h.mu.Unlock()
	if cb != nil {
		cb(doc)
	}
}

// MaxPlayers returns the current admission cap.
func (h *Handle) MaxPlayers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.doc.Server.MaxPlayers
}

// IsBannedGUID reports whether guid is on the deny-list.
func (h *Handle) IsBannedGUID(guid protocol.GUID) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.doc.BanList.Players[guid]
}

// IsBannedIP reports whether ip is on the deny-list.
func (h *Handle) IsBannedIP(ip string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.doc.BanList.IPAddresses[ip]
}

// ShinesEnabled reports whether reconciliation is active.
func (h *Handle) ShinesEnabled() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.doc.Shines.Enabled
}

// FlipAppliesTo reports whether the flip rewrite applies to packets
// authored by or destined for guid, for the given direction (self-flip
// checks PovSelf/PovBoth membership of the viewing session's own guid;
// others-flip checks PovOthers/PovBoth membership of the sender).
func (h *Handle) FlipAppliesTo(guid protocol.GUID, allow ...Pov) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if !h.doc.Flip.Enabled || !h.doc.Flip.Players[guid] {
		return false
	}
	for _, p := range allow {
		if h.doc.Flip.Pov == p {
			return true
		}
	}
	return false
}

// IsFlipPlayer reports whether guid is in the flip player set, ignoring
// Enabled and Pov — used by the self-flip outbound check, which must
// additionally exclude senders already in the set regardless of the
// current Pov (§4.4 "sender∉flip.players").
func (h *Handle) IsFlipPlayer(guid protocol.GUID) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.doc.Flip.Players[guid]
}

// ScenarioMergeEnabled reports whether Game packets are rebroadcast as
// self-addressed to propagate one player's scenario to all (§4.6, §9).
func (h *Handle) ScenarioMergeEnabled() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.doc.Scenario.MergeEnabled
}

// InitiateUDPHandshake reports whether the server proactively invites
// clients to bind a datagram peer at handshake (§4.4 step 3).
func (h *Handle) InitiateUDPHandshake() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.doc.Udp.InitiateHandshake
}

// PermissionsFor returns the permission set for token, and whether the
// token is recognized at all.
func (h *Handle) PermissionsFor(token string) (map[string]bool, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	perms, ok := h.doc.JsonApi.Tokens[token]
	return perms, ok
}
