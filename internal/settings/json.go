package settings

import (
	"encoding/json"

	"smo-relay/internal/protocol"
)

// The wire shape of the settings document is plain JSON with PascalCase
// keys (§6); sets are bare arrays rather than objects, so Document's
// internal maps (chosen for O(1) membership checks) are mirrored through
// these wire structs for marshaling.

type serverJSON struct {
	Address    string
	Port       int
	MaxPlayers int
}

type flipJSON struct {
	Enabled bool
	Players []protocol.GUID
	Pov     Pov
}

type scenarioJSON struct {
	MergeEnabled bool
}

type banListJSON struct {
	Players     []protocol.GUID
	IpAddresses []string
}

type shinesJSON struct {
	Enabled bool
}

type persistShinesJSON struct {
	Enabled  bool
	Filename string
}

type udpJSON struct {
	InitiateHandshake bool
}

type jsonAPIJSON struct {
	Enabled bool
	Port    int
	Tokens  map[string][]string
}

type documentJSON struct {
	Server        serverJSON
	Flip          flipJSON
	Scenario      scenarioJSON
	BanList       banListJSON
	Shines        shinesJSON
	PersistShines persistShinesJSON
	Udp           udpJSON
	JsonApi       jsonAPIJSON
}

// MarshalJSON renders the document in the wire shape of §6: PascalCase
// keys, sets as arrays.
func (d Document) MarshalJSON() ([]byte, error) {
	w := documentJSON{
		Server:   serverJSON(d.Server),
		Flip:     flipJSON{Enabled: d.Flip.Enabled, Players: guidSetToSlice(d.Flip.Players), Pov: d.Flip.Pov},
		Scenario: scenarioJSON(d.Scenario),
		BanList: banListJSON{
			Players:     guidSetToSlice(d.BanList.Players),
			IpAddresses: stringSetToSlice(d.BanList.IPAddresses),
		},
		Shines:        shinesJSON(d.Shines),
		PersistShines: persistShinesJSON(d.PersistShines),
		Udp:           udpJSON(d.Udp),
		JsonApi: jsonAPIJSON{
			Enabled: d.JsonApi.Enabled,
			Port:    d.JsonApi.Port,
			Tokens:  tokensToSlices(d.JsonApi.Tokens),
		},
	}
	return json.Marshal(w)
}

// UnmarshalJSON parses the §6 wire shape into Document's map-backed form.
func (d *Document) UnmarshalJSON(data []byte) error {
	var w documentJSON
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*d = Document{
		Server:   ServerConfig(w.Server),
		Flip:     FlipConfig{Enabled: w.Flip.Enabled, Players: guidSliceToSet(w.Flip.Players), Pov: w.Flip.Pov},
		Scenario: ScenarioConfig(w.Scenario),
		BanList: BanListConfig{
			Players:     guidSliceToSet(w.BanList.Players),
			IPAddresses: stringSliceToSet(w.BanList.IpAddresses),
		},
		Shines:        ShinesConfig(w.Shines),
		PersistShines: PersistShinesConfig(w.PersistShines),
		Udp:           UDPConfig(w.Udp),
		JsonApi: JSONAPIConfig{
			Enabled: w.JsonApi.Enabled,
			Port:    w.JsonApi.Port,
			Tokens:  slicesToTokens(w.JsonApi.Tokens),
		},
	}
	if d.Flip.Players == nil {
		d.Flip.Players = make(map[protocol.GUID]bool)
	}
	if d.BanList.Players == nil {
		d.BanList.Players = make(map[protocol.GUID]bool)
	}
	if d.BanList.IPAddresses == nil {
		d.BanList.IPAddresses = make(map[string]bool)
	}
	if d.JsonApi.Tokens == nil {
		d.JsonApi.Tokens = make(map[string]map[string]bool)
	}
	return nil
}

func guidSetToSlice(m map[protocol.GUID]bool) []protocol.GUID {
	out := make([]protocol.GUID, 0, len(m))
	for g := range m {
		out = append(out, g)
	}
	return out
}

func guidSliceToSet(s []protocol.GUID) map[protocol.GUID]bool {
	m := make(map[protocol.GUID]bool, len(s))
	for _, g := range s {
		m[g] = true
	}
	return m
}

func stringSetToSlice(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for s := range m {
		out = append(out, s)
	}
	return out
}

func stringSliceToSet(s []string) map[string]bool {
	m := make(map[string]bool, len(s))
	for _, v := range s {
		m[v] = true
	}
	return m
}

func tokensToSlices(m map[string]map[string]bool) map[string][]string {
	out := make(map[string][]string, len(m))
	for tok, perms := range m {
		out[tok] = stringSetToSlice(perms)
	}
	return out
}

func slicesToTokens(m map[string][]string) map[string]map[string]bool {
	out := make(map[string]map[string]bool, len(m))
	for tok, perms := range m {
		out[tok] = stringSliceToSet(perms)
	}
	return out
}
