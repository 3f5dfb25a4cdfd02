package coordinator

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"smo-relay/internal/apperr"
	"smo-relay/internal/lobby"
	"smo-relay/internal/operator"
	"smo-relay/internal/protocol"
	"smo-relay/internal/settings"
)

type fakeOutbound struct {
	mu  sync.Mutex
	got []lobby.Delivery
}

func (f *fakeOutbound) Deliver(d lobby.Delivery) error {
	f.mu.Lock()
	f.got = append(f.got, d)
	f.mu.Unlock()
	return nil
}

func (f *fakeOutbound) drain(t *testing.T, n int) []lobby.Delivery {
	t.Helper()
	deadline := time.After(time.Second)
	for {
		f.mu.Lock()
		got := len(f.got)
		f.mu.Unlock()
		if got >= n {
			f.mu.Lock()
			out := append([]lobby.Delivery(nil), f.got...)
			f.mu.Unlock()
			return out
		}
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for %d deliveries, got %d", n, got)
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func newTestCoordinator(t *testing.T) (*Coordinator, *lobby.Registry, *settings.Handle, func()) {
	t.Helper()
	handle := settings.NewHandle(settings.Default())
	registry := lobby.New(handle)
	c := New(registry, handle, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		c.Run(ctx)
		close(done)
	}()

	return c, registry, handle, func() {
		cancel()
		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatal("coordinator.Run did not exit after cancel")
		}
	}
}

func admit(t *testing.T, c *Coordinator, guid protocol.GUID, name string, kind protocol.ConnectionKind, out *fakeOutbound) NewPlayerResult {
	t.Helper()
	reply := make(chan NewPlayerResult, 1)
	c.Ingress() <- NewPlayer{
		GUID:     guid,
		Connect:  protocol.ConnectBody{Kind: kind, Name: name},
		PeerAddr: net.IPv4(10, 0, 0, 1),
		Outbound: out,
		Reply:    reply,
	}
	select {
	case r := <-reply:
		return r
	case <-time.After(time.Second):
		t.Fatal("NewPlayer admission timed out")
		return NewPlayerResult{}
	}
}

func TestNewPlayerAdmitsAndReplaysSnapshot(t *testing.T) {
	c, registry, _, stop := newTestCoordinator(t)
	defer stop()

	aGUID, bGUID := protocol.NewGUID(), protocol.NewGUID()
	aOut := &fakeOutbound{}
	resA := admit(t, c, aGUID, "Mario", protocol.ConnectionFirst, aOut)
	if resA.Err != nil || resA.Player == nil {
		t.Fatalf("admit A: %+v", resA)
	}
	resA.Player.SetCostume(protocol.Costume{BodyName: "Mario", CapName: "Mario"})

	bOut := &fakeOutbound{}
	resB := admit(t, c, bGUID, "Luigi", protocol.ConnectionFirst, bOut)
	if resB.Err != nil || resB.Player == nil {
		t.Fatalf("admit B: %+v", resB)
	}

	// B's replay must include a Connect and a Costume for A.
	got := bOut.drain(t, 2)
	sawConnect, sawCostume := false, false
	for _, d := range got {
		switch d.Packet.Body.(type) {
		case protocol.ConnectBody:
			sawConnect = true
		case protocol.CostumeBody:
			sawCostume = true
		}
	}
	if !sawConnect || !sawCostume {
		t.Fatalf("B's snapshot replay = %+v, want Connect+Costume for A", got)
	}

	if registry.Count() != 2 {
		t.Fatalf("registry count = %d, want 2", registry.Count())
	}
}

func TestNewPlayerRejectsDuplicateName(t *testing.T) {
	c, _, _, stop := newTestCoordinator(t)
	defer stop()

	admit(t, c, protocol.NewGUID(), "Mario", protocol.ConnectionFirst, &fakeOutbound{})
	res := admit(t, c, protocol.NewGUID(), "Mario", protocol.ConnectionFirst, &fakeOutbound{})
	if res.Err != apperr.ErrDuplicateClient {
		t.Fatalf("duplicate name admission err = %v, want ErrDuplicateClient", res.Err)
	}
}

func TestNewPlayerRejectsBannedGUID(t *testing.T) {
	c, _, handle, stop := newTestCoordinator(t)
	defer stop()

	guid := protocol.NewGUID()
	handle.Mutate(func(d *settings.Document) { d.BanList.Players[guid] = true })

	res := admit(t, c, guid, "Wario", protocol.ConnectionFirst, &fakeOutbound{})
	if res.Err != apperr.ErrBannedGUID {
		t.Fatalf("banned guid admission err = %v, want ErrBannedGUID", res.Err)
	}
}

func TestNewPlayerRejectsOverCapacity(t *testing.T) {
	c, _, handle, stop := newTestCoordinator(t)
	defer stop()

	handle.Mutate(func(d *settings.Document) { d.Server.MaxPlayers = 1 })
	admit(t, c, protocol.NewGUID(), "Mario", protocol.ConnectionFirst, &fakeOutbound{})
	res := admit(t, c, protocol.NewGUID(), "Luigi", protocol.ConnectionFirst, &fakeOutbound{})
	if res.Err != apperr.ErrTooManyPlayers {
		t.Fatalf("over-capacity admission err = %v, want ErrTooManyPlayers", res.Err)
	}
}

func TestReconnectRebindsExistingRecord(t *testing.T) {
	c, registry, _, stop := newTestCoordinator(t)
	defer stop()

	guid := protocol.NewGUID()
	firstOut := &fakeOutbound{}
	res1 := admit(t, c, guid, "Mario", protocol.ConnectionFirst, firstOut)
	res1.Player.SetPosition(protocol.Vector3{X: 9})

	secondOut := &fakeOutbound{}
	res2 := admit(t, c, guid, "Mario", protocol.ConnectionReconnect, secondOut)
	if res2.Err != nil {
		t.Fatalf("reconnect admission: %v", res2.Err)
	}
	if res2.Player != res1.Player {
		t.Fatal("reconnect should rebind the existing Player record, not create a new one")
	}
	if registry.Count() != 1 {
		t.Fatalf("registry count = %d, want 1 after reconnect", registry.Count())
	}
}

func TestDisconnectPlayerIsNoOpIfGone(t *testing.T) {
	c, _, _, stop := newTestCoordinator(t)
	defer stop()

	c.Ingress() <- DisconnectPlayer{GUID: protocol.NewGUID()}

	// No admitted players, no broadcast subscriber — this must not panic or
	// block. Confirm the coordinator is still responsive afterward.
	res := admit(t, c, protocol.NewGUID(), "Mario", protocol.ConnectionFirst, &fakeOutbound{})
	if res.Err != nil {
		t.Fatalf("coordinator unresponsive after no-op disconnect: %v", res.Err)
	}
}

func TestIncomingShineAddsToUnionSet(t *testing.T) {
	c, registry, _, stop := newTestCoordinator(t)
	defer stop()

	c.Ingress() <- IncomingPacket{
		GUID:   protocol.NewGUID(),
		Packet: protocol.NewPacket(protocol.NewGUID(), protocol.ShineBody{ShineID: 42}),
	}

	deadline := time.After(time.Second)
	for {
		if registry.Shines()[42] {
			return
		}
		select {
		case <-deadline:
			t.Fatal("shine 42 never reached the union set")
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestIncomingGameSpeedrunStartClearsShines(t *testing.T) {
	c, registry, _, stop := newTestCoordinator(t)
	defer stop()

	guid := protocol.NewGUID()
	admit(t, c, guid, "Mario", protocol.ConnectionFirst, &fakeOutbound{})

	registry.AddShine(1)
	registry.AddShine(2)

	pkt := protocol.NewPacket(guid, protocol.GameBody{Stage: lobby.CapWorldHomeStage, Scenario: 0})
	c.Ingress() <- IncomingPacket{GUID: guid, Packet: pkt}

	deadline := time.After(time.Second)
	for {
		if len(registry.Shines()) == 0 {
			return
		}
		select {
		case <-deadline:
			t.Fatal("shine set was never cleared on speedrun-start Game packet")
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestExternalCommandStatusListsConnectedPlayers(t *testing.T) {
	c, _, _, stop := newTestCoordinator(t)
	defer stop()

	admit(t, c, protocol.NewGUID(), "Mario", protocol.ConnectionFirst, &fakeOutbound{})

	reply := c.Dispatch(operator.Command{Action: operator.ActionStatus, Target: operator.All})
	if reply.Err != nil {
		t.Fatalf("status dispatch: %v", reply.Err)
	}
	if reply.Text == "" {
		t.Fatal("status reply text is empty")
	}
}

func TestExternalCommandKickDisconnectsTarget(t *testing.T) {
	c, registry, _, stop := newTestCoordinator(t)
	defer stop()

	guid := protocol.NewGUID()
	admit(t, c, guid, "Mario", protocol.ConnectionFirst, &fakeOutbound{})

	reply := c.Dispatch(operator.Command{Action: operator.ActionKick, Target: operator.ByName("Mario")})
	if reply.Err != nil {
		t.Fatalf("kick dispatch: %v", reply.Err)
	}

	deadline := time.After(time.Second)
	for {
		if registry.Get(guid) == nil {
			return
		}
		select {
		case <-deadline:
			t.Fatal("kicked player was never removed from the registry")
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestExternalCommandBanAddsToBanList(t *testing.T) {
	c, _, handle, stop := newTestCoordinator(t)
	defer stop()

	guid := protocol.NewGUID()
	admit(t, c, guid, "Mario", protocol.ConnectionFirst, &fakeOutbound{})

	reply := c.Dispatch(operator.Command{Action: operator.ActionBan, Target: operator.ByName("Mario"), Reason: "cheating"})
	if reply.Err != nil {
		t.Fatalf("ban dispatch: %v", reply.Err)
	}
	if !handle.IsBannedGUID(guid) {
		t.Fatal("banned player's guid was not added to the ban list")
	}
}

func TestExternalCommandUnknownNameFails(t *testing.T) {
	c, _, _, stop := newTestCoordinator(t)
	defer stop()

	reply := c.Dispatch(operator.Command{Action: operator.ActionKick, Target: operator.ByName("Nobody")})
	if reply.Err != apperr.ErrInvalidArg {
		t.Fatalf("kick of unknown name err = %v, want ErrInvalidArg", reply.Err)
	}
}
