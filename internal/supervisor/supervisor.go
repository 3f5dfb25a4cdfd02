// Package supervisor wires the Lobby, Coordinator, Listener, and the
// optional JSON control channel / console into one task group and runs
// them with coordinated shutdown (§4.8 "Supervisor").
package supervisor

import (
	"context"
	"io"
	"log"

	"golang.org/x/sync/errgroup"

	"smo-relay/internal/console"
	"smo-relay/internal/controlapi"
	"smo-relay/internal/coordinator"
	"smo-relay/internal/listener"
	"smo-relay/internal/lobby"
	"smo-relay/internal/persist"
	"smo-relay/internal/settings"
	"smo-relay/internal/store"
)

// Config is everything the Supervisor needs to assemble and run the
// server; zero values disable the optional subsystems (JSON API, console,
// sqlite store).
type Config struct {
	ListenAddr    string // TCP+UDP relay listen address, e.g. "0.0.0.0:53420"
	SettingsPath  string // where the live settings document is persisted
	ShinesPath    string // where the persisted shine set is persisted
	StorePath     string // sqlite audit database path; empty disables internal/store
	ControlAddr   string // JSON control channel listen address; empty disables it
	EnableConsole bool
	ConsoleIn     io.Reader
	ConsoleOut    io.Writer
}

// Supervisor owns the constructed subsystems and the errgroup that runs
// them.
type Supervisor struct {
	cfg      Config
	settings *settings.Handle
	registry *lobby.Registry
	coord    *coordinator.Coordinator
	lst      *listener.Listener
	api      *controlapi.Server
	st       *store.Store
}

// New loads (or defaults) the settings document and shine set from disk and
// assembles the Lobby/Coordinator/Listener, wiring persistence callbacks.
func New(cfg Config) (*Supervisor, error) {
	doc := settings.Default()
	if err := persist.ReadJSON(cfg.SettingsPath, &doc); err != nil {
		log.Printf("[supervisor] no settings file at %s, using defaults: %v", cfg.SettingsPath, err)
	}
	handle := settings.NewHandle(doc)
	handle.OnChange(func(d settings.Document) {
		if err := persist.WriteJSON(cfg.SettingsPath, d); err != nil {
			log.Printf("[supervisor] write settings: %v", err)
		}
	})

	registry := lobby.New(handle)

	shines, err := persist.ReadShines(cfg.ShinesPath)
	if err != nil {
		log.Printf("[supervisor] no shine file at %s: %v", cfg.ShinesPath, err)
	}
	registry.LoadShines(shines)

	var st *store.Store
	if cfg.StorePath != "" {
		st, err = store.Open(cfg.StorePath)
		if err != nil {
			return nil, err
		}
	}

	coord := coordinator.New(registry, handle, st)
	coord.OnShinesChanged(func(ids []int32) {
		if err := persist.WriteShines(cfg.ShinesPath, ids); err != nil {
			log.Printf("[supervisor] write shines: %v", err)
		}
	})

	lst, err := listener.New(cfg.ListenAddr, registry, handle, coord.Ingress())
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	var api *controlapi.Server
	if cfg.ControlAddr != "" {
		api = controlapi.New(handle, coord)
	}

	return &Supervisor{cfg: cfg, settings: handle, registry: registry, coord: coord, lst: lst, api: api, st: st}, nil
}

// Run starts every configured subsystem under one errgroup.WithContext: the
// first fatal return cancels the shared context and every other subsystem
// unwinds via its own ctx.Done() arm (§4.8 "shutdown propagation").
func (s *Supervisor) Run(ctx context.Context) error {
	defer func() {
		if s.st != nil {
			_ = s.st.Close()
		}
	}()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return s.coord.Run(gctx)
	})

	g.Go(func() error {
		return s.lst.Run(gctx)
	})

	if s.api != nil {
		g.Go(func() error {
			return s.api.Run(s.cfg.ControlAddr)
		})
		g.Go(func() error {
			<-gctx.Done()
			return s.api.Shutdown()
		})
	}

	if s.cfg.EnableConsole {
		g.Go(func() error {
			return console.New(s.cfg.ConsoleIn, s.cfg.ConsoleOut, s.coord, s.st).Run(gctx)
		})
	}

	return g.Wait()
}
