package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"

	"smo-relay/internal/supervisor"
)

func run(ctx context.Context, cfg *Config) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt)
	go func() {
		<-sigCh
		log.Println("[relayd] shutting down...")
		cancel()
	}()

	storePath := cfg.storePath
	if !cfg.enableStore {
		storePath = ""
	}
	controlAddr := cfg.controlAddr
	if !cfg.enableControl {
		controlAddr = ""
	}

	sup, err := supervisor.New(supervisor.Config{
		ListenAddr:    cfg.listenAddr,
		SettingsPath:  cfg.settingsPath,
		ShinesPath:    cfg.shinesPath,
		StorePath:     storePath,
		ControlAddr:   controlAddr,
		EnableConsole: cfg.enableConsole,
		ConsoleIn:     os.Stdin,
		ConsoleOut:    os.Stdout,
	})
	if err != nil {
		return err
	}

	log.Printf("[relayd] listening on %s", cfg.listenAddr)
	err = sup.Run(ctx)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
