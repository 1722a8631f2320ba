// Command midici-probe is a reference MIDI-CI/Property-Exchange probe: it discovers
// devices on an in-process transport, serves a read-only introspection HTTP API over the
// discovered device table and transaction diagnostics, and keeps subscriptions alive
// across device churn.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/midici-go/midici/internal/citracker"
	"github.com/midici-go/midici/internal/httpapi"
	"github.com/midici-go/midici/internal/midilog"
	"github.com/midici-go/midici/internal/peengine"
	"github.com/midici-go/midici/internal/subsupervisor"
	"github.com/midici-go/midici/internal/transport"
	"github.com/midici-go/midici/internal/txmanager"
	"github.com/midici-go/midici/internal/wire"
)

func main() {
	cfg, err := parseFlags(os.Args[1:])
	if err != nil {
		os.Exit(2)
	}
	if cfg.showVersion {
		fmt.Println(version)
		return
	}

	midilog.Init()
	if err := midilog.SetLevel(cfg.logLevel); err != nil {
		fmt.Printf("Warning: invalid log level, using default: %v\n", err)
	}
	log := midilog.Logger().With("component", "cli")

	localMUID, err := wire.NewMUID(rand.Uint32() & wire.MaxMUID)
	if err != nil {
		log.Error("failed to generate local MUID", "error", err)
		os.Exit(1)
	}

	t := transport.NewMemory(nil, nil)

	trackerCfg := citracker.Config{
		DiscoveryInterval:  cfg.discoveryInterval,
		DeviceTimeout:      cfg.deviceTimeout,
		RespondToDiscovery: true,
		DeviceIdentity: wire.DeviceIdentity{
			ManufacturerID: cfg.manufacturerID,
			FamilyID:       cfg.familyID,
			ModelID:        cfg.modelID,
			VersionID:      cfg.versionID,
		},
	}
	tracker := citracker.New(localMUID, trackerCfg, t)

	tx := txmanager.New(cfg.requestIDCooldown, cfg.chunkTimeout, cfg.maxInflightPerDevice)
	engine := peengine.New(localMUID, tx, t, tracker)
	supervisor := subsupervisor.New(engine, tracker, 0, 0)
	api := httpapi.New(cfg.httpAddr, tracker, tx, nil)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tracker.Start(ctx)
	engine.Start(ctx)
	supervisor.Start(ctx)

	httpDone := make(chan error, 1)
	go func() { httpDone <- api.Run(ctx) }()

	log.Info("midici-probe started", "muid", fmt.Sprintf("%#x", uint32(localMUID)), "httpAddr", cfg.httpAddr, "version", version)

	go logEvents(ctx, tracker, supervisor, log)

	<-ctx.Done()
	log.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	done := make(chan struct{})
	go func() {
		engine.Stop()
		supervisor.Stop()
		tracker.Stop()
		close(done)
	}()

	select {
	case <-done:
		log.Info("probe stopped cleanly")
	case <-shutdownCtx.Done():
		log.Error("forced exit after shutdown timeout")
	}

	select {
	case err := <-httpDone:
		if err != nil {
			log.Error("http server error", "error", err)
		}
	default:
	}
}

func logEvents(ctx context.Context, tracker *citracker.Tracker, supervisor *subsupervisor.Supervisor, log *slog.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-tracker.Events():
			if !ok {
				return
			}
			log.Info("device event", "kind", ev.Kind, "muid", fmt.Sprintf("%#x", uint32(ev.MUID)))
		case ev, ok := <-supervisor.Events():
			if !ok {
				return
			}
			log.Info("subscription event", "kind", ev.Kind, "resource", ev.Resource, "subscribeId", ev.SubscribeID)
		}
	}
}
