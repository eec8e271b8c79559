package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/scrypster/inkwell/internal/config"
	"github.com/scrypster/inkwell/internal/diagnostics"
	"github.com/scrypster/inkwell/internal/fsatomic"
	"github.com/scrypster/inkwell/internal/notify"
	"github.com/scrypster/inkwell/internal/project"
	"github.com/scrypster/inkwell/internal/recovery"
	"github.com/scrypster/inkwell/internal/server"
	"github.com/scrypster/inkwell/internal/snapshot"
	"github.com/scrypster/inkwell/internal/templates"
	"github.com/scrypster/inkwell/internal/verifier"
)

func main() {
	// Parse command line flags
	noVerifier := flag.Bool("no-verifier", false, "Do not run the backup verifier alongside the server")
	flag.Parse()

	// Load configuration from the environment first; settings stored in
	// the catalog database take precedence once it is open.
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	catalog, err := templates.NewCatalog(cfg.Templates.DBPath)
	if err != nil {
		log.Fatalf("Failed to open template catalog: %v", err)
	}
	defer catalog.Close()

	if cfg, err = config.LoadConfigFromDB(catalog.DB()); err != nil {
		log.Fatalf("Failed to load config from database: %v", err)
	}

	atomic := fsatomic.NewWriter(fsatomic.NewLocks())

	resolver, err := project.NewResolver(cfg.Storage.ProjectsPath, atomic)
	if err != nil {
		log.Fatalf("Failed to initialize project registry: %v", err)
	}
	engine, err := snapshot.NewEngine(snapshot.Config{
		Roots:   resolver,
		Atomic:  atomic,
		Durable: cfg.Storage.DurableWrites,
	})
	if err != nil {
		log.Fatalf("Failed to initialize snapshot engine: %v", err)
	}
	tracker, err := recovery.NewTracker(recovery.Config{
		Roots:     resolver,
		Snapshots: engine,
		Atomic:    atomic,
		Durable:   cfg.Storage.DurableWrites,
	})
	if err != nil {
		log.Fatalf("Failed to initialize recovery tracker: %v", err)
	}

	// Setup context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var vrf *verifier.Verifier
	if cfg.Verifier.Enabled && !*noVerifier {
		vrf, err = verifier.New(verifier.Config{
			Projects:         resolver,
			Atomic:           atomic,
			DataDir:          cfg.Storage.DataPath,
			Enabled:          true,
			BaseInterval:     cfg.Verifier.BaseInterval,
			MaxInterval:      cfg.Verifier.MaxInterval,
			SampleChunkBytes: cfg.Verifier.SampleChunkBytes,
			VoiceNotes:       cfg.Features.VoiceNotes,
			Durable:          cfg.Storage.DurableWrites,
			Diagnostics:      diagnostics.NewFileSink(atomic),
			Notifier:         notify.NewWriter(cfg.Storage.DataPath),
		})
		if err != nil {
			log.Fatalf("Failed to initialize backup verifier: %v", err)
		}
		go func() {
			if err := vrf.Start(ctx); err != nil && err != context.Canceled {
				log.Printf("Backup verifier stopped: %v", err)
			}
		}()
	}

	addr, _ := server.Start(ctx, cfg, server.Deps{
		Resolver: resolver,
		Engine:   engine,
		Tracker:  tracker,
		Verifier: vrf,
		Catalog:  catalog,
		Atomic:   atomic,
	})
	log.Printf("Inkwell running at http://%s", addr)

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	log.Println("Shutting down gracefully...")
	cancel()
	time.Sleep(1 * time.Second) // Give time for connections to close
}
