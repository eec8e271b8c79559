// Command inkwell-verifier runs the backup verification daemon on its
// own, outside the web server process.
package main

import (
	"context"
	"flag"
	"fmt"
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
	"github.com/scrypster/inkwell/internal/verifier"
)

var (
	projectsDir = flag.String("projects", "", "Projects directory (overrides config)")
	dataDir     = flag.String("data", "", "Service data directory (overrides config)")
	interval    = flag.Duration("interval", 0, "Base verification interval (overrides config)")
	voiceNotes  = flag.Bool("voice-notes", false, "Also verify voice note pairs")
	oneshot     = flag.Bool("oneshot", false, "Run a single verification cycle and exit")
	healthCmd   = flag.Bool("health", false, "Print the last persisted verifier state and exit")
)

func main() {
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	projectsFinal := cfg.Storage.ProjectsPath
	if *projectsDir != "" {
		projectsFinal = *projectsDir
	}
	dataFinal := cfg.Storage.DataPath
	if *dataDir != "" {
		dataFinal = *dataDir
	}
	intervalFinal := cfg.Verifier.BaseInterval
	if *interval > 0 {
		intervalFinal = *interval
	}
	voice := cfg.Features.VoiceNotes || *voiceNotes

	atomic := fsatomic.NewWriter(fsatomic.NewLocks())
	resolver, err := project.NewResolver(projectsFinal, atomic)
	if err != nil {
		log.Fatalf("Failed to open projects directory: %v", err)
	}

	service, err := verifier.New(verifier.Config{
		Projects:         resolver,
		Atomic:           atomic,
		DataDir:          dataFinal,
		Enabled:          true,
		BaseInterval:     intervalFinal,
		MaxInterval:      cfg.Verifier.MaxInterval,
		SampleChunkBytes: cfg.Verifier.SampleChunkBytes,
		VoiceNotes:       voice,
		Durable:          cfg.Storage.DurableWrites,
		Diagnostics:      diagnostics.NewFileSink(atomic),
		Notifier:         notify.NewWriter(dataFinal),
	})
	if err != nil {
		log.Fatalf("Failed to create backup verifier: %v", err)
	}

	ctx := context.Background()

	if *healthCmd {
		handleHealth(service)
		return
	}

	if *oneshot {
		handleOneshot(ctx, service)
		return
	}

	runService(ctx, service)
}

func handleHealth(service *verifier.Verifier) {
	st := service.State()

	fmt.Printf("Status: %s\n", st.Status)
	if st.Message != "" {
		fmt.Printf("Message: %s\n", st.Message)
	}
	fmt.Printf("Checked Snapshots: %d\n", st.CheckedSnapshots)
	fmt.Printf("Failed Snapshots: %d\n", st.FailedSnapshots)
	if st.VoiceNotesChecked > 0 || st.VoiceNoteIssues > 0 {
		fmt.Printf("Voice Notes Checked: %d (%d issues)\n", st.VoiceNotesChecked, st.VoiceNoteIssues)
	}

	if st.LastRun != nil {
		fmt.Printf("Last Run: %s (%s ago)\n",
			st.LastRun.Format(time.RFC3339),
			time.Since(*st.LastRun).Round(time.Minute))
	} else {
		fmt.Println("Last Run: Never")
	}
	if st.LastSuccess != nil {
		fmt.Printf("Last Success: %s\n", st.LastSuccess.Format(time.RFC3339))
	}
	if st.LastError != "" {
		fmt.Printf("Last Error: %s\n", st.LastError)
	}

	if st.Status == verifier.StatusError {
		os.Exit(1)
	}
}

func handleOneshot(ctx context.Context, service *verifier.Verifier) {
	log.Println("Running one verification cycle...")

	st, err := service.RunCycle(ctx)
	if err != nil {
		log.Fatalf("Verification cycle failed: %v", err)
	}

	log.Printf("Cycle completed:")
	log.Printf("  Status: %s", st.Status)
	log.Printf("  Snapshots checked: %d", st.CheckedSnapshots)
	log.Printf("  Snapshots failed: %d", st.FailedSnapshots)
	if st.VoiceNotesChecked > 0 {
		log.Printf("  Voice notes checked: %d (%d issues)", st.VoiceNotesChecked, st.VoiceNoteIssues)
	}
	if st.Status == verifier.StatusError {
		os.Exit(1)
	}
}

func runService(ctx context.Context, service *verifier.Verifier) {
	go func() {
		if err := service.Start(ctx); err != nil && err != context.Canceled {
			log.Printf("Backup verifier error: %v", err)
		}
	}()

	log.Println("Inkwell backup verifier started")
	log.Println("Press Ctrl+C to stop")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Println("Shutting down backup verifier...")
	if err := service.Stop(); err != nil {
		log.Printf("Warning: %v", err)
	}

	log.Println("Backup verifier stopped")
}
