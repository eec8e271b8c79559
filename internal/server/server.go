// Package server provides HTTP server initialization and lifecycle management
// for the Inkwell Web UI and REST API.
package server

import (
	"context"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/scrypster/inkwell/internal/config"
	"github.com/scrypster/inkwell/internal/draft"
	"github.com/scrypster/inkwell/internal/fsatomic"
	"github.com/scrypster/inkwell/internal/notify"
	"github.com/scrypster/inkwell/internal/project"
	"github.com/scrypster/inkwell/internal/recovery"
	"github.com/scrypster/inkwell/internal/snapshot"
	"github.com/scrypster/inkwell/internal/templates"
	"github.com/scrypster/inkwell/internal/verifier"
	"github.com/scrypster/inkwell/web/handlers"
)

// Deps carries the services the HTTP layer exposes. Resolver, Engine,
// and Tracker are required; the rest may be nil and their endpoints
// degrade to 503.
type Deps struct {
	Resolver    *project.Resolver
	Engine      *snapshot.Engine
	Tracker     *recovery.Tracker
	Verifier    *verifier.Verifier
	Catalog     *templates.Catalog
	Synthesizer draft.Synthesizer
	Atomic      *fsatomic.Writer
}

// securityHeadersMiddleware adds security headers to all HTTP responses.
func securityHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("X-XSS-Protection", "1; mode=block")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		next.ServeHTTP(w, r)
	})
}

// Start initializes and starts the HTTP server.
// Returns the actual address being listened on (useful for testing with
// port 0) and the WebSocketHub for wiring event broadcasts.
func Start(ctx context.Context, cfg *config.Config, deps Deps) (string, *handlers.WebSocketHub) {
	mux := http.NewServeMux()

	// Create WebSocket hub; origin checks accept the configured host.
	wsHub := handlers.NewWebSocketHub(fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port))
	go wsHub.Run()

	// Create rate limiter (10 req/sec, burst of 20)
	rateLimiter := handlers.NewRateLimiter(10.0, 20)

	apiHandlers := handlers.NewAPIHandlers(cfg, deps.Resolver, deps.Engine, deps.Tracker,
		deps.Verifier, deps.Catalog, deps.Synthesizer, deps.Atomic)

	// Re-broadcast verifier cycle events to connected WebSocket clients.
	eventWatcher := notify.NewEventWatcher(cfg.Storage.DataPath, func(event notify.Event) {
		wsHub.Broadcast(map[string]interface{}{
			"type":   event.Type,
			"ref":    event.Ref,
			"status": event.Status,
			"time":   event.Time,
		})
	})
	if err := eventWatcher.Start(); err != nil {
		log.Printf("server: event watcher failed to start: %v", err)
		eventWatcher = nil
	}

	// API routes (require auth in production mode)
	apiMux := http.NewServeMux()
	apiMux.HandleFunc("/api/projects", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			apiHandlers.ListProjects(w, r)
		case http.MethodPost:
			apiHandlers.CreateProject(w, r)
		default:
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
	})
	apiMux.HandleFunc("POST /api/projects/{id}/accept", apiHandlers.Accept)
	apiMux.HandleFunc("GET /api/projects/{id}/recovery", apiHandlers.GetRecovery)
	apiMux.HandleFunc("POST /api/projects/{id}/recovery/restore", apiHandlers.RestoreRecovery)
	apiMux.HandleFunc("/api/projects/{id}/snapshots", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			apiHandlers.ListSnapshots(w, r)
		case http.MethodPost:
			apiHandlers.CreateSnapshot(w, r)
		default:
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
	})
	apiMux.HandleFunc("POST /api/projects/{id}/snapshots/{snapshotId}/restore", apiHandlers.RestoreSnapshot)
	apiMux.HandleFunc("GET /api/projects/{id}/budget", apiHandlers.GetBudget)
	apiMux.HandleFunc("GET /api/projects/{id}/diagnostics", apiHandlers.GetDiagnostics)
	apiMux.HandleFunc("GET /api/critique", apiHandlers.GetCritique)

	// Backup verifier routes
	apiMux.HandleFunc("GET /api/backup-verifier", apiHandlers.GetVerifierState)
	apiMux.HandleFunc("POST /api/backup-verifier/run", apiHandlers.RunVerifier)

	// Template catalog routes
	apiMux.HandleFunc("GET /api/templates", apiHandlers.ListTemplates)
	apiMux.HandleFunc("/api/templates/{id}", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			apiHandlers.GetTemplate(w, r)
		case http.MethodPut:
			apiHandlers.PutTemplate(w, r)
		default:
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
	})

	// Health endpoint — no auth required, used for monitoring
	mux.HandleFunc("/api/health", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy","version":"1.0.0"}`))
	})

	// Wrap API routes with auth middleware
	mux.Handle("/api/", handlers.RequireAuth(apiMux, cfg))

	// WebSocket endpoint (no auth required - origin validation handles security)
	mux.Handle("/ws", wsHub)

	if cfg.Features.EnableWebUI {
		basePath := findBasePath()

		// Static files
		fs := http.FileServer(http.Dir(basePath + "/web/static"))
		mux.Handle("/static/", http.StripPrefix("/static/", fs))

		// Index page
		indexPath := basePath + "/web/templates/index.html"
		mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path != "/" {
				http.NotFound(w, r)
				return
			}
			http.ServeFile(w, r, indexPath)
		})
	}

	// Wrap entire server with rate limiting, then security headers
	handler := handlers.RateLimitMiddleware(mux, rateLimiter)
	handler = securityHeadersMiddleware(handler)

	// Create server with security timeouts
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		log.Fatalf("Failed to listen on %s: %v", addr, err)
	}

	actualAddr := listener.Addr().String()

	go func() {
		if err := server.Serve(listener); err != nil && err != http.ErrServerClosed {
			log.Printf("Server error: %v", err)
		}
	}()

	// Handle graceful shutdown
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("Server shutdown error: %v", err)
		}
		if eventWatcher != nil {
			eventWatcher.Stop()
		}
		wsHub.Stop()
	}()

	return actualAddr, wsHub
}

// findBasePath returns the base path for the project.
// When running from cmd/inkwell-web, we need to go up two directories.
// When running tests, we may already be in the project root.
func findBasePath() string {
	// Try current directory first (for when running from project root)
	if _, err := os.Stat("web/templates/index.html"); err == nil {
		return "."
	}

	// Try parent directory (for when running from cmd/)
	if _, err := os.Stat("../web/templates/index.html"); err == nil {
		return ".."
	}

	// Try two levels up (for when running from cmd/inkwell-web/)
	if _, err := os.Stat("../../web/templates/index.html"); err == nil {
		return "../.."
	}

	// Default to current directory
	return "."
}
