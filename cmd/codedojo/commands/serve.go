package commands

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/codedojo/codedojo/internal/adapter/ws"
	"github.com/codedojo/codedojo/internal/logger"
	"github.com/codedojo/codedojo/pkg/clock"
	"github.com/codedojo/codedojo/pkg/config"
	"github.com/codedojo/codedojo/pkg/metrics"
	prommetrics "github.com/codedojo/codedojo/pkg/metrics/prometheus"
	"github.com/codedojo/codedojo/pkg/persist"
	badgerstore "github.com/codedojo/codedojo/pkg/persist/badger"
	memorystore "github.com/codedojo/codedojo/pkg/persist/memory"
	postgresstore "github.com/codedojo/codedojo/pkg/persist/postgres"
	"github.com/codedojo/codedojo/pkg/protocol"
	"github.com/codedojo/codedojo/pkg/room"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the CodeDojo collaboration server",
	Long: `Start the CodeDojo collaboration server with the specified configuration.

The server exposes the WebSocket endpoint at /ws and a health check at
/healthz. When metrics are enabled, Prometheus metrics are served on a
separate port under /metrics.

Use --config to specify a custom configuration file, or it will use the
default location at $XDG_CONFIG_HOME/codedojo/config.yaml.

Examples:
  # Start with the default configuration
  codedojo serve

  # Start with a custom config file
  codedojo serve --config /etc/codedojo/config.yaml

  # Start with environment variable overrides
  CODEDOJO_LOGGING_LEVEL=DEBUG codedojo serve`,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	// Optional .env for local development; deployments use CODEDOJO_* vars.
	_ = godotenv.Load()

	cfg, err := config.MustLoad(GetConfigFile())
	if err != nil {
		return err
	}

	if err := InitLogger(cfg); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("starting codedojo",
		"version", Version,
		logger.KeyBackend, cfg.Persistence.Backend)

	var (
		collabMetrics  metrics.CollabMetrics
		sessionMetrics metrics.SessionMetrics
		metricsServer  *http.Server
	)
	if cfg.Metrics.Enabled {
		metrics.InitRegistry()
		collabMetrics = prommetrics.NewCollabMetrics()
		sessionMetrics = prommetrics.NewSessionMetrics()

		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		metricsServer = &http.Server{
			Addr:    net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Metrics.Port)),
			Handler: mux,
		}
		go func() {
			logger.Info("metrics server listening", "addr", metricsServer.Addr)
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server failed", logger.KeyError, err)
			}
		}()
	}

	store, err := openStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to open persistence backend: %w", err)
	}

	manager := room.NewManager(room.Options{
		RateWindow:            cfg.Collab.RateWindow,
		RateMaxOps:            cfg.Collab.RateMaxOps,
		BackpressureThreshold: cfg.Collab.BackpressureThreshold,
		RoomTTL:               cfg.Collab.RoomTTL,
		ReaperInterval:        cfg.Collab.ReaperInterval,
		SnapshotOps:           cfg.Collab.SnapshotOps,
		SnapshotInterval:      cfg.Collab.SnapshotInterval,
		MaxParticipants:       cfg.Collab.MaxParticipantsPerRoom,
		PersistQueueCap:       room.DefaultOptions().PersistQueueCap,
	}, store, clock.System(), clock.UUIDs(), collabMetrics)

	validator := protocol.NewValidator(protocol.Limits{
		MaxIDLength:      cfg.Collab.MaxIDLength,
		MaxContentLength: cfg.Collab.MaxContentLength,
	})

	wsOpts := ws.DefaultOptions()
	wsOpts.IdleTimeout = cfg.Server.IdleTimeout
	wsOpts.SendQueueCap = cfg.Collab.SendQueueCap
	wsOpts.ReadLimit = cfg.Server.ReadLimit
	adapter := ws.NewAdapter(wsOpts, manager, validator, clock.System(), clock.UUIDs(), sessionMetrics)

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.Recoverer)
	router.Handle("/ws", adapter)
	router.Get("/healthz", healthHandler(manager, adapter))

	server := &http.Server{
		Addr:    net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.Port)),
		Handler: router,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		manager.Close()
		_ = store.Close()
		return fmt.Errorf("server failed: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("server shutdown incomplete", logger.KeyError, err)
	}

	// Close flushes every dirty room to the store before returning.
	manager.Close()

	if err := store.Close(); err != nil {
		logger.Warn("store close failed", logger.KeyError, err)
	}

	if metricsServer != nil {
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("metrics server shutdown incomplete", logger.KeyError, err)
		}
	}

	logger.Info("shutdown complete")
	return nil
}

// openStore builds the persistence backend selected by configuration.
func openStore(ctx context.Context, cfg *config.Config) (persist.Store, error) {
	ttls := persist.TTLs{
		Snapshots:  cfg.Persistence.SnapshotTTL,
		Operations: cfg.Persistence.OperationTTL,
		Cursors:    cfg.Persistence.CursorTTL,
	}

	switch cfg.Persistence.Backend {
	case "memory":
		return memorystore.New(ttls), nil
	case "badger":
		return badgerstore.Open(cfg.Persistence.Badger.Path, ttls)
	case "postgres":
		return postgresstore.Open(ctx, cfg.Persistence.Postgres.DSN, ttls)
	default:
		return nil, fmt.Errorf("unknown persistence backend %q", cfg.Persistence.Backend)
	}
}

// healthHandler reports liveness plus room and session counts.
func healthHandler(manager *room.Manager, adapter *ws.Adapter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rooms, participants := manager.Counts()

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"status":       "ok",
			"rooms":        rooms,
			"participants": participants,
			"sessions":     adapter.ActiveSessions(),
		})
	}
}
