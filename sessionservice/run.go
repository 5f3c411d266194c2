// Package sessionservice wires configuration, storage, events and HTTP
// transport into a runnable service.
package sessionservice

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/faultmaven/session-service/internal/api"
	"github.com/faultmaven/session-service/internal/api/recovery"
	"github.com/faultmaven/session-service/internal/config"
	"github.com/faultmaven/session-service/internal/events"
	"github.com/faultmaven/session-service/internal/health"
	"github.com/faultmaven/session-service/internal/platform/logger"
	"github.com/faultmaven/session-service/internal/services"
	"github.com/faultmaven/session-service/internal/store"
	"github.com/faultmaven/session-service/internal/store/memstore"
	"github.com/faultmaven/session-service/internal/store/redisstore"
	"github.com/faultmaven/session-service/internal/ttl"
)

// Run starts the session service HTTP server and blocks until shutdown or error.
func Run() error {
	log := logger.New("session-service")

	cfg, err := config.New()
	if err != nil {
		log.Error().Err(err).Msg("Failed to load configuration")
		return err
	}

	log.Info().
		Str("store_driver", cfg.StoreDriver).
		Int("http_port", cfg.HTTPPort).
		Int("default_ttl_minutes", cfg.DefaultTTLMinutes).
		Int("max_sessions_per_user", cfg.MaxSessionsPerUser).
		Msg("Session service starting")

	ctx, stop := newServerContext()
	defer stop()

	st, err := newStore(ctx, cfg, log)
	if err != nil {
		log.Error().Err(err).Msg("Store adapter unavailable")
		return err
	}

	bus := events.NewBus(cfg.EventBufferSize)
	if cfg.EventWebhookURL != "" {
		fwd := events.NewWebhookForwarder(cfg.EventWebhookURL, log)
		go fwd.Run(ctx, bus.Subscribe())
	} else {
		go drain(ctx, bus.Subscribe())
	}

	svc := services.NewSessionService(
		st,
		ttl.New(cfg.DefaultTTLMinutes, cfg.MinTTLMinutes, cfg.MaxTTLMinutes),
		bus,
		services.Limits{
			MaxMessagesPerSession:  cfg.MaxMessagesPerSession,
			MaxMessageContentBytes: cfg.MaxMessageContentBytes,
			MaxSessionsPerUser:     cfg.MaxSessionsPerUser,
		},
		cfg.StoreTimeout(),
		log,
	)

	router := buildRouter(svc)

	svcHealth := startHealthCheckers(ctx, cfg, log, st)
	api.BindServiceHealth(svcHealth.IsHealthy)

	server := newHTTPServer(ctx, cfg, router)
	errCh := serveHTTP(server, log, cfg)

	select {
	case <-ctx.Done():
		log.Info().Msg("Shutting down server")
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(ctxShutdown); err != nil {
			log.Error().Err(err).Msg("Server forced to shutdown")
			return err
		}
		log.Info().Msg("Server exited")
		return nil
	case err := <-errCh:
		log.Error().Err(err).Msg("HTTP server failed")
		return err
	}
}

// newStore selects the configured store driver.
func newStore(ctx context.Context, cfg *config.Config, log zerolog.Logger) (store.Store, error) {
	switch cfg.StoreDriver {
	case "memory":
		log.Warn().Msg("using in-memory store; sessions will not survive restarts")
		return memstore.New(), nil
	case "redis":
		return redisstore.Open(ctx, redisstore.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
	default:
		return nil, fmt.Errorf("unsupported store driver: %s", cfg.StoreDriver)
	}
}

// buildRouter wires HTTP routes to handlers.
func buildRouter(svc *services.SessionService) *mux.Router {
	root := mux.NewRouter()
	root.Use(recovery.Middleware)

	h := api.NewSessionHandler(svc)
	root.HandleFunc("/api/v1/sessions", h.CreateSession).Methods("POST")
	root.HandleFunc("/api/v1/sessions", h.ListSessions).Methods("GET")
	root.HandleFunc("/api/v1/sessions/search", h.SearchSessions).Methods("POST")
	root.HandleFunc("/api/v1/sessions/{sessionId}", h.GetSession).Methods("GET")
	root.HandleFunc("/api/v1/sessions/{sessionId}", h.UpdateSession).Methods("PUT")
	root.HandleFunc("/api/v1/sessions/{sessionId}", h.DeleteSession).Methods("DELETE")
	root.HandleFunc("/api/v1/sessions/{sessionId}/heartbeat", h.Heartbeat).Methods("POST")
	root.HandleFunc("/api/v1/sessions/{sessionId}/messages", h.AddMessage).Methods("POST")
	root.HandleFunc("/api/v1/sessions/{sessionId}/messages", h.ListMessages).Methods("GET")
	root.HandleFunc("/api/v1/sessions/{sessionId}/stats", h.SessionStats).Methods("GET")
	root.HandleFunc("/api/v1/sessions/{sessionId}/archive", h.ArchiveSession).Methods("POST")
	root.HandleFunc("/api/v1/sessions/{sessionId}/restore", h.RestoreSession).Methods("POST")

	healthHandler := api.NewHealthHandler()
	root.HandleFunc("/api/health", healthHandler.CheckHealth).Methods("GET")
	root.HandleFunc("/api/health/{component}", healthHandler.CheckComponent).Methods("GET")

	return root
}

// startHealthCheckers starts component checkers and the service-level aggregator.
func startHealthCheckers(ctx context.Context, cfg *config.Config, log zerolog.Logger, st store.Store) *health.ServiceHealthChecker {
	probeTimeout := time.Duration(cfg.HealthProbeTimeoutSeconds) * time.Second
	interval := time.Duration(cfg.HealthIntervalSeconds) * time.Second

	storeChecker := store.NewStoreHealthChecker(st, log, probeTimeout)
	go storeChecker.Start(ctx, interval)
	api.BindComponentHealth(storeChecker.Name(), storeChecker.IsHealthy)

	svcHealth := health.NewServiceHealthChecker(log, storeChecker)
	go svcHealth.Start(ctx, interval)
	return svcHealth
}

// drain discards events when no notifier target is configured, keeping the
// bus buffer from filling.
func drain(ctx context.Context, ch <-chan events.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-ch:
			if !ok {
				return
			}
		}
	}
}

func newHTTPServer(ctx context.Context, cfg *config.Config, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              cfg.GetHTTPAddr(),
		Handler:           handler,
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
}

func serveHTTP(server *http.Server, log zerolog.Logger, cfg *config.Config) <-chan error {
	errCh := make(chan error, 1)
	go func() {
		log.Info().Int("port", cfg.HTTPPort).Msg("HTTP server starting")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()
	return errCh
}

// newServerContext returns a cancellable context that is cancelled on SIGINT/SIGTERM.
func newServerContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}
