// Package app wires the ingestion pipeline together and manages its
// lifecycle: store, queue, persister, rate limiter, and the HTTP
// server, torn down in an order that never loses acknowledged batches.
package app

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	httpapi "github.com/logtide/logtide/internal/api/http"
	"github.com/logtide/logtide/internal/config"
	"github.com/logtide/logtide/internal/logging"
	"github.com/logtide/logtide/internal/metrics"
	"github.com/logtide/logtide/internal/persist"
	"github.com/logtide/logtide/internal/queue"
	"github.com/logtide/logtide/internal/ratelimit"
	"github.com/logtide/logtide/internal/sanitize"
	"github.com/logtide/logtide/internal/server"
	"github.com/logtide/logtide/internal/storage"
)

// App owns the service's components and their lifecycle.
type App struct {
	cfg *config.Config
	log zerolog.Logger

	store     *storage.SQLiteStore
	queue     *queue.Queue
	persister *persist.Persister
	metrics   *metrics.Metrics
	shutdown  *server.ShutdownManager

	httpServer *http.Server

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New validates the configuration and prepares an App.
func New(cfg *config.Config) (*App, error) {
	cfg.Resolve()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("failed to create directories: %w", err)
	}

	logger := logging.New(logging.Options{
		Level:    cfg.Logging.Level,
		Pretty:   cfg.Logging.Pretty,
		SampleN:  cfg.Logging.SampleN,
		Service:  "logtide",
		Instance: uuid.NewString()[:8],
	})

	return &App{cfg: cfg, log: logger}, nil
}

// Start brings up the pipeline back-to-front: store, dead-letter
// replay, persister, then the HTTP listener.
func (a *App) Start(ctx context.Context) error {
	a.mu.Lock()
	if a.running {
		a.mu.Unlock()
		return fmt.Errorf("app is already running")
	}
	a.running = true
	a.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	a.cancel = cancel

	a.metrics = metrics.New()
	a.shutdown = server.NewShutdownManager(server.ShutdownConfig{
		ShutdownTimeout: a.cfg.Server.ShutdownTimeout,
		DrainTimeout:    a.cfg.Server.DrainTimeout,
	}, a.log)

	store, err := storage.Open(a.cfg.Storage.Path)
	if err != nil {
		cancel()
		return fmt.Errorf("failed to open store: %w", err)
	}
	a.store = store
	a.log.Info().Str("path", a.cfg.Storage.Path).Msg("store opened")

	dlq, err := persist.NewDLQ(a.cfg.DLQ.Dir, a.cfg.DLQ.MaxAge, a.cfg.DLQ.MaxBytes, a.log)
	if err != nil {
		store.Close()
		cancel()
		return fmt.Errorf("failed to initialize dead-letter queue: %w", err)
	}
	dlq.Sweep()

	a.queue = queue.New(a.cfg.Queue.Capacity)
	a.metrics.RegisterQueueDepth(func() float64 { return float64(a.queue.Len()) })

	a.persister = persist.New(a.queue, a.store, dlq, a.metrics, a.log, persist.Options{
		MaxRetries:     a.cfg.Persist.MaxRetries,
		InitialBackoff: a.cfg.Persist.InitialBackoff,
	})
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.persister.Run(ctx)
	}()

	limiter, err := ratelimit.NewLimiter(
		a.cfg.RateLimit.FillInterval,
		a.cfg.RateLimit.Capacity,
		a.cfg.RateLimit.MaxKeys,
	)
	if err != nil {
		a.cleanupAfterStartFailure(cancel)
		return fmt.Errorf("failed to initialize rate limiter: %w", err)
	}

	handler := httpapi.NewIngestHandler(sanitize.New(), a.queue, a.metrics, a.log)
	router := httpapi.NewRouter(handler, limiter, a.metrics, a.log, httpapi.RouterOptions{
		MaxBodyBytes: a.cfg.Server.MaxBodyBytes,
	})

	a.httpServer = &http.Server{
		Addr:         a.cfg.Server.Addr,
		Handler:      server.ShutdownMiddleware(a.shutdown)(router),
		ReadTimeout:  a.cfg.Server.ReadTimeout,
		WriteTimeout: a.cfg.Server.WriteTimeout,
		IdleTimeout:  a.cfg.Server.IdleTimeout,
	}

	// Teardown is LIFO: the listener stops first, then the queue closes,
	// the persister drains what was already acknowledged, and the store
	// closes last.
	a.shutdown.RegisterCloser("store", a.store)
	a.shutdown.RegisterCloser("persister drain", server.CloserFunc(func() error {
		a.queue.Close()
		<-a.persister.Done()
		return nil
	}))

	graceful := server.NewGracefulHTTPServer(a.httpServer, a.shutdown)
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.log.Info().Str("addr", a.cfg.Server.Addr).Msg("http server listening")
		if err := graceful.ListenAndServe(); err != nil {
			a.log.Error().Err(err).Msg("http server failed")
			a.shutdown.Shutdown(context.Background(), "http server failed")
		}
	}()

	a.log.Info().
		Int("queue_capacity", a.cfg.Queue.Capacity).
		Int64("rate_limit_capacity", a.cfg.RateLimit.Capacity).
		Msg("logtide started")
	return nil
}

// cleanupAfterStartFailure unwinds the partially started pipeline.
func (a *App) cleanupAfterStartFailure(cancel context.CancelFunc) {
	a.queue.Close()
	<-a.persister.Done()
	a.store.Close()
	cancel()
}

// WaitForShutdown blocks until a signal or context cancellation, then
// tears the pipeline down.
func (a *App) WaitForShutdown(ctx context.Context) error {
	err := a.shutdown.ListenForSignals(ctx)
	if a.cancel != nil {
		a.cancel()
	}
	a.wg.Wait()
	a.log.Info().Msg("logtide stopped")
	return err
}

// Stop triggers the same teardown programmatically.
func (a *App) Stop(ctx context.Context) error {
	a.mu.Lock()
	if !a.running {
		a.mu.Unlock()
		return nil
	}
	a.running = false
	a.mu.Unlock()

	err := a.shutdown.Shutdown(ctx, "stop requested")
	if a.cancel != nil {
		a.cancel()
	}
	a.wg.Wait()
	return err
}
