// Package server builds the application's dependency graph and runs it.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/storage"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/JakeFAU/movie-ingest/internal/api"
	"github.com/JakeFAU/movie-ingest/internal/config"
	"github.com/JakeFAU/movie-ingest/internal/coordinator"
	"github.com/JakeFAU/movie-ingest/internal/dispatcher"
	headlessfetcher "github.com/JakeFAU/movie-ingest/internal/fetcher/headless"
	gcppublisher "github.com/JakeFAU/movie-ingest/internal/publisher/pubsub"
)

// App owns every long-lived dependency and the two run loops: dispatcher and admin server.
type App struct {
	cfg         config.Config
	logger      *zap.Logger
	apiServer   *api.Server
	dispatch    *dispatcher.Dispatcher
	coordinator *coordinator.Coordinator
	stores      stores

	pool         *pgxpool.Pool
	redisClient  *redis.Client
	pubsubClient *pubsub.Client
	publisher    *gcppublisher.Publisher
	gcsClient    *storage.Client
	browser      *headlessfetcher.Fetcher
}

// Handler exposes the admin HTTP handler, mainly for tests.
func (a *App) Handler() http.Handler {
	return a.apiServer.Handler()
}

// Coordinator exposes the pipeline coordinator, mainly for tests.
func (a *App) Coordinator() *coordinator.Coordinator {
	return a.coordinator
}

// Run starts the dispatcher and the admin server and blocks until ctx is canceled or the
// server fails. In-flight cycles drain before Run returns; Close is left to the caller.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := context.WithCancel(ctx)
	defer stop()

	if err := a.enqueueSeeds(ctx); err != nil {
		return err
	}

	dispatchDone := make(chan struct{})
	go func() {
		defer close(dispatchDone)
		a.logger.Info("dispatcher started",
			zap.Int("fetch_workers", a.cfg.Pipeline.FetchWorkers),
			zap.Int("process_workers", a.cfg.Pipeline.ProcessWorkers),
		)
		a.dispatch.Run(ctx)
		a.logger.Info("dispatcher drained")
	}()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
			stop()
		}
	}()

	<-ctx.Done()
	a.logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.shutdownTimeout())
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}

	select {
	case <-dispatchDone:
	case <-shutdownCtx.Done():
		a.logger.Warn("dispatcher did not drain before shutdown timeout")
	}

	select {
	case err := <-serveErr:
		return fmt.Errorf("http server: %w", err)
	default:
		return nil
	}
}

func (a *App) shutdownTimeout() time.Duration {
	if a.cfg.Server.ShutdownSeconds > 0 {
		return time.Duration(a.cfg.Server.ShutdownSeconds) * time.Second
	}
	return 15 * time.Second
}

func (a *App) enqueueSeeds(ctx context.Context) error {
	seeds := a.cfg.PipelineSeeds()
	if len(seeds) == 0 {
		return nil
	}
	inserted, err := a.stores.work.Enqueue(ctx, seeds)
	if err != nil {
		return fmt.Errorf("enqueue seeds: %w", err)
	}
	a.logger.Info("seeds enqueued", zap.Int("configured", len(seeds)), zap.Int("inserted", inserted))
	return nil
}

// Close releases external clients. It is safe to call on a partially built App.
func (a *App) Close() {
	if a.browser != nil {
		a.browser.Close()
	}
	if a.publisher != nil {
		if err := a.publisher.Close(); err != nil {
			a.logger.Warn("pubsub publisher close failed", zap.Error(err))
		}
	} else if a.pubsubClient != nil {
		if err := a.pubsubClient.Close(); err != nil {
			a.logger.Warn("pubsub client close failed", zap.Error(err))
		}
	}
	if a.gcsClient != nil {
		if err := a.gcsClient.Close(); err != nil {
			a.logger.Warn("gcs client close failed", zap.Error(err))
		}
	}
	if a.redisClient != nil {
		if err := a.redisClient.Close(); err != nil {
			a.logger.Warn("redis client close failed", zap.Error(err))
		}
	}
	if a.pool != nil {
		a.pool.Close()
	}
	a.logger.Info("shutdown complete")
}
