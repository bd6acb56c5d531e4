// Package dispatcher runs fetch and process workers over the coordinator until shutdown.
package dispatcher

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/movie-ingest/internal/coordinator"
	"github.com/JakeFAU/movie-ingest/internal/metrics"
	"github.com/JakeFAU/movie-ingest/internal/pipeline"
)

// Cycler is the subset of the coordinator the dispatcher drives.
type Cycler interface {
	FetchCycle(ctx context.Context) (coordinator.CycleReport, error)
	ProcessCycle(ctx context.Context) (coordinator.CycleReport, error)
	RefreshStats(ctx context.Context) error
}

// Config controls worker counts and pacing.
type Config struct {
	FetchWorkers   int
	ProcessWorkers int
	// PollInterval is the sleep after a cycle that claimed nothing.
	PollInterval time.Duration
	// ErrorBackoff is the sleep after a cycle aborted by a storage error.
	ErrorBackoff time.Duration
	// StatsInterval controls status gauge refresh. Zero disables it.
	StatsInterval time.Duration
}

// Dispatcher fans cycles out to a pool of workers.
type Dispatcher struct {
	cycler Cycler
	cfg    Config
	logger *zap.Logger
}

// New creates a Dispatcher.
func New(cycler Cycler, cfg Config, logger *zap.Logger) *Dispatcher {
	if cfg.FetchWorkers < 0 {
		cfg.FetchWorkers = 0
	}
	if cfg.ProcessWorkers < 0 {
		cfg.ProcessWorkers = 0
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	if cfg.ErrorBackoff <= 0 {
		cfg.ErrorBackoff = 5 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics.Init()
	return &Dispatcher{cycler: cycler, cfg: cfg, logger: logger}
}

// Run starts all workers and blocks until the context finishes and every worker has returned.
func (d *Dispatcher) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for i := 0; i < d.cfg.FetchWorkers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			d.loop(ctx, "fetch", d.logger.Named("fetch-worker").With(zap.Int("worker", id)), d.cycler.FetchCycle)
		}(i)
	}
	for i := 0; i < d.cfg.ProcessWorkers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			d.loop(ctx, "process", d.logger.Named("process-worker").With(zap.Int("worker", id)), d.cycler.ProcessCycle)
		}(i)
	}
	if d.cfg.StatsInterval > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d.statsLoop(ctx)
		}()
	}
	<-ctx.Done()
	wg.Wait()
}

func (d *Dispatcher) loop(
	ctx context.Context,
	cycle string,
	log *zap.Logger,
	run func(context.Context) (coordinator.CycleReport, error),
) {
	log.Info("worker started")
	defer log.Info("worker stopped")
	for ctx.Err() == nil {
		metrics.IncActiveWorkers(cycle)
		report, err := run(ctx)
		metrics.DecActiveWorkers(cycle)

		wait := time.Duration(0)
		switch {
		case ctx.Err() != nil:
			return
		case err != nil:
			if pipeline.IsStoreError(err) {
				log.Error("cycle aborted by storage error", zap.Error(err), zap.Any("report", report))
			} else {
				log.Error("cycle failed", zap.Error(err))
			}
			wait = d.cfg.ErrorBackoff
		case report.Claimed == 0:
			wait = d.cfg.PollInterval
		default:
			log.Debug("cycle complete", zap.Any("report", report))
		}
		if wait > 0 && !sleep(ctx, wait) {
			return
		}
	}
}

func (d *Dispatcher) statsLoop(ctx context.Context) {
	ticker := time.NewTicker(d.cfg.StatsInterval)
	defer ticker.Stop()
	for {
		if err := d.cycler.RefreshStats(ctx); err != nil && ctx.Err() == nil {
			d.logger.Warn("refresh stats failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
