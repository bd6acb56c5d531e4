package server

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/JakeFAU/movie-ingest/internal/api"
	"github.com/JakeFAU/movie-ingest/internal/clock/system"
	"github.com/JakeFAU/movie-ingest/internal/config"
	"github.com/JakeFAU/movie-ingest/internal/coordinator"
	"github.com/JakeFAU/movie-ingest/internal/dedup"
	"github.com/JakeFAU/movie-ingest/internal/dispatcher"
	"github.com/JakeFAU/movie-ingest/internal/extractor"
	"github.com/JakeFAU/movie-ingest/internal/fetcher"
	collyfetcher "github.com/JakeFAU/movie-ingest/internal/fetcher/colly"
	headlessfetcher "github.com/JakeFAU/movie-ingest/internal/fetcher/headless"
	"github.com/JakeFAU/movie-ingest/internal/id/uuid"
	"github.com/JakeFAU/movie-ingest/internal/pipeline"
	"github.com/JakeFAU/movie-ingest/internal/policy/ratelimit"
	"github.com/JakeFAU/movie-ingest/internal/policy/scope"
	memorypublisher "github.com/JakeFAU/movie-ingest/internal/publisher/memory"
	gcppublisher "github.com/JakeFAU/movie-ingest/internal/publisher/pubsub"
	gcsstorage "github.com/JakeFAU/movie-ingest/internal/storage/gcs"
	localstorage "github.com/JakeFAU/movie-ingest/internal/storage/local"
	memorystorage "github.com/JakeFAU/movie-ingest/internal/storage/memory"
	pgstore "github.com/JakeFAU/movie-ingest/internal/storage/postgres"
)

type stores struct {
	work   pipeline.WorkStore
	html   pipeline.HTMLStore
	movies pipeline.MovieRepository
	users  pipeline.EngagementStore
}

// Build creates the application's dependencies. On error, everything opened so far is closed.
func Build(ctx context.Context, cfg config.Config, logger *zap.Logger) (built *App, err error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	app := &App{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			app.Close()
		}
	}()

	clock := system.New()
	ready := make(map[string]api.Pinger)

	logger.Info("building application dependencies",
		zap.String("storage_driver", cfg.Storage.Driver),
		zap.String("archive", cfg.Storage.Archive),
		zap.Bool("headless", cfg.Headless.Enabled),
	)

	if err = setupStores(ctx, app, clock, ready); err != nil {
		return nil, err
	}
	archive, err := setupArchive(ctx, app)
	if err != nil {
		return nil, err
	}
	seen, err := setupSeenCache(ctx, app, clock, ready)
	if err != nil {
		return nil, err
	}
	publisher, err := setupPublisher(ctx, app)
	if err != nil {
		return nil, err
	}
	fetch, err := setupFetcher(app)
	if err != nil {
		return nil, err
	}
	extract, err := setupExtractor(cfg.Extractor)
	if err != nil {
		return nil, err
	}

	app.coordinator, err = coordinator.New(coordinator.Dependencies{
		Work:      app.stores.work,
		HTML:      app.stores.html,
		Movies:    app.stores.movies,
		Fetcher:   fetch,
		Extractor: extract,
		Seen:      seen,
		Scope:     scope.New(cfg.Scope),
		Archive:   archive,
		Publisher: publisher,
		Retry: pipeline.NewExponentialRetryPolicy(
			time.Duration(cfg.Pipeline.RetryBaseSeconds)*time.Second,
			time.Duration(cfg.Pipeline.RetryMaxSeconds)*time.Second,
		),
		Clock: clock,
	}, coordinator.Config{
		BatchSize:         cfg.Pipeline.BatchSize,
		Lease:             cfg.Pipeline.Lease(),
		MaxFetchRetries:   cfg.Pipeline.MaxFetchRetries,
		MaxProcessRetries: cfg.Pipeline.MaxProcessRetries,
		Parallelism:       cfg.Pipeline.Parallelism,
		ArchivePrefix:     cfg.Storage.Prefix,
		ContentType:       cfg.Storage.ContentType,
		Topic:             cfg.PubSub.TopicName,
	}, logger.Named("coordinator"))
	if err != nil {
		return nil, fmt.Errorf("coordinator init failed: %w", err)
	}

	app.dispatch = dispatcher.New(app.coordinator, dispatcher.Config{
		FetchWorkers:   cfg.Pipeline.FetchWorkers,
		ProcessWorkers: cfg.Pipeline.ProcessWorkers,
		PollInterval:   cfg.Pipeline.PollInterval(),
		ErrorBackoff:   cfg.Pipeline.ErrorBackoff(),
		StatsInterval:  time.Duration(cfg.Pipeline.StatsSeconds) * time.Second,
	}, logger)

	apiKey := ""
	if cfg.Auth.Enabled {
		apiKey = cfg.Auth.APIKey
	}
	app.apiServer = api.NewServer(api.Dependencies{
		Work:   app.stores.work,
		Movies: app.stores.movies,
		Users:  app.stores.users,
		Ready:  ready,
	}, api.Options{APIKey: apiKey}, logger)

	return app, nil
}

func setupStores(ctx context.Context, app *App, clock pipeline.Clock, ready map[string]api.Pinger) error {
	idGen := uuid.New()
	switch app.cfg.Storage.Driver {
	case "memory":
		app.logger.Warn("using in-memory stores; all state is lost on exit")
		work := memorystorage.NewWorkStore(clock, idGen)
		html := memorystorage.NewHTMLStore(clock)
		work.AttachHTML(html)
		movies := memorystorage.NewMovieStore(clock)
		app.stores = stores{
			work:   work,
			html:   html,
			movies: movies,
			users:  memorystorage.NewEngagementStore(clock, movies),
		}
		return nil
	default:
		pool, err := pgstore.NewPool(ctx, pgstore.PoolConfig{
			DSN:             app.cfg.DB.DSN(),
			MaxConns:        app.cfg.DB.MaxConns,
			MinConns:        app.cfg.DB.MinConns,
			MaxConnLifetime: time.Duration(app.cfg.DB.MaxConnLifetimeMin) * time.Minute,
		})
		if err != nil {
			return fmt.Errorf("postgres init failed: %w", err)
		}
		app.pool = pool
		if err := pool.Ping(ctx); err != nil {
			return fmt.Errorf("postgres ping failed: %w", err)
		}
		if app.cfg.DB.Migrate {
			if err := pgstore.Migrate(ctx, pool); err != nil {
				return fmt.Errorf("postgres migrate failed: %w", err)
			}
			app.logger.Info("postgres schema ensured")
		}
		app.stores = stores{
			work:   pgstore.NewWorkStore(pool, clock, idGen),
			html:   pgstore.NewHTMLStore(pool, clock),
			movies: pgstore.NewMovieStore(pool, clock),
			users:  pgstore.NewEngagementStore(pool, clock),
		}
		ready["postgres"] = pool
		app.logger.Info("postgres stores initialized",
			zap.String("host", app.cfg.DB.Host),
			zap.String("database", app.cfg.DB.Name),
		)
		return nil
	}
}

// setupArchive returns nil when archiving is disabled.
func setupArchive(ctx context.Context, app *App) (pipeline.BlobStore, error) {
	switch app.cfg.Storage.Archive {
	case "gcs":
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client init failed: %w", err)
		}
		app.gcsClient = client
		store, err := gcsstorage.New(client, gcsstorage.Config{Bucket: app.cfg.Storage.GCSBucket})
		if err != nil {
			return nil, fmt.Errorf("gcs blob store init failed: %w", err)
		}
		app.logger.Info("archiving html to gcs", zap.String("bucket", app.cfg.Storage.GCSBucket))
		return store, nil
	case "local":
		store, err := localstorage.New(localstorage.Config{BaseDir: app.cfg.Storage.LocalDir})
		if err != nil {
			return nil, fmt.Errorf("local blob store init failed: %w", err)
		}
		app.logger.Info("archiving html to local disk", zap.String("path", app.cfg.Storage.LocalDir))
		return store, nil
	case "memory":
		return memorystorage.NewBlobStore(), nil
	default:
		return nil, nil
	}
}

func setupSeenCache(
	ctx context.Context,
	app *App,
	clock pipeline.Clock,
	ready map[string]api.Pinger,
) (pipeline.SeenCache, error) {
	ttl := time.Duration(app.cfg.Redis.TTLMinutes) * time.Minute
	if app.cfg.Redis.Addr == "" {
		return dedup.NewMemoryCache(clock, ttl), nil
	}
	client := dedup.NewRedisClient(dedup.RedisConfig{
		Addr:     app.cfg.Redis.Addr,
		Password: app.cfg.Redis.Password,
		DB:       app.cfg.Redis.DB,
	})
	app.redisClient = client
	cache := dedup.NewRedisCache(client, app.cfg.Redis.Prefix, ttl)
	if err := cache.Ping(ctx); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	ready["redis"] = cache
	app.logger.Info("redis discovery cache initialized", zap.String("addr", app.cfg.Redis.Addr))
	return cache, nil
}

func setupPublisher(ctx context.Context, app *App) (pipeline.Publisher, error) {
	if app.cfg.PubSub.TopicName == "" || app.cfg.PubSub.ProjectID == "" {
		app.logger.Info("no Pub/Sub topic configured, using in-memory publisher")
		return memorypublisher.New(), nil
	}
	client, err := pubsub.NewClient(ctx, app.cfg.PubSub.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("pubsub client init failed: %w", err)
	}
	app.pubsubClient = client
	app.publisher = gcppublisher.New(client)
	app.logger.Info("Pub/Sub publisher initialized",
		zap.String("project", app.cfg.PubSub.ProjectID),
		zap.String("topic", app.cfg.PubSub.TopicName),
	)
	return app.publisher, nil
}

func setupFetcher(app *App) (pipeline.Fetcher, error) {
	plain := collyfetcher.New(collyfetcher.Config{
		UserAgent:     app.cfg.HTTP.UserAgent,
		RespectRobots: app.cfg.HTTP.RespectRobots,
		Timeout:       app.cfg.HTTP.FetchTimeout(),
		MaxBodyBytes:  app.cfg.HTTP.MaxBodyBytes,
	})

	var browser pipeline.Fetcher = headlessfetcher.NewNoop()
	if app.cfg.Headless.Enabled {
		f, err := headlessfetcher.NewChromedp(headlessfetcher.Config{
			MaxParallel:       app.cfg.Headless.MaxParallel,
			UserAgent:         app.cfg.HTTP.UserAgent,
			NavigationTimeout: time.Duration(app.cfg.Headless.NavTimeoutSec) * time.Second,
			WaitSelector:      app.cfg.Headless.WaitSelector,
			SettleDelay:       time.Duration(app.cfg.Headless.SettleMs) * time.Millisecond,
		})
		if err != nil {
			return nil, fmt.Errorf("headless fetcher init failed: %w", err)
		}
		app.browser = f
		browser = f
		app.logger.Info("using headless fetcher", zap.Int("max_parallel", app.cfg.Headless.MaxParallel))
	} else {
		app.logger.Info("headless rendering disabled; BROWSER urls will be dead-lettered")
	}

	return fetcher.NewRouter(
		fetcher.WithStrategy(pipeline.FetchMethodPlainRequest, plain),
		fetcher.WithStrategy(pipeline.FetchMethodBrowser, browser),
		fetcher.WithLimiter(ratelimit.New(app.cfg.RateLimit.Limiter())),
	), nil
}

func setupExtractor(cfg config.ExtractorConfig) (pipeline.Extractor, error) {
	listing, err := extractor.NewListing(extractor.ListingConfig{
		Container:      cfg.ListingContainer,
		LinkSelector:   cfg.LinkSelector,
		DetailPattern:  cfg.DetailPattern,
		BrowserPattern: cfg.BrowserPattern,
	})
	if err != nil {
		return nil, fmt.Errorf("listing extractor init failed: %w", err)
	}
	detail := extractor.NewDetail(extractor.DetailConfig{
		TitleSelector:  cfg.TitleSelector,
		RatingSelector: cfg.RatingSelector,
		RatingAttr:     cfg.RatingAttr,
	})
	return extractor.NewRouter(listing, detail), nil
}
