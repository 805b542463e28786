// Package app wires the uklid service together.
package app

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/bdobrica/uklid/internal/uklid/catalog"
	"github.com/bdobrica/uklid/internal/uklid/dispatch"
	"github.com/bdobrica/uklid/internal/uklid/eventlog"
	"github.com/bdobrica/uklid/internal/uklid/locale"
	"github.com/bdobrica/uklid/internal/uklid/matrix"
	"github.com/bdobrica/uklid/internal/uklid/nlp"
	"github.com/bdobrica/uklid/internal/uklid/resolver"
	"github.com/bdobrica/uklid/internal/uklid/session"
	"github.com/bdobrica/uklid/internal/uklid/store"
	"github.com/bdobrica/uklid/internal/uklid/sweeper"
)

// Config holds application configuration.
type Config struct {
	DatabasePath string

	// Matrix is optional. When Homeserver is empty the gateway is disabled
	// and the service only sweeps and serves HTTP.
	Matrix matrix.Config

	// NLPAPIKey enables the language model. Without it every message is
	// recorded as a note (degraded mode).
	NLPAPIKey   string
	NLPEndpoint string
	NLPModel    string
	// NLPTimeout bounds one classification. Defaults to nlp.DefaultTimeout.
	NLPTimeout time.Duration
	// NLPRateLimit is messages per worker per minute. Defaults to
	// nlp.DefaultRateLimit.
	NLPRateLimit int

	// RedisAddr switches the rate limiter to Redis so several replicas share
	// one budget per worker.
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// KafkaBrokers enables event fan-out to KafkaTopic. KafkaPublishTimeout
	// caps the wait on the broker per appended event.
	KafkaBrokers        []string
	KafkaTopic          string
	KafkaPublishTimeout time.Duration

	SessionTTL    time.Duration
	SweepInterval time.Duration

	// CatalogFS and CatalogFile name an optional property seed file applied
	// at startup.
	CatalogFS   fs.FS
	CatalogFile string

	// HTTPAddr enables the health server (e.g. ":8080").
	HTTPAddr string

	Logger *slog.Logger
}

// App is the running service.
type App struct {
	config       *Config
	logger       *slog.Logger
	store        *store.Store
	controller   *session.Controller
	dispatcher   *dispatch.Dispatcher
	sweeper      *sweeper.Sweeper
	matrix       *matrix.Client
	healthServer *HealthServer
	redis        *redis.Client
	publisher    *eventlog.KafkaPublisher
}

// New opens the database and builds every component. Nothing is started.
func New(config *Config) (*App, error) {
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	logger.Info("opening database", "path", config.DatabasePath)
	st, err := store.New(config.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	a := &App{config: config, logger: logger, store: st}
	if err := a.build(); err != nil {
		a.Stop()
		return nil, err
	}
	return a, nil
}

func (a *App) build() error {
	cfg := a.config
	ctx := context.Background()

	// --- property catalog ---------------------------------------------------
	if cfg.CatalogFile != "" && cfg.CatalogFS != nil {
		f, err := catalog.Load(cfg.CatalogFS, cfg.CatalogFile)
		if err != nil {
			return err
		}
		n, err := catalog.Apply(ctx, a.store, f)
		if err != nil {
			return err
		}
		a.logger.Info("property catalog applied", "file", cfg.CatalogFile, "properties", n)
	}

	messages, err := locale.Load()
	if err != nil {
		return err
	}

	// --- event log ----------------------------------------------------------
	var logOpts []eventlog.Option
	if len(cfg.KafkaBrokers) > 0 {
		pub, err := eventlog.NewKafkaPublisher(eventlog.KafkaConfig{
			Brokers:      cfg.KafkaBrokers,
			Topic:        cfg.KafkaTopic,
			WriteTimeout: cfg.KafkaPublishTimeout,
		}, a.logger)
		if err != nil {
			return fmt.Errorf("failed to initialize event publisher: %w", err)
		}
		a.publisher = pub
		logOpts = append(logOpts, eventlog.WithPublisher(pub), eventlog.WithPublishTimeout(cfg.KafkaPublishTimeout))
		a.logger.Info("event fan-out enabled", "brokers", cfg.KafkaBrokers, "topic", cfg.KafkaTopic)
	}
	events := eventlog.New(a.store, a.logger, logOpts...)

	// --- session controller -------------------------------------------------
	a.controller = session.NewController(a.store, events, resolver.New(a.store), session.Config{
		TTL:     cfg.SessionTTL,
		Catalog: messages,
		Logger:  a.logger,
	})

	// --- classifier ---------------------------------------------------------
	var completer nlp.Completer
	if cfg.NLPAPIKey != "" {
		completer = nlp.NewOpenAI(nlp.Config{
			APIKey:  cfg.NLPAPIKey,
			BaseURL: cfg.NLPEndpoint,
			Model:   cfg.NLPModel,
		})
		a.logger.Info("NLP: language model enabled", "model", orDefault(cfg.NLPModel, "gpt-4o-mini"))
	} else {
		a.logger.Warn("NLP: no API key configured; messages are recorded as notes")
	}
	classifier := nlp.NewClassifier(completer, messages, cfg.NLPTimeout, a.logger)

	// --- rate limiter -------------------------------------------------------
	rateLimit := cfg.NLPRateLimit
	if rateLimit <= 0 {
		rateLimit = nlp.DefaultRateLimit
	}
	var limiter nlp.Limiter
	if cfg.RedisAddr != "" {
		a.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		limiter = nlp.NewRedisRateLimiter(a.redis, rateLimit, time.Minute, a.logger)
		a.logger.Info("NLP: shared rate limiter ready", "redis", cfg.RedisAddr, "per_minute", rateLimit)
	} else {
		limiter = nlp.NewRateLimiter(rateLimit, time.Minute)
	}

	a.dispatcher = dispatch.New(classifier, a.controller,
		dispatch.WithLimiter(limiter),
		dispatch.WithCatalog(messages),
		dispatch.WithLogger(a.logger),
	)

	a.sweeper = sweeper.New(a.controller, cfg.SweepInterval, a.logger)

	// --- chat gateway -------------------------------------------------------
	if cfg.Matrix.Homeserver != "" {
		mcfg := cfg.Matrix
		mcfg.DB = a.store.DB()
		mcfg.Logger = a.logger
		mc, err := matrix.New(mcfg, a.dispatcher)
		if err != nil {
			return fmt.Errorf("failed to initialize Matrix client: %w", err)
		}
		a.matrix = mc
	} else {
		a.logger.Warn("Matrix gateway disabled (MATRIX_HOMESERVER not set)")
	}

	if cfg.HTTPAddr != "" {
		a.healthServer = NewHealthServer(cfg.HTTPAddr, a.store)
	}
	return nil
}

// Dispatcher returns the message dispatcher, for transports other than
// Matrix.
func (a *App) Dispatcher() *dispatch.Dispatcher { return a.dispatcher }

// SweepOnce closes expired sessions once.
func (a *App) SweepOnce(ctx context.Context) (int, error) {
	return a.sweeper.SweepOnce(ctx)
}

// Run starts every component and blocks until ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if a.healthServer != nil {
		if err := a.healthServer.Start(ctx); err != nil {
			a.logger.Warn("health server failed to start; continuing without it", "err", err)
		}
	}

	if a.matrix != nil {
		a.logger.Info("starting Matrix sync")
		if err := a.matrix.Start(ctx); err != nil {
			return fmt.Errorf("failed to start Matrix client: %w", err)
		}
	}

	// Catch up on sessions that expired while the service was down.
	if _, err := a.sweeper.SweepOnce(ctx); err != nil {
		a.logger.Warn("initial sweep failed", "err", err)
	}
	go a.sweeper.Run(ctx)

	a.logger.Info("uklid is running")
	<-ctx.Done()
	a.logger.Info("shutting down")
	return nil
}

// Stop releases every resource. Safe to call after a failed New.
func (a *App) Stop() {
	if a.sweeper != nil {
		a.sweeper.Stop()
	}
	if a.matrix != nil {
		a.logger.Info("stopping Matrix client")
		a.matrix.Stop()
	}
	if a.healthServer != nil {
		a.healthServer.Stop()
	}
	var errs []error
	if a.publisher != nil {
		errs = append(errs, a.publisher.Close())
	}
	if a.redis != nil {
		errs = append(errs, a.redis.Close())
	}
	a.logger.Info("closing database")
	errs = append(errs, a.store.Close())
	if err := errors.Join(errs...); err != nil {
		a.logger.Warn("errors during shutdown", "err", err)
	}
}

func orDefault(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}
