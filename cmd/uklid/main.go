package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/bdobrica/uklid/common/environment"
	"github.com/bdobrica/uklid/common/version"
	"github.com/bdobrica/uklid/internal/uklid/app"
	"github.com/bdobrica/uklid/internal/uklid/eventlog"
	"github.com/bdobrica/uklid/internal/uklid/matrix"
	"github.com/bdobrica/uklid/internal/uklid/observability"
	"github.com/bdobrica/uklid/internal/uklid/session"
	"github.com/bdobrica/uklid/internal/uklid/sweeper"
)

func main() {
	sweepOnce := flag.Bool("sweep-once", false, "close expired sessions once and exit")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println("uklid " + version.Info())
		return
	}

	logger := observability.Setup(
		environment.StringOr("LOG_LEVEL", "info"),
		environment.StringOr("LOG_FORMAT", "text"),
	)
	logger.Info("uklid starting", "version", version.Info())

	config, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	config.Logger = logger

	if *sweepOnce {
		// The gateway is not needed to close sessions.
		config.Matrix = matrix.Config{}
		config.HTTPAddr = ""
	}

	uklid, err := app.New(config)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize uklid: %v\n", err)
		os.Exit(1)
	}
	defer uklid.Stop()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *sweepOnce {
		n, err := uklid.SweepOnce(ctx)
		if err != nil {
			logger.Error("sweep failed", "err", err)
			uklid.Stop()
			os.Exit(1)
		}
		logger.Info("sweep finished", "closed", n)
		return
	}

	if err := uklid.Run(ctx); err != nil {
		logger.Error("uklid stopped with error", "err", err)
		uklid.Stop()
		os.Exit(1)
	}
}

// loadConfig reads the configuration from environment variables.
func loadConfig() (*app.Config, error) {
	rooms, err := environment.StringMap("MATRIX_ROOM_TENANTS")
	if err != nil {
		return nil, err
	}

	cfg := &app.Config{
		DatabasePath: environment.StringOr("DATABASE_PATH", "./uklid.db"),
		Matrix: matrix.Config{
			Homeserver:  environment.StringOr("MATRIX_HOMESERVER", ""),
			UserID:      environment.StringOr("MATRIX_USER_ID", ""),
			AccessToken: environment.StringOr("MATRIX_ACCESS_TOKEN", ""),
			RoomTenants: rooms,
		},
		NLPAPIKey:           environment.StringOr("UKLID_NLP_API_KEY", ""),
		NLPEndpoint:         environment.StringOr("NLP_ENDPOINT", ""),
		NLPModel:            environment.StringOr("NLP_MODEL", ""),
		NLPTimeout:          environment.DurationOr("NLP_TIMEOUT", 0),
		NLPRateLimit:        environment.IntOr("NLP_RATE_LIMIT", 0),
		RedisAddr:           environment.StringOr("REDIS_ADDR", ""),
		RedisPassword:       environment.StringOr("REDIS_PASSWORD", ""),
		RedisDB:             environment.IntOr("REDIS_DB", 0),
		KafkaBrokers:        environment.StringSliceOr("KAFKA_BROKERS", nil),
		KafkaTopic:          environment.StringOr("KAFKA_EVENTS_TOPIC", "uklid.events"),
		KafkaPublishTimeout: environment.DurationOr("KAFKA_PUBLISH_TIMEOUT", eventlog.DefaultPublishTimeout),
		SessionTTL:          environment.DurationOr("SESSION_TTL", session.DefaultTTL),
		SweepInterval:       environment.DurationOr("SWEEP_INTERVAL", sweeper.DefaultInterval),
		HTTPAddr:            environment.StringOr("HTTP_ADDR", ""),
	}

	if path := environment.StringOr("CATALOG_FILE", ""); path != "" {
		cfg.CatalogFS = os.DirFS(filepath.Dir(path))
		cfg.CatalogFile = filepath.Base(path)
	}

	if cfg.Matrix.Homeserver != "" {
		if _, err := environment.RequiredString("MATRIX_USER_ID"); err != nil {
			return nil, err
		}
		if _, err := environment.RequiredString("MATRIX_ACCESS_TOKEN"); err != nil {
			return nil, err
		}
		if len(rooms) == 0 {
			return nil, fmt.Errorf("MATRIX_ROOM_TENANTS is required when MATRIX_HOMESERVER is set")
		}
	}
	return cfg, nil
}
