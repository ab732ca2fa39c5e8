// Package config assembles an objectstore client and backend from options and
// environment variables.
package config

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lmittmann/tint"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/tendant/simple-objectstore/pkg/objectstore"
	"github.com/tendant/simple-objectstore/pkg/objectstore/metrics"
	fsstorage "github.com/tendant/simple-objectstore/pkg/objectstore/storage/fs"
	memorystorage "github.com/tendant/simple-objectstore/pkg/objectstore/storage/memory"
	miniostorage "github.com/tendant/simple-objectstore/pkg/objectstore/storage/minio"
	pgstorage "github.com/tendant/simple-objectstore/pkg/objectstore/storage/postgres"
	remotestorage "github.com/tendant/simple-objectstore/pkg/objectstore/storage/remote"
	s3storage "github.com/tendant/simple-objectstore/pkg/objectstore/storage/s3"
)

// Backend types
const (
	BackendMemory     = "memory"
	BackendFilesystem = "fs"
	BackendS3         = "s3"
	BackendMinio      = "minio"
	BackendPostgres   = "postgres"
	BackendRemote     = "remote"
)

// Option applies configuration to a Config instance.
type Option func(*Config) error

// Load constructs a Config by applying the supplied options on top of library defaults.
func Load(opts ...Option) (*Config, error) {
	cfg := defaults()

	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(&cfg); err != nil {
			return nil, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func defaults() Config {
	return Config{
		Backend:  BackendMemory,
		PageSize: objectstore.DefaultPageSize,
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Server: ServerConfig{
			Port: "8080",
		},
		Postgres: PostgresConfig{
			EnsureSchema: true,
		},
	}
}

// Config represents the configuration of an objectstore client
type Config struct {
	Backend string // memory, fs, s3, minio, postgres, remote

	Filesystem fsstorage.Config
	S3         s3storage.Config
	Minio      miniostorage.Config
	Postgres   PostgresConfig
	Remote     remotestorage.Config

	PageSize int
	Retry    objectstore.RetryPolicy
	Log      LogConfig
	Server   ServerConfig

	// Registerer receives the backend metrics; nil disables instrumentation
	Registerer prometheus.Registerer
}

// PostgresConfig configures the postgres backend
type PostgresConfig struct {
	URL          string
	Schema       string // optional search_path
	EnsureSchema bool   // create tables on startup
}

// LogConfig configures the process logger
type LogConfig struct {
	Level  string // debug, info, warn, error
	Format string // text, json
}

// ServerConfig configures the HTTP emulator
type ServerConfig struct {
	Port       string
	AuthSecret string // HS256 secret; empty disables authentication
}

// Validate validates the configuration
func (c *Config) Validate() error {
	switch c.Backend {
	case BackendMemory, BackendS3:
	case BackendFilesystem:
		if c.Filesystem.BaseDir == "" {
			return errors.New("filesystem base directory is required")
		}
	case BackendMinio:
		if c.Minio.Endpoint == "" {
			return errors.New("minio endpoint is required")
		}
	case BackendPostgres:
		if c.Postgres.URL == "" {
			return errors.New("postgres URL is required")
		}
	case BackendRemote:
		if c.Remote.BaseURL == "" {
			return errors.New("remote base URL is required")
		}
	default:
		return fmt.Errorf("unsupported backend type: %s", c.Backend)
	}

	if c.PageSize <= 0 {
		return fmt.Errorf("page size must be positive, got: %d", c.PageSize)
	}
	if c.Retry.MaxRetries < 0 {
		return fmt.Errorf("max retries cannot be negative, got: %d", c.Retry.MaxRetries)
	}
	if _, err := parseLevel(c.Log.Level); err != nil {
		return err
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		return fmt.Errorf("log format must be 'text' or 'json', got: %s", c.Log.Format)
	}

	return nil
}

// BuildBackend creates the configured backend. The returned release function
// frees connections held by the backend and is never nil.
func (c *Config) BuildBackend(ctx context.Context) (objectstore.Backend, func(), error) {
	backend, release, err := c.buildStorageBackend(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to build %s backend: %w", c.Backend, err)
	}

	if c.Registerer != nil {
		instrumented, err := metrics.Instrument(backend, c.Backend, c.Registerer)
		if err != nil {
			release()
			return nil, nil, fmt.Errorf("failed to register metrics: %w", err)
		}
		return instrumented, release, nil
	}
	return backend, release, nil
}

// BuildClient creates a client over the configured backend
func (c *Config) BuildClient(ctx context.Context, logger *slog.Logger) (*objectstore.Client, func(), error) {
	backend, release, err := c.BuildBackend(ctx)
	if err != nil {
		return nil, nil, err
	}

	client, err := objectstore.New(backend,
		objectstore.WithBackendName(c.Backend),
		objectstore.WithLogger(logger),
		objectstore.WithPageSize(c.PageSize),
		objectstore.WithRetryPolicy(c.Retry),
	)
	if err != nil {
		release()
		return nil, nil, err
	}
	return client, release, nil
}

func noop() {}

// buildStorageBackend creates a Backend based on the configuration
func (c *Config) buildStorageBackend(ctx context.Context) (objectstore.Backend, func(), error) {
	switch c.Backend {
	case BackendMemory:
		return memorystorage.New(), noop, nil

	case BackendFilesystem:
		b, err := fsstorage.New(c.Filesystem)
		if err != nil {
			return nil, nil, err
		}
		return b, noop, nil

	case BackendS3:
		b, err := s3storage.New(c.S3)
		if err != nil {
			return nil, nil, err
		}
		return b, noop, nil

	case BackendMinio:
		b, err := miniostorage.New(c.Minio)
		if err != nil {
			return nil, nil, err
		}
		return b, noop, nil

	case BackendPostgres:
		pool, err := NewPostgresPool(ctx, c.Postgres.URL, c.Postgres.Schema)
		if err != nil {
			return nil, nil, err
		}
		b := pgstorage.NewWithPool(pool)
		if c.Postgres.EnsureSchema {
			if err := b.EnsureSchema(ctx); err != nil {
				pool.Close()
				return nil, nil, err
			}
		}
		return b, pool.Close, nil

	case BackendRemote:
		b, err := remotestorage.New(c.Remote)
		if err != nil {
			return nil, nil, err
		}
		return b, noop, nil

	default:
		return nil, nil, fmt.Errorf("unsupported backend type: %s", c.Backend)
	}
}

// NewPostgresPool connects to Postgres and optionally sets search_path for each session.
func NewPostgresPool(ctx context.Context, databaseURL, schema string) (*pgxpool.Pool, error) {
	if databaseURL == "" {
		return nil, errors.New("database_url is required")
	}
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}
	if schema != "" {
		cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
			_, err := conn.Exec(ctx, fmt.Sprintf("SET search_path TO %s", pgx.Identifier{schema}.Sanitize()))
			return err
		}
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create pgx pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("database ping failed: %w", err)
	}
	return pool, nil
}

// NewLogger builds the process logger: tint for text, slog JSON otherwise.
func (c *Config) NewLogger(w io.Writer) *slog.Logger {
	level, _ := parseLevel(c.Log.Level)
	if c.Log.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level}))
	}
	return slog.New(tint.NewHandler(w, &tint.Options{
		Level:      level,
		TimeFormat: time.Kitchen,
	}))
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if s == "" {
		return slog.LevelInfo, nil
	}
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo, fmt.Errorf("invalid log level %q: %w", s, err)
	}
	return level, nil
}
