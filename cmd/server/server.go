package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/filevault-gateway/internal/audit"
	"github.com/filevault-gateway/internal/auth"
	"github.com/filevault-gateway/internal/cache"
	"github.com/filevault-gateway/internal/config"
	"github.com/filevault-gateway/internal/files"
	"github.com/filevault-gateway/internal/mail"
	"github.com/filevault-gateway/internal/middleware"
	"github.com/filevault-gateway/internal/reset"
	"github.com/filevault-gateway/internal/share"
	"github.com/filevault-gateway/internal/storage"
)

// Internal documents, all under files.ReservedPrefix.
const (
	usersKey       = files.ReservedPrefix + "users.json"
	resetTokensKey = files.ReservedPrefix + "reset_tokens.json"
	sharesPrefix   = files.ReservedPrefix + "shares/"
)

// sessionStore revokes session tokens on logout.
type sessionStore interface {
	middleware.Denylist
	Revoke(ctx context.Context, jti string, ttl time.Duration) error
}

type server struct {
	cfg      *config.Config
	logger   logrus.FieldLogger
	creds    *auth.CredentialStore
	tokens   *auth.TokenIssuer
	resets   *reset.Ledger
	shares   *share.Service
	files    *files.Index
	audit    audit.Recorder
	sessions sessionStore
}

// dependencies are the external collaborators of a server.
type dependencies struct {
	store    storage.Store
	owners   files.OwnerIndex
	sessions sessionStore
	audit    audit.Recorder
	mailer   mail.Mailer
}

func newServer(ctx context.Context, cfg *config.Config, logger *logrus.Logger) (*server, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	store, err := newStore(ctx, cfg, logger)
	if err != nil {
		return nil, nil, err
	}

	deps := dependencies{
		store:  store,
		mailer: mail.NewLogMailer(logger),
	}

	switch cfg.Cache.Type {
	case "redis":
		rdb := redis.NewClient(&redis.Options{
			Addr:        cfg.Cache.Redis.Address,
			Password:    cfg.Cache.Redis.Password,
			DB:          cfg.Cache.Redis.DB,
			DialTimeout: cfg.Cache.Redis.Timeout,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			rdb.Close()
			return nil, nil, fmt.Errorf("failed to connect to Redis: %w", err)
		}
		closers = append(closers, func() { rdb.Close() })
		logger.Info("Connected to Redis")

		deps.owners = cache.NewRedisOwnerIndex(rdb, cfg.Cache.Prefix)
		deps.sessions = cache.NewRedisDenylist(rdb, cfg.Cache.Prefix)
	default:
		deps.owners = cache.NewMemoryOwnerIndex()
		deps.sessions = cache.NewMemoryDenylist()
	}

	switch cfg.Database.Type {
	case "sqlite":
		if dir := filepath.Dir(cfg.Database.SQLite.Path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("create audit directory: %w", err)
			}
		}
		fallthrough
	case "postgres":
		driver := audit.DriverSQLite
		if cfg.Database.Type == "postgres" {
			driver = audit.DriverPostgres
		}
		rec, err := audit.Open(ctx, driver, cfg.GetDSN(), logger)
		if err != nil {
			cleanup()
			return nil, nil, err
		}
		closers = append(closers, func() { rec.Close() })
		logger.WithField("driver", driver).Info("Audit trail initialized")
		deps.audit = rec
	default:
		deps.audit = audit.Noop{}
	}

	return assemble(cfg, logger, deps), cleanup, nil
}

// assemble wires the core services onto already constructed dependencies.
func assemble(cfg *config.Config, logger logrus.FieldLogger, deps dependencies) *server {
	creds := auth.NewCredentialStore(deps.store, usersKey, cfg.Auth.BcryptCost, logger)

	return &server{
		cfg:    cfg,
		logger: logger,
		creds:  creds,
		tokens: auth.NewTokenIssuer(cfg.Auth.JWTSecret, cfg.Auth.TokenExpiry),
		resets: reset.NewLedger(deps.store, creds, deps.mailer, reset.Config{
			DocumentKey: resetTokensKey,
			PublicURL:   cfg.Server.PublicURL,
			TTL:         cfg.Auth.ResetTTL,
		}, logger),
		shares: share.NewService(deps.store, sharesPrefix, cfg.Share.DefaultHours, cfg.Share.MaxHours, logger),
		files: files.NewIndex(deps.store, deps.owners, files.Policy{
			AllowedExtensions: cfg.Upload.AllowedExtensions,
			MaxSizeBytes:      cfg.Upload.MaxSizeBytes,
		}, logger),
		audit:    deps.audit,
		sessions: deps.sessions,
	}
}

// newStore opens the configured blob store and checks that it is reachable.
func newStore(ctx context.Context, cfg *config.Config, logger *logrus.Logger) (storage.Store, error) {
	switch cfg.Storage.Type {
	case "s3":
		s3cfg := cfg.Storage.S3
		store, err := storage.NewS3Store(ctx, storage.S3Config{
			Region:       s3cfg.Region,
			Bucket:       s3cfg.Bucket,
			Endpoint:     s3cfg.Endpoint,
			AccessKey:    s3cfg.AccessKey,
			SecretKey:    s3cfg.SecretKey,
			UsePathStyle: s3cfg.UsePathStyle,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create S3 client: %w", err)
		}
		if err := store.Ping(ctx); err != nil {
			return nil, fmt.Errorf("failed to reach S3 bucket %s: %w", s3cfg.Bucket, err)
		}
		logger.WithField("bucket", s3cfg.Bucket).Info("Connected to S3")
		return store, nil

	case "memory":
		logger.Warn("Using in-memory storage: all data is lost on exit")
		return storage.NewMemoryStore(), nil

	default:
		m := cfg.Storage.MinIO
		store, err := storage.NewMinIOStore(storage.MinIOConfig{
			Endpoint:   m.Endpoint,
			AccessKey:  m.AccessKey,
			SecretKey:  m.SecretKey,
			UseSSL:     m.UseSSL,
			BucketName: m.BucketName,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create storage service: %w", err)
		}
		if err := store.EnsureBucket(ctx); err != nil {
			return nil, fmt.Errorf("failed to prepare bucket %s: %w", m.BucketName, err)
		}
		logger.WithField("bucket", m.BucketName).Info("Storage service initialized")
		return store, nil
	}
}
