// Package store persists usage logs, token buckets and model descriptors.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"paig-gateway/internal/logger"
)

var (
	// ErrNotFound indicates the requested record does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrAlreadyFinalized indicates a usage log was already marked completed.
	ErrAlreadyFinalized = errors.New("usage log already finalized")
)

// Config describes the database connection.
type Config struct {
	DSN          string `yaml:"dsn" validate:"required"`
	LogLevel     string `yaml:"log_level" validate:"omitempty,oneof=silent error warn info"`
	MaxOpenConns int    `yaml:"max_open_conns" validate:"gte=0"`
}

// ApplyDefaults fills unset fields.
func (c *Config) ApplyDefaults() {
	if c.LogLevel == "" {
		c.LogLevel = "warn"
	}
	if c.MaxOpenConns <= 0 {
		c.MaxOpenConns = 1
	}
}

// Store is the gorm-backed persistence layer. No multi-row transaction is
// used on the request path; every write is a single statement.
type Store struct {
	db  *gorm.DB
	log zerolog.Logger
	now func() time.Time
}

// Option customises a Store.
type Option func(*Store)

// WithClock overrides the time source used for CreatedAt/UpdatedAt defaults.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// Open connects to SQLite at cfg.DSN.
func Open(cfg Config, log zerolog.Logger, opts ...Option) (*Store, error) {
	cfg.ApplyDefaults()

	db, err := gorm.Open(sqlite.Open(cfg.DSN), &gorm.Config{
		Logger:  newGormLogger(log, parseLogLevel(cfg.LogLevel), 200*time.Millisecond),
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("get underlying sql.DB: %w", err)
	}
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)

	return New(db, log, opts...), nil
}

// New wraps an existing gorm handle.
func New(db *gorm.DB, log zerolog.Logger, opts ...Option) *Store {
	s := &Store{
		db:  db,
		log: logger.Component(log, "store"),
		now: func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Migrate creates or updates the three tables.
func (s *Store) Migrate(ctx context.Context) error {
	if err := s.db.WithContext(ctx).AutoMigrate(&usageLogRecord{}, &tokenBucketRecord{}, &aiModelRecord{}); err != nil {
		return fmt.Errorf("auto-migrate: %w", err)
	}
	return nil
}

// Close releases the connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Ping verifies the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}
