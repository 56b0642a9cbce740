// Package storage implements durable spentbook backends.
package storage

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/ccoin/dbc/internal/spentbook"
	"github.com/ccoin/dbc/internal/zkp"
)

// Common errors
var (
	ErrDBConnection = errors.New("database connection error")
)

const schema = `
CREATE TABLE IF NOT EXISTS spent_key_images (
	key_image   BYTEA PRIMARY KEY,
	tx_hash     BYTEA NOT NULL,
	entry       BYTEA NOT NULL,
	recorded_at BIGINT NOT NULL
)`

// PostgresStore is a spentbook backend on PostgreSQL. Each batch is one SQL
// transaction; the primary key makes a second spend of a key image fail.
type PostgresStore struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

var _ spentbook.Store = (*PostgresStore)(nil)

// Config holds database configuration
type Config struct {
	// URL, when set, is used verbatim and the other fields are ignored.
	URL      string `yaml:"url"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
	SSLMode  string `yaml:"sslMode"`
	MaxConns int32  `yaml:"maxConns"`
}

// DefaultConfig returns default database configuration
func DefaultConfig() *Config {
	return &Config{
		Host:     "localhost",
		Port:     5432,
		User:     "dbc",
		Database: "spentbook",
		SSLMode:  "disable",
		MaxConns: 20,
	}
}

func (c *Config) connString() string {
	if c.URL != "" {
		return c.URL
	}
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s pool_max_conns=%d",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode, c.MaxConns,
	)
}

// NewPostgresStore connects and creates the schema if needed.
func NewPostgresStore(ctx context.Context, cfg *Config, logger *zap.Logger) (*PostgresStore, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	pool, err := pgxpool.New(ctx, cfg.connString())
	if err != nil {
		return nil, errors.Wrap(ErrDBConnection, err.Error())
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, errors.Wrap(ErrDBConnection, err.Error())
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, errors.Wrap(err, "create schema")
	}

	logger.Info("connected postgres spentbook", zap.String("database", cfg.Database))
	return &PostgresStore{pool: pool, logger: logger}, nil
}

// Get implements spentbook.Store
func (s *PostgresStore) Get(ctx context.Context, ki zkp.KeyImage) (*spentbook.Entry, error) {
	var raw []byte
	err := s.pool.QueryRow(ctx,
		`SELECT entry FROM spent_key_images WHERE key_image = $1`, ki[:],
	).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, spentbook.ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "query key image")
	}
	return spentbook.DecodeEntry(ki, raw)
}

// Append implements spentbook.Store
func (s *PostgresStore) Append(ctx context.Context, entries []*spentbook.Entry) error {
	if err := spentbook.CheckBatch(entries); err != nil {
		return err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return errors.Wrap(err, "begin")
	}
	defer tx.Rollback(ctx)

	for _, e := range entries {
		tag, err := tx.Exec(ctx, `
			INSERT INTO spent_key_images (key_image, tx_hash, entry, recorded_at)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (key_image) DO NOTHING`,
			e.KeyImage[:], e.TransactionHash[:], spentbook.EncodeEntry(e), e.RecordedAt,
		)
		if err != nil {
			return errors.Wrap(err, "insert key image")
		}
		if tag.RowsAffected() == 0 {
			return errors.Wrapf(spentbook.ErrAlreadySpent, "key image %s", e.KeyImage.Short())
		}
	}
	return errors.Wrap(tx.Commit(ctx), "commit")
}

// Len implements spentbook.Store
func (s *PostgresStore) Len(ctx context.Context) (int, error) {
	var n int64
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM spent_key_images`).Scan(&n); err != nil {
		return 0, errors.Wrap(err, "count key images")
	}
	return int(n), nil
}

// Close implements spentbook.Store
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
