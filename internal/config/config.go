// Package config loads the mint daemon's YAML configuration.
package config

import (
	"os"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v2"

	"github.com/ccoin/dbc/internal/coordinator"
	"github.com/ccoin/dbc/internal/mint"
	"github.com/ccoin/dbc/internal/spentbook"
	"github.com/ccoin/dbc/internal/storage"
	"github.com/ccoin/dbc/internal/transport"
	"github.com/ccoin/dbc/internal/zkp"
)

// Spentbook backends
const (
	BackendMemory   = "memory"
	BackendPebble   = "pebble"
	BackendPostgres = "postgres"
)

// ErrInvalidConfig is returned for configurations that cannot run.
var ErrInvalidConfig = errors.New("invalid configuration")

// Config is the mintd configuration file.
type Config struct {
	Mint        MintConfig        `yaml:"mint"`
	Spentbook   SpentbookConfig   `yaml:"spentbook"`
	P2P         transport.Config  `yaml:"p2p"`
	Coordinator CoordinatorConfig `yaml:"coordinator"`
	Logger      *LogConfig        `yaml:"logger"`
	Metrics     MetricsConfig     `yaml:"metrics"`
}

// MintConfig configures the local mint.
type MintConfig struct {
	// KeyShareFile is written by `mintd keygen`.
	KeyShareFile  string `yaml:"keyShareFile"`
	MinFee        uint64 `yaml:"minFee"`
	GenesisAmount uint64 `yaml:"genesisAmount"`
	// RangeProofScheme is "bit-sigma" or "groth16".
	RangeProofScheme string `yaml:"rangeProofScheme"`
	// CircuitDir holds range.pk and range.vk for groth16.
	CircuitDir string `yaml:"circuitDir"`
}

// SpentbookConfig selects and tunes the spentbook backend.
type SpentbookConfig struct {
	Backend   string         `yaml:"backend"`
	Path      string         `yaml:"path"`
	CacheSize int            `yaml:"cacheSize"`
	Postgres  storage.Config `yaml:"postgres"`
}

// Member is one mint of the quorum.
type Member struct {
	Index int    `yaml:"index"`
	Addr  string `yaml:"addr"`
}

// CoordinatorConfig lists the quorum a client fans requests out to.
type CoordinatorConfig struct {
	Members     []Member      `yaml:"members"`
	MintTimeout time.Duration `yaml:"mintTimeout"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	// ListenAddr serves /metrics; empty disables it.
	ListenAddr string `yaml:"listenAddr"`
}

// WithDefaults returns a copy of c with missing fields set to their default
// values.
func (c Config) WithDefaults() Config {
	cpy := c

	if cpy.Mint.RangeProofScheme == "" {
		cpy.Mint.RangeProofScheme = zkp.SchemeBitSigma.String()
	}

	if cpy.Spentbook.Backend == "" {
		cpy.Spentbook.Backend = BackendPebble
	}
	if cpy.Spentbook.Path == "" {
		cpy.Spentbook.Path = "./data/spentbook"
	}
	if cpy.Spentbook.CacheSize == 0 {
		cpy.Spentbook.CacheSize = spentbook.DefaultConfig().CacheSize
	}
	pgDefaults := storage.DefaultConfig()
	if cpy.Spentbook.Postgres.Host == "" {
		cpy.Spentbook.Postgres.Host = pgDefaults.Host
	}
	if cpy.Spentbook.Postgres.Port == 0 {
		cpy.Spentbook.Postgres.Port = pgDefaults.Port
	}
	if cpy.Spentbook.Postgres.User == "" {
		cpy.Spentbook.Postgres.User = pgDefaults.User
	}
	if cpy.Spentbook.Postgres.Database == "" {
		cpy.Spentbook.Postgres.Database = pgDefaults.Database
	}
	if cpy.Spentbook.Postgres.SSLMode == "" {
		cpy.Spentbook.Postgres.SSLMode = pgDefaults.SSLMode
	}
	if cpy.Spentbook.Postgres.MaxConns == 0 {
		cpy.Spentbook.Postgres.MaxConns = pgDefaults.MaxConns
	}

	p2pDefaults := transport.DefaultConfig()
	if len(cpy.P2P.ListenAddrs) == 0 {
		cpy.P2P.ListenAddrs = p2pDefaults.ListenAddrs
	}
	if cpy.P2P.RequestTimeout == 0 {
		cpy.P2P.RequestTimeout = p2pDefaults.RequestTimeout
	}

	if cpy.Coordinator.MintTimeout == 0 {
		cpy.Coordinator.MintTimeout = coordinator.DefaultConfig().MintTimeout
	}
	return cpy
}

// Validate reports settings the daemon cannot start with.
func (c *Config) Validate() error {
	if _, err := zkp.ParseRangeScheme(c.Mint.RangeProofScheme); err != nil {
		return errors.Wrap(ErrInvalidConfig, err.Error())
	}
	if c.Mint.RangeProofScheme == zkp.SchemeGroth16.String() && c.Mint.CircuitDir == "" {
		return errors.Wrap(ErrInvalidConfig, "groth16 range proofs need mint.circuitDir")
	}
	switch c.Spentbook.Backend {
	case BackendMemory, BackendPebble, BackendPostgres:
	default:
		return errors.Wrapf(ErrInvalidConfig, "unknown spentbook backend %q", c.Spentbook.Backend)
	}
	seen := make(map[int]bool)
	for _, m := range c.Coordinator.Members {
		if seen[m.Index] {
			return errors.Wrapf(ErrInvalidConfig, "duplicate member index %d", m.Index)
		}
		if m.Addr == "" {
			return errors.Wrapf(ErrInvalidConfig, "member %d has no address", m.Index)
		}
		seen[m.Index] = true
	}
	return nil
}

// MintPolicy converts to the mint's own configuration.
func (c *Config) MintPolicy() *mint.Config {
	return &mint.Config{MinFee: c.Mint.MinFee, GenesisAmount: c.Mint.GenesisAmount}
}

// SpentbookPolicy converts to the spentbook cache configuration.
func (c *Config) SpentbookPolicy() *spentbook.Config {
	return &spentbook.Config{CacheSize: c.Spentbook.CacheSize}
}

// CoordinatorPolicy converts to the coordinator configuration.
func (c *Config) CoordinatorPolicy() *coordinator.Config {
	return &coordinator.Config{MintTimeout: c.Coordinator.MintTimeout}
}

// Load reads a YAML config file, fills defaults and validates it.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read config")
	}
	var c Config
	if err := yaml.UnmarshalStrict(raw, &c); err != nil {
		return nil, errors.Wrap(err, "parse config")
	}
	c = c.WithDefaults()
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Save writes c as YAML.
func (c *Config) Save(path string) error {
	raw, err := yaml.Marshal(c)
	if err != nil {
		return errors.Wrap(err, "marshal config")
	}
	return errors.Wrap(os.WriteFile(path, raw, 0o600), "write config")
}
