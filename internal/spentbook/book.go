package spentbook

import (
	"context"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/ccoin/dbc/internal/zkp"
	"github.com/ccoin/dbc/pkg/dbc"
	"github.com/ccoin/dbc/pkg/types"
)

// Config holds configuration for a Book
type Config struct {
	// CacheSize bounds the positive lookup cache. Entries never change once
	// logged, so cached hits never go stale.
	CacheSize int
}

// DefaultConfig returns default configuration
func DefaultConfig() *Config {
	return &Config{CacheSize: 100000}
}

// Book implements Spentbook over any Store.
type Book struct {
	store  Store
	cache  *lru.Cache[zkp.KeyImage, *Entry]
	logger *zap.Logger
	now    func() time.Time
}

var _ Spentbook = (*Book)(nil)

// NewBook wraps store.
func NewBook(store Store, cfg *Config, logger *zap.Logger) (*Book, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	size := cfg.CacheSize
	if size <= 0 {
		size = DefaultConfig().CacheSize
	}
	cache, err := lru.New[zkp.KeyImage, *Entry](size)
	if err != nil {
		return nil, errors.Wrap(err, "create spentbook cache")
	}
	return &Book{store: store, cache: cache, logger: logger, now: time.Now}, nil
}

func (b *Book) lookup(ctx context.Context, ki zkp.KeyImage) (*Entry, error) {
	if e, ok := b.cache.Get(ki); ok {
		return e, nil
	}
	e, err := b.store.Get(ctx, ki)
	if err != nil {
		return nil, err
	}
	b.cache.Add(ki, e)
	return e, nil
}

// IsSpent implements Spentbook
func (b *Book) IsSpent(ctx context.Context, ki zkp.KeyImage) (bool, error) {
	_, err := b.lookup(ctx, ki)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, ErrNotFound):
		return false, nil
	default:
		return false, errors.Wrap(err, "spentbook lookup")
	}
}

// LogSpent implements Spentbook
func (b *Book) LogSpent(ctx context.Context, ki zkp.KeyImage, proof *dbc.SpentProof, txRef types.Hash) error {
	return b.LogSpentBatch(ctx, []*Entry{{KeyImage: ki, TransactionHash: txRef, Proof: proof}})
}

// LogSpentBatch implements Spentbook
func (b *Book) LogSpentBatch(ctx context.Context, entries []*Entry) error {
	now := b.now().UnixNano()
	entries = copyEntries(entries)
	for _, e := range entries {
		if e != nil && e.RecordedAt == 0 {
			e.RecordedAt = now
		}
	}

	if err := b.store.Append(ctx, entries); err != nil {
		if errors.Is(err, ErrAlreadySpent) {
			b.logger.Debug("rejected spend of logged key image", zap.Error(err))
		}
		return err
	}
	for _, e := range entries {
		b.cache.Add(e.KeyImage, e)
	}
	b.logger.Debug("logged spent key images", zap.Int("count", len(entries)))
	return nil
}

// copyEntries detaches entries from the caller, who may reuse them.
func copyEntries(entries []*Entry) []*Entry {
	out := make([]*Entry, len(entries))
	for i, e := range entries {
		if e == nil {
			continue
		}
		cpy := *e
		if e.Proof != nil {
			proof := *e.Proof
			cpy.Proof = &proof
		}
		out[i] = &cpy
	}
	return out
}

// ProofOfSpend implements Spentbook
func (b *Book) ProofOfSpend(ctx context.Context, ki zkp.KeyImage) (*dbc.SpentProof, types.Hash, error) {
	e, err := b.lookup(ctx, ki)
	switch {
	case err == nil:
		return e.Proof, e.TransactionHash, nil
	case errors.Is(err, ErrNotFound):
		return nil, types.EmptyHash, nil
	default:
		return nil, types.EmptyHash, errors.Wrap(err, "spentbook lookup")
	}
}

// Len returns the number of logged key images.
func (b *Book) Len(ctx context.Context) (int, error) {
	return b.store.Len(ctx)
}

// Close implements Spentbook
func (b *Book) Close() error {
	return b.store.Close()
}
