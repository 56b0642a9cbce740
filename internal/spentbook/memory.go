package spentbook

import (
	"context"
	"sync"

	"github.com/pkg/errors"

	"github.com/ccoin/dbc/internal/zkp"
)

type memoryShard struct {
	mu      sync.RWMutex
	entries map[zkp.KeyImage]*Entry
}

// MemoryStore keeps entries in sharded maps. There is no global lock: a
// batch locks only the shards its key images fall in.
type MemoryStore struct {
	shards [NumShards]memoryShard
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	s := &MemoryStore{}
	for i := range s.shards {
		s.shards[i].entries = make(map[zkp.KeyImage]*Entry)
	}
	return s
}

// Get implements Store
func (s *MemoryStore) Get(ctx context.Context, ki zkp.KeyImage) (*Entry, error) {
	sh := &s.shards[ShardOf(ki)]
	sh.mu.RLock()
	defer sh.mu.RUnlock()

	e, ok := sh.entries[ki]
	if !ok {
		return nil, ErrNotFound
	}
	return e, nil
}

// Append implements Store
func (s *MemoryStore) Append(ctx context.Context, entries []*Entry) error {
	if err := CheckBatch(entries); err != nil {
		return err
	}
	kis := make([]zkp.KeyImage, len(entries))
	for i, e := range entries {
		kis[i] = e.KeyImage
	}

	shards := shardSet(kis)
	for _, i := range shards {
		s.shards[i].mu.Lock()
	}
	defer func() {
		for i := len(shards) - 1; i >= 0; i-- {
			s.shards[shards[i]].mu.Unlock()
		}
	}()

	if err := ctx.Err(); err != nil {
		return err
	}
	for _, e := range entries {
		if _, ok := s.shards[ShardOf(e.KeyImage)].entries[e.KeyImage]; ok {
			return errors.Wrapf(ErrAlreadySpent, "key image %s", e.KeyImage.Short())
		}
	}
	for _, e := range entries {
		s.shards[ShardOf(e.KeyImage)].entries[e.KeyImage] = e
	}
	return nil
}

// Len implements Store
func (s *MemoryStore) Len(ctx context.Context) (int, error) {
	n := 0
	for i := range s.shards {
		s.shards[i].mu.RLock()
		n += len(s.shards[i].entries)
		s.shards[i].mu.RUnlock()
	}
	return n, nil
}

// Close implements Store
func (s *MemoryStore) Close() error {
	return nil
}
