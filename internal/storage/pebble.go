package storage

import (
	"context"

	"github.com/cockroachdb/pebble"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/ccoin/dbc/internal/spentbook"
	"github.com/ccoin/dbc/internal/zkp"
)

// Key layout: prefix byte followed by the compressed key image.
const pebbleSpentPrefix byte = 0x01

// PebbleStore is an embedded durable spentbook backend. Writers lock the
// stripes of their key images, check, and commit one synced batch.
type PebbleStore struct {
	db     *pebble.DB
	locks  spentbook.KeyLocks
	logger *zap.Logger
}

var _ spentbook.Store = (*PebbleStore)(nil)

// NewPebbleStore opens or creates a database at path.
func NewPebbleStore(path string, logger *zap.Logger) (*PebbleStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, errors.Wrapf(err, "open pebble at %s", path)
	}
	logger.Info("opened pebble spentbook", zap.String("path", path))
	return &PebbleStore{db: db, logger: logger}, nil
}

func spentKey(ki zkp.KeyImage) []byte {
	key := make([]byte, 1+len(ki))
	key[0] = pebbleSpentPrefix
	copy(key[1:], ki[:])
	return key
}

// Get implements spentbook.Store
func (p *PebbleStore) Get(ctx context.Context, ki zkp.KeyImage) (*spentbook.Entry, error) {
	val, closer, err := p.db.Get(spentKey(ki))
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return nil, spentbook.ErrNotFound
		}
		return nil, errors.Wrap(err, "get")
	}
	defer closer.Close()

	return spentbook.DecodeEntry(ki, val)
}

func (p *PebbleStore) has(ki zkp.KeyImage) (bool, error) {
	_, closer, err := p.db.Get(spentKey(ki))
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return false, nil
		}
		return false, errors.Wrap(err, "get")
	}
	closer.Close()
	return true, nil
}

// Append implements spentbook.Store
func (p *PebbleStore) Append(ctx context.Context, entries []*spentbook.Entry) error {
	if err := spentbook.CheckBatch(entries); err != nil {
		return err
	}
	kis := make([]zkp.KeyImage, len(entries))
	for i, e := range entries {
		kis[i] = e.KeyImage
	}

	unlock := p.locks.Lock(kis)
	defer unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	for _, ki := range kis {
		spent, err := p.has(ki)
		if err != nil {
			return err
		}
		if spent {
			return errors.Wrapf(spentbook.ErrAlreadySpent, "key image %s", ki.Short())
		}
	}

	batch := p.db.NewBatch()
	defer batch.Close()
	for _, e := range entries {
		if err := batch.Set(spentKey(e.KeyImage), spentbook.EncodeEntry(e), nil); err != nil {
			return errors.Wrap(err, "batch set")
		}
	}
	if err := batch.Commit(&pebble.WriteOptions{Sync: true}); err != nil {
		return errors.Wrap(err, "commit")
	}
	return nil
}

// Len implements spentbook.Store
func (p *PebbleStore) Len(ctx context.Context) (int, error) {
	iter, err := p.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte{pebbleSpentPrefix},
		UpperBound: []byte{pebbleSpentPrefix + 1},
	})
	if err != nil {
		return 0, errors.Wrap(err, "new iter")
	}
	defer iter.Close()

	n := 0
	for iter.First(); iter.Valid(); iter.Next() {
		n++
	}
	return n, nil
}

// Close implements spentbook.Store
func (p *PebbleStore) Close() error {
	return errors.Wrap(p.db.Close(), "close pebble")
}
