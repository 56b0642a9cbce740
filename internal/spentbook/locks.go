package spentbook

import (
	"sort"
	"sync"

	"github.com/ccoin/dbc/internal/zkp"
)

// NumShards is the number of lock stripes.
const NumShards = 256

// ShardOf maps a key image to its stripe. The last byte is the low byte of
// the point's y coordinate, which is uniformly distributed.
func ShardOf(ki zkp.KeyImage) int {
	return int(ki[zkp.PointSize-1])
}

// shardSet returns the distinct stripes of kis in ascending order. Taking
// locks in this order keeps concurrent batches deadlock free.
func shardSet(kis []zkp.KeyImage) []int {
	var seen [NumShards]bool
	out := make([]int, 0, len(kis))
	for _, ki := range kis {
		s := ShardOf(ki)
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	sort.Ints(out)
	return out
}

// KeyLocks serializes writers per key image stripe. Unrelated key images
// usually fall in different stripes and proceed in parallel.
type KeyLocks struct {
	mus [NumShards]sync.Mutex
}

// Lock acquires the stripes covering kis and returns the release function.
func (l *KeyLocks) Lock(kis []zkp.KeyImage) func() {
	shards := shardSet(kis)
	for _, s := range shards {
		l.mus[s].Lock()
	}
	return func() {
		for i := len(shards) - 1; i >= 0; i-- {
			l.mus[shards[i]].Unlock()
		}
	}
}
