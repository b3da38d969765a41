package wallet

import (
	"hash/fnv"
	"sync"
)

const shardCount = 64

// KeyedMutex serializes work per key using a fixed set of striped locks. Distinct keys may
// share a stripe; the same key always maps to the same one.
type KeyedMutex struct {
	shards [shardCount]sync.Mutex
}

func (m *KeyedMutex) shard(key string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return &m.shards[h.Sum32()%shardCount]
}

// Lock acquires the stripe for key and returns its unlock func.
func (m *KeyedMutex) Lock(key string) func() {
	mu := m.shard(key)
	mu.Lock()
	return mu.Unlock
}
