package service

import (
	"hash/fnv"
	"sync"

	"github.com/hive-corporation/cticollector/internal/core/domain"
)

const defaultLockShards = 64

// KeyLocker serializes work on the same dedup key. Distinct keys usually land
// on different shards and proceed in parallel.
type KeyLocker struct {
	shards []sync.Mutex
}

func NewKeyLocker(shards int) *KeyLocker {
	if shards <= 0 {
		shards = defaultLockShards
	}
	return &KeyLocker{shards: make([]sync.Mutex, shards)}
}

// Lock blocks until key's shard is held and returns its unlock func.
func (l *KeyLocker) Lock(key domain.Key) func() {
	m := &l.shards[l.shard(key)]
	m.Lock()
	return m.Unlock
}

func (l *KeyLocker) shard(key domain.Key) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key.Type))
	_, _ = h.Write([]byte{'|'})
	_, _ = h.Write([]byte(key.Indicator))
	return int(h.Sum32() % uint32(len(l.shards)))
}
