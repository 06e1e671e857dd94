package ledger

import (
	"hash/fnv"
	"sort"
	"sync"

	"game-reward-ledger/models"
)

const defaultShards = 256

// LockTable serialises work per session id over a fixed set of mutexes.
// Distinct ids usually land on distinct shards and proceed in parallel.
type LockTable struct {
	shards []sync.Mutex
}

func NewLockTable(shards int) *LockTable {
	if shards <= 0 {
		shards = defaultShards
	}
	return &LockTable{shards: make([]sync.Mutex, shards)}
}

func (t *LockTable) shard(id models.SessionID) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(id))
	return int(h.Sum32() % uint32(len(t.shards)))
}

// Lock takes the shard for id and returns its unlock func.
func (t *LockTable) Lock(id models.SessionID) func() {
	m := &t.shards[t.shard(id)]
	m.Lock()
	return m.Unlock
}

// LockAll takes every shard touched by ids in ascending shard order, so two
// overlapping batches can never deadlock.
func (t *LockTable) LockAll(ids []models.SessionID) func() {
	seen := make(map[int]struct{}, len(ids))
	order := make([]int, 0, len(ids))
	for _, id := range ids {
		s := t.shard(id)
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		order = append(order, s)
	}
	sort.Ints(order)
	for _, s := range order {
		t.shards[s].Lock()
	}
	return func() {
		for i := len(order) - 1; i >= 0; i-- {
			t.shards[order[i]].Unlock()
		}
	}
}
