package ledger

import (
	"container/list"
	"context"
	"sort"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"game-reward-ledger/models"
)

// MemoryStore keeps the ledger in process. Per-id exclusivity comes from a
// LockTable; mu only guards the maps during the short read and commit steps.
type MemoryStore struct {
	clock clockwork.Clock
	locks *LockTable

	mu           sync.RWMutex
	seq          uint64
	records      map[models.SessionID]*models.SessionRecord
	byPlayer     map[string][]models.SessionID
	pending      *list.List
	pendingIndex map[models.SessionID]*list.Element
	mintPending  map[models.SessionID]struct{}
	config       *models.RewardConfig
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore(clock clockwork.Clock) *MemoryStore {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &MemoryStore{
		clock:        clock,
		locks:        NewLockTable(defaultShards),
		records:      make(map[models.SessionID]*models.SessionRecord),
		byPlayer:     make(map[string][]models.SessionID),
		pending:      list.New(),
		pendingIndex: make(map[models.SessionID]*list.Element),
		mintPending:  make(map[models.SessionID]struct{}),
	}
}

func (s *MemoryStore) Insert(_ context.Context, rec *models.SessionRecord) error {
	if err := prepareInsert(rec); err != nil {
		return err
	}
	unlock := s.locks.Lock(rec.SessionID)
	defer unlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[rec.SessionID]; ok {
		return NewError("insert", rec.SessionID, ErrDuplicateSession, nil)
	}
	s.seq++
	stored := rec.Clone()
	stored.Seq = s.seq
	stored.UpdatedAt = s.clock.Now()
	s.records[stored.SessionID] = stored
	s.byPlayer[stored.Player] = append(s.byPlayer[stored.Player], stored.SessionID)
	if stored.IsPending() {
		s.pendingIndex[stored.SessionID] = s.pending.PushBack(stored.SessionID)
	}
	rec.Seq = stored.Seq
	rec.UpdatedAt = stored.UpdatedAt
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id models.SessionID) (*models.SessionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[id]
	if !ok {
		return nil, NewError("get", id, ErrNotFound, nil)
	}
	return rec.Clone(), nil
}

func (s *MemoryStore) Exists(_ context.Context, id models.SessionID) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.records[id]
	return ok, nil
}

func (s *MemoryStore) Mutate(_ context.Context, id models.SessionID, fn MutateFunc) (*models.SessionRecord, error) {
	unlock := s.locks.Lock(id)
	defer unlock()

	s.mu.RLock()
	cur, ok := s.records[id]
	s.mu.RUnlock()
	if !ok {
		return nil, NewError("mutate", id, ErrNotFound, nil)
	}

	next := cur.Clone()
	if err := fn(next); err != nil {
		return nil, err
	}
	sealImmutable(cur, next)
	if err := checkTransition(cur, next); err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.commitLocked(cur, next)
	s.mu.Unlock()
	return next.Clone(), nil
}

func (s *MemoryStore) MutateBatch(_ context.Context, ids []models.SessionID, fn BatchMutateFunc) ([]*models.SessionRecord, error) {
	if i, dup := hasDuplicates(ids); dup {
		return nil, NewError("mutate batch", ids[i], ErrDuplicateBatchEntry, nil).AtIndex(i)
	}
	unlock := s.locks.LockAll(ids)
	defer unlock()

	current := make([]*models.SessionRecord, len(ids))
	staged := make([]*models.SessionRecord, len(ids))
	s.mu.RLock()
	for i, id := range ids {
		if rec, ok := s.records[id]; ok {
			current[i] = rec
			staged[i] = rec.Clone()
		}
	}
	s.mu.RUnlock()

	if err := fn(staged); err != nil {
		return nil, err
	}
	for i := range staged {
		if current[i] == nil || staged[i] == nil {
			continue
		}
		sealImmutable(current[i], staged[i])
		if err := checkTransition(current[i], staged[i]); err != nil {
			return nil, err
		}
	}

	s.mu.Lock()
	out := make([]*models.SessionRecord, len(ids))
	for i := range staged {
		if current[i] == nil || staged[i] == nil {
			continue
		}
		s.commitLocked(current[i], staged[i])
		out[i] = staged[i].Clone()
	}
	s.mu.Unlock()
	return out, nil
}

// commitLocked swaps in next and keeps the indices in step. Caller holds mu.
func (s *MemoryStore) commitLocked(cur, next *models.SessionRecord) {
	next.UpdatedAt = s.clock.Now()
	s.records[next.SessionID] = next

	if cur.IsPending() && !next.IsPending() {
		if el, ok := s.pendingIndex[next.SessionID]; ok {
			s.pending.Remove(el)
			delete(s.pendingIndex, next.SessionID)
		}
	}
	if next.MintStatus == models.MintPending {
		s.mintPending[next.SessionID] = struct{}{}
	} else {
		delete(s.mintPending, next.SessionID)
	}
}

func (s *MemoryStore) ListByPlayer(_ context.Context, player string) ([]*models.SessionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := s.byPlayer[player]
	out := make([]*models.SessionRecord, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.records[id].Clone())
	}
	return out, nil
}

func (s *MemoryStore) PendingQueue(_ context.Context, offset, limit int) ([]models.SessionID, error) {
	offset, limit = NormalizePage(offset, limit)
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.SessionID, 0, limit)
	i := 0
	for el := s.pending.Front(); el != nil && len(out) < limit; el = el.Next() {
		if i >= offset {
			out = append(out, el.Value.(models.SessionID))
		}
		i++
	}
	return out, nil
}

func (s *MemoryStore) PendingCount(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pending.Len(), nil
}

func (s *MemoryStore) ListPendingMints(_ context.Context, limit int) ([]*models.SessionRecord, error) {
	_, limit = NormalizePage(0, limit)
	s.mu.RLock()
	out := make([]*models.SessionRecord, 0, len(s.mintPending))
	for id := range s.mintPending {
		out = append(out, s.records[id].Clone())
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) ListUpdatedSince(_ context.Context, since time.Time) ([]*models.SessionRecord, error) {
	s.mu.RLock()
	out := make([]*models.SessionRecord, 0)
	for _, rec := range s.records {
		if rec.UpdatedAt.After(since) {
			out = append(out, rec.Clone())
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out, nil
}

func (s *MemoryStore) RewardConfig(_ context.Context) (*models.RewardConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.config == nil {
		return nil, ErrRewardConfigMissing
	}
	cfg := *s.config
	return &cfg, nil
}

func (s *MemoryStore) SetRewardConfig(_ context.Context, cfg *models.RewardConfig) error {
	stored := *cfg
	stored.ID = models.RewardConfigID
	if stored.UpdatedAt.IsZero() {
		stored.UpdatedAt = s.clock.Now()
	}
	s.mu.Lock()
	s.config = &stored
	s.mu.Unlock()
	return nil
}
