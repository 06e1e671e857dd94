package ledger

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"game-reward-ledger/models"
)

// GormStore persists the ledger in postgres. Per-id exclusivity is a row lock
// (SELECT ... FOR UPDATE) held for the length of the transaction. The *gorm.DB
// must be opened with TranslateError so duplicate keys map to
// gorm.ErrDuplicatedKey.
type GormStore struct {
	DB *gorm.DB
}

var _ Store = (*GormStore)(nil)

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{DB: db}
}

// AutoMigrate creates the session and config tables with their indices.
func (s *GormStore) AutoMigrate() error {
	return s.DB.AutoMigrate(&models.SessionRecord{}, &models.RewardConfig{})
}

func (s *GormStore) Insert(ctx context.Context, rec *models.SessionRecord) error {
	if err := prepareInsert(rec); err != nil {
		return err
	}
	rec.Seq = 0
	if err := s.DB.WithContext(ctx).Create(rec).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return NewError("insert", rec.SessionID, ErrDuplicateSession, nil)
		}
		return err
	}
	return nil
}

func (s *GormStore) Get(ctx context.Context, id models.SessionID) (*models.SessionRecord, error) {
	var rec models.SessionRecord
	if err := s.DB.WithContext(ctx).Where("session_id = ?", id).First(&rec).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, NewError("get", id, ErrNotFound, nil)
		}
		return nil, err
	}
	return &rec, nil
}

func (s *GormStore) Exists(ctx context.Context, id models.SessionID) (bool, error) {
	var count int64
	if err := s.DB.WithContext(ctx).Model(&models.SessionRecord{}).
		Where("session_id = ?", id).
		Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

func (s *GormStore) Mutate(ctx context.Context, id models.SessionID, fn MutateFunc) (*models.SessionRecord, error) {
	var out *models.SessionRecord
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var cur models.SessionRecord
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("session_id = ?", id).
			First(&cur).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return NewError("mutate", id, ErrNotFound, nil)
			}
			return err
		}

		next := cur.Clone()
		if err := fn(next); err != nil {
			return err
		}
		sealImmutable(&cur, next)
		if err := checkTransition(&cur, next); err != nil {
			return err
		}
		if err := tx.Save(next).Error; err != nil {
			return err
		}
		out = next
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *GormStore) MutateBatch(ctx context.Context, ids []models.SessionID, fn BatchMutateFunc) ([]*models.SessionRecord, error) {
	if i, dup := hasDuplicates(ids); dup {
		return nil, NewError("mutate batch", ids[i], ErrDuplicateBatchEntry, nil).AtIndex(i)
	}

	out := make([]*models.SessionRecord, len(ids))
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var rows []models.SessionRecord
		// Ordered by key so concurrent batches take row locks in the same order.
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("session_id IN ?", ids).
			Order("session_id ASC").
			Find(&rows).Error; err != nil {
			return err
		}
		byID := make(map[models.SessionID]*models.SessionRecord, len(rows))
		for i := range rows {
			byID[rows[i].SessionID] = &rows[i]
		}

		staged := make([]*models.SessionRecord, len(ids))
		for i, id := range ids {
			if cur, ok := byID[id]; ok {
				staged[i] = cur.Clone()
			}
		}
		if err := fn(staged); err != nil {
			return err
		}

		for i, id := range ids {
			cur, ok := byID[id]
			if !ok || staged[i] == nil {
				continue
			}
			sealImmutable(cur, staged[i])
			if err := checkTransition(cur, staged[i]); err != nil {
				return err
			}
			if err := tx.Save(staged[i]).Error; err != nil {
				return err
			}
			out[i] = staged[i]
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *GormStore) ListByPlayer(ctx context.Context, player string) ([]*models.SessionRecord, error) {
	var recs []*models.SessionRecord
	err := s.DB.WithContext(ctx).
		Where("player = ?", player).
		Order("seq ASC").
		Find(&recs).Error
	return recs, err
}

func (s *GormStore) PendingQueue(ctx context.Context, offset, limit int) ([]models.SessionID, error) {
	offset, limit = NormalizePage(offset, limit)
	var ids []models.SessionID
	err := s.DB.WithContext(ctx).Model(&models.SessionRecord{}).
		Where("verified = ?", models.VerificationPending).
		Order("seq ASC").
		Offset(offset).
		Limit(limit).
		Pluck("session_id", &ids).Error
	return ids, err
}

func (s *GormStore) PendingCount(ctx context.Context) (int, error) {
	var count int64
	err := s.DB.WithContext(ctx).Model(&models.SessionRecord{}).
		Where("verified = ?", models.VerificationPending).
		Count(&count).Error
	return int(count), err
}

func (s *GormStore) ListPendingMints(ctx context.Context, limit int) ([]*models.SessionRecord, error) {
	_, limit = NormalizePage(0, limit)
	var recs []*models.SessionRecord
	err := s.DB.WithContext(ctx).
		Where("mint_status = ?", models.MintPending).
		Order("seq ASC").
		Limit(limit).
		Find(&recs).Error
	return recs, err
}

func (s *GormStore) ListUpdatedSince(ctx context.Context, since time.Time) ([]*models.SessionRecord, error) {
	var recs []*models.SessionRecord
	err := s.DB.WithContext(ctx).
		Where("updated_at > ?", since).
		Order("seq ASC").
		Find(&recs).Error
	return recs, err
}

func (s *GormStore) RewardConfig(ctx context.Context) (*models.RewardConfig, error) {
	var cfg models.RewardConfig
	if err := s.DB.WithContext(ctx).First(&cfg, models.RewardConfigID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRewardConfigMissing
		}
		return nil, err
	}
	return &cfg, nil
}

func (s *GormStore) SetRewardConfig(ctx context.Context, cfg *models.RewardConfig) error {
	stored := *cfg
	stored.ID = models.RewardConfigID
	return s.DB.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(&stored).Error
}
