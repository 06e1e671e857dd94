// Package ledger is the durable, append-mostly store of session records and the
// indices the reward services read: sessions by player and the FIFO queue of
// sessions still awaiting an admin decision.
package ledger

import (
	"context"
	"time"

	"game-reward-ledger/models"
)

const (
	DefaultPageSize = 50
	MaxPageSize     = 500
)

// MutateFunc changes a record in place. Returning an error discards the change.
type MutateFunc func(rec *models.SessionRecord) error

// BatchMutateFunc receives records aligned with the requested ids; a missing
// id yields a nil entry. Returning an error discards every change.
type BatchMutateFunc func(recs []*models.SessionRecord) error

// Store is the SessionLedger. Implementations serialise writes per session id
// and never delete records.
type Store interface {
	Insert(ctx context.Context, rec *models.SessionRecord) error
	Get(ctx context.Context, id models.SessionID) (*models.SessionRecord, error)
	Exists(ctx context.Context, id models.SessionID) (bool, error)
	Mutate(ctx context.Context, id models.SessionID, fn MutateFunc) (*models.SessionRecord, error)
	MutateBatch(ctx context.Context, ids []models.SessionID, fn BatchMutateFunc) ([]*models.SessionRecord, error)

	ListByPlayer(ctx context.Context, player string) ([]*models.SessionRecord, error)
	PendingQueue(ctx context.Context, offset, limit int) ([]models.SessionID, error)
	PendingCount(ctx context.Context) (int, error)
	ListPendingMints(ctx context.Context, limit int) ([]*models.SessionRecord, error)
	// ListUpdatedSince returns records whose UpdatedAt is strictly after since.
	ListUpdatedSince(ctx context.Context, since time.Time) ([]*models.SessionRecord, error)

	RewardConfig(ctx context.Context) (*models.RewardConfig, error)
	SetRewardConfig(ctx context.Context, cfg *models.RewardConfig) error
}

// NormalizePage clamps pagination arguments to sane bounds.
func NormalizePage(offset, limit int) (int, int) {
	if offset < 0 {
		offset = 0
	}
	if limit <= 0 || limit > MaxPageSize {
		limit = DefaultPageSize
	}
	return offset, limit
}
