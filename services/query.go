package services

import (
	"context"

	"game-reward-ledger/ledger"
	"game-reward-ledger/models"
)

// SessionStats summarises one player's sessions.
type SessionStats struct {
	Submitted int `json:"submitted_count"`
	Approved  int `json:"approved_count"`
	Claimed   int `json:"claimed_count"`
	Claimable int `json:"claimable_count"`
}

// PendingPage is one oldest-first slice of the verification queue.
type PendingPage struct {
	SessionIDs []models.SessionID `json:"session_ids"`
	Offset     int                `json:"offset"`
	Limit      int                `json:"limit"`
	Total      int                `json:"total"`
}

// QueryService exposes read-only views of the ledger.
type QueryService struct {
	Store ledger.Store
}

func NewQueryService(store ledger.Store) *QueryService {
	return &QueryService{Store: store}
}

func (q *QueryService) GetSession(ctx context.Context, id models.SessionID) (*models.SessionRecord, error) {
	rec, err := q.Store.Get(ctx, id)
	if err != nil {
		return nil, relabel("get session", err)
	}
	return rec, nil
}

// GetSubmittedSessions returns every id the player ever submitted, in
// submission order.
func (q *QueryService) GetSubmittedSessions(ctx context.Context, player string) ([]models.SessionID, error) {
	recs, err := q.Store.ListByPlayer(ctx, player)
	if err != nil {
		return nil, err
	}
	ids := make([]models.SessionID, 0, len(recs))
	for _, r := range recs {
		ids = append(ids, r.SessionID)
	}
	return ids, nil
}

func (q *QueryService) GetClaimableSessions(ctx context.Context, player string) ([]models.SessionID, error) {
	recs, err := q.Store.ListByPlayer(ctx, player)
	if err != nil {
		return nil, err
	}
	ids := make([]models.SessionID, 0)
	for _, r := range recs {
		if r.IsClaimable() {
			ids = append(ids, r.SessionID)
		}
	}
	return ids, nil
}

func (q *QueryService) GetSessionStats(ctx context.Context, player string) (SessionStats, error) {
	recs, err := q.Store.ListByPlayer(ctx, player)
	if err != nil {
		return SessionStats{}, err
	}
	stats := SessionStats{Submitted: len(recs)}
	for _, r := range recs {
		if r.Verified == models.VerificationApproved {
			stats.Approved++
		}
		if r.Claimed {
			stats.Claimed++
		}
		if r.IsClaimable() {
			stats.Claimable++
		}
	}
	return stats, nil
}

func (q *QueryService) GetPendingQueue(ctx context.Context, offset, limit int) (PendingPage, error) {
	offset, limit = ledger.NormalizePage(offset, limit)
	ids, err := q.Store.PendingQueue(ctx, offset, limit)
	if err != nil {
		return PendingPage{}, err
	}
	total, err := q.Store.PendingCount(ctx)
	if err != nil {
		return PendingPage{}, err
	}
	if ids == nil {
		ids = []models.SessionID{}
	}
	return PendingPage{SessionIDs: ids, Offset: offset, Limit: limit, Total: total}, nil
}
