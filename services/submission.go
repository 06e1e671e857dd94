package services

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/jonboulle/clockwork"

	"game-reward-ledger/ledger"
	"game-reward-ledger/models"
)

// SubmitRequest is a player-reported match outcome.
type SubmitRequest struct {
	Player         string
	FinalRank      uint64
	MaxMass        uint64
	SurvivalTime   uint64
	KillCount      uint64
	SessionEndTime time.Time
	SessionID      models.SessionID
}

// SubmissionGateway validates reported sessions and records them as pending.
type SubmissionGateway struct {
	Store    ledger.Store
	Notifier Notifier
	Clock    clockwork.Clock
}

func NewSubmissionGateway(store ledger.Store, notifier Notifier, clock clockwork.Clock) *SubmissionGateway {
	return &SubmissionGateway{Store: store, Notifier: notifier, Clock: clock}
}

// Submit checks, in order: duplicate id, zero rank, end time in the future.
// Nothing is written unless every check passes.
func (g *SubmissionGateway) Submit(ctx context.Context, req SubmitRequest) (models.SessionID, error) {
	const op = "submit"
	id := req.SessionID
	if id == "" {
		return "", ledger.NewError(op, id, ledger.ErrInvalidSessionID, nil)
	}

	exists, err := g.Store.Exists(ctx, id)
	if err != nil {
		return "", fmt.Errorf("submit %s: %w", id, err)
	}
	if exists {
		return "", ledger.NewError(op, id, ledger.ErrDuplicateSession, nil)
	}
	if req.FinalRank == 0 {
		return "", ledger.NewError(op, id, ledger.ErrInvalidRank, nil)
	}
	now := g.Clock.Now()
	if req.SessionEndTime.After(now) {
		return "", ledger.NewError(op, id, ledger.ErrFutureEndTime,
			fmt.Errorf("ends %s, now %s", req.SessionEndTime.UTC().Format(time.RFC3339), now.UTC().Format(time.RFC3339)))
	}
	if req.Player == "" {
		return "", ledger.NewError(op, id, ledger.ErrInvalidPlayer, nil)
	}

	rec := &models.SessionRecord{
		SessionID:      id,
		Player:         req.Player,
		FinalRank:      req.FinalRank,
		MaxMass:        req.MaxMass,
		SurvivalTime:   req.SurvivalTime,
		KillCount:      req.KillCount,
		SessionEndTime: req.SessionEndTime,
		SubmittedAt:    now,
		Verified:       models.VerificationPending,
		Claimed:        false,
		MintStatus:     models.MintNone,
	}
	if err := g.Store.Insert(ctx, rec); err != nil {
		return "", relabel(op, err)
	}

	log.Printf("📥 [LEDGER] session %s submitted by %s (rank=%d)", id.Short(), req.Player, req.FinalRank)
	g.Notifier.Publish(ctx, sessionSubmittedEvent(rec, now))
	return id, nil
}
