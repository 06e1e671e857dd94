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

// Decision is one entry of a batch verification.
type Decision struct {
	SessionID models.SessionID `json:"session_id"`
	Approve   bool             `json:"approve"`
}

// VerificationAuthority records admin decisions. A decision is terminal; on
// approval the reward is computed once and frozen on the record.
type VerificationAuthority struct {
	Store    ledger.Store
	Access   AccessControl
	Notifier Notifier
	Clock    clockwork.Clock
}

func NewVerificationAuthority(store ledger.Store, access AccessControl, notifier Notifier, clock clockwork.Clock) *VerificationAuthority {
	return &VerificationAuthority{Store: store, Access: access, Notifier: notifier, Clock: clock}
}

func (v *VerificationAuthority) currentConfig(ctx context.Context, op string, id models.SessionID) (*models.RewardConfig, error) {
	cfg, err := v.Store.RewardConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s %s: load reward config: %w", op, id, err)
	}
	return cfg, nil
}

func applyDecision(rec *models.SessionRecord, admin string, approve bool, cfg *models.RewardConfig, now time.Time) {
	if approve {
		rec.RewardAmount = CalculateReward(rec, cfg)
		rec.Verified = models.VerificationApproved
	} else {
		rec.Verified = models.VerificationRejected
	}
	rec.VerifiedBy = admin
	rec.VerifiedAt = &now
}

// Authorize reports whether admin may record decisions.
func (v *VerificationAuthority) Authorize(ctx context.Context, admin string) error {
	return authorize(ctx, v.Access, "verify", "", admin, CapabilityVerifier)
}

// Verify approves or rejects one pending session. The reward config is read
// inside the per-session critical section, after the record checks.
func (v *VerificationAuthority) Verify(ctx context.Context, admin string, id models.SessionID, approve bool) (*models.SessionRecord, error) {
	const op = "verify"
	if err := authorize(ctx, v.Access, op, id, admin, CapabilityVerifier); err != nil {
		return nil, err
	}

	now := v.Clock.Now()
	rec, err := v.Store.Mutate(ctx, id, func(rec *models.SessionRecord) error {
		if !rec.IsPending() {
			return ledger.NewError(op, id, ledger.ErrAlreadyDecided, fmt.Errorf("already %s", rec.Verified))
		}
		var cfg *models.RewardConfig
		if approve {
			var err error
			if cfg, err = v.currentConfig(ctx, op, id); err != nil {
				return err
			}
		}
		applyDecision(rec, admin, approve, cfg, now)
		return nil
	})
	if err != nil {
		return nil, relabel(op, err)
	}

	log.Printf("🧑‍⚖️ [LEDGER] session %s %s by %s (reward=%d)", id.Short(), rec.Verified, admin, rec.RewardAmount)
	v.Notifier.Publish(ctx, sessionVerifiedEvent(id, admin, approve, now))
	return rec, nil
}

// VerifyBatch applies every decision or none. The caller is authorized first;
// then all entries are validated (present, pending, not repeated) before any
// record changes. The first failing entry is reported with its index.
func (v *VerificationAuthority) VerifyBatch(ctx context.Context, admin string, decisions []Decision) ([]*models.SessionRecord, error) {
	const op = "verify batch"
	if err := authorize(ctx, v.Access, op, "", admin, CapabilityVerifier); err != nil {
		return nil, err
	}
	if len(decisions) == 0 {
		return nil, ledger.NewError(op, "", ledger.ErrEmptyBatch, nil)
	}

	ids := make([]models.SessionID, len(decisions))
	seen := make(map[models.SessionID]int, len(decisions))
	approveAny := false
	for i, d := range decisions {
		if first, ok := seen[d.SessionID]; ok {
			return nil, ledger.NewError(op, d.SessionID, ledger.ErrDuplicateBatchEntry,
				fmt.Errorf("also at entry %d", first)).AtIndex(i)
		}
		seen[d.SessionID] = i
		ids[i] = d.SessionID
		approveAny = approveAny || d.Approve
	}

	now := v.Clock.Now()
	recs, err := v.Store.MutateBatch(ctx, ids, func(recs []*models.SessionRecord) error {
		for i, rec := range recs {
			if rec == nil {
				return ledger.NewError(op, ids[i], ledger.ErrNotFound, nil).AtIndex(i)
			}
			if !rec.IsPending() {
				return ledger.NewError(op, ids[i], ledger.ErrAlreadyDecided, fmt.Errorf("already %s", rec.Verified)).AtIndex(i)
			}
		}
		var cfg *models.RewardConfig
		if approveAny {
			var err error
			if cfg, err = v.currentConfig(ctx, op, ""); err != nil {
				return err
			}
		}
		for i, rec := range recs {
			applyDecision(rec, admin, decisions[i].Approve, cfg, now)
		}
		return nil
	})
	if err != nil {
		return nil, relabel(op, err)
	}

	log.Printf("🧑‍⚖️ [LEDGER] batch of %d decisions applied by %s", len(decisions), admin)
	for _, d := range decisions {
		v.Notifier.Publish(ctx, sessionVerifiedEvent(d.SessionID, admin, d.Approve, now))
	}
	return recs, nil
}
