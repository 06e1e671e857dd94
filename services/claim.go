package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync/atomic"

	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/errgroup"

	"game-reward-ledger/ledger"
	"game-reward-ledger/models"
)

// ClaimReceipt is returned to the player after a claim or a mint retry.
type ClaimReceipt struct {
	SessionID models.SessionID  `json:"session_id"`
	Player    string            `json:"player"`
	Amount    uint64            `json:"amount"`
	Minted    bool              `json:"minted"`
	Status    models.MintStatus `json:"mint_status"`
}

var errMintSettled = errors.New("mint already settled")

// ClaimProcessor turns an approved session into a payout. Flipping Claimed is
// the commit point; the mint that follows is at-least-once and keyed by the
// session, so it can be retried until it succeeds.
type ClaimProcessor struct {
	Store    ledger.Store
	Minter   TokenMinter
	Notifier Notifier
	Clock    clockwork.Clock

	RetryConcurrency int
}

const defaultRetryConcurrency = 4

func NewClaimProcessor(store ledger.Store, minter TokenMinter, notifier Notifier, clock clockwork.Clock) *ClaimProcessor {
	return &ClaimProcessor{
		Store:            store,
		Minter:           minter,
		Notifier:         notifier,
		Clock:            clock,
		RetryConcurrency: defaultRetryConcurrency,
	}
}

// Claim checks existence, ownership, approval and the claim flag in that order.
func (p *ClaimProcessor) Claim(ctx context.Context, caller string, id models.SessionID) (*ClaimReceipt, error) {
	const op = "claim"
	now := p.Clock.Now()
	rec, err := p.Store.Mutate(ctx, id, func(rec *models.SessionRecord) error {
		if rec.Player != caller {
			return ledger.NewError(op, id, ledger.ErrNotOwner, fmt.Errorf("caller %q", caller))
		}
		if rec.Verified != models.VerificationApproved {
			return ledger.NewError(op, id, ledger.ErrNotVerified, fmt.Errorf("status %s", rec.Verified))
		}
		if rec.Claimed {
			return ledger.NewError(op, id, ledger.ErrAlreadyClaimed, nil)
		}
		rec.Claimed = true
		rec.ClaimedAt = &now
		rec.MintStatus = models.MintPending
		return nil
	})
	if err != nil {
		return nil, relabel(op, err)
	}

	log.Printf("🔒 [CLAIM] session %s claimed by %s for %d", id.Short(), caller, rec.RewardAmount)
	return p.mint(ctx, op, rec)
}

// RetryMint re-drives a claimed session whose mint has not gone through.
func (p *ClaimProcessor) RetryMint(ctx context.Context, caller string, id models.SessionID) (*ClaimReceipt, error) {
	const op = "retry mint"
	rec, err := p.Store.Get(ctx, id)
	if err != nil {
		return nil, relabel(op, err)
	}
	if rec.Player != caller {
		return nil, ledger.NewError(op, id, ledger.ErrNotOwner, fmt.Errorf("caller %q", caller))
	}
	if rec.MintStatus != models.MintPending {
		return nil, ledger.NewError(op, id, ledger.ErrNoPendingMint, fmt.Errorf("mint status %s", rec.MintStatus))
	}
	return p.mint(ctx, op, rec)
}

// RetryPendingMints settles up to limit outstanding mints, oldest first, with
// at most RetryConcurrency calls to the minter in flight.
func (p *ClaimProcessor) RetryPendingMints(ctx context.Context, limit int) (settled, failed int, err error) {
	recs, err := p.Store.ListPendingMints(ctx, limit)
	if err != nil {
		return 0, 0, fmt.Errorf("list pending mints: %w", err)
	}

	var ok, bad atomic.Int64
	var g errgroup.Group
	g.SetLimit(max(p.RetryConcurrency, 1))
	for _, rec := range recs {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if _, err := p.mint(ctx, "retry mint", rec); err != nil {
				bad.Add(1)
				return nil
			}
			ok.Add(1)
			return nil
		})
	}
	_ = g.Wait()
	return int(ok.Load()), int(bad.Load()), ctx.Err()
}

func (p *ClaimProcessor) mint(ctx context.Context, op string, rec *models.SessionRecord) (*ClaimReceipt, error) {
	var mintErr error
	if rec.RewardAmount > 0 {
		mintErr = p.Minter.Mint(ctx, rec.Player, rec.RewardAmount, rec.MintReason())
	}

	// Bookkeeping must land even if the request context is gone.
	bookCtx := context.WithoutCancel(ctx)
	now := p.Clock.Now()
	updated, err := p.Store.Mutate(bookCtx, rec.SessionID, func(r *models.SessionRecord) error {
		if r.MintStatus != models.MintPending {
			return errMintSettled
		}
		r.MintAttempts++
		if mintErr != nil {
			r.LastMintError = mintErr.Error()
			return nil
		}
		r.MintStatus = models.MintMinted
		r.MintedAt = &now
		r.LastMintError = ""
		return nil
	})
	switch {
	case errors.Is(err, errMintSettled):
		// A concurrent retry already recorded the outcome.
		current, getErr := p.Store.Get(bookCtx, rec.SessionID)
		if getErr != nil {
			return nil, relabel(op, getErr)
		}
		return receiptFor(current), nil
	case err != nil:
		log.Printf("❌ [MINT] bookkeeping for %s failed: %v", rec.SessionID.Short(), err)
		return nil, relabel(op, err)
	}

	if mintErr != nil {
		log.Printf("⚠️ [MINT] mint for %s failed (attempt %d): %v", rec.SessionID.Short(), updated.MintAttempts, mintErr)
		return receiptFor(updated), ledger.NewError(op, rec.SessionID, ledger.ErrExternalCall, mintErr)
	}

	log.Printf("✅ [MINT] %d minted to %s for %s", updated.RewardAmount, updated.Player, updated.SessionID.Short())
	p.Notifier.Publish(ctx, rewardClaimedEvent(updated, now))
	return receiptFor(updated), nil
}

func receiptFor(rec *models.SessionRecord) *ClaimReceipt {
	return &ClaimReceipt{
		SessionID: rec.SessionID,
		Player:    rec.Player,
		Amount:    rec.RewardAmount,
		Minted:    rec.MintStatus == models.MintMinted,
		Status:    rec.MintStatus,
	}
}
