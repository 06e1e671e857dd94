package ledger

import (
	"errors"
	"fmt"

	"game-reward-ledger/models"
)

// ErrRewardConfigMissing is returned before any reward config has been stored.
var ErrRewardConfigMissing = errors.New("reward config not initialised")

// sealImmutable restores the fields no transition may touch.
func sealImmutable(cur, next *models.SessionRecord) {
	next.SessionID = cur.SessionID
	next.Seq = cur.Seq
	next.Player = cur.Player
	next.FinalRank = cur.FinalRank
	next.MaxMass = cur.MaxMass
	next.SurvivalTime = cur.SurvivalTime
	next.KillCount = cur.KillCount
	next.SessionEndTime = cur.SessionEndTime
	next.SubmittedAt = cur.SubmittedAt
}

// checkTransition rejects any write that would break the session state machine:
// decisions are terminal, the reward is frozen once approved, and the claim flag
// is monotonic and requires approval.
func checkTransition(cur, next *models.SessionRecord) error {
	if cur.Verified != models.VerificationPending && next.Verified != cur.Verified {
		return fmt.Errorf("illegal transition for %s: verification %s -> %s", cur.SessionID, cur.Verified, next.Verified)
	}
	if cur.Verified == models.VerificationApproved && next.RewardAmount != cur.RewardAmount {
		return fmt.Errorf("illegal transition for %s: frozen reward changed", cur.SessionID)
	}
	if cur.Claimed && !next.Claimed {
		return fmt.Errorf("illegal transition for %s: claim reverted", cur.SessionID)
	}
	if next.Claimed && next.Verified != models.VerificationApproved {
		return fmt.Errorf("illegal transition for %s: claim without approval", cur.SessionID)
	}
	return nil
}

func prepareInsert(rec *models.SessionRecord) error {
	if rec == nil || rec.SessionID == "" {
		return errors.New("insert: session id is required")
	}
	if rec.Verified == "" {
		rec.Verified = models.VerificationPending
	}
	if rec.MintStatus == "" {
		rec.MintStatus = models.MintNone
	}
	return nil
}

func hasDuplicates(ids []models.SessionID) (int, bool) {
	seen := make(map[models.SessionID]struct{}, len(ids))
	for i, id := range ids {
		if _, ok := seen[id]; ok {
			return i, true
		}
		seen[id] = struct{}{}
	}
	return 0, false
}
