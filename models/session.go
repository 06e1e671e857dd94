// models/session.go
package models

import (
	"encoding/hex"
	"fmt"
	"strings"
	"time"
)

// SessionID is the canonical form of the 256-bit match hash supplied by the
// game client: 64 lowercase hex digits, no prefix.
type SessionID string

// ParseSessionID accepts an optional 0x prefix and any letter case.
func ParseSessionID(raw string) (SessionID, error) {
	s := strings.TrimSpace(raw)
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	if len(s) != 64 {
		return "", fmt.Errorf("session id must be 32 bytes of hex, got %d hex chars", len(s))
	}
	if _, err := hex.DecodeString(s); err != nil {
		return "", fmt.Errorf("session id is not hex: %w", err)
	}
	return SessionID(strings.ToLower(s)), nil
}

func (id SessionID) String() string { return string(id) }

// Short is used in log lines.
func (id SessionID) Short() string {
	if len(id) <= 10 {
		return string(id)
	}
	return string(id[:10]) + "…"
}

// VerificationStatus is the tri-state admin decision on a session.
type VerificationStatus string

const (
	VerificationPending  VerificationStatus = "pending"
	VerificationApproved VerificationStatus = "approved"
	VerificationRejected VerificationStatus = "rejected"
)

// MintStatus tracks the payout side effect that follows a claim.
type MintStatus string

const (
	MintNone    MintStatus = "none"
	MintPending MintStatus = "pending"
	MintMinted  MintStatus = "minted"
)

// SessionRecord is one completed match submitted for a reward. Performance
// fields and the owner never change after insert; Verified is decided once and
// Claimed only ever flips false -> true.
type SessionRecord struct {
	SessionID SessionID `gorm:"primaryKey;type:varchar(64)" json:"session_id"`
	Seq       uint64    `gorm:"autoIncrement;uniqueIndex;index:idx_session_pending,priority:2" json:"seq"`
	Player    string    `gorm:"type:varchar(128);not null;index" json:"player"`

	// Match outcome as reported by the client
	FinalRank      uint64    `gorm:"not null" json:"final_rank"`
	MaxMass        uint64    `gorm:"not null" json:"max_mass"`
	SurvivalTime   uint64    `gorm:"not null" json:"survival_time"` // seconds
	KillCount      uint64    `gorm:"not null" json:"kill_count"`
	SessionEndTime time.Time `gorm:"not null" json:"session_end_time"`
	SubmittedAt    time.Time `gorm:"not null" json:"submitted_at"`

	// Admin decision
	Verified     VerificationStatus `gorm:"type:varchar(16);not null;default:'pending';index:idx_session_pending,priority:1" json:"verified"`
	VerifiedBy   string             `gorm:"type:varchar(128)" json:"verified_by,omitempty"`
	VerifiedAt   *time.Time         `json:"verified_at,omitempty"`
	RewardAmount uint64             `gorm:"not null;default:0" json:"reward_amount"`

	// Claim + payout
	Claimed       bool       `gorm:"not null;default:false" json:"claimed"`
	ClaimedAt     *time.Time `json:"claimed_at,omitempty"`
	MintStatus    MintStatus `gorm:"type:varchar(16);not null;default:'none';index" json:"mint_status"`
	MintAttempts  int        `gorm:"not null;default:0" json:"mint_attempts"`
	LastMintError string     `gorm:"type:text" json:"last_mint_error,omitempty"`
	MintedAt      *time.Time `json:"minted_at,omitempty"`

	UpdatedAt time.Time `gorm:"autoUpdateTime;index" json:"updated_at"`
}

func (SessionRecord) TableName() string {
	return "session_records"
}

func (r *SessionRecord) IsPending() bool { return r.Verified == VerificationPending }

// IsClaimable reports an approved, not yet claimed session.
func (r *SessionRecord) IsClaimable() bool {
	return r.Verified == VerificationApproved && !r.Claimed
}

// MintReason is the idempotency key handed to the token minter.
func (r *SessionRecord) MintReason() string {
	return "session:" + r.SessionID.String()
}

// Clone returns a deep copy so stores never hand out shared pointers.
func (r *SessionRecord) Clone() *SessionRecord {
	if r == nil {
		return nil
	}
	out := *r
	out.VerifiedAt = cloneTime(r.VerifiedAt)
	out.ClaimedAt = cloneTime(r.ClaimedAt)
	out.MintedAt = cloneTime(r.MintedAt)
	return &out
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
