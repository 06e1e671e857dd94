package models

import "time"

// EventType names a ledger notification consumed by UIs and indexers.
type EventType string

const (
	EventSessionSubmitted EventType = "SessionSubmitted"
	EventSessionVerified  EventType = "SessionVerified"
	EventRewardClaimed    EventType = "RewardClaimed"
)

// LedgerEvent is the envelope for every emitted notification. Only the fields
// relevant to Type are populated.
type LedgerEvent struct {
	ID         string    `json:"id"`
	Type       EventType `json:"type"`
	SessionID  SessionID `json:"session_id"`
	OccurredAt time.Time `json:"occurred_at"`

	Player       string `json:"player,omitempty"`
	FinalRank    uint64 `json:"final_rank,omitempty"`
	MaxMass      uint64 `json:"max_mass,omitempty"`
	SurvivalTime uint64 `json:"survival_time,omitempty"`
	KillCount    uint64 `json:"kill_count,omitempty"`

	Admin    string `json:"admin,omitempty"`
	Approved *bool  `json:"approved,omitempty"`

	Amount uint64 `json:"amount,omitempty"`
}
