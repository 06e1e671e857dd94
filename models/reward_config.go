package models

import "time"

// RewardConfigID is the primary key of the singleton config row.
const RewardConfigID = 1

// RewardConfig holds the admin-tunable reward economics. Changes only affect
// sessions approved afterwards; approved amounts are frozen on the record.
type RewardConfig struct {
	ID            uint      `gorm:"primaryKey" json:"-"`
	BaseReward    uint64    `gorm:"not null" json:"base_reward"`
	KillBonus     uint64    `gorm:"not null" json:"kill_bonus"`
	SurvivalBonus uint64    `gorm:"not null" json:"survival_bonus"` // per full minute survived
	MassBonus     uint64    `gorm:"not null" json:"mass_bonus"`     // per 100 max mass
	MaxReward     uint64    `gorm:"not null" json:"max_reward"`
	UpdatedBy     string    `gorm:"type:varchar(128)" json:"updated_by,omitempty"`
	UpdatedAt     time.Time `json:"updated_at"`
}

func (RewardConfig) TableName() string {
	return "reward_configs"
}
