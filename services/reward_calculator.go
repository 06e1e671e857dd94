package services

import (
	"math"
	"math/bits"

	"game-reward-ledger/models"
)

const (
	// SurvivalUnitSeconds is the survival time worth one SurvivalBonus.
	SurvivalUnitSeconds = 60
	// MassUnit is the max mass worth one MassBonus.
	MassUnit = 100
)

// CalculateReward is the pure reward formula:
//
//	min(base + kill*kills + survival*(survivalTime/60) + mass*(maxMass/100), max)
//
// Intermediate sums saturate instead of wrapping, so the result never exceeds
// MaxReward whatever the reported match values.
func CalculateReward(rec *models.SessionRecord, cfg *models.RewardConfig) uint64 {
	total := cfg.BaseReward
	total = satAdd(total, satMul(cfg.KillBonus, rec.KillCount))
	total = satAdd(total, satMul(cfg.SurvivalBonus, rec.SurvivalTime/SurvivalUnitSeconds))
	total = satAdd(total, satMul(cfg.MassBonus, rec.MaxMass/MassUnit))
	if total > cfg.MaxReward {
		return cfg.MaxReward
	}
	return total
}

func satAdd(a, b uint64) uint64 {
	sum, carry := bits.Add64(a, b, 0)
	if carry != 0 {
		return math.MaxUint64
	}
	return sum
}

func satMul(a, b uint64) uint64 {
	hi, lo := bits.Mul64(a, b)
	if hi != 0 {
		return math.MaxUint64
	}
	return lo
}
