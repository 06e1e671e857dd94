package services

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/jonboulle/clockwork"

	"game-reward-ledger/ledger"
	"game-reward-ledger/models"
)

// RewardConfigService reads and updates the singleton reward config.
type RewardConfigService struct {
	Store  ledger.Store
	Access AccessControl
	Clock  clockwork.Clock
}

func NewRewardConfigService(store ledger.Store, access AccessControl, clock clockwork.Clock) *RewardConfigService {
	return &RewardConfigService{Store: store, Access: access, Clock: clock}
}

func validateConfig(cfg *models.RewardConfig) error {
	if cfg.MaxReward == 0 {
		return ledger.NewError("update reward config", "", ledger.ErrInvalidConfig, errors.New("max_reward must be positive"))
	}
	return nil
}

func (s *RewardConfigService) Get(ctx context.Context) (*models.RewardConfig, error) {
	return s.Store.RewardConfig(ctx)
}

// Update replaces the config. Sessions already approved keep their frozen reward.
func (s *RewardConfigService) Update(ctx context.Context, admin string, cfg models.RewardConfig) (*models.RewardConfig, error) {
	if err := authorize(ctx, s.Access, "update reward config", "", admin, CapabilityConfigAdmin); err != nil {
		return nil, err
	}
	if err := validateConfig(&cfg); err != nil {
		return nil, err
	}
	cfg.ID = models.RewardConfigID
	cfg.UpdatedBy = admin
	cfg.UpdatedAt = s.Clock.Now()
	if err := s.Store.SetRewardConfig(ctx, &cfg); err != nil {
		return nil, fmt.Errorf("store reward config: %w", err)
	}
	log.Printf("⚙️ [CONFIG] reward config updated by %s: base=%d kill=%d survival=%d mass=%d max=%d",
		admin, cfg.BaseReward, cfg.KillBonus, cfg.SurvivalBonus, cfg.MassBonus, cfg.MaxReward)
	return &cfg, nil
}

// EnsureDefault stores defaults when no config exists yet and returns the
// config in effect.
func (s *RewardConfigService) EnsureDefault(ctx context.Context, defaults models.RewardConfig) (*models.RewardConfig, error) {
	cfg, err := s.Store.RewardConfig(ctx)
	if err == nil {
		return cfg, nil
	}
	if !errors.Is(err, ledger.ErrRewardConfigMissing) {
		return nil, err
	}
	if err := validateConfig(&defaults); err != nil {
		return nil, err
	}
	defaults.ID = models.RewardConfigID
	defaults.UpdatedBy = "bootstrap"
	defaults.UpdatedAt = s.Clock.Now()
	if err := s.Store.SetRewardConfig(ctx, &defaults); err != nil {
		return nil, fmt.Errorf("seed reward config: %w", err)
	}
	log.Printf("⚙️ [CONFIG] seeded default reward config (max=%d)", defaults.MaxReward)
	return &defaults, nil
}
