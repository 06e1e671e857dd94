// workers/scheduler.go
package workers

import (
	"context"
	"log"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/jonboulle/clockwork"

	"game-reward-ledger/services"
)

// Scheduler runs the ledger's background jobs: re-driving unfinished mints
// and exporting the audit trail.
type Scheduler struct {
	ctx   context.Context
	sched gocron.Scheduler
}

func NewScheduler(ctx context.Context, clock clockwork.Clock) (*Scheduler, error) {
	sched, err := gocron.NewScheduler(gocron.WithClock(clock))
	if err != nil {
		return nil, err
	}
	return &Scheduler{ctx: ctx, sched: sched}, nil
}

// AddMintRetryJob settles up to batch pending mints every interval.
func (s *Scheduler) AddMintRetryJob(claims *services.ClaimProcessor, interval time.Duration, batch int) error {
	_, err := s.sched.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(func() {
			settled, failed, err := claims.RetryPendingMints(s.ctx, batch)
			if err != nil {
				log.Printf("[Scheduler] mint retry error: %v", err)
				return
			}
			if settled > 0 || failed > 0 {
				log.Printf("🔁 [Scheduler] mint retry: %d settled, %d still failing", settled, failed)
			}
		}),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
		gocron.WithName("mint-retry"),
	)
	return err
}

// AddAuditExportJob exports changed records every interval.
func (s *Scheduler) AddAuditExportJob(exporter *AuditExporter, interval time.Duration) error {
	_, err := s.sched.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(func() {
			if _, _, err := exporter.Export(s.ctx); err != nil {
				log.Printf("❌ [Scheduler] audit export failed: %v", err)
			}
		}),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
		gocron.WithName("audit-export"),
	)
	return err
}

func (s *Scheduler) Start() {
	s.sched.Start()
}

func (s *Scheduler) Shutdown() error {
	return s.sched.Shutdown()
}
