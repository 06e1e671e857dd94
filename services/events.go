package services

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"game-reward-ledger/models"
)

// Notifier receives ledger events after the state change they describe has
// been committed.
type Notifier interface {
	Publish(ctx context.Context, ev models.LedgerEvent)
}

func newEvent(typ models.EventType, id models.SessionID, at time.Time) models.LedgerEvent {
	return models.LedgerEvent{
		ID:         uuid.NewString(),
		Type:       typ,
		SessionID:  id,
		OccurredAt: at,
	}
}

func sessionSubmittedEvent(rec *models.SessionRecord, at time.Time) models.LedgerEvent {
	ev := newEvent(models.EventSessionSubmitted, rec.SessionID, at)
	ev.Player = rec.Player
	ev.FinalRank = rec.FinalRank
	ev.MaxMass = rec.MaxMass
	ev.SurvivalTime = rec.SurvivalTime
	ev.KillCount = rec.KillCount
	return ev
}

func sessionVerifiedEvent(id models.SessionID, admin string, approved bool, at time.Time) models.LedgerEvent {
	ev := newEvent(models.EventSessionVerified, id, at)
	ev.Admin = admin
	ev.Approved = &approved
	return ev
}

func rewardClaimedEvent(rec *models.SessionRecord, at time.Time) models.LedgerEvent {
	ev := newEvent(models.EventRewardClaimed, rec.SessionID, at)
	ev.Player = rec.Player
	ev.Amount = rec.RewardAmount
	return ev
}

// LogNotifier writes every event to the process log.
type LogNotifier struct{}

func (LogNotifier) Publish(_ context.Context, ev models.LedgerEvent) {
	switch ev.Type {
	case models.EventSessionSubmitted:
		log.Printf("📨 [EVENT] %s session=%s player=%s rank=%d mass=%d survival=%ds kills=%d",
			ev.Type, ev.SessionID.Short(), ev.Player, ev.FinalRank, ev.MaxMass, ev.SurvivalTime, ev.KillCount)
	case models.EventSessionVerified:
		log.Printf("🧾 [EVENT] %s session=%s admin=%s approved=%t",
			ev.Type, ev.SessionID.Short(), ev.Admin, ev.Approved != nil && *ev.Approved)
	case models.EventRewardClaimed:
		log.Printf("💰 [EVENT] %s session=%s player=%s amount=%d",
			ev.Type, ev.SessionID.Short(), ev.Player, ev.Amount)
	default:
		log.Printf("[EVENT] %s session=%s", ev.Type, ev.SessionID.Short())
	}
}

// MultiNotifier publishes to each notifier in order.
type MultiNotifier []Notifier

func (m MultiNotifier) Publish(ctx context.Context, ev models.LedgerEvent) {
	for _, n := range m {
		n.Publish(ctx, ev)
	}
}

// EventBus fans events out to live subscribers (the SSE stream). A slow
// subscriber drops events rather than stalling ledger writes.
type EventBus struct {
	mu     sync.RWMutex
	nextID int
	subs   map[int]chan models.LedgerEvent
	buffer int
}

func NewEventBus(buffer int) *EventBus {
	if buffer <= 0 {
		buffer = 64
	}
	return &EventBus{subs: make(map[int]chan models.LedgerEvent), buffer: buffer}
}

// Subscribe returns a receive channel and a cancel func that closes it.
func (b *EventBus) Subscribe() (<-chan models.LedgerEvent, func()) {
	ch := make(chan models.LedgerEvent, b.buffer)
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(ch)
		})
	}
}

func (b *EventBus) Publish(_ context.Context, ev models.LedgerEvent) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for id, ch := range b.subs {
		select {
		case ch <- ev:
		default:
			log.Printf("⚠️ [EVENT] subscriber %d is behind, dropped %s for %s", id, ev.Type, ev.SessionID.Short())
		}
	}
}

// Subscribers reports the number of live subscriptions.
func (b *EventBus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
