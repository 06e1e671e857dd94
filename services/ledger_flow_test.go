package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"game-reward-ledger/ledger"
	"game-reward-ledger/models"
)

const (
	testAdmin  = "admin-1"
	testPlayer = "player-1"
)

func sessionID(n int) models.SessionID {
	return models.SessionID(fmt.Sprintf("%064x", n))
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []models.LedgerEvent
}

func (r *recordingNotifier) Publish(_ context.Context, ev models.LedgerEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recordingNotifier) ofType(typ models.EventType) []models.LedgerEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.LedgerEvent
	for _, ev := range r.events {
		if ev.Type == typ {
			out = append(out, ev)
		}
	}
	return out
}

type mintCall struct {
	To     string
	Amount uint64
	Reason string
}

// flakyMinter fails while failing is set and records every call.
type flakyMinter struct {
	mu      sync.Mutex
	failing bool
	calls   []mintCall
}

func (m *flakyMinter) Mint(_ context.Context, to string, amount uint64, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, mintCall{To: to, Amount: amount, Reason: reason})
	if m.failing {
		return errors.New("token service unavailable")
	}
	return nil
}

func (m *flakyMinter) setFailing(v bool) {
	m.mu.Lock()
	m.failing = v
	m.mu.Unlock()
}

func (m *flakyMinter) Calls() []mintCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]mintCall(nil), m.calls...)
}

type fixture struct {
	ctx      context.Context
	clock    *clockwork.FakeClock
	store    *ledger.MemoryStore
	events   *recordingNotifier
	minter   *flakyMinter
	submit   *SubmissionGateway
	verifier *VerificationAuthority
	claims   *ClaimProcessor
	queries  *QueryService
	config   *RewardConfigService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	clock := clockwork.NewFakeClockAt(time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC))
	store := ledger.NewMemoryStore(clock)
	access := NewStaticAccessControl(map[string][]string{
		CapabilityVerifier:    {testAdmin},
		CapabilityConfigAdmin: {testAdmin},
	})
	events := &recordingNotifier{}
	minter := &flakyMinter{}

	f := &fixture{
		ctx:      context.Background(),
		clock:    clock,
		store:    store,
		events:   events,
		minter:   minter,
		submit:   NewSubmissionGateway(store, events, clock),
		verifier: NewVerificationAuthority(store, access, events, clock),
		claims:   NewClaimProcessor(store, minter, events, clock),
		queries:  NewQueryService(store),
		config:   NewRewardConfigService(store, access, clock),
	}
	_, err := f.config.EnsureDefault(f.ctx, *defaultRewardConfig())
	require.NoError(t, err)
	return f
}

func (f *fixture) request(n int) SubmitRequest {
	return SubmitRequest{
		Player:         testPlayer,
		FinalRank:      1,
		MaxMass:        5000,
		SurvivalTime:   600,
		KillCount:      5,
		SessionEndTime: f.clock.Now(),
		SessionID:      sessionID(n),
	}
}

func (f *fixture) submitted(t *testing.T, n int) models.SessionID {
	t.Helper()
	id, err := f.submit.Submit(f.ctx, f.request(n))
	require.NoError(t, err)
	return id
}

func (f *fixture) approved(t *testing.T, n int) models.SessionID {
	t.Helper()
	id := f.submitted(t, n)
	_, err := f.verifier.Verify(f.ctx, testAdmin, id, true)
	require.NoError(t, err)
	return id
}

func TestSubmit_RecordsPendingSession(t *testing.T) {
	f := newFixture(t)
	id := f.submitted(t, 1)

	rec, err := f.queries.GetSession(f.ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.VerificationPending, rec.Verified)
	assert.False(t, rec.Claimed)
	assert.Equal(t, testPlayer, rec.Player)
	assert.Equal(t, f.clock.Now(), rec.SubmittedAt)

	submitted := f.events.ofType(models.EventSessionSubmitted)
	require.Len(t, submitted, 1)
	assert.Equal(t, id, submitted[0].SessionID)
	assert.Equal(t, uint64(5), submitted[0].KillCount)
	assert.NotEmpty(t, submitted[0].ID)

	page, err := f.queries.GetPendingQueue(f.ctx, 0, 10)
	require.NoError(t, err)
	assert.Equal(t, []models.SessionID{id}, page.SessionIDs)
	assert.Equal(t, 1, page.Total)
}

func TestSubmit_Rejections(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(f *fixture, req *SubmitRequest)
		kind   *ledger.Kind
	}{
		{
			name:   "zero rank",
			mutate: func(_ *fixture, req *SubmitRequest) { req.FinalRank = 0 },
			kind:   ledger.ErrInvalidRank,
		},
		{
			name: "end time in the future",
			mutate: func(f *fixture, req *SubmitRequest) {
				req.SessionEndTime = f.clock.Now().Add(time.Hour)
			},
			kind: ledger.ErrFutureEndTime,
		},
		{
			name:   "missing player",
			mutate: func(_ *fixture, req *SubmitRequest) { req.Player = "" },
			kind:   ledger.ErrInvalidPlayer,
		},
		{
			name:   "missing session id",
			mutate: func(_ *fixture, req *SubmitRequest) { req.SessionID = "" },
			kind:   ledger.ErrInvalidSessionID,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			req := f.request(2)
			tt.mutate(f, &req)

			_, err := f.submit.Submit(f.ctx, req)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.kind)
			assert.ErrorIs(t, err, ledger.ErrValidation)

			exists, err := f.store.Exists(f.ctx, sessionID(2))
			require.NoError(t, err)
			assert.False(t, exists)
			assert.Empty(t, f.events.ofType(models.EventSessionSubmitted))
		})
	}
}

func TestSubmit_EndTimeEqualToNowAccepted(t *testing.T) {
	f := newFixture(t)
	req := f.request(1)
	req.SessionEndTime = f.clock.Now()
	_, err := f.submit.Submit(f.ctx, req)
	assert.NoError(t, err)
}

func TestSubmit_DuplicateCheckedFirst(t *testing.T) {
	f := newFixture(t)
	f.submitted(t, 1)

	req := f.request(1)
	req.FinalRank = 0
	_, err := f.submit.Submit(f.ctx, req)
	assert.ErrorIs(t, err, ledger.ErrDuplicateSession)
	assert.NotErrorIs(t, err, ledger.ErrInvalidRank)
}

func TestVerify_ApprovalFreezesReward(t *testing.T) {
	f := newFixture(t)
	id := f.submitted(t, 1)

	rec, err := f.verifier.Verify(f.ctx, testAdmin, id, true)
	require.NoError(t, err)
	assert.Equal(t, models.VerificationApproved, rec.Verified)
	assert.Equal(t, uint64(250), rec.RewardAmount)
	assert.Equal(t, testAdmin, rec.VerifiedBy)

	_, err = f.config.Update(f.ctx, testAdmin, models.RewardConfig{BaseReward: 1, KillBonus: 1, MaxReward: 2})
	require.NoError(t, err)

	rec, err = f.queries.GetSession(f.ctx, id)
	require.NoError(t, err)
	assert.Equal(t, uint64(250), rec.RewardAmount)

	// sessions approved after the change use the new economics
	later := f.approved(t, 2)
	rec, err = f.queries.GetSession(f.ctx, later)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), rec.RewardAmount)
}

func TestVerify_RejectLeavesZeroReward(t *testing.T) {
	f := newFixture(t)
	id := f.submitted(t, 1)

	rec, err := f.verifier.Verify(f.ctx, testAdmin, id, false)
	require.NoError(t, err)
	assert.Equal(t, models.VerificationRejected, rec.Verified)
	assert.Zero(t, rec.RewardAmount)

	verified := f.events.ofType(models.EventSessionVerified)
	require.Len(t, verified, 1)
	require.NotNil(t, verified[0].Approved)
	assert.False(t, *verified[0].Approved)
}

func TestVerify_AlreadyDecided(t *testing.T) {
	f := newFixture(t)
	id := f.submitted(t, 1)
	_, err := f.verifier.Verify(f.ctx, testAdmin, id, false)
	require.NoError(t, err)

	_, err = f.verifier.Verify(f.ctx, testAdmin, id, true)
	assert.ErrorIs(t, err, ledger.ErrAlreadyDecided)
	assert.ErrorIs(t, err, ledger.ErrState)

	rec, err := f.queries.GetSession(f.ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.VerificationRejected, rec.Verified)
}

func TestVerify_Unauthorized(t *testing.T) {
	f := newFixture(t)
	id := f.submitted(t, 1)

	_, err := f.verifier.Verify(f.ctx, testPlayer, id, true)
	assert.ErrorIs(t, err, ledger.ErrUnauthorized)

	rec, err := f.queries.GetSession(f.ctx, id)
	require.NoError(t, err)
	assert.True(t, rec.IsPending())
}

func TestVerify_AfterClaimLeavesRecordUnchanged(t *testing.T) {
	f := newFixture(t)
	id := f.approved(t, 1)
	_, err := f.claims.Claim(f.ctx, testPlayer, id)
	require.NoError(t, err)

	for _, approve := range []bool{false, true} {
		_, err = f.verifier.Verify(f.ctx, testAdmin, id, approve)
		assert.ErrorIs(t, err, ledger.ErrAlreadyDecided)
	}

	rec, err := f.queries.GetSession(f.ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.VerificationApproved, rec.Verified)
	assert.Equal(t, uint64(250), rec.RewardAmount)
	assert.True(t, rec.Claimed)
	assert.Equal(t, models.MintMinted, rec.MintStatus)
}

func TestVerify_UnknownSessionWithoutConfig(t *testing.T) {
	clock := clockwork.NewFakeClock()
	store := ledger.NewMemoryStore(clock)
	access := NewStaticAccessControl(map[string][]string{CapabilityVerifier: {testAdmin}})
	verifier := NewVerificationAuthority(store, access, &recordingNotifier{}, clock)

	_, err := verifier.Verify(context.Background(), testAdmin, sessionID(42), true)
	assert.ErrorIs(t, err, ledger.ErrNotFound)
	assert.NotErrorIs(t, err, ledger.ErrRewardConfigMissing)

	_, err = verifier.VerifyBatch(context.Background(), testAdmin, []Decision{{SessionID: sessionID(42), Approve: true}})
	assert.ErrorIs(t, err, ledger.ErrNotFound)
}

func TestVerify_NotFound(t *testing.T) {
	f := newFixture(t)
	_, err := f.verifier.Verify(f.ctx, testAdmin, sessionID(42), true)
	assert.ErrorIs(t, err, ledger.ErrNotFound)

	var le *ledger.Error
	require.ErrorAs(t, err, &le)
	assert.Equal(t, "verify", le.Op)
}

func TestVerifyBatch_AppliesAll(t *testing.T) {
	f := newFixture(t)
	a, b, c := f.submitted(t, 1), f.submitted(t, 2), f.submitted(t, 3)

	recs, err := f.verifier.VerifyBatch(f.ctx, testAdmin, []Decision{
		{SessionID: a, Approve: true},
		{SessionID: b, Approve: false},
		{SessionID: c, Approve: true},
	})
	require.NoError(t, err)
	require.Len(t, recs, 3)
	assert.Equal(t, models.VerificationApproved, recs[0].Verified)
	assert.Equal(t, models.VerificationRejected, recs[1].Verified)
	assert.Equal(t, uint64(250), recs[2].RewardAmount)

	verified := f.events.ofType(models.EventSessionVerified)
	require.Len(t, verified, 3)
	assert.Equal(t, []models.SessionID{a, b, c},
		[]models.SessionID{verified[0].SessionID, verified[1].SessionID, verified[2].SessionID})

	page, err := f.queries.GetPendingQueue(f.ctx, 0, 10)
	require.NoError(t, err)
	assert.Empty(t, page.SessionIDs)
}

func TestVerifyBatch_OneBadEntryChangesNothing(t *testing.T) {
	f := newFixture(t)
	a, b := f.submitted(t, 1), f.submitted(t, 2)
	decided := f.submitted(t, 3)
	_, err := f.verifier.Verify(f.ctx, testAdmin, decided, false)
	require.NoError(t, err)

	_, err = f.verifier.VerifyBatch(f.ctx, testAdmin, []Decision{
		{SessionID: a, Approve: true},
		{SessionID: decided, Approve: true},
		{SessionID: b, Approve: true},
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ledger.ErrAlreadyDecided)

	var le *ledger.Error
	require.ErrorAs(t, err, &le)
	assert.Equal(t, 1, le.Index)
	assert.Equal(t, decided, le.SessionID)

	for _, id := range []models.SessionID{a, b} {
		rec, err := f.queries.GetSession(f.ctx, id)
		require.NoError(t, err)
		assert.True(t, rec.IsPending())
		assert.Zero(t, rec.RewardAmount)
	}
	// only the single decision above was announced
	assert.Len(t, f.events.ofType(models.EventSessionVerified), 1)
}

func TestVerifyBatch_UnknownEntry(t *testing.T) {
	f := newFixture(t)
	a := f.submitted(t, 1)

	_, err := f.verifier.VerifyBatch(f.ctx, testAdmin, []Decision{
		{SessionID: a, Approve: true},
		{SessionID: sessionID(99), Approve: true},
	})
	assert.ErrorIs(t, err, ledger.ErrNotFound)

	rec, err := f.queries.GetSession(f.ctx, a)
	require.NoError(t, err)
	assert.True(t, rec.IsPending())
}

func TestVerifyBatch_Validation(t *testing.T) {
	f := newFixture(t)
	a := f.submitted(t, 1)

	_, err := f.verifier.VerifyBatch(f.ctx, testAdmin, nil)
	assert.ErrorIs(t, err, ledger.ErrEmptyBatch)

	_, err = f.verifier.VerifyBatch(f.ctx, testAdmin, []Decision{
		{SessionID: a, Approve: true},
		{SessionID: a, Approve: false},
	})
	assert.ErrorIs(t, err, ledger.ErrDuplicateBatchEntry)

	_, err = f.verifier.VerifyBatch(f.ctx, testPlayer, []Decision{{SessionID: a, Approve: true}})
	assert.ErrorIs(t, err, ledger.ErrUnauthorized)

	// authorization comes before any batch validation
	_, err = f.verifier.VerifyBatch(f.ctx, testPlayer, nil)
	assert.ErrorIs(t, err, ledger.ErrUnauthorized)
	assert.NotErrorIs(t, err, ledger.ErrEmptyBatch)
	_, err = f.verifier.VerifyBatch(f.ctx, testPlayer, []Decision{{SessionID: a}, {SessionID: a}})
	assert.ErrorIs(t, err, ledger.ErrUnauthorized)

	rec, err := f.queries.GetSession(f.ctx, a)
	require.NoError(t, err)
	assert.True(t, rec.IsPending())
}

func TestClaim_MintsFrozenReward(t *testing.T) {
	f := newFixture(t)
	id := f.approved(t, 1)

	receipt, err := f.claims.Claim(f.ctx, testPlayer, id)
	require.NoError(t, err)
	assert.True(t, receipt.Minted)
	assert.Equal(t, uint64(250), receipt.Amount)
	assert.Equal(t, models.MintMinted, receipt.Status)

	calls := f.minter.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, mintCall{To: testPlayer, Amount: 250, Reason: "session:" + id.String()}, calls[0])

	claimed := f.events.ofType(models.EventRewardClaimed)
	require.Len(t, claimed, 1)
	assert.Equal(t, uint64(250), claimed[0].Amount)

	_, err = f.claims.Claim(f.ctx, testPlayer, id)
	assert.ErrorIs(t, err, ledger.ErrAlreadyClaimed)
	assert.Len(t, f.minter.Calls(), 1)
}

func TestClaim_CheckOrder(t *testing.T) {
	f := newFixture(t)
	pending := f.submitted(t, 1)
	rejected := f.submitted(t, 2)
	_, err := f.verifier.Verify(f.ctx, testAdmin, rejected, false)
	require.NoError(t, err)

	_, err = f.claims.Claim(f.ctx, testPlayer, sessionID(77))
	assert.ErrorIs(t, err, ledger.ErrNotFound)

	// ownership is checked before approval
	_, err = f.claims.Claim(f.ctx, "someone-else", pending)
	assert.ErrorIs(t, err, ledger.ErrNotOwner)
	rec, err := f.queries.GetSession(f.ctx, pending)
	require.NoError(t, err)
	assert.True(t, rec.IsPending())
	assert.False(t, rec.Claimed)
	assert.Equal(t, models.MintNone, rec.MintStatus)

	_, err = f.claims.Claim(f.ctx, testPlayer, pending)
	assert.ErrorIs(t, err, ledger.ErrNotVerified)

	_, err = f.claims.Claim(f.ctx, testPlayer, rejected)
	assert.ErrorIs(t, err, ledger.ErrNotVerified)

	assert.Empty(t, f.minter.Calls())
}

func TestClaim_ZeroRewardSkipsMint(t *testing.T) {
	f := newFixture(t)
	_, err := f.config.Update(f.ctx, testAdmin, models.RewardConfig{MaxReward: 1000})
	require.NoError(t, err)
	req := f.request(1)
	req.KillCount, req.MaxMass, req.SurvivalTime = 0, 0, 0
	id, err := f.submit.Submit(f.ctx, req)
	require.NoError(t, err)
	_, err = f.verifier.Verify(f.ctx, testAdmin, id, true)
	require.NoError(t, err)

	receipt, err := f.claims.Claim(f.ctx, testPlayer, id)
	require.NoError(t, err)
	assert.True(t, receipt.Minted)
	assert.Zero(t, receipt.Amount)
	assert.Empty(t, f.minter.Calls())
}

func TestClaim_MintFailureIsRetriable(t *testing.T) {
	f := newFixture(t)
	id := f.approved(t, 1)
	f.minter.setFailing(true)

	receipt, err := f.claims.Claim(f.ctx, testPlayer, id)
	require.Error(t, err)
	assert.True(t, ledger.IsRetriable(err))
	require.NotNil(t, receipt)
	assert.False(t, receipt.Minted)
	assert.Equal(t, models.MintPending, receipt.Status)
	assert.Empty(t, f.events.ofType(models.EventRewardClaimed))

	// the claim itself is committed
	rec, err := f.queries.GetSession(f.ctx, id)
	require.NoError(t, err)
	assert.True(t, rec.Claimed)
	assert.Equal(t, 1, rec.MintAttempts)
	assert.NotEmpty(t, rec.LastMintError)

	_, err = f.claims.Claim(f.ctx, testPlayer, id)
	assert.ErrorIs(t, err, ledger.ErrAlreadyClaimed)

	_, err = f.claims.RetryMint(f.ctx, "someone-else", id)
	assert.ErrorIs(t, err, ledger.ErrNotOwner)

	f.minter.setFailing(false)
	receipt, err = f.claims.RetryMint(f.ctx, testPlayer, id)
	require.NoError(t, err)
	assert.True(t, receipt.Minted)

	rec, err = f.queries.GetSession(f.ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.MintMinted, rec.MintStatus)
	assert.Equal(t, 2, rec.MintAttempts)
	assert.Empty(t, rec.LastMintError)
	assert.Len(t, f.events.ofType(models.EventRewardClaimed), 1)

	calls := f.minter.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, calls[0].Reason, calls[1].Reason)

	_, err = f.claims.RetryMint(f.ctx, testPlayer, id)
	assert.ErrorIs(t, err, ledger.ErrNoPendingMint)
}

func TestClaim_RetryPendingMints(t *testing.T) {
	f := newFixture(t)
	ids := []models.SessionID{f.approved(t, 1), f.approved(t, 2), f.approved(t, 3)}
	f.minter.setFailing(true)
	for _, id := range ids {
		_, err := f.claims.Claim(f.ctx, testPlayer, id)
		require.Error(t, err)
	}

	settled, failed, err := f.claims.RetryPendingMints(f.ctx, 10)
	require.NoError(t, err)
	assert.Zero(t, settled)
	assert.Equal(t, 3, failed)

	f.minter.setFailing(false)
	settled, failed, err = f.claims.RetryPendingMints(f.ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, 2, settled)
	assert.Zero(t, failed)

	settled, _, err = f.claims.RetryPendingMints(f.ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, settled)

	for _, id := range ids {
		rec, err := f.queries.GetSession(f.ctx, id)
		require.NoError(t, err)
		assert.Equal(t, models.MintMinted, rec.MintStatus)
	}
}

func TestClaim_ConcurrentClaimsMintOnce(t *testing.T) {
	f := newFixture(t)
	id := f.approved(t, 1)

	var wg sync.WaitGroup
	errs := make(chan error, 16)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.claims.Claim(f.ctx, testPlayer, id)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	ok := 0
	for err := range errs {
		if err == nil {
			ok++
			continue
		}
		assert.ErrorIs(t, err, ledger.ErrAlreadyClaimed)
	}
	assert.Equal(t, 1, ok)
	assert.Len(t, f.minter.Calls(), 1)
}

func TestQuery_PlayerViews(t *testing.T) {
	f := newFixture(t)
	a := f.approved(t, 1)
	b := f.approved(t, 2)
	c := f.submitted(t, 3)
	_, err := f.claims.Claim(f.ctx, testPlayer, a)
	require.NoError(t, err)

	submitted, err := f.queries.GetSubmittedSessions(f.ctx, testPlayer)
	require.NoError(t, err)
	assert.Equal(t, []models.SessionID{a, b, c}, submitted)

	claimable, err := f.queries.GetClaimableSessions(f.ctx, testPlayer)
	require.NoError(t, err)
	assert.Equal(t, []models.SessionID{b}, claimable)

	stats, err := f.queries.GetSessionStats(f.ctx, testPlayer)
	require.NoError(t, err)
	assert.Equal(t, SessionStats{Submitted: 3, Approved: 2, Claimed: 1, Claimable: 1}, stats)

	empty, err := f.queries.GetClaimableSessions(f.ctx, "nobody")
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestRewardConfig_Update(t *testing.T) {
	f := newFixture(t)

	_, err := f.config.Update(f.ctx, testPlayer, models.RewardConfig{MaxReward: 10})
	assert.ErrorIs(t, err, ledger.ErrUnauthorized)

	_, err = f.config.Update(f.ctx, testAdmin, models.RewardConfig{BaseReward: 10})
	assert.ErrorIs(t, err, ledger.ErrInvalidConfig)

	cfg, err := f.config.Update(f.ctx, testAdmin, models.RewardConfig{BaseReward: 10, MaxReward: 50})
	require.NoError(t, err)
	assert.Equal(t, testAdmin, cfg.UpdatedBy)

	got, err := f.config.Get(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(50), got.MaxReward)

	// EnsureDefault keeps an existing config
	got, err = f.config.EnsureDefault(f.ctx, *defaultRewardConfig())
	require.NoError(t, err)
	assert.Equal(t, uint64(50), got.MaxReward)
}
