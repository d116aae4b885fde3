package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradepilot/internal/apperr"
	"tradepilot/internal/risk"
)

type fakePolicyRepo struct {
	policy *risk.Policy
}

func (f *fakePolicyRepo) Get(ctx context.Context, userID int64) (*risk.Policy, error) {
	return f.policy, nil
}

func (f *fakePolicyRepo) Upsert(ctx context.Context, p *risk.Policy) error {
	f.policy = p
	return nil
}

type fakeKillSwitchRepo struct {
	ks *risk.KillSwitch
}

func (f *fakeKillSwitchRepo) Get(ctx context.Context, userID int64) (*risk.KillSwitch, error) {
	return f.ks, nil
}

func (f *fakeKillSwitchRepo) Upsert(ctx context.Context, ks *risk.KillSwitch) error {
	f.ks = ks
	return nil
}

func (f *fakeKillSwitchRepo) Delete(ctx context.Context, userID int64) error {
	f.ks = nil
	return nil
}

type fakeLockouts struct {
	until *time.Time
}

func (f *fakeLockouts) GetLockoutUntil(ctx context.Context, userID int64) (*time.Time, error) {
	return f.until, nil
}

func (f *fakeLockouts) SetLockoutUntil(ctx context.Context, userID int64, until *time.Time) error {
	f.until = until
	return nil
}

type fakeStats struct {
	count int
	pnl   float64
}

func (f *fakeStats) TodayExecutedStats(ctx context.Context, userID int64) (int, float64, error) {
	return f.count, f.pnl, nil
}

type fakeCapital struct {
	capital float64
}

func (f *fakeCapital) GetStartingCapital(ctx context.Context, userID int64) (float64, error) {
	return f.capital, nil
}

type riskFixture struct {
	svc      *Service
	policies *fakePolicyRepo
	switches *fakeKillSwitchRepo
	lockouts *fakeLockouts
	stats    *fakeStats
}

func newRiskFixture() *riskFixture {
	f := &riskFixture{
		policies: &fakePolicyRepo{},
		switches: &fakeKillSwitchRepo{},
		lockouts: &fakeLockouts{},
		stats:    &fakeStats{},
	}
	f.svc = NewService(f.policies, f.switches, f.lockouts, f.stats, &fakeCapital{capital: 10000})
	return f
}

func TestGetPolicyDefaults(t *testing.T) {
	f := newRiskFixture()

	p, err := f.svc.GetPolicy(context.Background(), 1)
	require.NoError(t, err)

	assert.Equal(t, risk.PermissionSuggest, p.PermissionLevel)
	assert.InDelta(t, 0.7, p.MinConfidence, 1e-9)
	assert.Equal(t, 10, p.MaxDailyTrades)
	assert.InDelta(t, 5.0, p.MaxDailyLossPercent, 1e-9)
	assert.InDelta(t, 100.0, p.BasePositionUsd, 1e-9)
	assert.True(t, p.IsActive)
	assert.True(t, p.LearningEnabled)
}

func TestUpdatePolicyValidatesRanges(t *testing.T) {
	f := newRiskFixture()
	ctx := context.Background()

	bad := 0.3
	_, err := f.svc.UpdatePolicy(ctx, 1, PolicyUpdate{MinConfidence: &bad})
	var validationErr *apperr.ValidationError
	require.True(t, errors.As(err, &validationErr))

	badLoss := 80.0
	_, err = f.svc.UpdatePolicy(ctx, 1, PolicyUpdate{MaxDailyLossPercent: &badLoss})
	require.True(t, errors.As(err, &validationErr))

	badLevel := "god_mode"
	_, err = f.svc.UpdatePolicy(ctx, 1, PolicyUpdate{PermissionLevel: &badLevel})
	require.True(t, errors.As(err, &validationErr))
}

func TestUpdatePolicyPartial(t *testing.T) {
	f := newRiskFixture()

	level := "semi_auto"
	confidence := 0.8
	p, err := f.svc.UpdatePolicy(context.Background(), 1, PolicyUpdate{
		PermissionLevel: &level,
		MinConfidence:   &confidence,
	})
	require.NoError(t, err)

	assert.Equal(t, risk.PermissionSemiAuto, p.PermissionLevel)
	assert.InDelta(t, 0.8, p.MinConfidence, 1e-9)
	// Остальное — из дефолтов
	assert.Equal(t, 10, p.MaxDailyTrades)
}

func TestCheckExecutionClean(t *testing.T) {
	f := newRiskFixture()
	assert.NoError(t, f.svc.CheckExecution(context.Background(), 1))
}

func TestCheckExecutionKillSwitch(t *testing.T) {
	f := newRiskFixture()
	recovery := time.Now().Add(time.Hour)
	f.switches.ks = &risk.KillSwitch{UserID: 1, IsActive: true, Reason: "manual", RecoveryAt: &recovery}

	err := f.svc.CheckExecution(context.Background(), 1)
	rb, ok := apperr.IsRiskBlocked(err)
	require.True(t, ok)
	assert.Equal(t, "kill_switch", rb.Gate)
	require.NotNil(t, rb.RecoveryAt)
}

func TestCheckExecutionLockout(t *testing.T) {
	f := newRiskFixture()
	until := time.Now().Add(30 * time.Minute)
	f.lockouts.until = &until

	err := f.svc.CheckExecution(context.Background(), 1)
	rb, ok := apperr.IsRiskBlocked(err)
	require.True(t, ok)
	assert.Equal(t, "kill_switch", rb.Gate)
}

func TestCheckExecutionExpiredLockoutIgnored(t *testing.T) {
	f := newRiskFixture()
	until := time.Now().Add(-time.Minute)
	f.lockouts.until = &until

	assert.NoError(t, f.svc.CheckExecution(context.Background(), 1))
}

func TestCheckExecutionDailyTrades(t *testing.T) {
	f := newRiskFixture()
	f.stats.count = 10 // дефолтный лимит

	err := f.svc.CheckExecution(context.Background(), 1)
	rb, ok := apperr.IsRiskBlocked(err)
	require.True(t, ok)
	assert.Equal(t, "daily_trades", rb.Gate)
	assert.InDelta(t, 10, rb.Current, 1e-9)
	assert.InDelta(t, 10, rb.Limit, 1e-9)
}

func TestCheckExecutionDailyLoss(t *testing.T) {
	f := newRiskFixture()
	// Капитал 10000, лимит 5% → 500
	f.stats.pnl = -550

	err := f.svc.CheckExecution(context.Background(), 1)
	rb, ok := apperr.IsRiskBlocked(err)
	require.True(t, ok)
	assert.Equal(t, "daily_loss", rb.Gate)

	// Пробой дневного лимита не взводит kill switch
	assert.Nil(t, f.switches.ks)
}

func TestCheckExecutionLossWithinLimit(t *testing.T) {
	f := newRiskFixture()
	f.stats.pnl = -499

	assert.NoError(t, f.svc.CheckExecution(context.Background(), 1))
}

func TestKillSwitchActivateSetsLockout(t *testing.T) {
	f := newRiskFixture()

	ks, err := f.svc.SetKillSwitch(context.Background(), 1, "activate", "losing streak", 24)
	require.NoError(t, err)

	assert.True(t, ks.IsActive)
	assert.Equal(t, "losing streak", ks.Reason)
	require.NotNil(t, ks.RecoveryAt)
	require.NotNil(t, f.lockouts.until)
	assert.WithinDuration(t, *ks.RecoveryAt, *f.lockouts.until, time.Second)
}

func TestKillSwitchDeactivateBeforeRecoveryRefused(t *testing.T) {
	f := newRiskFixture()

	_, err := f.svc.SetKillSwitch(context.Background(), 1, "activate", "", 24)
	require.NoError(t, err)

	_, err = f.svc.SetKillSwitch(context.Background(), 1, "deactivate", "", 0)
	var validationErr *apperr.ValidationError
	require.True(t, errors.As(err, &validationErr))
	assert.True(t, f.switches.ks.IsActive)
}

func TestKillSwitchDeactivateAfterRecovery(t *testing.T) {
	f := newRiskFixture()
	past := time.Now().Add(-time.Hour)
	f.switches.ks = &risk.KillSwitch{UserID: 1, IsActive: true, Reason: "manual", RecoveryAt: &past}

	ks, err := f.svc.SetKillSwitch(context.Background(), 1, "deactivate", "", 0)
	require.NoError(t, err)
	assert.False(t, ks.IsActive)
	assert.Nil(t, f.lockouts.until)
}

func TestKillSwitchResetUnconditional(t *testing.T) {
	f := newRiskFixture()

	_, err := f.svc.SetKillSwitch(context.Background(), 1, "activate", "", 48)
	require.NoError(t, err)

	// reset снимает блокировку даже до recovery_at
	_, err = f.svc.SetKillSwitch(context.Background(), 1, "reset", "", 0)
	require.NoError(t, err)
	assert.Nil(t, f.switches.ks)
	assert.Nil(t, f.lockouts.until)
	assert.NoError(t, f.svc.CheckExecution(context.Background(), 1))
}

func TestKillSwitchUnknownAction(t *testing.T) {
	f := newRiskFixture()

	_, err := f.svc.SetKillSwitch(context.Background(), 1, "pause", "", 0)
	var validationErr *apperr.ValidationError
	require.True(t, errors.As(err, &validationErr))
}

func TestStatus(t *testing.T) {
	f := newRiskFixture()
	f.stats.count = 3
	f.stats.pnl = -120

	st, err := f.svc.Status(context.Background(), 1)
	require.NoError(t, err)

	// Дефолтный уровень suggest не исполняет сам
	assert.False(t, st.CanTrade)
	assert.Equal(t, 3, st.Limits.TradesUsed)
	assert.InDelta(t, -120, st.Limits.LossTodayUsd, 1e-9)
	assert.InDelta(t, 500, st.Limits.MaxDailyLossUsd, 1e-9)

	level := "semi_auto"
	_, err = f.svc.UpdatePolicy(context.Background(), 1, PolicyUpdate{PermissionLevel: &level})
	require.NoError(t, err)

	st, err = f.svc.Status(context.Background(), 1)
	require.NoError(t, err)
	assert.True(t, st.CanTrade)
}
