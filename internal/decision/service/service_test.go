package service

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradepilot/internal/apperr"
	"tradepilot/internal/decision"
	"tradepilot/internal/pattern"
	"tradepilot/internal/risk"
)

type fakeDecisionRepo struct {
	decisions map[uuid.UUID]*decision.Decision
}

func newFakeDecisionRepo() *fakeDecisionRepo {
	return &fakeDecisionRepo{decisions: make(map[uuid.UUID]*decision.Decision)}
}

func (f *fakeDecisionRepo) Create(ctx context.Context, d *decision.Decision) error {
	copied := *d
	f.decisions[d.ID] = &copied
	return nil
}

func (f *fakeDecisionRepo) GetByID(ctx context.Context, id uuid.UUID) (*decision.Decision, error) {
	d, ok := f.decisions[id]
	if !ok {
		return nil, nil
	}
	copied := *d
	return &copied, nil
}

func (f *fakeDecisionRepo) ListByUser(ctx context.Context, userID int64, limit int) ([]*decision.Decision, error) {
	var out []*decision.Decision
	for _, d := range f.decisions {
		if d.UserID == userID {
			out = append(out, d)
		}
	}
	return out, nil
}

func (f *fakeDecisionRepo) HasOpen(ctx context.Context, patternID uuid.UUID) (bool, error) {
	for _, d := range f.decisions {
		if d.PatternID == patternID &&
			d.ExecutionState == decision.ExecutionPending &&
			d.ApprovalState != decision.ApprovalRejected {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeDecisionRepo) SetResponse(ctx context.Context, id uuid.UUID, state decision.ApprovalState, p *decision.ModifiedParams) (bool, error) {
	d, ok := f.decisions[id]
	if !ok || d.ApprovalState != decision.ApprovalPending || d.ExecutionState != decision.ExecutionPending {
		return false, nil
	}
	d.ApprovalState = state
	if p != nil {
		if p.EntryPrice != nil {
			d.EntryPrice = p.EntryPrice
		}
		if p.StopLoss != nil {
			d.StopLoss = p.StopLoss
		}
		if p.TakeProfit != nil {
			d.TakeProfit = p.TakeProfit
		}
		if p.PositionSize != nil {
			d.PositionSize = p.PositionSize
		}
	}
	return true, nil
}

type fakePatternSource struct {
	patterns []*pattern.Pattern
}

func (f *fakePatternSource) ListByUser(ctx context.Context, userID int64) ([]*pattern.Pattern, error) {
	return f.patterns, nil
}

type fakePolicies struct {
	policy *risk.Policy
}

func (f *fakePolicies) GetPolicy(ctx context.Context, userID int64) (*risk.Policy, error) {
	if f.policy != nil {
		return f.policy, nil
	}
	return risk.DefaultPolicy(userID), nil
}

func strongPattern(symbol, direction string) *pattern.Pattern {
	return &pattern.Pattern{
		ID:         uuid.New(),
		UserID:     1,
		Symbol:     symbol,
		SetupType:  "default",
		Direction:  direction,
		SampleSize: 30,
		WinRate:    0.8,
		AvgPnl:     12.5,
		Confidence: 0.78,
	}
}

func newTestService(patterns []*pattern.Pattern, policy *risk.Policy) (*Service, *fakeDecisionRepo) {
	repo := newFakeDecisionRepo()
	svc := NewService(repo, &fakePatternSource{patterns: patterns}, &fakePolicies{policy: policy})
	return svc, repo
}

func TestGenerateCreatesSuggestion(t *testing.T) {
	svc, _ := newTestService([]*pattern.Pattern{strongPattern("BTCUSDT", "long")}, nil)

	created, err := svc.Generate(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, created, 1)

	d := created[0]
	assert.Equal(t, "suggest", d.Type)
	assert.Equal(t, "BTCUSDT", d.Symbol)
	assert.Equal(t, "buy", d.Side)
	assert.Equal(t, decision.ApprovalPending, d.ApprovalState)
	assert.Equal(t, decision.ExecutionPending, d.ExecutionState)
	require.NotNil(t, d.PositionSize)
	assert.InDelta(t, 100, *d.PositionSize, 1e-9)
	assert.NotEmpty(t, d.Reasoning)
}

func TestGenerateShortMapsToSell(t *testing.T) {
	svc, _ := newTestService([]*pattern.Pattern{strongPattern("ETHUSDT", "short")}, nil)

	created, err := svc.Generate(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, created, 1)
	assert.Equal(t, "sell", created[0].Side)
}

func TestGenerateObserveLevelSilent(t *testing.T) {
	policy := risk.DefaultPolicy(1)
	policy.PermissionLevel = risk.PermissionObserve
	svc, _ := newTestService([]*pattern.Pattern{strongPattern("BTCUSDT", "long")}, policy)

	created, err := svc.Generate(context.Background(), 1)
	require.NoError(t, err)
	assert.Empty(t, created)
}

func TestGenerateInactivePolicySilent(t *testing.T) {
	policy := risk.DefaultPolicy(1)
	policy.IsActive = false
	svc, _ := newTestService([]*pattern.Pattern{strongPattern("BTCUSDT", "long")}, policy)

	created, err := svc.Generate(context.Background(), 1)
	require.NoError(t, err)
	assert.Empty(t, created)
}

func TestGenerateFiltersByConfidenceAndSamples(t *testing.T) {
	weak := strongPattern("BTCUSDT", "long")
	weak.Confidence = 0.55

	thin := strongPattern("ETHUSDT", "long")
	thin.SampleSize = 3

	svc, _ := newTestService([]*pattern.Pattern{weak, thin}, nil)

	created, err := svc.Generate(context.Background(), 1)
	require.NoError(t, err)
	assert.Empty(t, created)
}

func TestGenerateFiltersBlockedSymbols(t *testing.T) {
	policy := risk.DefaultPolicy(1)
	policy.BlockedSymbols = []string{"BTCUSDT"}
	svc, _ := newTestService([]*pattern.Pattern{strongPattern("BTCUSDT", "long")}, policy)

	created, err := svc.Generate(context.Background(), 1)
	require.NoError(t, err)
	assert.Empty(t, created)
}

func TestGenerateSkipsPatternsWithOpenDecision(t *testing.T) {
	p := strongPattern("BTCUSDT", "long")
	svc, _ := newTestService([]*pattern.Pattern{p}, nil)

	first, err := svc.Generate(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, first, 1)

	// Незакрытое решение уже есть — дубликат не создаётся
	second, err := svc.Generate(context.Background(), 1)
	require.NoError(t, err)
	assert.Empty(t, second)
}

func TestGenerateFullAutoType(t *testing.T) {
	policy := risk.DefaultPolicy(1)
	policy.PermissionLevel = risk.PermissionFullAuto
	svc, _ := newTestService([]*pattern.Pattern{strongPattern("BTCUSDT", "long")}, policy)

	created, err := svc.Generate(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, created, 1)
	assert.Equal(t, "auto", created[0].Type)
}

func TestRespondApproveWithOverrides(t *testing.T) {
	svc, repo := newTestService([]*pattern.Pattern{strongPattern("BTCUSDT", "long")}, nil)

	created, err := svc.Generate(context.Background(), 1)
	require.NoError(t, err)
	id := created[0].ID

	stopLoss := 95.0
	d, err := svc.Respond(context.Background(), 1, id, true, &decision.ModifiedParams{StopLoss: &stopLoss})
	require.NoError(t, err)

	assert.Equal(t, decision.ApprovalApproved, d.ApprovalState)
	require.NotNil(t, d.StopLoss)
	assert.InDelta(t, 95.0, *d.StopLoss, 1e-9)

	stored := repo.decisions[id]
	assert.Equal(t, decision.ApprovalApproved, stored.ApprovalState)
}

func TestRespondReject(t *testing.T) {
	svc, _ := newTestService([]*pattern.Pattern{strongPattern("BTCUSDT", "long")}, nil)

	created, err := svc.Generate(context.Background(), 1)
	require.NoError(t, err)

	d, err := svc.Respond(context.Background(), 1, created[0].ID, false, nil)
	require.NoError(t, err)
	assert.Equal(t, decision.ApprovalRejected, d.ApprovalState)
}

func TestRespondTwiceFails(t *testing.T) {
	svc, _ := newTestService([]*pattern.Pattern{strongPattern("BTCUSDT", "long")}, nil)

	created, err := svc.Generate(context.Background(), 1)
	require.NoError(t, err)
	id := created[0].ID

	_, err = svc.Respond(context.Background(), 1, id, true, nil)
	require.NoError(t, err)

	_, err = svc.Respond(context.Background(), 1, id, false, nil)
	var validationErr *apperr.ValidationError
	require.True(t, errors.As(err, &validationErr))
}

func TestRespondExecutedDecisionImmutable(t *testing.T) {
	svc, repo := newTestService([]*pattern.Pattern{strongPattern("BTCUSDT", "long")}, nil)

	created, err := svc.Generate(context.Background(), 1)
	require.NoError(t, err)
	id := created[0].ID
	repo.decisions[id].ExecutionState = decision.ExecutionExecuted

	_, err = svc.Respond(context.Background(), 1, id, false, nil)
	var validationErr *apperr.ValidationError
	require.True(t, errors.As(err, &validationErr))
}

func TestRespondWrongUserNotFound(t *testing.T) {
	svc, _ := newTestService([]*pattern.Pattern{strongPattern("BTCUSDT", "long")}, nil)

	created, err := svc.Generate(context.Background(), 1)
	require.NoError(t, err)

	_, err = svc.Respond(context.Background(), 42, created[0].ID, true, nil)
	var notFoundErr *apperr.NotFoundError
	require.True(t, errors.As(err, &notFoundErr))
}

func TestValidateForExecution(t *testing.T) {
	semiAuto := risk.DefaultPolicy(1)
	semiAuto.PermissionLevel = risk.PermissionSemiAuto

	fullAuto := risk.DefaultPolicy(1)
	fullAuto.PermissionLevel = risk.PermissionFullAuto

	base := func() *decision.Decision {
		return &decision.Decision{
			Symbol:         "BTCUSDT",
			Confidence:     0.8,
			ApprovalState:  decision.ApprovalApproved,
			ExecutionState: decision.ExecutionPending,
		}
	}

	t.Run("approved under semi_auto passes", func(t *testing.T) {
		assert.Empty(t, ValidateForExecution(base(), semiAuto))
	})

	t.Run("pending approval under full_auto passes", func(t *testing.T) {
		d := base()
		d.ApprovalState = decision.ApprovalPending
		assert.Empty(t, ValidateForExecution(d, fullAuto))
	})

	t.Run("already executed", func(t *testing.T) {
		d := base()
		d.ExecutionState = decision.ExecutionExecuted
		assert.Contains(t, ValidateForExecution(d, semiAuto), "already been executed")
	})

	t.Run("execution in progress", func(t *testing.T) {
		d := base()
		d.ExecutionState = decision.ExecutionExecuting
		assert.Contains(t, ValidateForExecution(d, semiAuto), "in progress")
	})

	t.Run("failed is terminal", func(t *testing.T) {
		d := base()
		d.ExecutionState = decision.ExecutionFailed
		assert.Contains(t, ValidateForExecution(d, semiAuto), "failed")
	})

	t.Run("suggest level cannot execute", func(t *testing.T) {
		assert.Contains(t, ValidateForExecution(base(), risk.DefaultPolicy(1)), "permission level")
	})

	t.Run("rejected decision", func(t *testing.T) {
		d := base()
		d.ApprovalState = decision.ApprovalRejected
		assert.Contains(t, ValidateForExecution(d, fullAuto), "rejected")
	})

	t.Run("not approved under semi_auto", func(t *testing.T) {
		d := base()
		d.ApprovalState = decision.ApprovalPending
		assert.Contains(t, ValidateForExecution(d, semiAuto), "not approved")
	})

	t.Run("confidence below minimum", func(t *testing.T) {
		d := base()
		d.Confidence = 0.5
		assert.Contains(t, ValidateForExecution(d, semiAuto), "confidence")
	})

	t.Run("blocked symbol", func(t *testing.T) {
		policy := risk.DefaultPolicy(1)
		policy.PermissionLevel = risk.PermissionSemiAuto
		policy.BlockedSymbols = []string{"BTCUSDT"}
		assert.Contains(t, ValidateForExecution(base(), policy), "not allowed")
	})
}
