package service

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"tradepilot/internal/apperr"
	"tradepilot/internal/decision"
	"tradepilot/internal/metrics"
	"tradepilot/internal/pattern"
	"tradepilot/internal/risk"
)

// DecisionRepository — интерфейс хранилища решений
type DecisionRepository interface {
	Create(ctx context.Context, d *decision.Decision) error
	GetByID(ctx context.Context, id uuid.UUID) (*decision.Decision, error)
	ListByUser(ctx context.Context, userID int64, limit int) ([]*decision.Decision, error)
	HasOpen(ctx context.Context, patternID uuid.UUID) (bool, error)
	SetResponse(ctx context.Context, id uuid.UUID, state decision.ApprovalState, p *decision.ModifiedParams) (bool, error)
}

// PatternSource отдаёт выученные паттерны пользователя
type PatternSource interface {
	ListByUser(ctx context.Context, userID int64) ([]*pattern.Pattern, error)
}

// PolicyProvider отдаёт риск-политику пользователя
type PolicyProvider interface {
	GetPolicy(ctx context.Context, userID int64) (*risk.Policy, error)
}

const defaultListLimit = 50

// Service управляет жизненным циклом решений: генерация из паттернов,
// ответ пользователя, проверки перед исполнением.
type Service struct {
	Repo     DecisionRepository
	Patterns PatternSource
	Policies PolicyProvider
}

func NewService(repo DecisionRepository, patterns PatternSource, policies PolicyProvider) *Service {
	return &Service{Repo: repo, Patterns: patterns, Policies: policies}
}

// Generate создаёт новые решения из паттернов, проходящих фильтры политики.
// Паттерн с незакрытым решением пропускается — дубликаты не плодим.
func (s *Service) Generate(ctx context.Context, userID int64) ([]*decision.Decision, error) {
	policy, err := s.Policies.GetPolicy(ctx, userID)
	if err != nil {
		return nil, err
	}

	// На observe ассистент только наблюдает, предложений нет
	if !policy.IsActive || policy.PermissionLevel == risk.PermissionObserve {
		return []*decision.Decision{}, nil
	}

	if policy.AllowedHours != nil && !policy.AllowedHours.Contains(time.Now().UTC().Hour()) {
		return []*decision.Decision{}, nil
	}

	patterns, err := s.Patterns.ListByUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	decisionType := "suggest"
	if policy.PermissionLevel == risk.PermissionFullAuto {
		decisionType = "auto"
	}

	created := []*decision.Decision{}
	for _, p := range patterns {
		if p.Confidence < policy.MinConfidence || p.SampleSize < policy.MinPatternSamples {
			continue
		}
		if !policy.SymbolAllowed(p.Symbol) {
			continue
		}

		open, err := s.Repo.HasOpen(ctx, p.ID)
		if err != nil {
			return nil, err
		}
		if open {
			continue
		}

		d := buildDecision(userID, p, policy, decisionType)
		if err := s.Repo.Create(ctx, d); err != nil {
			return nil, err
		}
		metrics.DecisionsGenerated.WithLabelValues(decisionType).Inc()
		created = append(created, d)
	}

	if len(created) > 0 {
		log.Printf("Decision: generated %d decisions for user %d", len(created), userID)
	}
	return created, nil
}

func buildDecision(userID int64, p *pattern.Pattern, policy *risk.Policy, decisionType string) *decision.Decision {
	side := "buy"
	if p.Direction == "short" {
		side = "sell"
	}

	positionSize := policy.BasePositionUsd

	reasoning := []string{
		fmt.Sprintf("pattern %s/%s/%s has %.0f%% win rate over %d trades",
			p.Symbol, p.SetupType, p.Direction, p.WinRate*100, p.SampleSize),
		fmt.Sprintf("average P&L %.2f USD (%.2f%%) per trade", p.AvgPnl, p.AvgPnlPercent*100),
		fmt.Sprintf("confidence %.2f meets policy minimum %.2f", p.Confidence, policy.MinConfidence),
	}

	return &decision.Decision{
		ID:             uuid.New(),
		UserID:         userID,
		PatternID:      p.ID,
		Type:           decisionType,
		Symbol:         p.Symbol,
		Side:           side,
		Confidence:     p.Confidence,
		Reasoning:      reasoning,
		PositionSize:   &positionSize,
		ApprovalState:  decision.ApprovalPending,
		ExecutionState: decision.ExecutionPending,
		SuggestedAt:    time.Now(),
	}
}

// Get возвращает решение с проверкой принадлежности пользователю
func (s *Service) Get(ctx context.Context, userID int64, id uuid.UUID) (*decision.Decision, error) {
	d, err := s.Repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if d == nil || d.UserID != userID {
		return nil, apperr.NotFound("decision", id.String())
	}
	return d, nil
}

// List возвращает решения пользователя, свежие первыми
func (s *Service) List(ctx context.Context, userID int64) ([]*decision.Decision, error) {
	return s.Repo.ListByUser(ctx, userID, defaultListLimit)
}

// Respond записывает ответ пользователя на предложение. Переопределения
// параметров накладываются поверх предложенных: последний ответ решает.
func (s *Service) Respond(ctx context.Context, userID int64, id uuid.UUID, approved bool, params *decision.ModifiedParams) (*decision.Decision, error) {
	d, err := s.Get(ctx, userID, id)
	if err != nil {
		return nil, err
	}

	if d.ExecutionState == decision.ExecutionExecuted {
		return nil, apperr.Validation("decision", "decision is already executed and immutable")
	}
	if d.ApprovalState != decision.ApprovalPending {
		return nil, apperr.Validation("decision", fmt.Sprintf("decision is already %s", d.ApprovalState))
	}

	state := decision.ApprovalRejected
	if approved {
		state = decision.ApprovalApproved
	}

	ok, err := s.Repo.SetResponse(ctx, id, state, params)
	if err != nil {
		return nil, err
	}
	if !ok {
		// Гонка: кто-то ответил между чтением и обновлением
		return nil, apperr.Validation("decision", "decision was already responded to")
	}

	return s.Get(ctx, userID, id)
}

// ValidateForExecution проверяет, что решение вообще допустимо к исполнению.
// Возвращает причину отказа; пустая строка — решение проходит.
func ValidateForExecution(d *decision.Decision, policy *risk.Policy) string {
	switch d.ExecutionState {
	case decision.ExecutionExecuted:
		return "decision has already been executed"
	case decision.ExecutionExecuting:
		return "decision execution is already in progress"
	case decision.ExecutionFailed:
		return "decision execution has already failed"
	}

	if !policy.PermissionLevel.CanExecute() {
		return fmt.Sprintf("permission level %q does not allow execution", policy.PermissionLevel)
	}
	if d.ApprovalState == decision.ApprovalRejected {
		return "decision was rejected"
	}
	// На full_auto одобрение подразумевается, на semi_auto — обязательно
	if d.ApprovalState != decision.ApprovalApproved && policy.PermissionLevel != risk.PermissionFullAuto {
		return "decision is not approved"
	}
	if d.Confidence < policy.MinConfidence {
		return fmt.Sprintf("confidence %.2f below policy minimum %.2f", d.Confidence, policy.MinConfidence)
	}
	if !policy.SymbolAllowed(d.Symbol) {
		return fmt.Sprintf("symbol %s is not allowed by policy", d.Symbol)
	}
	return ""
}
