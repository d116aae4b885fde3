package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradepilot/internal/apperr"
	"tradepilot/internal/connection"
	"tradepilot/internal/decision"
	"tradepilot/internal/exchange"
	"tradepilot/internal/journal"
	"tradepilot/internal/risk"
)

type fakeStore struct {
	mu sync.Mutex
	d  *decision.Decision
}

func (f *fakeStore) GetByID(ctx context.Context, id uuid.UUID) (*decision.Decision, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.d == nil || f.d.ID != id {
		return nil, nil
	}
	copied := *f.d
	return &copied, nil
}

func (f *fakeStore) Claim(ctx context.Context, id uuid.UUID) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.d.ExecutionState != decision.ExecutionPending {
		return false, nil
	}
	f.d.ExecutionState = decision.ExecutionExecuting
	return true, nil
}

func (f *fakeStore) Release(ctx context.Context, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.d.ExecutionState == decision.ExecutionExecuting {
		f.d.ExecutionState = decision.ExecutionPending
	}
	return nil
}

func (f *fakeStore) MarkExecuted(ctx context.Context, id uuid.UUID, price, slippage float64, tradeID *int64, warning *string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.d.ExecutionState = decision.ExecutionExecuted
	f.d.ExecutionPrice = &price
	f.d.Slippage = &slippage
	f.d.ExecutionTrade = tradeID
	f.d.ExecutionError = warning
	return nil
}

func (f *fakeStore) MarkFailed(ctx context.Context, id uuid.UUID, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.d.ExecutionState = decision.ExecutionFailed
	f.d.ExecutionError = &reason
	return nil
}

func (f *fakeStore) state() decision.ExecutionState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.d.ExecutionState
}

type fakeRiskGate struct {
	gateErr error
	policy  *risk.Policy
}

func (f *fakeRiskGate) CheckExecution(ctx context.Context, userID int64) error {
	return f.gateErr
}

func (f *fakeRiskGate) GetPolicy(ctx context.Context, userID int64) (*risk.Policy, error) {
	return f.policy, nil
}

type fakeAdapter struct {
	mu            sync.Mutex
	orders        []exchange.OrderRequest
	marketResult  *exchange.OrderResult
	marketErr     error
	protectiveErr error
	price         float64
}

func (f *fakeAdapter) TestConnection(ctx context.Context) (bool, error)          { return true, nil }
func (f *fakeAdapter) GetBalance(ctx context.Context) (*exchange.Balance, error) { return nil, nil }
func (f *fakeAdapter) GetTrades(ctx context.Context, filter exchange.TradeFilter) ([]exchange.Trade, error) {
	return nil, nil
}

func (f *fakeAdapter) GetOHLCV(ctx context.Context, symbol, interval string, limit int) ([]exchange.Candle, error) {
	return []exchange.Candle{{OpenTime: time.Now(), Close: f.price}}, nil
}

func (f *fakeAdapter) CreateOrder(ctx context.Context, req exchange.OrderRequest) (*exchange.OrderResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.orders = append(f.orders, req)

	if req.Type == exchange.OrderTypeMarket {
		if f.marketErr != nil {
			return nil, f.marketErr
		}
		return f.marketResult, nil
	}
	if f.protectiveErr != nil {
		return nil, f.protectiveErr
	}
	return &exchange.OrderResult{ID: "prot-1", Status: exchange.OrderStatusNew}, nil
}

func (f *fakeAdapter) marketOrders() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, o := range f.orders {
		if o.Type == exchange.OrderTypeMarket {
			n++
		}
	}
	return n
}

type fakeResolver struct {
	adapter exchange.Adapter
}

func (f *fakeResolver) Resolve(ctx context.Context, userID int64, exchangeID string) (*connection.Connection, error) {
	return &connection.Connection{ID: 1, UserID: userID, Exchange: "bybit"}, nil
}

func (f *fakeResolver) WithAdapter(ctx context.Context, c *connection.Connection, fn func(adapter exchange.Adapter) error) error {
	return fn(f.adapter)
}

type fakeJournal struct {
	mu     sync.Mutex
	err    error
	trades []journal.NewTrade
}

func (f *fakeJournal) CreateTrade(ctx context.Context, userID int64, t journal.NewTrade) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return 0, f.err
	}
	f.trades = append(f.trades, t)
	return int64(len(f.trades)), nil
}

func approvedDecision() *decision.Decision {
	stopLoss, takeProfit := 95.0, 110.0
	return &decision.Decision{
		ID:             uuid.New(),
		UserID:         1,
		PatternID:      uuid.New(),
		Type:           "suggest",
		Symbol:         "BTCUSDT",
		Side:           "buy",
		Confidence:     0.8,
		StopLoss:       &stopLoss,
		TakeProfit:     &takeProfit,
		ApprovalState:  decision.ApprovalApproved,
		ExecutionState: decision.ExecutionPending,
		SuggestedAt:    time.Now(),
	}
}

func semiAutoPolicy() *risk.Policy {
	p := risk.DefaultPolicy(1)
	p.PermissionLevel = risk.PermissionSemiAuto
	return p
}

type executionFixture struct {
	engine  *Engine
	store   *fakeStore
	adapter *fakeAdapter
	journal *fakeJournal
	gate    *fakeRiskGate
}

func newExecutionFixture(d *decision.Decision) *executionFixture {
	f := &executionFixture{
		store: &fakeStore{d: d},
		adapter: &fakeAdapter{
			price:        100,
			marketResult: &exchange.OrderResult{ID: "ord-1", Status: exchange.OrderStatusFilled, AveragePrice: 101, FilledQuantity: 1},
		},
		journal: &fakeJournal{},
		gate:    &fakeRiskGate{policy: semiAutoPolicy()},
	}
	f.engine = NewEngine(f.store, f.gate, &fakeResolver{adapter: f.adapter}, f.journal)
	return f
}

func TestExecuteSuccess(t *testing.T) {
	d := approvedDecision()
	f := newExecutionFixture(d)

	result, err := f.engine.Execute(context.Background(), 1, d.ID, "")
	require.NoError(t, err)

	assert.Equal(t, "executed", result.Status)
	assert.InDelta(t, 101, result.ExecutionPrice, 1e-9)
	// Референс 100, исполнение 101 → slippage 1%
	assert.InDelta(t, 0.01, result.Slippage, 1e-9)
	assert.Equal(t, decision.ExecutionExecuted, f.store.state())

	// Рыночный вход + стоп + тейк
	require.Len(t, f.adapter.orders, 3)
	assert.Equal(t, exchange.OrderTypeMarket, f.adapter.orders[0].Type)
	assert.Equal(t, exchange.OrderTypeStop, f.adapter.orders[1].Type)
	assert.True(t, f.adapter.orders[1].ReduceOnly)
	assert.Equal(t, "sell", f.adapter.orders[1].Side)
	assert.Equal(t, exchange.OrderTypeLimit, f.adapter.orders[2].Type)

	// Размер позиции: $100 по цене 100 → 1
	assert.InDelta(t, 1.0, f.adapter.orders[0].Quantity, 1e-9)

	require.Len(t, f.journal.trades, 1)
	trade := f.journal.trades[0]
	assert.Equal(t, "long", trade.Direction)
	assert.Equal(t, "auto", trade.Source)
	assert.Equal(t, d.ID.String(), trade.DecisionID)
	assert.Equal(t, int64(1), result.TradeID)
}

func TestExecuteAtMostOnce(t *testing.T) {
	d := approvedDecision()
	f := newExecutionFixture(d)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.engine.Execute(context.Background(), 1, d.ID, "")
		}(i)
	}
	wg.Wait()

	// Ровно один вызов дошёл до биржи
	assert.Equal(t, 1, f.adapter.marketOrders())

	failures := 0
	for _, err := range errs {
		if err != nil {
			failures++
		}
	}
	assert.Equal(t, 1, failures)
	assert.Equal(t, decision.ExecutionExecuted, f.store.state())
}

func TestExecuteBlockedByRiskGate(t *testing.T) {
	d := approvedDecision()
	f := newExecutionFixture(d)
	f.gate.gateErr = &apperr.RiskBlockedError{Gate: "kill_switch", Reason: "manual"}

	_, err := f.engine.Execute(context.Background(), 1, d.ID, "")
	rb, ok := apperr.IsRiskBlocked(err)
	require.True(t, ok)
	assert.Equal(t, "kill_switch", rb.Gate)

	// До биржи не дошли, решение возвращено в pending
	assert.Empty(t, f.adapter.orders)
	assert.Equal(t, decision.ExecutionPending, f.store.state())
}

func TestExecuteNotApprovedRefused(t *testing.T) {
	d := approvedDecision()
	d.ApprovalState = decision.ApprovalPending
	f := newExecutionFixture(d)

	_, err := f.engine.Execute(context.Background(), 1, d.ID, "")
	var validationErr *apperr.ValidationError
	require.True(t, errors.As(err, &validationErr))
	assert.Equal(t, decision.ExecutionPending, f.store.state())
	assert.Empty(t, f.adapter.orders)
}

func TestExecuteOrderRejected(t *testing.T) {
	d := approvedDecision()
	f := newExecutionFixture(d)
	f.adapter.marketResult = &exchange.OrderResult{Status: exchange.OrderStatusRejected, RejectReason: "insufficient balance"}

	result, err := f.engine.Execute(context.Background(), 1, d.ID, "")
	require.NoError(t, err)

	assert.Equal(t, "failed", result.Status)
	assert.Contains(t, result.Error, "insufficient balance")
	assert.Equal(t, decision.ExecutionFailed, f.store.state())
	assert.Empty(t, f.journal.trades)
}

func TestExecuteTransportErrorFails(t *testing.T) {
	d := approvedDecision()
	f := newExecutionFixture(d)
	f.adapter.marketErr = &apperr.ExternalApiError{Exchange: "bybit", Msg: "timeout"}

	_, err := f.engine.Execute(context.Background(), 1, d.ID, "")
	require.Error(t, err)
	assert.Equal(t, decision.ExecutionFailed, f.store.state())
}

func TestExecuteProtectiveOrderFailureIsWarning(t *testing.T) {
	d := approvedDecision()
	f := newExecutionFixture(d)
	f.adapter.protectiveErr = &apperr.ExternalApiError{Exchange: "bybit", Msg: "rate limited"}

	result, err := f.engine.Execute(context.Background(), 1, d.ID, "")
	require.NoError(t, err)

	// Позиция открыта: сбой защитных ордеров не откатывает исполнение
	assert.Equal(t, "executed", result.Status)
	assert.Contains(t, result.Warning, "stop loss")
	assert.Contains(t, result.Warning, "take profit")
	assert.Equal(t, decision.ExecutionExecuted, f.store.state())
	require.Len(t, f.journal.trades, 1)
}

func TestExecuteJournalFailureIsWarning(t *testing.T) {
	d := approvedDecision()
	f := newExecutionFixture(d)
	f.journal.err = errors.New("connection refused")

	result, err := f.engine.Execute(context.Background(), 1, d.ID, "")
	require.NoError(t, err)

	assert.Equal(t, "executed", result.Status)
	assert.Contains(t, result.Warning, "journal")
	assert.Zero(t, result.TradeID)
	assert.Equal(t, decision.ExecutionExecuted, f.store.state())
}

func TestExecuteUnknownDecision(t *testing.T) {
	d := approvedDecision()
	f := newExecutionFixture(d)

	_, err := f.engine.Execute(context.Background(), 1, uuid.New(), "")
	var notFoundErr *apperr.NotFoundError
	require.True(t, errors.As(err, &notFoundErr))
}
