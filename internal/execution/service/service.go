package service

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"tradepilot/internal/apperr"
	"tradepilot/internal/connection"
	"tradepilot/internal/decision"
	decisionsvc "tradepilot/internal/decision/service"
	"tradepilot/internal/exchange"
	"tradepilot/internal/journal"
	"tradepilot/internal/metrics"
	"tradepilot/internal/risk"
)

// DecisionStore — переходы состояния исполнения решения
type DecisionStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*decision.Decision, error)
	Claim(ctx context.Context, id uuid.UUID) (bool, error)
	Release(ctx context.Context, id uuid.UUID) error
	MarkExecuted(ctx context.Context, id uuid.UUID, price, slippage float64, tradeID *int64, warning *string) error
	MarkFailed(ctx context.Context, id uuid.UUID, reason string) error
}

// RiskGate — свежая проверка блокировок перед каждой попыткой исполнения
type RiskGate interface {
	CheckExecution(ctx context.Context, userID int64) error
	GetPolicy(ctx context.Context, userID int64) (*risk.Policy, error)
}

// ConnectionResolver — доступ к бирже через подключение пользователя
type ConnectionResolver interface {
	Resolve(ctx context.Context, userID int64, exchangeID string) (*connection.Connection, error)
	WithAdapter(ctx context.Context, c *connection.Connection, fn func(adapter exchange.Adapter) error) error
}

// TradeJournal — запись созданной сделки в журнал
type TradeJournal interface {
	CreateTrade(ctx context.Context, userID int64, t journal.NewTrade) (int64, error)
}

// Result — итог попытки исполнения. Отклонение биржей — тоже итог,
// а не ошибка транспорта.
type Result struct {
	DecisionID     uuid.UUID `json:"decision_id"`
	Status         string    `json:"status"` // "executed" | "failed"
	OrderID        string    `json:"order_id,omitempty"`
	ExecutionPrice float64   `json:"execution_price,omitempty"`
	Slippage       float64   `json:"slippage,omitempty"`
	Quantity       float64   `json:"quantity,omitempty"`
	TradeID        int64     `json:"trade_id,omitempty"`
	Warning        string    `json:"warning,omitempty"`
	Error          string    `json:"error,omitempty"`
}

// Engine исполняет одобренные решения на бирже: at-most-once захват,
// рыночный вход, best-effort стоп-лосс и тейк-профит, запись в журнал.
type Engine struct {
	Decisions   DecisionStore
	Risk        RiskGate
	Connections ConnectionResolver
	Journal     TradeJournal
}

func NewEngine(decisions DecisionStore, riskGate RiskGate, connections ConnectionResolver, tradeJournal TradeJournal) *Engine {
	return &Engine{
		Decisions:   decisions,
		Risk:        riskGate,
		Connections: connections,
		Journal:     tradeJournal,
	}
}

// Execute исполняет решение на бирже exchangeID (пустая строка — самое
// свежее подключение). Порядок жёсткий: статическая валидация → захват
// pending → executing → свежий риск-гейт → ордер. Из двух конкурентных
// вызовов биржу увидит ровно один.
func (e *Engine) Execute(ctx context.Context, userID int64, decisionID uuid.UUID, exchangeID string) (*Result, error) {
	d, err := e.Decisions.GetByID(ctx, decisionID)
	if err != nil {
		return nil, err
	}
	if d == nil || d.UserID != userID {
		return nil, apperr.NotFound("decision", decisionID.String())
	}

	policy, err := e.Risk.GetPolicy(ctx, userID)
	if err != nil {
		return nil, err
	}
	if reason := decisionsvc.ValidateForExecution(d, policy); reason != "" {
		return nil, apperr.Validation("decision", reason)
	}

	claimed, err := e.Decisions.Claim(ctx, decisionID)
	if err != nil {
		return nil, err
	}
	if !claimed {
		// Конкурентный вызов успел первым
		return nil, apperr.Validation("decision", "decision has already been executed")
	}

	// Риск-гейт читается свежим уже под захватом: ничто не проскочит
	// между проверкой и ордером
	if err := e.Risk.CheckExecution(ctx, userID); err != nil {
		if releaseErr := e.Decisions.Release(ctx, decisionID); releaseErr != nil {
			log.Printf("ExecutionEngine: failed to release decision %s: %v", decisionID, releaseErr)
		}
		return nil, err
	}

	conn, err := e.Connections.Resolve(ctx, userID, exchangeID)
	if err != nil {
		if releaseErr := e.Decisions.Release(ctx, decisionID); releaseErr != nil {
			log.Printf("ExecutionEngine: failed to release decision %s: %v", decisionID, releaseErr)
		}
		return nil, err
	}

	result := &Result{DecisionID: decisionID}
	err = e.Connections.WithAdapter(ctx, conn, func(adapter exchange.Adapter) error {
		return e.placeOrders(ctx, adapter, d, policy, result)
	})
	if err != nil {
		e.fail(ctx, decisionID, err.Error())
		return nil, err
	}
	if result.Status == "failed" {
		e.fail(ctx, decisionID, result.Error)
		return result, nil
	}

	trade := journal.NewTrade{
		Symbol:     d.Symbol,
		Direction:  sideToDirection(d.Side),
		EntryPrice: result.ExecutionPrice,
		Quantity:   result.Quantity,
		Source:     "auto",
		DecisionID: d.ID.String(),
		EntryTime:  time.Now(),
	}
	var tradeID *int64
	if id, journalErr := e.Journal.CreateTrade(ctx, userID, trade); journalErr != nil {
		// Ордер уже на бирже: исполнение состоялось, журнал догоним позже
		log.Printf("ExecutionEngine: failed to journal trade for decision %s: %v", decisionID, journalErr)
		result.Warning = appendWarning(result.Warning, "trade journal write failed")
	} else {
		tradeID = &id
		result.TradeID = id
	}

	var warning *string
	if result.Warning != "" {
		warning = &result.Warning
	}
	if err := e.Decisions.MarkExecuted(ctx, decisionID, result.ExecutionPrice, result.Slippage, tradeID, warning); err != nil {
		return nil, err
	}

	metrics.ExecutionsTotal.WithLabelValues("executed").Inc()
	result.Status = "executed"
	log.Printf("ExecutionEngine: decision %s executed at %.4f (slippage %.4f%%)",
		decisionID, result.ExecutionPrice, result.Slippage*100)
	return result, nil
}

// placeOrders размещает рыночный вход и best-effort защитные ордера.
// Сбой стопа или тейка не откатывает уже открытую позицию.
func (e *Engine) placeOrders(ctx context.Context, adapter exchange.Adapter, d *decision.Decision, policy *risk.Policy, result *Result) error {
	refPrice, err := e.referencePrice(ctx, adapter, d)
	if err != nil {
		return err
	}

	positionUsd := policy.BasePositionUsd
	if d.PositionSize != nil && *d.PositionSize > 0 {
		positionUsd = *d.PositionSize
	}
	quantity := positionUsd / refPrice

	order, err := adapter.CreateOrder(ctx, exchange.OrderRequest{
		Symbol:   d.Symbol,
		Side:     d.Side,
		Type:     exchange.OrderTypeMarket,
		Quantity: quantity,
	})
	if err != nil {
		return err
	}
	if order.Status == exchange.OrderStatusRejected {
		result.Status = "failed"
		result.Error = fmt.Sprintf("order rejected: %s", order.RejectReason)
		return nil
	}

	fillPrice := order.AveragePrice
	if fillPrice <= 0 {
		fillPrice = refPrice
	}
	filledQty := order.FilledQuantity
	if filledQty <= 0 {
		filledQty = quantity
	}

	result.OrderID = order.ID
	result.ExecutionPrice = fillPrice
	result.Slippage = (fillPrice - refPrice) / refPrice
	result.Quantity = filledQty

	closeSide := "sell"
	if d.Side == "sell" {
		closeSide = "buy"
	}

	if d.StopLoss != nil && *d.StopLoss > 0 {
		_, slErr := adapter.CreateOrder(ctx, exchange.OrderRequest{
			Symbol:     d.Symbol,
			Side:       closeSide,
			Type:       exchange.OrderTypeStop,
			Quantity:   filledQty,
			StopPrice:  *d.StopLoss,
			ReduceOnly: true,
		})
		if slErr != nil {
			log.Printf("ExecutionEngine: stop loss for decision %s failed: %v", d.ID, slErr)
			result.Warning = appendWarning(result.Warning, "stop loss order failed")
		}
	}
	if d.TakeProfit != nil && *d.TakeProfit > 0 {
		_, tpErr := adapter.CreateOrder(ctx, exchange.OrderRequest{
			Symbol:     d.Symbol,
			Side:       closeSide,
			Type:       exchange.OrderTypeLimit,
			Quantity:   filledQty,
			Price:      *d.TakeProfit,
			ReduceOnly: true,
		})
		if tpErr != nil {
			log.Printf("ExecutionEngine: take profit for decision %s failed: %v", d.ID, tpErr)
			result.Warning = appendWarning(result.Warning, "take profit order failed")
		}
	}

	return nil
}

// referencePrice — цена для расчёта количества и slippage: последняя
// минутная свеча, при недоступности — entry_price решения
func (e *Engine) referencePrice(ctx context.Context, adapter exchange.Adapter, d *decision.Decision) (float64, error) {
	candles, err := adapter.GetOHLCV(ctx, d.Symbol, "1m", 1)
	if err == nil && len(candles) > 0 && candles[len(candles)-1].Close > 0 {
		return candles[len(candles)-1].Close, nil
	}
	if d.EntryPrice != nil && *d.EntryPrice > 0 {
		return *d.EntryPrice, nil
	}
	if err != nil {
		return 0, err
	}
	return 0, &apperr.ExternalApiError{Msg: "no market price available for " + d.Symbol}
}

func (e *Engine) fail(ctx context.Context, decisionID uuid.UUID, reason string) {
	metrics.ExecutionsTotal.WithLabelValues("failed").Inc()
	if err := e.Decisions.MarkFailed(ctx, decisionID, reason); err != nil {
		log.Printf("ExecutionEngine: failed to mark decision %s failed: %v", decisionID, err)
	}
}

func sideToDirection(side string) string {
	if side == "sell" {
		return "short"
	}
	return "long"
}

func appendWarning(existing, warning string) string {
	if existing == "" {
		return warning
	}
	return strings.Join([]string{existing, warning}, "; ")
}
