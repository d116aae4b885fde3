package exchange

import (
	"context"
	"time"
)

// Credentials — расшифрованные ключи подключения.
// Живут только в пределах одного вызова Execution Engine.
type Credentials struct {
	APIKey     string
	APISecret  string
	Passphrase string
}

// Balance — нормализованный баланс аккаунта
type Balance struct {
	TotalEquityUsd     float64 `json:"total_equity_usd"`
	AvailableMarginUsd float64 `json:"available_margin_usd"`
	AccountType        string  `json:"account_type"`
}

// Candle — нормализованная свеча OHLCV
type Candle struct {
	OpenTime time.Time `json:"open_time"`
	Open     float64   `json:"open"`
	High     float64   `json:"high"`
	Low      float64   `json:"low"`
	Close    float64   `json:"close"`
	Volume   float64   `json:"volume"`
}

// Trade — сделка из истории биржи (для синхронизации журнала)
type Trade struct {
	ID       string    `json:"id"`
	Symbol   string    `json:"symbol"`
	Side     string    `json:"side"`
	Price    float64   `json:"price"`
	Quantity float64   `json:"quantity"`
	Pnl      float64   `json:"pnl"`
	Time     time.Time `json:"time"`
}

// TradeFilter ограничивает выборку истории сделок
type TradeFilter struct {
	Symbol string
	Since  *time.Time
	Until  *time.Time
	Limit  int
}

type OrderType string

const (
	OrderTypeMarket OrderType = "market"
	OrderTypeLimit  OrderType = "limit"
	OrderTypeStop   OrderType = "stop"
)

type OrderRequest struct {
	Symbol     string
	Side       string // "buy" | "sell"
	Type       OrderType
	Quantity   float64
	Price      float64 // для limit
	StopPrice  float64 // для stop
	ReduceOnly bool
}

type OrderStatus string

const (
	OrderStatusFilled          OrderStatus = "filled"
	OrderStatusPartiallyFilled OrderStatus = "partially_filled"
	OrderStatusNew             OrderStatus = "new"
	OrderStatusRejected        OrderStatus = "rejected"
)

// OrderResult — результат размещения ордера. Отклонённые и частично
// исполненные ордера — это результат, а не ошибка; ошибкой считаются
// только транспортные сбои (таймаут, 5xx).
type OrderResult struct {
	ID             string      `json:"id"`
	Status         OrderStatus `json:"status"`
	AveragePrice   float64     `json:"average_price"`
	FilledQuantity float64     `json:"filled_quantity"`
	RejectReason   string      `json:"reject_reason,omitempty"`
}

// Adapter — единый контракт поверх REST API конкретной биржи.
// Каждая реализация сама отвечает за подпись запросов и нормализацию ответов.
type Adapter interface {
	TestConnection(ctx context.Context) (bool, error)
	GetBalance(ctx context.Context) (*Balance, error)
	GetTrades(ctx context.Context, filter TradeFilter) ([]Trade, error)
	GetOHLCV(ctx context.Context, symbol, interval string, limit int) ([]Candle, error)
	CreateOrder(ctx context.Context, req OrderRequest) (*OrderResult, error)
}
