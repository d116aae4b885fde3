package binance

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/adshao/go-binance/v2"
	"github.com/adshao/go-binance/v2/common"
	"github.com/adshao/go-binance/v2/futures"

	"tradepilot/internal/apperr"
	"tradepilot/internal/exchange"
)

const requestTimeout = 15 * time.Second

// Adapter — реализация exchange.Adapter поверх Binance USDT-M futures
type Adapter struct {
	SpotClient    *binance.Client
	FuturesClient *futures.Client
}

func New(creds exchange.Credentials) *Adapter {
	spot := binance.NewClient(creds.APIKey, creds.APISecret)
	fut := binance.NewFuturesClient(creds.APIKey, creds.APISecret)
	spot.HTTPClient = &http.Client{Timeout: requestTimeout}
	fut.HTTPClient = &http.Client{Timeout: requestTimeout}
	return &Adapter{SpotClient: spot, FuturesClient: fut}
}

func (a *Adapter) TestConnection(ctx context.Context) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	// Запрос аккаунта проверяет и доступность API, и валидность ключей
	_, err := a.FuturesClient.NewGetAccountService().Do(ctx)
	if err != nil {
		return false, wrapErr("account", err)
	}
	return true, nil
}

func (a *Adapter) GetBalance(ctx context.Context) (*exchange.Balance, error) {
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	acc, err := a.FuturesClient.NewGetAccountService().Do(ctx)
	if err != nil {
		return nil, wrapErr("account", err)
	}

	total, _ := strconv.ParseFloat(acc.TotalWalletBalance, 64)
	available, _ := strconv.ParseFloat(acc.AvailableBalance, 64)
	return &exchange.Balance{
		TotalEquityUsd:     total,
		AvailableMarginUsd: available,
		AccountType:        "futures",
	}, nil
}

func (a *Adapter) GetTrades(ctx context.Context, filter exchange.TradeFilter) ([]exchange.Trade, error) {
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	svc := a.FuturesClient.NewListAccountTradeService()
	if filter.Symbol != "" {
		svc.Symbol(filter.Symbol)
	}
	if filter.Since != nil {
		svc.StartTime(filter.Since.UnixMilli())
	}
	if filter.Until != nil {
		svc.EndTime(filter.Until.UnixMilli())
	}
	if filter.Limit > 0 {
		svc.Limit(filter.Limit)
	}

	raw, err := svc.Do(ctx)
	if err != nil {
		return nil, wrapErr("trades", err)
	}

	trades := make([]exchange.Trade, 0, len(raw))
	for _, t := range raw {
		price, _ := strconv.ParseFloat(t.Price, 64)
		qty, _ := strconv.ParseFloat(t.Quantity, 64)
		pnl, _ := strconv.ParseFloat(t.RealizedPnl, 64)
		side := "sell"
		if t.Buyer {
			side = "buy"
		}
		trades = append(trades, exchange.Trade{
			ID:       strconv.FormatInt(t.ID, 10),
			Symbol:   t.Symbol,
			Side:     side,
			Price:    price,
			Quantity: qty,
			Pnl:      pnl,
			Time:     time.UnixMilli(t.Time),
		})
	}
	return trades, nil
}

func (a *Adapter) GetOHLCV(ctx context.Context, symbol, interval string, limit int) ([]exchange.Candle, error) {
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	svc := a.FuturesClient.NewKlinesService().Symbol(symbol).Interval(interval)
	if limit > 0 {
		svc.Limit(limit)
	}
	raw, err := svc.Do(ctx)
	if err != nil {
		return nil, wrapErr("klines", err)
	}

	candles := make([]exchange.Candle, 0, len(raw))
	for _, k := range raw {
		open, _ := strconv.ParseFloat(k.Open, 64)
		high, _ := strconv.ParseFloat(k.High, 64)
		low, _ := strconv.ParseFloat(k.Low, 64)
		cls, _ := strconv.ParseFloat(k.Close, 64)
		vol, _ := strconv.ParseFloat(k.Volume, 64)
		candles = append(candles, exchange.Candle{
			OpenTime: time.UnixMilli(k.OpenTime),
			Open:     open,
			High:     high,
			Low:      low,
			Close:    cls,
			Volume:   vol,
		})
	}
	return candles, nil
}

func (a *Adapter) CreateOrder(ctx context.Context, req exchange.OrderRequest) (*exchange.OrderResult, error) {
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	svc := a.FuturesClient.NewCreateOrderService().
		Symbol(req.Symbol).
		Side(toSide(req.Side)).
		Quantity(formatQty(req.Quantity)).
		NewOrderResponseType(futures.NewOrderRespTypeRESULT)

	switch req.Type {
	case exchange.OrderTypeMarket:
		svc.Type(futures.OrderTypeMarket)
	case exchange.OrderTypeLimit:
		svc.Type(futures.OrderTypeLimit).
			TimeInForce(futures.TimeInForceTypeGTC).
			Price(formatQty(req.Price))
	case exchange.OrderTypeStop:
		svc.Type(futures.OrderTypeStopMarket).
			StopPrice(formatQty(req.StopPrice))
	default:
		return nil, fmt.Errorf("unsupported order type: %s", req.Type)
	}
	if req.ReduceOnly {
		svc.ReduceOnly(true)
	}

	resp, err := svc.Do(ctx)
	if err != nil {
		// Отказ биржи (бизнес-код) — результат, транспортный сбой — ошибка
		var apiErr *common.APIError
		if errors.As(err, &apiErr) {
			return &exchange.OrderResult{
				Status:       exchange.OrderStatusRejected,
				RejectReason: fmt.Sprintf("code %d: %s", apiErr.Code, apiErr.Message),
			}, nil
		}
		return nil, wrapErr("order", err)
	}

	avgPrice, _ := strconv.ParseFloat(resp.AvgPrice, 64)
	filled, _ := strconv.ParseFloat(resp.ExecutedQuantity, 64)
	return &exchange.OrderResult{
		ID:             strconv.FormatInt(resp.OrderID, 10),
		Status:         toStatus(resp.Status),
		AveragePrice:   avgPrice,
		FilledQuantity: filled,
	}, nil
}

func toSide(side string) futures.SideType {
	if side == "sell" {
		return futures.SideTypeSell
	}
	return futures.SideTypeBuy
}

func toStatus(s futures.OrderStatusType) exchange.OrderStatus {
	switch s {
	case futures.OrderStatusTypeFilled:
		return exchange.OrderStatusFilled
	case futures.OrderStatusTypePartiallyFilled:
		return exchange.OrderStatusPartiallyFilled
	case futures.OrderStatusTypeRejected, futures.OrderStatusTypeExpired:
		return exchange.OrderStatusRejected
	default:
		return exchange.OrderStatusNew
	}
}

func formatQty(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func wrapErr(endpoint string, err error) error {
	var apiErr *common.APIError
	if errors.As(err, &apiErr) {
		return &apperr.ExternalApiError{
			Exchange: "binance",
			Msg:      fmt.Sprintf("%s: code %d: %s", endpoint, apiErr.Code, apiErr.Message),
		}
	}
	return &apperr.ExternalApiError{Exchange: "binance", Msg: endpoint + ": " + err.Error()}
}
