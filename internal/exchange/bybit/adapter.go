package bybit

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"tradepilot/internal/apperr"
	"tradepilot/internal/exchange"
)

// Adapter — реализация exchange.Adapter поверх Bybit v5 (категория linear)
type Adapter struct {
	client *client
}

func New(creds exchange.Credentials) *Adapter {
	return &Adapter{client: newClient(creds.APIKey, creds.APISecret, "")}
}

// NewWithProxy создаёт адаптер, ходящий через SOCKS5 прокси
func NewWithProxy(creds exchange.Credentials, proxyAddr string) *Adapter {
	return &Adapter{client: newClient(creds.APIKey, creds.APISecret, proxyAddr)}
}

type envelope struct {
	RetCode int             `json:"retCode"`
	RetMsg  string          `json:"retMsg"`
	Result  json.RawMessage `json:"result"`
}

func (a *Adapter) call(ctx context.Context, method, path string, params map[string]string, body []byte, signed bool, out interface{}) error {
	respBody, err := a.client.doRequest(ctx, method, path, params, body, signed)
	if err != nil {
		return err
	}

	var env envelope
	if err := json.Unmarshal(respBody, &env); err != nil {
		return &apperr.ExternalApiError{Exchange: "bybit", Msg: "failed to parse response: " + err.Error()}
	}
	if env.RetCode != 0 {
		return &apperr.ExternalApiError{
			Exchange: "bybit",
			Msg:      fmt.Sprintf("code %d: %s", env.RetCode, env.RetMsg),
		}
	}
	if out != nil {
		if err := json.Unmarshal(env.Result, out); err != nil {
			return &apperr.ExternalApiError{Exchange: "bybit", Msg: "failed to parse result: " + err.Error()}
		}
	}
	return nil
}

func (a *Adapter) TestConnection(ctx context.Context) (bool, error) {
	if a.client.apiKey == "" || a.client.secretKey == "" {
		return false, nil
	}
	_, err := a.GetBalance(ctx)
	if err != nil {
		return false, err
	}
	return true, nil
}

func (a *Adapter) GetBalance(ctx context.Context) (*exchange.Balance, error) {
	var result struct {
		List []struct {
			AccountType           string `json:"accountType"`
			TotalEquity           string `json:"totalEquity"`
			TotalAvailableBalance string `json:"totalAvailableBalance"`
		} `json:"list"`
	}

	params := map[string]string{"accountType": "UNIFIED"}
	if err := a.call(ctx, http.MethodGet, apiVersion+"/account/wallet-balance", params, nil, true, &result); err != nil {
		return nil, err
	}
	if len(result.List) == 0 {
		return nil, &apperr.ExternalApiError{Exchange: "bybit", Msg: "empty wallet balance response"}
	}

	acc := result.List[0]
	total, _ := strconv.ParseFloat(acc.TotalEquity, 64)
	available, _ := strconv.ParseFloat(acc.TotalAvailableBalance, 64)
	return &exchange.Balance{
		TotalEquityUsd:     total,
		AvailableMarginUsd: available,
		AccountType:        acc.AccountType,
	}, nil
}

func (a *Adapter) GetTrades(ctx context.Context, filter exchange.TradeFilter) ([]exchange.Trade, error) {
	var result struct {
		List []struct {
			OrderID      string `json:"orderId"`
			Symbol       string `json:"symbol"`
			Side         string `json:"side"`
			Qty          string `json:"qty"`
			AvgExitPrice string `json:"avgExitPrice"`
			ClosedPnl    string `json:"closedPnl"`
			UpdatedTime  string `json:"updatedTime"`
		} `json:"list"`
	}

	params := map[string]string{"category": "linear"}
	if filter.Symbol != "" {
		params["symbol"] = filter.Symbol
	}
	if filter.Since != nil {
		params["startTime"] = strconv.FormatInt(filter.Since.UnixMilli(), 10)
	}
	if filter.Until != nil {
		params["endTime"] = strconv.FormatInt(filter.Until.UnixMilli(), 10)
	}
	if filter.Limit > 0 {
		params["limit"] = strconv.Itoa(filter.Limit)
	}

	if err := a.call(ctx, http.MethodGet, apiVersion+"/position/closed-pnl", params, nil, true, &result); err != nil {
		return nil, err
	}

	trades := make([]exchange.Trade, 0, len(result.List))
	for _, t := range result.List {
		price, _ := strconv.ParseFloat(t.AvgExitPrice, 64)
		qty, _ := strconv.ParseFloat(t.Qty, 64)
		pnl, _ := strconv.ParseFloat(t.ClosedPnl, 64)
		ms, _ := strconv.ParseInt(t.UpdatedTime, 10, 64)
		side := "buy"
		if t.Side == "Sell" {
			side = "sell"
		}
		trades = append(trades, exchange.Trade{
			ID:       t.OrderID,
			Symbol:   t.Symbol,
			Side:     side,
			Price:    price,
			Quantity: qty,
			Pnl:      pnl,
			Time:     time.UnixMilli(ms),
		})
	}
	return trades, nil
}

func (a *Adapter) GetOHLCV(ctx context.Context, symbol, interval string, limit int) ([]exchange.Candle, error) {
	var result struct {
		List [][]string `json:"list"`
	}

	params := map[string]string{
		"category": "linear",
		"symbol":   symbol,
		"interval": toInterval(interval),
	}
	if limit > 0 {
		params["limit"] = strconv.Itoa(limit)
	}

	if err := a.call(ctx, http.MethodGet, apiVersion+"/market/kline", params, nil, false, &result); err != nil {
		return nil, err
	}

	// Bybit отдаёт свечи от новых к старым; нормализуем в хронологический порядок
	candles := make([]exchange.Candle, 0, len(result.List))
	for i := len(result.List) - 1; i >= 0; i-- {
		row := result.List[i]
		if len(row) < 6 {
			continue
		}
		ms, _ := strconv.ParseInt(row[0], 10, 64)
		open, _ := strconv.ParseFloat(row[1], 64)
		high, _ := strconv.ParseFloat(row[2], 64)
		low, _ := strconv.ParseFloat(row[3], 64)
		cls, _ := strconv.ParseFloat(row[4], 64)
		vol, _ := strconv.ParseFloat(row[5], 64)
		candles = append(candles, exchange.Candle{
			OpenTime: time.UnixMilli(ms),
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
	payload := map[string]interface{}{
		"category":  "linear",
		"symbol":    req.Symbol,
		"side":      toSide(req.Side),
		"orderType": "Market",
		"qty":       strconv.FormatFloat(req.Quantity, 'f', -1, 64),
	}
	switch req.Type {
	case exchange.OrderTypeLimit:
		payload["orderType"] = "Limit"
		payload["price"] = strconv.FormatFloat(req.Price, 'f', -1, 64)
		payload["timeInForce"] = "GTC"
	case exchange.OrderTypeStop:
		payload["triggerPrice"] = strconv.FormatFloat(req.StopPrice, 'f', -1, 64)
	}
	if req.ReduceOnly {
		payload["reduceOnly"] = true
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal order: %w", err)
	}

	respBody, err := a.client.doRequest(ctx, http.MethodPost, apiVersion+"/order/create", nil, body, true)
	if err != nil {
		return nil, err
	}

	var env envelope
	if err := json.Unmarshal(respBody, &env); err != nil {
		return nil, &apperr.ExternalApiError{Exchange: "bybit", Msg: "failed to parse response: " + err.Error()}
	}
	if env.RetCode != 0 {
		// Бизнес-отказ биржи — первоклассный результат, не ошибка
		return &exchange.OrderResult{
			Status:       exchange.OrderStatusRejected,
			RejectReason: fmt.Sprintf("code %d: %s", env.RetCode, env.RetMsg),
		}, nil
	}

	var result struct {
		OrderID string `json:"orderId"`
	}
	if err := json.Unmarshal(env.Result, &result); err != nil {
		return nil, &apperr.ExternalApiError{Exchange: "bybit", Msg: "failed to parse result: " + err.Error()}
	}

	// Создание ордера в v5 не возвращает цену исполнения;
	// вызывающий берёт референсную цену
	return &exchange.OrderResult{
		ID:             result.OrderID,
		Status:         exchange.OrderStatusFilled,
		FilledQuantity: req.Quantity,
	}, nil
}

func toSide(side string) string {
	if side == "sell" {
		return "Sell"
	}
	return "Buy"
}

// toInterval переводит "1m"/"5m"/"1h" в формат интервалов Bybit
func toInterval(interval string) string {
	switch interval {
	case "1m":
		return "1"
	case "5m":
		return "5"
	case "15m":
		return "15"
	case "1h":
		return "60"
	case "4h":
		return "240"
	case "1d":
		return "D"
	default:
		return "1"
	}
}
