package bybit

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/net/proxy"

	"tradepilot/internal/apperr"
	"tradepilot/internal/metrics"
)

const (
	baseURL    = "https://api.bybit.com"
	apiVersion = "/v5"
	recvWindow = "5000"
)

// client — низкоуровневый клиент Bybit REST API v5 с подписью запросов
type client struct {
	apiKey     string
	secretKey  string
	httpClient *http.Client
	cb         *gobreaker.CircuitBreaker
}

func newClient(apiKey, secretKey, proxyAddr string) *client {
	c := &client{
		apiKey:    apiKey,
		secretKey: secretKey,
	}

	c.cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "bybit-api",
		MaxRequests: 3,
		Interval:    5 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 3 && failureRatio >= 0.6
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			log.Printf("Circuit breaker '%s' changed from %s to %s", name, from, to)
		},
	})

	var httpClient *http.Client
	if proxyAddr != "" {
		proxyURL := &url.URL{Scheme: "socks5h", Host: proxyAddr}
		dialer, err := proxy.FromURL(proxyURL, proxy.Direct)
		if err != nil {
			log.Printf("Failed to create SOCKS5 dialer: %v", err)
			httpClient = &http.Client{Timeout: 15 * time.Second}
		} else {
			transport := &http.Transport{
				DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
					return dialer.Dial(network, addr)
				},
				IdleConnTimeout:       90 * time.Second,
				TLSHandshakeTimeout:   10 * time.Second,
				ExpectContinueTimeout: 1 * time.Second,
			}
			httpClient = &http.Client{Transport: transport, Timeout: 15 * time.Second}
		}
	} else {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}

	c.httpClient = httpClient
	return c
}

// sign создаёт HMAC SHA256 подпись: timestamp + apiKey + recvWindow + payload.
// Для GET payload — это query string, для POST — сырое тело запроса.
func (c *client) sign(timestamp, payload string) string {
	message := timestamp + c.apiKey + recvWindow + payload
	h := hmac.New(sha256.New, []byte(c.secretKey))
	h.Write([]byte(message))
	return hex.EncodeToString(h.Sum(nil))
}

func (c *client) getTimestamp() string {
	return strconv.FormatInt(time.Now().UnixMilli(), 10)
}

// doRequest выполняет запрос к Bybit API под circuit breaker'ом
func (c *client) doRequest(ctx context.Context, method, path string, params map[string]string, body []byte, signed bool) ([]byte, error) {
	start := time.Now()
	status := "ok"
	defer func() {
		metrics.ExchangeAPIRequestsTotal.WithLabelValues("bybit", path, status).Inc()
		metrics.ExchangeAPIRequestDuration.WithLabelValues("bybit", path).Observe(time.Since(start).Seconds())
	}()

	result, err := c.cb.Execute(func() (interface{}, error) {
		reqURL := baseURL + path

		queryString := ""
		if len(params) > 0 {
			values := url.Values{}
			for k, v := range params {
				values.Add(k, v)
			}
			queryString = values.Encode()
			if method == http.MethodGet {
				reqURL += "?" + queryString
			}
		}

		var reader io.Reader
		if len(body) > 0 {
			reader = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, reqURL, reader)
		if err != nil {
			return nil, fmt.Errorf("failed to create request: %v", err)
		}

		if signed && c.apiKey != "" {
			timestamp := c.getTimestamp()
			payload := queryString
			if method == http.MethodPost {
				payload = string(body)
			}
			signature := c.sign(timestamp, payload)

			req.Header.Set("X-BAPI-API-KEY", c.apiKey)
			req.Header.Set("X-BAPI-SIGN", signature)
			req.Header.Set("X-BAPI-SIGN-TYPE", "2")
			req.Header.Set("X-BAPI-TIMESTAMP", timestamp)
			req.Header.Set("X-BAPI-RECV-WINDOW", recvWindow)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, &apperr.ExternalApiError{Exchange: "bybit", Msg: err.Error()}
		}
		defer resp.Body.Close()

		respBody, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, &apperr.ExternalApiError{Exchange: "bybit", Msg: "failed to read response: " + err.Error()}
		}

		if resp.StatusCode != http.StatusOK {
			return nil, &apperr.ExternalApiError{
				Exchange:   "bybit",
				StatusCode: resp.StatusCode,
				Msg:        string(respBody),
			}
		}

		return respBody, nil
	})
	if err != nil {
		status = "error"
		return nil, err
	}
	return result.([]byte), nil
}
