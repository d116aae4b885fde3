package exchange

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradepilot/internal/apperr"
)

type stubAdapter struct {
	creds Credentials
}

func (s *stubAdapter) TestConnection(ctx context.Context) (bool, error) { return true, nil }
func (s *stubAdapter) GetBalance(ctx context.Context) (*Balance, error) { return nil, nil }
func (s *stubAdapter) GetTrades(ctx context.Context, filter TradeFilter) ([]Trade, error) {
	return nil, nil
}
func (s *stubAdapter) GetOHLCV(ctx context.Context, symbol, interval string, limit int) ([]Candle, error) {
	return nil, nil
}
func (s *stubAdapter) CreateOrder(ctx context.Context, req OrderRequest) (*OrderResult, error) {
	return nil, nil
}

func TestRegistryUnknownExchange(t *testing.T) {
	r := NewRegistry()

	_, err := r.New("kraken", Credentials{})
	require.Error(t, err)

	var unsupported *apperr.UnsupportedExchangeError
	require.True(t, errors.As(err, &unsupported))
	assert.Equal(t, "kraken", unsupported.ID)
}

func TestRegistryDispatch(t *testing.T) {
	r := NewRegistry()
	r.Register("binance", func(creds Credentials) Adapter {
		return &stubAdapter{creds: creds}
	})

	a, err := r.New("binance", Credentials{APIKey: "key", APISecret: "secret"})
	require.NoError(t, err)

	stub, ok := a.(*stubAdapter)
	require.True(t, ok)
	assert.Equal(t, "key", stub.creds.APIKey)
}

func TestRegistrySupportedSorted(t *testing.T) {
	r := NewRegistry()
	r.Register("bybit", func(creds Credentials) Adapter { return &stubAdapter{} })
	r.Register("binance", func(creds Credentials) Adapter { return &stubAdapter{} })

	assert.Equal(t, []string{"binance", "bybit"}, r.Supported())
}
