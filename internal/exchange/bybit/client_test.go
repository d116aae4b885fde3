package bybit

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSign(t *testing.T) {
	c := &client{apiKey: "test-api-key", secretKey: "test-secret"}

	// HMAC SHA256 от timestamp + apiKey + recvWindow + payload
	sig := c.sign("1700000000000", "category=linear&symbol=BTCUSDT")
	assert.Equal(t, "184dd5531d8077974f3a400e537b3ec9b117b9915683f889177fe56e8a97f4e9", sig)
}

func TestSignEmptyPayload(t *testing.T) {
	c := &client{apiKey: "test-api-key", secretKey: "test-secret"}

	sig := c.sign("1700000000000", "")
	assert.Equal(t, "2423cdb13b6b937e9a3874a49fec2472e936763f7caac00642dd1220210e76e1", sig)
}

func TestToInterval(t *testing.T) {
	cases := map[string]string{
		"1m":  "1",
		"5m":  "5",
		"15m": "15",
		"1h":  "60",
		"4h":  "240",
		"1d":  "D",
	}
	for in, want := range cases {
		assert.Equal(t, want, toInterval(in), "interval %s", in)
	}
}
