package gateway

import (
	"testing"

	"tradegate/internal/gateway/binance"
	"tradegate/internal/gateway/bybit"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewCandleFetcher(t *testing.T) {
	client := bybit.New(bybit.Config{})

	got, err := NewCandleFetcher("", client)
	require.NoError(t, err)
	assert.Same(t, client, got)

	got, err = NewCandleFetcher("Binance", client)
	require.NoError(t, err)
	assert.IsType(t, &binance.Source{}, got)

	_, err = NewCandleFetcher("bybit", nil)
	assert.Error(t, err)
	_, err = NewCandleFetcher("okx", client)
	assert.Error(t, err)
}
