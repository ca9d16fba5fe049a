package payment

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/safar/go-marketplace/internal/models"
)

func TestSimulatedGatewayDefaultsToSuccess(t *testing.T) {
	g := NewSimulatedGateway()

	res, err := g.Capture(context.Background(), 7, decimal.RequireFromString("12.5"), "USD")
	require.NoError(t, err)

	assert.Equal(t, models.GatewaySuccess, res.Status)
	assert.True(t, strings.HasPrefix(res.Reference, "SIM-"))

	var raw map[string]string
	require.NoError(t, json.Unmarshal(res.RawResponse, &raw))
	assert.Equal(t, "12.50", raw["amount"])
	assert.Equal(t, "USD", raw["currency"])
}

func TestSimulatedGatewayScriptedOutcome(t *testing.T) {
	g := NewSimulatedGateway()
	g.SetOutcome(3, models.GatewayFailure)

	res, err := g.Capture(context.Background(), 3, decimal.NewFromInt(1), "USD")
	require.NoError(t, err)
	assert.Equal(t, models.GatewayFailure, res.Status)

	other, err := g.Capture(context.Background(), 4, decimal.NewFromInt(1), "USD")
	require.NoError(t, err)
	assert.Equal(t, models.GatewaySuccess, other.Status)
	assert.NotEqual(t, res.Reference, other.Reference)
}

func TestSimulatedGatewayHonoursCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewSimulatedGateway().Capture(ctx, 1, decimal.NewFromInt(1), "USD")
	assert.ErrorIs(t, err, context.Canceled)
}
