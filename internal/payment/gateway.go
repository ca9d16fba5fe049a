package payment

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/safar/go-marketplace/internal/models"
	"github.com/safar/go-marketplace/internal/money"
)

// Gateway is the external capture capability. Its own timeout and retry
// policy are its business; the recorder only sees the final outcome.
type Gateway interface {
	Capture(ctx context.Context, orderID int64, amount decimal.Decimal, currency string) (CaptureResult, error)
}

type CaptureResult struct {
	Reference   string
	Status      models.GatewayStatus
	RawResponse json.RawMessage
}

// SimulatedGateway approves every capture unless an outcome is scripted for
// the order. It is meant for development and tests.
type SimulatedGateway struct {
	mu       sync.Mutex
	outcomes map[int64]models.GatewayStatus
}

func NewSimulatedGateway() *SimulatedGateway {
	return &SimulatedGateway{outcomes: make(map[int64]models.GatewayStatus)}
}

// SetOutcome makes the next captures of orderID report status.
func (g *SimulatedGateway) SetOutcome(orderID int64, status models.GatewayStatus) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.outcomes[orderID] = status
}

func (g *SimulatedGateway) Capture(ctx context.Context, orderID int64, amount decimal.Decimal, currency string) (CaptureResult, error) {
	if err := ctx.Err(); err != nil {
		return CaptureResult{}, err
	}

	g.mu.Lock()
	status, ok := g.outcomes[orderID]
	g.mu.Unlock()
	if !ok {
		status = models.GatewaySuccess
	}

	ref := "SIM-" + uuid.NewString()
	raw, err := json.Marshal(map[string]string{
		"gateway":   "simulated",
		"reference": ref,
		"status":    string(status),
		"amount":    amount.StringFixed(money.Places),
		"currency":  currency,
	})
	if err != nil {
		return CaptureResult{}, fmt.Errorf("encode simulated response: %w", err)
	}

	return CaptureResult{Reference: ref, Status: status, RawResponse: raw}, nil
}
