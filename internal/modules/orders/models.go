// Package orders queues trade orders and dispatches them to a broker once the
// live price passes the slippage check.
package orders

import (
	"fmt"
	"strings"
	"time"

	"github.com/aristath/marketcore/internal/domain"
	"github.com/shopspring/decimal"
)

// Side is the direction of an order.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// OrderType selects how the order is priced.
type OrderType string

const (
	TypeMarket OrderType = "market"
	TypeLimit  OrderType = "limit"
)

// Status is an order's lifecycle position. Orders move
// pending -> processing -> filled|failed, or back to pending when deferred.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusFilled     Status = "filled"
	StatusFailed     Status = "failed"
)

// Order is a queued order row.
type Order struct {
	CreatedAt      time.Time        `json:"created_at"`
	UpdatedAt      time.Time        `json:"updated_at"`
	DispatchedAt   *time.Time       `json:"dispatched_at,omitempty"`
	FillPrice      *decimal.Decimal `json:"fill_price,omitempty"`
	ID             string           `json:"id"`
	ClientOrderID  string           `json:"client_order_id"`
	Market         domain.Market    `json:"market"`
	Symbol         string           `json:"symbol"`
	Side           Side             `json:"side"`
	Type           OrderType        `json:"order_type"`
	Status         Status           `json:"status"`
	BrokerOrderID  string           `json:"broker_order_id,omitempty"`
	LastError      string           `json:"last_error,omitempty"`
	Quantity       decimal.Decimal  `json:"quantity"`
	ReferencePrice decimal.Decimal  `json:"reference_price"`
	Attempts       int              `json:"attempts"`
}

// NewOrder is the input to Repository.Create.
type NewOrder struct {
	Market         domain.Market   `json:"market"`
	Symbol         string          `json:"symbol"`
	Side           Side            `json:"side"`
	Type           OrderType       `json:"order_type"`
	Quantity       decimal.Decimal `json:"quantity"`
	ReferencePrice decimal.Decimal `json:"reference_price"`
}

// Validate rejects orders that can never be dispatched.
func (n NewOrder) Validate() error {
	if _, err := domain.ParseMarket(string(n.Market)); err != nil {
		return err
	}
	if strings.TrimSpace(n.Symbol) == "" {
		return fmt.Errorf("symbol is required")
	}
	if n.Side != SideBuy && n.Side != SideSell {
		return fmt.Errorf("invalid side %q", n.Side)
	}
	if n.Type != TypeMarket && n.Type != TypeLimit {
		return fmt.Errorf("invalid order type %q", n.Type)
	}
	if !n.Quantity.IsPositive() {
		return fmt.Errorf("quantity must be positive, got %s", n.Quantity)
	}
	if !n.ReferencePrice.IsPositive() {
		return fmt.Errorf("reference price must be positive, got %s", n.ReferencePrice)
	}
	return nil
}
