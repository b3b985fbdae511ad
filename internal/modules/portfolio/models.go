// Package portfolio tracks open positions: it values them against live
// prices, records snapshots, and raises risk alerts.
package portfolio

import (
	"fmt"
	"strings"
	"time"

	"github.com/aristath/marketcore/internal/domain"
	"github.com/shopspring/decimal"
)

// Position is an open (or closed) long holding.
type Position struct {
	OpenedAt   time.Time        `json:"opened_at"`
	ClosedAt   *time.Time       `json:"closed_at,omitempty"`
	StopLoss   *decimal.Decimal `json:"stop_loss,omitempty"`
	TakeProfit *decimal.Decimal `json:"take_profit,omitempty"`
	ID         string           `json:"id"`
	Market     domain.Market    `json:"market"`
	Symbol     string           `json:"symbol"`
	Quantity   decimal.Decimal  `json:"quantity"`
	EntryPrice decimal.Decimal  `json:"entry_price"`
}

// CostBasis is quantity times entry price.
func (p Position) CostBasis() decimal.Decimal {
	return p.Quantity.Mul(p.EntryPrice)
}

// Validate checks a position before it is opened.
func (p Position) Validate() error {
	if _, err := domain.ParseMarket(string(p.Market)); err != nil {
		return err
	}
	if strings.TrimSpace(p.Symbol) == "" {
		return fmt.Errorf("symbol is required")
	}
	if !p.Quantity.IsPositive() {
		return fmt.Errorf("quantity must be positive, got %s", p.Quantity)
	}
	if !p.EntryPrice.IsPositive() {
		return fmt.Errorf("entry price must be positive, got %s", p.EntryPrice)
	}
	if p.StopLoss != nil && p.StopLoss.GreaterThanOrEqual(p.EntryPrice) {
		return fmt.Errorf("stop loss %s must be below entry price %s", p.StopLoss, p.EntryPrice)
	}
	if p.TakeProfit != nil && p.TakeProfit.LessThanOrEqual(p.EntryPrice) {
		return fmt.Errorf("take profit %s must be above entry price %s", p.TakeProfit, p.EntryPrice)
	}
	return nil
}

// Snapshot is a position valued at one point in time.
type Snapshot struct {
	TakenAt          time.Time       `json:"taken_at"`
	Volatility       *float64        `json:"volatility,omitempty"`
	RSI              *float64        `json:"rsi,omitempty"`
	PositionID       string          `json:"position_id"`
	Market           domain.Market   `json:"market"`
	Symbol           string          `json:"symbol"`
	Price            decimal.Decimal `json:"price"`
	MarketValue      decimal.Decimal `json:"market_value"`
	UnrealizedPnL    decimal.Decimal `json:"unrealized_pnl"`
	UnrealizedPnLPct float64         `json:"unrealized_pnl_pct"`
	// Stale is set when the price came from cache after a failed live fetch
	Stale bool `json:"stale"`
}

// Totals aggregates one monitoring pass.
type Totals struct {
	TakenAt       time.Time       `json:"taken_at"`
	Positions     int             `json:"positions"`
	Skipped       int             `json:"skipped"`
	CostBasis     decimal.Decimal `json:"cost_basis"`
	MarketValue   decimal.Decimal `json:"market_value"`
	UnrealizedPnL decimal.Decimal `json:"unrealized_pnl"`
}

// AlertKind names the condition that raised an alert.
type AlertKind string

const (
	AlertStopLoss   AlertKind = "stop_loss"
	AlertTakeProfit AlertKind = "take_profit"
	AlertOverbought AlertKind = "overbought"
	AlertOversold   AlertKind = "oversold"
)

// Alert is a risk notification for one position.
type Alert struct {
	CreatedAt  time.Time `json:"created_at"`
	ID         string    `json:"id"`
	PositionID string    `json:"position_id"`
	Symbol     string    `json:"symbol"`
	Kind       AlertKind `json:"kind"`
	Message    string    `json:"message"`
	Value      float64   `json:"value"`
}
