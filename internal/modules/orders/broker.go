package orders

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// Fill is a broker's confirmation of an executed order.
type Fill struct {
	BrokerOrderID string
	Price         decimal.Decimal
}

// Broker executes orders at an agreed price.
type Broker interface {
	Name() string
	PlaceOrder(ctx context.Context, order Order, price decimal.Decimal) (Fill, error)
}

// PaperBroker fills every order immediately at the quoted price. Client order
// ids are remembered so a redelivered order is not filled twice.
type PaperBroker struct {
	log zerolog.Logger

	mu    sync.Mutex
	fills map[string]Fill
}

// NewPaperBroker creates a paper broker.
func NewPaperBroker(log zerolog.Logger) *PaperBroker {
	return &PaperBroker{
		log:   log.With().Str("broker", "paper").Logger(),
		fills: make(map[string]Fill),
	}
}

func (b *PaperBroker) Name() string {
	return "paper"
}

func (b *PaperBroker) PlaceOrder(ctx context.Context, order Order, price decimal.Decimal) (Fill, error) {
	if err := ctx.Err(); err != nil {
		return Fill{}, err
	}
	if !price.IsPositive() {
		return Fill{}, fmt.Errorf("paper broker: invalid price %s", price)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if f, ok := b.fills[order.ClientOrderID]; ok {
		return f, nil
	}
	f := Fill{BrokerOrderID: "paper-" + uuid.NewString(), Price: price}
	b.fills[order.ClientOrderID] = f

	b.log.Info().
		Str("client_order_id", order.ClientOrderID).
		Str("symbol", order.Symbol).
		Str("side", string(order.Side)).
		Str("quantity", order.Quantity.String()).
		Str("price", price.String()).
		Msg("Paper fill")
	return f, nil
}
