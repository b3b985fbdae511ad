package orders

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aristath/marketcore/internal/database"
	"github.com/aristath/marketcore/internal/domain"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// ErrNotFound is returned when no order has the requested id.
var ErrNotFound = errors.New("order not found")

const orderColumns = `id, client_order_id, market, symbol, side, order_type, quantity,
	reference_price, status, attempts, fill_price, broker_order_id, last_error,
	created_at, updated_at, dispatched_at`

// Repository persists orders in core.db.
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates an order repository.
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("repo", "orders").Logger(),
	}
}

// Create validates and queues a new pending order.
func (r *Repository) Create(ctx context.Context, in NewOrder) (*Order, error) {
	if err := in.Validate(); err != nil {
		return nil, fmt.Errorf("invalid order: %w", err)
	}

	now := time.Now().UTC()
	o := &Order{
		ID:             uuid.NewString(),
		ClientOrderID:  uuid.NewString(),
		Market:         in.Market,
		Symbol:         strings.TrimSpace(in.Symbol),
		Side:           in.Side,
		Type:           in.Type,
		Quantity:       in.Quantity,
		ReferencePrice: in.ReferencePrice,
		Status:         StatusPending,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO pending_orders
		(id, client_order_id, market, symbol, side, order_type, quantity, reference_price,
		 status, attempts, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 0, ?, ?)
	`, o.ID, o.ClientOrderID, string(o.Market), o.Symbol, string(o.Side), string(o.Type),
		o.Quantity.String(), o.ReferencePrice.String(), string(o.Status),
		now.Unix(), now.Unix())
	if err != nil {
		return nil, fmt.Errorf("failed to insert order: %w", err)
	}

	r.log.Info().
		Str("order_id", o.ID).
		Str("symbol", o.Symbol).
		Str("side", string(o.Side)).
		Str("quantity", o.Quantity.String()).
		Msg("Order queued")
	return o, nil
}

// ClaimPending atomically moves up to limit pending orders to processing and
// returns them, oldest first. Each claim bumps the attempt counter.
func (r *Repository) ClaimPending(ctx context.Context, limit int) ([]Order, error) {
	if limit <= 0 {
		limit = 10
	}

	var claimed []Order
	err := database.WithTransactionContext(ctx, r.db, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, `
			SELECT `+orderColumns+`
			FROM pending_orders
			WHERE status = ?
			ORDER BY created_at ASC, id ASC
			LIMIT ?
		`, string(StatusPending), limit)
		if err != nil {
			return fmt.Errorf("failed to query pending orders: %w", err)
		}
		candidates, err := scanOrders(rows)
		if err != nil {
			return err
		}

		now := time.Now().UTC()
		for _, o := range candidates {
			res, err := tx.ExecContext(ctx, `
				UPDATE pending_orders
				SET status = ?, attempts = attempts + 1, updated_at = ?
				WHERE id = ? AND status = ?
			`, string(StatusProcessing), now.Unix(), o.ID, string(StatusPending))
			if err != nil {
				return fmt.Errorf("failed to claim order %s: %w", o.ID, err)
			}
			if n, _ := res.RowsAffected(); n == 0 {
				continue
			}
			o.Status = StatusProcessing
			o.Attempts++
			o.UpdatedAt = now
			claimed = append(claimed, o)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

// MarkFilled records a broker fill.
func (r *Repository) MarkFilled(ctx context.Context, id, brokerOrderID string, price decimal.Decimal) error {
	now := time.Now().UTC().Unix()
	return r.transition(ctx, id, StatusFilled, `
		UPDATE pending_orders
		SET status = ?, fill_price = ?, broker_order_id = ?, last_error = NULL,
		    dispatched_at = ?, updated_at = ?
		WHERE id = ? AND status = ?
	`, string(StatusFilled), price.String(), brokerOrderID, now, now, id, string(StatusProcessing))
}

// MarkFailed moves a claimed order to failed with reason.
func (r *Repository) MarkFailed(ctx context.Context, id, reason string) error {
	return r.transition(ctx, id, StatusFailed, `
		UPDATE pending_orders
		SET status = ?, last_error = ?, updated_at = ?
		WHERE id = ? AND status = ?
	`, string(StatusFailed), reason, time.Now().UTC().Unix(), id, string(StatusProcessing))
}

// Release returns a claimed order to pending so a later cycle retries it.
func (r *Repository) Release(ctx context.Context, id, reason string) error {
	return r.transition(ctx, id, StatusPending, `
		UPDATE pending_orders
		SET status = ?, last_error = ?, updated_at = ?
		WHERE id = ? AND status = ?
	`, string(StatusPending), reason, time.Now().UTC().Unix(), id, string(StatusProcessing))
}

func (r *Repository) transition(ctx context.Context, id string, to Status, query string, args ...any) error {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to mark order %s %s: %w", id, to, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("order %s is not processing: %w", id, ErrNotFound)
	}
	return nil
}

// RecoverStale releases orders stuck in processing for longer than olderThan,
// which only happens when the process died mid-dispatch.
func (r *Repository) RecoverStale(ctx context.Context, olderThan time.Duration) (int64, error) {
	now := time.Now().UTC()
	res, err := r.db.ExecContext(ctx, `
		UPDATE pending_orders
		SET status = ?, updated_at = ?
		WHERE status = ? AND updated_at < ?
	`, string(StatusPending), now.Unix(), string(StatusProcessing), now.Add(-olderThan).Unix())
	if err != nil {
		return 0, fmt.Errorf("failed to recover stale orders: %w", err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		r.log.Warn().Int64("count", n).Msg("Recovered orders stuck in processing")
	}
	return n, nil
}

// Get returns an order by id.
func (r *Repository) Get(ctx context.Context, id string) (*Order, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+orderColumns+` FROM pending_orders WHERE id = ?`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query order: %w", err)
	}
	list, err := scanOrders(rows)
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, ErrNotFound
	}
	return &list[0], nil
}

// ListByStatus returns orders in status, newest first.
func (r *Repository) ListByStatus(ctx context.Context, status Status, limit int) ([]Order, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+orderColumns+`
		FROM pending_orders
		WHERE status = ?
		ORDER BY created_at DESC
		LIMIT ?
	`, string(status), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query orders: %w", err)
	}
	return scanOrders(rows)
}

// CountByStatus returns order counts keyed by status.
func (r *Repository) CountByStatus(ctx context.Context) (map[Status]int, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM pending_orders GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("failed to count orders: %w", err)
	}
	defer rows.Close()

	out := make(map[Status]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("failed to scan order count: %w", err)
		}
		out[Status(status)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating order counts: %w", err)
	}
	return out, nil
}

func scanOrders(rows *sql.Rows) ([]Order, error) {
	defer rows.Close()

	var out []Order
	for rows.Next() {
		var (
			o                               Order
			market, side, orderType, status string
			quantity, refPrice              string
			fillPrice, brokerID, lastError  sql.NullString
			createdAt, updatedAt            int64
			dispatchedAt                    sql.NullInt64
		)
		err := rows.Scan(&o.ID, &o.ClientOrderID, &market, &o.Symbol, &side, &orderType,
			&quantity, &refPrice, &status, &o.Attempts, &fillPrice, &brokerID, &lastError,
			&createdAt, &updatedAt, &dispatchedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan order: %w", err)
		}

		o.Market = domain.Market(market)
		o.Side = Side(side)
		o.Type = OrderType(orderType)
		o.Status = Status(status)
		o.CreatedAt = time.Unix(createdAt, 0).UTC()
		o.UpdatedAt = time.Unix(updatedAt, 0).UTC()
		o.BrokerOrderID = brokerID.String
		o.LastError = lastError.String

		if o.Quantity, err = decimal.NewFromString(quantity); err != nil {
			return nil, fmt.Errorf("failed to parse quantity of order %s: %w", o.ID, err)
		}
		if o.ReferencePrice, err = decimal.NewFromString(refPrice); err != nil {
			return nil, fmt.Errorf("failed to parse reference price of order %s: %w", o.ID, err)
		}
		if fillPrice.Valid {
			p, err := decimal.NewFromString(fillPrice.String)
			if err != nil {
				return nil, fmt.Errorf("failed to parse fill price of order %s: %w", o.ID, err)
			}
			o.FillPrice = &p
		}
		if dispatchedAt.Valid {
			t := time.Unix(dispatchedAt.Int64, 0).UTC()
			o.DispatchedAt = &t
		}
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating orders: %w", err)
	}
	return out, nil
}
