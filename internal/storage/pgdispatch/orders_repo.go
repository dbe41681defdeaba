package pgdispatch

import (
	"context"

	"github.com/BearBump/DispatchBox/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
)

func (s *Storage) GetOrder(ctx context.Context, orderID uint64) (*models.Order, error) {
	var o models.Order
	err := s.db.QueryRow(ctx, `
SELECT order_id, status, pay_status, courier_id, track_number, track_synthesized,
       dispatch_note, total_amount, customer_id, created_at, updated_at
FROM orders
WHERE order_id = $1
`, orderID).Scan(
		&o.OrderID, &o.Status, &o.PayStatus, &o.CourierID, &o.TrackNumber, &o.TrackSynthesized,
		&o.DispatchNote, &o.TotalAmount, &o.CustomerID, &o.CreatedAt, &o.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "select order")
	}
	return &o, nil
}

func (s *Storage) GetOrderLines(ctx context.Context, orderID uint64) ([]*models.OrderLine, error) {
	return selectOrderLines(ctx, s.db, orderID)
}

func selectOrderLines(ctx context.Context, q querier, orderID uint64) ([]*models.OrderLine, error) {
	rows, err := q.Query(ctx, `
SELECT id, order_id, product_id, quantity, status, pay_status
FROM order_items
WHERE order_id = $1
ORDER BY id
`, orderID)
	if err != nil {
		return nil, errors.Wrap(err, "select order lines")
	}
	defer rows.Close()

	var out []*models.OrderLine
	for rows.Next() {
		var l models.OrderLine
		if err := rows.Scan(&l.ID, &l.OrderID, &l.ProductID, &l.Quantity, &l.Status, &l.PayStatus); err != nil {
			return nil, errors.Wrap(err, "scan order line")
		}
		out = append(out, &l)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}
