package pgdispatch

import (
	"context"

	"github.com/pkg/errors"
)

func (s *Storage) initSchema(ctx context.Context) error {
	stmts := []string{
		`
CREATE TABLE IF NOT EXISTS couriers (
  id BIGSERIAL PRIMARY KEY,
  code TEXT NOT NULL UNIQUE,
  name TEXT NOT NULL,
  active BOOLEAN NOT NULL DEFAULT TRUE
)`,
		`
CREATE TABLE IF NOT EXISTS orders (
  order_id BIGSERIAL PRIMARY KEY,
  status TEXT NOT NULL,
  pay_status TEXT NOT NULL,
  courier_id BIGINT NULL REFERENCES couriers(id),
  track_number TEXT NULL,
  track_synthesized BOOLEAN NOT NULL DEFAULT FALSE,
  dispatch_note TEXT NULL,
  total_amount NUMERIC(12,2) NOT NULL DEFAULT 0,
  customer_id BIGINT NOT NULL,
  created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
  updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`,
		`CREATE INDEX IF NOT EXISTS idx_orders_status ON orders(status)`,
		`
CREATE TABLE IF NOT EXISTS order_items (
  id BIGSERIAL PRIMARY KEY,
  order_id BIGINT NOT NULL REFERENCES orders(order_id),
  product_id BIGINT NOT NULL,
  quantity INT NOT NULL,
  status TEXT NOT NULL,
  pay_status TEXT NOT NULL
)`,
		`CREATE INDEX IF NOT EXISTS idx_order_items_order_id ON order_items(order_id)`,
		`
CREATE TABLE IF NOT EXISTS tracking_pool (
  id BIGSERIAL PRIMARY KEY,
  courier_id BIGINT NOT NULL REFERENCES couriers(id),
  track_number TEXT NOT NULL,
  status TEXT NOT NULL DEFAULT 'unused',
  assigned_order_id BIGINT NULL,
  created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
  used_at TIMESTAMPTZ NULL,
  UNIQUE (courier_id, track_number)
)`,
		// FIFO-выборка всегда идёт по (created_at, id).
		`CREATE INDEX IF NOT EXISTS idx_tracking_pool_fifo ON tracking_pool(courier_id, status, created_at, id)`,
		`
CREATE TABLE IF NOT EXISTS audit_log (
  id BIGSERIAL PRIMARY KEY,
  user_id BIGINT NOT NULL,
  action_type TEXT NOT NULL,
  order_id BIGINT NOT NULL DEFAULT 0,
  batch_id TEXT NULL,
  details TEXT NOT NULL DEFAULT '',
  created_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`,
		`CREATE INDEX IF NOT EXISTS idx_audit_log_order_id ON audit_log(order_id, created_at DESC)`,
	}

	for _, q := range stmts {
		if _, err := s.db.Exec(ctx, q); err != nil {
			return errors.Wrap(err, "init schema")
		}
	}
	return nil
}
