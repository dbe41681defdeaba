package pgdispatch

import (
	"context"

	"github.com/BearBump/DispatchBox/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
)

// Tx — транзакция диспетчеризации: select-for-update заказа,
// CAS-потребление идентификатора, условные апдейты со сверкой
// затронутых строк.
type Tx struct {
	tx pgx.Tx
}

func (t *Tx) Commit(ctx context.Context) error {
	return errors.Wrap(t.tx.Commit(ctx), "commit tx")
}

func (t *Tx) Rollback(ctx context.Context) error {
	err := t.tx.Rollback(ctx)
	if err == nil || errors.Is(err, pgx.ErrTxClosed) {
		return nil
	}
	return errors.Wrap(err, "rollback tx")
}

func (t *Tx) GetCourier(ctx context.Context, courierID uint64) (*models.Courier, error) {
	var c models.Courier
	err := t.tx.QueryRow(ctx, `
SELECT id, code, name, active
FROM couriers
WHERE id = $1
`, courierID).Scan(&c.ID, &c.Code, &c.Name, &c.Active)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrCourierNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "select courier")
	}
	return &c, nil
}

// GetOrderForUpdate блокирует строку заказа до конца транзакции.
func (t *Tx) GetOrderForUpdate(ctx context.Context, orderID uint64) (*models.Order, error) {
	var o models.Order
	err := t.tx.QueryRow(ctx, `
SELECT order_id, status, pay_status, courier_id, track_number, track_synthesized,
       dispatch_note, total_amount, customer_id, created_at, updated_at
FROM orders
WHERE order_id = $1
FOR UPDATE
`, orderID).Scan(
		&o.OrderID, &o.Status, &o.PayStatus, &o.CourierID, &o.TrackNumber, &o.TrackSynthesized,
		&o.DispatchNote, &o.TotalAmount, &o.CustomerID, &o.CreatedAt, &o.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "select order for update")
	}
	return &o, nil
}

func (t *Tx) GetOrderLines(ctx context.Context, orderID uint64) ([]*models.OrderLine, error) {
	return selectOrderLines(ctx, t.tx, orderID)
}

// SelectUnusedIdentifiers выбирает count старейших свободных
// идентификаторов курьера. Сама выборка ничего не меняет: фактическое
// потребление делает ConsumeIdentifier.
func (t *Tx) SelectUnusedIdentifiers(ctx context.Context, courierID uint64, count int) ([]*models.TrackingIdentifier, error) {
	return selectUnusedIdentifiers(ctx, t.tx, courierID, count)
}

// ConsumeIdentifier переводит идентификатор unused -> used и привязывает
// его к заказу. Условие по status — это CAS-защита: если параллельная
// транзакция успела забрать идентификатор, затронется ноль строк.
func (t *Tx) ConsumeIdentifier(ctx context.Context, identifierID, orderID uint64) error {
	tag, err := t.tx.Exec(ctx, `
UPDATE tracking_pool
SET status = 'used', assigned_order_id = $2, used_at = now()
WHERE id = $1 AND status = 'unused'
`, identifierID, orderID)
	if err != nil {
		return errors.Wrap(err, "consume identifier")
	}
	if tag.RowsAffected() == 0 {
		return ErrIdentifierConsumed
	}
	return nil
}

type MarkOrderDispatchedParams struct {
	OrderID     uint64
	CourierID   uint64
	TrackNumber string
	Synthesized bool
	Note        string

	// Предикат исходного состояния. Апдейт применяется, только если
	// заказ всё ещё ему соответствует.
	AllowedStatuses []string
	RequirePaid     bool
}

// MarkOrderDispatched — условный перевод заказа в dispatch. Ноль
// затронутых строк означает, что состояние заказа изменилось между
// проверкой и записью.
func (t *Tx) MarkOrderDispatched(ctx context.Context, p MarkOrderDispatchedParams) error {
	tag, err := t.tx.Exec(ctx, `
UPDATE orders
SET
  status = 'dispatch',
  courier_id = $2,
  track_number = $3,
  track_synthesized = $4,
  dispatch_note = $5,
  updated_at = now()
WHERE order_id = $1
  AND status = ANY($6)
  AND ($7 = FALSE OR pay_status = 'paid')
`, p.OrderID, p.CourierID, p.TrackNumber, p.Synthesized, p.Note, p.AllowedStatuses, p.RequirePaid)
	if err != nil {
		return errors.Wrap(err, "mark order dispatched")
	}
	if tag.RowsAffected() == 0 {
		return ErrStaleOrderState
	}
	return nil
}

// MarkOrderLinesDispatched переводит все строки заказа в dispatch.
// Заказ без строк — валидный случай (старые импортированные заказы).
func (t *Tx) MarkOrderLinesDispatched(ctx context.Context, orderID uint64) error {
	_, err := t.tx.Exec(ctx, `
UPDATE order_items
SET status = 'dispatch'
WHERE order_id = $1
`, orderID)
	return errors.Wrap(err, "mark order lines dispatched")
}

// AppendAudit пишет запись аудита внутри транзакции. Ошибка здесь
// фатальна для всей транзакции.
func (t *Tx) AppendAudit(ctx context.Context, e models.AuditEntry) error {
	_, err := t.tx.Exec(ctx, `
INSERT INTO audit_log (user_id, action_type, order_id, batch_id, details, created_at)
VALUES ($1, $2, $3, $4, $5, now())
`, e.UserID, e.ActionType, e.OrderID, e.BatchID, e.Details)
	return errors.Wrap(err, "append audit")
}
