package pgdispatch

import (
	"context"
	"testing"
	"time"

	"github.com/BearBump/DispatchBox/internal/models"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func startStorage(t *testing.T) *Storage {
	t.Helper()
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "postgres:15-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "admin",
			"POSTGRES_PASSWORD": "admin",
			"POSTGRES_DB":       "dispatchbox_test",
		},
		WaitingFor: wait.ForListeningPort("5432/tcp").WithStartupTimeout(60 * time.Second),
	}
	pgC, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = pgC.Terminate(ctx) })

	host, err := pgC.Host(ctx)
	require.NoError(t, err)
	port, err := pgC.MappedPort(ctx, "5432/tcp")
	require.NoError(t, err)

	dsn := "postgres://admin:admin@" + host + ":" + port.Port() + "/dispatchbox_test?sslmode=disable"
	st, err := New(dsn)
	require.NoError(t, err)
	t.Cleanup(st.Close)
	return st
}

func TestPGDispatch_RepoFlow(t *testing.T) {
	ctx := context.Background()
	st := startStorage(t)

	var courierID uint64
	err := st.db.QueryRow(ctx, `INSERT INTO couriers (code, name, active) VALUES ('CDEK', 'CDEK', TRUE) RETURNING id`).Scan(&courierID)
	require.NoError(t, err)

	var pendingID, cancelledID uint64
	err = st.db.QueryRow(ctx, `INSERT INTO orders (status, pay_status, total_amount, customer_id) VALUES ('pending', 'paid', 1500, 7) RETURNING order_id`).Scan(&pendingID)
	require.NoError(t, err)
	err = st.db.QueryRow(ctx, `INSERT INTO orders (status, pay_status, total_amount, customer_id) VALUES ('cancel', 'paid', 900, 7) RETURNING order_id`).Scan(&cancelledID)
	require.NoError(t, err)
	_, err = st.db.Exec(ctx, `INSERT INTO order_items (order_id, product_id, quantity, status, pay_status) VALUES ($1, 3, 2, 'pending', 'paid')`, pendingID)
	require.NoError(t, err)

	// Сид пула: дубликаты и пустые номера молча пропускаются.
	inserted, err := st.SeedIdentifiers(ctx, courierID, []string{"T-A", "T-B", "T-A", ""})
	require.NoError(t, err)
	require.Equal(t, int64(2), inserted)

	inserted, err = st.SeedIdentifiers(ctx, courierID, []string{"T-B", "T-C"})
	require.NoError(t, err)
	require.Equal(t, int64(1), inserted)

	unused, used, err := st.CountIdentifiers(ctx, courierID)
	require.NoError(t, err)
	require.Equal(t, int64(3), unused)
	require.Equal(t, int64(0), used)

	// FIFO: порядок выборки — по created_at, затем по id.
	ids, err := st.SelectUnusedIdentifiers(ctx, courierID, 2)
	require.NoError(t, err)
	require.Len(t, ids, 2)
	require.Equal(t, "T-A", ids[0].TrackNumber)
	require.Equal(t, "T-B", ids[1].TrackNumber)

	// Полный транзакционный цикл по одному заказу.
	tx, err := st.Begin(ctx)
	require.NoError(t, err)

	courier, err := tx.GetCourier(ctx, courierID)
	require.NoError(t, err)
	require.True(t, courier.Active)

	order, err := tx.GetOrderForUpdate(ctx, pendingID)
	require.NoError(t, err)
	require.Equal(t, models.OrderStatusPending, order.Status)

	picked, err := tx.SelectUnusedIdentifiers(ctx, courierID, 1)
	require.NoError(t, err)
	require.Len(t, picked, 1)
	require.Equal(t, "T-A", picked[0].TrackNumber)

	require.NoError(t, tx.ConsumeIdentifier(ctx, picked[0].ID, pendingID))

	// Повторное потребление того же идентификатора в этой же транзакции.
	require.ErrorIs(t, tx.ConsumeIdentifier(ctx, picked[0].ID, pendingID), ErrIdentifierConsumed)

	require.NoError(t, tx.MarkOrderDispatched(ctx, MarkOrderDispatchedParams{
		OrderID:         pendingID,
		CourierID:       courierID,
		TrackNumber:     picked[0].TrackNumber,
		Note:            "leave at reception",
		AllowedStatuses: []string{models.OrderStatusPending, models.OrderStatusDone},
	}))
	require.NoError(t, tx.MarkOrderLinesDispatched(ctx, pendingID))
	require.NoError(t, tx.AppendAudit(ctx, models.AuditEntry{
		UserID:     42,
		ActionType: models.AuditActionOrderDispatch,
		OrderID:    pendingID,
		Details:    "dispatched via courier CDEK with tracking T-A",
	}))
	require.NoError(t, tx.Commit(ctx))

	got, err := st.GetOrder(ctx, pendingID)
	require.NoError(t, err)
	require.Equal(t, models.OrderStatusDispatch, got.Status)
	require.NotNil(t, got.TrackNumber)
	require.Equal(t, "T-A", *got.TrackNumber)
	require.NotNil(t, got.CourierID)
	require.Equal(t, courierID, *got.CourierID)

	lines, err := st.GetOrderLines(ctx, pendingID)
	require.NoError(t, err)
	require.Len(t, lines, 1)
	require.Equal(t, models.OrderStatusDispatch, lines[0].Status)

	unused, used, err = st.CountIdentifiers(ctx, courierID)
	require.NoError(t, err)
	require.Equal(t, int64(2), unused)
	require.Equal(t, int64(1), used)

	audits, err := st.ListAudit(ctx, pendingID, 10, 0)
	require.NoError(t, err)
	require.Len(t, audits, 1)
	require.Equal(t, models.AuditActionOrderDispatch, audits[0].ActionType)

	// Условный апдейт по отменённому заказу не находит строк.
	tx2, err := st.Begin(ctx)
	require.NoError(t, err)
	err = tx2.MarkOrderDispatched(ctx, MarkOrderDispatchedParams{
		OrderID:         cancelledID,
		CourierID:       courierID,
		TrackNumber:     "T-B",
		AllowedStatuses: []string{models.OrderStatusPending},
	})
	require.ErrorIs(t, err, ErrStaleOrderState)
	require.NoError(t, tx2.Rollback(ctx))

	// Предикат оплаты: pending, но не paid.
	_, err = st.db.Exec(ctx, `UPDATE orders SET status = 'pending', pay_status = 'unpaid' WHERE order_id = $1`, cancelledID)
	require.NoError(t, err)

	tx3, err := st.Begin(ctx)
	require.NoError(t, err)
	err = tx3.MarkOrderDispatched(ctx, MarkOrderDispatchedParams{
		OrderID:         cancelledID,
		CourierID:       courierID,
		TrackNumber:     "T-B",
		AllowedStatuses: []string{models.OrderStatusPending},
		RequirePaid:     true,
	})
	require.ErrorIs(t, err, ErrStaleOrderState)
	require.NoError(t, tx3.Rollback(ctx))

	_, err = st.GetOrder(ctx, 999999)
	require.ErrorIs(t, err, ErrOrderNotFound)
	_, err = st.GetCourier(ctx, 999999)
	require.ErrorIs(t, err, ErrCourierNotFound)
}

// Откат транзакции возвращает идентификатор в пул.
func TestPGDispatch_RollbackFreesIdentifier(t *testing.T) {
	ctx := context.Background()
	st := startStorage(t)

	var courierID uint64
	err := st.db.QueryRow(ctx, `INSERT INTO couriers (code, name, active) VALUES ('POST_RU', 'Почта', TRUE) RETURNING id`).Scan(&courierID)
	require.NoError(t, err)

	var orderID uint64
	err = st.db.QueryRow(ctx, `INSERT INTO orders (status, pay_status, total_amount, customer_id) VALUES ('pending', 'paid', 100, 1) RETURNING order_id`).Scan(&orderID)
	require.NoError(t, err)

	_, err = st.SeedIdentifiers(ctx, courierID, []string{"R-1"})
	require.NoError(t, err)

	tx, err := st.Begin(ctx)
	require.NoError(t, err)

	ids, err := tx.SelectUnusedIdentifiers(ctx, courierID, 1)
	require.NoError(t, err)
	require.NoError(t, tx.ConsumeIdentifier(ctx, ids[0].ID, orderID))
	require.NoError(t, tx.Rollback(ctx))

	unused, used, err := st.CountIdentifiers(ctx, courierID)
	require.NoError(t, err)
	require.Equal(t, int64(1), unused)
	require.Equal(t, int64(0), used)

	// Rollback после rollback — no-op.
	require.NoError(t, tx.Rollback(ctx))
}
