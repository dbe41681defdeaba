package pgdispatch

import (
	"context"

	"github.com/BearBump/DispatchBox/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
)

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func selectUnusedIdentifiers(ctx context.Context, q querier, courierID uint64, count int) ([]*models.TrackingIdentifier, error) {
	rows, err := q.Query(ctx, `
SELECT id, courier_id, track_number, status, assigned_order_id, created_at, used_at
FROM tracking_pool
WHERE courier_id = $1 AND status = 'unused'
ORDER BY created_at ASC, id ASC
LIMIT $2
`, courierID, count)
	if err != nil {
		return nil, errors.Wrap(err, "select unused identifiers")
	}
	defer rows.Close()

	out := make([]*models.TrackingIdentifier, 0, count)
	for rows.Next() {
		var ti models.TrackingIdentifier
		if err := rows.Scan(
			&ti.ID, &ti.CourierID, &ti.TrackNumber, &ti.Status,
			&ti.AssignedOrderID, &ti.CreatedAt, &ti.UsedAt,
		); err != nil {
			return nil, errors.Wrap(err, "scan identifier")
		}
		out = append(out, &ti)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}

// SelectUnusedIdentifiers — выборка вне транзакции (ReserveTracking,
// предпросмотр пула). Ничего не бронирует.
func (s *Storage) SelectUnusedIdentifiers(ctx context.Context, courierID uint64, count int) ([]*models.TrackingIdentifier, error) {
	return selectUnusedIdentifiers(ctx, s.db, courierID, count)
}

func (s *Storage) CountIdentifiers(ctx context.Context, courierID uint64) (unused, used int64, err error) {
	err = s.db.QueryRow(ctx, `
SELECT
  COUNT(*) FILTER (WHERE status = 'unused'),
  COUNT(*) FILTER (WHERE status = 'used')
FROM tracking_pool
WHERE courier_id = $1
`, courierID).Scan(&unused, &used)
	if err != nil {
		return 0, 0, errors.Wrap(err, "count identifiers")
	}
	return unused, used, nil
}

// SeedIdentifiers пополняет пул (импорт/сид). Дубликаты молча
// пропускаются, возвращается число реально вставленных.
func (s *Storage) SeedIdentifiers(ctx context.Context, courierID uint64, trackNumbers []string) (int64, error) {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return 0, errors.Wrap(err, "begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var inserted int64
	for _, tn := range trackNumbers {
		if tn == "" {
			continue
		}
		tag, err := tx.Exec(ctx, `
INSERT INTO tracking_pool (courier_id, track_number, status, created_at)
VALUES ($1, $2, 'unused', now())
ON CONFLICT (courier_id, track_number) DO NOTHING
`, courierID, tn)
		if err != nil {
			return 0, errors.Wrap(err, "insert identifier")
		}
		inserted += tag.RowsAffected()
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, errors.Wrap(err, "commit tx")
	}
	return inserted, nil
}
