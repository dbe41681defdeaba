package pgdispatch

import (
	"context"

	"github.com/BearBump/DispatchBox/internal/models"
	"github.com/pkg/errors"
)

// AppendAudit — запись аудита вне транзакции (rollup-записи батчей).
// Вызывающая сторона решает, терпима ли ошибка.
func (s *Storage) AppendAudit(ctx context.Context, e models.AuditEntry) error {
	_, err := s.db.Exec(ctx, `
INSERT INTO audit_log (user_id, action_type, order_id, batch_id, details, created_at)
VALUES ($1, $2, $3, $4, $5, now())
`, e.UserID, e.ActionType, e.OrderID, e.BatchID, e.Details)
	return errors.Wrap(err, "append audit")
}

func (s *Storage) ListAudit(ctx context.Context, orderID uint64, limit, offset int) ([]*models.AuditEntry, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}

	rows, err := s.db.Query(ctx, `
SELECT id, user_id, action_type, order_id, batch_id, details, created_at
FROM audit_log
WHERE ($1 = 0 OR order_id = $1)
ORDER BY created_at DESC, id DESC
LIMIT $2 OFFSET $3
`, orderID, limit, offset)
	if err != nil {
		return nil, errors.Wrap(err, "select audit")
	}
	defer rows.Close()

	var out []*models.AuditEntry
	for rows.Next() {
		var e models.AuditEntry
		if err := rows.Scan(&e.ID, &e.UserID, &e.ActionType, &e.OrderID, &e.BatchID, &e.Details, &e.CreatedAt); err != nil {
			return nil, errors.Wrap(err, "scan audit")
		}
		out = append(out, &e)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}
