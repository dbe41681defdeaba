package pgdispatch

import (
	"context"

	"github.com/BearBump/DispatchBox/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
)

func (s *Storage) GetCourier(ctx context.Context, courierID uint64) (*models.Courier, error) {
	var c models.Courier
	err := s.db.QueryRow(ctx, `
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
