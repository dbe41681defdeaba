package pgdispatch

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"
)

// Ошибки условных апдейтов: ноль затронутых строк означает, что
// кто-то успел изменить строку раньше нас.
var (
	ErrOrderNotFound      = errors.New("order not found")
	ErrCourierNotFound    = errors.New("courier not found")
	ErrIdentifierConsumed = errors.New("tracking identifier already consumed")
	ErrStaleOrderState    = errors.New("order state changed concurrently")
)

type Storage struct {
	db *pgxpool.Pool
}

func New(connString string) (*Storage, error) {
	cfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, errors.Wrap(err, "parse pg config")
	}

	db, err := pgxpool.NewWithConfig(context.Background(), cfg)
	if err != nil {
		return nil, errors.Wrap(err, "connect pg")
	}

	s := &Storage{db: db}
	if err := s.initSchema(context.Background()); err != nil {
		return nil, err
	}

	return s, nil
}

func (s *Storage) Close() {
	if s.db != nil {
		s.db.Close()
	}
}

// Begin открывает транзакцию диспетчеризации. Все мутации заказа,
// пула и аудита (внутри батча) идут через неё.
func (s *Storage) Begin(ctx context.Context) (*Tx, error) {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, errors.Wrap(err, "begin tx")
	}
	return &Tx{tx: tx}, nil
}
