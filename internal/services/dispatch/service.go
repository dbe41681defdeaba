package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/BearBump/DispatchBox/internal/broker/messages"
	"github.com/BearBump/DispatchBox/internal/cache"
	"github.com/BearBump/DispatchBox/internal/integrations/gateway"
	"github.com/BearBump/DispatchBox/internal/models"
	"github.com/BearBump/DispatchBox/internal/storage/pgdispatch"
	"github.com/pkg/errors"
)

var (
	ErrOrderIneligible = errors.New("order status is not eligible for dispatch")
	ErrCourierInactive = errors.New("courier is inactive")
)

// Tx — транзакционный срез хранилища, который нужен координатору.
type Tx interface {
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
	GetCourier(ctx context.Context, courierID uint64) (*models.Courier, error)
	GetOrderForUpdate(ctx context.Context, orderID uint64) (*models.Order, error)
	GetOrderLines(ctx context.Context, orderID uint64) ([]*models.OrderLine, error)
	SelectUnusedIdentifiers(ctx context.Context, courierID uint64, count int) ([]*models.TrackingIdentifier, error)
	ConsumeIdentifier(ctx context.Context, identifierID, orderID uint64) error
	MarkOrderDispatched(ctx context.Context, p pgdispatch.MarkOrderDispatchedParams) error
	MarkOrderLinesDispatched(ctx context.Context, orderID uint64) error
	AppendAudit(ctx context.Context, e models.AuditEntry) error
}

type Store interface {
	Begin(ctx context.Context) (Tx, error)
	GetCourier(ctx context.Context, courierID uint64) (*models.Courier, error)
	GetOrder(ctx context.Context, orderID uint64) (*models.Order, error)
	GetOrderLines(ctx context.Context, orderID uint64) ([]*models.OrderLine, error)
	SelectUnusedIdentifiers(ctx context.Context, courierID uint64, count int) ([]*models.TrackingIdentifier, error)
	CountIdentifiers(ctx context.Context, courierID uint64) (unused, used int64, err error)
	SeedIdentifiers(ctx context.Context, courierID uint64, trackNumbers []string) (int64, error)
	AppendAudit(ctx context.Context, e models.AuditEntry) error
	ListAudit(ctx context.Context, orderID uint64, limit, offset int) ([]*models.AuditEntry, error)
}

type Producer interface {
	Publish(ctx context.Context, topic string, key, value []byte) error
}

type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int64, window time.Duration) (bool, int64, error)
}

type Service struct {
	store Store
	cache cache.BytesCache

	gw           gateway.Client
	producer     Producer
	rl           RateLimiter
	gwRatePerMin int64

	dispatchedTopic string
	poolCountTTL    time.Duration
}

func New(store Store, c cache.BytesCache, poolCountTTL time.Duration) *Service {
	return &Service{store: store, cache: c, poolCountTTL: poolCountTTL}
}

func (s *Service) WithGateway(gw gateway.Client) *Service {
	s.gw = gw
	return s
}

func (s *Service) WithProducer(p Producer, topic string) *Service {
	s.producer = p
	s.dispatchedTopic = topic
	return s
}

func (s *Service) WithRateLimiter(rl RateLimiter, perMinute int64) *Service {
	s.rl = rl
	s.gwRatePerMin = perMinute
	return s
}

// pgStore адаптирует *pgdispatch.Storage под Store (Begin у хранилища
// возвращает конкретный *pgdispatch.Tx).
type pgStore struct {
	*pgdispatch.Storage
}

func (s pgStore) Begin(ctx context.Context) (Tx, error) {
	return s.Storage.Begin(ctx)
}

func NewPGStore(st *pgdispatch.Storage) Store {
	return pgStore{st}
}

type DispatchOneRequest struct {
	OrderID   uint64
	CourierID uint64
	Note      string
	Policy    Policy
	Actor     Actor
}

// DispatchOne переводит один заказ в dispatch с привязкой нового
// идентификатора. Заказ, его строки и идентификатор меняются в одной
// транзакции; любая ошибка после выбора идентификатора откатывает всё.
func (s *Service) DispatchOne(ctx context.Context, req DispatchOneRequest) (*DispatchResult, error) {
	if req.OrderID == 0 {
		return nil, validationf("orderId is required")
	}
	if req.CourierID == 0 {
		return nil, validationf("courierId is required")
	}
	if len(req.Policy.AllowedStatuses) == 0 {
		req.Policy = PolicyGeneral
	}

	tx, err := s.store.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	courier, err := tx.GetCourier(ctx, req.CourierID)
	if err != nil {
		return nil, err
	}
	if !courier.Active {
		return nil, ErrCourierInactive
	}

	order, err := tx.GetOrderForUpdate(ctx, req.OrderID)
	if err != nil {
		return nil, err
	}
	if !req.Policy.Eligible(order) {
		return nil, ErrOrderIneligible
	}

	ids, err := tx.SelectUnusedIdentifiers(ctx, req.CourierID, 1)
	if err != nil {
		return nil, err
	}
	if len(ids) < 1 {
		return nil, &InsufficientPoolError{CourierID: req.CourierID, Available: 0, Requested: 1}
	}
	ti := ids[0]

	if err := tx.ConsumeIdentifier(ctx, ti.ID, req.OrderID); err != nil {
		return nil, err
	}

	if err := tx.MarkOrderDispatched(ctx, pgdispatch.MarkOrderDispatchedParams{
		OrderID:         req.OrderID,
		CourierID:       req.CourierID,
		TrackNumber:     ti.TrackNumber,
		Note:            req.Note,
		AllowedStatuses: req.Policy.AllowedStatuses,
		RequirePaid:     req.Policy.RequirePaid,
	}); err != nil {
		return nil, err
	}

	if err := tx.MarkOrderLinesDispatched(ctx, req.OrderID); err != nil {
		return nil, err
	}

	if err := tx.AppendAudit(ctx, models.AuditEntry{
		UserID:     req.Actor.UserID,
		ActionType: models.AuditActionOrderDispatch,
		OrderID:    req.OrderID,
		Details:    fmt.Sprintf("dispatched via courier %s with tracking %s", courier.Code, ti.TrackNumber),
	}); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	s.afterDispatch(ctx, req.CourierID, []dispatchedEvent{{
		orderID:     req.OrderID,
		trackNumber: ti.TrackNumber,
		actor:       req.Actor.UserID,
	}})

	return &DispatchResult{OrderID: req.OrderID, TrackNumber: ti.TrackNumber}, nil
}

// ReserveTracking — выборка N старейших свободных идентификаторов без
// потребления. Либо все N, либо InsufficientPoolError.
func (s *Service) ReserveTracking(ctx context.Context, courierID uint64, count int) ([]*models.TrackingIdentifier, error) {
	if courierID == 0 {
		return nil, validationf("courierId is required")
	}
	if count < 1 {
		return nil, validationf("count must be >= 1")
	}

	courier, err := s.store.GetCourier(ctx, courierID)
	if err != nil {
		return nil, err
	}
	if !courier.Active {
		return nil, ErrCourierInactive
	}

	ids, err := s.store.SelectUnusedIdentifiers(ctx, courierID, count)
	if err != nil {
		return nil, err
	}
	if len(ids) < count {
		return nil, &InsufficientPoolError{CourierID: courierID, Available: len(ids), Requested: count}
	}
	return ids, nil
}

type PoolAvailability struct {
	CourierID uint64 `json:"courierId"`
	Unused    int64  `json:"unused"`
	Used      int64  `json:"used"`
}

// GetPoolAvailability отдаёт счётчики пула, с best-effort кэшем:
// страницы бэк-офиса опрашивают это постоянно.
func (s *Service) GetPoolAvailability(ctx context.Context, courierID uint64) (*PoolAvailability, error) {
	if courierID == 0 {
		return nil, validationf("courierId is required")
	}

	key := poolCountKey(courierID)
	if s.cache != nil && s.poolCountTTL > 0 {
		if b, ok, err := s.cache.Get(ctx, key); err == nil && ok {
			var pa PoolAvailability
			if json.Unmarshal(b, &pa) == nil {
				return &pa, nil
			}
		}
	}

	unused, used, err := s.store.CountIdentifiers(ctx, courierID)
	if err != nil {
		return nil, err
	}
	pa := &PoolAvailability{CourierID: courierID, Unused: unused, Used: used}
	s.cachePoolCounts(ctx, pa)
	return pa, nil
}

// ImportTracking пополняет пул курьера; источник — CSV-импорт из
// бэк-офиса или kafka-сообщение tracking.imported.
func (s *Service) ImportTracking(ctx context.Context, in models.TrackingImportInput, actor Actor) (int64, error) {
	if in.CourierID == 0 {
		return 0, validationf("courierId is required")
	}
	if len(in.TrackNumbers) == 0 {
		return 0, validationf("trackNumbers is empty")
	}
	if len(in.TrackNumbers) > 50_000 {
		return 0, validationf("too many trackNumbers (max 50000)")
	}

	courier, err := s.store.GetCourier(ctx, in.CourierID)
	if err != nil {
		return 0, err
	}
	if !courier.Active {
		return 0, ErrCourierInactive
	}

	inserted, err := s.store.SeedIdentifiers(ctx, in.CourierID, in.TrackNumbers)
	if err != nil {
		return 0, err
	}

	if err := s.store.AppendAudit(ctx, models.AuditEntry{
		UserID:     actor.UserID,
		ActionType: models.AuditActionTrackingImport,
		Details:    fmt.Sprintf("imported %d of %d identifiers for courier %s", inserted, len(in.TrackNumbers), courier.Code),
	}); err != nil {
		return 0, err
	}

	s.refreshPoolCounts(ctx, in.CourierID)
	return inserted, nil
}

// ApplyKafkaImport обрабатывает сообщение tracking.imported.
func (s *Service) ApplyKafkaImport(ctx context.Context, msg messages.TrackingImported) error {
	if msg.CourierID == 0 {
		return validationf("courier_id is required")
	}
	_, err := s.ImportTracking(ctx, models.TrackingImportInput{
		CourierID:    msg.CourierID,
		TrackNumbers: msg.TrackNumbers,
	}, Actor{UserID: msg.ImportedBy})
	return err
}

func (s *Service) GetOrder(ctx context.Context, orderID uint64) (*models.Order, []*models.OrderLine, error) {
	if orderID == 0 {
		return nil, nil, validationf("orderId is required")
	}
	o, err := s.store.GetOrder(ctx, orderID)
	if err != nil {
		return nil, nil, err
	}
	lines, err := s.store.GetOrderLines(ctx, orderID)
	if err != nil {
		return nil, nil, err
	}
	return o, lines, nil
}

func (s *Service) ListAudit(ctx context.Context, orderID uint64, limit, offset int) ([]*models.AuditEntry, error) {
	return s.store.ListAudit(ctx, orderID, limit, offset)
}

type dispatchedEvent struct {
	orderID     uint64
	trackNumber string
	synthesized bool
	batchID     string
	actor       uint64
}

// afterDispatch — пост-коммитные эффекты: обновить кэш счётчиков пула
// и опубликовать события. Всё best-effort, основная транзакция уже
// зафиксирована.
func (s *Service) afterDispatch(ctx context.Context, courierID uint64, events []dispatchedEvent) {
	s.refreshPoolCounts(ctx, courierID)

	if s.producer == nil || s.dispatchedTopic == "" {
		return
	}
	now := time.Now().UTC()
	for _, ev := range events {
		msg := messages.OrderDispatched{
			OrderID:      ev.orderID,
			CourierID:    courierID,
			TrackNumber:  ev.trackNumber,
			Synthesized:  ev.synthesized,
			BatchID:      ev.batchID,
			ActorID:      ev.actor,
			DispatchedAt: now,
		}
		b, err := json.Marshal(msg)
		if err != nil {
			slog.Error("marshal dispatched event", "order_id", ev.orderID, "error", err.Error())
			continue
		}
		key := []byte(fmt.Sprintf("%d", ev.orderID))
		if err := s.producer.Publish(ctx, s.dispatchedTopic, key, b); err != nil {
			slog.Error("publish dispatched event", "order_id", ev.orderID, "error", err.Error())
		}
	}
}

func (s *Service) refreshPoolCounts(ctx context.Context, courierID uint64) {
	if s.cache == nil || s.poolCountTTL <= 0 {
		return
	}
	unused, used, err := s.store.CountIdentifiers(ctx, courierID)
	if err != nil {
		return
	}
	s.cachePoolCounts(ctx, &PoolAvailability{CourierID: courierID, Unused: unused, Used: used})
}

func (s *Service) cachePoolCounts(ctx context.Context, pa *PoolAvailability) {
	if s.cache == nil || s.poolCountTTL <= 0 {
		return
	}
	b, _ := json.Marshal(pa)
	_ = s.cache.Set(ctx, poolCountKey(pa.CourierID), b, s.poolCountTTL)
}

func poolCountKey(courierID uint64) string {
	return fmt.Sprintf("pool:%d:counts", courierID)
}
