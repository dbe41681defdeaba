package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/BearBump/DispatchBox/internal/integrations/gateway"
	"github.com/BearBump/DispatchBox/internal/models"
	"github.com/BearBump/DispatchBox/internal/storage/pgdispatch"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

const (
	GatewayModeNew      = "new"      // номер генерирует курьерский API
	GatewayModeExisting = "existing" // номер берём из своего пула
)

type BulkDispatchRequest struct {
	OrderIDs  []uint64
	CourierID uint64
	Note      string
	Policy    Policy
	Actor     Actor
}

// BulkDispatch — массовая отправка без внешнего API (Mode A).
// Идентификаторы выбираются разом на весь батч: либо их хватает на
// все заказы, либо батч не стартует вовсе. Пары (заказ, идентификатор)
// складываются лениво: пропущенный по статусу заказ не сжигает
// идентификатор, кандидат достаётся следующему заказу.
func (s *Service) BulkDispatch(ctx context.Context, req BulkDispatchRequest) (*BatchResult, error) {
	if err := validateBulk(&req); err != nil {
		return nil, err
	}

	batchID := uuid.NewString()
	res := &BatchResult{BatchID: batchID, TotalCount: len(req.OrderIDs)}

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

	candidates, err := tx.SelectUnusedIdentifiers(ctx, req.CourierID, len(req.OrderIDs))
	if err != nil {
		return nil, err
	}
	if len(candidates) < len(req.OrderIDs) {
		// Mode A не терпит частичного резервирования: весь батч мимо.
		poolErr := &InsufficientPoolError{
			CourierID: req.CourierID,
			Available: len(candidates),
			Requested: len(req.OrderIDs),
		}
		_ = tx.Rollback(ctx)
		for _, id := range req.OrderIDs {
			res.Failed = append(res.Failed, FailedOrder{OrderID: id, Error: poolErr.Error()})
		}
		res.FailedCount = len(res.Failed)
		s.auditRollup(ctx, req.Actor, models.AuditActionBulkDispatchFailed, batchID,
			fmt.Sprintf("bulk dispatch via courier %s aborted: %s", courier.Code, poolErr.Error()))
		return res, nil
	}

	next := 0
	for _, orderID := range req.OrderIDs {
		if next >= len(candidates) {
			// Возможно только если предыдущие кандидаты ушли в CAS-отказ.
			res.addFailure(FailedOrder{OrderID: orderID, Error: "no reserved identifier left for this order"})
			continue
		}
		advance, err := s.dispatchInBatch(ctx, tx, courier, orderID, candidates[next], req.Policy, req.Note, req.Actor, batchID, res)
		if err != nil {
			return nil, err
		}
		if advance {
			next++
		}
	}

	return s.finishBatch(ctx, tx, req.Actor, req.CourierID, courier.Code, batchID, res,
		models.AuditActionBulkDispatch, models.AuditActionBulkDispatchFailed)
}

// dispatchInBatch обрабатывает один заказ внутри батчевой транзакции.
// Бизнес-отказы (не тот статус, гонка за идентификатор) копятся в res;
// ненулевая ошибка — только инфраструктурная, она валит весь батч.
// advance=true, если кандидат был потреблён или сгорел в гонке —
// следующему заказу нужен следующий кандидат.
func (s *Service) dispatchInBatch(
	ctx context.Context,
	tx Tx,
	courier *models.Courier,
	orderID uint64,
	ti *models.TrackingIdentifier,
	policy Policy,
	note string,
	actor Actor,
	batchID string,
	res *BatchResult,
) (advance bool, err error) {
	order, err := tx.GetOrderForUpdate(ctx, orderID)
	if errors.Is(err, pgdispatch.ErrOrderNotFound) {
		res.addFailure(FailedOrder{OrderID: orderID, Error: "order not found"})
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if !policy.Eligible(order) {
		// Кандидат остаётся unused и достанется следующему заказу.
		res.addFailure(FailedOrder{OrderID: orderID, Error: ineligibleReason(order, policy)})
		return false, nil
	}

	// CAS-потребление идёт первым мутирующим шагом: если параллельная
	// транзакция успела забрать кандидата, по этому заказу ещё ничего
	// не записано и его можно просто зачесть как отказ.
	if err := tx.ConsumeIdentifier(ctx, ti.ID, orderID); err != nil {
		if errors.Is(err, pgdispatch.ErrIdentifierConsumed) {
			res.addFailure(FailedOrder{OrderID: orderID, TrackNumber: ti.TrackNumber, Error: "tracking identifier consumed concurrently"})
			return true, nil
		}
		return false, err
	}

	if err := tx.MarkOrderDispatched(ctx, pgdispatch.MarkOrderDispatchedParams{
		OrderID:         orderID,
		CourierID:       courier.ID,
		TrackNumber:     ti.TrackNumber,
		Note:            note,
		AllowedStatuses: policy.AllowedStatuses,
		RequirePaid:     policy.RequirePaid,
	}); err != nil {
		// Строка заказа заблокирована нами же, так что stale здесь —
		// признак программной ошибки, а не рабочей гонки.
		return true, err
	}

	if err := tx.MarkOrderLinesDispatched(ctx, orderID); err != nil {
		return true, err
	}

	if err := tx.AppendAudit(ctx, models.AuditEntry{
		UserID:     actor.UserID,
		ActionType: models.AuditActionOrderDispatch,
		OrderID:    orderID,
		BatchID:    &batchID,
		Details:    fmt.Sprintf("dispatched via courier %s with tracking %s", courier.Code, ti.TrackNumber),
	}); err != nil {
		return true, err
	}

	res.Processed = append(res.Processed, DispatchResult{OrderID: orderID, TrackNumber: ti.TrackNumber})
	return true, nil
}

type GatewayBulkRequest struct {
	OrderIDs  []uint64
	CourierID uint64
	Note      string
	Mode      string // GatewayModeNew | GatewayModeExisting
	Policy    Policy
	Actor     Actor
}

// BulkDispatchViaGateway — массовая отправка через курьерский API
// (Mode B). Каждый заказ уходит в шлюз отдельным синхронным вызовом;
// отказ шлюза (включая таймаут) роняет только этот заказ. Коммит —
// если успешен хотя бы один.
func (s *Service) BulkDispatchViaGateway(ctx context.Context, req GatewayBulkRequest) (*BatchResult, error) {
	if err := validateBulk(&BulkDispatchRequest{
		OrderIDs:  req.OrderIDs,
		CourierID: req.CourierID,
		Policy:    req.Policy,
	}); err != nil {
		return nil, err
	}
	if req.Mode != GatewayModeNew && req.Mode != GatewayModeExisting {
		return nil, validationf("mode must be 'new' or 'existing'")
	}
	if s.gw == nil {
		return nil, errors.New("gateway client is not configured")
	}
	if len(req.Policy.AllowedStatuses) == 0 {
		req.Policy = PolicyPaidPending
	}

	batchID := uuid.NewString()
	res := &BatchResult{BatchID: batchID, TotalCount: len(req.OrderIDs)}

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

	for _, orderID := range req.OrderIDs {
		if err := s.dispatchViaGateway(ctx, tx, courier, orderID, req, batchID, res); err != nil {
			return nil, err
		}
	}

	return s.finishBatch(ctx, tx, req.Actor, req.CourierID, courier.Code, batchID, res,
		models.AuditActionGatewayDispatch, models.AuditActionGatewayFailed)
}

func (s *Service) dispatchViaGateway(
	ctx context.Context,
	tx Tx,
	courier *models.Courier,
	orderID uint64,
	req GatewayBulkRequest,
	batchID string,
	res *BatchResult,
) error {
	// Пауза квоты шлюза берётся до FOR UPDATE: пока мы спим, строки
	// заказов не должны оставаться заблокированными.
	s.throttleGateway(ctx, courier.ID)

	order, err := tx.GetOrderForUpdate(ctx, orderID)
	if errors.Is(err, pgdispatch.ErrOrderNotFound) {
		res.addFailure(FailedOrder{OrderID: orderID, Error: "order not found"})
		return nil
	}
	if err != nil {
		return err
	}
	if !req.Policy.Eligible(order) {
		res.addFailure(FailedOrder{OrderID: orderID, Error: ineligibleReason(order, req.Policy)})
		return nil
	}

	lines, err := tx.GetOrderLines(ctx, orderID)
	if err != nil {
		return err
	}

	// existing-parcel: номер берём из пула, лениво, по одному на заказ.
	var ti *models.TrackingIdentifier
	if req.Mode == GatewayModeExisting {
		ids, err := tx.SelectUnusedIdentifiers(ctx, courier.ID, 1)
		if err != nil {
			return err
		}
		if len(ids) < 1 {
			poolErr := &InsufficientPoolError{CourierID: courier.ID, Available: 0, Requested: 1}
			res.addFailure(FailedOrder{OrderID: orderID, Error: poolErr.Error()})
			return nil
		}
		ti = ids[0]
	}

	preq := buildParcelRequest(order, lines, ti)
	outcome, err := s.gw.SubmitParcel(ctx, preq)
	if err != nil {
		// Таймаут и обрыв связи для сверки эквивалентны отказу:
		// заказ в списке failed, батч продолжается.
		res.addFailure(FailedOrder{OrderID: orderID, Error: err.Error()})
		return nil
	}
	if !outcome.Success {
		res.addFailure(FailedOrder{
			OrderID:    orderID,
			Error:      outcome.Message,
			StatusCode: outcome.StatusCode,
		})
		return nil
	}

	trackNumber := ""
	synthesized := false
	switch req.Mode {
	case GatewayModeExisting:
		trackNumber = ti.TrackNumber
		if err := tx.ConsumeIdentifier(ctx, ti.ID, orderID); err != nil {
			if errors.Is(err, pgdispatch.ErrIdentifierConsumed) {
				res.addFailure(FailedOrder{OrderID: orderID, TrackNumber: ti.TrackNumber, Error: "tracking identifier consumed concurrently"})
				return nil
			}
			return err
		}
	case GatewayModeNew:
		trackNumber = outcome.TrackNumber
		if trackNumber == "" {
			// Шлюз иногда отвечает успехом без номера. Подставляем
			// детерминированный номер и помечаем его в данных.
			trackNumber = synthesizeTrackNumber(courier.Code, orderID)
			synthesized = true
			slog.Warn("gateway omitted tracking number, synthesized",
				"order_id", orderID, "track_number", trackNumber)
		}
	}

	if err := tx.MarkOrderDispatched(ctx, pgdispatch.MarkOrderDispatchedParams{
		OrderID:         orderID,
		CourierID:       courier.ID,
		TrackNumber:     trackNumber,
		Synthesized:     synthesized,
		Note:            req.Note,
		AllowedStatuses: req.Policy.AllowedStatuses,
		RequirePaid:     req.Policy.RequirePaid,
	}); err != nil {
		return err
	}
	if err := tx.MarkOrderLinesDispatched(ctx, orderID); err != nil {
		return err
	}

	if err := tx.AppendAudit(ctx, models.AuditEntry{
		UserID:     req.Actor.UserID,
		ActionType: models.AuditActionOrderDispatch,
		OrderID:    orderID,
		BatchID:    &batchID,
		Details:    fmt.Sprintf("dispatched via %s API with tracking %s (mode %s)", courier.Code, trackNumber, req.Mode),
	}); err != nil {
		return err
	}

	res.Processed = append(res.Processed, DispatchResult{
		OrderID:     orderID,
		TrackNumber: trackNumber,
		Synthesized: synthesized,
	})
	return nil
}

// finishBatch применяет политику коммита "хотя бы один успех" и пишет
// rollup-запись аудита (best-effort, уже вне транзакции).
func (s *Service) finishBatch(
	ctx context.Context,
	tx Tx,
	actor Actor,
	courierID uint64,
	courierCode string,
	batchID string,
	res *BatchResult,
	okAction, failAction string,
) (*BatchResult, error) {
	res.ProcessedCount = len(res.Processed)
	res.FailedCount = len(res.Failed)

	summary := fmt.Sprintf("courier %s: %d ok, %d failed of %d",
		courierCode, res.ProcessedCount, res.FailedCount, res.TotalCount)

	if res.ProcessedCount == 0 {
		_ = tx.Rollback(ctx)
		s.auditRollup(ctx, actor, failAction, batchID, summary)
		return res, nil
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	res.Success = true
	s.auditRollup(ctx, actor, okAction, batchID, summary)

	events := make([]dispatchedEvent, 0, len(res.Processed))
	for _, p := range res.Processed {
		events = append(events, dispatchedEvent{
			orderID:     p.OrderID,
			trackNumber: p.TrackNumber,
			synthesized: p.Synthesized,
			batchID:     batchID,
			actor:       actor.UserID,
		})
	}
	s.afterDispatch(ctx, courierID, events)

	return res, nil
}

// auditRollup — информационная rollup-запись. В отличие от записей
// внутри транзакции, её потеря терпима: сообщаем оператору и едем дальше.
func (s *Service) auditRollup(ctx context.Context, actor Actor, action, batchID, details string) {
	err := s.store.AppendAudit(ctx, models.AuditEntry{
		UserID:     actor.UserID,
		ActionType: action,
		BatchID:    &batchID,
		Details:    details,
	})
	if err != nil {
		slog.Error("write batch audit rollup", "batch_id", batchID, "action", action, "error", err.Error())
	}
}

func (s *Service) throttleGateway(ctx context.Context, courierID uint64) {
	if s.rl == nil || s.gwRatePerMin <= 0 {
		return
	}
	// Ключ бьётся по минутным окнам, TTL совпадает с окном: иначе
	// остаток прошлой минуты зачитывался бы в квоту текущей.
	bucket := time.Now().UTC().Unix() / 60
	key := fmt.Sprintf("rl:gateway:%d:%d", courierID, bucket)
	allowed, n, err := s.rl.Allow(ctx, key, s.gwRatePerMin, time.Minute)
	if err != nil {
		return
	}
	if !allowed {
		slog.Warn("gateway rate limit exceeded", "courier_id", courierID, "count", n)
		time.Sleep(500 * time.Millisecond)
	}
}

func validateBulk(req *BulkDispatchRequest) error {
	if len(req.OrderIDs) == 0 {
		return validationf("orderIds is empty")
	}
	if len(req.OrderIDs) > 1_000 {
		return validationf("too many orderIds (max 1000)")
	}
	if req.CourierID == 0 {
		return validationf("courierId is required")
	}
	seen := make(map[uint64]struct{}, len(req.OrderIDs))
	for _, id := range req.OrderIDs {
		if id == 0 {
			return validationf("orderIds contains zero")
		}
		if _, ok := seen[id]; ok {
			return validationf("duplicate orderId %d", id)
		}
		seen[id] = struct{}{}
	}
	if len(req.Policy.AllowedStatuses) == 0 {
		req.Policy = PolicyPaidPending
	}
	return nil
}

func (r *BatchResult) addFailure(f FailedOrder) {
	r.Failed = append(r.Failed, f)
}

func ineligibleReason(o *models.Order, p Policy) string {
	// Статус проверяем первым: у отменённого неоплаченного заказа
	// причиной отказа должен быть статус, а не оплата.
	for _, st := range p.AllowedStatuses {
		if o.Status == st {
			return fmt.Sprintf("ineligible pay status %q", o.PayStatus)
		}
	}
	return fmt.Sprintf("ineligible status %q", o.Status)
}

func buildParcelRequest(o *models.Order, lines []*models.OrderLine, ti *models.TrackingIdentifier) gateway.ParcelRequest {
	// Вес и описание агрегируются по строкам заказа; адресные поля
	// приезжают из справочника клиентов апстрима, здесь их нет — шлюз
	// принимает ссылку на заказ и позиции.
	var qty int32
	descs := make([]string, 0, len(lines))
	for _, l := range lines {
		qty += l.Quantity
		descs = append(descs, fmt.Sprintf("product %d x%d", l.ProductID, l.Quantity))
	}

	cod := o.TotalAmount
	if o.PayStatus == models.PayStatusPaid {
		cod = 0
	}

	req := gateway.ParcelRequest{
		OrderID:     o.OrderID,
		Weight:      float64(qty) * 0.5, // оценка: полкило на позицию
		Description: strings.Join(descs, ", "),
		CODAmount:   cod,
	}
	if ti != nil {
		req.TrackNumber = ti.TrackNumber
	}
	return req
}

func synthesizeTrackNumber(courierCode string, orderID uint64) string {
	return fmt.Sprintf("GW-%s-%d", courierCode, orderID)
}
