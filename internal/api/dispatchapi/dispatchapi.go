package dispatchapi

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/BearBump/DispatchBox/internal/models"
	"github.com/BearBump/DispatchBox/internal/services/dispatch"
	"github.com/BearBump/DispatchBox/internal/storage/pgdispatch"
	"github.com/go-chi/chi/v5"
	"github.com/pkg/errors"
)

// DispatchAPI — JSON-обвязка над сервисом диспетчеризации. Личность
// оператора приходит из заголовков (аутентификация живёт выше по
// стеку), здесь ей только атрибутируется аудит.
type DispatchAPI struct {
	svc *dispatch.Service
}

func New(svc *dispatch.Service) *DispatchAPI {
	return &DispatchAPI{svc: svc}
}

func (a *DispatchAPI) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/orders/{orderID}/dispatch", a.dispatchOrder)
	r.Get("/orders/{orderID}", a.getOrder)
	r.Post("/dispatch/bulk", a.bulkDispatch)
	r.Post("/dispatch/bulk-gateway", a.bulkDispatchViaGateway)
	r.Post("/tracking/reserve", a.reserveTracking)
	r.Post("/tracking/import", a.importTracking)
	r.Get("/couriers/{courierID}/pool", a.poolAvailability)
	r.Get("/audit", a.listAudit)
	return r
}

type dispatchOrderReq struct {
	CourierID uint64 `json:"courierId"`
	Note      string `json:"note"`
}

func (a *DispatchAPI) dispatchOrder(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(r)
	if !ok {
		writeFail(w, http.StatusUnauthorized, "missing X-User-Id header")
		return
	}
	orderID, err := strconv.ParseUint(chi.URLParam(r, "orderID"), 10, 64)
	if err != nil || orderID == 0 {
		writeFail(w, http.StatusBadRequest, "invalid order id")
		return
	}
	var req dispatchOrderReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeFail(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.CourierID == 0 {
		writeFail(w, http.StatusBadRequest, "courierId is required")
		return
	}

	res, err := a.svc.DispatchOne(r.Context(), dispatch.DispatchOneRequest{
		OrderID:   orderID,
		CourierID: req.CourierID,
		Note:      req.Note,
		Policy:    dispatch.PolicyGeneral,
		Actor:     actor,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeOK(w, map[string]any{"success": true, "result": res})
}

type bulkDispatchReq struct {
	OrderIDs  []uint64 `json:"orderIds"`
	CourierID uint64   `json:"courierId"`
	Note      string   `json:"note"`
}

func (a *DispatchAPI) bulkDispatch(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(r)
	if !ok {
		writeFail(w, http.StatusUnauthorized, "missing X-User-Id header")
		return
	}
	var req bulkDispatchReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeFail(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.OrderIDs) == 0 || req.CourierID == 0 {
		writeFail(w, http.StatusBadRequest, "orderIds and courierId are required")
		return
	}

	res, err := a.svc.BulkDispatch(r.Context(), dispatch.BulkDispatchRequest{
		OrderIDs:  req.OrderIDs,
		CourierID: req.CourierID,
		Note:      req.Note,
		Policy:    dispatch.PolicyPaidPending,
		Actor:     actor,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeOK(w, res)
}

type bulkGatewayReq struct {
	OrderIDs  []uint64 `json:"orderIds"`
	CourierID uint64   `json:"courierId"`
	Note      string   `json:"note"`
	Mode      string   `json:"mode"`
}

func (a *DispatchAPI) bulkDispatchViaGateway(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(r)
	if !ok {
		writeFail(w, http.StatusUnauthorized, "missing X-User-Id header")
		return
	}
	var req bulkGatewayReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeFail(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.OrderIDs) == 0 || req.CourierID == 0 {
		writeFail(w, http.StatusBadRequest, "orderIds and courierId are required")
		return
	}
	if req.Mode != dispatch.GatewayModeNew && req.Mode != dispatch.GatewayModeExisting {
		writeFail(w, http.StatusBadRequest, "mode must be 'new' or 'existing'")
		return
	}

	res, err := a.svc.BulkDispatchViaGateway(r.Context(), dispatch.GatewayBulkRequest{
		OrderIDs:  req.OrderIDs,
		CourierID: req.CourierID,
		Note:      req.Note,
		Mode:      req.Mode,
		Policy:    dispatch.PolicyPaidPending,
		Actor:     actor,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeOK(w, res)
}

type reserveTrackingReq struct {
	CourierID uint64 `json:"courierId"`
	Count     int    `json:"count"`
}

func (a *DispatchAPI) reserveTracking(w http.ResponseWriter, r *http.Request) {
	var req reserveTrackingReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeFail(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.CourierID == 0 || req.Count < 1 {
		writeFail(w, http.StatusBadRequest, "courierId and count >= 1 are required")
		return
	}

	ids, err := a.svc.ReserveTracking(r.Context(), req.CourierID, req.Count)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	out := make([]string, 0, len(ids))
	for _, ti := range ids {
		out = append(out, ti.TrackNumber)
	}
	writeOK(w, map[string]any{"success": true, "trackNumbers": out})
}

type importTrackingReq struct {
	CourierID    uint64   `json:"courierId"`
	TrackNumbers []string `json:"trackNumbers"`
}

func (a *DispatchAPI) importTracking(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(r)
	if !ok {
		writeFail(w, http.StatusUnauthorized, "missing X-User-Id header")
		return
	}
	var req importTrackingReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeFail(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.CourierID == 0 || len(req.TrackNumbers) == 0 {
		writeFail(w, http.StatusBadRequest, "courierId and trackNumbers are required")
		return
	}

	inserted, err := a.svc.ImportTracking(r.Context(), models.TrackingImportInput{
		CourierID:    req.CourierID,
		TrackNumbers: req.TrackNumbers,
	}, actor)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeOK(w, map[string]any{"success": true, "inserted": inserted})
}

func (a *DispatchAPI) poolAvailability(w http.ResponseWriter, r *http.Request) {
	courierID, err := strconv.ParseUint(chi.URLParam(r, "courierID"), 10, 64)
	if err != nil || courierID == 0 {
		writeFail(w, http.StatusBadRequest, "invalid courier id")
		return
	}
	pa, err := a.svc.GetPoolAvailability(r.Context(), courierID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeOK(w, pa)
}

func (a *DispatchAPI) getOrder(w http.ResponseWriter, r *http.Request) {
	orderID, err := strconv.ParseUint(chi.URLParam(r, "orderID"), 10, 64)
	if err != nil || orderID == 0 {
		writeFail(w, http.StatusBadRequest, "invalid order id")
		return
	}
	o, lines, err := a.svc.GetOrder(r.Context(), orderID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeOK(w, map[string]any{"order": toOrderJSON(o), "lines": toLinesJSON(lines)})
}

func (a *DispatchAPI) listAudit(w http.ResponseWriter, r *http.Request) {
	orderID, _ := strconv.ParseUint(r.URL.Query().Get("orderId"), 10, 64)
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

	entries, err := a.svc.ListAudit(r.Context(), orderID, limit, offset)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeOK(w, map[string]any{"entries": toAuditJSON(entries)})
}

func actorFrom(r *http.Request) (dispatch.Actor, bool) {
	uid, err := strconv.ParseUint(r.Header.Get("X-User-Id"), 10, 64)
	if err != nil || uid == 0 {
		return dispatch.Actor{}, false
	}
	return dispatch.Actor{UserID: uid, Role: r.Header.Get("X-User-Role")}, true
}

// writeServiceError переводит ошибки сервиса в HTTP-коды. Всё
// неопознанное считается инфраструктурным: детали в лог, наружу —
// sanitized сообщение.
func writeServiceError(w http.ResponseWriter, err error) {
	var (
		valErr  *dispatch.ValidationError
		poolErr *dispatch.InsufficientPoolError
	)
	switch {
	case errors.As(err, &valErr):
		writeFail(w, http.StatusBadRequest, valErr.Reason)
	case errors.As(err, &poolErr):
		writeJSON(w, http.StatusConflict, map[string]any{
			"success":   false,
			"message":   poolErr.Error(),
			"available": poolErr.Available,
			"requested": poolErr.Requested,
		})
	case errors.Is(err, pgdispatch.ErrOrderNotFound), errors.Is(err, pgdispatch.ErrCourierNotFound):
		writeFail(w, http.StatusNotFound, err.Error())
	case errors.Is(err, dispatch.ErrOrderIneligible),
		errors.Is(err, dispatch.ErrCourierInactive),
		errors.Is(err, pgdispatch.ErrIdentifierConsumed),
		errors.Is(err, pgdispatch.ErrStaleOrderState):
		writeFail(w, http.StatusConflict, err.Error())
	default:
		slog.Error("dispatch api internal error", "error", err.Error())
		writeFail(w, http.StatusInternalServerError, "internal error")
	}
}

func writeOK(w http.ResponseWriter, v any) {
	writeJSON(w, http.StatusOK, v)
}

func writeFail(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]any{"success": false, "message": msg})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
