package models

import "time"

// Типы действий в журнале аудита. order_id = 0 означает запись
// уровня батча (rollup), а не конкретного заказа.
const (
	AuditActionOrderDispatch      = "order_dispatch"
	AuditActionBulkDispatch       = "bulk_dispatch"
	AuditActionBulkDispatchFailed = "bulk_dispatch_failed"
	AuditActionGatewayDispatch    = "bulk_api_dispatch"
	AuditActionGatewayFailed      = "bulk_api_dispatch_failed"
	AuditActionTrackingImport     = "tracking_import"
)

type AuditEntry struct {
	ID         uint64
	UserID     uint64
	ActionType string
	OrderID    uint64
	BatchID    *string
	Details    string
	CreatedAt  time.Time
}
