package models

import "time"

// Статусы заказа, которые видит этот сервис. Список апстрима шире,
// но для диспетчеризации важны только эти.
const (
	OrderStatusPending        = "pending"
	OrderStatusDispatch       = "dispatch"
	OrderStatusDelivered      = "delivered"
	OrderStatusDone           = "done"
	OrderStatusCancel         = "cancel"
	OrderStatusReturnComplete = "return complete"
	OrderStatusReturnHandover = "return_handover"
)

const (
	PayStatusUnpaid  = "unpaid"
	PayStatusPartial = "partial"
	PayStatusPaid    = "paid"
)

type Order struct {
	OrderID          uint64
	Status           string
	PayStatus        string
	CourierID        *uint64
	TrackNumber      *string
	TrackSynthesized bool
	DispatchNote     *string
	TotalAmount      float64
	CustomerID       uint64
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

type OrderLine struct {
	ID        uint64
	OrderID   uint64
	ProductID uint64
	Quantity  int32
	Status    string
	PayStatus string
}

type Courier struct {
	ID     uint64
	Code   string
	Name   string
	Active bool
}
