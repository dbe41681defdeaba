package messages

import "time"

// OrderDispatched публикуется после коммита отправки — для
// нотификаций и склада.
type OrderDispatched struct {
	OrderID     uint64 `json:"order_id"`
	CourierID   uint64 `json:"courier_id"`
	TrackNumber string `json:"track_number"`
	Synthesized bool   `json:"synthesized,omitempty"`

	BatchID string `json:"batch_id,omitempty"`
	ActorID uint64 `json:"actor_id"`

	DispatchedAt time.Time `json:"dispatched_at"`
}

// TrackingImported приходит из системы импорта: пачка новых
// идентификаторов для пула курьера.
type TrackingImported struct {
	CourierID    uint64   `json:"courier_id"`
	TrackNumbers []string `json:"track_numbers"`
	ImportedBy   uint64   `json:"imported_by"`

	ImportedAt time.Time `json:"imported_at"`
}
