package models

import "time"

const (
	TrackingStatusUnused = "unused"
	TrackingStatusUsed   = "used"
)

// TrackingIdentifier — один слот отправки в пуле курьера.
// Переход unused -> used происходит ровно один раз, назад не возвращается.
type TrackingIdentifier struct {
	ID              uint64
	CourierID       uint64
	TrackNumber     string
	Status          string
	AssignedOrderID *uint64
	CreatedAt       time.Time
	UsedAt          *time.Time
}

type TrackingImportInput struct {
	CourierID    uint64
	TrackNumbers []string
}
