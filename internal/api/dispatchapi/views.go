package dispatchapi

import (
	"time"

	"github.com/BearBump/DispatchBox/internal/models"
)

type orderJSON struct {
	OrderID          uint64    `json:"orderId"`
	Status           string    `json:"status"`
	PayStatus        string    `json:"payStatus"`
	CourierID        *uint64   `json:"courierId,omitempty"`
	TrackNumber      *string   `json:"trackNumber,omitempty"`
	TrackSynthesized bool      `json:"trackSynthesized,omitempty"`
	DispatchNote     *string   `json:"dispatchNote,omitempty"`
	TotalAmount      float64   `json:"totalAmount"`
	CustomerID       uint64    `json:"customerId"`
	CreatedAt        time.Time `json:"createdAt"`
	UpdatedAt        time.Time `json:"updatedAt"`
}

type orderLineJSON struct {
	ID        uint64 `json:"id"`
	ProductID uint64 `json:"productId"`
	Quantity  int32  `json:"quantity"`
	Status    string `json:"status"`
	PayStatus string `json:"payStatus"`
}

type auditJSON struct {
	ID         uint64    `json:"id"`
	UserID     uint64    `json:"userId"`
	ActionType string    `json:"actionType"`
	OrderID    uint64    `json:"orderId"`
	BatchID    *string   `json:"batchId,omitempty"`
	Details    string    `json:"details"`
	CreatedAt  time.Time `json:"createdAt"`
}

func toOrderJSON(o *models.Order) orderJSON {
	return orderJSON{
		OrderID:          o.OrderID,
		Status:           o.Status,
		PayStatus:        o.PayStatus,
		CourierID:        o.CourierID,
		TrackNumber:      o.TrackNumber,
		TrackSynthesized: o.TrackSynthesized,
		DispatchNote:     o.DispatchNote,
		TotalAmount:      o.TotalAmount,
		CustomerID:       o.CustomerID,
		CreatedAt:        o.CreatedAt,
		UpdatedAt:        o.UpdatedAt,
	}
}

func toLinesJSON(lines []*models.OrderLine) []orderLineJSON {
	out := make([]orderLineJSON, 0, len(lines))
	for _, l := range lines {
		out = append(out, orderLineJSON{
			ID:        l.ID,
			ProductID: l.ProductID,
			Quantity:  l.Quantity,
			Status:    l.Status,
			PayStatus: l.PayStatus,
		})
	}
	return out
}

func toAuditJSON(entries []*models.AuditEntry) []auditJSON {
	out := make([]auditJSON, 0, len(entries))
	for _, e := range entries {
		out = append(out, auditJSON{
			ID:         e.ID,
			UserID:     e.UserID,
			ActionType: e.ActionType,
			OrderID:    e.OrderID,
			BatchID:    e.BatchID,
			Details:    e.Details,
			CreatedAt:  e.CreatedAt,
		})
	}
	return out
}
