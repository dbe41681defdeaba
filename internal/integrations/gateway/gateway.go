package gateway

import "context"

// ParcelRequest — то, что уходит в API курьера по одному заказу.
type ParcelRequest struct {
	OrderID       uint64
	TrackNumber   string // пусто для new-parcel: номер сгенерирует курьер
	RecipientName string
	Phone         string
	City          string
	Address       string
	Weight        float64
	Description   string
	CODAmount     float64
}

// Outcome — бизнес-результат вызова. Транспортные ошибки (таймаут,
// обрыв) возвращаются отдельной ошибкой; для цикла сверки они
// эквивалентны отказу по этому заказу.
type Outcome struct {
	Success     bool
	StatusCode  int
	Message     string
	TrackNumber string // может отсутствовать даже при успехе
	Raw         string
}

type Client interface {
	SubmitParcel(ctx context.Context, req ParcelRequest) (Outcome, error)
}
