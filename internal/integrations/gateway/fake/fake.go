package fake

import (
	"context"
	"fmt"
	"hash/fnv"

	"github.com/BearBump/DispatchBox/internal/integrations/gateway"
)

// FakeClient — заглушка шлюза для локальной разработки и демо.
// Детерминированный исход по order_id: часть заказов отбивается
// с реальными кодами провайдера.
type FakeClient struct{}

func New() *FakeClient { return &FakeClient{} }

func (f *FakeClient) SubmitParcel(ctx context.Context, req gateway.ParcelRequest) (gateway.Outcome, error) {
	h := fnv.New32a()
	_, _ = fmt.Fprintf(h, "%d", req.OrderID)
	v := h.Sum32()

	// ~10% заказов "падают" на невалидном городе.
	if v%10 == 0 {
		return gateway.Outcome{
			Success:    false,
			StatusCode: 213,
			Message:    "Invalid city",
		}, nil
	}

	tn := req.TrackNumber
	if tn == "" {
		tn = fmt.Sprintf("FAKE%010d", req.OrderID)
	}
	return gateway.Outcome{
		Success:     true,
		StatusCode:  200,
		Message:     "Success",
		TrackNumber: tn,
	}, nil
}
