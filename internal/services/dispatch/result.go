package dispatch

import "fmt"

// Actor — аутентифицированный пользователь, от имени которого идёт
// операция. Сервис доверяет этому значению (аутентификация выше).
type Actor struct {
	UserID uint64
	Role   string
}

type DispatchResult struct {
	OrderID     uint64 `json:"orderId"`
	TrackNumber string `json:"trackNumber"`
	Synthesized bool   `json:"synthesized,omitempty"`
}

type FailedOrder struct {
	OrderID     uint64 `json:"orderId"`
	TrackNumber string `json:"trackNumber,omitempty"`
	Error       string `json:"error"`
	StatusCode  int    `json:"statusCode,omitempty"`
}

// BatchResult — результат массовой операции. Всегда содержит счётчики
// и пообъектные списки, даже при полном провале: вызывающая сторона
// по ним решает, что ретраить.
type BatchResult struct {
	Success        bool             `json:"success"`
	BatchID        string           `json:"batchId"`
	TotalCount     int              `json:"totalCount"`
	ProcessedCount int              `json:"processedCount"`
	FailedCount    int              `json:"failedCount"`
	Processed      []DispatchResult `json:"processedOrders"`
	Failed         []FailedOrder    `json:"failedOrders"`
}

// ValidationError — запрос сформирован неверно, работа не начиналась.
// Транспорт отдаёт причину вызывающему как есть, в отличие от
// инфраструктурных ошибок, которые наружу не детализируются.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string { return e.Reason }

func validationf(format string, args ...any) error {
	return &ValidationError{Reason: fmt.Sprintf(format, args...)}
}

// InsufficientPoolError — в пуле курьера меньше свободных
// идентификаторов, чем запрошено.
type InsufficientPoolError struct {
	CourierID uint64
	Available int
	Requested int
}

func (e *InsufficientPoolError) Error() string {
	return fmt.Sprintf("insufficient tracking pool for courier %d: available %d, requested %d",
		e.CourierID, e.Available, e.Requested)
}
