package dispatch

import "github.com/BearBump/DispatchBox/internal/models"

// Policy — именованный предикат пригодности заказа к отправке.
// В домене легально сосуществуют две политики, поэтому предикат
// передаётся явно, а не зашивается по месту вызова.
type Policy struct {
	Name            string
	AllowedStatuses []string
	RequirePaid     bool
}

var (
	// PolicyGeneral — одиночная отправка со страницы заказа:
	// pending или done, оплата не проверяется.
	PolicyGeneral = Policy{
		Name:            "general",
		AllowedStatuses: []string{models.OrderStatusPending, models.OrderStatusDone},
	}

	// PolicyPaidPending — строгий вариант для массовой отправки:
	// только pending и только полностью оплаченные.
	PolicyPaidPending = Policy{
		Name:            "paid_pending",
		AllowedStatuses: []string{models.OrderStatusPending},
		RequirePaid:     true,
	}
)

func (p Policy) Eligible(o *models.Order) bool {
	ok := false
	for _, st := range p.AllowedStatuses {
		if o.Status == st {
			ok = true
			break
		}
	}
	if !ok {
		return false
	}
	if p.RequirePaid && o.PayStatus != models.PayStatusPaid {
		return false
	}
	return true
}
