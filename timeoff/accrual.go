/*
accrual.go - Monthly accrual postings

PURPOSE:
  A type with accrual enabled earns AccrualRatePerMonth on the first of
  every month. Postings are lazy: before any balance decision the workflow
  posts every month from the staff member's hire month (or January of the
  year in question) through the month that matters, and the idempotency key
  makes re-posting a no-op.

KEYS:
  accrual-<staff>-<type>-<yyyy-mm>

SEE ALSO:
  - generic/carryover.go: Year boundary entries
  - balance.go: Where postings are triggered
*/
package timeoff

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/schedule-engine/generic"
	"github.com/warp/schedule-engine/schedule"
)

// MonthlyAccrual generates accrual entries for one staff member and type.
type MonthlyAccrual struct {
	StaffID string
	TypeID  string
	Rate    decimal.Decimal
	Unit    generic.Unit
}

func AccrualFor(staffID string, t schedule.TimeOffType) (MonthlyAccrual, bool) {
	if !t.AccrualEnabled || !t.AccrualRatePerMonth.IsPositive() {
		return MonthlyAccrual{}, false
	}
	return MonthlyAccrual{StaffID: staffID, TypeID: t.ID, Rate: t.AccrualRatePerMonth, Unit: t.BalanceUnit()}, true
}

// Entries returns one posting for every month start in [from, through],
// both taken at month granularity.
func (a MonthlyAccrual) Entries(from, through generic.Date, now time.Time) []generic.Transaction {
	var out []generic.Transaction
	current := generic.StartOfMonth(from.Year(), from.Month())
	end := generic.StartOfMonth(through.Year(), through.Month())

	for current.BeforeOrEqual(end) {
		key := fmt.Sprintf("accrual-%s-%s-%04d-%02d", a.StaffID, a.TypeID, current.Year(), int(current.Month()))
		out = append(out, generic.Transaction{
			ID:             key,
			StaffID:        a.StaffID,
			TypeID:         a.TypeID,
			EffectiveAt:    current,
			Delta:          generic.NewAmountFromDecimal(a.Rate, a.Unit),
			Type:           generic.TxAccrual,
			Reason:         "monthly accrual",
			IdempotencyKey: key,
			CreatedBy:      schedule.SystemActor.ID,
			CreatedAt:      now,
		})
		current = current.AddMonths(1)
	}
	return out
}
