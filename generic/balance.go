/*
balance.go - Year fold and availability

PURPOSE:
  Computes a staff member's balance for one type and one calendar year from
  ledger entries. Balances are per year: carry-over moves what is left of
  one year into the next through explicit entries.

AVAILABILITY:
  Two limits may apply; the smaller wins.
    Ledger limit (accrual enabled): Balance
    Annual limit (annualLimitDays): AnnualLimit - Used

EXAMPLE:
  Accrued 2, used 0, annual limit 10:
    ledger limit 2, annual limit 10  ->  available 2
*/
package generic

// YearSummary is a fold of one year of ledger entries.
type YearSummary struct {
	Year       int    `json:"year"`
	Accrued    Amount `json:"accrued"`
	CarriedIn  Amount `json:"carried_in"`
	CarriedOut Amount `json:"carried_out"`
	Expired    Amount `json:"expired"`
	Used       Amount `json:"used"` // consumption net of reversals, positive
	Adjusted   Amount `json:"adjusted"`
	Balance    Amount `json:"balance"`
	EntryCount int    `json:"entry_count"`
}

// FoldYear folds txs (already restricted to the year) into a summary.
func FoldYear(year int, unit Unit, txs []Transaction) YearSummary {
	zero := NewAmount(0, unit)
	s := YearSummary{
		Year: year, Accrued: zero, CarriedIn: zero, CarriedOut: zero,
		Expired: zero, Used: zero, Adjusted: zero, Balance: zero,
	}
	for _, tx := range txs {
		if tx.EffectiveAt.Year() != year {
			continue
		}
		s.EntryCount++
		s.Balance = s.Balance.Add(tx.Delta)
		switch tx.Type {
		case TxAccrual:
			s.Accrued = s.Accrued.Add(tx.Delta)
		case TxCarryover:
			if tx.Delta.IsNegative() {
				s.CarriedOut = s.CarriedOut.Sub(tx.Delta)
			} else {
				s.CarriedIn = s.CarriedIn.Add(tx.Delta)
			}
		case TxExpire:
			s.Expired = s.Expired.Sub(tx.Delta)
		case TxConsumption, TxReversal:
			s.Used = s.Used.Sub(tx.Delta)
		case TxAdjustment:
			s.Adjusted = s.Adjusted.Add(tx.Delta)
		}
	}
	return s
}

// Limits describes which caps apply to a balance.
type Limits struct {
	LedgerBound bool    // accrual-enabled: cannot exceed the folded balance
	AnnualLimit *Amount // annualLimitDays
}

// Tracked reports whether any limit applies at all.
func (l Limits) Tracked() bool { return l.LedgerBound || l.AnnualLimit != nil }

// Available returns how much can still be consumed in the year.
// ok is false when no limit applies (unlimited).
func (s YearSummary) Available(l Limits) (available Amount, ok bool) {
	switch {
	case l.LedgerBound && l.AnnualLimit != nil:
		return s.Balance.Min(l.AnnualLimit.Sub(s.Used)), true
	case l.LedgerBound:
		return s.Balance, true
	case l.AnnualLimit != nil:
		return l.AnnualLimit.Sub(s.Used), true
	default:
		return s.Balance, false
	}
}
