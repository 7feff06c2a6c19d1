package generic

import (
	"fmt"
	"time"
)

// =============================================================================
// YEAR-END RECONCILIATION - Carry-over and expiry at the year boundary
// =============================================================================

// CarryoverRule is the per-type year boundary policy.
type CarryoverRule struct {
	Enabled      bool
	MaxCarryover *Amount // nil = uncapped
}

type YearEndInput struct {
	StaffID string
	TypeID  string
	Closing YearSummary // the year being closed
	Rule    CarryoverRule
	ActorID string
	Now     time.Time
}

type YearEndOutput struct {
	Transactions []Transaction
	CarriedOver  Amount
	Expired      Amount
}

// CarryoverEngine turns a closing balance into the boundary entries:
//
//	closing year  carryover  -carried   (Dec 31)
//	closing year  expire     -expired   (Dec 31)
//	next year     carryover  +carried   (Jan 1)
//
// A negative closing balance (approved with a balance override) is carried
// in full so the deficit is never forgiven by the boundary.
type CarryoverEngine struct{}

func (CarryoverEngine) Close(in YearEndInput) YearEndOutput {
	year := in.Closing.Year
	balance := in.Closing.Balance
	out := YearEndOutput{CarriedOver: balance.Zero(), Expired: balance.Zero()}

	if balance.IsZero() {
		return out
	}

	carry := balance
	if balance.IsPositive() {
		if !in.Rule.Enabled {
			carry = balance.Zero()
		} else if in.Rule.MaxCarryover != nil && carry.GreaterThan(*in.Rule.MaxCarryover) {
			carry = *in.Rule.MaxCarryover
		}
	}
	expired := balance.Sub(carry)
	out.CarriedOver, out.Expired = carry, expired

	entry := func(kind TransactionType, at Date, delta Amount, key, reason string) Transaction {
		return Transaction{
			ID:             key,
			StaffID:        in.StaffID,
			TypeID:         in.TypeID,
			EffectiveAt:    at,
			Delta:          delta,
			Type:           kind,
			Reason:         reason,
			IdempotencyKey: key,
			CreatedBy:      in.ActorID,
			CreatedAt:      in.Now,
		}
	}
	base := fmt.Sprintf("%s-%s-%d", in.StaffID, in.TypeID, year)

	if !carry.IsZero() {
		out.Transactions = append(out.Transactions,
			entry(TxCarryover, EndOfYear(year), carry.Neg(), "carryout-"+base, fmt.Sprintf("carried into %d", year+1)),
			entry(TxCarryover, StartOfYear(year+1), carry, "carryin-"+base, fmt.Sprintf("carried over from %d", year)),
		)
	}
	if expired.IsPositive() {
		out.Transactions = append(out.Transactions,
			entry(TxExpire, EndOfYear(year), expired.Neg(), "expire-"+base, "unused balance above carry-over cap"))
	}
	return out
}
