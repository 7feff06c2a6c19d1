/*
Package generic provides the core primitives of the schedule engine.

PURPOSE:
  Domain-agnostic building blocks shared by every schedule component: the
  Interval model and overlap rule, decimal Amounts, the append-only balance
  ledger, the error taxonomy and the per-subject lock. Packages such as
  timeoff, blocked and resource compose these; generic knows nothing about
  staff, appointments or catalogs.

KEY CONCEPTS IN THIS FILE (types.go):
  - Amount: A quantity with a unit (e.g., 3 days, 7.5 hours)
  - Transaction: An immutable ledger entry recording a balance change

DESIGN PRINCIPLES:
  1. Immutability: Transactions are never modified, only reversed
  2. Precision: Uses decimal.Decimal to avoid floating-point errors
  3. Auditability: Every transaction has reason, reference, actor and idempotency key

USAGE:
  tx := generic.Transaction{
      StaffID: "staff-1",
      TypeID:  "vacation",
      Delta:   generic.NewAmount(-3, generic.UnitDays),
      Type:    generic.TxConsumption,
  }

SEE ALSO:
  - interval.go: Interval model
  - ledger.go: Transaction persistence interface
  - errors.go: Error taxonomy
*/
package generic

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// AMOUNT - Quantity with unit
// =============================================================================

type Amount struct {
	Value decimal.Decimal `json:"value"`
	Unit  Unit            `json:"unit"`
}

type Unit string

const (
	UnitDays  Unit = "days"
	UnitHours Unit = "hours"
)

func NewAmount(value float64, unit Unit) Amount {
	return Amount{Value: decimal.NewFromFloat(value), Unit: unit}
}

func NewAmountFromDecimal(value decimal.Decimal, unit Unit) Amount {
	return Amount{Value: value, Unit: unit}
}

func MustParseDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

func (a Amount) Zero() Amount                 { return Amount{Value: decimal.Zero, Unit: a.Unit} }
func (a Amount) Add(b Amount) Amount          { return Amount{Value: a.Value.Add(b.Value), Unit: a.Unit} }
func (a Amount) Sub(b Amount) Amount          { return Amount{Value: a.Value.Sub(b.Value), Unit: a.Unit} }
func (a Amount) Mul(s decimal.Decimal) Amount { return Amount{Value: a.Value.Mul(s), Unit: a.Unit} }
func (a Amount) Neg() Amount                  { return Amount{Value: a.Value.Neg(), Unit: a.Unit} }
func (a Amount) IsNegative() bool             { return a.Value.IsNegative() }
func (a Amount) IsZero() bool                 { return a.Value.IsZero() }
func (a Amount) IsPositive() bool             { return a.Value.IsPositive() }
func (a Amount) GreaterThan(b Amount) bool    { return a.Value.GreaterThan(b.Value) }
func (a Amount) LessThan(b Amount) bool       { return a.Value.LessThan(b.Value) }
func (a Amount) Equal(b Amount) bool          { return a.Value.Equal(b.Value) }
func (a Amount) String() string               { return a.Value.String() + " " + string(a.Unit) }

func (a Amount) Min(b Amount) Amount {
	if a.LessThan(b) {
		return a
	}
	return b
}

func (a Amount) Max(b Amount) Amount {
	if a.GreaterThan(b) {
		return a
	}
	return b
}

// =============================================================================
// TRANSACTION - Atomic change to a staff member's balance for one type
// =============================================================================

type TransactionType string

const (
	TxAccrual     TransactionType = "accrual"     // Monthly accrual posting
	TxConsumption TransactionType = "consumption" // Approved time-off request
	TxReversal    TransactionType = "reversal"    // Credit back on cancellation
	TxCarryover   TransactionType = "carryover"   // Year boundary carry-out (negative) / carry-in (positive)
	TxExpire      TransactionType = "expire"      // Unused balance above the carry-over cap
	TxAdjustment  TransactionType = "adjustment"  // Manual manager correction or grant
)

type Transaction struct {
	ID             string            `json:"id"`
	StaffID        string            `json:"staff_id"`
	TypeID         string            `json:"type_id"`
	EffectiveAt    Date              `json:"effective_at"`
	Delta          Amount            `json:"delta"`
	Type           TransactionType   `json:"type"`
	ReferenceID    string            `json:"reference_id,omitempty"`
	Reason         string            `json:"reason,omitempty"`
	IdempotencyKey string            `json:"idempotency_key"`
	Metadata       map[string]string `json:"metadata,omitempty"`

	// Audit fields
	CreatedBy       string    `json:"created_by"`
	CreatedByDevice string    `json:"created_by_device,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}

// Account identifies one balance: a staff member and a time-off type.
type Account struct {
	StaffID string
	TypeID  string
}
