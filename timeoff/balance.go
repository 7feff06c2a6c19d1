package timeoff

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/schedule-engine/generic"
	"github.com/warp/schedule-engine/schedule"
)

// =============================================================================
// SETTLEMENT - Lazy accrual and year closing
// =============================================================================

// settle brings a staff member's ledger for one type up to date: accruals
// are posted through the month of `through`, and every year up to
// closeThrough is closed with carry-over entries. Only accrual-enabled
// types are closed; annual-limit types restart every January.
func (s *Service) settle(ctx context.Context, ledger generic.Ledger, staff *schedule.StaffMember, typ schedule.TimeOffType, through generic.Date, closeThrough int, now time.Time) error {
	start := generic.StartOfYear(through.Year())
	if staff.HiredOn != nil {
		start = *staff.HiredOn
	}

	acc, accrues := AccrualFor(staff.ID, typ)
	if accrues && !start.After(through) {
		for _, tx := range acc.Entries(start, through, now) {
			written, err := ledger.AppendOnce(ctx, tx)
			if err != nil {
				return fmt.Errorf("post accrual %s: %w", tx.IdempotencyKey, err)
			}
			if written {
				s.metrics.LedgerEntry(string(generic.TxAccrual))
			}
		}
	}
	if !typ.AccrualEnabled {
		return nil
	}

	first := start.Year()
	existing, err := ledger.Transactions(ctx, staff.ID, typ.ID)
	if err != nil {
		return err
	}
	if len(existing) > 0 && existing[0].EffectiveAt.Year() < first {
		first = existing[0].EffectiveAt.Year()
	}
	for y := first; y <= closeThrough; y++ {
		if _, err := s.closeYear(ctx, ledger, staff.ID, typ, y, now); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) closeYear(ctx context.Context, ledger generic.Ledger, staffID string, typ schedule.TimeOffType, year int, now time.Time) (int, error) {
	summary, err := ledger.Year(ctx, staffID, typ.ID, year, typ.BalanceUnit())
	if err != nil {
		return 0, err
	}
	out := generic.CarryoverEngine{}.Close(generic.YearEndInput{
		StaffID: staffID,
		TypeID:  typ.ID,
		Closing: summary,
		Rule:    typ.CarryoverRule(),
		ActorID: schedule.SystemActor.ID,
		Now:     now,
	})
	written := 0
	for _, tx := range out.Transactions {
		ok, err := ledger.AppendOnce(ctx, tx)
		if err != nil {
			return written, fmt.Errorf("close year %d: %w", year, err)
		}
		if ok {
			written++
			s.metrics.LedgerEntry(string(tx.Type))
		}
	}
	return written, nil
}

// closeBefore is the last year that may be closed lazily for a decision
// about `through`: never the current year, never the year being decided.
func closeBefore(through generic.Date, now time.Time) int {
	y := through.Year()
	if n := now.Year(); n < y {
		y = n
	}
	return y - 1
}

// =============================================================================
// BALANCE VIEW
// =============================================================================

type BalanceView struct {
	StaffID  string       `json:"staff_id"`
	TypeID   string       `json:"type_id"`
	TypeName string       `json:"type_name"`
	Unit     generic.Unit `json:"unit"`
	generic.YearSummary

	AnnualLimit *generic.Amount `json:"annual_limit,omitempty"`

	// Available is nil when no limit applies.
	Available *generic.Amount `json:"available,omitempty"`
}

// Balance settles the ledger up to today (or the end of a past year) and
// folds the requested year.
func (s *Service) Balance(ctx context.Context, staffID, typeID string, year int) (*BalanceView, error) {
	staff, err := s.store.GetStaff(ctx, staffID)
	if err != nil {
		return nil, err
	}
	typ, err := s.store.GetTimeOffType(ctx, typeID)
	if err != nil {
		return nil, err
	}
	unlock := s.locks.Lock(generic.StaffKey(staffID))
	defer unlock()

	now := s.now().UTC()
	today := generic.DateOf(now)
	through := generic.MinDate(generic.EndOfYear(year), generic.MaxDate(today, generic.StartOfYear(year)))

	view := &BalanceView{StaffID: staffID, TypeID: typeID, TypeName: typ.Name, Unit: typ.BalanceUnit()}
	err = s.store.WithTx(ctx, func(tx schedule.Repository) error {
		ledger := generic.NewLedger(tx)
		if err := s.settle(ctx, ledger, staff, *typ, through, closeBefore(through, now), now); err != nil {
			return err
		}
		summary, err := ledger.Year(ctx, staffID, typeID, year, view.Unit)
		if err != nil {
			return err
		}
		view.YearSummary = summary
		return nil
	})
	if err != nil {
		return nil, err
	}

	limits := typ.Limits()
	view.AnnualLimit = limits.AnnualLimit
	if available, ok := view.YearSummary.Available(limits); ok {
		view.Available = &available
	}
	return view, nil
}

// Transactions lists every ledger entry for the staff member and type.
func (s *Service) Transactions(ctx context.Context, staffID, typeID string) ([]generic.Transaction, error) {
	return generic.NewLedger(s.store).Transactions(ctx, staffID, typeID)
}

// =============================================================================
// ADJUSTMENTS
// =============================================================================

type AdjustInput struct {
	StaffID     string          `json:"staff_id"`
	TypeID      string          `json:"type_id"`
	Amount      decimal.Decimal `json:"amount"`
	EffectiveAt generic.Date    `json:"effective_at"`
	Reason      string          `json:"reason"`
}

// Adjust appends a manual correction. Positive amounts grant, negative
// amounts deduct.
func (s *Service) Adjust(ctx context.Context, actor schedule.Actor, in AdjustInput) (*generic.Transaction, error) {
	if !actor.IsManager() {
		return nil, &generic.UnauthorizedScheduleError{ActorID: actor.ID, Action: "adjust balances"}
	}
	if strings.TrimSpace(in.Reason) == "" {
		return nil, generic.Invalid("reason", "required")
	}
	if in.Amount.IsZero() {
		return nil, generic.Invalid("amount", "must not be zero")
	}
	if _, err := s.store.GetStaff(ctx, in.StaffID); err != nil {
		return nil, err
	}
	typ, err := s.store.GetTimeOffType(ctx, in.TypeID)
	if err != nil {
		return nil, err
	}
	unlock := s.locks.Lock(generic.StaffKey(in.StaffID))
	defer unlock()

	now := s.now().UTC()
	if in.EffectiveAt.IsZero() {
		in.EffectiveAt = generic.DateOf(now)
	}
	key := "adjust-" + s.newID()
	tx := generic.Transaction{
		ID:              key,
		StaffID:         in.StaffID,
		TypeID:          in.TypeID,
		EffectiveAt:     in.EffectiveAt,
		Delta:           generic.NewAmountFromDecimal(in.Amount, typ.BalanceUnit()),
		Type:            generic.TxAdjustment,
		Reason:          strings.TrimSpace(in.Reason),
		IdempotencyKey:  key,
		CreatedBy:       actor.ID,
		CreatedByDevice: actor.DeviceID,
		CreatedAt:       now,
	}
	if err := generic.NewLedger(s.store).Append(ctx, tx); err != nil {
		return nil, err
	}
	s.metrics.LedgerEntry(string(generic.TxAdjustment))
	s.logger(ctx).InfoContext(ctx, "balance adjusted",
		"staff_id", in.StaffID, "type_id", in.TypeID, "amount", in.Amount.String(), "actor_id", actor.ID)
	return &tx, nil
}

// =============================================================================
// YEAR END
// =============================================================================

type YearEndReport struct {
	Year     int `json:"year"`
	Accounts int `json:"accounts"`
	Entries  int `json:"entries"`
}

// RunYearEnd closes a finished year for every staff/type pair with ledger
// activity in it. Safe to re-run: already closed accounts write nothing.
func (s *Service) RunYearEnd(ctx context.Context, actor schedule.Actor, year int) (*YearEndReport, error) {
	if !actor.IsManager() {
		return nil, &generic.UnauthorizedScheduleError{ActorID: actor.ID, Action: "run year end"}
	}
	now := s.now().UTC()
	if year >= now.Year() {
		return nil, &generic.DateRangeInvalidError{
			Start: generic.StartOfYear(year), End: generic.EndOfYear(year),
			Reason: "year has not ended",
		}
	}

	accounts, err := s.store.Accounts(ctx, generic.StartOfYear(year), generic.EndOfYear(year))
	if err != nil {
		return nil, err
	}
	report := &YearEndReport{Year: year}
	for _, acct := range accounts {
		typ, err := s.store.GetTimeOffType(ctx, acct.TypeID)
		if generic.IsNotFound(err) {
			continue
		} else if err != nil {
			return report, err
		}
		if !typ.AccrualEnabled {
			continue
		}
		staff, err := s.store.GetStaff(ctx, acct.StaffID)
		if generic.IsNotFound(err) {
			staff = &schedule.StaffMember{ID: acct.StaffID}
		} else if err != nil {
			return report, err
		}

		written, err := s.closeAccount(ctx, staff, *typ, year, now)
		if err != nil {
			return report, err
		}
		report.Accounts++
		report.Entries += written
	}
	s.logger(ctx).InfoContext(ctx, "year end closed", "year", year, "accounts", report.Accounts, "entries", report.Entries, "actor_id", actor.ID)
	return report, nil
}

func (s *Service) closeAccount(ctx context.Context, staff *schedule.StaffMember, typ schedule.TimeOffType, year int, now time.Time) (int, error) {
	unlock := s.locks.Lock(generic.StaffKey(staff.ID))
	defer unlock()

	written := 0
	err := s.store.WithTx(ctx, func(tx schedule.Repository) error {
		ledger := generic.NewLedger(tx)
		if err := s.settle(ctx, ledger, staff, typ, generic.EndOfYear(year), year-1, now); err != nil {
			return err
		}
		n, err := s.closeYear(ctx, ledger, staff.ID, typ, year, now)
		written = n
		return err
	})
	return written, err
}
