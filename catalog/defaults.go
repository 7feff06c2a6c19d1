package catalog

import (
	"github.com/shopspring/decimal"
	"github.com/warp/schedule-engine/generic"
	"github.com/warp/schedule-engine/schedule"
)

func dec(s string) *decimal.Decimal {
	d := generic.MustParseDecimal(s)
	return &d
}

// DefaultTimeOffTypes is the seeded time-off catalog.
func DefaultTimeOffTypes() []schedule.TimeOffType {
	return []schedule.TimeOffType{
		{
			ID: "tot_vacation", Name: "Vacation", Code: "vacation", Emoji: "🏖️", Color: "#4F9DDE",
			IsPaid: true, RequiresApproval: true, Unit: generic.UnitDays,
			AccrualEnabled: true, AccrualRatePerMonth: generic.MustParseDecimal("1.25"),
			AnnualLimitDays: dec("20"), CarryOverEnabled: true, MaxCarryOverDays: dec("5"),
			DisplayOrder: 1,
		},
		{
			ID: "tot_sick", Name: "Sick Leave", Code: "sick", Emoji: "🤒", Color: "#E57373",
			IsPaid: true, RequiresApproval: false, Unit: generic.UnitDays,
			AnnualLimitDays: dec("10"),
			DisplayOrder:    2,
		},
		{
			ID: "tot_personal", Name: "Personal Day", Code: "personal", Emoji: "🙋", Color: "#9575CD",
			IsPaid: true, RequiresApproval: true, Unit: generic.UnitDays,
			AnnualLimitDays: dec("3"),
			DisplayOrder:    3,
		},
		{
			ID: "tot_bereavement", Name: "Bereavement", Code: "bereavement", Emoji: "🕊️", Color: "#90A4AE",
			IsPaid: true, RequiresApproval: true, Unit: generic.UnitDays,
			AnnualLimitDays: dec("5"),
			DisplayOrder:    4,
		},
		{
			ID: "tot_jury_duty", Name: "Jury Duty", Code: "jury_duty", Emoji: "⚖️", Color: "#A1887F",
			IsPaid: true, RequiresApproval: true, Unit: generic.UnitDays,
			DisplayOrder: 5,
		},
		{
			ID: "tot_unpaid", Name: "Unpaid Leave", Code: "unpaid", Emoji: "📅", Color: "#BDBDBD",
			IsPaid: false, RequiresApproval: true, Unit: generic.UnitDays,
			DisplayOrder: 6,
		},
	}
}

// DefaultBlockedTimeTypes is the seeded blocked-time catalog.
func DefaultBlockedTimeTypes() []schedule.BlockedTimeType {
	return []schedule.BlockedTimeType{
		{ID: "btt_lunch", Name: "Lunch Break", Code: "lunch", Emoji: "🍽️", Color: "#FFB74D",
			DefaultDurationMinutes: 60, BlocksOnlineBooking: true, BlocksInStoreBooking: true, DisplayOrder: 1},
		{ID: "btt_meeting", Name: "Meeting", Code: "meeting", Emoji: "👥", Color: "#64B5F6",
			DefaultDurationMinutes: 60, BlocksOnlineBooking: true, BlocksInStoreBooking: true, DisplayOrder: 2},
		{ID: "btt_training", Name: "Training", Code: "training", Emoji: "📚", Color: "#81C784",
			DefaultDurationMinutes: 120, BlocksOnlineBooking: true, BlocksInStoreBooking: true, DisplayOrder: 3},
		{ID: "btt_admin", Name: "Admin Time", Code: "admin", Emoji: "🗂️", Color: "#A1887F",
			DefaultDurationMinutes: 60, BlocksOnlineBooking: true, BlocksInStoreBooking: false, DisplayOrder: 4},
		{ID: "btt_personal", Name: "Personal", Code: "personal", Emoji: "🙋", Color: "#BA68C8",
			DefaultDurationMinutes: 30, BlocksOnlineBooking: true, BlocksInStoreBooking: true, DisplayOrder: 5},
		{ID: "btt_cleaning", Name: "Cleaning", Code: "cleaning", Emoji: "🧹", Color: "#4DB6AC",
			DefaultDurationMinutes: 30, BlocksOnlineBooking: true, BlocksInStoreBooking: false, DisplayOrder: 6},
		{ID: "btt_travel", Name: "Travel", Code: "travel", Emoji: "🚗", Color: "#7986CB",
			DefaultDurationMinutes: 60, BlocksOnlineBooking: true, BlocksInStoreBooking: true, DisplayOrder: 7},
	}
}
