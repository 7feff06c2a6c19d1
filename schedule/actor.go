package schedule

// Role is the authorization level of an actor.
type Role string

const (
	RoleStaff   Role = "staff"
	RoleManager Role = "manager"
	RoleAdmin   Role = "admin"
	RoleSystem  Role = "system"
)

// Actor is the authenticated identity behind every mutating call. DeviceID
// goes into status history so merged histories stay attributable.
type Actor struct {
	ID       string `json:"id"`
	Role     Role   `json:"role"`
	DeviceID string `json:"device_id"`
}

// SystemActor is used for ledger housekeeping (accruals, carry-over).
var SystemActor = Actor{ID: "system", Role: RoleSystem, DeviceID: "server"}

func (a Actor) IsManager() bool {
	return a.Role == RoleManager || a.Role == RoleAdmin || a.Role == RoleSystem
}

// CanBackdate is the explicit permission to file time off for past dates.
func (a Actor) CanBackdate() bool { return a.IsManager() }

// CanActFor reports whether a may act on staffID's own schedule.
func (a Actor) CanActFor(staffID string) bool {
	return a.ID == staffID || a.IsManager()
}
