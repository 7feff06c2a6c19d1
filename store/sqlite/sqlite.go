/*
Package sqlite provides a SQLite-backed schedule.Store.

PURPOSE:
  Durable implementation of every schedule repository plus the balance
  ledger. Entities are stored as JSON bodies next to the columns the range
  queries filter on; ledger entries get a real table of their own.

KEY TABLES:
  entities:     One row per (kind, id). owner_id is the staff member or
                resource the entity belongs to; start_date, end_date and
                recurs_until drive the range queries.
  transactions: Append-only ledger. No UPDATE, no DELETE.

INDEXES:
  - idx_entities_owner_range: Conflict checks (hot path)
  - idx_entities_type:        Catalog "in use" counts
  - idx_transactions_account: Balance calculation
  - idempotency_key UNIQUE:   Replayed postings are rejected

CONCURRENCY:
  The pool is limited to a single connection, so every statement and
  transaction is serialized by database/sql itself. WAL mode keeps file
  readers from blocking writers. Inside WithTx, use only the Repository
  passed to fn: a call on the outer Store waits for the connection the
  transaction holds.

USAGE:
  store, err := sqlite.New("./data/schedule.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

SEE ALSO:
  - schedule/repository.go: Interface definitions
  - store/memory: In-memory implementation of the same interface
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/Masterminds/squirrel"
	sqlite3 "github.com/mattn/go-sqlite3"
	"github.com/warp/schedule-engine/generic"
	"github.com/warp/schedule-engine/schedule"
)

// executor is satisfied by both *sql.DB and *sql.Tx.
type executor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

var builder = squirrel.StatementBuilder.PlaceholderFormat(squirrel.Question)

type Store struct {
	*repo
	db *sql.DB
}

var _ schedule.Store = (*Store)(nil)

// New opens (or creates) the database at dbPath and migrates the schema.
// Use ":memory:" for a throwaway database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	s := &Store{db: db, repo: &repo{db: db}}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Ping reports whether the database connection is usable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS entities (
		kind TEXT NOT NULL,
		id TEXT NOT NULL,
		owner_id TEXT NOT NULL DEFAULT '',
		type_id TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT '',
		start_date TEXT NOT NULL DEFAULT '',
		end_date TEXT NOT NULL DEFAULT '',
		recurring INTEGER NOT NULL DEFAULT 0,
		recurs_until TEXT,
		body TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		PRIMARY KEY (kind, id)
	);

	CREATE INDEX IF NOT EXISTS idx_entities_owner_range
		ON entities(kind, owner_id, start_date, end_date);
	CREATE INDEX IF NOT EXISTS idx_entities_type
		ON entities(kind, type_id);
	CREATE INDEX IF NOT EXISTS idx_entities_status
		ON entities(kind, status);

	CREATE TABLE IF NOT EXISTS transactions (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		staff_id TEXT NOT NULL,
		type_id TEXT NOT NULL,
		effective_at TEXT NOT NULL,
		delta_value TEXT NOT NULL,
		delta_unit TEXT NOT NULL,
		tx_type TEXT NOT NULL,
		reference_id TEXT,
		reason TEXT,
		idempotency_key TEXT UNIQUE,
		metadata_json TEXT,
		created_by TEXT NOT NULL,
		created_by_device TEXT,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_transactions_account
		ON transactions(staff_id, type_id, effective_at);
	CREATE INDEX IF NOT EXISTS idx_transactions_effective_at
		ON transactions(effective_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

// WithTx runs fn inside one SQL transaction. A non-nil error rolls back.
func (s *Store) WithTx(ctx context.Context, fn func(schedule.Repository) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&repo{db: sqlTx, inTx: true}); err != nil {
		return err
	}
	return sqlTx.Commit()
}

// =============================================================================
// REPO - Query layer shared by the store and its transaction view
// =============================================================================

type repo struct {
	db   executor
	inTx bool
}

// meta is the indexed part of an entity row.
type meta struct {
	kind    schedule.EntityKind
	id      string
	owner   string
	typeID  string
	status  string
	iv      *generic.Interval
	updated time.Time
}

var entityColumns = []string{
	"kind", "id", "owner_id", "type_id", "status",
	"start_date", "end_date", "recurring", "recurs_until", "body", "updated_at",
}

func (r *repo) save(ctx context.Context, op string, m meta, v any) error {
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("%w: %s - encode body: %v", ErrBuildQuery, op, err)
	}

	var start, end string
	recurring := 0
	var until sql.NullString
	if m.iv != nil {
		start, end = m.iv.StartDate.String(), m.iv.EndDate.String()
		if m.iv.IsRecurring() {
			recurring = 1
			if m.iv.Recurrence.Until != nil {
				until = sql.NullString{String: m.iv.Recurrence.Until.String(), Valid: true}
			}
		}
	}

	query, args, err := builder.Insert("entities").
		Options("OR REPLACE").
		Columns(entityColumns...).
		Values(string(m.kind), m.id, m.owner, m.typeID, m.status,
			start, end, recurring, until, string(body), m.updated.UTC().Format(time.RFC3339Nano)).
		ToSql()
	if err != nil {
		return fmt.Errorf("%w: %s - build upsert query: %v", ErrBuildQuery, op, err)
	}
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("%w: %s - execute upsert: %v", ErrExecQuery, op, err)
	}
	return nil
}

func getEntity[T any](ctx context.Context, r *repo, op string, kind schedule.EntityKind, entity, id string) (*T, error) {
	query, args, err := builder.Select("body").
		From("entities").
		Where(squirrel.Eq{"kind": string(kind), "id": id}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("%w: %s - build select query: %v", ErrBuildQuery, op, err)
	}

	var body string
	if err := r.db.QueryRowContext(ctx, query, args...).Scan(&body); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, generic.NotFound(entity, id)
		}
		return nil, fmt.Errorf("%w: %s - scan body: %v", ErrScanRow, op, err)
	}
	var v T
	if err := json.Unmarshal([]byte(body), &v); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrDecodeBody, op, err)
	}
	return &v, nil
}

func listEntities[T any](ctx context.Context, r *repo, op string, kind schedule.EntityKind, where ...squirrel.Sqlizer) ([]T, error) {
	q := builder.Select("body").
		From("entities").
		Where(squirrel.Eq{"kind": string(kind)})
	for _, w := range where {
		q = q.Where(w)
	}
	query, args, err := q.OrderBy("start_date", "id").ToSql()
	if err != nil {
		return nil, fmt.Errorf("%w: %s - build select query: %v", ErrBuildQuery, op, err)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: %s - execute select: %v", ErrExecQuery, op, err)
	}
	defer rows.Close()

	var out []T
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, fmt.Errorf("%w: %s - scan body: %v", ErrScanRow, op, err)
		}
		var v T
		if err := json.Unmarshal([]byte(body), &v); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrDecodeBody, op, err)
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %s - iterate rows: %v", ErrScanRow, op, err)
	}
	return out, nil
}

func (r *repo) delete(ctx context.Context, op string, kind schedule.EntityKind, entity, id string) error {
	query, args, err := builder.Delete("entities").
		Where(squirrel.Eq{"kind": string(kind), "id": id}).
		ToSql()
	if err != nil {
		return fmt.Errorf("%w: %s - build delete query: %v", ErrBuildQuery, op, err)
	}
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%w: %s - execute delete: %v", ErrExecQuery, op, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return generic.NotFound(entity, id)
	}
	return nil
}

func (r *repo) count(ctx context.Context, op string, kind schedule.EntityKind, where squirrel.Sqlizer) (int, error) {
	query, args, err := builder.Select("COUNT(*)").
		From("entities").
		Where(squirrel.Eq{"kind": string(kind)}).
		Where(where).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("%w: %s - build count query: %v", ErrBuildQuery, op, err)
	}
	var n int
	if err := r.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("%w: %s - scan count: %v", ErrScanRow, op, err)
	}
	return n, nil
}

// reaching matches every row that could have an occurrence in [from, to]:
// one-off rows whose date range intersects it, and recurring rows whose
// recurrence has not ended before from.
func reaching(from, to generic.Date) squirrel.Sqlizer {
	return squirrel.Or{
		squirrel.And{
			squirrel.Eq{"recurring": 1},
			squirrel.Or{squirrel.Eq{"recurs_until": nil}, squirrel.GtOrEq{"recurs_until": from.String()}},
		},
		squirrel.And{
			squirrel.Eq{"recurring": 0},
			squirrel.GtOrEq{"end_date": from.String()},
			squirrel.LtOrEq{"start_date": to.String()},
		},
	}
}

func isUniqueConstraintError(err error) bool {
	var se sqlite3.Error
	if errors.As(err, &se) {
		return se.ExtendedCode == sqlite3.ErrConstraintUnique || se.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}

// =============================================================================
// CATALOGS
// =============================================================================

func (r *repo) SaveTimeOffType(ctx context.Context, t schedule.TimeOffType) error {
	return r.save(ctx, "SaveTimeOffType", meta{kind: schedule.KindTimeOffType, id: t.ID, updated: t.UpdatedAt}, t)
}

func (r *repo) GetTimeOffType(ctx context.Context, id string) (*schedule.TimeOffType, error) {
	return getEntity[schedule.TimeOffType](ctx, r, "GetTimeOffType", schedule.KindTimeOffType, "type", id)
}

func (r *repo) ListTimeOffTypes(ctx context.Context) ([]schedule.TimeOffType, error) {
	out, err := listEntities[schedule.TimeOffType](ctx, r, "ListTimeOffTypes", schedule.KindTimeOffType)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].DisplayOrder != out[j].DisplayOrder {
			return out[i].DisplayOrder < out[j].DisplayOrder
		}
		return out[i].Name < out[j].Name
	})
	return out, nil
}

func (r *repo) DeleteTimeOffType(ctx context.Context, id string) error {
	return r.delete(ctx, "DeleteTimeOffType", schedule.KindTimeOffType, "type", id)
}

func (r *repo) SaveBlockedTimeType(ctx context.Context, t schedule.BlockedTimeType) error {
	return r.save(ctx, "SaveBlockedTimeType", meta{kind: schedule.KindBlockedTimeType, id: t.ID, updated: t.UpdatedAt}, t)
}

func (r *repo) GetBlockedTimeType(ctx context.Context, id string) (*schedule.BlockedTimeType, error) {
	return getEntity[schedule.BlockedTimeType](ctx, r, "GetBlockedTimeType", schedule.KindBlockedTimeType, "type", id)
}

func (r *repo) ListBlockedTimeTypes(ctx context.Context) ([]schedule.BlockedTimeType, error) {
	out, err := listEntities[schedule.BlockedTimeType](ctx, r, "ListBlockedTimeTypes", schedule.KindBlockedTimeType)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].DisplayOrder != out[j].DisplayOrder {
			return out[i].DisplayOrder < out[j].DisplayOrder
		}
		return out[i].Name < out[j].Name
	})
	return out, nil
}

func (r *repo) DeleteBlockedTimeType(ctx context.Context, id string) error {
	return r.delete(ctx, "DeleteBlockedTimeType", schedule.KindBlockedTimeType, "type", id)
}

func (r *repo) CountTimeOffRequestsByType(ctx context.Context, typeID string) (int, error) {
	return r.count(ctx, "CountTimeOffRequestsByType", schedule.KindTimeOffRequest, squirrel.Eq{"type_id": typeID})
}

func (r *repo) CountBlockedTimeByType(ctx context.Context, typeID string) (int, error) {
	return r.count(ctx, "CountBlockedTimeByType", schedule.KindBlockedTime, squirrel.Eq{"type_id": typeID})
}

// =============================================================================
// STAFF + APPOINTMENTS
// =============================================================================

func (r *repo) SaveStaff(ctx context.Context, s schedule.StaffMember) error {
	return r.save(ctx, "SaveStaff", meta{kind: schedule.KindStaff, id: s.ID, updated: time.Now()}, s)
}

func (r *repo) GetStaff(ctx context.Context, id string) (*schedule.StaffMember, error) {
	return getEntity[schedule.StaffMember](ctx, r, "GetStaff", schedule.KindStaff, "staff", id)
}

func (r *repo) ListStaff(ctx context.Context) ([]schedule.StaffMember, error) {
	out, err := listEntities[schedule.StaffMember](ctx, r, "ListStaff", schedule.KindStaff)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (r *repo) SaveAppointment(ctx context.Context, a schedule.Appointment) error {
	iv := a.Interval
	return r.save(ctx, "SaveAppointment", meta{
		kind: schedule.KindAppointment, id: a.ID, owner: a.StaffID,
		status: string(a.Status), iv: &iv, updated: a.UpdatedAt,
	}, a)
}

func (r *repo) GetAppointment(ctx context.Context, id string) (*schedule.Appointment, error) {
	return getEntity[schedule.Appointment](ctx, r, "GetAppointment", schedule.KindAppointment, "appointment", id)
}

func (r *repo) AppointmentsForStaff(ctx context.Context, staffID string, from, to generic.Date) ([]schedule.Appointment, error) {
	return listEntities[schedule.Appointment](ctx, r, "AppointmentsForStaff", schedule.KindAppointment,
		squirrel.Eq{"owner_id": staffID}, reaching(from, to))
}

// =============================================================================
// TIME-OFF REQUESTS
// =============================================================================

func (r *repo) SaveTimeOffRequest(ctx context.Context, req schedule.TimeOffRequest) error {
	iv := req.Interval
	return r.save(ctx, "SaveTimeOffRequest", meta{
		kind: schedule.KindTimeOffRequest, id: req.ID, owner: req.StaffID, typeID: req.TypeID,
		status: string(req.Status()), iv: &iv, updated: req.UpdatedAt,
	}, req)
}

func (r *repo) GetTimeOffRequest(ctx context.Context, id string) (*schedule.TimeOffRequest, error) {
	return getEntity[schedule.TimeOffRequest](ctx, r, "GetTimeOffRequest", schedule.KindTimeOffRequest, "request", id)
}

func (r *repo) ListTimeOffRequests(ctx context.Context, f schedule.RequestFilter) ([]schedule.TimeOffRequest, error) {
	where := squirrel.Eq{}
	if f.StaffID != "" {
		where["owner_id"] = f.StaffID
	}
	if f.Status != "" {
		where["status"] = string(f.Status)
	}
	out, err := listEntities[schedule.TimeOffRequest](ctx, r, "ListTimeOffRequests", schedule.KindTimeOffRequest, where)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r *repo) ApprovedTimeOff(ctx context.Context, staffID string, from, to generic.Date) ([]schedule.TimeOffRequest, error) {
	return listEntities[schedule.TimeOffRequest](ctx, r, "ApprovedTimeOff", schedule.KindTimeOffRequest,
		squirrel.Eq{"owner_id": staffID, "status": string(schedule.StatusApproved)}, reaching(from, to))
}

// =============================================================================
// BLOCKED TIME + CLOSURES
// =============================================================================

func (r *repo) SaveBlockedTime(ctx context.Context, e schedule.BlockedTimeEntry) error {
	iv := e.Interval
	return r.save(ctx, "SaveBlockedTime", meta{
		kind: schedule.KindBlockedTime, id: e.ID, owner: e.StaffID, typeID: e.TypeID,
		iv: &iv, updated: e.UpdatedAt,
	}, e)
}

func (r *repo) GetBlockedTime(ctx context.Context, id string) (*schedule.BlockedTimeEntry, error) {
	return getEntity[schedule.BlockedTimeEntry](ctx, r, "GetBlockedTime", schedule.KindBlockedTime, "entry", id)
}

func (r *repo) DeleteBlockedTime(ctx context.Context, id string) error {
	return r.delete(ctx, "DeleteBlockedTime", schedule.KindBlockedTime, "entry", id)
}

func (r *repo) BlockedTimeForStaff(ctx context.Context, staffID string, from, to generic.Date) ([]schedule.BlockedTimeEntry, error) {
	return listEntities[schedule.BlockedTimeEntry](ctx, r, "BlockedTimeForStaff", schedule.KindBlockedTime,
		squirrel.Eq{"owner_id": staffID}, reaching(from, to))
}

func (r *repo) SaveClosedPeriod(ctx context.Context, c schedule.ClosedPeriod) error {
	iv := c.Interval()
	return r.save(ctx, "SaveClosedPeriod", meta{
		kind: schedule.KindClosedPeriod, id: c.ID, iv: &iv, updated: c.UpdatedAt,
	}, c)
}

func (r *repo) GetClosedPeriod(ctx context.Context, id string) (*schedule.ClosedPeriod, error) {
	return getEntity[schedule.ClosedPeriod](ctx, r, "GetClosedPeriod", schedule.KindClosedPeriod, "closure", id)
}

func (r *repo) DeleteClosedPeriod(ctx context.Context, id string) error {
	return r.delete(ctx, "DeleteClosedPeriod", schedule.KindClosedPeriod, "closure", id)
}

func (r *repo) ListClosedPeriods(ctx context.Context) ([]schedule.ClosedPeriod, error) {
	return listEntities[schedule.ClosedPeriod](ctx, r, "ListClosedPeriods", schedule.KindClosedPeriod)
}

func (r *repo) ClosedPeriodsBetween(ctx context.Context, from, to generic.Date) ([]schedule.ClosedPeriod, error) {
	return listEntities[schedule.ClosedPeriod](ctx, r, "ClosedPeriodsBetween", schedule.KindClosedPeriod, reaching(from, to))
}

// =============================================================================
// RESOURCES
// =============================================================================

func (r *repo) SaveResource(ctx context.Context, res schedule.Resource) error {
	return r.save(ctx, "SaveResource", meta{kind: schedule.KindResource, id: res.ID, updated: res.CreatedAt}, res)
}

func (r *repo) GetResource(ctx context.Context, id string) (*schedule.Resource, error) {
	return getEntity[schedule.Resource](ctx, r, "GetResource", schedule.KindResource, "resource", id)
}

func (r *repo) ListResources(ctx context.Context) ([]schedule.Resource, error) {
	out, err := listEntities[schedule.Resource](ctx, r, "ListResources", schedule.KindResource)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (r *repo) SaveResourceBooking(ctx context.Context, b schedule.ResourceBooking) error {
	iv := b.Interval
	return r.save(ctx, "SaveResourceBooking", meta{
		kind: schedule.KindResourceBooking, id: b.ID, owner: b.ResourceID,
		status: string(b.Status), iv: &iv, updated: b.UpdatedAt,
	}, b)
}

func (r *repo) GetResourceBooking(ctx context.Context, id string) (*schedule.ResourceBooking, error) {
	return getEntity[schedule.ResourceBooking](ctx, r, "GetResourceBooking", schedule.KindResourceBooking, "booking", id)
}

func (r *repo) BookingsForResource(ctx context.Context, resourceID string, from, to generic.Date) ([]schedule.ResourceBooking, error) {
	return listEntities[schedule.ResourceBooking](ctx, r, "BookingsForResource", schedule.KindResourceBooking,
		squirrel.Eq{"owner_id": resourceID},
		squirrel.NotEq{"status": string(schedule.BookingCancelled)},
		reaching(from, to))
}
