package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/shopspring/decimal"
	"github.com/warp/schedule-engine/generic"
)

// =============================================================================
// TRANSACTION STORE (generic.Store interface)
// =============================================================================

var ledgerColumns = []string{
	"id", "staff_id", "type_id", "effective_at", "delta_value", "delta_unit",
	"tx_type", "reference_id", "reason", "idempotency_key", "metadata_json",
	"created_by", "created_by_device", "created_at",
}

func (r *repo) Append(ctx context.Context, tx generic.Transaction) error {
	return r.appendTx(ctx, r.db, tx)
}

func (r *repo) appendTx(ctx context.Context, db executor, tx generic.Transaction) error {
	metadataJSON, err := json.Marshal(tx.Metadata)
	if err != nil {
		return fmt.Errorf("%w: Append - encode metadata: %v", ErrBuildQuery, err)
	}
	createdAt := tx.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	query, args, err := builder.Insert("transactions").
		Columns(ledgerColumns...).
		Values(
			tx.ID,
			tx.StaffID,
			tx.TypeID,
			tx.EffectiveAt.String(),
			tx.Delta.Value.String(),
			string(tx.Delta.Unit),
			string(tx.Type),
			nullString(tx.ReferenceID),
			nullString(tx.Reason),
			nullString(tx.IdempotencyKey),
			string(metadataJSON),
			tx.CreatedBy,
			nullString(tx.CreatedByDevice),
			createdAt.UTC().Format(time.RFC3339Nano),
		).
		ToSql()
	if err != nil {
		return fmt.Errorf("%w: Append - build insert query: %v", ErrBuildQuery, err)
	}

	if _, err := db.ExecContext(ctx, query, args...); err != nil {
		if isUniqueConstraintError(err) {
			return generic.ErrDuplicateIdempotencyKey
		}
		return fmt.Errorf("%w: Append - execute insert: %v", ErrExecQuery, err)
	}
	return nil
}

// AppendBatch adds multiple transactions atomically. Inside WithTx the
// surrounding transaction already provides the atomicity.
func (r *repo) AppendBatch(ctx context.Context, txs []generic.Transaction) error {
	keys := make(map[string]bool)
	for _, tx := range txs {
		if tx.IdempotencyKey == "" {
			continue
		}
		if keys[tx.IdempotencyKey] {
			return generic.ErrDuplicateIdempotencyKey
		}
		keys[tx.IdempotencyKey] = true
	}

	if r.inTx {
		for _, tx := range txs {
			if err := r.appendTx(ctx, r.db, tx); err != nil {
				return err
			}
		}
		return nil
	}

	db, ok := r.db.(*sql.DB)
	if !ok {
		return fmt.Errorf("%w: AppendBatch - no database handle", ErrExecQuery)
	}
	sqlTx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	for _, tx := range txs {
		if err := r.appendTx(ctx, sqlTx, tx); err != nil {
			return err
		}
	}
	return sqlTx.Commit()
}

func (r *repo) Load(ctx context.Context, staffID, typeID string) ([]generic.Transaction, error) {
	return r.queryTransactions(ctx, "Load", squirrel.Eq{"staff_id": staffID, "type_id": typeID})
}

func (r *repo) LoadRange(ctx context.Context, staffID, typeID string, from, to generic.Date) ([]generic.Transaction, error) {
	return r.queryTransactions(ctx, "LoadRange",
		squirrel.Eq{"staff_id": staffID, "type_id": typeID},
		squirrel.GtOrEq{"effective_at": from.String()},
		squirrel.LtOrEq{"effective_at": to.String()},
	)
}

func (r *repo) Exists(ctx context.Context, idempotencyKey string) (bool, error) {
	query, args, err := builder.Select("COUNT(*)").
		From("transactions").
		Where(squirrel.Eq{"idempotency_key": idempotencyKey}).
		ToSql()
	if err != nil {
		return false, fmt.Errorf("%w: Exists - build select query: %v", ErrBuildQuery, err)
	}
	var n int
	if err := r.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return false, fmt.Errorf("%w: Exists - scan count: %v", ErrScanRow, err)
	}
	return n > 0, nil
}

func (r *repo) Accounts(ctx context.Context, from, to generic.Date) ([]generic.Account, error) {
	query, args, err := builder.Select("DISTINCT staff_id", "type_id").
		From("transactions").
		Where(squirrel.GtOrEq{"effective_at": from.String()}).
		Where(squirrel.LtOrEq{"effective_at": to.String()}).
		OrderBy("staff_id", "type_id").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("%w: Accounts - build select query: %v", ErrBuildQuery, err)
	}
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: Accounts - execute select: %v", ErrExecQuery, err)
	}
	defer rows.Close()

	var out []generic.Account
	for rows.Next() {
		var a generic.Account
		if err := rows.Scan(&a.StaffID, &a.TypeID); err != nil {
			return nil, fmt.Errorf("%w: Accounts - scan account: %v", ErrScanRow, err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (r *repo) queryTransactions(ctx context.Context, op string, where ...squirrel.Sqlizer) ([]generic.Transaction, error) {
	q := builder.Select(ledgerColumns...).From("transactions")
	for _, w := range where {
		q = q.Where(w)
	}
	query, args, err := q.OrderBy("effective_at ASC", "seq ASC").ToSql()
	if err != nil {
		return nil, fmt.Errorf("%w: %s - build select query: %v", ErrBuildQuery, op, err)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: %s - execute select: %v", ErrExecQuery, op, err)
	}
	defer rows.Close()

	var out []generic.Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("%w: %s - scan transaction: %v", ErrScanRow, op, err)
		}
		out = append(out, tx)
	}
	return out, rows.Err()
}

func scanTransaction(rows *sql.Rows) (generic.Transaction, error) {
	var (
		tx                               generic.Transaction
		effectiveAt, value, unit, txType string
		referenceID, reason, key, device sql.NullString
		metadataJSON                     sql.NullString
		createdAt                        string
	)
	err := rows.Scan(
		&tx.ID, &tx.StaffID, &tx.TypeID, &effectiveAt, &value, &unit,
		&txType, &referenceID, &reason, &key, &metadataJSON,
		&tx.CreatedBy, &device, &createdAt,
	)
	if err != nil {
		return tx, err
	}

	if tx.EffectiveAt, err = generic.ParseDate(effectiveAt); err != nil {
		return tx, err
	}
	d, err := decimal.NewFromString(value)
	if err != nil {
		return tx, err
	}
	tx.Delta = generic.NewAmountFromDecimal(d, generic.Unit(unit))
	tx.Type = generic.TransactionType(txType)
	tx.ReferenceID = referenceID.String
	tx.Reason = reason.String
	tx.IdempotencyKey = key.String
	tx.CreatedByDevice = device.String
	if metadataJSON.Valid && metadataJSON.String != "" && metadataJSON.String != "null" {
		if err := json.Unmarshal([]byte(metadataJSON.String), &tx.Metadata); err != nil {
			return tx, err
		}
	}
	tx.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	return tx, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
