package attestation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/medcert/medcert/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

type RecordRepoPG struct {
	pool *pgxpool.Pool
}

func NewRecordRepoPG(pool *pgxpool.Pool) *RecordRepoPG {
	return &RecordRepoPG{pool: pool}
}

func (r *RecordRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const recordCols = `id, request_id, decl_type, typed_name, text, signed_at, origin_address, created_at`

func scanRecord(row pgx.Row) (*Record, error) {
	var rec Record
	err := row.Scan(&rec.ID, &rec.RequestID, &rec.DeclType, &rec.TypedName,
		&rec.Text, &rec.SignedAt, &rec.OriginAddress, &rec.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &rec, nil
}

func (r *RecordRepoPG) Insert(ctx context.Context, rec *Record) error {
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	q := `INSERT INTO attestation_record (id, request_id, decl_type, typed_name, text, signed_at, origin_address)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at`
	return r.conn(ctx).QueryRow(ctx, q,
		rec.ID, rec.RequestID, rec.DeclType, rec.TypedName, rec.Text, rec.SignedAt, rec.OriginAddress,
	).Scan(&rec.CreatedAt)
}

func (r *RecordRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Record, error) {
	q := fmt.Sprintf("SELECT %s FROM attestation_record WHERE id = $1", recordCols)
	return scanRecord(r.conn(ctx).QueryRow(ctx, q, id))
}

func (r *RecordRepoPG) ListByRequest(ctx context.Context, requestID uuid.UUID) ([]*Record, error) {
	q := fmt.Sprintf("SELECT %s FROM attestation_record WHERE request_id = $1 ORDER BY created_at", recordCols)
	rows, err := r.conn(ctx).Query(ctx, q, requestID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []*Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, rec)
	}
	return items, rows.Err()
}

type DateChangeRepoPG struct {
	pool *pgxpool.Pool
}

func NewDateChangeRepoPG(pool *pgxpool.Pool) *DateChangeRepoPG {
	return &DateChangeRepoPG{pool: pool}
}

func (r *DateChangeRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const dateChangeCols = `id, request_id, original_date, requested_date, reason, status, requested_by, decided_by, decided_at, created_at`

func scanDateChange(row pgx.Row) (*DateChangeRequest, error) {
	var d DateChangeRequest
	err := row.Scan(&d.ID, &d.RequestID, &d.OriginalDate, &d.RequestedDate,
		&d.Reason, &d.Status, &d.RequestedBy, &d.DecidedBy, &d.DecidedAt, &d.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &d, nil
}

func (r *DateChangeRepoPG) Create(ctx context.Context, req *DateChangeRequest) error {
	if req.ID == uuid.Nil {
		req.ID = uuid.New()
	}
	if req.Status == "" {
		req.Status = DateChangePending
	}
	q := `INSERT INTO date_change_request (id, request_id, original_date, requested_date, reason, status, requested_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at`
	return r.conn(ctx).QueryRow(ctx, q,
		req.ID, req.RequestID, req.OriginalDate, req.RequestedDate, req.Reason, req.Status, req.RequestedBy,
	).Scan(&req.CreatedAt)
}

func (r *DateChangeRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*DateChangeRequest, error) {
	q := fmt.Sprintf("SELECT %s FROM date_change_request WHERE id = $1", dateChangeCols)
	return scanDateChange(r.conn(ctx).QueryRow(ctx, q, id))
}

func (r *DateChangeRepoPG) ListByRequest(ctx context.Context, requestID uuid.UUID) ([]*DateChangeRequest, error) {
	q := fmt.Sprintf("SELECT %s FROM date_change_request WHERE request_id = $1 ORDER BY created_at DESC", dateChangeCols)
	rows, err := r.conn(ctx).Query(ctx, q, requestID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []*DateChangeRequest
	for rows.Next() {
		d, err := scanDateChange(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, d)
	}
	return items, rows.Err()
}

func (r *DateChangeRepoPG) FindApproved(ctx context.Context, requestID uuid.UUID, requestedDate time.Time) (bool, error) {
	q := `SELECT EXISTS (
		SELECT 1 FROM date_change_request
		WHERE request_id = $1 AND status = $2 AND requested_date::date = $3::date
	)`
	var exists bool
	err := r.conn(ctx).QueryRow(ctx, q, requestID, DateChangeApproved, requestedDate).Scan(&exists)
	return exists, err
}

func (r *DateChangeRepoPG) Decide(ctx context.Context, id uuid.UUID, status DateChangeStatus, decidedBy string) (bool, error) {
	q := `UPDATE date_change_request
		SET status = $1, decided_by = $2, decided_at = NOW()
		WHERE id = $3 AND status = $4`
	tag, err := r.conn(ctx).Exec(ctx, q, status, decidedBy, id, DateChangePending)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}
