package issuance

import (
	"context"
	"errors"
	"fmt"

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

type DraftRepoPG struct {
	pool *pgxpool.Pool
}

func NewDraftRepoPG(pool *pgxpool.Pool) *DraftRepoPG {
	return &DraftRepoPG{pool: pool}
}

func (r *DraftRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const draftCols = `id, request_id, doc_type, subtype, start_date, end_date, clinical_notes, created_by, created_at, updated_at`

func scanDraft(row pgx.Row) (*Draft, error) {
	var d Draft
	err := row.Scan(&d.ID, &d.RequestID, &d.DocType, &d.Subtype, &d.StartDate,
		&d.EndDate, &d.ClinicalNotes, &d.CreatedBy, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &d, nil
}

func (r *DraftRepoPG) Upsert(ctx context.Context, d *Draft) error {
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	q := `INSERT INTO issuance_draft (id, request_id, doc_type, subtype, start_date, end_date, clinical_notes, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (request_id, doc_type) DO UPDATE
		SET subtype = EXCLUDED.subtype,
			start_date = EXCLUDED.start_date,
			end_date = EXCLUDED.end_date,
			clinical_notes = EXCLUDED.clinical_notes,
			created_by = EXCLUDED.created_by,
			updated_at = NOW()
		RETURNING id, created_at, updated_at`
	return r.conn(ctx).QueryRow(ctx, q,
		d.ID, d.RequestID, d.DocType, d.Subtype, d.StartDate, d.EndDate, d.ClinicalNotes, d.CreatedBy,
	).Scan(&d.ID, &d.CreatedAt, &d.UpdatedAt)
}

func (r *DraftRepoPG) GetByRequest(ctx context.Context, requestID uuid.UUID, docType string) (*Draft, error) {
	q := fmt.Sprintf("SELECT %s FROM issuance_draft WHERE request_id = $1 AND doc_type = $2", draftCols)
	return scanDraft(r.conn(ctx).QueryRow(ctx, q, requestID, docType))
}

type GeneratedDocRepoPG struct {
	pool *pgxpool.Pool
}

func NewGeneratedDocRepoPG(pool *pgxpool.Pool) *GeneratedDocRepoPG {
	return &GeneratedDocRepoPG{pool: pool}
}

func (r *GeneratedDocRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

func (r *GeneratedDocRepoPG) Insert(ctx context.Context, doc *GeneratedDocument) error {
	if doc.ID == uuid.Nil {
		doc.ID = uuid.New()
	}
	q := `INSERT INTO generated_document (id, request_id, doc_type, storage_path)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at`
	return r.conn(ctx).QueryRow(ctx, q, doc.ID, doc.RequestID, doc.DocType, doc.StoragePath).Scan(&doc.CreatedAt)
}

func (r *GeneratedDocRepoPG) GetLatest(ctx context.Context, requestID uuid.UUID, docType string) (*GeneratedDocument, error) {
	q := `SELECT id, request_id, doc_type, storage_path, created_at
		FROM generated_document
		WHERE request_id = $1 AND doc_type = $2
		ORDER BY created_at DESC LIMIT 1`
	var d GeneratedDocument
	err := r.conn(ctx).QueryRow(ctx, q, requestID, docType).Scan(&d.ID, &d.RequestID, &d.DocType, &d.StoragePath, &d.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &d, nil
}
