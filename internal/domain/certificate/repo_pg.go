package certificate

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

type CertificateRepoPG struct {
	pool *pgxpool.Pool
}

func NewCertificateRepoPG(pool *pgxpool.Pool) *CertificateRepoPG {
	return &CertificateRepoPG{pool: pool}
}

func (r *CertificateRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const certCols = `id, request_id, status, subtype, storage_path, verification_code,
	email_status, email_retry_count, superseded_at, created_at, updated_at`

func scanCert(row pgx.Row) (*Certificate, error) {
	var c Certificate
	err := row.Scan(&c.ID, &c.RequestID, &c.Status, &c.Subtype, &c.StoragePath,
		&c.VerificationCode, &c.EmailStatus, &c.EmailRetryCount, &c.SupersededAt,
		&c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &c, nil
}

func (r *CertificateRepoPG) Create(ctx context.Context, cert *Certificate) error {
	if cert.ID == uuid.Nil {
		cert.ID = uuid.New()
	}
	if cert.Status == "" {
		cert.Status = StatusValid
	}
	if cert.EmailStatus == "" {
		cert.EmailStatus = EmailPending
	}
	q := `INSERT INTO certificate (id, request_id, status, subtype, storage_path, verification_code, email_status, email_retry_count)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at, updated_at`
	return r.conn(ctx).QueryRow(ctx, q,
		cert.ID, cert.RequestID, cert.Status, cert.Subtype, cert.StoragePath,
		cert.VerificationCode, cert.EmailStatus, cert.EmailRetryCount,
	).Scan(&cert.CreatedAt, &cert.UpdatedAt)
}

func (r *CertificateRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Certificate, error) {
	q := fmt.Sprintf("SELECT %s FROM certificate WHERE id = $1", certCols)
	return scanCert(r.conn(ctx).QueryRow(ctx, q, id))
}

func (r *CertificateRepoPG) GetByVerificationCode(ctx context.Context, code string) (*Certificate, error) {
	q := fmt.Sprintf("SELECT %s FROM certificate WHERE verification_code = $1", certCols)
	return scanCert(r.conn(ctx).QueryRow(ctx, q, code))
}

func (r *CertificateRepoPG) FindValidByRequest(ctx context.Context, requestID uuid.UUID) (*Certificate, error) {
	q := fmt.Sprintf("SELECT %s FROM certificate WHERE request_id = $1 AND status = $2", certCols)
	return scanCert(r.conn(ctx).QueryRow(ctx, q, requestID, StatusValid))
}

func (r *CertificateRepoPG) ListByRequest(ctx context.Context, requestID uuid.UUID) ([]*Certificate, error) {
	q := fmt.Sprintf("SELECT %s FROM certificate WHERE request_id = $1 ORDER BY created_at DESC", certCols)
	rows, err := r.conn(ctx).Query(ctx, q, requestID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []*Certificate
	for rows.Next() {
		c, err := scanCert(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, c)
	}
	return items, rows.Err()
}

func (r *CertificateRepoPG) MarkSuperseded(ctx context.Context, id uuid.UUID) (bool, error) {
	q := `UPDATE certificate
		SET status = $1, superseded_at = NOW(), updated_at = NOW()
		WHERE id = $2 AND status = $3`
	tag, err := r.conn(ctx).Exec(ctx, q, StatusSuperseded, id, StatusValid)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (r *CertificateRepoPG) UpdateEmailStatus(ctx context.Context, id uuid.UUID, status EmailStatus) error {
	q := `UPDATE certificate SET email_status = $1, updated_at = NOW() WHERE id = $2`
	_, err := r.conn(ctx).Exec(ctx, q, status, id)
	return err
}

func (r *CertificateRepoPG) IncrementEmailRetry(ctx context.Context, id uuid.UUID) error {
	q := `UPDATE certificate SET email_retry_count = email_retry_count + 1, updated_at = NOW() WHERE id = $1`
	_, err := r.conn(ctx).Exec(ctx, q, id)
	return err
}
