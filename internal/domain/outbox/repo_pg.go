package outbox

import (
	"context"
	"encoding/json"
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

type OutboxRepoPG struct {
	pool *pgxpool.Pool
}

func NewOutboxRepoPG(pool *pgxpool.Pool) *OutboxRepoPG {
	return &OutboxRepoPG{pool: pool}
}

func (r *OutboxRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const outboxCols = `id, request_id, certificate_id, template_id, recipient, data, status, message_id, last_error, attempts, next_attempt_at, attempted_at, created_at`

func scanEntry(row pgx.Row) (*Entry, error) {
	var e Entry
	var data []byte
	err := row.Scan(&e.ID, &e.RequestID, &e.CertificateID, &e.TemplateID, &e.Recipient,
		&data, &e.Status, &e.MessageID, &e.LastError, &e.Attempts, &e.NextAttemptAt, &e.AttemptedAt, &e.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if len(data) > 0 {
		if err := json.Unmarshal(data, &e.Data); err != nil {
			return nil, fmt.Errorf("decode outbox data: %w", err)
		}
	}
	return &e, nil
}

func (r *OutboxRepoPG) Create(ctx context.Context, e *Entry) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.Status == "" {
		e.Status = StatusPending
	}
	data, err := json.Marshal(e.Data)
	if err != nil {
		return fmt.Errorf("encode outbox data: %w", err)
	}
	q := `INSERT INTO email_outbox (id, request_id, certificate_id, template_id, recipient, data, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at`
	return r.conn(ctx).QueryRow(ctx, q,
		e.ID, e.RequestID, e.CertificateID, e.TemplateID, e.Recipient, data, e.Status,
	).Scan(&e.CreatedAt)
}

func (r *OutboxRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Entry, error) {
	q := fmt.Sprintf("SELECT %s FROM email_outbox WHERE id = $1", outboxCols)
	return scanEntry(r.conn(ctx).QueryRow(ctx, q, id))
}

func (r *OutboxRepoPG) ListByRequest(ctx context.Context, requestID uuid.UUID) ([]*Entry, error) {
	q := fmt.Sprintf("SELECT %s FROM email_outbox WHERE request_id = $1 ORDER BY created_at", outboxCols)
	return r.list(ctx, q, requestID)
}

func (r *OutboxRepoPG) ListPending(ctx context.Context, limit int) ([]*Entry, error) {
	q := fmt.Sprintf(`SELECT %s FROM email_outbox
		WHERE status = $1 AND attempted_at IS NULL AND next_attempt_at <= NOW()
		ORDER BY created_at LIMIT $2`, outboxCols)
	return r.list(ctx, q, StatusPending, limit)
}

func (r *OutboxRepoPG) list(ctx context.Context, q string, args ...interface{}) ([]*Entry, error) {
	rows, err := r.conn(ctx).Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []*Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, e)
	}
	return items, rows.Err()
}

func (r *OutboxRepoPG) Claim(ctx context.Context, id uuid.UUID) (bool, error) {
	q := `UPDATE email_outbox SET attempted_at = NOW()
		WHERE id = $1 AND status = $2 AND attempted_at IS NULL`
	tag, err := r.conn(ctx).Exec(ctx, q, id, StatusPending)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (r *OutboxRepoPG) Finish(ctx context.Context, id uuid.UUID, status Status, messageID, lastErr string) error {
	q := `UPDATE email_outbox SET status = $1, message_id = $2, last_error = $3 WHERE id = $4`
	_, err := r.conn(ctx).Exec(ctx, q, status, messageID, lastErr, id)
	return err
}

func (r *OutboxRepoPG) Reschedule(ctx context.Context, id uuid.UUID, attempts int, nextAttemptAt time.Time, lastErr string) error {
	q := `UPDATE email_outbox SET attempts = $1, next_attempt_at = $2, last_error = $3, attempted_at = NULL WHERE id = $4`
	_, err := r.conn(ctx).Exec(ctx, q, attempts, nextAttemptAt, lastErr, id)
	return err
}
