package retryqueue

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

type TicketRepoPG struct {
	pool *pgxpool.Pool
}

func NewTicketRepoPG(pool *pgxpool.Pool) *TicketRepoPG {
	return &TicketRepoPG{pool: pool}
}

func (r *TicketRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const ticketCols = `id, request_id, doc_type, status, attempts, last_error, next_retry_at, created_at, updated_at`

func scanTicket(row pgx.Row) (*Ticket, error) {
	var t Ticket
	err := row.Scan(&t.ID, &t.RequestID, &t.DocType, &t.Status, &t.Attempts,
		&t.LastError, &t.NextRetryAt, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &t, nil
}

func (r *TicketRepoPG) Upsert(ctx context.Context, t *Ticket) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	if t.Status == "" {
		t.Status = StatusPending
	}
	// Terminal tickets are left alone; a fresh failure on a completed ticket
	// reopens it.
	q := `INSERT INTO retry_ticket (id, request_id, doc_type, status, attempts, last_error, next_retry_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (request_id, doc_type) DO UPDATE
		SET status = EXCLUDED.status,
			last_error = EXCLUDED.last_error,
			next_retry_at = EXCLUDED.next_retry_at,
			attempts = CASE WHEN retry_ticket.status = $9 THEN EXCLUDED.attempts ELSE retry_ticket.attempts END,
			updated_at = NOW()
		WHERE retry_ticket.status <> $8
		RETURNING created_at, updated_at`
	err := r.conn(ctx).QueryRow(ctx, q,
		t.ID, t.RequestID, t.DocType, t.Status, t.Attempts, t.LastError, t.NextRetryAt,
		StatusPermanentlyFailed, StatusCompleted,
	).Scan(&t.CreatedAt, &t.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		// Conflict row is permanently failed; nothing to schedule.
		return nil
	}
	return err
}

func (r *TicketRepoPG) Get(ctx context.Context, requestID uuid.UUID, docType string) (*Ticket, error) {
	q := fmt.Sprintf("SELECT %s FROM retry_ticket WHERE request_id = $1 AND doc_type = $2", ticketCols)
	return scanTicket(r.conn(ctx).QueryRow(ctx, q, requestID, docType))
}

func (r *TicketRepoPG) ListDue(ctx context.Context, now time.Time, limit int) ([]*Ticket, error) {
	q := fmt.Sprintf(`SELECT %s FROM retry_ticket
		WHERE status = $1 AND next_retry_at <= $2
		ORDER BY next_retry_at LIMIT $3`, ticketCols)
	rows, err := r.conn(ctx).Query(ctx, q, StatusPending, now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []*Ticket
	for rows.Next() {
		t, err := scanTicket(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, t)
	}
	return items, rows.Err()
}

func (r *TicketRepoPG) MarkInProgress(ctx context.Context, requestID uuid.UUID, docType string) (bool, error) {
	q := `UPDATE retry_ticket SET status = $1, updated_at = NOW()
		WHERE request_id = $2 AND doc_type = $3 AND status = $4`
	tag, err := r.conn(ctx).Exec(ctx, q, StatusProcessing, requestID, docType, StatusPending)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (r *TicketRepoPG) RequeueStale(ctx context.Context, olderThan time.Time) (int, error) {
	q := `UPDATE retry_ticket SET status = $1, updated_at = NOW()
		WHERE status = $2 AND updated_at < $3`
	tag, err := r.conn(ctx).Exec(ctx, q, StatusPending, StatusProcessing, olderThan)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

func (r *TicketRepoPG) MarkSuccess(ctx context.Context, requestID uuid.UUID, docType string) error {
	q := `UPDATE retry_ticket SET status = $1, updated_at = NOW()
		WHERE request_id = $2 AND doc_type = $3`
	_, err := r.conn(ctx).Exec(ctx, q, StatusCompleted, requestID, docType)
	return err
}

func (r *TicketRepoPG) MarkFailure(ctx context.Context, requestID uuid.UUID, docType, lastErr string, nextRetryAt time.Time, permanent bool) error {
	status := StatusPending
	if permanent {
		status = StatusPermanentlyFailed
	}
	q := `UPDATE retry_ticket
		SET status = $1, attempts = attempts + 1, last_error = $2, next_retry_at = $3, updated_at = NOW()
		WHERE request_id = $4 AND doc_type = $5`
	_, err := r.conn(ctx).Exec(ctx, q, status, lastErr, nextRetryAt, requestID, docType)
	return err
}

func (r *TicketRepoPG) ListPermanentlyFailed(ctx context.Context, limit, offset int) ([]*Ticket, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM retry_ticket WHERE status = $1`, StatusPermanentlyFailed,
	).Scan(&total); err != nil {
		return nil, 0, err
	}

	q := fmt.Sprintf(`SELECT %s FROM retry_ticket WHERE status = $1
		ORDER BY updated_at DESC LIMIT $2 OFFSET $3`, ticketCols)
	rows, err := r.conn(ctx).Query(ctx, q, StatusPermanentlyFailed, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var items []*Ticket
	for rows.Next() {
		t, err := scanTicket(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, t)
	}
	return items, total, rows.Err()
}
