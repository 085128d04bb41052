package auditevent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

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

type AuditEventRepoPG struct {
	pool *pgxpool.Pool
}

func NewAuditEventRepoPG(pool *pgxpool.Pool) *AuditEventRepoPG {
	return &AuditEventRepoPG{pool: pool}
}

func (r *AuditEventRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const auditCols = `id, event_type, subject_type, subject_id, actor_id, actor_role, payload, created_at`

func scanAudit(row pgx.Row) (*AuditEvent, error) {
	var e AuditEvent
	var payload []byte
	err := row.Scan(&e.ID, &e.EventType, &e.SubjectType, &e.SubjectID, &e.ActorID, &e.ActorRole, &payload, &e.CreatedAt)
	if err != nil {
		return nil, err
	}
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &e.Payload); err != nil {
			return nil, fmt.Errorf("decode audit payload: %w", err)
		}
	}
	return &e, nil
}

func (r *AuditEventRepoPG) Insert(ctx context.Context, e *AuditEvent) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	payload, err := json.Marshal(e.Payload)
	if err != nil {
		return fmt.Errorf("encode audit payload: %w", err)
	}
	q := `INSERT INTO audit_event (id, event_type, subject_type, subject_id, actor_id, actor_role, payload)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at`
	return r.conn(ctx).QueryRow(ctx, q,
		e.ID, e.EventType, e.SubjectType, e.SubjectID, e.ActorID, e.ActorRole, payload,
	).Scan(&e.CreatedAt)
}

func (r *AuditEventRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*AuditEvent, error) {
	q := fmt.Sprintf("SELECT %s FROM audit_event WHERE id = $1", auditCols)
	return scanAudit(r.conn(ctx).QueryRow(ctx, q, id))
}

func (r *AuditEventRepoPG) ListBySubject(ctx context.Context, subjectType string, subjectID uuid.UUID) ([]*AuditEvent, error) {
	q := fmt.Sprintf("SELECT %s FROM audit_event WHERE subject_type = $1 AND subject_id = $2 ORDER BY created_at", auditCols)
	rows, err := r.conn(ctx).Query(ctx, q, subjectType, subjectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []*AuditEvent
	for rows.Next() {
		e, err := scanAudit(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, e)
	}
	return items, rows.Err()
}

func (r *AuditEventRepoPG) Search(ctx context.Context, params map[string]string, limit, offset int) ([]*AuditEvent, int, error) {
	where := []string{}
	args := []interface{}{}
	idx := 1

	if v, ok := params["event_type"]; ok {
		where = append(where, fmt.Sprintf("event_type = $%d", idx))
		args = append(args, v)
		idx++
	}
	if v, ok := params["subject_type"]; ok {
		where = append(where, fmt.Sprintf("subject_type = $%d", idx))
		args = append(args, v)
		idx++
	}
	if v, ok := params["subject_id"]; ok {
		where = append(where, fmt.Sprintf("subject_id = $%d", idx))
		args = append(args, v)
		idx++
	}
	if v, ok := params["actor_id"]; ok {
		where = append(where, fmt.Sprintf("actor_id = $%d", idx))
		args = append(args, v)
		idx++
	}

	whereClause := ""
	if len(where) > 0 {
		whereClause = "WHERE " + strings.Join(where, " AND ")
	}

	countQ := fmt.Sprintf("SELECT COUNT(*) FROM audit_event %s", whereClause)
	var total int
	if err := r.conn(ctx).QueryRow(ctx, countQ, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	q := fmt.Sprintf("SELECT %s FROM audit_event %s ORDER BY created_at DESC LIMIT $%d OFFSET $%d",
		auditCols, whereClause, idx, idx+1)
	args = append(args, limit, offset)

	rows, err := r.conn(ctx).Query(ctx, q, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var items []*AuditEvent
	for rows.Next() {
		e, err := scanAudit(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, e)
	}
	return items, total, rows.Err()
}
