package intake

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

type IntakeRepoPG struct {
	pool *pgxpool.Pool
}

func NewIntakeRepoPG(pool *pgxpool.Pool) *IntakeRepoPG {
	return &IntakeRepoPG{pool: pool}
}

func (r *IntakeRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const intakeCols = `id, patient_id, patient_name, patient_email, cert_type, answers,
	status, previous_status, start_date, end_date,
	reviewer_id, reviewer_name, locked_at, anonymized, created_at, updated_at`

func scanIntake(row pgx.Row) (*Intake, error) {
	var in Intake
	var answers []byte
	err := row.Scan(
		&in.ID, &in.PatientID, &in.PatientName, &in.PatientEmail, &in.CertType, &answers,
		&in.Status, &in.PreviousStatus, &in.StartDate, &in.EndDate,
		&in.ReviewerID, &in.ReviewerName, &in.LockedAt, &in.Anonymized, &in.CreatedAt, &in.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if len(answers) > 0 {
		if err := json.Unmarshal(answers, &in.Answers); err != nil {
			return nil, fmt.Errorf("decode answers: %w", err)
		}
	}
	return &in, nil
}

func (r *IntakeRepoPG) Create(ctx context.Context, in *Intake) error {
	if in.ID == uuid.Nil {
		in.ID = uuid.New()
	}
	answers, err := json.Marshal(in.Answers)
	if err != nil {
		return fmt.Errorf("encode answers: %w", err)
	}
	q := `INSERT INTO intake (id, patient_id, patient_name, patient_email, cert_type, answers, status, start_date, end_date)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING created_at, updated_at`
	return r.conn(ctx).QueryRow(ctx, q,
		in.ID, in.PatientID, in.PatientName, in.PatientEmail, in.CertType, answers, in.Status, in.StartDate, in.EndDate,
	).Scan(&in.CreatedAt, &in.UpdatedAt)
}

func (r *IntakeRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Intake, error) {
	q := fmt.Sprintf("SELECT %s FROM intake WHERE id = $1", intakeCols)
	return scanIntake(r.conn(ctx).QueryRow(ctx, q, id))
}

func (r *IntakeRepoPG) ListByStatus(ctx context.Context, status Status, limit, offset int) ([]*Intake, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, "SELECT COUNT(*) FROM intake WHERE status = $1", status).Scan(&total); err != nil {
		return nil, 0, err
	}

	q := fmt.Sprintf("SELECT %s FROM intake WHERE status = $1 ORDER BY created_at LIMIT $2 OFFSET $3", intakeCols)
	rows, err := r.conn(ctx).Query(ctx, q, status, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var items []*Intake
	for rows.Next() {
		in, err := scanIntake(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, in)
	}
	return items, total, rows.Err()
}

func (r *IntakeRepoPG) UpdateStatus(ctx context.Context, id uuid.UUID, from []Status, to Status, previous *Status) (bool, error) {
	fromStrs := make([]string, len(from))
	for i, s := range from {
		fromStrs[i] = string(s)
	}
	tag, err := r.conn(ctx).Exec(ctx,
		`UPDATE intake SET status = $1, previous_status = $2, updated_at = NOW()
		 WHERE id = $3 AND status = ANY($4)`,
		to, previous, id, fromStrs)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *IntakeRepoPG) SetLock(ctx context.Context, id uuid.UUID, reviewerID, reviewerName string, at time.Time) error {
	tag, err := r.conn(ctx).Exec(ctx,
		`UPDATE intake SET reviewer_id = $1, reviewer_name = $2, locked_at = $3, updated_at = NOW() WHERE id = $4`,
		reviewerID, reviewerName, at, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *IntakeRepoPG) RefreshLock(ctx context.Context, id uuid.UUID, reviewerID string, at time.Time) (bool, error) {
	tag, err := r.conn(ctx).Exec(ctx,
		`UPDATE intake SET locked_at = $1, updated_at = NOW() WHERE id = $2 AND reviewer_id = $3`,
		at, id, reviewerID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *IntakeRepoPG) ClearLock(ctx context.Context, id uuid.UUID, reviewerID string) (bool, error) {
	tag, err := r.conn(ctx).Exec(ctx,
		`UPDATE intake SET reviewer_id = NULL, reviewer_name = '', locked_at = NULL, updated_at = NOW()
		 WHERE id = $1 AND reviewer_id = $2`,
		id, reviewerID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *IntakeRepoPG) SetReviewer(ctx context.Context, id uuid.UUID, reviewerID, reviewerName string) error {
	tag, err := r.conn(ctx).Exec(ctx,
		`UPDATE intake SET reviewer_id = $1, reviewer_name = $2, updated_at = NOW() WHERE id = $3`,
		reviewerID, reviewerName, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *IntakeRepoPG) Anonymize(ctx context.Context, id uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx,
		`UPDATE intake SET patient_name = '', patient_email = '', answers = '{}'::jsonb,
		 anonymized = TRUE, updated_at = NOW() WHERE id = $1`,
		id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
