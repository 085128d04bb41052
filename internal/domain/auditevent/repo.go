package auditevent

import (
	"context"

	"github.com/google/uuid"
)

type AuditEventRepository interface {
	Insert(ctx context.Context, e *AuditEvent) error
	GetByID(ctx context.Context, id uuid.UUID) (*AuditEvent, error)
	ListBySubject(ctx context.Context, subjectType string, subjectID uuid.UUID) ([]*AuditEvent, error)
	Search(ctx context.Context, params map[string]string, limit, offset int) ([]*AuditEvent, int, error)
}
