package attestation

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// RecordRepository is append-only storage for attestation records.
type RecordRepository interface {
	Insert(ctx context.Context, rec *Record) error
	GetByID(ctx context.Context, id uuid.UUID) (*Record, error)
	ListByRequest(ctx context.Context, requestID uuid.UUID) ([]*Record, error)
}

// DateChangeRepository stores date-change requests. Decide is a conditional
// update from pending so two admins cannot both decide the same request.
type DateChangeRepository interface {
	Create(ctx context.Context, req *DateChangeRequest) error
	GetByID(ctx context.Context, id uuid.UUID) (*DateChangeRequest, error)
	ListByRequest(ctx context.Context, requestID uuid.UUID) ([]*DateChangeRequest, error)

	// FindApproved reports whether an approved request covers moving the
	// given request's start date to requestedDate.
	FindApproved(ctx context.Context, requestID uuid.UUID, requestedDate time.Time) (bool, error)

	// Decide moves pending -> approved|rejected. Returns false when the
	// request was not pending.
	Decide(ctx context.Context, id uuid.UUID, status DateChangeStatus, decidedBy string) (bool, error)
}
