package intake

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Repository is the storage contract for intakes. Status and lock mutations
// are conditional updates; correctness across concurrent processes rests on
// their WHERE clauses, not on in-process synchronization.
type Repository interface {
	Create(ctx context.Context, in *Intake) error
	GetByID(ctx context.Context, id uuid.UUID) (*Intake, error)
	ListByStatus(ctx context.Context, status Status, limit, offset int) ([]*Intake, int, error)

	// UpdateStatus moves the intake to the target status only if its current
	// status is one of from. Returns false when the guard did not match.
	UpdateStatus(ctx context.Context, id uuid.UUID, from []Status, to Status, previous *Status) (bool, error)

	// SetLock unconditionally stamps the review lock onto the intake.
	SetLock(ctx context.Context, id uuid.UUID, reviewerID, reviewerName string, at time.Time) error

	// RefreshLock bumps locked_at only if the caller still holds the lock.
	RefreshLock(ctx context.Context, id uuid.UUID, reviewerID string, at time.Time) (bool, error)

	// ClearLock clears the lock only if the caller holds it. The holder
	// check alone guards against clobbering another clinician's lock; the
	// intake status is irrelevant, so a decision releases its own lock.
	ClearLock(ctx context.Context, id uuid.UUID, reviewerID string) (bool, error)

	// SetReviewer assigns the reviewing clinician.
	SetReviewer(ctx context.Context, id uuid.UUID, reviewerID, reviewerName string) error

	// Anonymize strips PHI fields in place. Audit history is untouched.
	Anonymize(ctx context.Context, id uuid.UUID) error
}
