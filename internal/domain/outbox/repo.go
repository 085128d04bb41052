package outbox

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Repository is the storage contract for outbox entries. Claim is a
// conditional update: a row is handed to exactly one dispatcher activation.
type Repository interface {
	Create(ctx context.Context, e *Entry) error
	GetByID(ctx context.Context, id uuid.UUID) (*Entry, error)
	ListByRequest(ctx context.Context, requestID uuid.UUID) ([]*Entry, error)

	// ListPending returns pending entries whose next attempt is due,
	// oldest first.
	ListPending(ctx context.Context, limit int) ([]*Entry, error)

	// Claim stamps attempted_at on a pending, unattempted row. Returns
	// false when another dispatcher already claimed it; a claimed row is
	// never handed out twice, which caps sends at one per activation.
	Claim(ctx context.Context, id uuid.UUID) (bool, error)

	// Finish records the send outcome for a claimed row.
	Finish(ctx context.Context, id uuid.UUID, status Status, messageID, lastErr string) error

	// Reschedule returns a claimed row to pending with a bumped attempt
	// count and a future due time. Clearing attempted_at is what lets a
	// later dispatcher pass claim the row again.
	Reschedule(ctx context.Context, id uuid.UUID, attempts int, nextAttemptAt time.Time, lastErr string) error
}
