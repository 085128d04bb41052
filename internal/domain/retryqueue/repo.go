package retryqueue

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Repository is the storage contract for retry tickets. MarkInProgress is
// the system's one compare-and-set primitive: it succeeds only while the
// ticket is still pending_retry, so concurrent sweep workers cannot both
// activate the same ticket.
type Repository interface {
	// Upsert creates the ticket for (request, docType) or refreshes an
	// existing non-terminal one with the new error and schedule.
	Upsert(ctx context.Context, t *Ticket) error

	Get(ctx context.Context, requestID uuid.UUID, docType string) (*Ticket, error)

	// ListDue returns pending tickets whose next_retry_at has passed.
	ListDue(ctx context.Context, now time.Time, limit int) ([]*Ticket, error)

	// MarkInProgress flips pending_retry -> processing. Returns false when
	// another worker won the ticket or it is no longer pending.
	MarkInProgress(ctx context.Context, requestID uuid.UUID, docType string) (bool, error)

	// RequeueStale returns processing tickets not touched since olderThan
	// to pending_retry. A ticket stuck in processing means its worker died
	// mid-attempt. Returns the number of tickets requeued.
	RequeueStale(ctx context.Context, olderThan time.Time) (int, error)

	// MarkSuccess completes the ticket.
	MarkSuccess(ctx context.Context, requestID uuid.UUID, docType string) error

	// MarkFailure records a failed attempt: attempts is bumped, and the
	// ticket either returns to pending_retry with the new schedule or, at
	// the cap, becomes permanently_failed.
	MarkFailure(ctx context.Context, requestID uuid.UUID, docType, lastErr string, nextRetryAt time.Time, permanent bool) error

	// ListPermanentlyFailed feeds the operator escalation view.
	ListPermanentlyFailed(ctx context.Context, limit, offset int) ([]*Ticket, int, error)
}
