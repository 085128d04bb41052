// Package retryqueue persists failed generation work as tickets and retries
// them with bounded exponential backoff. Tickets survive process restarts;
// the sweep is safe to run from several workers at once because activation
// is a conditional update.
package retryqueue

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

var ErrNotFound = errors.New("retry ticket not found")

// Status of a retry ticket. Terminal states are completed and
// permanently_failed.
type Status string

const (
	StatusPending           Status = "pending_retry"
	StatusProcessing        Status = "processing"
	StatusCompleted         Status = "completed"
	StatusPermanentlyFailed Status = "permanently_failed"
)

const (
	// MaxRetries bounds the attempt count. Exceeding it parks the ticket as
	// permanently_failed and escalates; failed certificates are never
	// silently dropped.
	MaxRetries = 3

	InitialDelay = time.Minute
	MaxDelay     = time.Hour
)

// Ticket is one pending unit of regeneration work, unique per
// (request, doc type).
type Ticket struct {
	ID          uuid.UUID `db:"id" json:"id"`
	RequestID   uuid.UUID `db:"request_id" json:"request_id"`
	DocType     string    `db:"doc_type" json:"doc_type"`
	Status      Status    `db:"status" json:"status"`
	Attempts    int       `db:"attempts" json:"attempts"`
	LastError   string    `db:"last_error" json:"last_error"`
	NextRetryAt time.Time `db:"next_retry_at" json:"next_retry_at"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time `db:"updated_at" json:"updated_at"`
}

// Backoff returns the delay before the given attempt (1-based):
// InitialDelay doubled per attempt, capped at MaxDelay.
func Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := InitialDelay
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= MaxDelay {
			return MaxDelay
		}
	}
	return d
}
