package attestation

import (
	"time"

	"github.com/google/uuid"
)

// AutoAllowWindow is the maximum forward date shift a clinician may apply
// without an approved change request.
const AutoAllowWindow = 24 * time.Hour

// DateChangeStatus is the review state of a date-change request.
type DateChangeStatus string

const (
	DateChangePending  DateChangeStatus = "pending"
	DateChangeApproved DateChangeStatus = "approved"
	DateChangeRejected DateChangeStatus = "rejected"
)

// DateChangeRequest records a proposal to move a certificate's start date
// beyond the auto-allowed window. Only an approved request unlocks the move.
type DateChangeRequest struct {
	ID            uuid.UUID        `db:"id" json:"id"`
	RequestID     uuid.UUID        `db:"request_id" json:"request_id"`
	OriginalDate  time.Time        `db:"original_date" json:"original_date"`
	RequestedDate time.Time        `db:"requested_date" json:"requested_date"`
	Reason        string           `db:"reason" json:"reason"`
	Status        DateChangeStatus `db:"status" json:"status"`
	RequestedBy   string           `db:"requested_by" json:"requested_by"`
	DecidedBy     *string          `db:"decided_by" json:"decided_by,omitempty"`
	DecidedAt     *time.Time       `db:"decided_at" json:"decided_at,omitempty"`
	CreatedAt     time.Time        `db:"created_at" json:"created_at"`
}

// DateDecision is the outcome of the immutable-date guard.
type DateDecision int

const (
	// DateDenied: the change can never happen. Backdating falls here for
	// every caller regardless of role.
	DateDenied DateDecision = iota
	// DateAllowed: within the auto-allow window, no approval needed.
	DateAllowed
	// DateNeedsApproval: forward move beyond the window; allowed only with
	// an approved DateChangeRequest.
	DateNeedsApproval
)

// EvaluateDateChange classifies a proposed start-date move. Truncation to
// whole days is deliberate: a change within the same calendar day is not a
// date change.
func EvaluateDateChange(original, requested time.Time) DateDecision {
	o := original.Truncate(24 * time.Hour)
	r := requested.Truncate(24 * time.Hour)

	if r.Before(o) {
		return DateDenied
	}
	if r.Sub(o) <= AutoAllowWindow {
		return DateAllowed
	}
	return DateNeedsApproval
}

// IsDateChangeAllowed reports whether a start-date move may proceed given
// whether an approved change request covers it.
func IsDateChangeAllowed(original, requested time.Time, hasApprovedRequest bool) bool {
	switch EvaluateDateChange(original, requested) {
	case DateAllowed:
		return true
	case DateNeedsApproval:
		return hasApprovedRequest
	default:
		return false
	}
}
