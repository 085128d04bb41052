// Package auditevent maintains the append-only trail of workflow decisions.
// Events are never mutated or deleted; anonymization strips PHI on the
// intake, not here.
package auditevent

import (
	"time"

	"github.com/google/uuid"
)

// Event types recorded by the issuance workflow.
const (
	TypeApproved            = "approved"
	TypeDeclined            = "declined"
	TypeSuperseded          = "superseded"
	TypeEmailRetry          = "email_retry"
	TypeInfoRequested       = "info_requested"
	TypeReviewResumed       = "review_resumed"
	TypeAnonymized          = "anonymized"
	TypeDateChangeRequested = "date_change_requested"
	TypeDateChangeDecided   = "date_change_decided"
)

// Subject types an event can reference.
const (
	SubjectRequest     = "request"
	SubjectCertificate = "certificate"
)

// AuditEvent is one append-only record of a state transition.
type AuditEvent struct {
	ID          uuid.UUID              `db:"id" json:"id"`
	EventType   string                 `db:"event_type" json:"event_type"`
	SubjectType string                 `db:"subject_type" json:"subject_type"`
	SubjectID   uuid.UUID              `db:"subject_id" json:"subject_id"`
	ActorID     string                 `db:"actor_id" json:"actor_id"`
	ActorRole   string                 `db:"actor_role" json:"actor_role"`
	Payload     map[string]interface{} `db:"payload" json:"payload,omitempty"`
	CreatedAt   time.Time              `db:"created_at" json:"created_at"`
}
