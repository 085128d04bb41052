// Package outbox is the durable email delivery queue. A row is written per
// intended email; a dispatcher claims rows and attempts each send at most
// once per activation, recording the outcome atomically.
package outbox

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

var ErrNotFound = errors.New("outbox entry not found")

// Status of an outbox row.
type Status string

const (
	StatusPending Status = "pending"
	StatusSent    Status = "sent"
	StatusFailed  Status = "failed"
	// StatusSkipped marks rows the dispatcher decided not to send, for
	// example when the recipient was anonymized away.
	StatusSkipped Status = "skipped"
)

// Entry is one intended email. Data holds the template substitutions; the
// rendered subject and body are never persisted. Attempts counts failed
// sends; NextAttemptAt gates when the dispatcher may pick the row up again.
type Entry struct {
	ID            uuid.UUID         `db:"id" json:"id"`
	RequestID     uuid.UUID         `db:"request_id" json:"request_id"`
	CertificateID *uuid.UUID        `db:"certificate_id" json:"certificate_id,omitempty"`
	TemplateID    string            `db:"template_id" json:"template_id"`
	Recipient     string            `db:"recipient" json:"recipient"`
	Data          map[string]string `db:"data" json:"data"`
	Status        Status            `db:"status" json:"status"`
	MessageID     string            `db:"message_id" json:"message_id,omitempty"`
	LastError     string            `db:"last_error" json:"last_error,omitempty"`
	Attempts      int               `db:"attempts" json:"attempts"`
	NextAttemptAt time.Time         `db:"next_attempt_at" json:"next_attempt_at"`
	AttemptedAt   *time.Time        `db:"attempted_at" json:"attempted_at,omitempty"`
	CreatedAt     time.Time         `db:"created_at" json:"created_at"`
}
