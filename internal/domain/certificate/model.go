// Package certificate models the issued artifact. Creation and supersession
// are driven exclusively by the issuance workflow; this package owns the
// model, storage contract, and read-side endpoints (download, verification).
package certificate

import (
	"crypto/rand"
	"encoding/base32"
	"errors"
	"time"

	"github.com/google/uuid"
)

var ErrNotFound = errors.New("certificate not found")

// Status of the artifact. A request has at most one valid certificate at any
// instant; regeneration supersedes the prior one before creating its
// replacement.
type Status string

const (
	StatusValid      Status = "valid"
	StatusSuperseded Status = "superseded"
)

// EmailStatus tracks delivery of the certificate to the patient.
type EmailStatus string

const (
	EmailPending EmailStatus = "pending"
	EmailSent    EmailStatus = "sent"
	EmailFailed  EmailStatus = "failed"
	EmailSkipped EmailStatus = "skipped"
)

// Certificate is the issued document record. StoragePath points into the
// object store; the PDF bytes are never persisted in the database.
type Certificate struct {
	ID               uuid.UUID   `db:"id" json:"id"`
	RequestID        uuid.UUID   `db:"request_id" json:"request_id"`
	Status           Status      `db:"status" json:"status"`
	Subtype          string      `db:"subtype" json:"subtype"`
	StoragePath      string      `db:"storage_path" json:"storage_path"`
	VerificationCode string      `db:"verification_code" json:"verification_code"`
	EmailStatus      EmailStatus `db:"email_status" json:"email_status"`
	EmailRetryCount  int         `db:"email_retry_count" json:"email_retry_count"`
	SupersededAt     *time.Time  `db:"superseded_at" json:"superseded_at,omitempty"`
	CreatedAt        time.Time   `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time   `db:"updated_at" json:"updated_at"`
}

var codeEncoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// NewVerificationCode returns a random public lookup code for the
// certificate. 10 bytes gives 16 base32 characters, enough that guessing is
// not a practical concern.
func NewVerificationCode() string {
	buf := make([]byte, 10)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand failure means the process is in a bad state; fall back
		// to a UUID rather than issue a predictable code.
		return uuid.NewString()
	}
	return codeEncoding.EncodeToString(buf)
}

// VerificationResult is the public, PHI-free view returned by the
// verification endpoint.
type VerificationResult struct {
	Status   Status    `json:"status"`
	Subtype  string    `json:"subtype"`
	IssuedAt time.Time `json:"issued_at"`
}
