// Package attestation holds the evidentiary gates on issuance: the typed
// declaration a clinician signs before approving, and the immutable-date
// guard with its date-change request escape hatch.
package attestation

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

var ErrNotFound = errors.New("attestation record not found")

// Declaration types. Each maps to one canonical text the clinician must have
// signed verbatim.
const (
	DeclApproval     = "approval"
	DeclRegeneration = "regeneration"
)

// canonicalTexts are legal wording. Changing them invalidates outstanding
// in-flight attestations on purpose.
var canonicalTexts = map[string]string{
	DeclApproval:     "I confirm that I have reviewed this patient's submission and that the certificate accurately reflects my clinical assessment.",
	DeclRegeneration: "I confirm that this certificate is being reissued to correct an administrative error and that the clinical assessment is unchanged.",
}

// CanonicalText returns the required wording for a declaration type, or ""
// for an unknown type.
func CanonicalText(declType string) string {
	return canonicalTexts[declType]
}

// AttestationWindow bounds how stale a typed declaration may be when it is
// validated.
const AttestationWindow = 10 * time.Minute

// Record is the immutable proof of a typed declaration. It is evidence, not
// workflow state; nothing reads it back on the hot path.
type Record struct {
	ID            uuid.UUID `db:"id" json:"id"`
	RequestID     uuid.UUID `db:"request_id" json:"request_id"`
	DeclType      string    `db:"decl_type" json:"decl_type"`
	TypedName     string    `db:"typed_name" json:"typed_name"`
	Text          string    `db:"text" json:"text"`
	SignedAt      time.Time `db:"signed_at" json:"signed_at"`
	OriginAddress string    `db:"origin_address" json:"origin_address"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
}

// ValidationError carries every problem found with an attestation so the
// clinician can fix all of them in one pass.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return "attestation invalid: " + strings.Join(e.Problems, "; ")
}

// Validate checks a typed declaration against the clinician's registered
// name and the canonical wording. All failures are collected rather than
// short-circuited.
func Validate(rec Record, expectedName, declType string, now time.Time) error {
	var problems []string

	if !strings.EqualFold(strings.TrimSpace(rec.TypedName), strings.TrimSpace(expectedName)) {
		problems = append(problems, fmt.Sprintf("typed name %q does not match clinician name %q", rec.TypedName, expectedName))
	}

	want := CanonicalText(declType)
	if want == "" {
		problems = append(problems, fmt.Sprintf("unknown declaration type %q", declType))
	} else if rec.Text != want {
		problems = append(problems, "attestation text does not match the required wording")
	}

	if age := now.Sub(rec.SignedAt); age < 0 || age > AttestationWindow {
		problems = append(problems, fmt.Sprintf("attestation signed outside the %s window", AttestationWindow))
	}

	if strings.TrimSpace(rec.OriginAddress) == "" {
		problems = append(problems, "originating address is missing")
	}

	if len(problems) > 0 {
		return &ValidationError{Problems: problems}
	}
	return nil
}
