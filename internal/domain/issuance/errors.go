package issuance

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// InvariantCode identifies which approval precondition failed. These signal
// data-integrity problems, not user error, and every occurrence is escalated
// as a critical alert.
type InvariantCode string

const (
	DraftMissing        InvariantCode = "draft_missing"
	AlreadyApproved     InvariantCode = "already_approved"
	DocumentMissing     InvariantCode = "document_missing"
	DocumentUnreachable InvariantCode = "document_unreachable"
)

// InvariantViolation is the typed failure of an approval precondition. The
// transition is aborted with no partial state committed.
type InvariantViolation struct {
	Code      InvariantCode
	RequestID uuid.UUID
	Detail    string
}

func (e *InvariantViolation) Error() string {
	return fmt.Sprintf("approval invariant %s violated for request %s: %s", e.Code, e.RequestID, e.Detail)
}

// AsInvariantViolation unwraps err to an *InvariantViolation if one is in
// the chain.
func AsInvariantViolation(err error) (*InvariantViolation, bool) {
	var iv *InvariantViolation
	if errors.As(err, &iv) {
		return iv, true
	}
	return nil, false
}
