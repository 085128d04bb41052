package certificate

import (
	"context"

	"github.com/google/uuid"
)

// Repository is the storage contract for certificates. MarkSuperseded is a
// conditional update; the "at most one valid per request" invariant rests on
// it plus the partial unique index on (request_id) where status = 'valid'.
type Repository interface {
	Create(ctx context.Context, cert *Certificate) error
	GetByID(ctx context.Context, id uuid.UUID) (*Certificate, error)
	GetByVerificationCode(ctx context.Context, code string) (*Certificate, error)

	// FindValidByRequest returns the current valid certificate for a request,
	// or ErrNotFound when none exists.
	FindValidByRequest(ctx context.Context, requestID uuid.UUID) (*Certificate, error)

	// ListByRequest returns all certificates for a request, newest first.
	ListByRequest(ctx context.Context, requestID uuid.UUID) ([]*Certificate, error)

	// MarkSuperseded flips a certificate valid -> superseded. Returns false
	// when the certificate was not valid (already superseded or missing).
	MarkSuperseded(ctx context.Context, id uuid.UUID) (bool, error)

	// UpdateEmailStatus records the outcome of a delivery attempt.
	UpdateEmailStatus(ctx context.Context, id uuid.UUID, status EmailStatus) error

	// IncrementEmailRetry bumps the operator-resend counter.
	IncrementEmailRetry(ctx context.Context, id uuid.UUID) error
}
