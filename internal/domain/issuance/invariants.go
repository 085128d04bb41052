package issuance

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/medcert/medcert/internal/domain/intake"
	"github.com/medcert/medcert/internal/platform/alerting"
	"github.com/medcert/medcert/internal/platform/blobstore"
)

// CheckResult carries the document the approval may issue from.
type CheckResult struct {
	DocumentID   uuid.UUID
	DocumentPath string
}

// Checker runs the approval preconditions. It is strictly read-only so a
// failed check can be re-run after the underlying problem is repaired.
type Checker struct {
	intakes intake.Repository
	drafts  DraftRepository
	docs    GeneratedDocumentRepository
	store   blobstore.Store
	alerts  alerting.Alerter
	logger  zerolog.Logger
}

func NewChecker(intakes intake.Repository, drafts DraftRepository, docs GeneratedDocumentRepository, store blobstore.Store, alerts alerting.Alerter, logger zerolog.Logger) *Checker {
	return &Checker{
		intakes: intakes,
		drafts:  drafts,
		docs:    docs,
		store:   store,
		alerts:  alerts,
		logger:  logger.With().Str("component", "invariant_checker").Logger(),
	}
}

// Check runs the four preconditions in order, short-circuiting on the first
// failure. A violation here means corrupted workflow state, so each one is
// escalated as a critical alert before being returned.
func (c *Checker) Check(ctx context.Context, requestID uuid.UUID, docType string) (*CheckResult, error) {
	if _, err := c.drafts.GetByRequest(ctx, requestID, docType); err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, c.violation(requestID, DraftMissing, "no generation draft for request")
		}
		return nil, err
	}

	in, err := c.intakes.GetByID(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if in.Status == intake.StatusApproved || in.Status == intake.StatusCompleted {
		return nil, c.violation(requestID, AlreadyApproved, "request already approved")
	}

	doc, err := c.docs.GetLatest(ctx, requestID, docType)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, c.violation(requestID, DocumentMissing, "no generated document for request")
		}
		return nil, err
	}

	reachable, err := c.store.Exists(ctx, doc.StoragePath)
	if err != nil || !reachable {
		detail := "storage probe reported missing object"
		if err != nil {
			detail = err.Error()
		}
		return nil, c.violation(requestID, DocumentUnreachable, detail)
	}

	return &CheckResult{DocumentID: doc.ID, DocumentPath: doc.StoragePath}, nil
}

func (c *Checker) violation(requestID uuid.UUID, code InvariantCode, detail string) error {
	v := &InvariantViolation{Code: code, RequestID: requestID, Detail: detail}

	c.alerts.CaptureMessage(
		"approval invariant violated",
		alerting.SeverityCritical,
		map[string]string{
			"invariant":  string(code),
			"request_id": requestID.String(),
		},
		map[string]interface{}{"detail": detail},
	)
	c.logger.Error().
		Str("invariant", string(code)).
		Str("request_id", requestID.String()).
		Str("detail", detail).
		Msg("approval blocked")

	return v
}
