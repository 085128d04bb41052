package attestation

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/medcert/medcert/internal/domain/auditevent"
)

// AuditRecorder is the slice of the audit emitter this package needs.
type AuditRecorder interface {
	Record(ctx context.Context, eventType, subjectType string, subjectID uuid.UUID, actorID, actorRole string, payload map[string]interface{})
}

type Service struct {
	records     RecordRepository
	dateChanges DateChangeRepository
	audit       AuditRecorder
	logger      zerolog.Logger
	now         func() time.Time
}

func NewService(records RecordRepository, dateChanges DateChangeRepository, audit AuditRecorder, logger zerolog.Logger) *Service {
	return &Service{
		records:     records,
		dateChanges: dateChanges,
		audit:       audit,
		logger:      logger,
		now:         time.Now,
	}
}

// SubmitAttestation validates a typed declaration and stores it. A rejected
// attestation stores nothing; the clinician corrects and resubmits.
func (s *Service) SubmitAttestation(ctx context.Context, rec *Record, expectedName string) error {
	if err := Validate(*rec, expectedName, rec.DeclType, s.now().UTC()); err != nil {
		return err
	}
	return s.records.Insert(ctx, rec)
}

// HasAttestation reports whether a declaration of the given type exists for
// the request within the freshness window.
func (s *Service) HasAttestation(ctx context.Context, requestID uuid.UUID, declType string) (bool, error) {
	recs, err := s.records.ListByRequest(ctx, requestID)
	if err != nil {
		return false, err
	}
	cutoff := s.now().UTC().Add(-AttestationWindow)
	for _, r := range recs {
		if r.DeclType == declType && r.SignedAt.After(cutoff) {
			return true, nil
		}
	}
	return false, nil
}

// RequestDateChange opens a change request for a start-date move beyond the
// auto-allow window. Moves that need no approval are rejected here so the
// queue only ever holds genuine escalations; backdating is refused outright.
func (s *Service) RequestDateChange(ctx context.Context, req *DateChangeRequest) error {
	switch EvaluateDateChange(req.OriginalDate, req.RequestedDate) {
	case DateDenied:
		return fmt.Errorf("backdating is not permitted")
	case DateAllowed:
		return fmt.Errorf("date change within %s needs no approval", AutoAllowWindow)
	}

	req.Status = DateChangePending
	if err := s.dateChanges.Create(ctx, req); err != nil {
		return err
	}

	s.audit.Record(ctx, auditevent.TypeDateChangeRequested, auditevent.SubjectRequest, req.RequestID,
		req.RequestedBy, "doctor", map[string]interface{}{
			"original_date":  req.OriginalDate,
			"requested_date": req.RequestedDate,
			"reason":         req.Reason,
		})
	return nil
}

// DecideDateChange approves or rejects a pending change request.
func (s *Service) DecideDateChange(ctx context.Context, id uuid.UUID, approve bool, decidedBy, decidedRole string) error {
	status := DateChangeRejected
	if approve {
		status = DateChangeApproved
	}
	ok, err := s.dateChanges.Decide(ctx, id, status, decidedBy)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("date change request %s is not pending", id)
	}

	req, err := s.dateChanges.GetByID(ctx, id)
	if err != nil {
		s.logger.Error().Err(err).Str("id", id.String()).Msg("read back decided date change failed")
		return nil
	}
	s.audit.Record(ctx, auditevent.TypeDateChangeDecided, auditevent.SubjectRequest, req.RequestID,
		decidedBy, decidedRole, map[string]interface{}{
			"date_change_id": id,
			"status":         status,
		})
	return nil
}

// CheckDateChange is the guard the issuance workflow calls before honoring a
// start-date different from the one originally submitted.
func (s *Service) CheckDateChange(ctx context.Context, requestID uuid.UUID, original, requested time.Time) (bool, error) {
	switch EvaluateDateChange(original, requested) {
	case DateDenied:
		return false, nil
	case DateAllowed:
		return true, nil
	}
	return s.dateChanges.FindApproved(ctx, requestID, requested)
}

func (s *Service) ListDateChanges(ctx context.Context, requestID uuid.UUID) ([]*DateChangeRequest, error) {
	return s.dateChanges.ListByRequest(ctx, requestID)
}

func (s *Service) ListAttestations(ctx context.Context, requestID uuid.UUID) ([]*Record, error) {
	return s.records.ListByRequest(ctx, requestID)
}
