package intake

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/medcert/medcert/internal/domain/auditevent"
)

// AuditRecorder is the slice of the audit emitter this package needs.
type AuditRecorder interface {
	Record(ctx context.Context, eventType, subjectType string, subjectID uuid.UUID, actorID, actorRole string, payload map[string]interface{})
}

// EmailEnqueuer queues an outbound email through the delivery outbox.
type EmailEnqueuer interface {
	Enqueue(ctx context.Context, requestID uuid.UUID, templateID, recipient string, data map[string]string) error
}

type Service struct {
	repo   Repository
	audit  AuditRecorder
	outbox EmailEnqueuer
	logger zerolog.Logger
}

func NewService(repo Repository, audit AuditRecorder, outbox EmailEnqueuer, logger zerolog.Logger) *Service {
	return &Service{repo: repo, audit: audit, outbox: outbox, logger: logger}
}

// CreateIntake validates the questionnaire payload and stores a new draft.
func (s *Service) CreateIntake(ctx context.Context, in *Intake) error {
	if in.PatientID == uuid.Nil {
		return fmt.Errorf("patient_id is required")
	}
	if in.PatientEmail == "" {
		return fmt.Errorf("patient_email is required")
	}
	if in.CertType == "" {
		in.CertType = in.Answers.Type
	}
	if in.CertType != in.Answers.Type {
		return fmt.Errorf("cert_type %q does not match answers type %q", in.CertType, in.Answers.Type)
	}
	if err := in.Answers.Validate(); err != nil {
		return err
	}
	if in.EndDate.Before(in.StartDate) {
		return fmt.Errorf("end_date precedes start_date")
	}
	in.Status = StatusDraft
	return s.repo.Create(ctx, in)
}

func (s *Service) GetIntake(ctx context.Context, id uuid.UUID) (*Intake, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) ListByStatus(ctx context.Context, status Status, limit, offset int) ([]*Intake, int, error) {
	return s.repo.ListByStatus(ctx, status, limit, offset)
}

// MarkPaid records payment confirmation and releases the case into the
// review queue.
func (s *Service) MarkPaid(ctx context.Context, id uuid.UUID) error {
	ok, err := s.repo.UpdateStatus(ctx, id, []Status{StatusDraft}, StatusPaid, nil)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("intake %s is not awaiting payment", id)
	}
	return nil
}

// StartReview assigns the clinician and moves the case into review.
func (s *Service) StartReview(ctx context.Context, id uuid.UUID, clinicianID, clinicianName string) error {
	ok, err := s.repo.UpdateStatus(ctx, id, []Status{StatusPaid}, StatusInReview, nil)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("intake %s is not ready for review", id)
	}
	return s.repo.SetReviewer(ctx, id, clinicianID, clinicianName)
}

// RequestInfo parks the case pending more information from the patient. The
// current status is stored so review can resume where it left off.
func (s *Service) RequestInfo(ctx context.Context, id uuid.UUID, clinicianID, clinicianRole, message string) error {
	in, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if in.Status != StatusInReview {
		return fmt.Errorf("intake %s is not in review", id)
	}

	prev := in.Status
	ok, err := s.repo.UpdateStatus(ctx, id, []Status{StatusInReview}, StatusPendingInfo, &prev)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("intake %s changed status during request", id)
	}

	s.audit.Record(ctx, auditevent.TypeInfoRequested, auditevent.SubjectRequest, id,
		clinicianID, clinicianRole, map[string]interface{}{"message": message})

	if s.outbox != nil && !in.Anonymized {
		if err := s.outbox.Enqueue(ctx, id, "info-requested", in.PatientEmail, map[string]string{
			"patient_name": in.PatientName,
			"message":      message,
		}); err != nil {
			s.logger.Error().Err(err).Str("request_id", id.String()).Msg("enqueue info-request email failed")
		}
	}
	return nil
}

// ResumeReview rolls a pending_info case back to its stored previous status.
func (s *Service) ResumeReview(ctx context.Context, id uuid.UUID, actorID, actorRole string) error {
	in, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if in.Status != StatusPendingInfo {
		return fmt.Errorf("intake %s is not pending information", id)
	}
	target := StatusInReview
	if in.PreviousStatus != nil {
		target = *in.PreviousStatus
	}

	ok, err := s.repo.UpdateStatus(ctx, id, []Status{StatusPendingInfo}, target, nil)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("intake %s changed status during resume", id)
	}

	s.audit.Record(ctx, auditevent.TypeReviewResumed, auditevent.SubjectRequest, id, actorID, actorRole, nil)
	return nil
}

// Anonymize strips PHI from the intake. Only decided cases may be anonymized;
// the audit trail is left intact.
func (s *Service) Anonymize(ctx context.Context, id uuid.UUID, actorID, actorRole string) error {
	in, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if !in.Status.IsTerminal() {
		return fmt.Errorf("intake %s is still open", id)
	}
	if err := s.repo.Anonymize(ctx, id); err != nil {
		return err
	}
	s.audit.Record(ctx, auditevent.TypeAnonymized, auditevent.SubjectRequest, id, actorID, actorRole, nil)
	return nil
}
