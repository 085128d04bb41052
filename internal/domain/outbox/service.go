package outbox

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/medcert/medcert/internal/domain/auditevent"
	"github.com/medcert/medcert/internal/domain/certificate"
	"github.com/medcert/medcert/internal/domain/retryqueue"
	"github.com/medcert/medcert/internal/platform/alerting"
	"github.com/medcert/medcert/internal/platform/notification"
)

// AuditRecorder is the slice of the audit emitter this package needs.
type AuditRecorder interface {
	Record(ctx context.Context, eventType, subjectType string, subjectID uuid.UUID, actorID, actorRole string, payload map[string]interface{})
}

// Service owns the delivery outbox: enqueueing, the dispatcher pass, and
// operator-triggered resends.
type Service struct {
	repo      Repository
	certs     certificate.Repository
	sender    notification.EmailSender
	templates *notification.TemplateEngine
	audit     AuditRecorder
	alerts    alerting.Alerter
	logger    zerolog.Logger
	now       func() time.Time
}

func NewService(repo Repository, certs certificate.Repository, sender notification.EmailSender, templates *notification.TemplateEngine, audit AuditRecorder, alerts alerting.Alerter, logger zerolog.Logger) *Service {
	return &Service{
		repo:      repo,
		certs:     certs,
		sender:    sender,
		templates: templates,
		audit:     audit,
		alerts:    alerts,
		logger:    logger.With().Str("component", "email_outbox").Logger(),
		now:       time.Now,
	}
}

// Enqueue writes a pending outbox row for a request-scoped email.
func (s *Service) Enqueue(ctx context.Context, requestID uuid.UUID, templateID, recipient string, data map[string]string) error {
	return s.repo.Create(ctx, &Entry{
		RequestID:  requestID,
		TemplateID: templateID,
		Recipient:  recipient,
		Data:       data,
	})
}

// EnqueueCertificate ties the email to an issued certificate so its delivery
// status follows the send outcome.
func (s *Service) EnqueueCertificate(ctx context.Context, requestID, certificateID uuid.UUID, templateID, recipient string, data map[string]string) error {
	return s.repo.Create(ctx, &Entry{
		RequestID:     requestID,
		CertificateID: &certificateID,
		TemplateID:    templateID,
		Recipient:     recipient,
		Data:          data,
	})
}

// dispatchBatchSize bounds one dispatcher pass.
const dispatchBatchSize = 50

// Dispatch runs one pass over pending entries. Each row is claimed with a
// conditional update and its send attempted at most once; the outcome is
// written back atomically. Returns the number of rows claimed.
func (s *Service) Dispatch(ctx context.Context) (int, error) {
	pending, err := s.repo.ListPending(ctx, dispatchBatchSize)
	if err != nil {
		return 0, err
	}

	claimed := 0
	for _, e := range pending {
		won, err := s.repo.Claim(ctx, e.ID)
		if err != nil {
			s.logger.Error().Err(err).Str("outbox_id", e.ID.String()).Msg("claim failed")
			continue
		}
		if !won {
			continue
		}
		claimed++
		s.deliver(ctx, e)
	}
	return claimed, nil
}

func (s *Service) deliver(ctx context.Context, e *Entry) {
	if e.Recipient == "" {
		s.finish(ctx, e, StatusSkipped, "", "no recipient")
		return
	}

	subject, body, err := s.templates.Render(e.TemplateID, e.Data)
	if err != nil {
		s.finish(ctx, e, StatusFailed, "", err.Error())
		return
	}

	msgID, err := s.sender.SendEmail(ctx, e.Recipient, subject, body)
	if err != nil {
		s.retryOrFail(ctx, e, err)
		return
	}
	s.finish(ctx, e, StatusSent, msgID, "")
}

// retryOrFail handles a send failure. Send errors are treated as transient:
// the row goes back to pending with exponential backoff, on the same bounds
// as the generation retry tickets. At the attempt cap the row is parked as
// failed and escalated; an undeliverable certificate email is never silently
// dropped.
func (s *Service) retryOrFail(ctx context.Context, e *Entry, cause error) {
	failedAttempt := e.Attempts + 1
	if failedAttempt >= retryqueue.MaxRetries {
		s.finish(ctx, e, StatusFailed, "", cause.Error())
		s.alerts.CaptureMessage(
			"certificate email delivery permanently failed",
			alerting.SeverityCritical,
			map[string]string{
				"outbox_id":  e.ID.String(),
				"request_id": e.RequestID.String(),
			},
			map[string]interface{}{
				"template_id": e.TemplateID,
				"attempts":    failedAttempt,
				"last_error":  cause.Error(),
			},
		)
		return
	}

	next := s.now().UTC().Add(retryqueue.Backoff(failedAttempt))
	if err := s.repo.Reschedule(ctx, e.ID, failedAttempt, next, cause.Error()); err != nil {
		s.logger.Error().Err(err).Str("outbox_id", e.ID.String()).Msg("reschedule failed")
		return
	}
	s.logger.Warn().
		Str("outbox_id", e.ID.String()).
		Str("template_id", e.TemplateID).
		Int("attempt", failedAttempt).
		Time("next_attempt_at", next).
		Err(cause).
		Msg("send failed, rescheduled")
}

func (s *Service) finish(ctx context.Context, e *Entry, status Status, messageID, lastErr string) {
	if err := s.repo.Finish(ctx, e.ID, status, messageID, lastErr); err != nil {
		s.logger.Error().Err(err).Str("outbox_id", e.ID.String()).Msg("record send outcome failed")
		return
	}

	if e.CertificateID != nil {
		certStatus := certificate.EmailSent
		switch status {
		case StatusFailed:
			certStatus = certificate.EmailFailed
		case StatusSkipped:
			certStatus = certificate.EmailSkipped
		}
		if err := s.certs.UpdateEmailStatus(ctx, *e.CertificateID, certStatus); err != nil {
			s.logger.Error().Err(err).Str("certificate_id", e.CertificateID.String()).Msg("update certificate email status failed")
		}
	}

	evt := s.logger.Info()
	if status == StatusFailed {
		evt = s.logger.Warn().Str("error", lastErr)
	}
	evt.Str("outbox_id", e.ID.String()).
		Str("template_id", e.TemplateID).
		Str("status", string(status)).
		Msg("outbox entry finished")
}

// Resend queues another delivery of an issued certificate at an operator's
// request. The certificate's retry counter and a distinct audit event
// separate these from automatic retries.
func (s *Service) Resend(ctx context.Context, certificateID uuid.UUID, recipient, actorID, actorRole string) error {
	cert, err := s.certs.GetByID(ctx, certificateID)
	if err != nil {
		return err
	}
	if cert.Status != certificate.StatusValid {
		return fmt.Errorf("certificate %s is superseded", certificateID)
	}

	if err := s.EnqueueCertificate(ctx, cert.RequestID, cert.ID, "certificate-resend", recipient, map[string]string{
		"verification_code": cert.VerificationCode,
	}); err != nil {
		return err
	}
	if err := s.certs.IncrementEmailRetry(ctx, cert.ID); err != nil {
		s.logger.Error().Err(err).Str("certificate_id", cert.ID.String()).Msg("increment email retry failed")
	}

	s.audit.Record(ctx, auditevent.TypeEmailRetry, auditevent.SubjectCertificate, cert.ID,
		actorID, actorRole, map[string]interface{}{
			"recipient": recipient,
		})
	return nil
}

func (s *Service) ListByRequest(ctx context.Context, requestID uuid.UUID) ([]*Entry, error) {
	return s.repo.ListByRequest(ctx, requestID)
}
