package issuance

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/medcert/medcert/internal/domain/attestation"
	"github.com/medcert/medcert/internal/domain/auditevent"
	"github.com/medcert/medcert/internal/domain/certificate"
	"github.com/medcert/medcert/internal/domain/intake"
	"github.com/medcert/medcert/internal/platform/blobstore"
	"github.com/medcert/medcert/internal/platform/render"
)

// AuditRecorder is the slice of the audit emitter this package needs.
type AuditRecorder interface {
	Record(ctx context.Context, eventType, subjectType string, subjectID uuid.UUID, actorID, actorRole string, payload map[string]interface{})
}

// CertificateMailer queues certificate emails through the delivery outbox.
type CertificateMailer interface {
	Enqueue(ctx context.Context, requestID uuid.UUID, templateID, recipient string, data map[string]string) error
	EnqueueCertificate(ctx context.Context, requestID, certificateID uuid.UUID, templateID, recipient string, data map[string]string) error
}

// RetryEnqueuer records a generation failure for the retry sweep.
type RetryEnqueuer interface {
	QueueRetry(ctx context.Context, requestID uuid.UUID, docType string, cause error) error
}

// TxRunner executes fn inside a database transaction; repositories resolve
// the open transaction from the derived context.
type TxRunner interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// Actor identifies who drives a workflow transition.
type Actor struct {
	ID   string
	Name string
	Role string
}

// Service is the issuance workflow. It alone creates and supersedes
// Certificate rows.
type Service struct {
	intakes  intake.Repository
	certs    certificate.Repository
	drafts   DraftRepository
	docs     GeneratedDocumentRepository
	locks    *intake.LockManager
	checker  *Checker
	attest   *attestation.Service
	renderer render.Renderer
	store    blobstore.Store
	mailer   CertificateMailer
	retries  RetryEnqueuer
	tx       TxRunner
	audit    AuditRecorder
	logger   zerolog.Logger
	now      func() time.Time
}

type ServiceParams struct {
	Intakes  intake.Repository
	Certs    certificate.Repository
	Drafts   DraftRepository
	Docs     GeneratedDocumentRepository
	Locks    *intake.LockManager
	Checker  *Checker
	Attest   *attestation.Service
	Renderer render.Renderer
	Store    blobstore.Store
	Mailer   CertificateMailer
	Retries  RetryEnqueuer
	Tx       TxRunner
	Audit    AuditRecorder
	Logger   zerolog.Logger
}

func NewService(p ServiceParams) *Service {
	return &Service{
		intakes:  p.Intakes,
		certs:    p.Certs,
		drafts:   p.Drafts,
		docs:     p.Docs,
		locks:    p.Locks,
		checker:  p.Checker,
		attest:   p.Attest,
		renderer: p.Renderer,
		store:    p.Store,
		mailer:   p.Mailer,
		retries:  p.Retries,
		tx:       p.Tx,
		audit:    p.Audit,
		logger:   p.Logger.With().Str("component", "issuance").Logger(),
		now:      time.Now,
	}
}

// SetRetryEnqueuer late-binds the retry queue. The sweeper regenerates
// through this service, so the two cannot be constructed in one pass.
func (s *Service) SetRetryEnqueuer(r RetryEnqueuer) {
	s.retries = r
}

// inTx runs fn through the transaction runner, or directly when none is
// configured.
func (s *Service) inTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if s.tx == nil {
		return fn(ctx)
	}
	return s.tx.RunInTx(ctx, fn)
}

// SaveDraft stores the clinician's working copy and renders a preview. The
// generated-document record it writes is what the invariant checker later
// requires. Render failures surface synchronously; the clinician is waiting.
func (s *Service) SaveDraft(ctx context.Context, d *Draft) error {
	in, err := s.intakes.GetByID(ctx, d.RequestID)
	if err != nil {
		return err
	}
	if d.DocType == "" {
		d.DocType = DocTypeCertificate
	}
	if d.Subtype == "" {
		d.Subtype = in.CertType
	}
	if d.StartDate.IsZero() {
		d.StartDate = in.StartDate
	}
	if d.EndDate.IsZero() {
		d.EndDate = in.EndDate
	}
	if d.EndDate.Before(d.StartDate) {
		return fmt.Errorf("end_date precedes start_date")
	}

	// The immutable-date guard applies at draft time too, before the
	// clinician invests in the rest of the approval.
	if !d.StartDate.Equal(in.StartDate) {
		ok, err := s.attest.CheckDateChange(ctx, d.RequestID, in.StartDate, d.StartDate)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("start date change from %s to %s is not permitted",
				in.StartDate.Format("2006-01-02"), d.StartDate.Format("2006-01-02"))
		}
	}

	if err := s.drafts.Upsert(ctx, d); err != nil {
		return err
	}

	pdf, err := s.renderer.Render(ctx, s.templateInput(in, d, ""))
	if err != nil {
		return fmt.Errorf("preview render: %w", err)
	}

	path := fmt.Sprintf("previews/%s/%s.pdf", d.RequestID, uuid.NewString())
	if _, err := s.store.Upload(ctx, path, pdf, "application/pdf"); err != nil {
		return fmt.Errorf("preview upload: %w", err)
	}

	return s.docs.Insert(ctx, &GeneratedDocument{
		RequestID:   d.RequestID,
		DocType:     d.DocType,
		StoragePath: path,
	})
}

func (s *Service) templateInput(in *intake.Intake, d *Draft, verificationCode string) render.TemplateInput {
	return render.TemplateInput{
		CertificateType:  d.Subtype,
		PatientName:      in.PatientName,
		DoctorName:       in.ReviewerName,
		StartDate:        d.StartDate.Format("2006-01-02"),
		EndDate:          d.EndDate.Format("2006-01-02"),
		VerificationCode: verificationCode,
		Fields: map[string]string{
			"clinical_notes": d.ClinicalNotes,
		},
	}
}

// Approve drives in_review -> approved: lock, invariants, attestation,
// supersede, render, persist, release, notify, audit, strictly in that
// order. The supersession, the new certificate, the status write, and the
// email enqueue commit in one transaction, so any failure aborts with
// nothing persisted. This is the interactive path: render failures surface
// to the clinician immediately.
func (s *Service) Approve(ctx context.Context, requestID uuid.UUID, actor Actor) (*certificate.Certificate, error) {
	lock := s.locks.Acquire(ctx, requestID, actor.ID, actor.Name)
	if lock.Conflict != nil {
		s.logger.Warn().
			Str("request_id", requestID.String()).
			Str("holder_id", lock.Conflict.ReviewerID).
			Msg("approving despite active lock held elsewhere")
	}

	if _, err := s.checker.Check(ctx, requestID, DocTypeCertificate); err != nil {
		return nil, err
	}

	hasAttestation, err := s.attest.HasAttestation(ctx, requestID, attestation.DeclApproval)
	if err != nil {
		return nil, err
	}
	if !hasAttestation {
		return nil, fmt.Errorf("no current approval attestation for request %s", requestID)
	}

	var cert *certificate.Certificate
	err = s.inTx(ctx, func(ctx context.Context) error {
		c, err := s.issue(ctx, requestID, actor, false)
		if err != nil {
			return err
		}
		ok, err := s.intakes.UpdateStatus(ctx, requestID,
			[]intake.Status{intake.StatusInReview, intake.StatusPendingInfo}, intake.StatusApproved, nil)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("request %s is not in a reviewable status", requestID)
		}
		s.notifyIssued(ctx, requestID, c)
		cert = c
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.locks.Release(ctx, requestID, actor.ID)
	s.audit.Record(ctx, auditevent.TypeApproved, auditevent.SubjectRequest, requestID,
		actor.ID, actor.Role, map[string]interface{}{"certificate_id": cert.ID})

	return cert, nil
}

// issue supersedes any existing valid certificate, renders the final
// document, and persists the new valid certificate. Shared by the
// interactive approval and the automated regeneration paths; automated
// render failures feed the retry queue instead of the caller.
func (s *Service) issue(ctx context.Context, requestID uuid.UUID, actor Actor, automated bool) (*certificate.Certificate, error) {
	in, err := s.intakes.GetByID(ctx, requestID)
	if err != nil {
		return nil, err
	}
	draft, err := s.drafts.GetByRequest(ctx, requestID, DocTypeCertificate)
	if err != nil {
		return nil, err
	}

	// Supersede-then-create keeps at most one valid certificate per request
	// even under retried calls. A failure to audit the supersession never
	// blocks the new issuance.
	if prior, err := s.certs.FindValidByRequest(ctx, requestID); err == nil {
		superseded, err := s.certs.MarkSuperseded(ctx, prior.ID)
		if err != nil {
			return nil, fmt.Errorf("supersede certificate %s: %w", prior.ID, err)
		}
		if superseded {
			s.audit.Record(ctx, auditevent.TypeSuperseded, auditevent.SubjectCertificate, prior.ID,
				actor.ID, actor.Role, map[string]interface{}{"request_id": requestID})
		}
	} else if !errors.Is(err, certificate.ErrNotFound) {
		return nil, err
	}

	code := certificate.NewVerificationCode()
	pdf, err := s.renderer.Render(ctx, s.templateInput(in, draft, code))
	if err != nil {
		if automated && s.retries != nil {
			if qerr := s.retries.QueueRetry(ctx, requestID, DocTypeCertificate, err); qerr != nil {
				s.logger.Error().Err(qerr).Str("request_id", requestID.String()).Msg("queue retry failed")
			}
		}
		return nil, fmt.Errorf("certificate render: %w", err)
	}

	path := fmt.Sprintf("certificates/%s/%s.pdf", requestID, code)
	if _, err := s.store.Upload(ctx, path, pdf, "application/pdf"); err != nil {
		if automated && s.retries != nil {
			if qerr := s.retries.QueueRetry(ctx, requestID, DocTypeCertificate, err); qerr != nil {
				s.logger.Error().Err(qerr).Str("request_id", requestID.String()).Msg("queue retry failed")
			}
		}
		return nil, fmt.Errorf("certificate upload: %w", err)
	}

	cert := &certificate.Certificate{
		RequestID:        requestID,
		Status:           certificate.StatusValid,
		Subtype:          draft.Subtype,
		StoragePath:      path,
		VerificationCode: code,
		EmailStatus:      certificate.EmailPending,
	}
	if err := s.certs.Create(ctx, cert); err != nil {
		return nil, fmt.Errorf("persist certificate: %w", err)
	}
	return cert, nil
}

func (s *Service) notifyIssued(ctx context.Context, requestID uuid.UUID, cert *certificate.Certificate) {
	in, err := s.intakes.GetByID(ctx, requestID)
	if err != nil {
		s.logger.Error().Err(err).Str("request_id", requestID.String()).Msg("read intake for notification failed")
		return
	}
	if in.Anonymized || in.PatientEmail == "" {
		return
	}
	err = s.mailer.EnqueueCertificate(ctx, requestID, cert.ID, "certificate-issued", in.PatientEmail, map[string]string{
		"patient_name":      in.PatientName,
		"verification_code": cert.VerificationCode,
	})
	if err != nil {
		s.logger.Error().Err(err).Str("request_id", requestID.String()).Msg("enqueue issued email failed")
	}
}

// Decline drives in_review -> declined. No certificate is involved; the
// decline notice goes through the outbox like every other email, and commits
// in the same transaction as the status write.
func (s *Service) Decline(ctx context.Context, requestID uuid.UUID, actor Actor, reason string) error {
	s.locks.Acquire(ctx, requestID, actor.ID, actor.Name)

	err := s.inTx(ctx, func(ctx context.Context) error {
		ok, err := s.intakes.UpdateStatus(ctx, requestID,
			[]intake.Status{intake.StatusInReview, intake.StatusPendingInfo}, intake.StatusDeclined, nil)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("request %s is not in a reviewable status", requestID)
		}

		in, err := s.intakes.GetByID(ctx, requestID)
		if err == nil && !in.Anonymized && in.PatientEmail != "" {
			if err := s.mailer.Enqueue(ctx, requestID, "request-declined", in.PatientEmail, map[string]string{
				"patient_name": in.PatientName,
				"reason":       reason,
			}); err != nil {
				s.logger.Error().Err(err).Str("request_id", requestID.String()).Msg("enqueue decline email failed")
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.locks.Release(ctx, requestID, actor.ID)

	s.audit.Record(ctx, auditevent.TypeDeclined, auditevent.SubjectRequest, requestID,
		actor.ID, actor.Role, map[string]interface{}{"reason": reason})
	return nil
}

// systemActor stamps transitions driven by the retry sweep rather than a
// person.
var systemActor = Actor{ID: "system", Name: "system", Role: "system"}

// Regenerate re-issues the certificate for an already approved request. This
// is the automated path driven by the retry sweep; failures return to the
// sweeper, which owns the backoff schedule.
func (s *Service) Regenerate(ctx context.Context, requestID uuid.UUID, docType string) error {
	if err := s.regenCheck(ctx, requestID, docType); err != nil {
		return err
	}
	_, err := s.issue(ctx, requestID, systemActor, false)
	return err
}

// RequestRegeneration is the operator-facing entry point. The operator must
// hold a fresh regeneration declaration, mirroring the approval declaration.
// Unlike the interactive approval, a render failure here does not fail the
// call: the work is queued for the retry sweep and the operator moves on.
func (s *Service) RequestRegeneration(ctx context.Context, requestID uuid.UUID, actor Actor) (*certificate.Certificate, error) {
	if err := s.regenCheck(ctx, requestID, DocTypeCertificate); err != nil {
		return nil, err
	}

	hasAttestation, err := s.attest.HasAttestation(ctx, requestID, attestation.DeclRegeneration)
	if err != nil {
		return nil, err
	}
	if !hasAttestation {
		return nil, fmt.Errorf("no current regeneration attestation for request %s", requestID)
	}
	cert, err := s.issue(ctx, requestID, actor, true)
	if err != nil {
		if errors.Is(err, render.ErrRenderFailed) {
			s.logger.Warn().Err(err).Str("request_id", requestID.String()).Msg("regeneration queued for retry")
			return nil, nil
		}
		return nil, err
	}
	s.notifyIssued(ctx, requestID, cert)
	return cert, nil
}

// regenCheck mirrors the approval invariants minus AlreadyApproved, which a
// regeneration target is by definition.
func (s *Service) regenCheck(ctx context.Context, requestID uuid.UUID, docType string) error {
	in, err := s.intakes.GetByID(ctx, requestID)
	if err != nil {
		return err
	}
	if in.Status != intake.StatusApproved && in.Status != intake.StatusCompleted {
		return fmt.Errorf("request %s is not approved", requestID)
	}

	if _, err := s.docs.GetLatest(ctx, requestID, docType); err != nil {
		if errors.Is(err, ErrNotFound) {
			return &InvariantViolation{Code: DocumentMissing, RequestID: requestID, Detail: "no generated document for request"}
		}
		return err
	}
	return nil
}
