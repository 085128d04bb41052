package issuance

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/medcert/medcert/internal/domain/attestation"
	"github.com/medcert/medcert/internal/domain/certificate"
	"github.com/medcert/medcert/internal/domain/intake"
)

type mockIntakeRepo struct {
	mu      sync.Mutex
	intakes map[uuid.UUID]*intake.Intake
}

func newMockIntakeRepo() *mockIntakeRepo {
	return &mockIntakeRepo{intakes: make(map[uuid.UUID]*intake.Intake)}
}

func (m *mockIntakeRepo) Create(_ context.Context, in *intake.Intake) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if in.ID == uuid.Nil {
		in.ID = uuid.New()
	}
	cp := *in
	m.intakes[in.ID] = &cp
	return nil
}

func (m *mockIntakeRepo) GetByID(_ context.Context, id uuid.UUID) (*intake.Intake, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	in, ok := m.intakes[id]
	if !ok {
		return nil, intake.ErrNotFound
	}
	cp := *in
	return &cp, nil
}

func (m *mockIntakeRepo) ListByStatus(_ context.Context, status intake.Status, limit, offset int) ([]*intake.Intake, int, error) {
	return nil, 0, nil
}

func (m *mockIntakeRepo) UpdateStatus(_ context.Context, id uuid.UUID, from []intake.Status, to intake.Status, previous *intake.Status) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	in, ok := m.intakes[id]
	if !ok {
		return false, nil
	}
	for _, f := range from {
		if in.Status == f {
			in.Status = to
			in.PreviousStatus = previous
			return true, nil
		}
	}
	return false, nil
}

func (m *mockIntakeRepo) SetLock(_ context.Context, id uuid.UUID, reviewerID, reviewerName string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	in, ok := m.intakes[id]
	if !ok {
		return intake.ErrNotFound
	}
	in.ReviewerID = &reviewerID
	in.ReviewerName = reviewerName
	in.LockedAt = &at
	return nil
}

func (m *mockIntakeRepo) RefreshLock(_ context.Context, id uuid.UUID, reviewerID string, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	in, ok := m.intakes[id]
	if !ok || in.ReviewerID == nil || *in.ReviewerID != reviewerID {
		return false, nil
	}
	in.LockedAt = &at
	return true, nil
}

func (m *mockIntakeRepo) ClearLock(_ context.Context, id uuid.UUID, reviewerID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	in, ok := m.intakes[id]
	if !ok || in.ReviewerID == nil || *in.ReviewerID != reviewerID {
		return false, nil
	}
	in.ReviewerID = nil
	in.ReviewerName = ""
	in.LockedAt = nil
	return true, nil
}

func (m *mockIntakeRepo) SetReviewer(_ context.Context, id uuid.UUID, reviewerID, reviewerName string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	in, ok := m.intakes[id]
	if !ok {
		return intake.ErrNotFound
	}
	in.ReviewerID = &reviewerID
	in.ReviewerName = reviewerName
	return nil
}

func (m *mockIntakeRepo) Anonymize(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	in, ok := m.intakes[id]
	if !ok {
		return intake.ErrNotFound
	}
	in.PatientName = ""
	in.PatientEmail = ""
	in.Anonymized = true
	return nil
}

type mockCertRepo struct {
	mu    sync.Mutex
	certs map[uuid.UUID]*certificate.Certificate
}

func newMockCertRepo() *mockCertRepo {
	return &mockCertRepo{certs: make(map[uuid.UUID]*certificate.Certificate)}
}

func (m *mockCertRepo) Create(_ context.Context, c *certificate.Certificate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	c.CreatedAt = time.Now().UTC()
	cp := *c
	m.certs[c.ID] = &cp
	return nil
}

func (m *mockCertRepo) GetByID(_ context.Context, id uuid.UUID) (*certificate.Certificate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.certs[id]
	if !ok {
		return nil, certificate.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (m *mockCertRepo) GetByVerificationCode(_ context.Context, code string) (*certificate.Certificate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.certs {
		if c.VerificationCode == code {
			cp := *c
			return &cp, nil
		}
	}
	return nil, certificate.ErrNotFound
}

func (m *mockCertRepo) FindValidByRequest(_ context.Context, requestID uuid.UUID) (*certificate.Certificate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.certs {
		if c.RequestID == requestID && c.Status == certificate.StatusValid {
			cp := *c
			return &cp, nil
		}
	}
	return nil, certificate.ErrNotFound
}

func (m *mockCertRepo) ListByRequest(_ context.Context, requestID uuid.UUID) ([]*certificate.Certificate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*certificate.Certificate
	for _, c := range m.certs {
		if c.RequestID == requestID {
			cp := *c
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *mockCertRepo) MarkSuperseded(_ context.Context, id uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.certs[id]
	if !ok || c.Status != certificate.StatusValid {
		return false, nil
	}
	now := time.Now().UTC()
	c.Status = certificate.StatusSuperseded
	c.SupersededAt = &now
	return true, nil
}

func (m *mockCertRepo) UpdateEmailStatus(_ context.Context, id uuid.UUID, status certificate.EmailStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.certs[id]
	if !ok {
		return certificate.ErrNotFound
	}
	c.EmailStatus = status
	return nil
}

func (m *mockCertRepo) IncrementEmailRetry(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.certs[id]
	if !ok {
		return certificate.ErrNotFound
	}
	c.EmailRetryCount++
	return nil
}

func (m *mockCertRepo) byStatus(requestID uuid.UUID, status certificate.Status) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.certs {
		if c.RequestID == requestID && c.Status == status {
			n++
		}
	}
	return n
}

type draftKey struct {
	requestID uuid.UUID
	docType   string
}

type mockDraftRepo struct {
	mu     sync.Mutex
	drafts map[draftKey]*Draft
}

func newMockDraftRepo() *mockDraftRepo {
	return &mockDraftRepo{drafts: make(map[draftKey]*Draft)}
}

func (m *mockDraftRepo) Upsert(_ context.Context, d *Draft) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	cp := *d
	m.drafts[draftKey{d.RequestID, d.DocType}] = &cp
	return nil
}

func (m *mockDraftRepo) GetByRequest(_ context.Context, requestID uuid.UUID, docType string) (*Draft, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.drafts[draftKey{requestID, docType}]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *d
	return &cp, nil
}

type mockDocRepo struct {
	mu   sync.Mutex
	docs []*GeneratedDocument
}

func (m *mockDocRepo) Insert(_ context.Context, doc *GeneratedDocument) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if doc.ID == uuid.Nil {
		doc.ID = uuid.New()
	}
	doc.CreatedAt = time.Now().UTC()
	cp := *doc
	m.docs = append(m.docs, &cp)
	return nil
}

func (m *mockDocRepo) GetLatest(_ context.Context, requestID uuid.UUID, docType string) (*GeneratedDocument, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.docs) - 1; i >= 0; i-- {
		if m.docs[i].RequestID == requestID && m.docs[i].DocType == docType {
			cp := *m.docs[i]
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

type mailerCall struct {
	requestID     uuid.UUID
	certificateID *uuid.UUID
	templateID    string
	recipient     string
}

type mockMailer struct {
	mu    sync.Mutex
	calls []mailerCall
}

func (m *mockMailer) Enqueue(_ context.Context, requestID uuid.UUID, templateID, recipient string, _ map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, mailerCall{requestID: requestID, templateID: templateID, recipient: recipient})
	return nil
}

func (m *mockMailer) EnqueueCertificate(_ context.Context, requestID, certificateID uuid.UUID, templateID, recipient string, _ map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, mailerCall{requestID: requestID, certificateID: &certificateID, templateID: templateID, recipient: recipient})
	return nil
}

type retryCall struct {
	requestID uuid.UUID
	docType   string
}

type mockRetries struct {
	mu    sync.Mutex
	calls []retryCall
}

func (m *mockRetries) QueueRetry(_ context.Context, requestID uuid.UUID, docType string, _ error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, retryCall{requestID, docType})
	return nil
}

type auditCall struct {
	eventType string
	subjectID uuid.UUID
}

type mockAudit struct {
	mu     sync.Mutex
	events []auditCall
}

func (m *mockAudit) Record(_ context.Context, eventType, _ string, subjectID uuid.UUID, _, _ string, _ map[string]interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, auditCall{eventType, subjectID})
}

func (m *mockAudit) count(eventType string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, e := range m.events {
		if e.eventType == eventType {
			n++
		}
	}
	return n
}

type mockAttestRecordRepo struct {
	mu   sync.Mutex
	recs []*attestation.Record
}

func (m *mockAttestRecordRepo) Insert(_ context.Context, rec *attestation.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	cp := *rec
	m.recs = append(m.recs, &cp)
	return nil
}

func (m *mockAttestRecordRepo) GetByID(_ context.Context, id uuid.UUID) (*attestation.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.recs {
		if r.ID == id {
			cp := *r
			return &cp, nil
		}
	}
	return nil, attestation.ErrNotFound
}

func (m *mockAttestRecordRepo) ListByRequest(_ context.Context, requestID uuid.UUID) ([]*attestation.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*attestation.Record
	for _, r := range m.recs {
		if r.RequestID == requestID {
			cp := *r
			out = append(out, &cp)
		}
	}
	return out, nil
}

type mockDateChangeRepo struct {
	mu   sync.Mutex
	reqs map[uuid.UUID]*attestation.DateChangeRequest
}

func newMockDateChangeRepo() *mockDateChangeRepo {
	return &mockDateChangeRepo{reqs: make(map[uuid.UUID]*attestation.DateChangeRequest)}
}

func (m *mockDateChangeRepo) Create(_ context.Context, req *attestation.DateChangeRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if req.ID == uuid.Nil {
		req.ID = uuid.New()
	}
	cp := *req
	m.reqs[req.ID] = &cp
	return nil
}

func (m *mockDateChangeRepo) GetByID(_ context.Context, id uuid.UUID) (*attestation.DateChangeRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	req, ok := m.reqs[id]
	if !ok {
		return nil, attestation.ErrNotFound
	}
	cp := *req
	return &cp, nil
}

func (m *mockDateChangeRepo) ListByRequest(_ context.Context, requestID uuid.UUID) ([]*attestation.DateChangeRequest, error) {
	return nil, nil
}

func (m *mockDateChangeRepo) FindApproved(_ context.Context, requestID uuid.UUID, requestedDate time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, req := range m.reqs {
		if req.RequestID == requestID && req.Status == attestation.DateChangeApproved &&
			req.RequestedDate.Truncate(24*time.Hour).Equal(requestedDate.Truncate(24*time.Hour)) {
			return true, nil
		}
	}
	return false, nil
}

func (m *mockDateChangeRepo) Decide(_ context.Context, id uuid.UUID, status attestation.DateChangeStatus, decidedBy string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	req, ok := m.reqs[id]
	if !ok || req.Status != attestation.DateChangePending {
		return false, nil
	}
	req.Status = status
	return true, nil
}
