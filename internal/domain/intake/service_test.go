package intake

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/medcert/medcert/internal/domain/auditevent"
)

type mockIntakeRepo struct {
	mu      sync.Mutex
	intakes map[uuid.UUID]*Intake

	failGet  error
	failLock error
}

func newMockIntakeRepo() *mockIntakeRepo {
	return &mockIntakeRepo{intakes: make(map[uuid.UUID]*Intake)}
}

func (m *mockIntakeRepo) Create(_ context.Context, in *Intake) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if in.ID == uuid.Nil {
		in.ID = uuid.New()
	}
	in.CreatedAt = time.Now().UTC()
	cp := *in
	m.intakes[in.ID] = &cp
	return nil
}

func (m *mockIntakeRepo) GetByID(_ context.Context, id uuid.UUID) (*Intake, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failGet != nil {
		return nil, m.failGet
	}
	in, ok := m.intakes[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *in
	return &cp, nil
}

func (m *mockIntakeRepo) ListByStatus(_ context.Context, status Status, limit, offset int) ([]*Intake, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Intake
	for _, in := range m.intakes {
		if in.Status == status {
			cp := *in
			out = append(out, &cp)
		}
	}
	return out, len(out), nil
}

func (m *mockIntakeRepo) UpdateStatus(_ context.Context, id uuid.UUID, from []Status, to Status, previous *Status) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	in, ok := m.intakes[id]
	if !ok {
		return false, nil
	}
	matched := false
	for _, f := range from {
		if in.Status == f {
			matched = true
		}
	}
	if !matched {
		return false, nil
	}
	in.Status = to
	in.PreviousStatus = previous
	return true, nil
}

func (m *mockIntakeRepo) SetLock(_ context.Context, id uuid.UUID, reviewerID, reviewerName string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failLock != nil {
		return m.failLock
	}
	in, ok := m.intakes[id]
	if !ok {
		return ErrNotFound
	}
	in.ReviewerID = &reviewerID
	in.ReviewerName = reviewerName
	in.LockedAt = &at
	return nil
}

func (m *mockIntakeRepo) RefreshLock(_ context.Context, id uuid.UUID, reviewerID string, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failLock != nil {
		return false, m.failLock
	}
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
	if m.failLock != nil {
		return false, m.failLock
	}
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
		return ErrNotFound
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
		return ErrNotFound
	}
	in.PatientName = ""
	in.PatientEmail = ""
	in.Answers = Answers{Type: in.Answers.Type}
	in.Anonymized = true
	return nil
}

type recordedEvent struct {
	eventType string
	subjectID uuid.UUID
}

type mockAudit struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (m *mockAudit) Record(_ context.Context, eventType, _ string, subjectID uuid.UUID, _, _ string, _ map[string]interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, recordedEvent{eventType: eventType, subjectID: subjectID})
}

func (m *mockAudit) has(eventType string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.events {
		if e.eventType == eventType {
			return true
		}
	}
	return false
}

type mockEnqueuer struct {
	mu    sync.Mutex
	calls []string // template IDs
	fail  error
}

func (m *mockEnqueuer) Enqueue(_ context.Context, _ uuid.UUID, templateID, _ string, _ map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail != nil {
		return m.fail
	}
	m.calls = append(m.calls, templateID)
	return nil
}

func strPtr(s string) *string { return &s }

func workIntake() *Intake {
	return &Intake{
		PatientID:    uuid.New(),
		PatientName:  "Ada Lovelace",
		PatientEmail: "ada@example.com",
		CertType:     CertTypeWork,
		Answers: Answers{
			Type:     CertTypeWork,
			Symptoms: []string{"fever"},
			Employer: strPtr("Analytical Engines Ltd"),
		},
		StartDate: time.Now().UTC(),
		EndDate:   time.Now().UTC().Add(48 * time.Hour),
	}
}

func newTestService(repo *mockIntakeRepo) (*Service, *mockAudit, *mockEnqueuer) {
	audit := &mockAudit{}
	outbox := &mockEnqueuer{}
	return NewService(repo, audit, outbox, zerolog.Nop()), audit, outbox
}

func TestCreateIntake(t *testing.T) {
	repo := newMockIntakeRepo()
	svc, _, _ := newTestService(repo)

	in := workIntake()
	if err := svc.CreateIntake(context.Background(), in); err != nil {
		t.Fatalf("CreateIntake: %v", err)
	}
	if in.Status != StatusDraft {
		t.Errorf("status = %s, want draft", in.Status)
	}
	if in.ID == uuid.Nil {
		t.Error("expected generated id")
	}
}

func TestCreateIntakeValidation(t *testing.T) {
	repo := newMockIntakeRepo()
	svc, _, _ := newTestService(repo)

	cases := []struct {
		name   string
		mutate func(*Intake)
	}{
		{"missing patient", func(in *Intake) { in.PatientID = uuid.Nil }},
		{"missing email", func(in *Intake) { in.PatientEmail = "" }},
		{"type mismatch", func(in *Intake) { in.CertType = CertTypeStudy }},
		{"missing employer", func(in *Intake) { in.Answers.Employer = nil }},
		{"no symptoms", func(in *Intake) { in.Answers.Symptoms = nil }},
		{"end before start", func(in *Intake) { in.EndDate = in.StartDate.Add(-time.Hour) }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			in := workIntake()
			tc.mutate(in)
			if err := svc.CreateIntake(context.Background(), in); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestMarkPaidGuard(t *testing.T) {
	repo := newMockIntakeRepo()
	svc, _, _ := newTestService(repo)

	in := workIntake()
	if err := svc.CreateIntake(context.Background(), in); err != nil {
		t.Fatal(err)
	}
	if err := svc.MarkPaid(context.Background(), in.ID); err != nil {
		t.Fatalf("MarkPaid: %v", err)
	}
	// Second payment confirmation must not re-fire the transition.
	if err := svc.MarkPaid(context.Background(), in.ID); err == nil {
		t.Error("expected guard failure on repeated MarkPaid")
	}
}

func TestStartReviewAssignsReviewer(t *testing.T) {
	repo := newMockIntakeRepo()
	svc, _, _ := newTestService(repo)

	in := workIntake()
	ctx := context.Background()
	if err := svc.CreateIntake(ctx, in); err != nil {
		t.Fatal(err)
	}
	if err := svc.MarkPaid(ctx, in.ID); err != nil {
		t.Fatal(err)
	}
	if err := svc.StartReview(ctx, in.ID, "doc-1", "Dr Chen"); err != nil {
		t.Fatalf("StartReview: %v", err)
	}

	got, _ := repo.GetByID(ctx, in.ID)
	if got.Status != StatusInReview {
		t.Errorf("status = %s, want in_review", got.Status)
	}
	if got.ReviewerID == nil || *got.ReviewerID != "doc-1" {
		t.Errorf("reviewer = %v, want doc-1", got.ReviewerID)
	}
}

func TestRequestInfoAndResume(t *testing.T) {
	repo := newMockIntakeRepo()
	svc, audit, outbox := newTestService(repo)

	in := workIntake()
	ctx := context.Background()
	if err := svc.CreateIntake(ctx, in); err != nil {
		t.Fatal(err)
	}
	if err := svc.MarkPaid(ctx, in.ID); err != nil {
		t.Fatal(err)
	}
	if err := svc.StartReview(ctx, in.ID, "doc-1", "Dr Chen"); err != nil {
		t.Fatal(err)
	}

	if err := svc.RequestInfo(ctx, in.ID, "doc-1", "doctor", "please confirm onset date"); err != nil {
		t.Fatalf("RequestInfo: %v", err)
	}
	got, _ := repo.GetByID(ctx, in.ID)
	if got.Status != StatusPendingInfo {
		t.Errorf("status = %s, want pending_info", got.Status)
	}
	if got.PreviousStatus == nil || *got.PreviousStatus != StatusInReview {
		t.Errorf("previous status = %v, want in_review", got.PreviousStatus)
	}
	if !audit.has(auditevent.TypeInfoRequested) {
		t.Error("expected info_requested audit event")
	}
	if len(outbox.calls) != 1 || outbox.calls[0] != "info-requested" {
		t.Errorf("outbox calls = %v, want [info-requested]", outbox.calls)
	}

	// A second request while already parked is rejected.
	if err := svc.RequestInfo(ctx, in.ID, "doc-1", "doctor", "again"); err == nil {
		t.Error("expected error on RequestInfo outside review")
	}

	if err := svc.ResumeReview(ctx, in.ID, "pt-1", "patient"); err != nil {
		t.Fatalf("ResumeReview: %v", err)
	}
	got, _ = repo.GetByID(ctx, in.ID)
	if got.Status != StatusInReview {
		t.Errorf("status after resume = %s, want in_review", got.Status)
	}
	if !audit.has(auditevent.TypeReviewResumed) {
		t.Error("expected review_resumed audit event")
	}
}

func TestRequestInfoOutboxFailureIsNonFatal(t *testing.T) {
	repo := newMockIntakeRepo()
	svc, _, outbox := newTestService(repo)
	outbox.fail = errors.New("outbox down")

	in := workIntake()
	ctx := context.Background()
	if err := svc.CreateIntake(ctx, in); err != nil {
		t.Fatal(err)
	}
	if err := svc.MarkPaid(ctx, in.ID); err != nil {
		t.Fatal(err)
	}
	if err := svc.StartReview(ctx, in.ID, "doc-1", "Dr Chen"); err != nil {
		t.Fatal(err)
	}
	if err := svc.RequestInfo(ctx, in.ID, "doc-1", "doctor", "msg"); err != nil {
		t.Fatalf("RequestInfo should succeed despite outbox failure: %v", err)
	}
}

func TestAnonymize(t *testing.T) {
	repo := newMockIntakeRepo()
	svc, audit, _ := newTestService(repo)

	in := workIntake()
	ctx := context.Background()
	if err := svc.CreateIntake(ctx, in); err != nil {
		t.Fatal(err)
	}

	// Open cases cannot be anonymized.
	if err := svc.Anonymize(ctx, in.ID, "admin-1", "admin"); err == nil {
		t.Error("expected error anonymizing open case")
	}

	repo.intakes[in.ID].Status = StatusDeclined
	if err := svc.Anonymize(ctx, in.ID, "admin-1", "admin"); err != nil {
		t.Fatalf("Anonymize: %v", err)
	}
	got, _ := repo.GetByID(ctx, in.ID)
	if !got.Anonymized || got.PatientName != "" || got.PatientEmail != "" {
		t.Errorf("PHI not stripped: %+v", got)
	}
	if !audit.has(auditevent.TypeAnonymized) {
		t.Error("expected anonymized audit event")
	}
}
