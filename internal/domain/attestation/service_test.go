package attestation

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/medcert/medcert/internal/domain/auditevent"
)

type mockRecordRepo struct {
	mu   sync.Mutex
	recs map[uuid.UUID]*Record
}

func newMockRecordRepo() *mockRecordRepo {
	return &mockRecordRepo{recs: make(map[uuid.UUID]*Record)}
}

func (m *mockRecordRepo) Insert(_ context.Context, rec *Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	rec.CreatedAt = time.Now().UTC()
	cp := *rec
	m.recs[rec.ID] = &cp
	return nil
}

func (m *mockRecordRepo) GetByID(_ context.Context, id uuid.UUID) (*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.recs[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *rec
	return &cp, nil
}

func (m *mockRecordRepo) ListByRequest(_ context.Context, requestID uuid.UUID) ([]*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Record
	for _, rec := range m.recs {
		if rec.RequestID == requestID {
			cp := *rec
			out = append(out, &cp)
		}
	}
	return out, nil
}

type mockDateChangeRepo struct {
	mu   sync.Mutex
	reqs map[uuid.UUID]*DateChangeRequest
}

func newMockDateChangeRepo() *mockDateChangeRepo {
	return &mockDateChangeRepo{reqs: make(map[uuid.UUID]*DateChangeRequest)}
}

func (m *mockDateChangeRepo) Create(_ context.Context, req *DateChangeRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if req.ID == uuid.Nil {
		req.ID = uuid.New()
	}
	req.CreatedAt = time.Now().UTC()
	cp := *req
	m.reqs[req.ID] = &cp
	return nil
}

func (m *mockDateChangeRepo) GetByID(_ context.Context, id uuid.UUID) (*DateChangeRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	req, ok := m.reqs[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *req
	return &cp, nil
}

func (m *mockDateChangeRepo) ListByRequest(_ context.Context, requestID uuid.UUID) ([]*DateChangeRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*DateChangeRequest
	for _, req := range m.reqs {
		if req.RequestID == requestID {
			cp := *req
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *mockDateChangeRepo) FindApproved(_ context.Context, requestID uuid.UUID, requestedDate time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, req := range m.reqs {
		if req.RequestID == requestID && req.Status == DateChangeApproved &&
			req.RequestedDate.Truncate(24*time.Hour).Equal(requestedDate.Truncate(24*time.Hour)) {
			return true, nil
		}
	}
	return false, nil
}

func (m *mockDateChangeRepo) Decide(_ context.Context, id uuid.UUID, status DateChangeStatus, decidedBy string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	req, ok := m.reqs[id]
	if !ok || req.Status != DateChangePending {
		return false, nil
	}
	now := time.Now().UTC()
	req.Status = status
	req.DecidedBy = &decidedBy
	req.DecidedAt = &now
	return true, nil
}

type mockAudit struct {
	mu     sync.Mutex
	events []string
}

func (m *mockAudit) Record(_ context.Context, eventType, _ string, _ uuid.UUID, _, _ string, _ map[string]interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, eventType)
}

func (m *mockAudit) has(eventType string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.events {
		if e == eventType {
			return true
		}
	}
	return false
}

func newTestService() (*Service, *mockRecordRepo, *mockDateChangeRepo, *mockAudit) {
	recs := newMockRecordRepo()
	dcs := newMockDateChangeRepo()
	audit := &mockAudit{}
	return NewService(recs, dcs, audit, zerolog.Nop()), recs, dcs, audit
}

func TestSubmitAttestation(t *testing.T) {
	svc, recs, _, _ := newTestService()
	now := time.Now().UTC()

	rec := validRecord(now)
	if err := svc.SubmitAttestation(context.Background(), &rec, "Dr Maria Chen"); err != nil {
		t.Fatalf("SubmitAttestation: %v", err)
	}
	if len(recs.recs) != 1 {
		t.Errorf("stored records = %d, want 1", len(recs.recs))
	}

	bad := validRecord(now)
	bad.TypedName = "Impostor"
	if err := svc.SubmitAttestation(context.Background(), &bad, "Dr Maria Chen"); err == nil {
		t.Error("expected rejection of mismatched name")
	}
	if len(recs.recs) != 1 {
		t.Error("rejected attestation must not be stored")
	}
}

func TestHasAttestation(t *testing.T) {
	svc, _, _, _ := newTestService()
	ctx := context.Background()
	now := time.Now().UTC()

	rec := validRecord(now)
	if err := svc.SubmitAttestation(ctx, &rec, "Dr Maria Chen"); err != nil {
		t.Fatal(err)
	}

	ok, err := svc.HasAttestation(ctx, rec.RequestID, DeclApproval)
	if err != nil || !ok {
		t.Errorf("HasAttestation = %v, %v; want true", ok, err)
	}
	ok, _ = svc.HasAttestation(ctx, rec.RequestID, DeclRegeneration)
	if ok {
		t.Error("should not find a regeneration declaration")
	}

	// An attestation older than the window is stale.
	svc.now = func() time.Time { return now.Add(AttestationWindow + time.Minute) }
	ok, _ = svc.HasAttestation(ctx, rec.RequestID, DeclApproval)
	if ok {
		t.Error("stale attestation should not count")
	}
}

func TestRequestDateChange(t *testing.T) {
	svc, _, _, audit := newTestService()
	ctx := context.Background()
	base := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	reqID := uuid.New()

	// Backdating and auto-allowed moves never enter the queue.
	err := svc.RequestDateChange(ctx, &DateChangeRequest{
		RequestID: reqID, OriginalDate: base, RequestedDate: base.AddDate(0, 0, -1),
	})
	if err == nil {
		t.Error("backdating request should be refused")
	}
	err = svc.RequestDateChange(ctx, &DateChangeRequest{
		RequestID: reqID, OriginalDate: base, RequestedDate: base.AddDate(0, 0, 1),
	})
	if err == nil {
		t.Error("auto-allowed move should be refused from the queue")
	}

	req := &DateChangeRequest{
		RequestID: reqID, OriginalDate: base, RequestedDate: base.AddDate(0, 0, 5),
		Reason: "patient surgery postponed", RequestedBy: "doc-1",
	}
	if err := svc.RequestDateChange(ctx, req); err != nil {
		t.Fatalf("RequestDateChange: %v", err)
	}
	if req.Status != DateChangePending {
		t.Errorf("status = %s, want pending", req.Status)
	}
	if !audit.has(auditevent.TypeDateChangeRequested) {
		t.Error("expected date_change_requested audit event")
	}
}

func TestDecideDateChange(t *testing.T) {
	svc, _, dcs, audit := newTestService()
	ctx := context.Background()
	base := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	reqID := uuid.New()

	req := &DateChangeRequest{
		RequestID: reqID, OriginalDate: base, RequestedDate: base.AddDate(0, 0, 5),
		RequestedBy: "doc-1",
	}
	if err := svc.RequestDateChange(ctx, req); err != nil {
		t.Fatal(err)
	}

	if err := svc.DecideDateChange(ctx, req.ID, true, "admin-1", "admin"); err != nil {
		t.Fatalf("DecideDateChange: %v", err)
	}
	got, _ := dcs.GetByID(ctx, req.ID)
	if got.Status != DateChangeApproved {
		t.Errorf("status = %s, want approved", got.Status)
	}
	if !audit.has(auditevent.TypeDateChangeDecided) {
		t.Error("expected date_change_decided audit event")
	}

	// A second decision finds nothing pending.
	if err := svc.DecideDateChange(ctx, req.ID, false, "admin-2", "admin"); err == nil {
		t.Error("expected error deciding an already-decided request")
	}
}

func TestCheckDateChange(t *testing.T) {
	svc, _, _, _ := newTestService()
	ctx := context.Background()
	base := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	reqID := uuid.New()

	ok, _ := svc.CheckDateChange(ctx, reqID, base, base.AddDate(0, 0, -2))
	if ok {
		t.Error("backdate must be denied")
	}
	ok, _ = svc.CheckDateChange(ctx, reqID, base, base.AddDate(0, 0, 1))
	if !ok {
		t.Error("one-day forward should pass without approval")
	}
	ok, _ = svc.CheckDateChange(ctx, reqID, base, base.AddDate(0, 0, 5))
	if ok {
		t.Error("five-day forward should need approval")
	}

	req := &DateChangeRequest{
		RequestID: reqID, OriginalDate: base, RequestedDate: base.AddDate(0, 0, 5),
		RequestedBy: "doc-1",
	}
	if err := svc.RequestDateChange(ctx, req); err != nil {
		t.Fatal(err)
	}
	if err := svc.DecideDateChange(ctx, req.ID, true, "admin-1", "admin"); err != nil {
		t.Fatal(err)
	}

	ok, _ = svc.CheckDateChange(ctx, reqID, base, base.AddDate(0, 0, 5))
	if !ok {
		t.Error("approved request should unlock the move")
	}
}
