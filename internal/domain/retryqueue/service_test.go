package retryqueue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/medcert/medcert/internal/platform/alerting"
)

type ticketKey struct {
	requestID uuid.UUID
	docType   string
}

type mockTicketRepo struct {
	mu      sync.Mutex
	tickets map[ticketKey]*Ticket
}

func newMockTicketRepo() *mockTicketRepo {
	return &mockTicketRepo{tickets: make(map[ticketKey]*Ticket)}
}

func (m *mockTicketRepo) Upsert(_ context.Context, t *Ticket) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := ticketKey{t.RequestID, t.DocType}
	if existing, ok := m.tickets[key]; ok {
		if existing.Status == StatusPermanentlyFailed {
			return nil
		}
		if existing.Status == StatusCompleted {
			existing.Attempts = t.Attempts
		}
		existing.Status = t.Status
		existing.LastError = t.LastError
		existing.NextRetryAt = t.NextRetryAt
		return nil
	}
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	cp := *t
	m.tickets[key] = &cp
	return nil
}

func (m *mockTicketRepo) Get(_ context.Context, requestID uuid.UUID, docType string) (*Ticket, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tickets[ticketKey{requestID, docType}]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (m *mockTicketRepo) ListDue(_ context.Context, now time.Time, limit int) ([]*Ticket, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Ticket
	for _, t := range m.tickets {
		if t.Status == StatusPending && !t.NextRetryAt.After(now) {
			cp := *t
			out = append(out, &cp)
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func (m *mockTicketRepo) MarkInProgress(_ context.Context, requestID uuid.UUID, docType string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tickets[ticketKey{requestID, docType}]
	if !ok || t.Status != StatusPending {
		return false, nil
	}
	t.Status = StatusProcessing
	t.UpdatedAt = time.Now().UTC()
	return true, nil
}

func (m *mockTicketRepo) RequeueStale(_ context.Context, olderThan time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, t := range m.tickets {
		if t.Status == StatusProcessing && t.UpdatedAt.Before(olderThan) {
			t.Status = StatusPending
			t.UpdatedAt = time.Now().UTC()
			n++
		}
	}
	return n, nil
}

func (m *mockTicketRepo) MarkSuccess(_ context.Context, requestID uuid.UUID, docType string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tickets[ticketKey{requestID, docType}]
	if !ok {
		return ErrNotFound
	}
	t.Status = StatusCompleted
	return nil
}

func (m *mockTicketRepo) MarkFailure(_ context.Context, requestID uuid.UUID, docType, lastErr string, nextRetryAt time.Time, permanent bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tickets[ticketKey{requestID, docType}]
	if !ok {
		return ErrNotFound
	}
	t.Attempts++
	t.LastError = lastErr
	t.NextRetryAt = nextRetryAt
	if permanent {
		t.Status = StatusPermanentlyFailed
	} else {
		t.Status = StatusPending
	}
	return nil
}

func (m *mockTicketRepo) ListPermanentlyFailed(_ context.Context, limit, offset int) ([]*Ticket, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Ticket
	for _, t := range m.tickets {
		if t.Status == StatusPermanentlyFailed {
			cp := *t
			out = append(out, &cp)
		}
	}
	return out, len(out), nil
}

type mockRegen struct {
	mu       sync.Mutex
	failures int // fail this many calls before succeeding
	calls    int
}

func (m *mockRegen) Regenerate(_ context.Context, _ uuid.UUID, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.calls <= m.failures {
		return errors.New("render service unavailable")
	}
	return nil
}

func TestBackoff(t *testing.T) {
	var prev time.Duration
	for attempt := 1; attempt <= MaxRetries; attempt++ {
		d := Backoff(attempt)
		if d < prev {
			t.Errorf("Backoff(%d) = %v, less than previous %v", attempt, d, prev)
		}
		if d > MaxDelay {
			t.Errorf("Backoff(%d) = %v exceeds cap %v", attempt, d, MaxDelay)
		}
		prev = d
	}
	if Backoff(1) != InitialDelay {
		t.Errorf("Backoff(1) = %v, want %v", Backoff(1), InitialDelay)
	}
	if Backoff(2) != 2*InitialDelay {
		t.Errorf("Backoff(2) = %v, want %v", Backoff(2), 2*InitialDelay)
	}
	if Backoff(100) != MaxDelay {
		t.Errorf("Backoff(100) = %v, want cap %v", Backoff(100), MaxDelay)
	}
}

func newTestSweeper(regen *mockRegen) (*Sweeper, *mockTicketRepo, *alerting.MockAlerter) {
	repo := newMockTicketRepo()
	alerts := &alerting.MockAlerter{}
	return NewSweeper(repo, regen, alerts, zerolog.Nop()), repo, alerts
}

func TestQueueRetrySchedulesFirstAttempt(t *testing.T) {
	sw, repo, _ := newTestSweeper(&mockRegen{})
	ctx := context.Background()
	reqID := uuid.New()

	if err := sw.QueueRetry(ctx, reqID, "certificate", errors.New("boom")); err != nil {
		t.Fatalf("QueueRetry: %v", err)
	}
	got, err := repo.Get(ctx, reqID, "certificate")
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != StatusPending || got.Attempts != 1 {
		t.Errorf("ticket = %+v, want pending with 1 attempt", got)
	}
}

func TestSweepRetriesAndCompletes(t *testing.T) {
	regen := &mockRegen{}
	sw, repo, _ := newTestSweeper(regen)
	ctx := context.Background()
	reqID := uuid.New()

	if err := sw.QueueRetry(ctx, reqID, "certificate", errors.New("boom")); err != nil {
		t.Fatal(err)
	}
	sw.now = func() time.Time { return time.Now().Add(2 * InitialDelay) }

	n, err := sw.Sweep(ctx)
	if err != nil || n != 1 {
		t.Fatalf("Sweep = %d, %v; want 1, nil", n, err)
	}
	got, _ := repo.Get(ctx, reqID, "certificate")
	if got.Status != StatusCompleted {
		t.Errorf("status = %s, want completed", got.Status)
	}
}

func TestSweepPermanentFailureAfterMaxRetries(t *testing.T) {
	regen := &mockRegen{failures: 100}
	sw, repo, alerts := newTestSweeper(regen)
	ctx := context.Background()
	reqID := uuid.New()

	if err := sw.QueueRetry(ctx, reqID, "certificate", errors.New("boom")); err != nil {
		t.Fatal(err)
	}

	// Drive the clock far enough forward each pass that the ticket is due.
	offset := time.Duration(0)
	for i := 0; i < 5; i++ {
		offset += MaxDelay + time.Minute
		o := offset
		sw.now = func() time.Time { return time.Now().Add(o) }
		if _, err := sw.Sweep(ctx); err != nil {
			t.Fatal(err)
		}
	}

	got, _ := repo.Get(ctx, reqID, "certificate")
	if got.Status != StatusPermanentlyFailed {
		t.Fatalf("status = %s, want permanently_failed", got.Status)
	}
	if got.Attempts != MaxRetries {
		t.Errorf("attempts = %d, want %d", got.Attempts, MaxRetries)
	}
	// Regenerate was driven MaxRetries-1 times by the sweep (the first
	// attempt failed before the ticket existed); never a 4th.
	if regen.calls != MaxRetries-1 {
		t.Errorf("regenerate calls = %d, want %d", regen.calls, MaxRetries-1)
	}
	if alerts.CriticalCount() != 1 {
		t.Errorf("critical alerts = %d, want 1", alerts.CriticalCount())
	}
}

func TestSweepRequeuesStaleProcessingTicket(t *testing.T) {
	regen := &mockRegen{}
	sw, repo, _ := newTestSweeper(regen)
	ctx := context.Background()

	// A worker claimed the ticket and died before recording an outcome.
	orphaned := uuid.New()
	repo.tickets[ticketKey{orphaned, "certificate"}] = &Ticket{
		ID:          uuid.New(),
		RequestID:   orphaned,
		DocType:     "certificate",
		Status:      StatusProcessing,
		Attempts:    1,
		NextRetryAt: time.Now().UTC().Add(-time.Minute),
		UpdatedAt:   time.Now().UTC().Add(-time.Hour),
	}

	// Another worker is still live on its ticket; it must not be preempted.
	held := uuid.New()
	repo.tickets[ticketKey{held, "certificate"}] = &Ticket{
		ID:          uuid.New(),
		RequestID:   held,
		DocType:     "certificate",
		Status:      StatusProcessing,
		Attempts:    1,
		NextRetryAt: time.Now().UTC().Add(-time.Minute),
		UpdatedAt:   time.Now().UTC(),
	}

	n, err := sw.Sweep(ctx)
	if err != nil || n != 1 {
		t.Fatalf("Sweep = %d, %v; want 1, nil", n, err)
	}
	got, _ := repo.Get(ctx, orphaned, "certificate")
	if got.Status != StatusCompleted {
		t.Errorf("orphaned ticket status = %s, want completed", got.Status)
	}
	got, _ = repo.Get(ctx, held, "certificate")
	if got.Status != StatusProcessing {
		t.Errorf("held ticket status = %s, want processing", got.Status)
	}
	if regen.calls != 1 {
		t.Errorf("regenerate calls = %d, want 1", regen.calls)
	}
}

func TestMarkInProgressSingleWinner(t *testing.T) {
	repo := newMockTicketRepo()
	ctx := context.Background()
	reqID := uuid.New()

	err := repo.Upsert(ctx, &Ticket{
		RequestID: reqID, DocType: "certificate",
		Status: StatusPending, Attempts: 1,
		NextRetryAt: time.Now().Add(-time.Minute),
	})
	if err != nil {
		t.Fatal(err)
	}

	var wins int
	var wg sync.WaitGroup
	var mu sync.Mutex
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			won, err := repo.MarkInProgress(ctx, reqID, "certificate")
			if err != nil {
				t.Error(err)
				return
			}
			if won {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if wins != 1 {
		t.Errorf("winners = %d, want exactly 1", wins)
	}
}

func TestQueueRetryAfterPermanentFailureIsIgnored(t *testing.T) {
	sw, repo, _ := newTestSweeper(&mockRegen{failures: 100})
	ctx := context.Background()
	reqID := uuid.New()

	if err := sw.QueueRetry(ctx, reqID, "certificate", errors.New("boom")); err != nil {
		t.Fatal(err)
	}
	repo.tickets[ticketKey{reqID, "certificate"}].Status = StatusPermanentlyFailed

	if err := sw.QueueRetry(ctx, reqID, "certificate", errors.New("boom again")); err != nil {
		t.Fatal(err)
	}
	got, _ := repo.Get(ctx, reqID, "certificate")
	if got.Status != StatusPermanentlyFailed {
		t.Errorf("permanently failed ticket must stay parked, got %s", got.Status)
	}
}
