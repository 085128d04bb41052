package retryqueue

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/medcert/medcert/internal/platform/alerting"
)

// Regenerator re-runs document generation for a request. The issuance
// workflow provides the implementation; the sweep only drives it.
type Regenerator interface {
	Regenerate(ctx context.Context, requestID uuid.UUID, docType string) error
}

// Sweeper owns the full retry ticket lifecycle: enqueue on failure, the
// periodic due-ticket pass, and the permanent-failure escalation.
type Sweeper struct {
	repo   Repository
	regen  Regenerator
	alerts alerting.Alerter
	logger zerolog.Logger
	now    func() time.Time
}

func NewSweeper(repo Repository, regen Regenerator, alerts alerting.Alerter, logger zerolog.Logger) *Sweeper {
	return &Sweeper{
		repo:   repo,
		regen:  regen,
		alerts: alerts,
		logger: logger.With().Str("component", "retry_sweep").Logger(),
		now:    time.Now,
	}
}

// QueueRetry records the first failure for (request, docType) and schedules
// the first retry. Called from the automated regeneration path only;
// interactive callers see their error synchronously instead.
func (s *Sweeper) QueueRetry(ctx context.Context, requestID uuid.UUID, docType string, cause error) error {
	t := &Ticket{
		RequestID:   requestID,
		DocType:     docType,
		Status:      StatusPending,
		Attempts:    1,
		LastError:   cause.Error(),
		NextRetryAt: s.now().UTC().Add(Backoff(1)),
	}
	if err := s.repo.Upsert(ctx, t); err != nil {
		return err
	}
	s.logger.Warn().
		Str("request_id", requestID.String()).
		Str("doc_type", docType).
		Err(cause).
		Time("next_retry_at", t.NextRetryAt).
		Msg("generation failed, retry queued")
	return nil
}

// sweepBatchSize bounds one pass; the next pass picks up the rest.
const sweepBatchSize = 50

// staleClaimAge is how long a ticket may sit in processing before the sweep
// assumes its worker died and returns it to the queue. Generously above any
// plausible generation time, so a live worker is never preempted.
const staleClaimAge = 10 * time.Minute

// Sweep runs one pass over due tickets. Tickets orphaned in processing by a
// crashed worker are requeued first. Each due ticket is then activated with
// a conditional update so concurrent sweeps never double-process; losing the
// race is not an error. Returns the number of tickets attempted.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	now := s.now().UTC()

	requeued, err := s.repo.RequeueStale(ctx, now.Add(-staleClaimAge))
	if err != nil {
		s.logger.Error().Err(err).Msg("stale ticket requeue failed")
	} else if requeued > 0 {
		s.logger.Warn().Int("count", requeued).Msg("stale processing tickets requeued")
	}

	due, err := s.repo.ListDue(ctx, now, sweepBatchSize)
	if err != nil {
		return 0, err
	}

	attempted := 0
	for _, t := range due {
		won, err := s.repo.MarkInProgress(ctx, t.RequestID, t.DocType)
		if err != nil {
			s.logger.Error().Err(err).Str("request_id", t.RequestID.String()).Msg("ticket activation failed")
			continue
		}
		if !won {
			continue
		}
		attempted++
		s.process(ctx, t)
	}
	return attempted, nil
}

func (s *Sweeper) process(ctx context.Context, t *Ticket) {
	err := s.regen.Regenerate(ctx, t.RequestID, t.DocType)
	if err == nil {
		if err := s.repo.MarkSuccess(ctx, t.RequestID, t.DocType); err != nil {
			s.logger.Error().Err(err).Str("request_id", t.RequestID.String()).Msg("mark success failed")
		}
		s.logger.Info().
			Str("request_id", t.RequestID.String()).
			Str("doc_type", t.DocType).
			Int("attempt", t.Attempts+1).
			Msg("retry succeeded")
		return
	}

	failedAttempt := t.Attempts + 1
	permanent := failedAttempt >= MaxRetries
	next := s.now().UTC().Add(Backoff(failedAttempt))

	if mfErr := s.repo.MarkFailure(ctx, t.RequestID, t.DocType, err.Error(), next, permanent); mfErr != nil {
		s.logger.Error().Err(mfErr).Str("request_id", t.RequestID.String()).Msg("mark failure failed")
		return
	}

	if permanent {
		s.alerts.CaptureMessage(
			"certificate generation permanently failed",
			alerting.SeverityCritical,
			map[string]string{
				"request_id": t.RequestID.String(),
				"doc_type":   t.DocType,
			},
			map[string]interface{}{
				"attempts":   failedAttempt,
				"last_error": err.Error(),
			},
		)
		s.logger.Error().
			Str("request_id", t.RequestID.String()).
			Str("doc_type", t.DocType).
			Int("attempts", failedAttempt).
			Err(err).
			Msg("retry exhausted, manual action required")
		return
	}

	s.logger.Warn().
		Str("request_id", t.RequestID.String()).
		Str("doc_type", t.DocType).
		Int("attempt", failedAttempt).
		Time("next_retry_at", next).
		Err(err).
		Msg("retry failed, rescheduled")
}

// ListPermanentlyFailed feeds the operator escalation view.
func (s *Sweeper) ListPermanentlyFailed(ctx context.Context, limit, offset int) ([]*Ticket, int, error) {
	return s.repo.ListPermanentlyFailed(ctx, limit, offset)
}
