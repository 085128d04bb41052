package intake

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ReviewLockTimeout is how long a review lock stays active without a
// heartbeat.
const ReviewLockTimeout = 10 * time.Minute

// LockInfo describes the current lock holder, returned as a conflict warning.
type LockInfo struct {
	ReviewerID   string    `json:"reviewer_id"`
	ReviewerName string    `json:"reviewer_name"`
	LockedAt     time.Time `json:"locked_at"`
}

// LockResult is the outcome of an acquire attempt. Acquired is true even
// under conflict: the lock is advisory and availability of care outweighs
// strict exclusivity. Conflict is set when another clinician's lock was still
// active at acquire time.
type LockResult struct {
	Acquired bool      `json:"acquired"`
	Conflict *LockInfo `json:"conflict,omitempty"`
}

// LockManager owns the review-lock fields on the intake row. It is the only
// writer of those fields. There is deliberately no in-process mutex here; the
// system is multi-process and the row is the single point of coordination.
type LockManager struct {
	repo   Repository
	logger zerolog.Logger
	now    func() time.Time
}

func NewLockManager(repo Repository, logger zerolog.Logger) *LockManager {
	return &LockManager{
		repo:   repo,
		logger: logger.With().Str("component", "review_lock").Logger(),
		now:    time.Now,
	}
}

// Acquire takes the review lock for a clinician. Re-acquiring a lock the
// caller already holds succeeds silently. If another clinician's lock is
// still active the acquisition still succeeds and the holder is returned as
// a conflict warning. Storage errors fail open: review is allowed, the error
// is logged.
func (m *LockManager) Acquire(ctx context.Context, requestID uuid.UUID, clinicianID, clinicianName string) LockResult {
	now := m.now().UTC()

	in, err := m.repo.GetByID(ctx, requestID)
	if err != nil {
		m.logger.Error().Err(err).
			Str("request_id", requestID.String()).
			Str("clinician_id", clinicianID).
			Msg("lock acquire read failed, failing open")
		return LockResult{Acquired: true}
	}

	var conflict *LockInfo
	if in.LockedAt != nil && in.ReviewerID != nil &&
		*in.ReviewerID != clinicianID &&
		now.Sub(*in.LockedAt) < ReviewLockTimeout {
		conflict = &LockInfo{
			ReviewerID:   *in.ReviewerID,
			ReviewerName: in.ReviewerName,
			LockedAt:     *in.LockedAt,
		}
		m.logger.Warn().
			Str("request_id", requestID.String()).
			Str("clinician_id", clinicianID).
			Str("holder_id", conflict.ReviewerID).
			Msg("review lock conflict, proceeding anyway")
	}

	if err := m.repo.SetLock(ctx, requestID, clinicianID, clinicianName, now); err != nil {
		m.logger.Error().Err(err).
			Str("request_id", requestID.String()).
			Str("clinician_id", clinicianID).
			Msg("lock acquire write failed, failing open")
	}

	return LockResult{Acquired: true, Conflict: conflict}
}

// Release clears the lock if the caller holds it, regardless of the intake
// status: a decision must free its own lock rather than leave it to expire.
// A release by a non-holder is a no-op; the holder check alone prevents
// clobbering another clinician's lock. Errors are logged and swallowed.
func (m *LockManager) Release(ctx context.Context, requestID uuid.UUID, clinicianID string) {
	ok, err := m.repo.ClearLock(ctx, requestID, clinicianID)
	if err != nil {
		m.logger.Error().Err(err).
			Str("request_id", requestID.String()).
			Str("clinician_id", clinicianID).
			Msg("lock release failed")
		return
	}
	if !ok {
		m.logger.Debug().
			Str("request_id", requestID.String()).
			Str("clinician_id", clinicianID).
			Msg("lock release skipped: caller is not the holder")
	}
}

// Extend refreshes the lock timestamp as a heartbeat while the clinician
// works the case. Returns false if the caller no longer holds the lock.
func (m *LockManager) Extend(ctx context.Context, requestID uuid.UUID, clinicianID string) bool {
	ok, err := m.repo.RefreshLock(ctx, requestID, clinicianID, m.now().UTC())
	if err != nil {
		m.logger.Error().Err(err).
			Str("request_id", requestID.String()).
			Str("clinician_id", clinicianID).
			Msg("lock extend failed")
		return false
	}
	return ok
}
