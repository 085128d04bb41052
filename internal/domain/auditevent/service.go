package auditevent

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Emitter appends audit events. Record is fire-and-forget: a failed append is
// logged and dropped so audit plumbing can never block a clinical workflow.
type Emitter struct {
	repo   AuditEventRepository
	logger zerolog.Logger
}

func NewEmitter(repo AuditEventRepository, logger zerolog.Logger) *Emitter {
	return &Emitter{repo: repo, logger: logger.With().Str("component", "audit").Logger()}
}

// Record appends an event. Errors are swallowed after logging.
func (s *Emitter) Record(ctx context.Context, eventType, subjectType string, subjectID uuid.UUID, actorID, actorRole string, payload map[string]interface{}) {
	e := &AuditEvent{
		EventType:   eventType,
		SubjectType: subjectType,
		SubjectID:   subjectID,
		ActorID:     actorID,
		ActorRole:   actorRole,
		Payload:     payload,
	}
	if err := s.repo.Insert(ctx, e); err != nil {
		s.logger.Error().Err(err).
			Str("event_type", eventType).
			Str("subject_type", subjectType).
			Str("subject_id", subjectID.String()).
			Msg("audit append failed")
	}
}

func (s *Emitter) GetEvent(ctx context.Context, id uuid.UUID) (*AuditEvent, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Emitter) ListBySubject(ctx context.Context, subjectType string, subjectID uuid.UUID) ([]*AuditEvent, error) {
	return s.repo.ListBySubject(ctx, subjectType, subjectID)
}

func (s *Emitter) Search(ctx context.Context, params map[string]string, limit, offset int) ([]*AuditEvent, int, error) {
	return s.repo.Search(ctx, params, limit, offset)
}
