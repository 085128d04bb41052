package certificate

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/medcert/medcert/internal/platform/blobstore"
)

// DownloadURLTTL is how long a signed certificate download link stays usable.
const DownloadURLTTL = 15 * time.Minute

type Service struct {
	repo   Repository
	store  blobstore.Store
	logger zerolog.Logger
}

func NewService(repo Repository, store blobstore.Store, logger zerolog.Logger) *Service {
	return &Service{repo: repo, store: store, logger: logger}
}

func (s *Service) GetCertificate(ctx context.Context, id uuid.UUID) (*Certificate, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) ListByRequest(ctx context.Context, requestID uuid.UUID) ([]*Certificate, error) {
	return s.repo.ListByRequest(ctx, requestID)
}

// DownloadURL returns a short-lived signed URL for the certificate PDF.
func (s *Service) DownloadURL(ctx context.Context, id uuid.UUID) (string, error) {
	cert, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return "", err
	}
	return s.store.SignedURL(ctx, cert.StoragePath, DownloadURLTTL)
}

// Verify resolves a public verification code to a PHI-free summary. A
// superseded certificate still resolves; its status tells the verifier the
// document they hold has been replaced.
func (s *Service) Verify(ctx context.Context, code string) (*VerificationResult, error) {
	cert, err := s.repo.GetByVerificationCode(ctx, code)
	if err != nil {
		return nil, err
	}
	return &VerificationResult{
		Status:   cert.Status,
		Subtype:  cert.Subtype,
		IssuedAt: cert.CreatedAt,
	}, nil
}
