// Package issuance orchestrates the certificate workflow: it is the sole
// composition point over the lock manager, invariant checker, attestation
// guard, renderer, object store, outbox and retry queue, and the only writer
// of Certificate rows.
package issuance

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var ErrNotFound = errors.New("draft not found")

// DocTypeCertificate is the only document type issued today. The retry
// queue and drafts carry the type explicitly so further document kinds slot
// in without schema changes.
const DocTypeCertificate = "certificate"

// Draft is the clinician's working copy of the certificate content. One
// draft per (request, doc type); saving again overwrites.
type Draft struct {
	ID            uuid.UUID `db:"id" json:"id"`
	RequestID     uuid.UUID `db:"request_id" json:"request_id"`
	DocType       string    `db:"doc_type" json:"doc_type"`
	Subtype       string    `db:"subtype" json:"subtype"`
	StartDate     time.Time `db:"start_date" json:"start_date"`
	EndDate       time.Time `db:"end_date" json:"end_date"`
	ClinicalNotes string    `db:"clinical_notes" json:"clinical_notes"`
	CreatedBy     string    `db:"created_by" json:"created_by"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time `db:"updated_at" json:"updated_at"`
}

// GeneratedDocument records a successful render: the preview the clinician
// saw before approving. The invariant checker requires one to exist.
type GeneratedDocument struct {
	ID          uuid.UUID `db:"id" json:"id"`
	RequestID   uuid.UUID `db:"request_id" json:"request_id"`
	DocType     string    `db:"doc_type" json:"doc_type"`
	StoragePath string    `db:"storage_path" json:"storage_path"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}

// DraftRepository stores clinician drafts.
type DraftRepository interface {
	Upsert(ctx context.Context, d *Draft) error
	GetByRequest(ctx context.Context, requestID uuid.UUID, docType string) (*Draft, error)
}

// GeneratedDocumentRepository stores render results, newest wins.
type GeneratedDocumentRepository interface {
	Insert(ctx context.Context, doc *GeneratedDocument) error
	GetLatest(ctx context.Context, requestID uuid.UUID, docType string) (*GeneratedDocument, error)
}
