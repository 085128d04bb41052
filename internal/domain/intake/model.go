// Package intake models a patient's submitted case (the Request) and owns the
// advisory review lock that keeps two clinicians from working the same case.
package intake

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound marks a lookup miss, as opposed to infrastructure failure.
var ErrNotFound = errors.New("intake not found")

// Status is the intake workflow state.
type Status string

const (
	StatusDraft       Status = "draft"
	StatusPaid        Status = "paid"
	StatusInReview    Status = "in_review"
	StatusPendingInfo Status = "pending_info"
	StatusApproved    Status = "approved"
	StatusDeclined    Status = "declined"
	StatusCompleted   Status = "completed"
)

// validTransitions encodes the forward path of the state machine. The
// pending_info rollback is handled separately because its target is the
// stored previous status, and supersession never re-enters review.
var validTransitions = map[Status][]Status{
	StatusDraft:       {StatusPaid},
	StatusPaid:        {StatusInReview},
	StatusInReview:    {StatusPendingInfo, StatusApproved, StatusDeclined},
	StatusPendingInfo: {StatusInReview, StatusApproved, StatusDeclined},
	StatusApproved:    {StatusCompleted},
	StatusDeclined:    {StatusCompleted},
}

// CanTransition reports whether from -> to is a legal forward transition.
func CanTransition(from, to Status) bool {
	for _, t := range validTransitions[from] {
		if t == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether a decision has been made for the intake.
func (s Status) IsTerminal() bool {
	return s == StatusApproved || s == StatusDeclined || s == StatusCompleted
}

// Certificate subtypes collected by the questionnaire.
const (
	CertTypeWork    = "work"
	CertTypeStudy   = "study"
	CertTypeCarer   = "carer"
	CertTypeTravel  = "travel"
	CertTypeFitness = "fitness"
)

var validCertTypes = map[string]bool{
	CertTypeWork: true, CertTypeStudy: true, CertTypeCarer: true,
	CertTypeTravel: true, CertTypeFitness: true,
}

// Answers is the typed questionnaire payload. One variant per certificate
// subtype, with the subtype-specific fields optional and validated at the
// boundary rather than carried as a loose JSON blob.
type Answers struct {
	Type                string     `json:"type"`
	Symptoms            []string   `json:"symptoms,omitempty"`
	SymptomOnset        *time.Time `json:"symptom_onset,omitempty"`
	Employer            *string    `json:"employer,omitempty"`
	Institution         *string    `json:"institution,omitempty"`
	CaredForName        *string    `json:"cared_for_name,omitempty"`
	CaredForRelation    *string    `json:"cared_for_relation,omitempty"`
	TravelDestination   *string    `json:"travel_destination,omitempty"`
	ActivityDescription *string    `json:"activity_description,omitempty"`
	AdditionalNotes     string     `json:"additional_notes,omitempty"`
}

// Validate checks the variant-specific required fields.
func (a Answers) Validate() error {
	if !validCertTypes[a.Type] {
		return fmt.Errorf("invalid certificate type: %q", a.Type)
	}
	switch a.Type {
	case CertTypeWork:
		if a.Employer == nil || *a.Employer == "" {
			return fmt.Errorf("employer is required for work certificates")
		}
	case CertTypeStudy:
		if a.Institution == nil || *a.Institution == "" {
			return fmt.Errorf("institution is required for study certificates")
		}
	case CertTypeCarer:
		if a.CaredForName == nil || *a.CaredForName == "" {
			return fmt.Errorf("cared_for_name is required for carer certificates")
		}
	case CertTypeTravel:
		if a.TravelDestination == nil || *a.TravelDestination == "" {
			return fmt.Errorf("travel_destination is required for travel certificates")
		}
	case CertTypeFitness:
		if a.ActivityDescription == nil || *a.ActivityDescription == "" {
			return fmt.Errorf("activity_description is required for fitness certificates")
		}
	}
	if a.Type != CertTypeFitness && len(a.Symptoms) == 0 {
		return fmt.Errorf("at least one symptom is required")
	}
	return nil
}

// Intake is a patient's submitted case awaiting clinical decision.
type Intake struct {
	ID             uuid.UUID  `db:"id" json:"id"`
	PatientID      uuid.UUID  `db:"patient_id" json:"patient_id"`
	PatientName    string     `db:"patient_name" json:"patient_name"`
	PatientEmail   string     `db:"patient_email" json:"patient_email"`
	CertType       string     `db:"cert_type" json:"cert_type"`
	Answers        Answers    `db:"answers" json:"answers"`
	Status         Status     `db:"status" json:"status"`
	PreviousStatus *Status    `db:"previous_status" json:"previous_status,omitempty"`
	StartDate      time.Time  `db:"start_date" json:"start_date"`
	EndDate        time.Time  `db:"end_date" json:"end_date"`
	ReviewerID     *string    `db:"reviewer_id" json:"reviewer_id,omitempty"`
	ReviewerName   string     `db:"reviewer_name" json:"reviewer_name,omitempty"`
	LockedAt       *time.Time `db:"locked_at" json:"locked_at,omitempty"`
	Anonymized     bool       `db:"anonymized" json:"anonymized"`
	CreatedAt      time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time  `db:"updated_at" json:"updated_at"`
}
