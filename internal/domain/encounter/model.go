package encounter

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusDraft    Status = "DRAFT"
	StatusSigned   Status = "SIGNED"
	StatusExported Status = "EXPORTED"
)

func (s Status) Valid() bool {
	switch s {
	case StatusDraft, StatusSigned, StatusExported:
		return true
	}
	return false
}

type VisitType string

const (
	VisitInitialConsultation VisitType = "Initial Consultation"
	VisitFollowUp            VisitType = "Follow-up"
	VisitAnnualPhysical      VisitType = "Annual Physical"
	VisitAcuteCare           VisitType = "Acute Care"
	VisitProcedure           VisitType = "Procedure"
)

var visitTypes = []VisitType{
	VisitInitialConsultation,
	VisitFollowUp,
	VisitAnnualPhysical,
	VisitAcuteCare,
	VisitProcedure,
}

func (v VisitType) Valid() bool {
	for _, vt := range visitTypes {
		if v == vt {
			return true
		}
	}
	return false
}

const (
	maxPatientNameLen = 255
	maxPatientIDLen   = 100
	maxSignerLen      = 255
)

// Payload is the canonical JSON encoding of a ClinicalRecord. It is produced
// by ParsePayload and otherwise passed around untouched.
type Payload []byte

func (p Payload) MarshalJSON() ([]byte, error) {
	if len(p) == 0 {
		return []byte("null"), nil
	}
	return p, nil
}

// Encounter maps to the encounters table.
type Encounter struct {
	ID            uuid.UUID  `db:"id" json:"id"`
	UserID        uuid.UUID  `db:"user_id" json:"user_id"`
	PatientName   string     `db:"patient_name" json:"patient_name"`
	PatientID     string     `db:"patient_id" json:"patient_id"`
	VisitType     VisitType  `db:"visit_type" json:"visit_type"`
	EncounterDate time.Time  `db:"encounter_date" json:"encounter_date"`
	Transcript    *string    `db:"transcript" json:"transcript"`
	Record        Payload    `db:"record" json:"record"`
	Status        Status     `db:"status" json:"status"`
	SignedBy      *string    `db:"signed_by" json:"signed_by"`
	SignedAt      *time.Time `db:"signed_at" json:"signed_at"`
	ExportedAt    *time.Time `db:"exported_at" json:"exported_at"`
	Version       int        `db:"version" json:"version"`
	CreatedAt     time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time  `db:"updated_at" json:"updated_at"`
	DeletedAt     *time.Time `db:"deleted_at" json:"-"`
}

// Clone returns a deep copy.
func (e *Encounter) Clone() *Encounter {
	c := *e
	if e.Record != nil {
		c.Record = append(Payload(nil), e.Record...)
	}
	c.Transcript = cloneString(e.Transcript)
	c.SignedBy = cloneString(e.SignedBy)
	c.SignedAt = cloneTime(e.SignedAt)
	c.ExportedAt = cloneTime(e.ExportedAt)
	c.DeletedAt = cloneTime(e.DeletedAt)
	return &c
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// Details are the descriptive fields captured at creation.
type Details struct {
	PatientName   string
	PatientID     string
	VisitType     VisitType
	EncounterDate time.Time
}

func (d *Details) normalize() {
	d.PatientName = strings.TrimSpace(d.PatientName)
	d.PatientID = strings.TrimSpace(d.PatientID)
}

func (d Details) validate() error {
	if err := validatePatientName(d.PatientName); err != nil {
		return err
	}
	if err := validatePatientID(d.PatientID); err != nil {
		return err
	}
	if !d.VisitType.Valid() {
		return invalidVisitType(d.VisitType)
	}
	if d.EncounterDate.IsZero() {
		return &ValidationError{Field: "date", Message: "date is required"}
	}
	return nil
}

func validatePatientName(s string) error {
	if s == "" {
		return &ValidationError{Field: "patientName", Message: "patientName is required"}
	}
	if len(s) > maxPatientNameLen {
		return &ValidationError{Field: "patientName", Message: fmt.Sprintf("patientName must be at most %d characters", maxPatientNameLen)}
	}
	return nil
}

func validatePatientID(s string) error {
	if s == "" {
		return &ValidationError{Field: "patientId", Message: "patientId is required"}
	}
	if len(s) > maxPatientIDLen {
		return &ValidationError{Field: "patientId", Message: fmt.Sprintf("patientId must be at most %d characters", maxPatientIDLen)}
	}
	return nil
}

func invalidVisitType(v VisitType) error {
	return &ValidationError{Field: "visitType", Message: fmt.Sprintf("invalid visitType: %q", string(v))}
}

var dateLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// ParseDate accepts an RFC 3339 timestamp, a local date-time or a bare date.
// Values without a zone are taken as UTC.
func ParseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, &ValidationError{Field: "date", Message: fmt.Sprintf("invalid date: %q", s)}
}

// ExportFormat identifies the export document layout.
const ExportFormat = "clinote.encounter.v1"

// ExportDocument is returned when an encounter is exported.
type ExportDocument struct {
	Format     string     `json:"format"`
	ExportedAt time.Time  `json:"exported_at"`
	Encounter  *Encounter `json:"encounter"`
}

// ListFilter narrows ListByOwner. Zero values match everything.
type ListFilter struct {
	Status    Status
	PatientID string
}
