package encounter

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// Level values shared by workload and stressLevel.
const (
	LevelLow      = "Low"
	LevelModerate = "Moderate"
	LevelHigh     = "High"
	Unknown       = "Unknown"
)

var (
	levelValues   = []string{LevelLow, LevelModerate, LevelHigh, Unknown}
	onsetValues   = []string{"Acute", "Gradual", Unknown}
	qualityValues = []string{"Good", "Fair", "Poor", Unknown}
)

// ClinicalRecord is the structured chiropractic note. Fields missing from the
// input keep the values set by NewClinicalRecord.
type ClinicalRecord struct {
	// Patient
	Occupation   string `json:"occupation"`
	Workload     string `json:"workload"`
	IsNewPatient bool   `json:"isNewPatient"`

	// Chief complaint
	MainProblem string   `json:"mainProblem"`
	Location    string   `json:"location"`
	Onset       string   `json:"onset"`
	Duration    string   `json:"duration"`
	PainQuality []string `json:"painQuality"`

	// Pain analysis
	AggravatedBy     string   `json:"aggravatedBy"`
	RelievedBy       string   `json:"relievedBy"`
	DiurnalVariation []string `json:"diurnalVariation"`
	Radiation        string   `json:"radiation"`
	Numbness         bool     `json:"numbness"`
	Weakness         bool     `json:"weakness"`

	// History
	SimilarProblems bool   `json:"similarProblems"`
	HistoryDetails  string `json:"historyDetails"`
	PreviousTrauma  string `json:"previousTrauma"`

	// Medical history
	Conditions  string `json:"conditions"`
	Surgeries   string `json:"surgeries"`
	Medications string `json:"medications"`
	Allergies   string `json:"allergies"`
	SickLeave   bool   `json:"sickLeave"`

	RedFlags         []string `json:"redFlags"`
	RedFlagsComments string   `json:"redFlagsComments"`

	// Lifestyle
	Activity     string `json:"activity"`
	SleepQuality string `json:"sleepQuality"`
	StressLevel  string `json:"stressLevel"`
	WorkStress   bool   `json:"workStress"`

	// Examination
	Inspection        string `json:"inspection"`
	Palpation         string `json:"palpation"`
	Tenderness        string `json:"tenderness"`
	JointRestrictions string `json:"jointRestrictions"`
	ROM               string `json:"rom"`
	Neuro             string `json:"neuro"`
	OrthoPositive     string `json:"orthoPositive"`
	OrthoNegative     string `json:"orthoNegative"`

	// Assessment
	Diagnosis    string `json:"diagnosis"`
	Differential string `json:"differential"`
	Prognosis    string `json:"prognosis"`

	// Plan
	PlannedTreatment []string `json:"plannedTreatment"`
	Frequency        string   `json:"frequency"`
	Goals            string   `json:"goals"`

	// Treatment today
	TreatedArea string `json:"treatedArea"`
	Techniques  string `json:"techniques"`
	Response    string `json:"response"`

	Exercises       string `json:"exercises"`
	Advice          string `json:"advice"`
	NextAppointment string `json:"nextAppointment"`
}

func NewClinicalRecord() *ClinicalRecord {
	return &ClinicalRecord{
		Workload:         Unknown,
		Onset:            Unknown,
		SleepQuality:     Unknown,
		StressLevel:      Unknown,
		PainQuality:      []string{},
		DiurnalVariation: []string{},
		RedFlags:         []string{},
		PlannedTreatment: []string{},
	}
}

// Validate checks the enumerated fields. Empty strings are accepted.
func (r *ClinicalRecord) Validate() error {
	checks := []struct {
		field   string
		value   string
		allowed []string
	}{
		{"workload", r.Workload, levelValues},
		{"onset", r.Onset, onsetValues},
		{"sleepQuality", r.SleepQuality, qualityValues},
		{"stressLevel", r.StressLevel, levelValues},
	}
	for _, c := range checks {
		if c.value == "" || contains(c.allowed, c.value) {
			continue
		}
		return &ValidationError{
			Field:   "record." + c.field,
			Message: fmt.Sprintf("record.%s must be one of %v, got %q", c.field, c.allowed, c.value),
		}
	}
	return nil
}

// normalize replaces explicit nulls in list fields with empty lists.
func (r *ClinicalRecord) normalize() {
	for _, p := range []*[]string{&r.PainQuality, &r.DiurnalVariation, &r.RedFlags, &r.PlannedTreatment} {
		if *p == nil {
			*p = []string{}
		}
	}
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

// ParsePayload decodes raw as a ClinicalRecord, rejecting unknown fields and
// invalid enum values, and returns its canonical encoding. An empty input or
// JSON null yields a nil Payload.
func ParsePayload(raw []byte) (Payload, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}

	rec, err := DecodeRecord(raw)
	if err != nil {
		return nil, err
	}

	b, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("encode clinical record: %w", err)
	}
	return Payload(b), nil
}

// DecodeRecord strictly decodes and validates a single ClinicalRecord object.
func DecodeRecord(raw []byte) (*ClinicalRecord, error) {
	rec := NewClinicalRecord()
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(rec); err != nil {
		return nil, &ValidationError{Field: "record", Message: "invalid record: " + err.Error()}
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, &ValidationError{Field: "record", Message: "invalid record: trailing data after object"}
	}
	rec.normalize()
	if err := rec.Validate(); err != nil {
		return nil, err
	}
	return rec, nil
}
