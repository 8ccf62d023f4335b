package schema

import (
	"encoding/json"
	"time"
)

// SyncMeta is the synchronization metadata carried by every syncable record.
type SyncMeta struct {
	ID           string     `json:"id"`
	LocalID      string     `json:"local_id,omitempty"`
	SyncStatus   SyncStatus `json:"sync_status"`
	IsDeleted    bool       `json:"is_deleted"`
	LastSyncedAt *time.Time `json:"last_synced_at,omitempty"`
	SyncError    string     `json:"sync_error,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// IsLocalOnly reports whether the record has never been created remotely.
func (m *SyncMeta) IsLocalOnly() bool {
	return m.LocalID != ""
}

// ResetSync clears everything a caller is not allowed to set on a write.
// The queue calls it before persisting, so only the sync engine can
// produce Synced or Conflict.
func (m *SyncMeta) ResetSync() {
	m.SyncStatus = StatusPending
	m.LastSyncedAt = nil
	m.SyncError = ""
}

// Entity is implemented by every syncable record.
type Entity interface {
	Kind() Kind
	Meta() *SyncMeta
	Validate() error
}

// Patient is a person tests are run for.
type Patient struct {
	SyncMeta
	Name        string     `json:"name" validate:"required,max=200"`
	DateOfBirth *time.Time `json:"date_of_birth,omitempty"`
	Phone       string     `json:"phone,omitempty" validate:"max=40"`
	Email       string     `json:"email,omitempty" validate:"omitempty,email"`
	Address     string     `json:"address,omitempty"`

	// DoctorIDs lists the patient's doctors. Nil leaves existing links
	// untouched on save; an empty slice removes them.
	DoctorIDs []string `json:"doctor_ids,omitempty" validate:"omitempty,dive,required"`
}

func (p *Patient) Kind() Kind      { return KindPatient }
func (p *Patient) Meta() *SyncMeta { return &p.SyncMeta }
func (p *Patient) Validate() error { return validateEntity(p) }

// Doctor is a referring physician.
type Doctor struct {
	SyncMeta
	Name           string `json:"name" validate:"required,max=200"`
	Specialization string `json:"specialization" validate:"required"`
	Phone          string `json:"phone,omitempty" validate:"max=40"`
	Email          string `json:"email,omitempty" validate:"omitempty,email"`
	ClinicAddress  string `json:"clinic_address,omitempty"`
}

func (d *Doctor) Kind() Kind      { return KindDoctor }
func (d *Doctor) Meta() *SyncMeta { return &d.SyncMeta }
func (d *Doctor) Validate() error { return validateEntity(d) }

// Test is a lab test ordered for a patient.
type Test struct {
	SyncMeta
	PatientID         string          `json:"patient_id" validate:"required"`
	ReferringDoctorID string          `json:"referring_doctor_id,omitempty"`
	TestType          string          `json:"test_type" validate:"required"`
	TestCode          string          `json:"test_code,omitempty"`
	TestTemplateID    string          `json:"test_template_id,omitempty"`
	Status            TestStatus      `json:"status" validate:"omitempty,oneof=Pending InProgress Completed Cancelled"`
	Results           json.RawMessage `json:"results,omitempty"`
	NormalRange       json.RawMessage `json:"normal_range,omitempty"`
	Units             string          `json:"units,omitempty"`
	TestedAt          *time.Time      `json:"tested_at,omitempty"`
	CompletedAt       *time.Time      `json:"completed_at,omitempty"`
}

func (t *Test) Kind() Kind      { return KindTest }
func (t *Test) Meta() *SyncMeta { return &t.SyncMeta }

func (t *Test) Validate() error { return validateEntity(t) }

// SetDefaults fills optional fields that have a default.
func (t *Test) SetDefaults() {
	if t.Status == "" {
		t.Status = TestPending
	}
}

// Defaulter is implemented by entities with default field values.
type Defaulter interface {
	SetDefaults()
}

// PatientDoctor links a patient to one of their doctors. Links stay in the
// local store and are not pushed.
type PatientDoctor struct {
	PatientID string    `json:"patient_id"`
	DoctorID  string    `json:"doctor_id"`
	CreatedAt time.Time `json:"created_at"`
}

// New returns an empty entity of the given kind, or nil for an unknown kind.
func New(kind Kind) Entity {
	switch kind {
	case KindPatient:
		return &Patient{}
	case KindDoctor:
		return &Doctor{}
	case KindTest:
		return &Test{}
	}
	return nil
}
