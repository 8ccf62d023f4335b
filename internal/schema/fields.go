package schema

import (
	"encoding/json"
	"time"
)

// Field is one payload column of an entity. Value is nil for an empty
// optional field, a time.Time for timestamps, a json.RawMessage for JSON
// documents, and a string otherwise.
type Field struct {
	Name  string
	Value any
}

// Fields returns the payload of e as ordered column/value pairs. Sync
// metadata is not part of the payload.
func Fields(e Entity) []Field {
	switch v := e.(type) {
	case *Patient:
		return []Field{
			{"name", v.Name},
			{"date_of_birth", timeValue(v.DateOfBirth)},
			{"phone", optional(v.Phone)},
			{"email", optional(v.Email)},
			{"address", optional(v.Address)},
		}
	case *Doctor:
		return []Field{
			{"name", v.Name},
			{"specialization", v.Specialization},
			{"phone", optional(v.Phone)},
			{"email", optional(v.Email)},
			{"clinic_address", optional(v.ClinicAddress)},
		}
	case *Test:
		status := v.Status
		if status == "" {
			status = TestPending
		}
		return []Field{
			{"patient_id", v.PatientID},
			{"referring_doctor_id", optional(v.ReferringDoctorID)},
			{"test_type", v.TestType},
			{"test_code", optional(v.TestCode)},
			{"test_template_id", optional(v.TestTemplateID)},
			{"status", string(status)},
			{"results", jsonValue(v.Results)},
			{"normal_range", jsonValue(v.NormalRange)},
			{"units", optional(v.Units)},
			{"tested_at", timeValue(v.TestedAt)},
			{"completed_at", timeValue(v.CompletedAt)},
		}
	}
	return nil
}

// Columns returns the payload column names of a kind in Fields order.
func Columns(kind Kind) []string {
	e := New(kind)
	if e == nil {
		return nil
	}
	fields := Fields(e)
	names := make([]string, len(fields))
	for i, f := range fields {
		names[i] = f.Name
	}
	return names
}

// References returns the ids of the Patient and Doctor records a Test
// points at. Other kinds reference nothing.
func References(e Entity) map[Kind][]string {
	t, ok := e.(*Test)
	if !ok {
		return nil
	}
	refs := map[Kind][]string{KindPatient: {t.PatientID}}
	if t.ReferringDoctorID != "" {
		refs[KindDoctor] = []string{t.ReferringDoctorID}
	}
	return refs
}

func optional(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func timeValue(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}

func jsonValue(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return raw
}
