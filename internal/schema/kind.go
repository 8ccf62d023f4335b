package schema

import (
	"fmt"
	"strings"
)

// Kind identifies a syncable entity type.
type Kind int

const (
	KindPatient Kind = iota + 1
	KindDoctor
	KindTest
)

// PushOrder is the order in which the sync engine pushes pending records.
// Tests come last: they reference Patients and Doctors by id.
var PushOrder = []Kind{KindPatient, KindDoctor, KindTest}

// String returns the singular lowercase name of the kind.
func (k Kind) String() string {
	switch k {
	case KindPatient:
		return "patient"
	case KindDoctor:
		return "doctor"
	case KindTest:
		return "test"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Plural returns the plural name, used for table and route names.
func (k Kind) Plural() string {
	return k.String() + "s"
}

// Valid reports whether k is one of the declared kinds.
func (k Kind) Valid() bool {
	return k >= KindPatient && k <= KindTest
}

// ParseKind accepts singular or plural names, case-insensitive.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "patient", "patients":
		return KindPatient, nil
	case "doctor", "doctors":
		return KindDoctor, nil
	case "test", "tests":
		return KindTest, nil
	}
	return 0, fmt.Errorf("unknown kind %q (want patient, doctor or test)", s)
}

// MarshalText implements encoding.TextMarshaler.
func (k Kind) MarshalText() ([]byte, error) {
	if !k.Valid() {
		return nil, fmt.Errorf("invalid kind %d", int(k))
	}
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *Kind) UnmarshalText(b []byte) error {
	parsed, err := ParseKind(string(b))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// SyncStatus is the push state of a local record.
type SyncStatus string

const (
	StatusPending  SyncStatus = "Pending"
	StatusSynced   SyncStatus = "Synced"
	StatusConflict SyncStatus = "Conflict"
)

// ParseSyncStatus parses a status name, case-insensitive.
func ParseSyncStatus(s string) (SyncStatus, error) {
	switch strings.ToLower(s) {
	case "pending":
		return StatusPending, nil
	case "synced":
		return StatusSynced, nil
	case "conflict":
		return StatusConflict, nil
	}
	return "", fmt.Errorf("unknown sync status %q", s)
}

// TestStatus is the lifecycle state of a lab test.
type TestStatus string

const (
	TestPending    TestStatus = "Pending"
	TestInProgress TestStatus = "InProgress"
	TestCompleted  TestStatus = "Completed"
	TestCancelled  TestStatus = "Cancelled"
)
