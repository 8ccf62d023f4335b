package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"
	"gopkg.in/yaml.v3"

	"github.com/medsync/medsync/internal/schema"
)

// dateFields are the payload keys parsed as dates.
var dateFields = []string{"date_of_birth", "tested_at", "completed_at"}

// jsonFields hold free-form JSON documents.
var jsonFields = map[string]bool{"results": true, "normal_range": true}

var dateParser = func() *when.Parser {
	w := when.New(nil)
	w.Add(en.All...)
	w.Add(common.All...)
	return w
}()

// parseWhen accepts RFC 3339, a bare date or an English expression such as
// "yesterday 3pm" or "last friday".
func parseWhen(text string, now time.Time) (time.Time, error) {
	text = strings.TrimSpace(text)
	if t, err := time.Parse(time.RFC3339, text); err == nil {
		return t, nil
	}
	if t, err := time.Parse("2006-01-02", text); err == nil {
		return t, nil
	}
	r, err := dateParser.Parse(text, now)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: %w", text, err)
	}
	if r == nil {
		return time.Time{}, fmt.Errorf("invalid date %q", text)
	}
	return r.Time, nil
}

// readPayloadFile reads a YAML or JSON document describing one record.
func readPayloadFile(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	m := map[string]any{}
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return m, nil
}

// applySets overlays key=value pairs. Values of JSON fields and values that
// look like JSON objects or arrays are decoded; everything else is a string.
func applySets(m map[string]any, sets []string) error {
	for _, kv := range sets {
		key, value, ok := strings.Cut(kv, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return fmt.Errorf("invalid --set %q (want key=value)", kv)
		}
		if jsonFields[key] || strings.HasPrefix(value, "{") || strings.HasPrefix(value, "[") {
			var v any
			if err := json.Unmarshal([]byte(value), &v); err != nil {
				return fmt.Errorf("invalid JSON for %s: %w", key, err)
			}
			m[key] = v
			continue
		}
		m[key] = value
	}
	return nil
}

// normalizeDates rewrites every date field to RFC 3339.
func normalizeDates(m map[string]any, now time.Time) error {
	for _, key := range dateFields {
		switch v := m[key].(type) {
		case nil:
		case time.Time:
			m[key] = v.Format(time.RFC3339)
		case string:
			if v == "" {
				delete(m, key)
				continue
			}
			t, err := parseWhen(v, now)
			if err != nil {
				return fmt.Errorf("%s: %w", key, err)
			}
			m[key] = t.Format(time.RFC3339)
		default:
			return fmt.Errorf("%s: unsupported value %v", key, v)
		}
	}
	return nil
}

// addDoctors appends doctor ids not already in a patient payload's
// doctor_ids.
func addDoctors(m map[string]any, doctors []string) {
	if len(doctors) == 0 {
		return
	}
	var ids []any
	if existing, ok := m["doctor_ids"].([]any); ok {
		ids = existing
	}
	seen := map[any]bool{}
	for _, id := range ids {
		seen[id] = true
	}
	for _, id := range doctors {
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	m["doctor_ids"] = ids
}

// entityMap returns e as a generic payload, the starting point of an update.
func entityMap(e schema.Entity) (map[string]any, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, err
	}
	m := map[string]any{}
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return m, nil
}

// decodeEntity turns a payload into a record of the given kind. Unknown keys
// are rejected so typos do not silently drop data.
func decodeEntity(kind schema.Kind, m map[string]any) (schema.Entity, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	e := schema.New(kind)
	dec := json.NewDecoder(strings.NewReader(string(data)))
	dec.DisallowUnknownFields()
	if err := dec.Decode(e); err != nil {
		return nil, fmt.Errorf("invalid %s: %w", kind, err)
	}
	return e, nil
}

// recordSummary is the one-line description used in listings.
func recordSummary(e schema.Entity) string {
	switch r := e.(type) {
	case *schema.Patient:
		return r.Name
	case *schema.Doctor:
		return fmt.Sprintf("%s (%s)", r.Name, r.Specialization)
	case *schema.Test:
		return fmt.Sprintf("%s for %s [%s]", r.TestType, r.PatientID, r.Status)
	}
	return ""
}
