package remote

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/medsync/medsync/internal/schema"
)

func testPatient(id string) *schema.Patient {
	p := &schema.Patient{Name: "Ada", Email: "ada@example.com"}
	p.ID = id
	return p
}

func TestOpen_Errors(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{"no driver", Config{}},
		{"unknown driver", Config{Driver: "oracle"}},
		{"couchdb without database", Config{Driver: DriverCouchDB, URL: "http://localhost:5984"}},
		{"bad postgres url", Config{Driver: DriverPostgres, URL: "postgres://user@localhost:notaport/db"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Open(context.Background(), tt.cfg); err == nil {
				t.Errorf("Open(%+v) should fail", tt.cfg)
			}
		})
	}
}

func TestOpen_Memory(t *testing.T) {
	st, err := Open(context.Background(), Config{Driver: DriverMemory})
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer st.Close()

	if _, ok := st.(*Memory); !ok {
		t.Errorf("Open(memory) returned %T", st)
	}
}

func TestPostgresStatements(t *testing.T) {
	p := testPatient("p-1")
	p.IsDeleted = true

	query, args := postgresDialect.insertStatement(p)
	want := "INSERT INTO patients (name, date_of_birth, phone, email, address, is_deleted) VALUES ($1, $2, $3, $4, $5, $6) RETURNING id"
	if query != want {
		t.Errorf("insert query =\n%s\nwant\n%s", query, want)
	}
	if len(args) != 6 {
		t.Fatalf("insert args = %d, want 6", len(args))
	}
	if args[0] != "Ada" || args[2] != nil || args[5] != true {
		t.Errorf("insert args = %v", args)
	}

	query, args = postgresDialect.updateStatement(p)
	want = "UPDATE patients SET name = $1, date_of_birth = $2, phone = $3, email = $4, address = $5, is_deleted = $6, updated_at = now() WHERE id = $7"
	if query != want {
		t.Errorf("update query =\n%s\nwant\n%s", query, want)
	}
	if args[len(args)-1] != "p-1" {
		t.Errorf("update key arg = %v, want p-1", args[len(args)-1])
	}
}

func TestLibSQLStatements(t *testing.T) {
	tested := time.Date(2025, 3, 4, 5, 6, 7, 0, time.UTC)
	tst := &schema.Test{
		PatientID: "p-1",
		TestType:  "CBC",
		Results:   json.RawMessage(`{"hb":13}`),
		TestedAt:  &tested,
	}
	tst.ID = "t-1"

	query, args := libsqlDialect.updateStatement(tst)
	if strings.Contains(query, "$") {
		t.Errorf("libsql query uses numbered placeholders: %s", query)
	}
	if !strings.HasPrefix(query, "UPDATE tests SET patient_id = ?") {
		t.Errorf("update query = %s", query)
	}
	if !strings.Contains(query, "updated_at = CURRENT_TIMESTAMP") {
		t.Errorf("update query missing updated_at: %s", query)
	}

	values := make(map[string]any)
	for i, col := range schema.Columns(schema.KindTest) {
		values[col] = args[i]
	}
	if values["results"] != `{"hb":13}` {
		t.Errorf("results arg = %#v, want JSON text", values["results"])
	}
	if values["tested_at"] != "2025-03-04T05:06:07Z" {
		t.Errorf("tested_at arg = %#v", values["tested_at"])
	}
	if values["status"] != "Pending" {
		t.Errorf("status arg = %#v, want default Pending", values["status"])
	}
	if args[len(args)-2] != 0 {
		t.Errorf("is_deleted arg = %#v, want 0", args[len(args)-2])
	}
}

func TestCouchDocument(t *testing.T) {
	d := &schema.Doctor{Name: "House", Specialization: "Diagnostics"}
	d.ID = "d-1"
	d.LocalID = "d-1"
	d.SyncStatus = schema.StatusPending

	doc := document(d)
	if doc["type"] != "doctor" {
		t.Errorf("type = %v", doc["type"])
	}
	if doc["name"] != "House" || doc["specialization"] != "Diagnostics" {
		t.Errorf("payload = %v", doc)
	}
	if _, ok := doc["phone"]; ok {
		t.Error("empty optional field should be omitted")
	}
	for _, key := range []string{"local_id", "sync_status", "last_synced_at", "_id"} {
		if _, ok := doc[key]; ok {
			t.Errorf("document carries local metadata %q", key)
		}
	}
}

func TestMemory_CreateUpdate(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	id, err := m.Create(ctx, testPatient("local-1"))
	if err != nil {
		t.Fatalf("Create() failed: %v", err)
	}
	if id == "" || id == "local-1" {
		t.Errorf("Create() id = %q, want a remote-assigned id", id)
	}

	p := testPatient(id)
	p.Name = "Ada King"
	if err := m.Update(ctx, p); err != nil {
		t.Fatalf("Update() failed: %v", err)
	}
	raw, ok := m.Record(schema.KindPatient, id)
	if !ok {
		t.Fatal("record missing after update")
	}
	if !strings.Contains(string(raw), "Ada King") {
		t.Errorf("stored payload = %s", raw)
	}

	if err := m.Update(ctx, testPatient("nope")); !errors.Is(err, ErrNotFound) {
		t.Errorf("Update(missing) error = %v, want ErrNotFound", err)
	}

	calls := m.Calls()
	if len(calls) != 3 || calls[0].Op != "create" || calls[1].Op != "update" {
		t.Errorf("Calls() = %+v", calls)
	}
}

func TestMemory_OfflineAndFailures(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	m.SetOffline(true)
	if err := m.Probe(ctx); !errors.Is(err, ErrOffline) {
		t.Errorf("Probe() error = %v, want ErrOffline", err)
	}
	if _, err := m.Create(ctx, testPatient("x")); !errors.Is(err, ErrOffline) {
		t.Errorf("Create() error = %v, want ErrOffline", err)
	}
	m.SetOffline(false)

	boom := errors.New("boom")
	m.FailWith(func(op string, e schema.Entity) error {
		if op == "create" {
			return boom
		}
		return nil
	})
	if _, err := m.Create(ctx, testPatient("x")); !errors.Is(err, boom) {
		t.Errorf("Create() error = %v, want boom", err)
	}
	if m.Len(schema.KindPatient) != 0 {
		t.Errorf("failed create stored a record")
	}
}
