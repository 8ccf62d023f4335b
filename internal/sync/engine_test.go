package sync

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/medsync/medsync/internal/remote"
	"github.com/medsync/medsync/internal/schema"
	"github.com/medsync/medsync/internal/store"
)

// setupTest creates a local store, an in-memory remote and an engine.
func setupTest(t *testing.T) (*Engine, *store.Store, *remote.Memory) {
	t.Helper()

	st, err := store.Open(filepath.Join(t.TempDir(), "local.db"))
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	if err := st.InitSchema(); err != nil {
		t.Fatalf("failed to initialize schema: %v", err)
	}

	mem := remote.NewMemory()
	return New(st, mem, DefaultConfig(), zerolog.Nop()), st, mem
}

func seedPatient(t *testing.T, st *store.Store, id, name string) {
	t.Helper()
	p := &schema.Patient{Name: name}
	p.ID = id
	p.LocalID = id
	if err := st.Save(context.Background(), p); err != nil {
		t.Fatalf("failed to seed patient %s: %v", id, err)
	}
}

func seedDoctor(t *testing.T, st *store.Store, id, name string) {
	t.Helper()
	d := &schema.Doctor{Name: name, Specialization: "Pathology"}
	d.ID = id
	d.LocalID = id
	if err := st.Save(context.Background(), d); err != nil {
		t.Fatalf("failed to seed doctor %s: %v", id, err)
	}
}

func seedTest(t *testing.T, st *store.Store, id, patientID, doctorID string) {
	t.Helper()
	tst := &schema.Test{PatientID: patientID, ReferringDoctorID: doctorID, TestType: "CBC"}
	tst.ID = id
	tst.LocalID = id
	if err := st.Save(context.Background(), tst); err != nil {
		t.Fatalf("failed to seed test %s: %v", id, err)
	}
}

func getRecord(t *testing.T, st *store.Store, kind schema.Kind, id string) schema.Entity {
	t.Helper()
	e, err := st.Get(context.Background(), kind, id)
	if err != nil {
		t.Fatalf("Get(%s %s) failed: %v", kind, id, err)
	}
	return e
}

// onlyRecord returns the single record of a kind.
func onlyRecord(t *testing.T, st *store.Store, kind schema.Kind) schema.Entity {
	t.Helper()
	all, err := st.List(context.Background(), kind, store.ListFilter{IncludeDeleted: true})
	if err != nil {
		t.Fatalf("List(%s) failed: %v", kind, err)
	}
	if len(all) != 1 {
		t.Fatalf("List(%s) returned %d records, want 1", kind, len(all))
	}
	return all[0]
}

func TestSync_CreateSwapsLocalID(t *testing.T) {
	engine, st, mem := setupTest(t)
	seedPatient(t, st, "local-p1", "Ada")

	res := engine.Sync(context.Background())
	if !res.Success {
		t.Fatalf("Sync() failed: %v", res.Errors)
	}
	if res.SyncedPatients != 1 || res.Conflicts != 0 {
		t.Errorf("result = %+v", res)
	}

	got := onlyRecord(t, st, schema.KindPatient)
	meta := got.Meta()
	if meta.ID == "local-p1" {
		t.Error("id was not replaced by the remote id")
	}
	if meta.LocalID != "" {
		t.Errorf("LocalID = %q, want cleared", meta.LocalID)
	}
	if meta.SyncStatus != schema.StatusSynced || meta.LastSyncedAt == nil {
		t.Errorf("meta = %+v", meta)
	}
	if _, ok := mem.Record(schema.KindPatient, meta.ID); !ok {
		t.Errorf("remote has no record under the new id %s", meta.ID)
	}
}

func TestSync_Idempotent(t *testing.T) {
	engine, st, mem := setupTest(t)
	seedPatient(t, st, "local-p1", "Ada")
	seedDoctor(t, st, "local-d1", "House")

	first := engine.Sync(context.Background())
	if first.Total() != 2 {
		t.Fatalf("first pass synced %d, want 2", first.Total())
	}
	callsAfterFirst := len(mem.Calls())

	second := engine.Sync(context.Background())
	if !second.Success {
		t.Fatalf("second pass failed: %v", second.Errors)
	}
	if second.Total() != 0 || second.Conflicts != 0 {
		t.Errorf("second pass = %+v, want nothing synced", second)
	}
	if got := len(mem.Calls()); got != callsAfterFirst {
		t.Errorf("second pass made %d remote calls", got-callsAfterFirst)
	}
	if mem.Len(schema.KindPatient) != 1 || mem.Len(schema.KindDoctor) != 1 {
		t.Errorf("remote holds duplicates")
	}
}

func TestSync_PartialFailure(t *testing.T) {
	engine, st, mem := setupTest(t)
	seedPatient(t, st, "local-p1", "Ada")
	seedPatient(t, st, "local-p2", "Bob")
	seedPatient(t, st, "local-p3", "Cy")

	mem.FailWith(func(op string, e schema.Entity) error {
		if p, ok := e.(*schema.Patient); ok && p.Name == "Bob" {
			return errors.New("unique violation")
		}
		return nil
	})

	res := engine.Sync(context.Background())
	if !res.Success {
		t.Errorf("record failures must not fail the pass: %v", res.Errors)
	}
	if res.SyncedPatients != 2 {
		t.Errorf("SyncedPatients = %d, want 2", res.SyncedPatients)
	}
	if res.Conflicts != 1 {
		t.Errorf("Conflicts = %d, want 1", res.Conflicts)
	}
	if len(res.Errors) != 1 || !strings.Contains(res.Errors[0], "local-p2") {
		t.Errorf("Errors = %v", res.Errors)
	}

	bob := getRecord(t, st, schema.KindPatient, "local-p2")
	if bob.Meta().SyncStatus != schema.StatusConflict {
		t.Errorf("failed record status = %q, want Conflict", bob.Meta().SyncStatus)
	}
	if bob.Meta().SyncError != "unique violation" {
		t.Errorf("SyncError = %q", bob.Meta().SyncError)
	}
	if bob.Meta().LocalID != "local-p2" {
		t.Errorf("failed create lost its local_id")
	}

	synced, err := st.List(context.Background(), schema.KindPatient, store.ListFilter{Status: schema.StatusSynced})
	if err != nil {
		t.Fatalf("List() failed: %v", err)
	}
	if len(synced) != 2 {
		t.Errorf("%d patients Synced, want 2", len(synced))
	}
}

func TestSync_TestsPushedAfterReferences(t *testing.T) {
	engine, st, mem := setupTest(t)
	// Seed the test first so creation order cannot explain the result.
	seedPatient(t, st, "local-p1", "Ada")
	seedDoctor(t, st, "local-d1", "House")
	seedTest(t, st, "local-t1", "local-p1", "local-d1")

	res := engine.Sync(context.Background())
	if !res.Success || res.SyncedTests != 1 || res.Conflicts != 0 {
		t.Fatalf("result = %+v", res)
	}

	calls := mem.Calls()
	want := []schema.Kind{schema.KindPatient, schema.KindDoctor, schema.KindTest}
	if len(calls) != len(want) {
		t.Fatalf("calls = %+v", calls)
	}
	for i, k := range want {
		if calls[i].Kind != k || calls[i].Op != "create" {
			t.Errorf("call %d = %+v, want create %v", i, calls[i], k)
		}
	}

	patient := onlyRecord(t, st, schema.KindPatient)
	doctor := onlyRecord(t, st, schema.KindDoctor)
	tst := onlyRecord(t, st, schema.KindTest).(*schema.Test)
	if tst.PatientID != patient.Meta().ID || tst.ReferringDoctorID != doctor.Meta().ID {
		t.Errorf("local test references = %s/%s, want %s/%s",
			tst.PatientID, tst.ReferringDoctorID, patient.Meta().ID, doctor.Meta().ID)
	}

	raw, ok := mem.Record(schema.KindTest, tst.ID)
	if !ok {
		t.Fatal("test missing remotely")
	}
	var sent map[string]any
	if err := json.Unmarshal(raw, &sent); err != nil {
		t.Fatalf("bad payload: %v", err)
	}
	if sent["patient_id"] != patient.Meta().ID {
		t.Errorf("remote test patient_id = %v, want remote patient id %s", sent["patient_id"], patient.Meta().ID)
	}
}

func TestSync_TestWithFailedPatientIsConflict(t *testing.T) {
	engine, st, mem := setupTest(t)
	seedPatient(t, st, "local-p1", "Ada")
	seedTest(t, st, "local-t1", "local-p1", "")

	mem.FailWith(func(op string, e schema.Entity) error {
		if e.Kind() == schema.KindPatient {
			return errors.New("remote rejected patient")
		}
		return nil
	})

	res := engine.Sync(context.Background())
	if res.Conflicts != 2 {
		t.Fatalf("Conflicts = %d, want 2 (patient and its test)", res.Conflicts)
	}

	tst := getRecord(t, st, schema.KindTest, "local-t1")
	if tst.Meta().SyncStatus != schema.StatusConflict {
		t.Errorf("test status = %q, want Conflict", tst.Meta().SyncStatus)
	}
	for _, c := range mem.Calls() {
		if c.Kind == schema.KindTest {
			t.Errorf("test was sent to the remote: %+v", c)
		}
	}
}

func TestSync_RemoteUnreachable(t *testing.T) {
	engine, st, mem := setupTest(t)
	seedPatient(t, st, "local-p1", "Ada")
	mem.SetOffline(true)

	res := engine.Sync(context.Background())
	if res.Success {
		t.Error("Sync() should fail while the remote is unreachable")
	}
	if len(res.Errors) != 1 || res.Errors[0] != "remote unreachable" {
		t.Errorf("Errors = %v, want [remote unreachable]", res.Errors)
	}
	if len(mem.Calls()) != 0 {
		t.Errorf("remote calls made while unreachable: %+v", mem.Calls())
	}

	p := getRecord(t, st, schema.KindPatient, "local-p1")
	if p.Meta().SyncStatus != schema.StatusPending {
		t.Errorf("record touched by an aborted pass: %q", p.Meta().SyncStatus)
	}
}

// blockingRemote holds Probe until release is closed.
type blockingRemote struct {
	*remote.Memory
	entered chan struct{}
	release chan struct{}
}

func (b *blockingRemote) Probe(ctx context.Context) error {
	close(b.entered)
	<-b.release
	return b.Memory.Probe(ctx)
}

func TestSync_SingleFlight(t *testing.T) {
	_, st, mem := setupTest(t)
	seedPatient(t, st, "local-p1", "Ada")

	br := &blockingRemote{Memory: mem, entered: make(chan struct{}), release: make(chan struct{})}
	engine := New(st, br, Config{ProbeTimeout: 30 * time.Second}, zerolog.Nop())

	done := make(chan Result, 1)
	go func() { done <- engine.Sync(context.Background()) }()

	<-br.entered
	if !engine.Running() {
		t.Error("Running() = false during a pass")
	}

	second := engine.Sync(context.Background())
	if second.Success {
		t.Error("concurrent Sync() should not succeed")
	}
	if len(second.Errors) != 1 || second.Errors[0] != "sync already in progress" {
		t.Errorf("Errors = %v, want [sync already in progress]", second.Errors)
	}
	if second.Total() != 0 || second.Conflicts != 0 {
		t.Errorf("rejected pass has counts: %+v", second)
	}

	close(br.release)
	first := <-done
	if !first.Success || first.SyncedPatients != 1 {
		t.Errorf("first pass = %+v", first)
	}
	if engine.Running() {
		t.Error("Running() = true after the pass ended")
	}
}

func TestSync_SoftDeletePropagates(t *testing.T) {
	engine, st, mem := setupTest(t)
	ctx := context.Background()
	seedDoctor(t, st, "local-d1", "House")

	if res := engine.Sync(ctx); res.SyncedDoctors != 1 {
		t.Fatalf("initial sync = %+v", res)
	}
	doctor := onlyRecord(t, st, schema.KindDoctor)
	doctor.Meta().IsDeleted = true
	if err := st.Save(ctx, doctor); err != nil {
		t.Fatalf("Save() failed: %v", err)
	}

	res := engine.Sync(ctx)
	if !res.Success || res.SyncedDoctors != 1 {
		t.Fatalf("delete sync = %+v", res)
	}

	raw, ok := mem.Record(schema.KindDoctor, doctor.Meta().ID)
	if !ok {
		t.Fatal("remote record missing")
	}
	if !strings.Contains(string(raw), `"is_deleted":true`) {
		t.Errorf("remote payload = %s, want is_deleted true", raw)
	}
	got := getRecord(t, st, schema.KindDoctor, doctor.Meta().ID)
	if got.Meta().SyncStatus != schema.StatusSynced || !got.Meta().IsDeleted {
		t.Errorf("local meta = %+v", got.Meta())
	}
}

func TestSync_SoftDeleteOfRecordAbsentRemotely(t *testing.T) {
	engine, st, mem := setupTest(t)

	// Deleted before it was ever pushed.
	p := &schema.Patient{Name: "Ghost"}
	p.ID = "local-p1"
	p.LocalID = "local-p1"
	p.IsDeleted = true
	if err := st.Save(context.Background(), p); err != nil {
		t.Fatalf("Save() failed: %v", err)
	}

	res := engine.Sync(context.Background())
	if !res.Success || res.SyncedPatients != 1 || res.Conflicts != 0 {
		t.Fatalf("result = %+v", res)
	}
	if mem.Len(schema.KindPatient) != 0 {
		t.Error("a deleted record was created remotely")
	}

	got := getRecord(t, st, schema.KindPatient, "local-p1")
	if got.Meta().SyncStatus != schema.StatusSynced {
		t.Errorf("status = %q, want Synced", got.Meta().SyncStatus)
	}
	if got.Meta().LocalID != "local-p1" {
		t.Errorf("never-created record lost its local_id")
	}
}

func TestSync_UpdateOfExistingRecord(t *testing.T) {
	engine, st, mem := setupTest(t)
	ctx := context.Background()
	seedPatient(t, st, "local-p1", "Ada")
	engine.Sync(ctx)

	p := onlyRecord(t, st, schema.KindPatient).(*schema.Patient)
	p.Name = "Ada King"
	if err := st.Save(ctx, p); err != nil {
		t.Fatalf("Save() failed: %v", err)
	}

	res := engine.Sync(ctx)
	if res.SyncedPatients != 1 {
		t.Fatalf("result = %+v", res)
	}
	calls := mem.Calls()
	last := calls[len(calls)-1]
	if last.Op != "update" || last.ID != p.ID {
		t.Errorf("last call = %+v, want update of %s", last, p.ID)
	}
	raw, _ := mem.Record(schema.KindPatient, p.ID)
	if !strings.Contains(string(raw), "Ada King") {
		t.Errorf("remote payload = %s", raw)
	}
}

// editDuring saves a new name for the patient while the first matching
// remote call is in flight.
func editDuring(t *testing.T, st *store.Store, mem *remote.Memory, op, name string) {
	t.Helper()
	done := false
	mem.FailWith(func(callOp string, e schema.Entity) error {
		if done || callOp != op {
			return nil
		}
		done = true
		p := *e.(*schema.Patient)
		p.Name = name
		if err := st.Save(context.Background(), &p); err != nil {
			t.Errorf("Save(%s) during %s failed: %v", name, op, err)
		}
		return nil
	})
}

func TestSync_EditDuringUpdateStaysPending(t *testing.T) {
	engine, st, mem := setupTest(t)
	ctx := context.Background()
	seedPatient(t, st, "local-p1", "Alice")
	engine.Sync(ctx)

	p := onlyRecord(t, st, schema.KindPatient).(*schema.Patient)
	p.Name = "Alice v2"
	if err := st.Save(ctx, p); err != nil {
		t.Fatalf("Save() failed: %v", err)
	}
	editDuring(t, st, mem, "update", "Alice v3")

	res := engine.Sync(ctx)
	if !res.Success || res.Conflicts != 0 || res.SyncedPatients != 0 {
		t.Errorf("result = %+v", res)
	}
	raw, _ := mem.Record(schema.KindPatient, p.ID)
	if !strings.Contains(string(raw), "Alice v2") {
		t.Fatalf("remote payload = %s, want v2", raw)
	}
	got := getRecord(t, st, schema.KindPatient, p.ID)
	if got.(*schema.Patient).Name != "Alice v3" {
		t.Errorf("local name = %q, want Alice v3", got.(*schema.Patient).Name)
	}
	if got.Meta().SyncStatus != schema.StatusPending {
		t.Fatalf("status = %q, want Pending until v3 is pushed", got.Meta().SyncStatus)
	}

	res = engine.Sync(ctx)
	if !res.Success || res.SyncedPatients != 1 {
		t.Fatalf("follow-up pass = %+v", res)
	}
	raw, _ = mem.Record(schema.KindPatient, p.ID)
	if !strings.Contains(string(raw), "Alice v3") {
		t.Errorf("remote payload = %s, want v3", raw)
	}
	if got := getRecord(t, st, schema.KindPatient, p.ID); got.Meta().SyncStatus != schema.StatusSynced {
		t.Errorf("status = %q, want Synced", got.Meta().SyncStatus)
	}
}

func TestSync_EditDuringCreateStaysPending(t *testing.T) {
	engine, st, mem := setupTest(t)
	ctx := context.Background()
	seedPatient(t, st, "local-p1", "Alice")
	editDuring(t, st, mem, "create", "Alice v2")

	res := engine.Sync(ctx)
	if !res.Success || res.Conflicts != 0 || res.SyncedPatients != 0 {
		t.Errorf("result = %+v", res)
	}

	got := onlyRecord(t, st, schema.KindPatient)
	meta := got.Meta()
	if meta.ID == "local-p1" {
		t.Fatal("record kept its local id after the remote create")
	}
	if meta.LocalID != "" {
		t.Errorf("LocalID = %q, want cleared", meta.LocalID)
	}
	if meta.SyncStatus != schema.StatusPending {
		t.Errorf("status = %q, want Pending", meta.SyncStatus)
	}
	if got.(*schema.Patient).Name != "Alice v2" {
		t.Errorf("local name = %q, want Alice v2", got.(*schema.Patient).Name)
	}
	if _, ok := mem.Record(schema.KindPatient, meta.ID); !ok {
		t.Fatalf("remote has no record under %s", meta.ID)
	}

	res = engine.Sync(ctx)
	if !res.Success || res.SyncedPatients != 1 {
		t.Fatalf("follow-up pass = %+v", res)
	}
	calls := mem.Calls()
	if len(calls) != 2 || calls[1].Op != "update" || calls[1].ID != meta.ID {
		t.Errorf("calls = %+v, want one create then an update of %s", calls, meta.ID)
	}
	if mem.Len(schema.KindPatient) != 1 {
		t.Errorf("remote holds %d patients, want 1", mem.Len(schema.KindPatient))
	}
	raw, _ := mem.Record(schema.KindPatient, meta.ID)
	if !strings.Contains(string(raw), "Alice v2") {
		t.Errorf("remote payload = %s, want v2", raw)
	}
	if got := getRecord(t, st, schema.KindPatient, meta.ID); got.Meta().SyncStatus != schema.StatusSynced {
		t.Errorf("status = %q, want Synced", got.Meta().SyncStatus)
	}
}

// slowRemote never answers Create before the context deadline.
type slowRemote struct {
	*remote.Memory
}

func (s slowRemote) Create(ctx context.Context, e schema.Entity) (string, error) {
	<-ctx.Done()
	return "", ctx.Err()
}

func TestSync_RecordTimeoutIsConflict(t *testing.T) {
	_, st, mem := setupTest(t)
	seedPatient(t, st, "local-p1", "Ada")

	engine := New(st, slowRemote{mem}, Config{RecordTimeout: 20 * time.Millisecond}, zerolog.Nop())
	res := engine.Sync(context.Background())

	if !res.Success {
		t.Errorf("a timed-out record must not fail the pass: %v", res.Errors)
	}
	if res.Conflicts != 1 {
		t.Errorf("Conflicts = %d, want 1", res.Conflicts)
	}
	if !strings.Contains(res.Errors[0], context.DeadlineExceeded.Error()) {
		t.Errorf("Errors = %v", res.Errors)
	}
}

// brokenStore fails or panics when loading pending records.
type brokenStore struct {
	*store.Store
	panic bool
}

func (b brokenStore) FindPending(ctx context.Context, kind schema.Kind) ([]schema.Entity, error) {
	if b.panic {
		panic("corrupt row")
	}
	return nil, errors.New("disk I/O error")
}

func TestSync_PassLevelFailures(t *testing.T) {
	_, st, mem := setupTest(t)

	for _, panics := range []bool{false, true} {
		engine := New(brokenStore{Store: st, panic: panics}, mem, DefaultConfig(), zerolog.Nop())
		res := engine.Sync(context.Background())
		if res.Success {
			t.Errorf("panic=%v: Sync() should fail", panics)
		}
		if len(res.Errors) != 1 {
			t.Errorf("panic=%v: Errors = %v", panics, res.Errors)
		}
		if engine.Running() {
			t.Errorf("panic=%v: in-progress flag left set", panics)
		}
	}
}

// forgetfulStore loses every MarkCreated.
type forgetfulStore struct {
	*store.Store
}

func (f forgetfulStore) MarkCreated(context.Context, schema.Kind, string, string, time.Time, time.Time) error {
	return errors.New("database is locked")
}

func TestSync_UnrecordedOutcomeStaysPending(t *testing.T) {
	_, st, mem := setupTest(t)
	seedPatient(t, st, "local-p1", "Ada")

	engine := New(forgetfulStore{st}, mem, DefaultConfig(), zerolog.Nop())
	res := engine.Sync(context.Background())

	if !res.Success || res.Conflicts != 0 || res.SyncedPatients != 0 {
		t.Errorf("result = %+v", res)
	}
	if len(res.Errors) != 1 || !strings.Contains(res.Errors[0], "local-p1") ||
		!strings.Contains(res.Errors[0], "not recorded") {
		t.Errorf("Errors = %v, want one unrecorded outcome for local-p1", res.Errors)
	}
	p := getRecord(t, st, schema.KindPatient, "local-p1")
	if p.Meta().SyncStatus != schema.StatusPending {
		t.Errorf("status = %q, want Pending", p.Meta().SyncStatus)
	}
}

func TestSync_IgnoresCallerCancellation(t *testing.T) {
	engine, st, _ := setupTest(t)
	seedPatient(t, st, "local-p1", "Ada")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := engine.Sync(ctx)
	if !res.Success || res.SyncedPatients != 1 {
		t.Errorf("a started pass should run to completion: %+v", res)
	}
}
