package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/medsync/medsync/internal/daemon"
	"github.com/medsync/medsync/internal/queue"
	"github.com/medsync/medsync/internal/remote"
	"github.com/medsync/medsync/internal/schema"
	"github.com/medsync/medsync/internal/store"
	syncer "github.com/medsync/medsync/internal/sync"
)

type testEnv struct {
	server  *Server
	store   *store.Store
	remote  *remote.Memory
	monitor *daemon.Monitor
}

func setupServer(t *testing.T) *testEnv {
	t.Helper()

	st, err := store.Open(filepath.Join(t.TempDir(), "local.db"))
	if err != nil {
		t.Fatalf("store.Open() failed: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	if err := st.InitSchema(); err != nil {
		t.Fatalf("InitSchema() failed: %v", err)
	}

	mem := remote.NewMemory()
	engine := syncer.New(st, mem, syncer.DefaultConfig(), zerolog.Nop())
	mon := daemon.New(engine, st, daemon.DefaultConfig(), zerolog.Nop())
	q := queue.New(st, mon, zerolog.Nop())

	return &testEnv{
		server:  New(q, st, mon, nil, zerolog.Nop()),
		store:   st,
		remote:  mem,
		monitor: mon,
	}
}

func (env *testEnv) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	rec := httptest.NewRecorder()
	env.server.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("failed to decode response %q: %v", rec.Body.String(), err)
	}
	return v
}

func expectStatus(t *testing.T, rec *httptest.ResponseRecorder, want int) {
	t.Helper()
	if rec.Code != want {
		t.Fatalf("status = %d, want %d; body: %s", rec.Code, want, rec.Body.String())
	}
}

func TestCreate_IgnoresSyncMetadata(t *testing.T) {
	env := setupServer(t)

	rec := env.do(t, http.MethodPost, "/api/patients",
		`{"id":"forged","name":"Ada","sync_status":"Synced","sync_error":"x","last_synced_at":"2024-01-01T00:00:00Z"}`)
	expectStatus(t, rec, http.StatusCreated)

	got := decode[schema.Patient](t, rec)
	if got.ID == "" || got.ID == "forged" {
		t.Errorf("ID = %q, want a generated id", got.ID)
	}
	if got.LocalID != got.ID {
		t.Errorf("LocalID = %q, want %q", got.LocalID, got.ID)
	}
	if got.SyncStatus != schema.StatusPending || got.SyncError != "" || got.LastSyncedAt != nil {
		t.Errorf("sync metadata = %+v", got.SyncMeta)
	}
}

func TestCreate_Errors(t *testing.T) {
	env := setupServer(t)

	tests := []struct {
		name string
		path string
		body string
		want int
	}{
		{"unknown kind", "/api/nurses", `{"name":"x"}`, http.StatusNotFound},
		{"malformed body", "/api/doctors", `{"name":`, http.StatusBadRequest},
		{"missing required field", "/api/doctors", `{"name":"House"}`, http.StatusUnprocessableEntity},
		{"bad test status", "/api/tests", `{"patient_id":"p","test_type":"CBC","status":"Lost"}`, http.StatusUnprocessableEntity},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, http.MethodPost, tt.path, tt.body)
			expectStatus(t, rec, tt.want)
		})
	}

	rec := env.do(t, http.MethodPost, "/api/doctors", `{"name":"House"}`)
	resp := decode[errorResponse](t, rec)
	if len(resp.Fields) != 1 || resp.Fields[0].Field != "specialization" {
		t.Errorf("fields = %+v, want specialization", resp.Fields)
	}
}

func TestRecordLifecycle(t *testing.T) {
	env := setupServer(t)

	rec := env.do(t, http.MethodPost, "/api/doctor", `{"name":"House","specialization":"Diagnostics"}`)
	expectStatus(t, rec, http.StatusCreated)
	id := decode[schema.Doctor](t, rec).ID

	rec = env.do(t, http.MethodPut, "/api/doctors/"+id, `{"name":"Gregory House","specialization":"Diagnostics"}`)
	expectStatus(t, rec, http.StatusOK)
	if got := decode[schema.Doctor](t, rec); got.Name != "Gregory House" || got.LocalID != id {
		t.Errorf("after update: %+v", got)
	}

	rec = env.do(t, http.MethodGet, "/api/doctors/"+id, "")
	expectStatus(t, rec, http.StatusOK)

	rec = env.do(t, http.MethodDelete, "/api/doctors/"+id, "")
	expectStatus(t, rec, http.StatusOK)
	if got := decode[schema.Doctor](t, rec); !got.IsDeleted {
		t.Error("DELETE did not soft delete")
	}

	rec = env.do(t, http.MethodGet, "/api/doctors", "")
	expectStatus(t, rec, http.StatusOK)
	if got := decode[[]schema.Doctor](t, rec); len(got) != 0 {
		t.Errorf("list without deleted = %d records, want 0", len(got))
	}

	rec = env.do(t, http.MethodGet, "/api/doctors?include_deleted=true&status=pending", "")
	expectStatus(t, rec, http.StatusOK)
	if got := decode[[]schema.Doctor](t, rec); len(got) != 1 {
		t.Errorf("list with deleted = %d records, want 1", len(got))
	}

	expectStatus(t, env.do(t, http.MethodPut, "/api/doctors/missing", `{"name":"X","specialization":"Y"}`), http.StatusNotFound)
	expectStatus(t, env.do(t, http.MethodGet, "/api/doctors/missing", ""), http.StatusNotFound)
	expectStatus(t, env.do(t, http.MethodDelete, "/api/doctors/missing", ""), http.StatusNotFound)
	expectStatus(t, env.do(t, http.MethodGet, "/api/doctors?status=lost", ""), http.StatusBadRequest)
	expectStatus(t, env.do(t, http.MethodGet, "/api/doctors?limit=-1", ""), http.StatusBadRequest)
}

func TestPatientDoctors(t *testing.T) {
	env := setupServer(t)

	rec := env.do(t, http.MethodPost, "/api/doctors", `{"name":"House","specialization":"Diagnostics"}`)
	expectStatus(t, rec, http.StatusCreated)
	doctorID := decode[schema.Doctor](t, rec).ID

	rec = env.do(t, http.MethodPost, "/api/patients", `{"name":"Ada","doctor_ids":["`+doctorID+`"]}`)
	expectStatus(t, rec, http.StatusCreated)
	patientID := decode[schema.Patient](t, rec).ID

	rec = env.do(t, http.MethodGet, "/api/patients/"+patientID+"/doctors", "")
	expectStatus(t, rec, http.StatusOK)
	links := decode[[]schema.PatientDoctor](t, rec)
	if len(links) != 1 || links[0].DoctorID != doctorID {
		t.Errorf("links = %+v", links)
	}

	expectStatus(t, env.do(t, http.MethodGet, "/api/patients/missing/doctors", ""), http.StatusNotFound)
}

func TestSyncEndpoints(t *testing.T) {
	env := setupServer(t)

	expectStatus(t, env.do(t, http.MethodPost, "/api/patients", `{"name":"Ada"}`), http.StatusCreated)

	rec := env.do(t, http.MethodGet, "/api/sync", "")
	expectStatus(t, rec, http.StatusOK)
	if st := decode[daemon.Status](t, rec); st.PendingPatients != 1 || st.IsOnline {
		t.Errorf("status = %+v", st)
	}

	env.remote.SetOffline(true)
	rec = env.do(t, http.MethodPost, "/api/sync", "")
	expectStatus(t, rec, http.StatusOK)
	res := decode[syncer.Result](t, rec)
	if res.Success || len(res.Errors) != 1 || res.Errors[0] != syncer.ErrRemoteUnreachable.Error() {
		t.Errorf("offline result = %+v", res)
	}

	env.remote.SetOffline(false)
	rec = env.do(t, http.MethodPost, "/api/sync", "")
	res = decode[syncer.Result](t, rec)
	if !res.Success || res.SyncedPatients != 1 {
		t.Errorf("online result = %+v", res)
	}

	rec = env.do(t, http.MethodGet, "/api/sync", "")
	if st := decode[daemon.Status](t, rec); st.Pending() != 0 {
		t.Errorf("status after sync = %+v", st)
	}
}

func TestNetwork(t *testing.T) {
	env := setupServer(t)

	rec := env.do(t, http.MethodPost, "/api/network", `{"online":true}`)
	expectStatus(t, rec, http.StatusOK)
	if !env.monitor.IsOnline() {
		t.Error("monitor still offline")
	}

	expectStatus(t, env.do(t, http.MethodPost, "/api/network", `{}`), http.StatusBadRequest)
}

func TestConflicts(t *testing.T) {
	env := setupServer(t)
	env.remote.FailWith(func(op string, e schema.Entity) error {
		return errors.New("constraint violation")
	})

	rec := env.do(t, http.MethodPost, "/api/patients", `{"name":"Ada"}`)
	id := decode[schema.Patient](t, rec).ID

	if res := env.monitor.SyncNow(context.Background()); res.Conflicts != 1 {
		t.Fatalf("SyncNow() = %+v, want 1 conflict", res)
	}

	rec = env.do(t, http.MethodGet, "/api/conflicts", "")
	expectStatus(t, rec, http.StatusOK)
	conflicts := decode[map[string][]schema.Patient](t, rec)
	if len(conflicts["patients"]) != 1 || conflicts["patients"][0].SyncError != "constraint violation" {
		t.Errorf("conflicts = %+v", conflicts)
	}
	if len(conflicts["tests"]) != 0 {
		t.Errorf("unexpected test conflicts: %+v", conflicts["tests"])
	}

	rec = env.do(t, http.MethodPost, "/api/conflicts/patients/"+id+"/retry", "")
	expectStatus(t, rec, http.StatusOK)
	if got := decode[schema.Patient](t, rec); got.SyncStatus != schema.StatusPending || got.SyncError != "" {
		t.Errorf("after retry: %+v", got.SyncMeta)
	}

	// Only Conflict records can be retried.
	expectStatus(t, env.do(t, http.MethodPost, "/api/conflicts/patients/"+id+"/retry", ""), http.StatusNotFound)
}

func TestHealthAndRequestID(t *testing.T) {
	env := setupServer(t)

	rec := env.do(t, http.MethodGet, "/health", "")
	expectStatus(t, rec, http.StatusOK)
	if rec.Header().Get(RequestIDHeader) == "" {
		t.Error("missing X-Request-ID response header")
	}

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set(RequestIDHeader, "my-custom-id")
	rec = httptest.NewRecorder()
	env.server.ServeHTTP(rec, req)
	if got := rec.Header().Get(RequestIDHeader); got != "my-custom-id" {
		t.Errorf("X-Request-ID = %q, want my-custom-id", got)
	}
}

func TestRecovery(t *testing.T) {
	e := echo.New()
	e.Use(Recovery(zerolog.Nop()))
	e.GET("/panic", func(c echo.Context) error {
		panic("boom")
	})

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/panic", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rec.Code)
	}
}
