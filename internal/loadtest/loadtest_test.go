package loadtest

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/medsync/medsync/internal/queue"
	"github.com/medsync/medsync/internal/remote"
	"github.com/medsync/medsync/internal/schema"
	"github.com/medsync/medsync/internal/store"
	syncer "github.com/medsync/medsync/internal/sync"
)

func setup(t *testing.T) (*queue.Queue, *syncer.Engine, *store.Store, *remote.Memory) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "load.db"))
	if err != nil {
		t.Fatalf("store.Open() failed: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	if err := st.InitSchema(); err != nil {
		t.Fatalf("InitSchema() failed: %v", err)
	}
	mem := remote.NewMemory()
	return queue.New(st, nil, zerolog.Nop()), syncer.New(st, mem, syncer.DefaultConfig(), zerolog.Nop()), st, mem
}

func TestRun_EnqueuesAndSyncs(t *testing.T) {
	q, engine, st, mem := setup(t)
	ctx := context.Background()

	report, err := Run(ctx, q, engine, Options{Doctors: 3, Patients: 10, TestsPerPatient: 2, Workers: 4, Seed: 42})
	if err != nil {
		t.Fatalf("Run() failed: %v", err)
	}

	if report.Enqueue.Total != 3+10+20 || report.Enqueue.Errors != 0 {
		t.Errorf("enqueue stats = %+v", report.Enqueue)
	}
	if report.Pass == nil || !report.Pass.Success {
		t.Fatalf("pass = %+v", report.Pass)
	}
	if report.Pass.SyncedDoctors != 3 || report.Pass.SyncedPatients != 10 || report.Pass.SyncedTests != 20 {
		t.Errorf("pass counts = %+v", report.Pass)
	}
	if mem.Len(schema.KindTest) != 20 {
		t.Errorf("remote tests = %d, want 20", mem.Len(schema.KindTest))
	}
	if n, _ := st.CountPending(ctx, schema.KindTest); n != 0 {
		t.Errorf("pending tests after pass = %d", n)
	}
}

func TestRun_WithoutSync(t *testing.T) {
	q, _, st, _ := setup(t)

	report, err := Run(context.Background(), q, nil, Options{Doctors: 1, Patients: 2})
	if err != nil {
		t.Fatalf("Run() failed: %v", err)
	}
	if report.Pass != nil {
		t.Error("Run() without a syncer ran a pass")
	}
	if n, _ := st.CountPending(context.Background(), schema.KindPatient); n != 2 {
		t.Errorf("CountPending() = %d, want 2", n)
	}
}

func TestRun_InvalidOptions(t *testing.T) {
	q, _, _, _ := setup(t)
	if _, err := Run(context.Background(), q, nil, Options{Doctors: 0, Patients: 5}); err == nil {
		t.Error("Run() with no doctors succeeded")
	}
}

func TestComputeLatencyStats(t *testing.T) {
	var durations []time.Duration
	for i := 100; i >= 1; i-- {
		durations = append(durations, time.Duration(i)*time.Millisecond)
	}

	s := computeLatencyStats(durations)
	if s.Min != time.Millisecond || s.Max != 100*time.Millisecond {
		t.Errorf("min/max = %v/%v", s.Min, s.Max)
	}
	if s.P50 != 51*time.Millisecond || s.P95 != 96*time.Millisecond || s.P99 != 100*time.Millisecond {
		t.Errorf("percentiles = %v/%v/%v", s.P50, s.P95, s.P99)
	}
	if s.Total != 100 {
		t.Errorf("Total = %d", s.Total)
	}

	var buf bytes.Buffer
	s.PrintStats(&buf)
	if !strings.Contains(buf.String(), "P95") {
		t.Errorf("PrintStats() output:\n%s", buf.String())
	}

	if empty := computeLatencyStats(nil); empty.Total != 0 {
		t.Errorf("empty stats = %+v", empty)
	}
}
