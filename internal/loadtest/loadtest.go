// Package loadtest measures the local write path and sync pass duration
// under concurrent enqueues.
//
// A run enqueues a generated clinic (doctors, patients linked to doctors,
// tests for every patient) from several workers at once, recording the
// latency of every Enqueue call, then optionally runs one sync pass over
// everything that was written.
package loadtest

import (
	"context"
	"fmt"
	"io"
	"math/rand"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/medsync/medsync/internal/schema"
	syncer "github.com/medsync/medsync/internal/sync"
)

// Enqueuer accepts records. *queue.Queue implements it.
type Enqueuer interface {
	Enqueue(ctx context.Context, e schema.Entity) (schema.Entity, error)
}

// Syncer runs a pass. *sync.Engine implements it.
type Syncer interface {
	Sync(ctx context.Context) syncer.Result
}

// Options configures a run.
type Options struct {
	Doctors         int
	Patients        int
	TestsPerPatient int
	Workers         int // concurrent enqueuers (default: 4)
	Seed            int64
}

// LatencyStats captures performance metrics from a run.
type LatencyStats struct {
	Min       time.Duration
	Max       time.Duration
	Mean      time.Duration
	P50       time.Duration // Median
	P95       time.Duration
	P99       time.Duration
	Total     int
	Errors    int
	Durations []time.Duration `json:"-"`
}

// Report is the outcome of a run.
type Report struct {
	Enqueue LatencyStats
	Elapsed time.Duration
	Pass    *syncer.Result // nil when no pass was run
}

// Run enqueues the generated records and, when s is non-nil, runs one
// sync pass afterwards.
func Run(ctx context.Context, q Enqueuer, s Syncer, opts Options) (*Report, error) {
	if opts.Doctors <= 0 || opts.Patients <= 0 {
		return nil, fmt.Errorf("need at least one doctor and one patient")
	}
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	rng := rand.New(rand.NewSource(opts.Seed))
	start := time.Now()

	var mu sync.Mutex
	var durations []time.Duration
	errCount := 0

	// enqueueAll writes records concurrently and returns their ids in
	// input order.
	enqueueAll := func(records []schema.Entity) ([]string, error) {
		ids := make([]string, len(records))
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(opts.Workers)

		for i, e := range records {
			g.Go(func() error {
				t0 := time.Now()
				saved, err := q.Enqueue(gctx, e)
				elapsed := time.Since(t0)

				mu.Lock()
				durations = append(durations, elapsed)
				if err != nil {
					errCount++
				}
				mu.Unlock()

				if err != nil {
					return fmt.Errorf("enqueue %s %d: %w", e.Kind(), i, err)
				}
				ids[i] = saved.Meta().ID
				return nil
			})
		}
		return ids, g.Wait()
	}

	doctorIDs, err := enqueueAll(generateDoctors(opts.Doctors))
	if err != nil {
		return nil, err
	}
	patientIDs, err := enqueueAll(generatePatients(rng, opts.Patients, doctorIDs))
	if err != nil {
		return nil, err
	}
	if _, err := enqueueAll(generateTests(rng, patientIDs, doctorIDs, opts.TestsPerPatient)); err != nil {
		return nil, err
	}

	report := &Report{Enqueue: computeLatencyStats(durations), Elapsed: time.Since(start)}
	report.Enqueue.Errors = errCount

	if s != nil {
		res := s.Sync(ctx)
		report.Pass = &res
	}
	return report, nil
}

var specializations = []string{"Pathology", "Hematology", "Cardiology", "Endocrinology", "General Practice"}

var testTypes = []struct {
	name, code, units string
}{
	{"Complete Blood Count", "CBC", "cells/uL"},
	{"Lipid Panel", "LIPID", "mg/dL"},
	{"HbA1c", "A1C", "%"},
	{"Thyroid Stimulating Hormone", "TSH", "mIU/L"},
	{"Basic Metabolic Panel", "BMP", "mmol/L"},
}

func generateDoctors(count int) []schema.Entity {
	out := make([]schema.Entity, count)
	for i := range count {
		out[i] = &schema.Doctor{
			Name:           fmt.Sprintf("Dr. Load %03d", i),
			Specialization: specializations[i%len(specializations)],
			Email:          fmt.Sprintf("doctor%03d@clinic.example", i),
		}
	}
	return out
}

func generatePatients(rng *rand.Rand, count int, doctorIDs []string) []schema.Entity {
	base := time.Date(1950, 1, 1, 0, 0, 0, 0, time.UTC)
	out := make([]schema.Entity, count)
	for i := range count {
		dob := base.AddDate(rng.Intn(70), rng.Intn(12), rng.Intn(28))
		out[i] = &schema.Patient{
			Name:        fmt.Sprintf("Patient %05d", i),
			DateOfBirth: &dob,
			Phone:       fmt.Sprintf("555-%04d", i%10000),
			DoctorIDs:   []string{doctorIDs[rng.Intn(len(doctorIDs))]},
		}
	}
	return out
}

func generateTests(rng *rand.Rand, patientIDs, doctorIDs []string, perPatient int) []schema.Entity {
	out := make([]schema.Entity, 0, len(patientIDs)*perPatient)
	for _, pid := range patientIDs {
		for range perPatient {
			tt := testTypes[rng.Intn(len(testTypes))]
			out = append(out, &schema.Test{
				PatientID:         pid,
				ReferringDoctorID: doctorIDs[rng.Intn(len(doctorIDs))],
				TestType:          tt.name,
				TestCode:          tt.code,
				Units:             tt.units,
			})
		}
	}
	return out
}

// computeLatencyStats calculates statistics from a slice of durations.
func computeLatencyStats(durations []time.Duration) LatencyStats {
	if len(durations) == 0 {
		return LatencyStats{}
	}

	sorted := make([]time.Duration, len(durations))
	copy(sorted, durations)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i] < sorted[j]
	})

	var sum time.Duration
	for _, d := range durations {
		sum += d
	}

	return LatencyStats{
		Min:       sorted[0],
		Max:       sorted[len(sorted)-1],
		Mean:      sum / time.Duration(len(durations)),
		P50:       sorted[len(sorted)*50/100],
		P95:       sorted[len(sorted)*95/100],
		P99:       sorted[len(sorted)*99/100],
		Total:     len(durations),
		Durations: sorted,
	}
}

// PrintStats formats latency statistics to w.
func (s LatencyStats) PrintStats(w io.Writer) {
	fmt.Fprintf(w, "Latency Statistics:\n")
	fmt.Fprintf(w, "  Total:         %d\n", s.Total)
	fmt.Fprintf(w, "  Errors:        %d\n", s.Errors)
	fmt.Fprintf(w, "  Min:           %v\n", s.Min)
	fmt.Fprintf(w, "  P50 (Median):  %v\n", s.P50)
	fmt.Fprintf(w, "  Mean:          %v\n", s.Mean)
	fmt.Fprintf(w, "  P95:           %v\n", s.P95)
	fmt.Fprintf(w, "  P99:           %v\n", s.P99)
	fmt.Fprintf(w, "  Max:           %v\n", s.Max)
}
