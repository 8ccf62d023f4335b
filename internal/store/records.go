package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/medsync/medsync/internal/schema"
)

// metaColumns are selected ahead of the payload columns for every kind.
var metaColumns = []string{
	"id", "local_id", "sync_status", "is_deleted",
	"last_synced_at", "sync_error", "created_at", "updated_at",
}

func tableName(kind schema.Kind) (string, error) {
	if !kind.Valid() {
		return "", fmt.Errorf("invalid kind %v", kind)
	}
	return kind.Plural(), nil
}

func selectColumns(kind schema.Kind) string {
	return strings.Join(append(append([]string{}, metaColumns...), schema.Columns(kind)...), ", ")
}

// sqlValue converts a schema field value into its SQLite representation.
func sqlValue(v any) any {
	switch x := v.(type) {
	case time.Time:
		return formatTime(x)
	case json.RawMessage:
		return string(x)
	default:
		return v
	}
}

// Save inserts or updates a record and marks it Pending.
//
// An existing row keeps its local_id and created_at, and a soft delete is
// never undone by a later write. For a Patient with non-nil DoctorIDs the
// patient_doctors links are replaced in the same transaction.
func (s *Store) Save(ctx context.Context, e schema.Entity) error {
	table, err := tableName(e.Kind())
	if err != nil {
		return err
	}
	meta := e.Meta()
	if meta.ID == "" {
		return fmt.Errorf("cannot save %s without id", e.Kind())
	}

	now := time.Now()
	if meta.CreatedAt.IsZero() {
		meta.CreatedAt = now
	}
	meta.UpdatedAt = now

	fields := schema.Fields(e)
	cols := make([]string, 0, len(fields))
	marks := make([]string, 0, len(fields))
	sets := make([]string, 0, len(fields))
	args := []any{
		meta.ID,
		sql.NullString{String: meta.LocalID, Valid: meta.LocalID != ""},
		boolToInt(meta.IsDeleted),
		formatTime(meta.CreatedAt),
		formatTime(meta.UpdatedAt),
	}
	for _, f := range fields {
		cols = append(cols, f.Name)
		marks = append(marks, "?")
		sets = append(sets, fmt.Sprintf("%s = excluded.%s", f.Name, f.Name))
		args = append(args, sqlValue(f.Value))
	}

	query := fmt.Sprintf(`
	INSERT INTO %[1]s (
		id, local_id, sync_status, is_deleted, last_synced_at, sync_error,
		created_at, updated_at, %[2]s
	) VALUES (?, ?, 'Pending', ?, NULL, NULL, ?, ?, %[3]s)
	ON CONFLICT(id) DO UPDATE SET
		sync_status = 'Pending',
		is_deleted = MAX(%[1]s.is_deleted, excluded.is_deleted),
		last_synced_at = NULL,
		sync_error = NULL,
		updated_at = excluded.updated_at,
		%[4]s
	`, table, strings.Join(cols, ", "), strings.Join(marks, ", "), strings.Join(sets, ",\n\t\t"))

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to save %s %s: %w", e.Kind(), meta.ID, err)
	}

	if p, ok := e.(*schema.Patient); ok && p.DoctorIDs != nil {
		if err := replaceDoctorLinks(ctx, tx, p.ID, p.DoctorIDs, now); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func replaceDoctorLinks(ctx context.Context, tx *sql.Tx, patientID string, doctorIDs []string, at time.Time) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM patient_doctors WHERE patient_id = ?`, patientID); err != nil {
		return fmt.Errorf("failed to clear doctor links for %s: %w", patientID, err)
	}
	for _, doctorID := range doctorIDs {
		_, err := tx.ExecContext(ctx, `
		INSERT INTO patient_doctors (patient_id, doctor_id, created_at)
		VALUES (?, ?, ?)
		ON CONFLICT(patient_id, doctor_id) DO NOTHING
		`, patientID, doctorID, formatTime(at))
		if err != nil {
			return fmt.Errorf("failed to link patient %s to doctor %s: %w", patientID, doctorID, err)
		}
	}
	return nil
}

// Get retrieves a single record by id. Returns ErrNotFound if absent.
func (s *Store) Get(ctx context.Context, kind schema.Kind, id string) (schema.Entity, error) {
	table, err := tableName(kind)
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf(`SELECT %s FROM %s WHERE id = ?`, selectColumns(kind), table)
	e, err := scanEntity(kind, s.conn.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s %s: %w", kind, id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get %s %s: %w", kind, id, err)
	}

	if p, ok := e.(*schema.Patient); ok {
		if p.DoctorIDs, err = s.doctorIDs(ctx, p.ID); err != nil {
			return nil, err
		}
	}
	return e, nil
}

func (s *Store) doctorIDs(ctx context.Context, patientID string) ([]string, error) {
	rows, err := s.conn.QueryContext(ctx,
		`SELECT doctor_id FROM patient_doctors WHERE patient_id = ? ORDER BY created_at, doctor_id`, patientID)
	if err != nil {
		return nil, fmt.Errorf("failed to query doctor links: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan doctor link: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating doctor links: %w", err)
	}
	return ids, nil
}

// Links returns every patient/doctor link of a patient.
func (s *Store) Links(ctx context.Context, patientID string) ([]schema.PatientDoctor, error) {
	rows, err := s.conn.QueryContext(ctx, `
	SELECT patient_id, doctor_id, created_at
	FROM patient_doctors
	WHERE patient_id = ?
	ORDER BY created_at, doctor_id
	`, patientID)
	if err != nil {
		return nil, fmt.Errorf("failed to query doctor links: %w", err)
	}
	defer rows.Close()

	var links []schema.PatientDoctor
	for rows.Next() {
		var l schema.PatientDoctor
		var createdAt string
		if err := rows.Scan(&l.PatientID, &l.DoctorID, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan doctor link: %w", err)
		}
		l.CreatedAt = parseTime(createdAt)
		links = append(links, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating doctor links: %w", err)
	}
	return links, nil
}

// ListFilter configures the List query.
type ListFilter struct {
	// Status filters by sync status (empty = all statuses)
	Status schema.SyncStatus
	// IncludeDeleted includes soft-deleted records
	IncludeDeleted bool
	// Limit restricts the number of results (0 = no limit)
	Limit int
}

// List retrieves records of a kind, oldest first.
func (s *Store) List(ctx context.Context, kind schema.Kind, filter ListFilter) ([]schema.Entity, error) {
	table, err := tableName(kind)
	if err != nil {
		return nil, err
	}

	var conditions []string
	var args []any

	if filter.Status != "" {
		conditions = append(conditions, "sync_status = ?")
		args = append(args, string(filter.Status))
	}
	if !filter.IncludeDeleted {
		conditions = append(conditions, "is_deleted = 0")
	}

	query := fmt.Sprintf(`SELECT %s FROM %s`, selectColumns(kind), table)
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY created_at ASC, rowid ASC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	return s.queryEntities(ctx, kind, query, args...)
}

// FindPending returns every Pending record of a kind, soft-deleted ones
// included, oldest first.
func (s *Store) FindPending(ctx context.Context, kind schema.Kind) ([]schema.Entity, error) {
	return s.List(ctx, kind, ListFilter{Status: schema.StatusPending, IncludeDeleted: true})
}

func (s *Store) queryEntities(ctx context.Context, kind schema.Kind, query string, args ...any) ([]schema.Entity, error) {
	rows, err := s.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", kind.Plural(), err)
	}
	defer rows.Close()

	var out []schema.Entity
	for rows.Next() {
		e, err := scanEntity(kind, rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan %s: %w", kind, err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating %s: %w", kind.Plural(), err)
	}
	return out, nil
}

type scanner interface {
	Scan(dest ...any) error
}

// metaRow holds the nullable forms of the sync metadata columns.
type metaRow struct {
	localID    sql.NullString
	status     string
	deleted    int
	lastSynced sql.NullString
	syncError  sql.NullString
	createdAt  string
	updatedAt  string
}

func (m *metaRow) dest(meta *schema.SyncMeta) []any {
	return []any{
		&meta.ID, &m.localID, &m.status, &m.deleted,
		&m.lastSynced, &m.syncError, &m.createdAt, &m.updatedAt,
	}
}

func (m *metaRow) apply(meta *schema.SyncMeta) {
	meta.LocalID = m.localID.String
	meta.SyncStatus = schema.SyncStatus(m.status)
	meta.IsDeleted = m.deleted != 0
	meta.LastSyncedAt = nullStringToTime(m.lastSynced)
	meta.SyncError = m.syncError.String
	meta.CreatedAt = parseTime(m.createdAt)
	meta.UpdatedAt = parseTime(m.updatedAt)
}

// scanEntity scans one row selected with selectColumns(kind).
func scanEntity(kind schema.Kind, sc scanner) (schema.Entity, error) {
	var m metaRow

	switch kind {
	case schema.KindPatient:
		p := &schema.Patient{}
		var dob, phone, email, address sql.NullString
		dest := append(m.dest(&p.SyncMeta), &p.Name, &dob, &phone, &email, &address)
		if err := sc.Scan(dest...); err != nil {
			return nil, err
		}
		m.apply(&p.SyncMeta)
		p.DateOfBirth = nullStringToTime(dob)
		p.Phone, p.Email, p.Address = phone.String, email.String, address.String
		return p, nil

	case schema.KindDoctor:
		d := &schema.Doctor{}
		var phone, email, clinic sql.NullString
		dest := append(m.dest(&d.SyncMeta), &d.Name, &d.Specialization, &phone, &email, &clinic)
		if err := sc.Scan(dest...); err != nil {
			return nil, err
		}
		m.apply(&d.SyncMeta)
		d.Phone, d.Email, d.ClinicAddress = phone.String, email.String, clinic.String
		return d, nil

	case schema.KindTest:
		t := &schema.Test{}
		var doctor, code, template, results, normal, units, testedAt, completedAt sql.NullString
		var status string
		dest := append(m.dest(&t.SyncMeta),
			&t.PatientID, &doctor, &t.TestType, &code, &template, &status,
			&results, &normal, &units, &testedAt, &completedAt)
		if err := sc.Scan(dest...); err != nil {
			return nil, err
		}
		m.apply(&t.SyncMeta)
		t.ReferringDoctorID = doctor.String
		t.TestCode, t.TestTemplateID, t.Units = code.String, template.String, units.String
		t.Status = schema.TestStatus(status)
		if results.Valid {
			t.Results = json.RawMessage(results.String)
		}
		if normal.Valid {
			t.NormalRange = json.RawMessage(normal.String)
		}
		t.TestedAt = nullStringToTime(testedAt)
		t.CompletedAt = nullStringToTime(completedAt)
		return t, nil
	}

	return nil, fmt.Errorf("invalid kind %v", kind)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
