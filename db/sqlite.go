package db

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmhodges/clock"

	// pure Go "sqlite" driver
	_ "modernc.org/sqlite"
)

//go:embed migrations.sql
var migrationsFS embed.FS

// SQLite db implementation
type SQLite struct {
	db  *sql.DB
	clk clock.Clock
}

// NewSQLite opens (or creates) the SQLite database at the given path and
// applies the schema
func NewSQLite(dbPath string) (*SQLite, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create directory for sqlite db %s: %w", dbPath, err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite db at path %s: %w", dbPath, err)
	}

	// single writer engine
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	s := &SQLite{db: db, clk: clock.New()}

	ctx := context.Background()
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA foreign_keys=ON;",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}

	schema, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	if _, err := db.ExecContext(ctx, string(schema)); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to migrate sqlite db: %w", err)
	}

	return s, nil
}

// Close the database
func (s *SQLite) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func nullUUID(id *uuid.UUID) sql.NullString {
	if id == nil {
		return sql.NullString{}
	}

	return sql.NullString{String: id.String(), Valid: true}
}

func fromNullUUID(ns sql.NullString) (*uuid.UUID, error) {
	if !ns.Valid || ns.String == "" {
		return nil, nil
	}

	id, err := uuid.Parse(ns.String)
	if err != nil {
		return nil, err
	}

	return &id, nil
}

func nullTime(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}

	return sql.NullInt64{Int64: t.UnixNano(), Valid: true}
}

func fromNullTime(ns sql.NullInt64) *time.Time {
	if !ns.Valid {
		return nil
	}

	t := time.Unix(0, ns.Int64)
	return &t
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(strings.ToLower(err.Error()), "unique constraint")
}

// AddPatient to the database
func (s *SQLite) AddPatient(ctx context.Context, patient *Patient) error {
	if patient.ID == uuid.Nil {
		patient.ID = uuid.New()
	}

	if patient.CreatedAt.IsZero() {
		patient.CreatedAt = s.clk.Now()
	}

	tokens, err := json.Marshal(patient.PushTokens)
	if err != nil {
		return fmt.Errorf("failed to JSON marshal push tokens: %w", err)
	}

	settings, err := json.Marshal(patient.Settings)
	if err != nil {
		return fmt.Errorf("failed to JSON marshal notification settings: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO patients (id, name, push_tokens, settings, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		patient.ID.String(), patient.Name, string(tokens), string(settings), patient.CreatedAt.UnixNano(),
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("patient %s: %w", patient.Name, ErrExists)
	}

	return err
}

const patientColumns = `id, name, push_tokens, settings, created_at`

func scanPatient(row rowScanner) (*Patient, error) {
	var (
		id        string
		tokens    string
		settings  string
		createdAt int64
		patient   Patient
	)

	if err := row.Scan(&id, &patient.Name, &tokens, &settings, &createdAt); err != nil {
		return nil, err
	}

	var err error
	if patient.ID, err = uuid.Parse(id); err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(tokens), &patient.PushTokens); err != nil {
		return nil, fmt.Errorf("failed to unmarshal push tokens of patient %s: %w", id, err)
	}

	if err := json.Unmarshal([]byte(settings), &patient.Settings); err != nil {
		return nil, fmt.Errorf("failed to unmarshal settings of patient %s: %w", id, err)
	}

	patient.CreatedAt = time.Unix(0, createdAt)

	return &patient, nil
}

// GetPatient by id
func (s *SQLite) GetPatient(ctx context.Context, id uuid.UUID) (*Patient, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+patientColumns+` FROM patients WHERE id = ?`, id.String())

	patient, err := scanPatient(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("patient", id)
	}

	return patient, err
}

// GetPatientByName looks a patient up by unique name
func (s *SQLite) GetPatientByName(ctx context.Context, name string) (*Patient, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+patientColumns+` FROM patients WHERE name = ?`, name)

	patient, err := scanPatient(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("patient", name)
	}

	return patient, err
}

// ListPatients from the database
func (s *SQLite) ListPatients(ctx context.Context) ([]*Patient, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+patientColumns+` FROM patients ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var patients []*Patient
	for rows.Next() {
		patient, err := scanPatient(rows)
		if err != nil {
			return nil, err
		}

		patients = append(patients, patient)
	}

	return patients, rows.Err()
}

// AddPrescription to the database
func (s *SQLite) AddPrescription(ctx context.Context, prescription *Prescription) error {
	if prescription.ID == uuid.Nil {
		prescription.ID = uuid.New()
	}

	if prescription.CreatedAt.IsZero() {
		prescription.CreatedAt = s.clk.Now()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO prescriptions (id, patient_id, formula_name, start_date, end_date, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		prescription.ID.String(), prescription.PatientID.String(), prescription.FormulaName,
		prescription.StartDate.UnixNano(), nullTime(prescription.EndDate), prescription.CreatedAt.UnixNano(),
	)

	return err
}

const prescriptionColumns = `id, patient_id, formula_name, start_date, end_date, created_at`

func scanPrescription(row rowScanner) (*Prescription, error) {
	var (
		id, patientID        string
		startDate, createdAt int64
		endDate              sql.NullInt64
		prescription         Prescription
		err                  error
	)

	if err := row.Scan(&id, &patientID, &prescription.FormulaName, &startDate, &endDate, &createdAt); err != nil {
		return nil, err
	}

	if prescription.ID, err = uuid.Parse(id); err != nil {
		return nil, err
	}

	if prescription.PatientID, err = uuid.Parse(patientID); err != nil {
		return nil, err
	}

	prescription.StartDate = time.Unix(0, startDate)
	prescription.EndDate = fromNullTime(endDate)
	prescription.CreatedAt = time.Unix(0, createdAt)

	return &prescription, nil
}

// GetPrescription by id
func (s *SQLite) GetPrescription(ctx context.Context, id uuid.UUID) (*Prescription, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+prescriptionColumns+` FROM prescriptions WHERE id = ?`, id.String())

	prescription, err := scanPrescription(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("prescription", id)
	}

	return prescription, err
}

// ListPrescriptionsForPatient from the database
func (s *SQLite) ListPrescriptionsForPatient(ctx context.Context, patientID uuid.UUID) ([]*Prescription, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+prescriptionColumns+` FROM prescriptions
		WHERE patient_id = ?
		ORDER BY start_date`, patientID.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var prescriptions []*Prescription
	for rows.Next() {
		prescription, err := scanPrescription(rows)
		if err != nil {
			return nil, err
		}

		prescriptions = append(prescriptions, prescription)
	}

	return prescriptions, rows.Err()
}

// AddReminder to the database
func (s *SQLite) AddReminder(ctx context.Context, reminder *Reminder) error {
	if reminder.ID == uuid.Nil {
		reminder.ID = uuid.New()
	}

	if reminder.CreatedAt.IsZero() {
		reminder.CreatedAt = s.clk.Now()
	}

	days, err := json.Marshal(reminder.Days)
	if err != nil {
		return fmt.Errorf("failed to JSON marshal reminder days: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO reminders (id, patient_id, prescription_id, title, time, days, is_active, notes, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		reminder.ID.String(), reminder.PatientID.String(), nullUUID(reminder.PrescriptionID),
		reminder.Title, reminder.Time, string(days), reminder.IsActive, reminder.Notes, reminder.CreatedAt.UnixNano(),
	)

	return err
}

// UpdateReminder replaces an existing reminder
func (s *SQLite) UpdateReminder(ctx context.Context, reminder *Reminder) error {
	days, err := json.Marshal(reminder.Days)
	if err != nil {
		return fmt.Errorf("failed to JSON marshal reminder days: %w", err)
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE reminders
		SET prescription_id = ?, title = ?, time = ?, days = ?, is_active = ?, notes = ?
		WHERE id = ?`,
		nullUUID(reminder.PrescriptionID), reminder.Title, reminder.Time, string(days),
		reminder.IsActive, reminder.Notes, reminder.ID.String(),
	)
	if err != nil {
		return err
	}

	if n, _ := res.RowsAffected(); n == 0 {
		return notFound("reminder", reminder.ID)
	}

	return nil
}

// RemoveReminder from the database
func (s *SQLite) RemoveReminder(ctx context.Context, id uuid.UUID) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM reminders WHERE id = ?`, id.String())
	if err != nil {
		return err
	}

	if n, _ := res.RowsAffected(); n == 0 {
		return notFound("reminder", id)
	}

	return nil
}

const reminderColumns = `id, patient_id, prescription_id, title, time, days, is_active, notes, created_at`

func scanReminder(row rowScanner) (*Reminder, error) {
	var (
		id, patientID  string
		prescriptionID sql.NullString
		days           string
		createdAt      int64
		reminder       Reminder
		err            error
	)

	if err := row.Scan(&id, &patientID, &prescriptionID, &reminder.Title, &reminder.Time, &days,
		&reminder.IsActive, &reminder.Notes, &createdAt); err != nil {
		return nil, err
	}

	if reminder.ID, err = uuid.Parse(id); err != nil {
		return nil, err
	}

	if reminder.PatientID, err = uuid.Parse(patientID); err != nil {
		return nil, err
	}

	if reminder.PrescriptionID, err = fromNullUUID(prescriptionID); err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(days), &reminder.Days); err != nil {
		return nil, fmt.Errorf("failed to unmarshal days of reminder %s: %w", id, err)
	}

	reminder.CreatedAt = time.Unix(0, createdAt)

	return &reminder, nil
}

// GetReminder by id
func (s *SQLite) GetReminder(ctx context.Context, id uuid.UUID) (*Reminder, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+reminderColumns+` FROM reminders WHERE id = ?`, id.String())

	reminder, err := scanReminder(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("reminder", id)
	}

	return reminder, err
}

func (s *SQLite) queryReminders(ctx context.Context, where string, args ...interface{}) ([]*Reminder, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+reminderColumns+` FROM reminders WHERE `+where+` ORDER BY time, id`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var reminders []*Reminder
	for rows.Next() {
		reminder, err := scanReminder(rows)
		if err != nil {
			return nil, err
		}

		reminders = append(reminders, reminder)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	sortReminders(reminders)

	return reminders, nil
}

// ListActiveReminders across all patients
func (s *SQLite) ListActiveReminders(ctx context.Context) ([]*Reminder, error) {
	return s.queryReminders(ctx, `is_active = 1`)
}

// ListRemindersForPatient from the database, active or not
func (s *SQLite) ListRemindersForPatient(ctx context.Context, patientID uuid.UUID) ([]*Reminder, error) {
	return s.queryReminders(ctx, `patient_id = ?`, patientID.String())
}

// DeactivateExpiredReminders switches off active reminders whose prescription
// ended before the day of asOf
func (s *SQLite) DeactivateExpiredReminders(ctx context.Context, asOf time.Time) (int, error) {
	y, m, d := asOf.Date()
	startOfDay := time.Date(y, m, d, 0, 0, 0, 0, asOf.Location())

	res, err := s.db.ExecContext(ctx, `
		UPDATE reminders
		SET is_active = 0
		WHERE is_active = 1
		  AND prescription_id IS NOT NULL
		  AND prescription_id IN (
			SELECT id FROM prescriptions
			WHERE end_date IS NOT NULL AND end_date < ?
		  )`,
		startOfDay.UnixNano(),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to deactivate expired reminders: %w", err)
	}

	n, err := res.RowsAffected()
	return int(n), err
}

// AddLog records a dose confirmation
func (s *SQLite) AddLog(ctx context.Context, log *AdherenceLog) error {
	if log.ID == uuid.Nil {
		log.ID = uuid.New()
	}

	if log.TakenAt.IsZero() {
		log.TakenAt = s.clk.Now()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO adherence_logs (id, patient_id, reminder_id, prescription_id, taken_at, status, notes)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		log.ID.String(), log.PatientID.String(), nullUUID(log.ReminderID), nullUUID(log.PrescriptionID),
		log.TakenAt.UnixNano(), string(log.Status), log.Notes,
	)

	return err
}

// FindLogs returns the patient's logs inside the query window, oldest first
func (s *SQLite) FindLogs(ctx context.Context, query LogQuery) ([]*AdherenceLog, error) {
	where := []string{"patient_id = ?"}
	args := []interface{}{query.PatientID.String()}

	if query.ReminderID != nil {
		where = append(where, "reminder_id = ?")
		args = append(args, query.ReminderID.String())
	}

	if query.PrescriptionID != nil {
		where = append(where, "prescription_id = ?")
		args = append(args, query.PrescriptionID.String())
	}

	if !query.From.IsZero() {
		where = append(where, "taken_at >= ?")
		args = append(args, query.From.UnixNano())
	}

	if !query.To.IsZero() {
		where = append(where, "taken_at <= ?")
		args = append(args, query.To.UnixNano())
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, patient_id, reminder_id, prescription_id, taken_at, status, notes
		FROM adherence_logs
		WHERE `+strings.Join(where, " AND ")+`
		ORDER BY taken_at, id`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var logs []*AdherenceLog
	for rows.Next() {
		var (
			id, patientID              string
			reminderID, prescriptionID sql.NullString
			takenAt                    int64
			status                     string
			log                        AdherenceLog
		)

		if err := rows.Scan(&id, &patientID, &reminderID, &prescriptionID, &takenAt, &status, &log.Notes); err != nil {
			return nil, err
		}

		if log.ID, err = uuid.Parse(id); err != nil {
			return nil, err
		}

		if log.PatientID, err = uuid.Parse(patientID); err != nil {
			return nil, err
		}

		if log.ReminderID, err = fromNullUUID(reminderID); err != nil {
			return nil, err
		}

		if log.PrescriptionID, err = fromNullUUID(prescriptionID); err != nil {
			return nil, err
		}

		log.TakenAt = time.Unix(0, takenAt)
		log.Status = LogStatus(status)

		logs = append(logs, &log)
	}

	return logs, rows.Err()
}

// CreateNotification stores an in-app notification
func (s *SQLite) CreateNotification(ctx context.Context, notification *Notification) (uuid.UUID, error) {
	if notification.ID == uuid.Nil {
		notification.ID = uuid.New()
	}

	if notification.CreatedAt.IsZero() {
		notification.CreatedAt = s.clk.Now()
	}

	data, err := json.Marshal(notification.Data)
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to JSON marshal notification data: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO notifications (id, patient_id, type, title, body, data, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		notification.ID.String(), notification.PatientID.String(), string(notification.Type),
		notification.Title, notification.Body, string(data), notification.CreatedAt.UnixNano(),
	)
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to store notification for patient %s: %w", notification.PatientID, err)
	}

	return notification.ID, nil
}

// ListNotifications for a patient, oldest first
func (s *SQLite) ListNotifications(ctx context.Context, patientID uuid.UUID) ([]*Notification, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, type, title, body, data, created_at
		FROM notifications
		WHERE patient_id = ?
		ORDER BY created_at, id`, patientID.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var notifications []*Notification
	for rows.Next() {
		var (
			id, typ, data string
			createdAt     int64
			notification  = Notification{PatientID: patientID}
		)

		if err := rows.Scan(&id, &typ, &notification.Title, &notification.Body, &data, &createdAt); err != nil {
			return nil, err
		}

		if notification.ID, err = uuid.Parse(id); err != nil {
			return nil, err
		}

		if err := json.Unmarshal([]byte(data), &notification.Data); err != nil {
			return nil, fmt.Errorf("failed to unmarshal data of notification %s: %w", id, err)
		}

		notification.Type = Category(typ)
		notification.CreatedAt = time.Unix(0, createdAt)

		notifications = append(notifications, &notification)
	}

	return notifications, rows.Err()
}
