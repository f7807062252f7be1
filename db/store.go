package db

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrNotFound occurs when a requested record does not exist
	ErrNotFound = errors.New("not found")
	// ErrExists occurs when adding a record that already exists
	ErrExists = errors.New("already exists")
)

// Store is the persistence contract shared by every driver
type Store interface {
	AddPatient(ctx context.Context, patient *Patient) error
	GetPatient(ctx context.Context, id uuid.UUID) (*Patient, error)
	GetPatientByName(ctx context.Context, name string) (*Patient, error)
	ListPatients(ctx context.Context) ([]*Patient, error)

	AddPrescription(ctx context.Context, prescription *Prescription) error
	GetPrescription(ctx context.Context, id uuid.UUID) (*Prescription, error)
	ListPrescriptionsForPatient(ctx context.Context, patientID uuid.UUID) ([]*Prescription, error)

	AddReminder(ctx context.Context, reminder *Reminder) error
	UpdateReminder(ctx context.Context, reminder *Reminder) error
	RemoveReminder(ctx context.Context, id uuid.UUID) error
	GetReminder(ctx context.Context, id uuid.UUID) (*Reminder, error)
	ListActiveReminders(ctx context.Context) ([]*Reminder, error)
	ListRemindersForPatient(ctx context.Context, patientID uuid.UUID) ([]*Reminder, error)
	DeactivateExpiredReminders(ctx context.Context, asOf time.Time) (int, error)

	AddLog(ctx context.Context, log *AdherenceLog) error
	FindLogs(ctx context.Context, query LogQuery) ([]*AdherenceLog, error)

	CreateNotification(ctx context.Context, notification *Notification) (uuid.UUID, error)
	ListNotifications(ctx context.Context, patientID uuid.UUID) ([]*Notification, error)

	Close() error
}

// Open the store for the given driver ("badger" or "sqlite")
func Open(driver, path string) (Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required for driver %q", driver)
	}

	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "", "badger":
		return NewBadger(path)
	case "sqlite", "sqlite3":
		return NewSQLite(path)
	default:
		return nil, fmt.Errorf("unknown storage driver %q", driver)
	}
}

func notFound(kind string, id interface{}) error {
	return fmt.Errorf("%s %v: %w", kind, id, ErrNotFound)
}
