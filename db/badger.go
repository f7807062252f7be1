package db

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/dgraph-io/badger"
	"github.com/google/uuid"
	"github.com/jmhodges/clock"
)

// Badger db implementation
type Badger struct {
	db       *badger.DB
	clk      clock.Clock
	cancelGC func()
	wg       sync.WaitGroup
}

// NewBadger creates a new badger instance for the given path
func NewBadger(dbPath string) (*Badger, error) {
	db, err := badger.Open(badger.DefaultOptions(dbPath).WithLogger(nil))
	if err != nil {
		return nil, fmt.Errorf("failed to open badger db at path %s: %w", dbPath, err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	b := &Badger{
		db:       db,
		clk:      clock.New(),
		cancelGC: cancel,
	}

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()

		ticker := time.NewTicker(time.Hour)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				for b.db.RunValueLogGC(0.5) == nil && ctx.Err() == nil {
				}

			case <-ctx.Done():
				return
			}
		}
	}()

	return b, nil
}

// Close the database
func (b *Badger) Close() error {
	b.cancelGC()
	b.wg.Wait()

	return b.db.Close()
}

func getJSON(tx *badger.Txn, key []byte, v interface{}) error {
	item, err := tx.Get(key)
	if err != nil {
		return err
	}

	return item.Value(func(val []byte) error {
		return json.Unmarshal(val, v)
	})
}

func setJSON(tx *badger.Txn, key []byte, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to JSON marshal value for key %q: %w", key, err)
	}

	return tx.Set(key, data)
}

// iterate calls fn for every value under prefix, starting at seek when given
func iterate(tx *badger.Txn, prefix, seek []byte, fn func(key, val []byte) (bool, error)) error {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = prefix

	it := tx.NewIterator(opts)
	defer it.Close()

	if seek == nil {
		seek = prefix
	}

	for it.Seek(seek); it.ValidForPrefix(prefix); it.Next() {
		item := it.Item()
		key := item.KeyCopy(nil)

		var more bool
		err := item.Value(func(val []byte) error {
			var err error
			more, err = fn(key, val)
			return err
		})
		if err != nil {
			return err
		}

		if !more {
			return nil
		}
	}

	return nil
}

// AddPatient to the database
func (b *Badger) AddPatient(ctx context.Context, patient *Patient) error {
	if patient.ID == uuid.Nil {
		patient.ID = uuid.New()
	}

	if patient.CreatedAt.IsZero() {
		patient.CreatedAt = b.clk.Now()
	}

	return b.db.Update(func(tx *badger.Txn) error {
		nameKey := badgerKeyForPatientName(patient.Name)
		if _, err := tx.Get(nameKey); err == nil {
			return fmt.Errorf("patient %s: %w", patient.Name, ErrExists)
		}

		if err := setJSON(tx, patient.badgerKey(), patient); err != nil {
			return err
		}

		return tx.Set(nameKey, patient.ID[:])
	})
}

// GetPatient by id
func (b *Badger) GetPatient(ctx context.Context, id uuid.UUID) (patient *Patient, err error) {
	err = b.db.View(func(tx *badger.Txn) error {
		patient = &Patient{}

		err := getJSON(tx, badgerKeyForPatient(id), patient)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return notFound("patient", id)
		}

		if err != nil {
			return fmt.Errorf("failed to get patient %s: %w", id, err)
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	return
}

// GetPatientByName looks a patient up by unique name
func (b *Badger) GetPatientByName(ctx context.Context, name string) (*Patient, error) {
	var id uuid.UUID

	err := b.db.View(func(tx *badger.Txn) error {
		item, err := tx.Get(badgerKeyForPatientName(name))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return notFound("patient", name)
		}

		if err != nil {
			return fmt.Errorf("failed to get patient id for name %s: %w", name, err)
		}

		return item.Value(func(val []byte) error {
			id, err = uuid.FromBytes(val)
			return err
		})
	})
	if err != nil {
		return nil, err
	}

	return b.GetPatient(ctx, id)
}

// ListPatients from the database
func (b *Badger) ListPatients(ctx context.Context) (patients []*Patient, err error) {
	err = b.db.View(func(tx *badger.Txn) error {
		return iterate(tx, []byte("patient:"), nil, func(key, val []byte) (bool, error) {
			patient := &Patient{}
			if err := json.Unmarshal(val, patient); err != nil {
				return false, fmt.Errorf("failed to unmarshal patient value for key %x: %w", key, err)
			}

			patients = append(patients, patient)

			return true, nil
		})
	})

	return
}

// AddPrescription to the database
func (b *Badger) AddPrescription(ctx context.Context, prescription *Prescription) error {
	if prescription.ID == uuid.Nil {
		prescription.ID = uuid.New()
	}

	if prescription.CreatedAt.IsZero() {
		prescription.CreatedAt = b.clk.Now()
	}

	return b.db.Update(func(tx *badger.Txn) error {
		return setJSON(tx, prescription.badgerKey(), prescription)
	})
}

// GetPrescription by id
func (b *Badger) GetPrescription(ctx context.Context, id uuid.UUID) (*Prescription, error) {
	prescription := &Prescription{}

	err := b.db.View(func(tx *badger.Txn) error {
		return getJSON(tx, badgerKeyForPrescription(id), prescription)
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, notFound("prescription", id)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to get prescription %s: %w", id, err)
	}

	return prescription, nil
}

// ListPrescriptionsForPatient from the database
func (b *Badger) ListPrescriptionsForPatient(ctx context.Context, patientID uuid.UUID) (prescriptions []*Prescription, err error) {
	err = b.db.View(func(tx *badger.Txn) error {
		return iterate(tx, []byte("prescription:"), nil, func(key, val []byte) (bool, error) {
			prescription := &Prescription{}
			if err := json.Unmarshal(val, prescription); err != nil {
				return false, fmt.Errorf("failed to unmarshal prescription value for key %x: %w", key, err)
			}

			if prescription.PatientID == patientID {
				prescriptions = append(prescriptions, prescription)
			}

			return true, nil
		})
	})

	return
}

// AddReminder to the database
func (b *Badger) AddReminder(ctx context.Context, reminder *Reminder) error {
	if reminder.ID == uuid.Nil {
		reminder.ID = uuid.New()
	}

	if reminder.CreatedAt.IsZero() {
		reminder.CreatedAt = b.clk.Now()
	}

	return b.db.Update(func(tx *badger.Txn) error {
		if err := setJSON(tx, reminder.badgerKey(), reminder); err != nil {
			return err
		}

		return tx.Set(badgerKeyForReminderID(reminder.ID), reminder.PatientID[:])
	})
}

// UpdateReminder replaces an existing reminder
func (b *Badger) UpdateReminder(ctx context.Context, reminder *Reminder) error {
	return b.db.Update(func(tx *badger.Txn) error {
		if _, err := tx.Get(reminder.badgerKey()); errors.Is(err, badger.ErrKeyNotFound) {
			return notFound("reminder", reminder.ID)
		} else if err != nil {
			return err
		}

		return setJSON(tx, reminder.badgerKey(), reminder)
	})
}

func reminderKeyByID(tx *badger.Txn, id uuid.UUID) ([]byte, error) {
	item, err := tx.Get(badgerKeyForReminderID(id))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, notFound("reminder", id)
	}

	if err != nil {
		return nil, err
	}

	var patientID uuid.UUID
	err = item.Value(func(val []byte) error {
		patientID, err = uuid.FromBytes(val)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to decode reminder index for %s: %w", id, err)
	}

	return append(badgerPrefixKeyForReminderPatient(patientID), id[:]...), nil
}

// RemoveReminder from the database
func (b *Badger) RemoveReminder(ctx context.Context, id uuid.UUID) error {
	return b.db.Update(func(tx *badger.Txn) error {
		key, err := reminderKeyByID(tx, id)
		if err != nil {
			return err
		}

		if err := tx.Delete(key); err != nil {
			return err
		}

		return tx.Delete(badgerKeyForReminderID(id))
	})
}

// GetReminder by id
func (b *Badger) GetReminder(ctx context.Context, id uuid.UUID) (*Reminder, error) {
	reminder := &Reminder{}

	err := b.db.View(func(tx *badger.Txn) error {
		key, err := reminderKeyByID(tx, id)
		if err != nil {
			return err
		}

		return getJSON(tx, key, reminder)
	})
	if err != nil {
		return nil, err
	}

	return reminder, nil
}

func (b *Badger) listReminders(prefix []byte, keep func(*Reminder) bool) (reminders []*Reminder, err error) {
	err = b.db.View(func(tx *badger.Txn) error {
		return iterate(tx, prefix, nil, func(key, val []byte) (bool, error) {
			reminder := &Reminder{}
			if err := json.Unmarshal(val, reminder); err != nil {
				return false, fmt.Errorf("failed to unmarshal reminder value for key %x: %w", key, err)
			}

			if keep(reminder) {
				reminders = append(reminders, reminder)
			}

			return true, nil
		})
	})

	sortReminders(reminders)

	return
}

// ListActiveReminders across all patients
func (b *Badger) ListActiveReminders(ctx context.Context) ([]*Reminder, error) {
	return b.listReminders([]byte("reminder:"), func(r *Reminder) bool { return r.IsActive })
}

// ListRemindersForPatient from the database, active or not
func (b *Badger) ListRemindersForPatient(ctx context.Context, patientID uuid.UUID) ([]*Reminder, error) {
	return b.listReminders(badgerPrefixKeyForReminderPatient(patientID), func(*Reminder) bool { return true })
}

// DeactivateExpiredReminders switches off active reminders whose prescription
// ended before the day of asOf
func (b *Badger) DeactivateExpiredReminders(ctx context.Context, asOf time.Time) (int, error) {
	count := 0

	err := b.db.Update(func(tx *badger.Txn) error {
		var expired []*Reminder

		err := iterate(tx, []byte("reminder:"), nil, func(key, val []byte) (bool, error) {
			reminder := &Reminder{}
			if err := json.Unmarshal(val, reminder); err != nil {
				return false, fmt.Errorf("failed to unmarshal reminder value for key %x: %w", key, err)
			}

			if !reminder.IsActive || reminder.PrescriptionID == nil {
				return true, nil
			}

			prescription := &Prescription{}
			err := getJSON(tx, badgerKeyForPrescription(*reminder.PrescriptionID), prescription)
			if errors.Is(err, badger.ErrKeyNotFound) {
				return true, nil
			}

			if err != nil {
				return false, err
			}

			if prescription.EndedBefore(asOf) {
				expired = append(expired, reminder)
			}

			return true, nil
		})
		if err != nil {
			return err
		}

		for _, reminder := range expired {
			reminder.IsActive = false
			if err := setJSON(tx, reminder.badgerKey(), reminder); err != nil {
				return err
			}
		}

		count = len(expired)

		return nil
	})

	return count, err
}

// AddLog records a dose confirmation
func (b *Badger) AddLog(ctx context.Context, log *AdherenceLog) error {
	if log.ID == uuid.Nil {
		log.ID = uuid.New()
	}

	if log.TakenAt.IsZero() {
		log.TakenAt = b.clk.Now()
	}

	return b.db.Update(func(tx *badger.Txn) error {
		return setJSON(tx, log.badgerKey(), log)
	})
}

// FindLogs returns the patient's logs inside the query window, oldest first
func (b *Badger) FindLogs(ctx context.Context, query LogQuery) (logs []*AdherenceLog, err error) {
	prefix := badgerPrefixKeyForLogPatient(query.PatientID)

	var seek []byte
	if !query.From.IsZero() {
		seek = badgerKeyForLogTime(query.PatientID, query.From)
	}

	var upper []byte
	if !query.To.IsZero() {
		// every key of an instant <= To sorts before the key of To+1ns
		upper = badgerKeyForLogTime(query.PatientID, query.To.Add(time.Nanosecond))
	}

	err = b.db.View(func(tx *badger.Txn) error {
		return iterate(tx, prefix, seek, func(key, val []byte) (bool, error) {
			if upper != nil && bytes.Compare(key, upper) >= 0 {
				return false, nil
			}

			log := &AdherenceLog{}
			if err := json.Unmarshal(val, log); err != nil {
				return false, fmt.Errorf("failed to unmarshal log value for key %x: %w", key, err)
			}

			if query.Match(log) {
				logs = append(logs, log)
			}

			return true, nil
		})
	})

	return
}

// CreateNotification stores an in-app notification
func (b *Badger) CreateNotification(ctx context.Context, notification *Notification) (uuid.UUID, error) {
	if notification.ID == uuid.Nil {
		notification.ID = uuid.New()
	}

	if notification.CreatedAt.IsZero() {
		notification.CreatedAt = b.clk.Now()
	}

	err := b.db.Update(func(tx *badger.Txn) error {
		return setJSON(tx, notification.badgerKey(), notification)
	})
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to store notification for patient %s: %w", notification.PatientID, err)
	}

	return notification.ID, nil
}

// ListNotifications for a patient, oldest first
func (b *Badger) ListNotifications(ctx context.Context, patientID uuid.UUID) (notifications []*Notification, err error) {
	err = b.db.View(func(tx *badger.Txn) error {
		return iterate(tx, badgerPrefixKeyForNotificationPatient(patientID), nil, func(key, val []byte) (bool, error) {
			notification := &Notification{}
			if err := json.Unmarshal(val, notification); err != nil {
				return false, fmt.Errorf("failed to unmarshal notification value for key %x: %w", key, err)
			}

			notifications = append(notifications, notification)

			return true, nil
		})
	})

	sort.SliceStable(notifications, func(i, j int) bool {
		return notifications[i].CreatedAt.Before(notifications[j].CreatedAt)
	})

	return
}

func sortReminders(reminders []*Reminder) {
	sort.SliceStable(reminders, func(i, j int) bool {
		if reminders[i].Time != reminders[j].Time {
			return reminders[i].Time < reminders[j].Time
		}

		return bytes.Compare(reminders[i].ID[:], reminders[j].ID[:]) < 0
	})
}
