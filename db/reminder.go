package db

import (
	"encoding/binary"
	"time"

	"github.com/google/uuid"
)

// Reminder definition for taking a medication
type Reminder struct {
	ID             uuid.UUID  `json:"id"`
	PatientID      uuid.UUID  `json:"patient_id"`
	PrescriptionID *uuid.UUID `json:"prescription_id,omitempty"`
	Title          string     `json:"title"`
	Time           string     `json:"time"`
	Days           []int      `json:"days"`
	IsActive       bool       `json:"is_active"`
	Notes          string     `json:"notes,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

// OnDay reports whether the reminder fires on the given weekday
func (r *Reminder) OnDay(day time.Weekday) bool {
	for _, d := range r.Days {
		if d == int(day) {
			return true
		}
	}

	return false
}

func (r *Reminder) badgerKey() []byte {
	return append(badgerPrefixKeyForReminderPatient(r.PatientID), r.ID[:]...)
}

func badgerPrefixKeyForReminderPatient(patientID uuid.UUID) []byte {
	return append([]byte("reminder:"), patientID[:]...)
}

func badgerKeyForReminderID(id uuid.UUID) []byte {
	return append([]byte("reminder_id:"), id[:]...)
}

// LogStatus of a dose confirmation
type LogStatus string

// Dose confirmation statuses
const (
	LogTaken   LogStatus = "taken"
	LogSkipped LogStatus = "skipped"
	LogDelayed LogStatus = "delayed"
)

// Valid reports whether the status is known
func (s LogStatus) Valid() bool {
	switch s {
	case LogTaken, LogSkipped, LogDelayed:
		return true
	}

	return false
}

// AdherenceLog records a dose the patient confirmed or skipped
type AdherenceLog struct {
	ID             uuid.UUID  `json:"id"`
	PatientID      uuid.UUID  `json:"patient_id"`
	ReminderID     *uuid.UUID `json:"reminder_id,omitempty"`
	PrescriptionID *uuid.UUID `json:"prescription_id,omitempty"`
	TakenAt        time.Time  `json:"taken_at"`
	Status         LogStatus  `json:"status"`
	Notes          string     `json:"notes,omitempty"`
}

// LogQuery selects adherence logs of one patient. Zero From/To leave the
// range open on that side; both bounds are inclusive.
type LogQuery struct {
	PatientID      uuid.UUID
	ReminderID     *uuid.UUID
	PrescriptionID *uuid.UUID
	From           time.Time
	To             time.Time
}

// Match reports whether a log satisfies the query
func (q LogQuery) Match(l *AdherenceLog) bool {
	if l.PatientID != q.PatientID {
		return false
	}

	if q.ReminderID != nil && (l.ReminderID == nil || *l.ReminderID != *q.ReminderID) {
		return false
	}

	if q.PrescriptionID != nil && (l.PrescriptionID == nil || *l.PrescriptionID != *q.PrescriptionID) {
		return false
	}

	if !q.From.IsZero() && l.TakenAt.Before(q.From) {
		return false
	}

	if !q.To.IsZero() && l.TakenAt.After(q.To) {
		return false
	}

	return true
}

// log keys sort by taken_at within a patient so a window is a key range
func (l *AdherenceLog) badgerKey() []byte {
	return append(badgerKeyForLogTime(l.PatientID, l.TakenAt), l.ID[:]...)
}

func badgerPrefixKeyForLogPatient(patientID uuid.UUID) []byte {
	return append([]byte("log:"), patientID[:]...)
}

func badgerKeyForLogTime(patientID uuid.UUID, t time.Time) []byte {
	var ts [8]byte
	binary.BigEndian.PutUint64(ts[:], uint64(t.UnixNano()))

	return append(badgerPrefixKeyForLogPatient(patientID), ts[:]...)
}

// Notification is an in-app notification record
type Notification struct {
	ID        uuid.UUID         `json:"id"`
	PatientID uuid.UUID         `json:"patient_id"`
	Type      Category          `json:"type"`
	Title     string            `json:"title"`
	Body      string            `json:"body"`
	Data      map[string]string `json:"data,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}

func (n *Notification) badgerKey() []byte {
	return append(badgerPrefixKeyForNotificationPatient(n.PatientID), n.ID[:]...)
}

func badgerPrefixKeyForNotificationPatient(patientID uuid.UUID) []byte {
	return append([]byte("notification:"), patientID[:]...)
}
