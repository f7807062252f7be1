package db

import (
	"sort"
	"time"

	"github.com/google/uuid"
)

// Category of notification a patient can toggle
type Category string

// Notification categories
const (
	CategoryMedication  Category = "medication"
	CategoryReservation Category = "reservation"
	CategoryRecord      Category = "record"
	CategoryHealthTip   Category = "health_tip"
	CategoryPromotion   Category = "promotion"
	CategorySystem      Category = "system"
)

// Categories lists every known notification category
var Categories = []Category{
	CategoryMedication,
	CategoryReservation,
	CategoryRecord,
	CategoryHealthTip,
	CategoryPromotion,
	CategorySystem,
}

// NotificationSettings owned by the patient profile
type NotificationSettings struct {
	Categories      map[Category]bool `json:"categories,omitempty"`
	QuietHoursStart string            `json:"quiet_hours_start,omitempty"`
	QuietHoursEnd   string            `json:"quiet_hours_end,omitempty"`
}

// Enabled reports whether the category is switched on. Untouched categories
// are on, except promotions which are opt-in.
func (s NotificationSettings) Enabled(c Category) bool {
	if v, ok := s.Categories[c]; ok {
		return v
	}

	return c != CategoryPromotion
}

// Patient information
type Patient struct {
	ID         uuid.UUID            `json:"id"`
	Name       string               `json:"name"`
	PushTokens map[string]string    `json:"push_tokens"`
	Settings   NotificationSettings `json:"settings"`
	CreatedAt  time.Time            `json:"created_at"`
}

// Tokens returns the registered push tokens ordered by device label
func (p *Patient) Tokens() []string {
	labels := make([]string, 0, len(p.PushTokens))
	for label, token := range p.PushTokens {
		if token != "" {
			labels = append(labels, label)
		}
	}

	sort.Strings(labels)

	tokens := make([]string, 0, len(labels))
	for _, label := range labels {
		tokens = append(tokens, p.PushTokens[label])
	}

	return tokens
}

func (p *Patient) badgerKey() []byte {
	return badgerKeyForPatient(p.ID)
}

func badgerKeyForPatient(id uuid.UUID) []byte {
	return append([]byte("patient:"), id[:]...)
}

func badgerKeyForPatientName(name string) []byte {
	return append([]byte("patient_name:"), []byte(name)...)
}

// Prescription issued to a patient
type Prescription struct {
	ID          uuid.UUID  `json:"id"`
	PatientID   uuid.UUID  `json:"patient_id"`
	FormulaName string     `json:"formula_name"`
	StartDate   time.Time  `json:"start_date"`
	EndDate     *time.Time `json:"end_date,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

// EndedBefore reports whether the prescription's end date falls before the day of asOf
func (p *Prescription) EndedBefore(asOf time.Time) bool {
	if p.EndDate == nil {
		return false
	}

	y, m, d := asOf.Date()
	startOfDay := time.Date(y, m, d, 0, 0, 0, 0, asOf.Location())

	return p.EndDate.Before(startOfDay)
}

func (p *Prescription) badgerKey() []byte {
	return badgerKeyForPrescription(p.ID)
}

func badgerKeyForPrescription(id uuid.UUID) []byte {
	return append([]byte("prescription:"), id[:]...)
}
