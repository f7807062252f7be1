package notify

import (
	"context"
	"fmt"

	"git.0xdad.com/tblyler/meditime/db"
	"github.com/google/uuid"
)

// Resolver looks up a patient's notification settings
type Resolver interface {
	Resolve(ctx context.Context, patientID uuid.UUID) (db.NotificationSettings, error)
}

// PatientStore reads patients
type PatientStore interface {
	GetPatient(ctx context.Context, id uuid.UUID) (*db.Patient, error)
}

// PatientResolver reads settings from the patient profile
type PatientResolver struct {
	Patients PatientStore
}

// Resolve the settings of the patient
func (r PatientResolver) Resolve(ctx context.Context, patientID uuid.UUID) (db.NotificationSettings, error) {
	patient, err := r.Patients.GetPatient(ctx, patientID)
	if err != nil {
		return db.NotificationSettings{}, fmt.Errorf("unable to resolve notification settings: %w", err)
	}

	return patient.Settings, nil
}
