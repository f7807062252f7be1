package scheduler

import (
	"context"
	"fmt"
	"time"

	"git.0xdad.com/tblyler/meditime/db"
	"git.0xdad.com/tblyler/meditime/reminder"
	"github.com/google/uuid"
)

// TodaySchedule lists the patient's reminders for today with their status.
// It never touches the dedup cache.
func (s *Scheduler) TodaySchedule(ctx context.Context, patientID uuid.UUID) ([]reminder.ScheduleRow, error) {
	if _, err := s.patients.GetPatient(ctx, patientID); err != nil {
		return nil, err
	}

	now := s.now()

	reminders, err := s.reminders.ListRemindersForPatient(ctx, patientID)
	if err != nil {
		return nil, fmt.Errorf("unable to list reminders: %w", err)
	}

	start := reminder.StartOfDay(now)
	logs, err := s.logs.FindLogs(ctx, db.LogQuery{
		PatientID: patientID,
		From:      start,
		To:        start.AddDate(0, 0, 1).Add(-time.Nanosecond),
	})
	if err != nil {
		return nil, fmt.Errorf("unable to find today's logs: %w", err)
	}

	prescriptions := make(map[uuid.UUID]*db.Prescription)
	for _, r := range reminders {
		if r.PrescriptionID == nil {
			continue
		}

		if _, ok := prescriptions[*r.PrescriptionID]; ok {
			continue
		}

		p, err := s.prescriptionOf(ctx, r)
		if err != nil {
			return nil, err
		}

		if p != nil {
			prescriptions[p.ID] = p
		}
	}

	return reminder.Project(reminders, logs, prescriptions, now), nil
}
