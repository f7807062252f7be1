package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"git.0xdad.com/tblyler/meditime/db"
	"git.0xdad.com/tblyler/meditime/dedup"
	"git.0xdad.com/tblyler/meditime/logx"
	"git.0xdad.com/tblyler/meditime/notify"
	"git.0xdad.com/tblyler/meditime/reminder"
)

// Missed dose timing
const (
	MissedAfter        = 60 * time.Minute
	MissedWindowBefore = 30 * time.Minute
	MissedWindowAfter  = 90 * time.Minute
)

// CheckMissed asks patients about doses scheduled MissedAfter ago that have
// no adherence log around the scheduled time. It returns the number of
// pushes delivered.
func (s *Scheduler) CheckMissed(ctx context.Context) (int, error) {
	now := s.now()
	prev := now.Add(-MissedAfter)
	scheduled := reminder.Of(prev).On(prev, s.loc)

	snapshot, err := s.reminders.ListActiveReminders(ctx)
	if err != nil {
		err = fmt.Errorf("unable to list active reminders: %w", err)
		s.log.Error("missed dose check failed", logx.Err(err))
		return 0, err
	}

	sent := 0
	for _, r := range reminder.At(snapshot, reminder.Of(scheduled), scheduled.Weekday()) {
		ok, err := s.checkMissed(ctx, r, scheduled, now)
		if err != nil {
			s.log.Error("missed dose check failed",
				logx.String("reminder_id", r.ID.String()),
				logx.String("patient_id", r.PatientID.String()),
				logx.Err(err),
			)
			continue
		}

		if ok {
			sent++
		}
	}

	if _, err := s.missed.EvictOlderThan(ctx, now.Add(-s.cacheMaxAge)); err != nil {
		s.log.Warn("missed dose record eviction failed", logx.Err(err))
	}

	return sent, nil
}

func (s *Scheduler) checkMissed(ctx context.Context, r *db.Reminder, scheduled, now time.Time) (bool, error) {
	log := s.log.With(logx.String("reminder_id", r.ID.String()), logx.String("patient_id", r.PatientID.String()))

	key := dedup.Key(r.ID, scheduled)
	if _, done, _ := s.missed.Get(ctx, key); done {
		return false, nil
	}

	reminderID := r.ID
	logs, err := s.logs.FindLogs(ctx, db.LogQuery{
		PatientID:  r.PatientID,
		ReminderID: &reminderID,
		From:       scheduled.Add(-MissedWindowBefore),
		To:         scheduled.Add(MissedWindowAfter),
	})
	if err != nil {
		return false, fmt.Errorf("unable to find adherence logs: %w", err)
	}

	if len(logs) > 0 {
		return false, nil
	}

	patient, err := s.patients.GetPatient(ctx, r.PatientID)
	if errors.Is(err, db.ErrNotFound) {
		log.Warn("patient not found, skipping missed dose check")
		return false, nil
	}

	if err != nil {
		return false, fmt.Errorf("unable to get patient: %w", err)
	}

	tokens := patient.Tokens()
	if len(tokens) == 0 {
		return false, nil
	}

	settings, err := s.settings.Resolve(ctx, r.PatientID)
	if err != nil {
		return false, err
	}

	if !settings.Enabled(db.CategoryMedication) || s.inQuietHours(settings, now, log) {
		return false, nil
	}

	prescription, err := s.prescriptionOf(ctx, r)
	if err != nil {
		return false, err
	}

	msg := notify.MissedDose(r, prescription)
	msg.Tokens = tokens

	result, err := s.gateway.Send(ctx, msg)
	if err != nil {
		return false, fmt.Errorf("missed dose push failed: %w", err)
	}

	if !result.Success {
		log.Error("missed dose push rejected", logx.String("error", result.Error))
		return false, s.missed.Set(ctx, key, now)
	}

	if err := s.missed.Set(ctx, key, now); err != nil {
		return true, err
	}

	log.Info("missed dose reminder sent")

	return true, nil
}
