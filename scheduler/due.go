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
	"github.com/google/uuid"
)

// ErrReminderNotFound occurs when a manual trigger names an unknown reminder
var ErrReminderNotFound = fmt.Errorf("reminder %w", db.ErrNotFound)

// Outcome of running the dispatch pipeline for one reminder
type Outcome string

// Dispatch outcomes
const (
	// OutcomeDispatched means the occurrence was delivered, or recorded in-app
	// when the patient has no devices
	OutcomeDispatched Outcome = "dispatched"
	// OutcomeSuppressed means the occurrence was handled within the cooldown
	OutcomeSuppressed Outcome = "suppressed"
	// OutcomeSkipped means the patient is gone, opted out, or in quiet hours
	OutcomeSkipped Outcome = "skipped"
	// OutcomeRejected means the gateway refused the push; the occurrence is
	// marked and not retried
	OutcomeRejected Outcome = "rejected"
	// OutcomeFailed means the attempt failed and the next tick retries it
	OutcomeFailed Outcome = "failed"
)

// TickReport summarizes one per-minute tick
type TickReport struct {
	Matched    int
	Dispatched int
	Suppressed int
	Skipped    int
	Rejected   int
	Failed     int
	Evicted    int
}

func (r *TickReport) add(o Outcome) {
	switch o {
	case OutcomeDispatched:
		r.Dispatched++
	case OutcomeSuppressed:
		r.Suppressed++
	case OutcomeSkipped:
		r.Skipped++
	case OutcomeRejected:
		r.Rejected++
	case OutcomeFailed:
		r.Failed++
	}
}

// findActiveDue returns the occurrences of active reminders due at now
func (s *Scheduler) findActiveDue(ctx context.Context, now time.Time) ([]reminder.Occurrence, error) {
	snapshot, err := s.reminders.ListActiveReminders(ctx)
	if err != nil {
		return nil, fmt.Errorf("unable to list active reminders: %w", err)
	}

	return reminder.Due(snapshot, now), nil
}

// CheckDue dispatches every reminder due now, then evicts stale cache
// entries. A failure on one reminder does not stop the others; a failure to
// read the reminders aborts the tick.
func (s *Scheduler) CheckDue(ctx context.Context) (TickReport, error) {
	var report TickReport
	now := s.now()

	due, err := s.findActiveDue(ctx, now)
	if err != nil {
		s.log.Error("due check failed", logx.Err(err))
		return report, err
	}

	report.Matched = len(due)
	if len(due) > 0 {
		s.log.Info("dispatching due reminders", logx.Int("count", len(due)), logx.String("at", reminder.Of(now).String()))
	}

	for _, occ := range due {
		r := occ.Reminder
		outcome, err := s.dispatch(ctx, r, occ.At, now)
		if err != nil {
			s.log.Error("reminder dispatch failed",
				logx.String("reminder_id", r.ID.String()),
				logx.String("patient_id", r.PatientID.String()),
				logx.Err(err),
			)
		}

		report.add(outcome)
	}

	evicted, err := s.cache.EvictOlderThan(ctx, now.Add(-s.cacheMaxAge))
	if err != nil {
		s.log.Warn("dedup eviction failed", logx.Err(err))
	}
	report.Evicted = evicted

	return report, nil
}

// SendTestReminder runs the dispatch pipeline for one reminder regardless of
// its time and weekday
func (s *Scheduler) SendTestReminder(ctx context.Context, id uuid.UUID) (Outcome, error) {
	r, err := s.reminders.GetReminder(ctx, id)
	if errors.Is(err, db.ErrNotFound) {
		return "", fmt.Errorf("%w: %s", ErrReminderNotFound, id)
	}

	if err != nil {
		return "", fmt.Errorf("unable to get reminder %s: %w", id, err)
	}

	now := s.now()
	outcome, err := s.dispatch(ctx, r, now, now)
	if err != nil {
		return outcome, err
	}

	s.log.Info("test reminder sent", logx.String("reminder_id", id.String()), logx.String("outcome", string(outcome)))

	return outcome, nil
}

// dispatch runs the pipeline for the occurrence of r scheduled at occurrence.
// The dedup key is dated by the occurrence so ticks on either side of
// midnight share it.
func (s *Scheduler) dispatch(ctx context.Context, r *db.Reminder, occurrence, now time.Time) (Outcome, error) {
	log := s.log.With(logx.String("reminder_id", r.ID.String()), logx.String("patient_id", r.PatientID.String()))
	key := dedup.Key(r.ID, occurrence)

	last, ok, err := s.cache.Get(ctx, key)
	if err != nil {
		return OutcomeFailed, fmt.Errorf("unable to read dedup key %s: %w", key, err)
	}

	if ok && now.Sub(last) < s.cooldown {
		log.Debug("reminder in cooldown", logx.Time("last", last))
		return OutcomeSuppressed, nil
	}

	patient, err := s.patients.GetPatient(ctx, r.PatientID)
	if errors.Is(err, db.ErrNotFound) {
		log.Warn("patient not found, skipping reminder")
		return OutcomeSkipped, nil
	}

	if err != nil {
		return OutcomeFailed, fmt.Errorf("unable to get patient: %w", err)
	}

	settings, err := s.settings.Resolve(ctx, r.PatientID)
	if err != nil {
		return OutcomeFailed, err
	}

	if !settings.Enabled(db.CategoryMedication) {
		log.Debug("medication notifications disabled")
		return OutcomeSkipped, s.mark(ctx, key, now)
	}

	if s.inQuietHours(settings, now, log) {
		log.Debug("patient in quiet hours")
		return OutcomeSkipped, s.mark(ctx, key, now)
	}

	prescription, err := s.prescriptionOf(ctx, r)
	if err != nil {
		return OutcomeFailed, err
	}

	msg := notify.MedicationReminder(r, prescription)

	_, err = s.notifications.CreateNotification(ctx, &db.Notification{
		PatientID: r.PatientID,
		Type:      db.CategoryMedication,
		Title:     msg.Title,
		Body:      msg.Body,
		Data:      msg.Data,
	})
	if err != nil {
		return OutcomeFailed, fmt.Errorf("unable to record in-app notification: %w", err)
	}

	msg.Tokens = patient.Tokens()
	if len(msg.Tokens) == 0 {
		log.Debug("no push tokens, in-app notification only")
		return OutcomeDispatched, s.mark(ctx, key, now)
	}

	result, err := s.gateway.Send(ctx, msg)
	if err != nil {
		return OutcomeFailed, fmt.Errorf("push delivery failed: %w", err)
	}

	if !result.Success {
		log.Error("push delivery rejected", logx.String("error", result.Error))
		return OutcomeRejected, s.mark(ctx, key, now)
	}

	log.Info("medication reminder sent", logx.Int("devices", result.Delivered))

	return OutcomeDispatched, s.mark(ctx, key, now)
}

func (s *Scheduler) mark(ctx context.Context, key string, now time.Time) error {
	if err := s.cache.Set(ctx, key, now); err != nil {
		return fmt.Errorf("unable to mark dedup key %s: %w", key, err)
	}

	return nil
}

// inQuietHours reports whether now falls in the patient's quiet hours. A
// malformed window is logged and ignored.
func (s *Scheduler) inQuietHours(settings db.NotificationSettings, now time.Time, log logx.Logger) bool {
	quiet, err := reminder.ParseQuietHours(settings.QuietHoursStart, settings.QuietHoursEnd)
	if err != nil {
		log.Warn("ignoring malformed quiet hours", logx.Err(err))
		return false
	}

	return quiet.Contains(now)
}

// prescriptionOf returns the reminder's prescription, nil when it has none or it no longer exists
func (s *Scheduler) prescriptionOf(ctx context.Context, r *db.Reminder) (*db.Prescription, error) {
	if r.PrescriptionID == nil {
		return nil, nil
	}

	p, err := s.prescriptions.GetPrescription(ctx, *r.PrescriptionID)
	if errors.Is(err, db.ErrNotFound) {
		return nil, nil
	}

	if err != nil {
		return nil, fmt.Errorf("unable to get prescription %s: %w", *r.PrescriptionID, err)
	}

	return p, nil
}
