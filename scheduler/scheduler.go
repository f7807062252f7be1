// Package scheduler runs the medication reminder pipelines: the per-minute due
// check, the half-hourly missed dose check, and daily maintenance.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"git.0xdad.com/tblyler/meditime/db"
	"git.0xdad.com/tblyler/meditime/dedup"
	"git.0xdad.com/tblyler/meditime/logx"
	"git.0xdad.com/tblyler/meditime/notify"
	"github.com/google/uuid"
	"github.com/jmhodges/clock"
	"github.com/robfig/cron/v3"
)

// Defaults applied by New
const (
	DefaultCooldown        = 5 * time.Minute
	DefaultCacheMaxAge     = 24 * time.Hour
	DefaultDueSpec         = "* * * * *"
	DefaultMissedSpec      = "*/30 * * * *"
	DefaultMaintenanceSpec = "0 0 * * *"
)

// ReminderStore reads reminders and deactivates expired ones
type ReminderStore interface {
	GetReminder(ctx context.Context, id uuid.UUID) (*db.Reminder, error)
	ListActiveReminders(ctx context.Context) ([]*db.Reminder, error)
	ListRemindersForPatient(ctx context.Context, patientID uuid.UUID) ([]*db.Reminder, error)
	DeactivateExpiredReminders(ctx context.Context, asOf time.Time) (int, error)
}

// PrescriptionStore reads prescriptions
type PrescriptionStore interface {
	GetPrescription(ctx context.Context, id uuid.UUID) (*db.Prescription, error)
}

// PatientStore reads patients
type PatientStore interface {
	GetPatient(ctx context.Context, id uuid.UUID) (*db.Patient, error)
}

// LogStore reads adherence logs
type LogStore interface {
	FindLogs(ctx context.Context, query db.LogQuery) ([]*db.AdherenceLog, error)
}

// NotificationSink records in-app notifications
type NotificationSink interface {
	CreateNotification(ctx context.Context, notification *db.Notification) (uuid.UUID, error)
}

// Config of a Scheduler. Every store and the gateway are required.
type Config struct {
	Reminders     ReminderStore
	Prescriptions PrescriptionStore
	Patients      PatientStore
	Logs          LogStore
	Notifications NotificationSink
	// Settings defaults to reading the patient profile
	Settings notify.Resolver
	Gateway  notify.Gateway
	// Cache defaults to a process local cache
	Cache    dedup.Cache
	Clock    clock.Clock
	Location *time.Location
	Log      logx.Logger

	Cooldown        time.Duration
	CacheMaxAge     time.Duration
	DueSpec         string
	MissedSpec      string
	MaintenanceSpec string
}

// Scheduler of medication reminders
type Scheduler struct {
	reminders     ReminderStore
	prescriptions PrescriptionStore
	patients      PatientStore
	logs          LogStore
	notifications NotificationSink
	settings      notify.Resolver
	gateway       notify.Gateway
	cache         dedup.Cache
	missed        *dedup.Memory
	clk           clock.Clock
	loc           *time.Location
	log           logx.Logger

	cooldown        time.Duration
	cacheMaxAge     time.Duration
	dueSpec         string
	missedSpec      string
	maintenanceSpec string

	mu   sync.Mutex
	cron *cron.Cron
}

// New validates cfg and fills in defaults
func New(cfg Config) (*Scheduler, error) {
	switch {
	case cfg.Reminders == nil:
		return nil, errors.New("scheduler requires a reminder store")
	case cfg.Prescriptions == nil:
		return nil, errors.New("scheduler requires a prescription store")
	case cfg.Patients == nil:
		return nil, errors.New("scheduler requires a patient store")
	case cfg.Logs == nil:
		return nil, errors.New("scheduler requires a log store")
	case cfg.Notifications == nil:
		return nil, errors.New("scheduler requires a notification sink")
	case cfg.Gateway == nil:
		return nil, errors.New("scheduler requires a push gateway")
	}

	s := &Scheduler{
		reminders:       cfg.Reminders,
		prescriptions:   cfg.Prescriptions,
		patients:        cfg.Patients,
		logs:            cfg.Logs,
		notifications:   cfg.Notifications,
		settings:        cfg.Settings,
		gateway:         cfg.Gateway,
		cache:           cfg.Cache,
		missed:          dedup.NewMemory(),
		clk:             cfg.Clock,
		loc:             cfg.Location,
		log:             cfg.Log,
		cooldown:        cfg.Cooldown,
		cacheMaxAge:     cfg.CacheMaxAge,
		dueSpec:         cfg.DueSpec,
		missedSpec:      cfg.MissedSpec,
		maintenanceSpec: cfg.MaintenanceSpec,
	}

	if s.settings == nil {
		s.settings = notify.PatientResolver{Patients: cfg.Patients}
	}

	if s.cache == nil {
		s.cache = dedup.NewMemory()
	}

	if s.clk == nil {
		s.clk = clock.New()
	}

	if s.loc == nil {
		s.loc = time.Local
	}

	if s.log.IsZero() {
		s.log = logx.Nop()
	}
	s.log = s.log.With(logx.String("comp", "scheduler"))

	if s.cooldown <= 0 {
		s.cooldown = DefaultCooldown
	}

	if s.cacheMaxAge <= 0 {
		s.cacheMaxAge = DefaultCacheMaxAge
	}

	if s.dueSpec == "" {
		s.dueSpec = DefaultDueSpec
	}

	if s.missedSpec == "" {
		s.missedSpec = DefaultMissedSpec
	}

	if s.maintenanceSpec == "" {
		s.maintenanceSpec = DefaultMaintenanceSpec
	}

	return s, nil
}

// now in the scheduler's location
func (s *Scheduler) now() time.Time {
	return s.clk.Now().In(s.loc)
}

// Start the periodic triggers. A trigger never overlaps itself; different
// triggers may run at the same time.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cron != nil {
		return errors.New("scheduler already started")
	}

	logger := logx.CronLogger(s.log)
	c := cron.New(
		cron.WithLocation(s.loc),
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)

	jobs := []struct {
		name string
		spec string
		run  func()
	}{
		{"due", s.dueSpec, func() { _, _ = s.CheckDue(ctx) }},
		{"missed", s.missedSpec, func() { _, _ = s.CheckMissed(ctx) }},
		{"maintenance", s.maintenanceSpec, func() { _, _ = s.Maintain(ctx) }},
	}

	for _, job := range jobs {
		if _, err := c.AddFunc(job.spec, job.run); err != nil {
			return fmt.Errorf("unable to schedule %s trigger %q: %w", job.name, job.spec, err)
		}
	}

	c.Start()
	s.cron = c

	s.log.Info("scheduler started",
		logx.String("tz", s.loc.String()),
		logx.String("due", s.dueSpec),
		logx.String("missed", s.missedSpec),
		logx.String("maintenance", s.maintenanceSpec),
	)

	return nil
}

// Stop the triggers and wait for running jobs, or for ctx to end
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	c := s.cron
	s.cron = nil
	s.mu.Unlock()

	if c == nil {
		return nil
	}

	select {
	case <-c.Stop().Done():
		s.log.Info("scheduler stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for scheduler jobs: %w", ctx.Err())
	}
}
