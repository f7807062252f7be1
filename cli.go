package main

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"git.0xdad.com/tblyler/meditime/config"
	"git.0xdad.com/tblyler/meditime/db"
	"git.0xdad.com/tblyler/meditime/logx"
	"git.0xdad.com/tblyler/meditime/reminder"
	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/jmhodges/clock"
)

// cli runs the interactive management commands, prompting on stdin
type cli struct {
	args  []string
	in    *bufio.Scanner
	cfg   config.Config
	store db.Store
	log   logx.Logger
	loc   *time.Location
	clk   clock.Clock
}

func newCLI(cfg config.Config, store db.Store, logger logx.Logger, args []string, in *bufio.Scanner) (*cli, error) {
	loc, err := cfg.Timezone()
	if err != nil {
		return nil, err
	}

	return &cli{
		args:  args,
		in:    in,
		cfg:   cfg,
		store: store,
		log:   logger,
		loc:   loc,
		clk:   clock.New(),
	}, nil
}

func (c *cli) dispatch(ctx context.Context) error {
	if len(c.args) < 2 && c.args[0] != "maintain" {
		return fmt.Errorf("must supply an argument to the %s command", c.args[0])
	}

	sub := ""
	if len(c.args) > 1 {
		sub = c.args[1]
	}

	switch c.args[0] + " " + sub {
	case "patient add":
		return c.patientAdd(ctx)
	case "patient get":
		return c.patientGet(ctx)
	case "patient list":
		return c.patientList(ctx)
	case "prescription add":
		return c.prescriptionAdd(ctx)
	case "prescription list":
		return c.prescriptionList(ctx)
	case "reminder add":
		return c.reminderAdd(ctx)
	case "reminder list":
		return c.reminderList(ctx)
	case "reminder remove":
		return c.reminderRemove(ctx)
	case "reminder test":
		return c.reminderTest(ctx)
	case "log add":
		return c.logAdd(ctx)
	case "notification list":
		return c.notificationList(ctx)
	case "schedule today":
		return c.scheduleToday(ctx)
	case "maintain ":
		return c.maintain(ctx)
	}

	return fmt.Errorf("unknown command %q", strings.TrimSpace(strings.Join(c.args, " ")))
}

// prompt for a required value
func (c *cli) prompt(label string) (string, error) {
	v := c.promptOptional(label)
	if v == "" {
		return "", fmt.Errorf("failed to get %s from STDIN prompt: %w", label, c.in.Err())
	}

	return v, nil
}

// promptOptional returns an empty string when nothing was entered
func (c *cli) promptOptional(label string) string {
	fmt.Print(label + ": ")
	c.in.Scan()

	return string(bytes.TrimSpace(c.in.Bytes()))
}

func (c *cli) promptPatient(ctx context.Context) (*db.Patient, error) {
	name, err := c.prompt("patient name")
	if err != nil {
		return nil, err
	}

	patient, err := c.store.GetPatientByName(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("failed to lookup patient %s: %w", name, err)
	}

	return patient, nil
}

func (c *cli) promptID(label string) (uuid.UUID, error) {
	raw, err := c.prompt(label)
	if err != nil {
		return uuid.Nil, err
	}

	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid %s %q: %w", label, raw, err)
	}

	return id, nil
}

func (c *cli) promptDate(label string, def *time.Time) (*time.Time, error) {
	raw := c.promptOptional(label)
	if raw == "" {
		return def, nil
	}

	t, err := time.ParseInLocation("2006-01-02", raw, c.loc)
	if err != nil {
		return nil, fmt.Errorf("invalid %s %q, expected YYYY-MM-DD", label, raw)
	}

	return &t, nil
}

func (c *cli) patientAdd(ctx context.Context) error {
	name, err := c.prompt("patient name")
	if err != nil {
		return err
	}

	patient := &db.Patient{Name: name, PushTokens: map[string]string{}}

	if token := c.promptOptional("pushover device token (optional)"); token != "" {
		label := c.promptOptional("device label [default]")
		if label == "" {
			label = "default"
		}

		patient.PushTokens[label] = token
	}

	start := c.promptOptional("quiet hours start HH:mm (optional)")
	end := ""
	if start != "" {
		end, err = c.prompt("quiet hours end HH:mm")
		if err != nil {
			return err
		}
	}

	if _, err := reminder.ParseQuietHours(start, end); err != nil {
		return err
	}

	patient.Settings.QuietHoursStart = start
	patient.Settings.QuietHoursEnd = end

	if err := c.store.AddPatient(ctx, patient); err != nil {
		return fmt.Errorf("failed to insert patient %s: %w", name, err)
	}

	log("created patient id", patient.ID)

	return nil
}

func (c *cli) patientGet(ctx context.Context) error {
	patient, err := c.promptPatient(ctx)
	if err != nil {
		return err
	}

	log("id:", patient.ID)
	log("name:", patient.Name)
	log("created:", humanize.Time(patient.CreatedAt))

	for label := range patient.PushTokens {
		log("device:", label)
	}

	for _, category := range db.Categories {
		log(fmt.Sprintf("notifications %s: %t", category, patient.Settings.Enabled(category)))
	}

	if patient.Settings.QuietHoursStart != "" {
		log("quiet hours:", patient.Settings.QuietHoursStart, "-", patient.Settings.QuietHoursEnd)
	}

	return nil
}

func (c *cli) patientList(ctx context.Context) error {
	patients, err := c.store.ListPatients(ctx)
	if err != nil {
		return err
	}

	for _, patient := range patients {
		log(patient.ID, patient.Name, fmt.Sprintf("%d devices", len(patient.Tokens())), "created", humanize.Time(patient.CreatedAt))
	}

	return nil
}

func (c *cli) prescriptionAdd(ctx context.Context) error {
	patient, err := c.promptPatient(ctx)
	if err != nil {
		return err
	}

	formula, err := c.prompt("formula name")
	if err != nil {
		return err
	}

	today := reminder.StartOfDay(c.clk.Now().In(c.loc))
	start, err := c.promptDate("start date YYYY-MM-DD [today]", &today)
	if err != nil {
		return err
	}

	end, err := c.promptDate("end date YYYY-MM-DD (optional)", nil)
	if err != nil {
		return err
	}

	if end != nil && end.Before(*start) {
		return errors.New("end date is before start date")
	}

	prescription := &db.Prescription{
		PatientID:   patient.ID,
		FormulaName: formula,
		StartDate:   *start,
		EndDate:     end,
	}

	if err := c.store.AddPrescription(ctx, prescription); err != nil {
		return err
	}

	log("created prescription id", prescription.ID)

	return nil
}

func (c *cli) prescriptionList(ctx context.Context) error {
	patient, err := c.promptPatient(ctx)
	if err != nil {
		return err
	}

	prescriptions, err := c.store.ListPrescriptionsForPatient(ctx, patient.ID)
	if err != nil {
		return err
	}

	for _, p := range prescriptions {
		until := "open ended"
		if p.EndDate != nil {
			until = "until " + p.EndDate.In(c.loc).Format("2006-01-02")
		}

		log(p.ID, p.FormulaName, "from", p.StartDate.In(c.loc).Format("2006-01-02"), until)
	}

	return nil
}

func (c *cli) reminderAdd(ctx context.Context) error {
	patient, err := c.promptPatient(ctx)
	if err != nil {
		return err
	}

	title := c.promptOptional("title (optional)")

	rawTime, err := c.prompt("time HH:mm")
	if err != nil {
		return err
	}

	at, err := reminder.ParseTimeOfDay(rawTime)
	if err != nil {
		return err
	}

	rawDays := c.promptOptional("weekdays 0=Sunday..6=Saturday [0,1,2,3,4,5,6]")
	if rawDays == "" {
		rawDays = "0,1,2,3,4,5,6"
	}

	days, err := reminder.ParseDays(rawDays)
	if err != nil {
		return err
	}

	r := &db.Reminder{
		PatientID: patient.ID,
		Title:     title,
		Time:      at.String(),
		Days:      days,
		IsActive:  true,
	}

	if raw := c.promptOptional("prescription id (optional)"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			return fmt.Errorf("invalid prescription id %q: %w", raw, err)
		}

		prescription, err := c.store.GetPrescription(ctx, id)
		if err != nil {
			return err
		}

		if prescription.PatientID != patient.ID {
			return fmt.Errorf("prescription %s belongs to another patient", id)
		}

		r.PrescriptionID = &id
	}

	r.Notes = c.promptOptional("notes (optional)")

	if err := c.store.AddReminder(ctx, r); err != nil {
		return err
	}

	log("created reminder id", r.ID)

	return nil
}

func (c *cli) reminderList(ctx context.Context) error {
	patient, err := c.promptPatient(ctx)
	if err != nil {
		return err
	}

	reminders, err := c.store.ListRemindersForPatient(ctx, patient.ID)
	if err != nil {
		return err
	}

	for _, r := range reminders {
		state := "active"
		if !r.IsActive {
			state = "inactive"
		}

		log(r.ID, r.Time, r.Days, r.Title, state)
	}

	return nil
}

func (c *cli) reminderRemove(ctx context.Context) error {
	id, err := c.promptID("reminder id")
	if err != nil {
		return err
	}

	if err := c.store.RemoveReminder(ctx, id); err != nil {
		return err
	}

	log("removed reminder id", id)

	return nil
}

func (c *cli) reminderTest(ctx context.Context) error {
	id, err := c.promptID("reminder id")
	if err != nil {
		return err
	}

	sched, closeCache, err := newScheduler(ctx, c.cfg, c.store, c.log, true)
	if err != nil {
		return err
	}
	defer closeCache()

	outcome, err := sched.SendTestReminder(ctx, id)
	if err != nil {
		return err
	}

	log("test reminder", outcome)

	return nil
}

func (c *cli) logAdd(ctx context.Context) error {
	patient, err := c.promptPatient(ctx)
	if err != nil {
		return err
	}

	entry := &db.AdherenceLog{PatientID: patient.ID, Status: db.LogTaken, TakenAt: c.clk.Now()}

	if raw := c.promptOptional("reminder id (optional)"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			return fmt.Errorf("invalid reminder id %q: %w", raw, err)
		}

		r, err := c.store.GetReminder(ctx, id)
		if err != nil {
			return err
		}

		if r.PatientID != patient.ID {
			return fmt.Errorf("reminder %s belongs to another patient", id)
		}

		entry.ReminderID = &id
		entry.PrescriptionID = r.PrescriptionID
	}

	if raw := c.promptOptional("status taken|skipped|delayed [taken]"); raw != "" {
		entry.Status = db.LogStatus(strings.ToLower(raw))
		if !entry.Status.Valid() {
			return fmt.Errorf("invalid status %q", raw)
		}
	}

	entry.Notes = c.promptOptional("notes (optional)")

	if err := c.store.AddLog(ctx, entry); err != nil {
		return err
	}

	log("recorded", entry.Status, "at", entry.TakenAt.In(c.loc).Format(time.Kitchen), "log id", entry.ID)

	return nil
}

func (c *cli) notificationList(ctx context.Context) error {
	patient, err := c.promptPatient(ctx)
	if err != nil {
		return err
	}

	notifications, err := c.store.ListNotifications(ctx, patient.ID)
	if err != nil {
		return err
	}

	for i := len(notifications) - 1; i >= 0; i-- {
		n := notifications[i]
		log(humanize.Time(n.CreatedAt), n.Type, n.Title+":", n.Body)
	}

	return nil
}

func (c *cli) scheduleToday(ctx context.Context) error {
	patient, err := c.promptPatient(ctx)
	if err != nil {
		return err
	}

	sched, closeCache, err := newScheduler(ctx, c.cfg, c.store, c.log, false)
	if err != nil {
		return err
	}
	defer closeCache()

	rows, err := sched.TodaySchedule(ctx, patient.ID)
	if err != nil {
		return err
	}

	for _, row := range rows {
		line := fmt.Sprintf("%-8s %-8s %s", row.TimeLocalized, row.Status, row.Title)
		if row.PrescriptionName != "" {
			line += " (" + row.PrescriptionName + ")"
		}

		log(line)
	}

	return nil
}

func (c *cli) maintain(ctx context.Context) error {
	sched, closeCache, err := newScheduler(ctx, c.cfg, c.store, c.log, false)
	if err != nil {
		return err
	}
	defer closeCache()

	deactivated, err := sched.Maintain(ctx)
	if err != nil {
		return err
	}

	log("deactivated", deactivated, "expired reminders")

	return nil
}
