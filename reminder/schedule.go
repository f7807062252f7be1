package reminder

import (
	"math"
	"sort"
	"time"

	"git.0xdad.com/tblyler/meditime/db"
	"github.com/google/uuid"
)

// Status of one reminder occurrence in the daily schedule
type Status string

// Occurrence statuses
const (
	StatusPending Status = "pending"
	StatusTaken   Status = "taken"
	StatusSkipped Status = "skipped"
	StatusMissed  Status = "missed"
)

// ScheduleRow is one reminder occurrence of the day
type ScheduleRow struct {
	ID               uuid.UUID  `json:"id"`
	Title            string     `json:"title"`
	Time             string     `json:"time"`
	TimeLocalized    string     `json:"timeLocalized"`
	PrescriptionID   *uuid.UUID `json:"prescriptionId,omitempty"`
	PrescriptionName string     `json:"prescriptionName,omitempty"`
	Status           Status     `json:"status"`
	LogID            *uuid.UUID `json:"logId,omitempty"`
}

// Project builds the schedule for the day of now from a patient's reminders,
// the logs recorded that day, and the prescriptions referenced by the
// reminders. Rows are ordered by time.
func Project(reminders []*db.Reminder, logs []*db.AdherenceLog, prescriptions map[uuid.UUID]*db.Prescription, now time.Time) []ScheduleRow {
	latest := make(map[uuid.UUID]*db.AdherenceLog, len(logs))
	for _, l := range logs {
		if l.ReminderID == nil {
			continue
		}

		if prev, ok := latest[*l.ReminderID]; !ok || !l.TakenAt.Before(prev.TakenAt) {
			latest[*l.ReminderID] = l
		}
	}

	rows := []ScheduleRow{}
	for _, r := range reminders {
		if !r.IsActive || !r.OnDay(now.Weekday()) {
			continue
		}

		at, err := ParseTimeOfDay(r.Time)
		if err != nil {
			continue
		}

		row := ScheduleRow{
			ID:             r.ID,
			Title:          r.Title,
			Time:           at.String(),
			TimeLocalized:  at.Localized(),
			PrescriptionID: r.PrescriptionID,
			Status:         StatusPending,
		}

		if r.PrescriptionID != nil {
			if p, ok := prescriptions[*r.PrescriptionID]; ok {
				row.PrescriptionName = p.FormulaName
			}
		}

		if l, ok := latest[r.ID]; ok {
			id := l.ID
			row.LogID = &id

			row.Status = StatusSkipped
			if l.Status == db.LogTaken {
				row.Status = StatusTaken
			}
		} else if at.On(now, now.Location()).Before(now) {
			row.Status = StatusMissed
		}

		rows = append(rows, row)
	}

	sort.SliceStable(rows, func(i, j int) bool { return rows[i].Time < rows[j].Time })

	return rows
}

// Stats summarizes adherence over a set of logs
type Stats struct {
	Total         int `json:"total"`
	Taken         int `json:"taken"`
	Skipped       int `json:"skipped"`
	Delayed       int `json:"delayed"`
	AdherenceRate int `json:"adherenceRate"`
}

// Summarize counts logs by status. AdherenceRate is the rounded percentage of
// taken doses, 0 when there are no logs.
func Summarize(logs []*db.AdherenceLog) Stats {
	var s Stats
	for _, l := range logs {
		switch l.Status {
		case db.LogTaken:
			s.Taken++
		case db.LogSkipped:
			s.Skipped++
		case db.LogDelayed:
			s.Delayed++
		}
	}

	s.Total = s.Taken + s.Skipped + s.Delayed
	if s.Total > 0 {
		s.AdherenceRate = int(math.Round(float64(s.Taken) / float64(s.Total) * 100))
	}

	return s
}
