package notify

import (
	"fmt"

	"git.0xdad.com/tblyler/meditime/db"
	"git.0xdad.com/tblyler/meditime/reminder"
)

// Data types carried in push payloads
const (
	TypeMedication       = "medication"
	TypeMedicationMissed = "medication_missed"
)

// MedicationReminder builds the push for a due reminder. prescription may be nil.
func MedicationReminder(r *db.Reminder, prescription *db.Prescription) Message {
	title := r.Title
	if title == "" {
		title = "Time for medication"
	}

	body := "Please take your medication."
	switch {
	case prescription != nil:
		body = fmt.Sprintf("Please take %s.", prescription.FormulaName)
	case r.Notes != "":
		body = r.Notes
	}

	data := map[string]string{
		"type":         TypeMedication,
		"reminderId":   r.ID.String(),
		"reminderTime": r.Time,
	}

	if r.PrescriptionID != nil {
		data["prescriptionId"] = r.PrescriptionID.String()
	}

	return Message{
		Title:     title,
		Body:      body,
		Data:      data,
		ChannelID: ChannelMedication,
		Priority:  PriorityHigh,
	}
}

// MissedDose builds the follow up push asking whether a dose was taken
func MissedDose(r *db.Reminder, prescription *db.Prescription) Message {
	at := r.Time
	if t, err := reminder.ParseTimeOfDay(r.Time); err == nil {
		at = t.Localized()
	}

	body := fmt.Sprintf("Your medication was due at %s.", at)
	if prescription != nil {
		body = fmt.Sprintf("Your %s dose was due at %s.", prescription.FormulaName, at)
	}

	data := map[string]string{
		"type":       TypeMedicationMissed,
		"reminderId": r.ID.String(),
	}

	if r.PrescriptionID != nil {
		data["prescriptionId"] = r.PrescriptionID.String()
	}

	return Message{
		Title:     "Did you take your medication?",
		Body:      body,
		Data:      data,
		ChannelID: ChannelMedication,
		Priority:  PriorityHigh,
	}
}
