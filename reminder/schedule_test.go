package reminder

import (
	"testing"

	"git.0xdad.com/tblyler/meditime/db"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestProjectStatuses(t *testing.T) {
	t.Parallel()

	prescription := &db.Prescription{ID: uuid.New(), FormulaName: "Gyeji-tang"}
	r := newReminder("08:00", 1)
	r.PrescriptionID = &prescription.ID
	prescriptions := map[uuid.UUID]*db.Prescription{prescription.ID: prescription}

	rows := Project([]*db.Reminder{r}, nil, prescriptions, monday(7, 0))
	require.Len(t, rows, 1)
	require.Equal(t, StatusPending, rows[0].Status)
	require.Equal(t, "Gyeji-tang", rows[0].PrescriptionName)
	require.Equal(t, "8 AM", rows[0].TimeLocalized)
	require.Nil(t, rows[0].LogID)

	rows = Project([]*db.Reminder{r}, nil, prescriptions, monday(9, 0))
	require.Equal(t, StatusMissed, rows[0].Status)

	taken := &db.AdherenceLog{ID: uuid.New(), ReminderID: &r.ID, TakenAt: monday(8, 10), Status: db.LogTaken}
	rows = Project([]*db.Reminder{r}, []*db.AdherenceLog{taken}, prescriptions, monday(9, 0))
	require.Equal(t, StatusTaken, rows[0].Status)
	require.Equal(t, taken.ID, *rows[0].LogID)

	delayed := &db.AdherenceLog{ID: uuid.New(), ReminderID: &r.ID, TakenAt: monday(8, 20), Status: db.LogDelayed}
	rows = Project([]*db.Reminder{r}, []*db.AdherenceLog{taken, delayed}, prescriptions, monday(9, 0))
	require.Equal(t, StatusSkipped, rows[0].Status)
	require.Equal(t, delayed.ID, *rows[0].LogID)
}

func TestProjectFiltersAndOrders(t *testing.T) {
	t.Parallel()

	evening := newReminder("19:30", 1)
	morning := newReminder("08:00", 1)
	tuesday := newReminder("12:00", 2)
	inactive := newReminder("10:00", 1)
	inactive.IsActive = false

	rows := Project([]*db.Reminder{evening, tuesday, morning, inactive}, nil, nil, monday(6, 0))
	require.Len(t, rows, 2)
	require.Equal(t, morning.ID, rows[0].ID)
	require.Equal(t, evening.ID, rows[1].ID)
	require.Equal(t, "7:30 PM", rows[1].TimeLocalized)
}

func TestSummarize(t *testing.T) {
	t.Parallel()

	require.Equal(t, Stats{}, Summarize(nil))

	logs := []*db.AdherenceLog{
		{Status: db.LogTaken},
		{Status: db.LogTaken},
		{Status: db.LogSkipped},
	}

	got := Summarize(logs)
	require.Equal(t, 3, got.Total)
	require.Equal(t, 2, got.Taken)
	require.Equal(t, 1, got.Skipped)
	require.Equal(t, 67, got.AdherenceRate)
}
