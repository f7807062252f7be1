package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"git.0xdad.com/tblyler/meditime/db"
	"git.0xdad.com/tblyler/meditime/logx"
	"git.0xdad.com/tblyler/meditime/notify"
	"git.0xdad.com/tblyler/meditime/reminder"
	"git.0xdad.com/tblyler/meditime/scheduler"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/jmhodges/clock"
	"github.com/stretchr/testify/require"
)

type countingGateway struct {
	sent int
}

func (g *countingGateway) Send(_ context.Context, msg notify.Message) (notify.Result, error) {
	g.sent++
	return notify.Result{Success: true, Delivered: len(msg.Tokens)}, nil
}

type fixture struct {
	store   db.Store
	gateway *countingGateway
	clk     clock.FakeClock
	router  *gin.Engine
	patient *db.Patient
	dose    *db.Reminder
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store, err := db.Open("badger", t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	f := &fixture{store: store, gateway: &countingGateway{}, clk: clock.NewFake()}
	// 2024-03-11 is a Monday
	f.clk.Set(time.Date(2024, time.March, 11, 9, 0, 0, 0, time.UTC))

	sched, err := scheduler.New(scheduler.Config{
		Reminders:     store,
		Prescriptions: store,
		Patients:      store,
		Logs:          store,
		Notifications: store,
		Gateway:       f.gateway,
		Clock:         f.clk,
		Location:      time.UTC,
	})
	require.NoError(t, err)

	ctx := context.Background()
	f.patient = &db.Patient{Name: "alice", PushTokens: map[string]string{"phone": "tok"}}
	require.NoError(t, store.AddPatient(ctx, f.patient))

	prescription := &db.Prescription{PatientID: f.patient.ID, FormulaName: "Gyeji-tang", StartDate: f.clk.Now()}
	require.NoError(t, store.AddPrescription(ctx, prescription))

	f.dose = &db.Reminder{PatientID: f.patient.ID, PrescriptionID: &prescription.ID, Title: "Morning", Time: "08:00", Days: []int{1, 2, 3, 4, 5}, IsActive: true}
	require.NoError(t, store.AddReminder(ctx, f.dose))

	f.router = New(sched, store, f.clk, time.UTC, logx.Nop()).Router()

	return f
}

func (f *fixture) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}

	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)

	return rec
}

func TestHealth(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestTodayScheduleEndpoint(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/patients/"+f.patient.ID.String()+"/schedule/today", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var rows []map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &rows))
	require.Len(t, rows, 1)
	require.Equal(t, f.dose.ID.String(), rows[0]["id"])
	require.Equal(t, "08:00", rows[0]["time"])
	require.Equal(t, "8 AM", rows[0]["timeLocalized"])
	require.Equal(t, "Gyeji-tang", rows[0]["prescriptionName"])
	require.Equal(t, string(reminder.StatusMissed), rows[0]["status"])
	require.NotContains(t, rows[0], "logId")

	rec = f.do(t, http.MethodPost, "/patients/"+f.patient.ID.String()+"/logs", map[string]interface{}{
		"reminder_id": f.dose.ID,
		"taken_at":    time.Date(2024, time.March, 11, 8, 10, 0, 0, time.UTC),
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = f.do(t, http.MethodGet, "/patients/"+f.patient.ID.String()+"/schedule/today", nil)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &rows))
	require.Equal(t, string(reminder.StatusTaken), rows[0]["status"])
	require.Contains(t, rows[0], "logId")
}

func TestBadAndUnknownIDs(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/patients/not-a-uuid/schedule/today", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodGet, "/patients/"+uuid.NewString()+"/schedule/today", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(t, http.MethodPost, "/reminders/"+uuid.NewString()+"/test", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(t, http.MethodPost, "/reminders/nope/test", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestTestReminderEndpoint(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/reminders/"+f.dose.ID.String()+"/test", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"success":true,"outcome":"dispatched"}`, rec.Body.String())
	require.Equal(t, 1, f.gateway.sent)

	notifications, err := f.store.ListNotifications(context.Background(), f.patient.ID)
	require.NoError(t, err)
	require.Len(t, notifications, 1)
	require.Equal(t, "Please take Gyeji-tang.", notifications[0].Body)
}

func TestAddLogValidation(t *testing.T) {
	f := newFixture(t)
	path := "/patients/" + f.patient.ID.String() + "/logs"

	rec := f.do(t, http.MethodPost, path, map[string]interface{}{"status": "forgot"})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPost, path, map[string]interface{}{"reminder_id": uuid.New()})
	require.Equal(t, http.StatusNotFound, rec.Code)

	other := &db.Patient{Name: "bob"}
	require.NoError(t, f.store.AddPatient(context.Background(), other))
	rec = f.do(t, http.MethodPost, "/patients/"+other.ID.String()+"/logs", map[string]interface{}{"reminder_id": f.dose.ID})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPost, path, map[string]interface{}{"status": "skipped"})
	require.Equal(t, http.StatusCreated, rec.Code)

	var entry db.AdherenceLog
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &entry))
	require.Equal(t, db.LogSkipped, entry.Status)
	require.True(t, entry.TakenAt.Equal(f.clk.Now()))
}

func TestAdherenceEndpoint(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for i, status := range []db.LogStatus{db.LogTaken, db.LogTaken, db.LogTaken, db.LogSkipped} {
		require.NoError(t, f.store.AddLog(ctx, &db.AdherenceLog{
			PatientID:      f.patient.ID,
			ReminderID:     &f.dose.ID,
			PrescriptionID: f.dose.PrescriptionID,
			TakenAt:        time.Date(2024, time.March, 7+i, 8, 5, 0, 0, time.UTC),
			Status:         status,
		}))
	}

	rec := f.do(t, http.MethodGet, "/patients/"+f.patient.ID.String()+"/adherence", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var got struct {
		Total         int               `json:"total"`
		Taken         int               `json:"taken"`
		Skipped       int               `json:"skipped"`
		AdherenceRate int               `json:"adherenceRate"`
		Logs          []json.RawMessage `json:"logs"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Equal(t, 4, got.Total)
	require.Equal(t, 3, got.Taken)
	require.Equal(t, 75, got.AdherenceRate)
	require.Len(t, got.Logs, 4)

	rec = f.do(t, http.MethodGet, "/patients/"+f.patient.ID.String()+"/adherence?from=2024-03-09&to=2024-03-09", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Equal(t, 1, got.Total)

	rec = f.do(t, http.MethodGet, "/patients/"+f.patient.ID.String()+"/adherence?prescription_id="+uuid.NewString(), nil)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Zero(t, got.Total)

	rec = f.do(t, http.MethodGet, "/patients/"+f.patient.ID.String()+"/adherence?from=yesterday", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestNotificationsEndpoint(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	path := "/patients/" + f.patient.ID.String() + "/notifications"

	base := time.Date(2024, time.March, 11, 8, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		_, err := f.store.CreateNotification(ctx, &db.Notification{
			PatientID: f.patient.ID,
			Type:      db.CategoryMedication,
			Title:     "Time for medication",
			Body:      "dose " + strconv.Itoa(i),
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		})
		require.NoError(t, err)
	}

	_, err := f.store.CreateNotification(ctx, &db.Notification{
		PatientID: f.patient.ID,
		Type:      db.CategorySystem,
		Title:     "Welcome",
		CreatedAt: base.Add(-time.Hour),
	})
	require.NoError(t, err)

	var resp struct {
		Notifications []db.Notification `json:"notifications"`
		Meta          struct {
			Total      int `json:"total"`
			Page       int `json:"page"`
			Limit      int `json:"limit"`
			TotalPages int `json:"totalPages"`
		} `json:"meta"`
	}

	rec := f.do(t, http.MethodGet, path, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Notifications, 4)
	require.Equal(t, "dose 2", resp.Notifications[0].Body)
	require.Equal(t, "Welcome", resp.Notifications[3].Title)
	require.Equal(t, 4, resp.Meta.Total)
	require.Equal(t, DefaultNotificationLimit, resp.Meta.Limit)

	rec = f.do(t, http.MethodGet, path+"?type=medication&limit=2&page=2", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Notifications, 1)
	require.Equal(t, "dose 0", resp.Notifications[0].Body)
	require.Equal(t, 3, resp.Meta.Total)
	require.Equal(t, 2, resp.Meta.TotalPages)

	rec = f.do(t, http.MethodGet, path+"?page=9", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Empty(t, resp.Notifications)

	rec = f.do(t, http.MethodGet, path+"?limit=500", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodGet, "/patients/"+uuid.NewString()+"/notifications", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDispatchedReminderIsListed(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/reminders/"+f.dose.ID.String()+"/test", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodGet, "/patients/"+f.patient.ID.String()+"/notifications", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "Please take Gyeji-tang.")
	require.Contains(t, rec.Body.String(), f.dose.ID.String())
}
