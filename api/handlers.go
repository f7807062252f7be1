package api

import (
	"net/http"
	"strconv"
	"time"

	"git.0xdad.com/tblyler/meditime/db"
	"git.0xdad.com/tblyler/meditime/reminder"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

func (s *Server) todaySchedule(c *gin.Context) {
	patientID, err := paramID(c)
	if err != nil {
		s.fail(c, err)
		return
	}

	rows, err := s.sched.TodaySchedule(c.Request.Context(), patientID)
	if err != nil {
		s.fail(c, err)
		return
	}

	c.JSON(http.StatusOK, rows)
}

func (s *Server) testReminder(c *gin.Context) {
	id, err := paramID(c)
	if err != nil {
		s.fail(c, err)
		return
	}

	outcome, err := s.sched.SendTestReminder(c.Request.Context(), id)
	if err != nil {
		s.fail(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "outcome": outcome})
}

type adherenceResponse struct {
	reminder.Stats
	From time.Time          `json:"from"`
	To   time.Time          `json:"to"`
	Logs []*db.AdherenceLog `json:"logs"`
}

// adherence defaults to the last 30 days ending today
func (s *Server) adherence(c *gin.Context) {
	ctx := c.Request.Context()

	patientID, err := paramID(c)
	if err != nil {
		s.fail(c, err)
		return
	}

	today := reminder.StartOfDay(s.clk.Now().In(s.loc))
	from, to := today.AddDate(0, 0, -29), today.AddDate(0, 0, 1).Add(-time.Nanosecond)

	if v := c.Query("from"); v != "" {
		if from, err = s.parseDate(v); err != nil {
			s.fail(c, err)
			return
		}
	}

	if v := c.Query("to"); v != "" {
		day, err := s.parseDate(v)
		if err != nil {
			s.fail(c, err)
			return
		}
		to = day.AddDate(0, 0, 1).Add(-time.Nanosecond)
	}

	query := db.LogQuery{PatientID: patientID, From: from, To: to}
	if v := c.Query("prescription_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			s.fail(c, badRequest{msg: "invalid prescription_id: " + v})
			return
		}
		query.PrescriptionID = &id
	}

	if _, err := s.store.GetPatient(ctx, patientID); err != nil {
		s.fail(c, err)
		return
	}

	logs, err := s.store.FindLogs(ctx, query)
	if err != nil {
		s.fail(c, err)
		return
	}

	if logs == nil {
		logs = []*db.AdherenceLog{}
	}

	c.JSON(http.StatusOK, adherenceResponse{Stats: reminder.Summarize(logs), From: from, To: to, Logs: logs})
}

func (s *Server) parseDate(v string) (time.Time, error) {
	t, err := time.ParseInLocation("2006-01-02", v, s.loc)
	if err != nil {
		return time.Time{}, badRequest{msg: "invalid date, expected YYYY-MM-DD: " + v}
	}

	return t, nil
}

type logRequest struct {
	ReminderID     *uuid.UUID   `json:"reminder_id"`
	PrescriptionID *uuid.UUID   `json:"prescription_id"`
	Status         db.LogStatus `json:"status"`
	TakenAt        *time.Time   `json:"taken_at"`
	Notes          string       `json:"notes"`
}

func (s *Server) addLog(c *gin.Context) {
	ctx := c.Request.Context()

	patientID, err := paramID(c)
	if err != nil {
		s.fail(c, err)
		return
	}

	var req logRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.fail(c, badRequest{msg: "invalid JSON payload: " + err.Error()})
		return
	}

	if req.Status == "" {
		req.Status = db.LogTaken
	}

	if !req.Status.Valid() {
		s.fail(c, badRequest{msg: "invalid status: " + string(req.Status)})
		return
	}

	if _, err := s.store.GetPatient(ctx, patientID); err != nil {
		s.fail(c, err)
		return
	}

	entry := &db.AdherenceLog{
		PatientID:      patientID,
		ReminderID:     req.ReminderID,
		PrescriptionID: req.PrescriptionID,
		Status:         req.Status,
		Notes:          req.Notes,
		TakenAt:        s.clk.Now(),
	}

	if req.TakenAt != nil {
		entry.TakenAt = *req.TakenAt
	}

	if req.ReminderID != nil {
		r, err := s.store.GetReminder(ctx, *req.ReminderID)
		if err != nil {
			s.fail(c, err)
			return
		}

		if r.PatientID != patientID {
			s.fail(c, badRequest{msg: "reminder belongs to another patient"})
			return
		}

		if entry.PrescriptionID == nil {
			entry.PrescriptionID = r.PrescriptionID
		}
	}

	if err := s.store.AddLog(ctx, entry); err != nil {
		s.fail(c, err)
		return
	}

	c.JSON(http.StatusCreated, entry)
}

// Notification paging
const (
	DefaultNotificationLimit = 20
	MaxNotificationLimit     = 100
)

type pageMeta struct {
	Total      int `json:"total"`
	Page       int `json:"page"`
	Limit      int `json:"limit"`
	TotalPages int `json:"totalPages"`
}

type notificationsResponse struct {
	Notifications []*db.Notification `json:"notifications"`
	Meta          pageMeta           `json:"meta"`
}

func queryInt(c *gin.Context, name string, def, min, max int) (int, error) {
	v := c.Query(name)
	if v == "" {
		return def, nil
	}

	n, err := strconv.Atoi(v)
	if err != nil || n < min || n > max {
		return 0, badRequest{msg: "invalid " + name + ": " + v}
	}

	return n, nil
}

// notifications lists a patient's in-app notifications newest first, one page
// at a time, optionally filtered by type
func (s *Server) notifications(c *gin.Context) {
	ctx := c.Request.Context()

	patientID, err := paramID(c)
	if err != nil {
		s.fail(c, err)
		return
	}

	page, err := queryInt(c, "page", 1, 1, int(^uint(0)>>1))
	if err != nil {
		s.fail(c, err)
		return
	}

	limit, err := queryInt(c, "limit", DefaultNotificationLimit, 1, MaxNotificationLimit)
	if err != nil {
		s.fail(c, err)
		return
	}

	category := db.Category(c.Query("type"))

	if _, err := s.store.GetPatient(ctx, patientID); err != nil {
		s.fail(c, err)
		return
	}

	all, err := s.store.ListNotifications(ctx, patientID)
	if err != nil {
		s.fail(c, err)
		return
	}

	matched := make([]*db.Notification, 0, len(all))
	for i := len(all) - 1; i >= 0; i-- {
		if category == "" || all[i].Type == category {
			matched = append(matched, all[i])
		}
	}

	meta := pageMeta{Total: len(matched), Page: page, Limit: limit, TotalPages: (len(matched) + limit - 1) / limit}

	start := len(matched)
	if skip := (page - 1) * limit; skip < start {
		start = skip
	}

	end := start + limit
	if end > len(matched) {
		end = len(matched)
	}

	c.JSON(http.StatusOK, notificationsResponse{Notifications: matched[start:end], Meta: meta})
}
