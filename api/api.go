// Package api serves the read and debug endpoints of the reminder scheduler
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"git.0xdad.com/tblyler/meditime/db"
	"git.0xdad.com/tblyler/meditime/logx"
	"git.0xdad.com/tblyler/meditime/reminder"
	"git.0xdad.com/tblyler/meditime/scheduler"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/jmhodges/clock"
)

// Scheduler operations exposed over HTTP
type Scheduler interface {
	TodaySchedule(ctx context.Context, patientID uuid.UUID) ([]reminder.ScheduleRow, error)
	SendTestReminder(ctx context.Context, id uuid.UUID) (scheduler.Outcome, error)
}

// Store operations used by the handlers
type Store interface {
	GetPatient(ctx context.Context, id uuid.UUID) (*db.Patient, error)
	GetReminder(ctx context.Context, id uuid.UUID) (*db.Reminder, error)
	AddLog(ctx context.Context, log *db.AdherenceLog) error
	FindLogs(ctx context.Context, query db.LogQuery) ([]*db.AdherenceLog, error)
	ListNotifications(ctx context.Context, patientID uuid.UUID) ([]*db.Notification, error)
}

// Server of the HTTP API
type Server struct {
	sched Scheduler
	store Store
	clk   clock.Clock
	loc   *time.Location
	log   logx.Logger
}

// New API server. Dates without a zone are read in loc.
func New(sched Scheduler, store Store, clk clock.Clock, loc *time.Location, log logx.Logger) *Server {
	if clk == nil {
		clk = clock.New()
	}

	if loc == nil {
		loc = time.Local
	}

	if log.IsZero() {
		log = logx.Nop()
	}

	return &Server{
		sched: sched,
		store: store,
		clk:   clk,
		loc:   loc,
		log:   log.With(logx.String("comp", "api")),
	}
}

// Router builds the gin engine with every route registered
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), s.requestLog())

	r.GET("/healthz", s.health)
	r.GET("/patients/:id/schedule/today", s.todaySchedule)
	r.GET("/patients/:id/adherence", s.adherence)
	r.POST("/patients/:id/logs", s.addLog)
	r.GET("/patients/:id/notifications", s.notifications)
	r.POST("/reminders/:id/test", s.testReminder)

	return r
}

func (s *Server) requestLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := s.clk.Now()
		c.Next()

		s.log.Debug("request",
			logx.String("method", c.Request.Method),
			logx.String("path", c.FullPath()),
			logx.Int("status", c.Writer.Status()),
			logx.Duration("took", s.clk.Now().Sub(start)),
		)
	}
}

type badRequest struct {
	msg string
}

func (e badRequest) Error() string {
	return e.msg
}

func (s *Server) fail(c *gin.Context, err error) {
	var bad badRequest
	switch {
	case errors.As(err, &bad):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, db.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	default:
		s.log.Error("request failed", logx.String("path", c.FullPath()), logx.Err(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

func paramID(c *gin.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, badRequest{msg: "invalid id: " + c.Param("id")}
	}

	return id, nil
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
