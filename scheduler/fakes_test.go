package scheduler

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"git.0xdad.com/tblyler/meditime/db"
	"git.0xdad.com/tblyler/meditime/dedup"
	"git.0xdad.com/tblyler/meditime/notify"
	"github.com/google/uuid"
	"github.com/jmhodges/clock"
	"github.com/stretchr/testify/require"
)

var errStoreDown = errors.New("store unavailable")

type fakeStore struct {
	mu            sync.Mutex
	patients      map[uuid.UUID]*db.Patient
	prescriptions map[uuid.UUID]*db.Prescription
	reminders     map[uuid.UUID]*db.Reminder
	logs          []*db.AdherenceLog
	notifications []*db.Notification
	listErr       error
	patientErr    map[uuid.UUID]error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		patients:      map[uuid.UUID]*db.Patient{},
		prescriptions: map[uuid.UUID]*db.Prescription{},
		reminders:     map[uuid.UUID]*db.Reminder{},
		patientErr:    map[uuid.UUID]error{},
	}
}

func (f *fakeStore) GetReminder(_ context.Context, id uuid.UUID) (*db.Reminder, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	r, ok := f.reminders[id]
	if !ok {
		return nil, db.ErrNotFound
	}

	return r, nil
}

func (f *fakeStore) ListActiveReminders(_ context.Context) ([]*db.Reminder, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.listErr != nil {
		return nil, f.listErr
	}

	var out []*db.Reminder
	for _, r := range f.reminders {
		if r.IsActive {
			out = append(out, r)
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Time < out[j].Time })

	return out, nil
}

func (f *fakeStore) ListRemindersForPatient(_ context.Context, patientID uuid.UUID) ([]*db.Reminder, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []*db.Reminder
	for _, r := range f.reminders {
		if r.PatientID == patientID {
			out = append(out, r)
		}
	}

	return out, nil
}

func (f *fakeStore) DeactivateExpiredReminders(_ context.Context, asOf time.Time) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	n := 0
	for _, r := range f.reminders {
		if !r.IsActive || r.PrescriptionID == nil {
			continue
		}

		if p, ok := f.prescriptions[*r.PrescriptionID]; ok && p.EndedBefore(asOf) {
			r.IsActive = false
			n++
		}
	}

	return n, nil
}

func (f *fakeStore) GetPrescription(_ context.Context, id uuid.UUID) (*db.Prescription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	p, ok := f.prescriptions[id]
	if !ok {
		return nil, db.ErrNotFound
	}

	return p, nil
}

func (f *fakeStore) GetPatient(_ context.Context, id uuid.UUID) (*db.Patient, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.patientErr[id]; err != nil {
		return nil, err
	}

	p, ok := f.patients[id]
	if !ok {
		return nil, db.ErrNotFound
	}

	return p, nil
}

func (f *fakeStore) FindLogs(_ context.Context, q db.LogQuery) ([]*db.AdherenceLog, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []*db.AdherenceLog
	for _, l := range f.logs {
		if q.Match(l) {
			out = append(out, l)
		}
	}

	return out, nil
}

func (f *fakeStore) CreateNotification(_ context.Context, n *db.Notification) (uuid.UUID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	n.ID = uuid.New()
	f.notifications = append(f.notifications, n)

	return n.ID, nil
}

func (f *fakeStore) notificationCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return len(f.notifications)
}

func (f *fakeStore) addPatient(tokens ...string) *db.Patient {
	p := &db.Patient{ID: uuid.New(), Name: "patient", PushTokens: map[string]string{}}
	for i, tok := range tokens {
		p.PushTokens[string(rune('a'+i))] = tok
	}

	f.patients[p.ID] = p

	return p
}

func (f *fakeStore) addReminder(p *db.Patient, at string, days ...int) *db.Reminder {
	r := &db.Reminder{ID: uuid.New(), PatientID: p.ID, Title: "dose " + at, Time: at, Days: days, IsActive: true}
	f.reminders[r.ID] = r

	return r
}

func (f *fakeStore) addLog(r *db.Reminder, at time.Time, status db.LogStatus) *db.AdherenceLog {
	id := r.ID
	l := &db.AdherenceLog{ID: uuid.New(), PatientID: r.PatientID, ReminderID: &id, TakenAt: at, Status: status}
	f.logs = append(f.logs, l)

	return l
}

type fakeGateway struct {
	mu     sync.Mutex
	sent   []notify.Message
	err    error
	reject bool
}

func (g *fakeGateway) Send(_ context.Context, msg notify.Message) (notify.Result, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.err != nil {
		return notify.Result{Error: g.err.Error()}, g.err
	}

	if g.reject {
		return notify.Result{Error: "invalid token"}, nil
	}

	g.sent = append(g.sent, msg)

	return notify.Result{Success: true, Delivered: len(msg.Tokens)}, nil
}

func (g *fakeGateway) count() int {
	g.mu.Lock()
	defer g.mu.Unlock()

	return len(g.sent)
}

type harness struct {
	store   *fakeStore
	gateway *fakeGateway
	cache   *dedup.Memory
	clk     clock.FakeClock
	s       *Scheduler
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	h := &harness{
		store:   newFakeStore(),
		gateway: &fakeGateway{},
		cache:   dedup.NewMemory(),
		clk:     clock.NewFake(),
	}

	s, err := New(Config{
		Reminders:     h.store,
		Prescriptions: h.store,
		Patients:      h.store,
		Logs:          h.store,
		Notifications: h.store,
		Gateway:       h.gateway,
		Cache:         h.cache,
		Clock:         h.clk,
		Location:      time.UTC,
	})
	require.NoError(t, err)
	h.s = s

	return h
}

// at sets the clock to the given wall time on 2024-03-<day> UTC; the 11th is a Monday
func (h *harness) at(day, hour, minute int) {
	h.clk.Set(time.Date(2024, time.March, day, hour, minute, 0, 0, time.UTC))
}

func (h *harness) cacheLen(t *testing.T) int {
	t.Helper()

	n, err := h.cache.Len(context.Background())
	require.NoError(t, err)

	return n
}
