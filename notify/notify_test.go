package notify

import (
	"context"
	"errors"
	"testing"

	"git.0xdad.com/tblyler/meditime/db"
	"git.0xdad.com/tblyler/meditime/logx"
	"github.com/google/uuid"
	"github.com/gregdel/pushover"
	"github.com/stretchr/testify/require"
)

type fakeSender struct {
	sent    []*pushover.Message
	to      []string
	failFor map[string]error
}

func (f *fakeSender) SendMessage(m *pushover.Message, r *pushover.Recipient) (*pushover.Response, error) {
	token := recipientToken(r)
	if err, ok := f.failFor[token]; ok {
		return nil, err
	}

	f.sent = append(f.sent, m)
	f.to = append(f.to, token)

	return &pushover.Response{Status: 1}, nil
}

func recipientToken(r *pushover.Recipient) string {
	for _, tok := range []string{"tok-a", "tok-b"} {
		if *r == *pushover.NewRecipient(tok) {
			return tok
		}
	}

	return ""
}

func TestPushoverSendsToEveryToken(t *testing.T) {
	sender := &fakeSender{}
	gw := newPushover(sender, 0, logx.Nop())

	res, err := gw.Send(context.Background(), Message{
		Tokens:   []string{"tok-a", "tok-b"},
		Title:    "Time for medication",
		Body:     "Please take Gyeji-tang.",
		Priority: PriorityHigh,
	})
	require.NoError(t, err)
	require.True(t, res.Success)
	require.Equal(t, 2, res.Delivered)
	require.Equal(t, []string{"tok-a", "tok-b"}, sender.to)
	require.Equal(t, "Time for medication", sender.sent[0].Title)
	require.Equal(t, pushover.PriorityHigh, sender.sent[0].Priority)
}

func TestPushoverNoTokens(t *testing.T) {
	gw := newPushover(&fakeSender{}, 0, logx.Nop())

	_, err := gw.Send(context.Background(), Message{Title: "x"})
	require.ErrorIs(t, err, ErrNoTokens)
}

func TestPushoverPartialFailureStillSucceeds(t *testing.T) {
	sender := &fakeSender{failFor: map[string]error{"tok-a": errors.New("connection reset")}}
	gw := newPushover(sender, 0, logx.Nop())

	res, err := gw.Send(context.Background(), Message{Tokens: []string{"tok-a", "tok-b"}, Title: "x"})
	require.NoError(t, err)
	require.True(t, res.Success)
	require.Equal(t, 1, res.Delivered)
}

func TestPushoverEveryTokenFails(t *testing.T) {
	boom := errors.New("connection reset")
	sender := &fakeSender{failFor: map[string]error{"tok-a": boom, "tok-b": boom}}
	gw := newPushover(sender, 0, logx.Nop())

	res, err := gw.Send(context.Background(), Message{Tokens: []string{"tok-a", "tok-b"}, Title: "x"})
	require.ErrorIs(t, err, boom)
	require.False(t, res.Success)
	require.NotEmpty(t, res.Error)
}

func TestPushoverRejectedIsNotAnError(t *testing.T) {
	sender := &fakeSender{failFor: map[string]error{"tok-a": pushover.Errors{"user identifier is not a valid user"}}}
	gw := newPushover(sender, 0, logx.Nop())

	res, err := gw.Send(context.Background(), Message{Tokens: []string{"tok-a"}, Title: "x"})
	require.NoError(t, err)
	require.False(t, res.Success)
	require.Contains(t, res.Error, "user identifier is not a valid user")
}

func TestPushoverInvalidRecipientIsRejected(t *testing.T) {
	sender := &fakeSender{failFor: map[string]error{"tok-a": pushover.ErrInvalidRecipientToken}}
	gw := newPushover(sender, 0, logx.Nop())

	res, err := gw.Send(context.Background(), Message{Tokens: []string{"tok-a"}, Title: "x"})
	require.NoError(t, err)
	require.False(t, res.Success)

	// a transport failure on another device still asks for a retry
	boom := errors.New("connection reset")
	sender.failFor["tok-b"] = boom
	_, err = gw.Send(context.Background(), Message{Tokens: []string{"tok-a", "tok-b"}, Title: "x"})
	require.ErrorIs(t, err, boom)
}

func TestPushoverRejectedByRealClient(t *testing.T) {
	gw := NewPushover("aaaaaaaaaaaaaaaaaaaaaaaaaaaaaa", 0, logx.Nop())

	res, err := gw.Send(context.Background(), Message{Tokens: []string{"not a token"}, Title: "x", Body: "y"})
	require.NoError(t, err)
	require.False(t, res.Success)
}

func TestPushoverHonoursCancelledContext(t *testing.T) {
	gw := newPushover(&fakeSender{}, 1, logx.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := gw.Send(ctx, Message{Tokens: []string{"tok-a"}, Title: "x"})
	require.ErrorIs(t, err, context.Canceled)
}

func TestMedicationReminderMessage(t *testing.T) {
	t.Parallel()

	r := &db.Reminder{ID: uuid.New(), Time: "08:00"}
	msg := MedicationReminder(r, nil)
	require.Equal(t, "Time for medication", msg.Title)
	require.Equal(t, "Please take your medication.", msg.Body)
	require.Equal(t, TypeMedication, msg.Data["type"])
	require.Equal(t, r.ID.String(), msg.Data["reminderId"])
	require.Equal(t, ChannelMedication, msg.ChannelID)
	require.Equal(t, PriorityHigh, msg.Priority)
	require.NotContains(t, msg.Data, "prescriptionId")

	r.Title = "Morning dose"
	r.Notes = "after breakfast"
	msg = MedicationReminder(r, nil)
	require.Equal(t, "Morning dose", msg.Title)
	require.Equal(t, "after breakfast", msg.Body)

	p := &db.Prescription{ID: uuid.New(), FormulaName: "Gyeji-tang"}
	r.PrescriptionID = &p.ID
	msg = MedicationReminder(r, p)
	require.Equal(t, "Please take Gyeji-tang.", msg.Body)
	require.Equal(t, p.ID.String(), msg.Data["prescriptionId"])
}

func TestMissedDoseMessage(t *testing.T) {
	t.Parallel()

	r := &db.Reminder{ID: uuid.New(), Time: "19:30"}
	msg := MissedDose(r, nil)
	require.Equal(t, "Did you take your medication?", msg.Title)
	require.Equal(t, "Your medication was due at 7:30 PM.", msg.Body)
	require.Equal(t, TypeMedicationMissed, msg.Data["type"])
	require.Equal(t, PriorityHigh, msg.Priority)

	msg = MissedDose(r, &db.Prescription{FormulaName: "Ijung-tang"})
	require.Equal(t, "Your Ijung-tang dose was due at 7:30 PM.", msg.Body)
}

type patientsByID map[uuid.UUID]*db.Patient

func (p patientsByID) GetPatient(_ context.Context, id uuid.UUID) (*db.Patient, error) {
	patient, ok := p[id]
	if !ok {
		return nil, db.ErrNotFound
	}

	return patient, nil
}

func TestPatientResolver(t *testing.T) {
	t.Parallel()

	patient := &db.Patient{ID: uuid.New(), Settings: db.NotificationSettings{QuietHoursStart: "22:00", QuietHoursEnd: "08:00"}}
	r := PatientResolver{Patients: patientsByID{patient.ID: patient}}

	settings, err := r.Resolve(context.Background(), patient.ID)
	require.NoError(t, err)
	require.Equal(t, "22:00", settings.QuietHoursStart)

	_, err = r.Resolve(context.Background(), uuid.New())
	require.ErrorIs(t, err, db.ErrNotFound)
}

func TestDisabledGateway(t *testing.T) {
	t.Parallel()

	res, err := Disabled{}.Send(context.Background(), Message{Tokens: []string{"tok"}})
	require.ErrorIs(t, err, ErrGatewayDisabled)
	require.False(t, res.Success)
}
