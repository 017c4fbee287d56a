package scheduling

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/clinic-scheduling/internal/notify"
	"github.com/hackgods/clinic-scheduling/internal/timeslot"
	"github.com/hackgods/clinic-scheduling/pkg/logging"
)

var clinicNow = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

const slotDay = "2026-03-03"

type recordingSender struct {
	mu   sync.Mutex
	sent []notify.EmailMessage
}

func (r *recordingSender) Send(ctx context.Context, msg notify.EmailMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, msg)
	return nil
}

func (r *recordingSender) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sent)
}

type recordingEvents struct {
	mu     sync.Mutex
	events []string
}

func (r *recordingEvents) QueueChanged(ctx context.Context, doctorID uuid.UUID, event string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

func (r *recordingEvents) list() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

type fixture struct {
	store   *MemoryStore
	svc     *Service
	sender  *recordingSender
	events  *recordingEvents
	doctor  User
	doctor2 User
	patient User
	admin   Actor
}

func newUser(role Role) User {
	return User{ID: uuid.New(), Name: gofakeit.Name(), Email: gofakeit.Email(), Role: role}
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store:   NewMemoryStore(),
		sender:  &recordingSender{},
		events:  &recordingEvents{},
		doctor:  newUser(RoleDoctor),
		doctor2: newUser(RoleDoctor),
		patient: newUser(RolePatient),
	}
	adminUser := newUser(RoleAdmin)
	f.admin = Actor{UserID: adminUser.ID, Role: RoleAdmin}
	for _, u := range []User{f.doctor, f.doctor2, f.patient, adminUser} {
		f.store.PutUser(u)
	}

	logger := logging.New("error")
	validator := timeslot.NewValidator(time.UTC)
	validator.Now = func() time.Time { return clinicNow }
	f.svc = f.service(f.store, logger, validator)
	return f
}

func (f *fixture) service(store Store, logger *logging.Logger, validator *timeslot.Validator) *Service {
	return NewService(store, Deps{
		Validator: validator,
		Notifier:  notify.NewDispatcher(f.sender, logger),
		Events:    f.events,
		Logger:    logger,
		Now:       func() time.Time { return clinicNow },
	})
}

func (f *fixture) addPatient() User {
	p := newUser(RolePatient)
	f.store.PutUser(p)
	return p
}

func actorOf(u User) Actor { return Actor{UserID: u.ID, Role: u.Role} }

func (f *fixture) slotFor(t *testing.T, doctor User, start, end string) *TimeSlot {
	t.Helper()
	c, err := timeslot.ParseCandidate(slotDay, start, end, time.UTC)
	require.NoError(t, err)
	slot, err := f.svc.CreateTimeSlot(context.Background(), actorOf(doctor), doctor.ID, c)
	require.NoError(t, err)
	return slot
}

func (f *fixture) slot(t *testing.T, start, end string) *TimeSlot {
	return f.slotFor(t, f.doctor, start, end)
}

func (f *fixture) book(t *testing.T, slot *TimeSlot) *Appointment {
	t.Helper()
	a, err := f.svc.BookAppointment(context.Background(), actorOf(f.patient), f.doctor.ID, f.patient.ID, slot.ID)
	require.NoError(t, err)
	return a
}

func (f *fixture) slotStatus(t *testing.T, id uuid.UUID) TimeSlotStatus {
	t.Helper()
	var st TimeSlotStatus
	require.NoError(t, f.store.InTx(context.Background(), func(ctx context.Context, tx Tx) error {
		s, err := tx.GetTimeSlot(ctx, id)
		if err != nil {
			return err
		}
		st = s.Status
		return nil
	}))
	return st
}

func (f *fixture) history(t *testing.T, id uuid.UUID) []AppointmentHistory {
	t.Helper()
	h, err := f.svc.AppointmentHistory(context.Background(), f.admin, id)
	require.NoError(t, err)
	return h
}

func (f *fixture) notifications(t *testing.T, u User) []Notification {
	t.Helper()
	n, err := f.svc.ListNotifications(context.Background(), actorOf(u))
	require.NoError(t, err)
	return n
}

func TestCreateTimeSlot(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	slot := f.slot(t, "10:00", "10:30")
	assert.Equal(t, SlotOpen, slot.Status)
	assert.Equal(t, f.doctor.ID, slot.DoctorID)

	c, err := timeslot.ParseCandidate(slotDay, "10:15", "11:00", time.UTC)
	require.NoError(t, err)
	_, err = f.svc.CreateTimeSlot(ctx, actorOf(f.doctor), f.doctor.ID, c)
	require.ErrorIs(t, err, timeslot.ErrOverlap)
	assert.Equal(t, KindValidation, AsError(err).Kind)

	// adjacent slots do not overlap
	f.slot(t, "10:30", "11:00")

	// another doctor's calendar is independent
	f.slotFor(t, f.doctor2, "10:00", "10:30")

	c, err = timeslot.ParseCandidate(slotDay, "07:00", "07:45", time.UTC)
	require.NoError(t, err)
	_, err = f.svc.CreateTimeSlot(ctx, actorOf(f.doctor), f.doctor.ID, c)
	require.ErrorIs(t, err, timeslot.ErrBeforeOpening)
}

func TestCreateTimeSlot_Authorization(t *testing.T) {
	f := newFixture(t)
	c, err := timeslot.ParseCandidate(slotDay, "12:00", "12:30", time.UTC)
	require.NoError(t, err)

	_, err = f.svc.CreateTimeSlot(context.Background(), actorOf(f.patient), f.doctor.ID, c)
	require.ErrorIs(t, err, ErrForbidden)

	_, err = f.svc.CreateTimeSlot(context.Background(), actorOf(f.doctor2), f.doctor.ID, c)
	require.ErrorIs(t, err, ErrForbidden)

	slot, err := f.svc.CreateTimeSlot(context.Background(), f.admin, f.doctor.ID, c)
	require.NoError(t, err)
	assert.Equal(t, SlotOpen, slot.Status)
}

func TestCreateTimeSlot_ConcurrentOverlapOnlyOneWins(t *testing.T) {
	f := newFixture(t)
	c, err := timeslot.ParseCandidate(slotDay, "14:00", "15:00", time.UTC)
	require.NoError(t, err)

	const n = 8
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		created int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := f.svc.CreateTimeSlot(context.Background(), actorOf(f.doctor), f.doctor.ID, c); err == nil {
				mu.Lock()
				created++
				mu.Unlock()
			} else {
				assert.ErrorIs(t, err, timeslot.ErrOverlap)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, created)
}

func TestDeleteTimeSlot(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	free := f.slot(t, "09:00", "09:30")
	require.NoError(t, f.svc.DeleteTimeSlot(ctx, actorOf(f.doctor), free.ID))
	require.ErrorIs(t, f.svc.DeleteTimeSlot(ctx, actorOf(f.doctor), free.ID), ErrSlotNotFound)

	booked := f.slot(t, "10:00", "10:30")
	a := f.book(t, booked)
	require.ErrorIs(t, f.svc.DeleteTimeSlot(ctx, actorOf(f.doctor), booked.ID), ErrSlotInUse)

	// reopened by cancellation but still referenced by the appointment
	_, err := f.svc.CancelAppointment(ctx, actorOf(f.patient), a.ID, "")
	require.NoError(t, err)
	require.ErrorIs(t, f.svc.DeleteTimeSlot(ctx, actorOf(f.doctor), booked.ID), ErrSlotInUse)
}

func TestBookAppointment(t *testing.T) {
	f := newFixture(t)
	slot := f.slot(t, "10:00", "10:30")

	a := f.book(t, slot)
	assert.Equal(t, StatusPending, a.Status)
	assert.Equal(t, slot.ID, a.TimeSlotID)
	assert.Equal(t, SlotClosed, f.slotStatus(t, slot.ID))

	h := f.history(t, a.ID)
	require.Len(t, h, 2)
	require.NotNil(t, h[0].NewStatus)
	assert.Equal(t, StatusPending, *h[0].NewStatus)
	assert.Nil(t, h[1].NewStatus)

	assert.Len(t, f.notifications(t, f.patient), 1)
	assert.Len(t, f.notifications(t, f.doctor), 1)
	assert.Equal(t, 2, f.sender.count())
}

func TestBookAppointment_Errors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	slot := f.slot(t, "10:00", "10:30")
	otherSlot := f.slotFor(t, f.doctor2, "10:00", "10:30")

	tests := []struct {
		name    string
		actor   Actor
		doctor  uuid.UUID
		patient uuid.UUID
		slot    uuid.UUID
		want    error
	}{
		{name: "missing slot", actor: f.admin, doctor: f.doctor.ID, patient: f.patient.ID, want: ErrMissingField},
		{name: "unknown doctor", actor: f.admin, doctor: uuid.New(), patient: f.patient.ID, slot: slot.ID, want: ErrDoctorNotFound},
		{name: "patient is not a patient", actor: f.admin, doctor: f.doctor.ID, patient: f.doctor2.ID, slot: slot.ID, want: ErrPatientNotFound},
		{name: "unknown slot", actor: f.admin, doctor: f.doctor.ID, patient: f.patient.ID, slot: uuid.New(), want: ErrSlotNotFound},
		{name: "slot of another doctor", actor: f.admin, doctor: f.doctor.ID, patient: f.patient.ID, slot: otherSlot.ID, want: ErrSlotNotFound},
		{name: "someone else's booking", actor: actorOf(f.doctor2), doctor: f.doctor.ID, patient: f.patient.ID, slot: slot.ID, want: ErrForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.BookAppointment(ctx, tt.actor, tt.doctor, tt.patient, tt.slot)
			require.ErrorIs(t, err, tt.want)
		})
	}
	assert.Equal(t, SlotOpen, f.slotStatus(t, slot.ID))
}

func TestBookAppointment_ConcurrentSameSlot(t *testing.T) {
	f := newFixture(t)
	slot := f.slot(t, "10:00", "10:30")

	const n = 12
	patients := make([]User, n)
	for i := range patients {
		patients[i] = f.addPatient()
	}

	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		booked []uuid.UUID
		lost   int
	)
	for _, p := range patients {
		wg.Add(1)
		go func(p User) {
			defer wg.Done()
			a, err := f.svc.BookAppointment(context.Background(), actorOf(p), f.doctor.ID, p.ID, slot.ID)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				assert.ErrorIs(t, err, ErrSlotUnavailable)
				lost++
				return
			}
			booked = append(booked, a.ID)
		}(p)
	}
	wg.Wait()

	assert.Len(t, booked, 1)
	assert.Equal(t, n-1, lost)

	all, err := f.svc.ListAppointments(context.Background(), f.admin, AppointmentFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestAppointmentLifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	slot := f.slot(t, "10:00", "10:30")
	a := f.book(t, slot)

	confirmed, err := f.svc.ConfirmAppointment(ctx, actorOf(f.doctor), a.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusConfirmed, confirmed.Status)

	_, _, err = f.svc.CompleteAppointment(ctx, actorOf(f.doctor), a.ID, 0)
	require.ErrorIs(t, err, ErrInvalidAmount)

	done, inv, err := f.svc.CompleteAppointment(ctx, actorOf(f.doctor), a.ID, 50000)
	require.NoError(t, err)
	assert.Equal(t, StatusPendingPayment, done.Status)
	assert.Equal(t, InvoicePending, inv.Status)
	assert.Equal(t, int64(50000), inv.Amount)
	assert.Equal(t, f.doctor.ID, inv.CreatedBy)

	receipt, err := f.svc.ConfirmPayment(ctx, actorOf(f.patient), a.ID)
	require.NoError(t, err)
	assert.Equal(t, InvoicePaid, receipt.Invoice.Status)
	require.NotNil(t, receipt.Invoice.PaidAt)
	assert.Equal(t, StatusCompleted, receipt.Appointment.Status)

	before := len(f.history(t, a.ID))
	again, err := f.svc.ConfirmPayment(ctx, actorOf(f.patient), a.ID)
	require.NoError(t, err)
	assert.Equal(t, receipt.Invoice.ID, again.Invoice.ID)
	assert.Equal(t, InvoicePaid, again.Invoice.Status)
	assert.Len(t, f.history(t, a.ID), before)

	_, err = f.svc.ConfirmAppointment(ctx, actorOf(f.doctor), a.ID)
	require.ErrorIs(t, err, ErrInvalidTransition)
	assert.Equal(t, KindConflict, AsError(err).Kind)
}

func TestInvoiceAmountDescribedInWholeUnits(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.book(t, f.slot(t, "10:00", "10:30"))
	_, err := f.svc.ConfirmAppointment(ctx, actorOf(f.doctor), a.ID)
	require.NoError(t, err)
	_, _, err = f.svc.CompleteAppointment(ctx, actorOf(f.doctor), a.ID, 500)
	require.NoError(t, err)
	_, err = f.svc.ConfirmPayment(ctx, actorOf(f.patient), a.ID)
	require.NoError(t, err)

	var descs []string
	for _, h := range f.history(t, a.ID) {
		descs = append(descs, h.Description)
	}
	assert.Contains(t, descs, "Consultation completed, invoice of 500 issued")
	assert.Contains(t, descs, "Payment of 500 received")

	var msgs []string
	for _, n := range f.notifications(t, f.patient) {
		msgs = append(msgs, n.Message)
	}
	assert.Contains(t, msgs, "Consultation completed. An invoice of 500 is awaiting payment.")
	assert.Contains(t, msgs, "Payment of 500 received. Thank you.")
}

func TestFormatAmount(t *testing.T) {
	tests := []struct {
		amount int64
		want   string
	}{
		{500, "500"},
		{1, "1"},
		{125000, "125000"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, formatAmount(tt.amount))
	}
}

func TestConfirmAppointment_PatientForbidden(t *testing.T) {
	f := newFixture(t)
	a := f.book(t, f.slot(t, "10:00", "10:30"))
	_, err := f.svc.ConfirmAppointment(context.Background(), actorOf(f.patient), a.ID)
	require.ErrorIs(t, err, ErrForbidden)
	assert.Equal(t, KindForbidden, AsError(err).Kind)
}

func TestCancelPayment_RepricesOnNextCompletion(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.book(t, f.slot(t, "10:00", "10:30"))
	_, err := f.svc.ConfirmAppointment(ctx, actorOf(f.doctor), a.ID)
	require.NoError(t, err)
	_, first, err := f.svc.CompleteAppointment(ctx, actorOf(f.doctor), a.ID, 1000)
	require.NoError(t, err)

	back, err := f.svc.CancelPayment(ctx, actorOf(f.patient), a.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusConfirmed, back.Status)

	_, second, err := f.svc.CompleteAppointment(ctx, actorOf(f.doctor), a.ID, 2500)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, int64(2500), second.Amount)

	_, err = f.svc.CancelPayment(ctx, actorOf(f.patient), uuid.New())
	require.ErrorIs(t, err, ErrAppointmentNotFound)
}

func TestConfirmPayment_NoInvoice(t *testing.T) {
	f := newFixture(t)
	a := f.book(t, f.slot(t, "10:00", "10:30"))
	_, err := f.svc.ConfirmPayment(context.Background(), actorOf(f.patient), a.ID)
	require.ErrorIs(t, err, ErrInvoiceNotFound)
	assert.Equal(t, KindNotFound, AsError(err).Kind)
}

func TestCancelAppointment(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	slot := f.slot(t, "10:00", "10:30")
	a := f.book(t, slot)

	cancelled, err := f.svc.CancelAppointment(ctx, actorOf(f.patient), a.ID, "feeling better")
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, cancelled.Status)
	assert.Equal(t, SlotOpen, f.slotStatus(t, slot.ID))

	h := f.history(t, a.ID)
	notes := len(f.notifications(t, f.patient))

	_, err = f.svc.CancelAppointment(ctx, actorOf(f.patient), a.ID, "")
	require.ErrorIs(t, err, ErrAppointmentAlreadyCancelled)
	assert.Len(t, f.history(t, a.ID), len(h))
	assert.Len(t, f.notifications(t, f.patient), notes)

	// the slot is bookable again
	other := f.addPatient()
	_, err = f.svc.BookAppointment(ctx, actorOf(other), f.doctor.ID, other.ID, slot.ID)
	require.NoError(t, err)
}

func TestRescheduleAppointment(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	oldSlot := f.slot(t, "10:00", "10:30")
	newSlot := f.slot(t, "11:00", "11:30")
	foreign := f.slotFor(t, f.doctor2, "11:00", "11:30")
	a := f.book(t, oldSlot)

	_, err := f.svc.RescheduleAppointment(ctx, actorOf(f.patient), a.ID, oldSlot.ID)
	require.ErrorIs(t, err, ErrSameSlot)

	_, err = f.svc.RescheduleAppointment(ctx, actorOf(f.patient), a.ID, foreign.ID)
	require.ErrorIs(t, err, ErrSlotDoctorMismatch)

	moved, err := f.svc.RescheduleAppointment(ctx, actorOf(f.patient), a.ID, newSlot.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusRescheduled, moved.Status)
	assert.Equal(t, newSlot.ID, moved.TimeSlotID)
	assert.Equal(t, SlotOpen, f.slotStatus(t, oldSlot.ID))
	assert.Equal(t, SlotClosed, f.slotStatus(t, newSlot.ID))

	confirmed, err := f.svc.ConfirmAppointment(ctx, actorOf(f.doctor), a.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusConfirmed, confirmed.Status)
}

func TestRescheduleAppointment_TargetTaken(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	mine := f.slot(t, "10:00", "10:30")
	taken := f.slot(t, "11:00", "11:30")
	a := f.book(t, mine)

	other := f.addPatient()
	_, err := f.svc.BookAppointment(ctx, actorOf(other), f.doctor.ID, other.ID, taken.ID)
	require.NoError(t, err)

	_, err = f.svc.RescheduleAppointment(ctx, actorOf(f.patient), a.ID, taken.ID)
	require.ErrorIs(t, err, ErrSlotUnavailable)
	assert.Equal(t, SlotClosed, f.slotStatus(t, mine.ID))

	got, err := f.svc.GetAppointment(ctx, actorOf(f.patient), a.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, got.Status)
	assert.Equal(t, mine.ID, got.TimeSlotID)
}

// historyFailingTx breaks the last write of a booking.
type historyFailingTx struct{ Tx }

func (historyFailingTx) InsertHistory(ctx context.Context, h *AppointmentHistory) error {
	return errors.New("disk full")
}

type historyFailingStore struct{ inner Store }

func (s historyFailingStore) InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	return s.inner.InTx(ctx, func(ctx context.Context, tx Tx) error {
		return fn(ctx, historyFailingTx{Tx: tx})
	})
}

func TestBookAppointment_RollsBackOnFailure(t *testing.T) {
	f := newFixture(t)
	slot := f.slot(t, "10:00", "10:30")
	emailsBefore := f.sender.count()

	broken := f.service(historyFailingStore{inner: f.store}, logging.New("error"), f.svc.validator)
	_, err := broken.BookAppointment(context.Background(), actorOf(f.patient), f.doctor.ID, f.patient.ID, slot.ID)
	require.Error(t, err)
	assert.Equal(t, KindTransaction, AsError(err).Kind)

	assert.Equal(t, SlotOpen, f.slotStatus(t, slot.ID))
	all, err := f.svc.ListAppointments(context.Background(), f.admin, AppointmentFilter{})
	require.NoError(t, err)
	assert.Empty(t, all)
	assert.Empty(t, f.notifications(t, f.patient))
	assert.Equal(t, emailsBefore, f.sender.count())
}

func TestListAppointments_ScopedToActor(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.book(t, f.slot(t, "10:00", "10:30"))

	other := f.addPatient()
	s2 := f.slotFor(t, f.doctor2, "10:00", "10:30")
	_, err := f.svc.BookAppointment(ctx, actorOf(other), f.doctor2.ID, other.ID, s2.ID)
	require.NoError(t, err)

	mine, err := f.svc.ListAppointments(ctx, actorOf(f.patient), AppointmentFilter{PatientID: &other.ID})
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, f.patient.ID, mine[0].PatientID)

	doc, err := f.svc.ListAppointments(ctx, actorOf(f.doctor2), AppointmentFilter{})
	require.NoError(t, err)
	require.Len(t, doc, 1)
	assert.Equal(t, other.ID, doc[0].PatientID)

	all, err := f.svc.ListAppointments(ctx, f.admin, AppointmentFilter{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, all, 1)

	_, err = f.svc.GetAppointment(ctx, actorOf(f.patient), doc[0].ID)
	require.ErrorIs(t, err, ErrForbidden)
}

func TestNotifications_ListAndClear(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.book(t, f.slot(t, "10:00", "10:30"))
	_, err := f.svc.ConfirmAppointment(ctx, actorOf(f.doctor), a.ID)
	require.NoError(t, err)

	got := f.notifications(t, f.patient)
	require.Len(t, got, 2)
	assert.Contains(t, got[0].Message, "confirmed")

	n, err := f.svc.ClearNotifications(ctx, actorOf(f.patient))
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.Empty(t, f.notifications(t, f.patient))
	assert.Len(t, f.notifications(t, f.doctor), 2)

	_, err = f.svc.ListNotifications(ctx, Actor{})
	require.ErrorIs(t, err, ErrForbidden)
}
