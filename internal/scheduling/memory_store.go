package scheduling

import (
	"context"
	"maps"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore keeps all state in process. Transactions run one at a time
// against a private copy that replaces the committed state only on success.
type MemoryStore struct {
	mu    sync.Mutex
	state *memState
	now   func() time.Time
}

type memState struct {
	users         map[uuid.UUID]User
	slots         map[uuid.UUID]TimeSlot
	appointments  map[uuid.UUID]Appointment
	history       []AppointmentHistory
	queue         map[uuid.UUID]QueueEntry
	invoices      map[uuid.UUID]Invoice
	notifications []Notification
	queueSeq      int64
	historySeq    int64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		state: &memState{
			users:        map[uuid.UUID]User{},
			slots:        map[uuid.UUID]TimeSlot{},
			appointments: map[uuid.UUID]Appointment{},
			queue:        map[uuid.UUID]QueueEntry{},
			invoices:     map[uuid.UUID]Invoice{},
		},
		now: time.Now,
	}
}

// PutUser adds or replaces a user. Users are owned by an external
// collaborator; this is how the memory driver learns about them.
func (m *MemoryStore) PutUser(u User) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u.CreatedAt.IsZero() {
		u.CreatedAt = m.now().UTC()
	}
	m.state.users[u.ID] = u
}

func (m *MemoryStore) InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	work := m.state.clone()
	if err := fn(ctx, &memTx{s: work, now: m.now}); err != nil {
		return err
	}
	m.state = work
	return nil
}

func (s *memState) clone() *memState {
	return &memState{
		users:         maps.Clone(s.users),
		slots:         maps.Clone(s.slots),
		appointments:  maps.Clone(s.appointments),
		history:       slices.Clone(s.history),
		queue:         maps.Clone(s.queue),
		invoices:      maps.Clone(s.invoices),
		notifications: slices.Clone(s.notifications),
		queueSeq:      s.queueSeq,
		historySeq:    s.historySeq,
	}
}

type memTx struct {
	s   *memState
	now func() time.Time
}

func (t *memTx) stamp() time.Time { return t.now().UTC() }

func (t *memTx) GetUser(ctx context.Context, id uuid.UUID) (*User, error) {
	u, ok := t.s.users[id]
	if !ok {
		return nil, ErrUserNotFound
	}
	return &u, nil
}

func (t *memTx) FindUserByEmail(ctx context.Context, email string) (*User, error) {
	for _, u := range t.s.users {
		if strings.EqualFold(u.Email, strings.TrimSpace(email)) {
			return &u, nil
		}
	}
	return nil, ErrUserNotFound
}

// The store lock already serializes every transaction.
func (t *memTx) LockDoctorSchedule(ctx context.Context, doctorID uuid.UUID) error { return nil }
func (t *memTx) LockDoctorQueue(ctx context.Context, doctorID uuid.UUID) error    { return nil }

func (t *memTx) InsertTimeSlot(ctx context.Context, s *TimeSlot) error {
	now := t.stamp()
	s.CreatedAt, s.UpdatedAt = now, now
	t.s.slots[s.ID] = *s
	return nil
}

func (t *memTx) GetTimeSlot(ctx context.Context, id uuid.UUID) (*TimeSlot, error) {
	s, ok := t.s.slots[id]
	if !ok {
		return nil, ErrSlotNotFound
	}
	return &s, nil
}

func (t *memTx) ListTimeSlots(ctx context.Context, doctorID uuid.UUID, date time.Time) ([]TimeSlot, error) {
	var out []TimeSlot
	for _, s := range t.s.slots {
		if s.DoctorID == doctorID && sameDay(s.Date, date) {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.Before(out[j].StartTime) })
	return out, nil
}

func (t *memTx) UpdateTimeSlotStatus(ctx context.Context, id uuid.UUID, from, to TimeSlotStatus) (*TimeSlot, error) {
	s, ok := t.s.slots[id]
	if !ok {
		return nil, ErrSlotNotFound
	}
	if s.Status != from {
		return nil, ErrStatusChanged
	}
	s.Status = to
	s.UpdatedAt = t.stamp()
	t.s.slots[id] = s
	return &s, nil
}

func (t *memTx) SlotReferenced(ctx context.Context, id uuid.UUID) (bool, error) {
	for _, a := range t.s.appointments {
		if a.TimeSlotID == id {
			return true, nil
		}
	}
	return false, nil
}

func (t *memTx) DeleteOpenTimeSlot(ctx context.Context, id uuid.UUID) error {
	s, ok := t.s.slots[id]
	if !ok {
		return ErrSlotNotFound
	}
	if s.Status != SlotOpen {
		return ErrStatusChanged
	}
	delete(t.s.slots, id)
	return nil
}

func (t *memTx) InsertAppointment(ctx context.Context, a *Appointment) error {
	now := t.stamp()
	a.CreatedAt, a.UpdatedAt = now, now
	t.s.appointments[a.ID] = *a
	return nil
}

func (t *memTx) GetAppointment(ctx context.Context, id uuid.UUID, forUpdate bool) (*Appointment, error) {
	a, ok := t.s.appointments[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	return &a, nil
}

func (t *memTx) ListAppointments(ctx context.Context, f AppointmentFilter) ([]Appointment, error) {
	var out []Appointment
	for _, a := range t.s.appointments {
		if f.PatientID != nil && a.PatientID != *f.PatientID {
			continue
		}
		if f.DoctorID != nil && a.DoctorID != *f.DoctorID {
			continue
		}
		if f.Status != nil && a.Status != *f.Status {
			continue
		}
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if f.Offset >= len(out) {
		return nil, nil
	}
	out = out[f.Offset:]
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (t *memTx) UpdateAppointmentStatus(ctx context.Context, id uuid.UUID, from, to AppointmentStatus) (*Appointment, error) {
	a, ok := t.s.appointments[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	if a.Status != from {
		return nil, ErrStatusChanged
	}
	a.Status = to
	a.UpdatedAt = t.stamp()
	t.s.appointments[id] = a
	return &a, nil
}

func (t *memTx) MoveAppointment(ctx context.Context, id uuid.UUID, from AppointmentStatus, slotID uuid.UUID, date time.Time, to AppointmentStatus) (*Appointment, error) {
	a, ok := t.s.appointments[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	if a.Status != from {
		return nil, ErrStatusChanged
	}
	a.TimeSlotID = slotID
	a.Date = date
	a.Status = to
	a.UpdatedAt = t.stamp()
	t.s.appointments[id] = a
	return &a, nil
}

func (t *memTx) InsertHistory(ctx context.Context, h *AppointmentHistory) error {
	t.s.historySeq++
	h.ID = t.s.historySeq
	h.CreatedAt = t.stamp()
	t.s.history = append(t.s.history, *h)
	return nil
}

func (t *memTx) ListHistory(ctx context.Context, appointmentID uuid.UUID) ([]AppointmentHistory, error) {
	var out []AppointmentHistory
	for _, h := range t.s.history {
		if h.AppointmentID == appointmentID {
			out = append(out, h)
		}
	}
	return out, nil
}

func (t *memTx) nextSeq() int64 {
	t.s.queueSeq++
	return t.s.queueSeq
}

func (t *memTx) InsertQueueEntry(ctx context.Context, e *QueueEntry) error {
	now := t.stamp()
	e.Seq = t.nextSeq()
	e.CreatedAt, e.UpdatedAt = now, now
	t.s.queue[e.ID] = *e
	return nil
}

func (t *memTx) GetQueueEntry(ctx context.Context, id uuid.UUID) (*QueueEntry, error) {
	e, ok := t.s.queue[id]
	if !ok {
		return nil, ErrQueueEntryNotFound
	}
	return &e, nil
}

func (t *memTx) ListQueue(ctx context.Context, doctorID uuid.UUID, statuses ...QueueStatus) ([]QueueEntry, error) {
	var out []QueueEntry
	for _, e := range t.s.queue {
		if e.DoctorID == doctorID && (len(statuses) == 0 || slices.Contains(statuses, e.Status)) {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out, nil
}

func (t *memTx) FindQueueEntryByAppointment(ctx context.Context, appointmentID uuid.UUID, status QueueStatus) (*QueueEntry, error) {
	for _, e := range t.s.queue {
		if e.AppointmentID != nil && *e.AppointmentID == appointmentID && e.Status == status {
			return &e, nil
		}
	}
	return nil, ErrQueueEntryNotFound
}

func (t *memTx) UpdateQueueStatus(ctx context.Context, id uuid.UUID, from, to QueueStatus) (*QueueEntry, error) {
	e, ok := t.s.queue[id]
	if !ok {
		return nil, ErrQueueEntryNotFound
	}
	if e.Status != from {
		return nil, ErrStatusChanged
	}
	e.Status = to
	e.UpdatedAt = t.stamp()
	t.s.queue[id] = e
	return &e, nil
}

func (t *memTx) RequeueEntry(ctx context.Context, id uuid.UUID) (*QueueEntry, error) {
	e, ok := t.s.queue[id]
	if !ok {
		return nil, ErrQueueEntryNotFound
	}
	if e.Status != QueueSkipped {
		return nil, ErrStatusChanged
	}
	e.Status = QueueWaiting
	e.Seq = t.nextSeq()
	e.UpdatedAt = t.stamp()
	t.s.queue[id] = e
	return &e, nil
}

func (t *memTx) DeleteQueueEntry(ctx context.Context, id uuid.UUID, statuses ...QueueStatus) error {
	e, ok := t.s.queue[id]
	if !ok {
		return ErrQueueEntryNotFound
	}
	if !slices.Contains(statuses, e.Status) {
		return ErrStatusChanged
	}
	delete(t.s.queue, id)
	return nil
}

func (t *memTx) CancelQueueEntries(ctx context.Context, doctorID uuid.UUID, createdBefore time.Time) ([]QueueEntry, error) {
	var out []QueueEntry
	now := t.stamp()
	for id, e := range t.s.queue {
		if doctorID != uuid.Nil && e.DoctorID != doctorID {
			continue
		}
		if e.Status != QueueWaiting && e.Status != QueueSkipped {
			continue
		}
		if !createdBefore.IsZero() && !e.CreatedAt.Before(createdBefore) {
			continue
		}
		e.Status = QueueCancelled
		e.UpdatedAt = now
		t.s.queue[id] = e
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out, nil
}

func (t *memTx) InsertInvoice(ctx context.Context, inv *Invoice) error {
	for _, existing := range t.s.invoices {
		if existing.AppointmentID == inv.AppointmentID {
			return ErrConcurrentUpdate
		}
	}
	now := t.stamp()
	inv.CreatedAt, inv.UpdatedAt = now, now
	t.s.invoices[inv.ID] = *inv
	return nil
}

func (t *memTx) GetInvoiceByAppointment(ctx context.Context, appointmentID uuid.UUID, forUpdate bool) (*Invoice, error) {
	for _, inv := range t.s.invoices {
		if inv.AppointmentID == appointmentID {
			return &inv, nil
		}
	}
	return nil, ErrInvoiceNotFound
}

func (t *memTx) RepriceInvoice(ctx context.Context, id uuid.UUID, amount int64, createdBy uuid.UUID) (*Invoice, error) {
	inv, ok := t.s.invoices[id]
	if !ok {
		return nil, ErrInvoiceNotFound
	}
	if inv.Status != InvoicePending {
		return nil, ErrStatusChanged
	}
	inv.Amount = amount
	inv.CreatedBy = createdBy
	inv.UpdatedAt = t.stamp()
	t.s.invoices[id] = inv
	return &inv, nil
}

func (t *memTx) MarkInvoicePaid(ctx context.Context, id uuid.UUID, paidAt time.Time) (*Invoice, error) {
	inv, ok := t.s.invoices[id]
	if !ok {
		return nil, ErrInvoiceNotFound
	}
	if inv.Status != InvoicePending {
		return nil, ErrStatusChanged
	}
	inv.Status = InvoicePaid
	inv.PaidAt = &paidAt
	inv.UpdatedAt = t.stamp()
	t.s.invoices[id] = inv
	return &inv, nil
}

func (t *memTx) InsertNotification(ctx context.Context, n Notification) error {
	t.s.notifications = append(t.s.notifications, n)
	return nil
}

func (t *memTx) ListNotifications(ctx context.Context, userID uuid.UUID) ([]Notification, error) {
	var out []Notification
	for i := len(t.s.notifications) - 1; i >= 0; i-- {
		if t.s.notifications[i].UserID == userID {
			out = append(out, t.s.notifications[i])
		}
	}
	return out, nil
}

func (t *memTx) DeleteNotifications(ctx context.Context, userID uuid.UUID) (int64, error) {
	kept := t.s.notifications[:0:0]
	var n int64
	for _, row := range t.s.notifications {
		if row.UserID == userID {
			n++
			continue
		}
		kept = append(kept, row)
	}
	t.s.notifications = kept
	return n, nil
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}
