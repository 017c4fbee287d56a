package scheduling

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-scheduling/internal/notify"
)

// Store opens units of work. fn runs inside one transaction; returning an
// error rolls everything back.
type Store interface {
	InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

// Tx is the transactional persistence surface. Guarded updates return
// ErrStatusChanged when the row is not in the expected status; lookups
// return the entity's not-found error.
type Tx interface {
	notify.Recorder

	GetUser(ctx context.Context, id uuid.UUID) (*User, error)
	FindUserByEmail(ctx context.Context, email string) (*User, error)

	// LockDoctorSchedule and LockDoctorQueue serialize writers per doctor
	// until the transaction ends.
	LockDoctorSchedule(ctx context.Context, doctorID uuid.UUID) error
	LockDoctorQueue(ctx context.Context, doctorID uuid.UUID) error

	InsertTimeSlot(ctx context.Context, s *TimeSlot) error
	GetTimeSlot(ctx context.Context, id uuid.UUID) (*TimeSlot, error)
	ListTimeSlots(ctx context.Context, doctorID uuid.UUID, date time.Time) ([]TimeSlot, error)
	UpdateTimeSlotStatus(ctx context.Context, id uuid.UUID, from, to TimeSlotStatus) (*TimeSlot, error)
	SlotReferenced(ctx context.Context, id uuid.UUID) (bool, error)
	DeleteOpenTimeSlot(ctx context.Context, id uuid.UUID) error

	InsertAppointment(ctx context.Context, a *Appointment) error
	GetAppointment(ctx context.Context, id uuid.UUID, forUpdate bool) (*Appointment, error)
	ListAppointments(ctx context.Context, f AppointmentFilter) ([]Appointment, error)
	UpdateAppointmentStatus(ctx context.Context, id uuid.UUID, from, to AppointmentStatus) (*Appointment, error)
	MoveAppointment(ctx context.Context, id uuid.UUID, from AppointmentStatus, slotID uuid.UUID, date time.Time, to AppointmentStatus) (*Appointment, error)
	InsertHistory(ctx context.Context, h *AppointmentHistory) error
	ListHistory(ctx context.Context, appointmentID uuid.UUID) ([]AppointmentHistory, error)

	InsertQueueEntry(ctx context.Context, e *QueueEntry) error
	GetQueueEntry(ctx context.Context, id uuid.UUID) (*QueueEntry, error)
	// ListQueue returns the doctor's entries in the given statuses ordered by Seq.
	ListQueue(ctx context.Context, doctorID uuid.UUID, statuses ...QueueStatus) ([]QueueEntry, error)
	FindQueueEntryByAppointment(ctx context.Context, appointmentID uuid.UUID, status QueueStatus) (*QueueEntry, error)
	UpdateQueueStatus(ctx context.Context, id uuid.UUID, from, to QueueStatus) (*QueueEntry, error)
	// RequeueEntry moves a SKIPPED entry back to WAITING behind every current entry.
	RequeueEntry(ctx context.Context, id uuid.UUID) (*QueueEntry, error)
	DeleteQueueEntry(ctx context.Context, id uuid.UUID, statuses ...QueueStatus) error
	// CancelQueueEntries cancels WAITING and SKIPPED entries for doctorID, or
	// for every doctor when doctorID is uuid.Nil, created before the cutoff
	// when it is non-zero.
	CancelQueueEntries(ctx context.Context, doctorID uuid.UUID, createdBefore time.Time) ([]QueueEntry, error)

	InsertInvoice(ctx context.Context, inv *Invoice) error
	GetInvoiceByAppointment(ctx context.Context, appointmentID uuid.UUID, forUpdate bool) (*Invoice, error)
	RepriceInvoice(ctx context.Context, id uuid.UUID, amount int64, createdBy uuid.UUID) (*Invoice, error)
	MarkInvoicePaid(ctx context.Context, id uuid.UUID, paidAt time.Time) (*Invoice, error)

	ListNotifications(ctx context.Context, userID uuid.UUID) ([]Notification, error)
	DeleteNotifications(ctx context.Context, userID uuid.UUID) (int64, error)
}
