package scheduling

import (
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-scheduling/internal/notify"
	"github.com/hackgods/clinic-scheduling/internal/timeslot"
)

type Role string

const (
	RoleDoctor  Role = "DOCTOR"
	RolePatient Role = "PATIENT"
	RoleAdmin   Role = "ADMIN"
)

// Actor is the caller identity supplied by the auth collaborator. It is
// trusted as given.
type Actor struct {
	UserID uuid.UUID
	Role   Role
}

type TimeSlotStatus string

const (
	SlotOpen   TimeSlotStatus = "OPEN"
	SlotClosed TimeSlotStatus = "CLOSED"
)

type AppointmentStatus string

const (
	StatusPending        AppointmentStatus = "PENDING"
	StatusConfirmed      AppointmentStatus = "CONFIRMED"
	StatusPendingPayment AppointmentStatus = "PENDING_PAYMENT"
	StatusCompleted      AppointmentStatus = "COMPLETED"
	StatusCancelled      AppointmentStatus = "CANCELLED"
	StatusRescheduled    AppointmentStatus = "RESCHEDULED"
)

type QueueStatus string

const (
	QueueWaiting   QueueStatus = "WAITING"
	QueueApproved  QueueStatus = "APPROVED"
	QueueSkipped   QueueStatus = "SKIPPED"
	QueueCompleted QueueStatus = "COMPLETED"
	QueueCancelled QueueStatus = "CANCELLED"
)

type InvoiceStatus string

const (
	InvoicePending InvoiceStatus = "PENDING"
	InvoicePaid    InvoiceStatus = "PAID"
)

type User struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Role      Role      `json:"role"`
	CreatedAt time.Time `json:"created_at"`
}

type TimeSlot struct {
	ID        uuid.UUID      `json:"id"`
	DoctorID  uuid.UUID      `json:"doctor_id"`
	Date      time.Time      `json:"date"`
	StartTime time.Time      `json:"start_time"`
	EndTime   time.Time      `json:"end_time"`
	Status    TimeSlotStatus `json:"status"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

func (s TimeSlot) Window() timeslot.Window {
	return timeslot.Window{Start: s.StartTime, End: s.EndTime}
}

// Label renders the slot as "2006-01-02 15:04-15:04" in loc.
func (s TimeSlot) Label(loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	start := s.StartTime.In(loc)
	return start.Format("2006-01-02 15:04") + "-" + s.EndTime.In(loc).Format("15:04")
}

type Appointment struct {
	ID         uuid.UUID         `json:"id"`
	PatientID  uuid.UUID         `json:"patient_id"`
	DoctorID   uuid.UUID         `json:"doctor_id"`
	TimeSlotID uuid.UUID         `json:"time_slot_id"`
	Date       time.Time         `json:"date"`
	Status     AppointmentStatus `json:"status"`
	CreatedAt  time.Time         `json:"created_at"`
	UpdatedAt  time.Time         `json:"updated_at"`
}

// AppointmentHistory is the append-only audit trail of an appointment.
type AppointmentHistory struct {
	ID            int64              `json:"id"`
	AppointmentID uuid.UUID          `json:"appointment_id"`
	Description   string             `json:"description"`
	NewStatus     *AppointmentStatus `json:"new_status,omitempty"`
	CreatedAt     time.Time          `json:"created_at"`
}

// QueueEntry is one walk-in patient in a doctor's queue. Seq orders WAITING
// entries; Position is derived from it on read and is 0 for other statuses.
type QueueEntry struct {
	ID            uuid.UUID   `json:"id"`
	PatientID     uuid.UUID   `json:"patient_id"`
	DoctorID      uuid.UUID   `json:"doctor_id"`
	AppointmentID *uuid.UUID  `json:"appointment_id,omitempty"`
	Seq           int64       `json:"-"`
	Position      int         `json:"position"`
	Status        QueueStatus `json:"status"`
	CreatedAt     time.Time   `json:"created_at"`
	UpdatedAt     time.Time   `json:"updated_at"`
}

type Invoice struct {
	ID            uuid.UUID     `json:"id"`
	AppointmentID uuid.UUID     `json:"appointment_id"`
	PatientID     uuid.UUID     `json:"patient_id"`
	CreatedBy     uuid.UUID     `json:"created_by"`
	Amount        int64         `json:"amount"` // whole currency units
	Status        InvoiceStatus `json:"status"`
	PaidAt        *time.Time    `json:"paid_at,omitempty"`
	CreatedAt     time.Time     `json:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at"`
}

type Notification = notify.Notification

// QueueSnapshot is a doctor's queue as shown on the board.
type QueueSnapshot struct {
	DoctorID uuid.UUID    `json:"doctor_id"`
	Serving  *QueueEntry  `json:"serving"`
	Waiting  []QueueEntry `json:"waiting"`
	Skipped  []QueueEntry `json:"skipped"`
}

// PaymentReceipt is the end state of a payment confirmation.
type PaymentReceipt struct {
	Invoice     Invoice     `json:"invoice"`
	Appointment Appointment `json:"appointment"`
}

type AppointmentFilter struct {
	PatientID *uuid.UUID
	DoctorID  *uuid.UUID
	Status    *AppointmentStatus
	Limit     int
	Offset    int
}
