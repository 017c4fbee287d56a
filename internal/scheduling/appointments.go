package scheduling

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

const (
	defaultListLimit = 20
	maxListLimit     = 100
)

// apptParties loads the appointment's doctor and patient for notifications.
func apptParties(ctx context.Context, tx Tx, a *Appointment) (doctor, patient *User, err error) {
	doctor, err = loadUser(ctx, tx, a.DoctorID, RoleDoctor, ErrDoctorNotFound)
	if err != nil {
		return nil, nil, err
	}
	patient, err = loadUser(ctx, tx, a.PatientID, RolePatient, ErrPatientNotFound)
	if err != nil {
		return nil, nil, err
	}
	return doctor, patient, nil
}

// tellBoth notifies the patient and the doctor of an appointment.
func (s *Service) tellBoth(ctx context.Context, tx Tx, w *work, a *Appointment, subject, message string) error {
	doctor, patient, err := apptParties(ctx, tx, a)
	if err != nil {
		return err
	}
	if err := s.tell(ctx, tx, w, patient, subject, message); err != nil {
		return err
	}
	return s.tell(ctx, tx, w, doctor, subject, message)
}

// transition moves a to the given status through the state machine.
func transition(ctx context.Context, tx Tx, a *Appointment, to AppointmentStatus) (*Appointment, error) {
	if !a.Status.CanTransitionTo(to) {
		return nil, transitionError("appointment", a.Status, to)
	}
	updated, err := tx.UpdateAppointmentStatus(ctx, a.ID, a.Status, to)
	if err != nil {
		return nil, guard(err, ErrConcurrentUpdate)
	}
	return updated, nil
}

func statusPtr(s AppointmentStatus) *AppointmentStatus { return &s }

// BookAppointment reserves an OPEN slot for the patient. The slot is claimed
// with a guarded update, so of two concurrent bookings exactly one succeeds
// and the other gets ErrSlotUnavailable.
func (s *Service) BookAppointment(ctx context.Context, actor Actor, doctorID, patientID, slotID uuid.UUID) (*Appointment, error) {
	switch {
	case doctorID == uuid.Nil:
		return nil, missing("doctor_id")
	case patientID == uuid.Nil:
		return nil, missing("patient_id")
	case slotID == uuid.Nil:
		return nil, missing("time_slot_id")
	}
	if err := authorize(actor, patientID, doctorID); err != nil {
		return nil, err
	}

	var appt *Appointment
	err := s.execute(ctx, "book_appointment", uuid.Nil, func(ctx context.Context, tx Tx, w *work) error {
		doctor, err := loadUser(ctx, tx, doctorID, RoleDoctor, ErrDoctorNotFound)
		if err != nil {
			return err
		}
		patient, err := loadUser(ctx, tx, patientID, RolePatient, ErrPatientNotFound)
		if err != nil {
			return err
		}
		slot, err := tx.GetTimeSlot(ctx, slotID)
		if err != nil {
			return err
		}
		if slot.DoctorID != doctorID {
			return ErrSlotNotFound
		}

		if _, err := tx.UpdateTimeSlotStatus(ctx, slot.ID, SlotOpen, SlotClosed); err != nil {
			return guard(err, ErrSlotUnavailable)
		}

		appt = &Appointment{
			ID:         uuid.New(),
			PatientID:  patient.ID,
			DoctorID:   doctor.ID,
			TimeSlotID: slot.ID,
			Date:       slot.Date,
			Status:     StatusPending,
		}
		if err := tx.InsertAppointment(ctx, appt); err != nil {
			return err
		}

		label := slot.Label(s.Location())
		if err := record(ctx, tx, appt.ID, "Appointment requested", statusPtr(StatusPending)); err != nil {
			return err
		}
		if err := record(ctx, tx, appt.ID, "Time slot "+label+" reserved", nil); err != nil {
			return err
		}

		if err := s.tell(ctx, tx, w, patient, "Appointment requested",
			fmt.Sprintf("Your appointment with %s on %s is awaiting confirmation.", doctor.Name, label)); err != nil {
			return err
		}
		return s.tell(ctx, tx, w, doctor, "New appointment request",
			fmt.Sprintf("%s requested an appointment on %s.", patient.Name, label))
	})
	if err != nil {
		return nil, err
	}
	return appt, nil
}

// ConfirmAppointment accepts a PENDING or RESCHEDULED appointment.
func (s *Service) ConfirmAppointment(ctx context.Context, actor Actor, appointmentID uuid.UUID) (*Appointment, error) {
	if appointmentID == uuid.Nil {
		return nil, missing("appointment_id")
	}
	var out *Appointment
	err := s.execute(ctx, "confirm_appointment", uuid.Nil, func(ctx context.Context, tx Tx, w *work) error {
		a, err := tx.GetAppointment(ctx, appointmentID, true)
		if err != nil {
			return err
		}
		if err := authorizeDoctor(actor, a.DoctorID); err != nil {
			return err
		}
		out, err = transition(ctx, tx, a, StatusConfirmed)
		if err != nil {
			return err
		}
		if err := record(ctx, tx, a.ID, "Appointment confirmed", statusPtr(StatusConfirmed)); err != nil {
			return err
		}
		return s.tellBoth(ctx, tx, w, out, "Appointment confirmed",
			fmt.Sprintf("Appointment %s on %s is confirmed.", out.ID, out.Date.Format("2006-01-02")))
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// CompleteAppointment closes the consultation and bills amount (minor
// units). An earlier unpaid invoice for the appointment is re-priced rather
// than duplicated.
func (s *Service) CompleteAppointment(ctx context.Context, actor Actor, appointmentID uuid.UUID, amount int64) (*Appointment, *Invoice, error) {
	if appointmentID == uuid.Nil {
		return nil, nil, missing("appointment_id")
	}
	if amount <= 0 {
		return nil, nil, ErrInvalidAmount
	}

	var (
		out *Appointment
		inv *Invoice
	)
	err := s.execute(ctx, "complete_appointment", uuid.Nil, func(ctx context.Context, tx Tx, w *work) error {
		a, err := tx.GetAppointment(ctx, appointmentID, true)
		if err != nil {
			return err
		}
		if err := authorizeDoctor(actor, a.DoctorID); err != nil {
			return err
		}
		out, err = transition(ctx, tx, a, StatusPendingPayment)
		if err != nil {
			return err
		}

		inv, err = tx.GetInvoiceByAppointment(ctx, a.ID, true)
		switch {
		case errors.Is(err, ErrInvoiceNotFound):
			inv = &Invoice{
				ID:            uuid.New(),
				AppointmentID: a.ID,
				PatientID:     a.PatientID,
				CreatedBy:     actor.UserID,
				Amount:        amount,
				Status:        InvoicePending,
			}
			if err := tx.InsertInvoice(ctx, inv); err != nil {
				return err
			}
		case err != nil:
			return err
		case inv.Status == InvoicePaid:
			return ErrAlreadyPaid
		default:
			inv, err = tx.RepriceInvoice(ctx, inv.ID, amount, actor.UserID)
			if err != nil {
				return guard(err, ErrConcurrentUpdate)
			}
		}

		desc := "Consultation completed, invoice of " + formatAmount(amount) + " issued"
		if err := record(ctx, tx, a.ID, desc, statusPtr(StatusPendingPayment)); err != nil {
			return err
		}
		return s.tellBoth(ctx, tx, w, out, "Invoice issued",
			fmt.Sprintf("Consultation completed. An invoice of %s is awaiting payment.", formatAmount(amount)))
	})
	if err != nil {
		return nil, nil, err
	}
	return out, inv, nil
}

// CancelAppointment cancels the appointment and reopens its slot. A queue
// entry still open for it is cancelled too, including the one being served.
func (s *Service) CancelAppointment(ctx context.Context, actor Actor, appointmentID uuid.UUID, reason string) (*Appointment, error) {
	if appointmentID == uuid.Nil {
		return nil, missing("appointment_id")
	}
	var out *Appointment
	err := s.execute(ctx, "cancel_appointment", uuid.Nil, func(ctx context.Context, tx Tx, w *work) error {
		a, err := tx.GetAppointment(ctx, appointmentID, true)
		if err != nil {
			return err
		}
		if err := authorize(actor, a.PatientID, a.DoctorID); err != nil {
			return err
		}
		if a.Status == StatusCancelled {
			return ErrAppointmentAlreadyCancelled
		}
		if !a.Status.Cancellable() {
			return transitionError("appointment", a.Status, StatusCancelled)
		}

		out, err = transition(ctx, tx, a, StatusCancelled)
		if err != nil {
			return err
		}
		if _, err := tx.UpdateTimeSlotStatus(ctx, a.TimeSlotID, SlotClosed, SlotOpen); err != nil {
			return guard(err, ErrConcurrentUpdate)
		}

		if err := tx.LockDoctorQueue(ctx, a.DoctorID); err != nil {
			return err
		}
		for _, st := range []QueueStatus{QueueWaiting, QueueSkipped, QueueApproved} {
			e, err := tx.FindQueueEntryByAppointment(ctx, a.ID, st)
			if errors.Is(err, ErrQueueEntryNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			if _, err := tx.UpdateQueueStatus(ctx, e.ID, st, QueueCancelled); err != nil {
				return guard(err, ErrConcurrentUpdate)
			}
			w.queueChanged(a.DoctorID, "cancelled")
		}

		desc := "Appointment cancelled"
		if r := strings.TrimSpace(reason); r != "" {
			desc += ": " + r
		}
		if err := record(ctx, tx, a.ID, desc, statusPtr(StatusCancelled)); err != nil {
			return err
		}
		if err := record(ctx, tx, a.ID, "Time slot released", nil); err != nil {
			return err
		}
		return s.tellBoth(ctx, tx, w, out, "Appointment cancelled",
			fmt.Sprintf("Appointment on %s was cancelled.", out.Date.Format("2006-01-02")))
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// RescheduleAppointment moves the appointment to another OPEN slot of the
// same doctor. The new slot is claimed before the old one is released.
func (s *Service) RescheduleAppointment(ctx context.Context, actor Actor, appointmentID, newSlotID uuid.UUID) (*Appointment, error) {
	switch {
	case appointmentID == uuid.Nil:
		return nil, missing("appointment_id")
	case newSlotID == uuid.Nil:
		return nil, missing("new_time_slot_id")
	}

	var out *Appointment
	err := s.execute(ctx, "reschedule_appointment", uuid.Nil, func(ctx context.Context, tx Tx, w *work) error {
		a, err := tx.GetAppointment(ctx, appointmentID, true)
		if err != nil {
			return err
		}
		if err := authorize(actor, a.PatientID, a.DoctorID); err != nil {
			return err
		}
		if a.TimeSlotID == newSlotID {
			return ErrSameSlot
		}
		if !a.Status.CanTransitionTo(StatusRescheduled) {
			return transitionError("appointment", a.Status, StatusRescheduled)
		}

		oldSlot, err := tx.GetTimeSlot(ctx, a.TimeSlotID)
		if err != nil {
			return err
		}
		newSlot, err := tx.GetTimeSlot(ctx, newSlotID)
		if err != nil {
			return err
		}
		if newSlot.DoctorID != a.DoctorID {
			return ErrSlotDoctorMismatch
		}

		if _, err := tx.UpdateTimeSlotStatus(ctx, newSlot.ID, SlotOpen, SlotClosed); err != nil {
			return guard(err, ErrSlotUnavailable)
		}
		if _, err := tx.UpdateTimeSlotStatus(ctx, oldSlot.ID, SlotClosed, SlotOpen); err != nil {
			return guard(err, ErrConcurrentUpdate)
		}
		out, err = tx.MoveAppointment(ctx, a.ID, a.Status, newSlot.ID, newSlot.Date, StatusRescheduled)
		if err != nil {
			return guard(err, ErrConcurrentUpdate)
		}

		loc := s.Location()
		desc := fmt.Sprintf("Rescheduled from %s to %s", oldSlot.Label(loc), newSlot.Label(loc))
		if err := record(ctx, tx, a.ID, desc, statusPtr(StatusRescheduled)); err != nil {
			return err
		}
		return s.tellBoth(ctx, tx, w, out, "Appointment rescheduled",
			fmt.Sprintf("Appointment moved to %s and awaits confirmation.", newSlot.Label(loc)))
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// CancelPayment withdraws a pending bill and returns the appointment to
// CONFIRMED. The invoice stays PENDING and is re-priced on the next
// completion.
func (s *Service) CancelPayment(ctx context.Context, actor Actor, appointmentID uuid.UUID) (*Appointment, error) {
	if appointmentID == uuid.Nil {
		return nil, missing("appointment_id")
	}
	var out *Appointment
	err := s.execute(ctx, "cancel_payment", uuid.Nil, func(ctx context.Context, tx Tx, w *work) error {
		a, err := tx.GetAppointment(ctx, appointmentID, true)
		if err != nil {
			return err
		}
		if err := authorize(actor, a.PatientID, a.DoctorID); err != nil {
			return err
		}
		if a.Status != StatusPendingPayment {
			return transitionError("appointment", a.Status, StatusConfirmed)
		}
		out, err = transition(ctx, tx, a, StatusConfirmed)
		if err != nil {
			return err
		}
		if err := record(ctx, tx, a.ID, "Payment cancelled", statusPtr(StatusConfirmed)); err != nil {
			return err
		}
		return s.tellBoth(ctx, tx, w, out, "Payment cancelled",
			"The pending payment was cancelled. The appointment is confirmed again.")
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Service) GetAppointment(ctx context.Context, actor Actor, appointmentID uuid.UUID) (*Appointment, error) {
	var out *Appointment
	err := s.execute(ctx, "get_appointment", uuid.Nil, func(ctx context.Context, tx Tx, w *work) error {
		a, err := tx.GetAppointment(ctx, appointmentID, false)
		if err != nil {
			return err
		}
		if err := authorize(actor, a.PatientID, a.DoctorID); err != nil {
			return err
		}
		out = a
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ListAppointments pages through appointments. Doctors and patients only see
// their own regardless of the filter they pass.
func (s *Service) ListAppointments(ctx context.Context, actor Actor, f AppointmentFilter) ([]Appointment, error) {
	if actor.UserID == uuid.Nil {
		return nil, ErrForbidden
	}
	switch actor.Role {
	case RoleAdmin:
	case RoleDoctor:
		id := actor.UserID
		f.DoctorID = &id
	case RolePatient:
		id := actor.UserID
		f.PatientID = &id
	default:
		return nil, ErrForbidden
	}
	if f.Limit <= 0 {
		f.Limit = defaultListLimit
	}
	if f.Limit > maxListLimit {
		f.Limit = maxListLimit
	}
	if f.Offset < 0 {
		f.Offset = 0
	}

	var out []Appointment
	err := s.execute(ctx, "list_appointments", uuid.Nil, func(ctx context.Context, tx Tx, w *work) error {
		var err error
		out, err = tx.ListAppointments(ctx, f)
		return err
	})
	return out, err
}

func (s *Service) AppointmentHistory(ctx context.Context, actor Actor, appointmentID uuid.UUID) ([]AppointmentHistory, error) {
	var out []AppointmentHistory
	err := s.execute(ctx, "appointment_history", uuid.Nil, func(ctx context.Context, tx Tx, w *work) error {
		a, err := tx.GetAppointment(ctx, appointmentID, false)
		if err != nil {
			return err
		}
		if err := authorize(actor, a.PatientID, a.DoctorID); err != nil {
			return err
		}
		out, err = tx.ListHistory(ctx, appointmentID)
		return err
	})
	return out, err
}
