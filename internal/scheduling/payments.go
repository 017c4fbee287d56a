package scheduling

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

// ConfirmPayment settles the appointment's invoice, completes the
// appointment and finishes the linked queue entry if one is being served.
// Paying an invoice twice returns the existing receipt and changes nothing.
func (s *Service) ConfirmPayment(ctx context.Context, actor Actor, appointmentID uuid.UUID) (*PaymentReceipt, error) {
	if appointmentID == uuid.Nil {
		return nil, missing("appointment_id")
	}

	var receipt *PaymentReceipt
	err := s.execute(ctx, "confirm_payment", uuid.Nil, func(ctx context.Context, tx Tx, w *work) error {
		a, err := tx.GetAppointment(ctx, appointmentID, true)
		if err != nil {
			return err
		}
		if err := authorize(actor, a.PatientID, a.DoctorID); err != nil {
			return err
		}
		inv, err := tx.GetInvoiceByAppointment(ctx, a.ID, true)
		if err != nil {
			return err
		}
		if inv.Status == InvoicePaid {
			receipt = &PaymentReceipt{Invoice: *inv, Appointment: *a}
			return nil
		}
		if !a.Status.CanTransitionTo(StatusCompleted) {
			return transitionError("appointment", a.Status, StatusCompleted)
		}

		paid, err := tx.MarkInvoicePaid(ctx, inv.ID, s.now().UTC())
		if err != nil {
			return guard(err, ErrConcurrentUpdate)
		}
		done, err := transition(ctx, tx, a, StatusCompleted)
		if err != nil {
			return err
		}

		if err := tx.LockDoctorQueue(ctx, a.DoctorID); err != nil {
			return err
		}
		entry, err := tx.FindQueueEntryByAppointment(ctx, a.ID, QueueApproved)
		switch {
		case errors.Is(err, ErrQueueEntryNotFound):
		case err != nil:
			return err
		default:
			if _, err := tx.UpdateQueueStatus(ctx, entry.ID, QueueApproved, QueueCompleted); err != nil {
				return guard(err, ErrConcurrentUpdate)
			}
			w.queueChanged(a.DoctorID, EventCompleted)
		}

		desc := "Payment of " + formatAmount(paid.Amount) + " received"
		if err := record(ctx, tx, a.ID, desc, statusPtr(StatusCompleted)); err != nil {
			return err
		}
		if err := s.tellBoth(ctx, tx, w, done, "Payment received",
			"Payment of "+formatAmount(paid.Amount)+" received. Thank you."); err != nil {
			return err
		}
		receipt = &PaymentReceipt{Invoice: *paid, Appointment: *done}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return receipt, nil
}

func (s *Service) GetInvoice(ctx context.Context, actor Actor, appointmentID uuid.UUID) (*Invoice, error) {
	if appointmentID == uuid.Nil {
		return nil, missing("appointment_id")
	}
	var out *Invoice
	err := s.execute(ctx, "get_invoice", uuid.Nil, func(ctx context.Context, tx Tx, w *work) error {
		a, err := tx.GetAppointment(ctx, appointmentID, false)
		if err != nil {
			return err
		}
		if err := authorize(actor, a.PatientID, a.DoctorID); err != nil {
			return err
		}
		out, err = tx.GetInvoiceByAppointment(ctx, appointmentID, false)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ListNotifications returns the actor's notifications, newest first.
func (s *Service) ListNotifications(ctx context.Context, actor Actor) ([]Notification, error) {
	if actor.UserID == uuid.Nil {
		return nil, ErrForbidden
	}
	var out []Notification
	err := s.execute(ctx, "list_notifications", uuid.Nil, func(ctx context.Context, tx Tx, w *work) error {
		var err error
		out, err = tx.ListNotifications(ctx, actor.UserID)
		return err
	})
	return out, err
}

// ClearNotifications deletes all of the actor's notifications.
func (s *Service) ClearNotifications(ctx context.Context, actor Actor) (int64, error) {
	if actor.UserID == uuid.Nil {
		return 0, ErrForbidden
	}
	var n int64
	err := s.execute(ctx, "clear_notifications", uuid.Nil, func(ctx context.Context, tx Tx, w *work) error {
		var err error
		n, err = tx.DeleteNotifications(ctx, actor.UserID)
		return err
	})
	return n, err
}
