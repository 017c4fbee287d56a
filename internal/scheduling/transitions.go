package scheduling

import "fmt"

var appointmentTransitions = map[AppointmentStatus][]AppointmentStatus{
	StatusPending:        {StatusConfirmed, StatusCancelled, StatusRescheduled},
	StatusConfirmed:      {StatusPendingPayment, StatusCancelled, StatusRescheduled},
	StatusRescheduled:    {StatusConfirmed, StatusCancelled, StatusRescheduled},
	StatusPendingPayment: {StatusCompleted, StatusConfirmed},
	StatusCompleted:      nil,
	StatusCancelled:      nil,
}

var queueTransitions = map[QueueStatus][]QueueStatus{
	QueueWaiting:   {QueueApproved, QueueSkipped, QueueCancelled},
	QueueSkipped:   {QueueWaiting, QueueCancelled},
	QueueApproved:  {QueueCompleted, QueueCancelled},
	QueueCompleted: nil,
	QueueCancelled: nil,
}

var slotTransitions = map[TimeSlotStatus][]TimeSlotStatus{
	SlotOpen:   {SlotClosed},
	SlotClosed: {SlotOpen},
}

var invoiceTransitions = map[InvoiceStatus][]InvoiceStatus{
	InvoicePending: {InvoicePaid},
	InvoicePaid:    nil,
}

func allowed[S comparable](table map[S][]S, from, to S) bool {
	for _, next := range table[from] {
		if next == to {
			return true
		}
	}
	return false
}

func (s AppointmentStatus) CanTransitionTo(to AppointmentStatus) bool {
	return allowed(appointmentTransitions, s, to)
}

func (s AppointmentStatus) Valid() bool {
	_, ok := appointmentTransitions[s]
	return ok
}

func (s AppointmentStatus) Terminal() bool {
	return s.Valid() && len(appointmentTransitions[s]) == 0
}

// Cancellable reports whether the appointment still holds its slot and may be
// cancelled or rescheduled.
func (s AppointmentStatus) Cancellable() bool {
	return s.CanTransitionTo(StatusCancelled)
}

func (s QueueStatus) CanTransitionTo(to QueueStatus) bool {
	return allowed(queueTransitions, s, to)
}

func (s QueueStatus) Valid() bool {
	_, ok := queueTransitions[s]
	return ok
}

// Active reports whether the entry still occupies a place in the queue.
func (s QueueStatus) Active() bool {
	switch s {
	case QueueWaiting, QueueApproved, QueueSkipped:
		return true
	case QueueCompleted, QueueCancelled:
		return false
	}
	return false
}

func (s TimeSlotStatus) CanTransitionTo(to TimeSlotStatus) bool {
	return allowed(slotTransitions, s, to)
}

func (s InvoiceStatus) CanTransitionTo(to InvoiceStatus) bool {
	return allowed(invoiceTransitions, s, to)
}

func ParseAppointmentStatus(raw string) (AppointmentStatus, error) {
	s := AppointmentStatus(raw)
	if !s.Valid() {
		return "", &Error{Kind: KindValidation, Code: "invalid_status", Message: fmt.Sprintf("unknown appointment status %q", raw)}
	}
	return s, nil
}

func ParseQueueStatus(raw string) (QueueStatus, error) {
	s := QueueStatus(raw)
	if !s.Valid() {
		return "", &Error{Kind: KindValidation, Code: "invalid_status", Message: fmt.Sprintf("unknown queue status %q", raw)}
	}
	return s, nil
}
