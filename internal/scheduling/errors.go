package scheduling

import (
	"errors"
	"fmt"

	"github.com/hackgods/clinic-scheduling/internal/timeslot"
)

// ErrorKind is the boundary taxonomy every orchestrator error maps to.
type ErrorKind string

const (
	KindValidation  ErrorKind = "validation"
	KindForbidden   ErrorKind = "forbidden"
	KindNotFound    ErrorKind = "not_found"
	KindConflict    ErrorKind = "conflict"
	KindTransaction ErrorKind = "transaction"
)

// Error carries a kind, a stable code and a message that is safe to show.
type Error struct {
	Kind    ErrorKind
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string { return e.Message }

func (e *Error) Unwrap() error { return e.Err }

func newError(kind ErrorKind, code, msg string) *Error {
	return &Error{Kind: kind, Code: code, Message: msg}
}

var (
	ErrUserNotFound        = newError(KindNotFound, "user_not_found", "user not found")
	ErrDoctorNotFound      = newError(KindNotFound, "doctor_not_found", "doctor not found")
	ErrPatientNotFound     = newError(KindNotFound, "patient_not_found", "patient not found")
	ErrSlotNotFound        = newError(KindNotFound, "slot_not_found", "time slot not found")
	ErrAppointmentNotFound = newError(KindNotFound, "appointment_not_found", "appointment not found")
	ErrQueueEntryNotFound  = newError(KindNotFound, "queue_entry_not_found", "queue entry not found")
	ErrInvoiceNotFound     = newError(KindNotFound, "invoice_not_found", "invoice not found")

	ErrSlotUnavailable             = newError(KindConflict, "slot_unavailable", "time slot is no longer available")
	ErrSlotInUse                   = newError(KindConflict, "slot_in_use", "time slot is booked or referenced by an appointment and cannot be deleted")
	ErrInvalidTransition           = newError(KindConflict, "invalid_transition", "invalid status transition")
	ErrAppointmentAlreadyCancelled = newError(KindConflict, "already_cancelled", "appointment is already cancelled")
	ErrAlreadyServing              = newError(KindConflict, "already_serving", "a patient is already being served; complete the current consultation first")
	ErrQueueEmpty                  = newError(KindConflict, "queue_empty", "no patients are waiting in the queue")
	ErrAlreadyQueued               = newError(KindConflict, "already_queued", "patient is already in this doctor's queue")
	ErrNotWaiting                  = newError(KindConflict, "not_waiting", "only waiting patients can be skipped")
	ErrNotSkipped                  = newError(KindConflict, "not_skipped", "only skipped patients can return to the queue")
	ErrNotServing                  = newError(KindConflict, "not_serving", "only the patient being served can be completed")
	ErrNotRemovable                = newError(KindConflict, "not_removable", "only waiting or skipped patients can be removed from the queue")
	ErrAlreadyPaid                 = newError(KindConflict, "already_paid", "invoice is already paid")
	ErrConcurrentUpdate            = newError(KindConflict, "concurrent_update", "record was changed by another request, please retry")

	ErrMissingField        = newError(KindValidation, "missing_field", "required field is missing")
	ErrInvalidAmount       = newError(KindValidation, "invalid_amount", "amount must be greater than zero")
	ErrSameSlot            = newError(KindValidation, "same_slot", "appointment is already booked in this time slot")
	ErrSlotDoctorMismatch  = newError(KindValidation, "slot_doctor_mismatch", "time slot does not belong to this doctor")
	ErrAppointmentMismatch = newError(KindValidation, "appointment_mismatch", "appointment does not belong to this patient and doctor")
	ErrForbidden           = newError(KindForbidden, "forbidden", "you are not allowed to perform this action")

	// ErrStatusChanged is returned by Tx guarded updates when the row is no
	// longer in the expected status.
	ErrStatusChanged = errors.New("scheduling: status guard did not match")
)

func missing(field string) error {
	return &Error{Kind: KindValidation, Code: ErrMissingField.Code, Message: field + " is required", Err: ErrMissingField}
}

func transitionError(entity string, from, to any) error {
	return &Error{
		Kind:    KindConflict,
		Code:    ErrInvalidTransition.Code,
		Message: fmt.Sprintf("cannot move %s from %s to %s", entity, from, to),
		Err:     ErrInvalidTransition,
	}
}

// AsError maps any error to the boundary taxonomy. Unknown errors become
// transaction errors wrapping the cause.
func AsError(err error) *Error {
	if err == nil {
		return nil
	}
	var se *Error
	if errors.As(err, &se) {
		return se
	}
	var ve *timeslot.ValidationError
	if errors.As(err, &ve) {
		return &Error{Kind: KindValidation, Code: "invalid_time_slot", Message: ve.Message, Err: err}
	}
	return &Error{Kind: KindTransaction, Code: "transaction_failed", Message: "the request could not be completed, nothing was changed", Err: err}
}
