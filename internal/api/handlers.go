package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/hackgods/clinic-scheduling/internal/scheduling"
	"github.com/hackgods/clinic-scheduling/internal/timeslot"
	"github.com/hackgods/clinic-scheduling/pkg/logging"
)

type handlers struct {
	svc    *scheduling.Service
	logger *logging.Logger
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
		return false
	}
	return true
}

// parseID writes a 400 and returns false when raw is not a UUID.
func parseID(w http.ResponseWriter, raw, field string) (uuid.UUID, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		writeError(w, http.StatusBadRequest, "missing_field", field+" is required")
		return uuid.Nil, false
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_"+field, field+" must be a valid UUID")
		return uuid.Nil, false
	}
	return id, true
}

func (h *handlers) fail(w http.ResponseWriter, r *http.Request, err error) {
	writeServiceError(w, r, h.logger, err)
}

func (h *handlers) book(w http.ResponseWriter, r *http.Request) {
	var req BookRequest
	if !decode(w, r, &req) {
		return
	}
	actor := ActorFrom(r.Context())
	if req.PatientID == "" && actor.Role == scheduling.RolePatient {
		req.PatientID = actor.UserID.String()
	}
	doctorID, ok := parseID(w, req.DoctorID, "doctor_id")
	if !ok {
		return
	}
	patientID, ok := parseID(w, req.PatientID, "patient_id")
	if !ok {
		return
	}
	slotID, ok := parseID(w, req.TimeSlotID, "time_slot_id")
	if !ok {
		return
	}

	appt, err := h.svc.BookAppointment(r.Context(), actor, doctorID, patientID, slotID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respond(w, http.StatusCreated, "Appointment booked successfully", appt)
}

// appointmentAction handles the bodies that only carry an appointment id.
func (h *handlers) appointmentAction(message string, run func(r *http.Request, actor scheduling.Actor, id uuid.UUID) (any, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req AppointmentRequest
		if !decode(w, r, &req) {
			return
		}
		id, ok := parseID(w, req.AppointmentID, "appointment_id")
		if !ok {
			return
		}
		out, err := run(r, ActorFrom(r.Context()), id)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		respond(w, http.StatusOK, message, out)
	}
}

func (h *handlers) confirm() http.HandlerFunc {
	return h.appointmentAction("Appointment confirmed", func(r *http.Request, actor scheduling.Actor, id uuid.UUID) (any, error) {
		return h.svc.ConfirmAppointment(r.Context(), actor, id)
	})
}

func (h *handlers) confirmPayment() http.HandlerFunc {
	return h.appointmentAction("Payment confirmed", func(r *http.Request, actor scheduling.Actor, id uuid.UUID) (any, error) {
		return h.svc.ConfirmPayment(r.Context(), actor, id)
	})
}

func (h *handlers) cancelPayment() http.HandlerFunc {
	return h.appointmentAction("Payment cancelled", func(r *http.Request, actor scheduling.Actor, id uuid.UUID) (any, error) {
		return h.svc.CancelPayment(r.Context(), actor, id)
	})
}

func (h *handlers) complete(w http.ResponseWriter, r *http.Request) {
	var req CompleteRequest
	if !decode(w, r, &req) {
		return
	}
	id, ok := parseID(w, req.AppointmentID, "appointment_id")
	if !ok {
		return
	}
	appt, inv, err := h.svc.CompleteAppointment(r.Context(), ActorFrom(r.Context()), id, req.Amount)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respond(w, http.StatusOK, "Appointment completed, invoice issued", CompleteResponse{Appointment: appt, Invoice: inv})
}

func (h *handlers) cancel(w http.ResponseWriter, r *http.Request) {
	var req CancelRequest
	if !decode(w, r, &req) {
		return
	}
	id, ok := parseID(w, req.AppointmentID, "appointment_id")
	if !ok {
		return
	}
	appt, err := h.svc.CancelAppointment(r.Context(), ActorFrom(r.Context()), id, req.Reason)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respond(w, http.StatusOK, "Appointment cancelled", appt)
}

func (h *handlers) reschedule(w http.ResponseWriter, r *http.Request) {
	var req RescheduleRequest
	if !decode(w, r, &req) {
		return
	}
	id, ok := parseID(w, req.AppointmentID, "appointment_id")
	if !ok {
		return
	}
	slotID, ok := parseID(w, req.NewTimeSlotID, "new_time_slot_id")
	if !ok {
		return
	}
	appt, err := h.svc.RescheduleAppointment(r.Context(), ActorFrom(r.Context()), id, slotID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respond(w, http.StatusOK, "Appointment rescheduled", appt)
}

func (h *handlers) getAppointment(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, chi.URLParam(r, "id"), "id")
	if !ok {
		return
	}
	appt, err := h.svc.GetAppointment(r.Context(), ActorFrom(r.Context()), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respond(w, http.StatusOK, "Appointment", appt)
}

func (h *handlers) appointmentHistory(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, chi.URLParam(r, "id"), "id")
	if !ok {
		return
	}
	history, err := h.svc.AppointmentHistory(r.Context(), ActorFrom(r.Context()), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respond(w, http.StatusOK, "Appointment history", history)
}

func (h *handlers) listAppointments(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var f scheduling.AppointmentFilter
	if raw := q.Get("patient_id"); raw != "" {
		id, ok := parseID(w, raw, "patient_id")
		if !ok {
			return
		}
		f.PatientID = &id
	}
	if raw := q.Get("doctor_id"); raw != "" {
		id, ok := parseID(w, raw, "doctor_id")
		if !ok {
			return
		}
		f.DoctorID = &id
	}
	if raw := q.Get("status"); raw != "" {
		st, err := scheduling.ParseAppointmentStatus(strings.ToUpper(raw))
		if err != nil {
			h.fail(w, r, err)
			return
		}
		f.Status = &st
	}
	f.Limit, _ = strconv.Atoi(q.Get("limit"))
	f.Offset, _ = strconv.Atoi(q.Get("offset"))

	list, err := h.svc.ListAppointments(r.Context(), ActorFrom(r.Context()), f)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if list == nil {
		list = []scheduling.Appointment{}
	}
	respond(w, http.StatusOK, "Appointments", list)
}

func (h *handlers) getInvoice(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, chi.URLParam(r, "appointmentId"), "appointment_id")
	if !ok {
		return
	}
	inv, err := h.svc.GetInvoice(r.Context(), ActorFrom(r.Context()), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respond(w, http.StatusOK, "Invoice", inv)
}

func (h *handlers) createTimeSlot(w http.ResponseWriter, r *http.Request) {
	var req TimeSlotRequest
	if !decode(w, r, &req) {
		return
	}
	actor := ActorFrom(r.Context())
	if req.DoctorID == "" && actor.Role == scheduling.RoleDoctor {
		req.DoctorID = actor.UserID.String()
	}
	doctorID, ok := parseID(w, req.DoctorID, "doctor_id")
	if !ok {
		return
	}
	c, err := timeslot.ParseCandidate(req.Date, req.StartTime, req.EndTime, h.svc.Location())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	slot, err := h.svc.CreateTimeSlot(r.Context(), actor, doctorID, c)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respond(w, http.StatusCreated, "Time slot created", slot)
}

func (h *handlers) deleteTimeSlot(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, chi.URLParam(r, "id"), "id")
	if !ok {
		return
	}
	if err := h.svc.DeleteTimeSlot(r.Context(), ActorFrom(r.Context()), id); err != nil {
		h.fail(w, r, err)
		return
	}
	respond(w, http.StatusOK, "Time slot deleted", nil)
}

func (h *handlers) listTimeSlots(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	doctorID, ok := parseID(w, q.Get("doctor_id"), "doctor_id")
	if !ok {
		return
	}
	day, err := time.ParseInLocation("2006-01-02", q.Get("date"), h.svc.Location())
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_date", "date must be formatted as YYYY-MM-DD")
		return
	}
	slots, err := h.svc.ListTimeSlots(r.Context(), doctorID, day)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if slots == nil {
		slots = []scheduling.TimeSlot{}
	}
	respond(w, http.StatusOK, "Time slots", slots)
}

func (h *handlers) enqueue(w http.ResponseWriter, r *http.Request) {
	var req EnqueueRequest
	if !decode(w, r, &req) {
		return
	}
	doctorID, ok := parseID(w, req.DoctorID, "doctor_id")
	if !ok {
		return
	}
	var apptID *uuid.UUID
	if req.AppointmentID != "" {
		id, ok := parseID(w, req.AppointmentID, "appointment_id")
		if !ok {
			return
		}
		apptID = &id
	}
	entry, err := h.svc.EnqueuePatient(r.Context(), ActorFrom(r.Context()), doctorID, req.Patient, apptID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respond(w, http.StatusCreated, "Patient added to the queue", entry)
}

func (h *handlers) confirmQueue(w http.ResponseWriter, r *http.Request) {
	var req ConfirmQueueRequest
	if !decode(w, r, &req) {
		return
	}
	doctorID, ok := parseID(w, req.DoctorID, "doctor_id")
	if !ok {
		return
	}
	entry, err := h.svc.CallNextPatient(r.Context(), ActorFrom(r.Context()), doctorID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respond(w, http.StatusOK, "Next patient called", entry)
}

func (h *handlers) updateQueueStatus(w http.ResponseWriter, r *http.Request) {
	var req QueueStatusRequest
	if !decode(w, r, &req) {
		return
	}
	id, ok := parseID(w, req.QueueID, "queue_id")
	if !ok {
		return
	}
	st, err := scheduling.ParseQueueStatus(strings.ToUpper(req.Status))
	if err != nil {
		h.fail(w, r, err)
		return
	}

	actor := ActorFrom(r.Context())
	var (
		entry   *scheduling.QueueEntry
		message string
	)
	switch st {
	case scheduling.QueueSkipped:
		entry, err = h.svc.SkipPatient(r.Context(), actor, id)
		message = "Patient skipped"
	case scheduling.QueueWaiting:
		entry, err = h.svc.ReturnSkippedPatient(r.Context(), actor, id)
		message = "Patient returned to the queue"
	case scheduling.QueueCompleted:
		entry, err = h.svc.CompleteQueueEntry(r.Context(), actor, id)
		message = "Consultation completed"
	default:
		writeError(w, http.StatusBadRequest, "unsupported_status", "status must be SKIPPED, WAITING or COMPLETED")
		return
	}
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respond(w, http.StatusOK, message, entry)
}

func (h *handlers) removeFromQueue(w http.ResponseWriter, r *http.Request) {
	var req RemoveQueueRequest
	if !decode(w, r, &req) {
		return
	}
	actor := ActorFrom(r.Context())
	if req.All {
		doctorID, ok := parseID(w, req.DoctorID, "doctor_id")
		if !ok {
			return
		}
		n, err := h.svc.ClearQueue(r.Context(), actor, doctorID)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		respond(w, http.StatusOK, "Queue cleared", CountResponse{Count: int64(n)})
		return
	}
	id, ok := parseID(w, req.ID, "id")
	if !ok {
		return
	}
	if err := h.svc.RemoveFromQueue(r.Context(), actor, id); err != nil {
		h.fail(w, r, err)
		return
	}
	respond(w, http.StatusOK, "Patient removed from the queue", nil)
}

func (h *handlers) queueSnapshot(w http.ResponseWriter, r *http.Request) {
	doctorID, ok := parseID(w, chi.URLParam(r, "doctorId"), "doctor_id")
	if !ok {
		return
	}
	snap, err := h.svc.QueueSnapshot(r.Context(), ActorFrom(r.Context()), doctorID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respond(w, http.StatusOK, "Queue", snap)
}

func (h *handlers) listNotifications(w http.ResponseWriter, r *http.Request) {
	list, err := h.svc.ListNotifications(r.Context(), ActorFrom(r.Context()))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if list == nil {
		list = []scheduling.Notification{}
	}
	respond(w, http.StatusOK, "Notifications", list)
}

func (h *handlers) clearNotifications(w http.ResponseWriter, r *http.Request) {
	n, err := h.svc.ClearNotifications(r.Context(), ActorFrom(r.Context()))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respond(w, http.StatusOK, "Notifications cleared", CountResponse{Count: n})
}
