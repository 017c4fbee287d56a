package api

import "github.com/hackgods/clinic-scheduling/internal/scheduling"

type BookRequest struct {
	DoctorID   string `json:"doctor_id"`
	PatientID  string `json:"patient_id"`
	TimeSlotID string `json:"time_slot_id"`
}

type AppointmentRequest struct {
	AppointmentID string `json:"appointment_id"`
}

type CompleteRequest struct {
	AppointmentID string `json:"appointment_id"`
	Amount        int64  `json:"amount"` // whole currency units
}

type CancelRequest struct {
	AppointmentID string `json:"appointment_id"`
	Reason        string `json:"reason"`
}

type RescheduleRequest struct {
	AppointmentID string `json:"appointment_id"`
	NewTimeSlotID string `json:"new_time_slot_id"`
}

type TimeSlotRequest struct {
	DoctorID  string `json:"doctor_id"`
	Date      string `json:"date"`
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
}

type EnqueueRequest struct {
	DoctorID      string `json:"doctor_id"`
	Patient       string `json:"patient"`
	AppointmentID string `json:"appointment_id,omitempty"`
}

type ConfirmQueueRequest struct {
	DoctorID string `json:"doctor_id"`
}

type QueueStatusRequest struct {
	QueueID string `json:"queue_id"`
	Status  string `json:"status"`
}

type RemoveQueueRequest struct {
	ID       string `json:"id"`
	DoctorID string `json:"doctor_id"`
	All      bool   `json:"all"`
}

type CompleteResponse struct {
	Appointment *scheduling.Appointment `json:"appointment"`
	Invoice     *scheduling.Invoice     `json:"invoice"`
}

type CountResponse struct {
	Count int64 `json:"count"`
}
