package scheduling

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Queue events published after commit.
const (
	EventEnqueued  = "enqueued"
	EventCalled    = "called"
	EventSkipped   = "skipped"
	EventReturned  = "returned"
	EventRemoved   = "removed"
	EventCompleted = "completed"
	EventCleared   = "cleared"
	EventExpired   = "expired"
)

// withPositions numbers WAITING entries 1..n in Seq order. entries must
// already be ordered by Seq.
func withPositions(entries []QueueEntry) []QueueEntry {
	pos := 0
	for i := range entries {
		if entries[i].Status == QueueWaiting {
			pos++
			entries[i].Position = pos
		} else {
			entries[i].Position = 0
		}
	}
	return entries
}

func positionOf(ctx context.Context, tx Tx, e *QueueEntry) error {
	e.Position = 0
	if e.Status != QueueWaiting {
		return nil
	}
	waiting, err := tx.ListQueue(ctx, e.DoctorID, QueueWaiting)
	if err != nil {
		return err
	}
	for i, w := range waiting {
		if w.ID == e.ID {
			e.Position = i + 1
			break
		}
	}
	return nil
}

func resolvePatient(ctx context.Context, tx Tx, ref string) (*User, error) {
	ref = strings.TrimSpace(ref)
	var (
		u   *User
		err error
	)
	if id, perr := uuid.Parse(ref); perr == nil {
		u, err = tx.GetUser(ctx, id)
	} else {
		u, err = tx.FindUserByEmail(ctx, ref)
	}
	if err != nil {
		return nil, guardNotFound(err, ErrPatientNotFound)
	}
	if u.Role != RolePatient {
		return nil, ErrPatientNotFound
	}
	return u, nil
}

func guardNotFound(err, notFound error) error {
	if errors.Is(err, ErrUserNotFound) {
		return notFound
	}
	return err
}

// EnqueuePatient appends a walk-in patient, referenced by id or email, to
// the tail of the doctor's queue.
func (s *Service) EnqueuePatient(ctx context.Context, actor Actor, doctorID uuid.UUID, patientRef string, appointmentID *uuid.UUID) (*QueueEntry, error) {
	if doctorID == uuid.Nil {
		return nil, missing("doctor_id")
	}
	if strings.TrimSpace(patientRef) == "" {
		return nil, missing("patient")
	}
	if actor.UserID == uuid.Nil {
		return nil, ErrForbidden
	}

	var entry *QueueEntry
	err := s.execute(ctx, "enqueue_patient", doctorID, func(ctx context.Context, tx Tx, w *work) error {
		if err := tx.LockDoctorQueue(ctx, doctorID); err != nil {
			return err
		}
		doctor, err := loadUser(ctx, tx, doctorID, RoleDoctor, ErrDoctorNotFound)
		if err != nil {
			return err
		}
		patient, err := resolvePatient(ctx, tx, patientRef)
		if err != nil {
			return err
		}
		if authorizeDoctor(actor, doctorID) != nil && authorize(actor, patient.ID) != nil {
			return ErrForbidden
		}

		if appointmentID != nil && *appointmentID != uuid.Nil {
			a, err := tx.GetAppointment(ctx, *appointmentID, false)
			if err != nil {
				return err
			}
			if a.PatientID != patient.ID || a.DoctorID != doctorID {
				return ErrAppointmentMismatch
			}
		} else {
			appointmentID = nil
		}

		active, err := tx.ListQueue(ctx, doctorID, QueueWaiting, QueueApproved, QueueSkipped)
		if err != nil {
			return err
		}
		for _, e := range active {
			if e.PatientID == patient.ID {
				return ErrAlreadyQueued
			}
		}

		entry = &QueueEntry{
			ID:            uuid.New(),
			PatientID:     patient.ID,
			DoctorID:      doctorID,
			AppointmentID: appointmentID,
			Status:        QueueWaiting,
		}
		if err := tx.InsertQueueEntry(ctx, entry); err != nil {
			return err
		}
		if err := positionOf(ctx, tx, entry); err != nil {
			return err
		}

		w.queueChanged(doctorID, EventEnqueued)
		return s.tell(ctx, tx, w, patient, "You joined the queue",
			fmt.Sprintf("You are number %d in %s's queue.", entry.Position, doctor.Name))
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// CallNextPatient approves the head of the queue. A doctor serves one
// patient at a time.
func (s *Service) CallNextPatient(ctx context.Context, actor Actor, doctorID uuid.UUID) (*QueueEntry, error) {
	if doctorID == uuid.Nil {
		return nil, missing("doctor_id")
	}
	if err := authorizeDoctor(actor, doctorID); err != nil {
		return nil, err
	}

	var out *QueueEntry
	err := s.execute(ctx, "call_next_patient", doctorID, func(ctx context.Context, tx Tx, w *work) error {
		if err := tx.LockDoctorQueue(ctx, doctorID); err != nil {
			return err
		}
		doctor, err := loadUser(ctx, tx, doctorID, RoleDoctor, ErrDoctorNotFound)
		if err != nil {
			return err
		}
		serving, err := tx.ListQueue(ctx, doctorID, QueueApproved)
		if err != nil {
			return err
		}
		if len(serving) > 0 {
			return ErrAlreadyServing
		}
		waiting, err := tx.ListQueue(ctx, doctorID, QueueWaiting)
		if err != nil {
			return err
		}
		if len(waiting) == 0 {
			return ErrQueueEmpty
		}

		out, err = tx.UpdateQueueStatus(ctx, waiting[0].ID, QueueWaiting, QueueApproved)
		if err != nil {
			return guard(err, ErrConcurrentUpdate)
		}
		patient, err := loadUser(ctx, tx, out.PatientID, RolePatient, ErrPatientNotFound)
		if err != nil {
			return err
		}

		w.queueChanged(doctorID, EventCalled)
		return s.tell(ctx, tx, w, patient, "It is your turn",
			fmt.Sprintf("%s is ready to see you now.", doctor.Name))
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// entryDoctor finds the doctor owning a queue entry so the doctor lock can
// be taken before the mutating transaction starts.
func (s *Service) entryDoctor(ctx context.Context, entryID uuid.UUID) (uuid.UUID, error) {
	var doctorID uuid.UUID
	err := s.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		e, err := tx.GetQueueEntry(ctx, entryID)
		if err != nil {
			return err
		}
		doctorID = e.DoctorID
		return nil
	})
	if err != nil {
		return uuid.Nil, AsError(err)
	}
	return doctorID, nil
}

type entryChange func(ctx context.Context, tx Tx, w *work, e *QueueEntry) (*QueueEntry, error)

// changeEntry runs change on one queue entry under the doctor's queue lock.
func (s *Service) changeEntry(ctx context.Context, actor Actor, op string, entryID uuid.UUID, change entryChange) (*QueueEntry, error) {
	if entryID == uuid.Nil {
		return nil, missing("queue_id")
	}
	doctorID, err := s.entryDoctor(ctx, entryID)
	if err != nil {
		return nil, err
	}
	if err := authorizeDoctor(actor, doctorID); err != nil {
		return nil, err
	}

	var out *QueueEntry
	err = s.execute(ctx, op, doctorID, func(ctx context.Context, tx Tx, w *work) error {
		if err := tx.LockDoctorQueue(ctx, doctorID); err != nil {
			return err
		}
		e, err := tx.GetQueueEntry(ctx, entryID)
		if err != nil {
			return err
		}
		out, err = change(ctx, tx, w, e)
		if err != nil {
			return err
		}
		if out != nil {
			return positionOf(ctx, tx, out)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// SkipPatient sets a WAITING entry aside.
func (s *Service) SkipPatient(ctx context.Context, actor Actor, entryID uuid.UUID) (*QueueEntry, error) {
	return s.changeEntry(ctx, actor, "skip_patient", entryID, func(ctx context.Context, tx Tx, w *work, e *QueueEntry) (*QueueEntry, error) {
		if e.Status != QueueWaiting {
			return nil, ErrNotWaiting
		}
		out, err := tx.UpdateQueueStatus(ctx, e.ID, QueueWaiting, QueueSkipped)
		if err != nil {
			return nil, guard(err, ErrNotWaiting)
		}
		patient, err := loadUser(ctx, tx, e.PatientID, RolePatient, ErrPatientNotFound)
		if err != nil {
			return nil, err
		}
		w.queueChanged(e.DoctorID, EventSkipped)
		return out, s.tell(ctx, tx, w, patient, "You were skipped",
			"You missed your turn and were moved aside. Ask the front desk to return you to the queue.")
	})
}

// ReturnSkippedPatient puts a SKIPPED entry back at the tail of the queue.
func (s *Service) ReturnSkippedPatient(ctx context.Context, actor Actor, entryID uuid.UUID) (*QueueEntry, error) {
	return s.changeEntry(ctx, actor, "return_skipped_patient", entryID, func(ctx context.Context, tx Tx, w *work, e *QueueEntry) (*QueueEntry, error) {
		if e.Status != QueueSkipped {
			return nil, ErrNotSkipped
		}
		out, err := tx.RequeueEntry(ctx, e.ID)
		if err != nil {
			return nil, guard(err, ErrNotSkipped)
		}
		if err := positionOf(ctx, tx, out); err != nil {
			return nil, err
		}
		patient, err := loadUser(ctx, tx, e.PatientID, RolePatient, ErrPatientNotFound)
		if err != nil {
			return nil, err
		}
		w.queueChanged(e.DoctorID, EventReturned)
		return out, s.tell(ctx, tx, w, patient, "You are back in the queue",
			fmt.Sprintf("You are back in the queue at number %d.", out.Position))
	})
}

// RemoveFromQueue deletes a WAITING or SKIPPED entry.
func (s *Service) RemoveFromQueue(ctx context.Context, actor Actor, entryID uuid.UUID) error {
	_, err := s.changeEntry(ctx, actor, "remove_from_queue", entryID, func(ctx context.Context, tx Tx, w *work, e *QueueEntry) (*QueueEntry, error) {
		if e.Status != QueueWaiting && e.Status != QueueSkipped {
			return nil, ErrNotRemovable
		}
		if err := tx.DeleteQueueEntry(ctx, e.ID, QueueWaiting, QueueSkipped); err != nil {
			return nil, guard(err, ErrNotRemovable)
		}
		patient, err := loadUser(ctx, tx, e.PatientID, RolePatient, ErrPatientNotFound)
		if err != nil {
			return nil, err
		}
		w.queueChanged(e.DoctorID, EventRemoved)
		return nil, s.tell(ctx, tx, w, patient, "Removed from the queue", "You were removed from the queue.")
	})
	return err
}

// CompleteQueueEntry finishes the consultation of the patient being served.
func (s *Service) CompleteQueueEntry(ctx context.Context, actor Actor, entryID uuid.UUID) (*QueueEntry, error) {
	return s.changeEntry(ctx, actor, "complete_queue_entry", entryID, func(ctx context.Context, tx Tx, w *work, e *QueueEntry) (*QueueEntry, error) {
		if e.Status != QueueApproved {
			return nil, ErrNotServing
		}
		out, err := tx.UpdateQueueStatus(ctx, e.ID, QueueApproved, QueueCompleted)
		if err != nil {
			return nil, guard(err, ErrNotServing)
		}
		patient, err := loadUser(ctx, tx, e.PatientID, RolePatient, ErrPatientNotFound)
		if err != nil {
			return nil, err
		}
		w.queueChanged(e.DoctorID, EventCompleted)
		return out, s.tell(ctx, tx, w, patient, "Consultation finished", "Your consultation is complete.")
	})
}

// ClearQueue cancels every WAITING and SKIPPED entry of the doctor and
// reports how many were cancelled.
func (s *Service) ClearQueue(ctx context.Context, actor Actor, doctorID uuid.UUID) (int, error) {
	if doctorID == uuid.Nil {
		return 0, missing("doctor_id")
	}
	if err := authorizeDoctor(actor, doctorID); err != nil {
		return 0, err
	}

	var n int
	err := s.execute(ctx, "clear_queue", doctorID, func(ctx context.Context, tx Tx, w *work) error {
		if err := tx.LockDoctorQueue(ctx, doctorID); err != nil {
			return err
		}
		cancelled, err := tx.CancelQueueEntries(ctx, doctorID, time.Time{})
		if err != nil {
			return err
		}
		n = len(cancelled)
		if n == 0 {
			return nil
		}
		if err := s.tellCancelled(ctx, tx, w, cancelled, "The queue was closed for today."); err != nil {
			return err
		}
		w.queueChanged(doctorID, EventCleared)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return n, nil
}

// SweepStaleQueue cancels WAITING and SKIPPED entries of every doctor that
// were created before cutoff. The queue worker runs it with the start of
// the clinic day so yesterday's queue never carries over.
func (s *Service) SweepStaleQueue(ctx context.Context, cutoff time.Time) (int, error) {
	if cutoff.IsZero() {
		return 0, missing("cutoff")
	}
	var n int
	err := s.execute(ctx, "sweep_stale_queue", uuid.Nil, func(ctx context.Context, tx Tx, w *work) error {
		cancelled, err := tx.CancelQueueEntries(ctx, uuid.Nil, cutoff)
		if err != nil {
			return err
		}
		n = len(cancelled)
		if err := s.tellCancelled(ctx, tx, w, cancelled, "Your place in the queue expired."); err != nil {
			return err
		}
		seen := map[uuid.UUID]bool{}
		for _, e := range cancelled {
			if !seen[e.DoctorID] {
				seen[e.DoctorID] = true
				w.queueChanged(e.DoctorID, EventExpired)
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return n, nil
}

func (s *Service) tellCancelled(ctx context.Context, tx Tx, w *work, cancelled []QueueEntry, message string) error {
	for _, e := range cancelled {
		patient, err := loadUser(ctx, tx, e.PatientID, RolePatient, ErrPatientNotFound)
		if err != nil {
			return err
		}
		if err := s.tell(ctx, tx, w, patient, "Queue update", message); err != nil {
			return err
		}
	}
	return nil
}

// QueueSnapshot returns the doctor's board: who is being served, who waits
// in order and who was skipped. Any signed in user may read it.
func (s *Service) QueueSnapshot(ctx context.Context, actor Actor, doctorID uuid.UUID) (*QueueSnapshot, error) {
	if actor.UserID == uuid.Nil {
		return nil, ErrForbidden
	}
	if doctorID == uuid.Nil {
		return nil, missing("doctor_id")
	}
	snap := &QueueSnapshot{DoctorID: doctorID, Waiting: []QueueEntry{}, Skipped: []QueueEntry{}}
	err := s.execute(ctx, "queue_snapshot", uuid.Nil, func(ctx context.Context, tx Tx, w *work) error {
		entries, err := tx.ListQueue(ctx, doctorID, QueueWaiting, QueueApproved, QueueSkipped)
		if err != nil {
			return err
		}
		for _, e := range withPositions(entries) {
			switch e.Status {
			case QueueApproved:
				e := e
				snap.Serving = &e
			case QueueWaiting:
				snap.Waiting = append(snap.Waiting, e)
			case QueueSkipped:
				snap.Skipped = append(snap.Skipped, e)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return snap, nil
}
