package scheduling

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-scheduling/internal/timeslot"
)

// CreateTimeSlot validates c against the doctor's slots for that day and
// stores it as OPEN. Creation is serialized per doctor so two overlapping
// requests cannot both pass the overlap check.
func (s *Service) CreateTimeSlot(ctx context.Context, actor Actor, doctorID uuid.UUID, c timeslot.Candidate) (*TimeSlot, error) {
	if doctorID == uuid.Nil {
		return nil, missing("doctor_id")
	}
	if err := authorizeDoctor(actor, doctorID); err != nil {
		return nil, err
	}

	var slot *TimeSlot
	err := s.execute(ctx, "create_time_slot", doctorID, func(ctx context.Context, tx Tx, w *work) error {
		if err := tx.LockDoctorSchedule(ctx, doctorID); err != nil {
			return err
		}
		if _, err := loadUser(ctx, tx, doctorID, RoleDoctor, ErrDoctorNotFound); err != nil {
			return err
		}

		existing, err := tx.ListTimeSlots(ctx, doctorID, c.Date)
		if err != nil {
			return err
		}
		windows := make([]timeslot.Window, 0, len(existing))
		for _, e := range existing {
			windows = append(windows, e.Window())
		}
		if err := s.validator.Validate(c, windows); err != nil {
			return err
		}

		slot = &TimeSlot{
			ID:        uuid.New(),
			DoctorID:  doctorID,
			Date:      c.Date,
			StartTime: c.Start,
			EndTime:   c.End,
			Status:    SlotOpen,
		}
		return tx.InsertTimeSlot(ctx, slot)
	})
	if err != nil {
		return nil, err
	}
	return slot, nil
}

// DeleteTimeSlot removes an OPEN slot that no appointment has ever used.
func (s *Service) DeleteTimeSlot(ctx context.Context, actor Actor, slotID uuid.UUID) error {
	if slotID == uuid.Nil {
		return missing("time_slot_id")
	}
	return s.execute(ctx, "delete_time_slot", uuid.Nil, func(ctx context.Context, tx Tx, w *work) error {
		slot, err := tx.GetTimeSlot(ctx, slotID)
		if err != nil {
			return err
		}
		if err := authorizeDoctor(actor, slot.DoctorID); err != nil {
			return err
		}
		if err := tx.LockDoctorSchedule(ctx, slot.DoctorID); err != nil {
			return err
		}
		if slot.Status != SlotOpen {
			return ErrSlotInUse
		}
		referenced, err := tx.SlotReferenced(ctx, slotID)
		if err != nil {
			return err
		}
		if referenced {
			return ErrSlotInUse
		}
		return guard(tx.DeleteOpenTimeSlot(ctx, slotID), ErrSlotInUse)
	})
}

// ListTimeSlots returns a doctor's slots on date ordered by start time.
func (s *Service) ListTimeSlots(ctx context.Context, doctorID uuid.UUID, date time.Time) ([]TimeSlot, error) {
	if doctorID == uuid.Nil {
		return nil, missing("doctor_id")
	}
	var out []TimeSlot
	err := s.execute(ctx, "list_time_slots", uuid.Nil, func(ctx context.Context, tx Tx, w *work) error {
		var err error
		out, err = tx.ListTimeSlots(ctx, doctorID, date)
		return err
	})
	return out, err
}
