package scheduling

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// txBeginner is satisfied by *pgxpool.Pool and by pgxmock pools.
type txBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

type PgStore struct {
	db txBeginner
}

func NewPgStore(db txBeginner) *PgStore {
	if db == nil {
		panic("scheduling: pgx pool required")
	}
	return &PgStore{db: db}
}

func (s *PgStore) InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(ctx, &pgTx{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

type pgTx struct {
	tx pgx.Tx
}

const (
	userColumns        = `id, name, email, role, created_at`
	slotColumns        = `id, doctor_id, date, start_time, end_time, status, created_at, updated_at`
	appointmentColumns = `id, patient_id, doctor_id, time_slot_id, date, status, created_at, updated_at`
	historyColumns     = `id, appointment_id, description, new_status, created_at`
	queueColumns       = `id, patient_id, doctor_id, appointment_id, seq, status, created_at, updated_at`
	invoiceColumns     = `id, appointment_id, patient_id, created_by, amount, status, paid_at, created_at, updated_at`
)

// Helpers

func scanUser(row pgx.Row) (*User, error) {
	var u User
	if err := row.Scan(&u.ID, &u.Name, &u.Email, &u.Role, &u.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return &u, nil
}

func scanSlot(row pgx.Row) (*TimeSlot, error) {
	var s TimeSlot
	err := row.Scan(&s.ID, &s.DoctorID, &s.Date, &s.StartTime, &s.EndTime, &s.Status, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSlotNotFound
		}
		return nil, err
	}
	return &s, nil
}

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	err := row.Scan(&a.ID, &a.PatientID, &a.DoctorID, &a.TimeSlotID, &a.Date, &a.Status, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}
	return &a, nil
}

func scanQueueEntry(row pgx.Row) (*QueueEntry, error) {
	var e QueueEntry
	err := row.Scan(&e.ID, &e.PatientID, &e.DoctorID, &e.AppointmentID, &e.Seq, &e.Status, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrQueueEntryNotFound
		}
		return nil, err
	}
	return &e, nil
}

func scanInvoice(row pgx.Row) (*Invoice, error) {
	var inv Invoice
	err := row.Scan(&inv.ID, &inv.AppointmentID, &inv.PatientID, &inv.CreatedBy, &inv.Amount, &inv.Status, &inv.PaidAt, &inv.CreatedAt, &inv.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrInvoiceNotFound
		}
		return nil, err
	}
	return &inv, nil
}

// guarded turns a missing row from a status-guarded update into
// ErrStatusChanged once the row is known to exist.
func (t *pgTx) guarded(ctx context.Context, err error, notFound error, table string, id uuid.UUID) error {
	if !errors.Is(err, notFound) {
		return err
	}
	var exists bool
	if qerr := t.tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM `+table+` WHERE id = $1)`, id).Scan(&exists); qerr != nil {
		return fmt.Errorf("check %s existence: %w", table, qerr)
	}
	if exists {
		return ErrStatusChanged
	}
	return notFound
}

// Users

func (t *pgTx) GetUser(ctx context.Context, id uuid.UUID) (*User, error) {
	return scanUser(t.tx.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id))
}

func (t *pgTx) FindUserByEmail(ctx context.Context, email string) (*User, error) {
	return scanUser(t.tx.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE lower(email) = lower($1)`, strings.TrimSpace(email)))
}

// Locks

func (t *pgTx) advisoryLock(ctx context.Context, key string) error {
	if _, err := t.tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, key); err != nil {
		return fmt.Errorf("advisory lock %s: %w", key, err)
	}
	return nil
}

func (t *pgTx) LockDoctorSchedule(ctx context.Context, doctorID uuid.UUID) error {
	return t.advisoryLock(ctx, "schedule:"+doctorID.String())
}

func (t *pgTx) LockDoctorQueue(ctx context.Context, doctorID uuid.UUID) error {
	return t.advisoryLock(ctx, "queue:"+doctorID.String())
}

// Time slots

func (t *pgTx) InsertTimeSlot(ctx context.Context, s *TimeSlot) error {
	row := t.tx.QueryRow(ctx, `
		INSERT INTO time_slots (id, doctor_id, date, start_time, end_time, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, now(), now())
		RETURNING `+slotColumns,
		s.ID, s.DoctorID, s.Date, s.StartTime, s.EndTime, s.Status)
	created, err := scanSlot(row)
	if err != nil {
		return fmt.Errorf("insert time slot: %w", err)
	}
	*s = *created
	return nil
}

func (t *pgTx) GetTimeSlot(ctx context.Context, id uuid.UUID) (*TimeSlot, error) {
	return scanSlot(t.tx.QueryRow(ctx, `SELECT `+slotColumns+` FROM time_slots WHERE id = $1`, id))
}

func (t *pgTx) ListTimeSlots(ctx context.Context, doctorID uuid.UUID, date time.Time) ([]TimeSlot, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT `+slotColumns+`
		FROM time_slots
		WHERE doctor_id = $1
		  AND date = $2
		ORDER BY start_time
	`, doctorID, date)
	if err != nil {
		return nil, fmt.Errorf("list time slots: %w", err)
	}
	defer rows.Close()

	var result []TimeSlot
	for rows.Next() {
		s, err := scanSlot(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *s)
	}
	return result, rows.Err()
}

func (t *pgTx) UpdateTimeSlotStatus(ctx context.Context, id uuid.UUID, from, to TimeSlotStatus) (*TimeSlot, error) {
	row := t.tx.QueryRow(ctx, `
		UPDATE time_slots
		SET status = $2,
		    updated_at = now()
		WHERE id = $1
		  AND status = $3
		RETURNING `+slotColumns,
		id, to, from)
	s, err := scanSlot(row)
	if err != nil {
		return nil, t.guarded(ctx, err, ErrSlotNotFound, "time_slots", id)
	}
	return s, nil
}

func (t *pgTx) SlotReferenced(ctx context.Context, id uuid.UUID) (bool, error) {
	var referenced bool
	err := t.tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM appointments WHERE time_slot_id = $1)`, id).Scan(&referenced)
	if err != nil {
		return false, fmt.Errorf("check slot references: %w", err)
	}
	return referenced, nil
}

func (t *pgTx) DeleteOpenTimeSlot(ctx context.Context, id uuid.UUID) error {
	tag, err := t.tx.Exec(ctx, `DELETE FROM time_slots WHERE id = $1 AND status = 'OPEN'`, id)
	if err != nil {
		return fmt.Errorf("delete time slot: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return t.guarded(ctx, ErrSlotNotFound, ErrSlotNotFound, "time_slots", id)
	}
	return nil
}

// Appointments

func (t *pgTx) InsertAppointment(ctx context.Context, a *Appointment) error {
	row := t.tx.QueryRow(ctx, `
		INSERT INTO appointments (id, patient_id, doctor_id, time_slot_id, date, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, now(), now())
		RETURNING `+appointmentColumns,
		a.ID, a.PatientID, a.DoctorID, a.TimeSlotID, a.Date, a.Status)
	created, err := scanAppointment(row)
	if err != nil {
		return fmt.Errorf("insert appointment: %w", err)
	}
	*a = *created
	return nil
}

func (t *pgTx) GetAppointment(ctx context.Context, id uuid.UUID, forUpdate bool) (*Appointment, error) {
	q := `SELECT ` + appointmentColumns + ` FROM appointments WHERE id = $1`
	if forUpdate {
		q += ` FOR UPDATE`
	}
	return scanAppointment(t.tx.QueryRow(ctx, q, id))
}

func (t *pgTx) ListAppointments(ctx context.Context, f AppointmentFilter) ([]Appointment, error) {
	var (
		where []string
		args  []any
	)
	if f.PatientID != nil {
		args = append(args, *f.PatientID)
		where = append(where, fmt.Sprintf("patient_id = $%d", len(args)))
	}
	if f.DoctorID != nil {
		args = append(args, *f.DoctorID)
		where = append(where, fmt.Sprintf("doctor_id = $%d", len(args)))
	}
	if f.Status != nil {
		args = append(args, *f.Status)
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}

	q := `SELECT ` + appointmentColumns + ` FROM appointments`
	if len(where) > 0 {
		q += ` WHERE ` + strings.Join(where, " AND ")
	}
	args = append(args, f.Limit, f.Offset)
	q += fmt.Sprintf(` ORDER BY created_at DESC LIMIT $%d OFFSET $%d`, len(args)-1, len(args))

	rows, err := t.tx.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list appointments: %w", err)
	}
	defer rows.Close()

	var result []Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *a)
	}
	return result, rows.Err()
}

func (t *pgTx) UpdateAppointmentStatus(ctx context.Context, id uuid.UUID, from, to AppointmentStatus) (*Appointment, error) {
	row := t.tx.QueryRow(ctx, `
		UPDATE appointments
		SET status = $2,
		    updated_at = now()
		WHERE id = $1
		  AND status = $3
		RETURNING `+appointmentColumns,
		id, to, from)
	a, err := scanAppointment(row)
	if err != nil {
		return nil, t.guarded(ctx, err, ErrAppointmentNotFound, "appointments", id)
	}
	return a, nil
}

func (t *pgTx) MoveAppointment(ctx context.Context, id uuid.UUID, from AppointmentStatus, slotID uuid.UUID, date time.Time, to AppointmentStatus) (*Appointment, error) {
	row := t.tx.QueryRow(ctx, `
		UPDATE appointments
		SET time_slot_id = $2,
		    date = $3,
		    status = $4,
		    updated_at = now()
		WHERE id = $1
		  AND status = $5
		RETURNING `+appointmentColumns,
		id, slotID, date, to, from)
	a, err := scanAppointment(row)
	if err != nil {
		return nil, t.guarded(ctx, err, ErrAppointmentNotFound, "appointments", id)
	}
	return a, nil
}

func (t *pgTx) InsertHistory(ctx context.Context, h *AppointmentHistory) error {
	err := t.tx.QueryRow(ctx, `
		INSERT INTO appointment_history (appointment_id, description, new_status, created_at)
		VALUES ($1, $2, $3, now())
		RETURNING id, created_at
	`, h.AppointmentID, h.Description, h.NewStatus).Scan(&h.ID, &h.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert appointment history: %w", err)
	}
	return nil
}

func (t *pgTx) ListHistory(ctx context.Context, appointmentID uuid.UUID) ([]AppointmentHistory, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT `+historyColumns+`
		FROM appointment_history
		WHERE appointment_id = $1
		ORDER BY id
	`, appointmentID)
	if err != nil {
		return nil, fmt.Errorf("list appointment history: %w", err)
	}
	defer rows.Close()

	var result []AppointmentHistory
	for rows.Next() {
		var h AppointmentHistory
		if err := rows.Scan(&h.ID, &h.AppointmentID, &h.Description, &h.NewStatus, &h.CreatedAt); err != nil {
			return nil, err
		}
		result = append(result, h)
	}
	return result, rows.Err()
}

// Queue

func (t *pgTx) InsertQueueEntry(ctx context.Context, e *QueueEntry) error {
	row := t.tx.QueryRow(ctx, `
		INSERT INTO queue_entries (id, patient_id, doctor_id, appointment_id, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, now(), now())
		RETURNING `+queueColumns,
		e.ID, e.PatientID, e.DoctorID, e.AppointmentID, e.Status)
	created, err := scanQueueEntry(row)
	if err != nil {
		return fmt.Errorf("insert queue entry: %w", err)
	}
	*e = *created
	return nil
}

func (t *pgTx) GetQueueEntry(ctx context.Context, id uuid.UUID) (*QueueEntry, error) {
	return scanQueueEntry(t.tx.QueryRow(ctx, `SELECT `+queueColumns+` FROM queue_entries WHERE id = $1`, id))
}

func (t *pgTx) queryQueue(ctx context.Context, q string, args ...any) ([]QueueEntry, error) {
	rows, err := t.tx.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query queue: %w", err)
	}
	defer rows.Close()

	var result []QueueEntry
	for rows.Next() {
		e, err := scanQueueEntry(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *e)
	}
	return result, rows.Err()
}

func (t *pgTx) ListQueue(ctx context.Context, doctorID uuid.UUID, statuses ...QueueStatus) ([]QueueEntry, error) {
	if len(statuses) == 0 {
		return t.queryQueue(ctx, `
			SELECT `+queueColumns+`
			FROM queue_entries
			WHERE doctor_id = $1
			ORDER BY seq
		`, doctorID)
	}
	names := make([]string, len(statuses))
	for i, s := range statuses {
		names[i] = string(s)
	}
	return t.queryQueue(ctx, `
		SELECT `+queueColumns+`
		FROM queue_entries
		WHERE doctor_id = $1
		  AND status = ANY($2)
		ORDER BY seq
	`, doctorID, names)
}

func (t *pgTx) FindQueueEntryByAppointment(ctx context.Context, appointmentID uuid.UUID, status QueueStatus) (*QueueEntry, error) {
	return scanQueueEntry(t.tx.QueryRow(ctx, `
		SELECT `+queueColumns+`
		FROM queue_entries
		WHERE appointment_id = $1
		  AND status = $2
		ORDER BY seq DESC
		LIMIT 1
	`, appointmentID, status))
}

func (t *pgTx) UpdateQueueStatus(ctx context.Context, id uuid.UUID, from, to QueueStatus) (*QueueEntry, error) {
	row := t.tx.QueryRow(ctx, `
		UPDATE queue_entries
		SET status = $2,
		    updated_at = now()
		WHERE id = $1
		  AND status = $3
		RETURNING `+queueColumns,
		id, to, from)
	e, err := scanQueueEntry(row)
	if err != nil {
		return nil, t.guarded(ctx, err, ErrQueueEntryNotFound, "queue_entries", id)
	}
	return e, nil
}

func (t *pgTx) RequeueEntry(ctx context.Context, id uuid.UUID) (*QueueEntry, error) {
	row := t.tx.QueryRow(ctx, `
		UPDATE queue_entries
		SET status = 'WAITING',
		    seq = nextval('queue_entries_seq'),
		    updated_at = now()
		WHERE id = $1
		  AND status = 'SKIPPED'
		RETURNING `+queueColumns,
		id)
	e, err := scanQueueEntry(row)
	if err != nil {
		return nil, t.guarded(ctx, err, ErrQueueEntryNotFound, "queue_entries", id)
	}
	return e, nil
}

func (t *pgTx) DeleteQueueEntry(ctx context.Context, id uuid.UUID, statuses ...QueueStatus) error {
	names := make([]string, len(statuses))
	for i, s := range statuses {
		names[i] = string(s)
	}
	tag, err := t.tx.Exec(ctx, `DELETE FROM queue_entries WHERE id = $1 AND status = ANY($2)`, id, names)
	if err != nil {
		return fmt.Errorf("delete queue entry: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return t.guarded(ctx, ErrQueueEntryNotFound, ErrQueueEntryNotFound, "queue_entries", id)
	}
	return nil
}

func (t *pgTx) CancelQueueEntries(ctx context.Context, doctorID uuid.UUID, createdBefore time.Time) ([]QueueEntry, error) {
	var doctor *uuid.UUID
	if doctorID != uuid.Nil {
		doctor = &doctorID
	}
	var before *time.Time
	if !createdBefore.IsZero() {
		before = &createdBefore
	}
	return t.queryQueue(ctx, `
		UPDATE queue_entries
		SET status = 'CANCELLED',
		    updated_at = now()
		WHERE status IN ('WAITING', 'SKIPPED')
		  AND ($1::uuid IS NULL OR doctor_id = $1)
		  AND ($2::timestamptz IS NULL OR created_at < $2)
		RETURNING `+queueColumns,
		doctor, before)
}

// Invoices

func (t *pgTx) InsertInvoice(ctx context.Context, inv *Invoice) error {
	row := t.tx.QueryRow(ctx, `
		INSERT INTO invoices (id, appointment_id, patient_id, created_by, amount, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, now(), now())
		RETURNING `+invoiceColumns,
		inv.ID, inv.AppointmentID, inv.PatientID, inv.CreatedBy, inv.Amount, inv.Status)
	created, err := scanInvoice(row)
	if err != nil {
		return fmt.Errorf("insert invoice: %w", err)
	}
	*inv = *created
	return nil
}

func (t *pgTx) GetInvoiceByAppointment(ctx context.Context, appointmentID uuid.UUID, forUpdate bool) (*Invoice, error) {
	q := `SELECT ` + invoiceColumns + ` FROM invoices WHERE appointment_id = $1`
	if forUpdate {
		q += ` FOR UPDATE`
	}
	return scanInvoice(t.tx.QueryRow(ctx, q, appointmentID))
}

func (t *pgTx) RepriceInvoice(ctx context.Context, id uuid.UUID, amount int64, createdBy uuid.UUID) (*Invoice, error) {
	row := t.tx.QueryRow(ctx, `
		UPDATE invoices
		SET amount = $2,
		    created_by = $3,
		    updated_at = now()
		WHERE id = $1
		  AND status = 'PENDING'
		RETURNING `+invoiceColumns,
		id, amount, createdBy)
	inv, err := scanInvoice(row)
	if err != nil {
		return nil, t.guarded(ctx, err, ErrInvoiceNotFound, "invoices", id)
	}
	return inv, nil
}

func (t *pgTx) MarkInvoicePaid(ctx context.Context, id uuid.UUID, paidAt time.Time) (*Invoice, error) {
	row := t.tx.QueryRow(ctx, `
		UPDATE invoices
		SET status = 'PAID',
		    paid_at = $2,
		    updated_at = now()
		WHERE id = $1
		  AND status = 'PENDING'
		RETURNING `+invoiceColumns,
		id, paidAt)
	inv, err := scanInvoice(row)
	if err != nil {
		return nil, t.guarded(ctx, err, ErrInvoiceNotFound, "invoices", id)
	}
	return inv, nil
}

// Notifications

func (t *pgTx) InsertNotification(ctx context.Context, n Notification) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO notifications (id, user_id, message, sent_at)
		VALUES ($1, $2, $3, $4)
	`, n.ID, n.UserID, n.Message, n.SentAt)
	if err != nil {
		return fmt.Errorf("insert notification: %w", err)
	}
	return nil
}

func (t *pgTx) ListNotifications(ctx context.Context, userID uuid.UUID) ([]Notification, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT id, user_id, message, sent_at
		FROM notifications
		WHERE user_id = $1
		ORDER BY sent_at DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	defer rows.Close()

	var result []Notification
	for rows.Next() {
		var n Notification
		if err := rows.Scan(&n.ID, &n.UserID, &n.Message, &n.SentAt); err != nil {
			return nil, err
		}
		result = append(result, n)
	}
	return result, rows.Err()
}

func (t *pgTx) DeleteNotifications(ctx context.Context, userID uuid.UUID) (int64, error) {
	tag, err := t.tx.Exec(ctx, `DELETE FROM notifications WHERE user_id = $1`, userID)
	if err != nil {
		return 0, fmt.Errorf("delete notifications: %w", err)
	}
	return tag.RowsAffected(), nil
}
