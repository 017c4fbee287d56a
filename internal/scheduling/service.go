package scheduling

import (
	"context"
	"errors"
	"slices"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/hackgods/clinic-scheduling/internal/notify"
	"github.com/hackgods/clinic-scheduling/internal/observability/metrics"
	"github.com/hackgods/clinic-scheduling/internal/timeslot"
	"github.com/hackgods/clinic-scheduling/pkg/logging"
)

var tracer = otel.Tracer("clinic.internal.scheduling")

// DoctorLocker serializes work on one doctor across processes.
type DoctorLocker interface {
	WithDoctorLock(ctx context.Context, doctorID uuid.UUID, fn func(ctx context.Context) error) error
}

// QueueEvents receives queue changes after they commit.
type QueueEvents interface {
	QueueChanged(ctx context.Context, doctorID uuid.UUID, event string) error
}

type Deps struct {
	Validator *timeslot.Validator
	Notifier  *notify.Dispatcher
	Locker    DoctorLocker
	Events    QueueEvents
	Metrics   *metrics.SchedulingMetrics
	Logger    *logging.Logger
	Now       func() time.Time
}

// Service runs every scheduling use case as one unit of work against the
// store and reports a classified *Error on failure.
type Service struct {
	store     Store
	validator *timeslot.Validator
	notifier  *notify.Dispatcher
	locker    DoctorLocker
	events    QueueEvents
	metrics   *metrics.SchedulingMetrics
	logger    *logging.Logger
	now       func() time.Time
}

func NewService(store Store, deps Deps) *Service {
	if store == nil {
		panic("scheduling: store is required")
	}
	if deps.Logger == nil {
		deps.Logger = logging.Default()
	}
	if deps.Validator == nil {
		deps.Validator = timeslot.NewValidator(time.UTC)
	}
	if deps.Notifier == nil {
		deps.Notifier = notify.NewDispatcher(notify.NewStubEmailSender(deps.Logger), deps.Logger)
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Metrics != nil {
		m := deps.Metrics
		deps.Notifier.OnEmailFailure(func(error) { m.ObserveEmailFailure() })
	}
	return &Service{
		store:     store,
		validator: deps.Validator,
		notifier:  deps.Notifier,
		locker:    deps.Locker,
		events:    deps.Events,
		metrics:   deps.Metrics,
		logger:    deps.Logger.Component("scheduling"),
		now:       deps.Now,
	}
}

// Location is the clinic time zone used for labels and day boundaries.
func (s *Service) Location() *time.Location {
	if s.validator.Location == nil {
		return time.UTC
	}
	return s.validator.Location
}

// work collects side effects that must wait for commit.
type work struct {
	batch  notify.Batch
	events []queueEvent
}

type queueEvent struct {
	doctorID uuid.UUID
	name     string
}

func (w *work) queueChanged(doctorID uuid.UUID, name string) {
	w.events = append(w.events, queueEvent{doctorID: doctorID, name: name})
}

// execute runs fn in one transaction. When lockDoctor is set the whole
// transaction also holds the cross-instance doctor lock.
func (s *Service) execute(ctx context.Context, op string, lockDoctor uuid.UUID, fn func(ctx context.Context, tx Tx, w *work) error) (err error) {
	ctx, span := tracer.Start(ctx, "scheduling."+op, trace.WithSpanKind(trace.SpanKindInternal))
	defer span.End()
	if lockDoctor != uuid.Nil {
		span.SetAttributes(attribute.String("doctor_id", lockDoctor.String()))
	}

	start := time.Now()
	defer func() {
		outcome := "ok"
		if err != nil {
			se := AsError(err)
			outcome = string(se.Kind)
			span.RecordError(err)
			span.SetStatus(codes.Error, se.Code)
			if se.Kind == KindTransaction {
				s.logger.Error("operation failed", "operation", op, "error", err)
			} else {
				s.logger.Debug("operation rejected", "operation", op, "code", se.Code)
			}
			err = se
		}
		s.metrics.ObserveOperation(op, outcome, time.Since(start))
	}()

	w := &work{}
	unit := func(ctx context.Context) error {
		return s.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
			return fn(ctx, tx, w)
		})
	}
	if lockDoctor != uuid.Nil && s.locker != nil {
		err = s.locker.WithDoctorLock(ctx, lockDoctor, unit)
	} else {
		err = unit(ctx)
	}
	if err != nil {
		return err
	}

	s.notifier.Flush(ctx, &w.batch)
	for _, ev := range w.events {
		s.metrics.ObserveQueueEvent(ev.name)
		if s.events == nil {
			continue
		}
		if perr := s.events.QueueChanged(ctx, ev.doctorID, ev.name); perr != nil {
			s.logger.Warn("queue event not published", "doctor_id", ev.doctorID, "event", ev.name, "error", perr)
		}
	}
	return nil
}

// authorize admits admins and any actor whose id is one of owners.
func authorize(actor Actor, owners ...uuid.UUID) error {
	if actor.UserID == uuid.Nil {
		return ErrForbidden
	}
	if actor.Role == RoleAdmin {
		return nil
	}
	if slices.Contains(owners, actor.UserID) {
		return nil
	}
	return ErrForbidden
}

// authorizeDoctor admits admins and the doctor themself.
func authorizeDoctor(actor Actor, doctorID uuid.UUID) error {
	if actor.Role == RoleAdmin && actor.UserID != uuid.Nil {
		return nil
	}
	if actor.Role != RoleDoctor {
		return ErrForbidden
	}
	return authorize(actor, doctorID)
}

func loadUser(ctx context.Context, tx Tx, id uuid.UUID, role Role, notFound error) (*User, error) {
	u, err := tx.GetUser(ctx, id)
	if errors.Is(err, ErrUserNotFound) {
		return nil, notFound
	}
	if err != nil {
		return nil, err
	}
	if u.Role != role {
		return nil, notFound
	}
	return u, nil
}

func (s *Service) tell(ctx context.Context, tx Tx, w *work, u *User, subject, message string) error {
	return s.notifier.Notify(ctx, tx, &w.batch, notify.Notice{
		UserID:  u.ID,
		Message: message,
		Email:   notify.Email(u.Email, u.Name, subject, message),
	})
}

func record(ctx context.Context, tx Tx, appointmentID uuid.UUID, description string, status *AppointmentStatus) error {
	return tx.InsertHistory(ctx, &AppointmentHistory{
		AppointmentID: appointmentID,
		Description:   description,
		NewStatus:     status,
	})
}

// guard turns a failed status guard into err and passes anything else on.
func guard(got, err error) error {
	if errors.Is(got, ErrStatusChanged) {
		return err
	}
	return got
}

// formatAmount renders an invoice amount, which is kept in whole currency units.
func formatAmount(amount int64) string {
	return strconv.FormatInt(amount, 10)
}
