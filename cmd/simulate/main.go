package main

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hackgods/clinic-scheduling/internal/app/bootstrap"
	"github.com/hackgods/clinic-scheduling/internal/config"
	"github.com/hackgods/clinic-scheduling/internal/scheduling"
	"github.com/hackgods/clinic-scheduling/internal/timeslot"
	"github.com/hackgods/clinic-scheduling/pkg/logging"
)

// simulate races many patients for the same slots and many doctors' staff
// for the same queue head, then checks that no slot was double booked and
// no doctor ever served two patients at once.

type simConfig struct {
	Workers         int
	Doctors         int
	Patients        int
	SlotsPerDoctor  int
	BookingAttempts int
	QueueCalls      int
}

type opStats struct {
	Total     int64
	Success   int64
	Conflict  int64
	Error     int64
	mu        sync.Mutex
	latencies []time.Duration
}

func (o *opStats) record(latency time.Duration, err error) {
	atomic.AddInt64(&o.Total, 1)
	switch {
	case err == nil:
		atomic.AddInt64(&o.Success, 1)
	case scheduling.AsError(err).Kind == scheduling.KindConflict:
		atomic.AddInt64(&o.Conflict, 1)
	default:
		atomic.AddInt64(&o.Error, 1)
	}
	o.mu.Lock()
	o.latencies = append(o.latencies, latency)
	o.mu.Unlock()
}

func (o *opStats) percentile(p int) time.Duration {
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.latencies) == 0 {
		return 0
	}
	sorted := append([]time.Duration(nil), o.latencies...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	idx := len(sorted) * p / 100
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

type simulator struct {
	cfg      simConfig
	svc      *scheduling.Service
	doctors  []scheduling.User
	patients []scheduling.User
	slots    map[uuid.UUID][]uuid.UUID
	logger   *logging.Logger

	booking opStats
	calls   opStats
}

func main() {
	baseCfg, err := config.Load()
	if err != nil {
		logging.Default().Error("config load error", "error", err)
		os.Exit(1)
	}
	logger := logging.New(baseCfg.LogLevel).Component("simulate")

	cfg := simConfig{
		Workers:         getInt("SIM_WORKERS", 16),
		Doctors:         getInt("SIM_DOCTORS", 4),
		Patients:        getInt("SIM_PATIENTS", 200),
		SlotsPerDoctor:  getInt("SIM_SLOTS_PER_DOCTOR", 8),
		BookingAttempts: getInt("SIM_BOOKING_ATTEMPTS", 2000),
		QueueCalls:      getInt("SIM_QUEUE_CALLS", 200),
	}
	if cfg.Workers <= 0 || cfg.Doctors <= 0 || cfg.Patients <= 0 {
		logger.Error("SIM_WORKERS, SIM_DOCTORS and SIM_PATIENTS must be > 0")
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	rt, err := bootstrap.Build(ctx, baseCfg, logger)
	if err != nil {
		logger.Error("startup failed", "error", err)
		os.Exit(1)
	}
	defer rt.Close(logger)

	sim := &simulator{cfg: cfg, svc: rt.Service, slots: map[uuid.UUID][]uuid.UUID{}, logger: logger}
	if rt.Memory != nil {
		sim.doctors, sim.patients = bootstrap.SeedDemoUsers(rt.Memory, cfg.Doctors, cfg.Patients)
	} else {
		sim.doctors, sim.patients, err = loadUsers(ctx, rt.Pool, cfg)
		if err != nil {
			logger.Error("load users", "error", err)
			os.Exit(1)
		}
	}

	if err := sim.createSlots(ctx, baseCfg.ClinicOpenHour); err != nil {
		logger.Error("create slots", "error", err)
		os.Exit(1)
	}

	sim.raceBookings(ctx)
	sim.raceQueue(ctx)

	sim.report()
	if err := sim.verify(ctx); err != nil {
		logger.Error("invariant violated", "error", err)
		os.Exit(1)
	}
	logger.Info("all invariants held")
}

func loadUsers(ctx context.Context, pool *pgxpool.Pool, cfg simConfig) (doctors, patients []scheduling.User, err error) {
	load := func(role scheduling.Role, limit int) ([]scheduling.User, error) {
		rows, err := pool.Query(ctx, `SELECT id, name, email FROM users WHERE role = $1 LIMIT $2`, role, limit)
		if err != nil {
			return nil, fmt.Errorf("load %s users: %w", strings.ToLower(string(role)), err)
		}
		defer rows.Close()
		var out []scheduling.User
		for rows.Next() {
			u := scheduling.User{Role: role}
			if err := rows.Scan(&u.ID, &u.Name, &u.Email); err != nil {
				return nil, err
			}
			out = append(out, u)
		}
		if len(out) == 0 {
			return nil, fmt.Errorf("no %s users, run cmd/seed first", strings.ToLower(string(role)))
		}
		return out, rows.Err()
	}
	if doctors, err = load(scheduling.RoleDoctor, cfg.Doctors); err != nil {
		return nil, nil, err
	}
	if patients, err = load(scheduling.RolePatient, cfg.Patients); err != nil {
		return nil, nil, err
	}
	return doctors, patients, nil
}

// createSlots puts back to back 30 minute slots on a random future day so
// repeated runs against Postgres do not collide with earlier ones.
func (s *simulator) createSlots(ctx context.Context, openHour int) error {
	day := time.Now().In(s.svc.Location()).AddDate(0, 0, 1+rand.Intn(365))
	date := day.Format("2006-01-02")
	for _, d := range s.doctors {
		actor := scheduling.Actor{UserID: d.ID, Role: scheduling.RoleDoctor}
		for i := 0; i < s.cfg.SlotsPerDoctor; i++ {
			start := time.Date(2000, 1, 1, openHour, 0, 0, 0, time.UTC).Add(time.Duration(i) * 30 * time.Minute)
			c, err := timeslot.ParseCandidate(date, start.Format("15:04"), start.Add(30*time.Minute).Format("15:04"), s.svc.Location())
			if err != nil {
				return err
			}
			slot, err := s.svc.CreateTimeSlot(ctx, actor, d.ID, c)
			if err != nil {
				return err
			}
			s.slots[d.ID] = append(s.slots[d.ID], slot.ID)
		}
	}
	s.logger.Info("slots created", "date", date, "doctors", len(s.doctors), "per_doctor", s.cfg.SlotsPerDoctor)
	return nil
}

func (s *simulator) raceBookings(ctx context.Context) {
	jobs := make(chan struct{})
	var wg sync.WaitGroup
	for w := 0; w < s.cfg.Workers; w++ {
		wg.Add(1)
		go func(seed int64) {
			defer wg.Done()
			rng := rand.New(rand.NewSource(seed))
			for range jobs {
				d := s.doctors[rng.Intn(len(s.doctors))]
				slots := s.slots[d.ID]
				p := s.patients[rng.Intn(len(s.patients))]
				actor := scheduling.Actor{UserID: p.ID, Role: scheduling.RolePatient}

				start := time.Now()
				_, err := s.svc.BookAppointment(ctx, actor, d.ID, p.ID, slots[rng.Intn(len(slots))])
				s.booking.record(time.Since(start), err)
			}
		}(time.Now().UnixNano() + int64(w))
	}
	for i := 0; i < s.cfg.BookingAttempts; i++ {
		jobs <- struct{}{}
	}
	close(jobs)
	wg.Wait()
}

// raceQueue fills each doctor's queue and then has every worker call the
// next patient, completing whoever it got.
func (s *simulator) raceQueue(ctx context.Context) {
	for _, d := range s.doctors {
		actor := scheduling.Actor{UserID: d.ID, Role: scheduling.RoleDoctor}
		for i := 0; i < s.cfg.QueueCalls/len(s.doctors) && i < len(s.patients); i++ {
			_, err := s.svc.EnqueuePatient(ctx, actor, d.ID, s.patients[i].ID.String(), nil)
			if err != nil && !errors.Is(err, scheduling.ErrAlreadyQueued) {
				s.logger.Warn("enqueue failed", "error", err)
			}
		}
	}

	var wg sync.WaitGroup
	for w := 0; w < max(s.cfg.Workers, len(s.doctors)); w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			d := s.doctors[w%len(s.doctors)]
			actor := scheduling.Actor{UserID: d.ID, Role: scheduling.RoleDoctor}
			for {
				start := time.Now()
				entry, err := s.svc.CallNextPatient(ctx, actor, d.ID)
				s.calls.record(time.Since(start), err)
				switch {
				case errors.Is(err, scheduling.ErrQueueEmpty):
					return
				case err != nil:
					continue
				}
				if _, err := s.svc.CompleteQueueEntry(ctx, actor, entry.ID); err != nil {
					s.logger.Warn("complete queue entry failed", "error", err)
				}
			}
		}(w)
	}
	wg.Wait()
}

func (s *simulator) verify(ctx context.Context) error {
	admin := scheduling.Actor{UserID: uuid.New(), Role: scheduling.RoleAdmin}
	for _, d := range s.doctors {
		booked := map[uuid.UUID]int{}
		for offset := 0; ; offset += 100 {
			page, err := s.svc.ListAppointments(ctx, admin, scheduling.AppointmentFilter{DoctorID: &d.ID, Limit: 100, Offset: offset})
			if err != nil {
				return err
			}
			for _, a := range page {
				if a.Status != scheduling.StatusCancelled {
					booked[a.TimeSlotID]++
				}
			}
			if len(page) < 100 {
				break
			}
		}
		for slotID, n := range booked {
			if n > 1 {
				return fmt.Errorf("slot %s booked %d times", slotID, n)
			}
		}
		snap, err := s.svc.QueueSnapshot(ctx, admin, d.ID)
		if err != nil {
			return err
		}
		if snap.Serving != nil || len(snap.Waiting) > 0 {
			return fmt.Errorf("doctor %s queue not drained", d.ID)
		}
	}
	return nil
}

func (s *simulator) report() {
	fmt.Println(strings.Repeat("=", 60))
	fmt.Println("SIMULATION REPORT")
	fmt.Println(strings.Repeat("=", 60))
	fmt.Printf("workers=%d doctors=%d patients=%d slots=%d\n\n",
		s.cfg.Workers, len(s.doctors), len(s.patients), len(s.doctors)*s.cfg.SlotsPerDoctor)
	printStats("Booking", &s.booking)
	printStats("Call next", &s.calls)
}

func printStats(name string, o *opStats) {
	total := atomic.LoadInt64(&o.Total)
	if total == 0 {
		return
	}
	fmt.Printf("%s:\n", name)
	fmt.Printf("  total=%d success=%d conflict=%d error=%d\n",
		total, atomic.LoadInt64(&o.Success), atomic.LoadInt64(&o.Conflict), atomic.LoadInt64(&o.Error))
	fmt.Printf("  latency p50=%s p95=%s p99=%s\n\n",
		o.percentile(50).Round(time.Microsecond), o.percentile(95).Round(time.Microsecond), o.percentile(99).Round(time.Microsecond))
}

func getInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}
