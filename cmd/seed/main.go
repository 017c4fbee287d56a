package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"

	"github.com/hackgods/clinic-scheduling/internal/db"
	"github.com/hackgods/clinic-scheduling/pkg/logging"
)

// seed fills a migrated database with fake doctors, patients and a few days
// of open slots per doctor. Slots are written directly; they are generated
// back to back from the opening hour so they never overlap.
func main() {
	_ = godotenv.Load()
	logger := logging.New(os.Getenv("LOG_LEVEL")).Component("seed")
	logger.Info("seed starting")

	dsn := os.Getenv("POSTGRES_DSN")
	if dsn == "" {
		logger.Error("POSTGRES_DSN is required")
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := db.ConnectPostgres(ctx, dsn)
	if err != nil {
		logger.Error("connect postgres", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	loc, err := time.LoadLocation(getEnv("CLINIC_TIMEZONE", "Asia/Kolkata"))
	if err != nil {
		logger.Error("invalid CLINIC_TIMEZONE", "error", err)
		os.Exit(1)
	}

	gofakeit.Seed(time.Now().UnixNano())

	doctors, err := seedUsers(context.Background(), pool, "DOCTOR", getInt("SEED_DOCTORS", 20), logger)
	if err != nil {
		logger.Error("seed doctors", "error", err)
		os.Exit(1)
	}
	if _, err := seedUsers(context.Background(), pool, "PATIENT", getInt("SEED_PATIENTS", 2000), logger); err != nil {
		logger.Error("seed patients", "error", err)
		os.Exit(1)
	}
	if _, err := seedUsers(context.Background(), pool, "ADMIN", 1, logger); err != nil {
		logger.Error("seed admin", "error", err)
		os.Exit(1)
	}

	days := getInt("SEED_DAYS", 5)
	perDay := getInt("SEED_SLOTS_PER_DAY", 12)
	openHour := getInt("CLINIC_OPEN_HOUR", 8)
	if err := seedSlots(context.Background(), pool, doctors, days, perDay, openHour, loc, logger); err != nil {
		logger.Error("seed slots", "error", err)
		os.Exit(1)
	}

	logger.Info("seed complete")
}

func seedUsers(ctx context.Context, pool *pgxpool.Pool, role string, count int, logger *logging.Logger) ([]uuid.UUID, error) {
	const batchSize = 500
	ids := make([]uuid.UUID, 0, count)

	for offset := 0; offset < count; offset += batchSize {
		end := min(offset+batchSize, count)

		batch := &pgx.Batch{}
		for i := offset; i < end; i++ {
			id := uuid.New()
			name := gofakeit.Name()
			if role == "DOCTOR" {
				name = "Dr. " + name
			}
			// the index suffix keeps emails unique across large runs
			email := fmt.Sprintf("%s.%d@%s", gofakeit.Username(), i, gofakeit.DomainName())
			batch.Queue(`
				INSERT INTO users (id, name, email, role, created_at)
				VALUES ($1, $2, $3, $4, now())
			`, id, name, email, role)
			ids = append(ids, id)
		}
		if err := pool.SendBatch(ctx, batch).Close(); err != nil {
			return nil, fmt.Errorf("insert %s users: %w", role, err)
		}
		logger.Info("users seeded", "role", role, "done", end, "total", count)
	}
	return ids, nil
}

func seedSlots(ctx context.Context, pool *pgxpool.Pool, doctors []uuid.UUID, days, perDay, openHour int, loc *time.Location, logger *logging.Logger) error {
	today := time.Now().In(loc)
	for d := 1; d <= days; d++ {
		day := time.Date(today.Year(), today.Month(), today.Day()+d, 0, 0, 0, 0, loc)

		tx, err := pool.Begin(ctx)
		if err != nil {
			return err
		}
		for _, doctorID := range doctors {
			for i := 0; i < perDay; i++ {
				start := day.Add(time.Duration(openHour)*time.Hour + time.Duration(i)*30*time.Minute)
				_, err := tx.Exec(ctx, `
					INSERT INTO time_slots (id, doctor_id, date, start_time, end_time, status, created_at, updated_at)
					VALUES ($1, $2, $3, $4, $5, 'OPEN', now(), now())
				`, uuid.New(), doctorID, day, start.UTC(), start.Add(30*time.Minute).UTC())
				if err != nil {
					_ = tx.Rollback(ctx)
					return err
				}
			}
		}
		if err := tx.Commit(ctx); err != nil {
			return err
		}
		logger.Info("slots seeded", "date", day.Format("2006-01-02"), "doctors", len(doctors), "per_doctor", perDay)
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}
