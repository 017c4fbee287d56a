package worker

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/clinic-scheduling/internal/scheduling"
	"github.com/hackgods/clinic-scheduling/internal/timeslot"
	"github.com/hackgods/clinic-scheduling/pkg/logging"
)

func TestQueueSweeper_CancelsOnlyPreviousDays(t *testing.T) {
	ctx := context.Background()
	store := scheduling.NewMemoryStore()
	loc, err := time.LoadLocation("Asia/Kolkata")
	require.NoError(t, err)
	svc := scheduling.NewService(store, scheduling.Deps{
		Validator: timeslot.NewValidator(loc),
		Logger:    logging.New("error"),
	})

	doctor := scheduling.User{ID: uuid.New(), Name: "Dr. Sen", Email: "sen@clinic.test", Role: scheduling.RoleDoctor}
	patient := scheduling.User{ID: uuid.New(), Name: "Ravi", Email: "ravi@clinic.test", Role: scheduling.RolePatient}
	store.PutUser(doctor)
	store.PutUser(patient)
	actor := scheduling.Actor{UserID: doctor.ID, Role: scheduling.RoleDoctor}

	_, err = svc.EnqueuePatient(ctx, actor, doctor.ID, patient.ID.String(), nil)
	require.NoError(t, err)

	sweeper := NewQueueSweeper(svc, time.Hour, logging.New("error"))

	n, err := sweeper.RunOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	sweeper.now = func() time.Time { return time.Now().Add(48 * time.Hour) }
	n, err = sweeper.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	snap, err := svc.QueueSnapshot(ctx, actor, doctor.ID)
	require.NoError(t, err)
	assert.Empty(t, snap.Waiting)
}

func TestQueueSweeper_CutoffIsLocalMidnight(t *testing.T) {
	loc, err := time.LoadLocation("Asia/Kolkata")
	require.NoError(t, err)
	svc := scheduling.NewService(scheduling.NewMemoryStore(), scheduling.Deps{
		Validator: timeslot.NewValidator(loc),
		Logger:    logging.New("error"),
	})
	sweeper := NewQueueSweeper(svc, time.Hour, nil)
	// 20:00 UTC is already the next day in Kolkata
	sweeper.now = func() time.Time { return time.Date(2026, 3, 2, 20, 0, 0, 0, time.UTC) }

	cutoff := sweeper.cutoff()
	assert.Equal(t, time.Date(2026, 3, 3, 0, 0, 0, 0, loc), cutoff)
	assert.True(t, cutoff.Equal(time.Date(2026, 3, 2, 18, 30, 0, 0, time.UTC)))
}

func TestQueueSweeper_RunStopsWithContext(t *testing.T) {
	svc := scheduling.NewService(scheduling.NewMemoryStore(), scheduling.Deps{Logger: logging.New("error")})
	sweeper := NewQueueSweeper(svc, 10*time.Millisecond, logging.New("error"))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	done := make(chan struct{})
	go func() {
		sweeper.Run(ctx)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("sweeper did not stop")
	}
}
