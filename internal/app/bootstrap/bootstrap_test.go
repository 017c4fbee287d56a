package bootstrap

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/clinic-scheduling/internal/config"
	"github.com/hackgods/clinic-scheduling/internal/notify"
	"github.com/hackgods/clinic-scheduling/internal/scheduling"
	"github.com/hackgods/clinic-scheduling/internal/timeslot"
	"github.com/hackgods/clinic-scheduling/pkg/logging"
)

func memoryConfig() config.Config {
	return config.Config{
		StoreDriver:     config.StoreDriverMemory,
		ClinicLocation:  time.UTC,
		ClinicOpenHour:  9,
		SlotMinDuration: 15 * time.Minute,
		SlotMaxDuration: time.Hour,
		EmailProvider:   "stub",
		MetricsEnabled:  true,
	}
}

func TestBuild_MemoryWithoutRedis(t *testing.T) {
	logger := logging.New("error")
	rt, err := Build(context.Background(), memoryConfig(), logger)
	require.NoError(t, err)
	defer rt.Close(logger)

	assert.NotNil(t, rt.Memory)
	assert.Nil(t, rt.Pool)
	assert.Nil(t, rt.Redis)
	assert.Nil(t, rt.Idempotency)
	require.NotNil(t, rt.Registry)

	docs, pats := SeedDemoUsers(rt.Memory, 1, 1)
	doctor := scheduling.Actor{UserID: docs[0].ID, Role: scheduling.RoleDoctor}

	date := time.Now().UTC().AddDate(0, 0, 1).Format("2006-01-02")
	// opening hour and slot bounds come from config
	early, err := timeslot.ParseCandidate(date, "08:30", "09:00", time.UTC)
	require.NoError(t, err)
	_, err = rt.Service.CreateTimeSlot(context.Background(), doctor, docs[0].ID, early)
	require.ErrorIs(t, err, timeslot.ErrBeforeOpening)

	c, err := timeslot.ParseCandidate(date, "09:00", "09:15", time.UTC)
	require.NoError(t, err)
	slot, err := rt.Service.CreateTimeSlot(context.Background(), doctor, docs[0].ID, c)
	require.NoError(t, err)

	patient := scheduling.Actor{UserID: pats[0].ID, Role: scheduling.RolePatient}
	_, err = rt.Service.BookAppointment(context.Background(), patient, docs[0].ID, pats[0].ID, slot.ID)
	require.NoError(t, err)

	families, err := rt.Registry.Gather()
	require.NoError(t, err)
	var names []string
	for _, f := range families {
		names = append(names, f.GetName())
	}
	assert.Contains(t, names, "clinic_scheduling_operations_total")
}

func TestBuildEmailSender(t *testing.T) {
	logger := logging.New("error")
	ctx := context.Background()

	s, err := BuildEmailSender(ctx, config.Config{EmailProvider: "stub"}, logger)
	require.NoError(t, err)
	assert.IsType(t, &notify.StubEmailSender{}, s)

	s, err = BuildEmailSender(ctx, config.Config{EmailProvider: "sendgrid"}, logger)
	require.NoError(t, err)
	assert.IsType(t, &notify.StubEmailSender{}, s)

	s, err = BuildEmailSender(ctx, config.Config{EmailProvider: "sendgrid", SendGridAPIKey: "SG.test", EmailFrom: "a@b.c"}, logger)
	require.NoError(t, err)
	assert.IsType(t, &notify.SendGridSender{}, s)

	_, err = BuildEmailSender(ctx, config.Config{EmailProvider: "pigeon"}, logger)
	require.Error(t, err)
}
