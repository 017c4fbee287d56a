package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"

	redisclient "github.com/hackgods/clinic-scheduling/internal/redis"
	"github.com/hackgods/clinic-scheduling/internal/scheduling"
	"github.com/hackgods/clinic-scheduling/pkg/logging"
)

type RouterConfig struct {
	Service        *scheduling.Service
	PgPool         Pinger
	Redis          *redis.Client
	Idempotency    *redisclient.IdempotencyStore
	Subscriber     QueueSubscriber
	MetricsHandler http.Handler
	JWTSecret      string
	Logger         *logging.Logger
	Env            string
	Version        string
}

func NewRouter(cfg RouterConfig) http.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Default()
	}
	h := &handlers{svc: cfg.Service, logger: logger}
	board := NewBoardHandler(cfg.Service, cfg.Subscriber, logger)

	r := chi.NewRouter()
	r.Use(RequestIDMiddleware)
	r.Use(RequestLogger(logger))

	// Health endpoints
	health := NewHealthHandler(cfg.PgPool, cfg.Redis, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)
	if cfg.MetricsHandler != nil {
		r.Handle("/metrics", cfg.MetricsHandler)
	}

	r.Group(func(r chi.Router) {
		r.Use(Identity(cfg.JWTSecret))
		r.Use(Idempotency(cfg.Idempotency, logger))

		// Appointments
		r.Post("/book", h.book)
		r.Post("/confirm", h.confirm())
		r.Post("/complete", h.complete)
		r.Post("/cancel", h.cancel)
		r.Post("/reschedule", h.reschedule)
		r.Post("/confirm-payment", h.confirmPayment())
		r.Post("/cancel-payment", h.cancelPayment())
		r.Get("/appointments", h.listAppointments)
		r.Get("/appointments/{id}", h.getAppointment)
		r.Get("/appointments/{id}/history", h.appointmentHistory)
		r.Get("/invoices/{appointmentId}", h.getInvoice)

		// Time slots
		r.Post("/timeslot", h.createTimeSlot)
		r.Delete("/timeslot/{id}", h.deleteTimeSlot)
		r.Get("/timeslots", h.listTimeSlots)

		// Queue
		r.Post("/queue", h.enqueue)
		r.Post("/confirm-queue", h.confirmQueue)
		r.Patch("/queue-status", h.updateQueueStatus)
		r.Delete("/queue", h.removeFromQueue)
		r.Get("/queue/{doctorId}", h.queueSnapshot)
		r.Get("/queue/{doctorId}/ws", board.HandleWebSocket)

		// Notifications
		r.Get("/notifications", h.listNotifications)
		r.Delete("/notifications", h.clearNotifications)
	})

	return r
}
