package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"golang.org/x/net/websocket"

	redisclient "github.com/hackgods/clinic-scheduling/internal/redis"
	"github.com/hackgods/clinic-scheduling/internal/scheduling"
	"github.com/hackgods/clinic-scheduling/pkg/logging"
)

// QueueSubscriber streams queue changes for one doctor.
type QueueSubscriber interface {
	Subscribe(ctx context.Context, doctorID uuid.UUID) (<-chan redisclient.QueueEvent, error)
}

// BoardMessage is pushed to waiting room displays.
type BoardMessage struct {
	Type     string                    `json:"type"`
	Event    string                    `json:"event,omitempty"`
	Snapshot *scheduling.QueueSnapshot `json:"snapshot,omitempty"`
	Text     string                    `json:"text,omitempty"`
}

// BoardHandler serves a doctor's queue over a websocket. A fresh snapshot is
// sent on connect and after every queue change. Without a subscriber the
// board falls back to polling.
type BoardHandler struct {
	svc          *scheduling.Service
	subscriber   QueueSubscriber
	logger       *logging.Logger
	pollInterval time.Duration
}

func NewBoardHandler(svc *scheduling.Service, subscriber QueueSubscriber, logger *logging.Logger) *BoardHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &BoardHandler{svc: svc, subscriber: subscriber, logger: logger, pollInterval: 5 * time.Second}
}

func (h *BoardHandler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	doctorID, ok := parseID(w, chi.URLParam(r, "doctorId"), "doctor_id")
	if !ok {
		return
	}
	actor := ActorFrom(r.Context())
	if actor.UserID == uuid.Nil {
		writeServiceError(w, r, h.logger, scheduling.ErrForbidden)
		return
	}
	websocket.Handler(func(conn *websocket.Conn) {
		h.serveWS(conn, r, actor, doctorID)
	}).ServeHTTP(w, r)
}

func (h *BoardHandler) serveWS(conn *websocket.Conn, r *http.Request, actor scheduling.Actor, doctorID uuid.UUID) {
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// the board only listens; a read error means the display went away
	go func() {
		defer cancel()
		var ignored BoardMessage
		for {
			if err := websocket.JSON.Receive(conn, &ignored); err != nil {
				return
			}
		}
	}()

	var events <-chan redisclient.QueueEvent
	if h.subscriber != nil {
		ch, err := h.subscriber.Subscribe(ctx, doctorID)
		if err != nil {
			h.logger.Warn("queue board subscribe failed, polling instead", "doctor_id", doctorID, "error", err)
		} else {
			events = ch
		}
	}

	// subscribed before the first snapshot so no change falls in between
	if !h.push(ctx, conn, actor, doctorID, "") {
		return
	}

	var tick <-chan time.Time
	if events == nil {
		ticker := time.NewTicker(h.pollInterval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if !h.push(ctx, conn, actor, doctorID, ev.Event) {
				return
			}
		case <-tick:
			if !h.push(ctx, conn, actor, doctorID, "") {
				return
			}
		}
	}
}

func (h *BoardHandler) push(ctx context.Context, conn *websocket.Conn, actor scheduling.Actor, doctorID uuid.UUID, event string) bool {
	snap, err := h.svc.QueueSnapshot(ctx, actor, doctorID)
	if err != nil {
		_ = websocket.JSON.Send(conn, BoardMessage{Type: "error", Text: scheduling.AsError(err).Message})
		return false
	}
	return websocket.JSON.Send(conn, BoardMessage{Type: "snapshot", Event: event, Snapshot: snap}) == nil
}
