package redisclient

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// QueueEvent announces that a doctor's queue changed.
type QueueEvent struct {
	DoctorID uuid.UUID `json:"doctor_id"`
	Event    string    `json:"event"`
	At       time.Time `json:"at"`
}

// QueueBus fans queue changes out to board subscribers over Redis pub/sub.
type QueueBus struct {
	client *redis.Client
}

func NewQueueBus(client *redis.Client) *QueueBus {
	return &QueueBus{client: client}
}

func queueChannel(doctorID uuid.UUID) string {
	return "queue:" + doctorID.String()
}

func (b *QueueBus) QueueChanged(ctx context.Context, doctorID uuid.UUID, event string) error {
	data, err := json.Marshal(QueueEvent{DoctorID: doctorID, Event: event, At: time.Now().UTC()})
	if err != nil {
		return fmt.Errorf("encode queue event: %w", err)
	}
	if err := b.client.Publish(ctx, queueChannel(doctorID), data).Err(); err != nil {
		return fmt.Errorf("publish queue event: %w", err)
	}
	return nil
}

// Subscribe delivers events for doctorID until ctx ends.
func (b *QueueBus) Subscribe(ctx context.Context, doctorID uuid.UUID) (<-chan QueueEvent, error) {
	sub := b.client.Subscribe(ctx, queueChannel(doctorID))
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, fmt.Errorf("subscribe queue events: %w", err)
	}

	out := make(chan QueueEvent)
	go func() {
		defer close(out)
		defer sub.Close()
		msgs := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				var ev QueueEvent
				if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
					continue
				}
				select {
				case out <- ev:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}
