package redisclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const pendingMarker = "pending"

var ErrRequestInFlight = errors.New("a request with this idempotency key is still in progress")

// StoredResponse is a response recorded for replay.
type StoredResponse struct {
	Status      int    `json:"status"`
	ContentType string `json:"content_type"`
	Body        []byte `json:"body"`
}

// IdempotencyStore remembers responses by client supplied key so retried
// requests replay the first outcome instead of re-running it.
type IdempotencyStore struct {
	client     *redis.Client
	ttl        time.Duration
	pendingTTL time.Duration
}

// NewIdempotencyStore keeps completed responses for ttl. A reservation that
// never completes, for example after a crash, expires after pendingTTL.
func NewIdempotencyStore(client *redis.Client, ttl, pendingTTL time.Duration) *IdempotencyStore {
	if pendingTTL <= 0 || pendingTTL > ttl {
		pendingTTL = ttl
	}
	return &IdempotencyStore{client: client, ttl: ttl, pendingTTL: pendingTTL}
}

func idempotencyKey(key string) string { return "idem:" + key }

// Begin reserves key. It returns the stored response when the key already
// completed, ErrRequestInFlight when another request holds it, or (nil, nil)
// when the caller now owns the key.
func (s *IdempotencyStore) Begin(ctx context.Context, key string) (*StoredResponse, error) {
	ok, err := s.client.SetNX(ctx, idempotencyKey(key), pendingMarker, s.pendingTTL).Result()
	if err != nil {
		return nil, fmt.Errorf("reserve idempotency key: %w", err)
	}
	if ok {
		return nil, nil
	}

	raw, err := s.client.Get(ctx, idempotencyKey(key)).Result()
	if errors.Is(err, redis.Nil) {
		// expired between calls, try once more
		return s.Begin(ctx, key)
	}
	if err != nil {
		return nil, fmt.Errorf("load idempotency key: %w", err)
	}
	if raw == pendingMarker {
		return nil, ErrRequestInFlight
	}

	var resp StoredResponse
	if err := json.Unmarshal([]byte(raw), &resp); err != nil {
		return nil, fmt.Errorf("decode idempotent response: %w", err)
	}
	return &resp, nil
}

func (s *IdempotencyStore) Complete(ctx context.Context, key string, resp StoredResponse) error {
	data, err := json.Marshal(resp)
	if err != nil {
		return fmt.Errorf("encode idempotent response: %w", err)
	}
	if err := s.client.Set(ctx, idempotencyKey(key), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("store idempotent response: %w", err)
	}
	return nil
}

// Release forgets key so the request can be retried, e.g. after a 5xx.
func (s *IdempotencyStore) Release(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, idempotencyKey(key)).Err(); err != nil {
		return fmt.Errorf("release idempotency key: %w", err)
	}
	return nil
}
