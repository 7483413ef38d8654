package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"canopy/api/internal/dnd"
	"github.com/redis/go-redis/v9"
)

// DefaultGestureTTL bounds how long an abandoned drag lingers.
const DefaultGestureTTL = 2 * time.Minute

// GestureStore persists drag gestures between pointer events.
type GestureStore interface {
	SaveGesture(ctx context.Context, g *dnd.Gesture) error
	LoadGesture(ctx context.Context, id string) (*dnd.Gesture, error)
	DeleteGesture(ctx context.Context, id string) error
	// ClaimDrop reports true to exactly one caller per gesture.
	ClaimDrop(ctx context.Context, id string) (bool, error)
}

// RedisGestures keeps gestures in Redis so any API replica can serve the
// next pointer event. Each save refreshes the TTL.
type RedisGestures struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

func NewRedisGestures(client *redis.Client, ttl time.Duration) *RedisGestures {
	if ttl <= 0 {
		ttl = DefaultGestureTTL
	}
	return &RedisGestures{client: client, prefix: "drag:", ttl: ttl}
}

func (s *RedisGestures) SaveGesture(ctx context.Context, g *dnd.Gesture) error {
	payload, err := json.Marshal(g)
	if err != nil {
		return fmt.Errorf("marshal gesture: %w", err)
	}
	if err := s.client.Set(ctx, s.prefix+g.ID, payload, s.ttl).Err(); err != nil {
		return fmt.Errorf("save gesture: %w", err)
	}
	return nil
}

func (s *RedisGestures) LoadGesture(ctx context.Context, id string) (*dnd.Gesture, error) {
	raw, err := s.client.Get(ctx, s.prefix+id).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load gesture: %w", err)
	}
	var g dnd.Gesture
	if err := json.Unmarshal(raw, &g); err != nil {
		return nil, fmt.Errorf("unmarshal gesture: %w", err)
	}
	return &g, nil
}

func (s *RedisGestures) DeleteGesture(ctx context.Context, id string) error {
	if err := s.client.Del(ctx, s.prefix+id, s.claimKey(id)).Err(); err != nil {
		return fmt.Errorf("delete gesture: %w", err)
	}
	return nil
}

func (s *RedisGestures) claimKey(id string) string {
	return s.prefix + id + ":dropped"
}

// ClaimDrop sets the gesture's drop marker with SETNX, so replicas racing on
// the same release agree on a single winner.
func (s *RedisGestures) ClaimDrop(ctx context.Context, id string) (bool, error) {
	claimed, err := s.client.SetNX(ctx, s.claimKey(id), 1, s.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("claim drop: %w", err)
	}
	return claimed, nil
}

type memoryGesture struct {
	gesture   dnd.Gesture
	claimed   bool
	expiresAt time.Time
}

// MemoryGestures is the single-process fallback used when Redis is not
// configured.
type MemoryGestures struct {
	mu       sync.Mutex
	ttl      time.Duration
	now      func() time.Time
	gestures map[string]memoryGesture
}

func NewMemoryGestures(ttl time.Duration) *MemoryGestures {
	if ttl <= 0 {
		ttl = DefaultGestureTTL
	}
	return &MemoryGestures{
		ttl:      ttl,
		now:      time.Now,
		gestures: make(map[string]memoryGesture),
	}
}

func (s *MemoryGestures) SaveGesture(_ context.Context, g *dnd.Gesture) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	for id, record := range s.gestures {
		if now.After(record.expiresAt) {
			delete(s.gestures, id)
		}
	}
	s.gestures[g.ID] = memoryGesture{gesture: *g, claimed: s.gestures[g.ID].claimed, expiresAt: now.Add(s.ttl)}
	return nil
}

func (s *MemoryGestures) LoadGesture(_ context.Context, id string) (*dnd.Gesture, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.gestures[id]
	if !ok || s.now().After(record.expiresAt) {
		delete(s.gestures, id)
		return nil, ErrNotFound
	}
	g := record.gesture
	return &g, nil
}

func (s *MemoryGestures) DeleteGesture(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.gestures, id)
	return nil
}

func (s *MemoryGestures) ClaimDrop(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.gestures[id]
	if !ok || s.now().After(record.expiresAt) {
		delete(s.gestures, id)
		return false, ErrNotFound
	}
	if record.claimed {
		return false, nil
	}
	record.claimed = true
	s.gestures[id] = record
	return true, nil
}
