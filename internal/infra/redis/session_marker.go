package redis

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// SessionMarker mirrors session liveness into Redis so an operator can see
// which rooms have a live session across instances. It implements
// session.Liveness; markers are best-effort and never block the registry.
type SessionMarker struct {
	client *redis.Client
	ttl    time.Duration
}

func NewSessionMarker(client *redis.Client, ttl time.Duration) *SessionMarker {
	return &SessionMarker{client: client, ttl: ttl}
}

func (m *SessionMarker) SessionCreated(roomID string) {
	_ = m.client.Set(context.Background(), m.key(roomID), "1", m.ttl).Err()
}

func (m *SessionMarker) SessionRemoved(roomID string) {
	_ = m.client.Del(context.Background(), m.key(roomID)).Err()
}

func (m *SessionMarker) key(roomID string) string {
	return "room:session:" + roomID
}
