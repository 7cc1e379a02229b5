// Package auth resolves the authenticated actor for each request. Credential
// issuance and login live outside this service; auth only consumes the
// session handle those flows establish and attaches the actor to context.
package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrNoSession indicates the session handle is unknown or expired.
var ErrNoSession = errors.New("auth: session not found")

// SessionStore reads session records written by the identity layer.
type SessionStore struct {
	client *redis.Client
	ttl    time.Duration
}

type sessionPayload struct {
	UserID int64 `json:"user_id"`
}

// NewSessionStore constructs a SessionStore.
func NewSessionStore(client *redis.Client, ttl time.Duration) *SessionStore {
	return &SessionStore{client: client, ttl: ttl}
}

// UserID resolves a session ID to its user. The session TTL slides on read.
func (s *SessionStore) UserID(ctx context.Context, sessionID string) (int64, error) {
	if s == nil || s.client == nil {
		return 0, ErrNoSession
	}
	payload, err := s.client.Get(ctx, sessionKey(sessionID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, ErrNoSession
		}
		return 0, err
	}
	var stored sessionPayload
	if err := json.Unmarshal(payload, &stored); err != nil {
		return 0, fmt.Errorf("auth: decode session: %w", err)
	}
	if stored.UserID <= 0 {
		return 0, ErrNoSession
	}
	if s.ttl > 0 {
		_ = s.client.Expire(ctx, sessionKey(sessionID), s.ttl).Err()
	}
	return stored.UserID, nil
}

func sessionKey(id string) string {
	return "session:" + id
}
