package redis

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"trivia-session-service/internal/app"
	"trivia-session-service/internal/domain"
)

// SessionStore is a Redis-aware implementation of app.SessionRegistry.
// Notes:
//   - Sessions themselves live in a local map; their state machine never leaves the process.
//   - Each code is reserved with SET NX on quiz:session:{code}, so instances sharing one
//     Redis never hand out the same code.
//   - Sweep refreshes the TTL of live reservations and deletes evicted ones.
type SessionStore struct {
	client   *redis.Client
	ttl      time.Duration
	generate app.CodeGenerator
	clock    func() time.Time

	mu       sync.RWMutex
	sessions map[string]*app.Session
}

func NewSessionStore(client *redis.Client, ttl time.Duration) *SessionStore {
	return NewSessionStoreWithGenerator(client, ttl, app.RandomCode)
}

// NewSessionStoreWithGenerator lets tests force code collisions.
func NewSessionStoreWithGenerator(client *redis.Client, ttl time.Duration, generate app.CodeGenerator) *SessionStore {
	if generate == nil {
		generate = app.RandomCode
	}
	return &SessionStore{
		client:   client,
		ttl:      ttl,
		generate: generate,
		clock:    time.Now,
		sessions: make(map[string]*app.Session),
	}
}

func (s *SessionStore) Create(ctx context.Context, questions []domain.Question, host domain.Player, settings domain.Settings) (*app.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for attempt := 0; attempt < app.MaxCodeAttempts; attempt++ {
		code, err := s.generate()
		if err != nil {
			return nil, err
		}
		code = app.NormalizeCode(code)
		if _, taken := s.sessions[code]; taken {
			continue
		}
		reserved, err := s.client.SetNX(ctx, s.key(code), host.ID, s.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("reserve session code: %w", err)
		}
		if !reserved {
			continue
		}
		session := app.NewSessionWithClock(code, questions, host, settings, s.clock)
		s.sessions[code] = session
		return session, nil
	}
	return nil, domain.ErrCodeSpaceExhausted
}

func (s *SessionStore) Get(code string) (*app.Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.sessions[app.NormalizeCode(code)]
	return session, ok
}

func (s *SessionStore) Remove(code string) {
	code = app.NormalizeCode(code)
	s.mu.Lock()
	delete(s.sessions, code)
	s.mu.Unlock()
	// best-effort; the reservation expires on its own
	_ = s.client.Del(context.Background(), s.key(code)).Err()
}

func (s *SessionStore) RemoveIfEmpty(code string) bool {
	code = app.NormalizeCode(code)
	s.mu.Lock()
	session, ok := s.sessions[code]
	if !ok || !session.IsEmpty() {
		s.mu.Unlock()
		return false
	}
	delete(s.sessions, code)
	s.mu.Unlock()
	_ = s.client.Del(context.Background(), s.key(code)).Err()
	return true
}

func (s *SessionStore) Sweep(evict func(*app.Session) bool) []string {
	s.mu.Lock()
	var removed, live []string
	for code, session := range s.sessions {
		if evict(session) {
			delete(s.sessions, code)
			removed = append(removed, code)
			continue
		}
		live = append(live, code)
	}
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	pipe := s.client.Pipeline()
	for _, code := range removed {
		pipe.Del(ctx, s.key(code))
	}
	if s.ttl > 0 {
		for _, code := range live {
			pipe.Expire(ctx, s.key(code), s.ttl)
		}
	}
	if pipe.Len() > 0 {
		_, _ = pipe.Exec(ctx)
	}
	return removed
}

func (s *SessionStore) key(code string) string {
	return "quiz:session:" + code
}
