package memory

import (
	"context"
	"sync"
	"time"

	"trivia-session-service/internal/app"
	"trivia-session-service/internal/domain"
)

// SessionStore is an in-memory implementation of app.SessionRegistry.
type SessionStore struct {
	generate app.CodeGenerator
	clock    func() time.Time

	mu       sync.RWMutex
	sessions map[string]*app.Session
}

func NewSessionStore() *SessionStore {
	return NewSessionStoreWithGenerator(app.RandomCode, time.Now)
}

// NewSessionStoreWithGenerator lets tests force code collisions and fix session clocks.
func NewSessionStoreWithGenerator(generate app.CodeGenerator, clock func() time.Time) *SessionStore {
	if generate == nil {
		generate = app.RandomCode
	}
	if clock == nil {
		clock = time.Now
	}
	return &SessionStore{
		generate: generate,
		clock:    clock,
		sessions: make(map[string]*app.Session),
	}
}

// Create allocates an unused code and registers a new session under it. The code check and
// insert happen under one lock, so concurrent creates never share a code.
func (s *SessionStore) Create(_ context.Context, questions []domain.Question, host domain.Player, settings domain.Settings) (*app.Session, error) {
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
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, app.NormalizeCode(code))
}

func (s *SessionStore) RemoveIfEmpty(code string) bool {
	code = app.NormalizeCode(code)
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[code]
	if !ok || !session.IsEmpty() {
		return false
	}
	delete(s.sessions, code)
	return true
}

func (s *SessionStore) Sweep(evict func(*app.Session) bool) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var removed []string
	for code, session := range s.sessions {
		if evict(session) {
			delete(s.sessions, code)
			removed = append(removed, code)
		}
	}
	return removed
}

// Len reports the number of live sessions.
func (s *SessionStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}
