package app

import (
	"context"

	"trivia-session-service/internal/domain"
)

// SessionRegistry maps session codes to sessions (in-memory, Redis-reserved, etc).
// Create must be atomic with respect to concurrent Create and Get calls.
type SessionRegistry interface {
	Create(ctx context.Context, questions []domain.Question, host domain.Player, settings domain.Settings) (*Session, error)
	Get(code string) (*Session, bool)
	// RemoveIfEmpty drops the session only if it still has no players, checked under the
	// registry lock so a concurrent join either lands first or finds no session.
	RemoveIfEmpty(code string) bool
	// Sweep removes every session for which evict returns true and reports their codes.
	Sweep(evict func(*Session) bool) []string
}

// QuestionSource provides ordered question sequences from the question bank.
type QuestionSource interface {
	Questions(ctx context.Context, filter domain.QuestionFilter) ([]domain.Question, error)
}

// Event is one outbound message with the session version it reflects.
type Event struct {
	Name    string
	Seq     uint64
	Payload any
}

// Broadcaster delivers events. Implementations never block on, or fail because of, a slow
// or missing recipient.
type Broadcaster interface {
	BroadcastToSession(code string, event Event)
	SendToPlayer(code, playerID string, event Event)
}

// ResultRecorder persists the summary of a finished session.
type ResultRecorder interface {
	RecordResults(ctx context.Context, results domain.Results) error
}

// ResultReader looks up persisted results once the live session is gone.
type ResultReader interface {
	LatestResults(ctx context.Context, code string) (domain.Results, error)
}
