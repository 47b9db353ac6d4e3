package memory

import (
	"context"
	"sync"

	"trivia-session-service/internal/domain"
)

// ResultsStore keeps finished-session results in memory. It implements app.ResultRecorder
// for deployments without Postgres and for tests.
type ResultsStore struct {
	mu      sync.RWMutex
	results map[string]domain.Results
}

func NewResultsStore() *ResultsStore {
	return &ResultsStore{results: make(map[string]domain.Results)}
}

func (s *ResultsStore) RecordResults(_ context.Context, results domain.Results) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results[results.Code] = results
	return nil
}

// Get returns the recorded results of code.
func (s *ResultsStore) Get(code string) (domain.Results, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.results[code]
	return r, ok
}

func (s *ResultsStore) LatestResults(_ context.Context, code string) (domain.Results, error) {
	r, ok := s.Get(code)
	if !ok {
		return domain.Results{}, domain.ErrSessionNotFound
	}
	return r, nil
}
