package memory

import (
	"context"
	"math/rand"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"trivia-session-service/internal/domain"
)

// QuestionLoader fetches question sequences from a backing store (e.g., Postgres).
type QuestionLoader interface {
	LoadQuestions(ctx context.Context, filter domain.QuestionFilter) ([]domain.Question, error)
}

// QuestionRepository caches question sequences per filter with TTL to avoid repeated DB hits.
type QuestionRepository struct {
	loader QuestionLoader
	ttl    time.Duration
	clock  func() time.Time
	sf     singleflight.Group

	mu    sync.RWMutex
	rnd   *rand.Rand
	cache map[string]cachedQuestions
}

type cachedQuestions struct {
	questions []domain.Question
	expiresAt time.Time
}

func NewQuestionRepository(loader QuestionLoader, ttl time.Duration) *QuestionRepository {
	return &QuestionRepository{
		loader: loader,
		ttl:    ttl,
		clock:  time.Now,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
		cache:  make(map[string]cachedQuestions),
	}
}

// Questions returns at most filter.Limit questions; the cache holds the unlimited sequence.
func (r *QuestionRepository) Questions(ctx context.Context, filter domain.QuestionFilter) ([]domain.Question, error) {
	key := filter.CacheKey()
	now := r.clock()

	r.mu.RLock()
	if entry, ok := r.cache[key]; ok && entry.expiresAt.After(now) {
		r.mu.RUnlock()
		return limitQuestions(entry.questions, filter.Limit), nil
	}
	r.mu.RUnlock()

	result, err, _ := r.sf.Do(key, func() (interface{}, error) {
		now := r.clock()
		r.mu.RLock()
		if entry, ok := r.cache[key]; ok && entry.expiresAt.After(now) {
			r.mu.RUnlock()
			return entry.questions, nil
		}
		r.mu.RUnlock()

		unbounded := filter
		unbounded.Limit = 0
		questions, err := r.loader.LoadQuestions(ctx, unbounded)
		if err != nil {
			return nil, err
		}

		r.mu.Lock()
		r.cache[key] = cachedQuestions{
			questions: questions,
			expiresAt: now.Add(r.ttlWithJitter()),
		}
		r.mu.Unlock()
		return questions, nil
	})
	if err != nil {
		return nil, err
	}
	return limitQuestions(result.([]domain.Question), filter.Limit), nil
}

func (r *QuestionRepository) ttlWithJitter() time.Duration {
	if r.ttl <= 0 {
		return 0
	}
	// add up to 10% jitter to spread expirations
	jitterMax := int64(r.ttl) / 10
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ttl + time.Duration(r.rnd.Int63n(jitterMax+1))
}

// limitQuestions returns a copy so callers never share the cached backing array.
func limitQuestions(questions []domain.Question, limit int) []domain.Question {
	if limit > 0 && len(questions) > limit {
		questions = questions[:limit]
	}
	out := make([]domain.Question, len(questions))
	copy(out, questions)
	return out
}

// StaticQuestionLoader is a loader backed by an in-memory bank (useful for tests/demos).
type StaticQuestionLoader struct {
	bank []domain.Question
}

func NewStaticQuestionLoader(bank []domain.Question) *StaticQuestionLoader {
	return &StaticQuestionLoader{bank: bank}
}

func (l *StaticQuestionLoader) LoadQuestions(_ context.Context, filter domain.QuestionFilter) ([]domain.Question, error) {
	var out []domain.Question
	for _, q := range l.bank {
		if filter.Difficulty != "" && !strings.EqualFold(q.Difficulty, filter.Difficulty) {
			continue
		}
		if filter.Category != "" && !strings.EqualFold(q.Category, filter.Category) {
			continue
		}
		out = append(out, q)
		if filter.Limit > 0 && len(out) == filter.Limit {
			break
		}
	}
	if len(out) == 0 {
		return nil, domain.ErrQuestionsUnavailable
	}
	return out, nil
}
