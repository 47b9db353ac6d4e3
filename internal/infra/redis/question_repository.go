package redis

import (
	"context"
	"encoding/json"
	"math/rand"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"trivia-session-service/internal/domain"
)

// QuestionLoader fetches question sequences from a backing store (e.g., Postgres).
type QuestionLoader interface {
	LoadQuestions(ctx context.Context, filter domain.QuestionFilter) ([]domain.Question, error)
}

// QuestionRepository caches question sequences in Redis and falls back to a loader on cache miss.
// Each filter is stored as one JSON document: SET quiz:questions:{difficulty|category} [...]
type QuestionRepository struct {
	client *redis.Client
	loader QuestionLoader
	ttl    time.Duration
	sf     singleflight.Group

	mu  sync.Mutex
	rnd *rand.Rand
}

func NewQuestionRepository(client *redis.Client, loader QuestionLoader, ttl time.Duration) *QuestionRepository {
	return &QuestionRepository{
		client: client,
		loader: loader,
		ttl:    ttl,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (r *QuestionRepository) Questions(ctx context.Context, filter domain.QuestionFilter) ([]domain.Question, error) {
	key := r.key(filter)

	if questions, ok := r.cached(ctx, key); ok {
		return limitQuestions(questions, filter.Limit), nil
	}

	result, err, _ := r.sf.Do(key, func() (interface{}, error) {
		// Re-check cache in case another goroutine filled it.
		if questions, ok := r.cached(ctx, key); ok {
			return questions, nil
		}

		unbounded := filter
		unbounded.Limit = 0
		questions, err := r.loader.LoadQuestions(ctx, unbounded)
		if err != nil {
			return nil, err
		}

		if raw, err := json.Marshal(questions); err == nil {
			// a failed write only costs a reload next time
			_ = r.client.Set(ctx, key, raw, r.ttlWithJitter()).Err()
		}
		return questions, nil
	})
	if err != nil {
		return nil, err
	}
	return limitQuestions(result.([]domain.Question), filter.Limit), nil
}

// cached treats an unreachable Redis or a corrupt entry like a miss.
func (r *QuestionRepository) cached(ctx context.Context, key string) ([]domain.Question, bool) {
	raw, err := r.client.Get(ctx, key).Bytes()
	if err != nil {
		return nil, false
	}
	var questions []domain.Question
	if err := json.Unmarshal(raw, &questions); err != nil || len(questions) == 0 {
		return nil, false
	}
	return questions, true
}

func (r *QuestionRepository) key(filter domain.QuestionFilter) string {
	return "quiz:questions:" + filter.CacheKey()
}

func (r *QuestionRepository) ttlWithJitter() time.Duration {
	if r.ttl <= 0 {
		return 0
	}
	jitterMax := int64(r.ttl) / 10
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ttl + time.Duration(r.rnd.Int63n(jitterMax+1))
}

func limitQuestions(questions []domain.Question, limit int) []domain.Question {
	if limit > 0 && len(questions) > limit {
		return questions[:limit]
	}
	return questions
}
