package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"trivia-session-service/internal/domain"
)

// QuestionLoader loads question JSONB from Postgres, ordered by position.
type QuestionLoader struct {
	pool *pgxpool.Pool
}

func NewQuestionLoader(pool *pgxpool.Pool) *QuestionLoader {
	return &QuestionLoader{pool: pool}
}

// Connect opens a pool from a DSN.
func Connect(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, err
	}
	return pgxpool.ConnectConfig(ctx, cfg)
}

func (l *QuestionLoader) LoadQuestions(ctx context.Context, filter domain.QuestionFilter) ([]domain.Question, error) {
	query, args := buildQuestionQuery(filter)
	rows, err := l.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("load questions: %w", err)
	}
	defer rows.Close()

	var out []domain.Question
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scan question: %w", err)
		}
		var q domain.Question
		if err := json.Unmarshal(raw, &q); err != nil {
			return nil, fmt.Errorf("unmarshal question: %w", err)
		}
		out = append(out, q)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("load questions: %w", err)
	}
	if len(out) == 0 {
		return nil, domain.ErrQuestionsUnavailable
	}
	return out, nil
}

func buildQuestionQuery(filter domain.QuestionFilter) (string, []interface{}) {
	var (
		where []string
		args  []interface{}
	)
	if filter.Difficulty != "" {
		args = append(args, strings.ToLower(filter.Difficulty))
		where = append(where, fmt.Sprintf("lower(difficulty) = $%d", len(args)))
	}
	if filter.Category != "" {
		args = append(args, strings.ToLower(filter.Category))
		where = append(where, fmt.Sprintf("lower(category) = $%d", len(args)))
	}

	query := `SELECT data FROM questions`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY position, id`
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	return query, args
}

// SeedQuestions upserts a question bank; slice order becomes the position.
func SeedQuestions(ctx context.Context, pool *pgxpool.Pool, questions []domain.Question) error {
	batch := &pgx.Batch{}
	for i, q := range questions {
		raw, err := json.Marshal(q)
		if err != nil {
			return fmt.Errorf("marshal question %q: %w", q.ID, err)
		}
		batch.Queue(`
		INSERT INTO questions (id, position, difficulty, category, data) VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET position = EXCLUDED.position, difficulty = EXCLUDED.difficulty,
			category = EXCLUDED.category, data = EXCLUDED.data
		`, q.ID, i, q.Difficulty, q.Category, raw)
	}

	results := pool.SendBatch(ctx, batch)
	defer results.Close()
	for range questions {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("seed questions: %w", err)
		}
	}
	return nil
}
