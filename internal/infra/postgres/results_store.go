package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"

	"trivia-session-service/internal/domain"
)

// SessionResult is one finished session run.
type SessionResult struct {
	bun.BaseModel `bun:"table:session_results"`

	ID            uuid.UUID                  `bun:"id,pk,type:uuid"`
	Code          string                     `bun:"code,notnull"`
	StartedAt     time.Time                  `bun:"started_at"`
	FinishedAt    time.Time                  `bun:"finished_at,notnull"`
	QuestionCount int                        `bun:"question_count,notnull"`
	Breakdown     []domain.QuestionBreakdown `bun:"breakdown,type:jsonb"`

	Players []*PlayerResult `bun:"rel:has-many,join:id=session_result_id"`
}

// PlayerResult is one ranked row of a SessionResult.
type PlayerResult struct {
	bun.BaseModel `bun:"table:session_player_results"`

	SessionResultID uuid.UUID `bun:"session_result_id,pk,type:uuid"`
	PlayerID        string    `bun:"player_id,pk"`
	DisplayName     string    `bun:"display_name,notnull"`
	Rank            int       `bun:"rank,notnull"`
	Score           int       `bun:"score,notnull"`
	CorrectCount    int       `bun:"correct_count,notnull"`
}

// ResultsStore persists finished sessions with bun. It implements app.ResultRecorder.
type ResultsStore struct {
	db *bun.DB
}

func NewResultsStore(db *bun.DB) *ResultsStore {
	return &ResultsStore{db: db}
}

// OpenDB opens a bun handle over the pgdriver connector.
func OpenDB(dsn string) *bun.DB {
	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn)))
	return bun.NewDB(sqldb, pgdialect.New())
}

func (s *ResultsStore) RecordResults(ctx context.Context, results domain.Results) error {
	row := &SessionResult{
		ID:            uuid.New(),
		Code:          results.Code,
		StartedAt:     results.StartedAt,
		FinishedAt:    results.FinishedAt,
		QuestionCount: len(results.PerQuestionBreakdown),
		Breakdown:     results.PerQuestionBreakdown,
	}
	players := make([]*PlayerResult, 0, len(results.RankedPlayers))
	for _, p := range results.RankedPlayers {
		players = append(players, &PlayerResult{
			SessionResultID: row.ID,
			PlayerID:        p.PlayerID,
			DisplayName:     p.DisplayName,
			Rank:            p.Rank,
			Score:           p.Score,
			CorrectCount:    p.CorrectCount,
		})
	}

	return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.NewInsert().Model(row).Exec(ctx); err != nil {
			return fmt.Errorf("insert session result: %w", err)
		}
		if len(players) == 0 {
			return nil
		}
		if _, err := tx.NewInsert().Model(&players).Exec(ctx); err != nil {
			return fmt.Errorf("insert player results: %w", err)
		}
		return nil
	})
}

// LatestResults returns the most recent stored run of code.
func (s *ResultsStore) LatestResults(ctx context.Context, code string) (domain.Results, error) {
	row := new(SessionResult)
	err := s.db.NewSelect().
		Model(row).
		Relation("Players", func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.Order("rank ASC")
		}).
		Where("code = ?", code).
		Order("finished_at DESC").
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Results{}, domain.ErrSessionNotFound
		}
		return domain.Results{}, err
	}

	out := domain.Results{
		Code:                 row.Code,
		PerQuestionBreakdown: row.Breakdown,
		StartedAt:            row.StartedAt,
		FinishedAt:           row.FinishedAt,
	}
	for _, p := range row.Players {
		out.RankedPlayers = append(out.RankedPlayers, domain.RankedPlayer{
			Rank:         p.Rank,
			PlayerID:     p.PlayerID,
			DisplayName:  p.DisplayName,
			Score:        p.Score,
			CorrectCount: p.CorrectCount,
		})
	}
	return out, nil
}
