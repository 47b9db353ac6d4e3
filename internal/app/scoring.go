package app

import (
	"math"
	"time"

	"trivia-session-service/internal/domain"
)

// questionTimeLimit returns the answer window for q, preferring its own override.
func questionTimeLimit(q domain.Question, settings domain.Settings) time.Duration {
	if q.TimeLimitSeconds > 0 {
		return time.Duration(q.TimeLimitSeconds) * time.Second
	}
	return settings.QuestionTimeLimit
}

// timeSpentSeconds is now - startedAt clamped to [0, limit].
func timeSpentSeconds(startedAt, now time.Time, limit time.Duration) float64 {
	spent := now.Sub(startedAt)
	if spent < 0 {
		spent = 0
	}
	if spent > limit {
		spent = limit
	}
	return spent.Seconds()
}

// SpeedBonus decreases linearly to zero as the time limit is approached.
func SpeedBonus(limitSeconds, spentSeconds, factor float64) int {
	remaining := math.Max(0, limitSeconds-spentSeconds)
	return int(math.Floor(remaining * factor))
}

// AwardPoints is basePoints plus the speed bonus for a correct answer, zero otherwise.
func AwardPoints(settings domain.Settings, limit time.Duration, spentSeconds float64, correct bool) int {
	if !correct {
		return 0
	}
	return settings.BasePoints + SpeedBonus(limit.Seconds(), spentSeconds, settings.BonusFactor)
}

// checkAnswer validates value against the question type and reports correctness.
// A null value is a valid, non-scoring skip.
func checkAnswer(q domain.Question, value domain.AnswerValue) (bool, error) {
	if value.IsNull() {
		return false, nil
	}

	switch q.Type {
	case domain.QuestionTrueFalse:
		if value.Bool == nil {
			return false, domain.NewError(domain.KindInvalidAnswerValue, "true-false questions take a boolean answer")
		}
		return q.CorrectAnswer.Bool != nil && *value.Bool == *q.CorrectAnswer.Bool, nil

	case domain.QuestionMultipleChoice:
		if value.Text == nil {
			return false, domain.NewError(domain.KindInvalidAnswerValue, "multiple-choice questions take a string answer")
		}
		submitted := domain.NormalizeText(*value.Text)
		if submitted == "" {
			return false, domain.NewError(domain.KindInvalidAnswerValue, "answer must not be empty")
		}
		if len(q.Choices) > 0 && !containsChoice(q.Choices, submitted) {
			return false, domain.NewError(domain.KindInvalidAnswerValue, "answer is not one of the choices")
		}
		return q.CorrectAnswer.Text != nil && submitted == domain.NormalizeText(*q.CorrectAnswer.Text), nil
	}

	return false, domain.ErrInvalidAnswerValue
}

func containsChoice(choices []string, normalized string) bool {
	for _, c := range choices {
		if domain.NormalizeText(c) == normalized {
			return true
		}
	}
	return false
}
