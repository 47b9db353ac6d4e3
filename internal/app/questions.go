package app

import (
	"fmt"

	"trivia-session-service/internal/domain"
)

// ValidateQuestions checks a question sequence is playable before a session is built from it.
func ValidateQuestions(questions []domain.Question) error {
	if len(questions) == 0 {
		return fmt.Errorf("%w: need at least one question", domain.ErrQuestionsUnavailable)
	}

	seen := make(map[string]struct{}, len(questions))
	for i, q := range questions {
		if q.ID == "" {
			return fmt.Errorf("%w: missing id of question %d", domain.ErrQuestionsUnavailable, i)
		}
		if _, dup := seen[q.ID]; dup {
			return fmt.Errorf("%w: duplicate question id %q", domain.ErrQuestionsUnavailable, q.ID)
		}
		seen[q.ID] = struct{}{}

		if q.Prompt == "" {
			return fmt.Errorf("%w: missing prompt of question %q", domain.ErrQuestionsUnavailable, q.ID)
		}

		switch q.Type {
		case domain.QuestionMultipleChoice:
			if len(q.Choices) < 2 {
				return fmt.Errorf("%w: question %q needs at least two choices", domain.ErrQuestionsUnavailable, q.ID)
			}
			if q.CorrectAnswer.Text == nil || !containsChoice(q.Choices, domain.NormalizeText(*q.CorrectAnswer.Text)) {
				return fmt.Errorf("%w: correct answer of question %q is not a choice", domain.ErrQuestionsUnavailable, q.ID)
			}
		case domain.QuestionTrueFalse:
			if q.CorrectAnswer.Bool == nil {
				return fmt.Errorf("%w: question %q needs a boolean correct answer", domain.ErrQuestionsUnavailable, q.ID)
			}
		default:
			return fmt.Errorf("%w: unknown type %q of question %q", domain.ErrQuestionsUnavailable, q.Type, q.ID)
		}

		if q.TimeLimitSeconds < 0 {
			return fmt.Errorf("%w: negative time limit of question %q", domain.ErrQuestionsUnavailable, q.ID)
		}
	}
	return nil
}
