package memory

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"trivia-session-service/internal/domain"
)

type questionBankFile struct {
	Questions []questionDoc `yaml:"questions"`
}

type questionDoc struct {
	ID               string      `yaml:"id"`
	Type             string      `yaml:"type"`
	Prompt           string      `yaml:"prompt"`
	Choices          []string    `yaml:"choices"`
	CorrectAnswer    interface{} `yaml:"correct_answer"`
	Explanation      string      `yaml:"explanation"`
	Difficulty       string      `yaml:"difficulty"`
	Category         string      `yaml:"category"`
	TimeLimitSeconds int         `yaml:"time_limit_seconds"`
}

// LoadQuestionBankFile reads a YAML question bank.
func LoadQuestionBankFile(path string) ([]domain.Question, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseQuestionBank(raw)
}

// ParseQuestionBank decodes a YAML question bank document.
func ParseQuestionBank(raw []byte) ([]domain.Question, error) {
	var file questionBankFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("parse question bank: %w", err)
	}
	out := make([]domain.Question, 0, len(file.Questions))
	for _, doc := range file.Questions {
		q := domain.Question{
			ID:               doc.ID,
			Type:             domain.QuestionType(doc.Type),
			Prompt:           doc.Prompt,
			Choices:          doc.Choices,
			Explanation:      doc.Explanation,
			Difficulty:       doc.Difficulty,
			Category:         doc.Category,
			TimeLimitSeconds: doc.TimeLimitSeconds,
		}
		switch v := doc.CorrectAnswer.(type) {
		case string:
			q.CorrectAnswer = domain.TextAnswer(v)
		case bool:
			q.CorrectAnswer = domain.BoolAnswer(v)
		default:
			return nil, fmt.Errorf("question %q: correct_answer must be a string or boolean", doc.ID)
		}
		out = append(out, q)
	}
	return out, nil
}

// DefaultBank is served when no question store is configured.
func DefaultBank() []domain.Question {
	return []domain.Question{
		{
			ID: "geo-1", Type: domain.QuestionMultipleChoice, Difficulty: "easy", Category: "geography",
			Prompt:        "What is the capital of Australia?",
			Choices:       []string{"Sydney", "Canberra", "Melbourne", "Perth"},
			CorrectAnswer: domain.TextAnswer("Canberra"),
			Explanation:   "Canberra was purpose-built as the capital in 1913.",
		},
		{
			ID: "geo-2", Type: domain.QuestionTrueFalse, Difficulty: "easy", Category: "geography",
			Prompt:        "The Nile flows north.",
			CorrectAnswer: domain.BoolAnswer(true),
			Explanation:   "It drains into the Mediterranean Sea.",
		},
		{
			ID: "sci-1", Type: domain.QuestionMultipleChoice, Difficulty: "medium", Category: "science",
			Prompt:        "Which planet has the shortest day?",
			Choices:       []string{"Earth", "Mars", "Jupiter", "Venus"},
			CorrectAnswer: domain.TextAnswer("Jupiter"),
			Explanation:   "Jupiter rotates in just under ten hours.",
		},
		{
			ID: "sci-2", Type: domain.QuestionTrueFalse, Difficulty: "easy", Category: "science",
			Prompt:        "Sound travels faster in water than in air.",
			CorrectAnswer: domain.BoolAnswer(true),
		},
		{
			ID: "sci-3", Type: domain.QuestionMultipleChoice, Difficulty: "hard", Category: "science",
			Prompt:        "What is the chemical symbol for tungsten?",
			Choices:       []string{"Tu", "W", "Tg", "Wo"},
			CorrectAnswer: domain.TextAnswer("W"),
			Explanation:   "From its German name, Wolfram.",
		},
		{
			ID: "hist-1", Type: domain.QuestionMultipleChoice, Difficulty: "medium", Category: "history",
			Prompt:        "In which year did the Berlin Wall fall?",
			Choices:       []string{"1987", "1989", "1991", "1993"},
			CorrectAnswer: domain.TextAnswer("1989"),
		},
		{
			ID: "hist-2", Type: domain.QuestionTrueFalse, Difficulty: "hard", Category: "history",
			Prompt:        "The Great Fire of London happened in 1666.",
			CorrectAnswer: domain.BoolAnswer(true),
		},
		{
			ID: "tech-1", Type: domain.QuestionMultipleChoice, Difficulty: "easy", Category: "technology",
			Prompt:           "Which company created the Go programming language?",
			Choices:          []string{"Microsoft", "Google", "Apple", "Mozilla"},
			CorrectAnswer:    domain.TextAnswer("Google"),
			TimeLimitSeconds: 20,
		},
		{
			ID: "tech-2", Type: domain.QuestionTrueFalse, Difficulty: "medium", Category: "technology",
			Prompt:        "HTTP status 404 means the server crashed.",
			CorrectAnswer: domain.BoolAnswer(false),
			Explanation:   "404 means the resource was not found.",
		},
		{
			ID: "tech-3", Type: domain.QuestionMultipleChoice, Difficulty: "hard", Category: "technology",
			Prompt:        "What port does PostgreSQL listen on by default?",
			Choices:       []string{"3306", "5432", "6379", "27017"},
			CorrectAnswer: domain.TextAnswer("5432"),
		},
	}
}
