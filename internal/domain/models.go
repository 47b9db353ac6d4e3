package domain

import (
	"bytes"
	"encoding/json"
	"strings"
	"time"
)

// Status is the lifecycle state of a session.
type Status string

const (
	StatusWaiting    Status = "WAITING"
	StatusInProgress Status = "IN_PROGRESS"
	StatusFinished   Status = "FINISHED"
)

// QuestionType distinguishes how answers are compared.
type QuestionType string

const (
	QuestionMultipleChoice QuestionType = "multiple-choice"
	QuestionTrueFalse      QuestionType = "true-false"
)

// Player is a session member.
type Player struct {
	ID          string    `json:"id"`
	DisplayName string    `json:"displayName"`
	IsHost      bool      `json:"isHost"`
	Score       int       `json:"score"`
	Connected   bool      `json:"connected"`
	JoinedAt    time.Time `json:"joinedAt"`
}

// AnswerValue is a submitted or correct answer: a string, a boolean, or null.
type AnswerValue struct {
	Text *string
	Bool *bool
}

// TextAnswer wraps a string answer.
func TextAnswer(s string) AnswerValue {
	return AnswerValue{Text: &s}
}

// BoolAnswer wraps a boolean answer.
func BoolAnswer(b bool) AnswerValue {
	return AnswerValue{Bool: &b}
}

// IsNull reports whether no value was given.
func (v AnswerValue) IsNull() bool {
	return v.Text == nil && v.Bool == nil
}

func (v AnswerValue) MarshalJSON() ([]byte, error) {
	switch {
	case v.Text != nil:
		return json.Marshal(*v.Text)
	case v.Bool != nil:
		return json.Marshal(*v.Bool)
	default:
		return []byte("null"), nil
	}
}

func (v *AnswerValue) UnmarshalJSON(data []byte) error {
	*v = AnswerValue{}
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil
	}
	switch data[0] {
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return ErrInvalidAnswerValue
		}
		v.Text = &s
	case 't', 'f':
		var b bool
		if err := json.Unmarshal(data, &b); err != nil {
			return ErrInvalidAnswerValue
		}
		v.Bool = &b
	default:
		return ErrInvalidAnswerValue
	}
	return nil
}

// NormalizeText case-folds and collapses whitespace for answer comparison.
func NormalizeText(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

// Question is read-only quiz content.
type Question struct {
	ID               string       `json:"id"`
	Type             QuestionType `json:"type"`
	Prompt           string       `json:"prompt"`
	Choices          []string     `json:"choices,omitempty"`
	CorrectAnswer    AnswerValue  `json:"correctAnswer"`
	Explanation      string       `json:"explanation,omitempty"`
	Difficulty       string       `json:"difficulty,omitempty"`
	Category         string       `json:"category,omitempty"`
	TimeLimitSeconds int          `json:"timeLimitSeconds,omitempty"` // overrides the session default when > 0
}

// QuestionFilter selects a question sequence from the bank.
type QuestionFilter struct {
	Difficulty string `json:"difficulty,omitempty"`
	Category   string `json:"category,omitempty"`
	Limit      int    `json:"limit,omitempty"`
}

// CacheKey is a stable identifier of the filter for caches.
func (f QuestionFilter) CacheKey() string {
	var b strings.Builder
	b.WriteString(strings.ToLower(f.Difficulty))
	b.WriteByte('|')
	b.WriteString(strings.ToLower(f.Category))
	return b.String()
}

// AnswerRecord is the at-most-once record of a player's response to a question.
type AnswerRecord struct {
	PlayerID         string      `json:"playerId"`
	QuestionID       string      `json:"questionId"`
	Value            AnswerValue `json:"value"`
	IsCorrect        bool        `json:"isCorrect"`
	TimeSpentSeconds float64     `json:"timeSpentSeconds"`
	Points           int         `json:"points"`
	Expired          bool        `json:"expired,omitempty"`
	SubmittedAt      time.Time   `json:"submittedAt"`
}

// Settings tunes the rules of one session.
type Settings struct {
	MaxPlayers        int           `json:"maxPlayers"`
	MinPlayers        int           `json:"minPlayers"`
	QuestionTimeLimit time.Duration `json:"questionTimeLimit"`
	BasePoints        int           `json:"basePoints"`
	BonusFactor       float64       `json:"bonusFactor"`
}

// DefaultSettings mirrors the documented defaults.
func DefaultSettings() Settings {
	return Settings{
		MaxPlayers:        10,
		MinPlayers:        2,
		QuestionTimeLimit: 30 * time.Second,
		BasePoints:        100,
		BonusFactor:       2,
	}
}

// RankedPlayer is one row of the final ranking.
type RankedPlayer struct {
	Rank         int    `json:"rank"`
	PlayerID     string `json:"playerId"`
	DisplayName  string `json:"displayName"`
	Score        int    `json:"score"`
	CorrectCount int    `json:"correctCount"`
	Connected    bool   `json:"connected"`
}

// QuestionBreakdown lists every answer record of one question.
type QuestionBreakdown struct {
	QuestionID    string         `json:"questionId"`
	Prompt        string         `json:"prompt"`
	CorrectAnswer AnswerValue    `json:"correctAnswer"`
	Explanation   string         `json:"explanation,omitempty"`
	Answers       []AnswerRecord `json:"answers"`
}

// Results is the final outcome of a session.
type Results struct {
	Code                 string              `json:"code"`
	RankedPlayers        []RankedPlayer      `json:"rankedPlayers"`
	PerQuestionBreakdown []QuestionBreakdown `json:"perQuestionBreakdown"`
	StartedAt            time.Time           `json:"startedAt"`
	FinishedAt           time.Time           `json:"finishedAt"`
}

// SessionSnapshot is a sanitized, read-only view of a session.
type SessionSnapshot struct {
	Code           string        `json:"code"`
	Status         Status        `json:"status"`
	HostID         string        `json:"hostId"`
	Players        []Player      `json:"players"`
	CurrentIndex   int           `json:"currentIndex"`
	TotalQuestions int           `json:"totalQuestions"`
	Question       *QuestionView `json:"question,omitempty"`
	Settings       Settings      `json:"settings"`
	Seq            uint64        `json:"seq"`
	CreatedAt      time.Time     `json:"createdAt"`
}
