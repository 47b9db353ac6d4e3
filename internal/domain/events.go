package domain

// Outbound event names.
const (
	EventQuestion          = "question"
	EventAnswerResult      = "answerResult"
	EventProgress          = "progress"
	EventResults           = "results"
	EventMembershipChanged = "membershipChanged"
	EventSync              = "sync"
	EventTimeUp            = "timeUp"
)

// QuestionView is a question as shown to players: never the correct answer or explanation.
type QuestionView struct {
	QuestionID string       `json:"questionId"`
	Type       QuestionType `json:"type"`
	Prompt     string       `json:"prompt"`
	Choices    []string     `json:"choices,omitempty"`
	Number     int          `json:"number"`
	Total      int          `json:"total"`
	TimeLimit  int          `json:"timeLimit"`
}

// AnswerResultEvent is sent privately to the submitting player.
type AnswerResultEvent struct {
	QuestionID    string      `json:"questionId"`
	IsCorrect     bool        `json:"isCorrect"`
	CorrectAnswer AnswerValue `json:"correctAnswer"`
	Explanation   string      `json:"explanation,omitempty"`
	Awarded       int         `json:"awarded"`
	TotalScore    int         `json:"totalScore"`
}

// ProgressEvent reports how many players have answered the current question.
type ProgressEvent struct {
	QuestionID string `json:"questionId"`
	Answered   int    `json:"answered"`
	Total      int    `json:"total"`
}

// MembershipEvent carries the current roster.
type MembershipEvent struct {
	HostID  string   `json:"hostId"`
	Players []Player `json:"players"`
}

// TimeUpEvent marks the close of a question's answer window.
type TimeUpEvent struct {
	QuestionID string `json:"questionId"`
}

// SyncEvent is the private state resync sent on request.
type SyncEvent struct {
	SessionSnapshot
	Score    int  `json:"score"`
	Answered bool `json:"answered"`
}
