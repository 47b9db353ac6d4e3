package domain

import "errors"

// ErrorKind names a class of rejection surfaced to clients.
type ErrorKind string

const (
	KindSessionNotFound      ErrorKind = "SessionNotFound"
	KindSessionFull          ErrorKind = "SessionFull"
	KindAlreadyJoined        ErrorKind = "AlreadyJoined"
	KindNotEnoughPlayers     ErrorKind = "NotEnoughPlayers"
	KindNotHost              ErrorKind = "NotHost"
	KindStaleQuestion        ErrorKind = "StaleQuestion"
	KindDuplicateAnswer      ErrorKind = "DuplicateAnswer"
	KindPlayerNotInSession   ErrorKind = "PlayerNotInSession"
	KindInvalidAnswerValue   ErrorKind = "InvalidAnswerValue"
	KindInvalidState         ErrorKind = "InvalidState"
	KindInvalidRequest       ErrorKind = "InvalidRequest"
	KindQuestionsUnavailable ErrorKind = "QuestionsUnavailable"
	KindCodeSpaceExhausted   ErrorKind = "CodeSpaceExhausted"
	KindInternal             ErrorKind = "Internal"
)

// Error is a client-facing error carrying its kind.
type Error struct {
	Kind    ErrorKind
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

// Is matches any *Error of the same kind, so wrapped details still compare equal to the sentinel.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// NewError builds an error of the given kind with a specific message.
func NewError(kind ErrorKind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

var (
	// ErrSessionNotFound is returned for an unknown session code.
	ErrSessionNotFound = NewError(KindSessionNotFound, "session not found")
	// ErrSessionFull is returned when the lobby already holds the maximum number of players.
	ErrSessionFull = NewError(KindSessionFull, "session is full")
	// ErrAlreadyJoined is returned when the same player identity joins twice.
	ErrAlreadyJoined = NewError(KindAlreadyJoined, "player already joined")
	// ErrNotEnoughPlayers is returned when the host starts with too few players.
	ErrNotEnoughPlayers = NewError(KindNotEnoughPlayers, "not enough players to start")
	// ErrNotHost is returned when a privileged action comes from a non-host.
	ErrNotHost = NewError(KindNotHost, "only the host can do that")
	// ErrStaleQuestion is returned for answers to a question that is no longer open.
	ErrStaleQuestion = NewError(KindStaleQuestion, "question is no longer accepting answers")
	// ErrDuplicateAnswer is returned for a second answer to the same question.
	ErrDuplicateAnswer = NewError(KindDuplicateAnswer, "answer already submitted")
	// ErrPlayerNotInSession is returned when the player is not a member of the session.
	ErrPlayerNotInSession = NewError(KindPlayerNotInSession, "player not in session")
	// ErrInvalidAnswerValue is returned when the answer does not fit the question type.
	ErrInvalidAnswerValue = NewError(KindInvalidAnswerValue, "invalid answer value")
	// ErrInvalidState is returned when the operation is illegal in the current status.
	ErrInvalidState = NewError(KindInvalidState, "operation not allowed in current session state")
	// ErrInvalidRequest is returned for malformed request fields.
	ErrInvalidRequest = NewError(KindInvalidRequest, "invalid request")
	// ErrQuestionsUnavailable indicates the question source could not provide a usable sequence.
	ErrQuestionsUnavailable = NewError(KindQuestionsUnavailable, "questions unavailable")
	// ErrCodeSpaceExhausted is a fatal registry error: no free code was found within the retry budget.
	ErrCodeSpaceExhausted = NewError(KindCodeSpaceExhausted, "could not allocate a unique session code")
)

// KindOf classifies err; anything that is not a *Error is internal.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// IsClientError reports whether err is an expected, recoverable rejection.
func IsClientError(err error) bool {
	k := KindOf(err)
	return k != KindInternal && k != KindCodeSpaceExhausted
}
