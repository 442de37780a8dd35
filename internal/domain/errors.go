package domain

import "errors"

var (
	// ErrSessionNotFound is returned when no session matches a code or id.
	ErrSessionNotFound = errors.New("session not found")
	// ErrQuizNotFound indicates the quiz content could not be loaded.
	ErrQuizNotFound = errors.New("quiz not found")
	// ErrQuestionNotFound indicates a question id is not part of the quiz.
	ErrQuestionNotFound = errors.New("question not found")
	// ErrParticipantNotFound is returned when a participant id is unknown or inactive.
	ErrParticipantNotFound = errors.New("participant not found")
	// ErrOptionNotFound indicates a submitted option id is invalid.
	ErrOptionNotFound = errors.New("option not found")
	// ErrUserNotFound indicates the host identity could not be resolved.
	ErrUserNotFound = errors.New("user not found")

	// ErrInvalidState is returned for illegal phase transitions.
	ErrInvalidState = errors.New("invalid session state")
	// ErrValidation is returned for malformed input or configuration.
	ErrValidation = errors.New("validation failed")

	// ErrDuplicateAnswer is returned on a second submission for the same
	// question. The ledger never overwrites the first record.
	ErrDuplicateAnswer = errors.New("answer already submitted")
	// ErrStaleQuestion is returned when a submission targets a question that
	// is not the session's current one.
	ErrStaleQuestion = errors.New("question is not current")

	// ErrSessionFull is returned when the participant limit is reached.
	ErrSessionFull = errors.New("session is full")
	// ErrDuplicateNickname is returned when a nickname is taken in the session.
	ErrDuplicateNickname = errors.New("nickname already taken")
	// ErrSessionClosed is returned when the session is not joinable or no
	// longer accepts answers (waiting for answers, ended, or join disallowed).
	ErrSessionClosed = errors.New("session is closed")
	// ErrSessionNotAcceptingAnswers is returned while the session is paused.
	ErrSessionNotAcceptingAnswers = errors.New("session is not accepting answers")
)

// ErrorKind is a stable machine-readable error identifier carried on error
// frames and REST responses.
type ErrorKind string

const (
	KindNotFound             ErrorKind = "NOT_FOUND"
	KindInvalidState         ErrorKind = "INVALID_STATE"
	KindValidation           ErrorKind = "VALIDATION_ERROR"
	KindDuplicateAnswer      ErrorKind = "DUPLICATE_ANSWER"
	KindStaleQuestion        ErrorKind = "STALE_QUESTION"
	KindSessionFull          ErrorKind = "SESSION_FULL"
	KindDuplicateNickname    ErrorKind = "DUPLICATE_NICKNAME"
	KindSessionClosed        ErrorKind = "SESSION_CLOSED"
	KindNotAcceptingAnswers  ErrorKind = "NOT_ACCEPTING_ANSWERS"
	KindInternal             ErrorKind = "INTERNAL_ERROR"
)

// KindOf maps an error to its machine-readable kind.
func KindOf(err error) ErrorKind {
	switch {
	case errors.Is(err, ErrSessionNotFound),
		errors.Is(err, ErrQuizNotFound),
		errors.Is(err, ErrQuestionNotFound),
		errors.Is(err, ErrParticipantNotFound),
		errors.Is(err, ErrOptionNotFound),
		errors.Is(err, ErrUserNotFound):
		return KindNotFound
	case errors.Is(err, ErrInvalidState):
		return KindInvalidState
	case errors.Is(err, ErrValidation):
		return KindValidation
	case errors.Is(err, ErrDuplicateAnswer):
		return KindDuplicateAnswer
	case errors.Is(err, ErrStaleQuestion):
		return KindStaleQuestion
	case errors.Is(err, ErrSessionFull):
		return KindSessionFull
	case errors.Is(err, ErrDuplicateNickname):
		return KindDuplicateNickname
	case errors.Is(err, ErrSessionClosed):
		return KindSessionClosed
	case errors.Is(err, ErrSessionNotAcceptingAnswers):
		return KindNotAcceptingAnswers
	default:
		return KindInternal
	}
}
