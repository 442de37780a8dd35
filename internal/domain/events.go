package domain

import "time"

// EventType identifies the kind of real-time message.
type EventType string

const (
	EventQuestion       EventType = "QUESTION"
	EventAnswerFeedback EventType = "ANSWER_FEEDBACK"
	EventScoreUpdate    EventType = "SCORE_UPDATE"
	EventLeaderboard    EventType = "LEADERBOARD"
	EventParticipant    EventType = "PARTICIPANT"
	EventGameState      EventType = "GAME_STATE"
	EventHostProgress   EventType = "HOST_PROGRESS"
	EventSessionTimer   EventType = "SESSION_TIMER"
	EventError          EventType = "ERROR"
)

// SenderSystem marks events originated by the engine rather than a client.
const SenderSystem = "SYSTEM"

// Event is the envelope carried on every real-time channel.
type Event struct {
	Type      EventType `json:"type"`
	SessionID string    `json:"sessionId"`
	SenderID  string    `json:"senderId"`
	Timestamp time.Time `json:"timestamp"`
	Payload   any       `json:"payload"`
}

// NewEvent stamps an envelope with the current time.
func NewEvent(t EventType, sessionCode, senderID string, payload any) Event {
	return Event{
		Type:      t,
		SessionID: sessionCode,
		SenderID:  senderID,
		Timestamp: time.Now(),
		Payload:   payload,
	}
}

// Game-state action strings carried in GameStatePayload.
const (
	ActionSessionLobby     = "SESSION_LOBBY"
	ActionSessionScheduled = "SESSION_SCHEDULED"
	ActionSessionStarted   = "SESSION_STARTED"
	ActionNextQuestion     = "NEXT_QUESTION"
	ActionSessionPaused    = "SESSION_PAUSED"
	ActionSessionResumed   = "SESSION_RESUMED"
	ActionSessionEnded     = "SESSION_ENDED"
	ActionTimeUp           = "TIME_UP"
)

// GameStatePayload announces a phase transition to the whole session.
type GameStatePayload struct {
	Status          Status `json:"status"`
	Action          string `json:"action"`
	CurrentQuestion int    `json:"currentQuestion"`
	TotalQuestions  int    `json:"totalQuestions"`
	HostName        string `json:"hostName,omitempty"`
	Message         string `json:"message,omitempty"`
}

// ScoreUpdatePayload is broadcast after every scored submission.
type ScoreUpdatePayload struct {
	ParticipantID string `json:"participantId"`
	Nickname      string `json:"nickname"`
	PreviousScore int    `json:"previousScore"`
	NewScore      int    `json:"newScore"`
	PointsEarned  int    `json:"pointsEarned"`
	Rank          int    `json:"rank"`
	PreviousRank  int    `json:"previousRank,omitempty"`
}

// Participant actions carried in ParticipantPayload.
const (
	ParticipantJoined       = "JOINED"
	ParticipantLeft         = "LEFT"
	ParticipantDisconnected = "DISCONNECTED"
	ParticipantReconnected  = "RECONNECTED"
)

// ParticipantRoster is the public view of one joined player.
type ParticipantRoster struct {
	ID       string `json:"id"`
	Nickname string `json:"nickname"`
	AvatarID string `json:"avatarId,omitempty"`
	Score    int    `json:"score"`
}

// ParticipantPayload announces roster changes.
type ParticipantPayload struct {
	Action            string              `json:"action"`
	Participant       ParticipantRoster   `json:"participant"`
	Roster            []ParticipantRoster `json:"roster"`
	TotalParticipants int                 `json:"totalParticipants"`
}

// HostProgressPayload keeps the host dashboard in sync.
type HostProgressPayload struct {
	CurrentQuestion    int     `json:"currentQuestion"`
	TotalQuestions     int     `json:"totalQuestions"`
	ActiveParticipants int     `json:"activeParticipants"`
	AnsweredCurrent    int     `json:"answeredCurrent"`
	AccuracyRate       float64 `json:"accuracyRate"`
	CompletionRate     float64 `json:"completionRate"`
}

// Timer status strings carried in SessionTimerPayload.
const (
	TimerRunning = "RUNNING"
	TimerPaused  = "PAUSED"
	TimerExpired = "EXPIRED"
)

// SessionTimerPayload ticks once per interval while a question is live.
type SessionTimerPayload struct {
	Status           string `json:"status"`
	RemainingSeconds int    `json:"remainingSeconds"`
	TotalSeconds     int    `json:"totalSeconds"`
	CurrentQuestion  int    `json:"currentQuestion"`
	TotalQuestions   int    `json:"totalQuestions"`
	AutoAdvance      bool   `json:"autoAdvance"`
}

// ErrorPayload is sent on private channels when a command fails.
type ErrorPayload struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
}
