package domain

import (
	"strings"
	"time"
)

// NormalizeCode canonicalizes a join code for case-insensitive matching.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// Status is the lifecycle phase of a quiz session.
type Status string

const (
	StatusWaiting    Status = "WAITING"
	StatusInProgress Status = "IN_PROGRESS"
	StatusPaused     Status = "PAUSED"
	StatusEnded      Status = "ENDED"
)

// Terminal reports whether no further transitions are possible.
func (s Status) Terminal() bool { return s == StatusEnded }

// QuestionType selects how submissions are judged for correctness.
type QuestionType string

const (
	QuestionSingleChoice   QuestionType = "SINGLE_CHOICE"
	QuestionMultipleChoice QuestionType = "MULTIPLE_CHOICE"
	QuestionTrueFalse      QuestionType = "TRUE_FALSE"
	QuestionShortAnswer    QuestionType = "SHORT_ANSWER"
)

// DefaultBasePoints is used when a question does not declare a point value.
const DefaultBasePoints = 100

// Option represents a possible answer for a question.
type Option struct {
	ID      string `json:"id"`
	Text    string `json:"text"`
	Correct bool   `json:"correct"`
}

// Question is read-only session content. Options keep authoring order.
type Question struct {
	ID        string       `json:"id"`
	Text      string       `json:"text"`
	Type      QuestionType `json:"type"`
	Options   []Option     `json:"options"`
	TimeLimit int          `json:"timeLimit"` // seconds; 0 means use the session default
	Points    int          `json:"points"`    // defaults to 100 if zero
	Order     int          `json:"order"`
}

// Quiz is a collection of questions.
type Quiz struct {
	ID        string     `json:"id"`
	Title     string     `json:"title"`
	Questions []Question `json:"questions"`
}

// User is the minimal host identity exposed by the external directory.
type User struct {
	ID          string
	DisplayName string
}

// SessionSettings are host-tunable knobs, applied at creation and optionally
// overridden atomically with the start transition.
type SessionSettings struct {
	AllowJoinInProgress bool `json:"allowJoinInProgress"`
	ShuffleQuestions    bool `json:"shuffleQuestions"`
	ShowCorrectAnswers  bool `json:"showCorrectAnswers"`
	ShowLeaderboard     bool `json:"showLeaderboard"`
	AutoAdvance         bool `json:"autoAdvance"`
	MaxParticipants     int  `json:"maxParticipants"`  // 0 = unlimited
	DefaultTimeLimit    int  `json:"defaultTimeLimit"` // seconds, per question
}

// Session is one timed run of a quiz, identified by a short join code.
//
// CurrentQuestion is the 1-based number of the question being played; 0 while
// WAITING. It is strictly increasing while IN_PROGRESS and frozen once the
// session reaches ENDED.
type Session struct {
	ID                string
	QuizID            string
	HostID            string
	HostName          string
	Name              string
	Code              string
	Status            Status
	CurrentQuestion   int
	TotalQuestions    int
	TotalParticipants int
	QuestionOrder     []string // question ids in play order, fixed at start
	Settings          SessionSettings
	CreatedAt         time.Time
	StartedAt         time.Time
	EndedAt           time.Time
	ScheduledStartAt  time.Time
	ScheduledEndAt    time.Time

	// Aggregate counters maintained by the answer ledger.
	TotalAnswers   int
	CorrectAnswers int

	// Final leaderboard, written once when the session ends.
	Snapshot *LeaderboardSnapshot
}

// CanJoin reports whether a participant may enter right now, capacity aside.
func (s *Session) CanJoin() bool {
	return s.Status == StatusWaiting ||
		(s.Status == StatusInProgress && s.Settings.AllowJoinInProgress)
}

// AtCapacity reports whether the participant limit has been reached.
func (s *Session) AtCapacity() bool {
	return s.Settings.MaxParticipants > 0 && s.TotalParticipants >= s.Settings.MaxParticipants
}

// Participant is a joined player, unique by nickname within an active session.
// Participants are soft-removed (Active=false) so answer history survives.
type Participant struct {
	ID         string
	SessionID  string
	Nickname   string
	AvatarID   string
	TotalScore int
	Streak     int // consecutive correct answers
	JoinedAt   time.Time
	Active     bool
	Connected  bool
}

// Answer is the immutable ledger record of one submission. At most one exists
// per (participant, question).
type Answer struct {
	ID                string    `json:"id"`
	SessionID         string    `json:"sessionId"`
	ParticipantID     string    `json:"participantId"`
	QuestionID        string    `json:"questionId"`
	SelectedOptionIDs []string  `json:"selectedOptionIds,omitempty"` // nil for free-text questions
	AnswerText        string    `json:"answerText,omitempty"`
	TimeTakenMs       int64     `json:"timeTakenMs"`
	Correct           bool      `json:"correct"`
	PointsEarned      int       `json:"pointsEarned"`
	AnsweredAt        time.Time `json:"answeredAt"`
}

// AnswerSubmission is the inbound scoring signal from clients.
type AnswerSubmission struct {
	ParticipantID     string   `json:"participantId"`
	QuestionID        string   `json:"questionId"`
	SelectedOptionIDs []string `json:"selectedOptionIds,omitempty"`
	AnswerText        string   `json:"answerText,omitempty"`
	TimeTakenMs       int64    `json:"timeTakenMs"`
}

// AnswerFeedback summarizes the outcome of a submission for the submitter.
type AnswerFeedback struct {
	QuestionID        string   `json:"questionId"`
	SelectedOptionIDs []string `json:"selectedOptionIds,omitempty"`
	CorrectOptionIDs  []string `json:"correctOptionIds,omitempty"`
	Correct           bool     `json:"correct"`
	PointsEarned      int      `json:"pointsEarned"`
	TotalScore        int      `json:"totalScore"`
	Streak            int      `json:"streak"`
	Rank              int      `json:"rank"`
}

// BulkAnswerOutcome reports one item of a bulk submission independently.
type BulkAnswerOutcome struct {
	QuestionID string          `json:"questionId"`
	Feedback   *AnswerFeedback `json:"feedback,omitempty"`
	ErrorKind  ErrorKind       `json:"errorKind,omitempty"`
	Error      string          `json:"error,omitempty"`
}

// LeaderboardEntry is one ranked row. Rank is 1-based; PreviousRank is the
// rank at the last broadcast (0 when never ranked before).
type LeaderboardEntry struct {
	ParticipantID string `json:"participantId"`
	Nickname      string `json:"nickname"`
	Rank          int    `json:"rank"`
	Score         int    `json:"score"`
	Streak        int    `json:"streak"`
	PreviousRank  int    `json:"previousRank,omitempty"`
}

// Leaderboard captures the ordered scoreboard for a session.
type Leaderboard struct {
	SessionCode       string             `json:"sessionCode"`
	Entries           []LeaderboardEntry `json:"entries"`
	TotalParticipants int                `json:"totalParticipants"`
	UpdatedAt         time.Time          `json:"updatedAt"`
}

// SnapshotEntry is one frozen leaderboard row.
type SnapshotEntry struct {
	ParticipantID string `json:"participantId"`
	Nickname      string `json:"nickname"`
	Score         int    `json:"score"`
	Rank          int    `json:"rank"`
}

// LeaderboardSnapshot is a structured, versioned freeze of the leaderboard.
type LeaderboardSnapshot struct {
	Version int             `json:"version"`
	TakenAt time.Time       `json:"takenAt"`
	Entries []SnapshotEntry `json:"entries"`
}

// RankInfo describes one participant's standing relative to neighbours.
type RankInfo struct {
	ParticipantID     string `json:"participantId"`
	Nickname          string `json:"nickname"`
	Rank              int    `json:"rank"`
	Score             int    `json:"score"`
	BehindLeader      int    `json:"behindLeader"`
	AheadOfNext       int    `json:"aheadOfNext"`
	RankDelta         int    `json:"rankDelta"` // positive = moved up since last broadcast
	TotalParticipants int    `json:"totalParticipants"`
}

// QuestionStatistics is derived purely from the answer ledger.
type QuestionStatistics struct {
	QuestionID     string         `json:"questionId"`
	OptionCounts   map[string]int `json:"optionCounts"`
	TotalAnswers   int            `json:"totalAnswers"`
	CorrectAnswers int            `json:"correctAnswers"`
	AccuracyRate   float64        `json:"accuracyRate"`
	AverageTimeMs  float64        `json:"averageTimeMs"`
	FastestMs      int64          `json:"fastestMs"`
	SlowestMs      int64          `json:"slowestMs"`
}

// SessionStatistics aggregates live progress for the host dashboard.
type SessionStatistics struct {
	SessionCode        string  `json:"sessionCode"`
	CurrentQuestion    int     `json:"currentQuestion"`
	TotalQuestions     int     `json:"totalQuestions"`
	ActiveParticipants int     `json:"activeParticipants"`
	AnsweredCurrent    int     `json:"answeredCurrent"`
	TotalAnswers       int     `json:"totalAnswers"`
	CorrectAnswers     int     `json:"correctAnswers"`
	CompletionRate     float64 `json:"completionRate"`
	AverageScore       float64 `json:"averageScore"`
	TopNickname        string  `json:"topNickname,omitempty"`
	HighestScore       int     `json:"highestScore"`
}

// OptionView is an option with its correctness flag withheld.
type OptionView struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

// QuestionView is the public form of a question pushed to participants while
// the question is live.
type QuestionView struct {
	ID             string       `json:"id"`
	Text           string       `json:"text"`
	Type           QuestionType `json:"type"`
	Options        []OptionView `json:"options"`
	TimeLimit      int          `json:"timeLimit"`
	Points         int          `json:"points"`
	Number         int          `json:"number"`
	TotalQuestions int          `json:"totalQuestions"`
}

// PublicView strips correctness flags for broadcast.
func (q Question) PublicView(number, total, defaultLimit int) QuestionView {
	opts := make([]OptionView, 0, len(q.Options))
	for _, o := range q.Options {
		opts = append(opts, OptionView{ID: o.ID, Text: o.Text})
	}
	limit := q.TimeLimit
	if limit <= 0 {
		limit = defaultLimit
	}
	points := q.Points
	if points <= 0 {
		points = DefaultBasePoints
	}
	return QuestionView{
		ID:             q.ID,
		Text:           q.Text,
		Type:           q.Type,
		Options:        opts,
		TimeLimit:      limit,
		Points:         points,
		Number:         number,
		TotalQuestions: total,
	}
}

// CorrectOptionIDs returns the ids flagged correct, in authoring order.
func (q Question) CorrectOptionIDs() []string {
	var ids []string
	for _, o := range q.Options {
		if o.Correct {
			ids = append(ids, o.ID)
		}
	}
	return ids
}
