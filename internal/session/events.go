package session

import "quizroom-service/internal/domain"

// Audience scopes an outbound event. Payloads carrying a correct-answer
// index are never scoped wider than AudienceHosts.
type Audience int

const (
	// AudienceRoom targets every connection in the room.
	AudienceRoom Audience = iota
	// AudienceHosts targets connections resolved as hosts only.
	AudienceHosts
	// AudienceParticipant targets the single participant in TargetID.
	AudienceParticipant
)

// Event type names, as they appear on the wire.
const (
	EventProblem            = "problem"
	EventHostAnswerKey      = "hostAnswerKey"
	EventTimerStarted       = "timerStarted"
	EventShowAdvanceControl = "showAdvanceControl"
	EventLeaderboard        = "leaderboard"
	EventQuizEnded          = "quizEnded"
	EventJoined             = "joined"
	EventLeft               = "left"
	EventAnswerReceived     = "answerReceived"
	EventAnswerResult       = "answerResult"
	EventScoreUpdate        = "scoreUpdate"
)

// Event is a pure outbound value produced by a session. The session never
// touches the transport; the gateway subscribes and fans events out to the
// room's connections according to Audience.
type Event struct {
	Type      string
	Audience  Audience
	TargetID  string // participant id, for AudienceParticipant
	ExcludeID string // participant to skip, for AudienceRoom
	Payload   any
}

// ProblemView is the client-facing shape of a problem. CorrectAnswer is set
// only on host-scoped payloads.
type ProblemView struct {
	ID              string   `json:"id"`
	Title           string   `json:"title"`
	Options         []string `json:"options"`
	TimerDuration   int      `json:"timerDuration"`
	StartTime       int64    `json:"startTime"`
	SubmissionCount int      `json:"submissionCount"`
	CorrectAnswer   *int     `json:"correctAnswer,omitempty"`
	Explanation     string   `json:"explanation,omitempty"`
}

type ProblemPayload struct {
	Problem ProblemView `json:"problem"`
	Index   int         `json:"index"`
	Total   int         `json:"total"`
}

type TimerStartedPayload struct {
	Duration int `json:"duration"` // seconds
	Index    int `json:"index"`
}

type AdvanceControlPayload struct {
	Index int `json:"index"`
}

type LeaderboardPayload struct {
	Leaderboard []domain.LeaderboardEntry `json:"leaderboard"`
	Index       int                       `json:"index"`
	Total       int                       `json:"total"`
}

type QuizEndedPayload struct {
	FinalLeaderboard []domain.LeaderboardEntry `json:"finalLeaderboard"`
	Total            int                       `json:"total"`
}

type RosterCounts struct {
	Hosts        int `json:"hosts"`
	Participants int `json:"participants"`
}

type JoinedPayload struct {
	Participant domain.Participant `json:"participant"`
	Roster      RosterCounts       `json:"roster"`
}

type LeftPayload struct {
	ParticipantID string       `json:"participantId"`
	Roster        RosterCounts `json:"roster"`
}

type AnswerReceivedPayload struct {
	ParticipantID   string `json:"participantId"`
	SubmissionCount int    `json:"submissionCount"`
}

type AnswerResultPayload struct {
	IsCorrect    bool `json:"isCorrect"`
	PointsEarned int  `json:"pointsEarned"`
}

type ScoreUpdatePayload struct {
	ParticipantID string `json:"participantId"`
	Points        int    `json:"points"`
	PointsEarned  int    `json:"pointsEarned"`
}

// StateSnapshot is the state-dependent view sent to a joining or querying
// connection. Fields are populated according to State.
type StateSnapshot struct {
	State         State                     `json:"state"`
	UsersCount    int                       `json:"usersCount"`
	ProblemsCount int                       `json:"problemsCount"`
	Problem       *ProblemView              `json:"problem,omitempty"`
	Index         int                       `json:"index"`
	Total         int                       `json:"total"`
	Leaderboard   []domain.LeaderboardEntry `json:"leaderboard,omitempty"`
	Hosts         []domain.Participant      `json:"hosts"`
	Participants  []domain.Participant      `json:"participants"`
}
