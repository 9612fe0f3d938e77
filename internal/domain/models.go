package domain

import "time"

// Question is one ordered question of a room, as stored in the backing store.
type Question struct {
	Text          string   `json:"text"`
	Options       []string `json:"options"`
	CorrectAnswer int      `json:"correctAnswer"`
	Explanation   string   `json:"explanation,omitempty"`
}

// RoomSettings controls pacing for a room's live sessions.
type RoomSettings struct {
	TimerEnabled  bool `json:"timerEnabled"`
	TimerDuration int  `json:"timerDuration"` // seconds per question
}

// Room is the persisted configuration a live session is created from.
type Room struct {
	ID        string       `json:"id"`
	Title     string       `json:"title"`
	CreatorID string       `json:"creatorId"`
	Hosts     []string     `json:"hosts,omitempty"` // extra host participant ids besides the creator
	Questions []Question   `json:"questions"`
	Settings  RoomSettings `json:"settings"`
}

// IsHost reports whether the given participant may run the room's quiz.
func (r Room) IsHost(participantID string) bool {
	if participantID == r.CreatorID {
		return true
	}
	for _, h := range r.Hosts {
		if h == participantID {
			return true
		}
	}
	return false
}

// Submission is one participant's recorded answer to a problem.
// At most one exists per (problem, participant) pair; immutable once created.
type Submission struct {
	ParticipantID  string    `json:"participantId"`
	OptionSelected int       `json:"optionSelected"`
	IsCorrect      bool      `json:"isCorrect"`
	SubmittedAt    time.Time `json:"submittedAt"`
}

// Participant is a snapshot-friendly view of a user within a session.
type Participant struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
	Points      int    `json:"points"`
	IsHost      bool   `json:"isHost"`
	JoinedAt    int64  `json:"joinedAt"` // unix seconds
}

// LeaderboardEntry is one ranked row of a session leaderboard.
type LeaderboardEntry struct {
	ParticipantID string `json:"participantId"`
	DisplayName   string `json:"displayName"`
	Points        int    `json:"points"`
	Rank          int    `json:"rank"`
}
