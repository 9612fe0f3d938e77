package session

import (
	"log"
	"sort"
	"strconv"
	"sync"
	"time"

	"quizroom-service/internal/domain"
)

// State is the lifecycle phase of a session. Transitions follow
// waiting -> question -> leaderboard -> (question | ended) and nothing else.
type State string

const (
	StateWaiting     State = "waiting"
	StateQuestion    State = "question"
	StateLeaderboard State = "leaderboard"
	StateEnded       State = "ended"
)

// Timer is a cancellable handle for a pending auto-advance.
type Timer interface {
	Stop() bool
}

// TimerFunc schedules f after d. Injectable for deterministic tests.
type TimerFunc func(d time.Duration, f func()) Timer

func afterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

const (
	defaultLeaderboardSize  = 20
	defaultLeaderboardDelay = 5 * time.Second
	defaultTimerDuration    = 30 // seconds, used when the room timer is disabled
)

// Config tunes a session. Zero values fall back to the defaults above.
type Config struct {
	Scoring          ScoringRules
	LeaderboardSize  int
	LeaderboardDelay time.Duration
	Clock            func() time.Time
	NewTimer         TimerFunc
}

func (c Config) withDefaults() Config {
	if c.Scoring == (ScoringRules{}) {
		c.Scoring = DefaultScoringRules()
	}
	if c.LeaderboardSize <= 0 {
		c.LeaderboardSize = defaultLeaderboardSize
	}
	if c.LeaderboardDelay <= 0 {
		c.LeaderboardDelay = defaultLeaderboardDelay
	}
	if c.Clock == nil {
		c.Clock = time.Now
	}
	if c.NewTimer == nil {
		c.NewTimer = afterFunc
	}
	return c
}

type participant struct {
	id          string
	displayName string
	connID      string // opaque transport handle, refreshed on reconnect
	points      int
	isHost      bool
	joinedAt    time.Time
	joinOrder   int
	connected   bool
}

func (p *participant) view() domain.Participant {
	return domain.Participant{
		ID:          p.id,
		DisplayName: p.displayName,
		Points:      p.points,
		IsHost:      p.isHost,
		JoinedAt:    p.joinedAt.Unix(),
	}
}

// Session is the live state machine for one room's quiz. A single mutex
// serializes every mutation, so submissions, host actions and timer
// callbacks never observe a half-applied transition.
type Session struct {
	roomID       string
	timerEnabled bool
	cfg          Config

	mu           sync.Mutex
	state        State
	participants map[string]*participant
	joinSeq      int
	problems     []*Problem
	current      int
	createdAt    time.Time
	pendingTimer Timer
	timerGen     uint64
	subscribers  map[chan Event]struct{}
}

// New builds a session from persisted room data. Problems keep the store's
// order; the per-problem timer duration is fixed here, so config changes
// never affect an in-flight session.
func New(room domain.Room, cfg Config) *Session {
	cfg = cfg.withDefaults()

	duration := room.Settings.TimerDuration
	if !room.Settings.TimerEnabled || duration <= 0 {
		duration = defaultTimerDuration
	}

	s := &Session{
		roomID:       room.ID,
		timerEnabled: room.Settings.TimerEnabled,
		cfg:          cfg,
		state:        StateWaiting,
		participants: make(map[string]*participant),
		createdAt:    cfg.Clock(),
		subscribers:  make(map[chan Event]struct{}),
	}
	for i, q := range room.Questions {
		s.problems = append(s.problems, newProblem(problemID(i), q, duration))
	}
	return s
}

func problemID(i int) string {
	// matches the 0-based order the store returned
	return "p" + strconv.Itoa(i)
}

func (s *Session) RoomID() string { return s.roomID }

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) CreatedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.createdAt
}

// Empty reports whether no participant holds a live connection. Disconnected
// participants are retained as score-bearing ghosts until the session dies.
func (s *Session) Empty() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.participants {
		if p.connected {
			return false
		}
	}
	return true
}

// Join registers a participant, or re-associates a returning identity with a
// new connection handle. Rejoining keeps accumulated points and never
// duplicates the participant.
func (s *Session) Join(participantID, displayName, connID string, isHost bool) domain.Participant {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.participants[participantID]
	if ok {
		if displayName != "" {
			p.displayName = displayName
		}
		p.connID = connID
		p.isHost = isHost
		p.connected = true
		log.Printf("session %s: participant %s reconnected", s.roomID, participantID)
	} else {
		p = &participant{
			id:          participantID,
			displayName: displayName,
			connID:      connID,
			isHost:      isHost,
			joinedAt:    s.cfg.Clock(),
			joinOrder:   s.joinSeq,
			connected:   true,
		}
		s.joinSeq++
		s.participants[participantID] = p
		log.Printf("session %s: participant %s joined as %s", s.roomID, participantID, roleName(isHost))
	}

	s.emitLocked(Event{
		Type:      EventJoined,
		Audience:  AudienceRoom,
		ExcludeID: participantID,
		Payload:   JoinedPayload{Participant: p.view(), Roster: s.rosterCountsLocked()},
	})
	return p.view()
}

func roleName(isHost bool) string {
	if isHost {
		return "host"
	}
	return "participant"
}

// Leave detaches the connection from the participant. Points are retained so
// a reconnect resumes where the participant left off. The connID guard keeps
// a stale close from clobbering a fresh reconnect.
func (s *Session) Leave(participantID, connID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.participants[participantID]
	if !ok || p.connID != connID {
		return
	}
	p.connected = false
	p.connID = ""
	log.Printf("session %s: participant %s left", s.roomID, participantID)

	s.emitLocked(Event{
		Type:     EventLeft,
		Audience: AudienceRoom,
		Payload:  LeftPayload{ParticipantID: participantID, Roster: s.rosterCountsLocked()},
	})
}

// Start begins the quiz: first problem, role-scoped broadcasts, timer armed.
// Only a host may start, and only from the waiting state.
func (s *Session) Start(participantID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.participants[participantID]
	if !ok || !p.isHost {
		return domain.ErrNotHost
	}
	if s.state != StateWaiting {
		return domain.ErrNotAcceptingAnswers
	}
	if len(s.problems) == 0 {
		return domain.ErrNoQuestions
	}

	log.Printf("session %s: quiz started with %d problems", s.roomID, len(s.problems))
	s.current = 0
	s.startProblemLocked()
	return nil
}

// Advance moves question -> leaderboard on an explicit host request. Valid
// only when the room timer is disabled; timed rooms advance on expiry.
func (s *Session) Advance(participantID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.participants[participantID]
	if !ok || !p.isHost {
		return domain.ErrNotHost
	}
	if s.timerEnabled || s.state != StateQuestion {
		return domain.ErrNotAcceptingAnswers
	}
	s.showLeaderboardLocked()
	return nil
}

// Submit records an answer against the current problem. Accepted only in the
// question state; the first submission per participant wins, scored by speed.
func (s *Session) Submit(participantID string, optionSelected int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateQuestion {
		return domain.ErrNotAcceptingAnswers
	}
	p, ok := s.participants[participantID]
	if !ok {
		return domain.ErrNotAcceptingAnswers
	}

	prob := s.problems[s.current]
	sub, err := prob.addSubmission(participantID, optionSelected, s.cfg.Clock())
	if err != nil {
		return err
	}

	pointsEarned := 0
	if sub.IsCorrect {
		pointsEarned = s.cfg.Scoring.Points(sub.SubmittedAt.Sub(prob.startTime), prob.timerDuration)
		p.points += pointsEarned
	}

	s.emitLocked(Event{
		Type:      EventAnswerReceived,
		Audience:  AudienceRoom,
		ExcludeID: participantID,
		Payload:   AnswerReceivedPayload{ParticipantID: participantID, SubmissionCount: prob.submissionCount()},
	})
	s.emitLocked(Event{
		Type:     EventAnswerResult,
		Audience: AudienceParticipant,
		TargetID: participantID,
		Payload:  AnswerResultPayload{IsCorrect: sub.IsCorrect, PointsEarned: pointsEarned},
	})
	if sub.IsCorrect {
		s.emitLocked(Event{
			Type:     EventScoreUpdate,
			Audience: AudienceRoom,
			Payload:  ScoreUpdatePayload{ParticipantID: participantID, Points: p.points, PointsEarned: pointsEarned},
		})
	}
	return nil
}

func (s *Session) startProblemLocked() {
	prob := s.problems[s.current]
	prob.start(s.cfg.Clock())
	s.state = StateQuestion

	s.emitLocked(Event{
		Type:     EventProblem,
		Audience: AudienceRoom,
		Payload:  ProblemPayload{Problem: prob.view(false), Index: s.current, Total: len(s.problems)},
	})
	s.emitLocked(Event{
		Type:     EventHostAnswerKey,
		Audience: AudienceHosts,
		Payload:  ProblemPayload{Problem: prob.view(true), Index: s.current, Total: len(s.problems)},
	})

	if s.timerEnabled {
		s.emitLocked(Event{
			Type:     EventTimerStarted,
			Audience: AudienceRoom,
			Payload:  TimerStartedPayload{Duration: prob.timerDuration, Index: s.current},
		})
		s.armTimerLocked(time.Duration(prob.timerDuration)*time.Second, StateQuestion, s.showLeaderboardLocked)
	} else {
		s.emitLocked(Event{
			Type:     EventShowAdvanceControl,
			Audience: AudienceHosts,
			Payload:  AdvanceControlPayload{Index: s.current},
		})
	}
}

func (s *Session) showLeaderboardLocked() {
	s.state = StateLeaderboard
	s.cancelTimerLocked()

	s.emitLocked(Event{
		Type:     EventLeaderboard,
		Audience: AudienceRoom,
		Payload:  LeaderboardPayload{Leaderboard: s.leaderboardLocked(), Index: s.current, Total: len(s.problems)},
	})

	s.armTimerLocked(s.cfg.LeaderboardDelay, StateLeaderboard, s.nextProblemLocked)
}

func (s *Session) nextProblemLocked() {
	s.current++
	if s.current < len(s.problems) {
		s.startProblemLocked()
	} else {
		s.endLocked()
	}
}

func (s *Session) endLocked() {
	s.state = StateEnded
	s.cancelTimerLocked()
	log.Printf("session %s: quiz ended", s.roomID)

	s.emitLocked(Event{
		Type:     EventQuizEnded,
		Audience: AudienceRoom,
		Payload:  QuizEndedPayload{FinalLeaderboard: s.leaderboardLocked(), Total: len(s.problems)},
	})
}

// armTimerLocked replaces any pending timer. The generation counter makes a
// raced callback from a cancelled timer a no-op, so a manual advance racing
// an expiry can never double-fire a transition.
func (s *Session) armTimerLocked(d time.Duration, from State, fn func()) {
	s.cancelTimerLocked()
	s.timerGen++
	gen := s.timerGen
	s.pendingTimer = s.cfg.NewTimer(d, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.timerGen != gen || s.state != from {
			return
		}
		fn()
	})
}

func (s *Session) cancelTimerLocked() {
	if s.pendingTimer != nil {
		s.pendingTimer.Stop()
		s.pendingTimer = nil
	}
	s.timerGen++
}

// Close cancels any pending timer and closes all subscriber channels. Called
// by the registry when the session is evicted.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancelTimerLocked()
	for ch := range s.subscribers {
		delete(s.subscribers, ch)
		close(ch)
	}
}

// Subscribe returns a channel of outbound events. The caller must invoke the
// returned cancel function to avoid leaks.
func (s *Session) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, 32)

	s.mu.Lock()
	s.subscribers[ch] = struct{}{}
	s.mu.Unlock()

	cancel := func() {
		s.mu.Lock()
		if _, ok := s.subscribers[ch]; ok {
			delete(s.subscribers, ch)
			close(ch)
		}
		s.mu.Unlock()
	}
	return ch, cancel
}

func (s *Session) emitLocked(e Event) {
	for ch := range s.subscribers {
		select {
		case ch <- e:
		default:
			// drop the oldest event so a slow consumer cannot block the room
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- e:
			default:
			}
		}
	}
}

// leaderboardLocked ranks non-host participants by points, ties broken by
// join order, capped at the configured size.
func (s *Session) leaderboardLocked() []domain.LeaderboardEntry {
	ranked := make([]*participant, 0, len(s.participants))
	for _, p := range s.participants {
		if !p.isHost {
			ranked = append(ranked, p)
		}
	}
	sort.Slice(ranked, func(i, j int) bool { return ranked[i].joinOrder < ranked[j].joinOrder })
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].points > ranked[j].points })

	if len(ranked) > s.cfg.LeaderboardSize {
		ranked = ranked[:s.cfg.LeaderboardSize]
	}
	entries := make([]domain.LeaderboardEntry, 0, len(ranked))
	for i, p := range ranked {
		entries = append(entries, domain.LeaderboardEntry{
			ParticipantID: p.id,
			DisplayName:   p.displayName,
			Points:        p.points,
			Rank:          i + 1,
		})
	}
	return entries
}

func (s *Session) rosterCountsLocked() RosterCounts {
	var counts RosterCounts
	for _, p := range s.participants {
		if p.isHost {
			counts.Hosts++
		} else {
			counts.Participants++
		}
	}
	return counts
}

func (s *Session) rosterLocked(hosts bool) []domain.Participant {
	members := make([]*participant, 0, len(s.participants))
	for _, p := range s.participants {
		if p.isHost == hosts {
			members = append(members, p)
		}
	}
	sort.Slice(members, func(i, j int) bool { return members[i].joinOrder < members[j].joinOrder })

	views := make([]domain.Participant, 0, len(members))
	for _, p := range members {
		views = append(views, p.view())
	}
	return views
}

// Roster returns the session's hosts and participants in join order.
func (s *Session) Roster() (hosts, participants []domain.Participant) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rosterLocked(true), s.rosterLocked(false)
}

// Snapshot renders the state-dependent view for one connection. The answer
// key is included only when the caller is a host.
func (s *Session) Snapshot(includeAnswer bool) StateSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := StateSnapshot{
		State:         s.state,
		UsersCount:    len(s.participants),
		ProblemsCount: len(s.problems),
		Total:         len(s.problems),
		Hosts:         s.rosterLocked(true),
		Participants:  s.rosterLocked(false),
	}
	switch s.state {
	case StateQuestion:
		v := s.problems[s.current].view(includeAnswer)
		snap.Problem = &v
		snap.Index = s.current
	case StateLeaderboard:
		snap.Leaderboard = s.leaderboardLocked()
		snap.Index = s.current
	case StateEnded:
		snap.Leaderboard = s.leaderboardLocked()
	}
	return snap
}
