package session

import (
	"time"

	"quizroom-service/internal/domain"
)

// Problem is a single timed question unit within a session. Options and the
// correct answer are immutable after construction; startTime and submissions
// reset each time the problem becomes current. Methods are called with the
// owning session's lock held.
type Problem struct {
	id            string
	title         string
	options       []string
	explanation   string
	correctAnswer int
	timerDuration int // seconds, fixed at problem start

	startTime   time.Time
	submissions map[string]domain.Submission
}

func newProblem(id string, q domain.Question, timerDuration int) *Problem {
	return &Problem{
		id:            id,
		title:         q.Text,
		options:       q.Options,
		explanation:   q.Explanation,
		correctAnswer: q.CorrectAnswer,
		timerDuration: timerDuration,
		submissions:   make(map[string]domain.Submission),
	}
}

// start marks the problem current: records the start timestamp and clears
// any submissions from a previous run.
func (p *Problem) start(now time.Time) {
	p.startTime = now
	p.submissions = make(map[string]domain.Submission)
}

// addSubmission records the participant's answer. The first submission per
// participant wins; later ones fail with ErrAlreadySubmitted.
func (p *Problem) addSubmission(participantID string, optionSelected int, now time.Time) (domain.Submission, error) {
	if _, ok := p.submissions[participantID]; ok {
		return domain.Submission{}, domain.ErrAlreadySubmitted
	}
	sub := domain.Submission{
		ParticipantID:  participantID,
		OptionSelected: optionSelected,
		IsCorrect:      optionSelected == p.correctAnswer,
		SubmittedAt:    now,
	}
	p.submissions[participantID] = sub
	return sub, nil
}

func (p *Problem) submissionCount() int {
	return len(p.submissions)
}

// view renders the client-facing shape. The correct answer and explanation
// are included only for host-scoped payloads.
func (p *Problem) view(includeAnswer bool) ProblemView {
	v := ProblemView{
		ID:              p.id,
		Title:           p.title,
		Options:         p.options,
		TimerDuration:   p.timerDuration,
		SubmissionCount: len(p.submissions),
	}
	if !p.startTime.IsZero() {
		v.StartTime = p.startTime.Unix()
	}
	if includeAnswer {
		answer := p.correctAnswer
		v.CorrectAnswer = &answer
		v.Explanation = p.explanation
	}
	return v
}
