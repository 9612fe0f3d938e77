package session

import "time"

// ScoringRules holds the speed-scoring constants. A correct answer earns
// MaxPoints minus a penalty that grows linearly with time taken, floored at
// MinPoints; incorrect answers earn nothing.
type ScoringRules struct {
	MaxPoints   int
	DecayPoints int // penalty at exactly one full timer duration
	MinPoints   int
}

// DefaultScoringRules mirrors the classic 1000/500/100 split.
func DefaultScoringRules() ScoringRules {
	return ScoringRules{MaxPoints: 1000, DecayPoints: 500, MinPoints: 100}
}

// Points computes the award for a correct submission.
func (r ScoringRules) Points(timeTaken time.Duration, timerDuration int) int {
	if timerDuration <= 0 {
		return r.MinPoints
	}
	penalty := int(float64(r.DecayPoints) * timeTaken.Seconds() / float64(timerDuration))
	points := r.MaxPoints - penalty
	if points < r.MinPoints {
		return r.MinPoints
	}
	return points
}
