package domain

import "errors"

var (
	// ErrRoomNotFound is returned when the backing store has no such room.
	// Backing-store fetch failures surface the same way; the session is not
	// created, so retrying the join is safe.
	ErrRoomNotFound = errors.New("room not found")
	// ErrNotHost is returned when a privileged operation is attempted by a non-host.
	ErrNotHost = errors.New("participant is not a host")
	// ErrNoQuestions is returned when a quiz is started with an empty problem list.
	ErrNoQuestions = errors.New("no questions loaded for room")
	// ErrAlreadySubmitted is returned for a duplicate submission; the first one stands.
	ErrAlreadySubmitted = errors.New("answer already submitted for this problem")
	// ErrNotAcceptingAnswers is returned for submissions outside the question
	// state, or from a participant the session does not know.
	ErrNotAcceptingAnswers = errors.New("session is not accepting answers")
)
