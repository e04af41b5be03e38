package lesson

import "errors"

// Command validation errors. Only the teacher's session issues lesson
// transitions; everyone else holds a read-only projection.
var (
	ErrNotTeacher        = errors.New("only the teacher role issues lesson commands")
	ErrNotStudent        = errors.New("only the student role reports interactions")
	ErrInvalidTransition = errors.New("invalid lesson state transition")
	ErrNonMonotonicOrder = errors.New("section order must not decrease without an explicit replay")
	ErrLessonTerminal    = errors.New("lesson is in a terminal state")
)
