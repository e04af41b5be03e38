package lessonapi

import "errors"

// ErrLifecycleConflict means the service rejected a lifecycle command
// because the lesson is not in a state that allows it.
var ErrLifecycleConflict = errors.New("lesson lifecycle conflict")
