package types

import "errors"

// Validation errors shared across components.
var (
	ErrInvalidChannelID   = errors.New("channel ID must be 1-100 characters, alphanumeric + underscore/hyphen only")
	ErrInvalidChannelType = errors.New("invalid channel type: must be 'lesson', 'classroom', 'chat' or 'system'")
	ErrInvalidUserID      = errors.New("user ID must be 1-50 characters, alphanumeric + underscore/hyphen only")
	ErrInvalidRole        = errors.New("invalid role: must be 'teacher', 'student' or 'observer'")
	ErrInvalidMessageType = errors.New("invalid message type")
	ErrInvalidPriority    = errors.New("invalid priority: must be 'high', 'medium' or 'low'")
	ErrInvalidTaskType    = errors.New("invalid task type: must be 'course', 'chapter', 'activity' or 'progress'")
	ErrInvalidTaskAction  = errors.New("invalid task action: must be 'fetch' or 'update'")
	ErrEmptyEntityID      = errors.New("entity ID cannot be empty")
)
