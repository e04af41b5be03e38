package types

import "regexp"

var idRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// Validate ensures the channel binding is usable before a session is
// built around it. All fields except LessonID/ClassID are required.
func (c *ChannelConfig) Validate() error {
	if !IsValidChannelID(c.ChannelID) {
		return ErrInvalidChannelID
	}
	if !IsValidChannelType(c.Type) {
		return ErrInvalidChannelType
	}
	if !IsValidUserID(c.UserID) {
		return ErrInvalidUserID
	}
	if !IsValidRole(c.Role) {
		return ErrInvalidRole
	}
	return nil
}

// Validate ensures a sync task is well-formed before queueing.
func (t *SyncTask) Validate() error {
	switch t.Type {
	case TaskTypeCourse, TaskTypeChapter, TaskTypeActivity, TaskTypeProgress:
	default:
		return ErrInvalidTaskType
	}
	switch t.Action {
	case TaskActionFetch, TaskActionUpdate:
	default:
		return ErrInvalidTaskAction
	}
	if t.EntityID == "" {
		return ErrEmptyEntityID
	}
	if PriorityRank(t.Priority) > 2 {
		return ErrInvalidPriority
	}
	return nil
}

// IsValidChannelID checks channel ID format requirements.
func IsValidChannelID(channelID string) bool {
	if len(channelID) < 1 || len(channelID) > 100 {
		return false
	}
	return idRegex.MatchString(channelID)
}

// IsValidChannelType checks the channel type against the known set.
func IsValidChannelType(channelType string) bool {
	switch channelType {
	case ChannelTypeLesson, ChannelTypeClassroom, ChannelTypeChat, ChannelTypeSystem:
		return true
	default:
		return false
	}
}

// IsValidUserID checks if a user ID meets format requirements.
func IsValidUserID(userID string) bool {
	if len(userID) < 1 || len(userID) > 50 {
		return false
	}
	return idRegex.MatchString(userID)
}

// IsValidRole checks the role against the known set.
func IsValidRole(role string) bool {
	switch role {
	case RoleTeacher, RoleStudent, RoleObserver:
		return true
	default:
		return false
	}
}

// IsValidMessageType checks whether the wire type is one the protocol
// defines. Unknown inbound types are still tolerated by the dispatcher;
// this guard applies to locally built frames only.
func IsValidMessageType(msgType string) bool {
	switch msgType {
	case MessageTypeHeartbeat,
		MessageTypePong,
		MessageTypeJoinLesson,
		MessageTypeLeaveLesson,
		MessageTypeSectionChange,
		MessageTypeLessonStateChange,
		MessageTypeStudentInteraction,
		MessageTypeAnnotationAdded:
		return true
	default:
		return false
	}
}
