package types

import (
	"time"

	"github.com/google/uuid"
)

// Wire message type constants. Every frame on the classroom channel
// carries one of these in its type field.
const (
	MessageTypeHeartbeat          = "heartbeat"
	MessageTypePong               = "pong"
	MessageTypeJoinLesson         = "join_lesson"
	MessageTypeLeaveLesson        = "leave_lesson"
	MessageTypeSectionChange      = "section_change"
	MessageTypeLessonStateChange  = "lesson_state_change"
	MessageTypeStudentInteraction = "student_interaction"
	MessageTypeAnnotationAdded    = "annotation_added"
)

// Lesson lifecycle event names carried in lesson_state_change data.
const (
	LessonEventStarted = "started"
	LessonEventPaused  = "paused"
	LessonEventResumed = "resumed"
	LessonEventEnded   = "ended"
)

// Local event names emitted through the dispatcher alongside wire
// message types. These never appear on the wire.
const (
	EventConnected       = "connected"
	EventDisconnected    = "disconnected"
	EventReconnectFailed = "reconnect_failed"
	EventError           = "error"
	EventStateMismatch   = "state_mismatch"
	EventLessonSnapshot  = "lesson_snapshot"
	EventTaskDeadLetter  = "task_dead_letter"
)

// Channel types. A session binds to exactly one channel of one type.
const (
	ChannelTypeLesson    = "lesson"
	ChannelTypeClassroom = "classroom"
	ChannelTypeChat      = "chat"
	ChannelTypeSystem    = "system"
)

// Participant roles within a channel.
const (
	RoleTeacher  = "teacher"
	RoleStudent  = "student"
	RoleObserver = "observer"
)

// ConnectionStatus is the single source of truth for connection state.
// It is owned by the reconnection controller; everything else only
// reads it.
type ConnectionStatus int

const (
	StatusDisconnected ConnectionStatus = iota
	StatusConnecting
	StatusConnected
	StatusReconnecting
	StatusError
)

// String returns the string representation of a ConnectionStatus.
func (s ConnectionStatus) String() string {
	switch s {
	case StatusDisconnected:
		return "disconnected"
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	case StatusReconnecting:
		return "reconnecting"
	case StatusError:
		return "error"
	default:
		return "unknown"
	}
}

// WireMessage is the frame format shared by every message on the
// channel. ID is set only on messages that must be deduplicated by the
// receiver (commands with side effects); pure telemetry such as
// heartbeats omits it.
type WireMessage struct {
	Type      string                 `json:"type"`
	Data      map[string]interface{} `json:"data,omitempty"`
	Timestamp int64                  `json:"timestamp"`
	ID        string                 `json:"id,omitempty"`
}

// NewWireMessage builds a telemetry frame with the current timestamp
// and no dedup ID.
func NewWireMessage(msgType string, data map[string]interface{}) WireMessage {
	return WireMessage{
		Type:      msgType,
		Data:      data,
		Timestamp: time.Now().UnixMilli(),
	}
}

// NewCommandMessage builds a frame carrying a side effect. The UUID
// lets the receiver drop replayed duplicates.
func NewCommandMessage(msgType string, data map[string]interface{}) WireMessage {
	msg := NewWireMessage(msgType, data)
	msg.ID = uuid.New().String()
	return msg
}

// ChannelConfig identifies one logical room binding. Immutable once a
// channel session is created; a role change requires leaving and
// rejoining with a fresh config.
type ChannelConfig struct {
	ChannelID string `json:"channel_id"`
	Type      string `json:"type"`
	UserID    string `json:"user_id"`
	Role      string `json:"role"`
	LessonID  string `json:"lesson_id,omitempty"`
	ClassID   string `json:"class_id,omitempty"`
}

// LessonStatus enumerates the lesson lifecycle states.
type LessonStatus string

const (
	LessonDraft      LessonStatus = "draft"
	LessonScheduled  LessonStatus = "scheduled"
	LessonInProgress LessonStatus = "in_progress"
	LessonPaused     LessonStatus = "paused"
	LessonCompleted  LessonStatus = "completed"
	LessonCancelled  LessonStatus = "cancelled"
)

// Terminal reports whether no further transitions are possible.
func (s LessonStatus) Terminal() bool {
	return s == LessonCompleted || s == LessonCancelled
}

// LessonState is the client-side projection of lesson progress. The
// teacher's session issues transitions; all other participants hold
// read-only projections updated by inbound events.
type LessonState struct {
	Status              LessonStatus `json:"status"`
	CurrentSectionID    string       `json:"current_section_id"`
	CurrentSectionOrder int          `json:"current_section_order"`
	ParticipantCount    int          `json:"participant_count"`
	StartedAt           *time.Time   `json:"started_at,omitempty"`
	EndedAt             *time.Time   `json:"ended_at,omitempty"`
}

// LessonRecord is the authoritative lesson document served by the
// persistence API on (re)join.
type LessonRecord struct {
	ID                  string       `json:"id"`
	Title               string       `json:"title"`
	Status              LessonStatus `json:"status"`
	CurrentSectionID    string       `json:"current_section_id"`
	CurrentSectionOrder int          `json:"current_section_order"`
}

// Sync task priorities, drained high before medium before low.
const (
	PriorityHigh   = "high"
	PriorityMedium = "medium"
	PriorityLow    = "low"
)

// PriorityRank maps a priority to its drain order; lower drains first.
// Unknown priorities sort last.
func PriorityRank(priority string) int {
	switch priority {
	case PriorityHigh:
		return 0
	case PriorityMedium:
		return 1
	case PriorityLow:
		return 2
	default:
		return 3
	}
}

// Sync task entity types and actions.
const (
	TaskTypeCourse   = "course"
	TaskTypeChapter  = "chapter"
	TaskTypeActivity = "activity"
	TaskTypeProgress = "progress"

	TaskActionFetch  = "fetch"
	TaskActionUpdate = "update"
)

// SyncTask is one pending mutation accumulated while offline. Tasks
// live until acknowledged, superseded by a newer update for the same
// entity, or dead-lettered after the retry ceiling.
type SyncTask struct {
	ID        string                 `json:"id"`
	Type      string                 `json:"type"`
	EntityID  string                 `json:"entity_id"`
	Action    string                 `json:"action"`
	Data      map[string]interface{} `json:"data,omitempty"`
	Priority  string                 `json:"priority"`
	Attempts  int                    `json:"attempts"`
	CreatedAt time.Time              `json:"created_at"`
}

// NewSyncTask builds a task with a fresh ID and creation time.
func NewSyncTask(taskType, entityID, action string, data map[string]interface{}, priority string) *SyncTask {
	return &SyncTask{
		ID:        uuid.New().String(),
		Type:      taskType,
		EntityID:  entityID,
		Action:    action,
		Data:      data,
		Priority:  priority,
		CreatedAt: time.Now(),
	}
}

// Participant presence states.
const (
	ParticipantOnline  = "online"
	ParticipantOffline = "offline"
	ParticipantAway    = "away"
	ParticipantActive  = "active"
)

// SessionParticipant is one roster entry, owned by the teacher-side
// lesson state machine. Created on join, updated on activity and
// progress events, removed on leave.
type SessionParticipant struct {
	ID           string    `json:"id"`
	Status       string    `json:"status"`
	JoinedAt     time.Time `json:"joined_at"`
	LastActivity time.Time `json:"last_activity"`
	Progress     float64   `json:"progress"`
}
