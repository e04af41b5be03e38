// Package interfaces defines the narrow contracts between the sync
// core and its collaborators. Components depend on these rather than
// on concrete implementations so every seam can be replaced in tests.
package interfaces

import (
	"context"

	"lessonsync/pkg/types"
)

// Transport owns one physical socket. Connect suspends the caller
// until the socket is open or the handshake window elapses; Send is
// fire-and-forget and is a caller error when the socket is not open.
// Disconnect closes with a normal-closure code, which suppresses
// reconnection upstream.
type Transport interface {
	Connect(ctx context.Context, url string) error
	Send(msg types.WireMessage) error
	Disconnect() error
}

// TransportListener receives transport lifecycle events. A transport
// has exactly one listener, registered at construction time.
type TransportListener interface {
	OnMessage(msg types.WireMessage)
	OnClose(code int, reason string)
	OnError(err error)
}

// TransportFactory builds a fresh transport bound to a listener. The
// reconnection controller dials a new transport per attempt; sockets
// are single-use.
type TransportFactory func(listener TransportListener) Transport

// TaskStore persists offline sync tasks. Every method is atomic per
// task so a crash mid-drain never loses or duplicates work.
type TaskStore interface {
	SaveTask(ctx context.Context, task *types.SyncTask) error
	DeleteTask(ctx context.Context, taskID string) error
	ListTasks(ctx context.Context) ([]*types.SyncTask, error)
	SaveDeadLetter(ctx context.Context, task *types.SyncTask) error
}

// SnapshotStore persists small JSON documents (roster, lesson record,
// entity caches) across restarts, keyed by a caller-chosen string.
type SnapshotStore interface {
	SaveSnapshot(ctx context.Context, key string, data []byte) error
	LoadSnapshot(ctx context.Context, key string) ([]byte, error)
}

// Notifier surfaces the failures that must reach the user; everything
// else is absorbed internally.
type Notifier interface {
	ConnectionLost(reason string)
	ReconnectFailed()
	QueueExhausted(entityID string)
}

// LessonAPI is the persistence collaborator supplying the
// authoritative lesson record on (re)join and applying teacher
// lifecycle commands.
type LessonAPI interface {
	GetLesson(ctx context.Context, lessonID string) (*types.LessonRecord, error)
	StartLesson(ctx context.Context, lessonID string) error
	PauseLesson(ctx context.Context, lessonID string) error
	ResumeLesson(ctx context.Context, lessonID string) error
	EndLesson(ctx context.Context, lessonID string) error
}
