// Package channel binds a reconnection controller to one logical room.
// A session is constructed per lesson-view lifetime and owned by its
// creator; there is no shared singleton. Its ChannelConfig is immutable
// for the session's life: changing role means leaving and building a
// fresh session.
package channel

import (
	"context"
	"fmt"
	"log"
	"net/url"
	"strings"
	"sync"

	"lessonsync/internal/dispatch"
	"lessonsync/internal/reconnect"
	"lessonsync/pkg/interfaces"
	"lessonsync/pkg/types"
)

// Session issues join/leave for one room and re-joins automatically
// after every reconnect so server-side membership matches client
// intent even across server restarts.
type Session struct {
	config     types.ChannelConfig
	baseURL    string
	controller *reconnect.Controller
	dispatcher *dispatch.Dispatcher
	lessonAPI  interfaces.LessonAPI

	mu     sync.Mutex
	left   bool
	joined bool
}

// NewSession validates the channel binding and wires the rejoin hook
// into the controller. lessonAPI may be nil when no persistence
// collaborator is available; the session then skips the authoritative
// record refresh on (re)join.
func NewSession(baseURL string, config types.ChannelConfig, controller *reconnect.Controller, dispatcher *dispatch.Dispatcher, lessonAPI interfaces.LessonAPI) (*Session, error) {
	if baseURL == "" {
		return nil, ErrEmptyBaseURL
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	s := &Session{
		config:     config,
		baseURL:    strings.TrimRight(baseURL, "/"),
		controller: controller,
		dispatcher: dispatcher,
		lessonAPI:  lessonAPI,
	}
	controller.SetRejoinHook(s.rejoin)
	return s, nil
}

// Config returns a copy of the immutable channel binding.
func (s *Session) Config() types.ChannelConfig {
	return s.config
}

// Connect dials the channel. The join itself is issued by the rejoin
// hook once the socket opens, so first connect and reconnect share one
// membership path.
func (s *Session) Connect(ctx context.Context) error {
	s.mu.Lock()
	if s.left {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	s.mu.Unlock()

	return s.controller.Connect(ctx, s.ConnectionURL())
}

// Leave sends a leave notification when connected, then tears the
// session down for good. Safe under rapid repeated invocation; a leave
// while connecting aborts the in-flight connect.
func (s *Session) Leave() error {
	s.mu.Lock()
	if s.left {
		s.mu.Unlock()
		return nil
	}
	s.left = true
	joined := s.joined
	s.mu.Unlock()

	if joined && s.controller.Status() == types.StatusConnected {
		msg := types.NewCommandMessage(types.MessageTypeLeaveLesson, map[string]interface{}{
			"lessonId": s.config.LessonID,
			"userId":   s.config.UserID,
		})
		if err := s.controller.Send(msg); err != nil {
			log.Printf("channel: leave notification not sent: %v", err)
		}
	}

	return s.controller.Disconnect()
}

// Send forwards an application message through the controller, which
// buffers it when the channel is down.
func (s *Session) Send(msg types.WireMessage) error {
	s.mu.Lock()
	if s.left {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	s.mu.Unlock()
	return s.controller.Send(msg)
}

// Status exposes the controller's connection status to collaborators.
func (s *Session) Status() types.ConnectionStatus {
	return s.controller.Status()
}

// ConnectionURL builds the ws endpoint embedding the channel binding:
// {ws|wss}://host/ws?channel=&type=&lessonId=&classId=&userId=&role=
func (s *Session) ConnectionURL() string {
	base := s.baseURL
	base = strings.Replace(base, "https://", "wss://", 1)
	base = strings.Replace(base, "http://", "ws://", 1)

	values := url.Values{}
	values.Set("channel", s.config.ChannelID)
	values.Set("type", s.config.Type)
	values.Set("lessonId", s.config.LessonID)
	values.Set("classId", s.config.ClassID)
	values.Set("userId", s.config.UserID)
	values.Set("role", s.config.Role)

	return fmt.Sprintf("%s/ws?%s", base, values.Encode())
}

// rejoin runs on every successful (re)connect: re-issue the join so
// server-side room membership matches client intent, then refresh the
// authoritative lesson record for the state machine to resync against.
func (s *Session) rejoin() {
	s.mu.Lock()
	if s.left {
		s.mu.Unlock()
		return
	}
	s.joined = true
	s.mu.Unlock()

	join := types.NewCommandMessage(types.MessageTypeJoinLesson, map[string]interface{}{
		"lessonId":    s.config.LessonID,
		"userId":      s.config.UserID,
		"role":        s.config.Role,
		"classroomId": s.config.ClassID,
	})
	if err := s.controller.Send(join); err != nil {
		log.Printf("channel: join not sent: %v", err)
		return
	}
	log.Printf("channel: joined channel=%s role=%s user=%s", s.config.ChannelID, s.config.Role, s.config.UserID)

	if s.lessonAPI == nil || s.config.LessonID == "" {
		return
	}

	record, err := s.lessonAPI.GetLesson(context.Background(), s.config.LessonID)
	if err != nil {
		log.Printf("channel: lesson record refresh failed: %v", err)
		return
	}

	s.dispatcher.Emit(types.EventLessonSnapshot, dispatch.Event{
		Type: types.EventLessonSnapshot,
		Message: &types.WireMessage{
			Type: types.EventLessonSnapshot,
			Data: map[string]interface{}{
				"lessonId":            record.ID,
				"status":              string(record.Status),
				"currentSectionId":    record.CurrentSectionID,
				"currentSectionOrder": float64(record.CurrentSectionOrder),
			},
		},
	})
}
