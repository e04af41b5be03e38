// Package lesson holds the authoritative client-side projection of
// lesson and section state. Mutations arrive only through dispatcher
// callbacks or authorized local commands, so there is a single
// mutation point and no read/write races by construction.
package lesson

import (
	"log"
	"sync"
	"time"

	"lessonsync/internal/dispatch"
	"lessonsync/pkg/types"
)

// maxAppliedIDs bounds the dedup window for replayed wire messages.
const maxAppliedIDs = 512

// SendFunc is the outbound sink for locally issued commands. The
// wiring layer points it at the channel session while connected and at
// the offline sync queue otherwise.
type SendFunc func(msg types.WireMessage) error

// lessonEventTargets maps lesson_state_change event names to the
// status they drive the lesson into.
var lessonEventTargets = map[string]types.LessonStatus{
	types.LessonEventStarted: types.LessonInProgress,
	types.LessonEventPaused:  types.LessonPaused,
	types.LessonEventResumed: types.LessonInProgress,
	types.LessonEventEnded:   types.LessonCompleted,
}

// validNext is the lesson state diagram:
// draft → scheduled → in_progress ⇄ paused → completed, with
// cancelled reachable from any non-terminal state.
var validNext = map[types.LessonStatus][]types.LessonStatus{
	types.LessonDraft:      {types.LessonScheduled},
	types.LessonScheduled:  {types.LessonInProgress},
	types.LessonInProgress: {types.LessonPaused, types.LessonCompleted},
	types.LessonPaused:     {types.LessonInProgress, types.LessonCompleted},
}

func canTransition(from, to types.LessonStatus) bool {
	if from == to {
		return false
	}
	if to == types.LessonCancelled {
		return !from.Terminal()
	}
	for _, next := range validNext[from] {
		if next == to {
			return true
		}
	}
	return false
}

// pendingCommand is one optimistic teacher mutation awaiting its
// echoed confirmation from the server.
type pendingCommand struct {
	expected types.LessonStatus
	previous types.LessonState
	issuedAt time.Time
}

// Machine projects lesson state for one participant. For students and
// observers it is read-only, fed by inbound events; the teacher's
// machine additionally issues commands, applied optimistically and
// reconciled against the echoed event by command id.
type Machine struct {
	lessonID   string
	role       string
	dispatcher *dispatch.Dispatcher
	send       SendFunc

	mu           sync.Mutex
	state        types.LessonState
	applied      map[string]struct{}
	appliedOrder []string
	pending      map[string]*pendingCommand
	annotations  int
	roster       *Roster
}

// NewMachine builds the projection and subscribes it to every wire
// event it mirrors. The initial status is draft until the first
// snapshot or event says otherwise.
func NewMachine(lessonID, role string, dispatcher *dispatch.Dispatcher, send SendFunc) *Machine {
	m := &Machine{
		lessonID:   lessonID,
		role:       role,
		dispatcher: dispatcher,
		send:       send,
		state:      types.LessonState{Status: types.LessonDraft},
		applied:    make(map[string]struct{}),
		pending:    make(map[string]*pendingCommand),
		roster:     NewRoster(),
	}

	dispatcher.On(types.MessageTypeLessonStateChange, m.handleLessonStateChange)
	dispatcher.On(types.MessageTypeSectionChange, m.handleSectionChange)
	dispatcher.On(types.MessageTypeJoinLesson, m.handleJoin)
	dispatcher.On(types.MessageTypeLeaveLesson, m.handleLeave)
	dispatcher.On(types.MessageTypeStudentInteraction, m.handleInteraction)
	dispatcher.On(types.MessageTypeAnnotationAdded, m.handleAnnotation)
	dispatcher.On(types.EventLessonSnapshot, m.handleSnapshot)

	return m
}

// State returns a copy of the current projection.
func (m *Machine) State() types.LessonState {
	m.mu.Lock()
	defer m.mu.Unlock()
	state := m.state
	state.ParticipantCount = m.roster.Count()
	return state
}

// Roster exposes the participant aggregate (teacher side).
func (m *Machine) Roster() *Roster {
	return m.roster
}

// AnnotationCount reports how many annotations arrived this run.
func (m *Machine) AnnotationCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.annotations
}

// StartLesson optimistically moves the lesson to in_progress and
// mirrors the command through the server.
func (m *Machine) StartLesson() error {
	return m.command(types.LessonEventStarted, types.LessonInProgress)
}

// PauseLesson optimistically pauses the lesson.
func (m *Machine) PauseLesson() error {
	return m.command(types.LessonEventPaused, types.LessonPaused)
}

// ResumeLesson optimistically resumes a paused lesson.
func (m *Machine) ResumeLesson() error {
	return m.command(types.LessonEventResumed, types.LessonInProgress)
}

// EndLesson optimistically completes the lesson.
func (m *Machine) EndLesson() error {
	return m.command(types.LessonEventEnded, types.LessonCompleted)
}

func (m *Machine) command(event string, target types.LessonStatus) error {
	if m.role != types.RoleTeacher {
		return ErrNotTeacher
	}

	m.mu.Lock()
	if !canTransition(m.state.Status, target) {
		current := m.state.Status
		m.mu.Unlock()
		if current.Terminal() {
			return ErrLessonTerminal
		}
		return ErrInvalidTransition
	}

	msg := types.NewCommandMessage(types.MessageTypeLessonStateChange, map[string]interface{}{
		"lessonId": m.lessonID,
		"state":    event,
	})

	previous := m.state
	m.applyStatus(target, msg.Timestamp)
	m.pending[msg.ID] = &pendingCommand{
		expected: target,
		previous: previous,
		issuedAt: time.Now(),
	}
	m.mu.Unlock()

	return m.send(msg)
}

// ChangeSection advances the current section. Order is monotonically
// non-decreasing within a run unless replay is set.
func (m *Machine) ChangeSection(sectionID string, order int, replay bool) error {
	if m.role != types.RoleTeacher {
		return ErrNotTeacher
	}

	m.mu.Lock()
	if order < m.state.CurrentSectionOrder && !replay {
		m.mu.Unlock()
		return ErrNonMonotonicOrder
	}

	data := map[string]interface{}{
		"lessonId":     m.lessonID,
		"sectionIndex": float64(order),
		"section":      sectionID,
	}
	if replay {
		data["replay"] = true
	}
	msg := types.NewCommandMessage(types.MessageTypeSectionChange, data)

	m.state.CurrentSectionID = sectionID
	m.state.CurrentSectionOrder = order
	// Mark our own command applied so the server echo is a no-op.
	m.markApplied(msg.ID)
	m.mu.Unlock()

	return m.send(msg)
}

// AddAnnotation mirrors a teacher annotation through the server.
func (m *Machine) AddAnnotation(annotation map[string]interface{}) error {
	if m.role != types.RoleTeacher {
		return ErrNotTeacher
	}

	msg := types.NewCommandMessage(types.MessageTypeAnnotationAdded, map[string]interface{}{
		"lessonId":   m.lessonID,
		"annotation": annotation,
	})

	m.mu.Lock()
	m.annotations++
	m.markApplied(msg.ID)
	m.mu.Unlock()

	return m.send(msg)
}

// ReportInteraction sends a student interaction (progress, notes,
// answers) through the outbound sink.
func (m *Machine) ReportInteraction(userID, kind string, data map[string]interface{}) error {
	if m.role != types.RoleStudent {
		return ErrNotStudent
	}

	msg := types.NewCommandMessage(types.MessageTypeStudentInteraction, map[string]interface{}{
		"lessonId":  m.lessonID,
		"studentId": userID,
		"type":      kind,
		"data":      data,
	})
	return m.send(msg)
}

func (m *Machine) handleLessonStateChange(evt dispatch.Event) {
	msg := evt.Message
	if msg == nil {
		return
	}

	event, _ := msg.Data["state"].(string)
	target, known := lessonEventTargets[event]
	if !known {
		// Forward compatibility: unrecognized lesson events are logged
		// and ignored, never fatal.
		log.Printf("lesson: ignoring unknown lesson event %q", event)
		return
	}

	m.mu.Lock()
	mismatch, disagreed := m.applyStateEventLocked(msg, target)
	m.mu.Unlock()

	if disagreed {
		m.emitMismatch(mismatch.optimistic, mismatch.confirmed)
	}
}

// statusMismatch records an optimistic status contradicted by the
// confirmed one, reported to mismatch handlers after the lock drops.
type statusMismatch struct {
	optimistic types.LessonStatus
	confirmed  types.LessonStatus
}

// applyStateEventLocked folds one confirmed lesson event into the
// projection. Must be called with the mutex held; the returned
// mismatch, if any, is emitted by the caller after unlocking.
func (m *Machine) applyStateEventLocked(msg *types.WireMessage, target types.LessonStatus) (statusMismatch, bool) {
	if m.isApplied(msg.ID) {
		return statusMismatch{}, false
	}
	m.markApplied(msg.ID)

	// Echo of our own optimistic command: resolve the ledger entry.
	if cmd, ours := m.pending[msg.ID]; ours {
		delete(m.pending, msg.ID)
		if m.state.Status != cmd.expected {
			// The optimistic window saw another transition in between;
			// the confirmed event wins.
			m.applyStatus(target, msg.Timestamp)
			return statusMismatch{optimistic: cmd.expected, confirmed: target}, true
		}
		return statusMismatch{}, false
	}

	// Event from another sender. If we hold unconfirmed optimistic
	// state, the confirmed event wins and the ledger is discarded.
	if len(m.pending) > 0 {
		expected := m.state.Status
		m.pending = make(map[string]*pendingCommand)
		if expected != target {
			m.applyStatus(target, msg.Timestamp)
			return statusMismatch{optimistic: expected, confirmed: target}, true
		}
	}

	if m.state.Status == target {
		return statusMismatch{}, false // duplicate of already-applied state: no-op
	}
	if !canTransition(m.state.Status, target) {
		// An unprimed machine is still at draft; a participant joining
		// mid-lesson adopts the first confirmed event even when no
		// snapshot has arrived yet.
		if m.state.Status != types.LessonDraft {
			log.Printf("lesson: dropping out-of-order transition %s → %s", m.state.Status, target)
			return statusMismatch{}, false
		}
	}

	m.applyStatus(target, msg.Timestamp)

	if section, ok := msg.Data["currentSection"].(string); ok && section != "" {
		m.state.CurrentSectionID = section
	}
	return statusMismatch{}, false
}

func (m *Machine) handleSectionChange(evt dispatch.Event) {
	msg := evt.Message
	if msg == nil {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	// Replaying the same message id yields the identical state.
	if m.isApplied(msg.ID) {
		return
	}
	m.markApplied(msg.ID)

	order, ok := asInt(msg.Data["sectionIndex"])
	if !ok {
		log.Printf("lesson: section_change without sectionIndex, dropping")
		return
	}
	sectionID, _ := msg.Data["section"].(string)
	replay, _ := msg.Data["replay"].(bool)

	if order < m.state.CurrentSectionOrder && !replay {
		log.Printf("lesson: dropping stale section_change order=%d current=%d", order, m.state.CurrentSectionOrder)
		return
	}

	m.state.CurrentSectionID = sectionID
	m.state.CurrentSectionOrder = order
}

func (m *Machine) handleSnapshot(evt dispatch.Event) {
	msg := evt.Message
	if msg == nil {
		return
	}

	status := types.LessonStatus(stringOr(msg.Data, "status", ""))
	if status == "" {
		return
	}

	// The persistence API is authoritative: adopt it wholesale and warn
	// when it contradicts unconfirmed optimistic state.
	m.mu.Lock()
	hadPending := len(m.pending) > 0
	optimistic := m.state.Status
	m.pending = make(map[string]*pendingCommand)

	if order, ok := asInt(msg.Data["currentSectionOrder"]); ok {
		m.state.CurrentSectionOrder = order
	}
	if section := stringOr(msg.Data, "currentSectionId", ""); section != "" {
		m.state.CurrentSectionID = section
	}

	changed := m.state.Status != status
	if changed {
		m.state.Status = status
	}
	m.mu.Unlock()

	if changed && hadPending {
		m.emitMismatch(optimistic, status)
	}
}

func (m *Machine) handleJoin(evt dispatch.Event) {
	if m.role != types.RoleTeacher || evt.Message == nil {
		return
	}
	if userID := stringOr(evt.Message.Data, "userId", ""); userID != "" {
		m.roster.Add(userID)
	}
}

func (m *Machine) handleLeave(evt dispatch.Event) {
	if m.role != types.RoleTeacher || evt.Message == nil {
		return
	}
	if userID := stringOr(evt.Message.Data, "userId", ""); userID != "" {
		m.roster.Remove(userID)
	}
}

func (m *Machine) handleInteraction(evt dispatch.Event) {
	if m.role != types.RoleTeacher || evt.Message == nil {
		return
	}
	data := evt.Message.Data
	studentID := stringOr(data, "studentId", "")
	if studentID == "" {
		return
	}

	if kind := stringOr(data, "type", ""); kind == "progress" {
		if payload, ok := data["data"].(map[string]interface{}); ok {
			if progress, ok := payload["progress"].(float64); ok {
				m.roster.SetProgress(studentID, progress)
				return
			}
		}
	}
	m.roster.Touch(studentID)
}

func (m *Machine) handleAnnotation(evt dispatch.Event) {
	msg := evt.Message
	if msg == nil {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.isApplied(msg.ID) {
		return
	}
	m.markApplied(msg.ID)
	m.annotations++
}

// applyStatus must be called with the mutex held.
func (m *Machine) applyStatus(target types.LessonStatus, timestampMillis int64) {
	m.state.Status = target

	ts := time.Now()
	if timestampMillis > 0 {
		ts = time.UnixMilli(timestampMillis)
	}
	switch target {
	case types.LessonInProgress:
		if m.state.StartedAt == nil {
			m.state.StartedAt = &ts
		}
	case types.LessonCompleted, types.LessonCancelled:
		m.state.EndedAt = &ts
	}
}

// emitMismatch must be called without the mutex held so that mismatch
// handlers are free to read the machine's state.
func (m *Machine) emitMismatch(optimistic, confirmed types.LessonStatus) {
	log.Printf("lesson: resync warning: optimistic=%s confirmed=%s", optimistic, confirmed)
	m.dispatcher.Emit(types.EventStateMismatch, dispatch.Event{
		Type:   types.EventStateMismatch,
		Detail: string(optimistic) + " != " + string(confirmed),
	})
}

// isApplied / markApplied implement the bounded dedup window. Messages
// without an id are telemetry and never deduplicated.
func (m *Machine) isApplied(id string) bool {
	if id == "" {
		return false
	}
	_, seen := m.applied[id]
	return seen
}

func (m *Machine) markApplied(id string) {
	if id == "" {
		return
	}
	m.applied[id] = struct{}{}
	m.appliedOrder = append(m.appliedOrder, id)
	if len(m.appliedOrder) > maxAppliedIDs {
		oldest := m.appliedOrder[0]
		m.appliedOrder = m.appliedOrder[1:]
		delete(m.applied, oldest)
	}
}

func asInt(v interface{}) (int, bool) {
	switch n := v.(type) {
	case float64:
		return int(n), true
	case int:
		return n, true
	default:
		return 0, false
	}
}

func stringOr(data map[string]interface{}, key, fallback string) string {
	if v, ok := data[key].(string); ok && v != "" {
		return v
	}
	return fallback
}
