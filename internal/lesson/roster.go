package lesson

import (
	"encoding/json"
	"sort"
	"sync"
	"time"

	"lessonsync/pkg/types"
)

// Roster is the classroom participant set, owned by the teacher-side
// state machine. Entries are created on join events, updated on
// activity and progress events and removed on leave.
type Roster struct {
	mu           sync.Mutex
	participants map[string]*types.SessionParticipant
}

// NewRoster creates an empty roster.
func NewRoster() *Roster {
	return &Roster{
		participants: make(map[string]*types.SessionParticipant),
	}
}

// Add records a participant join. Joining twice refreshes presence
// instead of duplicating the entry.
func (r *Roster) Add(userID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	if p, exists := r.participants[userID]; exists {
		p.Status = types.ParticipantOnline
		p.LastActivity = now
		return
	}
	r.participants[userID] = &types.SessionParticipant{
		ID:           userID,
		Status:       types.ParticipantOnline,
		JoinedAt:     now,
		LastActivity: now,
	}
}

// Touch marks a participant active now. Unknown participants are
// ignored; the join event owns entry creation.
func (r *Roster) Touch(userID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if p, exists := r.participants[userID]; exists {
		p.Status = types.ParticipantActive
		p.LastActivity = time.Now()
	}
}

// SetProgress updates a participant's progress and activity.
func (r *Roster) SetProgress(userID string, progress float64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if p, exists := r.participants[userID]; exists {
		p.Progress = progress
		p.Status = types.ParticipantActive
		p.LastActivity = time.Now()
	}
}

// Remove drops a participant on leave. Idempotent.
func (r *Roster) Remove(userID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.participants, userID)
}

// Count returns the current participant count.
func (r *Roster) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.participants)
}

// Participants returns a join-ordered copy of the roster.
func (r *Roster) Participants() []*types.SessionParticipant {
	r.mu.Lock()
	defer r.mu.Unlock()

	list := make([]*types.SessionParticipant, 0, len(r.participants))
	for _, p := range r.participants {
		copied := *p
		list = append(list, &copied)
	}
	sort.Slice(list, func(i, j int) bool {
		if list[i].JoinedAt.Equal(list[j].JoinedAt) {
			return list[i].ID < list[j].ID
		}
		return list[i].JoinedAt.Before(list[j].JoinedAt)
	})
	return list
}

// SnapshotJSON serializes the roster for the snapshot store.
func (r *Roster) SnapshotJSON() ([]byte, error) {
	return json.Marshal(r.Participants())
}

// RestoreJSON reloads a persisted roster snapshot. Restored entries
// come back offline; live events re-promote them.
func (r *Roster) RestoreJSON(data []byte) error {
	var list []*types.SessionParticipant
	if err := json.Unmarshal(data, &list); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range list {
		p.Status = types.ParticipantOffline
		r.participants[p.ID] = p
	}
	return nil
}
