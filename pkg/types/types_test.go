package types

import (
	"testing"
)

func TestConnectionStatusString(t *testing.T) {
	cases := map[ConnectionStatus]string{
		StatusDisconnected:   "disconnected",
		StatusConnecting:     "connecting",
		StatusConnected:      "connected",
		StatusReconnecting:   "reconnecting",
		StatusError:          "error",
		ConnectionStatus(99): "unknown",
	}

	for status, want := range cases {
		if got := status.String(); got != want {
			t.Errorf("status %d: expected %q, got %q", int(status), want, got)
		}
	}
}

func TestChannelConfigValidation(t *testing.T) {
	valid := ChannelConfig{
		ChannelID: "classroom-101",
		Type:      ChannelTypeLesson,
		UserID:    "teacher-1",
		Role:      RoleTeacher,
		LessonID:  "lesson-9",
	}
	if err := valid.Validate(); err != nil {
		t.Fatalf("expected valid config to pass, got %v", err)
	}

	tests := []struct {
		name    string
		mutate  func(c *ChannelConfig)
		wantErr error
	}{
		{"empty channel id", func(c *ChannelConfig) { c.ChannelID = "" }, ErrInvalidChannelID},
		{"channel id with spaces", func(c *ChannelConfig) { c.ChannelID = "room 1" }, ErrInvalidChannelID},
		{"unknown channel type", func(c *ChannelConfig) { c.Type = "video" }, ErrInvalidChannelType},
		{"empty user id", func(c *ChannelConfig) { c.UserID = "" }, ErrInvalidUserID},
		{"unknown role", func(c *ChannelConfig) { c.Role = "admin" }, ErrInvalidRole},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid
			tt.mutate(&cfg)
			if err := cfg.Validate(); err != tt.wantErr {
				t.Errorf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestChannelConfigOptionalFields(t *testing.T) {
	cfg := ChannelConfig{
		ChannelID: "chat-5",
		Type:      ChannelTypeChat,
		UserID:    "student-3",
		Role:      RoleStudent,
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("lesson and class ids should be optional, got %v", err)
	}
}

func TestSyncTaskValidation(t *testing.T) {
	task := NewSyncTask(TaskTypeProgress, "activity-1", TaskActionUpdate, map[string]interface{}{"progress": 50}, PriorityHigh)
	if err := task.Validate(); err != nil {
		t.Fatalf("expected valid task to pass, got %v", err)
	}
	if task.ID == "" {
		t.Error("expected task to carry a generated id")
	}
	if task.CreatedAt.IsZero() {
		t.Error("expected task to carry a creation time")
	}

	tests := []struct {
		name    string
		mutate  func(task *SyncTask)
		wantErr error
	}{
		{"unknown type", func(task *SyncTask) { task.Type = "quiz" }, ErrInvalidTaskType},
		{"unknown action", func(task *SyncTask) { task.Action = "delete" }, ErrInvalidTaskAction},
		{"empty entity", func(task *SyncTask) { task.EntityID = "" }, ErrEmptyEntityID},
		{"unknown priority", func(task *SyncTask) { task.Priority = "urgent" }, ErrInvalidPriority},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bad := *task
			tt.mutate(&bad)
			if err := bad.Validate(); err != tt.wantErr {
				t.Errorf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestPriorityRankOrdering(t *testing.T) {
	if PriorityRank(PriorityHigh) >= PriorityRank(PriorityMedium) {
		t.Error("high must outrank medium")
	}
	if PriorityRank(PriorityMedium) >= PriorityRank(PriorityLow) {
		t.Error("medium must outrank low")
	}
	if PriorityRank("bogus") <= PriorityRank(PriorityLow) {
		t.Error("unknown priorities must sort last")
	}
}

func TestWireMessageConstruction(t *testing.T) {
	telemetry := NewWireMessage(MessageTypeHeartbeat, nil)
	if telemetry.ID != "" {
		t.Error("telemetry frames must not carry a dedup id")
	}
	if telemetry.Timestamp == 0 {
		t.Error("expected a timestamp on telemetry frames")
	}

	cmd := NewCommandMessage(MessageTypeSectionChange, map[string]interface{}{"sectionId": "s1"})
	if cmd.ID == "" {
		t.Error("command frames must carry a dedup id")
	}

	other := NewCommandMessage(MessageTypeSectionChange, nil)
	if cmd.ID == other.ID {
		t.Error("command ids must be unique")
	}
}

func TestLessonStatusTerminal(t *testing.T) {
	for _, status := range []LessonStatus{LessonDraft, LessonScheduled, LessonInProgress, LessonPaused} {
		if status.Terminal() {
			t.Errorf("%s should not be terminal", status)
		}
	}
	for _, status := range []LessonStatus{LessonCompleted, LessonCancelled} {
		if !status.Terminal() {
			t.Errorf("%s should be terminal", status)
		}
	}
}
