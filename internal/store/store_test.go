package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"lessonsync/pkg/interfaces"
	"lessonsync/pkg/types"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSaveAndListTasks(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	first := types.NewSyncTask(types.TaskTypeProgress, "activity-1", types.TaskActionUpdate,
		map[string]interface{}{"progress": 40.0}, types.PriorityHigh)
	first.CreatedAt = time.Now().Add(-time.Minute)
	second := types.NewSyncTask(types.TaskTypeChapter, "chapter-2", types.TaskActionFetch, nil, types.PriorityLow)

	if err := s.SaveTask(ctx, first); err != nil {
		t.Fatalf("save failed: %v", err)
	}
	if err := s.SaveTask(ctx, second); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	tasks, err := s.ListTasks(ctx)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(tasks) != 2 {
		t.Fatalf("expected 2 tasks, got %d", len(tasks))
	}
	if tasks[0].ID != first.ID {
		t.Errorf("tasks must list in creation order, got %s first", tasks[0].ID)
	}
	if tasks[0].Data["progress"] != 40.0 {
		t.Errorf("task data not round-tripped: %v", tasks[0].Data)
	}
	if tasks[1].Priority != types.PriorityLow {
		t.Errorf("unexpected priority: %s", tasks[1].Priority)
	}
}

func TestSaveTaskIsUpsert(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	task := types.NewSyncTask(types.TaskTypeProgress, "activity-1", types.TaskActionUpdate,
		map[string]interface{}{"progress": 40.0}, types.PriorityHigh)
	if err := s.SaveTask(ctx, task); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	task.Data = map[string]interface{}{"progress": 80.0}
	task.Attempts = 2
	if err := s.SaveTask(ctx, task); err != nil {
		t.Fatalf("second save failed: %v", err)
	}

	tasks, err := s.ListTasks(ctx)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(tasks) != 1 {
		t.Fatalf("expected upsert to keep one row, got %d", len(tasks))
	}
	if tasks[0].Data["progress"] != 80.0 || tasks[0].Attempts != 2 {
		t.Errorf("upsert did not replace fields: %+v", tasks[0])
	}
}

func TestDeleteTask(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	task := types.NewSyncTask(types.TaskTypeProgress, "activity-1", types.TaskActionUpdate, nil, types.PriorityHigh)
	if err := s.SaveTask(ctx, task); err != nil {
		t.Fatalf("save failed: %v", err)
	}
	if err := s.DeleteTask(ctx, task.ID); err != nil {
		t.Fatalf("delete failed: %v", err)
	}

	tasks, err := s.ListTasks(ctx)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(tasks) != 0 {
		t.Errorf("expected empty list after delete, got %d", len(tasks))
	}

	// Deleting an absent task is not an error.
	if err := s.DeleteTask(ctx, "no-such-task"); err != nil {
		t.Errorf("deleting a missing task should succeed, got %v", err)
	}
}

func TestSaveDeadLetterLeavesQueueTableAlone(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	task := types.NewSyncTask(types.TaskTypeProgress, "activity-1", types.TaskActionUpdate, nil, types.PriorityHigh)
	task.Attempts = 5

	if err := s.SaveDeadLetter(ctx, task); err != nil {
		t.Fatalf("dead letter save failed: %v", err)
	}

	tasks, err := s.ListTasks(ctx)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(tasks) != 0 {
		t.Errorf("dead letters must not appear in the task list, got %d", len(tasks))
	}
}

func TestSnapshotRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.LoadSnapshot(ctx, "cache/course/c1"); err != interfaces.ErrSnapshotNotFound {
		t.Errorf("expected ErrSnapshotNotFound, got %v", err)
	}

	payload := []byte(`{"title":"Algebra"}`)
	if err := s.SaveSnapshot(ctx, "cache/course/c1", payload); err != nil {
		t.Fatalf("snapshot save failed: %v", err)
	}

	data, err := s.LoadSnapshot(ctx, "cache/course/c1")
	if err != nil {
		t.Fatalf("snapshot load failed: %v", err)
	}
	if string(data) != string(payload) {
		t.Errorf("unexpected snapshot payload: %s", data)
	}

	// Upsert replaces the previous payload.
	if err := s.SaveSnapshot(ctx, "cache/course/c1", []byte(`{"title":"Geometry"}`)); err != nil {
		t.Fatalf("snapshot upsert failed: %v", err)
	}
	data, err = s.LoadSnapshot(ctx, "cache/course/c1")
	if err != nil {
		t.Fatalf("snapshot reload failed: %v", err)
	}
	if string(data) != `{"title":"Geometry"}` {
		t.Errorf("snapshot upsert did not replace payload: %s", data)
	}
}

func TestTasksSurviveReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	ctx := context.Background()

	s, err := NewStore(path)
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}

	task := types.NewSyncTask(types.TaskTypeProgress, "activity-1", types.TaskActionUpdate,
		map[string]interface{}{"progress": 60.0}, types.PriorityMedium)
	if err := s.SaveTask(ctx, task); err != nil {
		t.Fatalf("save failed: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}

	reopened, err := NewStore(path)
	if err != nil {
		t.Fatalf("failed to reopen store: %v", err)
	}
	defer func() { _ = reopened.Close() }()

	tasks, err := reopened.ListTasks(ctx)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(tasks) != 1 || tasks[0].ID != task.ID {
		t.Fatalf("expected the persisted task after reopen, got %d tasks", len(tasks))
	}
}

func TestWriteAfterClose(t *testing.T) {
	s, err := NewStore(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}

	task := types.NewSyncTask(types.TaskTypeProgress, "activity-1", types.TaskActionUpdate, nil, types.PriorityHigh)
	if err := s.SaveTask(context.Background(), task); err == nil {
		t.Error("expected an error writing to a closed store")
	}

	// Close is idempotent.
	if err := s.Close(); err != nil {
		t.Errorf("second close should succeed, got %v", err)
	}
}

func TestHealthCheck(t *testing.T) {
	s := newTestStore(t)
	if err := s.HealthCheck(context.Background()); err != nil {
		t.Errorf("health check failed: %v", err)
	}
}
