// Package syncqueue persists pending mutations while the channel is
// down and replays them once connectivity returns. Tasks drain in
// priority order (high, medium, low; FIFO within a tier), one in
// flight at a time, with a bounded retry ceiling and a dead-letter set
// for tasks that keep failing.
package syncqueue

import (
	"context"
	"log"
	"sort"
	"sync"
	"time"

	"lessonsync/internal/dispatch"
	"lessonsync/pkg/interfaces"
	"lessonsync/pkg/types"
)

// DeliverFunc attempts delivery of one task through the channel
// session. A nil error acknowledges the task.
type DeliverFunc func(task *types.SyncTask) error

// Options bound the queue.
type Options struct {
	MaxAttempts int           // retry ceiling before dead-letter
	Capacity    int           // total queued tasks across tiers
	DrainPause  time.Duration // delay between consecutive deliveries
}

// DefaultOptions returns the production queue policy.
func DefaultOptions() Options {
	return Options{
		MaxAttempts: 5,
		Capacity:    1000,
		DrainPause:  50 * time.Millisecond,
	}
}

// Queue is the offline sync queue. Stores, notifier and dispatcher are
// optional; a nil store keeps the queue memory-only.
type Queue struct {
	opts       Options
	deliver    DeliverFunc
	store      interfaces.TaskStore
	snapshots  interfaces.SnapshotStore
	notifier   interfaces.Notifier
	dispatcher *dispatch.Dispatcher

	mu         sync.Mutex
	tiers      map[string][]*types.SyncTask
	index      map[string]*types.SyncTask // type/entityID -> queued update task
	deadLetter []*types.SyncTask
	connected  bool
	stopped    bool

	wake chan struct{}
	stop chan struct{}
	wg   sync.WaitGroup
}

// NewQueue builds a queue around a delivery function.
func NewQueue(deliver DeliverFunc, store interfaces.TaskStore, snapshots interfaces.SnapshotStore, notifier interfaces.Notifier, dispatcher *dispatch.Dispatcher, opts Options) *Queue {
	if opts.MaxAttempts <= 0 {
		opts = DefaultOptions()
	}
	return &Queue{
		opts:       opts,
		deliver:    deliver,
		store:      store,
		snapshots:  snapshots,
		notifier:   notifier,
		dispatcher: dispatcher,
		tiers: map[string][]*types.SyncTask{
			types.PriorityHigh:   nil,
			types.PriorityMedium: nil,
			types.PriorityLow:    nil,
		},
		index: make(map[string]*types.SyncTask),
		wake:  make(chan struct{}, 1),
		stop:  make(chan struct{}),
	}
}

// Start restores persisted tasks and launches the drain loop.
func (q *Queue) Start(ctx context.Context) error {
	if q.store != nil {
		if err := q.restore(ctx); err != nil {
			return err
		}
	}

	q.wg.Add(1)
	go q.drainLoop()
	return nil
}

// Stop halts the drain loop. Queued tasks stay persisted for the next
// run.
func (q *Queue) Stop() {
	q.mu.Lock()
	if q.stopped {
		q.mu.Unlock()
		return
	}
	q.stopped = true
	q.mu.Unlock()

	close(q.stop)
	q.wg.Wait()
}

// SetConnected tracks the connection status; the drain loop runs only
// while connected. Wire it to the reconnection controller's status
// listener.
func (q *Queue) SetConnected(connected bool) {
	q.mu.Lock()
	q.connected = connected
	q.mu.Unlock()

	if connected {
		q.kick()
	}
}

// Add queues a task. Update tasks addressing an already-queued entity
// of the same type collapse into the existing task, so only the newest
// data ever reaches the wire. Last-write-wins is all that matters for
// progress and telemetry payloads.
func (q *Queue) Add(ctx context.Context, task *types.SyncTask) error {
	if err := task.Validate(); err != nil {
		return err
	}

	q.mu.Lock()
	if q.stopped {
		q.mu.Unlock()
		return ErrQueueStopped
	}

	if task.Action == types.TaskActionUpdate {
		if existing, queued := q.index[collapseKey(task)]; queued {
			existing.Data = task.Data
			if existing.Priority != task.Priority {
				q.retierLocked(existing, task.Priority)
			}
			q.mu.Unlock()
			if q.store != nil {
				return q.store.SaveTask(ctx, existing)
			}
			return nil
		}
	}

	if q.size() >= q.opts.Capacity {
		if !q.evictLocked(task.Priority) {
			q.mu.Unlock()
			return ErrQueueFull
		}
	}

	q.tiers[task.Priority] = append(q.tiers[task.Priority], task)
	if task.Action == types.TaskActionUpdate {
		q.index[collapseKey(task)] = task
	}
	q.mu.Unlock()

	if q.store != nil {
		if err := q.store.SaveTask(ctx, task); err != nil {
			return err
		}
	}

	q.kick()
	return nil
}

// Fetch serves a read from the last cached snapshot. With no cache the
// caller gets ErrUnavailable and must fail fast rather than wait.
func (q *Queue) Fetch(ctx context.Context, taskType, entityID string) ([]byte, error) {
	if q.snapshots == nil {
		return nil, ErrUnavailable
	}
	data, err := q.snapshots.LoadSnapshot(ctx, snapshotKey(taskType, entityID))
	if err != nil {
		return nil, ErrUnavailable
	}
	return data, nil
}

// CacheSnapshot stores the latest server copy of an entity so offline
// reads have something to serve.
func (q *Queue) CacheSnapshot(ctx context.Context, taskType, entityID string, data []byte) error {
	if q.snapshots == nil {
		return nil
	}
	return q.snapshots.SaveSnapshot(ctx, snapshotKey(taskType, entityID), data)
}

// Len reports the number of queued tasks across all tiers.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.size()
}

// DeadLetters returns a copy of the dead-letter set.
func (q *Queue) DeadLetters() []*types.SyncTask {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]*types.SyncTask, len(q.deadLetter))
	copy(out, q.deadLetter)
	return out
}

// drainLoop delivers one task at a time to its acknowledgment before
// dequeuing the next, bounding in-flight risk without blocking the
// rest of the application between tasks.
func (q *Queue) drainLoop() {
	defer q.wg.Done()

	for {
		select {
		case <-q.stop:
			return
		case <-q.wake:
		}

		for {
			task := q.pop()
			if task == nil {
				break
			}
			q.process(task)

			select {
			case <-q.stop:
				return
			case <-time.After(q.opts.DrainPause):
			}
		}
	}
}

// pop removes the head of the highest non-empty tier, or nil when the
// queue is empty or the channel is down.
func (q *Queue) pop() *types.SyncTask {
	q.mu.Lock()
	defer q.mu.Unlock()

	if !q.connected {
		return nil
	}
	for _, priority := range []string{types.PriorityHigh, types.PriorityMedium, types.PriorityLow} {
		tier := q.tiers[priority]
		if len(tier) == 0 {
			continue
		}
		task := tier[0]
		q.tiers[priority] = tier[1:]
		if task.Action == types.TaskActionUpdate {
			delete(q.index, collapseKey(task))
		}
		return task
	}
	return nil
}

func (q *Queue) process(task *types.SyncTask) {
	ctx := context.Background()

	if err := q.deliver(task); err == nil {
		if q.store != nil {
			if derr := q.store.DeleteTask(ctx, task.ID); derr != nil {
				log.Printf("syncqueue: acknowledged task %s not removed from store: %v", task.ID, derr)
			}
		}
		return
	} else {
		task.Attempts++
		log.Printf("syncqueue: delivery failed for entity=%s attempt=%d: %v", task.EntityID, task.Attempts, err)
	}

	if task.Attempts >= q.opts.MaxAttempts {
		q.deadLetterTask(ctx, task)
		return
	}

	// Requeue at the tail of its tier; FIFO within the tier holds for
	// retried work as well.
	q.mu.Lock()
	q.tiers[task.Priority] = append(q.tiers[task.Priority], task)
	if task.Action == types.TaskActionUpdate {
		q.index[collapseKey(task)] = task
	}
	q.mu.Unlock()

	if q.store != nil {
		if err := q.store.SaveTask(ctx, task); err != nil {
			log.Printf("syncqueue: failed to persist retry state for %s: %v", task.ID, err)
		}
	}
}

func (q *Queue) deadLetterTask(ctx context.Context, task *types.SyncTask) {
	q.mu.Lock()
	q.deadLetter = append(q.deadLetter, task)
	q.mu.Unlock()

	log.Printf("syncqueue: dead-lettering task %s entity=%s after %d attempts", task.ID, task.EntityID, task.Attempts)

	if q.store != nil {
		if err := q.store.SaveDeadLetter(ctx, task); err != nil {
			log.Printf("syncqueue: failed to persist dead letter %s: %v", task.ID, err)
		}
		if err := q.store.DeleteTask(ctx, task.ID); err != nil {
			log.Printf("syncqueue: failed to remove dead-lettered task %s: %v", task.ID, err)
		}
	}

	if q.notifier != nil {
		q.notifier.QueueExhausted(task.EntityID)
	}
	if q.dispatcher != nil {
		q.dispatcher.Emit(types.EventTaskDeadLetter, dispatch.Event{
			Type:   types.EventTaskDeadLetter,
			Detail: task.EntityID,
		})
	}
}

// retierLocked moves a queued task to the tail of another tier when a
// collapse changes its priority; the tier slices decide drain order, so
// the priority field alone is not enough. Must be called with the
// mutex held.
func (q *Queue) retierLocked(task *types.SyncTask, priority string) {
	tier := q.tiers[task.Priority]
	for i, queued := range tier {
		if queued == task {
			q.tiers[task.Priority] = append(tier[:i:i], tier[i+1:]...)
			break
		}
	}
	task.Priority = priority
	q.tiers[priority] = append(q.tiers[priority], task)
}

// evictLocked frees one slot by dropping the oldest task from the
// lowest-priority non-empty tier that does not outrank the incoming
// task. Must be called with the mutex held.
func (q *Queue) evictLocked(incomingPriority string) bool {
	incoming := types.PriorityRank(incomingPriority)
	for _, priority := range []string{types.PriorityLow, types.PriorityMedium, types.PriorityHigh} {
		if types.PriorityRank(priority) < incoming {
			continue // never evict work more urgent than the newcomer
		}
		tier := q.tiers[priority]
		if len(tier) == 0 {
			continue
		}
		victim := tier[0]
		q.tiers[priority] = tier[1:]
		if victim.Action == types.TaskActionUpdate {
			delete(q.index, collapseKey(victim))
		}
		log.Printf("syncqueue: queue full, evicting oldest %s task entity=%s", victim.Priority, victim.EntityID)
		if q.store != nil {
			if err := q.store.DeleteTask(context.Background(), victim.ID); err != nil {
				log.Printf("syncqueue: failed to remove evicted task %s: %v", victim.ID, err)
			}
		}
		return true
	}
	return false
}

// size must be called with the mutex held.
func (q *Queue) size() int {
	total := 0
	for _, tier := range q.tiers {
		total += len(tier)
	}
	return total
}

// restore reloads persisted tasks in creation order.
func (q *Queue) restore(ctx context.Context) error {
	tasks, err := q.store.ListTasks(ctx)
	if err != nil {
		return err
	}
	sort.Slice(tasks, func(i, j int) bool { return tasks[i].CreatedAt.Before(tasks[j].CreatedAt) })

	q.mu.Lock()
	for _, task := range tasks {
		q.tiers[task.Priority] = append(q.tiers[task.Priority], task)
		if task.Action == types.TaskActionUpdate {
			q.index[collapseKey(task)] = task
		}
	}
	q.mu.Unlock()

	if len(tasks) > 0 {
		log.Printf("syncqueue: restored %d persisted tasks", len(tasks))
	}
	return nil
}

func (q *Queue) kick() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func collapseKey(task *types.SyncTask) string {
	return task.Type + "/" + task.EntityID
}

func snapshotKey(taskType, entityID string) string {
	return "cache/" + taskType + "/" + entityID
}
