package hub

import (
	"fmt"
	"iter"
	"strings"
	"time"

	"github.com/aixgo-dev/swarm/agent"
	"github.com/aixgo-dev/swarm/internal/clock"
	"github.com/aixgo-dev/swarm/pkg/swarmerr"
)

// TaskStatus is the progress of a queued task.
type TaskStatus string

const (
	TaskPending    TaskStatus = "pending"
	TaskClaimed    TaskStatus = "claimed"
	TaskInProgress TaskStatus = "in_progress"
	TaskDone       TaskStatus = "done"
	TaskFailed     TaskStatus = "failed"
)

var taskTransitions = map[TaskStatus][]TaskStatus{
	TaskPending:    {TaskClaimed},
	TaskClaimed:    {TaskInProgress},
	TaskInProgress: {TaskDone, TaskFailed},
}

// ParseTaskStatus parses a status name.
func ParseTaskStatus(s string) (TaskStatus, error) {
	st := TaskStatus(strings.ToLower(strings.TrimSpace(s)))
	switch st {
	case TaskPending, TaskClaimed, TaskInProgress, TaskDone, TaskFailed:
		return st, nil
	}
	return "", swarmerr.Invalid("unknown task status %q", s)
}

func (s TaskStatus) canTransition(to TaskStatus) bool {
	for _, next := range taskTransitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// Task is a unit of work in the queue.
type Task struct {
	Description string `json:"description"`
	// Priority orders Next; higher runs first.
	Priority   int        `json:"priority"`
	Status     TaskStatus `json:"status"`
	Owner      agent.ID   `json:"owner,omitempty"`
	Note       string     `json:"note,omitempty"`
	ClaimedAt  time.Time  `json:"claimed_at"`
	FinishedAt time.Time  `json:"finished_at"`
}

// Clone implements Record.
func (t Task) Clone() Task { return t }

// TaskQueue is the shared work queue.
type TaskQueue struct {
	store *Store[Task]
}

func newTaskQueue(halt *Switch, c clock.Clock) *TaskQueue {
	return &TaskQueue{store: NewStore[Task](Policy{Name: StoreTaskQueue, Mutable: true}, halt, c)}
}

// Add queues a pending task.
func (q *TaskQueue) Add(author agent.ID, description string, priority int) (Entry[Task], error) {
	description = strings.TrimSpace(description)
	if description == "" {
		return Entry[Task]{}, swarmerr.Invalid("task description is required")
	}
	return q.store.Append(author, Task{Description: description, Priority: priority, Status: TaskPending})
}

// Claim assigns the task to caller. A task that already has an owner
// fails with ErrAlreadyClaimed.
func (q *TaskQueue) Claim(caller agent.ID, id string) (Entry[Task], error) {
	var out Entry[Task]
	err := q.store.Update(func(tx *Txn[Task]) error {
		var err error
		out, err = claim(tx, caller, id)
		return err
	})
	return out, err
}

func claim(tx *Txn[Task], caller agent.ID, id string) (Entry[Task], error) {
	return tx.Mutate(id, func(_ Entry[Task], t *Task) error {
		if t.Owner != "" {
			return &swarmerr.ClaimError{Task: id, Owner: string(t.Owner)}
		}
		if t.Status != TaskPending {
			return fmt.Errorf("%w: task %s is %s", swarmerr.ErrInvalidTransition, id, t.Status)
		}
		t.Owner = caller
		t.Status = TaskClaimed
		t.ClaimedAt = tx.Now()
		return nil
	})
}

// Update advances a task. Only the owner may update it; an empty status
// only replaces the note.
func (q *TaskQueue) Update(caller agent.ID, id string, status TaskStatus, note string) (Entry[Task], error) {
	var out Entry[Task]
	err := q.store.Update(func(tx *Txn[Task]) error {
		var err error
		out, err = tx.Mutate(id, func(_ Entry[Task], t *Task) error {
			if t.Owner != caller {
				return fmt.Errorf("%w: task %s is owned by %q", swarmerr.ErrPermissionDenied, id, t.Owner)
			}
			if status != "" && status != t.Status {
				if !t.Status.canTransition(status) {
					return fmt.Errorf("%w: task %s: %s -> %s", swarmerr.ErrInvalidTransition, id, t.Status, status)
				}
				t.Status = status
				if status == TaskDone || status == TaskFailed {
					t.FinishedAt = tx.Now()
				}
			}
			if note = strings.TrimSpace(note); note != "" {
				t.Note = note
			}
			return nil
		})
		return err
	})
	return out, err
}

// Next returns the pending task that should run next: the highest priority
// with ties broken by creation order when byPriority is set, otherwise the
// oldest pending task.
func (q *TaskQueue) Next(byPriority bool) (Entry[Task], bool) {
	var (
		out Entry[Task]
		ok  bool
	)
	q.store.View(func(r *Reader[Task]) error {
		out, ok = next(r, byPriority)
		return nil
	})
	return out, ok
}

func next(r *Reader[Task], byPriority bool) (Entry[Task], bool) {
	var (
		best  Entry[Task]
		found bool
	)
	for e := range r.All() {
		if e.Record.Status != TaskPending || e.Record.Owner != "" {
			continue
		}
		if !found {
			best, found = e, true
			if !byPriority {
				break
			}
			continue
		}
		if e.Record.Priority > best.Record.Priority {
			best = e
		}
	}
	return best, found
}

// ClaimNext atomically claims the task Next would return. It fails with
// ErrRecordNotFound when nothing is pending.
func (q *TaskQueue) ClaimNext(caller agent.ID, byPriority bool) (Entry[Task], error) {
	var out Entry[Task]
	err := q.store.Update(func(tx *Txn[Task]) error {
		e, ok := next(&tx.Reader, byPriority)
		if !ok {
			return fmt.Errorf("%w: no pending task", swarmerr.ErrRecordNotFound)
		}
		var err error
		out, err = claim(tx, caller, e.ID)
		return err
	})
	return out, err
}

// Get returns one task.
func (q *TaskQueue) Get(id string) (Entry[Task], error) { return q.store.Get(id) }

// List yields tasks; a non-empty status narrows the result. Owner filtering
// goes through opts.Author for the creator or owner for the claimant.
func (q *TaskQueue) List(opts ListOptions, status TaskStatus, owner agent.ID) iter.Seq[Entry[Task]] {
	return q.store.List(opts, func(e Entry[Task]) bool {
		return (status == "" || e.Record.Status == status) && (owner == "" || e.Record.Owner == owner)
	})
}
