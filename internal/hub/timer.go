package hub

import (
	"cmp"
	"fmt"
	"iter"
	"slices"
	"strings"
	"time"

	"github.com/aixgo-dev/swarm/agent"
	"github.com/aixgo-dev/swarm/internal/clock"
	"github.com/aixgo-dev/swarm/pkg/swarmerr"
)

// Timer is a labelled time window with an optional reminder.
type Timer struct {
	Label     string        `json:"label"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
	// RemindAt is zero when the timer has no reminder.
	RemindAt  time.Time `json:"remind_at"`
	StoppedAt time.Time `json:"stopped_at"`
	StoppedBy agent.ID  `json:"stopped_by,omitempty"`
}

// Clone implements Record.
func (t Timer) Clone() Timer { return t }

// Running reports whether the timer has not been stopped.
func (t Timer) Running() bool { return t.StoppedAt.IsZero() }

// Due reports whether the reminder has fired at now.
func (t Timer) Due(now time.Time) bool {
	return t.Running() && !t.RemindAt.IsZero() && !t.RemindAt.After(now)
}

// TimerStore tracks work windows and reminders. Any agent may start or
// stop a timer. Reminders are evaluated against the clock at read time.
type TimerStore struct {
	store *Store[Timer]
}

func newTimerStore(halt *Switch, c clock.Clock) *TimerStore {
	return &TimerStore{store: NewStore[Timer](Policy{Name: StoreTimer, Mutable: true}, halt, c)}
}

// Start opens a timer. A positive d schedules a reminder at start+d.
func (s *TimerStore) Start(author agent.ID, label string, d time.Duration) (Entry[Timer], error) {
	label = strings.TrimSpace(label)
	if label == "" {
		return Entry[Timer]{}, swarmerr.Invalid("timer label is required")
	}
	if d < 0 {
		return Entry[Timer]{}, swarmerr.Invalid("timer duration %s is negative", d)
	}

	var out Entry[Timer]
	err := s.store.Update(func(tx *Txn[Timer]) error {
		t := Timer{Label: label, StartedAt: tx.Now(), Duration: d}
		if d > 0 {
			t.RemindAt = tx.Now().Add(d)
		}
		out = tx.Append(author, t)
		return nil
	})
	return out, err
}

// Stop closes a running timer.
func (s *TimerStore) Stop(caller agent.ID, id string) (Entry[Timer], error) {
	var out Entry[Timer]
	err := s.store.Update(func(tx *Txn[Timer]) error {
		var err error
		out, err = tx.Mutate(id, func(_ Entry[Timer], t *Timer) error {
			if !t.Running() {
				return swarmerr.Invalid("timer %s already stopped", id)
			}
			t.StoppedAt = tx.Now()
			t.StoppedBy = caller
			return nil
		})
		return err
	})
	return out, err
}

// Get returns one timer.
func (s *TimerStore) Get(id string) (Entry[Timer], error) { return s.store.Get(id) }

// List yields timers; runningOnly skips stopped ones.
func (s *TimerStore) List(opts ListOptions, runningOnly bool) iter.Seq[Entry[Timer]] {
	return s.store.List(opts, func(e Entry[Timer]) bool {
		return !runningOnly || e.Record.Running()
	})
}

// Due returns the running timers whose reminder is at or before now,
// earliest reminder first. It does not modify the store.
func (s *TimerStore) Due(now time.Time) []Entry[Timer] {
	due := slices.Collect(s.store.List(ListOptions{}, func(e Entry[Timer]) bool {
		return e.Record.Due(now)
	}))
	slices.SortStableFunc(due, func(a, b Entry[Timer]) int {
		return cmp.Compare(a.Record.RemindAt.UnixNano(), b.Record.RemindAt.UnixNano())
	})
	return due
}

// DueNow is Due at the store clock's current time.
func (s *TimerStore) DueNow() []Entry[Timer] { return s.Due(s.store.now()) }

// String renders a one-line timer summary.
func (t Timer) String() string {
	state := "running"
	if !t.Running() {
		state = "stopped"
	}
	return fmt.Sprintf("%s (%s, %s)", t.Label, state, t.Duration)
}
