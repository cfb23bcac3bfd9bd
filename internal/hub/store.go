package hub

import (
	"fmt"
	"iter"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/aixgo-dev/swarm/agent"
	"github.com/aixgo-dev/swarm/internal/clock"
	"github.com/aixgo-dev/swarm/internal/codec"
	"github.com/aixgo-dev/swarm/pkg/observability"
	"github.com/aixgo-dev/swarm/pkg/swarmerr"
)

// Record is implemented by every store record. Clone must return a copy
// that shares no mutable memory with the receiver.
type Record[T any] interface {
	Clone() T
}

// Entry wraps a record with the fields common to every store.
type Entry[T any] struct {
	ID        string    `json:"id"`
	Author    agent.ID  `json:"author"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Record    T         `json:"record"`
}

func cloneEntry[T Record[T]](e *Entry[T]) Entry[T] {
	out := *e
	out.Record = e.Record.Clone()
	return out
}

// Policy configures the behavior shared by all store operations.
type Policy struct {
	Name string
	// Mutable stores accept Mutate; others are append-only.
	Mutable bool
	// Capacity bounds the store as a ring; the oldest entry is evicted.
	// Zero means unbounded.
	Capacity int
}

// Switch is the session-wide kill flag shared by every store.
type Switch struct {
	halted atomic.Bool
}

// Halt trips the switch. It reports whether this call tripped it.
func (s *Switch) Halt() bool {
	tripped := s.halted.CompareAndSwap(false, true)
	if tripped {
		observability.SetHalted(true)
	}
	return tripped
}

// Halted reports whether the switch has tripped.
func (s *Switch) Halted() bool { return s.halted.Load() }

// ListOptions narrows List results. Zero values match everything.
type ListOptions struct {
	Author agent.ID
	// Limit keeps at most this many entries after filtering.
	Limit int
	// NewestFirst reverses creation order.
	NewestFirst bool
}

// Store is the generic collection behind every hub store. Reads and writes
// are serialized by one lock per store; writes fail with ErrSwarmHalted
// once the kill switch trips or the store is closed.
type Store[T Record[T]] struct {
	policy Policy
	halt   *Switch
	clock  clock.Clock
	newID  func() string

	mu      sync.RWMutex
	entries []*Entry[T]
	index   map[string]*Entry[T]
	closed  bool
}

// NewStore creates an empty store.
func NewStore[T Record[T]](policy Policy, halt *Switch, c clock.Clock) *Store[T] {
	if halt == nil {
		halt = &Switch{}
	}
	if c == nil {
		c = clock.Real()
	}
	return &Store[T]{
		policy: policy,
		halt:   halt,
		clock:  c,
		newID:  func() string { return uuid.New().String() },
		index:  make(map[string]*Entry[T]),
	}
}

// Name returns the store name.
func (s *Store[T]) Name() string { return s.policy.Name }

func (s *Store[T]) now() time.Time {
	return s.clock.Now().UTC().Round(0)
}

// Reader is a locked view of a store, valid only inside View or Update.
type Reader[T Record[T]] struct {
	s   *Store[T]
	now time.Time
}

// Now returns the timestamp taken when the lock was acquired.
func (r *Reader[T]) Now() time.Time { return r.now }

// Get returns a copy of the entry with id.
func (r *Reader[T]) Get(id string) (Entry[T], bool) {
	e, ok := r.s.index[id]
	if !ok {
		return Entry[T]{}, false
	}
	return cloneEntry(e), true
}

// All yields copies of every entry in creation order.
func (r *Reader[T]) All() iter.Seq[Entry[T]] {
	return func(yield func(Entry[T]) bool) {
		for _, e := range r.s.entries {
			if !yield(cloneEntry(e)) {
				return
			}
		}
	}
}

// Txn is a locked, writable view of a store, valid only inside Update.
type Txn[T Record[T]] struct {
	Reader[T]
}

// Append stores rec and returns the new entry.
func (tx *Txn[T]) Append(author agent.ID, rec T) Entry[T] {
	s := tx.s
	e := &Entry[T]{
		ID:        s.newID(),
		Author:    author,
		CreatedAt: tx.now,
		UpdatedAt: tx.now,
		Record:    rec.Clone(),
	}
	s.entries = append(s.entries, e)
	s.index[e.ID] = e
	if s.policy.Capacity > 0 && len(s.entries) > s.policy.Capacity {
		evicted := s.entries[0]
		delete(s.index, evicted.ID)
		s.entries[0] = nil
		s.entries = s.entries[1:]
	}
	return cloneEntry(e)
}

// Mutate applies fn to a copy of the record with id and commits the copy
// when fn succeeds.
func (tx *Txn[T]) Mutate(id string, fn func(e Entry[T], rec *T) error) (Entry[T], error) {
	s := tx.s
	if !s.policy.Mutable {
		return Entry[T]{}, fmt.Errorf("%w: %s", swarmerr.ErrImmutableRecord, s.policy.Name)
	}
	e, ok := s.index[id]
	if !ok {
		return Entry[T]{}, swarmerr.NotFound(s.policy.Name, id)
	}
	rec := e.Record.Clone()
	if err := fn(cloneEntry(e), &rec); err != nil {
		return Entry[T]{}, err
	}
	e.Record = rec
	e.UpdatedAt = tx.now
	return cloneEntry(e), nil
}

// Update runs fn with exclusive access to the store.
func (s *Store[T]) Update(fn func(tx *Txn[T]) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed || s.halt.Halted() {
		observability.RecordHubWrite(s.policy.Name, "halted")
		return fmt.Errorf("%w: %s rejects writes", swarmerr.ErrSwarmHalted, s.policy.Name)
	}
	if err := fn(&Txn[T]{Reader[T]{s: s, now: s.now()}}); err != nil {
		observability.RecordHubWrite(s.policy.Name, swarmerr.Code(err))
		return err
	}
	observability.RecordHubWrite(s.policy.Name, "ok")
	return nil
}

// View runs fn with shared access to the store. Reads stay legal after
// the kill switch trips.
func (s *Store[T]) View(fn func(r *Reader[T]) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return fn(&Reader[T]{s: s, now: s.now()})
}

// Append stores rec on behalf of author.
func (s *Store[T]) Append(author agent.ID, rec T) (Entry[T], error) {
	var out Entry[T]
	err := s.Update(func(tx *Txn[T]) error {
		out = tx.Append(author, rec)
		return nil
	})
	return out, err
}

// Get returns the entry with id.
func (s *Store[T]) Get(id string) (Entry[T], error) {
	var out Entry[T]
	err := s.View(func(r *Reader[T]) error {
		e, ok := r.Get(id)
		if !ok {
			return swarmerr.NotFound(s.policy.Name, id)
		}
		out = e
		return nil
	})
	return out, err
}

// Mutate updates the record with id. Immutable stores reject it.
func (s *Store[T]) Mutate(id string, fn func(e Entry[T], rec *T) error) (Entry[T], error) {
	var out Entry[T]
	err := s.Update(func(tx *Txn[T]) error {
		var err error
		out, err = tx.Mutate(id, fn)
		return err
	})
	return out, err
}

// List yields entries matching opts and keep. The sequence is lazy and
// restartable; each iteration copies the matching entries under the read
// lock and yields them after releasing it.
func (s *Store[T]) List(opts ListOptions, keep func(Entry[T]) bool) iter.Seq[Entry[T]] {
	return func(yield func(Entry[T]) bool) {
		s.mu.RLock()
		matched := make([]Entry[T], 0, len(s.entries))
		for _, e := range s.entries {
			if opts.Author != "" && e.Author != opts.Author {
				continue
			}
			c := cloneEntry(e)
			if keep != nil && !keep(c) {
				continue
			}
			matched = append(matched, c)
		}
		s.mu.RUnlock()

		if opts.NewestFirst {
			slices.Reverse(matched)
		}
		if opts.Limit > 0 && len(matched) > opts.Limit {
			matched = matched[:opts.Limit]
		}
		for _, e := range matched {
			if !yield(e) {
				return
			}
		}
	}
}

// Len returns the number of stored entries.
func (s *Store[T]) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Clear removes every entry and returns how many were removed.
func (s *Store[T]) Clear() (int, error) {
	var n int
	err := s.Update(func(tx *Txn[T]) error {
		n = len(s.entries)
		clear(s.entries)
		s.entries = s.entries[:0]
		s.index = make(map[string]*Entry[T])
		return nil
	})
	return n, err
}

// Close makes the store reject further writes.
func (s *Store[T]) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
}

// storeState is the persisted form of a store.
type storeState[T any] struct {
	Entries []Entry[T] `json:"entries"`
}

func (s *Store[T]) rlock()   { s.mu.RLock() }
func (s *Store[T]) runlock() { s.mu.RUnlock() }

// snapshotLocked copies the entries. The caller holds the read lock.
func (s *Store[T]) snapshotLocked() []Entry[T] {
	out := make([]Entry[T], 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, cloneEntry(e))
	}
	return out
}

// encodeLocked serializes the entries. The caller holds the read lock.
func (s *Store[T]) encodeLocked() (codec.RawMessage, error) {
	return codec.Marshal(storeState[T]{Entries: s.snapshotLocked()})
}

// decode replaces the entries with the persisted ones. An empty raw
// value leaves the store empty.
func (s *Store[T]) decode(raw codec.RawMessage) error {
	var st storeState[T]
	if len(raw) > 0 {
		if err := codec.Unmarshal(raw, &st); err != nil {
			return fmt.Errorf("decode %s: %w", s.policy.Name, err)
		}
	}
	return s.load(st.Entries)
}

func (s *Store[T]) load(persisted []Entry[T]) error {
	entries := make([]*Entry[T], 0, len(persisted))
	index := make(map[string]*Entry[T], len(persisted))
	for _, e := range persisted {
		if e.ID == "" {
			return swarmerr.Invalid("%s: entry without id", s.policy.Name)
		}
		if _, dup := index[e.ID]; dup {
			return swarmerr.Invalid("%s: duplicate entry %s", s.policy.Name, e.ID)
		}
		c := cloneEntry(&e)
		entries = append(entries, &c)
		index[c.ID] = &c
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = entries
	s.index = index
	return nil
}
