package hub

import (
	"iter"
	"slices"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aixgo-dev/swarm/agent"
	"github.com/aixgo-dev/swarm/internal/clock"
	"github.com/aixgo-dev/swarm/pkg/swarmerr"
)

type tagged struct {
	Tags []string `json:"tags"`
}

func (t tagged) Clone() tagged {
	t.Tags = slices.Clone(t.Tags)
	return t
}

var testStart = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestStore(t *testing.T, policy Policy) (*Store[tagged], *Switch, *clock.Fake) {
	t.Helper()
	fake := clock.NewFake(testStart)
	halt := &Switch{}
	if policy.Name == "" {
		policy.Name = "test"
	}
	return NewStore[tagged](policy, halt, fake), halt, fake
}

func entryIDs[T any](seq iter.Seq[Entry[T]]) []string {
	var out []string
	for e := range seq {
		out = append(out, e.ID)
	}
	return out
}

func TestStoreAppendGet(t *testing.T) {
	s, _, fake := newTestStore(t, Policy{})

	e, err := s.Append("a1", tagged{Tags: []string{"x"}})
	require.NoError(t, err)
	assert.NotEmpty(t, e.ID)
	assert.Equal(t, agent.ID("a1"), e.Author)
	assert.Equal(t, testStart, e.CreatedAt)
	assert.Equal(t, e.CreatedAt, e.UpdatedAt)

	fake.Advance(time.Second)
	got, err := s.Get(e.ID)
	require.NoError(t, err)
	assert.Equal(t, e, got)

	_, err = s.Get("missing")
	assert.ErrorIs(t, err, swarmerr.ErrRecordNotFound)
}

func TestStoreCopiesRecords(t *testing.T) {
	s, _, _ := newTestStore(t, Policy{Mutable: true})

	in := tagged{Tags: []string{"x"}}
	e, err := s.Append("a1", in)
	require.NoError(t, err)

	in.Tags[0] = "mutated-input"
	e.Record.Tags[0] = "mutated-output"

	got, err := s.Get(e.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"x"}, got.Record.Tags)
}

func TestStoreListOptions(t *testing.T) {
	s, _, _ := newTestStore(t, Policy{})
	var all []string
	for i, author := range []agent.ID{"a1", "a2", "a1", "a2"} {
		e, err := s.Append(author, tagged{Tags: []string{string(rune('a' + i))}})
		require.NoError(t, err)
		all = append(all, e.ID)
	}

	assert.Equal(t, all, entryIDs(s.List(ListOptions{}, nil)))
	assert.Equal(t, []string{all[3], all[2]}, entryIDs(s.List(ListOptions{NewestFirst: true, Limit: 2}, nil)))
	assert.Equal(t, []string{all[0], all[2]}, entryIDs(s.List(ListOptions{Author: "a1"}, nil)))
	assert.Equal(t, []string{all[1]}, entryIDs(s.List(ListOptions{}, func(e Entry[tagged]) bool {
		return e.Record.Tags[0] == "b"
	})))

	// Sequences are restartable.
	seq := s.List(ListOptions{}, nil)
	assert.Equal(t, entryIDs(seq), entryIDs(seq))
}

func TestStoreCapacityEvictsOldest(t *testing.T) {
	s, _, _ := newTestStore(t, Policy{Capacity: 2})
	first, err := s.Append("a1", tagged{})
	require.NoError(t, err)
	second, err := s.Append("a1", tagged{})
	require.NoError(t, err)
	third, err := s.Append("a1", tagged{})
	require.NoError(t, err)

	assert.Equal(t, 2, s.Len())
	assert.Equal(t, []string{second.ID, third.ID}, entryIDs(s.List(ListOptions{}, nil)))
	_, err = s.Get(first.ID)
	assert.ErrorIs(t, err, swarmerr.ErrRecordNotFound)
}

func TestStoreMutate(t *testing.T) {
	t.Run("immutable", func(t *testing.T) {
		s, _, _ := newTestStore(t, Policy{})
		e, err := s.Append("a1", tagged{})
		require.NoError(t, err)
		_, err = s.Mutate(e.ID, func(Entry[tagged], *tagged) error { return nil })
		assert.ErrorIs(t, err, swarmerr.ErrImmutableRecord)
	})

	t.Run("mutable", func(t *testing.T) {
		s, _, fake := newTestStore(t, Policy{Mutable: true})
		e, err := s.Append("a1", tagged{Tags: []string{"x"}})
		require.NoError(t, err)

		fake.Advance(time.Minute)
		got, err := s.Mutate(e.ID, func(_ Entry[tagged], r *tagged) error {
			r.Tags = append(r.Tags, "y")
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, []string{"x", "y"}, got.Record.Tags)
		assert.Equal(t, testStart, got.CreatedAt)
		assert.Equal(t, testStart.Add(time.Minute), got.UpdatedAt)
	})

	t.Run("failed mutation leaves record unchanged", func(t *testing.T) {
		s, _, _ := newTestStore(t, Policy{Mutable: true})
		e, err := s.Append("a1", tagged{Tags: []string{"x"}})
		require.NoError(t, err)

		_, err = s.Mutate(e.ID, func(_ Entry[tagged], r *tagged) error {
			r.Tags[0] = "changed"
			return swarmerr.Invalid("nope")
		})
		require.ErrorIs(t, err, swarmerr.ErrInvalidArgument)

		got, err := s.Get(e.ID)
		require.NoError(t, err)
		assert.Equal(t, []string{"x"}, got.Record.Tags)
	})

	t.Run("missing", func(t *testing.T) {
		s, _, _ := newTestStore(t, Policy{Mutable: true})
		_, err := s.Mutate("nope", func(Entry[tagged], *tagged) error { return nil })
		assert.ErrorIs(t, err, swarmerr.ErrRecordNotFound)
	})
}

func TestStoreHaltRejectsWritesKeepsReads(t *testing.T) {
	s, halt, _ := newTestStore(t, Policy{Mutable: true})
	e, err := s.Append("a1", tagged{})
	require.NoError(t, err)

	assert.True(t, halt.Halt())
	assert.False(t, halt.Halt(), "second halt is a no-op")

	_, err = s.Append("a1", tagged{})
	assert.ErrorIs(t, err, swarmerr.ErrSwarmHalted)
	_, err = s.Mutate(e.ID, func(Entry[tagged], *tagged) error { return nil })
	assert.ErrorIs(t, err, swarmerr.ErrSwarmHalted)
	_, err = s.Clear()
	assert.ErrorIs(t, err, swarmerr.ErrSwarmHalted)

	_, err = s.Get(e.ID)
	assert.NoError(t, err)
	assert.Len(t, entryIDs(s.List(ListOptions{}, nil)), 1)
}

func TestStoreClose(t *testing.T) {
	s, _, _ := newTestStore(t, Policy{})
	s.Close()
	_, err := s.Append("a1", tagged{})
	assert.ErrorIs(t, err, swarmerr.ErrSwarmHalted)
}

func TestStoreClear(t *testing.T) {
	s, _, _ := newTestStore(t, Policy{})
	for range 3 {
		_, err := s.Append("a1", tagged{})
		require.NoError(t, err)
	}
	n, err := s.Clear()
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Zero(t, s.Len())
}

func TestStoreEncodeDecode(t *testing.T) {
	s, _, _ := newTestStore(t, Policy{Mutable: true})
	for _, tag := range []string{"x", "y"} {
		_, err := s.Append("a1", tagged{Tags: []string{tag}})
		require.NoError(t, err)
	}

	s.rlock()
	raw, err := s.encodeLocked()
	s.runlock()
	require.NoError(t, err)

	restored, _, _ := newTestStore(t, Policy{Mutable: true})
	require.NoError(t, restored.decode(raw))
	assert.Equal(t, slices.Collect(s.List(ListOptions{}, nil)), slices.Collect(restored.List(ListOptions{}, nil)))

	empty, _, _ := newTestStore(t, Policy{})
	require.NoError(t, empty.decode(nil))
	assert.Zero(t, empty.Len())

	assert.Error(t, empty.decode([]byte{0xff}))
}

func TestStoreDecodeRejectsDuplicates(t *testing.T) {
	s, _, _ := newTestStore(t, Policy{})
	err := s.load([]Entry[tagged]{{ID: "x"}, {ID: "x"}})
	assert.ErrorIs(t, err, swarmerr.ErrInvalidArgument)

	err = s.load([]Entry[tagged]{{ID: ""}})
	assert.ErrorIs(t, err, swarmerr.ErrInvalidArgument)
}
