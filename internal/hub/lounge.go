package hub

import (
	"fmt"
	"iter"
	"strings"

	"github.com/aixgo-dev/swarm/agent"
	"github.com/aixgo-dev/swarm/internal/clock"
	"github.com/aixgo-dev/swarm/pkg/swarmerr"
)

// maxNoteLength bounds a single lounge entry in bytes.
const maxNoteLength = 16 * 1024

// Note is a free-text lounge entry.
type Note struct {
	Text string `json:"text"`
}

// Clone implements Record.
func (n Note) Clone() Note { return n }

// LoungeStore is the shared scratchpad. Entries are append-only; when
// capacity is reached the oldest entry is dropped.
type LoungeStore struct {
	store *Store[Note]
}

func newLoungeStore(halt *Switch, c clock.Clock, capacity int) *LoungeStore {
	return &LoungeStore{store: NewStore[Note](Policy{Name: StoreLounge, Capacity: capacity}, halt, c)}
}

// Append posts text to the lounge.
func (s *LoungeStore) Append(author agent.ID, text string) (Entry[Note], error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Entry[Note]{}, swarmerr.Invalid("lounge entry is empty")
	}
	if len(text) > maxNoteLength {
		return Entry[Note]{}, swarmerr.Invalid("lounge entry is %d bytes, max %d", len(text), maxNoteLength)
	}
	return s.store.Append(author, Note{Text: text})
}

// Get returns one entry.
func (s *LoungeStore) Get(id string) (Entry[Note], error) { return s.store.Get(id) }

// List yields lounge entries.
func (s *LoungeStore) List(opts ListOptions) iter.Seq[Entry[Note]] {
	return s.store.List(opts, nil)
}

// Clear empties the lounge. Only the root agent may clear it.
func (s *LoungeStore) Clear(caller agent.Summary) (int, error) {
	if !caller.IsRoot() {
		return 0, fmt.Errorf("%w: only the root agent may clear the lounge", swarmerr.ErrPermissionDenied)
	}
	return s.store.Clear()
}
