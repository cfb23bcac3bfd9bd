package hub

import (
	"encoding/json"
	"fmt"
	"iter"
	"maps"
	"slices"
	"strings"

	"github.com/aixgo-dev/swarm/agent"
	"github.com/aixgo-dev/swarm/internal/clock"
	"github.com/aixgo-dev/swarm/internal/fsutil"
	"github.com/aixgo-dev/swarm/pkg/swarmerr"
)

// Leak is a structured leak-tracker entry keyed by configured field names.
type Leak struct {
	Fields map[string]string `json:"fields"`
}

// Clone implements Record.
func (l Leak) Clone() Leak {
	l.Fields = maps.Clone(l.Fields)
	return l
}

// LeakStore records structured findings and exports them as JSON.
type LeakStore struct {
	store  *Store[Leak]
	fields []string
	path   string
}

func newLeakStore(halt *Switch, c clock.Clock, fields []string, path string) *LeakStore {
	return &LeakStore{
		store:  NewStore[Leak](Policy{Name: StoreLeakTracker}, halt, c),
		fields: slices.Clone(fields),
		path:   path,
	}
}

// Fields returns the accepted field names.
func (s *LeakStore) Fields() []string { return slices.Clone(s.fields) }

// Append records a leak. Keys are matched case-insensitively against the
// configured fields and stored under the configured spelling.
func (s *LeakStore) Append(author agent.ID, fields map[string]string) (Entry[Leak], error) {
	norm := make(map[string]string, len(fields))
	filled := false
	for k, v := range fields {
		i := slices.IndexFunc(s.fields, func(f string) bool { return strings.EqualFold(f, strings.TrimSpace(k)) })
		if i < 0 {
			return Entry[Leak]{}, swarmerr.Invalid("unknown leak field %q (allowed: %s)", k, strings.Join(s.fields, ", "))
		}
		v = strings.TrimSpace(v)
		if v != "" {
			filled = true
		}
		norm[s.fields[i]] = v
	}
	if !filled {
		return Entry[Leak]{}, swarmerr.Invalid("leak entry has no values")
	}
	return s.store.Append(author, Leak{Fields: norm})
}

// Get returns one entry.
func (s *LeakStore) Get(id string) (Entry[Leak], error) { return s.store.Get(id) }

// List yields leak entries.
func (s *LeakStore) List(opts ListOptions) iter.Seq[Entry[Leak]] {
	return s.store.List(opts, nil)
}

// leakExport is the exported file layout.
type leakExport struct {
	Fields  []string      `json:"fields"`
	Entries []Entry[Leak] `json:"entries"`
}

// Marshal renders every entry as indented JSON.
func (s *LeakStore) Marshal() ([]byte, int, error) {
	out := leakExport{Fields: s.fields, Entries: []Entry[Leak]{}}
	err := s.store.View(func(r *Reader[Leak]) error {
		out.Entries = slices.AppendSeq(out.Entries, r.All())
		return nil
	})
	if err != nil {
		return nil, 0, err
	}
	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return nil, 0, fmt.Errorf("marshal leak tracker: %w", err)
	}
	return append(data, '\n'), len(out.Entries), nil
}

// Export writes the tracker to the configured path and returns the path and
// the number of entries written. Export stays legal after the kill switch.
func (s *LeakStore) Export() (string, int, error) {
	if s.path == "" {
		return "", 0, swarmerr.Invalid("no leak tracker export path configured")
	}
	data, n, err := s.Marshal()
	if err != nil {
		return "", 0, err
	}
	if err := fsutil.WriteFileAtomic(s.path, data, 0600); err != nil {
		return "", 0, fmt.Errorf("export leak tracker: %w", err)
	}
	return s.path, n, nil
}

// Clear empties the tracker. Only the root agent may clear it.
func (s *LeakStore) Clear(caller agent.Summary) (int, error) {
	if !caller.IsRoot() {
		return 0, fmt.Errorf("%w: only the root agent may clear the leak tracker", swarmerr.ErrPermissionDenied)
	}
	return s.store.Clear()
}
