package hub

import (
	"iter"
	"strings"

	"github.com/aixgo-dev/swarm/agent"
	"github.com/aixgo-dev/swarm/internal/clock"
	"github.com/aixgo-dev/swarm/pkg/swarmerr"
)

// Artifact indexes a file produced or extracted during the session.
type Artifact struct {
	Reference   string   `json:"reference"`
	Location    string   `json:"location"`
	Extractor   agent.ID `json:"extractor"`
	Description string   `json:"description,omitempty"`
}

// Clone implements Record.
func (a Artifact) Clone() Artifact { return a }

// ArtifactIndex lists artifacts. Entries are append-only.
type ArtifactIndex struct {
	store *Store[Artifact]
}

func newArtifactIndex(halt *Switch, c clock.Clock) *ArtifactIndex {
	return &ArtifactIndex{store: NewStore[Artifact](Policy{Name: StoreArtifactIndex}, halt, c)}
}

// Append indexes an artifact. The extractor defaults to the author.
func (x *ArtifactIndex) Append(author agent.ID, a Artifact) (Entry[Artifact], error) {
	a.Reference = strings.TrimSpace(a.Reference)
	a.Location = strings.TrimSpace(a.Location)
	if a.Reference == "" || a.Location == "" {
		return Entry[Artifact]{}, swarmerr.Invalid("artifact reference and location are required")
	}
	if a.Extractor == "" {
		a.Extractor = author
	}
	return x.store.Append(author, a)
}

// Get returns one artifact.
func (x *ArtifactIndex) Get(id string) (Entry[Artifact], error) { return x.store.Get(id) }

// List yields artifacts, optionally only those from extractor.
func (x *ArtifactIndex) List(opts ListOptions, extractor agent.ID) iter.Seq[Entry[Artifact]] {
	return x.store.List(opts, func(e Entry[Artifact]) bool {
		return extractor == "" || e.Record.Extractor == extractor
	})
}
