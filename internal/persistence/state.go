// Package persistence snapshots swarm state into self-checking blobs and
// stores them in durable backends.
//
// A blob is a CBOR envelope carrying a magic string, a format version, the
// capture time, a BLAKE3 checksum and the zstd-compressed CBOR state. Any
// failure to decode a blob is reported as swarmerr.ErrSnapshotCorrupt.
package persistence

import (
	"github.com/aixgo-dev/swarm/agent"
	"github.com/aixgo-dev/swarm/internal/codec"
	"github.com/aixgo-dev/swarm/internal/routing"
)

// State is everything a session needs to resume.
type State struct {
	// Agents are in creation order.
	Agents    []agent.Summary        `json:"agents"`
	Mailboxes []routing.MailboxState `json:"mailboxes,omitempty"`
	// Hub is keyed by store name. It is nil when the hub has not been
	// created yet.
	Hub map[string]codec.RawMessage `json:"hub,omitempty"`
}

// Counts summarizes a state for inspection.
type Counts struct {
	Agents   map[agent.Status]int `json:"agents"`
	Pending  int                  `json:"pending_messages"`
	HubBytes map[string]int       `json:"hub_bytes,omitempty"`
}

// Counts returns agents per status, pending messages and the encoded size
// of each hub store.
func (s State) Counts() Counts {
	c := Counts{Agents: make(map[agent.Status]int)}
	for _, a := range s.Agents {
		c.Agents[a.Status]++
	}
	for _, m := range s.Mailboxes {
		c.Pending += len(m.Messages)
	}
	if s.Hub != nil {
		c.HubBytes = make(map[string]int, len(s.Hub))
		for name, raw := range s.Hub {
			c.HubBytes[name] = len(raw)
		}
	}
	return c
}
