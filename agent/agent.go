package agent

import (
	"fmt"
	"slices"
	"strings"
	"time"
)

// ID identifies an agent within a session. IDs are assigned by the registry.
type ID string

// NoParent is the sentinel parent used when spawning the root agent.
const NoParent ID = ""

func (id ID) String() string { return string(id) }

// Status is an agent's lifecycle state.
//
//	Spawned -> Running -> (Waiting | Blocked) -> Running -> Closed
//
// Failed is reachable from every non-terminal status. Closed and Failed
// are terminal.
type Status string

const (
	StatusSpawned Status = "spawned"
	StatusRunning Status = "running"
	StatusWaiting Status = "waiting"
	StatusBlocked Status = "blocked"
	StatusClosed  Status = "closed"
	StatusFailed  Status = "failed"
)

// Statuses lists every status in lifecycle order.
var Statuses = []Status{StatusSpawned, StatusRunning, StatusWaiting, StatusBlocked, StatusClosed, StatusFailed}

var transitions = map[Status][]Status{
	StatusSpawned: {StatusRunning, StatusFailed},
	StatusRunning: {StatusWaiting, StatusBlocked, StatusClosed, StatusFailed},
	StatusWaiting: {StatusRunning, StatusFailed},
	StatusBlocked: {StatusRunning, StatusFailed},
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	return slices.Contains(Statuses, s)
}

// Terminal reports whether no further transitions are possible from s.
func (s Status) Terminal() bool {
	return s == StatusClosed || s == StatusFailed
}

// CanTransition reports whether the lifecycle has an edge from -> to.
// It does not treat from == to as an edge; idempotence is the registry's concern.
func CanTransition(from, to Status) bool {
	return slices.Contains(transitions[from], to)
}

// ParseStatus converts a case-insensitive status name.
func ParseStatus(s string) (Status, error) {
	st := Status(strings.ToLower(strings.TrimSpace(s)))
	if !st.Valid() {
		return "", fmt.Errorf("unknown status %q", s)
	}
	return st, nil
}

// CloseReason explains why an agent left the swarm.
type CloseReason struct {
	Failed  bool   `json:"failed,omitempty"`
	Message string `json:"message,omitempty"`
}

// Status returns the terminal status the reason maps to.
func (r CloseReason) Status() Status {
	if r.Failed {
		return StatusFailed
	}
	return StatusClosed
}

// Summary is a read-only view of an agent record.
type Summary struct {
	ID           ID        `json:"id"`
	Role         string    `json:"role"`
	Model        string    `json:"model,omitempty"`
	Tier         int       `json:"tier"`
	Instructions string    `json:"instructions,omitempty"`
	Status       Status    `json:"status"`
	Parent       ID        `json:"parent,omitempty"`
	Children     []ID      `json:"children,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	LastActivity time.Time `json:"last_activity"`
	CloseReason  string    `json:"close_reason,omitempty"`
}

// IsRoot reports whether the agent was spawned without a parent.
func (s Summary) IsRoot() bool { return s.Parent == NoParent }

// Live reports whether the agent can still be targeted by operations.
func (s Summary) Live() bool { return !s.Status.Terminal() }

// Filter selects agents in registry listings. Zero values match everything.
type Filter struct {
	// Role matches case-insensitively.
	Role string
	// Statuses matches any of the listed statuses.
	Statuses []Status
	// Ancestor restricts the listing to descendants of this agent.
	Ancestor ID
}
