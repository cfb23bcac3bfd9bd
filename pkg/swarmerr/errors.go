// Package swarmerr defines the named failures returned by the swarm core.
//
// Every failure is recoverable by the caller. Sentinels are compared with
// errors.Is; typed errors carry the offending identifiers and unwrap to
// their sentinel so both styles work:
//
//	if errors.Is(err, swarmerr.ErrRoutingDenied) { ... }
//
//	var rerr *swarmerr.RoutingError
//	if errors.As(err, &rerr) { log(rerr.FromTier, rerr.ToTier) }
package swarmerr

import (
	"errors"
	"fmt"
)

// Core taxonomy.
var (
	// ErrUnknownRole is returned when a spawn names a role that is not configured.
	ErrUnknownRole = errors.New("unknown role")
	// ErrUnknownParent is returned when a spawn names a parent that is absent or terminal.
	ErrUnknownParent = errors.New("unknown parent")
	// ErrUnknownAgent is returned when an agent id is absent or terminal.
	ErrUnknownAgent = errors.New("unknown agent")
	// ErrSpawnLimitExceeded is returned when a parent already owns its role's limit of live children.
	ErrSpawnLimitExceeded = errors.New("spawn limit exceeded")
	// ErrInvalidTransition is returned for a status change the lifecycle does not allow.
	ErrInvalidTransition = errors.New("invalid transition")
	// ErrRoutingDenied is returned when the hierarchy forbids a send.
	ErrRoutingDenied = errors.New("routing denied")
	// ErrAlreadyClaimed is returned when claiming a task that already has an owner.
	ErrAlreadyClaimed = errors.New("already claimed")
	// ErrBudgetExhausted is returned when the budget cannot cover a consume.
	ErrBudgetExhausted = errors.New("budget exhausted")
	// ErrSwarmHalted is returned for writes after the kill-switch fired or the hub closed.
	ErrSwarmHalted = errors.New("swarm halted")
	// ErrSnapshotCorrupt is returned when a snapshot blob cannot be decoded.
	// It is fatal to resume: callers must start a fresh session.
	ErrSnapshotCorrupt = errors.New("snapshot corrupt")
)

// Supplementary failures.
var (
	ErrRecordNotFound   = errors.New("record not found")
	ErrPermissionDenied = errors.New("permission denied")
	ErrInvalidArgument  = errors.New("invalid argument")
	ErrMailboxFull      = errors.New("mailbox full")
	ErrRateLimited      = errors.New("rate limited")
	ErrRootExists       = errors.New("root agent already exists")
	ErrImmutableRecord  = errors.New("record is immutable")
	ErrDuplicateRecord  = errors.New("duplicate record")
)

var codes = []struct {
	err  error
	code string
}{
	{ErrUnknownRole, "unknown_role"},
	{ErrUnknownParent, "unknown_parent"},
	{ErrUnknownAgent, "unknown_agent"},
	{ErrSpawnLimitExceeded, "spawn_limit_exceeded"},
	{ErrInvalidTransition, "invalid_transition"},
	{ErrRoutingDenied, "routing_denied"},
	{ErrAlreadyClaimed, "already_claimed"},
	{ErrBudgetExhausted, "budget_exhausted"},
	{ErrSwarmHalted, "swarm_halted"},
	{ErrSnapshotCorrupt, "snapshot_corrupt"},
	{ErrRecordNotFound, "record_not_found"},
	{ErrPermissionDenied, "permission_denied"},
	{ErrInvalidArgument, "invalid_argument"},
	{ErrMailboxFull, "mailbox_full"},
	{ErrRateLimited, "rate_limited"},
	{ErrRootExists, "root_exists"},
	{ErrImmutableRecord, "immutable_record"},
	{ErrDuplicateRecord, "duplicate_record"},
}

// Code maps err to a stable snake_case failure name. Errors outside the
// taxonomy map to "internal"; nil maps to "".
func Code(err error) string {
	if err == nil {
		return ""
	}
	for _, c := range codes {
		if errors.Is(err, c.err) {
			return c.code
		}
	}
	return "internal"
}

// Invalid wraps ErrInvalidArgument with a formatted reason.
func Invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidArgument, fmt.Sprintf(format, args...))
}

// NotFound wraps ErrRecordNotFound for the given store and id.
func NotFound(store, id string) error {
	return fmt.Errorf("%w: %s %q", ErrRecordNotFound, store, id)
}

// SpawnLimitError describes a rejected spawn.
type SpawnLimitError struct {
	Parent string
	Role   string
	Limit  int
}

func (e *SpawnLimitError) Error() string {
	return fmt.Sprintf("spawn limit exceeded: parent %s (%s) already owns %d live children", e.Parent, e.Role, e.Limit)
}

// Unwrap returns the base error for errors.Is compatibility.
func (e *SpawnLimitError) Unwrap() error { return ErrSpawnLimitExceeded }

// TransitionError describes an illegal lifecycle change.
type TransitionError struct {
	Agent string
	From  string
	To    string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("invalid transition for %s: %s -> %s", e.Agent, e.From, e.To)
}

// Unwrap returns the base error for errors.Is compatibility.
func (e *TransitionError) Unwrap() error { return ErrInvalidTransition }

// RoutingError describes a send rejected by the hierarchy policy.
type RoutingError struct {
	From     string
	To       string
	FromTier int
	ToTier   int
}

func (e *RoutingError) Error() string {
	return fmt.Sprintf("routing denied: %s (tier %d) -> %s (tier %d)", e.From, e.FromTier, e.To, e.ToTier)
}

// Unwrap returns the base error for errors.Is compatibility.
func (e *RoutingError) Unwrap() error { return ErrRoutingDenied }

// ClaimError describes a claim on a task that is already owned.
type ClaimError struct {
	Task  string
	Owner string
}

func (e *ClaimError) Error() string {
	return fmt.Sprintf("task %s already claimed by %s", e.Task, e.Owner)
}

// Unwrap returns the base error for errors.Is compatibility.
func (e *ClaimError) Unwrap() error { return ErrAlreadyClaimed }

// CorruptError wraps the decoding failure behind ErrSnapshotCorrupt.
type CorruptError struct {
	Stage string
	Err   error
}

func (e *CorruptError) Error() string {
	return fmt.Sprintf("snapshot corrupt (%s): %v", e.Stage, e.Err)
}

// Unwrap exposes both the sentinel and the underlying cause.
func (e *CorruptError) Unwrap() []error { return []error{ErrSnapshotCorrupt, e.Err} }
