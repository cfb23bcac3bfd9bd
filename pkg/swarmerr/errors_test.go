package swarmerr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, ""},
		{"sentinel", ErrSwarmHalted, "swarm_halted"},
		{"wrapped sentinel", fmt.Errorf("lounge append: %w", ErrSwarmHalted), "swarm_halted"},
		{"typed routing", &RoutingError{From: "a", To: "b", FromTier: 0, ToTier: 2}, "routing_denied"},
		{"typed spawn", &SpawnLimitError{Parent: "p", Role: "Scribe", Limit: 2}, "spawn_limit_exceeded"},
		{"typed claim", &ClaimError{Task: "t", Owner: "o"}, "already_claimed"},
		{"corrupt", &CorruptError{Stage: "checksum", Err: errors.New("mismatch")}, "snapshot_corrupt"},
		{"invalid helper", Invalid("confidence %v out of range", 1.5), "invalid_argument"},
		{"not found helper", NotFound("tasks", "x"), "record_not_found"},
		{"foreign", errors.New("disk on fire"), "internal"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Code(tt.err))
		})
	}
}

func TestCorruptErrorUnwrapsCause(t *testing.T) {
	cause := errors.New("unexpected EOF")
	err := fmt.Errorf("restore: %w", &CorruptError{Stage: "decompress", Err: cause})

	assert.ErrorIs(t, err, ErrSnapshotCorrupt)
	assert.ErrorIs(t, err, cause)

	var cerr *CorruptError
	if assert.ErrorAs(t, err, &cerr) {
		assert.Equal(t, "decompress", cerr.Stage)
	}
}
