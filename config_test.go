package swarm

import (
	"errors"
	"io/fs"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aixgo-dev/swarm/pkg/security"
)

func TestConfigLoader(t *testing.T) {
	fr := NewMockFileReader()
	fr.AddFile("swarm.yaml", []byte(`
root_role: lead
default_spawn_role: worker
roles:
  - name: worker
  - name: lead
    spawn_limit: 2
budget:
  limit: 75
`))
	loader := NewConfigLoader(fr)

	cfg, err := loader.LoadConfig("swarm.yaml")
	require.NoError(t, err)
	assert.Equal(t, 1, fr.Reads("swarm.yaml"))
	assert.Equal(t, "lead", cfg.RootRoleName())
	assert.Equal(t, "worker", cfg.DefaultSpawnRoleName())
	assert.Equal(t, int64(75), cfg.Budget.Limit)
	role, ok := cfg.Role("lead")
	require.True(t, ok)
	assert.Equal(t, 2, role.SpawnLimit)
}

func TestConfigLoaderDefaults(t *testing.T) {
	fr := NewMockFileReader()
	cfg, err := NewConfigLoader(fr).LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, 0, fr.Reads(""), "an empty path never touches the reader")
	assert.Equal(t, "Scholar", cfg.RootRoleName())
	assert.Len(t, cfg.Roles, 3)
}

func TestConfigLoaderErrors(t *testing.T) {
	fr := NewMockFileReader()
	boom := errors.New("disk on fire")
	fr.FailPath("broken.yaml", boom)
	fr.AddFile("bad.yaml", []byte("roles: [unterminated"))
	fr.AddFile("invalid.yaml", []byte("root_role: ghost\n"))
	fr.AddFile("big.yaml", []byte("budget:\n  limit: 10\n"))

	loader := NewConfigLoader(fr)

	_, err := loader.LoadConfig("missing.yaml")
	assert.ErrorIs(t, err, fs.ErrNotExist)

	_, err = loader.LoadConfig("broken.yaml")
	assert.ErrorIs(t, err, boom)

	_, err = loader.LoadConfig("bad.yaml")
	assert.Error(t, err)

	_, err = loader.LoadConfig("invalid.yaml")
	assert.Error(t, err, "validation rejects an unknown root role")

	limits := security.DefaultYAMLLimits()
	limits.MaxFileSize = 8
	_, err = NewConfigLoaderWithLimits(fr, limits).LoadConfig("big.yaml")
	assert.ErrorIs(t, err, security.ErrYAMLLimit)
}
