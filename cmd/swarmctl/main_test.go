package main

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aixgo-dev/swarm"
	"github.com/aixgo-dev/swarm/agent"
	"github.com/aixgo-dev/swarm/internal/clock"
	"github.com/aixgo-dev/swarm/internal/persistence"
	"github.com/aixgo-dev/swarm/pkg/config"
)

func newSession(t *testing.T) (*swarm.Session, agent.ID) {
	t.Helper()
	cfg := config.Default()
	cfg.Hub.StorageDir = t.TempDir()
	cfg.ApplyDefaults()
	backend, err := persistence.NewFileBackend(t.TempDir())
	require.NoError(t, err)

	s := swarm.New(cfg,
		swarm.WithClock(clock.NewFake(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))),
		swarm.WithBackend(backend),
	)
	t.Cleanup(func() { _ = s.Close(context.Background()) })
	root, err := s.Spawn(context.Background(), agent.NoParent, "", "")
	require.NoError(t, err)
	return s, root.ID
}

func TestConsoleExec(t *testing.T) {
	s, root := newSession(t)
	var out bytes.Buffer
	c := newConsole(s, root, &out)
	ctx := context.Background()

	assert.False(t, c.exec(ctx, `swarm_spawn {"role":"Scribe"}`))
	assert.Contains(t, out.String(), `"ok": true`)

	var kid agent.ID
	for a := range s.Agents(agent.Filter{Role: "Scribe"}) {
		kid = a.ID
	}
	require.NotEmpty(t, kid)

	out.Reset()
	c.exec(ctx, "as "+string(kid))
	assert.Equal(t, kid, c.caller)
	assert.Contains(t, out.String(), "acting as")

	out.Reset()
	c.exec(ctx, "as nobody")
	assert.Equal(t, kid, c.caller, "a failed switch keeps the current caller")
	assert.Contains(t, out.String(), "error:")

	out.Reset()
	c.exec(ctx, `swarm_hub {"action":"lounge_append","text":"hi"}`)
	assert.Contains(t, out.String(), `"ok": true`)

	out.Reset()
	c.exec(ctx, `swarm_hub {"action":"lounge_clear"}`)
	assert.Contains(t, out.String(), `"permission_denied"`)

	out.Reset()
	c.exec(ctx, "agents")
	assert.Contains(t, out.String(), string(kid)+" *")
	assert.Contains(t, out.String(), "Scholar")

	out.Reset()
	c.exec(ctx, "checkpoint")
	assert.Contains(t, out.String(), "checkpoint ")

	out.Reset()
	c.exec(ctx, "tools")
	assert.Contains(t, out.String(), "swarm_receive")
	assert.Contains(t, out.String(), "budget_consume")

	assert.True(t, c.exec(ctx, "quit"))
	assert.Contains(t, c.complete("swarm_b"), "swarm_broadcast")
}

func TestInspect(t *testing.T) {
	s, root := newSession(t)
	_, err := s.Hub().Lounge.Append(root, "note")
	require.NoError(t, err)
	s.Hub().Kill(root, "test")

	blob, err := s.Snapshot(context.Background())
	require.NoError(t, err)

	var out bytes.Buffer
	require.NoError(t, inspect(&out, blob))
	assert.Contains(t, out.String(), "agents:    1")
	assert.Contains(t, out.String(), "spawned")
	assert.Contains(t, out.String(), "lounge")
	assert.Contains(t, out.String(), "kill switch: tripped by "+string(root))

	assert.Error(t, inspect(&out, []byte("nope")))
}

func TestConfigInit(t *testing.T) {
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"config", "init"})
	require.NoError(t, cmd.Execute())

	cfg, err := config.Parse(out.Bytes())
	require.NoError(t, err)
	assert.Equal(t, config.Default().RootRoleName(), cfg.RootRoleName())
	assert.Len(t, cfg.Roles, 3)
}
