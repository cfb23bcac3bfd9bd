package observability

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"

	"github.com/aixgo-dev/swarm/agent"
	"github.com/aixgo-dev/swarm/pkg/config"
)

func TestInitNone(t *testing.T) {
	require.NoError(t, Init(context.Background(), config.Observability{Tracing: "none"}, zerolog.Nop()))
	assert.NoError(t, Shutdown(context.Background()))
}

func TestInitUnknownExporter(t *testing.T) {
	err := Init(context.Background(), config.Observability{Tracing: "carrier-pigeon"}, zerolog.Nop())
	assert.ErrorContains(t, err, "unknown tracing exporter")
}

func TestInitStdout(t *testing.T) {
	require.NoError(t, Init(context.Background(), config.Observability{Tracing: "stdout", ServiceName: "swarm-test"}, zerolog.Nop()))
	t.Cleanup(func() { _ = Shutdown(context.Background()) })

	_, span := StartSpan(context.Background(), "swarm.spawn", map[string]any{"role": "Scout"})
	span.End()
	assert.True(t, span.Ended())
}

func TestSpanLifecycle(t *testing.T) {
	ctx, span := StartSpan(context.Background(), "swarm.send", map[string]any{
		"from": agent.ID("a1"),
		"seq":  uint64(3),
	})
	require.NotNil(t, ctx)
	assert.Equal(t, "swarm.send", span.Name())

	span.SetAttribute("delivered", true)
	span.SetError(nil)
	span.SetError(errors.New("boom"))
	span.End()
	span.End()
	assert.True(t, span.Ended())
}

func TestConvertToAttribute(t *testing.T) {
	tests := []struct {
		value any
		want  attribute.Value
	}{
		{"s", attribute.StringValue("s")},
		{agent.ID("a1"), attribute.StringValue("a1")},
		{7, attribute.IntValue(7)},
		{int64(8), attribute.Int64Value(8)},
		{uint64(9), attribute.Int64Value(9)},
		{1.5, attribute.Float64Value(1.5)},
		{true, attribute.BoolValue(true)},
		{[]string{"a"}, attribute.StringValue("[a]")},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, convertToAttribute("k", tt.value).Value)
	}
}

func TestParseHeaders(t *testing.T) {
	assert.Nil(t, parseHeaders(""))
	assert.Equal(t, map[string]string{"Authorization": "Basic abc=", "x-team": "swarm"},
		parseHeaders("Authorization=Basic abc=, x-team = swarm,broken"))
}
