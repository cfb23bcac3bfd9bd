package codec

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sample struct {
	Name  string            `json:"name"`
	At    time.Time         `json:"at"`
	Tags  map[string]string `json:"tags,omitempty"`
	Extra RawMessage        `json:"extra,omitempty"`
}

func TestDeterministic(t *testing.T) {
	v := map[string]int{"zeta": 1, "alpha": 2, "mid": 3}
	first, err := Marshal(v)
	require.NoError(t, err)
	for i := 0; i < 20; i++ {
		again, err := Marshal(v)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestTimeRoundTripKeepsNanoseconds(t *testing.T) {
	in := sample{
		Name: "checkpoint",
		At:   time.Date(2026, 4, 1, 10, 30, 15, 123456789, time.UTC),
		Tags: map[string]string{"b": "2", "a": "1"},
	}
	data, err := Marshal(in)
	require.NoError(t, err)

	var out sample
	require.NoError(t, Unmarshal(data, &out))
	assert.True(t, in.At.Equal(out.At))
	assert.Equal(t, in.At.Nanosecond(), out.At.Nanosecond())
	assert.Equal(t, in.Tags, out.Tags)
}

func TestRawMessageDefersDecoding(t *testing.T) {
	inner, err := Marshal([]string{"a", "b"})
	require.NoError(t, err)
	data, err := Marshal(sample{Name: "x", Extra: inner})
	require.NoError(t, err)

	var out sample
	require.NoError(t, Unmarshal(data, &out))
	var list []string
	require.NoError(t, Unmarshal(out.Extra, &list))
	assert.Equal(t, []string{"a", "b"}, list)
}

func TestUnknownFieldsIgnored(t *testing.T) {
	data, err := Marshal(map[string]any{"name": "x", "future_field": 42})
	require.NoError(t, err)

	var out sample
	require.NoError(t, Unmarshal(data, &out))
	assert.Equal(t, "x", out.Name)
}

func TestAnyDecodesToStringMaps(t *testing.T) {
	data, err := Marshal(map[string]any{"outer": map[string]any{"k": "v"}})
	require.NoError(t, err)

	var out any
	require.NoError(t, Unmarshal(data, &out))
	m, ok := out.(map[string]any)
	require.True(t, ok)
	_, ok = m["outer"].(map[string]any)
	assert.True(t, ok)

	diag, err := Diagnose(data)
	require.NoError(t, err)
	assert.Contains(t, diag, `"outer"`)
}
