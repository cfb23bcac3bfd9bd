package security

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type roleDoc struct {
	Name  string   `yaml:"name"`
	Tier  int      `yaml:"tier"`
	Tools []string `yaml:"tools"`
}

func TestSafeYAMLParser_BasicParsing(t *testing.T) {
	p := NewSafeYAMLParser(DefaultYAMLLimits())

	var doc roleDoc
	require.NoError(t, p.UnmarshalYAML([]byte("name: Scout\ntier: 0\ntools: [read, grep]\n"), &doc))
	assert.Equal(t, roleDoc{Name: "Scout", Tier: 0, Tools: []string{"read", "grep"}}, doc)
}

func TestSafeYAMLParser_Empty(t *testing.T) {
	p := NewSafeYAMLParser(DefaultYAMLLimits())
	doc := roleDoc{Name: "keep"}
	require.NoError(t, p.UnmarshalYAML(nil, &doc))
	assert.Equal(t, "keep", doc.Name)
}

func TestSafeYAMLParser_Limits(t *testing.T) {
	limits := YAMLLimits{
		MaxFileSize:  512,
		MaxDepth:     3,
		MaxNodes:     40,
		MaxKeyLength: 16,
		MaxValueSize: 32,
		MaxAliases:   2,
	}

	tests := []struct {
		name string
		doc  string
	}{
		{"file size", "name: " + strings.Repeat("x", 600)},
		{"depth", "a:\n  b:\n    c:\n      d: 1\n"},
		{"node count", "tools: [" + strings.Repeat("x, ", 40) + "x]"},
		{"key length", strings.Repeat("k", 17) + ": 1"},
		{"value size", "name: " + strings.Repeat("v", 33)},
		{"aliases", "a: &x 1\nb: *x\nc: *x\nd: *x\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out map[string]any
			err := NewSafeYAMLParser(limits).UnmarshalYAML([]byte(tt.doc), &out)
			assert.ErrorIs(t, err, ErrYAMLLimit)
		})
	}
}

func TestSafeYAMLParser_YAMLBombPrevention(t *testing.T) {
	var b strings.Builder
	b.WriteString("l0: &l0 [x, x, x, x, x, x, x, x, x]\n")
	for i := 1; i < 9; i++ {
		fmt.Fprintf(&b, "l%d: &l%d [*l%d, *l%d, *l%d, *l%d, *l%d, *l%d, *l%d, *l%d, *l%d]\n",
			i, i, i-1, i-1, i-1, i-1, i-1, i-1, i-1, i-1, i-1)
	}

	var out map[string]any
	err := NewSafeYAMLParser(DefaultYAMLLimits()).UnmarshalYAML([]byte(b.String()), &out)
	assert.ErrorIs(t, err, ErrYAMLLimit)
}

func TestSafeYAMLParser_InvalidSyntax(t *testing.T) {
	var out map[string]any
	err := NewSafeYAMLParser(DefaultYAMLLimits()).UnmarshalYAML([]byte("a: [[["), &out)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrYAMLLimit)
}

func TestSafeYAMLParser_FromReader(t *testing.T) {
	p := NewSafeYAMLParser(DefaultYAMLLimits())

	var doc roleDoc
	require.NoError(t, p.UnmarshalYAMLFromReader(strings.NewReader("name: Scribe\ntier: 1\n"), &doc))
	assert.Equal(t, 1, doc.Tier)

	limits := DefaultYAMLLimits()
	limits.MaxFileSize = 8
	err := NewSafeYAMLParser(limits).UnmarshalYAMLFromReader(strings.NewReader("name: Scholar\n"), &doc)
	assert.ErrorIs(t, err, ErrYAMLLimit)
}
