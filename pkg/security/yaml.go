package security

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"
)

// YAMLLimits bounds the resources a YAML document may consume while decoding.
type YAMLLimits struct {
	MaxFileSize  int64 // Maximum document size in bytes
	MaxDepth     int   // Maximum nesting depth
	MaxNodes     int   // Maximum number of nodes, counting alias expansions
	MaxKeyLength int   // Maximum mapping key length in bytes
	MaxValueSize int64 // Maximum scalar size in bytes
	MaxAliases   int   // Maximum alias references; 0 rejects aliases
}

// DefaultYAMLLimits returns limits sized for swarm configuration files.
func DefaultYAMLLimits() YAMLLimits {
	return YAMLLimits{
		MaxFileSize:  1024 * 1024, // 1MB
		MaxDepth:     16,
		MaxNodes:     10000,
		MaxKeyLength: 256,
		MaxValueSize: 256 * 1024, // 256KB
		MaxAliases:   64,
	}
}

// ErrYAMLLimit is wrapped by every limit violation.
var ErrYAMLLimit = errors.New("yaml limit exceeded")

// SafeYAMLParser decodes YAML after checking it against YAMLLimits.
type SafeYAMLParser struct {
	limits YAMLLimits
}

// NewSafeYAMLParser creates a parser enforcing limits.
func NewSafeYAMLParser(limits YAMLLimits) *SafeYAMLParser {
	return &SafeYAMLParser{limits: limits}
}

// UnmarshalYAML validates data and decodes it into v. Only the first
// document of a stream is decoded.
func (p *SafeYAMLParser) UnmarshalYAML(data []byte, v any) error {
	if int64(len(data)) > p.limits.MaxFileSize {
		return fmt.Errorf("%w: document is %d bytes, max %d", ErrYAMLLimit, len(data), p.limits.MaxFileSize)
	}

	var root yaml.Node
	if err := yaml.NewDecoder(bytes.NewReader(data)).Decode(&root); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("YAML parse error: %w", err)
	}

	w := walker{limits: p.limits}
	if err := w.walk(&root, 0); err != nil {
		return err
	}
	// Decode from the validated tree so the input is parsed only once.
	return root.Decode(v)
}

// UnmarshalYAMLFromReader reads at most MaxFileSize bytes from r and decodes them.
func (p *SafeYAMLParser) UnmarshalYAMLFromReader(r io.Reader, v any) error {
	data, err := io.ReadAll(io.LimitReader(r, p.limits.MaxFileSize+1))
	if err != nil {
		return fmt.Errorf("failed to read YAML: %w", err)
	}
	return p.UnmarshalYAML(data, v)
}

type walker struct {
	limits  YAMLLimits
	nodes   int
	aliases int
}

func (w *walker) walk(n *yaml.Node, depth int) error {
	if depth > w.limits.MaxDepth {
		return fmt.Errorf("%w: nesting depth %d, max %d", ErrYAMLLimit, depth, w.limits.MaxDepth)
	}
	w.nodes++
	if w.nodes > w.limits.MaxNodes {
		return fmt.Errorf("%w: more than %d nodes", ErrYAMLLimit, w.limits.MaxNodes)
	}

	switch n.Kind {
	case yaml.DocumentNode:
		for _, c := range n.Content {
			if err := w.walk(c, depth); err != nil {
				return err
			}
		}
	case yaml.MappingNode:
		for i := 0; i+1 < len(n.Content); i += 2 {
			if key := n.Content[i].Value; len(key) > w.limits.MaxKeyLength {
				return fmt.Errorf("%w: key of %d bytes, max %d", ErrYAMLLimit, len(key), w.limits.MaxKeyLength)
			}
			if err := w.walk(n.Content[i+1], depth+1); err != nil {
				return err
			}
		}
	case yaml.SequenceNode:
		for _, c := range n.Content {
			if err := w.walk(c, depth+1); err != nil {
				return err
			}
		}
	case yaml.ScalarNode:
		if int64(len(n.Value)) > w.limits.MaxValueSize {
			return fmt.Errorf("%w: scalar of %d bytes, max %d", ErrYAMLLimit, len(n.Value), w.limits.MaxValueSize)
		}
	case yaml.AliasNode:
		w.aliases++
		if w.aliases > w.limits.MaxAliases {
			return fmt.Errorf("%w: more than %d aliases", ErrYAMLLimit, w.limits.MaxAliases)
		}
		// Alias expansions count against the node budget.
		if n.Alias != nil {
			return w.walk(n.Alias, depth+1)
		}
	}
	return nil
}
