package swarm

import (
	"fmt"
	"os"

	"github.com/aixgo-dev/swarm/pkg/config"
	"github.com/aixgo-dev/swarm/pkg/security"
)

// FileReader interface for reading files (testable)
type FileReader interface {
	ReadFile(path string) ([]byte, error)
}

// OSFileReader implements FileReader using os.ReadFile
type OSFileReader struct{}

func (r *OSFileReader) ReadFile(path string) ([]byte, error) {
	return os.ReadFile(path) // #nosec G304 - path is from trusted config file input
}

// ConfigLoader loads session configuration from a file
type ConfigLoader struct {
	fileReader FileReader
	yamlParser *security.SafeYAMLParser
}

// NewConfigLoader creates a new config loader with default security limits
func NewConfigLoader(fr FileReader) *ConfigLoader {
	return NewConfigLoaderWithLimits(fr, security.DefaultYAMLLimits())
}

// NewConfigLoaderWithLimits creates a new config loader with custom YAML security limits
func NewConfigLoaderWithLimits(fr FileReader, limits security.YAMLLimits) *ConfigLoader {
	return &ConfigLoader{
		fileReader: fr,
		yamlParser: security.NewSafeYAMLParser(limits),
	}
}

// LoadConfig reads, defaults and validates a config file. An empty path
// yields the default configuration.
func (cl *ConfigLoader) LoadConfig(configPath string) (*config.Config, error) {
	if configPath == "" {
		return config.ParseWith(cl.yamlParser, nil)
	}
	data, err := cl.fileReader.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	return config.ParseWith(cl.yamlParser, data)
}
