package config

import (
	"bytes"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/aixgo-dev/swarm/pkg/security"
	"gopkg.in/yaml.v3"
)

// Config is the immutable configuration of one swarm session.
type Config struct {
	// RootRole names the role the root agent is spawned with.
	RootRole string `yaml:"root_role"`
	// DefaultSpawnRole names the role used when a child spawn omits one.
	DefaultSpawnRole string `yaml:"default_spawn_role"`

	Roles         []Role        `yaml:"roles"`
	Hierarchy     Hierarchy     `yaml:"hierarchy"`
	Voting        Voting        `yaml:"voting"`
	Hub           Hub           `yaml:"hub"`
	Budget        Budget        `yaml:"budget"`
	Routing       Routing       `yaml:"routing"`
	Persistence   Persistence   `yaml:"persistence"`
	Logging       Logging       `yaml:"logging"`
	Observability Observability `yaml:"observability"`
}

// Role is a capability tier an agent can be spawned with.
type Role struct {
	Name         string `yaml:"name"`
	Model        string `yaml:"model,omitempty"`
	Instructions string `yaml:"instructions,omitempty"`
	Description  string `yaml:"description,omitempty"`
	// Tier defaults to the role's position in the list when omitted.
	Tier *int `yaml:"tier,omitempty"`
	// SpawnLimit is the number of live children an agent of this role may own.
	SpawnLimit int `yaml:"spawn_limit"`
	// ToolPolicy references the sandbox policy applied by the execution layer.
	ToolPolicy string `yaml:"tool_policy,omitempty"`
}

// TierValue returns the role tier, zero when unset.
func (r Role) TierValue() int {
	if r.Tier == nil {
		return 0
	}
	return *r.Tier
}

// Hierarchy controls which tier pairs may message each other.
// Downward calls are always allowed.
type Hierarchy struct {
	AllowUpwardCalls   bool `yaml:"allow_upward_calls"`
	AllowSameTierCalls bool `yaml:"allow_same_tier_calls"`
}

// Voting configures the weighted tally.
type Voting struct {
	DefaultWeight int `yaml:"default_weight"`
	// TierWeights maps a minimum tier to the weight of every tier at or
	// above it, up to the next configured key.
	TierWeights map[int]int `yaml:"tier_weights,omitempty"`
}

// Weight returns the ballot weight for an agent of the given tier: the
// weight of the largest configured tier not above it, else DefaultWeight.
func (v Voting) Weight(tier int) int {
	w, best := v.DefaultWeight, math.MinInt
	for from, tw := range v.TierWeights {
		if from <= tier && from > best {
			w, best = tw, from
		}
	}
	return w
}

// Hub configures the collaboration stores.
type Hub struct {
	StorageDir      string   `yaml:"storage_dir,omitempty"`
	LeakTrackerPath string   `yaml:"leak_tracker_path,omitempty"`
	LoungeCapacity  int      `yaml:"lounge_capacity"`
	LeakFields      []string `yaml:"leak_fields"`
}

// LeakExportPath resolves where the leak tracker is exported, or "" when
// neither a path nor a storage directory is configured.
func (h Hub) LeakExportPath() string {
	if h.LeakTrackerPath != "" {
		return h.LeakTrackerPath
	}
	if h.StorageDir != "" {
		return filepath.Join(h.StorageDir, "leak_tracker.json")
	}
	return ""
}

// Budget configures the BudgetGuard counter.
type Budget struct {
	Limit int64 `yaml:"limit"`
}

// Routing configures mailbox backpressure.
type Routing struct {
	MailboxCapacity int `yaml:"mailbox_capacity"`
	// SendRate is the per-sender messages/second; zero disables rate limiting.
	SendRate  float64 `yaml:"send_rate,omitempty"`
	SendBurst int     `yaml:"send_burst,omitempty"`
}

// Persistence configures checkpoint storage.
type Persistence struct {
	// Backend is one of "file", "redis" or "none".
	Backend string `yaml:"backend"`
	// Dir is the checkpoint directory for the file backend.
	// Default: <hub.storage_dir>/checkpoints
	Dir string `yaml:"dir,omitempty"`
	// Keep is how many checkpoints are retained.
	Keep int `yaml:"keep"`
	// Schedule is a cron expression (e.g., "@every 5m"); empty disables scheduled checkpoints.
	Schedule string      `yaml:"schedule,omitempty"`
	Redis    RedisConfig `yaml:"redis,omitempty"`
}

// RedisConfig holds Redis connection configuration.
type RedisConfig struct {
	Addr     string `yaml:"addr,omitempty"`
	Password string `yaml:"password,omitempty"`
	DB       int    `yaml:"db,omitempty"`
	Prefix   string `yaml:"prefix,omitempty"`
}

// Logging configures the zerolog logger.
type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "console" or "json"
}

// Observability configures metrics and tracing.
type Observability struct {
	HTTPPort    int    `yaml:"http_port"`
	Tracing     string `yaml:"tracing"` // "none", "stdout" or "otlp"
	ServiceName string `yaml:"service_name,omitempty"`
	// OTLPEndpoint overrides OTEL_EXPORTER_OTLP_ENDPOINT for the otlp exporter.
	OTLPEndpoint string            `yaml:"otlp_endpoint,omitempty"`
	OTLPHeaders  map[string]string `yaml:"otlp_headers,omitempty"`
}

// Backend names.
const (
	BackendFile  = "file"
	BackendRedis = "redis"
	BackendNone  = "none"
)

func intPtr(i int) *int { return &i }

// Default returns the stock three-role configuration.
func Default() *Config {
	return &Config{
		RootRole:         "Scholar",
		DefaultSpawnRole: "Scribe",
		Roles: []Role{
			{
				Name:        "Scout",
				Model:       "gpt-5.1-codex-mini",
				Tier:        intPtr(0),
				Description: "High-throughput triage and acquisition.",
				SpawnLimit:  0,
				ToolPolicy:  "read-only",
			},
			{
				Name:        "Scribe",
				Model:       "gpt-5.1-codex-max",
				Tier:        intPtr(1),
				Description: "Structural mapping and deep audit.",
				SpawnLimit:  4,
				ToolPolicy:  "workspace-write",
			},
			{
				Name:        "Scholar",
				Model:       "gpt-5.2-codex",
				Tier:        intPtr(2),
				Description: "High-reasoning synthesis and strategy.",
				SpawnLimit:  8,
				ToolPolicy:  "workspace-write",
			},
		},
		Hierarchy: Hierarchy{
			AllowUpwardCalls:   false,
			AllowSameTierCalls: true,
		},
		Voting: Voting{
			DefaultWeight: 1,
			TierWeights:   map[int]int{2: 2},
		},
		Hub: Hub{
			LoungeCapacity: 500,
			LeakFields:     []string{"label", "value", "context", "severity"},
		},
		Budget:  Budget{Limit: 1_000_000},
		Routing: Routing{MailboxCapacity: 1024},
		Persistence: Persistence{
			Backend:  BackendFile,
			Keep:     10,
			Schedule: "@every 5m",
			Redis:    RedisConfig{Prefix: "swarm:checkpoint:"},
		},
		Logging:       Logging{Level: "info", Format: "console"},
		Observability: Observability{HTTPPort: 9090, Tracing: "none", ServiceName: "swarm"},
	}
}

// Parse decodes YAML over the defaults. Keys absent from data keep their
// default values; a roles list replaces the default roles entirely.
func Parse(data []byte) (*Config, error) {
	return ParseWith(security.NewSafeYAMLParser(security.DefaultYAMLLimits()), data)
}

// ParseWith is Parse with a caller-supplied YAML parser.
func ParseWith(parser *security.SafeYAMLParser, data []byte) (*Config, error) {
	cfg := Default()
	cfg.Roles = nil

	if len(bytes.TrimSpace(data)) > 0 {
		if err := parser.UnmarshalYAML(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}
	if len(cfg.Roles) == 0 {
		cfg.Roles = Default().Roles
	}

	cfg.ApplyDefaults()
	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// maxConfigSize bounds config files read from disk.
const maxConfigSize = 1 << 20

// LoadConfig loads configuration from a YAML file.
func LoadConfig(path string) (*Config, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if info.Size() > maxConfigSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxConfigSize)
	}

	data, err := os.ReadFile(path) // #nosec G304 - path is operator-supplied config location
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// SaveConfig saves configuration to a YAML file.
func SaveConfig(cfg *Config, path string) error {
	data, err := cfg.Marshal()
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// Marshal renders the configuration as YAML.
func (c *Config) Marshal() ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(c); err != nil {
		return nil, fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("failed to marshal config: %w", err)
	}
	return buf.Bytes(), nil
}

// ApplyDefaults fills zero values that have a meaningful default.
func (c *Config) ApplyDefaults() {
	kept := c.Roles[:0]
	for _, r := range c.Roles {
		if strings.TrimSpace(r.Name) == "" {
			continue
		}
		kept = append(kept, r)
	}
	c.Roles = kept
	for i := range c.Roles {
		if c.Roles[i].Tier == nil {
			c.Roles[i].Tier = intPtr(i)
		}
	}

	if c.Voting.DefaultWeight == 0 {
		c.Voting.DefaultWeight = 1
	}
	if c.Hub.LoungeCapacity == 0 {
		c.Hub.LoungeCapacity = 500
	}
	if c.Routing.MailboxCapacity == 0 {
		c.Routing.MailboxCapacity = 1024
	}
	if c.Routing.SendRate > 0 && c.Routing.SendBurst == 0 {
		c.Routing.SendBurst = 1
	}
	if c.Persistence.Backend == "" {
		c.Persistence.Backend = BackendFile
	}
	if c.Persistence.Keep == 0 {
		c.Persistence.Keep = 10
	}
	if c.Persistence.Dir == "" && c.Hub.StorageDir != "" {
		c.Persistence.Dir = filepath.Join(c.Hub.StorageDir, "checkpoints")
	}
	if c.Persistence.Redis.Prefix == "" {
		c.Persistence.Redis.Prefix = "swarm:checkpoint:"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "console"
	}
	if c.Observability.Tracing == "" {
		c.Observability.Tracing = "none"
	}
	if c.Observability.ServiceName == "" {
		c.Observability.ServiceName = "swarm"
	}
}

// applyEnv lets deployment secrets and paths come from the environment.
func applyEnv(c *Config) {
	if v := os.Getenv("SWARM_STORAGE_DIR"); v != "" && c.Hub.StorageDir == "" {
		c.Hub.StorageDir = v
		if c.Persistence.Dir == "" {
			c.Persistence.Dir = filepath.Join(v, "checkpoints")
		}
	}
	if v := os.Getenv("SWARM_REDIS_ADDR"); v != "" && c.Persistence.Redis.Addr == "" {
		c.Persistence.Redis.Addr = v
	}
	if v := os.Getenv("SWARM_REDIS_PASSWORD"); v != "" && c.Persistence.Redis.Password == "" {
		c.Persistence.Redis.Password = v
	}
	if v := os.Getenv("SWARM_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
}

// Validate checks if the configuration is usable.
func (c *Config) Validate() error {
	var errs []error

	if len(c.Roles) == 0 {
		errs = append(errs, errors.New("at least one role is required"))
	}
	seen := make(map[string]bool, len(c.Roles))
	for _, r := range c.Roles {
		key := strings.ToLower(strings.TrimSpace(r.Name))
		if seen[key] {
			errs = append(errs, fmt.Errorf("duplicate role %q", r.Name))
		}
		seen[key] = true
		if r.SpawnLimit < 0 {
			errs = append(errs, fmt.Errorf("role %q: spawn_limit must be >= 0", r.Name))
		}
	}
	if c.RootRole != "" {
		if _, ok := c.Role(c.RootRole); !ok {
			errs = append(errs, fmt.Errorf("root_role %q is not a configured role", c.RootRole))
		}
	}
	if c.Voting.DefaultWeight < 1 {
		errs = append(errs, errors.New("voting.default_weight must be positive"))
	}
	for tier, w := range c.Voting.TierWeights {
		if w < 1 {
			errs = append(errs, fmt.Errorf("voting.tier_weights[%d] must be positive", tier))
		}
	}
	if c.Budget.Limit <= 0 {
		errs = append(errs, errors.New("budget.limit must be positive"))
	}
	if c.Hub.LoungeCapacity < 0 {
		errs = append(errs, errors.New("hub.lounge_capacity must be >= 0"))
	}
	if c.Routing.MailboxCapacity < 1 {
		errs = append(errs, errors.New("routing.mailbox_capacity must be positive"))
	}
	if c.Routing.SendRate < 0 {
		errs = append(errs, errors.New("routing.send_rate must be >= 0"))
	}
	switch c.Persistence.Backend {
	case BackendFile, BackendNone:
	case BackendRedis:
		if c.Persistence.Redis.Addr == "" {
			errs = append(errs, errors.New("persistence.redis.addr is required for the redis backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown persistence backend %q", c.Persistence.Backend))
	}
	if c.Persistence.Keep < 1 {
		errs = append(errs, errors.New("persistence.keep must be positive"))
	}
	if !slices.Contains([]string{"none", "stdout", "otlp"}, c.Observability.Tracing) {
		errs = append(errs, fmt.Errorf("unknown tracing exporter %q", c.Observability.Tracing))
	}

	return errors.Join(errs...)
}

// Role looks up a role by case-insensitive name.
func (c *Config) Role(name string) (Role, bool) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Role{}, false
	}
	for _, r := range c.Roles {
		if strings.EqualFold(r.Name, name) {
			return r, true
		}
	}
	return Role{}, false
}

// RootRoleName resolves the root role, falling back to the highest tier.
func (c *Config) RootRoleName() string {
	if r, ok := c.Role(c.RootRole); ok {
		return r.Name
	}
	var best *Role
	for i := range c.Roles {
		if best == nil || c.Roles[i].TierValue() > best.TierValue() {
			best = &c.Roles[i]
		}
	}
	if best == nil {
		return ""
	}
	return best.Name
}

// DefaultSpawnRoleName resolves the default child role, falling back to the first role.
func (c *Config) DefaultSpawnRoleName() string {
	if r, ok := c.Role(c.DefaultSpawnRole); ok {
		return r.Name
	}
	if len(c.Roles) == 0 {
		return ""
	}
	return c.Roles[0].Name
}
