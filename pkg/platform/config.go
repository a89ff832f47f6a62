// Package platform loads the service configuration and wires the bootcamp
// components together.
package platform

import (
	"fmt"
	"os"
	"regexp"
	"slices"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/txn2/devops-bootcamp/pkg/audit"
	"github.com/txn2/devops-bootcamp/pkg/auth"
	"github.com/txn2/devops-bootcamp/pkg/orchestrator/docker"
	"github.com/txn2/devops-bootcamp/pkg/orchestrator/ecs"
	"github.com/txn2/devops-bootcamp/pkg/orchestrator/memory"
	"github.com/txn2/devops-bootcamp/pkg/session"
)

// CurrentConfigVersion is the config API version this build reads.
const CurrentConfigVersion = "v1"

// Orchestrator providers.
const (
	ProviderECS    = "ecs"
	ProviderDocker = "docker"
	ProviderMemory = "memory"
)

// Config holds the complete service configuration.
type Config struct {
	APIVersion   string             `yaml:"apiVersion"`
	Server       ServerConfig       `yaml:"server"`
	Auth         AuthConfig         `yaml:"auth"`
	Database     DatabaseConfig     `yaml:"database"`
	Sandbox      SandboxConfig      `yaml:"sandbox"`
	Orchestrator OrchestratorConfig `yaml:"orchestrator"`
	Learning     LearningConfig     `yaml:"learning"`
	Audit        audit.Config       `yaml:"audit"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Name      string    `yaml:"name"`
	Address   string    `yaml:"address"`
	LogLevel  string    `yaml:"log_level"`  // debug, info, warn, error
	LogFormat string    `yaml:"log_format"` // json, text
	TLS       TLSConfig `yaml:"tls"`

	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout"`
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout"`

	// DisableAPIDocs turns off the OpenAPI UI at /api/docs/.
	DisableAPIDocs bool `yaml:"disable_api_docs"`
}

// TLSConfig configures TLS.
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// AuthConfig configures authentication. Enabled authenticators are tried in
// the order jwt, oidc, api_keys.
type AuthConfig struct {
	JWT     JWTAuthConfig    `yaml:"jwt"`
	OIDC    OIDCAuthConfig   `yaml:"oidc"`
	APIKeys APIKeyAuthConfig `yaml:"api_keys"`

	// InstructorRole lets its holders act on other learners' sandboxes
	// and read their history.
	InstructorRole string `yaml:"instructor_role"`
}

// JWTAuthConfig configures HMAC-signed tokens.
type JWTAuthConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Issuer        string `yaml:"issuer"`
	SigningKey    string `yaml:"signing_key"`
	RoleClaimPath string `yaml:"role_claim_path"`
	RolePrefix    string `yaml:"role_prefix"`
}

// OIDCAuthConfig configures OIDC authentication.
type OIDCAuthConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Issuer        string `yaml:"issuer"`
	ClientID      string `yaml:"client_id"`
	RoleClaimPath string `yaml:"role_claim_path"`
	RolePrefix    string `yaml:"role_prefix"`
}

// APIKeyAuthConfig configures API key authentication.
type APIKeyAuthConfig struct {
	Enabled bool          `yaml:"enabled"`
	Keys    []auth.APIKey `yaml:"keys"`
}

// DatabaseConfig configures PostgreSQL. An empty DSN selects in-memory stores.
type DatabaseConfig struct {
	DSN             string        `yaml:"dsn"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	AutoMigrate     bool          `yaml:"auto_migrate"`

	// SessionRetention, when positive, deletes TERMINATED sessions older
	// than this. Zero keeps session history forever.
	SessionRetention time.Duration `yaml:"session_retention"`
	CleanupInterval  time.Duration `yaml:"cleanup_interval"`
}

// SandboxConfig configures the session lifecycle.
type SandboxConfig struct {
	TTL             time.Duration `yaml:"ttl"`
	SSHUser         string        `yaml:"ssh_user"`
	TerminatePolicy string        `yaml:"terminate_policy"` // optimistic, confirmed
	Reaper          ReaperConfig  `yaml:"reaper"`
}

// ReaperConfig configures expiry enforcement.
type ReaperConfig struct {
	Enabled   bool          `yaml:"enabled"`
	Interval  time.Duration `yaml:"interval"`
	BatchSize int           `yaml:"batch_size"`
}

// OrchestratorConfig selects and configures the sandbox backend.
type OrchestratorConfig struct {
	Provider string        `yaml:"provider"` // ecs, docker, memory
	ECS      ecs.Config    `yaml:"ecs"`
	Docker   docker.Config `yaml:"docker"`
	Memory   memory.Config `yaml:"memory"`
}

// LearningConfig configures the challenge catalog.
type LearningConfig struct {
	// ChallengesPath overrides the built-in catalog.
	ChallengesPath string `yaml:"challenges_path"`

	// SeedChallenges upserts the catalog into the store at startup.
	SeedChallenges *bool `yaml:"seed_challenges"`
}

// ShouldSeed reports whether the catalog is seeded at startup (default true).
func (l LearningConfig) ShouldSeed() bool {
	return l.SeedChallenges == nil || *l.SeedChallenges
}

// LoadConfig loads configuration from a file.
// The path is expected to come from command line arguments, controlled by the administrator.
func LoadConfig(path string) (*Config, error) {
	// #nosec G304 -- path is from CLI args, controlled by admin
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return ParseConfig(data)
}

// ParseConfig parses YAML configuration, expanding ${VAR} references and
// applying defaults.
func ParseConfig(data []byte) (*Config, error) {
	data = []byte(expandEnvVars(string(data)))

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if cfg.APIVersion == "" {
		cfg.APIVersion = CurrentConfigVersion
	}
	if cfg.APIVersion != CurrentConfigVersion {
		return nil, fmt.Errorf("unsupported config apiVersion %q; supported versions: %s",
			cfg.APIVersion, CurrentConfigVersion)
	}

	applyDefaults(&cfg)
	return &cfg, nil
}

// DefaultConfig returns a configuration that runs entirely in memory.
func DefaultConfig() *Config {
	cfg := &Config{APIVersion: CurrentConfigVersion}
	applyDefaults(cfg)
	return cfg
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars expands ${VAR} patterns in the string.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		varName := match[2 : len(match)-1]
		return os.Getenv(varName)
	})
}

// applyDefaults applies default values to the config.
func applyDefaults(cfg *Config) {
	if cfg.Server.Name == "" {
		cfg.Server.Name = "devops-bootcamp-api"
	}
	if cfg.Server.Address == "" {
		cfg.Server.Address = ":8080"
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = "info"
	}
	if cfg.Server.LogFormat == "" {
		cfg.Server.LogFormat = "json"
	}
	if cfg.Server.ReadHeaderTimeout == 0 {
		cfg.Server.ReadHeaderTimeout = 10 * time.Second
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 25 * time.Second
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 25
	}
	if cfg.Database.MaxIdleConns == 0 {
		cfg.Database.MaxIdleConns = 5
	}
	if cfg.Database.ConnMaxLifetime == 0 {
		cfg.Database.ConnMaxLifetime = 30 * time.Minute
	}
	if cfg.Database.CleanupInterval == 0 {
		cfg.Database.CleanupInterval = time.Hour
	}
	if cfg.Sandbox.TTL == 0 {
		cfg.Sandbox.TTL = session.DefaultTTL
	}
	if cfg.Sandbox.SSHUser == "" {
		cfg.Sandbox.SSHUser = session.DefaultSSHUser
	}
	if cfg.Sandbox.TerminatePolicy == "" {
		cfg.Sandbox.TerminatePolicy = string(session.TerminateOptimistic)
	}
	if cfg.Sandbox.Reaper.Interval == 0 {
		cfg.Sandbox.Reaper.Interval = time.Minute
	}
	if cfg.Sandbox.Reaper.BatchSize == 0 {
		cfg.Sandbox.Reaper.BatchSize = 50
	}
	if cfg.Orchestrator.Provider == "" {
		cfg.Orchestrator.Provider = ProviderMemory
	}
	if cfg.Auth.InstructorRole == "" {
		cfg.Auth.InstructorRole = "instructor"
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	var errs []string

	if !slices.Contains([]string{"debug", "info", "warn", "error"}, c.Server.LogLevel) {
		errs = append(errs, fmt.Sprintf("server.log_level %q is not one of debug, info, warn, error", c.Server.LogLevel))
	}
	if c.Server.LogFormat != "json" && c.Server.LogFormat != "text" {
		errs = append(errs, fmt.Sprintf("server.log_format %q is not one of json, text", c.Server.LogFormat))
	}
	if c.Server.TLS.Enabled && (c.Server.TLS.CertFile == "" || c.Server.TLS.KeyFile == "") {
		errs = append(errs, "server.tls.cert_file and server.tls.key_file are required when TLS is enabled")
	}

	errs = append(errs, c.validateAuth()...)

	if c.Sandbox.TTL < 0 {
		errs = append(errs, "sandbox.ttl must not be negative")
	}
	switch session.TerminatePolicy(c.Sandbox.TerminatePolicy) {
	case session.TerminateOptimistic, session.TerminateConfirmed:
	default:
		errs = append(errs, fmt.Sprintf("sandbox.terminate_policy %q is not one of optimistic, confirmed", c.Sandbox.TerminatePolicy))
	}
	if c.Sandbox.Reaper.Enabled && c.Sandbox.Reaper.Interval < time.Second {
		errs = append(errs, "sandbox.reaper.interval must be at least 1s")
	}

	switch c.Orchestrator.Provider {
	case ProviderECS:
		if err := c.Orchestrator.ECS.Validate(); err != nil {
			errs = append(errs, strings.ReplaceAll(err.Error(), "\n", "; "))
		}
	case ProviderDocker:
		if c.Orchestrator.Docker.ImagePrefix == "" {
			errs = append(errs, "orchestrator.docker.image_prefix is required")
		}
	case ProviderMemory:
	default:
		errs = append(errs, fmt.Sprintf("orchestrator.provider %q is not one of ecs, docker, memory", c.Orchestrator.Provider))
	}

	if c.Audit.RetentionDays < 0 {
		errs = append(errs, "audit.retention_days must not be negative")
	}

	if c.Database.DSN == "" && c.Database.AutoMigrate {
		errs = append(errs, "database.auto_migrate requires database.dsn")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors: %s", strings.Join(errs, "; "))
	}
	return nil
}

func (c *Config) validateAuth() []string {
	var errs []string
	if c.Auth.JWT.Enabled {
		if c.Auth.JWT.Issuer == "" {
			errs = append(errs, "auth.jwt.issuer is required when JWT is enabled")
		}
		if len(c.Auth.JWT.SigningKey) < 32 {
			errs = append(errs, "auth.jwt.signing_key must be at least 32 bytes")
		}
	}
	if c.Auth.OIDC.Enabled && c.Auth.OIDC.Issuer == "" {
		errs = append(errs, "auth.oidc.issuer is required when OIDC is enabled")
	}
	if c.Auth.APIKeys.Enabled {
		for i, k := range c.Auth.APIKeys.Keys {
			if k.Name == "" || k.Hash == "" {
				errs = append(errs, fmt.Sprintf("auth.api_keys.keys[%d] requires name and hash", i))
			}
		}
	}
	return errs
}
