package config

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"svcdesk/internal/domain"
)

// Config models svcdesk.yml.
type Config struct {
	Server struct {
		Addr     string `yaml:"addr"`
		BasePath string `yaml:"base_path"`
	} `yaml:"server"`
	Auth struct {
		JWTSecret              string `yaml:"jwt_secret"`
		AllowLegacyActorHeader bool   `yaml:"allow_legacy_actor_header"`
	} `yaml:"auth"`
	// Roles maps a user role to the capabilities it grants.
	Roles    map[string][]string `yaml:"roles"`
	Requests struct {
		CodePrefix  string `yaml:"code_prefix"`
		DefaultRole string `yaml:"default_role"`
	} `yaml:"requests"`
	Webhooks []WebhookConfig `yaml:"webhooks"`
}

// WebhookConfig forwards appended audit entries to an external URL.
type WebhookConfig struct {
	URL            string   `yaml:"url"`
	Modules        []string `yaml:"modules"`
	Secret         string   `yaml:"secret"`
	TimeoutSeconds int      `yaml:"timeout_seconds"`
	Enabled        *bool    `yaml:"enabled"`
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create one with svcdesk config init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns the default config if the file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if len(c.Roles) == 0 {
		return fmt.Errorf("config.roles is required")
	}
	admin := false
	for role, caps := range c.Roles {
		if strings.TrimSpace(role) == "" {
			return fmt.Errorf("config.roles contains empty role name")
		}
		for _, capability := range caps {
			if capability == "" {
				return fmt.Errorf("role %s has empty capability", role)
			}
			if capability == domain.CapabilityAdministrator {
				admin = true
			}
		}
	}
	if !admin {
		return fmt.Errorf("config.roles must grant %s to at least one role", domain.CapabilityAdministrator)
	}
	if c.Requests.CodePrefix == "" {
		return fmt.Errorf("config.requests.code_prefix is required")
	}
	if c.Requests.DefaultRole != "" {
		if _, ok := c.Roles[c.Requests.DefaultRole]; !ok {
			return fmt.Errorf("config.requests.default_role %s is not a defined role", c.Requests.DefaultRole)
		}
	}
	if c.Server.BasePath != "" && !strings.HasPrefix(c.Server.BasePath, "/") {
		return fmt.Errorf("config.server.base_path must start with /")
	}
	for i, hook := range c.Webhooks {
		if strings.TrimSpace(hook.URL) == "" {
			return fmt.Errorf("config.webhooks[%d].url is required", i)
		}
		if hook.TimeoutSeconds < 0 {
			return fmt.Errorf("config.webhooks[%d].timeout_seconds must be >= 0", i)
		}
	}
	return nil
}

// Capabilities returns the capabilities granted to a role.
func (c *Config) Capabilities(role string) []string {
	if c == nil {
		return nil
	}
	return c.Roles[role]
}

// AdminRole returns the first role, by name, that grants Administrator.
func (c *Config) AdminRole() string {
	if c == nil {
		return ""
	}
	names := make([]string, 0, len(c.Roles))
	for role := range c.Roles {
		names = append(names, role)
	}
	sort.Strings(names)
	for _, role := range names {
		if slices.Contains(c.Roles[role], domain.CapabilityAdministrator) {
			return role
		}
	}
	return ""
}

// HasCapability reports whether role grants capability.
func (c *Config) HasCapability(role, capability string) bool {
	return slices.Contains(c.Capabilities(role), capability)
}

// HasRole reports whether role is defined.
func (c *Config) HasRole(role string) bool {
	if c == nil {
		return false
	}
	_, ok := c.Roles[role]
	return ok
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "svcdesk.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// Default returns the default Config struct.
func Default() *Config {
	var cfg Config
	_ = yaml.Unmarshal([]byte(defaultTemplate), &cfg)
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes.
// Unset server, roles and request settings fall back to the defaults.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	cfg.applyDefaults(Default())
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults(def *Config) {
	if c.Server.Addr == "" {
		c.Server.Addr = def.Server.Addr
	}
	if c.Server.BasePath == "" {
		c.Server.BasePath = def.Server.BasePath
	}
	if len(c.Roles) == 0 {
		c.Roles = def.Roles
	}
	if c.Requests.CodePrefix == "" {
		c.Requests.CodePrefix = def.Requests.CodePrefix
	}
	if c.Requests.DefaultRole == "" && c.HasRole(def.Requests.DefaultRole) {
		c.Requests.DefaultRole = def.Requests.DefaultRole
	}
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `server:
  addr: 127.0.0.1:8080
  base_path: /v1

auth:
  allow_legacy_actor_header: false

roles:
  Administrador:
    - Administrator
  Solicitante:
    - Requester

requests:
  code_prefix: SOL
  default_role: Solicitante
`
