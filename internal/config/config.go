// Package config loads livinlog settings from an optional YAML file and
// LIVINLOG_* environment variables.
package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/dukerupert/livinlog/internal/model"
)

const (
	ModeHTTP   = "http"
	ModeMemory = "memory"
)

type Config struct {
	HTTP     HTTPConfig    `yaml:"http"`
	DataDir  string        `yaml:"data_dir"`
	LogLevel string        `yaml:"log_level"`
	Cloud    CloudConfig   `yaml:"cloud"`
	Sharing  SharingConfig `yaml:"sharing"`
	Invites  InvitesConfig `yaml:"invites"`
}

type HTTPConfig struct {
	Port string `yaml:"port"`
	// TrustedProxies lists the proxy addresses or CIDR ranges whose
	// X-Forwarded-For header is believed. Empty means none.
	TrustedProxies []string `yaml:"trusted_proxies"`
}

// CloudConfig selects the sync backend. ContainerID is handed unchanged to
// both replicas and to every backend call.
type CloudConfig struct {
	Mode        string `yaml:"mode"`
	ContainerID string `yaml:"container_id"`
	BaseURL     string `yaml:"base_url"`
	Secret      string `yaml:"secret"`
	FeedURL     string `yaml:"feed_url"`

	Timeout    time.Duration `yaml:"-"`
	TimeoutRaw string        `yaml:"timeout"`
}

type SharingConfig struct {
	Policy model.Permission `yaml:"policy"`

	PersistTimeout    time.Duration `yaml:"-"`
	PersistTimeoutRaw string        `yaml:"persist_timeout"`
}

type InvitesConfig struct {
	AcceptTimeout    time.Duration `yaml:"-"`
	AcceptTimeoutRaw string        `yaml:"accept_timeout"`
}

func defaults() Config {
	return Config{
		HTTP:     HTTPConfig{Port: "8080"},
		DataDir:  "data",
		LogLevel: "info",
		Cloud: CloudConfig{
			Mode:        ModeMemory,
			ContainerID: "com.livinlog.households",
			TimeoutRaw:  "15s",
		},
		Sharing: SharingConfig{
			Policy:            model.PermissionInviteOnly,
			PersistTimeoutRaw: "10s",
		},
		Invites: InvitesConfig{AcceptTimeoutRaw: "10s"},
	}
}

// Load builds the configuration from defaults, then the YAML file at path
// if path is not empty, then environment overrides. ${VAR} references in
// the file are expanded before parsing.
func Load(path string) (*Config, error) {
	cfg := defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal([]byte(expandEnvVars(string(data))), &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	applyEnv(&cfg)

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return &cfg, nil
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR} with the variable's value, or nothing when
// it is unset.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		return os.Getenv(envVarPattern.FindStringSubmatch(match)[1])
	})
}

func applyEnv(cfg *Config) {
	overrides := []struct {
		key string
		dst *string
	}{
		{"LIVINLOG_PORT", &cfg.HTTP.Port},
		{"LIVINLOG_DATA_DIR", &cfg.DataDir},
		{"LIVINLOG_LOG_LEVEL", &cfg.LogLevel},
		{"LIVINLOG_CLOUD_MODE", &cfg.Cloud.Mode},
		{"LIVINLOG_CONTAINER_ID", &cfg.Cloud.ContainerID},
		{"LIVINLOG_CLOUD_URL", &cfg.Cloud.BaseURL},
		{"LIVINLOG_CLOUD_SECRET", &cfg.Cloud.Secret},
		{"LIVINLOG_FEED_URL", &cfg.Cloud.FeedURL},
		{"LIVINLOG_CLOUD_TIMEOUT", &cfg.Cloud.TimeoutRaw},
		{"LIVINLOG_PERSIST_TIMEOUT", &cfg.Sharing.PersistTimeoutRaw},
		{"LIVINLOG_ACCEPT_TIMEOUT", &cfg.Invites.AcceptTimeoutRaw},
	}
	for _, o := range overrides {
		if v := os.Getenv(o.key); v != "" {
			*o.dst = v
		}
	}
	if v := os.Getenv("LIVINLOG_TRUSTED_PROXIES"); v != "" {
		cfg.HTTP.TrustedProxies = strings.Split(v, ",")
	}
	if v := os.Getenv("LIVINLOG_SHARING_POLICY"); v != "" {
		cfg.Sharing.Policy = model.Permission(v)
	}
}

func parseDurations(cfg *Config) error {
	fields := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"cloud.timeout", cfg.Cloud.TimeoutRaw, &cfg.Cloud.Timeout},
		{"sharing.persist_timeout", cfg.Sharing.PersistTimeoutRaw, &cfg.Sharing.PersistTimeout},
		{"invites.accept_timeout", cfg.Invites.AcceptTimeoutRaw, &cfg.Invites.AcceptTimeout},
	}
	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", f.name, f.raw, err)
		}
		*f.dst = d
	}
	return nil
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	if c.HTTP.Port == "" {
		return fmt.Errorf("http.port is required")
	}
	if c.DataDir == "" {
		return fmt.Errorf("data_dir is required")
	}
	if c.Cloud.ContainerID == "" {
		return fmt.Errorf("cloud.container_id is required")
	}
	switch c.Cloud.Mode {
	case ModeMemory:
	case ModeHTTP:
		if c.Cloud.BaseURL == "" {
			return fmt.Errorf("cloud.base_url is required in http mode")
		}
		if c.Cloud.Secret == "" {
			return fmt.Errorf("cloud.secret is required in http mode")
		}
	default:
		return fmt.Errorf("cloud.mode must be %q or %q, got %q", ModeHTTP, ModeMemory, c.Cloud.Mode)
	}

	p, err := model.ParsePermission(string(c.Sharing.Policy))
	if err != nil {
		return fmt.Errorf("sharing.policy: %w", err)
	}
	c.Sharing.Policy = p

	if c.Sharing.PersistTimeout <= 0 {
		return fmt.Errorf("sharing.persist_timeout must be positive")
	}
	if c.Invites.AcceptTimeout <= 0 {
		return fmt.Errorf("invites.accept_timeout must be positive")
	}
	return nil
}
