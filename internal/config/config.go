// Package config loads the handler configuration.
package config

import (
	"fmt"
	"os"
	"time"

	"go.yaml.in/yaml/v3"

	"github.com/yuriy-kovalchuk/yk-asg-dns/internal/hostname"
)

// Duration accepts Go duration strings ("10s", "200ms") in YAML.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// DNSConfig holds the DNS backend type and backend-specific settings.
type DNSConfig struct {
	Provider string            `yaml:"provider"`
	Settings map[string]string `yaml:"settings"`
}

// Config is the handler configuration.
type Config struct {
	QueueURL              string    `yaml:"queue_url"`
	Region                string    `yaml:"region"`
	HostnameTagKey        string    `yaml:"hostname_tag_key"`
	InstanceIDPlaceholder string    `yaml:"instance_id_placeholder"`
	UsePublicIP           bool      `yaml:"use_public_ip"`
	CallTimeout           Duration  `yaml:"call_timeout"`
	TagWriteFatal         bool      `yaml:"tag_write_fatal"`
	DNS                   DNSConfig `yaml:"dns"`
}

// Load reads the configuration from the path specified by the
// ASG_DNS_CONFIG_PATH environment variable, defaulting to
// "configs/asg-dns.yaml".
func Load() (*Config, error) {
	path := os.Getenv("ASG_DNS_CONFIG_PATH")
	if path == "" {
		path = "configs/asg-dns.yaml"
	}
	return LoadFromPath(path)
}

// LoadFromPath reads the configuration from the given file path.
func LoadFromPath(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if cfg.QueueURL == "" {
		return nil, fmt.Errorf("config: missing required field 'queue_url'")
	}
	if cfg.HostnameTagKey == "" {
		cfg.HostnameTagKey = hostname.DefaultTagKey
	}
	if cfg.InstanceIDPlaceholder == "" {
		cfg.InstanceIDPlaceholder = hostname.DefaultPlaceholder
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = Duration(10 * time.Second)
	}
	if cfg.DNS.Provider == "" {
		cfg.DNS.Provider = "route53"
	}

	// Expand ${ENV_VAR} references in backend setting values.
	for k, v := range cfg.DNS.Settings {
		cfg.DNS.Settings[k] = os.ExpandEnv(v)
	}

	return &cfg, nil
}
