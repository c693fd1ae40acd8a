// Package config parses module arguments and the optional YAML settings file.
// Module arguments always override values from the file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"golang.org/x/exp/slices"
	"gopkg.in/yaml.v2"
)

const (
	VersionV1 = "v1"

	DefaultPath = "/etc/ssh-with-gh/config.yaml"
)

type Config struct {
	Version  string   `yaml:"version"`
	Policy   Policy   `yaml:"policy,omitempty"`
	GitHub   GitHub   `yaml:"github,omitempty"`
	Logging  Logging  `yaml:"logging,omitempty"`
	Accounts Accounts `yaml:"accounts,omitempty"`
	Audit    Audit    `yaml:"audit,omitempty"`
	Metrics  Metrics  `yaml:"metrics,omitempty"`
	Tracing  Tracing  `yaml:"tracing,omitempty"`
	Messages Messages `yaml:"messages,omitempty"`
}

type GitHub struct {
	WebURL          string        `yaml:"web-url,omitempty"`
	APIURL          string        `yaml:"api-url,omitempty"`
	Scopes          []string      `yaml:"scopes,omitempty"`
	CAFile          string        `yaml:"ca-file,omitempty"`
	InsecureSkipTLS bool          `yaml:"insecure-skip-tls-verify,omitempty"`
	Timeout         time.Duration `yaml:"timeout,omitempty"`
}

type Logging struct {
	File          string `yaml:"file,omitempty"`
	Debug         bool   `yaml:"debug,omitempty"`
	DisableSyslog bool   `yaml:"disable-syslog,omitempty"`
	SyslogTag     string `yaml:"syslog-tag,omitempty"`
}

type Accounts struct {
	HomeBase   string `yaml:"home-base,omitempty"`
	Shell      string `yaml:"shell,omitempty"`
	SudoersDir string `yaml:"sudoers-dir,omitempty"`
	// UseSudo prefixes account commands with "sudo -n" for hosts where the
	// authenticating process is not root.
	UseSudo bool `yaml:"use-sudo,omitempty"`
}

type Audit struct {
	// Log mirrors audit events into the module log.
	Log     bool          `yaml:"log"`
	Webhook *AuditWebhook `yaml:"webhook,omitempty"`
	Kafka   *AuditKafka   `yaml:"kafka,omitempty"`
	Mail    *AuditMail    `yaml:"mail,omitempty"`
}

type AuditWebhook struct {
	URL     string            `yaml:"url"`
	Headers map[string]string `yaml:"headers,omitempty"`
	Timeout time.Duration     `yaml:"timeout,omitempty"`
}

type AuditKafka struct {
	Brokers      []string      `yaml:"brokers"`
	Topic        string        `yaml:"topic"`
	Compression  string        `yaml:"compression,omitempty"`
	RequiredAcks int           `yaml:"required-acks,omitempty"`
	WriteTimeout time.Duration `yaml:"write-timeout,omitempty"`
	TLS          *KafkaTLS     `yaml:"tls,omitempty"`
	SASL         *KafkaSASL    `yaml:"sasl,omitempty"`
}

type KafkaTLS struct {
	CAFile          string `yaml:"ca-file,omitempty"`
	CertFile        string `yaml:"cert-file,omitempty"`
	KeyFile         string `yaml:"key-file,omitempty"`
	InsecureSkipTLS bool   `yaml:"insecure-skip-tls-verify,omitempty"`
}

type KafkaSASL struct {
	Mechanism    string `yaml:"mechanism"`
	Username     string `yaml:"username"`
	Password     string `yaml:"password,omitempty"`
	PasswordFile string `yaml:"password-file,omitempty"`
}

type AuditMail struct {
	Host            string   `yaml:"host"`
	Port            int      `yaml:"port,omitempty"`
	Username        string   `yaml:"username,omitempty"`
	Password        string   `yaml:"password,omitempty"`
	PasswordFile    string   `yaml:"password-file,omitempty"`
	InsecureSkipTLS bool     `yaml:"insecure-skip-tls-verify,omitempty"`
	From            string   `yaml:"from,omitempty"`
	FromName        string   `yaml:"from-name,omitempty"`
	To              []string `yaml:"to"`
	Events          []string `yaml:"events,omitempty"`
}

type Metrics struct {
	// Textfile is a node-exporter textfile collector path. Empty disables
	// metrics output.
	Textfile string `yaml:"textfile,omitempty"`
}

// Tracing exports one trace per login attempt.
type Tracing struct {
	Enabled bool `yaml:"enabled"`
	// Exporter is "otlp" (default), "stdout" or "none".
	Exporter     string  `yaml:"exporter,omitempty"`
	Endpoint     string  `yaml:"endpoint,omitempty"`
	Insecure     bool    `yaml:"insecure,omitempty"`
	SamplingRate float64 `yaml:"sampling-rate,omitempty"`
}

// Messages overrides the operator-facing templates. Empty fields keep the
// built-in text.
type Messages struct {
	DevicePrompt string `yaml:"device-prompt,omitempty"`
	Unauthorized string `yaml:"unauthorized,omitempty"`
	Denied       string `yaml:"denied,omitempty"`
	Success      string `yaml:"success,omitempty"`
	ImportPrompt string `yaml:"import-prompt,omitempty"`
}

func DefaultConfig() Config {
	return Config{
		Version: VersionV1,
		Logging: Logging{
			File: "/var/log/ssh-with-gh.log",
		},
		Audit: Audit{
			Log: true,
		},
	}
}

// Load reads the settings file at path on top of the defaults.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is required")
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(content, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if cfg.Version == "" {
		cfg.Version = VersionV1
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadOrDefault is Load, except that a missing file yields the defaults.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if errors.Is(err, os.ErrNotExist) {
		d := DefaultConfig()
		return &d, nil
	}
	return cfg, err
}

// Resolve loads the settings file named by the config argument (or
// DefaultPath) and applies args on top. It returns the argument keys it did
// not recognize.
func Resolve(args Args) (*Config, []string, error) {
	path := DefaultPath
	if v, ok := args.Lookup(ArgConfig); ok {
		path = v
	}
	cfg, err := LoadOrDefault(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load %s: %w", path, err)
	}
	return cfg, cfg.ApplyArgs(args), nil
}

// ApplyArgs overrides settings with module arguments and returns the keys it
// did not recognize, sorted.
func (c *Config) ApplyArgs(args Args) []string {
	c.Policy = c.Policy.WithArgs(args)
	if args.Has(ArgDebug) {
		c.Logging.Debug = true
	}
	if v, ok := args.Lookup(ArgLogFile); ok {
		c.Logging.File = v
	}
	if v, ok := args.Lookup(ArgGitHubURL); ok {
		c.GitHub.WebURL = v
	}
	if v, ok := args.Lookup(ArgAPIURL); ok {
		c.GitHub.APIURL = v
	}
	if v, ok := args.Lookup(ArgScope); ok {
		c.GitHub.Scopes = strings.Fields(strings.ReplaceAll(v, ",", " "))
	}
	if v, ok := args.Lookup(ArgCAFile); ok {
		c.GitHub.CAFile = v
	}
	if v, ok := args.Lookup(ArgMetricsTextfile); ok {
		c.Metrics.Textfile = v
	}

	var unknown []string
	for key := range args {
		if !slices.Contains(KnownArgs, key) {
			unknown = append(unknown, key)
		}
	}
	slices.Sort(unknown)
	return unknown
}

func (c *Config) Validate() error {
	if c.Version != VersionV1 {
		return fmt.Errorf("unsupported config version %q", c.Version)
	}
	if w := c.Audit.Webhook; w != nil && strings.TrimSpace(w.URL) == "" {
		return errors.New("audit webhook url cannot be empty")
	}
	if k := c.Audit.Kafka; k != nil {
		if len(k.Brokers) == 0 || k.Topic == "" {
			return errors.New("audit kafka needs brokers and a topic")
		}
	}
	if t := c.Tracing; t.Enabled && (t.Exporter == "" || t.Exporter == "otlp") && t.Endpoint == "" {
		return errors.New("tracing with the otlp exporter needs an endpoint")
	}
	if m := c.Audit.Mail; m != nil {
		if m.Host == "" || len(m.To) == 0 {
			return errors.New("audit mail needs a host and at least one recipient")
		}
	}
	return nil
}

// ReadSecret returns value, or the trimmed content of file when value is
// empty and file is set.
func ReadSecret(value, file string) (string, error) {
	if value != "" || file == "" {
		return value, nil
	}
	content, err := os.ReadFile(file)
	if err != nil {
		return "", fmt.Errorf("failed to read secret file: %w", err)
	}
	return strings.TrimSpace(string(content)), nil
}
