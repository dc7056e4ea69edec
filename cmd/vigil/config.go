// Package main provides the vigil CLI.
package main

import (
	"fmt"
	"net/mail"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/good-yellow-bee/vigil/internal/models"
)

// Config represents the vigil configuration.
type Config struct {
	Database  DatabaseConfig  `yaml:"database"`
	Server    ServerConfig    `yaml:"server"`
	Log       LogConfig       `yaml:"log"`
	Health    HealthConfig    `yaml:"health"`
	Alerts    AlertsConfig    `yaml:"alerts"`
	Queue     QueueConfig     `yaml:"queue"`
	Notifiers NotifiersConfig `yaml:"notifiers"`
	Retention RetentionConfig `yaml:"retention"`
	Audit     AuditConfig     `yaml:"audit"`
	Verbose   bool            `yaml:"-"` // set via CLI flag
}

// DatabaseConfig contains SQLite settings.
type DatabaseConfig struct {
	Path string `yaml:"path"` // SQLite file (default: data/vigil.db)
}

// ServerConfig contains HTTP listener settings.
type ServerConfig struct {
	HTTPAddress    string        `yaml:"http_address"`      // API listen address (default: :8080)
	MetricsAddress string        `yaml:"metrics_address"`   // Prometheus listen address (default: :9090)
	QueryTimeout   time.Duration `yaml:"query_timeout"`     // Storage call timeout (default: 10s)
	HealthMaxAge   time.Duration `yaml:"health_max_age"`    // Cached health result age (default: 30s)
	RateLimitPerIP int           `yaml:"rate_limit_per_ip"` // Mutating requests per minute (default: 60)
}

// LogConfig selects the zap logger.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error (default: info)
	Format string `yaml:"format"` // json or console (default: json)
}

// HealthConfig describes the probe set.
type HealthConfig struct {
	Interval       time.Duration   `yaml:"interval"`        // default: 5m
	ProbeTimeout   time.Duration   `yaml:"probe_timeout"`   // default: 3s
	MaxConcurrency int             `yaml:"max_concurrency"` // default: all probes at once
	DiskPath       string          `yaml:"disk_path"`       // default: /
	SkipResources  bool            `yaml:"skip_resources"`  // do not sample host CPU/memory/disk
	Services       []ServiceConfig `yaml:"services"`
}

// Probe kinds.
const (
	ProbeHTTP = "http"
	ProbeGRPC = "grpc"
)

// ServiceConfig is one probed dependency.
type ServiceConfig struct {
	Name string `yaml:"name"`
	Kind string `yaml:"kind"` // http (default) or grpc
	// URL is polled by http probes; any 2xx is healthy.
	URL string `yaml:"url"`
	// Target and GRPCService address a grpc.health.v1 endpoint.
	Target      string `yaml:"target"`
	GRPCService string `yaml:"grpc_service"`
}

// AlertsConfig controls alert creation and paging.
type AlertsConfig struct {
	Cooldown time.Duration `yaml:"cooldown"` // 0 disables
	// OnCall addresses receive an e-mail for every new alert at or above
	// MinSeverity.
	OnCall      []string `yaml:"on_call"`
	MinSeverity string   `yaml:"min_severity"` // default: HIGH
}

// QueueConfig controls the delivery queue.
type QueueConfig struct {
	DrainInterval time.Duration   `yaml:"drain_interval"`  // default: 1m
	BatchSize     int             `yaml:"batch_size"`      // default: 50
	SendTimeout   time.Duration   `yaml:"send_timeout"`    // default: 30s
	RatePerSecond float64         `yaml:"rate_per_second"` // 0 disables
	Burst         int             `yaml:"burst"`           // default: 1
	Backoff       BackoffConfig   `yaml:"backoff"`
	RecipientRate RecipientConfig `yaml:"recipient_limit"`
}

// BackoffConfig mirrors delivery.Backoff.
type BackoffConfig struct {
	Disabled   bool          `yaml:"disabled"`
	Initial    time.Duration `yaml:"initial"`    // default: 1m
	Max        time.Duration `yaml:"max"`        // default: 1h
	Multiplier float64       `yaml:"multiplier"` // default: 2.0
	Jitter     float64       `yaml:"jitter"`     // default: 0.1
}

// RecipientConfig limits notifications per recipient.
type RecipientConfig struct {
	Disabled     bool          `yaml:"disabled"`
	MaxPerWindow int           `yaml:"max_per_window"` // default: 10
	Window       time.Duration `yaml:"window"`         // default: 1m
}

// Email transports.
const (
	EmailSMTP = "smtp"
	EmailSES  = "ses"
)

// NotifiersConfig configures delivery transports. Channels without a
// transport are logged instead of delivered.
type NotifiersConfig struct {
	Email   EmailConfig   `yaml:"email"`
	Webhook HookConfig    `yaml:"webhook"`
	SMS     HookConfig    `yaml:"sms"`
	Breaker BreakerConfig `yaml:"breaker"`
}

// EmailConfig selects and configures the e-mail transport.
type EmailConfig struct {
	Transport string     `yaml:"transport"` // smtp, ses or empty
	SMTP      SMTPConfig `yaml:"smtp"`
	SES       SESConfig  `yaml:"ses"`
}

// SMTPConfig contains SMTP settings. The password is read from
// VIGIL_SMTP_PASSWORD.
type SMTPConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"` // default: 587
	Username string `yaml:"username"`
	From     string `yaml:"from"`
}

// SESConfig contains Amazon SES settings. Credentials come from the
// default AWS chain.
type SESConfig struct {
	Region string `yaml:"region"`
	From   string `yaml:"from"`
}

// HookConfig is an HTTPS endpoint accepting JSON notifications.
type HookConfig struct {
	URL     string            `yaml:"url"`
	Headers map[string]string `yaml:"headers"`
}

// BreakerConfig configures the per-transport circuit breaker.
type BreakerConfig struct {
	ConsecutiveFailures uint32        `yaml:"consecutive_failures"` // default: 5
	OpenTimeout         time.Duration `yaml:"open_timeout"`         // default: 30s
}

// RetentionConfig bounds how long health snapshots are kept. Alerts are
// never pruned.
type RetentionConfig struct {
	Interval  time.Duration `yaml:"interval"`  // default: 1h
	Snapshots time.Duration `yaml:"snapshots"` // default: 720h
}

// AuditConfig sizes the audit buffer.
type AuditConfig struct {
	BufferSize int `yaml:"buffer_size"` // default: 1024
	BatchSize  int `yaml:"batch_size"`  // default: 100
}

// LoadConfig loads configuration from a YAML file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.setDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

// DefaultConfig returns a configuration with default values.
func DefaultConfig() *Config {
	cfg := &Config{}
	cfg.setDefaults()
	return cfg
}

// defaultServices are the booking platform's services.
func defaultServices() []ServiceConfig {
	return []ServiceConfig{
		{Name: "user-service", Kind: ProbeHTTP, URL: "http://localhost:8081/actuator/health"},
		{Name: "stall-service", Kind: ProbeHTTP, URL: "http://localhost:8082/actuator/health"},
		{Name: "reservation-service", Kind: ProbeHTTP, URL: "http://localhost:8083/actuator/health"},
		{Name: "notification-service", Kind: ProbeHTTP, URL: "http://localhost:8084/actuator/health"},
	}
}

// setDefaults sets default values for missing config fields.
func (c *Config) setDefaults() {
	if c.Database.Path == "" {
		c.Database.Path = "data/vigil.db"
	}

	if c.Server.HTTPAddress == "" {
		c.Server.HTTPAddress = ":8080"
	}
	if c.Server.MetricsAddress == "" {
		c.Server.MetricsAddress = ":9090"
	}

	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}

	if c.Health.Interval == 0 {
		c.Health.Interval = 5 * time.Minute
	}
	if c.Health.ProbeTimeout == 0 {
		c.Health.ProbeTimeout = 3 * time.Second
	}
	if c.Health.DiskPath == "" {
		c.Health.DiskPath = "/"
	}
	if len(c.Health.Services) == 0 {
		c.Health.Services = defaultServices()
	}
	for i := range c.Health.Services {
		if c.Health.Services[i].Kind == "" {
			c.Health.Services[i].Kind = ProbeHTTP
		}
	}

	if c.Alerts.MinSeverity == "" {
		c.Alerts.MinSeverity = string(models.SeverityHigh)
	}

	if c.Queue.DrainInterval == 0 {
		c.Queue.DrainInterval = time.Minute
	}
	if c.Queue.BatchSize == 0 {
		c.Queue.BatchSize = 50
	}
	if c.Queue.SendTimeout == 0 {
		c.Queue.SendTimeout = 30 * time.Second
	}
	if c.Queue.Burst == 0 {
		c.Queue.Burst = 1
	}
	b := &c.Queue.Backoff
	if b.Initial == 0 {
		b.Initial = time.Minute
	}
	if b.Max == 0 {
		b.Max = time.Hour
	}
	if b.Multiplier == 0 {
		b.Multiplier = 2.0
	}
	if b.Jitter == 0 {
		b.Jitter = 0.1
	}
	if c.Queue.RecipientRate.MaxPerWindow == 0 {
		c.Queue.RecipientRate.MaxPerWindow = 10
	}
	if c.Queue.RecipientRate.Window == 0 {
		c.Queue.RecipientRate.Window = time.Minute
	}

	if c.Notifiers.Email.SMTP.Port == 0 {
		c.Notifiers.Email.SMTP.Port = 587
	}
	if c.Notifiers.Breaker.ConsecutiveFailures == 0 {
		c.Notifiers.Breaker.ConsecutiveFailures = 5
	}
	if c.Notifiers.Breaker.OpenTimeout == 0 {
		c.Notifiers.Breaker.OpenTimeout = 30 * time.Second
	}

	if c.Retention.Interval == 0 {
		c.Retention.Interval = time.Hour
	}
	if c.Retention.Snapshots == 0 {
		c.Retention.Snapshots = 30 * 24 * time.Hour
	}

	if c.Audit.BufferSize == 0 {
		c.Audit.BufferSize = 1024
	}
	if c.Audit.BatchSize == 0 {
		c.Audit.BatchSize = 100
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.Health.Interval <= 0 {
		return fmt.Errorf("health.interval must be positive")
	}
	if c.Health.ProbeTimeout <= 0 {
		return fmt.Errorf("health.probe_timeout must be positive")
	}

	seen := make(map[string]bool, len(c.Health.Services))
	for i, svc := range c.Health.Services {
		if svc.Name == "" {
			return fmt.Errorf("health.services[%d].name is required", i)
		}
		if seen[svc.Name] {
			return fmt.Errorf("health.services: duplicate name %q", svc.Name)
		}
		seen[svc.Name] = true
		switch svc.Kind {
		case ProbeHTTP:
			if !strings.HasPrefix(svc.URL, "http://") && !strings.HasPrefix(svc.URL, "https://") {
				return fmt.Errorf("health.services[%s].url must be an http(s) URL", svc.Name)
			}
		case ProbeGRPC:
			if svc.Target == "" {
				return fmt.Errorf("health.services[%s].target is required for grpc probes", svc.Name)
			}
		default:
			return fmt.Errorf("health.services[%s].kind must be %q or %q", svc.Name, ProbeHTTP, ProbeGRPC)
		}
	}
	if seen[databaseProbeName] {
		return fmt.Errorf("health.services: %q is reserved for the datastore probe", databaseProbeName)
	}

	if _, err := models.ParseSeverity(c.Alerts.MinSeverity); err != nil {
		return fmt.Errorf("alerts.min_severity: %w", err)
	}
	if c.Alerts.Cooldown < 0 {
		return fmt.Errorf("alerts.cooldown must not be negative")
	}
	for _, addr := range c.Alerts.OnCall {
		if _, err := mail.ParseAddress(addr); err != nil {
			return fmt.Errorf("alerts.on_call: invalid address %q", addr)
		}
	}

	if c.Queue.DrainInterval <= 0 {
		return fmt.Errorf("queue.drain_interval must be positive")
	}
	if c.Queue.BatchSize <= 0 {
		return fmt.Errorf("queue.batch_size must be positive")
	}
	if c.Queue.RatePerSecond < 0 {
		return fmt.Errorf("queue.rate_per_second must not be negative")
	}
	if j := c.Queue.Backoff.Jitter; j < 0 || j > 1 {
		return fmt.Errorf("queue.backoff.jitter must be between 0 and 1")
	}

	switch c.Notifiers.Email.Transport {
	case "":
	case EmailSMTP:
		if c.Notifiers.Email.SMTP.Host == "" || c.Notifiers.Email.SMTP.From == "" {
			return fmt.Errorf("notifiers.email.smtp.host and from are required for the smtp transport")
		}
	case EmailSES:
		if c.Notifiers.Email.SES.Region == "" || c.Notifiers.Email.SES.From == "" {
			return fmt.Errorf("notifiers.email.ses.region and from are required for the ses transport")
		}
	default:
		return fmt.Errorf("notifiers.email.transport must be %q or %q", EmailSMTP, EmailSES)
	}
	for name, hook := range map[string]HookConfig{"webhook": c.Notifiers.Webhook, "sms": c.Notifiers.SMS} {
		if hook.URL != "" && !strings.HasPrefix(hook.URL, "https://") {
			return fmt.Errorf("notifiers.%s.url must use https", name)
		}
	}

	if c.Retention.Snapshots < 0 {
		return fmt.Errorf("retention.snapshots must not be negative")
	}
	return nil
}
