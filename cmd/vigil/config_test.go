package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "vigil.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0600))
	return path
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 5*time.Minute, cfg.Health.Interval)
	assert.Equal(t, time.Minute, cfg.Queue.DrainInterval)
	assert.Equal(t, 50, cfg.Queue.BatchSize)
	assert.Equal(t, "HIGH", cfg.Alerts.MinSeverity)

	names := make([]string, 0, len(cfg.Health.Services))
	for _, s := range cfg.Health.Services {
		names = append(names, s.Name)
	}
	assert.Equal(t, []string{"user-service", "stall-service", "reservation-service", "notification-service"}, names)
}

func TestLoadConfig(t *testing.T) {
	path := writeConfig(t, `
database:
  path: /var/lib/vigil/vigil.db
health:
  interval: 30s
  services:
    - name: user-service
      url: https://users.internal/health
    - name: payments
      kind: grpc
      target: payments.internal:9090
alerts:
  cooldown: 10m
  on_call: [oncall@example.com]
  min_severity: CRITICAL
queue:
  rate_per_second: 5
  backoff:
    initial: 30s
notifiers:
  email:
    transport: ses
    ses:
      region: eu-west-1
      from: vigil@example.com
  webhook:
    url: https://hooks.example.com/vigil
    headers:
      X-Api-Key: secret
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "/var/lib/vigil/vigil.db", cfg.Database.Path)
	assert.Equal(t, 30*time.Second, cfg.Health.Interval)
	require.Len(t, cfg.Health.Services, 2)
	assert.Equal(t, ProbeHTTP, cfg.Health.Services[0].Kind, "kind defaults to http")
	assert.Equal(t, ProbeGRPC, cfg.Health.Services[1].Kind)
	assert.Equal(t, 10*time.Minute, cfg.Alerts.Cooldown)
	assert.Equal(t, 5.0, cfg.Queue.RatePerSecond)
	assert.Equal(t, 30*time.Second, cfg.Queue.Backoff.Initial)
	assert.Equal(t, time.Hour, cfg.Queue.Backoff.Max, "unset fields keep defaults")
	assert.Equal(t, EmailSES, cfg.Notifiers.Email.Transport)
	assert.Equal(t, "secret", cfg.Notifiers.Webhook.Headers["X-Api-Key"])
}

func TestLoadConfig_Errors(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "read config file")

	_, err = LoadConfig(writeConfig(t, "health:\n  interval: soon\n"))
	assert.ErrorContains(t, err, "parse config")
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		errMsg string
	}{
		{"duplicate service", func(c *Config) {
			c.Health.Services = append(c.Health.Services, c.Health.Services[0])
		}, "duplicate name"},
		{"reserved name", func(c *Config) {
			c.Health.Services = []ServiceConfig{{Name: "database", Kind: ProbeHTTP, URL: "http://db"}}
		}, "reserved"},
		{"http without url", func(c *Config) {
			c.Health.Services = []ServiceConfig{{Name: "x", Kind: ProbeHTTP}}
		}, "url must be an http(s) URL"},
		{"grpc without target", func(c *Config) {
			c.Health.Services = []ServiceConfig{{Name: "x", Kind: ProbeGRPC}}
		}, "target is required"},
		{"unknown kind", func(c *Config) {
			c.Health.Services = []ServiceConfig{{Name: "x", Kind: "tcp"}}
		}, "kind must be"},
		{"bad severity", func(c *Config) { c.Alerts.MinSeverity = "URGENT" }, "alerts.min_severity"},
		{"bad on-call address", func(c *Config) { c.Alerts.OnCall = []string{"not an address"} }, "alerts.on_call"},
		{"zero batch", func(c *Config) { c.Queue.BatchSize = -1 }, "queue.batch_size"},
		{"bad jitter", func(c *Config) { c.Queue.Backoff.Jitter = 2 }, "jitter"},
		{"unknown transport", func(c *Config) { c.Notifiers.Email.Transport = "pigeon" }, "notifiers.email.transport"},
		{"smtp without host", func(c *Config) { c.Notifiers.Email.Transport = EmailSMTP }, "smtp.host"},
		{"ses without region", func(c *Config) { c.Notifiers.Email.Transport = EmailSES }, "ses.region"},
		{"plain http webhook", func(c *Config) { c.Notifiers.SMS.URL = "http://sms.example.com" }, "notifiers.sms.url must use https"},
		{"negative retention", func(c *Config) { c.Retention.Snapshots = -time.Hour }, "retention"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			assert.ErrorContains(t, cfg.Validate(), tt.errMsg)
		})
	}
}
