// Copyright 2025 SAP SE
// SPDX-License-Identifier: Apache-2.0

package conf

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const validConfig = `
logging:
  level: debug
  format: json
db:
  driver: postgres
  host: db.example.com
  port: "5432"
  database: tenantnet
  user: tenantnet
  password: secret
monitoring:
  labels:
    github_org: cobaltcore-dev
  port: 2113
api:
  port: 9090
controller:
  url: https://vdirect.example.com:2189/api
  user: admin
  secret: s3cr3t
  requestTimeoutSeconds: 10
  reservedResources:
    standalone: adc-pool-1
workflow:
  firstWaitSeconds: 1
  intervalSeconds: 3
  maxPolls: 20
  historyFreshnessSeconds: 30
allocator:
  maxIndex: 256
keystone:
  url: https://keystone.example.com/v3
  username: tenantnet
  projectName: service
neutron:
  deviceOwner: network:tenantnet
  retryIntervalSeconds: 120
mqtt:
  url: tcp://mqtt.example.com:1883
  username: tenantnet
`

func TestNewConfigFromBytes(t *testing.T) {
	c := newConfigFromBytes([]byte(validConfig))
	if err := c.Validate(); err != nil {
		t.Fatalf("expected valid config, got %v", err)
	}
	if c.GetLoggingConfig().Level() != slog.LevelDebug {
		t.Errorf("expected debug level, got %v", c.GetLoggingConfig().Level())
	}
	if c.GetDBConfig().Host != "db.example.com" {
		t.Errorf("expected db host, got %s", c.GetDBConfig().Host)
	}
	if c.GetMonitoringConfig().Labels["github_org"] != "cobaltcore-dev" {
		t.Errorf("expected monitoring label, got %v", c.GetMonitoringConfig().Labels)
	}
	if c.GetAPIConfig().Port != 9090 {
		t.Errorf("expected api port 9090, got %d", c.GetAPIConfig().Port)
	}
	controller := c.GetControllerConfig()
	if controller.RequestTimeout() != 10*time.Second {
		t.Errorf("expected 10s request timeout, got %v", controller.RequestTimeout())
	}
	if controller.ReservedResources["standalone"] != "adc-pool-1" {
		t.Errorf("expected reserved resource, got %v", controller.ReservedResources)
	}
	// Workflow names not set in the yaml keep their defaults.
	if controller.Workflows.VLANCreate != "create_vlan" {
		t.Errorf("expected default vlan workflow, got %s", controller.Workflows.VLANCreate)
	}
	workflow := c.GetWorkflowConfig()
	if workflow.FirstWait() != time.Second || workflow.Interval() != 3*time.Second {
		t.Errorf("unexpected poll intervals: %v %v", workflow.FirstWait(), workflow.Interval())
	}
	if workflow.MaxPolls != 20 || workflow.HistoryFreshness() != 30*time.Second {
		t.Errorf("unexpected workflow config: %+v", workflow)
	}
	if c.GetAllocatorConfig().MaxIndex != 256 {
		t.Errorf("expected allocator max index 256, got %d", c.GetAllocatorConfig().MaxIndex)
	}
	if c.GetKeystoneConfig().Availability != "public" {
		t.Errorf("expected default availability, got %s", c.GetKeystoneConfig().Availability)
	}
	if c.GetMQTTConfig().URL != "tcp://mqtt.example.com:1883" {
		t.Errorf("expected mqtt url, got %s", c.GetMQTTConfig().URL)
	}
	if c.GetNeutronConfig().RetryInterval() != 2*time.Minute {
		t.Errorf("expected 2m retry interval, got %v", c.GetNeutronConfig().RetryInterval())
	}
}

func TestNewConfigFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conf.yaml")
	if err := os.WriteFile(path, []byte(validConfig), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	c := newConfigFromFile(path)
	if c.GetDBConfig().Database != "tenantnet" {
		t.Errorf("expected database tenantnet, got %s", c.GetDBConfig().Database)
	}
}

func TestSecretsFromEnv(t *testing.T) {
	t.Setenv("CONTROLLER_SECRET", "from-env")
	t.Setenv("POSTGRES_PASSWORD", "pg-from-env")
	t.Setenv("OS_PASSWORD", "os-from-env")
	t.Setenv("MQTT_PASSWORD", "mqtt-from-env")
	c := newConfigFromBytes([]byte(validConfig))
	if c.GetControllerConfig().Secret != "from-env" {
		t.Errorf("expected controller secret from env, got %s", c.GetControllerConfig().Secret)
	}
	if c.GetDBConfig().Password != "pg-from-env" {
		t.Errorf("expected db password from env, got %s", c.GetDBConfig().Password)
	}
	if c.GetKeystoneConfig().OSPassword != "os-from-env" {
		t.Errorf("expected keystone password from env, got %s", c.GetKeystoneConfig().OSPassword)
	}
	if c.GetMQTTConfig().Password != "mqtt-from-env" {
		t.Errorf("expected mqtt password from env, got %s", c.GetMQTTConfig().Password)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *config)
		wantErr string
	}{
		{
			name:   "valid",
			mutate: func(c *config) {},
		},
		{
			name:    "unsupported driver",
			mutate:  func(c *config) { c.DBConfig.Driver = "mysql" },
			wantErr: "unsupported driver",
		},
		{
			name:    "sqlite without path",
			mutate:  func(c *config) { c.DBConfig = DBConfig{Driver: "sqlite"} },
			wantErr: "requires a path",
		},
		{
			name:    "missing controller url",
			mutate:  func(c *config) { c.ControllerConfig.URL = "" },
			wantErr: "url is required",
		},
		{
			name:    "empty workflow name",
			mutate:  func(c *config) { c.ControllerConfig.Workflows.NATDelete = "" },
			wantErr: "NATDelete",
		},
		{
			name:    "zero max polls",
			mutate:  func(c *config) { c.WorkflowConfig.MaxPolls = 0 },
			wantErr: "maxPolls",
		},
		{
			name:    "zero allocator",
			mutate:  func(c *config) { c.AllocatorConfig.MaxIndex = 0 },
			wantErr: "maxIndex",
		},
		{
			name:    "zero retry interval",
			mutate:  func(c *config) { c.NeutronConfig.RetryIntervalSeconds = 0 },
			wantErr: "retryIntervalSeconds",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newConfigFromBytes([]byte(validConfig)).(*config)
			tt.mutate(c)
			err := c.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("expected no error, got %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestLoggingConfig(t *testing.T) {
	levels := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"INFO":    slog.LevelInfo,
		"warn":    slog.LevelWarn,
		"error":   slog.LevelError,
		"unknown": slog.LevelInfo,
	}
	for str, want := range levels {
		if got := (LoggingConfig{LevelStr: str}).Level(); got != want {
			t.Errorf("level %q: expected %v, got %v", str, want, got)
		}
	}

	var buf bytes.Buffer
	logger := LoggingConfig{LevelStr: "warn", Format: "json"}.NewLogger(&buf)
	logger.Info("dropped")
	logger.Warn("kept", "tenant", "t1")
	out := buf.String()
	if strings.Contains(out, "dropped") {
		t.Errorf("expected info message to be filtered, got %s", out)
	}
	if !strings.Contains(out, `"tenant":"t1"`) || !strings.Contains(out, `"service":"tenantnet"`) {
		t.Errorf("expected json attributes, got %s", out)
	}
}
