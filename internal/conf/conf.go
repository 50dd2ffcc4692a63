// Copyright 2025 SAP SE
// SPDX-License-Identifier: Apache-2.0

package conf

import (
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Logging configuration.
type LoggingConfig struct {
	// The log level, one of "debug", "info", "warn", "error".
	LevelStr string `yaml:"level"`
	// The log format, "json" or "text".
	Format string `yaml:"format"`
}

// Database configuration.
type DBConfig struct {
	// The database driver, "sqlite" or "postgres".
	Driver string `yaml:"driver"`
	// Path to the sqlite database file (sqlite only).
	Path string `yaml:"path,omitempty"`

	Host     string `yaml:"host,omitempty"`
	Port     string `yaml:"port,omitempty"`
	Database string `yaml:"database,omitempty"`
	User     string `yaml:"user,omitempty"`
	Password string `yaml:"password,omitempty"`
}

// Configuration for the monitoring module.
type MonitoringConfig struct {
	// The labels to add to all metrics.
	Labels map[string]string `yaml:"labels"`

	// The port to expose the metrics on.
	Port int `yaml:"port"`
}

// Configuration for the http api exposed to the network framework.
type APIConfig struct {
	// The port to serve the api on.
	Port int `yaml:"port"`
	// If request bodies should be logged out.
	// This feature is intended for debugging purposes only.
	LogRequestBodies bool `yaml:"logRequestBodies"`
}

// Workflow names the controller exposes for each provisioning step.
type WorkflowNames struct {
	TenantNetworkCreate string `yaml:"tenantNetworkCreate"`
	TenantNetworkDelete string `yaml:"tenantNetworkDelete"`
	VLANCreate          string `yaml:"vlanCreate"`
	VLANDelete          string `yaml:"vlanDelete"`
	DeviceAttach        string `yaml:"deviceAttach"`
	DeviceDetach        string `yaml:"deviceDetach"`
	FirewallCreate      string `yaml:"firewallCreate"`
	FirewallUpdate      string `yaml:"firewallUpdate"`
	FirewallDelete      string `yaml:"firewallDelete"`
	LoadBalancerCreate  string `yaml:"loadBalancerCreate"`
	LoadBalancerUpdate  string `yaml:"loadBalancerUpdate"`
	LoadBalancerDelete  string `yaml:"loadBalancerDelete"`
	NATCreate           string `yaml:"natCreate"`
	NATDelete           string `yaml:"natDelete"`
	PolicyCreate        string `yaml:"policyCreate"`
	PolicyUpdate        string `yaml:"policyUpdate"`
	PolicyDelete        string `yaml:"policyDelete"`
}

// Configuration of the remote network-automation controller.
type ControllerConfig struct {
	// The base URL of the controller api, e.g. https://vdirect:2189/api.
	URL string `yaml:"url"`
	// The user that signs the requests.
	User string `yaml:"user"`
	// The secret used to sign the requests.
	Secret string `yaml:"secret"`
	// Timeout for a single http request against the controller.
	RequestTimeoutSeconds int `yaml:"requestTimeoutSeconds"`
	// Workflow names by provisioning step.
	Workflows WorkflowNames `yaml:"workflows"`
	// Reserved datacenter resource to use per load balancer type.
	// Load balancer types without an entry are created without a reservation.
	ReservedResources map[string]string `yaml:"reservedResources,omitempty"`
}

// Configuration of the workflow execution engine.
type WorkflowConfig struct {
	// How long to wait before the first status poll.
	FirstWaitSeconds int `yaml:"firstWaitSeconds"`
	// How long to wait between subsequent status polls.
	IntervalSeconds int `yaml:"intervalSeconds"`
	// How many status polls to perform before giving up.
	MaxPolls int `yaml:"maxPolls"`
	// How long a successful call stays eligible for collapsing
	// with an immediately following inverse call.
	HistoryFreshnessSeconds int `yaml:"historyFreshnessSeconds"`
}

// Configuration of the firewall id allocator.
type AllocatorConfig struct {
	// Number of ids provisioned per firewall instance.
	MaxIndex int `yaml:"maxIndex"`
}

// Configuration for the keystone authentication.
type KeystoneConfig struct {
	// The URL of the keystone service.
	URL string `yaml:"url"`
	// Availability of the service, such as "public", "internal", or "admin".
	Availability string `yaml:"availability"`
	// The OpenStack username (OS_USERNAME in openstack cli).
	OSUsername string `yaml:"username"`
	// The OpenStack password (OS_PASSWORD in openstack cli).
	OSPassword string `yaml:"password"`
	// The OpenStack project name (OS_PROJECT_NAME in openstack cli).
	OSProjectName string `yaml:"projectName"`
	// The OpenStack user domain name (OS_USER_DOMAIN_NAME in openstack cli).
	OSUserDomainName string `yaml:"userDomainName"`
	// The OpenStack project domain name (OS_PROJECT_DOMAIN_NAME in openstack cli).
	OSProjectDomainName string `yaml:"projectDomainName"`
}

// Configuration for the neutron network framework adapter.
type NeutronConfig struct {
	// Only ports with this device owner get the segment notification.
	// Empty means all ports on the network.
	DeviceOwner string `yaml:"deviceOwner,omitempty"`
	// Interval at which pending segment notifications are retried.
	RetryIntervalSeconds int `yaml:"retryIntervalSeconds"`
}

// Configuration for the mqtt broker lifecycle events are published to.
type MQTTConfig struct {
	// The URL of the mqtt broker. Empty disables event publishing.
	URL string `yaml:"url,omitempty"`
	// Credentials for the mqtt broker.
	Username string `yaml:"username,omitempty"`
	Password string `yaml:"password,omitempty"`
	// Upper bound for connecting and for a single publish. Defaults to 5s.
	TimeoutSeconds int `yaml:"timeoutSeconds,omitempty"`
}

// Configuration for the tenantnet service.
type Config interface {
	GetLoggingConfig() LoggingConfig
	GetDBConfig() DBConfig
	GetMonitoringConfig() MonitoringConfig
	GetAPIConfig() APIConfig
	GetControllerConfig() ControllerConfig
	GetWorkflowConfig() WorkflowConfig
	GetAllocatorConfig() AllocatorConfig
	GetKeystoneConfig() KeystoneConfig
	GetNeutronConfig() NeutronConfig
	GetMQTTConfig() MQTTConfig
	// Check if the configuration is valid.
	Validate() error
}

type config struct {
	LoggingConfig    `yaml:"logging"`
	DBConfig         `yaml:"db"`
	MonitoringConfig `yaml:"monitoring"`
	APIConfig        `yaml:"api"`
	ControllerConfig `yaml:"controller"`
	WorkflowConfig   `yaml:"workflow"`
	AllocatorConfig  `yaml:"allocator"`
	KeystoneConfig   `yaml:"keystone"`
	NeutronConfig    `yaml:"neutron"`
	MQTTConfig       `yaml:"mqtt"`
}

// Create a new configuration from the default config yaml file.
// The path can be overridden with the TENANTNET_CONFIG env variable.
func NewConfig() Config {
	return newConfigFromFile(Getenv("TENANTNET_CONFIG", "/etc/config/conf.yaml"))
}

// Create a new configuration from the given file.
func newConfigFromFile(filepath string) Config {
	file, err := os.Open(filepath)
	if err != nil {
		panic(err)
	}
	defer file.Close()
	bytes, err := io.ReadAll(file)
	if err != nil {
		panic(err)
	}
	return newConfigFromBytes(bytes)
}

// Create a new configuration from the given bytes.
func newConfigFromBytes(bytes []byte) Config {
	c := defaultConfig()
	if err := yaml.Unmarshal(bytes, &c); err != nil {
		panic(err)
	}
	c.overrideSecretsFromEnv()
	return &c
}

// Defaults that are used when the yaml does not set a value.
func defaultConfig() config {
	return config{
		LoggingConfig: LoggingConfig{LevelStr: "info", Format: "text"},
		DBConfig:      DBConfig{Driver: "sqlite", Path: "/var/lib/tenantnet/tenantnet.db"},
		MonitoringConfig: MonitoringConfig{
			Port: 2112,
		},
		APIConfig: APIConfig{Port: 8080},
		ControllerConfig: ControllerConfig{
			RequestTimeoutSeconds: 30,
			Workflows: WorkflowNames{
				TenantNetworkCreate: "create_tenant_network",
				TenantNetworkDelete: "delete_tenant_network",
				VLANCreate:          "create_vlan",
				VLANDelete:          "delete_vlan",
				DeviceAttach:        "attach_device",
				DeviceDetach:        "detach_device",
				FirewallCreate:      "create_tenant_firewall",
				FirewallUpdate:      "update_tenant_firewall",
				FirewallDelete:      "delete_tenant_firewall",
				LoadBalancerCreate:  "create_load_balancer",
				LoadBalancerUpdate:  "update_load_balancer",
				LoadBalancerDelete:  "delete_load_balancer",
				NATCreate:           "create_nat",
				NATDelete:           "delete_nat",
				PolicyCreate:        "create_policy",
				PolicyUpdate:        "update_policy",
				PolicyDelete:        "delete_policy",
			},
		},
		WorkflowConfig: WorkflowConfig{
			FirstWaitSeconds:        2,
			IntervalSeconds:         5,
			MaxPolls:                60,
			HistoryFreshnessSeconds: 60,
		},
		AllocatorConfig: AllocatorConfig{MaxIndex: 1024},
		KeystoneConfig:  KeystoneConfig{Availability: "public"},
		NeutronConfig:   NeutronConfig{RetryIntervalSeconds: 60},
	}
}

// Secrets may be injected through the environment instead of the config file.
func (c *config) overrideSecretsFromEnv() {
	c.ControllerConfig.Secret = Getenv("CONTROLLER_SECRET", c.ControllerConfig.Secret)
	c.DBConfig.Password = Getenv("POSTGRES_PASSWORD", c.DBConfig.Password)
	c.KeystoneConfig.OSPassword = Getenv("OS_PASSWORD", c.KeystoneConfig.OSPassword)
	c.MQTTConfig.Password = Getenv("MQTT_PASSWORD", c.MQTTConfig.Password)
}

func (c *config) GetLoggingConfig() LoggingConfig       { return c.LoggingConfig }
func (c *config) GetDBConfig() DBConfig                 { return c.DBConfig }
func (c *config) GetMonitoringConfig() MonitoringConfig { return c.MonitoringConfig }
func (c *config) GetAPIConfig() APIConfig               { return c.APIConfig }
func (c *config) GetControllerConfig() ControllerConfig { return c.ControllerConfig }
func (c *config) GetWorkflowConfig() WorkflowConfig     { return c.WorkflowConfig }
func (c *config) GetAllocatorConfig() AllocatorConfig   { return c.AllocatorConfig }
func (c *config) GetKeystoneConfig() KeystoneConfig     { return c.KeystoneConfig }
func (c *config) GetNeutronConfig() NeutronConfig       { return c.NeutronConfig }
func (c *config) GetMQTTConfig() MQTTConfig             { return c.MQTTConfig }

// The request timeout as a duration.
func (c ControllerConfig) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutSeconds) * time.Second
}

// The first poll wait as a duration.
func (c WorkflowConfig) FirstWait() time.Duration {
	return time.Duration(c.FirstWaitSeconds) * time.Second
}

// The poll interval as a duration.
func (c WorkflowConfig) Interval() time.Duration {
	return time.Duration(c.IntervalSeconds) * time.Second
}

// The history freshness window as a duration.
func (c WorkflowConfig) HistoryFreshness() time.Duration {
	return time.Duration(c.HistoryFreshnessSeconds) * time.Second
}

// The mqtt timeout as a duration.
func (c MQTTConfig) Timeout() time.Duration {
	if c.TimeoutSeconds <= 0 {
		return 5 * time.Second
	}
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// The segment retry interval as a duration.
func (c NeutronConfig) RetryInterval() time.Duration {
	return time.Duration(c.RetryIntervalSeconds) * time.Second
}
