// Package config loads process configuration from an optional YAML file and
// LEADER_* environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/Shavakan/lease-leader/pkg/election"
	"github.com/Shavakan/lease-leader/pkg/lease"
)

// Store backends.
const (
	BackendKubernetes = "kubernetes"
	BackendDynamoDB   = "dynamodb"
	BackendRedis      = "redis"
	BackendMemory     = "memory"
)

const defaultLeaseName = "leader-example"

type Config struct {
	Enabled   bool   `yaml:"enabled"`
	LeaseName string `yaml:"lease_name"`
	Namespace string `yaml:"namespace"`
	Identity  string `yaml:"identity"`

	LeaseDuration  time.Duration `yaml:"lease_duration"`
	RenewDeadline  time.Duration `yaml:"renew_deadline"`
	RetryPeriod    time.Duration `yaml:"retry_period"`
	ReleaseTimeout time.Duration `yaml:"release_timeout"`

	Backend        string `yaml:"backend"`
	Kubeconfig     string `yaml:"kubeconfig"`
	AWSRegion      string `yaml:"aws_region"`
	DynamoDBTable  string `yaml:"dynamodb_table"`
	RedisAddr      string `yaml:"redis_addr"`
	RedisPassword  string `yaml:"redis_password"`
	RedisDB        int    `yaml:"redis_db"`
	RedisKeyPrefix string `yaml:"redis_key_prefix"`

	ListenAddr    string        `yaml:"listen_addr"`
	TaskInterval  time.Duration `yaml:"task_interval"`
	ShutdownGrace time.Duration `yaml:"shutdown_grace"`
	LogLevel      string        `yaml:"log_level"`

	Metrics MetricsConfig `yaml:"metrics"`
}

// MetricsConfig selects the metrics backends.
type MetricsConfig struct {
	Namespace         string   `yaml:"namespace"`
	PrometheusEnabled bool     `yaml:"prometheus_enabled"`
	PrometheusPath    string   `yaml:"prometheus_path"`
	DatadogEnabled    bool     `yaml:"datadog_enabled"`
	DatadogAddr       string   `yaml:"datadog_addr"`
	DatadogTags       []string `yaml:"datadog_tags"`
	CloudWatchEnabled bool     `yaml:"cloudwatch_enabled"`
}

// Default returns the built-in configuration before file and environment overrides.
func Default() *Config {
	return &Config{
		Enabled:        true,
		LeaseName:      defaultLeaseName,
		Namespace:      defaultNamespace(),
		Identity:       defaultIdentity(),
		LeaseDuration:  election.DefaultLeaseDuration,
		RenewDeadline:  election.DefaultRenewDeadline,
		RetryPeriod:    election.DefaultRetryPeriod,
		ReleaseTimeout: election.DefaultReleaseTimeout,
		Backend:        BackendKubernetes,
		AWSRegion:      "ap-northeast-1",
		RedisKeyPrefix: "lease-leader:",
		ListenAddr:     ":8080",
		TaskInterval:   5 * time.Second,
		ShutdownGrace:  30 * time.Second,
		LogLevel:       "info",
		Metrics: MetricsConfig{
			Namespace:      "lease_leader",
			PrometheusPath: "/metrics",
			DatadogAddr:    "localhost:8125",
		},
	}
}

// Load builds the configuration: defaults, then the file named by
// LEADER_CONFIG_FILE, then environment variables.
func Load() (*Config, error) {
	cfg := Default()

	if path := os.Getenv("LEADER_CONFIG_FILE"); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}
	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.Enabled = getEnvBool("LEADER_ENABLED", c.Enabled)
	c.LeaseName = getEnv("LEADER_LEASE_NAME", c.LeaseName)
	c.Namespace = getEnv("LEADER_NAMESPACE", c.Namespace)
	c.Identity = getEnv("LEADER_IDENTITY", c.Identity)

	c.LeaseDuration = time.Duration(getEnvInt("LEADER_LEASE_DURATION_SECONDS", int(c.LeaseDuration/time.Second))) * time.Second
	c.RenewDeadline = time.Duration(getEnvInt("LEADER_RENEW_DEADLINE_SECONDS", int(c.RenewDeadline/time.Second))) * time.Second
	c.RetryPeriod = time.Duration(getEnvInt("LEADER_RETRY_PERIOD_MILLIS", int(c.RetryPeriod/time.Millisecond))) * time.Millisecond
	c.ReleaseTimeout = getEnvDuration("LEADER_RELEASE_TIMEOUT", c.ReleaseTimeout)

	c.Backend = strings.ToLower(getEnv("LEADER_BACKEND", c.Backend))
	c.Kubeconfig = getEnv("KUBECONFIG", c.Kubeconfig)
	c.AWSRegion = getEnv("AWS_REGION", c.AWSRegion)
	c.DynamoDBTable = getEnv("LEADER_DYNAMODB_TABLE", c.DynamoDBTable)
	c.RedisAddr = getEnv("LEADER_REDIS_ADDR", c.RedisAddr)
	c.RedisPassword = getEnv("LEADER_REDIS_PASSWORD", c.RedisPassword)
	c.RedisDB = getEnvInt("LEADER_REDIS_DB", c.RedisDB)
	c.RedisKeyPrefix = getEnv("LEADER_REDIS_PREFIX", c.RedisKeyPrefix)

	c.ListenAddr = getEnv("LEADER_LISTEN_ADDR", c.ListenAddr)
	c.TaskInterval = getEnvDuration("LEADER_TASK_INTERVAL", c.TaskInterval)
	c.ShutdownGrace = getEnvDuration("LEADER_SHUTDOWN_GRACE", c.ShutdownGrace)
	c.LogLevel = getEnv("LEADER_LOG_LEVEL", c.LogLevel)

	m := &c.Metrics
	m.Namespace = getEnv("LEADER_METRICS_NAMESPACE", m.Namespace)
	m.PrometheusEnabled = getEnvBool("LEADER_METRICS_PROMETHEUS_ENABLED", m.PrometheusEnabled)
	m.PrometheusPath = getEnv("LEADER_METRICS_PROMETHEUS_PATH", m.PrometheusPath)
	m.DatadogEnabled = getEnvBool("LEADER_METRICS_DATADOG_ENABLED", m.DatadogEnabled)
	m.DatadogAddr = getEnv("LEADER_METRICS_DATADOG_ADDR", m.DatadogAddr)
	if tags := getEnv("LEADER_METRICS_DATADOG_TAGS", ""); tags != "" {
		m.DatadogTags = splitList(tags)
	}
	m.CloudWatchEnabled = getEnvBool("LEADER_METRICS_CLOUDWATCH_ENABLED", m.CloudWatchEnabled)
}

func (c *Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	ec := c.ElectionConfig()
	if err := ec.Validate(); err != nil {
		return err
	}

	switch c.Backend {
	case BackendKubernetes, BackendMemory:
	case BackendDynamoDB:
		if c.DynamoDBTable == "" {
			return fmt.Errorf("LEADER_DYNAMODB_TABLE is required for the dynamodb backend")
		}
	case BackendRedis:
		if c.RedisAddr == "" {
			return fmt.Errorf("LEADER_REDIS_ADDR is required for the redis backend")
		}
	default:
		return fmt.Errorf("unsupported LEADER_BACKEND %q", c.Backend)
	}

	if c.TaskInterval <= 0 {
		return fmt.Errorf("LEADER_TASK_INTERVAL must be positive")
	}

	// Store calls still in flight at shutdown must finish before the grace
	// period ends. Each call is bounded by the retry period.
	releaseTimeout := c.ReleaseTimeout
	if releaseTimeout == 0 {
		releaseTimeout = election.DefaultReleaseTimeout
	}
	if releaseTimeout >= c.ShutdownGrace {
		return fmt.Errorf("LEADER_RELEASE_TIMEOUT (%v) must be shorter than LEADER_SHUTDOWN_GRACE (%v)",
			releaseTimeout, c.ShutdownGrace)
	}
	if c.RetryPeriod >= c.ShutdownGrace {
		return fmt.Errorf("store call timeout (%v) must be shorter than LEADER_SHUTDOWN_GRACE (%v)",
			c.RetryPeriod, c.ShutdownGrace)
	}
	return nil
}

// ElectionConfig returns the elector settings.
func (c *Config) ElectionConfig() election.Config {
	return election.Config{
		Key:            lease.Key{Namespace: c.Namespace, Name: c.LeaseName},
		Identity:       c.Identity,
		LeaseDuration:  c.LeaseDuration,
		RenewDeadline:  c.RenewDeadline,
		RetryPeriod:    c.RetryPeriod,
		ReleaseTimeout: c.ReleaseTimeout,
	}
}

func defaultIdentity() string {
	if host := os.Getenv("HOSTNAME"); host != "" {
		return host
	}
	return "unknown-" + uuid.NewString()
}

func defaultNamespace() string {
	if ns := lease.InClusterNamespace(); ns != "" {
		return ns
	}
	return "default"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		var result int
		if _, err := fmt.Sscanf(value, "%d", &result); err == nil {
			return result
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
