// Package config loads fleetgate's YAML configuration file.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level fleetgate configuration.
type Config struct {
	Workers     WorkersConfig     `yaml:"workers"`
	Registry    RegistryConfig    `yaml:"registry"`
	Timings     TimingsConfig     `yaml:"timings"`
	Timeouts    TimeoutsConfig    `yaml:"timeouts"`
	Concurrency ConcurrencyConfig `yaml:"concurrency"`
	Load        LoadConfig        `yaml:"load"`
	Log         LogConfig         `yaml:"log"`
	ListenAddr  string            `yaml:"listenAddr"`
}

// WorkersConfig selects and configures worker discovery.
type WorkersConfig struct {
	Discovery DiscoveryConfig `yaml:"discovery"`
	Static    []string        `yaml:"static"`
	Cluster   ClusterConfig   `yaml:"cluster"`
}

// DiscoveryConfig picks the discovery mode: "static" or "cluster".
type DiscoveryConfig struct {
	Mode string `yaml:"mode"`
}

// ClusterConfig configures Kubernetes Endpoints-based discovery.
type ClusterConfig struct {
	Namespace      string `yaml:"namespace"`
	ServiceName    string `yaml:"serviceName"`
	PortName       string `yaml:"portName"`
	Kubeconfig     string `yaml:"kubeconfig"`
	PollInterval   time.Duration `yaml:"pollInterval"`
}

// RegistryConfig configures the Redis-backed registry.
type RegistryConfig struct {
	URL                string        `yaml:"url"`
	ModelKeyPrefix     string        `yaml:"modelKeyPrefix"`
	WorkerLoadKeyPrefix string       `yaml:"workerLoadKeyPrefix"`
	TTLSeconds         int           `yaml:"ttlSeconds"`
	AssignTTL          time.Duration `yaml:"-"`
}

// TimingsConfig configures the background loops.
type TimingsConfig struct {
	HealthProbeInterval  time.Duration `yaml:"healthProbeInterval"`
	ReconcileInterval    time.Duration `yaml:"reconcileInterval"`
	DiscoveryPollInterval time.Duration `yaml:"discoveryPollInterval"`
}

// TimeoutsConfig configures per-call deadlines.
type TimeoutsConfig struct {
	HealthProbe time.Duration `yaml:"healthProbe"`
	ModelLoad   time.Duration `yaml:"modelLoad"`
	ModelUnload time.Duration `yaml:"modelUnload"`
	Registry    time.Duration `yaml:"registry"`
}

// ConcurrencyConfig bounds fan-out for network operations.
type ConcurrencyConfig struct {
	HealthProbes int `yaml:"healthProbes"`
	ModelLoads   int `yaml:"modelLoads"`
}

// LoadConfig carries the batching hints sent to a worker on every load call.
type LoadConfig struct {
	BatchSize   int `yaml:"batchSize"`
	BatchWaitMs int `yaml:"batchWaitMs"`
}

// LogConfig configures the structured logger.
type LogConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// ApplyDefaults fills in zero-valued fields with fleetgate's defaults.
func (c *Config) ApplyDefaults() {
	if c.Workers.Discovery.Mode == "" {
		c.Workers.Discovery.Mode = "static"
	}
	if c.Workers.Cluster.PortName == "" {
		c.Workers.Cluster.PortName = "http"
	}
	if c.Workers.Cluster.PollInterval == 0 {
		c.Workers.Cluster.PollInterval = 15 * time.Second
	}
	if c.Registry.ModelKeyPrefix == "" {
		c.Registry.ModelKeyPrefix = "fleetgate:assign:"
	}
	if c.Registry.WorkerLoadKeyPrefix == "" {
		c.Registry.WorkerLoadKeyPrefix = "fleetgate:load:"
	}
	if c.Registry.TTLSeconds == 0 {
		c.Registry.TTLSeconds = 300
	}
	c.Registry.AssignTTL = time.Duration(c.Registry.TTLSeconds) * time.Second

	if c.Timings.HealthProbeInterval == 0 {
		c.Timings.HealthProbeInterval = 5 * time.Second
	}
	if c.Timings.ReconcileInterval == 0 {
		c.Timings.ReconcileInterval = 30 * time.Second
	}
	if c.Timings.DiscoveryPollInterval == 0 {
		c.Timings.DiscoveryPollInterval = 15 * time.Second
	}

	if c.Timeouts.HealthProbe == 0 {
		c.Timeouts.HealthProbe = 2 * time.Second
	}
	if c.Timeouts.ModelLoad == 0 {
		c.Timeouts.ModelLoad = 60 * time.Second
	}
	if c.Timeouts.ModelUnload == 0 {
		c.Timeouts.ModelUnload = 10 * time.Second
	}
	if c.Timeouts.Registry == 0 {
		c.Timeouts.Registry = 2 * time.Second
	}

	if c.Concurrency.HealthProbes == 0 {
		c.Concurrency.HealthProbes = 16
	}
	if c.Concurrency.ModelLoads == 0 {
		c.Concurrency.ModelLoads = 4
	}

	if c.Load.BatchSize == 0 {
		c.Load.BatchSize = 32
	}
	if c.Load.BatchWaitMs == 0 {
		c.Load.BatchWaitMs = 50
	}

	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.ListenAddr == "" {
		c.ListenAddr = ":8080"
	}
}

// Validate checks the configuration for internal consistency.
func (c *Config) Validate() error {
	switch c.Workers.Discovery.Mode {
	case "static":
		if len(c.Workers.Static) == 0 {
			return fmt.Errorf("workers.static must list at least one worker when discovery.mode is 'static'")
		}
	case "cluster":
		if c.Workers.Cluster.ServiceName == "" {
			return fmt.Errorf("workers.cluster.serviceName is required when discovery.mode is 'cluster'")
		}
		if c.Workers.Cluster.Namespace == "" {
			return fmt.Errorf("workers.cluster.namespace is required when discovery.mode is 'cluster'")
		}
	default:
		return fmt.Errorf("workers.discovery.mode must be 'static' or 'cluster', got %q", c.Workers.Discovery.Mode)
	}

	if c.Registry.URL == "" {
		return fmt.Errorf("registry.url is required")
	}
	if c.Registry.TTLSeconds <= 0 {
		return fmt.Errorf("registry.ttlSeconds must be > 0, got %d", c.Registry.TTLSeconds)
	}
	if c.Concurrency.HealthProbes <= 0 {
		return fmt.Errorf("concurrency.healthProbes must be > 0, got %d", c.Concurrency.HealthProbes)
	}
	if c.Concurrency.ModelLoads <= 0 {
		return fmt.Errorf("concurrency.modelLoads must be > 0, got %d", c.Concurrency.ModelLoads)
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level must be one of debug|info|warn|error, got %q", c.Log.Level)
	}
	return nil
}

// Load reads, defaults, and validates the configuration at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}
