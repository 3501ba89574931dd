package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_ValidStaticConfig(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "fleetgate.yml")

	validConfig := `
workers:
  discovery:
    mode: static
  static:
    - "10.0.0.1:9000"
    - "10.0.0.2:9000"
registry:
  url: "redis://localhost:6379/0"
`
	require.NoError(t, os.WriteFile(configPath, []byte(validConfig), 0644))

	cfg, err := Load(configPath)
	require.NoError(t, err)
	assert.Equal(t, "static", cfg.Workers.Discovery.Mode)
	assert.Len(t, cfg.Workers.Static, 2)
	assert.Equal(t, "fleetgate:assign:", cfg.Registry.ModelKeyPrefix)
	assert.Equal(t, 300, cfg.Registry.TTLSeconds)
	assert.Equal(t, 16, cfg.Concurrency.HealthProbes)
	assert.Equal(t, 4, cfg.Concurrency.ModelLoads)
}

func TestLoad_FileNotFound(t *testing.T) {
	cfg, err := Load("/nonexistent/fleetgate.yml")
	assert.Error(t, err)
	assert.Nil(t, cfg)
	assert.Contains(t, err.Error(), "failed to read config")
}

func TestLoad_InvalidYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "fleetgate.yml")
	require.NoError(t, os.WriteFile(configPath, []byte("workers: [this is not\n  a map"), 0644))

	cfg, err := Load(configPath)
	assert.Error(t, err)
	assert.Nil(t, cfg)
}

func TestLoad_StaticModeRequiresWorkers(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "fleetgate.yml")
	require.NoError(t, os.WriteFile(configPath, []byte(`
workers:
  discovery:
    mode: static
registry:
  url: "redis://localhost:6379/0"
`), 0644))

	cfg, err := Load(configPath)
	assert.Error(t, err)
	assert.Nil(t, cfg)
	assert.Contains(t, err.Error(), "workers.static")
}

func TestLoad_ClusterModeRequiresServiceAndNamespace(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "fleetgate.yml")
	require.NoError(t, os.WriteFile(configPath, []byte(`
workers:
  discovery:
    mode: cluster
  cluster:
    namespace: inference
registry:
  url: "redis://localhost:6379/0"
`), 0644))

	cfg, err := Load(configPath)
	assert.Error(t, err)
	assert.Nil(t, cfg)
	assert.Contains(t, err.Error(), "serviceName")
}

func TestLoad_MissingRegistryURL(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "fleetgate.yml")
	require.NoError(t, os.WriteFile(configPath, []byte(`
workers:
  discovery:
    mode: static
  static: ["10.0.0.1:9000"]
`), 0644))

	cfg, err := Load(configPath)
	assert.Error(t, err)
	assert.Nil(t, cfg)
	assert.Contains(t, err.Error(), "registry.url")
}

func TestApplyDefaults_ComputesAssignTTL(t *testing.T) {
	cfg := &Config{
		Workers:  WorkersConfig{Discovery: DiscoveryConfig{Mode: "static"}, Static: []string{"a:1"}},
		Registry: RegistryConfig{URL: "redis://localhost:6379/0", TTLSeconds: 45},
	}
	cfg.ApplyDefaults()
	assert.Equal(t, 45, cfg.Registry.TTLSeconds)
	assert.Equal(t, 45e9, float64(cfg.Registry.AssignTTL))
}
