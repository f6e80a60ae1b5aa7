package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talgya/pricing-sim/internal/settings"
	"github.com/talgya/pricing-sim/internal/strategy"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "pricesim.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, settings.Default(), cfg.Problem)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Nil(t, cfg.Seasonality(1))

	b, err := cfg.BanditSettings()
	require.NoError(t, err)
	assert.Equal(t, strategy.DecayingEpsilonGreedy, b.Policy)
	assert.Equal(t, 25, b.ArmsPerGroup)
}

func TestLoadFromFile(t *testing.T) {
	t.Setenv("PRICESIM_TEST_DB", "/tmp/runs.db")
	path := writeConfig(t, `
problem:
  group_sizes: [30, 30]
  group_means: [2.0, 4.0]
  num_predicted_groups: 2
simulation:
  seed: 42
  replications: 4
  seasonal:
    amplitude: 0.2
    period: 10
optimizer:
  iterations: 7
bandit:
  policy: ucb
  arms_per_group: 9
  ucb_param: 1.5
database:
  driver: sqlite
  dsn: ${PRICESIM_TEST_DB}
kafka:
  brokers: [localhost:9092]
`)
	cfg, err := LoadFromFile(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, []int{30, 30}, cfg.Problem.GroupSizes)
	assert.Equal(t, 0.88, cfg.Problem.Alpha, "unset fields keep defaults")
	assert.Equal(t, int64(42), cfg.Simulation.Seed)
	assert.Equal(t, 4, cfg.Simulation.Replications)
	assert.Equal(t, 7, cfg.Optimizer.Iterations)
	assert.Equal(t, 0.3, cfg.Optimizer.MutationRate)
	assert.Equal(t, "/tmp/runs.db", cfg.Database.DSN)
	assert.Equal(t, []string{"localhost:9092"}, cfg.Kafka.Brokers)
	assert.NotNil(t, cfg.Seasonality(1))

	b, err := cfg.BanditSettings()
	require.NoError(t, err)
	assert.Equal(t, strategy.UCB, b.Policy)
	assert.Equal(t, 9, b.ArmsPerGroup)
	assert.Equal(t, 1.5, b.UCBParam)
	assert.Equal(t, 600.0, b.MaxPrice)
}

func TestLoadAppliesEnv(t *testing.T) {
	t.Setenv("PRICESIM_SEED", "99")
	t.Setenv("PRICESIM_DB_DRIVER", "mysql")
	t.Setenv("PRICESIM_DB_DSN", "mysql://u:p@db:3306/pricing")
	t.Setenv("PRICESIM_ADMIN_KEY", "secret")
	t.Setenv("PRICESIM_KAFKA_BROKERS", "a:9092,b:9092")
	t.Setenv("PRICESIM_LOG_LEVEL", "debug")
	t.Setenv("RANDOM_ORG_API_KEY", "rk")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, int64(99), cfg.Simulation.Seed)
	assert.Equal(t, "mysql", cfg.Database.Driver)
	assert.Equal(t, "mysql://u:p@db:3306/pricing", cfg.Database.DSN)
	assert.Equal(t, "secret", cfg.API.AdminKey)
	assert.Equal(t, []string{"a:9092", "b:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "rk", cfg.Entropy.RandomOrgAPIKey)
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	_, err = Load(writeConfig(t, "problem: [not, a, map]"))
	assert.Error(t, err)

	_, err = Load(writeConfig(t, "bandit:\n  policy: thompson\n"))
	assert.Error(t, err)

	_, err = Load(writeConfig(t, "problem:\n  k_neighbors: 100\n"))
	assert.ErrorIs(t, err, settings.ErrInvalidSettings)

	t.Setenv("PRICESIM_SEED", "abc")
	_, err = Load("")
	assert.Error(t, err)
}

func TestValidateRejects(t *testing.T) {
	cfg := Default()
	cfg.Database.Driver = "postgres"
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.Logging.Level = "verbose"
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.Simulation.Replications = 0
	assert.Error(t, cfg.Validate())
}
