// Package config loads pricesim configuration from YAML and the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/talgya/pricing-sim/internal/engine"
	"github.com/talgya/pricing-sim/internal/optimize"
	"github.com/talgya/pricing-sim/internal/settings"
	"github.com/talgya/pricing-sim/internal/strategy"
)

// Config is the complete configuration of the binary.
type Config struct {
	Problem    settings.ProblemSettings `yaml:"problem"`
	Simulation SimulationConfig         `yaml:"simulation"`
	Optimizer  optimize.Config          `yaml:"optimizer"`
	Bandit     BanditConfig             `yaml:"bandit"`
	Database   DatabaseConfig           `yaml:"database"`
	Kafka      KafkaConfig              `yaml:"kafka"`
	API        APIConfig                `yaml:"api"`
	Logging    LoggingConfig            `yaml:"logging"`
	Entropy    EntropyConfig            `yaml:"entropy"`
}

// SimulationConfig controls how runs are replicated.
type SimulationConfig struct {
	Seed         int64          `yaml:"seed"` // 0 draws a seed from the entropy source
	Replications int            `yaml:"replications"`
	Workers      int            `yaml:"workers"` // 0 uses every CPU
	Seasonal     SeasonalConfig `yaml:"seasonal"`
}

// SeasonalConfig parameterizes WTP modulation. All zeros disables it.
type SeasonalConfig struct {
	Amplitude      float64 `yaml:"amplitude"`
	Period         float64 `yaml:"period"`
	NoiseAmplitude float64 `yaml:"noise_amplitude"`
}

// BanditConfig is the bandit section; Policy is a policy name.
type BanditConfig struct {
	strategy.BanditConfig `yaml:",inline"`
	Policy                string `yaml:"policy"`
}

// DatabaseConfig selects the run store. An empty driver disables persistence.
type DatabaseConfig struct {
	Driver string `yaml:"driver"` // "sqlite" or "mysql"
	DSN    string `yaml:"dsn"`
}

// KafkaConfig enables run-summary publishing when brokers are set.
type KafkaConfig struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

// APIConfig configures the HTTP server.
type APIConfig struct {
	Port     int    `yaml:"port"`
	AdminKey string `yaml:"admin_key,omitempty"`
}

// LoggingConfig sets the log level.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// EntropyConfig configures the seed source.
type EntropyConfig struct {
	RandomOrgAPIKey string `yaml:"random_org_api_key,omitempty"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Problem: settings.Default(),
		Simulation: SimulationConfig{
			Replications: 10,
			Seasonal:     SeasonalConfig{Period: 25},
		},
		Optimizer: optimize.DefaultConfig(),
		Bandit: BanditConfig{
			BanditConfig: strategy.BanditConfig{
				MinPrice:     0,
				MaxPrice:     600,
				ArmsPerGroup: 25,
				Epsilon:      0.3,
				FinalEpsilon: 0.01,
				UCBParam:     2,
			},
			Policy: strategy.DecayingEpsilonGreedy.String(),
		},
		Database: DatabaseConfig{Driver: "sqlite", DSN: "pricesim.db"},
		Kafka:    KafkaConfig{Topic: "pricing.runs"},
		API:      APIConfig{Port: 8080},
		Logging:  LoggingConfig{Level: "info"},
	}
}

// Load builds the configuration. Order: defaults, then the file at path when
// path is non-empty, then environment variables.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		fileCfg, err := LoadFromFile(path)
		if err != nil {
			return nil, err
		}
		cfg = fileCfg
	}
	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromFile reads a YAML file over the defaults.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}
	cfg.Database.DSN = os.Expand(cfg.Database.DSN, os.Getenv)
	return cfg, nil
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if err := c.Problem.Validate(); err != nil {
		return err
	}
	if c.Simulation.Replications < 1 {
		return fmt.Errorf("replications must be positive, got %d", c.Simulation.Replications)
	}
	if _, err := strategy.ParseBanditPolicy(c.Bandit.Policy); err != nil {
		return err
	}
	if c.Bandit.ArmsPerGroup < 1 {
		return fmt.Errorf("bandit arms_per_group must be positive, got %d", c.Bandit.ArmsPerGroup)
	}
	switch c.Database.Driver {
	case "", "sqlite", "mysql":
	default:
		return fmt.Errorf("invalid database driver: %s (valid: sqlite, mysql, or empty)", c.Database.Driver)
	}
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if c.Logging.Level != "" && !validLevels[strings.ToLower(c.Logging.Level)] {
		return fmt.Errorf("invalid log level: %s (valid: debug, info, warn, error)", c.Logging.Level)
	}
	return nil
}

// BanditSettings returns the bandit configuration with its policy resolved.
func (c *Config) BanditSettings() (strategy.BanditConfig, error) {
	p, err := strategy.ParseBanditPolicy(c.Bandit.Policy)
	if err != nil {
		return strategy.BanditConfig{}, err
	}
	b := c.Bandit.BanditConfig
	b.Policy = p
	return b, nil
}

// Seasonality returns the configured WTP modulation, or nil when disabled.
func (c *Config) Seasonality(seed int64) *engine.Seasonality {
	s := c.Simulation.Seasonal
	if s.Amplitude == 0 && s.NoiseAmplitude == 0 {
		return nil
	}
	return engine.NewSeasonality(s.Amplitude, s.Period, s.NoiseAmplitude, seed)
}

func applyEnvOverrides(cfg *Config) error {
	if v := os.Getenv("PRICESIM_SEED"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("PRICESIM_SEED: %w", err)
		}
		cfg.Simulation.Seed = n
	}
	if v := os.Getenv("PRICESIM_DB_DRIVER"); v != "" {
		cfg.Database.Driver = v
	}
	if v := os.Getenv("PRICESIM_DB_DSN"); v != "" {
		cfg.Database.DSN = v
	}
	if v := os.Getenv("PRICESIM_ADMIN_KEY"); v != "" {
		cfg.API.AdminKey = v
	}
	if v := os.Getenv("PRICESIM_KAFKA_BROKERS"); v != "" {
		cfg.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := os.Getenv("PRICESIM_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("RANDOM_ORG_API_KEY"); v != "" {
		cfg.Entropy.RandomOrgAPIKey = v
	}
	return nil
}
