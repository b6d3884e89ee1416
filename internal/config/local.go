package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// LocalConfig holds configuration for local daemon mode
type LocalConfig struct {
	Daemon  DaemonConfig  `yaml:"daemon"`
	User    UserConfig    `yaml:"user"`
	Content ContentConfig `yaml:"content"`
	Backend BackendConfig `yaml:"backend"`
	Queue   QueueConfig   `yaml:"queue"`
	Timings TimingsConfig `yaml:"timings"`
	Outbox  OutboxConfig  `yaml:"outbox"`
}

// DaemonConfig holds daemon server settings
type DaemonConfig struct {
	Port      int    `yaml:"port"`
	Bind      string `yaml:"bind"`
	LogLevel  string `yaml:"log_level"`
	RateLimit int    `yaml:"rate_limit"`
}

// UserConfig identifies the local learner
type UserConfig struct {
	ID string `yaml:"id"`
}

// ContentConfig holds the lesson pack location
type ContentConfig struct {
	Dir string `yaml:"dir"`
}

// BackendConfig selects the progress backend
type BackendConfig struct {
	Driver      string `yaml:"driver"`
	DatabaseURL string `yaml:"-"` // Loaded from secrets.yaml
}

// QueueConfig holds progress event settings
type QueueConfig struct {
	AMQPURL string `yaml:"-"` // Loaded from secrets.yaml
	Workers int    `yaml:"workers"`
}

// TimingsConfig holds the session transition delays in milliseconds
type TimingsConfig struct {
	AdvanceMS      int `yaml:"advance_ms"`
	MatchAdvanceMS int `yaml:"match_advance_ms"`
	FlashMS        int `yaml:"flash_ms"`
	BadgeMS        int `yaml:"badge_ms"`
}

// OutboxConfig holds the command relay policy
type OutboxConfig struct {
	FlushIntervalSeconds int `yaml:"flush_interval_seconds"`
	BatchSize            int `yaml:"batch_size"`
	MaxAttempts          int `yaml:"max_attempts"`
}

// SecretsConfig holds connection strings loaded from secrets.yaml
type SecretsConfig struct {
	DatabaseURL string `yaml:"database_url,omitempty"`
	AMQPURL     string `yaml:"amqp_url,omitempty"`
}

// CadenceDir returns the path to ~/.cadence
func CadenceDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("get home dir: %w", err)
	}
	return filepath.Join(home, ".cadence"), nil
}

// EnsureCadenceDir creates ~/.cadence and subdirectories if they don't exist
func EnsureCadenceDir() (string, error) {
	dir, err := CadenceDir()
	if err != nil {
		return "", err
	}

	subdirs := []string{
		"",
		"logs",
		"lessons",
		"state",
	}

	for _, subdir := range subdirs {
		path := filepath.Join(dir, subdir)
		if err := os.MkdirAll(path, 0755); err != nil {
			return "", fmt.Errorf("create dir %s: %w", path, err)
		}
	}

	return dir, nil
}

// DefaultLocalConfig returns sensible defaults for local mode
func DefaultLocalConfig() *LocalConfig {
	return &LocalConfig{
		Daemon: DaemonConfig{
			Port:      7433,
			Bind:      "127.0.0.1",
			LogLevel:  "info",
			RateLimit: 50,
		},
		User: UserConfig{
			ID: "local",
		},
		Backend: BackendConfig{
			Driver: DriverSQLite,
		},
		Queue: QueueConfig{
			Workers: 2,
		},
		Timings: TimingsConfig{
			AdvanceMS:      300,
			MatchAdvanceMS: 1000,
			FlashMS:        600,
			BadgeMS:        3000,
		},
		Outbox: OutboxConfig{
			FlushIntervalSeconds: 5,
			BatchSize:            50,
			MaxAttempts:          10,
		},
	}
}

// LoadLocalConfig loads configuration from ~/.cadence/config.yaml
func LoadLocalConfig() (*LocalConfig, error) {
	dir, err := CadenceDir()
	if err != nil {
		return nil, err
	}

	configPath := filepath.Join(dir, "config.yaml")

	cfg := DefaultLocalConfig()
	cfg.Content.Dir = filepath.Join(dir, "lessons")

	// If config doesn't exist, return defaults
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return cfg, loadSecrets(dir, cfg)
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := loadSecrets(dir, cfg); err != nil {
		return nil, fmt.Errorf("load secrets: %w", err)
	}

	return cfg, nil
}

// loadSecrets loads connection strings from secrets.yaml
func loadSecrets(dir string, cfg *LocalConfig) error {
	secretsPath := filepath.Join(dir, "secrets.yaml")

	// If secrets file doesn't exist, skip
	if _, err := os.Stat(secretsPath); os.IsNotExist(err) {
		return nil
	}

	data, err := os.ReadFile(secretsPath)
	if err != nil {
		return fmt.Errorf("read secrets: %w", err)
	}

	var secrets SecretsConfig
	if err := yaml.Unmarshal(data, &secrets); err != nil {
		return fmt.Errorf("parse secrets: %w", err)
	}

	if secrets.DatabaseURL != "" {
		cfg.Backend.DatabaseURL = secrets.DatabaseURL
	}
	if secrets.AMQPURL != "" {
		cfg.Queue.AMQPURL = secrets.AMQPURL
	}

	return nil
}

// SaveLocalConfig saves configuration to ~/.cadence/config.yaml
func SaveLocalConfig(cfg *LocalConfig) error {
	dir, err := EnsureCadenceDir()
	if err != nil {
		return err
	}

	configPath := filepath.Join(dir, "config.yaml")

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}

	return nil
}

// SaveSecrets saves connection strings to ~/.cadence/secrets.yaml
func SaveSecrets(secrets SecretsConfig) error {
	dir, err := EnsureCadenceDir()
	if err != nil {
		return err
	}

	secretsPath := filepath.Join(dir, "secrets.yaml")

	data, err := yaml.Marshal(secrets)
	if err != nil {
		return fmt.Errorf("marshal secrets: %w", err)
	}

	// Write with restricted permissions (owner read/write only)
	if err := os.WriteFile(secretsPath, data, 0600); err != nil {
		return fmt.Errorf("write secrets: %w", err)
	}

	return nil
}
