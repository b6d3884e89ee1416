package config

import (
	"os"
	"path/filepath"
	"testing"

	"gopkg.in/yaml.v3"
)

func TestCadenceDir(t *testing.T) {
	dir, err := CadenceDir()
	if err != nil {
		t.Fatalf("CadenceDir() error = %v", err)
	}

	if filepath.Base(dir) != ".cadence" {
		t.Errorf("CadenceDir() = %q, want ending with .cadence", dir)
	}
	if !filepath.IsAbs(dir) {
		t.Errorf("CadenceDir() = %q, want absolute path", dir)
	}
}

func TestEnsureCadenceDir(t *testing.T) {
	tmpHome := t.TempDir()
	t.Setenv("HOME", tmpHome)

	dir, err := EnsureCadenceDir()
	if err != nil {
		t.Fatalf("EnsureCadenceDir() error = %v", err)
	}

	expectedDir := filepath.Join(tmpHome, ".cadence")
	if dir != expectedDir {
		t.Errorf("EnsureCadenceDir() = %q, want %q", dir, expectedDir)
	}

	for _, subdir := range []string{"logs", "lessons", "state"} {
		path := filepath.Join(dir, subdir)
		if _, err := os.Stat(path); os.IsNotExist(err) {
			t.Errorf("EnsureCadenceDir() should create %s", subdir)
		}
	}
}

func TestDefaultLocalConfig(t *testing.T) {
	cfg := DefaultLocalConfig()

	if cfg.Daemon.Bind != "127.0.0.1" {
		t.Errorf("Daemon.Bind = %q, want 127.0.0.1", cfg.Daemon.Bind)
	}
	if cfg.Backend.Driver != DriverSQLite {
		t.Errorf("Backend.Driver = %q, want sqlite", cfg.Backend.Driver)
	}
	if cfg.Timings.AdvanceMS != 300 || cfg.Timings.MatchAdvanceMS != 1000 || cfg.Timings.BadgeMS != 3000 {
		t.Errorf("Timings = %+v", cfg.Timings)
	}
	if cfg.Outbox.MaxAttempts != 10 {
		t.Errorf("Outbox.MaxAttempts = %d, want 10", cfg.Outbox.MaxAttempts)
	}
}

func TestLoadSecrets(t *testing.T) {
	tmpDir := t.TempDir()
	secrets := "database_url: postgres://u:p@db/cadence\namqp_url: amqp://guest:guest@mq:5672/\n"
	if err := os.WriteFile(filepath.Join(tmpDir, "secrets.yaml"), []byte(secrets), 0600); err != nil {
		t.Fatalf("write secrets: %v", err)
	}

	cfg := DefaultLocalConfig()
	if err := loadSecrets(tmpDir, cfg); err != nil {
		t.Fatalf("loadSecrets() error = %v", err)
	}

	if cfg.Backend.DatabaseURL != "postgres://u:p@db/cadence" {
		t.Errorf("Backend.DatabaseURL = %q", cfg.Backend.DatabaseURL)
	}
	if cfg.Queue.AMQPURL != "amqp://guest:guest@mq:5672/" {
		t.Errorf("Queue.AMQPURL = %q", cfg.Queue.AMQPURL)
	}
}

func TestLoadSecrets_NoSecretsFile(t *testing.T) {
	cfg := DefaultLocalConfig()
	if err := loadSecrets(t.TempDir(), cfg); err != nil {
		t.Errorf("loadSecrets() error = %v, want nil", err)
	}
}

func TestLoadSecrets_InvalidYAML(t *testing.T) {
	tmpDir := t.TempDir()
	if err := os.WriteFile(filepath.Join(tmpDir, "secrets.yaml"), []byte("database_url: [unclosed"), 0600); err != nil {
		t.Fatalf("write secrets: %v", err)
	}

	if err := loadSecrets(tmpDir, DefaultLocalConfig()); err == nil {
		t.Error("loadSecrets() should error on invalid YAML")
	}
}

func TestLoadLocalConfig_DefaultsWhenNoFile(t *testing.T) {
	tmpHome := t.TempDir()
	t.Setenv("HOME", tmpHome)

	cfg, err := LoadLocalConfig()
	if err != nil {
		t.Fatalf("LoadLocalConfig() error = %v", err)
	}

	if cfg.Daemon.Port != 7433 {
		t.Errorf("Daemon.Port = %d, want 7433 (default)", cfg.Daemon.Port)
	}
	want := filepath.Join(tmpHome, ".cadence", "lessons")
	if cfg.Content.Dir != want {
		t.Errorf("Content.Dir = %q, want %q", cfg.Content.Dir, want)
	}
}

func TestLoadLocalConfig_WithConfigFile(t *testing.T) {
	tmpHome := t.TempDir()
	t.Setenv("HOME", tmpHome)

	dir := filepath.Join(tmpHome, ".cadence")
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatalf("create dir: %v", err)
	}

	content := `daemon:
  port: 9999
  log_level: debug
backend:
  driver: postgres
timings:
  advance_ms: 100
`
	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(content), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "secrets.yaml"), []byte("database_url: postgres://localhost/cadence\n"), 0600); err != nil {
		t.Fatalf("write secrets: %v", err)
	}

	cfg, err := LoadLocalConfig()
	if err != nil {
		t.Fatalf("LoadLocalConfig() error = %v", err)
	}

	if cfg.Daemon.Port != 9999 {
		t.Errorf("Daemon.Port = %d, want 9999", cfg.Daemon.Port)
	}
	if cfg.Daemon.Bind != "127.0.0.1" {
		t.Errorf("Daemon.Bind = %q, want default kept", cfg.Daemon.Bind)
	}
	if cfg.Backend.Driver != DriverPostgres {
		t.Errorf("Backend.Driver = %q, want postgres", cfg.Backend.Driver)
	}
	if cfg.Backend.DatabaseURL != "postgres://localhost/cadence" {
		t.Errorf("Backend.DatabaseURL = %q", cfg.Backend.DatabaseURL)
	}
	if cfg.Timings.AdvanceMS != 100 || cfg.Timings.MatchAdvanceMS != 1000 {
		t.Errorf("Timings = %+v", cfg.Timings)
	}
}

func TestLoadLocalConfig_InvalidConfigYAML(t *testing.T) {
	tmpHome := t.TempDir()
	t.Setenv("HOME", tmpHome)

	dir := filepath.Join(tmpHome, ".cadence")
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatalf("create dir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("daemon: [broken"), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	if _, err := LoadLocalConfig(); err == nil {
		t.Error("LoadLocalConfig() should error on invalid YAML")
	}
}

func TestSaveLocalConfig(t *testing.T) {
	tmpHome := t.TempDir()
	t.Setenv("HOME", tmpHome)

	cfg := DefaultLocalConfig()
	cfg.Daemon.Port = 8123
	cfg.Backend.DatabaseURL = "postgres://secret"

	if err := SaveLocalConfig(cfg); err != nil {
		t.Fatalf("SaveLocalConfig() error = %v", err)
	}

	data, err := os.ReadFile(filepath.Join(tmpHome, ".cadence", "config.yaml"))
	if err != nil {
		t.Fatalf("read config: %v", err)
	}

	var saved LocalConfig
	if err := yaml.Unmarshal(data, &saved); err != nil {
		t.Fatalf("unmarshal config: %v", err)
	}
	if saved.Daemon.Port != 8123 {
		t.Errorf("saved Daemon.Port = %d, want 8123", saved.Daemon.Port)
	}
	if saved.Backend.DatabaseURL != "" {
		t.Error("database url must not be written to config.yaml")
	}
}

func TestSaveSecrets(t *testing.T) {
	tmpHome := t.TempDir()
	t.Setenv("HOME", tmpHome)

	if err := SaveSecrets(SecretsConfig{AMQPURL: "amqp://localhost/"}); err != nil {
		t.Fatalf("SaveSecrets() error = %v", err)
	}

	path := filepath.Join(tmpHome, ".cadence", "secrets.yaml")
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat secrets: %v", err)
	}
	if info.Mode().Perm() != 0600 {
		t.Errorf("secrets permissions = %v, want 0600", info.Mode().Perm())
	}

	cfg, err := LoadLocalConfig()
	if err != nil {
		t.Fatalf("LoadLocalConfig() error = %v", err)
	}
	if cfg.Queue.AMQPURL != "amqp://localhost/" {
		t.Errorf("Queue.AMQPURL = %q, want amqp://localhost/", cfg.Queue.AMQPURL)
	}
}
