package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/felixgeelhaar/cadence/internal/config"
	"github.com/felixgeelhaar/cadence/internal/queue"
	"github.com/felixgeelhaar/cadence/internal/storage/postgres"
)

// cmdInit initializes Cadence for first-time use
func cmdInit() error {
	fmt.Println("Cadence - First-Time Setup")
	fmt.Println("==========================")
	fmt.Println()

	reader := bufio.NewReader(os.Stdin)

	fmt.Print("Creating ~/.cadence directory structure... ")
	cadenceDir, err := config.EnsureCadenceDir()
	if err != nil {
		return fmt.Errorf("create directories: %w", err)
	}
	fmt.Println("✓")

	configPath := filepath.Join(cadenceDir, "config.yaml")
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		fmt.Print("Creating default configuration... ")
		if err := config.SaveLocalConfig(config.DefaultLocalConfig()); err != nil {
			return fmt.Errorf("save config: %w", err)
		}
		fmt.Println("✓")
	} else {
		fmt.Println("Configuration already exists ✓")
	}

	fmt.Print("Setting up lesson packs... ")
	lessonsDest := filepath.Join(cadenceDir, "lessons")
	if _, err := os.Stat("./content"); err == nil {
		if err := copyDir("./content", lessonsDest); err != nil {
			fmt.Println("⚠ (manual copy required)")
		} else {
			fmt.Println("✓")
		}
	} else {
		fmt.Printf("add YAML or JSON lessons to %s\n", lessonsDest)
	}

	cfg, err := config.LoadLocalConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	secrets := config.SecretsConfig{
		DatabaseURL: cfg.Backend.DatabaseURL,
		AMQPURL:     cfg.Queue.AMQPURL,
	}

	fmt.Println()
	fmt.Println("Backend Setup")
	fmt.Println("-------------")
	fmt.Println("Progress is kept in an embedded SQLite database unless you connect PostgreSQL.")
	fmt.Println()

	changed := false
	if secrets.DatabaseURL != "" {
		fmt.Println("PostgreSQL URL: already configured ✓")
	} else if url := prompt(reader, "PostgreSQL URL (or press Enter for SQLite): "); url != "" {
		secrets.DatabaseURL = url
		cfg.Backend.Driver = config.DriverPostgres
		changed = true
	}

	if secrets.AMQPURL != "" {
		fmt.Println("RabbitMQ URL: already configured ✓")
	} else if url := prompt(reader, "RabbitMQ URL for progress events (or press Enter to skip): "); url != "" {
		secrets.AMQPURL = url
		changed = true
	}

	if changed {
		if err := config.SaveSecrets(secrets); err != nil {
			fmt.Printf("  ⚠ Failed to save secrets: %v\n", err)
		} else {
			fmt.Println("  ✓ Saved")
		}
		if err := config.SaveLocalConfig(cfg); err != nil {
			return fmt.Errorf("save config: %w", err)
		}
	}

	fmt.Println()
	fmt.Println("Setup Complete!")
	fmt.Println("===============")
	fmt.Println()
	fmt.Println("Next steps:")
	fmt.Println("  1. cadence start          # Start the daemon")
	fmt.Println("  2. cadence doctor         # Verify configuration")
	fmt.Println("  3. cadence lessons        # See available lessons")
	fmt.Println()
	fmt.Println("For editor integration, configure MCP with the 'cadence mcp' command.")

	return nil
}

func prompt(reader *bufio.Reader, question string) string {
	fmt.Print(question)
	answer, _ := reader.ReadString('\n')
	return strings.TrimSpace(answer)
}

// copyDir copies a directory recursively
func copyDir(src, dst string) error {
	return filepath.Walk(src, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}

		relPath, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		dstPath := filepath.Join(dst, relPath)

		if info.IsDir() {
			return os.MkdirAll(dstPath, info.Mode())
		}

		srcFile, err := os.Open(path)
		if err != nil {
			return err
		}
		defer srcFile.Close()

		dstFile, err := os.Create(dstPath)
		if err != nil {
			return err
		}
		defer dstFile.Close()

		_, err = io.Copy(dstFile, srcFile)
		return err
	})
}

// cmdDoctor checks the local setup
func cmdDoctor() error {
	fmt.Println("Checking setup...")

	allGood := true

	fmt.Print("Directory: ")
	cadenceDir, err := config.CadenceDir()
	if err != nil {
		fmt.Printf("✗ %v\n", err)
		allGood = false
	} else if _, err := os.Stat(cadenceDir); os.IsNotExist(err) {
		fmt.Println("✗ not created (run 'cadence init')")
		allGood = false
	} else {
		fmt.Printf("✓ %s\n", cadenceDir)
	}

	fmt.Print("Config:    ")
	local, err := config.LoadLocalConfig()
	if err != nil {
		fmt.Printf("✗ %v\n", err)
		return nil
	}
	cfg, err := config.Load(local)
	if err != nil {
		fmt.Printf("✗ %v\n", err)
		return nil
	}
	fmt.Println("✓ loaded")

	fmt.Print("Lessons:   ")
	if n := countLessonFiles(cfg.ContentDir); n > 0 {
		fmt.Printf("✓ %d files in %s\n", n, cfg.ContentDir)
	} else {
		fmt.Printf("✗ none in %s\n", cfg.ContentDir)
		allGood = false
	}

	fmt.Print("Backend:   ")
	if err := checkBackend(cfg); err != nil {
		fmt.Printf("✗ %v\n", err)
		allGood = false
	} else {
		fmt.Printf("✓ %s\n", cfg.Driver)
	}

	fmt.Print("Events:    ")
	if cfg.AMQPURL == "" {
		fmt.Println("- disabled")
	} else if err := checkQueue(cfg.AMQPURL); err != nil {
		fmt.Printf("✗ %v\n", err)
		allGood = false
	} else {
		fmt.Println("✓ RabbitMQ reachable")
	}

	fmt.Print("\nDaemon:    ")
	if isRunning() {
		fmt.Println("✓ running")
	} else {
		fmt.Println("✗ not running (run 'cadence start')")
	}

	fmt.Println()
	if allGood {
		fmt.Println("All checks passed! ✓")
	} else {
		fmt.Println("Some checks failed. Please fix the issues above.")
	}

	return nil
}

func countLessonFiles(dir string) int {
	n := 0
	_ = filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		switch strings.ToLower(filepath.Ext(path)) {
		case ".yaml", ".yml", ".json":
			n++
		}
		return nil
	})
	return n
}

func checkBackend(cfg *config.Config) error {
	if cfg.Driver != config.DriverPostgres {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	pool, err := postgres.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	pool.Close()
	return nil
}

func checkQueue(url string) error {
	conn, err := queue.NewConnection(url)
	if err != nil {
		return err
	}
	return conn.Close()
}

// cmdConfig shows current configuration
func cmdConfig() error {
	cfg, err := config.LoadLocalConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	fmt.Println("Cadence Configuration")

	fmt.Println("Daemon:")
	fmt.Printf("  bind: %s:%d\n", cfg.Daemon.Bind, cfg.Daemon.Port)
	fmt.Printf("  log_level: %s\n", cfg.Daemon.LogLevel)
	fmt.Printf("  rate_limit: %d/s\n", cfg.Daemon.RateLimit)

	fmt.Println("\nLearner:")
	fmt.Printf("  user: %s\n", cfg.User.ID)
	fmt.Printf("  lessons: %s\n", cfg.Content.Dir)

	fmt.Println("\nBackend:")
	fmt.Printf("  driver: %s\n", cfg.Backend.Driver)
	fmt.Printf("  database_url: %s\n", configured(cfg.Backend.DatabaseURL))
	fmt.Printf("  amqp_url: %s\n", configured(cfg.Queue.AMQPURL))
	fmt.Printf("  consumer_workers: %d\n", cfg.Queue.Workers)

	fmt.Println("\nTimings:")
	fmt.Printf("  advance: %dms  match_advance: %dms  flash: %dms  badge: %dms\n",
		cfg.Timings.AdvanceMS, cfg.Timings.MatchAdvanceMS, cfg.Timings.FlashMS, cfg.Timings.BadgeMS)

	fmt.Println("\nOutbox:")
	fmt.Printf("  flush_interval: %ds  batch_size: %d  max_attempts: %d\n",
		cfg.Outbox.FlushIntervalSeconds, cfg.Outbox.BatchSize, cfg.Outbox.MaxAttempts)

	cadenceDir, _ := config.CadenceDir()
	fmt.Printf("\nConfig path: %s/config.yaml\n", cadenceDir)

	return nil
}

func configured(secret string) string {
	if secret == "" {
		return "✗ not set"
	}
	return "✓ set"
}
