// Package config assembles runtime settings from defaults, the environment
// and command-line flags, in that order of precedence.
package config

import (
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cast"
)

// Config holds server settings.
type Config struct {
	SpecDir   string
	TypesFile string
	// DatabaseURL selects the Postgres store; empty means in-memory.
	DatabaseURL string
	Port        string
	LogLevel    string
	Env         string

	DefaultAcceptQL int
	ErrorLimit      int

	BackupDir        string
	BackupSchedule   string
	SchedulerEnabled bool

	// Idempotency keys need the Postgres store.
	IdempotencyEnabled bool
	IdempotencyTTL     time.Duration

	ShutdownTimeout time.Duration
}

// Development reports whether the development logger should be used.
func (c Config) Development() bool {
	return c.Env == "development"
}

func defaults() Config {
	return Config{
		SpecDir:         "spec",
		TypesFile:       "spec/types.yaml",
		Port:            "8080",
		LogLevel:        "info",
		Env:             "development",
		DefaultAcceptQL: 0,
		ErrorLimit:      50,
		BackupDir:       "backups",
		BackupSchedule:  "@daily",
		IdempotencyTTL:  24 * time.Hour,
		ShutdownTimeout: 30 * time.Second,
	}
}

// Load reads the environment and then parses args as flag overrides.
// Binaries with flags of their own register them through extra.
func Load(name string, args []string, extra ...func(fs *flag.FlagSet)) (Config, error) {
	cfg := defaults()

	cfg.SpecDir = getEnv("SPECFORGE_SPEC_DIR", cfg.SpecDir)
	cfg.TypesFile = getEnv("SPECFORGE_TYPES_FILE", cfg.TypesFile)
	cfg.DatabaseURL = getEnv("DATABASE_URL", cfg.DatabaseURL)
	cfg.Port = getEnv("APP_PORT", cfg.Port)
	cfg.LogLevel = getEnv("LOG_LEVEL", cfg.LogLevel)
	cfg.Env = getEnv("APP_ENV", cfg.Env)
	cfg.DefaultAcceptQL = getEnvInt("SPECFORGE_DEFAULT_ACCEPT_QL", cfg.DefaultAcceptQL)
	cfg.ErrorLimit = getEnvInt("SPECFORGE_ERROR_LIMIT", cfg.ErrorLimit)
	cfg.BackupDir = getEnv("SPECFORGE_BACKUP_DIR", cfg.BackupDir)
	cfg.BackupSchedule = getEnv("SPECFORGE_BACKUP_SCHEDULE", cfg.BackupSchedule)
	cfg.SchedulerEnabled = getEnvBool("SPECFORGE_SCHEDULER_ENABLED", cfg.SchedulerEnabled)
	cfg.IdempotencyEnabled = getEnvBool("IDEMPOTENCY_ENABLED", cfg.IdempotencyEnabled)
	cfg.IdempotencyTTL = getEnvDuration("IDEMPOTENCY_TTL", cfg.IdempotencyTTL)
	cfg.ShutdownTimeout = getEnvDuration("SPECFORGE_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)

	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.StringVar(&cfg.SpecDir, "spec", cfg.SpecDir, "Directory of entity documents (*.md)")
	fs.StringVar(&cfg.TypesFile, "types", cfg.TypesFile, "Type catalogue YAML file")
	fs.StringVar(&cfg.DatabaseURL, "db", cfg.DatabaseURL, "Postgres URL (empty = in-memory)")
	fs.StringVar(&cfg.Port, "port", cfg.Port, "HTTP port")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Log level (debug, info, warn, error)")
	fs.IntVar(&cfg.DefaultAcceptQL, "accept-ql", cfg.DefaultAcceptQL, "Default accepted quality bitmask")
	fs.IntVar(&cfg.ErrorLimit, "error-limit", cfg.ErrorLimit, "Detailed errors reported per batch")
	fs.StringVar(&cfg.BackupDir, "backup-dir", cfg.BackupDir, "Directory for backup dumps")
	fs.StringVar(&cfg.BackupSchedule, "backup-schedule", cfg.BackupSchedule, "Cron schedule of worker backups")
	fs.BoolVar(&cfg.SchedulerEnabled, "scheduler", cfg.SchedulerEnabled, "Run the computed-field scheduler")
	fs.BoolVar(&cfg.IdempotencyEnabled, "idempotency", cfg.IdempotencyEnabled, "Honour X-Idempotency-Key on imports")
	for _, register := range extra {
		register(fs)
	}
	if err := fs.Parse(args); err != nil {
		return cfg, err
	}

	return cfg, cfg.validate()
}

func (c Config) validate() error {
	if c.DefaultAcceptQL < 0 || c.DefaultAcceptQL > 31 {
		return fmt.Errorf("accept-ql must be within 0..31, got %d", c.DefaultAcceptQL)
	}
	if c.ErrorLimit <= 0 {
		return fmt.Errorf("error-limit must be positive, got %d", c.ErrorLimit)
	}
	if c.SpecDir == "" {
		return fmt.Errorf("spec directory is required")
	}
	if c.IdempotencyEnabled && c.DatabaseURL == "" {
		return fmt.Errorf("idempotency requires a database URL")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		if result, err := cast.ToIntE(value); err == nil {
			return result
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		switch strings.ToLower(value) {
		case "yes", "on":
			return true
		case "no", "off":
			return false
		}
		if result, err := cast.ToBoolE(value); err == nil {
			return result
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		if d, err := cast.ToDurationE(value); err == nil {
			return d
		}
	}
	return defaultValue
}
