package config

import (
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"github.com/trigg3rX/bls-aggregator/pkg/env"
)

type Config struct {
	devMode bool

	// Port configuration
	aggregatorAPIPort string
	aggregatorRPCPort string

	// Task lifecycle configuration
	defaultTaskTTL       time.Duration
	taskCleanupInterval  time.Duration
	autoCleanupSubmitted bool

	// Validation configuration
	verifyOnSubmit bool
	validateOutput bool

	// Persistence configuration
	persistenceBackend string
	snapshotFilePath   string
	snapshotSchedule   string
	scyllaHost         string
	scyllaKeyspace     string

	// Performance and limits
	requestTimeout   time.Duration
	maxRetryAttempts int
}

var cfg Config

func Init() error {
	if err := godotenv.Load(); err != nil {
		return fmt.Errorf("error loading .env file: %w", err)
	}

	defaultTaskTTL, err := parseDurationWithDefault(env.GetEnv("AGGREGATOR_DEFAULT_TASK_TTL", "1h"), time.Hour)
	if err != nil {
		return fmt.Errorf("invalid AGGREGATOR_DEFAULT_TASK_TTL: %w", err)
	}

	taskCleanupInterval, err := parseDurationWithDefault(env.GetEnv("AGGREGATOR_TASK_CLEANUP_INTERVAL", "1m"), time.Minute)
	if err != nil {
		return fmt.Errorf("invalid AGGREGATOR_TASK_CLEANUP_INTERVAL: %w", err)
	}

	requestTimeout, err := parseDurationWithDefault(env.GetEnv("AGGREGATOR_REQUEST_TIMEOUT", "30s"), 30*time.Second)
	if err != nil {
		return fmt.Errorf("invalid AGGREGATOR_REQUEST_TIMEOUT: %w", err)
	}

	cfg = Config{
		devMode:           env.GetEnvBool("DEV_MODE", false),
		aggregatorAPIPort: env.GetEnv("AGGREGATOR_API_PORT", "9006"),
		aggregatorRPCPort: env.GetEnv("AGGREGATOR_RPC_PORT", "9007"),

		// Task lifecycle
		defaultTaskTTL:       defaultTaskTTL,
		taskCleanupInterval:  taskCleanupInterval,
		autoCleanupSubmitted: env.GetEnvBool("AGGREGATOR_AUTO_CLEANUP_SUBMITTED", true),

		// Validation
		verifyOnSubmit: env.GetEnvBool("AGGREGATOR_VERIFY_ON_SUBMIT", true),
		validateOutput: env.GetEnvBool("AGGREGATOR_VALIDATE_OUTPUT", true),

		// Persistence
		persistenceBackend: env.GetEnv("AGGREGATOR_PERSISTENCE_BACKEND", "file"),
		snapshotFilePath:   env.GetEnv("AGGREGATOR_SNAPSHOT_FILE", "data/aggregator_state.json"),
		snapshotSchedule:   env.GetEnv("AGGREGATOR_SNAPSHOT_SCHEDULE", "@every 1m"),
		scyllaHost:         env.GetEnv("SCYLLA_HOST", "localhost:9042"),
		scyllaKeyspace:     env.GetEnv("SCYLLA_KEYSPACE", "triggerx"),

		// Performance and limits
		requestTimeout:   requestTimeout,
		maxRetryAttempts: env.GetEnvInt("AGGREGATOR_MAX_RETRY_ATTEMPTS", 3),
	}

	if err := validateConfig(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if !cfg.devMode {
		gin.SetMode(gin.ReleaseMode)
	}

	return nil
}

func validateConfig() error {
	if !env.IsValidPort(cfg.aggregatorAPIPort) {
		return fmt.Errorf("invalid Aggregator API Port: %s", cfg.aggregatorAPIPort)
	}
	if !env.IsValidPort(cfg.aggregatorRPCPort) {
		return fmt.Errorf("invalid Aggregator RPC Port: %s", cfg.aggregatorRPCPort)
	}

	if cfg.defaultTaskTTL < time.Second {
		return fmt.Errorf("defaultTaskTTL must be at least 1 second")
	}
	if cfg.taskCleanupInterval < time.Second {
		return fmt.Errorf("taskCleanupInterval must be at least 1 second")
	}

	switch cfg.persistenceBackend {
	case "file", "scylla", "none":
	default:
		return fmt.Errorf("unknown persistence backend: %s", cfg.persistenceBackend)
	}

	if cfg.maxRetryAttempts < 0 {
		return fmt.Errorf("maxRetryAttempts must be non-negative")
	}
	if cfg.requestTimeout < time.Second {
		return fmt.Errorf("requestTimeout must be at least 1 second")
	}

	return nil
}

// parseDurationWithDefault parses a duration string, returning the default if empty
func parseDurationWithDefault(durationStr string, defaultDuration time.Duration) (time.Duration, error) {
	if durationStr == "" {
		return defaultDuration, nil
	}
	return time.ParseDuration(durationStr)
}

// Basic getters
func IsDevMode() bool {
	return cfg.devMode
}

func GetAggregatorAPIPort() string {
	return cfg.aggregatorAPIPort
}

func GetAggregatorRPCPort() string {
	return cfg.aggregatorRPCPort
}

// Task lifecycle getters
func GetDefaultTaskTTL() time.Duration {
	return cfg.defaultTaskTTL
}

func GetTaskCleanupInterval() time.Duration {
	return cfg.taskCleanupInterval
}

func IsAutoCleanupSubmitted() bool {
	return cfg.autoCleanupSubmitted
}

// Validation getters
func IsVerifyOnSubmitEnabled() bool {
	return cfg.verifyOnSubmit
}

func IsValidateOutputEnabled() bool {
	return cfg.validateOutput
}

// Persistence getters
func GetPersistenceBackend() string {
	return cfg.persistenceBackend
}

func GetSnapshotFilePath() string {
	return cfg.snapshotFilePath
}

func GetSnapshotSchedule() string {
	return cfg.snapshotSchedule
}

func GetScyllaHost() string {
	return cfg.scyllaHost
}

func GetScyllaKeyspace() string {
	return cfg.scyllaKeyspace
}

// Performance getters
func GetRequestTimeout() time.Duration {
	return cfg.requestTimeout
}

func GetMaxRetryAttempts() int {
	return cfg.maxRetryAttempts
}
