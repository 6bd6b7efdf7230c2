// Package config loads static service configuration from the environment,
// optionally overridden by a YAML file, and watches a dynamic config file
// for runtime-tunable settings.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// StorageEngine selects the persistence backend.
type StorageEngine string

const (
	EngineMemory   StorageEngine = "memory"
	EngineDynamoDB StorageEngine = "dynamodb"
)

// LoaderConfig tunes the batch resolution layer.
type LoaderConfig struct {
	BatchWindow  time.Duration `yaml:"batchWindow"`
	MaxBatchSize int           `yaml:"maxBatchSize"`
}

// LimitsConfig holds tree limits.
type LimitsConfig struct {
	MaxTreeDepth int `yaml:"maxTreeDepth"`
	MaxTags      int `yaml:"maxTags"`
	MaxNameLen   int `yaml:"maxNameLen"`
}

// Config holds all application configuration
type Config struct {
	// Server configuration
	ServerAddress string `yaml:"serverAddress"`
	Environment   string `yaml:"environment"`

	// Storage configuration
	StorageEngine StorageEngine `yaml:"storageEngine"`
	AWSRegion     string        `yaml:"awsRegion"`
	DynamoDBTable string        `yaml:"dynamoDBTable"`
	TagIndexName  string        `yaml:"tagIndexName"`
	TreeIndexName string        `yaml:"treeIndexName"`

	// Session cache configuration
	SessionCachePath string        `yaml:"sessionCachePath"`
	SessionTTL       time.Duration `yaml:"sessionTTL"`

	// Secrets configuration
	MasterKey string `yaml:"-"` // never persisted; env only

	// Logging and features
	LogLevel      string `yaml:"logLevel"`
	EnableMetrics bool   `yaml:"enableMetrics"`
	EnableCORS    bool   `yaml:"enableCORS"`

	// Tuning
	Loader LoaderConfig `yaml:"loader"`
	Limits LimitsConfig `yaml:"limits"`
}

// LoadConfig loads configuration from environment variables. When
// CONFIG_FILE is set, values from that YAML file override the environment.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		ServerAddress: getEnv("SERVER_ADDRESS", ":8080"),
		Environment:   getEnv("ENVIRONMENT", "development"),

		StorageEngine: StorageEngine(getEnv("STORAGE_ENGINE", string(EngineMemory))),
		AWSRegion:     getEnv("AWS_REGION", "us-west-2"),
		DynamoDBTable: getEnv("TABLE_NAME", "arbor-tree"),
		TagIndexName:  getEnv("TAG_INDEX_NAME", "TagIndex"),
		TreeIndexName: getEnv("TREE_INDEX_NAME", "TreeIndex"),

		SessionCachePath: getEnv("SESSION_CACHE_PATH", ""),
		SessionTTL:       getEnvDuration("SESSION_TTL", 30*time.Minute),

		MasterKey: getEnv("ARBOR_MASTER_KEY", ""),

		LogLevel:      getEnv("LOG_LEVEL", "info"),
		EnableMetrics: getEnvBool("ENABLE_METRICS", true),
		EnableCORS:    getEnvBool("ENABLE_CORS", true),

		Loader: LoaderConfig{
			BatchWindow:  getEnvDuration("LOADER_BATCH_WINDOW", 10*time.Millisecond),
			MaxBatchSize: getEnvInt("LOADER_MAX_BATCH_SIZE", 100),
		},
		Limits: LimitsConfig{
			MaxTreeDepth: getEnvInt("MAX_TREE_DEPTH", 64),
			MaxTags:      getEnvInt("MAX_TAGS_PER_NODE", 50),
			MaxNameLen:   getEnvInt("MAX_NAME_LENGTH", 200),
		},
	}

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.applyFile(path); err != nil {
			return nil, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyFile overlays YAML file values onto the config.
func (c *Config) applyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

// Validate checks if all required configuration is present
func (c *Config) Validate() error {
	switch c.StorageEngine {
	case EngineMemory, EngineDynamoDB:
	default:
		return fmt.Errorf("unknown storage engine %q", c.StorageEngine)
	}
	if c.StorageEngine == EngineDynamoDB && c.DynamoDBTable == "" {
		return fmt.Errorf("TABLE_NAME is required for the dynamodb engine")
	}
	if c.Limits.MaxTreeDepth <= 0 {
		return fmt.Errorf("maxTreeDepth must be positive")
	}
	return nil
}

// IsDevelopment checks if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

// IsProduction checks if running in production mode
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// getEnv gets an environment variable with a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool gets a boolean environment variable with a default value
func getEnvBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value == "true" || value == "1" || value == "yes"
}

// getEnvInt gets an integer environment variable with a default value
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvDuration gets a duration environment variable with a default value
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
