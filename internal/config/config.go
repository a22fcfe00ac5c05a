package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Ledger backends
const (
	LedgerMongoDB    = "mongodb"
	LedgerDynamoDB   = "dynamodb"
	LedgerPostgreSQL = "postgresql"
)

// Config holds all configuration for the application
type Config struct {
	Mongo       MongoConfig       `yaml:"mongo"`
	Collections CollectionsConfig `yaml:"collections"`
	Ingestion   IngestionConfig   `yaml:"ingestion"`
	Ledger      LedgerConfig      `yaml:"ledger"`
	Server      ServerConfig      `yaml:"server"`
	Log         LogConfig         `yaml:"log"`
}

// MongoConfig holds the target store connection settings
type MongoConfig struct {
	Host                   string        `yaml:"host"`
	Port                   int           `yaml:"port"`
	Database               string        `yaml:"database"`
	URI                    string        `yaml:"uri"` // overrides host/port when set
	ConnectTimeout         time.Duration `yaml:"connect_timeout"`
	ServerSelectionTimeout time.Duration `yaml:"server_selection_timeout"`
	SocketTimeout          time.Duration `yaml:"socket_timeout"`
	ConnectMaxElapsed      time.Duration `yaml:"connect_max_elapsed"`
}

// ConnectionURI returns the URI used to reach MongoDB
func (m MongoConfig) ConnectionURI() string {
	if m.URI != "" {
		return m.URI
	}
	return fmt.Sprintf("mongodb://%s:%d", m.Host, m.Port)
}

// IndexSpec describes one index. A field prefixed with "-" is descending.
type IndexSpec struct {
	Fields []string `yaml:"fields"`
	Unique bool     `yaml:"unique"`
}

// CollectionConfig names a collection and the indexes it should carry
type CollectionConfig struct {
	Name    string      `yaml:"name"`
	Indexes []IndexSpec `yaml:"indexes"`
}

// CollectionsConfig holds the two data collections and the ledger collection
type CollectionsConfig struct {
	Posts       CollectionConfig `yaml:"posts"`
	Accounts    CollectionConfig `yaml:"accounts"`
	Checkpoints CollectionConfig `yaml:"checkpoints"`
}

// IngestionConfig holds ingestion-related configuration
type IngestionConfig struct {
	DataDir              string        `yaml:"data_dir"`
	FileSuffix           string        `yaml:"file_suffix"`
	BatchSize            int           `yaml:"batch_size"`
	BatchDelay           time.Duration `yaml:"batch_delay"`
	ThrottleDelay        time.Duration `yaml:"throttle_delay"`
	ThrottleMaxWait      time.Duration `yaml:"throttle_max_wait"` // 0 waits until pressure clears
	FilePause            time.Duration `yaml:"file_pause"`
	MaxMemoryPercent     float64       `yaml:"max_memory_percent"`
	MaxCPUPercent        float64       `yaml:"max_cpu_percent"`
	WriteTimeout         time.Duration `yaml:"write_timeout"`
	FreeMemoryAfterBatch bool          `yaml:"free_memory_after_batch"`
}

// LedgerConfig selects where checkpoint records are kept
type LedgerConfig struct {
	Type        string `yaml:"type"`     // "mongodb", "dynamodb", "postgresql"
	Region      string `yaml:"region"`   // For AWS DynamoDB
	TableName   string `yaml:"table"`    // DynamoDB or PostgreSQL table
	Endpoint    string `yaml:"endpoint"` // Custom endpoint for local testing
	PostgresURI string `yaml:"postgres_uri"`
}

// ServerConfig holds HTTP status server configuration
type ServerConfig struct {
	Port int `yaml:"port"` // 0 disables the server
}

// LogConfig holds logger settings
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "json" or "console"
}

// Default returns the configuration used when nothing overrides it
func Default() *Config {
	return &Config{
		Mongo: MongoConfig{
			Host:                   "localhost",
			Port:                   27017,
			Database:               "ukraine_crisis",
			ConnectTimeout:         10 * time.Second,
			ServerSelectionTimeout: 5 * time.Second,
			SocketTimeout:          45 * time.Second,
			ConnectMaxElapsed:      time.Minute,
		},
		Collections: CollectionsConfig{
			Posts: CollectionConfig{
				Name: "tweets",
				Indexes: []IndexSpec{
					{Fields: []string{"tweetcreatedts"}},
					{Fields: []string{"userid"}},
					{Fields: []string{"language"}},
					{Fields: []string{"hashtags"}},
				},
			},
			Accounts: CollectionConfig{
				Name:    "users",
				Indexes: []IndexSpec{{Fields: []string{"username"}}},
			},
			Checkpoints: CollectionConfig{
				Name:    "ingestion_checkpoint",
				Indexes: []IndexSpec{{Fields: []string{"filename"}, Unique: true}},
			},
		},
		Ingestion: IngestionConfig{
			DataDir:          "./dataset_ukraine",
			FileSuffix:       "_UkraineCombinedTweetsDeduped.csv",
			BatchSize:        250,
			BatchDelay:       500 * time.Millisecond,
			ThrottleDelay:    500 * time.Millisecond,
			ThrottleMaxWait:  2 * time.Minute,
			FilePause:        time.Second,
			MaxMemoryPercent: 70,
			MaxCPUPercent:    70,
			WriteTimeout:     30 * time.Second,
		},
		Ledger: LedgerConfig{
			Type:      LedgerMongoDB,
			Region:    "us-west-2",
			TableName: "ingestion_checkpoint",
		},
		Server: ServerConfig{Port: 0},
		Log:    LogConfig{Level: "info", Format: "json"},
	}
}

// Load builds the configuration from defaults, an optional YAML file, and
// environment variables, in that order of precedence
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(b, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.Mongo.Host = getEnv("MONGO_HOST", c.Mongo.Host)
	c.Mongo.Port = getEnvInt("MONGO_PORT", c.Mongo.Port)
	c.Mongo.Database = getEnv("MONGO_DB", c.Mongo.Database)
	c.Mongo.URI = getEnv("MONGODB_URI", c.Mongo.URI)

	c.Ingestion.DataDir = getEnv("DATA_DIR", c.Ingestion.DataDir)
	c.Ingestion.FileSuffix = getEnv("FILE_SUFFIX", c.Ingestion.FileSuffix)
	c.Ingestion.BatchSize = getEnvInt("BATCH_SIZE", c.Ingestion.BatchSize)
	c.Ingestion.BatchDelay = getEnvDuration("BATCH_DELAY", c.Ingestion.BatchDelay)
	c.Ingestion.ThrottleDelay = getEnvDuration("THROTTLE_DELAY", c.Ingestion.ThrottleDelay)
	c.Ingestion.ThrottleMaxWait = getEnvDuration("THROTTLE_MAX_WAIT", c.Ingestion.ThrottleMaxWait)
	c.Ingestion.FilePause = getEnvDuration("FILE_PAUSE", c.Ingestion.FilePause)
	c.Ingestion.MaxMemoryPercent = getEnvFloat("MAX_MEMORY_PERCENT", c.Ingestion.MaxMemoryPercent)
	c.Ingestion.MaxCPUPercent = getEnvFloat("MAX_CPU_PERCENT", c.Ingestion.MaxCPUPercent)
	c.Ingestion.WriteTimeout = getEnvDuration("WRITE_TIMEOUT", c.Ingestion.WriteTimeout)
	c.Ingestion.FreeMemoryAfterBatch = getEnvBool("FREE_MEMORY_AFTER_BATCH", c.Ingestion.FreeMemoryAfterBatch)

	c.Ledger.Type = getEnv("LEDGER_TYPE", c.Ledger.Type)
	c.Ledger.Region = getEnv("AWS_REGION", c.Ledger.Region)
	c.Ledger.TableName = getEnv("LEDGER_TABLE", c.Ledger.TableName)
	c.Ledger.Endpoint = getEnv("DYNAMODB_ENDPOINT", c.Ledger.Endpoint)
	c.Ledger.PostgresURI = getEnv("POSTGRES_URI", c.Ledger.PostgresURI)

	c.Server.Port = getEnvInt("SERVER_PORT", c.Server.Port)

	c.Log.Level = getEnv("LOG_LEVEL", c.Log.Level)
	c.Log.Format = getEnv("LOG_FORMAT", c.Log.Format)
}

// Validate rejects configurations the pipeline cannot run with
func (c *Config) Validate() error {
	var errs []error

	if c.Mongo.URI == "" && (c.Mongo.Host == "" || c.Mongo.Port < 1) {
		errs = append(errs, errors.New("mongo host and port are required when no uri is set"))
	}
	if c.Mongo.Database == "" {
		errs = append(errs, errors.New("mongo database is required"))
	}
	for _, named := range []struct {
		name string
		coll CollectionConfig
	}{
		{"posts", c.Collections.Posts},
		{"accounts", c.Collections.Accounts},
		{"checkpoints", c.Collections.Checkpoints},
	} {
		name, coll := named.name, named.coll
		if coll.Name == "" {
			errs = append(errs, fmt.Errorf("%s collection name is required", name))
		}
		for _, idx := range coll.Indexes {
			if len(idx.Fields) == 0 {
				errs = append(errs, fmt.Errorf("%s collection has an index with no fields", name))
			}
		}
	}
	if c.Ingestion.BatchSize < 1 {
		errs = append(errs, errors.New("batch_size must be at least 1"))
	}
	if c.Ingestion.BatchDelay < 0 || c.Ingestion.ThrottleDelay < 0 || c.Ingestion.FilePause < 0 || c.Ingestion.ThrottleMaxWait < 0 {
		errs = append(errs, errors.New("delays must not be negative"))
	}
	if c.Ingestion.WriteTimeout <= 0 {
		errs = append(errs, errors.New("write_timeout must be positive"))
	}
	if c.Ingestion.MaxMemoryPercent < 0 || c.Ingestion.MaxMemoryPercent > 100 {
		errs = append(errs, errors.New("max_memory_percent must be between 0 and 100"))
	}
	if c.Ingestion.MaxCPUPercent < 0 {
		errs = append(errs, errors.New("max_cpu_percent must not be negative"))
	}

	switch c.Ledger.Type {
	case LedgerMongoDB:
	case LedgerDynamoDB:
		if c.Ledger.TableName == "" {
			errs = append(errs, errors.New("ledger table is required for dynamodb"))
		}
	case LedgerPostgreSQL:
		if c.Ledger.PostgresURI == "" {
			errs = append(errs, errors.New("postgres_uri is required for postgresql ledger"))
		}
		if c.Ledger.TableName == "" {
			errs = append(errs, errors.New("ledger table is required for postgresql"))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported ledger type: %s", c.Ledger.Type))
	}

	if c.Server.Port < 0 {
		errs = append(errs, errors.New("server port must not be negative"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration: %w", errors.Join(errs...))
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(strings.TrimSpace(value)); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
