package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// Storage drivers
const (
	StorageDriverPostgres = "postgres"
	StorageDriverMemory   = "memory"
)

// Config represents the application configuration
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Cache     CacheConfig
	Storage   StorageConfig
	Relations RelationsConfig
	Logging   LoggingConfig
	Telemetry TelemetryConfig
}

// ServerConfig represents server configuration
type ServerConfig struct {
	Host        string
	Port        int // Port for the Ajax HTTP server
	GRPCPort    int // Port for the gRPC health server
	MetricsPort int // Port for Prometheus metrics HTTP server
}

// CacheConfig represents the widget state cache configuration
type CacheConfig struct {
	Enabled        bool
	MaxMemoryBytes int64 // Maximum memory usage in bytes (e.g., 16777216 = 16MB)
	Metrics        bool
	TTLMinutes     int // Lifetime of widget state (search terms, filter scopes)
}

// StorageConfig selects the repository implementation
type StorageConfig struct {
	Driver string // postgres or memory
}

// RelationsConfig points at the model and relation declarations
type RelationsConfig struct {
	Path                    string
	DeferredBindingTTLHours int // Pending bindings older than this are cleaned up
}

// DeferredBindingTTL returns the lifetime of pending deferred bindings
func (c *RelationsConfig) DeferredBindingTTL() time.Duration {
	return time.Duration(c.DeferredBindingTTLHours) * time.Hour
}

// LoggingConfig represents logger configuration
type LoggingConfig struct {
	Level  string // debug, info, warn, error
	Format string // json or console
}

// TelemetryConfig represents tracing configuration
type TelemetryConfig struct {
	TraceExporter string // stdout or none
	ServiceName   string
}

// DatabaseConfig represents database configuration
type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
}

// findProjectRoot finds the project root directory by looking for go.mod
func findProjectRoot() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", err
	}

	for {
		goModPath := filepath.Join(dir, "go.mod")
		if _, err := os.Stat(goModPath); err == nil {
			return dir, nil
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("go.mod not found in any parent directory")
		}
		dir = parent
	}
}

// InitConfig initializes viper configuration
// env: environment name (dev, test, prod)
func InitConfig(env string) error {
	if env == "" {
		env = "dev"
	}

	projectRoot, err := findProjectRoot()
	if err != nil {
		return fmt.Errorf("failed to find project root: %w", err)
	}

	viper.SetConfigName(fmt.Sprintf(".env.%s", env))
	viper.SetConfigType("env")
	viper.AddConfigPath(projectRoot)

	// Read config file (optional, ignore error if not found)
	_ = viper.ReadInConfig()

	// Environment variables take precedence over config file
	viper.AutomaticEnv()

	viper.SetDefault("SERVER_HOST", "0.0.0.0")
	viper.SetDefault("SERVER_PORT", 8080)
	viper.SetDefault("GRPC_PORT", 50051)
	viper.SetDefault("METRICS_PORT", 9090)
	viper.SetDefault("DB_HOST", "localhost")
	viper.SetDefault("DB_PORT", 15432)
	viper.SetDefault("DB_USER", "relmanager")
	viper.SetDefault("DB_NAME", "relmanager_dev")
	viper.SetDefault("DB_SSLMODE", "disable")

	viper.SetDefault("STORAGE_DRIVER", StorageDriverPostgres)
	viper.SetDefault("RELATIONS_CONFIG", filepath.Join(projectRoot, "config", "relations.yaml"))
	viper.SetDefault("DEFERRED_BINDING_TTL_HOURS", 120) // 5 days

	viper.SetDefault("CACHE_ENABLED", true)
	viper.SetDefault("CACHE_MAX_MEMORY_BYTES", 16*1024*1024) // 16MB
	viper.SetDefault("CACHE_METRICS", true)
	viper.SetDefault("CACHE_TTL_MINUTES", 60)

	viper.SetDefault("LOG_LEVEL", "info")
	viper.SetDefault("LOG_FORMAT", "json")
	viper.SetDefault("TRACE_EXPORTER", "none")
	viper.SetDefault("SERVICE_NAME", "relmanager")

	return nil
}

// Load loads configuration from viper
func Load() (*Config, error) {
	driver := viper.GetString("STORAGE_DRIVER")
	if driver == "" {
		driver = StorageDriverPostgres
	}
	if driver != StorageDriverPostgres && driver != StorageDriverMemory {
		return nil, fmt.Errorf("unsupported STORAGE_DRIVER %q (want postgres or memory)", driver)
	}

	// DB_PASSWORD is required for security
	dbPassword := viper.GetString("DB_PASSWORD")
	if driver == StorageDriverPostgres && dbPassword == "" {
		return nil, fmt.Errorf("DB_PASSWORD is required (set via environment variable or .env file)")
	}

	config := &Config{
		Server: ServerConfig{
			Host:        viper.GetString("SERVER_HOST"),
			Port:        viper.GetInt("SERVER_PORT"),
			GRPCPort:    viper.GetInt("GRPC_PORT"),
			MetricsPort: viper.GetInt("METRICS_PORT"),
		},
		Database: DatabaseConfig{
			Host:     viper.GetString("DB_HOST"),
			Port:     viper.GetInt("DB_PORT"),
			User:     viper.GetString("DB_USER"),
			Password: dbPassword,
			Database: viper.GetString("DB_NAME"),
			SSLMode:  viper.GetString("DB_SSLMODE"),
		},
		Cache: CacheConfig{
			Enabled:        viper.GetBool("CACHE_ENABLED"),
			MaxMemoryBytes: viper.GetInt64("CACHE_MAX_MEMORY_BYTES"),
			Metrics:        viper.GetBool("CACHE_METRICS"),
			TTLMinutes:     viper.GetInt("CACHE_TTL_MINUTES"),
		},
		Storage: StorageConfig{
			Driver: driver,
		},
		Relations: RelationsConfig{
			Path:                    viper.GetString("RELATIONS_CONFIG"),
			DeferredBindingTTLHours: viper.GetInt("DEFERRED_BINDING_TTL_HOURS"),
		},
		Logging: LoggingConfig{
			Level:  viper.GetString("LOG_LEVEL"),
			Format: viper.GetString("LOG_FORMAT"),
		},
		Telemetry: TelemetryConfig{
			TraceExporter: viper.GetString("TRACE_EXPORTER"),
			ServiceName:   viper.GetString("SERVICE_NAME"),
		},
	}

	return config, nil
}

// ConnectionString returns PostgreSQL connection string
func (c *DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host,
		c.Port,
		c.User,
		c.Password,
		c.Database,
		c.SSLMode,
	)
}
