package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the services
type Config struct {
	App         AppConfig         `mapstructure:"app"`
	Storage     StorageConfig     `mapstructure:"storage"`
	LogService  LogServiceConfig  `mapstructure:"logservice"`
	Coordinator CoordinatorConfig `mapstructure:"coordinator"`
	Release     ReleaseConfig     `mapstructure:"release"`
	Server      ServerConfig      `mapstructure:"server"`
	Logging     LoggingConfig     `mapstructure:"logging"`
}

// AppConfig contains application-level configuration
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"`
	Debug       bool   `mapstructure:"debug"`
}

// StorageConfig contains database configuration
type StorageConfig struct {
	Type             string        `mapstructure:"type"` // sqlite, postgres
	ConnectionString string        `mapstructure:"connection_string"`
	MaxConnections   int           `mapstructure:"max_connections"`
	MaxIdleTime      time.Duration `mapstructure:"max_idle_time"`
}

// LogServiceConfig contains record log service configuration
type LogServiceConfig struct {
	MaxPushBatchSize int    `mapstructure:"max_push_batch_size"`
	MaxPullBatchSize int    `mapstructure:"max_pull_batch_size"`
	PurgeSchedule    string `mapstructure:"purge_schedule"` // cron expression
	EnablePurge      bool   `mapstructure:"enable_purge"`
}

// CoordinatorConfig contains coordinator configuration
type CoordinatorConfig struct {
	DefaultTenant   string `mapstructure:"default_tenant"`
	DefaultDatabase string `mapstructure:"default_database"`
}

// ReleaseConfig contains package release configuration
type ReleaseConfig struct {
	PackageName    string `mapstructure:"package_name"`
	Organization   string `mapstructure:"organization"`
	NpmRegistry    string `mapstructure:"npm_registry"`
	GithubRegistry string `mapstructure:"github_registry"`
	NpmTokenEnv    string `mapstructure:"npm_token_env"`
	GithubTokenEnv string `mapstructure:"github_token_env"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Port          int           `mapstructure:"port"`
	Host          string        `mapstructure:"host"`
	ReadTimeout   time.Duration `mapstructure:"read_timeout"`
	WriteTimeout  time.Duration `mapstructure:"write_timeout"`
	EnableMetrics bool          `mapstructure:"enable_metrics"`
	EnableHealth  bool          `mapstructure:"enable_health"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // json, text
	Output string `mapstructure:"output"` // stdout, file
	File   string `mapstructure:"file"`
}

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	viper.SetConfigType("yaml")

	if configPath != "" {
		viper.SetConfigFile(configPath)
	} else {
		viper.SetConfigName("config")
		viper.AddConfigPath(".")
		viper.AddConfigPath("./internal/config")
	}

	viper.SetEnvPrefix("CHROMA")
	viper.AutomaticEnv()

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			fmt.Println("Config file not found, using defaults and environment variables")
		} else {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	// Override with environment variables if present
	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		config.Storage.ConnectionString = dbURL
	}

	return &config, nil
}

// setDefaults sets default configuration values
func setDefaults() {
	// App defaults
	viper.SetDefault("app.name", "chroma-go-services")
	viper.SetDefault("app.version", "1.0.0")
	viper.SetDefault("app.environment", "development")
	viper.SetDefault("app.debug", false)

	// Storage defaults
	viper.SetDefault("storage.type", "sqlite")
	viper.SetDefault("storage.connection_string", "./data/logstore.db")
	viper.SetDefault("storage.max_connections", 25)
	viper.SetDefault("storage.max_idle_time", "15m")

	// Log service defaults
	viper.SetDefault("logservice.max_push_batch_size", 1000)
	viper.SetDefault("logservice.max_pull_batch_size", 1000)
	viper.SetDefault("logservice.purge_schedule", "@every 10m")
	viper.SetDefault("logservice.enable_purge", true)

	// Coordinator defaults
	viper.SetDefault("coordinator.default_tenant", "default_tenant")
	viper.SetDefault("coordinator.default_database", "default_database")

	// Release defaults
	viper.SetDefault("release.package_name", "chromadb")
	viper.SetDefault("release.organization", "chroma-core")
	viper.SetDefault("release.npm_registry", "https://registry.npmjs.org")
	viper.SetDefault("release.github_registry", "https://npm.pkg.github.com")
	viper.SetDefault("release.npm_token_env", "NPM_TOKEN")
	viper.SetDefault("release.github_token_env", "GITHUB_TOKEN")

	// Server defaults
	viper.SetDefault("server.port", 8081)
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.read_timeout", "10s")
	viper.SetDefault("server.write_timeout", "10s")
	viper.SetDefault("server.enable_metrics", true)
	viper.SetDefault("server.enable_health", true)

	// Logging defaults
	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")
	viper.SetDefault("logging.output", "stdout")
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Storage.Type == "" {
		return fmt.Errorf("storage type is required")
	}
	if c.Storage.ConnectionString == "" {
		return fmt.Errorf("storage connection string is required")
	}
	if c.LogService.MaxPushBatchSize <= 0 {
		return fmt.Errorf("log service max push batch size must be positive")
	}
	if c.LogService.MaxPullBatchSize <= 0 {
		return fmt.Errorf("log service max pull batch size must be positive")
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server port must be between 1 and 65535")
	}
	return nil
}
