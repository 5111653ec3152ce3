package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Vault     VaultConfig     `mapstructure:"vault"`
	AI        AIConfig        `mapstructure:"ai"`
	Commerce  CommerceConfig  `mapstructure:"commerce"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port         string        `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// DatabaseConfig holds database connection configuration
type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
}

// VaultConfig holds the master key used to decrypt per-shop credentials.
type VaultConfig struct {
	MasterKey string `mapstructure:"master_key"`
}

// AIConfig holds the language-model provider configuration.
type AIConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	APIKey         string        `mapstructure:"api_key"`
	Model          string        `mapstructure:"model"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// CommerceConfig holds commerce platform API configuration.
type CommerceConfig struct {
	APIVersion     string        `mapstructure:"api_version"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// SchedulerConfig holds the cadences and budgets of the three periodic
// tasks (ingestion, queue worker, janitor).
type SchedulerConfig struct {
	IngestIntervalMinutes  int           `mapstructure:"ingest_interval_minutes"`
	WorkerIntervalMinutes  int           `mapstructure:"worker_interval_minutes"`
	JanitorIntervalMinutes int           `mapstructure:"janitor_interval_minutes"`
	ShopConcurrency        int           `mapstructure:"shop_concurrency"`
	FetchBatchSize         int           `mapstructure:"fetch_batch_size"`
	JobBatchSize           int           `mapstructure:"job_batch_size"`
	MaxAttempts            int           `mapstructure:"max_attempts"`
	WallClockBudget        time.Duration `mapstructure:"wall_clock_budget"`
	InterJobDelay          time.Duration `mapstructure:"inter_job_delay"`
}

// LoadConfig loads configuration from environment variables and config file
func LoadConfig() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	// Set defaults
	setDefaults()

	// Read config file if it exists
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	// Environment variables override config file
	viper.AutomaticEnv()

	// Bind environment variables
	bindEnvVars()

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	return &config, nil
}

// setDefaults sets default configuration values
func setDefaults() {
	viper.SetDefault("server.port", "8080")
	viper.SetDefault("server.read_timeout", "30s")
	viper.SetDefault("server.write_timeout", "30s")

	viper.SetDefault("database.host", "localhost")
	viper.SetDefault("database.port", 3306)

	viper.SetDefault("ai.base_url", "https://api.openai.com/v1")
	viper.SetDefault("ai.model", "gpt-4o-mini")
	viper.SetDefault("ai.request_timeout", "60s")

	viper.SetDefault("commerce.api_version", "2024-01")
	viper.SetDefault("commerce.request_timeout", "15s")

	viper.SetDefault("scheduler.ingest_interval_minutes", 5)
	viper.SetDefault("scheduler.worker_interval_minutes", 1)
	viper.SetDefault("scheduler.janitor_interval_minutes", 5)
	viper.SetDefault("scheduler.shop_concurrency", 5)
	viper.SetDefault("scheduler.fetch_batch_size", 50)
	viper.SetDefault("scheduler.job_batch_size", 20)
	viper.SetDefault("scheduler.max_attempts", 3)
	viper.SetDefault("scheduler.wall_clock_budget", "4m")
	viper.SetDefault("scheduler.inter_job_delay", "2s")
}

// bindEnvVars binds environment variables to configuration keys
func bindEnvVars() {
	// Server
	viper.BindEnv("server.port", "SERVER_PORT")
	viper.BindEnv("server.read_timeout", "SERVER_READ_TIMEOUT")
	viper.BindEnv("server.write_timeout", "SERVER_WRITE_TIMEOUT")

	// Database
	viper.BindEnv("database.host", "DB_HOST")
	viper.BindEnv("database.port", "DB_PORT")
	viper.BindEnv("database.user", "DB_USER")
	viper.BindEnv("database.password", "DB_PASSWORD")
	viper.BindEnv("database.dbname", "DB_NAME")

	// Vault
	viper.BindEnv("vault.master_key", "VAULT_MASTER_KEY")

	// AI provider
	viper.BindEnv("ai.base_url", "AI_BASE_URL")
	viper.BindEnv("ai.api_key", "AI_API_KEY")
	viper.BindEnv("ai.model", "AI_MODEL")
	viper.BindEnv("ai.request_timeout", "AI_REQUEST_TIMEOUT")

	// Commerce
	viper.BindEnv("commerce.api_version", "COMMERCE_API_VERSION")
	viper.BindEnv("commerce.request_timeout", "COMMERCE_REQUEST_TIMEOUT")

	// Scheduler
	viper.BindEnv("scheduler.ingest_interval_minutes", "SCHEDULER_INGEST_INTERVAL_MINUTES")
	viper.BindEnv("scheduler.worker_interval_minutes", "SCHEDULER_WORKER_INTERVAL_MINUTES")
	viper.BindEnv("scheduler.janitor_interval_minutes", "SCHEDULER_JANITOR_INTERVAL_MINUTES")
	viper.BindEnv("scheduler.shop_concurrency", "SCHEDULER_SHOP_CONCURRENCY")
	viper.BindEnv("scheduler.fetch_batch_size", "SCHEDULER_FETCH_BATCH_SIZE")
	viper.BindEnv("scheduler.job_batch_size", "SCHEDULER_JOB_BATCH_SIZE")
	viper.BindEnv("scheduler.max_attempts", "SCHEDULER_MAX_ATTEMPTS")
	viper.BindEnv("scheduler.wall_clock_budget", "SCHEDULER_WALL_CLOCK_BUDGET")
	viper.BindEnv("scheduler.inter_job_delay", "SCHEDULER_INTER_JOB_DELAY")
}

// GetDSN returns the database connection string
func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=Local",
		c.User, c.Password, c.Host, c.Port, c.DBName)
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}

	if c.Database.Host == "" || c.Database.User == "" || c.Database.DBName == "" {
		return fmt.Errorf("database host, user, and dbname are required")
	}

	if c.Vault.MasterKey == "" {
		return fmt.Errorf("vault master key is required")
	}

	if c.AI.APIKey == "" {
		return fmt.Errorf("AI provider API key is required")
	}

	if c.Scheduler.IngestIntervalMinutes <= 0 || c.Scheduler.WorkerIntervalMinutes <= 0 || c.Scheduler.JanitorIntervalMinutes <= 0 {
		return fmt.Errorf("scheduler intervals must be greater than 0")
	}

	if c.Scheduler.ShopConcurrency <= 0 {
		return fmt.Errorf("shop concurrency must be greater than 0")
	}

	return nil
}
