package config

import (
	"fmt"

	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	App     AppConfig     `mapstructure:"app"`
	Redis   RedisConfig   `mapstructure:"redis"`
	Oracle  OracleConfig  `mapstructure:"oracle"`
	Market  MarketConfig  `mapstructure:"market"`
	API     APIConfig     `mapstructure:"api"`
	Metrics MetricsConfig `mapstructure:"metrics"`
}

// AppConfig contains application-level settings.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"` // development, staging, production
	LogLevel    string `mapstructure:"log_level"`
	LogFormat   string `mapstructure:"log_format"` // "json" or "console"
}

// RedisConfig contains Redis settings.
type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// Addr returns the host:port address for the Redis client.
func (c *RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// OracleConfig contains reasoning-oracle gateway settings.
type OracleConfig struct {
	APIKey   string `mapstructure:"api_key"`
	Endpoint string `mapstructure:"endpoint"`
	Model    string `mapstructure:"model"`
	// TimeoutMS bounds a single completion request; the market layer
	// treats a timeout as that agent abstaining.
	TimeoutMS int `mapstructure:"timeout_ms"`
	// RequestsPerSecond paces outbound calls across concurrent debates.
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
}

// MarketConfig contains market engine settings.
type MarketConfig struct {
	NumAgents    int     `mapstructure:"num_agents"`
	StartingCash float64 `mapstructure:"starting_cash"`
	// MemoMaxRunes caps the stored per-goal analysis memo to bound
	// prompt size on later events.
	MemoMaxRunes int `mapstructure:"memo_max_runes"`
}

// APIConfig contains REST API settings.
type APIConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// MetricsConfig contains monitoring settings.
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// Load loads configuration from file and environment variables.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	v.AutomaticEnv()
	v.SetEnvPrefix("GOALMARKET")

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found; using defaults and environment variables
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default configuration values.
func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "goalmarket")
	v.SetDefault("app.environment", "development")
	v.SetDefault("app.log_level", "info")
	v.SetDefault("app.log_format", "console")

	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.username", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("oracle.endpoint", "https://openrouter.ai/api/v1/chat/completions")
	v.SetDefault("oracle.model", "openai/gpt-5-mini")
	v.SetDefault("oracle.timeout_ms", 60000)
	v.SetDefault("oracle.requests_per_second", 5.0)

	v.SetDefault("market.num_agents", 3)
	v.SetDefault("market.starting_cash", 1000.0)
	v.SetDefault("market.memo_max_runes", 2000)

	v.SetDefault("api.host", "0.0.0.0")
	v.SetDefault("api.port", 8000)

	v.SetDefault("metrics.enabled", true)
}
