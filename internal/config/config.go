package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/nulzo/inference-gateway/internal/inference"
	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig              `mapstructure:"server"`
	Log       LogConfig                 `mapstructure:"log"`
	Database  DatabaseConfig            `mapstructure:"database"`
	Redis     RedisConfig               `mapstructure:"redis"`
	RateLimit RateLimitConfig           `mapstructure:"rate_limit"`
	Tracing   TracingConfig             `mapstructure:"tracing"`
	Inference InferenceConfig           `mapstructure:"inference"`
	Services  []ServiceConfig           `mapstructure:"services"`
	Endpoints []inference.UnparsedModel `mapstructure:"endpoints"`
}

type ServerConfig struct {
	Port string `mapstructure:"port"`
	Env  string `mapstructure:"env"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type DatabaseConfig struct {
	DSN string `mapstructure:"dsn"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Enabled  bool   `mapstructure:"enabled"`
}

type RateLimitConfig struct {
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	Burst             int     `mapstructure:"burst"`
}

type TracingConfig struct {
	Enabled     bool    `mapstructure:"enabled"`
	ServiceName string  `mapstructure:"service_name"`
	SampleRatio float64 `mapstructure:"sample_ratio"`
	Pretty      bool    `mapstructure:"pretty"`
}

type InferenceConfig struct {
	DefaultTimeout   time.Duration `mapstructure:"default_timeout"`
	StreamBuffer     int           `mapstructure:"stream_buffer"`
	MaxPageSize      int           `mapstructure:"max_page_size"`
	EndpointCacheTTL time.Duration `mapstructure:"endpoint_cache_ttl"`
	// LogRetention bounds how long request logs are kept; 0 keeps them forever.
	LogRetention     time.Duration `mapstructure:"log_retention"`
}

// ServiceConfig describes one backend service instance. Endpoints reference it by ID; Type selects
// the adapter factory.
type ServiceConfig struct {
	ID      string            `json:"id" yaml:"id" mapstructure:"id" validate:"required"`
	Type    string            `json:"type" yaml:"type" mapstructure:"type" validate:"required"`
	Name    string            `json:"name" yaml:"name" mapstructure:"name"`
	APIKey  string            `json:"-" yaml:"api_key" mapstructure:"api_key" validate:"required_unless=Type echo Type ollama"`
	BaseURL string            `json:"base_url" yaml:"base_url" mapstructure:"base_url" validate:"omitempty,url"`
	Config  map[string]string `json:"config" yaml:"config" mapstructure:"config"`
	Enabled bool              `json:"enabled" yaml:"enabled" mapstructure:"enabled"`
}

// LoadConfig reads configuration from file or environment variables.
func LoadConfig() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()

	if file := os.Getenv("CONFIG_FILE"); file != "" {
		v.SetConfigFile(file)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	v.SetDefault("server.port", "8080")
	v.SetDefault("server.env", "development")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
	v.SetDefault("database.dsn", "file:gateway.db?cache=shared&mode=rwc&_journal_mode=WAL&_busy_timeout=5000")
	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("rate_limit.requests_per_second", 10.0)
	v.SetDefault("rate_limit.burst", 20)
	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.service_name", "inference-gateway")
	v.SetDefault("tracing.sample_ratio", 1.0)
	v.SetDefault("tracing.pretty", false)
	v.SetDefault("inference.default_timeout", 30*time.Second)
	v.SetDefault("inference.stream_buffer", 16)
	v.SetDefault("inference.max_page_size", 10000)
	v.SetDefault("inference.endpoint_cache_ttl", time.Minute)
	v.SetDefault("inference.log_retention", 30*24*time.Hour)

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode into struct: %w", err)
	}

	for i, s := range cfg.Services {
		if strings.HasPrefix(s.APIKey, "ENV:") {
			envVar := strings.TrimPrefix(s.APIKey, "ENV:")
			val := os.Getenv(envVar)
			if val == "" {
				val = v.GetString(envVar)
			}
			cfg.Services[i].APIKey = val
		}
	}

	return &cfg, nil
}
