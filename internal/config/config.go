package config

import (
	"time"

	"github.com/spf13/viper"
)

// Config stores all configuration for the mapper.
type Config struct {
	ProbeCommand  string `mapstructure:"PROBE_COMMAND"`
	ProbeArgs     string `mapstructure:"PROBE_ARGS"`
	EmbeddedProbe bool   `mapstructure:"EMBEDDED_PROBE"`

	Workers         int `mapstructure:"CRAWL_WORKERS"`
	ProcessTimeout  int `mapstructure:"PROCESS_TIMEOUT"`  // seconds
	ProbeRetries    int `mapstructure:"PROBE_RETRIES"`    // budget on top of the first attempt
	RetryIntervalMS int `mapstructure:"RETRY_INTERVAL_MS"`

	UserAgent  string `mapstructure:"USER_AGENT"`
	Proxy      string `mapstructure:"PROXY"`
	SetReferer bool   `mapstructure:"SET_REFERER"`

	FallbackFetch   bool `mapstructure:"FALLBACK_FETCH"`
	FallbackRetries int  `mapstructure:"FALLBACK_RETRIES"`
	GroupQS         bool `mapstructure:"GROUP_QS"`

	PostgresURL string `mapstructure:"POSTGRES_URL"`
	RedisAddr   string `mapstructure:"REDIS_ADDR"`
	VisitedTTL  int    `mapstructure:"VISITED_TTL_HOURS"`

	MetricsAddr string `mapstructure:"METRICS_ADDR"`
	LogLevel    string `mapstructure:"LOG_LEVEL"`
}

// Timeout returns the soft probe process timeout.
func (c *Config) Timeout() time.Duration {
	return time.Duration(c.ProcessTimeout) * time.Second
}

// RetryInterval returns the fixed backoff between probe attempts.
func (c *Config) RetryInterval() time.Duration {
	return time.Duration(c.RetryIntervalMS) * time.Millisecond
}

// Load reads configuration from file or environment variables.
func Load() (*Config, error) {
	viper.SetConfigFile(".env")
	viper.SetConfigType("env")
	viper.AutomaticEnv()

	// Attempt to read the .env file, but don't fail if it's not present.
	// This allows configuration purely through environment variables.
	_ = viper.ReadInConfig()

	viper.SetDefault("PROBE_COMMAND", "probe")
	viper.SetDefault("EMBEDDED_PROBE", false)
	viper.SetDefault("CRAWL_WORKERS", 10)
	viper.SetDefault("PROCESS_TIMEOUT", 30)
	viper.SetDefault("PROBE_RETRIES", 2)
	viper.SetDefault("RETRY_INTERVAL_MS", 500)
	viper.SetDefault("SET_REFERER", true)
	viper.SetDefault("FALLBACK_FETCH", false)
	viper.SetDefault("FALLBACK_RETRIES", 2)
	viper.SetDefault("GROUP_QS", false)
	viper.SetDefault("VISITED_TTL_HOURS", 48)
	viper.SetDefault("METRICS_ADDR", "")
	viper.SetDefault("LOG_LEVEL", "info")

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
