package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store       StoreConfig       `yaml:"store" mapstructure:"store"`
	Anthropic   AnthropicConfig   `yaml:"anthropic" mapstructure:"anthropic"`
	Sonar       SonarConfig       `yaml:"sonar" mapstructure:"sonar"`
	Places      PlacesConfig      `yaml:"places" mapstructure:"places"`
	Routing     RoutingConfig     `yaml:"routing" mapstructure:"routing"`
	Consolidate ConsolidateConfig `yaml:"consolidate" mapstructure:"consolidate"`
	Engine      EngineConfig      `yaml:"engine" mapstructure:"engine"`
	Runner      RunnerConfig      `yaml:"runner" mapstructure:"runner"`
	Events      EventsConfig      `yaml:"events" mapstructure:"events"`
	Server      ServerConfig      `yaml:"server" mapstructure:"server"`
	Log         LogConfig         `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the snapshot/run store backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	Path        string `yaml:"path" mapstructure:"path"`
}

// AnthropicConfig holds settings for the reasoning provider.
type AnthropicConfig struct {
	Key         string `yaml:"key" mapstructure:"key"`
	Model       string `yaml:"model" mapstructure:"model"`
	MaxTokens   int    `yaml:"max_tokens" mapstructure:"max_tokens"`
	TimeoutSecs int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// SonarConfig holds settings for the search-augmented provider.
type SonarConfig struct {
	Key         string `yaml:"key" mapstructure:"key"`
	BaseURL     string `yaml:"base_url" mapstructure:"base_url"`
	Model       string `yaml:"model" mapstructure:"model"`
	TimeoutSecs int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// PlacesConfig holds Google Places API settings for venue verification.
type PlacesConfig struct {
	Key     string  `yaml:"key" mapstructure:"key"`
	BaseURL string  `yaml:"base_url" mapstructure:"base_url"`
	QPS     float64 `yaml:"qps" mapstructure:"qps"`
}

// RoutingConfig holds the drive-time service settings.
type RoutingConfig struct {
	BaseURL string  `yaml:"base_url" mapstructure:"base_url"`
	QPS     float64 `yaml:"qps" mapstructure:"qps"`
}

// ConsolidateConfig tunes deduplication, staleness, and ranking.
// Thresholds are tunable parameters, not contracts; a standalone YAML
// tuning file can override them (see consolidate.LoadTuning).
type ConsolidateConfig struct {
	SimilarityThreshold float64 `yaml:"similarity_threshold" mapstructure:"similarity_threshold"`
	FreshnessHours      int     `yaml:"freshness_hours" mapstructure:"freshness_hours"`
	ProximityMeters     float64 `yaml:"proximity_meters" mapstructure:"proximity_meters"`
	TuningFile          string  `yaml:"tuning_file" mapstructure:"tuning_file"`
}

// EngineConfig configures pipeline phase budgets.
type EngineConfig struct {
	PhaseTimeoutSecs   int `yaml:"phase_timeout_secs" mapstructure:"phase_timeout_secs"`
	MaxVenueCandidates int `yaml:"max_venue_candidates" mapstructure:"max_venue_candidates"`
}

// RunnerConfig configures the background job runner.
type RunnerConfig struct {
	MaxRetries int `yaml:"max_retries" mapstructure:"max_retries"`
}

// EventsConfig configures the optional phase-transition event stream.
// The publisher is disabled when no brokers are set.
type EventsConfig struct {
	Brokers []string `yaml:"brokers" mapstructure:"brokers"`
	Topic   string   `yaml:"topic" mapstructure:"topic"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("STRATEGY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.path", "strategy.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("anthropic.model", "claude-sonnet-4-5-20250929")
	v.SetDefault("anthropic.max_tokens", 4096)
	v.SetDefault("anthropic.timeout_secs", 45)
	v.SetDefault("sonar.base_url", "https://api.perplexity.ai")
	v.SetDefault("sonar.model", "sonar-pro")
	v.SetDefault("sonar.timeout_secs", 45)
	v.SetDefault("places.base_url", "https://places.googleapis.com/v1")
	v.SetDefault("places.qps", 10)
	v.SetDefault("routing.base_url", "https://router.project-osrm.org")
	v.SetDefault("routing.qps", 5)
	v.SetDefault("consolidate.similarity_threshold", 0.55)
	v.SetDefault("consolidate.freshness_hours", 48)
	v.SetDefault("consolidate.proximity_meters", 150)
	v.SetDefault("engine.phase_timeout_secs", 60)
	v.SetDefault("engine.max_venue_candidates", 8)
	v.SetDefault("runner.max_retries", 2)
	v.SetDefault("events.topic", "strategy.phase-transitions")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
