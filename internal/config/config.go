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
	Store    StoreConfig    `yaml:"store" mapstructure:"store"`
	Oracle   OracleConfig   `yaml:"oracle" mapstructure:"oracle"`
	Matching MatchingConfig `yaml:"matching" mapstructure:"matching"`
	Audit    AuditConfig    `yaml:"audit" mapstructure:"audit"`
	Ingest   IngestConfig   `yaml:"ingest" mapstructure:"ingest"`
	Server   ServerConfig   `yaml:"server" mapstructure:"server"`
	Log      LogConfig      `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// OracleConfig holds the price prediction model settings.
type OracleConfig struct {
	Enabled   bool   `yaml:"enabled" mapstructure:"enabled"`
	Key       string `yaml:"key" mapstructure:"key"`
	Model     string `yaml:"model" mapstructure:"model"`
	TimeoutMS int    `yaml:"timeout_ms" mapstructure:"timeout_ms"`
	Retries   int    `yaml:"retries" mapstructure:"retries"`
	RPS       int    `yaml:"rps" mapstructure:"rps"`
}

// MatchingConfig tunes the similarity engine.
type MatchingConfig struct {
	AutoThreshold   float64 `yaml:"auto_threshold" mapstructure:"auto_threshold"`
	ReviewThreshold float64 `yaml:"review_threshold" mapstructure:"review_threshold"`
	TopK            int     `yaml:"top_k" mapstructure:"top_k"`
	CandidateLimit  int     `yaml:"candidate_limit" mapstructure:"candidate_limit"`
}

// AuditConfig tunes the batch audit run.
type AuditConfig struct {
	BatchSize    int         `yaml:"batch_size" mapstructure:"batch_size"`
	MaxWorkers   int         `yaml:"max_workers" mapstructure:"max_workers"`
	Hierarchical bool        `yaml:"hierarchical" mapstructure:"hierarchical"`
	Bands        BandsConfig `yaml:"bands" mapstructure:"bands"`
}

// BandsConfig holds the |variance| risk cutoffs in percent.
type BandsConfig struct {
	Low    float64 `yaml:"low" mapstructure:"low"`
	Medium float64 `yaml:"medium" mapstructure:"medium"`
	High   float64 `yaml:"high" mapstructure:"high"`
}

// IngestConfig configures spreadsheet parsing.
type IngestConfig struct {
	SheetIndex int `yaml:"sheet_index" mapstructure:"sheet_index"`
	HeaderRows int `yaml:"header_rows" mapstructure:"header_rows"`
	MaxRows    int `yaml:"max_rows" mapstructure:"max_rows"`
}

// ServerConfig configures the HTTP API.
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
	v.SetEnvPrefix("AUDIT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "postgres")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 2)
	v.SetDefault("oracle.enabled", false)
	v.SetDefault("oracle.model", "claude-sonnet-4-5-20250929")
	v.SetDefault("oracle.timeout_ms", 30000)
	v.SetDefault("oracle.retries", 2)
	v.SetDefault("oracle.rps", 2)
	v.SetDefault("matching.auto_threshold", 0.85)
	v.SetDefault("matching.review_threshold", 0.65)
	v.SetDefault("matching.top_k", 5)
	v.SetDefault("matching.candidate_limit", 200)
	v.SetDefault("audit.batch_size", 100)
	v.SetDefault("audit.max_workers", 8)
	v.SetDefault("audit.hierarchical", false)
	v.SetDefault("audit.bands.low", 20)
	v.SetDefault("audit.bands.medium", 40)
	v.SetDefault("audit.bands.high", 60)
	v.SetDefault("ingest.sheet_index", 0)
	v.SetDefault("ingest.header_rows", 1)
	v.SetDefault("ingest.max_rows", 50000)
	v.SetDefault("server.port", 8080)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

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
