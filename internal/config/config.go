// Package config loads application configuration from file and environment
// and owns global logger setup.
package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/sells-group/entity-resolver/internal/arbiter"
	"github.com/sells-group/entity-resolver/internal/matcher"
	"github.com/sells-group/entity-resolver/internal/scorer"
)

// Config holds the full application configuration.
type Config struct {
	Store     StoreConfig    `yaml:"store" mapstructure:"store"`
	GLEIF     GLEIFConfig    `yaml:"gleif" mapstructure:"gleif"`
	Anthropic OracleConfig   `yaml:"anthropic" mapstructure:"anthropic"`
	Scorer    scorer.Config  `yaml:"scorer" mapstructure:"scorer"`
	Matcher   matcher.Config `yaml:"matcher" mapstructure:"matcher"`
	Arbiter   arbiter.Config `yaml:"arbiter" mapstructure:"arbiter"`
	Pipeline  PipelineConfig `yaml:"pipeline" mapstructure:"pipeline"`
	Extractor ExtractConfig  `yaml:"extractor" mapstructure:"extractor"`
	Batch     BatchConfig    `yaml:"batch" mapstructure:"batch"`
	Server    ServerConfig   `yaml:"server" mapstructure:"server"`
	Log       LogConfig      `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	SQLitePath  string `yaml:"sqlite_path" mapstructure:"sqlite_path"`
}

// GLEIFConfig configures the GLEIF registry client.
type GLEIFConfig struct {
	BaseURL          string  `yaml:"base_url" mapstructure:"base_url"`
	RateLimitRPS     float64 `yaml:"rate_limit_rps" mapstructure:"rate_limit_rps"`
	PageSize         int     `yaml:"page_size" mapstructure:"page_size"`
	RetryAttempts    int     `yaml:"retry_attempts" mapstructure:"retry_attempts"`
	FailureThreshold int     `yaml:"failure_threshold" mapstructure:"failure_threshold"`
	ResetTimeoutSecs int     `yaml:"reset_timeout_secs" mapstructure:"reset_timeout_secs"`
}

// OracleConfig holds Anthropic API settings for the arbitration advisory.
type OracleConfig struct {
	Key         string `yaml:"key" mapstructure:"key"`
	Model       string `yaml:"model" mapstructure:"model"`
	MaxTokens   int64  `yaml:"max_tokens" mapstructure:"max_tokens"`
	TimeoutSecs int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	Enabled     bool   `yaml:"enabled" mapstructure:"enabled"`
}

// PipelineConfig configures run orchestration.
type PipelineConfig struct {
	JurisdictionBias string `yaml:"jurisdiction_bias" mapstructure:"jurisdiction_bias"`
	ParentPreference bool   `yaml:"parent_preference" mapstructure:"parent_preference"`
	MuteRankingRules bool   `yaml:"mute_ranking_rules" mapstructure:"mute_ranking_rules"`
	StaleAfterSecs   int    `yaml:"stale_after_secs" mapstructure:"stale_after_secs"`
	MaxDLQRetries    int    `yaml:"max_dlq_retries" mapstructure:"max_dlq_retries"`
}

// ExtractConfig configures signal extraction.
type ExtractConfig struct {
	DomainMapPath string `yaml:"domain_map_path" mapstructure:"domain_map_path"`
}

// BatchConfig configures batch processing.
type BatchConfig struct {
	MaxConcurrentDomains int `yaml:"max_concurrent_domains" mapstructure:"max_concurrent_domains"`
}

// ServerConfig configures the HTTP service.
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
	v.SetEnvPrefix("RESOLVER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

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

	if err := scorer.Validate(cfg.Scorer); err != nil {
		return nil, err
	}
	if err := matcher.ValidateWeights(cfg.Matcher.Weights); err != nil {
		return nil, err
	}
	if err := arbiter.Validate(cfg.Arbiter); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.sqlite_path", "resolver.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("batch.max_concurrent_domains", 5)

	v.SetDefault("gleif.base_url", "https://api.gleif.org/api/v1")
	v.SetDefault("gleif.rate_limit_rps", 2.0)
	v.SetDefault("gleif.page_size", 10)
	v.SetDefault("gleif.retry_attempts", 3)
	v.SetDefault("gleif.failure_threshold", 5)
	v.SetDefault("gleif.reset_timeout_secs", 30)

	v.SetDefault("anthropic.model", "claude-haiku-4-5-20251001")
	v.SetDefault("anthropic.max_tokens", 1024)
	v.SetDefault("anthropic.timeout_secs", 30)
	v.SetDefault("anthropic.enabled", false)

	scorerDefaults := scorer.DefaultConfig()
	v.SetDefault("scorer.corporate_suffix_bonus", scorerDefaults.CorporateSuffixBonus)
	v.SetDefault("scorer.limited_suffix_bonus", scorerDefaults.LimitedSuffixBonus)
	v.SetDefault("scorer.group_suffix_bonus", scorerDefaults.GroupSuffixBonus)
	v.SetDefault("scorer.international_suffix_bonus", scorerDefaults.InternationalSuffixBonus)
	v.SetDefault("scorer.long_name_penalty", scorerDefaults.LongNamePenalty)
	v.SetDefault("scorer.very_long_name_penalty", scorerDefaults.VeryLongNamePenalty)
	v.SetDefault("scorer.min_length", scorerDefaults.MinLength)
	v.SetDefault("scorer.max_length", scorerDefaults.MaxLength)

	matcherDefaults := matcher.DefaultConfig()
	v.SetDefault("matcher.weights.name_similarity", matcherDefaults.Weights.NameSimilarity)
	v.SetDefault("matcher.weights.active_status", matcherDefaults.Weights.ActiveStatus)
	v.SetDefault("matcher.weights.jurisdiction", matcherDefaults.Weights.Jurisdiction)
	v.SetDefault("matcher.weights.legal_form", matcherDefaults.Weights.LegalForm)
	v.SetDefault("matcher.timeout_secs", matcherDefaults.TimeoutSecs)
	v.SetDefault("matcher.min_score", matcherDefaults.MinScore)
	v.SetDefault("matcher.max_candidates", matcherDefaults.MaxCandidates)
	v.SetDefault("matcher.relationships", matcherDefaults.Relationships)

	arbiterDefaults := arbiter.DefaultConfig()
	v.SetDefault("arbiter.adjustments.jurisdiction_bonus", arbiterDefaults.Adjustments.JurisdictionBonus)
	v.SetDefault("arbiter.adjustments.parent_bonus", arbiterDefaults.Adjustments.ParentBonus)
	v.SetDefault("arbiter.adjustments.inactive_penalty", arbiterDefaults.Adjustments.InactivePenalty)

	v.SetDefault("pipeline.parent_preference", true)
	v.SetDefault("pipeline.mute_ranking_rules", false)
	v.SetDefault("pipeline.stale_after_secs", 600)
	v.SetDefault("pipeline.max_dlq_retries", 3)
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
