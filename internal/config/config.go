// Package config loads the runtime configuration: file, environment, and
// defaults, in that order of precedence (file beats defaults, environment
// beats file).
package config

import (
	stderrors "errors"
	"strings"
	"time"

	"github.com/spf13/viper"

	"weave/internal/errors"
	"weave/internal/lifecycle"
)

// Config is the full runtime configuration. Every admission path has an
// explicit ceiling here.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	LLM       LLMConfig       `mapstructure:"llm"`
	Tools     ToolsConfig     `mapstructure:"tools"`
	Runner    RunnerConfig    `mapstructure:"runner"`
	React     ReactConfig     `mapstructure:"react"`
	Repair    RepairConfig    `mapstructure:"repair"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Canvas    CanvasConfig    `mapstructure:"canvas"`
	Knowledge KnowledgeConfig `mapstructure:"knowledge"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	AllowedOrigins  []string      `mapstructure:"allowed_origins"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type LLMConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	Model   string        `mapstructure:"model"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// ToolsConfig ceilings: global and per-tool concurrency reject on context
// expiry, the result cache evicts least-recently-used.
type ToolsConfig struct {
	Dir                string        `mapstructure:"dir"`
	Watch              bool          `mapstructure:"watch"`
	GlobalConcurrency  int           `mapstructure:"global_concurrency"`
	DefaultConcurrency int           `mapstructure:"default_concurrency"`
	CacheSize          int           `mapstructure:"cache_size"`
	CacheTTL           time.Duration `mapstructure:"cache_ttl"`
	DefaultTimeout     time.Duration `mapstructure:"default_timeout"`
}

type RunnerConfig struct {
	DefaultNodeTimeout time.Duration `mapstructure:"default_node_timeout"`
	BackoffBase        time.Duration `mapstructure:"backoff_base"`
}

type ReactConfig struct {
	MaxSteps           int `mapstructure:"max_steps"`
	MaxIterations      int `mapstructure:"max_iterations"`
	MaxParseAttempts   int `mapstructure:"max_parse_attempts"`
	MessageTokenBudget int `mapstructure:"message_token_budget"`
}

type RepairConfig struct {
	MaxAttempts         int  `mapstructure:"max_attempts"`
	RequireConfirmation bool `mapstructure:"require_confirmation"`
}

// SchedulerConfig ceilings reject synchronously at admission.
type SchedulerConfig struct {
	MaxConcurrentAgents  int     `mapstructure:"max_concurrent_agents"`
	CPUQuota             float64 `mapstructure:"cpu_quota"`
	MemoryQuotaMB        int     `mapstructure:"memory_quota_mb"`
	GPUQuotaMB           int     `mapstructure:"gpu_quota_mb"`
	Policy               string  `mapstructure:"policy"`
	ExecutionLogCapacity int     `mapstructure:"execution_log_capacity"`
}

// CanvasConfig ceilings: the ack queue drops a message after MaxRetries, the
// dedup ring trims its oldest tenth on overflow.
type CanvasConfig struct {
	AckTimeout    time.Duration `mapstructure:"ack_timeout"`
	MaxRetries    int           `mapstructure:"max_retries"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
	DedupSize     int           `mapstructure:"dedup_size"`
}

// KnowledgeConfig ceiling: the call log drops its oldest records on overflow.
type KnowledgeConfig struct {
	MaxCallRecords int `mapstructure:"max_call_records"`
}

type LoggingConfig struct {
	Level string `mapstructure:"level"`
	File  string `mapstructure:"file"`
}

// Default returns the configuration used when no file or environment
// overrides are present.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Addr:            ":8420",
			AllowedOrigins:  []string{"http://localhost:3000"},
			ShutdownTimeout: 10 * time.Second,
		},
		LLM: LLMConfig{
			BaseURL: "https://api.openai.com/v1",
			Model:   "gpt-4o-mini",
			Timeout: 120 * time.Second,
		},
		Tools: ToolsConfig{
			Dir:                "tools",
			Watch:              true,
			GlobalConcurrency:  64,
			DefaultConcurrency: 4,
			CacheSize:          256,
			CacheTTL:           5 * time.Minute,
			DefaultTimeout:     30 * time.Second,
		},
		Runner: RunnerConfig{
			DefaultNodeTimeout: 30 * time.Second,
			BackoffBase:        500 * time.Millisecond,
		},
		React: ReactConfig{
			MaxSteps:           50,
			MaxIterations:      50,
			MaxParseAttempts:   3,
			MessageTokenBudget: 24000,
		},
		Repair: RepairConfig{
			MaxAttempts:         3,
			RequireConfirmation: true,
		},
		Scheduler: SchedulerConfig{
			MaxConcurrentAgents:  32,
			CPUQuota:             64,
			MemoryQuotaMB:        65536,
			Policy:               string(lifecycle.PolicyFIFO),
			ExecutionLogCapacity: 1000,
		},
		Canvas: CanvasConfig{
			AckTimeout:    5 * time.Second,
			MaxRetries:    3,
			SweepInterval: time.Second,
			DedupSize:     1000,
		},
		Knowledge: KnowledgeConfig{
			MaxCallRecords: 10000,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load reads the configuration. path may be empty, in which case the usual
// locations are searched; a missing file falls back to defaults silently,
// any other read problem is an error.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetConfigName("weave")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.weave")
	if path != "" {
		v.SetConfigFile(path)
	}

	v.SetEnvPrefix("WEAVE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := Default()
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path == "" && stderrors.As(err, &notFound) {
			return cfg, nil
		}
		return cfg, errors.Wrap(err, errors.KindInvalidRequest, "read config")
	}
	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, errors.Wrap(err, errors.KindInvalidRequest, "decode config")
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate rejects configurations the runtime cannot honour.
func (c Config) Validate() error {
	if !lifecycle.Policy(c.Scheduler.Policy).Valid() {
		return errors.New(errors.KindInvalidRequest,
			"unknown scheduler policy %q", c.Scheduler.Policy)
	}
	if c.Repair.MaxAttempts < 1 {
		return errors.New(errors.KindInvalidRequest,
			"repair.max_attempts must be at least 1")
	}
	if c.Tools.GlobalConcurrency < 1 || c.Tools.DefaultConcurrency < 1 {
		return errors.New(errors.KindInvalidRequest,
			"tool concurrency ceilings must be positive")
	}
	if c.Canvas.MaxRetries < 1 {
		return errors.New(errors.KindInvalidRequest,
			"canvas.max_retries must be at least 1")
	}
	return nil
}
