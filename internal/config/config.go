// Package config loads and validates the shield's configuration.
package config

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Config is the root configuration for a shield instance. Every field
// enumerated in this struct corresponds to a configuration knob named in
// spec.md §6.
type Config struct {
	Modules    ModulesConfig    `mapstructure:"modules"`
	Guard      GuardConfig      `mapstructure:"guard"`
	Cache      CacheConfig      `mapstructure:"cache"`
	Context    ContextConfig    `mapstructure:"context"`
	Router     RouterConfig     `mapstructure:"router"`
	Prefix     PrefixConfig     `mapstructure:"prefix"`
	Ledger     LedgerConfig     `mapstructure:"ledger"`
	Breaker    BreakerConfig    `mapstructure:"breaker"`
	UserBudget UserBudgetConfig `mapstructure:"user_budget"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

// ModulesConfig toggles which optional pipeline stages run. All default on
// except Router.
type ModulesConfig struct {
	Guard   bool `mapstructure:"guard"`
	Cache   bool `mapstructure:"cache"`
	Context bool `mapstructure:"context"`
	Router  bool `mapstructure:"router"`
	Prefix  bool `mapstructure:"prefix"`
	Ledger  bool `mapstructure:"ledger"`
}

type GuardConfig struct {
	DebounceMs          int     `mapstructure:"debounce_ms" validate:"gte=0"`
	MaxRequestsPerMinute int    `mapstructure:"max_requests_per_minute" validate:"gte=0"`
	MaxCostPerHour      float64 `mapstructure:"max_cost_per_hour" validate:"gte=0"`
	MinInputLength      int     `mapstructure:"min_input_length" validate:"gte=0"`
	DeduplicateInFlight bool    `mapstructure:"deduplicate_in_flight"`
}

// EncodingStrategy selects the similarity backend used by the response cache.
type EncodingStrategy string

const (
	EncodingBigram     EncodingStrategy = "bigram"
	EncodingHolographic EncodingStrategy = "holographic"
)

type CacheConfig struct {
	MaxEntries          int              `mapstructure:"max_entries" validate:"gt=0"`
	TTLMs               int64            `mapstructure:"ttl_ms" validate:"gt=0"`
	SimilarityThreshold float64          `mapstructure:"similarity_threshold" validate:"gt=0,lte=1"`
	Persist             bool             `mapstructure:"persist"`
	EncodingStrategy    EncodingStrategy `mapstructure:"encoding_strategy" validate:"oneof=bigram holographic"`
	SemanticSeeds       map[string]int64 `mapstructure:"semantic_seeds"`
}

type ContextConfig struct {
	MaxInputTokens  int `mapstructure:"max_input_tokens" validate:"gte=0"`
	ReserveForOutput int `mapstructure:"reserve_for_output" validate:"gte=0"`
}

type RouterTier struct {
	ModelID       string `mapstructure:"model_id" validate:"required"`
	MaxComplexity float64 `mapstructure:"max_complexity"`
}

type RouterConfig struct {
	Tiers                []RouterTier `mapstructure:"tiers"`
	ComplexityThreshold  float64      `mapstructure:"complexity_threshold" validate:"gte=0"`
}

// PrefixProvider names the provider-specific prompt-caching marker shape.
type PrefixProvider string

const (
	PrefixProviderOpenAI    PrefixProvider = "openai"
	PrefixProviderAnthropic PrefixProvider = "anthropic"
	PrefixProviderGoogle    PrefixProvider = "google"
	PrefixProviderAuto      PrefixProvider = "auto"
)

type PrefixConfig struct {
	Provider PrefixProvider `mapstructure:"provider" validate:"oneof=openai anthropic google auto"`
}

type LedgerConfig struct {
	Persist bool   `mapstructure:"persist"`
	Feature string `mapstructure:"feature"`
}

// BreakerAction mirrors spec.md §6's breaker.action enum. "warn" records a
// breaker:warning event but still admits; "stop" denies with BlockedError.
type BreakerAction string

const (
	BreakerActionWarn BreakerAction = "warn"
	BreakerActionStop BreakerAction = "stop"
)

type BreakerLimits struct {
	PerSession float64 `mapstructure:"per_session"`
	PerHour    float64 `mapstructure:"per_hour"`
	PerDay     float64 `mapstructure:"per_day"`
	PerMonth   float64 `mapstructure:"per_month"`
}

type BreakerConfig struct {
	Limits  BreakerLimits `mapstructure:"limits"`
	Action  BreakerAction `mapstructure:"action" validate:"omitempty,oneof=warn stop"`
	Persist bool          `mapstructure:"persist"`
}

type UserLimit struct {
	Daily   float64 `mapstructure:"daily"`
	Monthly float64 `mapstructure:"monthly"`
	Tier    string  `mapstructure:"tier"`
}

type UserBudgetConfig struct {
	Users      map[string]UserLimit `mapstructure:"users"`
	Default    *UserLimit           `mapstructure:"default"`
	TierModels map[string]string    `mapstructure:"tier_models"`
	Persist    bool                 `mapstructure:"persist"`

	// WarnCooldownMs gates how often userBudget:warning re-fires for the same
	// user (spec.md §4.9 "Emits userBudget:warning at 80% utilization" —
	// without a cooldown every admitted request past 80% would re-emit).
	// Zero means the 5-minute default below.
	WarnCooldownMs int `mapstructure:"warn_cooldown_ms"`
}

type LoggingConfig struct {
	Level      string `mapstructure:"level" validate:"omitempty,oneof=debug info warn error fatal"`
	Format     string `mapstructure:"format" validate:"omitempty,oneof=json console"`
	OutputPath string `mapstructure:"output_path"`
}

var validate = validator.New()

// Load reads configuration from configPath (a directory, matching the
// teacher's viper.AddConfigPath convention) layering a "config.yaml" file
// over the defaults below, then validates the result. It never returns a
// partially-initialized Config: validation failure returns a path-qualified
// error and a nil Config.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	if configPath != "" {
		v.AddConfigPath(configPath)
	} else {
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	setDefaults(v)
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("config: error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unable to decode config: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks struct tags and the cross-field invariants that validator
// tags can't express (e.g. at least one router tier when the router module
// is enabled).
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		return fmt.Errorf("config: invalid configuration: %w", err)
	}

	if cfg.Modules.Router && len(cfg.Router.Tiers) == 0 {
		return fmt.Errorf("config: router.tiers: at least one tier is required when modules.router is enabled")
	}
	for i, t := range cfg.Router.Tiers {
		if t.ModelID == "" {
			return fmt.Errorf("config: router.tiers[%d].model_id: must not be empty", i)
		}
	}
	if cfg.Cache.EncodingStrategy == EncodingHolographic && len(cfg.Cache.SemanticSeeds) == 0 {
		return fmt.Errorf("config: cache.semantic_seeds: required when cache.encoding_strategy is %q", EncodingHolographic)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("modules.guard", true)
	v.SetDefault("modules.cache", true)
	v.SetDefault("modules.context", true)
	v.SetDefault("modules.router", false)
	v.SetDefault("modules.prefix", true)
	v.SetDefault("modules.ledger", true)

	v.SetDefault("guard.debounce_ms", 300)
	v.SetDefault("guard.max_requests_per_minute", 60)
	v.SetDefault("guard.max_cost_per_hour", 10.0)
	v.SetDefault("guard.min_input_length", 0)
	v.SetDefault("guard.deduplicate_in_flight", true)

	v.SetDefault("cache.max_entries", 500)
	v.SetDefault("cache.ttl_ms", int64(3_600_000))
	v.SetDefault("cache.similarity_threshold", 0.85)
	v.SetDefault("cache.persist", false)
	v.SetDefault("cache.encoding_strategy", "bigram")

	v.SetDefault("context.reserve_for_output", 1000)

	v.SetDefault("router.complexity_threshold", 50.0)

	v.SetDefault("prefix.provider", "auto")

	v.SetDefault("ledger.persist", false)

	v.SetDefault("breaker.action", "stop")

	v.SetDefault("user_budget.warn_cooldown_ms", int64(300_000))

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}
