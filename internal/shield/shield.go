// Package shield implements the pipeline orchestrator (spec.md §4.11): the
// three public operations (TransformParams, WrapGenerate, WrapStream) that
// sequence every other component — breaker, user-budget manager, guard,
// cache, context trimmer, model router, prefix optimizer — threading an
// explicit per-request metadata struct rather than smuggling it through
// global or symbol-keyed state (spec.md §9's design note).
package shield

import (
	"time"

	"go.uber.org/zap"

	"github.com/amerfu/llmshield/internal/breaker"
	"github.com/amerfu/llmshield/internal/cache"
	"github.com/amerfu/llmshield/internal/config"
	"github.com/amerfu/llmshield/internal/events"
	"github.com/amerfu/llmshield/internal/guard"
	"github.com/amerfu/llmshield/internal/ledger"
	"github.com/amerfu/llmshield/internal/logger"
	"github.com/amerfu/llmshield/internal/metrics"
	"github.com/amerfu/llmshield/internal/prefix"
	"github.com/amerfu/llmshield/internal/pricing"
	"github.com/amerfu/llmshield/internal/router"
	"github.com/amerfu/llmshield/internal/tokencount"
	"github.com/amerfu/llmshield/internal/userbudget"
)

// UserIDResolver extracts the acting user id from a request. A non-nil
// error is surfaced as a BlockedError with CodeBudgetUserIDInvalid.
type UserIDResolver func(p Params) (string, error)

// Shield is one middleware instance: the process-wide singleton shared by
// every concurrent request passing through it (spec.md §3 "Ownership").
// Construct with New; the zero value is not usable.
type Shield struct {
	cfg *config.Config

	events     *events.Bus
	guard      *guard.Guard
	cache      *cache.Cache
	breaker    *breaker.Breaker
	userBudget *userbudget.Manager
	pricing    *pricing.Table
	counter    *tokencount.Counter
	ledger     *ledger.Ledger
	health     *breaker.ModelHealth // nil unless WithProviderBreaker is set
	prefix     *prefixState
	log        *zap.Logger
	metrics    *metrics.Registry

	resolveUserID UserIDResolver
	onBlocked     func(reason string)
	onUsage       func(u UsageEvent)

	warnCooldown time.Duration
	now          func() time.Time
}

// defaultWarnCooldown gates userBudget:warning re-emission for the same user
// when cfg.UserBudget.WarnCooldownMs is unset.
const defaultWarnCooldown = 5 * time.Minute

// budgetWarnThreshold is the utilization fraction above which a successful
// admission still triggers a userBudget:warning (spec.md §4.9 "80%").
const budgetWarnThreshold = 80.0

// UsageEvent is the payload of the onUsage callback (spec.md §6).
type UsageEvent struct {
	Model        string
	InputTokens  int
	OutputTokens int
	Cost         float64
	Saved        float64
}

// Option configures optional Shield behavior beyond config.Config.
type Option func(*Shield)

// WithUserIDResolver installs the function used to resolve a request's user
// id for per-user budget tracking. Without one, every request is treated as
// having no user id and user-budget checks are skipped.
func WithUserIDResolver(fn UserIDResolver) Option {
	return func(s *Shield) { s.resolveUserID = fn }
}

// WithOnBlocked installs a callback invoked with the reason whenever a
// request is denied admission.
func WithOnBlocked(fn func(reason string)) Option {
	return func(s *Shield) { s.onBlocked = fn }
}

// WithOnUsage installs a callback invoked once per settled request (cache
// hit, successful generate, or completed/aborted stream) with its final
// cost and dollar savings.
func WithOnUsage(fn func(UsageEvent)) Option {
	return func(s *Shield) { s.onUsage = fn }
}

// WithProviderBreaker enables the supplemented per-model failure breaker
// (distinct from the spec's cost-based circuit breaker): off by default,
// opt in with a failure threshold and cooldown.
func WithProviderBreaker(threshold int, cooldown time.Duration) Option {
	return func(s *Shield) { s.health = breaker.NewModelHealth(threshold, cooldown) }
}

// WithClock overrides the wall clock, for deterministic tests.
func WithClock(now func() time.Time) Option {
	return func(s *Shield) { s.now = now }
}

// WithPricingTable overrides the default pricing table.
func WithPricingTable(t *pricing.Table) Option {
	return func(s *Shield) { s.pricing = t }
}

// WithCache replaces the cache New would otherwise build from cfg.Cache —
// use this to attach a persistent Store (e.g. cache.NewRedisStore) that
// config.Config alone has no way to construct.
func WithCache(c *cache.Cache) Option {
	return func(s *Shield) { s.cache = c }
}

// New constructs a Shield from cfg, wiring every enabled module
// (spec.md §6 "modules"). Construction never partially succeeds: an invalid
// cfg should be rejected by config.Validate before it reaches New.
func New(cfg *config.Config, opts ...Option) (*Shield, error) {
	counter, err := tokencount.New()
	if err != nil {
		return nil, err
	}

	zapLogger, err := logger.Initialize(cfg.Logging)
	if err != nil {
		zapLogger = logger.Default()
	}

	s := &Shield{
		cfg:     cfg,
		events:  events.New(),
		pricing: pricing.NewDefault(),
		counter: counter,
		now:     time.Now,
		prefix:  &prefixState{},
		log:     zapLogger,
		metrics: metrics.New(),
	}

	if cfg.Modules.Guard {
		s.guard = guard.New(guard.Config{
			DebounceMs:           cfg.Guard.DebounceMs,
			MaxRequestsPerMinute: cfg.Guard.MaxRequestsPerMinute,
			MaxCostPerHour:       cfg.Guard.MaxCostPerHour,
			MinInputLength:       cfg.Guard.MinInputLength,
			DeduplicateInFlight:  cfg.Guard.DeduplicateInFlight,
		}, func(prompt, modelID string, expectedOutputTokens int) float64 {
			inputTokens := counter.Count(prompt, modelID)
			return s.pricing.Cost(modelID, inputTokens, expectedOutputTokens)
		})
	}

	if cfg.Modules.Cache {
		var encoder cache.Encoder = cache.BigramDice{}
		if cfg.Cache.EncodingStrategy == config.EncodingHolographic {
			encoder = cache.NewHolographic(cfg.Cache.SemanticSeeds, 64)
		}
		s.cache = cache.New(cache.Config{
			MaxEntries:          cfg.Cache.MaxEntries,
			TTL:                 time.Duration(cfg.Cache.TTLMs) * time.Millisecond,
			SimilarityThreshold: cfg.Cache.SimilarityThreshold,
			Encoding:            encoder,
		})
	}

	breakerLimits := breaker.Limits{
		PerSession: cfg.Breaker.Limits.PerSession,
		PerHour:    cfg.Breaker.Limits.PerHour,
		PerDay:     cfg.Breaker.Limits.PerDay,
		PerMonth:   cfg.Breaker.Limits.PerMonth,
	}
	breakerAction := breaker.ActionStop
	if cfg.Breaker.Action == config.BreakerActionWarn {
		breakerAction = breaker.ActionWarn
	}
	s.breaker = breaker.New(breaker.Config{Limits: breakerLimits, Action: breakerAction})

	userLimits := make(map[string]userbudget.Limit, len(cfg.UserBudget.Users))
	for id, l := range cfg.UserBudget.Users {
		userLimits[id] = userbudget.Limit{Daily: l.Daily, Monthly: l.Monthly, Tier: l.Tier}
	}
	var defaultLimit *userbudget.Limit
	if cfg.UserBudget.Default != nil {
		defaultLimit = &userbudget.Limit{
			Daily:   cfg.UserBudget.Default.Daily,
			Monthly: cfg.UserBudget.Default.Monthly,
			Tier:    cfg.UserBudget.Default.Tier,
		}
	}
	s.userBudget = userbudget.New(userbudget.Config{
		Users:      userLimits,
		Default:    defaultLimit,
		TierModels: cfg.UserBudget.TierModels,
	})

	s.ledger = ledger.New(cfg.Ledger.Feature)

	s.warnCooldown = defaultWarnCooldown
	if cfg.UserBudget.WarnCooldownMs > 0 {
		s.warnCooldown = time.Duration(cfg.UserBudget.WarnCooldownMs) * time.Millisecond
	}

	for _, opt := range opts {
		opt(s)
	}

	s.log.Info("shield initialized",
		zap.Bool("guard", cfg.Modules.Guard),
		zap.Bool("cache", cfg.Modules.Cache),
		zap.Bool("context", cfg.Modules.Context),
		zap.Bool("router", cfg.Modules.Router),
		zap.Bool("prefix", cfg.Modules.Prefix),
	)

	return s, nil
}

// Events returns the shield's event bus, for subscribing to lifecycle
// signals (spec.md §6 "Events").
func (s *Shield) Events() *events.Bus { return s.events }

// Ledger returns the shield's append-only cost ledger.
func (s *Shield) Ledger() *ledger.Ledger { return s.ledger }

// Breaker returns the shield's cost circuit breaker.
func (s *Shield) Breaker() *breaker.Breaker { return s.breaker }

// UserBudget returns the shield's per-user budget manager.
func (s *Shield) UserBudget() *userbudget.Manager { return s.userBudget }

// Metrics returns the shield's Prometheus registry. A host process can
// mount Metrics().Handler() behind its own /metrics route.
func (s *Shield) Metrics() *metrics.Registry { return s.metrics }

func (s *Shield) emitBlocked(requestID, reason string, estimatedCost float64) {
	s.log.With(logger.RequestFields(requestID, "", "")...).Warn("request blocked", zap.String("reason", reason), zap.Float64("estimatedCost", estimatedCost))
	s.events.Emit(events.TopicRequestBlocked, map[string]any{"requestId": requestID, "reason": reason, "estimatedCost": estimatedCost})
	s.metrics.RecordBlocked(reason)
	if s.onBlocked != nil {
		s.onBlocked(reason)
	}
}

func (s *Shield) routerConfig() router.Config {
	tiers := make([]router.Tier, len(s.cfg.Router.Tiers))
	for i, t := range s.cfg.Router.Tiers {
		tiers[i] = router.Tier{ModelID: t.ModelID, MaxComplexity: t.MaxComplexity}
	}
	return router.Config{Tiers: tiers, ComplexityThreshold: s.cfg.Router.ComplexityThreshold}
}

func (s *Shield) prefixConfig() prefix.Config {
	return prefix.Config{Provider: prefix.Provider(s.cfg.Prefix.Provider)}
}
