package shield

import (
	"context"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/amerfu/llmshield/internal/events"
	"github.com/amerfu/llmshield/internal/prefix"
	"github.com/amerfu/llmshield/internal/router"
	"github.com/amerfu/llmshield/internal/trimmer"
)

// prefixState tracks the last message sequence seen, so the prefix
// optimizer can compare "this call" against "the previous call" even
// though Params carries no conversation id. Guarded by its own mutex: Go
// has no run-to-completion guarantee the way the originating model's
// event-loop concurrency does, so the cooperative single-threaded
// assumption gets a small lock here rather than bare shared state.
type prefixState struct {
	mu       sync.Mutex
	previous []Message
}

func (p *prefixState) swap(current []Message) []Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	prev := p.previous
	p.previous = append([]Message(nil), current...)
	return prev
}

// TransformParams runs the pre-call admission and optimization stages in
// spec.md §4.11's declared order, returning the request as it will actually
// be sent plus the per-request metadata WrapGenerate/WrapStream need to
// settle it. A non-nil error is always a *BlockedError.
func (s *Shield) TransformParams(ctx context.Context, p Params) (TransformedParams, error) {
	meta := &requestMeta{
		requestID:     uuid.NewString(),
		originalModel: p.ModelID,
		prompt:        lastUserText(p.Messages),
	}

	estimatedCost := s.pricing.Cost(p.ModelID, s.counter.Count(meta.prompt, p.ModelID), p.ExpectedOutputTokens)

	// (1) breaker.check. ActionWarn still admits past a crossed window, so
	// the window returned alongside allowed=true is not discarded: it still
	// needs a breaker:warning event and gauge update on the allow path.
	allowed, window := s.breaker.CheckAt(s.now(), estimatedCost)
	if !allowed {
		reason := "projected spend exceeds the " + window + " limit"
		s.metrics.SetBreakerTripped(window, true)
		s.emitBlocked(meta.requestID, reason, estimatedCost)
		return TransformedParams{}, &BlockedError{Code: breakerWindowCode(window), Reason: reason}
	}
	if window != "" {
		s.metrics.SetBreakerTripped(window, true)
		s.events.Emit(events.TopicBreakerWarning, map[string]any{
			"requestId":     meta.requestID,
			"window":        window,
			"estimatedCost": estimatedCost,
		})
	}

	// (2) user-budget: resolve user id, check, tier-pinned model.
	if s.resolveUserID != nil {
		userID, err := s.resolveUserID(p)
		if err != nil || userID == "" {
			reason := "user id resolver failed or returned empty"
			s.emitBlocked(meta.requestID, reason, estimatedCost)
			return TransformedParams{}, &BlockedError{Code: CodeBudgetUserIDInvalid, Reason: reason}
		}
		meta.userID = userID

		res := s.userBudget.CheckAt(s.now(), userID, estimatedCost)
		if !res.Allowed {
			s.events.Emit(events.TopicUserBudgetExceeded, map[string]any{
				"requestId": meta.requestID,
				"userId":    userID,
				"reason":    res.Reason,
			})
			s.emitBlocked(meta.requestID, res.Reason, estimatedCost)
			return TransformedParams{}, &BlockedError{Code: res.Reason, Reason: res.Reason}
		}
		meta.reservedCost = estimatedCost
		meta.reservedSet = true

		s.warnIfOverUtilized(meta.requestID, userID)

		if model, ok := s.userBudget.ModelForUser(userID); ok && model != "" && model != p.ModelID {
			original := p.ModelID
			p.ModelID = model
			meta.tierRouted = true
			meta.routerSavings = nonNegative(
				s.pricing.Cost(original, s.counter.Count(meta.prompt, original), p.ExpectedOutputTokens) -
					s.pricing.Cost(model, s.counter.Count(meta.prompt, model), p.ExpectedOutputTokens),
			)
		}
	}

	// (3)-(4): guard check and cache lookup, releasing any reservation on error.
	transformed, err := s.guardAndCache(ctx, p, meta)
	if err != nil {
		s.releaseReservation(meta)
		return TransformedParams{}, err
	}
	if meta.cacheHit {
		return transformed, nil
	}
	p = transformed.Params

	// (5) original input token total.
	meta.originalInputTokens = s.counter.Count(meta.prompt, p.ModelID)

	// (6) context trim.
	if s.cfg.Modules.Context && s.cfg.Context.MaxInputTokens > 0 {
		before := s.counter.CountChat(p.Messages, p.ModelID)
		res := trimmer.Trim(s.counter, p.Messages, p.ModelID, trimmer.Budget{
			MaxContextTokens: s.cfg.Context.MaxInputTokens,
			ReservedForOutput: s.cfg.Context.ReserveForOutput,
		})
		if res.EvictedTokens > 0 {
			p.Messages = res.Messages
			after := s.counter.CountChat(p.Messages, p.ModelID)
			meta.contextSavings = nonNegative(
				s.pricing.Cost(p.ModelID, before, 0) - s.pricing.Cost(p.ModelID, after, 0),
			)
			s.events.Emit(events.TopicContextTrimmed, map[string]any{
				"originalTokens": before,
				"trimmedTokens":  after,
				"savedTokens":    before - after,
			})
		}
	}

	// (7) complexity-based routing, skipped if tier-routing already fired.
	if s.cfg.Modules.Router && !meta.tierRouted {
		decision := router.Route(s.routerConfig(), s.pricing, p.ModelID, meta.prompt, p.ExpectedOutputTokens)
		if decision.Downgraded {
			s.events.Emit(events.TopicRouterDowngraded, map[string]any{
				"originalModel": decision.OriginalModel,
				"selectedModel": decision.ChosenModel,
				"complexity":    decision.Score,
				"savedCost":     decision.EstimatedSavings,
			})
			p.ModelID = decision.ChosenModel
			meta.routerSavings += decision.EstimatedSavings
		}
	}

	// (8) prefix optimize.
	if s.cfg.Modules.Prefix {
		previous := s.prefix.swap(p.Messages)
		opt := prefix.Optimize(s.prefixConfig(), s.pricing, s.counter, p.ModelID, previous, p.Messages)
		if opt.Applied {
			meta.prefixSavings = opt.EstimatedSavings
			meta.prefixMarker = opt.Marker
		}
	}

	return TransformedParams{Params: p, meta: meta}, nil
}

// guardAndCache runs stages (3) and (4): guard admission then cache lookup.
func (s *Shield) guardAndCache(ctx context.Context, p Params, meta *requestMeta) (TransformedParams, error) {
	if s.guard != nil {
		res := s.guard.CheckAt(s.now(), meta.prompt, p.ModelID, p.ExpectedOutputTokens)
		if !res.Allowed {
			s.emitBlocked(meta.requestID, res.Reason, res.EstimatedCost)
			code := CodeGuardBlocked
			if strings.Contains(res.Reason, "GUARD_RATE_LIMIT") {
				code = CodeGuardRateLimit
			}
			return TransformedParams{}, &BlockedError{Code: code, Reason: res.Reason}
		}
		s.guard.StartRequest(meta.prompt)
		s.metrics.RecordAdmitted()
		s.events.Emit(events.TopicRequestAllowed, map[string]any{"requestId": meta.requestID, "prompt": meta.prompt, "model": p.ModelID})
	}

	if s.cache != nil {
		if hit, ok := s.cache.Lookup(ctx, meta.prompt, p.ModelID); ok {
			meta.cacheHit = true
			meta.cachedText = hit.Entry.Response
			meta.cacheMatch = string(hit.MatchType)
			meta.cacheSimilarity = hit.Similarity
			savedCost := s.pricing.Cost(p.ModelID, hit.Entry.InputTokens, hit.Entry.OutputTokens)
			meta.cacheSavedCost = savedCost
			s.metrics.RecordCacheHit()
			s.metrics.SetCacheSize(s.cache.Len())
			s.events.Emit(events.TopicCacheHit, map[string]any{
				"requestId":  meta.requestID,
				"matchType":  hit.MatchType,
				"similarity": hit.Similarity,
				"savedCost":  savedCost,
			})
			return TransformedParams{Params: p, meta: meta}, nil
		}
		s.metrics.RecordCacheMiss()
		s.events.Emit(events.TopicCacheMiss, map[string]any{"requestId": meta.requestID, "prompt": meta.prompt})
	}

	return TransformedParams{Params: p, meta: meta}, nil
}

// warnIfOverUtilized emits userBudget:warning once an admitted user's daily
// or monthly utilization has crossed budgetWarnThreshold, cooldown-gated per
// user via ShouldWarn so a burst of requests past 80% doesn't re-fire on
// every one of them (spec.md §4.9).
func (s *Shield) warnIfOverUtilized(requestID, userID string) {
	status := s.userBudget.GetStatusAt(s.now(), userID)
	if status.DailyPercentUsed < budgetWarnThreshold && status.MonthlyPercentUsed < budgetWarnThreshold {
		return
	}
	if !s.userBudget.ShouldWarn(userID, s.now(), s.warnCooldown) {
		return
	}
	s.events.Emit(events.TopicUserBudgetWarning, map[string]any{
		"requestId":          requestID,
		"userId":             userID,
		"dailyPercentUsed":   status.DailyPercentUsed,
		"monthlyPercentUsed": status.MonthlyPercentUsed,
	})
}

func (s *Shield) releaseReservation(meta *requestMeta) {
	if meta.reservedSet && meta.userID != "" {
		s.userBudget.ReleaseInFlightAt(s.now(), meta.userID, meta.reservedCost)
		meta.reservedSet = false
	}
}

func nonNegative(f float64) float64 {
	if f < 0 {
		return 0
	}
	return f
}

