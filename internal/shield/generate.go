package shield

import (
	"context"
	"time"

	"github.com/amerfu/llmshield/internal/events"
	"github.com/amerfu/llmshield/internal/ledger"
)

// GenerateResult is the shape doGenerate must return (spec.md §6
// "Invoked-model contract").
type GenerateResult struct {
	Text         string
	InputTokens  int
	OutputTokens int
	FinishReason string
}

// DoGenerate invokes the underlying model for a non-streaming call.
type DoGenerate func(ctx context.Context, p Params) (GenerateResult, error)

// WrapGenerate implements spec.md §4.11's wrapGenerate: short-circuits on a
// cache hit (settling with zero-cost synthetic usage), otherwise invokes
// doGenerate and settles the call — ledger entry, cache store, breaker and
// user-budget spend, guard completion — exactly once regardless of outcome.
func (s *Shield) WrapGenerate(ctx context.Context, tp TransformedParams, doGenerate DoGenerate) (GenerateResult, error) {
	meta := tp.meta
	start := s.now()

	if meta.cacheHit {
		s.releaseReservation(meta)
		saved := meta.cacheSavedCost + meta.contextSavings + meta.routerSavings + meta.prefixSavings
		s.recordLedger(tp.Params.ModelID, meta, 0, 0, saved, 0, true)
		s.emitUsage(UsageEvent{Model: tp.Params.ModelID, Cost: 0, Saved: saved})
		return GenerateResult{Text: meta.cachedText, FinishReason: "stop"}, nil
	}

	result, err := doGenerate(ctx, tp.Params)
	if err != nil {
		s.releaseReservation(meta)
		if s.guard != nil {
			s.guard.CompleteRequest(meta.prompt, 0, 0, tp.Params.ModelID)
		}
		if s.health != nil {
			s.health.RecordFailure(tp.Params.ModelID)
		}
		return GenerateResult{}, err
	}

	if s.health != nil {
		s.health.RecordSuccess(tp.Params.ModelID)
	}

	cost := s.pricing.Cost(tp.Params.ModelID, result.InputTokens, result.OutputTokens)
	saved := meta.contextSavings + meta.routerSavings + meta.prefixSavings

	s.settle(ctx, tp.Params.ModelID, meta, result.Text, result.InputTokens, result.OutputTokens, cost, saved, start)

	return result, nil
}

// settle runs the shared post-call bookkeeping used by both WrapGenerate's
// success path and WrapStream's finish path (a cancelled stream settles
// through abortStream instead): fire-and-forget cache
// store, ledger record, guard completion, breaker spend, user-budget spend.
func (s *Shield) settle(ctx context.Context, modelID string, meta *requestMeta, responseText string, inputTokens, outputTokens int, cost, saved float64, start time.Time) {
	if s.cache != nil && !meta.cacheHit {
		s.cache.Store(ctx, meta.prompt, responseText, modelID, inputTokens, outputTokens)
		s.events.Emit(events.TopicCacheStore, map[string]any{
			"requestId": meta.requestID,
			"model":     modelID,
		})
	}

	latency := s.now().Sub(start).Milliseconds()
	s.recordLedger(modelID, meta, inputTokens, outputTokens, saved, latency, false)

	if s.guard != nil {
		s.guard.CompleteRequest(meta.prompt, inputTokens, outputTokens, modelID)
	}

	if cost > 0 {
		if tripped, window := s.breaker.RecordSpendAt(s.now(), cost); tripped {
			s.metrics.SetBreakerTripped(window, true)
			s.events.Emit(events.TopicBreakerTripped, map[string]any{
				"requestId": meta.requestID,
				"window":    window,
			})
		}
	}

	if meta.userID != "" {
		s.userBudget.RecordSpendAt(s.now(), meta.userID, meta.reservedCost, cost)
		meta.reservedSet = false
		s.events.Emit(events.TopicUserBudgetSpend, map[string]any{
			"requestId": meta.requestID,
			"userId":    meta.userID,
			"cost":      cost,
		})
	}

	s.metrics.RecordSettled(modelID, cost, map[string]float64{
		"context": meta.contextSavings,
		"router":  meta.routerSavings,
		"prefix":  meta.prefixSavings,
		"cache":   meta.cacheSavedCost,
	}, float64(s.now().Sub(start).Milliseconds())/1000)

	s.emitUsage(UsageEvent{Model: modelID, InputTokens: inputTokens, OutputTokens: outputTokens, Cost: cost, Saved: saved})
}

func (s *Shield) recordLedger(modelID string, meta *requestMeta, inputTokens, outputTokens int, saved float64, latencyMs int64, cacheHit bool) {
	cost := s.pricing.Cost(modelID, inputTokens, outputTokens)
	entry := ledger.Entry{
		RequestID:           meta.requestID,
		Timestamp:           s.now(),
		Model:               modelID,
		OriginalModel:       meta.originalModel,
		InputTokens:         inputTokens,
		OutputTokens:        outputTokens,
		OriginalInputTokens: meta.originalInputTokens,
		Cost:                cost,
		Savings: ledger.Savings{
			Context:  meta.contextSavings,
			Router:   meta.routerSavings,
			Prefix:   meta.prefixSavings,
			CacheHit: meta.cacheSavedCost,
		},
		LatencyMs: latencyMs,
		CacheHit:  cacheHit,
	}
	s.ledger.Record(entry)
	s.events.Emit(events.TopicLedgerEntry, map[string]any{
		"requestId":    meta.requestID,
		"model":        modelID,
		"inputTokens":  inputTokens,
		"outputTokens": outputTokens,
		"cost":         cost,
		"saved":        saved,
	})
}

func (s *Shield) emitUsage(u UsageEvent) {
	if s.onUsage != nil {
		s.onUsage(u)
	}
}
