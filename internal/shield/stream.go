package shield

import (
	"context"
	"time"

	"github.com/amerfu/llmshield/internal/events"
	"github.com/amerfu/llmshield/internal/streamacct"
)

// StreamChunk is one piece of a streamed response.
type StreamChunk struct {
	Text string
	Done bool
}

// DoStream invokes the underlying model for a streaming call. Implementations
// should send chunks to the returned channel and close it when the stream
// ends, whether normally or due to ctx cancellation.
type DoStream func(ctx context.Context, p Params) (<-chan StreamChunk, error)

// StreamResult is what WrapStream returns to the caller: a channel of chunks
// plus a function to retrieve the final settled usage once the channel is
// drained or the stream is cancelled.
type StreamResult struct {
	Chunks <-chan StreamChunk
	Usage  func() streamacct.Usage
}

// WrapStream implements spec.md §4.11's wrapStream. A cache hit short-circuits
// with a single synthetic chunk carrying the cached text. Otherwise doStream's
// chunks are relayed through a streamacct.Accountant that settles exactly
// once — on normal completion (Finish) or on caller cancellation/error
// (Abort) — running the same ledger/breaker/user-budget bookkeeping as
// WrapGenerate.
func (s *Shield) WrapStream(ctx context.Context, tp TransformedParams, doStream DoStream) (StreamResult, error) {
	meta := tp.meta

	if meta.cacheHit {
		s.releaseReservation(meta)
		saved := meta.cacheSavedCost + meta.contextSavings + meta.routerSavings + meta.prefixSavings
		s.recordLedger(tp.Params.ModelID, meta, 0, 0, saved, 0, true)
		s.emitUsage(UsageEvent{Model: tp.Params.ModelID, Cost: 0, Saved: saved})

		out := make(chan StreamChunk, 1)
		out <- StreamChunk{Text: meta.cachedText, Done: true}
		close(out)

		usage := streamacct.Usage{ModelID: tp.Params.ModelID, OutputTokens: 0}
		return StreamResult{Chunks: out, Usage: func() streamacct.Usage { return usage }}, nil
	}

	upstream, err := doStream(ctx, tp.Params)
	if err != nil {
		s.releaseReservation(meta)
		if s.guard != nil {
			s.guard.CompleteRequest(meta.prompt, 0, 0, tp.Params.ModelID)
		}
		if s.health != nil {
			s.health.RecordFailure(tp.Params.ModelID)
		}
		return StreamResult{}, err
	}

	acct := streamacct.New(tp.Params.ModelID, s.counter)
	acct.SetInputTokens(meta.originalInputTokens)
	start := s.now()

	out := make(chan StreamChunk)

	go func() {
		defer close(out)
		for {
			select {
			case chunk, ok := <-upstream:
				if !ok {
					if ctx.Err() != nil {
						usage := acct.Abort()
						s.abortStream(tp.Params.ModelID, meta, usage)
						return
					}
					usage := acct.Finish()
					s.finishStream(ctx, tp.Params.ModelID, meta, acct.GetText(), usage, start)
					return
				}
				acct.AddChunk(chunk.Text)
				s.events.Emit(events.TopicStreamChunk, map[string]any{"requestId": meta.requestID, "text": chunk.Text})
				select {
				case out <- chunk:
				case <-ctx.Done():
					usage := acct.Abort()
					s.abortStream(tp.Params.ModelID, meta, usage)
					return
				}
				if chunk.Done {
					usage := acct.Finish()
					s.finishStream(ctx, tp.Params.ModelID, meta, acct.GetText(), usage, start)
					return
				}
			case <-ctx.Done():
				usage := acct.Abort()
				s.abortStream(tp.Params.ModelID, meta, usage)
				return
			}
		}
	}()

	return StreamResult{
		Chunks: out,
		Usage:  func() (u streamacct.Usage) { u, _ = acct.GetUsage(); return u },
	}, nil
}

// finishStream runs the settle path for a normally completed stream.
func (s *Shield) finishStream(ctx context.Context, modelID string, meta *requestMeta, text string, usage streamacct.Usage, start time.Time) {
	cost := s.pricing.Cost(modelID, usage.InputTokens, usage.OutputTokens)
	saved := meta.contextSavings + meta.routerSavings + meta.prefixSavings
	s.settle(ctx, modelID, meta, text, usage.InputTokens, usage.OutputTokens, cost, saved, start)
	s.events.Emit(events.TopicStreamComplete, map[string]any{"requestId": meta.requestID, "model": modelID, "outputTokens": usage.OutputTokens})
}

// abortStream runs the settle path for a cancelled stream: partial-usage
// ledger entry, guard completion, breaker/user-budget settlement of whatever
// was actually consumed before cancellation, and the onUsage callback — and unlike finishStream, no
// cache store, since a partial response is not a valid cache candidate.
// Reservation release and spend settlement both happen through
// userbudget.RecordSpendAt, which does both in one call; calling
// releaseReservation separately here would double-release.
func (s *Shield) abortStream(modelID string, meta *requestMeta, usage streamacct.Usage) {
	if s.guard != nil {
		s.guard.CompleteRequest(meta.prompt, usage.InputTokens, usage.OutputTokens, modelID)
	}
	cost := s.pricing.Cost(modelID, usage.InputTokens, usage.OutputTokens)
	s.recordLedger(modelID, meta, usage.InputTokens, usage.OutputTokens, 0, usage.DurationMs, false)
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
	s.events.Emit(events.TopicStreamAbort, map[string]any{"requestId": meta.requestID, "model": modelID, "outputTokens": usage.OutputTokens})
	s.emitUsage(UsageEvent{Model: modelID, InputTokens: usage.InputTokens, OutputTokens: usage.OutputTokens, Cost: cost})
}
