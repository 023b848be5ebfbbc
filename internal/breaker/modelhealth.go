package breaker

import (
	"time"

	"github.com/amerfu/llmshield/pkg/circuitbreaker"
)

// ModelHealth is the supplemented per-provider failure breaker: distinct
// from Breaker's cost-based tripping, it opens when a model's underlying
// provider calls start failing outright, independent of spend. It is off by
// default and only consulted when a caller opts in (shield.WithProviderBreaker).
type ModelHealth struct {
	manager *circuitbreaker.Manager
}

// NewModelHealth constructs a ModelHealth with the given failure threshold
// and cooldown before a tripped model is probed again.
func NewModelHealth(threshold int, cooldown time.Duration) *ModelHealth {
	return &ModelHealth{manager: circuitbreaker.NewManager(threshold, cooldown)}
}

// Allowed reports whether modelID's provider breaker is currently closed.
func (h *ModelHealth) Allowed(modelID string) bool {
	return !h.manager.IsOpen(modelID)
}

// RecordSuccess clears modelID's failure count.
func (h *ModelHealth) RecordSuccess(modelID string) {
	h.manager.RecordSuccess(modelID)
}

// RecordFailure registers a provider-call failure for modelID.
func (h *ModelHealth) RecordFailure(modelID string) {
	h.manager.RecordFailure(modelID)
}

// States returns a monitoring snapshot of every tracked model's breaker.
func (h *ModelHealth) States() map[string]circuitbreaker.State {
	return h.manager.GetAllStates()
}
