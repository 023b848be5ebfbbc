// Package circuitbreaker provides a failure-count circuit breaker keyed by
// provider model id. It backs the shield's optional per-model health guard
// (internal/breaker.ModelHealth) — a concern distinct from the shield's
// cost-based circuit breaker, which trips on spend rather than failures.
package circuitbreaker

import (
	"sync"
	"time"
)

// ProviderBreaker opens after threshold consecutive failures and stays open
// for cooldown before probing again.
type ProviderBreaker struct {
	mu              sync.RWMutex
	failures        int
	lastFailureTime time.Time
	isOpen          bool

	threshold int
	cooldown  time.Duration
}

// New creates a provider breaker with the given failure threshold and
// cooldown, applying sane defaults for non-positive values.
func New(threshold int, cooldown time.Duration) *ProviderBreaker {
	if threshold <= 0 {
		threshold = 5
	}
	if cooldown <= 0 {
		cooldown = 30 * time.Second
	}

	return &ProviderBreaker{
		threshold: threshold,
		cooldown:  cooldown,
	}
}

// IsOpen reports whether the breaker is currently blocking requests. A
// half-open probe is implicit: once cooldown has elapsed since the last
// failure, the breaker resets itself on the next IsOpen call.
func (b *ProviderBreaker) IsOpen() bool {
	b.mu.RLock()
	open := b.isOpen
	last := b.lastFailureTime
	b.mu.RUnlock()

	if !open {
		return false
	}

	if time.Since(last) > b.cooldown {
		b.mu.Lock()
		b.isOpen = false
		b.failures = 0
		b.mu.Unlock()
		return false
	}

	return true
}

// RecordSuccess clears the failure count and closes the breaker.
func (b *ProviderBreaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures = 0
	b.isOpen = false
}

// RecordFailure increments the failure count and opens the breaker once
// threshold is reached.
func (b *ProviderBreaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures++
	b.lastFailureTime = time.Now()

	if b.failures >= b.threshold {
		b.isOpen = true
	}
}

// Reset forces the breaker closed regardless of cooldown.
func (b *ProviderBreaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures = 0
	b.isOpen = false
}

// GetState returns the current open/failure-count snapshot for monitoring.
func (b *ProviderBreaker) GetState() (isOpen bool, failures int) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return b.isOpen, b.failures
}

// Manager lazily creates and tracks one ProviderBreaker per model id.
type Manager struct {
	mu       sync.RWMutex
	breakers map[string]*ProviderBreaker

	defaultThreshold int
	defaultCooldown  time.Duration
}

// NewManager creates a Manager that builds new breakers with the given
// default threshold/cooldown.
func NewManager(threshold int, cooldown time.Duration) *Manager {
	return &Manager{
		breakers:         make(map[string]*ProviderBreaker),
		defaultThreshold: threshold,
		defaultCooldown:  cooldown,
	}
}

// GetBreaker returns the breaker for model, creating it on first use.
func (m *Manager) GetBreaker(model string) *ProviderBreaker {
	m.mu.RLock()
	breaker, exists := m.breakers[model]
	m.mu.RUnlock()

	if exists {
		return breaker
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if breaker, exists = m.breakers[model]; exists {
		return breaker
	}

	breaker = New(m.defaultThreshold, m.defaultCooldown)
	m.breakers[model] = breaker
	return breaker
}

// IsOpen reports whether model's breaker is currently open.
func (m *Manager) IsOpen(model string) bool {
	return m.GetBreaker(model).IsOpen()
}

// RecordSuccess records a success for model.
func (m *Manager) RecordSuccess(model string) {
	m.GetBreaker(model).RecordSuccess()
}

// RecordFailure records a failure for model.
func (m *Manager) RecordFailure(model string) {
	m.GetBreaker(model).RecordFailure()
}

// Reset resets model's breaker.
func (m *Manager) Reset(model string) {
	m.GetBreaker(model).Reset()
}

// ResetAll resets every tracked breaker.
func (m *Manager) ResetAll() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, breaker := range m.breakers {
		breaker.Reset()
	}
}

// State is a monitoring snapshot of one model's breaker.
type State struct {
	IsOpen   bool
	Failures int
}

// GetAllStates returns a snapshot of every tracked breaker's state.
func (m *Manager) GetAllStates() map[string]State {
	m.mu.RLock()
	defer m.mu.RUnlock()

	states := make(map[string]State, len(m.breakers))
	for model, breaker := range m.breakers {
		isOpen, failures := breaker.GetState()
		states[model] = State{IsOpen: isOpen, Failures: failures}
	}

	return states
}
